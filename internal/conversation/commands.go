package conversation

import (
	"context"
	"fmt"
	"strings"
)

// command is a slash command handled locally, without calling the model.
type command struct {
	name string
	help string
	run  func(c *Conversation, ctx context.Context, args string) (string, error)
}

var commands []command

func init() {
	commands = []command{
		{name: "/help", help: "Show available commands", run: (*Conversation).cmdHelp},
		{name: "/clear", help: "Clear the conversation and session approvals", run: (*Conversation).cmdClear},
		{name: "/status", help: "Show session, model and approval state", run: (*Conversation).cmdStatus},
		{name: "/tools", help: "List the tools offered to the model", run: (*Conversation).cmdTools},
		{name: "/providers", help: "List tool providers and their connection state", run: (*Conversation).cmdProviders},
		{name: "/reload", help: "Reconnect tool providers and rediscover tools", run: (*Conversation).cmdReload},
	}
}

// lookupCommand matches the first word of prompt against the known commands.
// Anything else, slash-prefixed or not, goes to the model.
func lookupCommand(prompt string) (command, string, bool) {
	trimmed := strings.TrimSpace(prompt)
	if !strings.HasPrefix(trimmed, "/") {
		return command{}, "", false
	}
	name, args, _ := strings.Cut(trimmed, " ")
	name = strings.ToLower(name)
	for _, cmd := range commands {
		if cmd.name == name {
			return cmd, strings.TrimSpace(args), true
		}
	}
	return command{}, "", false
}

func (c *Conversation) runCommand(ts *turnState, cmd command, args string) Result {
	c.log.Debug().Str("command", cmd.name).Msg("running local command")
	out, err := cmd.run(c, ts.ctx, args)
	if err != nil {
		c.emitError(fmt.Sprintf("%s failed: %v", cmd.name, err))
		return Result{Outcome: OutcomeLocal, Err: err}
	}
	if out != "" {
		c.emit(Event{Type: EventData, Text: out})
	}
	return Result{Outcome: OutcomeLocal}
}

func (c *Conversation) cmdHelp(context.Context, string) (string, error) {
	var b strings.Builder
	b.WriteString("Commands:\n")
	for _, cmd := range commands {
		fmt.Fprintf(&b, "  %-11s %s\n", cmd.name, cmd.help)
	}
	return b.String(), nil
}

func (c *Conversation) cmdClear(context.Context, string) (string, error) {
	c.Restart()
	return "Conversation cleared.\n", nil
}

func (c *Conversation) cmdStatus(context.Context, string) (string, error) {
	c.mu.Lock()
	sid := c.sessionID
	entries := len(c.history)
	usage := c.usage
	record := c.record
	c.mu.Unlock()

	approved := record.Names()
	approvedText := "none"
	if len(approved) > 0 {
		approvedText = strings.Join(approved, ", ")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Session:   %s\n", sid)
	fmt.Fprintf(&b, "Model:     %s\n", c.model)
	fmt.Fprintf(&b, "History:   %d entries\n", entries)
	fmt.Fprintf(&b, "Tools:     %d\n", c.dir.Len())
	fmt.Fprintf(&b, "Approved:  %s\n", approvedText)
	if patterns := c.policy.Patterns(); len(patterns) > 0 {
		fmt.Fprintf(&b, "Auto:      %s\n", strings.Join(patterns, ", "))
	}
	fmt.Fprintf(&b, "Tokens:    %d in, %d out\n", usage.InputTokens, usage.OutputTokens)
	return b.String(), nil
}

func (c *Conversation) cmdTools(context.Context, string) (string, error) {
	decls := c.dir.ListDeclarations()
	if len(decls) == 0 {
		return "No tools available.\n", nil
	}
	var b strings.Builder
	for _, d := range decls {
		_, provider, _ := c.dir.Lookup(d.Name)
		fmt.Fprintf(&b, "%s (%s)", d.Name, provider)
		if d.Description != "" {
			fmt.Fprintf(&b, ": %s", firstLine(d.Description))
		}
		b.WriteString("\n")
	}
	return b.String(), nil
}

func (c *Conversation) cmdProviders(context.Context, string) (string, error) {
	providers := c.dir.Providers()
	if len(providers) == 0 {
		return "No tool providers configured.\n", nil
	}
	var b strings.Builder
	for _, p := range providers {
		state := "connected"
		if !p.Connected() {
			state = "disconnected"
		}
		fmt.Fprintf(&b, "%s: %s\n", p.Name(), state)
	}
	return b.String(), nil
}

func (c *Conversation) cmdReload(ctx context.Context, _ string) (string, error) {
	if c.reload != nil {
		providers, err := c.reload(ctx)
		if err != nil {
			return "", err
		}
		c.dir.SetProviders(providers...)
	}
	if err := c.dir.Refresh(ctx); err != nil {
		return "", err
	}
	return fmt.Sprintf("Reloaded %d tools from %d providers.\n", c.dir.Len(), len(c.dir.Providers())), nil
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return line
}

package ui

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/charmbracelet/huh"
	"golang.org/x/term"

	"github.com/samsaffron/term-agent/internal/tools"
)

// Prompter asks the user to decide on a tool call.
type Prompter interface {
	Decide(req tools.AuthorizationRequest) (tools.Decision, error)
}

// StaticPrompter answers every request with the same decision.
type StaticPrompter tools.Decision

func (p StaticPrompter) Decide(tools.AuthorizationRequest) (tools.Decision, error) {
	return tools.Decision(p), nil
}

// HuhPrompter shows a select form on the controlling terminal.
type HuhPrompter struct {
	// Open returns the terminal to prompt on. Defaults to /dev/tty.
	Open func() (io.ReadWriteCloser, error)
}

// getTTY opens the controlling terminal, so the prompt works while stdin
// or stdout are redirected.
func getTTY() (io.ReadWriteCloser, error) {
	return os.OpenFile("/dev/tty", os.O_RDWR, 0)
}

func (p *HuhPrompter) Decide(req tools.AuthorizationRequest) (tools.Decision, error) {
	open := p.Open
	if open == nil {
		open = getTTY
	}
	tty, err := open()
	if err != nil {
		return tools.DecisionDeny, fmt.Errorf("open terminal: %w", err)
	}
	defer tty.Close()

	decision := tools.DecisionOnce
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[tools.Decision]().
				Title(fmt.Sprintf("Allow %s?", req.ToolName)).
				Description(FormatArguments(req.Arguments, 300)).
				Options(
					huh.NewOption("Yes, this time", tools.DecisionOnce),
					huh.NewOption("Yes, for this session", tools.DecisionSession),
					huh.NewOption("No, stop the request", tools.DecisionDeny),
				).
				Value(&decision),
		),
	).WithInput(tty).WithOutput(tty).WithShowHelp(false)

	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return tools.DecisionDeny, nil
		}
		return tools.DecisionDeny, err
	}
	return decision, nil
}

// NewPrompter picks a prompter for the current process. yolo approves
// everything for the session. Without a controlling terminal every call is
// denied.
func NewPrompter(yolo bool) Prompter {
	if yolo {
		return StaticPrompter(tools.DecisionSession)
	}
	tty, err := getTTY()
	if err != nil {
		return StaticPrompter(tools.DecisionDeny)
	}
	tty.Close()
	return &HuhPrompter{}
}

// IsInteractive reports whether stdin is a terminal.
func IsInteractive() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// TerminalWidth returns the width of stdout, or fallback when it is not a
// terminal.
func TerminalWidth(fallback int) int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 {
		return fallback
	}
	return w
}

// FormatArguments renders tool arguments as key=value pairs in key order,
// truncated to maxLen.
func FormatArguments(args map[string]any, maxLen int) string {
	if len(args) == 0 {
		return "(no arguments)"
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		var v string
		switch val := args[k].(type) {
		case string:
			v = val
		default:
			b, err := json.Marshal(val)
			if err != nil {
				v = fmt.Sprint(val)
			} else {
				v = string(b)
			}
		}
		parts = append(parts, k+"="+v)
	}
	return Truncate(strings.Join(parts, " "), maxLen)
}

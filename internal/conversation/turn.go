package conversation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/samsaffron/term-agent/internal/llm"
	"github.com/samsaffron/term-agent/internal/tools"
)

// streamed is what one remote call produced.
type streamed struct {
	text  string
	calls []llm.ToolCall
	usage llm.Usage
	loop  bool
}

// run is the turn loop: call the model, gate and run the tools it asked for,
// repeat until it answers without tool calls.
func (c *Conversation) run(ts *turnState, prompt string) Result {
	var res Result
	c.appendHistory(ts, llm.UserText(prompt))

	for {
		if ts.cancelled() {
			return c.aborted(ts, res)
		}
		ts.turns++
		if ts.turns > MaxTurns {
			c.log.Warn().Int("max_turns", MaxTurns).Msg("turn limit reached")
			c.emitError(fmt.Sprintf("Stopped: this request reached the limit of %d turns.", MaxTurns))
			res.Outcome = OutcomeMaxTurns
			return res
		}
		res.Turns = ts.turns
		c.setStatus(StatusThinking)
		c.log.Debug().Int("turn", ts.turns).Str("session", ts.sessionID).Msg("requesting model turn")

		out, err := c.stream(ts)
		res.Usage.Add(out.usage)

		if ts.cancelled() {
			c.appendText(ts, out.text)
			return c.aborted(ts, res)
		}
		if err != nil {
			c.appendText(ts, out.text)
			c.log.Error().Err(err).Int("turn", ts.turns).Msg("turn failed")
			c.emitError(describeError(err))
			res.Outcome, res.Err = OutcomeFailed, err
			return res
		}
		if out.loop {
			c.appendText(ts, out.text)
			c.emitError("Loop detected: the model kept repeating itself, so this request was stopped.")
			res.Outcome = OutcomeLoopDetected
			return res
		}

		if len(out.calls) == 0 {
			c.appendHistory(ts, llm.AssistantText(out.text))
			res.Outcome = OutcomeCompleted
			return res
		}

		c.appendText(ts, out.text)
		for _, call := range out.calls {
			if ts.loops.observe(call) {
				c.log.Warn().Str("tool", call.Name).Int("repeats", toolLoopThreshold).Msg("tool call loop detected")
				c.emitError(fmt.Sprintf("Loop detected: %s was requested %d times in a row with the same arguments, so this request was stopped.", call.Name, toolLoopThreshold))
				res.Outcome = OutcomeLoopDetected
				return res
			}
		}

		outcome, err := c.runTools(ts, out.calls)
		switch outcome {
		case "":
		case OutcomeAborted:
			return c.aborted(ts, res)
		default:
			res.Outcome, res.Err = outcome, err
			return res
		}
	}
}

func (c *Conversation) aborted(ts *turnState, res Result) Result {
	c.log.Info().Int("turn", ts.turns).Msg("request cancelled")
	c.emitError("Request cancelled.")
	res.Outcome = OutcomeAborted
	res.Err = ts.ctx.Err()
	if res.Err == nil {
		res.Err = context.Canceled
	}
	return res
}

// appendText records non-empty model text.
func (c *Conversation) appendText(ts *turnState, text string) {
	if text != "" {
		c.appendHistory(ts, llm.AssistantText(text))
	}
}

// stream makes one remote call and consumes its fragments. Text is emitted as
// it arrives; tool calls are collected for after the stream ends.
func (c *Conversation) stream(ts *turnState) (streamed, error) {
	var (
		out  streamed
		text strings.Builder
	)
	req := llm.Request{
		Model:     c.model,
		SessionID: ts.sessionID,
		Messages:  c.snapshot(),
		Tools:     c.toolSpecs(),
	}

	ctx := llm.ContextWithRetryNotifier(ts.ctx, c.retryNotifier(ts))
	stream, err := c.caller.Stream(ctx, req)
	if err != nil {
		return out, err
	}
	defer stream.Close()

	for {
		frag, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			out.text = text.String()
			return out, err
		}

		switch frag.Type {
		case llm.FragmentText:
			if !c.emitStream(ts, Event{Type: EventData, Text: frag.Text}) {
				out.text = text.String()
				return out, context.Canceled
			}
			text.WriteString(frag.Text)
		case llm.FragmentThought:
			c.emitStream(ts, Event{Type: EventThought, Text: frag.Text})
		case llm.FragmentToolCall:
			if frag.Call == nil {
				continue
			}
			call := *frag.Call
			if strings.TrimSpace(call.ID) == "" {
				call.ID = "call_" + uuid.NewString()
			}
			if call.Arguments == nil {
				call.Arguments = map[string]any{}
			}
			out.calls = append(out.calls, call)
		case llm.FragmentError:
			out.text = text.String()
			if frag.Err == nil {
				return out, errors.New("stream ended with an error")
			}
			return out, frag.Err
		case llm.FragmentLoopDetected:
			out.text = text.String()
			out.loop = true
			return out, nil
		case llm.FragmentFinished:
			// Usage is a running total for the stream; the last one wins.
			if frag.Usage != nil {
				out.usage = *frag.Usage
			}
		}
	}
	out.text = text.String()
	return out, nil
}

func (c *Conversation) retryNotifier(ts *turnState) llm.RetryNotifier {
	return func(attempt, max int, wait time.Duration) {
		c.emitStream(ts, Event{
			Type: EventActivity,
			Text: fmt.Sprintf("Rate limited; retrying in %s (attempt %d/%d)", wait.Round(100*time.Millisecond), attempt, max),
		})
	}
}

// runTools gates each call in order and runs the approved ones. It returns an
// empty outcome when every call ran and the loop should continue.
func (c *Conversation) runTools(ts *turnState, calls []llm.ToolCall) (Outcome, error) {
	ts.gate.Enqueue(calls...)
	for {
		call, verdict, ok, err := ts.gate.Next(ts.ctx)
		if !ok {
			return "", nil
		}
		if err != nil {
			return OutcomeAborted, err
		}
		if !verdict.Approved {
			c.log.Info().Str("tool", call.Name).Msg("tool call denied")
			c.emitError(fmt.Sprintf("Tool call %s was denied; the request was stopped.", call.Name))
			return OutcomeDenied, fmt.Errorf("%s: %w", call.Name, tools.ErrToolDenied)
		}
		if err := c.invoke(ts, call); err != nil {
			return OutcomeAborted, err
		}
	}
}

// invoke runs one approved call and appends the call and its result to the
// history. A call that is still running when the turn is cancelled is left
// to finish on its own and its result is dropped.
func (c *Conversation) invoke(ts *turnState, call llm.ToolCall) error {
	c.setStatus(StatusRunningTool)
	c.emitStream(ts, Event{Type: EventActivity, Text: "Running " + call.Name})

	type invocation struct {
		res tools.Result
		err error
	}
	done := make(chan invocation, 1)
	go func() {
		res, err := c.dir.Invoke(ts.ctx, call.Name, call.Arguments)
		done <- invocation{res: res, err: err}
	}()

	var inv invocation
	select {
	case <-ts.ctx.Done():
		return ts.ctx.Err()
	case inv = <-done:
	}
	if err := ts.ctx.Err(); err != nil {
		return err
	}

	var msg llm.Message
	switch {
	case inv.err != nil:
		c.log.Warn().Err(inv.err).Str("tool", call.Name).Msg("tool invocation failed")
		msg = llm.ToolErrorMessage(call.ID, call.Name, "Error: "+inv.err.Error())
	case inv.res.IsError:
		c.log.Debug().Str("tool", call.Name).Msg("tool reported an error")
		msg = llm.ToolErrorMessage(call.ID, call.Name, inv.res.Content)
	default:
		msg = llm.ToolResultMessage(call.ID, call.Name, inv.res.Content)
	}
	c.appendHistory(ts, llm.AssistantToolCall(call), msg)
	return nil
}

// describeError turns a turn-ending error into a message for the user.
func describeError(err error) string {
	var apiErr *llm.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 401, 403:
			return fmt.Sprintf("Authentication failed (HTTP %d). Check your credentials.", apiErr.StatusCode)
		case 429:
			return "Rate limit still exceeded after retrying. Try again later."
		}
		return fmt.Sprintf("Request failed: %v", apiErr)
	}
	var streamErr *llm.StreamError
	if errors.As(err, &streamErr) {
		return fmt.Sprintf("The model returned an error: %s", streamErr.Message)
	}
	return fmt.Sprintf("Request failed: %v", err)
}

package testutil

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/samsaffron/term-agent/internal/llm"
)

// Turn is one scripted model response: either a fragment list or an error
// returned from Stream itself.
type Turn struct {
	Fragments []llm.Fragment
	Err       error
	// Block makes the stream wait for ctx cancellation after the fragments
	// are drained instead of ending.
	Block bool
}

// TextTurn scripts a plain text response.
func TextTurn(chunks ...string) Turn {
	var t Turn
	for _, c := range chunks {
		t.Fragments = append(t.Fragments, llm.Fragment{Type: llm.FragmentText, Text: c})
	}
	t.Fragments = append(t.Fragments, llm.Fragment{Type: llm.FragmentFinished, FinishReason: "STOP"})
	return t
}

// ToolTurn scripts a response that requests the given calls.
func ToolTurn(text string, calls ...llm.ToolCall) Turn {
	var t Turn
	if text != "" {
		t.Fragments = append(t.Fragments, llm.Fragment{Type: llm.FragmentText, Text: text})
	}
	for i := range calls {
		c := calls[i]
		t.Fragments = append(t.Fragments, llm.Fragment{Type: llm.FragmentToolCall, Call: &c})
	}
	t.Fragments = append(t.Fragments, llm.Fragment{Type: llm.FragmentFinished, FinishReason: "STOP"})
	return t
}

// ScriptedCaller is an llm.RemoteCaller that replays Turns in order and
// records every request it was given.
type ScriptedCaller struct {
	mu       sync.Mutex
	turns    []Turn
	next     int
	repeat   *Turn
	requests []llm.Request

	// OnStream, if set, runs at the start of each Stream call.
	OnStream func(n int)
}

// NewScriptedCaller creates a caller that replays turns.
func NewScriptedCaller(turns ...Turn) *ScriptedCaller {
	return &ScriptedCaller{turns: turns}
}

// Repeat makes the caller return t forever once the script runs out.
func (c *ScriptedCaller) Repeat(t Turn) *ScriptedCaller {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.repeat = &t
	return c
}

func (c *ScriptedCaller) Stream(ctx context.Context, req llm.Request) (llm.FragmentStream, error) {
	c.mu.Lock()
	req.Messages = append([]llm.Message(nil), req.Messages...)
	c.requests = append(c.requests, req)
	n := len(c.requests)
	var turn Turn
	switch {
	case c.next < len(c.turns):
		turn = c.turns[c.next]
		c.next++
	case c.repeat != nil:
		turn = *c.repeat
	default:
		c.mu.Unlock()
		return nil, fmt.Errorf("scripted caller: no response for request %d", n)
	}
	hook := c.OnStream
	c.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	if turn.Err != nil {
		return nil, turn.Err
	}
	return &scriptedStream{ctx: ctx, frags: turn.Fragments, block: turn.Block}, nil
}

// Requests returns a copy of every request received so far.
func (c *ScriptedCaller) Requests() []llm.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]llm.Request, len(c.requests))
	copy(out, c.requests)
	return out
}

// Calls returns the number of Stream calls made.
func (c *ScriptedCaller) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

type scriptedStream struct {
	ctx   context.Context
	frags []llm.Fragment
	block bool
}

func (s *scriptedStream) Recv() (llm.Fragment, error) {
	if err := s.ctx.Err(); err != nil {
		return llm.Fragment{}, err
	}
	if len(s.frags) > 0 {
		f := s.frags[0]
		s.frags = s.frags[1:]
		return f, nil
	}
	if s.block {
		<-s.ctx.Done()
		return llm.Fragment{}, s.ctx.Err()
	}
	return llm.Fragment{}, io.EOF
}

func (s *scriptedStream) Close() error { return nil }

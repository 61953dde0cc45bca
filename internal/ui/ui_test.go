package ui

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samsaffron/term-agent/internal/conversation"
	"github.com/samsaffron/term-agent/internal/tools"
)

type recordingAuthorizer struct {
	mu        sync.Mutex
	decisions []tools.Decision
	names     []string
	err       error
}

func (r *recordingAuthorizer) Authorize(d tools.Decision, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decisions = append(r.decisions, d)
	r.names = append(r.names, name)
	return r.err
}

type failingPrompter struct{}

func (failingPrompter) Decide(tools.AuthorizationRequest) (tools.Decision, error) {
	return tools.DecisionOnce, errors.New("no terminal")
}

func TestPresenterStreamsData(t *testing.T) {
	var out, errOut bytes.Buffer
	p := NewPresenter(&out, &errOut, nil)

	p.Handle(conversation.Event{Type: conversation.EventData, Text: "Hello"})
	p.Handle(conversation.Event{Type: conversation.EventData, Text: " world"})
	p.Handle(conversation.Event{Type: conversation.EventResponseComplete, Outcome: conversation.OutcomeCompleted})

	assert.Equal(t, "Hello world\n", out.String())
	assert.Empty(t, errOut.String())
}

func TestPresenterBreaksLineBeforeStatus(t *testing.T) {
	var out, errOut bytes.Buffer
	p := NewPresenter(&out, &errOut, nil)

	p.Handle(conversation.Event{Type: conversation.EventData, Text: "partial"})
	p.Handle(conversation.Event{Type: conversation.EventActivity, Text: "Running list_dir"})
	p.Handle(conversation.Event{Type: conversation.EventError, Text: "Request cancelled."})
	p.Handle(conversation.Event{Type: conversation.EventResponseComplete})

	assert.Equal(t, "partial\n", out.String())
	assert.Contains(t, errOut.String(), "Running list_dir")
	assert.Contains(t, errOut.String(), "Request cancelled.")
}

func TestPresenterThought(t *testing.T) {
	var out, errOut bytes.Buffer
	p := NewPresenter(&out, &errOut, nil)

	p.Handle(conversation.Event{Type: conversation.EventThought, Text: "  pondering\n"})
	assert.Equal(t, ThoughtIcon+" pondering\n", errOut.String())
	assert.Empty(t, out.String())
}

func TestPresenterIgnoresStatus(t *testing.T) {
	var out, errOut bytes.Buffer
	p := NewPresenter(&out, &errOut, nil)

	p.Handle(conversation.Event{Type: conversation.EventStatus, Status: conversation.StatusThinking})
	assert.Empty(t, out.String())
	assert.Empty(t, errOut.String())
}

func TestPresenterMarkdown(t *testing.T) {
	var out, errOut bytes.Buffer
	p := NewPresenter(&out, &errOut, nil, WithMarkdown(60))

	p.Handle(conversation.Event{Type: conversation.EventData, Text: "This is **bold**"})
	assert.Empty(t, out.String(), "markdown output is buffered until completion")

	p.Handle(conversation.Event{Type: conversation.EventResponseComplete})
	assert.Contains(t, out.String(), "bold")
	assert.NotContains(t, out.String(), "**")
}

func TestPresenterAuthorization(t *testing.T) {
	var out, errOut bytes.Buffer
	auth := &recordingAuthorizer{}
	p := NewPresenter(&out, &errOut, StaticPrompter(tools.DecisionSession))
	p.Bind(auth)

	p.Handle(conversation.Event{
		Type:          conversation.EventRequestAuthorization,
		Authorization: &tools.AuthorizationRequest{CallID: "c1", ToolName: "list_dir"},
	})
	p.Wait()

	require.Len(t, auth.decisions, 1)
	assert.Equal(t, tools.DecisionSession, auth.decisions[0])
	assert.Equal(t, "list_dir", auth.names[0])
}

func TestPresenterPromptFailureDenies(t *testing.T) {
	var out, errOut bytes.Buffer
	auth := &recordingAuthorizer{}
	p := NewPresenter(&out, &errOut, failingPrompter{})
	p.Bind(auth)

	p.Handle(conversation.Event{
		Type:          conversation.EventRequestAuthorization,
		Authorization: &tools.AuthorizationRequest{ToolName: "read_file"},
	})
	p.Wait()

	require.Len(t, auth.decisions, 1)
	assert.Equal(t, tools.DecisionDeny, auth.decisions[0])
	assert.Contains(t, errOut.String(), "no terminal")
}

func TestPresenterIgnoresStaleAuthorization(t *testing.T) {
	var out, errOut bytes.Buffer
	auth := &recordingAuthorizer{err: tools.ErrNoPendingAuthorization}
	p := NewPresenter(&out, &errOut, StaticPrompter(tools.DecisionOnce))
	p.Bind(auth)

	p.Handle(conversation.Event{
		Type:          conversation.EventRequestAuthorization,
		Authorization: &tools.AuthorizationRequest{ToolName: "read_file"},
	})
	p.Wait()

	assert.Empty(t, errOut.String())
}

func TestNewPrompter(t *testing.T) {
	d, err := NewPrompter(true).Decide(tools.AuthorizationRequest{ToolName: "x"})
	require.NoError(t, err)
	assert.Equal(t, tools.DecisionSession, d)
}

func TestFormatArguments(t *testing.T) {
	tests := []struct {
		name string
		args map[string]any
		max  int
		want string
	}{
		{"empty", nil, 50, "(no arguments)"},
		{"sorted", map[string]any{"path": "src", "depth": 2}, 50, "depth=2 path=src"},
		{"nested", map[string]any{"opts": map[string]any{"a": true}}, 50, `opts={"a":true}`},
		{"truncated", map[string]any{"path": strings.Repeat("a", 40)}, 20, "path=aaaaaaaaaaaa..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatArguments(tt.args, tt.max))
		})
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "abcd...", Truncate("abcdefghij", 7))
	assert.Equal(t, "ab", Truncate("abcdef", 2))
}

func TestRenderMarkdown(t *testing.T) {
	got := RenderMarkdown("# Title\n\nSome *text*.", 40)
	assert.Contains(t, got, "Title")
	assert.Contains(t, got, "text")
	assert.Equal(t, "", RenderMarkdown("", 40))
}

func TestFormatResult(t *testing.T) {
	s := NewStyles(&bytes.Buffer{})
	assert.Equal(t, SuccessIcon+" done", s.FormatResult(true, "done"))
	assert.Equal(t, FailIcon+" broke", s.FormatResult(false, "broke"))
}

package ui

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/samsaffron/term-agent/internal/conversation"
	"github.com/samsaffron/term-agent/internal/tools"
)

// Authorizer resolves a pending authorization request.
type Authorizer interface {
	Authorize(d tools.Decision, toolName string) error
}

// Presenter prints conversation events to a terminal. Model text goes to
// out; thoughts, activity and errors go to errOut.
type Presenter struct {
	out      io.Writer
	errOut   io.Writer
	styles   *Styles
	prompter Prompter
	render   bool
	width    int

	mu      sync.Mutex
	auth    Authorizer
	buf     strings.Builder
	midLine bool
	prompts sync.WaitGroup
}

type PresenterOption func(*Presenter)

// WithMarkdown buffers the answer and renders it as markdown when the
// response completes.
func WithMarkdown(width int) PresenterOption {
	return func(p *Presenter) {
		p.render = true
		p.width = width
	}
}

func WithStyles(s *Styles) PresenterOption {
	return func(p *Presenter) { p.styles = s }
}

func NewPresenter(out, errOut io.Writer, prompter Prompter, opts ...PresenterOption) *Presenter {
	p := &Presenter{
		out:      out,
		errOut:   errOut,
		prompter: prompter,
		styles:   NewStyles(errOut),
		width:    80,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.prompter == nil {
		p.prompter = StaticPrompter(tools.DecisionDeny)
	}
	return p
}

// Bind sets where authorization decisions are sent. It must be called before
// the first request that may need one.
func (p *Presenter) Bind(a Authorizer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.auth = a
}

// Wait blocks until every prompt started by Handle has been answered.
func (p *Presenter) Wait() {
	p.prompts.Wait()
}

// Handle implements conversation.Observer.
func (p *Presenter) Handle(e conversation.Event) {
	switch e.Type {
	case conversation.EventData:
		p.data(e.Text)
	case conversation.EventThought:
		p.line(p.styles.Thought.Render(ThoughtIcon + " " + strings.TrimSpace(e.Text)))
	case conversation.EventActivity:
		p.line(p.styles.Activity.Render(ToolIcon + " " + e.Text))
	case conversation.EventError:
		p.line(p.styles.Error.Render(FailIcon + " " + e.Text))
	case conversation.EventRequestAuthorization:
		if e.Authorization != nil {
			p.authorize(*e.Authorization)
		}
	case conversation.EventResponseComplete:
		p.complete()
	}
}

func (p *Presenter) data(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.render {
		p.buf.WriteString(text)
		return
	}
	if text == "" {
		return
	}
	fmt.Fprint(p.out, text)
	p.midLine = !strings.HasSuffix(text, "\n")
}

// line writes a status line to errOut, breaking any unfinished model line
// first.
func (p *Presenter) line(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.midLine {
		fmt.Fprintln(p.out)
		p.midLine = false
	}
	fmt.Fprintln(p.errOut, s)
}

func (p *Presenter) complete() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.render {
		content := p.buf.String()
		p.buf.Reset()
		if strings.TrimSpace(content) != "" {
			fmt.Fprintln(p.out, RenderMarkdown(content, p.width))
		}
		return
	}
	if p.midLine {
		fmt.Fprintln(p.out)
		p.midLine = false
	}
}

// authorize prompts off the turn goroutine so Stop stays responsive while
// the prompt is open.
func (p *Presenter) authorize(req tools.AuthorizationRequest) {
	p.mu.Lock()
	auth := p.auth
	if p.midLine {
		fmt.Fprintln(p.out)
		p.midLine = false
	}
	p.mu.Unlock()

	p.prompts.Add(1)
	go func() {
		defer p.prompts.Done()
		d, err := p.prompter.Decide(req)
		if err != nil {
			p.line(p.styles.Error.Render(FailIcon + " authorization prompt failed: " + err.Error()))
			d = tools.DecisionDeny
		}
		if auth == nil {
			return
		}
		if err := auth.Authorize(d, req.ToolName); err != nil && !errors.Is(err, tools.ErrNoPendingAuthorization) {
			p.line(p.styles.Error.Render(FailIcon + " " + err.Error()))
		}
	}()
}

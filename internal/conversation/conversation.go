// Package conversation drives one conversation with the model: it sends the
// history, streams the answer back to an Observer, gates and runs the tool
// calls the model asks for, and loops until the model stops calling tools.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/samsaffron/term-agent/internal/llm"
	"github.com/samsaffron/term-agent/internal/tools"
)

// MaxTurns caps the number of remote calls one Send may make.
const MaxTurns = 20

var (
	// ErrBusy is returned by Send while another turn is running.
	ErrBusy = errors.New("a request is already in progress")
	// ErrNotReady is returned by Send before Initialize or after Close.
	ErrNotReady = errors.New("conversation is not ready")
)

// Recorder mirrors history entries into durable storage.
type Recorder interface {
	StartSession(ctx context.Context, id, model string) error
	Append(ctx context.Context, sessionID string, msg llm.Message) error
}

// Attachment is a text file sent along with a prompt.
type Attachment struct {
	Path    string
	Content string
}

// Options configures a Conversation.
type Options struct {
	Caller      llm.RemoteCaller
	Directory   *tools.Directory
	Observer    Observer
	Logger      zerolog.Logger
	Model       string
	AutoApprove *tools.AutoApprovePolicy
	Recorder    Recorder

	// Reload rediscovers tool providers for /reload. When nil, /reload only
	// refreshes the existing providers.
	Reload func(ctx context.Context) ([]tools.ToolProvider, error)
}

// Result describes how a Send ended.
type Result struct {
	Outcome Outcome
	Turns   int
	Usage   llm.Usage
	Err     error
}

// Conversation owns the history, the approval record and at most one active
// turn.
type Conversation struct {
	caller   llm.RemoteCaller
	dir      *tools.Directory
	observer Observer
	log      zerolog.Logger
	model    string
	policy   *tools.AutoApprovePolicy
	recorder Recorder
	reload   func(ctx context.Context) ([]tools.ToolProvider, error)

	mu         sync.Mutex
	ready      bool
	closed     bool
	status     Status
	generation uint64
	sessionID  string
	recorded   string
	history    []llm.Message
	record     *tools.ApprovalRecord
	gate       *tools.Gate
	active     *turnState
	usage      llm.Usage
}

// turnState is the per-Send state. Every field except the emit guard is only
// touched by the goroutine running the turn.
type turnState struct {
	ctx       context.Context
	cancel    context.CancelFunc
	gen       uint64
	gate      *tools.Gate
	sessionID string

	emitMu  sync.Mutex
	stopped bool

	turns int
	loops loopDetector
}

// stop cancels the turn and waits out any emit already in progress. After it
// returns no further data or thought event is delivered for the turn.
func (ts *turnState) stop() {
	ts.cancel()
	ts.emitMu.Lock()
	ts.stopped = true
	ts.emitMu.Unlock()
}

func (ts *turnState) cancelled() bool {
	return ts.ctx.Err() != nil
}

// New creates a conversation. Call Initialize before Send.
func New(opts Options) (*Conversation, error) {
	if opts.Caller == nil {
		return nil, errors.New("conversation: a remote caller is required")
	}
	dir := opts.Directory
	if dir == nil {
		dir = tools.NewDirectory(opts.Logger)
	}
	c := &Conversation{
		caller:    opts.Caller,
		dir:       dir,
		observer:  opts.Observer,
		log:       opts.Logger,
		model:     opts.Model,
		policy:    opts.AutoApprove,
		recorder:  opts.Recorder,
		reload:    opts.Reload,
		status:    StatusReady,
		sessionID: uuid.NewString(),
		record:    tools.NewApprovalRecord(),
	}
	c.gate = tools.NewGate(c.record, c.policy, c.onAuthorizationRequest)
	return c, nil
}

// Initialize discovers the available tools and marks the conversation ready.
func (c *Conversation) Initialize(ctx context.Context) error {
	if err := c.dir.Refresh(ctx); err != nil {
		return fmt.Errorf("discover tools: %w", err)
	}
	c.mu.Lock()
	c.ready = true
	c.closed = false
	sid := c.sessionID
	c.mu.Unlock()

	c.log.Info().Str("session", sid).Int("tools", c.dir.Len()).Msg("conversation ready")
	c.emit(Event{Type: EventStatus, Status: StatusReady})
	return nil
}

// Close stops any active turn and rejects further sends.
func (c *Conversation) Close() {
	c.mu.Lock()
	c.closed = true
	c.ready = false
	ts := c.active
	c.mu.Unlock()
	if ts != nil {
		ts.stop()
	}
}

// Send runs one request to completion and returns how it ended. It blocks
// until the turn is over; ErrBusy and ErrNotReady are returned before any
// work starts. Every Send that starts emits exactly one response_complete.
func (c *Conversation) Send(ctx context.Context, prompt string, attachments ...Attachment) (Result, error) {
	c.mu.Lock()
	if !c.ready || c.closed {
		c.mu.Unlock()
		return Result{}, ErrNotReady
	}
	if c.active != nil {
		c.mu.Unlock()
		return Result{}, ErrBusy
	}
	turnCtx, cancel := context.WithCancel(ctx)
	ts := &turnState{
		ctx:       turnCtx,
		cancel:    cancel,
		gen:       c.generation,
		gate:      c.gate,
		sessionID: c.sessionID,
	}
	c.active = ts
	c.mu.Unlock()

	var res Result
	defer func() { c.finish(ts, res) }()

	if cmd, args, ok := lookupCommand(prompt); ok {
		res = c.runCommand(ts, cmd, args)
		return res, nil
	}
	res = c.run(ts, withAttachments(prompt, attachments))
	return res, nil
}

// finish is the single exit path of a Send.
func (c *Conversation) finish(ts *turnState, res Result) {
	ts.cancel()

	c.mu.Lock()
	if c.active == ts {
		c.active = nil
	}
	idle := c.active == nil
	if ts.gen == c.generation {
		c.usage.Add(res.Usage)
	}
	c.mu.Unlock()

	c.log.Debug().
		Str("outcome", string(res.Outcome)).
		Int("turns", res.Turns).
		Int("input_tokens", res.Usage.InputTokens).
		Int("output_tokens", res.Usage.OutputTokens).
		Msg("request finished")

	if idle {
		c.setStatus(StatusReady)
	}
	c.emit(Event{Type: EventResponseComplete, Outcome: res.Outcome})
}

// Stop cancels the active turn and reports whether one was running. Once
// Stop returns, no further data event is emitted for that turn.
func (c *Conversation) Stop() bool {
	c.mu.Lock()
	ts := c.active
	c.mu.Unlock()
	if ts == nil {
		return false
	}
	ts.stop()
	return true
}

// Restart cancels any active turn, empties the history and the approval
// record, abandons a pending authorization and starts a new session id. A
// cancelled turn keeps the conversation busy until its response_complete,
// so Send returns ErrBusy while it unwinds.
func (c *Conversation) Restart() {
	c.mu.Lock()
	c.generation++
	c.history = nil
	c.record = tools.NewApprovalRecord()
	old := c.gate
	c.gate = tools.NewGate(c.record, c.policy, c.onAuthorizationRequest)
	c.sessionID = uuid.NewString()
	c.usage = llm.Usage{}
	ts := c.active
	sid := c.sessionID
	c.mu.Unlock()

	old.Abandon()
	if ts != nil {
		ts.stop()
	}
	c.log.Info().Str("session", sid).Msg("conversation restarted")
}

// Authorize answers the pending authorization request. toolName may be empty
// to answer whatever is pending.
func (c *Conversation) Authorize(d tools.Decision, toolName string) error {
	c.mu.Lock()
	g := c.gate
	c.mu.Unlock()
	return g.Authorize(d, toolName)
}

// PendingAuthorization returns the request awaiting a decision, if any.
func (c *Conversation) PendingAuthorization() (tools.AuthorizationRequest, bool) {
	c.mu.Lock()
	g := c.gate
	c.mu.Unlock()
	return g.Pending()
}

// History returns a copy of the conversation history.
func (c *Conversation) History() []llm.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]llm.Message, len(c.history))
	copy(out, c.history)
	return out
}

// ApprovedTools returns the tool names approved for the session.
func (c *Conversation) ApprovedTools() []string {
	c.mu.Lock()
	r := c.record
	c.mu.Unlock()
	return r.Names()
}

func (c *Conversation) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *Conversation) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Usage returns the tokens used since the session started.
func (c *Conversation) Usage() llm.Usage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usage
}

// Busy reports whether a turn is running.
func (c *Conversation) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil
}

func (c *Conversation) Model() string { return c.model }

func (c *Conversation) onAuthorizationRequest(req tools.AuthorizationRequest) {
	c.setStatus(StatusAwaitingAuthorization)
	c.emit(Event{Type: EventRequestAuthorization, Authorization: &req})
}

func (c *Conversation) emit(e Event) {
	if c.observer != nil {
		c.observer.Handle(e)
	}
}

// emitStream delivers a streamed event unless the turn has been stopped.
func (c *Conversation) emitStream(ts *turnState, e Event) bool {
	ts.emitMu.Lock()
	defer ts.emitMu.Unlock()
	if ts.stopped || ts.cancelled() {
		return false
	}
	c.emit(e)
	return true
}

func (c *Conversation) emitError(msg string) {
	c.emit(Event{Type: EventError, Text: msg})
}

func (c *Conversation) setStatus(s Status) {
	c.mu.Lock()
	changed := c.status != s
	c.status = s
	c.mu.Unlock()
	if changed {
		c.emit(Event{Type: EventStatus, Status: s})
	}
}

// appendHistory adds entries unless the conversation was restarted since the
// turn began.
func (c *Conversation) appendHistory(ts *turnState, msgs ...llm.Message) {
	c.mu.Lock()
	if ts.gen != c.generation {
		c.mu.Unlock()
		return
	}
	c.history = append(c.history, msgs...)
	sid := c.sessionID
	start := c.recorder != nil && c.recorded != sid
	if start {
		c.recorded = sid
	}
	c.mu.Unlock()

	c.persist(context.WithoutCancel(ts.ctx), sid, start, msgs)
}

func (c *Conversation) persist(ctx context.Context, sid string, start bool, msgs []llm.Message) {
	if c.recorder == nil {
		return
	}
	if start {
		if err := c.recorder.StartSession(ctx, sid, c.model); err != nil {
			c.log.Warn().Err(err).Str("session", sid).Msg("failed to start transcript")
		}
	}
	for _, m := range msgs {
		if err := c.recorder.Append(ctx, sid, m); err != nil {
			c.log.Warn().Err(err).Str("session", sid).Msg("failed to record message")
			return
		}
	}
}

func (c *Conversation) snapshot() []llm.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]llm.Message, len(c.history))
	copy(out, c.history)
	return out
}

func (c *Conversation) toolSpecs() []llm.ToolSpec {
	decls := c.dir.ListDeclarations()
	specs := make([]llm.ToolSpec, 0, len(decls))
	for _, d := range decls {
		specs = append(specs, llm.ToolSpec{
			Name:        d.Name,
			Description: d.Description,
			Schema:      d.Parameters,
		})
	}
	return specs
}

// withAttachments appends each attachment to the prompt as a fenced block.
func withAttachments(prompt string, attachments []Attachment) string {
	if len(attachments) == 0 {
		return prompt
	}
	var b strings.Builder
	b.WriteString(prompt)
	for _, a := range attachments {
		b.WriteString("\n\nFile: ")
		b.WriteString(a.Path)
		b.WriteString("\n```\n")
		b.WriteString(a.Content)
		if !strings.HasSuffix(a.Content, "\n") {
			b.WriteString("\n")
		}
		b.WriteString("```")
	}
	return b.String()
}

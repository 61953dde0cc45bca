package tools

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/gobwas/glob"
	"github.com/samsaffron/term-agent/internal/llm"
)

// Decision is the user's answer to an authorization request.
type Decision string

const (
	DecisionOnce    Decision = "once"    // approve this call only
	DecisionSession Decision = "session" // approve the tool for the rest of the session
	DecisionDeny    Decision = "deny"    // deny and abort the turn
)

// ParseDecision accepts the decision names plus a few short forms.
func ParseDecision(s string) (Decision, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "once", "y", "yes":
		return DecisionOnce, nil
	case "session", "always", "a":
		return DecisionSession, nil
	case "deny", "n", "no":
		return DecisionDeny, nil
	}
	return "", fmt.Errorf("unknown decision %q (want once, session or deny)", s)
}

// ApprovalRecord is the set of tool names approved for the session.
type ApprovalRecord struct {
	mu    sync.RWMutex
	names map[string]struct{}
}

// NewApprovalRecord creates an empty record.
func NewApprovalRecord() *ApprovalRecord {
	return &ApprovalRecord{names: make(map[string]struct{})}
}

func (r *ApprovalRecord) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.names[name]
	return ok
}

func (r *ApprovalRecord) Add(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names[name] = struct{}{}
}

// Names returns the approved tool names, sorted.
func (r *ApprovalRecord) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.names))
	for name := range r.names {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

func (r *ApprovalRecord) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.names)
}

// Clear removes all approvals.
func (r *ApprovalRecord) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names = make(map[string]struct{})
}

// AutoApprovePolicy approves tool names matching configured glob patterns
// without prompting, e.g. "read_file" or "github__get_*".
type AutoApprovePolicy struct {
	patterns []string
	globs    []glob.Glob
}

// NewAutoApprovePolicy compiles patterns. An empty list approves nothing.
func NewAutoApprovePolicy(patterns []string) (*AutoApprovePolicy, error) {
	p := &AutoApprovePolicy{}
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid auto-approve pattern %q: %w", pattern, err)
		}
		p.patterns = append(p.patterns, pattern)
		p.globs = append(p.globs, g)
	}
	return p, nil
}

// Allows reports whether name matches any pattern.
func (p *AutoApprovePolicy) Allows(name string) bool {
	if p == nil {
		return false
	}
	for _, g := range p.globs {
		if g.Match(name) {
			return true
		}
	}
	return false
}

func (p *AutoApprovePolicy) Patterns() []string {
	if p == nil {
		return nil
	}
	return slices.Clone(p.patterns)
}

// AuthorizationRequest is emitted when a call needs a decision.
type AuthorizationRequest struct {
	CallID    string         `json:"call_id"`
	ToolName  string         `json:"tool_name"`
	Arguments map[string]any `json:"arguments"`
}

// Verdict is the gate's answer for one call.
type Verdict struct {
	Approved bool
	Decision Decision
	// Prompted is false when the record or the policy approved the call.
	Prompted bool
}

type pendingDecision struct {
	call     llm.ToolCall
	decision chan Decision
}

// Gate checks queued tool calls one at a time, in arrival order. A call whose
// tool is in the record (or matches the policy) passes straight through;
// otherwise the gate announces an AuthorizationRequest and blocks until
// Authorize is called or ctx ends. There is no timeout.
type Gate struct {
	record    *ApprovalRecord
	policy    *AutoApprovePolicy
	onRequest func(AuthorizationRequest)

	mu      sync.Mutex
	queue   []llm.ToolCall
	pending *pendingDecision
}

// NewGate creates a gate. onRequest is called from the checking goroutine
// each time a decision is needed.
func NewGate(record *ApprovalRecord, policy *AutoApprovePolicy, onRequest func(AuthorizationRequest)) *Gate {
	if onRequest == nil {
		onRequest = func(AuthorizationRequest) {}
	}
	return &Gate{record: record, policy: policy, onRequest: onRequest}
}

// Enqueue appends calls to the queue.
func (g *Gate) Enqueue(calls ...llm.ToolCall) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.queue = append(g.queue, calls...)
}

// Queued returns the number of calls not yet checked.
func (g *Gate) Queued() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.queue)
}

// Next checks the call at the head of the queue. ok is false when the queue
// is empty. A deny drops every remaining queued call.
func (g *Gate) Next(ctx context.Context) (call llm.ToolCall, v Verdict, ok bool, err error) {
	g.mu.Lock()
	if len(g.queue) == 0 {
		g.mu.Unlock()
		return llm.ToolCall{}, Verdict{}, false, nil
	}
	call = g.queue[0]
	g.queue = g.queue[1:]

	if g.record.Has(call.Name) || g.policy.Allows(call.Name) {
		g.mu.Unlock()
		return call, Verdict{Approved: true, Decision: DecisionSession}, true, nil
	}

	p := &pendingDecision{call: call, decision: make(chan Decision, 1)}
	g.pending = p
	g.mu.Unlock()

	g.onRequest(AuthorizationRequest{
		CallID:    call.ID,
		ToolName:  call.Name,
		Arguments: call.Arguments,
	})

	select {
	case <-ctx.Done():
		g.mu.Lock()
		if g.pending == p {
			g.pending = nil
		}
		g.mu.Unlock()
		return call, Verdict{}, true, ctx.Err()
	case d := <-p.decision:
		switch d {
		case DecisionSession:
			g.record.Add(call.Name)
		case DecisionDeny:
			g.mu.Lock()
			g.queue = nil
			g.mu.Unlock()
			return call, Verdict{Decision: d, Prompted: true}, true, nil
		}
		return call, Verdict{Approved: true, Decision: d, Prompted: true}, true, nil
	}
}

// Authorize resolves the pending request. toolName must match the tool
// awaiting a decision.
func (g *Gate) Authorize(d Decision, toolName string) error {
	switch d {
	case DecisionOnce, DecisionSession, DecisionDeny:
	default:
		return fmt.Errorf("unknown decision %q", d)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	p := g.pending
	if p == nil {
		return ErrNoPendingAuthorization
	}
	if toolName != "" && toolName != p.call.Name {
		return fmt.Errorf("authorization for %q does not match pending tool %q", toolName, p.call.Name)
	}
	g.pending = nil
	p.decision <- d
	return nil
}

// Pending returns the request awaiting a decision, if any.
func (g *Gate) Pending() (AuthorizationRequest, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pending == nil {
		return AuthorizationRequest{}, false
	}
	c := g.pending.call
	return AuthorizationRequest{CallID: c.ID, ToolName: c.Name, Arguments: c.Arguments}, true
}

// Abandon drops the queue and any pending request without resolving it. A
// goroutine blocked in Next stays blocked until its context ends.
func (g *Gate) Abandon() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.queue = nil
	g.pending = nil
}

package testutil

import (
	"context"
	"sync"

	"github.com/samsaffron/term-agent/internal/tools"
)

// MockToolProvider is a configurable tools.ToolProvider for testing.
type MockToolProvider struct {
	ProviderName string
	Decls        []tools.Declaration
	CallFn       func(ctx context.Context, name string, args map[string]any) (tools.Result, error)
	ListErr      error

	mu          sync.Mutex
	connected   bool
	invocations []MockToolInvocation
}

// MockToolInvocation records a single tool invocation.
type MockToolInvocation struct {
	Name   string
	Args   map[string]any
	Result tools.Result
	Error  error
}

// NewMockToolProvider creates a connected provider whose tools all return
// result.
func NewMockToolProvider(name, result string, toolNames ...string) *MockToolProvider {
	p := &MockToolProvider{ProviderName: name, connected: true}
	for _, tn := range toolNames {
		p.Decls = append(p.Decls, tools.Declaration{
			Name:        tn,
			Description: "Mock tool: " + tn,
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		})
	}
	p.CallFn = func(context.Context, string, map[string]any) (tools.Result, error) {
		return tools.Result{Content: result}, nil
	}
	return p
}

func (m *MockToolProvider) Name() string { return m.ProviderName }

func (m *MockToolProvider) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// SetConnected simulates a dropped or restored connection.
func (m *MockToolProvider) SetConnected(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = v
}

func (m *MockToolProvider) ListTools(context.Context) ([]tools.Declaration, error) {
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	return m.Decls, nil
}

func (m *MockToolProvider) CallTool(ctx context.Context, name string, args map[string]any) (tools.Result, error) {
	var (
		result tools.Result
		err    error
	)
	if m.CallFn != nil {
		result, err = m.CallFn(ctx, name, args)
	}
	m.mu.Lock()
	m.invocations = append(m.invocations, MockToolInvocation{Name: name, Args: args, Result: result, Error: err})
	m.mu.Unlock()
	return result, err
}

// Invocations returns a copy of the recorded calls.
func (m *MockToolProvider) Invocations() []MockToolInvocation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockToolInvocation, len(m.invocations))
	copy(out, m.invocations)
	return out
}

// InvocationCount returns the number of times any tool was invoked.
func (m *MockToolProvider) InvocationCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.invocations)
}

package mcp

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"

	"github.com/samsaffron/term-agent/internal/tools"
)

const (
	maxConcurrentStarts = 4
	startTimeout        = 30 * time.Second
)

// ServerStatus represents the current state of an MCP server.
type ServerStatus string

const (
	StatusStopped  ServerStatus = "stopped"
	StatusDisabled ServerStatus = "disabled"
	StatusReady    ServerStatus = "ready"
	StatusFailed   ServerStatus = "failed"
)

// ServerState holds the state of a managed MCP server.
type ServerState struct {
	Name   string
	Status ServerStatus
	Error  error
}

// Manager starts the configured MCP servers and hands them out as tool
// providers.
type Manager struct {
	config *Config
	log    zerolog.Logger

	mu        sync.RWMutex
	providers []*Provider
	states    map[string]ServerState
}

// NewManager creates a manager for cfg. A nil cfg means no servers.
func NewManager(cfg *Config, log zerolog.Logger) *Manager {
	if cfg == nil {
		cfg = &Config{Servers: map[string]ServerConfig{}}
	}
	return &Manager{
		config: cfg,
		log:    log,
		states: make(map[string]ServerState),
	}
}

// Connect starts every enabled server concurrently and returns the ones that
// came up, sorted by name. A server that fails to start is logged and
// recorded as failed; it does not fail the others.
func (m *Manager) Connect(ctx context.Context) []tools.ToolProvider {
	type outcome struct {
		name     string
		provider *Provider
		err      error
	}

	p := pool.NewWithResults[outcome]().WithMaxGoroutines(maxConcurrentStarts)
	states := make(map[string]ServerState)
	for _, name := range m.config.ServerNames() {
		sc := m.config.Servers[name]
		if sc.Disabled {
			states[name] = ServerState{Name: name, Status: StatusDisabled}
			continue
		}
		p.Go(func() outcome {
			startCtx, cancel := context.WithTimeout(ctx, startTimeout)
			defer cancel()
			provider := NewProvider(name, sc, m.log)
			if err := provider.Start(startCtx); err != nil {
				return outcome{name: name, err: err}
			}
			return outcome{name: name, provider: provider}
		})
	}

	var started []*Provider
	for _, o := range p.Wait() {
		if o.err != nil {
			m.log.Warn().Err(o.err).Str("mcp_server", o.name).Msg("MCP server failed to start")
			states[o.name] = ServerState{Name: o.name, Status: StatusFailed, Error: o.err}
			continue
		}
		states[o.name] = ServerState{Name: o.name, Status: StatusReady}
		started = append(started, o.provider)
	}
	slices.SortFunc(started, func(a, b *Provider) int { return strings.Compare(a.Name(), b.Name()) })

	m.mu.Lock()
	m.providers = started
	m.states = states
	m.mu.Unlock()

	out := make([]tools.ToolProvider, 0, len(started))
	for _, sp := range started {
		out = append(out, sp)
	}
	return out
}

// States returns the state of every configured server, sorted by name.
// Ready servers whose connection has since dropped report stopped.
func (m *Manager) States() []ServerState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	live := make(map[string]bool, len(m.providers))
	for _, p := range m.providers {
		live[p.Name()] = p.Connected()
	}

	out := make([]ServerState, 0, len(m.states))
	for _, s := range m.states {
		if s.Status == StatusReady && !live[s.Name] {
			s.Status = StatusStopped
		}
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b ServerState) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// Close stops every started server.
func (m *Manager) Close() {
	m.mu.Lock()
	providers := m.providers
	m.providers = nil
	m.mu.Unlock()

	for _, p := range providers {
		if err := p.Stop(); err != nil {
			m.log.Debug().Err(err).Str("mcp_server", p.Name()).Msg("MCP server stop")
		}
	}
}

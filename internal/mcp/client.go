package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"

	"github.com/samsaffron/term-agent/internal/tools"
)

const clientVersion = "1.0.0"

// Provider is one MCP server connection exposed as a tools.ToolProvider.
type Provider struct {
	name   string
	config ServerConfig
	log    zerolog.Logger

	// transport replaces the configured transport when set.
	transport mcp.Transport

	mu        sync.RWMutex
	session   *mcp.ClientSession
	connected bool
}

// NewProvider creates an unconnected provider for a configured server.
func NewProvider(name string, config ServerConfig, log zerolog.Logger) *Provider {
	return &Provider{
		name:   name,
		config: config,
		log:    log.With().Str("mcp_server", name).Logger(),
	}
}

// Name returns the server name.
func (p *Provider) Name() string {
	return p.name
}

// Connected reports whether the session is still alive.
func (p *Provider) Connected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.connected
}

// Start connects to the MCP server and initializes the session. The process
// lifetime is not tied to ctx; use Stop.
func (p *Provider) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.connected {
		return nil
	}
	if err := p.config.Validate(); err != nil && p.transport == nil {
		return fmt.Errorf("invalid MCP server %s: %w", p.name, err)
	}

	client := mcp.NewClient(&mcp.Implementation{
		Name:    "term-agent",
		Version: clientVersion,
	}, nil)

	transport := p.createTransport()
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("connect to MCP server %s: %w", p.name, err)
	}
	p.session = session
	p.connected = true

	go p.watch(session)
	p.log.Info().Str("transport", p.config.TransportType()).Msg("MCP server connected")
	return nil
}

func (p *Provider) createTransport() mcp.Transport {
	if p.transport != nil {
		return p.transport
	}
	if p.config.TransportType() == "http" {
		return &mcp.StreamableClientTransport{
			Endpoint:   p.config.URL,
			HTTPClient: &http.Client{Transport: &headerTransport{headers: p.config.Headers}},
		}
	}
	return p.createStdioTransport()
}

// createStdioTransport leaves cmd.Env nil when no extra variables are
// configured so the child inherits the parent environment unchanged.
func (p *Provider) createStdioTransport() mcp.Transport {
	cmd := exec.Command(p.config.Command, p.config.Args...)
	if len(p.config.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range p.config.Env {
			cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
		}
	}
	return &mcp.CommandTransport{Command: cmd}
}

// watch marks the provider disconnected when the session ends.
func (p *Provider) watch(session *mcp.ClientSession) {
	err := session.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session != session {
		return
	}
	p.connected = false
	p.log.Warn().Err(err).Msg("MCP server connection dropped")
}

// Stop closes the MCP server connection.
func (p *Provider) Stop() error {
	p.mu.Lock()
	session := p.session
	p.session = nil
	p.connected = false
	p.mu.Unlock()

	if session == nil {
		return nil
	}
	return session.Close()
}

func (p *Provider) currentSession() (*mcp.ClientSession, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.connected || p.session == nil {
		return nil, fmt.Errorf("MCP server %s is not running", p.name)
	}
	return p.session, nil
}

// ListTools fetches the tool list from the server.
func (p *Provider) ListTools(ctx context.Context) ([]tools.Declaration, error) {
	session, err := p.currentSession()
	if err != nil {
		return nil, err
	}
	result, err := session.ListTools(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("list tools from %s: %w", p.name, err)
	}

	decls := make([]tools.Declaration, 0, len(result.Tools))
	for _, t := range result.Tools {
		decls = append(decls, tools.Declaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  schemaMap(t.InputSchema),
		})
	}
	return decls, nil
}

// CallTool invokes a tool on the MCP server. A tool that reports failure
// comes back as an error Result, not an error.
func (p *Provider) CallTool(ctx context.Context, name string, args map[string]any) (tools.Result, error) {
	session, err := p.currentSession()
	if err != nil {
		return tools.Result{}, err
	}
	if args == nil {
		args = map[string]any{}
	}

	result, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		return tools.Result{}, fmt.Errorf("call tool %s: %w", name, err)
	}
	return tools.Result{
		Content: formatContent(result.Content),
		IsError: result.IsError,
	}, nil
}

// schemaMap normalizes whatever the SDK decoded the input schema into.
func schemaMap(schema any) map[string]any {
	switch s := schema.(type) {
	case nil:
		return nil
	case map[string]any:
		return s
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	return m
}

// formatContent converts MCP content to a string.
func formatContent(content []mcp.Content) string {
	var b strings.Builder
	for _, c := range content {
		switch v := c.(type) {
		case *mcp.TextContent:
			b.WriteString(v.Text)
		default:
			// For other content types, try JSON encoding
			if data, err := json.Marshal(c); err == nil {
				b.Write(data)
			}
		}
	}
	return b.String()
}

// headerTransport adds configured headers to every request.
type headerTransport struct {
	headers map[string]string
	base    http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	if len(t.headers) == 0 {
		return base.RoundTrip(req)
	}
	req = req.Clone(req.Context())
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	return base.RoundTrip(req)
}

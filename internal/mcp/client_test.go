package mcp

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"
)

func TestCreateStdioTransport_InheritsEnv(t *testing.T) {
	// Server with custom env should inherit parent PATH
	p := NewProvider("test", ServerConfig{
		Command: "echo",
		Args:    []string{"hello"},
		Env: map[string]string{
			"CUSTOM_VAR": "custom_value",
		},
	}, zerolog.Nop())

	ct, ok := p.createStdioTransport().(*sdkmcp.CommandTransport)
	if !ok {
		t.Fatal("expected sdkmcp.CommandTransport")
	}

	hasPath := false
	hasCustom := false
	for _, e := range ct.Command.Env {
		if strings.HasPrefix(e, "PATH=") {
			hasPath = true
		}
		if e == "CUSTOM_VAR=custom_value" {
			hasCustom = true
		}
	}
	if !hasPath {
		t.Error("parent PATH not inherited in subprocess env")
	}
	if !hasCustom {
		t.Error("custom env var not set")
	}
}

func TestCreateStdioTransport_NoEnvNil(t *testing.T) {
	p := NewProvider("test", ServerConfig{Command: "echo", Env: map[string]string{}}, zerolog.Nop())
	ct := p.createStdioTransport().(*sdkmcp.CommandTransport)
	if ct.Command.Env != nil {
		t.Error("expected nil env when env map is empty")
	}
}

func TestCreateTransport_HTTP(t *testing.T) {
	p := NewProvider("remote", ServerConfig{URL: "http://localhost:9/mcp"}, zerolog.Nop())
	st, ok := p.createTransport().(*sdkmcp.StreamableClientTransport)
	if !ok {
		t.Fatalf("expected streamable transport, got %T", p.createTransport())
	}
	if st.Endpoint != "http://localhost:9/mcp" {
		t.Errorf("unexpected endpoint %q", st.Endpoint)
	}
}

func TestServerConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ServerConfig
		wantErr bool
	}{
		{"stdio", ServerConfig{Command: "srv"}, false},
		{"http", ServerConfig{URL: "http://x"}, false},
		{"empty", ServerConfig{}, true},
		{"http without url", ServerConfig{Type: "http"}, true},
		{"both", ServerConfig{URL: "http://x", Command: "srv"}, true},
	}
	for _, tt := range tests {
		if err := tt.cfg.Validate(); (err != nil) != tt.wantErr {
			t.Errorf("%s: Validate() err = %v, wantErr %v", tt.name, err, tt.wantErr)
		}
	}
}

func TestLoadConfigFromPath(t *testing.T) {
	dir := t.TempDir()

	cfg, err := LoadConfigFromPath(filepath.Join(dir, "missing.json"))
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if len(cfg.Servers) != 0 {
		t.Fatalf("expected no servers, got %v", cfg.Servers)
	}

	t.Setenv("TEST_MCP_TOKEN", "sekrit")
	path := filepath.Join(dir, "mcp.json")
	data := `{"servers":{
		"zeta":{"command":"zeta-server","env":{"TOKEN":"${TEST_MCP_TOKEN}"}},
		"alpha":{"url":"http://localhost/mcp","headers":{"Authorization":"Bearer $TEST_MCP_TOKEN"}}
	}}`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err = LoadConfigFromPath(path)
	if err != nil {
		t.Fatalf("LoadConfigFromPath: %v", err)
	}
	if got := cfg.ServerNames(); len(got) != 2 || got[0] != "alpha" || got[1] != "zeta" {
		t.Fatalf("unexpected server names %v", got)
	}
	if cfg.Servers["zeta"].Env["TOKEN"] != "sekrit" {
		t.Errorf("env not expanded: %v", cfg.Servers["zeta"].Env)
	}
	if cfg.Servers["alpha"].Headers["Authorization"] != "Bearer sekrit" {
		t.Errorf("headers not expanded: %v", cfg.Servers["alpha"].Headers)
	}
}

type echoInput struct {
	Text string `json:"text"`
}

type echoOutput struct {
	Echo string `json:"echo"`
}

func startInMemoryServer(t *testing.T) (*Provider, *sdkmcp.ServerSession) {
	t.Helper()
	ctx := context.Background()

	server := sdkmcp.NewServer(&sdkmcp.Implementation{Name: "test-server", Version: "0.0.1"}, nil)
	sdkmcp.AddTool(server, &sdkmcp.Tool{Name: "echo", Description: "Echo text back"},
		func(ctx context.Context, req *sdkmcp.CallToolRequest, in echoInput) (*sdkmcp.CallToolResult, echoOutput, error) {
			if in.Text == "" {
				return &sdkmcp.CallToolResult{
					IsError: true,
					Content: []sdkmcp.Content{&sdkmcp.TextContent{Text: "text is required"}},
				}, echoOutput{}, nil
			}
			return &sdkmcp.CallToolResult{
				Content: []sdkmcp.Content{&sdkmcp.TextContent{Text: in.Text}},
			}, echoOutput{Echo: in.Text}, nil
		})

	clientTransport, serverTransport := sdkmcp.NewInMemoryTransports()
	serverSession, err := server.Connect(ctx, serverTransport, nil)
	if err != nil {
		t.Fatalf("server connect: %v", err)
	}

	p := NewProvider("mem", ServerConfig{}, zerolog.Nop())
	p.transport = clientTransport
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { p.Stop() })
	return p, serverSession
}

func TestProvider_ListAndCallTools(t *testing.T) {
	p, _ := startInMemoryServer(t)
	ctx := context.Background()

	if !p.Connected() {
		t.Fatal("expected connected provider")
	}

	decls, err := p.ListTools(ctx)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	if len(decls) != 1 || decls[0].Name != "echo" {
		t.Fatalf("unexpected declarations %+v", decls)
	}
	if decls[0].Parameters["type"] != "object" {
		t.Errorf("expected object schema, got %v", decls[0].Parameters)
	}

	res, err := p.CallTool(ctx, "echo", map[string]any{"text": "hi"})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if res.IsError || res.Content != "hi" {
		t.Fatalf("unexpected result %+v", res)
	}

	res, err = p.CallTool(ctx, "echo", map[string]any{})
	if err != nil {
		t.Fatalf("tool failure must not be an error: %v", err)
	}
	if !res.IsError || res.Content != "text is required" {
		t.Fatalf("expected error result, got %+v", res)
	}
}

func TestProvider_DetectsDroppedConnection(t *testing.T) {
	p, serverSession := startInMemoryServer(t)
	serverSession.Close()

	deadline := time.Now().Add(2 * time.Second)
	for p.Connected() {
		if time.Now().After(deadline) {
			t.Fatal("provider still reports connected after server closed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if _, err := p.CallTool(context.Background(), "echo", nil); err == nil {
		t.Fatal("expected error calling a dropped provider")
	}
}

func TestManager_SkipsDisabledAndRecordsFailures(t *testing.T) {
	cfg := &Config{Servers: map[string]ServerConfig{
		"off":    {Command: "whatever", Disabled: true},
		"broken": {Command: filepath.Join(t.TempDir(), "does-not-exist")},
	}}
	m := NewManager(cfg, zerolog.Nop())
	providers := m.Connect(context.Background())
	defer m.Close()

	if len(providers) != 0 {
		t.Fatalf("expected no providers, got %d", len(providers))
	}
	states := m.States()
	if len(states) != 2 {
		t.Fatalf("expected 2 states, got %+v", states)
	}
	if states[0].Name != "broken" || states[0].Status != StatusFailed || states[0].Error == nil {
		t.Errorf("unexpected broken state %+v", states[0])
	}
	if states[1].Name != "off" || states[1].Status != StatusDisabled {
		t.Errorf("unexpected disabled state %+v", states[1])
	}
}

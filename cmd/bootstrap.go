package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/samsaffron/term-agent/internal/config"
	"github.com/samsaffron/term-agent/internal/conversation"
	"github.com/samsaffron/term-agent/internal/credentials"
	"github.com/samsaffron/term-agent/internal/llm"
	"github.com/samsaffron/term-agent/internal/logging"
	"github.com/samsaffron/term-agent/internal/mcp"
	"github.com/samsaffron/term-agent/internal/session"
	"github.com/samsaffron/term-agent/internal/tools"
)

// app holds everything a command needs to run a conversation.
type app struct {
	cfg   *config.Config
	log   zerolog.Logger
	mcp   *mcp.Manager
	dir   *tools.Directory
	store *session.SQLiteStore
	conv  *conversation.Conversation

	closers []io.Closer
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(config.LoadOptions{ConfigFile: configFile, EnvFile: envFile})
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if debugLog {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

// newBaseApp loads config, logging, tool providers and the session store,
// but not the remote caller.
func newBaseApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	log, logCloser, err := logging.New(cfg.Log, os.Stderr)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log, closers: []io.Closer{logCloser}}

	mcpPath := cfg.MCP.Config
	if mcpPath == "" {
		if mcpPath, err = mcp.DefaultConfigPath(); err != nil {
			a.Close()
			return nil, err
		}
	}
	mcpCfg, err := mcp.LoadConfigFromPath(mcpPath)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("load MCP config: %w", err)
	}
	a.mcp = mcp.NewManager(mcpCfg, log)

	providers, err := a.providers(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.dir = tools.NewDirectory(log, providers...)
	return a, nil
}

// newApp builds a ready conversation reporting to observer.
func newApp(ctx context.Context, observer conversation.Observer) (*app, error) {
	a, err := newBaseApp(ctx)
	if err != nil {
		return nil, err
	}

	caller, err := newCaller(ctx, a.cfg, a.log)
	if err != nil {
		a.Close()
		return nil, err
	}
	policy, err := tools.NewAutoApprovePolicy(a.cfg.Tools.AutoApprove)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("tools.auto_approve: %w", err)
	}

	opts := conversation.Options{
		Caller:      caller,
		Directory:   a.dir,
		Observer:    observer,
		Logger:      a.log,
		Model:       a.cfg.Model,
		AutoApprove: policy,
		Reload:      a.providers,
	}
	if a.cfg.Session.Enabled {
		if err := a.openStore(); err != nil {
			a.Close()
			return nil, err
		}
		opts.Recorder = a.store
	}

	conv, err := conversation.New(opts)
	if err != nil {
		a.Close()
		return nil, err
	}
	if err := conv.Initialize(ctx); err != nil {
		a.Close()
		return nil, err
	}
	a.conv = conv
	return a, nil
}

// providers starts the tool providers from scratch: the workspace tools and
// every enabled MCP server. It also serves /reload.
func (a *app) providers(ctx context.Context) ([]tools.ToolProvider, error) {
	var out []tools.ToolProvider
	if a.cfg.Tools.Builtin {
		ws, err := tools.NewWorkspaceProvider(a.cfg.Tools.Workspace, a.cfg.Tools.Enabled, a.log)
		if err != nil {
			return nil, fmt.Errorf("workspace tools: %w", err)
		}
		out = append(out, ws)
	}
	a.mcp.Close()
	return append(out, a.mcp.Connect(ctx)...), nil
}

func (a *app) openStore() error {
	path := a.cfg.Session.Path
	if path == "" {
		var err error
		if path, err = session.DefaultDBPath(); err != nil {
			return err
		}
	}
	store, err := session.Open(path, a.log)
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	a.store = store
	a.closers = append(a.closers, store)
	return nil
}

// Close stops the conversation and MCP servers and releases files.
func (a *app) Close() {
	if a.conv != nil {
		a.conv.Close()
	}
	if a.mcp != nil {
		a.mcp.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			fmt.Fprintf(os.Stderr, "close: %v\n", err)
		}
	}
}

// newCaller builds the Gemini caller with its retry gate and credentials.
func newCaller(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*llm.GeminiCaller, error) {
	dialect, err := llm.ParseDialect(cfg.Remote.Dialect)
	if err != nil {
		return nil, err
	}

	var tokens oauth2.TokenSource
	if dialect != llm.DialectGemini || cfg.Remote.APIKey == "" {
		tokens, err = tokenSource(ctx, cfg.Remote)
		if err != nil {
			return nil, err
		}
	}

	gate := llm.NewRetryGate(nil, llm.RetryConfig{
		MaxRetries:  cfg.Retry.MaxRetries,
		BaseBackoff: cfg.Retry.BaseBackoff,
	}, log)

	return llm.NewGeminiCaller(llm.GeminiConfig{
		Dialect: dialect,
		BaseURL: cfg.Remote.BaseURL,
		Model:   cfg.Model,
		Project: cfg.Remote.Project,
		APIKey:  cfg.Remote.APIKey,
	}, tokens, gate, log), nil
}

func tokenSource(ctx context.Context, remote config.RemoteConfig) (oauth2.TokenSource, error) {
	credsFile := remote.CredentialsFile
	if credsFile == "" && remote.AccessToken == "" {
		path, err := credentials.DefaultGeminiCredentialsPath()
		if err != nil {
			return nil, err
		}
		credsFile = path
	}
	ts, err := credentials.TokenSource(ctx, credentials.Options{
		AccessToken:     remote.AccessToken,
		CredentialsFile: credsFile,
		ClientID:        remote.OAuthClientID,
		ClientSecret:    remote.OAuthSecret,
	})
	if errors.Is(err, credentials.ErrNoCredentials) {
		return nil, fmt.Errorf("no credentials configured: set remote.access_token or remote.api_key")
	}
	return ts, err
}

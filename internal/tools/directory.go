package tools

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

type entry struct {
	decl     Declaration
	provider ToolProvider
	schema   *argumentSchema
}

// Directory maps tool names to the provider that serves them. Providers are
// consulted in the order they were added; the first to register a name owns
// it.
type Directory struct {
	log zerolog.Logger

	mu        sync.RWMutex
	providers []ToolProvider
	order     []string
	entries   map[string]*entry
}

// NewDirectory creates a directory over providers. Call Refresh to discover
// their tools.
func NewDirectory(log zerolog.Logger, providers ...ToolProvider) *Directory {
	return &Directory{
		log:       log,
		providers: providers,
		entries:   make(map[string]*entry),
	}
}

// AddProvider appends p. Its tools are visible after the next Refresh.
func (d *Directory) AddProvider(p ToolProvider) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.providers = append(d.providers, p)
}

// SetProviders replaces the provider list, used by reload.
func (d *Directory) SetProviders(providers ...ToolProvider) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.providers = providers
}

// Providers returns the registered providers in order.
func (d *Directory) Providers() []ToolProvider {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]ToolProvider, len(d.providers))
	copy(out, d.providers)
	return out
}

// Refresh rediscovers every provider's tools. A provider that fails to list
// is logged and skipped; the rest still register.
func (d *Directory) Refresh(ctx context.Context) error {
	providers := d.Providers()

	order := make([]string, 0)
	entries := make(map[string]*entry)
	for _, p := range providers {
		if !p.Connected() {
			d.log.Warn().Str("provider", p.Name()).Msg("skipping disconnected tool provider")
			continue
		}
		decls, err := p.ListTools(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			d.log.Warn().Err(err).Str("provider", p.Name()).Msg("tool discovery failed")
			continue
		}
		for _, decl := range decls {
			if existing, ok := entries[decl.Name]; ok {
				d.log.Warn().
					Str("tool", decl.Name).
					Str("provider", p.Name()).
					Str("owner", existing.provider.Name()).
					Msg("duplicate tool name ignored")
				continue
			}
			schema, err := compileSchema(decl.Parameters)
			if err != nil {
				d.log.Warn().Err(err).Str("tool", decl.Name).Msg("tool schema not usable for validation")
			}
			entries[decl.Name] = &entry{decl: decl, provider: p, schema: schema}
			order = append(order, decl.Name)
		}
		d.log.Debug().Str("provider", p.Name()).Int("tools", len(decls)).Msg("discovered tools")
	}

	d.mu.Lock()
	d.order = order
	d.entries = entries
	d.mu.Unlock()
	return nil
}

// ListDeclarations returns every discovered tool in discovery order.
func (d *Directory) ListDeclarations() []Declaration {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Declaration, 0, len(d.order))
	for _, name := range d.order {
		out = append(out, d.entries[name].decl)
	}
	return out
}

// Lookup reports the declaration and owning provider name for a tool.
func (d *Directory) Lookup(name string) (Declaration, string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.entries[name]
	if !ok {
		return Declaration{}, "", false
	}
	return e.decl, e.provider.Name(), true
}

// Len returns the number of registered tools.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.order)
}

// Invoke routes a call to the provider owning name. Unknown names return
// ErrToolNotFound and dropped providers ErrProviderUnavailable; everything
// else, including provider transport failures, comes back as a Result.
func (d *Directory) Invoke(ctx context.Context, name string, args map[string]any) (Result, error) {
	d.mu.RLock()
	e, ok := d.entries[name]
	d.mu.RUnlock()
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	if !e.provider.Connected() {
		return Result{}, fmt.Errorf("%w: %s (tool %s)", ErrProviderUnavailable, e.provider.Name(), name)
	}
	if err := e.schema.validate(args); err != nil {
		return NewToolError(ErrInvalidParams, err.Error()).Result(), nil
	}

	result, err := e.provider.CallTool(ctx, name, args)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		d.log.Warn().Err(err).Str("tool", name).Str("provider", e.provider.Name()).Msg("tool call failed")
		return NewToolErrorf(ErrExecutionFailed, "%v", err).Result(), nil
	}
	return result, nil
}

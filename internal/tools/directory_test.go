package tools_test

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samsaffron/term-agent/internal/testutil"
	"github.com/samsaffron/term-agent/internal/tools"
)

func TestDirectory_DiscoveryOrderAndFirstRegisteredWins(t *testing.T) {
	first := testutil.NewMockToolProvider("first", "from first", "alpha", "shared")
	second := testutil.NewMockToolProvider("second", "from second", "shared", "beta")

	dir := tools.NewDirectory(zerolog.Nop(), first, second)
	require.NoError(t, dir.Refresh(context.Background()))

	var names []string
	for _, d := range dir.ListDeclarations() {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"alpha", "shared", "beta"}, names)

	_, owner, ok := dir.Lookup("shared")
	require.True(t, ok)
	assert.Equal(t, "first", owner)

	res, err := dir.Invoke(context.Background(), "shared", nil)
	require.NoError(t, err)
	assert.Equal(t, "from first", res.Content)
	assert.Equal(t, 1, first.InvocationCount())
	assert.Equal(t, 0, second.InvocationCount())
}

func TestDirectory_InvokeUnknownTool(t *testing.T) {
	dir := tools.NewDirectory(zerolog.Nop(), testutil.NewMockToolProvider("p", "ok", "alpha"))
	require.NoError(t, dir.Refresh(context.Background()))

	_, err := dir.Invoke(context.Background(), "missing", nil)
	assert.ErrorIs(t, err, tools.ErrToolNotFound)
}

func TestDirectory_InvokeDroppedProvider(t *testing.T) {
	p := testutil.NewMockToolProvider("p", "ok", "alpha")
	dir := tools.NewDirectory(zerolog.Nop(), p)
	require.NoError(t, dir.Refresh(context.Background()))

	p.SetConnected(false)
	_, err := dir.Invoke(context.Background(), "alpha", nil)
	assert.ErrorIs(t, err, tools.ErrProviderUnavailable)
	assert.Equal(t, 0, p.InvocationCount())
}

func TestDirectory_ToolFailuresAreData(t *testing.T) {
	p := testutil.NewMockToolProvider("p", "", "boom", "soft")
	p.CallFn = func(_ context.Context, name string, _ map[string]any) (tools.Result, error) {
		if name == "boom" {
			return tools.Result{}, errors.New("transport broke")
		}
		return tools.Result{Content: "nope", IsError: true}, nil
	}
	dir := tools.NewDirectory(zerolog.Nop(), p)
	require.NoError(t, dir.Refresh(context.Background()))

	res, err := dir.Invoke(context.Background(), "boom", nil)
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, res.Content, "transport broke")

	res, err = dir.Invoke(context.Background(), "soft", nil)
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Equal(t, "nope", res.Content)
}

func TestDirectory_ValidatesArgumentsAgainstSchema(t *testing.T) {
	p := testutil.NewMockToolProvider("p", "ok")
	p.Decls = []tools.Declaration{{
		Name: "read",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{"type": "string"},
			},
			"required": []string{"path"},
		},
	}}
	dir := tools.NewDirectory(zerolog.Nop(), p)
	require.NoError(t, dir.Refresh(context.Background()))

	res, err := dir.Invoke(context.Background(), "read", map[string]any{"path": 3})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, res.Content, "INVALID_PARAMS")
	assert.Equal(t, 0, p.InvocationCount())

	res, err = dir.Invoke(context.Background(), "read", map[string]any{"path": "a.go"})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, 1, p.InvocationCount())
}

func TestDirectory_RefreshSkipsFailingAndDisconnectedProviders(t *testing.T) {
	bad := testutil.NewMockToolProvider("bad", "ok", "x")
	bad.ListErr = errors.New("list failed")
	gone := testutil.NewMockToolProvider("gone", "ok", "y")
	gone.SetConnected(false)
	good := testutil.NewMockToolProvider("good", "ok", "z")

	dir := tools.NewDirectory(zerolog.Nop(), bad, gone)
	dir.AddProvider(good)
	require.NoError(t, dir.Refresh(context.Background()))

	assert.Equal(t, 1, dir.Len())
	_, owner, ok := dir.Lookup("z")
	require.True(t, ok)
	assert.Equal(t, "good", owner)
	assert.Len(t, dir.Providers(), 3)
}

package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rs/zerolog"
)

// Built-in tool names.
const (
	ListDirToolName  = "list_dir"
	ReadFileToolName = "read_file"
	GlobToolName     = "glob"

	WorkspaceProviderName = "workspace"
)

const (
	maxReadBytes   = 256 << 10
	maxGlobResults = 200
	maxListEntries = 500
)

var errGlobLimit = errors.New("glob result limit reached")

// AllBuiltinTools lists the tools WorkspaceProvider can expose.
var AllBuiltinTools = []string{ListDirToolName, ReadFileToolName, GlobToolName}

// WorkspaceProvider serves read-only file tools sandboxed to one root
// directory. Paths are relative to the root; absolute paths, parent
// traversal and symlink escapes are rejected.
type WorkspaceProvider struct {
	root    string
	enabled []string
	log     zerolog.Logger
}

// NewWorkspaceProvider creates a provider rooted at root (the working
// directory when empty). enabled selects tools; nil enables all of them.
func NewWorkspaceProvider(root string, enabled []string, log zerolog.Logger) (*WorkspaceProvider, error) {
	if root == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("getwd: %w", err)
		}
		root = cwd
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	if enabled == nil {
		enabled = AllBuiltinTools
	}
	for _, name := range enabled {
		if !slices.Contains(AllBuiltinTools, name) {
			return nil, fmt.Errorf("unknown built-in tool %q", name)
		}
	}
	return &WorkspaceProvider{root: abs, enabled: enabled, log: log}, nil
}

func (w *WorkspaceProvider) Name() string    { return WorkspaceProviderName }
func (w *WorkspaceProvider) Connected() bool { return true }
func (w *WorkspaceProvider) Root() string    { return w.root }

func (w *WorkspaceProvider) ListTools(ctx context.Context) ([]Declaration, error) {
	decls := make([]Declaration, 0, len(w.enabled))
	for _, name := range AllBuiltinTools {
		if !slices.Contains(w.enabled, name) {
			continue
		}
		decls = append(decls, builtinDeclarations[name])
	}
	return decls, nil
}

var builtinDeclarations = map[string]Declaration{
	ListDirToolName: {
		Name:        ListDirToolName,
		Description: "List the entries of a directory in the workspace. Directories end with '/'.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "Directory relative to the workspace root (defaults to '.')",
				},
			},
			"additionalProperties": false,
		},
	},
	ReadFileToolName: {
		Name:        ReadFileToolName,
		Description: "Read a text file from the workspace.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "File path relative to the workspace root",
				},
			},
			"required":             []string{"path"},
			"additionalProperties": false,
		},
	},
	GlobToolName: {
		Name:        GlobToolName,
		Description: "Find files by glob pattern (supports ** for recursive matching).",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"pattern": map[string]any{
					"type":        "string",
					"description": "Glob pattern, e.g. '**/*.go' or 'cmd/*'",
				},
			},
			"required":             []string{"pattern"},
			"additionalProperties": false,
		},
	},
}

func (w *WorkspaceProvider) CallTool(ctx context.Context, name string, args map[string]any) (Result, error) {
	if !slices.Contains(w.enabled, name) {
		return Result{}, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	w.log.Debug().Str("tool", name).Interface("args", args).Msg("workspace tool call")

	var (
		out string
		err error
	)
	switch name {
	case ListDirToolName:
		out, err = w.listDir(stringArg(args, "path"))
	case ReadFileToolName:
		out, err = w.readFile(stringArg(args, "path"))
	case GlobToolName:
		out, err = w.glob(ctx, stringArg(args, "pattern"))
	}
	if err != nil {
		if te, ok := err.(*ToolError); ok {
			return te.Result(), nil
		}
		return NewToolErrorf(ErrExecutionFailed, "%v", err).Result(), nil
	}
	return Result{Content: out}, nil
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

// resolve maps a workspace-relative path to an absolute path inside root.
func (w *WorkspaceProvider) resolve(rel string) (string, error) {
	if rel == "" {
		rel = "."
	}
	if filepath.IsAbs(rel) {
		return "", NewToolError(ErrPathNotInWorkspace, "absolute paths are not allowed")
	}
	candidate := filepath.Join(w.root, filepath.Clean(rel))
	if resolved, err := filepath.EvalSymlinks(candidate); err == nil {
		candidate = resolved
	}
	r, err := filepath.Rel(w.root, candidate)
	if err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", NewToolErrorf(ErrPathNotInWorkspace, "%s resolves outside the workspace", rel)
	}
	return candidate, nil
}

func (w *WorkspaceProvider) listDir(rel string) (string, error) {
	abs, err := w.resolve(rel)
	if err != nil {
		return "", err
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return "", NewToolErrorf(ErrFileNotFound, "directory not found: %s", rel)
		}
		return "", err
	}
	if len(entries) == 0 {
		return "(empty directory)", nil
	}

	var b strings.Builder
	for i, e := range entries {
		if i == maxListEntries {
			fmt.Fprintf(&b, "... (%d more entries)\n", len(entries)-maxListEntries)
			break
		}
		b.WriteString(e.Name())
		if e.IsDir() {
			b.WriteByte('/')
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (w *WorkspaceProvider) readFile(rel string) (string, error) {
	if rel == "" {
		return "", NewToolError(ErrInvalidParams, "path is required")
	}
	abs, err := w.resolve(rel)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return "", NewToolErrorf(ErrFileNotFound, "file not found: %s", rel)
		}
		return "", err
	}
	if info.IsDir() {
		return "", NewToolErrorf(ErrInvalidParams, "%s is a directory", rel)
	}
	if info.Size() > maxReadBytes {
		return "", NewToolErrorf(ErrFileTooLarge, "%s is %d bytes (limit %d)", rel, info.Size(), maxReadBytes)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return "", err
	}
	if bytes.IndexByte(data, 0) >= 0 {
		return "", NewToolErrorf(ErrBinaryFile, "%s looks like a binary file", rel)
	}
	return string(data), nil
}

func (w *WorkspaceProvider) glob(ctx context.Context, pattern string) (string, error) {
	if pattern == "" {
		return "", NewToolError(ErrInvalidParams, "pattern is required")
	}
	if !doublestar.ValidatePattern(pattern) {
		return "", NewToolErrorf(ErrInvalidParams, "invalid pattern: %s", pattern)
	}

	var matches []string
	truncated := false
	fsys := os.DirFS(w.root)
	err := doublestar.GlobWalk(fsys, pattern, func(path string, d fs.DirEntry) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if len(matches) >= maxGlobResults {
			truncated = true
			return errGlobLimit
		}
		if d.IsDir() {
			path += "/"
		}
		matches = append(matches, path)
		return nil
	})
	if err != nil && !errors.Is(err, errGlobLimit) {
		return "", err
	}
	if len(matches) == 0 {
		return "No files matched the pattern.", nil
	}
	slices.Sort(matches)
	out := strings.Join(matches, "\n")
	if truncated {
		out += fmt.Sprintf("\n... (results truncated at %d)", maxGlobResults)
	}
	return out, nil
}

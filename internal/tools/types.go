// Package tools provides the tool directory, the authorization gate and the
// built-in workspace tools for term-agent.
package tools

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrToolNotFound is returned by Invoke for names no provider registered.
	ErrToolNotFound = errors.New("tool not found")
	// ErrProviderUnavailable is returned by Invoke when the owning provider's
	// connection has dropped.
	ErrProviderUnavailable = errors.New("tool provider unavailable")
	// ErrNoPendingAuthorization is returned by Authorize when no call is
	// awaiting a decision.
	ErrNoPendingAuthorization = errors.New("no pending authorization")
	// ErrToolDenied marks a turn that ended because the user denied a call.
	ErrToolDenied = errors.New("tool call denied")
)

// ToolProvider is a source of tools: the built-in workspace provider or an
// MCP server connection.
type ToolProvider interface {
	Name() string
	ListTools(ctx context.Context) ([]Declaration, error)
	// CallTool returns a tool-level failure as a Result with IsError set. A
	// non-nil error means the call could not be made at all.
	CallTool(ctx context.Context, name string, args map[string]any) (Result, error)
	Connected() bool
}

// Declaration advertises a tool to the model.
type Declaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// Result is what a tool produced. Failures are data so the model can react.
type Result struct {
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}

// ErrorResult builds a failed Result.
func ErrorResult(format string, args ...any) Result {
	return Result{Content: fmt.Sprintf(format, args...), IsError: true}
}

// ToolErrorType provides structured errors for the model.
type ToolErrorType string

const (
	ErrFileNotFound       ToolErrorType = "FILE_NOT_FOUND"
	ErrInvalidParams      ToolErrorType = "INVALID_PARAMS"
	ErrPathNotInWorkspace ToolErrorType = "PATH_NOT_IN_WORKSPACE"
	ErrExecutionFailed    ToolErrorType = "EXECUTION_FAILED"
	ErrBinaryFile         ToolErrorType = "BINARY_FILE"
	ErrFileTooLarge       ToolErrorType = "FILE_TOO_LARGE"
)

// ToolError provides structured error information.
type ToolError struct {
	Type    ToolErrorType `json:"type"`
	Message string        `json:"message"`
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// NewToolError creates a new ToolError.
func NewToolError(errType ToolErrorType, message string) *ToolError {
	return &ToolError{Type: errType, Message: message}
}

// NewToolErrorf creates a new ToolError with formatted message.
func NewToolErrorf(errType ToolErrorType, format string, args ...any) *ToolError {
	return &ToolError{Type: errType, Message: fmt.Sprintf(format, args...)}
}

func (e *ToolError) Result() Result {
	return Result{Content: "Error: " + e.Error(), IsError: true}
}

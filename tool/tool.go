// Package tool implements the tool calling subsystem: schema validated Go
// functions, MCP-discovered tools and the transfer directive exposed to models.
package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/hupe1980/agentrelay/internal/util"
	"github.com/hupe1980/agentrelay/logging"
)

// Tool is a capability an agent can invoke on behalf of its model.
//
// Implementations should:
//   - Provide a snake_case name unique within an agent
//   - Describe the tool so the model knows when to call it
//   - Declare a JSON schema for the accepted arguments
//   - Respect ctx cancellation for long running work
type Tool interface {
	Name() string
	Description() string
	// Parameters returns a JSON schema object describing the arguments.
	Parameters() map[string]any
	Call(ctx context.Context, args map[string]any) (any, error)
}

// ValidationError represents parameter validation errors with detailed information.
type ValidationError = util.ValidationError

// Error codes carried by ToolError.
const (
	CodeValidation = "VALIDATION_ERROR"
	CodeExecution  = "EXECUTION_ERROR"
	CodeNotFound   = "NOT_FOUND"
	CodePanic      = "PANIC"
)

// ToolError represents errors that occur during tool execution.
type ToolError struct {
	Tool    string `json:"tool"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// NewToolError creates a new ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{
		Tool:    tool,
		Message: message,
		Code:    code,
	}
}

// Execute runs t with panic recovery, logs the call and renders the result
// as text. Any failure is returned as *ToolError.
func Execute(ctx context.Context, t Tool, args map[string]any, logger logging.Logger) (result string, err error) {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("tool.call.panic", "tool", t.Name(), "recover", r, "stack", string(debug.Stack()))
			result, err = "", &ToolError{Tool: t.Name(), Message: fmt.Sprintf("panic: %v", r), Code: CodePanic}
		}
		logging.LogToolCall(logger, t.Name(), time.Since(start), err)
	}()

	out, callErr := t.Call(ctx, args)
	if callErr != nil {
		if te, ok := callErr.(*ToolError); ok {
			return "", te
		}
		return "", &ToolError{Tool: t.Name(), Message: callErr.Error(), Code: CodeExecution}
	}

	return FormatResult(out), nil
}

// FormatResult renders a tool return value as model-facing text. Strings pass
// through, everything else is JSON encoded.
func FormatResult(v any) string {
	switch r := v.(type) {
	case nil:
		return ""
	case string:
		return r
	case []byte:
		return string(r)
	case fmt.Stringer:
		return r.String()
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

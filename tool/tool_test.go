package tool

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sumParams = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"a": map[string]any{"type": "number"},
		"b": map[string]any{"type": "number"},
	},
	"required": []string{"a", "b"},
}

func TestFunctionTool_Success(t *testing.T) {
	sum := NewFunctionTool("sum", "add", sumParams, func(_ context.Context, args map[string]any) (any, error) {
		return args["a"].(float64) + args["b"].(float64), nil
	})

	res, err := sum.Call(context.Background(), map[string]any{"a": 1.0, "b": 2.0})
	require.NoError(t, err)
	assert.Equal(t, 3.0, res)
	assert.Equal(t, "sum", sum.Name())
	assert.Equal(t, "add", sum.Description())
}

func TestFunctionTool_ValidationError(t *testing.T) {
	sum := NewFunctionTool("sum", "add", sumParams, func(context.Context, map[string]any) (any, error) {
		t.Fatal("must not be called")
		return nil, nil
	})

	_, err := sum.Call(context.Background(), map[string]any{"a": 1.0})
	var te *ToolError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, CodeValidation, te.Code)
}

func TestFunctionTool_ErrorNormalization(t *testing.T) {
	plain := NewFunctionTool("p", "", nil, func(context.Context, map[string]any) (any, error) {
		return nil, errors.New("boom")
	})
	_, err := plain.Call(context.Background(), nil)
	var te *ToolError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, CodeExecution, te.Code)
	assert.Equal(t, "tool error [EXECUTION_ERROR] in p: boom", te.Error())

	custom := NewFunctionTool("c", "", nil, func(context.Context, map[string]any) (any, error) {
		return nil, NewToolError("c", "nope", "CUSTOM")
	})
	_, err = custom.Call(context.Background(), nil)
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "CUSTOM", te.Code)
}

func TestFunctionToolFromStruct(t *testing.T) {
	type args struct {
		Query string `json:"query"`
	}
	ft := NewFunctionToolFromStruct("search", "", args{}, func(_ context.Context, a map[string]any) (any, error) {
		return a["query"], nil
	})
	assert.Equal(t, []string{"query"}, ft.Parameters()["required"])
}

func TestExecute_RecoversPanic(t *testing.T) {
	bad := NewFunctionTool("bad", "", nil, func(context.Context, map[string]any) (any, error) {
		panic("kaboom")
	})

	out, err := Execute(context.Background(), bad, nil, nil)
	assert.Empty(t, out)
	var te *ToolError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, CodePanic, te.Code)
	assert.Contains(t, te.Message, "kaboom")
}

func TestExecute_FormatsResult(t *testing.T) {
	obj := NewFunctionTool("obj", "", nil, func(context.Context, map[string]any) (any, error) {
		return map[string]any{"ok": true}, nil
	})
	out, err := Execute(context.Background(), obj, nil, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, out)

	assert.Equal(t, "", FormatResult(nil))
	assert.Equal(t, "text", FormatResult("text"))
}

func TestParseTransferArgs(t *testing.T) {
	args, err := ParseTransferArgs(map[string]any{
		"target":            "coder",
		"task":              "fix it",
		"relevant_messages": []any{2.0, 5.0},
		"next_action":       "read main.go",
	})
	require.NoError(t, err)
	assert.Equal(t, TransferArgs{Target: "coder", Task: "fix it", RelevantMessages: []int{2, 5}, NextAction: "read main.go"}, args)

	_, err = ParseTransferArgs(map[string]any{"task": "x"})
	assert.Error(t, err)

	_, err = ParseTransferArgs(map[string]any{"target": "a", "relevant_messages": []any{1.5}})
	assert.Error(t, err)

	_, err = ParseTransferArgs(map[string]any{"target": "a", "relevant_messages": "2"})
	assert.Error(t, err)
}

func TestTransferTool_CallDecodes(t *testing.T) {
	tt := NewTransferTool()
	assert.Equal(t, TransferToolName, tt.Name())

	out, err := tt.Call(context.Background(), map[string]any{"target": "b", "task": "t"})
	require.NoError(t, err)
	assert.Equal(t, "b", out.(TransferArgs).Target)
}

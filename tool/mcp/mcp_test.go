package mcp

import (
	"context"
	"errors"
	"testing"

	mcptypes "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentrelay/tool"
)

type fakeCaller struct {
	tools   []mcptypes.Tool
	result  *mcptypes.CallToolResult
	err     error
	lastReq mcptypes.CallToolRequest
}

func (f *fakeCaller) ListTools(context.Context, mcptypes.ListToolsRequest) (*mcptypes.ListToolsResult, error) {
	return &mcptypes.ListToolsResult{Tools: f.tools}, nil
}

func (f *fakeCaller) CallTool(_ context.Context, req mcptypes.CallToolRequest) (*mcptypes.CallToolResult, error) {
	f.lastReq = req
	return f.result, f.err
}

func TestServer_ToolsAndCall(t *testing.T) {
	fc := &fakeCaller{
		tools: []mcptypes.Tool{{
			Name:        "search",
			Description: "Search the web",
			InputSchema: mcptypes.ToolInputSchema{
				Type:       "object",
				Properties: map[string]any{"q": map[string]any{"type": "string"}},
				Required:   []string{"q"},
			},
		}},
		result: &mcptypes.CallToolResult{Content: []mcptypes.Content{mcptypes.NewTextContent("found it")}},
	}

	srv := NewServer("web", fc, nil)
	tools, err := srv.Tools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 1)

	st := tools[0]
	assert.Equal(t, "search", st.Name())
	assert.Equal(t, "object", st.Parameters()["type"])
	assert.Contains(t, st.Parameters()["properties"], "q")

	out, err := st.Call(context.Background(), map[string]any{"q": "go"})
	require.NoError(t, err)
	assert.Equal(t, "found it", out)
	assert.Equal(t, "search", fc.lastReq.Params.Name)
	assert.NoError(t, srv.Close())
}

func TestRemoteTool_Errors(t *testing.T) {
	fc := &fakeCaller{
		tools:  []mcptypes.Tool{{Name: "x"}},
		result: &mcptypes.CallToolResult{IsError: true, Content: []mcptypes.Content{mcptypes.NewTextContent("bad input")}},
	}
	tools, err := NewServer("s", fc, nil).Tools(context.Background())
	require.NoError(t, err)

	_, err = tools[0].Call(context.Background(), nil)
	var te *tool.ToolError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "bad input", te.Message)

	fc.err = errors.New("pipe closed")
	_, err = tools[0].Call(context.Background(), nil)
	require.ErrorAs(t, err, &te)
	assert.Contains(t, te.Message, "pipe closed")
}

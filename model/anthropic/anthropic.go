// Package anthropic provides a model.Model backed by the Anthropic Messages
// API, including streaming, extended thinking and tool use.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/model"
)

// Options configures the Anthropic model adapter.
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	APIKey      string
	BaseURL     string
}

// Model wraps the Anthropic Messages API behind the generic model.Model interface.
type Model struct {
	client *anthropic.Client
	opts   Options
}

func defaultOptions() Options {
	return Options{
		Model:       anthropic.ModelClaudeSonnet4_5_20250929,
		Temperature: 0.7,
		MaxTokens:   8192,
	}
}

// NewModel creates a new Anthropic model using the official client. The API
// key falls back to ANTHROPIC_API_KEY when unset.
func NewModel(optFns ...func(o *Options)) *Model {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.BaseURL))
	}

	client := anthropic.NewClient(clientOpts...)

	return &Model{client: &client, opts: opts}
}

// NewModelFromClient creates a new Anthropic model from an existing client.
func NewModelFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Model {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Model{client: client, opts: opts}
}

// Generate implements model.Model.
func (m *Model) Generate(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	out := make(chan model.Response, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		params := m.buildParams(req)

		if req.Stream {
			m.handleStreaming(ctx, params, out, errCh)
			return
		}

		resp, err := m.client.Messages.New(ctx, params)
		if err != nil {
			errCh <- fmt.Errorf("anthropic api error: %w", err)
			return
		}
		out <- finalResponse(resp)
	}()

	return out, errCh
}

func (m *Model) buildParams(req model.Request) anthropic.MessageNewParams {
	messages, system := buildMessages(req.Messages)
	if req.Instructions != "" {
		system = append([]anthropic.TextBlockParam{{Text: req.Instructions}}, system...)
	}

	params := anthropic.MessageNewParams{
		Model:     m.opts.Model,
		Messages:  messages,
		MaxTokens: m.opts.MaxTokens,
	}
	if len(system) > 0 {
		params.System = system
	}
	if len(req.Tools) > 0 {
		params.Tools = buildTools(req.Tools)
	}

	if req.ThinkingBudget > 0 {
		// Extended thinking requires the default temperature and a budget below max_tokens.
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(req.ThinkingBudget)
		if params.MaxTokens <= req.ThinkingBudget {
			params.MaxTokens = req.ThinkingBudget + m.opts.MaxTokens
		}
	} else {
		params.Temperature = anthropic.Float(m.opts.Temperature)
	}

	return params
}

func (m *Model) handleStreaming(
	ctx context.Context,
	params anthropic.MessageNewParams,
	out chan<- model.Response,
	errCh chan<- error,
) {
	stream := m.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	msg := anthropic.Message{}
	for stream.Next() {
		event := stream.Current()
		if err := msg.Accumulate(event); err != nil {
			errCh <- fmt.Errorf("accumulate anthropic stream: %w", err)
			return
		}

		ev, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent)
		if !ok {
			continue
		}

		var resp model.Response
		switch delta := ev.Delta.AsAny().(type) {
		case anthropic.TextDelta:
			resp = model.Response{Partial: true, Delta: delta.Text}
		case anthropic.ThinkingDelta:
			resp = model.Response{Partial: true, Reasoning: &core.ReasoningDelta{Delta: delta.Thinking}}
		case anthropic.SignatureDelta:
			resp = model.Response{Partial: true, Reasoning: &core.ReasoningDelta{Signature: delta.Signature}}
		default:
			continue
		}

		select {
		case out <- resp:
		case <-ctx.Done():
			errCh <- ctx.Err()
			return
		}
	}

	if err := stream.Err(); err != nil {
		errCh <- fmt.Errorf("anthropic streaming error: %w", err)
		return
	}

	out <- finalResponse(&msg)
}

func finalResponse(msg *anthropic.Message) model.Response {
	final := core.Message{Role: core.RoleAssistant}

	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.ThinkingBlock:
			final.Parts = append(final.Parts, core.ThinkingPart{Text: b.Thinking, Signature: b.Signature})
		case anthropic.TextBlock:
			if b.Text != "" {
				final.Parts = append(final.Parts, core.TextPart{Text: b.Text})
			}
		case anthropic.ToolUseBlock:
			args := string(b.Input)
			if args == "" || args == "null" {
				args = "{}"
			}
			final.Parts = append(final.Parts, core.FunctionCallPart{FunctionCall: core.FunctionCall{
				ID:        b.ID,
				Name:      b.Name,
				Arguments: args,
			}})
		}
	}

	finish := "stop"
	if msg.StopReason != "" {
		finish = string(msg.StopReason)
	}

	in, outTok := int(msg.Usage.InputTokens), int(msg.Usage.OutputTokens)

	return model.Response{
		ID:           msg.ID,
		Message:      final,
		FinishReason: finish,
		Usage:        &model.TokenUsage{PromptTokens: in, CompletionTokens: outTok, TotalTokens: in + outTok},
	}
}

// buildMessages converts the history into Anthropic messages. Tool results
// become tool_result blocks of a user turn; consecutive turns of the same
// role are merged as the API expects strictly alternating roles.
func buildMessages(history []core.Message) ([]anthropic.MessageParam, []anthropic.TextBlockParam) {
	var (
		messages []anthropic.MessageParam
		system   []anthropic.TextBlockParam
	)

	appendBlocks := func(role anthropic.MessageParamRole, blocks []anthropic.ContentBlockParamUnion) {
		if len(blocks) == 0 {
			return
		}
		if n := len(messages); n > 0 && messages[n-1].Role == role {
			messages[n-1].Content = append(messages[n-1].Content, blocks...)
			return
		}
		messages = append(messages, anthropic.MessageParam{Role: role, Content: blocks})
	}

	for _, msg := range history {
		switch msg.Role {
		case core.RoleSystem:
			if text := msg.Text(); text != "" {
				system = append(system, anthropic.TextBlockParam{Text: text})
			}
		case core.RoleAssistant:
			appendBlocks(anthropic.MessageParamRoleAssistant, assistantBlocks(msg.Parts))
		default:
			appendBlocks(anthropic.MessageParamRoleUser, userBlocks(msg.Parts))
		}
	}

	return messages, system
}

func userBlocks(parts []core.Part) []anthropic.ContentBlockParamUnion {
	var blocks []anthropic.ContentBlockParamUnion
	for _, p := range parts {
		switch v := p.(type) {
		case core.TextPart:
			if v.Text != "" {
				blocks = append(blocks, anthropic.NewTextBlock(v.Text))
			}
		case core.FilePart:
			if strings.HasPrefix(v.File.MimeType, "image/") && v.File.Bytes != "" {
				blocks = append(blocks, anthropic.NewImageBlockBase64(v.File.MimeType, v.File.Bytes))
			} else {
				blocks = append(blocks, anthropic.NewTextBlock(fmt.Sprintf("[attached file %s %s]", v.File.Name, v.File.URI)))
			}
		case core.FunctionResponsePart:
			fr := v.FunctionResponse
			blocks = append(blocks, anthropic.NewToolResultBlock(fr.ID, fr.Response, fr.IsError))
		}
	}
	return blocks
}

func assistantBlocks(parts []core.Part) []anthropic.ContentBlockParamUnion {
	var blocks []anthropic.ContentBlockParamUnion
	for _, p := range parts {
		switch v := p.(type) {
		case core.ThinkingPart:
			// Unsigned reasoning cannot be replayed.
			if v.Signature != "" {
				blocks = append(blocks, anthropic.NewThinkingBlock(v.Signature, v.Text))
			}
		case core.TextPart:
			if v.Text != "" {
				blocks = append(blocks, anthropic.NewTextBlock(v.Text))
			}
		case core.FunctionCallPart:
			var input any = map[string]any{}
			if v.FunctionCall.Arguments != "" {
				var decoded any
				if err := json.Unmarshal([]byte(v.FunctionCall.Arguments), &decoded); err == nil {
					input = decoded
				}
			}
			blocks = append(blocks, anthropic.NewToolUseBlock(v.FunctionCall.ID, input, v.FunctionCall.Name))
		}
	}
	return blocks
}

func buildTools(tools []model.ToolDefinition) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, len(tools))
	for i, t := range tools {
		schema := anthropic.ToolInputSchemaParam{}
		if props, ok := t.Function.Parameters["properties"]; ok {
			schema.Properties = props
		}
		schema.Required = requiredFields(t.Function.Parameters["required"])

		out[i] = anthropic.ToolUnionParamOfTool(schema, t.Function.Name)
		if t.Function.Description != "" {
			out[i].OfTool.Description = anthropic.String(t.Function.Description)
		}
	}
	return out
}

func requiredFields(v any) []string {
	switch r := v.(type) {
	case []string:
		return r
	case []any:
		out := make([]string, 0, len(r))
		for _, x := range r {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Info returns metadata describing this Anthropic model implementation.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:          string(m.opts.Model),
		Provider:      "anthropic",
		SupportsTools: true,
	}
}

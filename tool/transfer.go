package tool

import (
	"context"
	"fmt"
	"math"
)

// TransferToolName is the directive models call to hand control to a peer
// agent. The orchestrator intercepts it; it never goes through confirmation.
const TransferToolName = "transfer"

// TransferArgs are the decoded arguments of a transfer call.
type TransferArgs struct {
	Target string
	Task   string
	// RelevantMessages are zero-based indices into the caller's history.
	RelevantMessages []int
	NextAction       string
}

type transferTool struct{}

// NewTransferTool returns the transfer directive as a Tool. Calling it only
// decodes and validates the arguments into TransferArgs.
func NewTransferTool() Tool { return transferTool{} }

func (transferTool) Name() string { return TransferToolName }

func (transferTool) Description() string {
	return "Hand the conversation to another agent that is better suited for the next step. " +
		"List the indices of your own messages the target needs; they are forwarded once."
}

func (transferTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"target": map[string]any{"type": "string", "description": "Name of the agent to transfer to"},
			"task":   map[string]any{"type": "string", "description": "What the target agent should accomplish"},
			"relevant_messages": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "integer"},
				"description": "Zero-based indices of messages in your history to forward",
			},
			"next_action": map[string]any{"type": "string", "description": "Optional directive for the target's first step"},
		},
		"required": []string{"target", "task"},
	}
}

func (t transferTool) Call(_ context.Context, args map[string]any) (any, error) {
	return ParseTransferArgs(args)
}

// ParseTransferArgs decodes raw transfer arguments.
func ParseTransferArgs(args map[string]any) (TransferArgs, error) {
	var out TransferArgs

	target, _ := args["target"].(string)
	if target == "" {
		return out, NewToolError(TransferToolName, "field 'target' must be a non-empty string", CodeValidation)
	}
	out.Target = target
	out.Task, _ = args["task"].(string)
	out.NextAction, _ = args["next_action"].(string)

	switch raw := args["relevant_messages"].(type) {
	case nil:
	case []int:
		out.RelevantMessages = append(out.RelevantMessages, raw...)
	case []any:
		for _, v := range raw {
			f, ok := v.(float64)
			if !ok || f != math.Trunc(f) {
				return out, NewToolError(TransferToolName, fmt.Sprintf("invalid message index %v", v), CodeValidation)
			}
			out.RelevantMessages = append(out.RelevantMessages, int(f))
		}
	default:
		return out, NewToolError(TransferToolName, "field 'relevant_messages' must be an array of integers", CodeValidation)
	}

	return out, nil
}

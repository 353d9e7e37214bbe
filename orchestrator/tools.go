package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"slices"
	"strings"

	"github.com/hupe1980/agentrelay/confirm"
	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/tool"
)

// DeniedMessage is the tool result recorded when the user denies a call.
const DeniedMessage = "Tool use denied by user"

// CancelledMessage is the tool result recorded for calls skipped because the
// turn was cancelled.
const CancelledMessage = "Tool use cancelled by user"

// dispatch records the assistant tool-call message and then handles each
// call in order. Transfers run without confirmation; every other tool goes
// through the confirmation gate unless it is whitelisted. Once ctx is done the
// remaining calls are recorded as cancelled and nothing else runs.
func (o *Orchestrator) dispatch(ctx context.Context, t *turn, agent core.Agent, out streamOutput) {
	calls := out.result.ToolCalls

	var regular []core.FunctionCall
	for _, c := range calls {
		if c.Name != tool.TransferToolName {
			regular = append(regular, c)
		}
	}

	msg := agent.FormatMessage(core.KindAssistant, core.MessagePayload{
		Text:      out.text,
		Thinking:  out.thinking,
		Signature: out.signature,
		ToolCalls: regular,
	})
	if len(msg.Parts) > 0 {
		o.appendLog(agent, msg)
	}

	ev := core.NewEvent(core.EventResponseCompleted, agent.Name())
	ev.Text, ev.ToolCalls = out.text, calls
	ev.InputTokens, ev.OutputTokens = out.result.InputTokens, out.result.OutputTokens
	o.publish(ev)

	for _, c := range calls {
		if ctx.Err() != nil {
			if c.Name != tool.TransferToolName {
				o.recordDenied(agent, c, CancelledMessage)
			}
			continue
		}
		if c.Name == tool.TransferToolName {
			o.transfer(ctx, t, agent, c)
			continue
		}
		o.runTool(ctx, agent, c)
	}
}

func decodeArgs(raw string) (map[string]any, error) {
	args := map[string]any{}
	if strings.TrimSpace(raw) == "" {
		return args, nil
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("invalid tool arguments: %w", err)
	}
	return args, nil
}

// runTool confirms, executes and records one tool call. Every call ends with
// exactly one tool-result message in the agent's history.
func (o *Orchestrator) runTool(ctx context.Context, agent core.Agent, call core.FunctionCall) {
	args, err := decodeArgs(call.Arguments)

	ev := core.NewEvent(core.EventToolUse, agent.Name())
	ev.ToolCallID, ev.ToolName, ev.ToolInput = call.ID, call.Name, args
	o.publish(ev)

	if err != nil {
		o.recordToolError(agent, call, tool.NewToolError(call.Name, err.Error(), tool.CodeValidation))
		return
	}
	if !slices.Contains(agent.ToolNames(), call.Name) {
		o.recordToolError(agent, call, core.NewUsageError("call "+call.Name, core.ErrUnknownTool))
		return
	}

	if !o.allow.Allowed(call.Name) {
		decision, err := o.confirm(ctx, agent, call, args)
		if err != nil || decision == confirm.Deny {
			o.recordDenied(agent, call, DeniedMessage)
			return
		}
		if decision == confirm.ApproveAll {
			o.allow.Allow(call.Name)
		}
	}

	if ctx.Err() != nil {
		o.recordDenied(agent, call, CancelledMessage)
		return
	}

	result, err := o.execute(ctx, agent, call, args)
	if err != nil {
		o.recordToolError(agent, call, err)
		return
	}

	o.appendLog(agent, agent.FormatMessage(core.KindToolResult, core.MessagePayload{
		Result: &core.FunctionResponse{ID: call.ID, Name: call.Name, Response: result},
	}))

	res := core.NewEvent(core.EventToolResult, agent.Name())
	res.ToolCallID, res.ToolName, res.Result = call.ID, call.Name, result
	o.publish(res)
}

// confirm opens a confirmation request and waits for its resolution.
// Cancellation resolves as deny.
func (o *Orchestrator) confirm(ctx context.Context, agent core.Agent, call core.FunctionCall, args map[string]any) (confirm.Decision, error) {
	req := o.gate.Open(call.Name, args, agent.Name())

	ev := core.NewEvent(core.EventToolConfirmation, agent.Name())
	ev.RequestID, ev.ToolCallID, ev.ToolName, ev.ToolInput = req.ID, call.ID, call.Name, args
	o.publish(ev)

	o.logger.Debug("orchestrator.confirm.wait", "id", req.ID, "tool", call.Name)

	d, err := o.gate.Wait(ctx, req)
	o.logger.Info("orchestrator.confirm.done", "id", req.ID, "tool", call.Name, "decision", d.String(), "cancelled", err != nil)
	return d, err
}

func (o *Orchestrator) execute(ctx context.Context, agent core.Agent, call core.FunctionCall, args map[string]any) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("orchestrator.tool.panic", "tool", call.Name, "recover", r, "stack", string(debug.Stack()))
			result, err = "", tool.NewToolError(call.Name, fmt.Sprintf("panic: %v", r), tool.CodePanic)
		}
	}()
	return agent.ExecuteTool(ctx, call.Name, args)
}

func (o *Orchestrator) recordDenied(agent core.Agent, call core.FunctionCall, reason string) {
	o.appendLog(agent, agent.FormatMessage(core.KindToolResult, core.MessagePayload{
		Result: &core.FunctionResponse{ID: call.ID, Name: call.Name, Response: reason, IsError: true},
	}))

	ev := core.NewEvent(core.EventToolDenied, agent.Name())
	ev.ToolCallID, ev.ToolName, ev.Result = call.ID, call.Name, reason
	o.publish(ev)
}

func (o *Orchestrator) recordToolError(agent core.Agent, call core.FunctionCall, err error) {
	o.appendLog(agent, agent.FormatMessage(core.KindToolResult, core.MessagePayload{
		Result: &core.FunctionResponse{ID: call.ID, Name: call.Name, Response: err.Error(), IsError: true},
	}))

	ev := core.NewEvent(core.EventToolError, agent.Name())
	ev.ToolCallID, ev.ToolName, ev.Err, ev.Result = call.ID, call.Name, err, err.Error()
	o.publish(ev)

	o.logger.Warn("orchestrator.tool.error", "agent", agent.Name(), "tool", call.Name, "error", err)
}

// transfer executes the transfer directive. The outgoing agent's unsaved
// messages are persisted before control moves. A failed transfer is recorded
// as a note in the caller's history so the model can react.
func (o *Orchestrator) transfer(ctx context.Context, t *turn, agent core.Agent, call core.FunctionCall) {
	raw, err := decodeArgs(call.Arguments)
	var args tool.TransferArgs
	if err == nil {
		args, err = tool.ParseTransferArgs(raw)
	}
	if err == nil && o.registry.Active() != agent {
		err = fmt.Errorf("%s is no longer active", agent.Name())
	}
	if err != nil {
		o.transferFailed(agent, call, err)
		return
	}

	o.persist(ctx)

	rec, err := o.registry.Transfer(ctx, args.Target, args.Task, args.RelevantMessages, args.NextAction)
	if err != nil {
		o.transferFailed(agent, call, err)
		return
	}
	t.transferred = true

	o.mu.Lock()
	o.log = append(o.log, rec.Messages...)
	o.mu.Unlock()

	ev := core.NewEvent(core.EventAgentChangedByTransfer, rec.To)
	ev.From, ev.To, ev.Text = rec.From, rec.To, rec.Task
	o.publish(ev)
}

func (o *Orchestrator) transferFailed(agent core.Agent, call core.FunctionCall, err error) {
	note := core.NewTextMessage(core.RoleUser, agent.Name(), fmt.Sprintf("Transfer failed: %v", err))
	note.Metadata = map[string]string{core.MetaKind: core.KindTransferError}
	o.appendLog(agent, note)

	ev := core.NewEvent(core.EventToolError, agent.Name())
	ev.ToolCallID, ev.ToolName, ev.Err, ev.Result = call.ID, call.Name, err, err.Error()
	o.publish(ev)

	o.logger.Warn("orchestrator.transfer.error", "agent", agent.Name(), "error", err)
}

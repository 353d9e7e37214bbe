package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/memory"
)

// memoryPreamble introduces retrieved memories to the model.
const memoryPreamble = "Relevant memories from earlier conversations (for context only, do not mention them unless asked):\n\n"

// Input is one user turn.
type Input struct {
	Text  string
	Files []core.FilePartFile
}

// turn is the mutable state of one ProcessTurn call.
type turn struct {
	input      Input
	checkpoint int
	startAgent string
	preview    string
	marked     bool
	// transferred is set once a transfer changed the shared context pools.
	transferred bool
}

// ProcessTurn drives one user turn to completion: memory gate, streaming,
// tool dispatch rounds, and finalization.
//
// It returns a *core.UsageError without side effects when no agent is active,
// the input is empty or another turn is running. A streaming failure or an
// exhausted tool round budget publishes an error event with the full history,
// rolls the log back to the turn start and returns the error. When the turn
// is cancelled the partial response is kept, the turn is checkpointed and the
// context error is returned.
func (o *Orchestrator) ProcessTurn(ctx context.Context, in Input) error {
	if strings.TrimSpace(in.Text) == "" && len(in.Files) == 0 {
		return core.NewUsageError("process turn", errors.New("empty input"))
	}
	if !o.turnMu.TryLock() {
		return core.NewUsageError("process turn", core.ErrTurnInProgress)
	}
	defer o.turnMu.Unlock()

	active := o.registry.Active()
	if active == nil {
		return core.NewUsageError("process turn", core.ErrNoActiveAgent)
	}

	ctx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.cancel = cancel
	t := &turn{
		input:      in,
		checkpoint: len(o.log),
		startAgent: active.Name(),
		preview:    preview(in),
	}
	o.rewound = nil
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.cancel = nil
		o.mu.Unlock()
		cancel()
	}()

	o.logger.Info("orchestrator.turn.start", "agent", t.startAgent, "checkpoint", t.checkpoint)

	o.injectMemory(ctx, t, active)
	o.appendUserInput(t, active)

	limiter := core.NewRoundLimiter(o.maxToolRounds)

	for {
		round, err := limiter.Next()
		if err != nil {
			return o.fail(ctx, t, o.registry.Active(), err)
		}

		agent := o.registry.Active()
		o.logger.Debug("orchestrator.turn.round", "agent", agent.Name(), "round", round)
		out, err := o.stream(ctx, agent)
		if err != nil {
			if ctx.Err() != nil {
				return o.finishCancelled(ctx, t, agent, out)
			}
			return o.fail(ctx, t, agent, &core.StreamingError{Agent: agent.Name(), Err: err})
		}

		if len(out.result.ToolCalls) == 0 {
			return o.finish(ctx, t, agent, out)
		}

		o.dispatch(ctx, t, agent, out)

		if ctx.Err() != nil {
			return o.finishCancelled(ctx, t, agent, streamOutput{})
		}
	}
}

func preview(in Input) string {
	if text := strings.TrimSpace(in.Text); text != "" {
		return core.TitleFromText(text, 50)
	}
	names := make([]string, 0, len(in.Files))
	for _, f := range in.Files {
		names = append(names, f.Name)
	}
	return "[files] " + strings.Join(names, ", ")
}

// markTurn tags the first message of the turn so checkpoints survive a
// persistence round trip.
func (t *turn) markTurn(m core.Message) core.Message {
	if t.marked {
		return m
	}
	t.marked = true
	m = m.Clone()
	if m.Metadata == nil {
		m.Metadata = map[string]string{}
	}
	m.Metadata[core.MetaTurn] = t.preview
	return m
}

func (o *Orchestrator) injectMemory(ctx context.Context, t *turn, agent core.Agent) {
	if o.memory == nil || strings.TrimSpace(t.input.Text) == "" {
		return
	}
	if !o.memory.NeedContext(ctx, t.input.Text) {
		return
	}

	text, err := o.memory.GenerateContext(ctx, t.input.Text, agent.Name())
	if err != nil {
		o.logger.Warn("orchestrator.memory.error", "error", err)
		return
	}
	if strings.TrimSpace(text) == "" {
		return
	}

	msg := core.NewTextMessage(core.RoleUser, agent.Name(), memoryPreamble+text)
	msg.Metadata = map[string]string{core.MetaKind: core.KindMemoryContext}
	o.appendLog(agent, t.markTurn(msg))

	o.logger.Debug("orchestrator.memory.injected", "agent", agent.Name(), "chars", len(text))
}

func (o *Orchestrator) appendUserInput(t *turn, agent core.Agent) {
	var msgs []core.Message
	if strings.TrimSpace(t.input.Text) != "" {
		msgs = append(msgs, agent.FormatMessage(core.KindUserText, core.MessagePayload{Text: t.input.Text}))
	}
	for i := range t.input.Files {
		f := t.input.Files[i]
		msgs = append(msgs, agent.FormatMessage(core.KindFileContent, core.MessagePayload{File: &f}))
	}
	msgs[0] = t.markTurn(msgs[0])
	o.appendLog(agent, msgs...)

	ev := core.NewEvent(core.EventUserMessageCreated, agent.Name())
	ev.Text = t.input.Text
	o.publish(ev)
}

// streamOutput is what one model round produced.
type streamOutput struct {
	text      string
	thinking  string
	signature string
	result    core.StreamResult
}

// stream runs one model round of agent and publishes chunk events.
func (o *Orchestrator) stream(ctx context.Context, agent core.Agent) (out streamOutput, err error) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("orchestrator.stream.panic", "agent", agent.Name(), "recover", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	s, err := agent.Stream(ctx, agent.History())
	if err != nil {
		return out, err
	}
	defer s.Close()

	var (
		thinking     strings.Builder
		inThinking   bool
		doneThinking bool
	)

	completeThinking := func() {
		if inThinking && !doneThinking {
			doneThinking = true
			ev := core.NewEvent(core.EventThinkingCompleted, agent.Name())
			ev.Text, ev.Signature = thinking.String(), out.signature
			o.publish(ev)
		}
	}

	for s.Next() {
		if ctx.Err() != nil {
			break
		}
		chunk := s.Current()

		if r := chunk.Reasoning; r != nil {
			if !inThinking {
				inThinking = true
				o.publish(core.NewEvent(core.EventThinkingStarted, agent.Name()))
			}
			if r.Signature != "" {
				out.signature = r.Signature
			}
			if r.Delta != "" {
				thinking.WriteString(r.Delta)
				ev := core.NewEvent(core.EventThinkingChunk, agent.Name())
				ev.Text, ev.Delta = thinking.String(), r.Delta
				o.publish(ev)
			}
		}

		if chunk.Delta != "" {
			completeThinking()
			out.text = chunk.Text
			ev := core.NewEvent(core.EventResponseChunk, agent.Name())
			ev.Text, ev.Delta = chunk.Text, chunk.Delta
			o.publish(ev)
		}
	}
	completeThinking()
	out.thinking = thinking.String()

	if err := ctx.Err(); err != nil {
		return out, err
	}
	if err := s.Err(); err != nil {
		return out, err
	}

	out.result = s.Result()
	return out, nil
}

// finish stores the final answer, checkpoints the turn, persists and feeds
// memory.
func (o *Orchestrator) finish(ctx context.Context, t *turn, agent core.Agent, out streamOutput) error {
	msg := agent.FormatMessage(core.KindAssistant, core.MessagePayload{
		Text:      out.text,
		Thinking:  out.thinking,
		Signature: out.signature,
	})
	if len(msg.Parts) > 0 {
		o.appendLog(agent, msg)
	}

	ev := core.NewEvent(core.EventResponseCompleted, agent.Name())
	ev.Text = out.text
	ev.InputTokens, ev.OutputTokens = out.result.InputTokens, out.result.OutputTokens
	o.publish(ev)

	o.checkpoint(t)
	o.persist(ctx)

	if o.memory != nil && strings.TrimSpace(t.input.Text) != "" && out.text != "" {
		ids := o.memory.Store(memory.Exchange{
			User:           t.input.Text,
			Assistant:      out.text,
			Agent:          agent.Name(),
			ConversationID: o.ConversationID(),
		})
		if len(ids) == 0 {
			o.logger.Warn("orchestrator.memory.dropped", "agent", agent.Name())
		}
	}

	o.logger.Info("orchestrator.turn.done", "agent", agent.Name(), "input_tokens", out.result.InputTokens, "output_tokens", out.result.OutputTokens)
	return nil
}

// finishCancelled keeps whatever text was streamed, checkpoints the turn and
// persists it. Memory is not fed with incomplete answers.
func (o *Orchestrator) finishCancelled(ctx context.Context, t *turn, agent core.Agent, out streamOutput) error {
	if out.text != "" {
		o.appendLog(agent, agent.FormatMessage(core.KindAssistant, core.MessagePayload{Text: out.text}))
	}

	ev := core.NewEvent(core.EventResponseCompleted, agent.Name())
	ev.Text = out.text
	o.publish(ev)

	o.checkpoint(t)
	o.persist(ctx)

	o.logger.Info("orchestrator.turn.cancelled", "agent", agent.Name(), "partial", len(out.text))
	return context.Canceled
}

func (o *Orchestrator) checkpoint(t *turn) {
	o.mu.Lock()
	o.turns = append(o.turns, core.ConversationTurn{
		UserInputPreview: t.preview,
		MessageIndex:     t.checkpoint,
		Agent:            t.startAgent,
	})
	o.mu.Unlock()
}

// fail publishes an error event with the full history and rolls the
// conversation back to the turn start.
func (o *Orchestrator) fail(ctx context.Context, t *turn, agent core.Agent, err error) error {
	name := ""
	if agent != nil {
		name = agent.Name()
	}

	ev := core.NewEvent(core.EventError, name)
	ev.Err = err
	ev.Text = err.Error()
	ev.History = o.History()
	o.publish(ev)

	o.logger.Error("orchestrator.turn.error", "agent", name, "error", err)

	o.truncate(t.checkpoint)
	o.mu.RLock()
	log := core.CloneMessages(o.log)
	o.mu.RUnlock()

	if t.transferred {
		o.rebuildHistories(ctx, log, t.startAgent)
	} else {
		o.restoreHistories(log)
		o.registry.Select(ctx, t.startAgent)
	}
	o.persist(ctx)

	return err
}

// truncate cuts the log to n messages.
func (o *Orchestrator) truncate(n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if n >= len(o.log) {
		return
	}
	if n < o.persisted {
		o.truncated = true
		o.persisted = n
	}
	o.log = o.log[:n]
}

// restoreHistories re-derives agent histories from log without touching the
// shared context pools.
func (o *Orchestrator) restoreHistories(log []core.Message) {
	per := make(map[string][]core.Message)
	for _, m := range log {
		per[m.Agent] = append(per[m.Agent], m)
	}
	for _, a := range o.registry.Agents() {
		a.SetHistory(per[a.Name()])
	}
}

package orchestrator

import (
	"context"
	"fmt"

	"github.com/hupe1980/agentrelay/core"
)

// Jump rewinds the conversation to just before turn n (1-based): the log is
// truncated to the turn's checkpoint, agent histories are re-derived from
// it, the agent that was active when the turn began is selected again and
// the checkpoints are cut to n-1. Shared context pools start empty.
//
// Jumping to the same turn again without a new turn in between is a no-op.
// It returns the checkpoint that was rewound to.
func (o *Orchestrator) Jump(ctx context.Context, n int) (core.ConversationTurn, error) {
	op := fmt.Sprintf("jump to turn %d", n)

	if !o.turnMu.TryLock() {
		return core.ConversationTurn{}, core.NewUsageError(op, core.ErrTurnInProgress)
	}
	defer o.turnMu.Unlock()

	o.mu.Lock()
	if r := o.rewound; r != nil && n == len(o.turns)+1 && r.MessageIndex == len(o.log) {
		o.mu.Unlock()
		o.logger.Debug("orchestrator.jump.noop", "turn", n)
		return *r, nil
	}
	if n < 1 || n > len(o.turns) {
		o.mu.Unlock()
		return core.ConversationTurn{}, core.NewUsageError(op, core.ErrInvalidTurn)
	}
	target := o.turns[n-1]
	o.turns = o.turns[:n-1]
	o.mu.Unlock()

	o.truncate(target.MessageIndex)

	o.mu.Lock()
	o.rewound = &target
	log := core.CloneMessages(o.log)
	o.mu.Unlock()

	o.rebuildHistories(ctx, log, target.Agent)
	o.persist(ctx)

	ev := core.NewEvent(core.EventJumpPerformed, target.Agent)
	ev.Turn = n
	ev.Text = target.UserInputPreview
	o.publish(ev)

	o.logger.Info("orchestrator.jump", "turn", n, "checkpoint", target.MessageIndex, "agent", target.Agent)
	return target, nil
}

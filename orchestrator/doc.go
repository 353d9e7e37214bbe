// Package orchestrator drives conversation turns across the agents of a
// registry.
//
// A turn moves through a fixed sequence: the memory gate may inject a
// memory-context message, the active agent streams a response, requested
// tools are confirmed and executed (transfers skip confirmation), and the
// agent is re-invoked until it answers without tool calls. The finished turn
// is checkpointed for rewind, persisted and handed to long-term memory.
//
// Every externally visible milestone is published on an events.Bus.
// Confirmation requests are answered with Resolve from any goroutine;
// Cancel aborts a running turn and denies whatever is pending.
package orchestrator

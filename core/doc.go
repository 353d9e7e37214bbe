// Package core provides the foundational domain types shared by the
// orchestration engine and its collaborators:
//
//   - Messages and their polymorphic parts (text, thinking, files, tool calls)
//   - The Agent capability contract and the pull-based Stream it returns
//   - ContextPool bookkeeping for deduplicated transfers
//   - Events published on the event bus
//   - The ConversationStore persistence contract and turn checkpoints
//   - The error taxonomy (UsageError, StreamingError and sentinels)
//
// Implementation concerns (models, persistence backends, orchestration) live
// in sibling packages and depend on core, never the other way round.
package core

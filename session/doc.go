// Package session houses implementations of core.ConversationStore, the
// append-only per-conversation message log.
//
// InMemoryStore is volatile and suited for tests and ephemeral runs; the
// sqlite sub-package persists conversations across restarts. Only the wiring
// layer decides which implementation to instantiate.
package session

// Package memory implements long-term conversational memory.
//
// A Store accepts finished exchanges through a bounded queue and embeds and
// persists them on a single background worker, so the conversation never
// waits on storage. Before a turn, NeedContext decides whether the topic has
// shifted enough to justify retrieval, and GenerateContext returns the
// nearest memories of earlier sessions grouped by conversation.
//
// Vector storage is pluggable through VectorStore: InMemoryStore lives here,
// a SQLite implementation lives in memory/sqlite. Embedders for hosted and
// local models live under embedding/.
package memory

// Package embedding groups Embedder adapters for the memory subsystem.
//
// Each subpackage turns text into vectors using a vendor API:
//
//   - embedding/openai: OpenAI Embeddings API
//   - embedding/ollama: a local Ollama server (/api/embed)
//
// Both satisfy memory.Embedder.
package embedding

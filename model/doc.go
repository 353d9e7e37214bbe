// Package model defines the provider-agnostic abstractions for interacting
// with language models.
//
// Core goals:
//   - Unify streaming and non-streaming generation behind a single interface
//   - Surface reasoning (thinking) increments separately from response text
//   - Normalize tool call representation on core.FunctionCall
//   - Facilitate deterministic tests (MockModel)
//
// Providers (anthropic, openai) implement Model in sub-packages so agents
// remain decoupled from vendor SDKs.
package model

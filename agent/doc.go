// Package agent contains the agent implementations driven by the orchestrator.
//
//   - BaseAgent bundles identity, history, the shared context pool and
//     activation hooks. Embed it in concrete agents.
//   - ModelAgent is the local variant: it owns a model.Model and a set of
//     tools, streams responses and executes tools on request.
//
// Instructions may be static or dynamic and may reference the agent's peers
// through the .peers template key; otherwise the peer listing is appended.
package agent

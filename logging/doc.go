// Package logging provides a minimal logging interface and adapters.
//
// The Logger interface defines the standard leveled methods (Debug, Info,
// Warn, Error) taking slog-style key/value pairs. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.New(logging.Config{Level: logging.LogLevelDebug, Format: "json"})
//	orch := orchestrator.New(reg, func(o *orchestrator.Options) { o.Logger = logger })
//
// Message keys are dotted identifiers ("memory.enqueue.dropped") so log
// pipelines can filter on them.
package logging

package agentrelay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/hupe1980/agentrelay/agent"
	"github.com/hupe1980/agentrelay/config"
	"github.com/hupe1980/agentrelay/core"
	ollamaembed "github.com/hupe1980/agentrelay/embedding/ollama"
	openaiembed "github.com/hupe1980/agentrelay/embedding/openai"
	"github.com/hupe1980/agentrelay/logging"
	"github.com/hupe1980/agentrelay/memory"
	memsqlite "github.com/hupe1980/agentrelay/memory/sqlite"
	"github.com/hupe1980/agentrelay/model"
	"github.com/hupe1980/agentrelay/model/anthropic"
	"github.com/hupe1980/agentrelay/model/openai"
	"github.com/hupe1980/agentrelay/session"
	sessionsqlite "github.com/hupe1980/agentrelay/session/sqlite"
	"github.com/hupe1980/agentrelay/tool"
	"github.com/hupe1980/agentrelay/tool/builtin"
	"github.com/hupe1980/agentrelay/tool/mcp"
)

// NewLogger builds the application logger from cfg.
func NewLogger(cfg config.LoggingConfig) (logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	return logging.New(logging.Config{Level: level, Format: cfg.Format, Output: os.Stderr}), nil
}

// FromConfig assembles a Relay from a validated configuration: storage
// backends, embedder, builtin and MCP tools, and one agent per entry. The
// returned Relay owns every opened resource; Close releases them.
func FromConfig(ctx context.Context, cfg *config.Config, optFns ...func(o *Options)) (_ *Relay, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	var closers []io.Closer
	defer func() {
		if err != nil {
			for _, c := range closers {
				_ = c.Close()
			}
		}
	}()

	convStore, closer, err := openConversationStore(cfg.Persistence)
	if err != nil {
		return nil, err
	}
	if closer != nil {
		closers = append(closers, closer)
	}

	vectors, closer, err := openVectorStore(cfg.VectorStore)
	if err != nil {
		return nil, err
	}
	if closer != nil {
		closers = append(closers, closer)
	}

	embedder, err := newEmbedder(cfg.Embedder)
	if err != nil {
		return nil, err
	}

	tools, mcpClosers, err := loadTools(ctx, cfg, logger)
	closers = append(closers, mcpClosers...)
	if err != nil {
		return nil, err
	}

	agents := make([]*agent.ModelAgent, 0, len(cfg.Agents))
	for _, ac := range cfg.Agents {
		a, err := newAgent(ac, tools, logger)
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}

	mc := cfg.Memory
	r := New(func(o *Options) {
		o.MaxToolRounds = cfg.Orchestrator.MaxToolRounds
		o.AutoApprove = cfg.Orchestrator.AutoApprove
		o.ConversationStore = convStore
		o.VectorStore = vectors
		o.Embedder = embedder
		o.DisableMemory = !mc.Enabled
		o.Logger = logger
		o.Closers = closers
		o.MemoryOptions = append(o.MemoryOptions, func(mo *memory.Options) {
			mo.QueueSize = mc.QueueSize
			mo.EnqueueTimeout = mc.EnqueueTimeout
			mo.ShutdownTimeout = mc.ShutdownTimeout
			mo.ChunkSize = mc.ChunkSize
			mo.ChunkOverlap = mc.ChunkOverlap
			mo.TopK = mc.TopK
			mo.GateThreshold = mc.GateThreshold
			mo.GateWindow = mc.GateWindow
			if mc.Summarize {
				mo.Summarizer = memory.NewModelSummarizer(agents[0].Model())
			}
		})
		for _, fn := range optFns {
			fn(o)
		}
	})
	// From here on Close owns the closers.
	closers = nil

	defer func() {
		if err != nil {
			_ = r.Close()
		}
	}()

	for _, a := range agents {
		if err := r.RegisterAgent(ctx, a); err != nil {
			return nil, err
		}
	}
	if cfg.ActiveAgent != "" {
		if err := r.Orchestrator().SelectAgent(ctx, cfg.ActiveAgent); err != nil {
			return nil, err
		}
	}

	if r.Memory() != nil && mc.RetentionMonths > 0 {
		n, err := r.Memory().CleanupOldMemories(ctx, mc.RetentionMonths)
		if err != nil {
			logger.Warn("relay.retention.error", "error", err)
		} else {
			logger.Info("relay.retention", "removed", n, "months", mc.RetentionMonths)
		}
	}

	return r, nil
}

func openConversationStore(sc config.StorageConfig) (core.ConversationStore, io.Closer, error) {
	if sc.Driver != config.DriverSQLite {
		return session.NewInMemoryStore(), nil, nil
	}
	s, err := sessionsqlite.New(sc.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open conversation store: %w", err)
	}
	return s, s, nil
}

func openVectorStore(sc config.StorageConfig) (memory.VectorStore, io.Closer, error) {
	if sc.Driver != config.DriverSQLite {
		return memory.NewInMemoryStore(), nil, nil
	}
	s, err := memsqlite.New(sc.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open vector store: %w", err)
	}
	return s, s, nil
}

func newEmbedder(ec config.EmbedderConfig) (memory.Embedder, error) {
	switch ec.Provider {
	case config.ProviderOpenAI:
		return openaiembed.New(func(o *openaiembed.Options) {
			if ec.Model != "" {
				o.Model = ec.Model
			}
			o.Dimensions = int64(ec.Dimensions)
			o.APIKey = ec.APIKey
			o.BaseURL = ec.BaseURL
		}), nil
	case config.ProviderOllama:
		return ollamaembed.New(func(o *ollamaembed.Options) {
			if ec.Model != "" {
				o.Model = ec.Model
			}
			if ec.BaseURL != "" {
				o.BaseURL = ec.BaseURL
			}
		})
	default:
		return memory.NewHashEmbedder(ec.Dimensions), nil
	}
}

// loadTools returns every available tool by name: the builtin workspace
// tools plus the tools of each configured MCP server.
func loadTools(ctx context.Context, cfg *config.Config, logger logging.Logger) (map[string]tool.Tool, []io.Closer, error) {
	ws, err := builtin.NewWorkspace(cfg.Workspace)
	if err != nil {
		return nil, nil, err
	}

	tools := make(map[string]tool.Tool)
	for _, t := range ws.Tools() {
		tools[t.Name()] = t
	}

	var closers []io.Closer
	for _, sc := range cfg.MCPServers {
		srv, err := mcp.Connect(ctx, mcp.ServerConfig{
			Name:    sc.Name,
			Command: sc.Command,
			Args:    sc.Args,
			Env:     sc.Env,
		}, func(o *mcp.Options) { o.Logger = logger })
		if err != nil {
			return nil, closers, err
		}
		closers = append(closers, srv)

		remote, err := srv.Tools(ctx)
		if err != nil {
			return nil, closers, err
		}
		for _, t := range remote {
			if _, dup := tools[t.Name()]; dup {
				logger.Warn("relay.tool.shadowed", "tool", t.Name(), "server", sc.Name)
				continue
			}
			tools[t.Name()] = t
		}
	}

	return tools, closers, nil
}

// newAgent builds a local agent. An empty tool list grants the builtin tools.
func newAgent(ac config.AgentConfig, available map[string]tool.Tool, logger logging.Logger) (*agent.ModelAgent, error) {
	names := ac.Tools
	if len(names) == 0 {
		names = []string{builtin.CurrentTime, builtin.ListFiles, builtin.ReadFile, builtin.WriteFile, builtin.DeleteFile}
	}

	tools := make([]tool.Tool, 0, len(names))
	for _, n := range names {
		t, ok := available[n]
		if !ok {
			return nil, fmt.Errorf("agent %s: %w", ac.Name, core.NewUsageError("use tool "+n, core.ErrUnknownTool))
		}
		tools = append(tools, t)
	}

	llm, err := newModel(ac)
	if err != nil {
		return nil, err
	}

	return agent.NewModelAgent(ac.Name, llm, func(o *agent.ModelAgentOptions) {
		if ac.Description != "" {
			o.Description = ac.Description
		}
		if ac.Instruction != "" {
			o.Instruction = agent.NewInstructionFromText(ac.Instruction)
		}
		o.Tools = tools
		o.ThinkingBudget = ac.ThinkingBudget
		o.Logger = logger
	}), nil
}

func newModel(ac config.AgentConfig) (model.Model, error) {
	switch ac.Provider {
	case config.ProviderAnthropic:
		return anthropic.NewModel(func(o *anthropic.Options) {
			if ac.Model != "" {
				o.Model = anthropicsdk.Model(ac.Model)
			}
			o.APIKey = ac.APIKey
			o.BaseURL = ac.BaseURL
		}), nil
	case config.ProviderOpenAI:
		return openai.NewModel(func(o *openai.Options) {
			if ac.Model != "" {
				o.Model = ac.Model
			}
			o.APIKey = ac.APIKey
			o.BaseURL = ac.BaseURL
		}), nil
	case config.ProviderMock:
		name := ac.Model
		if name == "" {
			name = "mock"
		}
		return model.NewMockModel(name, config.ProviderMock), nil
	default:
		return nil, errors.New("unsupported provider " + ac.Provider)
	}
}

// Package config loads the application configuration from YAML or TOML
// files. Environment variables written as ${VAR} are expanded before
// decoding and duration strings are parsed afterwards.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Providers accepted for agents and embedders.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderOllama    = "ollama"
	ProviderMock      = "mock"
	ProviderHash      = "hash"
)

// Storage drivers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

// Config is the complete application configuration.
type Config struct {
	Logging      LoggingConfig      `yaml:"logging" toml:"logging"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator" toml:"orchestrator"`
	Memory       MemoryConfig       `yaml:"memory" toml:"memory"`
	Embedder     EmbedderConfig     `yaml:"embedder" toml:"embedder"`
	VectorStore  StorageConfig      `yaml:"vector_store" toml:"vector_store"`
	Persistence  StorageConfig      `yaml:"persistence" toml:"persistence"`
	Agents       []AgentConfig      `yaml:"agents" toml:"agents"`
	// ActiveAgent is selected at startup; the first agent when empty.
	ActiveAgent string            `yaml:"active_agent" toml:"active_agent"`
	MCPServers  []MCPServerConfig `yaml:"mcp_servers" toml:"mcp_servers"`
	// Workspace roots the builtin file tools.
	Workspace string `yaml:"workspace" toml:"workspace"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// OrchestratorConfig holds turn processing limits.
type OrchestratorConfig struct {
	MaxToolRounds int      `yaml:"max_tool_rounds" toml:"max_tool_rounds"`
	AutoApprove   []string `yaml:"auto_approve" toml:"auto_approve"`
}

// MemoryConfig holds long-term memory settings.
type MemoryConfig struct {
	Enabled         bool          `yaml:"enabled" toml:"enabled"`
	QueueSize       int           `yaml:"queue_size" toml:"queue_size"`
	EnqueueTimeout  time.Duration `yaml:"-" toml:"-"`
	ShutdownTimeout time.Duration `yaml:"-" toml:"-"`
	ChunkSize       int           `yaml:"chunk_size" toml:"chunk_size"`
	ChunkOverlap    int           `yaml:"chunk_overlap" toml:"chunk_overlap"`
	TopK            int           `yaml:"top_k" toml:"top_k"`
	GateThreshold   float64       `yaml:"gate_threshold" toml:"gate_threshold"`
	GateWindow      int           `yaml:"gate_window" toml:"gate_window"`
	// RetentionMonths > 0 removes older memories at startup.
	RetentionMonths int  `yaml:"retention_months" toml:"retention_months"`
	Summarize       bool `yaml:"summarize" toml:"summarize"`

	// Raw string values for decoding
	EnqueueTimeoutRaw  string `yaml:"enqueue_timeout" toml:"enqueue_timeout"`
	ShutdownTimeoutRaw string `yaml:"shutdown_timeout" toml:"shutdown_timeout"`
}

// EmbedderConfig selects the embedding backend.
type EmbedderConfig struct {
	Provider   string `yaml:"provider" toml:"provider"`
	Model      string `yaml:"model" toml:"model"`
	BaseURL    string `yaml:"base_url" toml:"base_url"`
	APIKey     string `yaml:"api_key" toml:"api_key"`
	Dimensions int    `yaml:"dimensions" toml:"dimensions"`
}

// StorageConfig selects a storage backend.
type StorageConfig struct {
	Driver string `yaml:"driver" toml:"driver"`
	Path   string `yaml:"path" toml:"path"`
}

// AgentConfig describes one local agent.
type AgentConfig struct {
	Name           string   `yaml:"name" toml:"name"`
	Description    string   `yaml:"description" toml:"description"`
	Provider       string   `yaml:"provider" toml:"provider"`
	Model          string   `yaml:"model" toml:"model"`
	Instruction    string   `yaml:"instruction" toml:"instruction"`
	Tools          []string `yaml:"tools" toml:"tools"`
	ThinkingBudget int64    `yaml:"thinking_budget" toml:"thinking_budget"`
	APIKey         string   `yaml:"api_key" toml:"api_key"`
	BaseURL        string   `yaml:"base_url" toml:"base_url"`
}

// MCPServerConfig describes a stdio MCP server whose tools are offered to
// agents that list them.
type MCPServerConfig struct {
	Name    string            `yaml:"name" toml:"name"`
	Command string            `yaml:"command" toml:"command"`
	Args    []string          `yaml:"args" toml:"args"`
	Env     map[string]string `yaml:"env" toml:"env"`
}

// Error reports an invalid configuration value.
type Error struct {
	Field   string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) error {
	return &Error{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Default returns a configuration that works without a file: one Anthropic
// backed assistant, hash embeddings and in-memory storage.
func Default() *Config {
	cfg := &Config{
		Logging:      LoggingConfig{Level: "info", Format: "text"},
		Orchestrator: OrchestratorConfig{MaxToolRounds: 25},
		Memory: MemoryConfig{
			Enabled:            true,
			QueueSize:          1000,
			ChunkSize:          200,
			ChunkOverlap:       40,
			TopK:               3,
			GateThreshold:      0.31,
			GateWindow:         5,
			EnqueueTimeoutRaw:  "100ms",
			ShutdownTimeoutRaw: "5s",
		},
		Embedder:    EmbedderConfig{Provider: ProviderHash, Dimensions: 256},
		VectorStore: StorageConfig{Driver: DriverMemory},
		Persistence: StorageConfig{Driver: DriverMemory},
		Agents: []AgentConfig{{
			Name:        "assistant",
			Description: "General purpose assistant",
			Provider:    ProviderAnthropic,
		}},
		Workspace: ".",
	}
	_ = parseDurations(cfg)
	return cfg
}

// Load reads the configuration file at path. The format follows the file
// extension (.yaml, .yml or .toml). Keys missing from the file keep their
// default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	defaultAgents := cfg.Agents
	// Decoders may merge into existing slice elements.
	cfg.Agents = nil
	expanded := expandEnvVars(string(data))

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(strings.NewReader(expanded))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	case ".toml":
		md, err := toml.Decode(expanded, cfg)
		if err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("parsing config file: unknown key %q", undecoded[0].String())
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q", ext)
	}

	if len(cfg.Agents) == 0 {
		cfg.Agents = defaultAgents
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. Unset variables expand to the empty string.
func expandEnvVars(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envPattern.FindStringSubmatch(match)[1])
	})
}

func parseDurations(cfg *Config) error {
	var err error

	if cfg.Memory.EnqueueTimeoutRaw != "" {
		cfg.Memory.EnqueueTimeout, err = time.ParseDuration(cfg.Memory.EnqueueTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing enqueue_timeout %q: %w", cfg.Memory.EnqueueTimeoutRaw, err)
		}
	}

	if cfg.Memory.ShutdownTimeoutRaw != "" {
		cfg.Memory.ShutdownTimeout, err = time.ParseDuration(cfg.Memory.ShutdownTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing shutdown_timeout %q: %w", cfg.Memory.ShutdownTimeoutRaw, err)
		}
	}

	return nil
}

// Validate checks the configuration and returns the first problem found as
// an *Error.
func (c *Config) Validate() error {
	if len(c.Agents) == 0 {
		return invalid("agents", "at least one agent is required")
	}

	seen := make(map[string]bool, len(c.Agents))
	for i, a := range c.Agents {
		field := fmt.Sprintf("agents[%d]", i)
		if strings.TrimSpace(a.Name) == "" {
			return invalid(field+".name", "is required")
		}
		if seen[a.Name] {
			return invalid(field+".name", "duplicate agent %q", a.Name)
		}
		seen[a.Name] = true

		if !slices.Contains([]string{ProviderAnthropic, ProviderOpenAI, ProviderMock}, a.Provider) {
			return invalid(field+".provider", "unsupported provider %q", a.Provider)
		}
		if a.ThinkingBudget < 0 {
			return invalid(field+".thinking_budget", "must not be negative")
		}
	}

	if c.ActiveAgent != "" && !seen[c.ActiveAgent] {
		return invalid("active_agent", "unknown agent %q", c.ActiveAgent)
	}

	if c.Orchestrator.MaxToolRounds < 0 {
		return invalid("orchestrator.max_tool_rounds", "must not be negative")
	}

	if err := c.Memory.validate(); err != nil {
		return err
	}

	if !slices.Contains([]string{ProviderHash, ProviderOpenAI, ProviderOllama}, c.Embedder.Provider) {
		return invalid("embedder.provider", "unsupported provider %q", c.Embedder.Provider)
	}
	if c.Embedder.Provider == ProviderHash && c.Embedder.Dimensions <= 0 {
		return invalid("embedder.dimensions", "must be positive for the hash embedder")
	}

	if err := c.VectorStore.validate("vector_store"); err != nil {
		return err
	}
	if err := c.Persistence.validate("persistence"); err != nil {
		return err
	}

	for i, s := range c.MCPServers {
		if s.Name == "" || s.Command == "" {
			return invalid(fmt.Sprintf("mcp_servers[%d]", i), "name and command are required")
		}
	}

	return nil
}

func (m MemoryConfig) validate() error {
	switch {
	case m.QueueSize <= 0:
		return invalid("memory.queue_size", "must be positive")
	case m.ChunkSize <= 0:
		return invalid("memory.chunk_size", "must be positive")
	case m.ChunkOverlap < 0 || m.ChunkOverlap >= m.ChunkSize:
		return invalid("memory.chunk_overlap", "must be in [0, chunk_size)")
	case m.TopK <= 0:
		return invalid("memory.top_k", "must be positive")
	case m.GateThreshold < -1 || m.GateThreshold > 1:
		return invalid("memory.gate_threshold", "must be in [-1, 1]")
	case m.GateWindow <= 0:
		return invalid("memory.gate_window", "must be positive")
	case m.RetentionMonths < 0:
		return invalid("memory.retention_months", "must not be negative")
	}
	return nil
}

func (s StorageConfig) validate(field string) error {
	switch s.Driver {
	case DriverMemory:
		return nil
	case DriverSQLite:
		if s.Path == "" {
			return invalid(field+".path", "is required for the sqlite driver")
		}
		return nil
	default:
		return invalid(field+".driver", "unsupported driver %q", s.Driver)
	}
}

// Agent returns the named agent configuration.
func (c *Config) Agent(name string) (AgentConfig, bool) {
	for _, a := range c.Agents {
		if a.Name == name {
			return a, true
		}
	}
	return AgentConfig{}, false
}

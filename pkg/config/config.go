// Package config loads the runtime configuration from YAML with
// environment expansion. A .env file next to the process is applied
// first, then ${VAR} references in the YAML are substituted, so secrets
// stay out of the config file itself.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/striderlabs/strider/pkg/agent"
	"github.com/striderlabs/strider/pkg/llms"
	"github.com/striderlabs/strider/pkg/router"
)

// Config is the full runtime configuration.
type Config struct {
	LLM     llms.OpenAIConfig `yaml:"llm"`
	Engine  EngineConfig      `yaml:"engine"`
	Tools   ToolsConfig       `yaml:"tools"`
	Skills  SkillsConfig      `yaml:"skills"`
	Server  ServerConfig      `yaml:"server"`
	Storage StorageConfig     `yaml:"storage"`
	Logging LoggingConfig     `yaml:"logging"`
}

// EngineConfig is the YAML shape of the engine settings. Durations are
// plain seconds so the file stays unit-explicit.
type EngineConfig struct {
	Mode                 string  `yaml:"mode"`
	AnswerStyle          string  `yaml:"answer_style"`
	SystemPrompt         string  `yaml:"system_prompt"`
	MaxIterations        int     `yaml:"max_iterations"`
	BaseBudget           int     `yaml:"base_budget"`
	AvailableTimeSeconds int     `yaml:"available_time_seconds"`
	ContextWindowLimit   int     `yaml:"context_window_limit"`
	CheckpointInterval   int     `yaml:"checkpoint_interval"`
	MaxCheckpoints       int     `yaml:"max_checkpoints"`
	ContextClearMessages int     `yaml:"context_clear_threshold"`
	ContextClearTokens   int     `yaml:"context_token_threshold"`
	EnableThreeStrike    *bool   `yaml:"enable_3_strike"`
	EnablePruning        bool    `yaml:"enable_action_space_pruning"`
	MinimalRecitation    bool    `yaml:"minimal_recitation"`
	TaskMaxIterations    int     `yaml:"task_max_iterations"`
	TaskTimeoutSeconds   int     `yaml:"task_timeout_seconds"`
	Temperature          float64 `yaml:"temperature"`
	SkillThreshold       float64 `yaml:"skill_confidence_threshold"`
	CodeThreshold        float64 `yaml:"structured_task_confidence"`
}

// ToolsConfig configures the builtin tools.
type ToolsConfig struct {
	WorkingDirectory string `yaml:"working_directory"`
	SearchEndpoint   string `yaml:"search_endpoint"`
	SandboxDirectory string `yaml:"sandbox_directory"`
}

// SkillsConfig configures the skill directory.
type SkillsConfig struct {
	Directory string `yaml:"directory"`
	Watch     bool   `yaml:"watch"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig configures session storage.
type StorageConfig struct {
	Directory string `yaml:"directory"`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// SetDefaults fills zero fields across the tree.
func (c *Config) SetDefaults() {
	c.LLM.SetDefaults()
	if c.Engine.Mode == "" {
		c.Engine.Mode = agent.ModeAuto
	}
	if c.Tools.WorkingDirectory == "" {
		c.Tools.WorkingDirectory = "."
	}
	if c.Skills.Directory == "" {
		c.Skills.Directory = "skills"
	}
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Storage.Directory == "" {
		c.Storage.Directory = ".strider"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "simple"
	}
}

// Validate rejects configurations the runtime cannot honor.
func (c *Config) Validate() error {
	switch c.Engine.Mode {
	case agent.ModeAuto, agent.ModeDirect, agent.ModePlanning:
	default:
		return fmt.Errorf("invalid engine mode: %s", c.Engine.Mode)
	}
	if c.Engine.SkillThreshold < 0 || c.Engine.SkillThreshold > 1 {
		return fmt.Errorf("skill_confidence_threshold must be in [0,1]")
	}
	if c.Engine.CodeThreshold < 0 || c.Engine.CodeThreshold > 1 {
		return fmt.Errorf("structured_task_confidence must be in [0,1]")
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	return nil
}

// ToEngineConfig converts the YAML shape into the engine's config.
func (c *Config) ToEngineConfig(sessionID string) agent.EngineConfig {
	return agent.EngineConfig{
		SessionID:                sessionID,
		Model:                    c.LLM.Model,
		Mode:                     c.Engine.Mode,
		SystemPrompt:             c.Engine.SystemPrompt,
		AnswerStyle:              c.Engine.AnswerStyle,
		ContextWindow:            c.Engine.ContextWindowLimit,
		BaseBudget:               c.Engine.BaseBudget,
		MaxIterations:            c.Engine.MaxIterations,
		AvailableTime:            time.Duration(c.Engine.AvailableTimeSeconds) * time.Second,
		CheckpointInterval:       c.Engine.CheckpointInterval,
		MaxCheckpoints:           c.Engine.MaxCheckpoints,
		ContextClearThreshold:    c.Engine.ContextClearMessages,
		ContextTokenThreshold:    c.Engine.ContextClearTokens,
		EnableThreeStrike:        c.Engine.EnableThreeStrike,
		EnableActionSpacePruning: c.Engine.EnablePruning,
		MinimalRecitation:        c.Engine.MinimalRecitation,
		Task: agent.TaskExecutorConfig{
			Model:         c.LLM.Model,
			MaxIterations: c.Engine.TaskMaxIterations,
			Timeout:       time.Duration(c.Engine.TaskTimeoutSeconds) * time.Second,
			Temperature:   c.Engine.Temperature,
		},
		Router: router.Config{
			SkillThreshold: c.Engine.SkillThreshold,
			CodeThreshold:  c.Engine.CodeThreshold,
		},
	}
}

// Load reads a config file. A missing path yields the defaults. The .env
// file, if present, is loaded before expansion so ${VAR} references in
// the YAML resolve against it.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

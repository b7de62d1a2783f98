// Package config provides configuration management for the Bismark
// orchestration core.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for the core process.
type Config struct {
	Home        HomeConfig        `mapstructure:"home"`
	CoreAPI     CoreAPIConfig     `mapstructure:"coreApi"`
	ToolProxy   ToolProxyConfig   `mapstructure:"toolProxy"`
	NATS        NATSConfig        `mapstructure:"nats"`
	Docker      DockerConfig      `mapstructure:"docker"`
	Agent       AgentConfig       `mapstructure:"agent"`
	TaskStore   TaskStoreConfig   `mapstructure:"taskStore"`
	Worktree    WorktreeConfig    `mapstructure:"worktree"`
	SpawnQueue  SpawnQueueConfig  `mapstructure:"spawnQueue"`
	Plan        PlanConfig        `mapstructure:"plan"`
	Logging     logging           `mapstructure:"logging"`
}

// logging mirrors internal/common/logger.Config so config.yaml can set it
// directly; kept as a distinct type to avoid an import cycle with logger.
type logging struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// HomeConfig locates the durable state root, ~/.bismark by default (§6.1).
type HomeConfig struct {
	Dir string `mapstructure:"dir"`
}

// ToolProxyConfig configures the local HTTP tool-proxy (C9).
type ToolProxyConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// CoreAPIConfig configures the core operation surface HTTP server (spec §6.5),
// bound by cmd/bismarkd alongside the tool proxy on its own port.
type CoreAPIConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// NATSConfig configures the optional event-bus fan-out (C11).
// An empty URL disables NATS; the in-process bus is always active.
type NATSConfig struct {
	URL       string `mapstructure:"url"`
	ClientID  string `mapstructure:"clientId"`
	Namespace string `mapstructure:"namespace"`
}

// DockerConfig configures the container runtime used by headless workers (C8).
type DockerConfig struct {
	Host           string `mapstructure:"host"`
	APIVersion     string `mapstructure:"apiVersion"`
	DefaultImage   string `mapstructure:"defaultImage"`
	MemoryLimitMB  int64  `mapstructure:"memoryLimitMb"`
	CPUQuota       int64  `mapstructure:"cpuQuota"`
}

// AgentConfig configures how the interactive coding-assistant CLI is launched (C2).
type AgentConfig struct {
	Binary         string `mapstructure:"binary"`
	SessionDir     string `mapstructure:"sessionDir"`
	SettleDelayMs  int    `mapstructure:"settleDelayMs"`
}

// TaskStoreConfig configures the external task-store CLI wrapper (C6).
type TaskStoreConfig struct {
	Binary string `mapstructure:"binary"`
}

// WorktreeConfig configures git worktree allocation (C7).
type WorktreeConfig struct {
	BasePath      string `mapstructure:"basePath"`
	DefaultBranch string `mapstructure:"defaultBranch"`
}

// SpawnQueueConfig configures the bounded PTY spawner (C5).
type SpawnQueueConfig struct {
	Concurrency int `mapstructure:"concurrency"`
	DelayMs     int `mapstructure:"delayMs"`
}

// PlanConfig configures the plan polling loop (C10).
type PlanConfig struct {
	PollIntervalSeconds int  `mapstructure:"pollIntervalSeconds"`
	MaxParallelAgents   int  `mapstructure:"maxParallelAgents"`
	HeadlessDispatch    bool `mapstructure:"headlessDispatch"`
}

// LoggingLevel/Format/OutputPath accessors keep config.Config decoupled
// from the logger package while still exposing the fields it needs.
func (c *Config) LoggingLevel() string      { return c.Logging.Level }
func (c *Config) LoggingFormat() string     { return c.Logging.Format }
func (c *Config) LoggingOutputPath() string { return c.Logging.OutputPath }

func setDefaults(v *viper.Viper) {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	defaultHome := filepath.Join(home, ".bismark")

	v.SetDefault("home.dir", defaultHome)

	v.SetDefault("coreApi.host", "0.0.0.0")
	v.SetDefault("coreApi.port", 8765)

	v.SetDefault("toolProxy.host", "0.0.0.0")
	v.SetDefault("toolProxy.port", 9847)

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "bismark-core")
	v.SetDefault("nats.namespace", "")

	v.SetDefault("docker.host", defaultDockerHost())
	v.SetDefault("docker.apiVersion", "1.44")
	v.SetDefault("docker.defaultImage", "bismark/headless-worker:latest")
	v.SetDefault("docker.memoryLimitMb", int64(2048))
	v.SetDefault("docker.cpuQuota", int64(100000))

	v.SetDefault("agent.binary", "claude")
	v.SetDefault("agent.sessionDir", filepath.Join(home, ".claude", "sessions"))
	v.SetDefault("agent.settleDelayMs", 500)

	v.SetDefault("taskStore.binary", "bismark-tasks")

	v.SetDefault("worktree.basePath", filepath.Join(defaultHome, "worktrees"))
	v.SetDefault("worktree.defaultBranch", "main")

	v.SetDefault("spawnQueue.concurrency", 10)
	v.SetDefault("spawnQueue.delayMs", 100)

	v.SetDefault("plan.pollIntervalSeconds", 5)
	v.SetDefault("plan.maxParallelAgents", 4)
	v.SetDefault("plan.headlessDispatch", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

func detectDefaultFormat() string {
	if os.Getenv("BISMARK_ENV") == "production" {
		return "json"
	}
	return "console"
}

func defaultDockerHost() string {
	if host := os.Getenv("DOCKER_HOST"); host != "" {
		return host
	}
	return "unix:///var/run/docker.sock"
}

// Load reads configuration from defaults, ~/.bismark/config.yaml and
// environment variables prefixed BISMARK_, in that ascending priority.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath loads configuration, adding configPath to the search list.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("BISMARK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	home, _ := os.UserHomeDir()
	if home != "" {
		v.AddConfigPath(filepath.Join(home, ".bismark"))
	}
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func validate(cfg *Config) error {
	var errs []string

	if cfg.ToolProxy.Port <= 0 || cfg.ToolProxy.Port > 65535 {
		errs = append(errs, "toolProxy.port must be between 1 and 65535")
	}
	if cfg.CoreAPI.Port <= 0 || cfg.CoreAPI.Port > 65535 {
		errs = append(errs, "coreApi.port must be between 1 and 65535")
	}
	if cfg.SpawnQueue.Concurrency <= 0 {
		errs = append(errs, "spawnQueue.concurrency must be positive")
	}
	if cfg.Plan.PollIntervalSeconds <= 0 {
		errs = append(errs, "plan.pollIntervalSeconds must be positive")
	}
	if cfg.Plan.MaxParallelAgents <= 0 {
		errs = append(errs, "plan.maxParallelAgents must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "console": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, console, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// PollInterval returns the plan poll cadence as a time.Duration.
func (p *PlanConfig) PollInterval() time.Duration {
	return time.Duration(p.PollIntervalSeconds) * time.Second
}

// SettleDelay returns the PTY settle delay as a time.Duration.
func (a *AgentConfig) SettleDelay() time.Duration {
	return time.Duration(a.SettleDelayMs) * time.Millisecond
}

// SpawnDelay returns the spawn-queue inter-start delay as a time.Duration.
func (s *SpawnQueueConfig) SpawnDelay() time.Duration {
	return time.Duration(s.DelayMs) * time.Millisecond
}

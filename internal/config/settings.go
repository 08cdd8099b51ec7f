package config

import (
	"errors"
	"os"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

const defaultDaemonAddress = "127.0.0.1:7718"

const (
	defaultCapabilityMode  = "mock"
	defaultCapabilityModel = "deepseek-chat"
	defaultCapabilityLimit = 4
	defaultMaxStepAttempts = 3
	defaultEventRetention  = 200
)

type CoreConfig struct {
	Daemon     CoreDaemonConfig     `toml:"daemon"`
	Storage    CoreStorageConfig    `toml:"storage"`
	Capability CoreCapabilityConfig `toml:"capability"`
	Runs       CoreRunsConfig       `toml:"runs"`
	Logging    CoreLoggingConfig    `toml:"logging"`
}

type CoreStorageConfig struct {
	Backend string `toml:"backend"`
}

type CoreDaemonConfig struct {
	Address string `toml:"address"`
}

type CoreLoggingConfig struct {
	Level string `toml:"level"`
}

// CoreCapabilityConfig tunes the upstream generation capability. Concurrency is
// the global cap on in-flight capability calls across all runs.
type CoreCapabilityConfig struct {
	Mode        string `toml:"mode"`
	Model       string `toml:"model"`
	Concurrency int    `toml:"concurrency"`
}

type CoreRunsConfig struct {
	MaxStepAttempts int `toml:"max_step_attempts"`
	EventRetention  int `toml:"event_retention"`
}

func DefaultCoreConfig() CoreConfig {
	return CoreConfig{
		Daemon: CoreDaemonConfig{
			Address: defaultDaemonAddress,
		},
		Capability: CoreCapabilityConfig{
			Mode:        defaultCapabilityMode,
			Model:       defaultCapabilityModel,
			Concurrency: defaultCapabilityLimit,
		},
		Runs: CoreRunsConfig{
			MaxStepAttempts: defaultMaxStepAttempts,
			EventRetention:  defaultEventRetention,
		},
		Logging: CoreLoggingConfig{
			Level: "info",
		},
	}
}

func LoadCoreConfig() (CoreConfig, error) {
	path, err := CoreConfigPath()
	if err != nil {
		return CoreConfig{}, err
	}
	return loadCoreConfigFromPath(path)
}

func loadCoreConfigFromPath(path string) (CoreConfig, error) {
	cfg := DefaultCoreConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return CoreConfig{}, err
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return CoreConfig{}, err
	}
	return cfg, nil
}

func (c CoreConfig) DaemonAddress() string {
	addr := strings.TrimSpace(c.Daemon.Address)
	if addr == "" {
		return defaultDaemonAddress
	}
	addr = strings.TrimPrefix(addr, "http://")
	addr = strings.TrimPrefix(addr, "https://")
	addr = strings.TrimRight(addr, "/")
	if addr == "" {
		return defaultDaemonAddress
	}
	return addr
}

func (c CoreConfig) DaemonBaseURL() string {
	return "http://" + c.DaemonAddress()
}

func (c CoreConfig) LogLevel() string {
	level := strings.TrimSpace(c.Logging.Level)
	if level == "" {
		return "info"
	}
	return level
}

func (c CoreConfig) StorageBackend() string {
	backend := strings.TrimSpace(c.Storage.Backend)
	if backend == "" {
		return "bbolt"
	}
	return backend
}

func (c CoreConfig) CapabilityMode() string {
	mode := strings.TrimSpace(c.Capability.Mode)
	if mode == "" {
		return defaultCapabilityMode
	}
	return mode
}

func (c CoreConfig) CapabilityModel() string {
	model := strings.TrimSpace(c.Capability.Model)
	if model == "" {
		return defaultCapabilityModel
	}
	return model
}

func (c CoreConfig) CapabilityConcurrency() int {
	if c.Capability.Concurrency <= 0 {
		return defaultCapabilityLimit
	}
	return c.Capability.Concurrency
}

func (c CoreConfig) MaxStepAttempts() int {
	if c.Runs.MaxStepAttempts <= 0 {
		return defaultMaxStepAttempts
	}
	return c.Runs.MaxStepAttempts
}

func (c CoreConfig) EventRetention() int {
	if c.Runs.EventRetention <= 0 {
		return defaultEventRetention
	}
	return c.Runs.EventRetention
}

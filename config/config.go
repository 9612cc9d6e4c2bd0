package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/isdmx/codelab/protocol"
)

// MaxOutputKBLimit is the largest sandbox.max_output_kb whose result message,
// carrying both capped streams with every byte JSON-escaped to six bytes,
// still fits in protocol.MaxLineBytes. 64 KiB stay reserved for the error
// text and the envelope.
const MaxOutputKBLimit = (protocol.MaxLineBytes - 64*1024) / (2 * 6 * 1024)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig        `mapstructure:"server"`
	Logging   LoggingConfig       `mapstructure:"logging"`
	Sandbox   SandboxConfig       `mapstructure:"sandbox"`
	Languages map[string]Language `mapstructure:"languages"`
	Suites    SuitesConfig        `mapstructure:"suites"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Transport string `mapstructure:"transport"`
	HTTPPort  int    `mapstructure:"http_port"`
}

// LoggingConfig holds logger configuration
type LoggingConfig struct {
	Mode  string `mapstructure:"mode"`
	Level string `mapstructure:"level"`
}

// SandboxConfig holds sandbox configuration
type SandboxConfig struct {
	Backend            string   `mapstructure:"backend"`
	Language           string   `mapstructure:"language"`
	TimeoutSec         int      `mapstructure:"timeout_sec"`
	MemoryMB           int      `mapstructure:"memory_mb"`
	NetworkEnabled     bool     `mapstructure:"network_enabled"`
	EnableLocalBackend bool     `mapstructure:"enable_local_backend"`
	QueueSize          int      `mapstructure:"queue_size"`
	BusyPolicy         string   `mapstructure:"busy_policy"`
	MaxOutputKB        int      `mapstructure:"max_output_kb"`
	Packages           []string `mapstructure:"packages"`
	WorkerPath         string   `mapstructure:"worker_path"`
}

// Language holds the settings of one runtime language
type Language struct {
	Image       string            `mapstructure:"image"`
	RunCmd      string            `mapstructure:"run_cmd"`
	CheckCmd    string            `mapstructure:"check_cmd"`
	PrefixCode  string            `mapstructure:"prefix_code"`
	PostfixCode string            `mapstructure:"postfix_code"`
	Environment map[string]string `mapstructure:"environment"`
}

// SuitesConfig points at the directory holding test suite files
type SuitesConfig struct {
	Dir string `mapstructure:"dir"`
}

// Busy policies applied when an abandoned execution still occupies the sandbox.
const (
	BusyPolicyRestart = "restart"
	BusyPolicyReject  = "reject"
)

// EnvPrefix prefixes environment overrides, e.g. CODELAB_SANDBOX_BACKEND.
const EnvPrefix = "CODELAB"

// New loads and validates the application configuration.
// CODELAB_CONFIG may name an explicit config file.
func New() (*Config, error) {
	return Load(os.Getenv(EnvPrefix + "_CONFIG"))
}

// Load reads the configuration from path, or from config.yaml in the working
// directory or ./config when path is empty.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// If config file not found, continue with defaults
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.transport", "stdio")
	v.SetDefault("server.http_port", 8080)

	v.SetDefault("logging.mode", "production")
	v.SetDefault("logging.level", "info")

	v.SetDefault("sandbox.backend", "docker")
	v.SetDefault("sandbox.language", "python")
	v.SetDefault("sandbox.timeout_sec", 30)
	v.SetDefault("sandbox.memory_mb", 512)
	v.SetDefault("sandbox.network_enabled", false)
	v.SetDefault("sandbox.enable_local_backend", false)
	v.SetDefault("sandbox.queue_size", 16)
	v.SetDefault("sandbox.busy_policy", BusyPolicyRestart)
	v.SetDefault("sandbox.max_output_kb", 1024)
	v.SetDefault("sandbox.packages", []string{})
	v.SetDefault("sandbox.worker_path", "codelab-worker")

	// Python defaults
	v.SetDefault("languages.python.image", "python:3.11-slim")
	v.SetDefault("languages.python.run_cmd", "python3 -u main.py")
	v.SetDefault("languages.python.check_cmd", "python3 --version")
	v.SetDefault("languages.python.environment", map[string]string{"PYTHONDONTWRITEBYTECODE": "1"})

	// Node.js defaults
	v.SetDefault("languages.nodejs.image", "node:20-alpine")
	v.SetDefault("languages.nodejs.run_cmd", "node index.js")
	v.SetDefault("languages.nodejs.check_cmd", "node --version")

	// Go defaults
	v.SetDefault("languages.go.image", "golang:1.23-alpine")
	v.SetDefault("languages.go.run_cmd", "go run main.go")
	v.SetDefault("languages.go.check_cmd", "go version")
	v.SetDefault("languages.go.environment", map[string]string{"GOCACHE": "/tmp/.gocache"})

	// C++ defaults
	v.SetDefault("languages.cpp.image", "gcc:13")
	v.SetDefault("languages.cpp.run_cmd", "g++ -std=c++17 -O2 -o app main.cpp && ./app")
	v.SetDefault("languages.cpp.check_cmd", "g++ --version")

	v.SetDefault("suites.dir", "")
}

// validate ensures the configuration is valid
func (c *Config) validate() error {
	switch c.Server.Transport {
	case "stdio", "http", "rest":
	default:
		return fmt.Errorf("invalid server.transport: %s, must be 'stdio', 'http' or 'rest'", c.Server.Transport)
	}

	if c.Server.Transport != "stdio" && (c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535) {
		return fmt.Errorf("invalid server.http_port: %d", c.Server.HTTPPort)
	}

	if c.Logging.Mode != "production" && c.Logging.Mode != "development" {
		return fmt.Errorf("invalid logging.mode: %s, must be 'production' or 'development'", c.Logging.Mode)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error", "dpanic", "panic", "fatal":
	default:
		return fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
	}

	if c.Sandbox.TimeoutSec <= 0 {
		return fmt.Errorf("sandbox.timeout_sec must be positive, got: %d", c.Sandbox.TimeoutSec)
	}

	if c.Sandbox.MemoryMB <= 0 {
		return fmt.Errorf("sandbox.memory_mb must be positive, got: %d", c.Sandbox.MemoryMB)
	}

	if c.Sandbox.QueueSize <= 0 {
		return fmt.Errorf("sandbox.queue_size must be positive, got: %d", c.Sandbox.QueueSize)
	}

	if c.Sandbox.MaxOutputKB <= 0 {
		return fmt.Errorf("sandbox.max_output_kb must be positive, got: %d", c.Sandbox.MaxOutputKB)
	}
	if c.Sandbox.MaxOutputKB > MaxOutputKBLimit {
		return fmt.Errorf("sandbox.max_output_kb must be at most %d, got: %d", MaxOutputKBLimit, c.Sandbox.MaxOutputKB)
	}

	if c.Sandbox.BusyPolicy != BusyPolicyRestart && c.Sandbox.BusyPolicy != BusyPolicyReject {
		return fmt.Errorf("invalid sandbox.busy_policy: %s, must be 'restart' or 'reject'", c.Sandbox.BusyPolicy)
	}

	supportedBackends := map[string]bool{
		"docker":  true,
		"podman":  true,
		"local":   c.Sandbox.EnableLocalBackend, // local only enabled if specifically allowed
		"process": c.Sandbox.EnableLocalBackend,
	}

	if !supportedBackends[c.Sandbox.Backend] {
		return fmt.Errorf("unsupported sandbox.backend: %s", c.Sandbox.Backend)
	}

	if c.Sandbox.Backend == "process" && c.Sandbox.WorkerPath == "" {
		return fmt.Errorf("sandbox.worker_path is required for the process backend")
	}

	lang, ok := c.Languages[c.Sandbox.Language]
	if !ok {
		return fmt.Errorf("sandbox.language %q has no languages.%s section", c.Sandbox.Language, c.Sandbox.Language)
	}
	if lang.RunCmd == "" {
		return fmt.Errorf("languages.%s.run_cmd must not be empty", c.Sandbox.Language)
	}

	return nil
}

// GetTimeout returns the execution timeout as a duration
func (c *Config) GetTimeout() time.Duration {
	return time.Duration(c.Sandbox.TimeoutSec) * time.Second
}

// ActiveLanguage returns the settings of the configured sandbox language.
func (c *Config) ActiveLanguage() Language {
	return c.Languages[c.Sandbox.Language]
}

// Package config loads orchestrator settings from the environment, an optional
// .env file and an optional YAML overlay.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root orchestrator configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Services ServicesConfig `yaml:"services"`
	Security SecurityConfig `yaml:"security"`
	Logging  LoggingConfig  `yaml:"logging"`
	Upload   UploadConfig   `yaml:"upload"`
	Runtime  RuntimeConfig  `yaml:"runtime"`
	Archive  ArchiveConfig  `yaml:"archive"`
	Logs     LogsConfig     `yaml:"logs"`
}

// ServerConfig contains HTTP listener settings.
type ServerConfig struct {
	Port        int    `yaml:"port"`
	Environment string `yaml:"environment"`
}

// ServicesConfig holds base URLs of the downstream Python services.
type ServicesConfig struct {
	Chatbot          string `yaml:"chatbot"`
	Transcribe       string `yaml:"transcribe"`
	TranscriptionAPI string `yaml:"transcriptionAPI"`
}

// SecurityConfig contains CORS and upstream timeout settings.
type SecurityConfig struct {
	CORSOrigin   string `yaml:"corsOrigin"`
	APITimeoutMs int    `yaml:"apiTimeout"`
}

// LoggingConfig selects log level and encoder.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// UploadConfig controls accepted upload size and staging.
type UploadConfig struct {
	MaxFileSize string `yaml:"maxFileSize"`
	TimeoutMs   int    `yaml:"timeout"`
	StagingDir  string `yaml:"stagingDir"`
}

// RuntimeConfig describes how the Python transcription API is launched.
type RuntimeConfig struct {
	Command   string `yaml:"command"`
	WorkDir   string `yaml:"workDir"`
	AutoStart bool   `yaml:"autoStart"`
	LockFile  string `yaml:"lockFile"`
}

// ArchiveConfig points at the DuckDB archive. An empty path disables it.
type ArchiveConfig struct {
	Path string `yaml:"path"`
}

// LogsConfig sizes the in-memory log stream buffer.
type LogsConfig struct {
	BufferSize int `yaml:"bufferSize"`
}

// Options controls where Load looks for configuration sources.
type Options struct {
	EnvFile    string
	ConfigFile string
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        4000,
			Environment: "development",
		},
		Services: ServicesConfig{
			Chatbot:          "http://localhost:5001",
			Transcribe:       "http://localhost:5002",
			TranscriptionAPI: "http://127.0.0.1:8000",
		},
		Security: SecurityConfig{
			CORSOrigin:   "http://localhost:5173",
			APITimeoutMs: 30000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Upload: UploadConfig{
			MaxFileSize: "50mb",
			TimeoutMs:   60000,
			StagingDir:  "./data/staging",
		},
		Runtime: RuntimeConfig{
			Command:   "uv run python -m api",
			WorkDir:   "../backend/transcriptanalysis",
			AutoStart: true,
			LockFile:  "./data/transcription.lock",
		},
		Archive: ArchiveConfig{
			Path: "./data/archive.duckdb",
		},
		Logs: LogsConfig{
			BufferSize: 1000,
		},
	}
}

// Load builds the configuration: defaults, then the YAML overlay, then
// environment variables (after loading the .env file if present).
func Load(opts Options) (*Config, error) {
	envFile := opts.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
	}

	cfg := Defaults()

	configFile := opts.ConfigFile
	if configFile == "" {
		configFile = os.Getenv("ORCHESTRATOR_CONFIG")
	}
	if configFile != "" {
		if err := cfg.applyFile(configFile); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnvironment(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func (c *Config) applyEnvironment() error {
	var err error

	if c.Server.Port, err = envInt("BACKEND_PORT", c.Server.Port); err != nil {
		return err
	}
	c.Server.Environment = envString("NODE_ENV", envString("APP_ENV", c.Server.Environment))

	c.Services.Chatbot = envString("CHATBOT_SERVICE_URL", c.Services.Chatbot)
	c.Services.Transcribe = envString("TRANSCRIBE_SERVICE_URL", c.Services.Transcribe)
	c.Services.TranscriptionAPI = envString("TRANSCRIPTION_API_URL", c.Services.TranscriptionAPI)

	c.Security.CORSOrigin = envString("CORS_ORIGIN", c.Security.CORSOrigin)
	if c.Security.APITimeoutMs, err = envInt("API_TIMEOUT", c.Security.APITimeoutMs); err != nil {
		return err
	}

	c.Logging.Level = envString("LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = envString("LOG_FORMAT", c.Logging.Format)

	c.Upload.MaxFileSize = envString("MAX_FILE_SIZE", c.Upload.MaxFileSize)
	if c.Upload.TimeoutMs, err = envInt("UPLOAD_TIMEOUT", c.Upload.TimeoutMs); err != nil {
		return err
	}
	c.Upload.StagingDir = envString("UPLOAD_STAGING_DIR", c.Upload.StagingDir)

	c.Runtime.Command = envString("TRANSCRIPTION_COMMAND", c.Runtime.Command)
	c.Runtime.WorkDir = envString("TRANSCRIPTION_BACKEND_DIR", c.Runtime.WorkDir)
	if c.Runtime.AutoStart, err = envBool("TRANSCRIPTION_AUTOSTART", c.Runtime.AutoStart); err != nil {
		return err
	}
	c.Runtime.LockFile = envString("TRANSCRIPTION_LOCK_FILE", c.Runtime.LockFile)

	if v, ok := os.LookupEnv("ARCHIVE_PATH"); ok {
		c.Archive.Path = strings.TrimSpace(v)
	}
	if c.Logs.BufferSize, err = envInt("LOG_BUFFER_SIZE", c.Logs.BufferSize); err != nil {
		return err
	}
	return nil
}

// Validate checks values that would otherwise fail late at startup.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port out of range: %d", c.Server.Port)
	}
	if _, err := ParseSize(c.Upload.MaxFileSize); err != nil {
		return fmt.Errorf("invalid MAX_FILE_SIZE: %w", err)
	}
	if strings.TrimSpace(c.Runtime.Command) == "" {
		return errors.New("transcription command is required")
	}
	if c.Security.APITimeoutMs <= 0 {
		return fmt.Errorf("API_TIMEOUT must be positive, got %d", c.Security.APITimeoutMs)
	}
	return nil
}

// IsDevelopment reports whether verbose error details should be exposed.
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.Server.Environment, "development")
}

// APITimeout returns the upstream request timeout.
func (c *Config) APITimeout() time.Duration {
	return time.Duration(c.Security.APITimeoutMs) * time.Millisecond
}

// UploadTimeout returns the timeout used when forwarding uploads.
func (c *Config) UploadTimeout() time.Duration {
	return time.Duration(c.Upload.TimeoutMs) * time.Millisecond
}

// MaxFileSizeBytes returns the parsed upload limit. Validate guarantees it parses.
func (c *Config) MaxFileSizeBytes() int64 {
	n, _ := ParseSize(c.Upload.MaxFileSize)
	return n
}

// RuntimeArgs splits the runtime command into binary and arguments.
func (c *Config) RuntimeArgs() (string, []string) {
	fields := strings.Fields(c.Runtime.Command)
	if len(fields) == 0 {
		return "", nil
	}
	return fields[0], fields[1:]
}

// ListenAddr returns the server listen address.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

// EnsureDirectories creates directories that hold orchestrator state.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Upload.StagingDir}
	if c.Runtime.LockFile != "" {
		dirs = append(dirs, filepath.Dir(c.Runtime.LockFile))
	}
	if c.Archive.Path != "" {
		dirs = append(dirs, filepath.Dir(c.Archive.Path))
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

func envString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("environment variable %s must be a valid number", key)
	}
	return n, nil
}

func envBool(key string, fallback bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("environment variable %s must be a boolean", key)
	}
	return b, nil
}

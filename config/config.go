// Package config loads the sandbox runner settings from defaults, an optional
// YAML file, environment variables and command-line flags, in that order.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Config holds every setting the server and the sandbox core honor.
type Config struct {
	ServerPort string `yaml:"server_port"`
	LogLevel   string `yaml:"log_level"`
	LogFormat  string `yaml:"log_format"`

	// RedisURL is the cache connection string. Empty disables caching.
	RedisURL string        `yaml:"redis_url"`
	CacheTTL time.Duration `yaml:"cache_ttl"`

	DefaultTimeout time.Duration `yaml:"default_timeout"`
	MaxTimeout     time.Duration `yaml:"max_timeout"`

	Image       string  `yaml:"image"`
	PythonImage string  `yaml:"python_image"`
	NodeImage   string  `yaml:"node_image"`
	MemoryLimit string  `yaml:"memory_limit"`
	CPULimit    float64 `yaml:"cpu_limit"`
	PidsLimit   int64   `yaml:"pids_limit"`
	DockerHost  string  `yaml:"docker_host"`

	WorkspaceRoot     string `yaml:"workspace_root"`
	HostWorkspaceRoot string `yaml:"host_workspace_root"`

	MaxSessions    int           `yaml:"max_sessions"`
	SessionIdleTTL time.Duration `yaml:"session_idle_ttl"`
	ReapInterval   time.Duration `yaml:"reap_interval"`

	SafetyCheckShell bool     `yaml:"safety_check_shell"`
	DenyPatterns     []string `yaml:"deny_patterns"`
	MaxOutputBytes   int      `yaml:"max_output_bytes"`

	DBHost     string `yaml:"db_host"`
	DBPort     int    `yaml:"db_port"`
	DBUser     string `yaml:"db_user"`
	DBPassword string `yaml:"db_password"`
	DBName     string `yaml:"db_name"`

	ArchiveType string `yaml:"archive_type"`
	ArchivePath string `yaml:"archive_path"`

	XRayEnabled bool `yaml:"xray_enabled"`

	// MemoryBytes is MemoryLimit parsed; filled in by Load.
	MemoryBytes int64 `yaml:"-"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		ServerPort:       "8080",
		LogLevel:         "info",
		LogFormat:        "json",
		CacheTTL:         10 * time.Minute,
		DefaultTimeout:   30 * time.Second,
		MaxTimeout:       5 * time.Minute,
		Image:            "nikolaik/python-nodejs:python3.12-nodejs20-slim",
		MemoryLimit:      "512m",
		CPULimit:         1.0,
		PidsLimit:        128,
		WorkspaceRoot:    "/tmp/sandbox",
		MaxSessions:      50,
		SessionIdleTTL:   30 * time.Minute,
		ReapInterval:     time.Minute,
		SafetyCheckShell: true,
		MaxOutputBytes:   1 << 20,
		DBPort:           5432,
		DBUser:           "sandbox",
		DBPassword:       "sandbox",
		DBName:           "sandbox",
	}
}

// Load resolves the configuration for the given command-line arguments
// (without the program name).
func Load(args []string) (*Config, error) {
	cfg := Default()

	flags := pflag.NewFlagSet("sandbox-runner", pflag.ContinueOnError)
	configFile := flags.String("config", getEnv("CONFIG_FILE", ""), "path to a YAML config file")
	port := flags.String("port", "", "HTTP listen port")
	logLevel := flags.String("log-level", "", "log level (debug, info, warn, error)")
	redisURL := flags.String("redis-url", "", "result cache connection string")
	image := flags.String("image", "", "default container image")
	workspaceRoot := flags.String("workspace-root", "", "directory holding execution workspaces")
	maxSessions := flags.Int("max-sessions", 0, "maximum simultaneous executions")
	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	if *configFile != "" {
		if err := cfg.loadFile(*configFile); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if *port != "" {
		cfg.ServerPort = *port
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *redisURL != "" {
		cfg.RedisURL = *redisURL
	}
	if *image != "" {
		cfg.Image = *image
	}
	if *workspaceRoot != "" {
		cfg.WorkspaceRoot = *workspaceRoot
	}
	if *maxSessions > 0 {
		cfg.MaxSessions = *maxSessions
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.ServerPort = getEnv("SERVER_PORT", c.ServerPort)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)

	c.RedisURL = getEnv("REDIS_URL", c.RedisURL)
	if host := os.Getenv("REDIS_HOST"); host != "" && c.RedisURL == "" {
		c.RedisURL = fmt.Sprintf("redis://%s:%s/0", host, getEnv("REDIS_PORT", "6379"))
	}

	c.Image = getEnv("SANDBOX_IMAGE", c.Image)
	c.PythonImage = getEnv("PYTHON_IMAGE", c.PythonImage)
	c.NodeImage = getEnv("NODE_IMAGE", c.NodeImage)
	c.MemoryLimit = getEnv("MEMORY_LIMIT", c.MemoryLimit)
	c.DockerHost = getEnv("DOCKER_HOST", c.DockerHost)
	c.WorkspaceRoot = getEnv("WORKSPACE_ROOT", c.WorkspaceRoot)
	c.HostWorkspaceRoot = getEnv("HOST_WORKSPACE_ROOT", c.HostWorkspaceRoot)

	c.DBHost = getEnv("DB_HOST", c.DBHost)
	c.DBUser = getEnv("DB_USER", c.DBUser)
	c.DBPassword = getEnv("DB_PASSWORD", c.DBPassword)
	c.DBName = getEnv("DB_NAME", c.DBName)

	c.ArchiveType = getEnv("ARCHIVE_TYPE", c.ArchiveType)
	c.ArchivePath = getEnv("ARCHIVE_PATH", c.ArchivePath)

	var err error
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"CACHE_TTL", &c.CacheTTL},
		{"DEFAULT_TIMEOUT", &c.DefaultTimeout},
		{"MAX_TIMEOUT", &c.MaxTimeout},
		{"SESSION_IDLE_TTL", &c.SessionIdleTTL},
		{"REAP_INTERVAL", &c.ReapInterval},
	}
	for _, d := range durations {
		if *d.dst, err = getEnvDuration(d.key, *d.dst); err != nil {
			return err
		}
	}

	if c.CPULimit, err = getEnvFloat("CPU_LIMIT", c.CPULimit); err != nil {
		return err
	}
	var pids int
	if pids, err = getEnvInt("PIDS_LIMIT", int(c.PidsLimit)); err != nil {
		return err
	}
	c.PidsLimit = int64(pids)
	if c.MaxSessions, err = getEnvInt("MAX_SESSIONS", c.MaxSessions); err != nil {
		return err
	}
	if c.MaxOutputBytes, err = getEnvInt("MAX_OUTPUT_BYTES", c.MaxOutputBytes); err != nil {
		return err
	}
	if c.DBPort, err = getEnvInt("DB_PORT", c.DBPort); err != nil {
		return err
	}
	if c.SafetyCheckShell, err = getEnvBool("SAFETY_CHECK_SHELL", c.SafetyCheckShell); err != nil {
		return err
	}
	if c.XRayEnabled, err = getEnvBool("XRAY_ENABLED", c.XRayEnabled); err != nil {
		return err
	}
	return nil
}

func (c *Config) validate() error {
	mem, err := units.RAMInBytes(c.MemoryLimit)
	if err != nil {
		return fmt.Errorf("invalid memory limit %q: %w", c.MemoryLimit, err)
	}
	if mem <= 0 {
		return fmt.Errorf("memory limit must be positive, got %q", c.MemoryLimit)
	}
	c.MemoryBytes = mem

	if c.CPULimit <= 0 {
		return fmt.Errorf("cpu limit must be positive, got %v", c.CPULimit)
	}
	if c.DefaultTimeout <= 0 {
		return fmt.Errorf("default timeout must be positive, got %v", c.DefaultTimeout)
	}
	if c.MaxTimeout < c.DefaultTimeout {
		c.MaxTimeout = c.DefaultTimeout
	}
	if c.MaxSessions <= 0 {
		return fmt.Errorf("max sessions must be positive, got %d", c.MaxSessions)
	}
	if c.Image == "" {
		return fmt.Errorf("container image is required")
	}
	if c.PythonImage == "" {
		c.PythonImage = c.Image
	}
	if c.NodeImage == "" {
		c.NodeImage = c.Image
	}
	switch c.ArchiveType {
	case "", "local", "s3":
	default:
		return fmt.Errorf("unknown archive type: %s", c.ArchiveType)
	}
	if c.ArchiveType != "" && c.ArchivePath == "" {
		return fmt.Errorf("archive path is required for archive type %s", c.ArchiveType)
	}
	return nil
}

// CacheEnabled reports whether a cache connection string was configured.
func (c *Config) CacheEnabled() bool { return c.RedisURL != "" }

// HistoryEnabled reports whether execution history goes to Postgres.
func (c *Config) HistoryEnabled() bool { return c.DBHost != "" }

// NanoCPUs converts CPULimit to the container engine's unit.
func (c *Config) NanoCPUs() int64 { return int64(c.CPULimit * 1e9) }

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func getEnvBool(key string, defaultValue bool) (bool, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"docclassifier/internal/oracle"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultPort          = 8080
	defaultDataDir       = "data"
	defaultLogLevel      = "info"
	defaultLogCapacity   = 2000
	defaultOracleBaseURL = oracle.DefaultBaseURL
	defaultOracleModel   = oracle.DefaultModel
	defaultOracleTimeout = 120 * time.Second
	defaultPdftoppm      = "pdftoppm"
	defaultDPI           = 150
	defaultSleepSec      = 3.0
	maxDPI               = 1200
)

// Config describes runtime configuration for the service.
type Config struct {
	Port              int            `yaml:"port"`
	DataDir           string         `yaml:"data_dir"`
	LogLevel          string         `yaml:"log_level"`
	MaxConcurrentJobs int            `yaml:"max_concurrent_jobs"`
	LogCapacity       int            `yaml:"log_capacity"`
	CORS              CORSConfig     `yaml:"cors"`
	Oracle            OracleConfig   `yaml:"oracle"`
	Render            RenderConfig   `yaml:"render"`
	Pipeline          PipelineConfig `yaml:"pipeline"`
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type OracleConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

type RenderConfig struct {
	Pdftoppm string `yaml:"pdftoppm"`
	DPI      int    `yaml:"dpi"`
}

type PipelineConfig struct {
	SleepSec float64 `yaml:"sleep_sec"`
}

// Delay is the pause between classified pages.
func (p PipelineConfig) Delay() time.Duration {
	return time.Duration(p.SleepSec * float64(time.Second))
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Port:        defaultPort,
		DataDir:     defaultDataDir,
		LogLevel:    defaultLogLevel,
		LogCapacity: defaultLogCapacity,
		Oracle: OracleConfig{
			BaseURL: defaultOracleBaseURL,
			Model:   defaultOracleModel,
			Timeout: defaultOracleTimeout,
		},
		Render:   RenderConfig{Pdftoppm: defaultPdftoppm, DPI: defaultDPI},
		Pipeline: PipelineConfig{SleepSec: defaultSleepSec},
	}
}

// Load reads YAML config from the provided path, then applies a .env file
// and environment overrides. If the file does not exist or is empty,
// defaults are used.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, errors.New("empty config path")
	}
	fileData, err := os.ReadFile(path) //nolint:gosec // config path is controlled by deployment
	if err != nil && !os.IsNotExist(err) {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if len(fileData) > 0 {
		if err := yaml.Unmarshal(fileData, &cfg); err != nil {
			return cfg, fmt.Errorf("parse yaml: %w", err)
		}
	}

	// .env is optional; real environment variables win over it
	_ = godotenv.Load()
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}

	normalize(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if v := strings.TrimSpace(os.Getenv("GROQ_API_KEY")); v != "" {
		cfg.Oracle.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("ORACLE_BASE_URL")); v != "" {
		cfg.Oracle.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("DATA_DIR")); v != "" {
		cfg.DataDir = v
	}
	if v := strings.TrimSpace(os.Getenv("PORT")); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PORT: %q", v)
		}
		cfg.Port = port
	}
	return nil
}

func normalize(cfg *Config) {
	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	if cfg.DataDir == "" {
		cfg.DataDir = defaultDataDir
	}
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaultLogLevel
	}
	if cfg.LogCapacity == 0 {
		cfg.LogCapacity = defaultLogCapacity
	}
	if cfg.Oracle.BaseURL == "" {
		cfg.Oracle.BaseURL = defaultOracleBaseURL
	}
	if cfg.Oracle.Model == "" {
		cfg.Oracle.Model = defaultOracleModel
	}
	if cfg.Oracle.Timeout == 0 {
		cfg.Oracle.Timeout = defaultOracleTimeout
	}
	if cfg.Render.Pdftoppm == "" {
		cfg.Render.Pdftoppm = defaultPdftoppm
	}
	if cfg.Render.DPI == 0 {
		cfg.Render.DPI = defaultDPI
	}
	origins := make([]string, 0, len(cfg.CORS.AllowedOrigins))
	for _, o := range cfg.CORS.AllowedOrigins {
		if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
			origins = append(origins, o)
		}
	}
	cfg.CORS.AllowedOrigins = origins
}

func validate(cfg Config) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.MaxConcurrentJobs < 0 {
		return fmt.Errorf("invalid max_concurrent_jobs: %d (must be >= 0)", cfg.MaxConcurrentJobs)
	}
	if cfg.LogCapacity < 1 {
		return fmt.Errorf("invalid log_capacity: %d (must be >= 1)", cfg.LogCapacity)
	}
	if cfg.Oracle.Timeout < 0 {
		return fmt.Errorf("invalid oracle.timeout: %s", cfg.Oracle.Timeout)
	}
	if cfg.Render.DPI < 1 || cfg.Render.DPI > maxDPI {
		return fmt.Errorf("invalid render.dpi: %d (must be 1..%d)", cfg.Render.DPI, maxDPI)
	}
	if cfg.Pipeline.SleepSec < 0 {
		return fmt.Errorf("invalid pipeline.sleep_sec: %v (must be >= 0)", cfg.Pipeline.SleepSec)
	}
	switch cfg.LogLevel {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level: %q", cfg.LogLevel)
	}
	return nil
}

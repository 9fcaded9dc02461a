package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/raphaelgruber/datafuse-go/internal/fusion"
)

// Config holds all configuration values.
type Config struct {
	// HTTP server
	ListenAddr     string        `yaml:"listen_addr"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxBodyBytes   int64         `yaml:"max_body_bytes"`
	RateLimit      int           `yaml:"rate_limit"`
	CORSOrigins    []string      `yaml:"cors_origins"`
	JWTSecret      string        `yaml:"jwt_secret"`

	// Async jobs
	JobTTL time.Duration `yaml:"job_ttl"`

	// Engine defaults, overridable per request
	PreferAutoBackend bool  `yaml:"prefer_auto_backend"`
	RandomSeed        int64 `yaml:"random_seed"`
	CVFolds           int   `yaml:"cv_folds"`
	EnsembleSize      int   `yaml:"ensemble_size"`
	SparseEncoding    bool  `yaml:"sparse_encoding"`
	MaxCardinality    int   `yaml:"max_cardinality"`
	WarnCardinality   bool  `yaml:"warn_cardinality"`
	Parallelism       int   `yaml:"parallelism"`

	// Logging
	LogFile  string     `yaml:"log_file"`
	LogLevel slog.Level `yaml:"-"`

	LogLevelName string `yaml:"log_level"`
}

// Load reads configuration from environment variables, optionally layered
// over a YAML file named by DFML_CONFIG_FILE. Environment wins over file,
// file wins over defaults.
func Load() (Config, error) {
	cfg := Config{
		ListenAddr:     ":8080",
		RequestTimeout: 120 * time.Second,
		MaxBodyBytes:   32 << 20,
		RateLimit:      60,
		CORSOrigins:    []string{"*"},
		JobTTL:         time.Hour,

		PreferAutoBackend: true,
		RandomSeed:        42,
		CVFolds:           3,
		EnsembleSize:      300,
		SparseEncoding:    true,
		MaxCardinality:    100,
		WarnCardinality:   true,

		LogFile:      getEnv("DFML_LOG_FILE", "/tmp/datafuse.log"),
		LogLevelName: "INFO",
	}

	if path := os.Getenv("DFML_CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	cfg.ListenAddr = getEnv("DFML_LISTEN_ADDR", cfg.ListenAddr)
	cfg.JWTSecret = getEnv("DFML_JWT_SECRET", cfg.JWTSecret)
	cfg.LogFile = getEnv("DFML_LOG_FILE", cfg.LogFile)
	cfg.LogLevelName = getEnv("DFML_LOG_LEVEL", cfg.LogLevelName)
	cfg.LogLevel = parseLogLevel(cfg.LogLevelName)

	var err error
	if cfg.RequestTimeout, err = getEnvDuration("DFML_REQUEST_TIMEOUT", cfg.RequestTimeout); err != nil {
		return cfg, err
	}
	if cfg.JobTTL, err = getEnvDuration("DFML_JOB_TTL", cfg.JobTTL); err != nil {
		return cfg, err
	}
	if cfg.MaxBodyBytes, err = getEnvInt64("DFML_MAX_BODY_BYTES", cfg.MaxBodyBytes); err != nil {
		return cfg, err
	}
	if cfg.RateLimit, err = getEnvInt("DFML_RATE_LIMIT", cfg.RateLimit); err != nil {
		return cfg, err
	}
	if origins := os.Getenv("DFML_CORS_ORIGINS"); origins != "" {
		cfg.CORSOrigins = splitTrim(origins)
	}

	if cfg.RandomSeed, err = getEnvInt64("DFML_RANDOM_SEED", cfg.RandomSeed); err != nil {
		return cfg, err
	}
	if cfg.CVFolds, err = getEnvInt("DFML_CV_FOLDS", cfg.CVFolds); err != nil {
		return cfg, err
	}
	if cfg.EnsembleSize, err = getEnvInt("DFML_ENSEMBLE_SIZE", cfg.EnsembleSize); err != nil {
		return cfg, err
	}
	if cfg.MaxCardinality, err = getEnvInt("DFML_MAX_CARDINALITY", cfg.MaxCardinality); err != nil {
		return cfg, err
	}
	if cfg.Parallelism, err = getEnvInt("DFML_PARALLELISM", cfg.Parallelism); err != nil {
		return cfg, err
	}
	if v := os.Getenv("DFML_PREFER_AUTO"); v != "" {
		cfg.PreferAutoBackend = v == "true" || v == "1"
	}
	if v := os.Getenv("DFML_SPARSE_ENCODING"); v != "" {
		cfg.SparseEncoding = v == "true" || v == "1"
	}
	if v := os.Getenv("DFML_WARN_CARDINALITY"); v != "" {
		cfg.WarnCardinality = v == "true" || v == "1"
	}

	return cfg, nil
}

// Engine converts the service defaults into an engine config.
func (c Config) Engine() fusion.Config {
	return fusion.Config{
		PreferAutoBackend:     c.PreferAutoBackend,
		RandomSeed:            c.RandomSeed,
		CVFolds:               c.CVFolds,
		EnsembleSize:          c.EnsembleSize,
		SparseEncoding:        c.SparseEncoding,
		MaxCardinality:        c.MaxCardinality,
		WarnOnHighCardinality: c.WarnCardinality,
		Parallelism:           c.Parallelism,
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvInt64(key string, defaultVal int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func splitTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

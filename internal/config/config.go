// Package config loads server configuration from YAML with environment
// variable overrides for secrets and deployment-specific values.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"librarian/pkg/domain"
)

const defaultConfigPath = "config.yaml"

// Config represents configuration loaded from YAML.
type Config struct {
	Port        string `yaml:"port"`
	DatabaseURL string `yaml:"databaseURL"`
	LogLevel    string `yaml:"logLevel"`

	JWTSecret       string `yaml:"jwtSecret"`
	SessionTTLHours int    `yaml:"sessionTTLHours"`

	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`

	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`

	AllowedOrigins []string `yaml:"allowedOrigins"`
	TrustedProxies []string `yaml:"trustedProxies"`

	LoginRateLimit      int `yaml:"loginRateLimit"`
	LoginRateWindowSecs int `yaml:"loginRateWindowSecs"`
	NotifyWorkerCount   int `yaml:"notifyWorkerCount"`

	Policy PolicyConfig `yaml:"loanPolicy"`
}

// PolicyConfig overrides the circulation policy. Zero fields keep defaults.
type PolicyConfig struct {
	LoanDays       int     `yaml:"loanDays"`
	RenewalDays    int     `yaml:"renewalDays"`
	MaxRenewals    int     `yaml:"maxRenewals"`
	MaxActiveLoans int     `yaml:"maxActiveLoans"`
	FinePerDay     float64 `yaml:"finePerDay"`
}

// LoanPolicy merges the configured overrides over the default policy.
func (c Config) LoanPolicy() domain.LoanPolicy {
	policy := domain.DefaultLoanPolicy()
	if c.Policy.LoanDays > 0 {
		policy.LoanDays = c.Policy.LoanDays
	}
	if c.Policy.RenewalDays > 0 {
		policy.RenewalDays = c.Policy.RenewalDays
	}
	if c.Policy.MaxRenewals > 0 {
		policy.MaxRenewals = c.Policy.MaxRenewals
	}
	if c.Policy.MaxActiveLoans > 0 {
		policy.MaxActiveLoans = c.Policy.MaxActiveLoans
	}
	if c.Policy.FinePerDay > 0 {
		policy.FinePerDay = c.Policy.FinePerDay
	}
	return policy
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (Config, error) {
	cfg := Config{}
	if path == "" {
		path = defaultConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	applyEnvOverrides(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.MinioEndpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.MinioAccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.MinioSecretKey = v
	}
	if v := os.Getenv("MINIO_BUCKET"); v != "" {
		cfg.MinioBucket = v
	}
	if v := os.Getenv("MINIO_USE_SSL"); v == "true" {
		cfg.MinioUseSSL = true
	}
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = splitCSV(v)
	}
	if v := os.Getenv("TRUSTED_PROXIES"); v != "" {
		cfg.TrustedProxies = splitCSV(v)
	}
	if v := os.Getenv("SESSION_TTL_HOURS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SessionTTLHours = n
		}
	}
}

func validateConfig(cfg Config) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if cfg.JWTSecret == "" {
		return errors.New("config: jwtSecret is required (set in config.yaml or JWT_SECRET)")
	}
	if len(cfg.JWTSecret) < 16 {
		return errors.New("config: jwtSecret must be at least 16 characters")
	}
	if cfg.Policy.FinePerDay < 0 {
		return errors.New("config: loanPolicy.finePerDay cannot be negative")
	}
	return nil
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
port: "8080"
databaseURL: "postgres://localhost/librarian"
jwtSecret: "0123456789abcdef"
loanPolicy:
  loanDays: 7
  finePerDay: 1.25
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "8080" {
		t.Fatalf("port = %q", cfg.Port)
	}
	policy := cfg.LoanPolicy()
	if policy.LoanDays != 7 {
		t.Fatalf("loanDays = %d, want override", policy.LoanDays)
	}
	if policy.FinePerDay != 1.25 {
		t.Fatalf("finePerDay = %v, want override", policy.FinePerDay)
	}
	if policy.MaxRenewals != 2 || policy.MaxActiveLoans != 5 {
		t.Fatalf("unset policy fields should keep defaults, got %+v", policy)
	}
}

func TestLoadMissingRequiredFields(t *testing.T) {
	cases := map[string]string{
		"missing port":      "databaseURL: x\njwtSecret: 0123456789abcdef\n",
		"missing database":  "port: \"8080\"\njwtSecret: 0123456789abcdef\n",
		"missing jwtSecret": "port: \"8080\"\ndatabaseURL: x\n",
		"short jwtSecret":   "port: \"8080\"\ndatabaseURL: x\njwtSecret: short\n",
	}
	for name, content := range cases {
		if _, err := Load(writeConfig(t, content)); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://env-host/librarian")
	t.Setenv("JWT_SECRET", "env-secret-0123456789")

	path := writeConfig(t, `
port: "8080"
databaseURL: "postgres://file-host/librarian"
jwtSecret: "file-secret-0123456789"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DatabaseURL != "postgres://env-host/librarian" {
		t.Fatalf("databaseURL = %q, want env override", cfg.DatabaseURL)
	}
	if cfg.JWTSecret != "env-secret-0123456789" {
		t.Fatalf("jwtSecret = %q, want env override", cfg.JWTSecret)
	}
}

package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"

	"digestgenie/pkg/rbac"
	"digestgenie/pkg/util"
)

const baseYAML = `
jwt:
  secret: ${TEST_JWT_SECRET}
  ttl: 2h
mail:
  domain: newsletters.example.com
runner:
  max_attempts: 4
`

func writeConfigDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "base.yaml"), []byte(baseYAML), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "staging.yaml"), []byte("mail:\n  domain: staging.example.com\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "secrets.env"), []byte("TEST_JWT_SECRET=from-secrets\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	return dir
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return strings.TrimSpace(out.String()), err
}

func TestLoadConfigLayers(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("EMAIL_DOMAIN", "")
	dir := writeConfigDir(t)

	v := viper.New()
	v.Set("env", "staging")
	v.Set("config_dir", dir)
	cfg, err := LoadConfig(v)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Mail.Domain != "staging.example.com" {
		t.Fatalf("domain = %q, env overlay should win", cfg.Mail.Domain)
	}
	if cfg.JWT.Secret != "from-secrets" || cfg.JWT.TTL != 2*time.Hour {
		t.Fatalf("jwt = %+v", cfg.JWT)
	}
	if cfg.Runner.MaxAttempts != 4 || cfg.Runner.BatchSize != 5 {
		t.Fatalf("runner = %+v", cfg.Runner)
	}
}

func TestTokenCommand(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	dir := writeConfigDir(t)

	out, err := run(t, "token", "--config-dir", dir, "--role", rbac.RoleOperator, "--subject", "alice")
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	claims, err := util.ParseJWT(out, "from-secrets")
	if err != nil {
		t.Fatalf("ParseJWT(%q): %v", out, err)
	}
	if claims.Subject != "alice" || claims.Role != rbac.RoleOperator {
		t.Fatalf("claims = %+v", claims)
	}
	if ttl := claims.ExpiresAt.Sub(claims.IssuedAt.Time); ttl != 2*time.Hour {
		t.Fatalf("ttl = %v, want the configured jwt.ttl", ttl)
	}
}

func TestTokenCommandRejectsUnknownRole(t *testing.T) {
	dir := writeConfigDir(t)
	if _, err := run(t, "token", "--config-dir", dir, "--role", "root"); err == nil {
		t.Fatal("expected an error for an unknown role")
	}
}

func TestConfigDirFromEnv(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("CONFIG_DIR", writeConfigDir(t))

	out, err := run(t, "token")
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if _, err := util.ParseJWT(out, "from-secrets"); err != nil {
		t.Fatalf("token not signed with the secret from CONFIG_DIR: %v", err)
	}
}

func TestHashPasswordCommand(t *testing.T) {
	out, err := run(t, "hash-password", "hunter2")
	if err != nil {
		t.Fatalf("hash-password: %v", err)
	}
	if !util.CheckPassword("hunter2", out) {
		t.Fatalf("hash %q does not match", out)
	}
}

func TestCommandsRequireArguments(t *testing.T) {
	for _, args := range [][]string{{"reprocess"}, {"address"}, {"flags", "set"}, {"jobs", "retry"}, {"outbox", "replay"}} {
		if _, err := run(t, args...); err == nil {
			t.Fatalf("%v: expected an argument error", args)
		}
	}
}

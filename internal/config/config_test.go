package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeProfile(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, FileName)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAppliesDefaultsAndResolvesLocalRoot(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, `
local_root: "."
remote_root: /srv/app
server: example.com
username: deploy
`)

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != defaultPort {
		t.Fatalf("expected default port %d, got %d", defaultPort, cfg.Port)
	}
	if cfg.ChangeThreshold != 180*time.Second {
		t.Fatalf("expected default change threshold 180s, got %v", cfg.ChangeThreshold)
	}
	if cfg.PollInterval != 5*time.Second || cfg.PollTimeout != 120*time.Second {
		t.Fatalf("unexpected poll defaults: interval=%v timeout=%v", cfg.PollInterval, cfg.PollTimeout)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LocalRoot != abs {
		t.Fatalf("expected local_root resolved to %s, got %s", abs, cfg.LocalRoot)
	}
}

func TestLoadInterpolatesEnvWithOSPrecedence(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, `
local_root: "."
remote_root: /srv/app
server: ${SYNC_HOST}
username: ${SYNC_USER}
`)
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("SYNC_HOST=from-dotenv\nSYNC_USER=from-dotenv-user\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SYNC_HOST", "from-os-env")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server != "from-os-env" {
		t.Fatalf("expected OS env to take precedence, got %q", cfg.Server)
	}
	if cfg.Username != "from-dotenv-user" {
		t.Fatalf("expected .env fallback, got %q", cfg.Username)
	}
}

func TestLoadMissingRequiredFieldsFailsValidation(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, `
local_root: "."
`)

	_, err := Load(dir)
	if err == nil {
		t.Fatal("expected validation error")
	}
	ve, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("expected *ValidationError, got %T: %v", err, err)
	}
	if len(ve.Problems) < 2 {
		t.Fatalf("expected multiple accumulated problems, got %v", ve.Problems)
	}
}

func TestLoadRejectsPushOnlyAndPullOnlyTogether(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, `
local_root: "."
remote_root: /srv/app
server: example.com
username: deploy
push_only: true
pull_only: true
`)

	_, err := Load(dir)
	if err == nil {
		t.Fatal("expected validation error for mutually exclusive flags")
	}
}

func TestLoadRejectsMissingPrivateKeyFile(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, `
local_root: "."
remote_root: /srv/app
server: example.com
username: deploy
private_key: /nonexistent/id_rsa
`)

	_, err := Load(dir)
	if err == nil {
		t.Fatal("expected validation error for missing private key file")
	}
}

func TestInterpolateEnvReportsMissingNames(t *testing.T) {
	out, missing := interpolateEnv("host=${H}", map[string]string{})
	if out != "host=" {
		t.Fatalf("expected empty substitution, got %q", out)
	}
	if len(missing) != 1 || missing[0] != "H" {
		t.Fatalf("expected missing=[H], got %v", missing)
	}
}

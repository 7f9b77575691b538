package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Server.Addr != ":8090" {
		t.Errorf("Server.Addr = %q, want :8090", cfg.Server.Addr)
	}
	if cfg.Worker.StopTimeout != 10*time.Second {
		t.Errorf("Worker.StopTimeout = %v, want 10s", cfg.Worker.StopTimeout)
	}
	if cfg.Logs.Capacity != 200 {
		t.Errorf("Logs.Capacity = %d, want 200", cfg.Logs.Capacity)
	}
	if cfg.Logs.Heartbeat != 5*time.Second {
		t.Errorf("Logs.Heartbeat = %v, want 5s", cfg.Logs.Heartbeat)
	}
	if cfg.Runner.DequeueWait != time.Second {
		t.Errorf("Runner.DequeueWait = %v, want 1s", cfg.Runner.DequeueWait)
	}
	if err := Validate(cfg); err != nil {
		t.Errorf("Defaults should validate: %v", err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load missing file: %v", err)
	}
	if cfg.Logs.Capacity != 200 {
		t.Errorf("Logs.Capacity = %d, want default 200", cfg.Logs.Capacity)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9000"
worker:
  command: "/usr/local/bin/worker"
  stop_timeout: 5s
logs:
  capacity: 50
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":9000" {
		t.Errorf("Server.Addr = %q, want :9000", cfg.Server.Addr)
	}
	if cfg.Worker.Command != "/usr/local/bin/worker" {
		t.Errorf("Worker.Command = %q", cfg.Worker.Command)
	}
	if cfg.Worker.StopTimeout != 5*time.Second {
		t.Errorf("Worker.StopTimeout = %v, want 5s", cfg.Worker.StopTimeout)
	}
	if cfg.Logs.Capacity != 50 {
		t.Errorf("Logs.Capacity = %d, want 50", cfg.Logs.Capacity)
	}
	// Unset fields keep defaults.
	if cfg.Logs.Heartbeat != 5*time.Second {
		t.Errorf("Logs.Heartbeat = %v, want default 5s", cfg.Logs.Heartbeat)
	}
}

func TestLoadRejectsInsecurePermissions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  addr: \":1\"\n"), 0666); err != nil {
		t.Fatalf("write config: %v", err)
	}
	// os.WriteFile perm is masked by umask; force the mode the test needs.
	if err := os.Chmod(path, 0666); err != nil {
		t.Fatalf("chmod config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected permission error for 0666 config")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CARTPILOT_SERVER_ADDR", ":7777")
	t.Setenv("CARTPILOT_LOGS_CAPACITY", "99")
	t.Setenv("CARTPILOT_LOGGER_LEVEL", "debug")

	cfg := Defaults()
	ApplyEnvOverrides(cfg)

	if cfg.Server.Addr != ":7777" {
		t.Errorf("Server.Addr = %q, want :7777", cfg.Server.Addr)
	}
	if cfg.Logs.Capacity != 99 {
		t.Errorf("Logs.Capacity = %d, want 99", cfg.Logs.Capacity)
	}
	if cfg.Logger.Level != "debug" {
		t.Errorf("Logger.Level = %q, want debug", cfg.Logger.Level)
	}
}

func TestValidateRejectsBadSchedulerMode(t *testing.T) {
	cfg := Defaults()
	cfg.Scheduler.Tasks = []ScheduledTaskConfig{
		{Name: "nightly", Schedule: "0 2 * * *", Mode: "turbo"},
	}
	err := Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "mode") {
		t.Fatalf("expected mode validation error, got %v", err)
	}
}

func TestValidateRejectsStaticAuthWithoutTokens(t *testing.T) {
	cfg := Defaults()
	cfg.Server.Auth.Type = "static"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for static auth with no tokens")
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	const passphrase = "correct horse battery staple"
	const secret = "s3cr3t-password"

	encrypted, err := EncryptValue(secret, passphrase)
	if err != nil {
		t.Fatalf("EncryptValue: %v", err)
	}
	if encrypted == secret {
		t.Fatal("encrypted value equals plaintext")
	}

	decrypted, err := DecryptValue(encrypted, passphrase)
	if err != nil {
		t.Fatalf("DecryptValue: %v", err)
	}
	if decrypted != secret {
		t.Errorf("decrypted = %q, want %q", decrypted, secret)
	}

	if _, err := DecryptValue(encrypted, "wrong passphrase"); err == nil {
		t.Error("expected error decrypting with wrong passphrase")
	}
}

func TestLoadDecryptsSecrets(t *testing.T) {
	const passphrase = "panel-key"
	encrypted, err := EncryptValue("hunter2", passphrase)
	if err != nil {
		t.Fatalf("EncryptValue: %v", err)
	}

	path := writeConfig(t, `
automation:
  credentials:
    email: "user@example.com"
    password: "enc:`+encrypted+`"
`)
	t.Setenv("CARTPILOT_CONFIG_KEY", passphrase)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Automation.Credentials.Password != "hunter2" {
		t.Errorf("password = %q, want decrypted value", cfg.Automation.Credentials.Password)
	}
}

func TestSaveAndLoadAutomation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "automation.yaml")
	want := AutomationConfig{
		Search: SearchConfig{Product: "laptop", Query: "thinkpad x1", MinPrice: 500, MaxPrice: 2000},
		Run:    RunConfig{WaitTime: 2 * time.Second, MaxRetries: 5, Headless: true},
	}
	if err := SaveAutomation(path, want); err != nil {
		t.Fatalf("SaveAutomation: %v", err)
	}

	got, err := LoadAutomation(path)
	if err != nil {
		t.Fatalf("LoadAutomation: %v", err)
	}
	if got.Search.Query != "thinkpad x1" {
		t.Errorf("Search.Query = %q", got.Search.Query)
	}
	if got.Run.MaxRetries != 5 {
		t.Errorf("Run.MaxRetries = %d", got.Run.MaxRetries)
	}
}

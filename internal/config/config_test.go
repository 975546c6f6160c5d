package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != 8080 || cfg.Mode != "release" || cfg.SendBuffer != 256 {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.RoomTTL != 0 || cfg.SweepInterval != time.Minute || cfg.PingPeriod != 54*time.Second {
		t.Errorf("durations = %s %s %s", cfg.RoomTTL, cfg.SweepInterval, cfg.PingPeriod)
	}
	if cfg.RateLimit.Events != 200 || cfg.RateLimit.Interval != time.Second {
		t.Errorf("rate limit = %+v", cfg.RateLimit)
	}
	if cfg.Sandbox.Timeout != 15*time.Second || cfg.Store.S3.Prefix != "rooms/" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Backpressure != "kick" {
		t.Errorf("backpressure = %q", cfg.Backpressure)
	}
	if cfg.PongWait() != 60*time.Second {
		t.Errorf("pong wait = %s", cfg.PongWait())
	}
}

func TestLoadFileEnvAndFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.yaml")
	yaml := "port: 9000\nroom_ttl: 10m\nstore:\n  driver: sqlite\n  sqlite_path: /tmp/x.db\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CODEROOM_SEND_BUFFER", "8")
	t.Setenv("CODEROOM_SANDBOX_URL", "http://sandbox.local")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("mode", "", "")
	flags.Int("port", 0, "")
	if err := flags.Parse([]string{"--mode=debug"}); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path, flags)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != 9000 {
		t.Errorf("port = %d, want file value", cfg.Port)
	}
	if cfg.Mode != "debug" {
		t.Errorf("mode = %q, want flag value", cfg.Mode)
	}
	if cfg.RoomTTL != 10*time.Minute || cfg.Store.Driver != "sqlite" || cfg.Store.SQLitePath != "/tmp/x.db" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.SendBuffer != 8 || cfg.Sandbox.URL != "http://sandbox.local" {
		t.Errorf("env overrides not applied: %+v", cfg)
	}
}

func TestValidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.yaml")
	os.WriteFile(path, []byte("store:\n  driver: s3\n"), 0o644)
	if _, err := Load(path, nil); err == nil {
		t.Error("s3 driver without bucket accepted")
	}
	os.WriteFile(path, []byte("store:\n  driver: redis\n"), 0o644)
	if _, err := Load(path, nil); err == nil {
		t.Error("unknown driver accepted")
	}
	os.WriteFile(path, []byte("backpressure_policy: ignore\n"), 0o644)
	if _, err := Load(path, nil); err == nil {
		t.Error("unknown backpressure policy accepted")
	}
}

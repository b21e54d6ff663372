package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_EnvAndDotenv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	if err := os.WriteFile(envFile, []byte("PORT=7000\nROBOT_SECRET=from-file\nLOG_LEVEL=debug\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ROBOT_SECRET", "from-env")
	t.Setenv("TURN_INTERVAL", "40ms")
	// .env から読まれる値も終了時に戻るよう登録してから消す
	for _, key := range []string{"PORT", "LOG_LEVEL"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}

	cfg, err := Load(envFile)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != "7000" {
		t.Errorf("port = %q, want 7000", cfg.Port)
	}
	if cfg.RobotSecret != "from-env" {
		t.Errorf("secret = %q, environment must win over .env", cfg.RobotSecret)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("level = %v", cfg.LogLevel)
	}
	if cfg.TurnInterval != 40*time.Millisecond {
		t.Errorf("turn interval = %v", cfg.TurnInterval)
	}
	if cfg.ListenAddr() != "localhost:7000" {
		t.Errorf("listen addr = %q", cfg.ListenAddr())
	}
}

func TestLoad_MissingFileIsFine(t *testing.T) {
	t.Setenv("LOG_LEVEL", "warn")
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.env"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LogLevel != slog.LevelWarn {
		t.Errorf("level = %v", cfg.LogLevel)
	}
}

func TestLoad_BadLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "loud")
	if _, err := Load(filepath.Join(t.TempDir(), "absent.env")); err == nil {
		t.Error("Load accepted LOG_LEVEL=loud")
	}
}

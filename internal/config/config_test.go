package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/veilmsg/veil/internal/delivery"
)

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	cfg := Defaults()
	cfg.DefaultProfile = "work"
	cfg.BackendURL = "http://backend:9000"
	cfg.DeviceID = "dev-42"
	cfg.EnabledPaths = []string{"email"}
	cfg.AutoReply = true
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultProfile != "work" {
		t.Errorf("DefaultProfile = %q, want %q", loaded.DefaultProfile, "work")
	}
	if loaded.BackendURL != "http://backend:9000" {
		t.Errorf("BackendURL = %q, want overridden value", loaded.BackendURL)
	}
	if loaded.DeviceID != "dev-42" {
		t.Errorf("DeviceID = %q, want dev-42", loaded.DeviceID)
	}
	if !loaded.AutoReply {
		t.Error("AutoReply lost")
	}
	if !reflect.DeepEqual(loaded.EnabledPaths, []string{"email"}) {
		t.Errorf("EnabledPaths = %v, want [email]", loaded.EnabledPaths)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")
	if err := os.WriteFile(path, []byte(`device_id = "dev-1"`), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.BackendURL != "http://localhost:8000" {
		t.Errorf("BackendURL = %q, want default", cfg.BackendURL)
	}
	if cfg.PollIntervalSeconds != 2 {
		t.Errorf("PollIntervalSeconds = %d, want default 2", cfg.PollIntervalSeconds)
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if err == nil {
		t.Error("Load() expected error for missing file")
	}
}

func TestPathsNormalize(t *testing.T) {
	cfg := &Config{EnabledPaths: []string{"SMS", "send_email"}}
	want := []delivery.Path{delivery.PathSMS, delivery.PathEmail}
	if got := cfg.Paths(); !reflect.DeepEqual(got, want) {
		t.Errorf("Paths() = %v, want %v", got, want)
	}
}

func TestSavePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	if err := Save(path, Defaults()); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}

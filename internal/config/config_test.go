package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	cfg := Default()
	cfg.DefaultUser = "u1"
	cfg.WebhookSecret = "s3cret"
	cfg.DeviceToken = "dev-tok"
	cfg.RateLimit.RPS = 2.5
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultUser != "u1" || loaded.WebhookSecret != "s3cret" || loaded.DeviceToken != "dev-tok" || loaded.RateLimit.RPS != 2.5 {
		t.Errorf("Load() = %+v", loaded)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(`default_user = "u2"`+"\n"), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DefaultUser != "u2" || cfg.HTTPListen != Default().HTTPListen || cfg.RateLimit.Burst != 20 {
		t.Errorf("Load() = %+v, want defaults filled in", cfg)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := map[string]string{
		"unknown key":    "defualt_user = \"u1\"\n",
		"negative rps":   "[rate_limit]\nrps = -1\n",
		"invalid toml":   "default_user = \n",
		"wrong type":     "http_listen = 8080\n",
		"negative burst": "[rate_limit]\nburst = -3\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.toml")
			if err := os.WriteFile(path, []byte(body), 0600); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(path); err == nil {
				t.Error("Load() expected error")
			}
		})
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if err == nil {
		t.Error("Load() expected error for missing file")
	}
}

func TestSavePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	if err := Save(path, &Config{DefaultUser: "u1"}); err != nil {
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

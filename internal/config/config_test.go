package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Client.Command != "nms_client" {
		t.Errorf("default client command = %q", cfg.Client.Command)
	}
	if cfg.Client.Network != "IM" {
		t.Errorf("default network = %q", cfg.Client.Network)
	}
	if cfg.Sync.ForceRequestThreshold != 300 {
		t.Errorf("default threshold = %g", cfg.Sync.ForceRequestThreshold)
	}
	if !cfg.Sync.VerifyArchive {
		t.Error("archive verification must default on")
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vdmsync.yaml")
	writeFile(t, path, "client:\n  command: /opt/nms_client\nsync:\n  force_request_threshold: 600\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Client.Command != "/opt/nms_client" {
		t.Errorf("command = %q", cfg.Client.Command)
	}
	if cfg.Sync.ForceRequestThreshold != 600 {
		t.Errorf("threshold = %g", cfg.Sync.ForceRequestThreshold)
	}
	// untouched sections keep their defaults
	if cfg.Client.Network != "IM" {
		t.Errorf("network = %q, want default IM", cfg.Client.Network)
	}
}

func TestLoadRejectsBadThreshold(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vdmsync.yaml")
	writeFile(t, path, "sync:\n  force_request_threshold: 100000\n")
	if _, err := Load(path); err == nil {
		t.Error("threshold beyond one day must be rejected")
	}
}

func TestResolveHome(t *testing.T) {
	t.Run("flag wins", func(t *testing.T) {
		dir := t.TempDir()
		t.Setenv(HomeEnv, t.TempDir())

		home, err := ResolveHome(dir)
		if err != nil {
			t.Fatalf("ResolveHome: %v", err)
		}
		if home.Dir != dir {
			t.Errorf("Dir = %q, want the flag value %q", home.Dir, dir)
		}
	})

	t.Run("environment fallback", func(t *testing.T) {
		dir := t.TempDir()
		t.Setenv(HomeEnv, dir)

		home, err := ResolveHome("")
		if err != nil {
			t.Fatalf("ResolveHome: %v", err)
		}
		if home.Dir != dir {
			t.Errorf("Dir = %q, want %q", home.Dir, dir)
		}
	})

	t.Run("missing directory is an error", func(t *testing.T) {
		if _, err := ResolveHome(filepath.Join(t.TempDir(), "absent")); err == nil {
			t.Error("nonexistent home must be rejected")
		}
	})

	t.Run("file is not a home", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "file")
		writeFile(t, path, "x")
		if _, err := ResolveHome(path); err == nil {
			t.Error("a plain file must be rejected")
		}
	})
}

func TestHomePaths(t *testing.T) {
	home := Home{Dir: "/srv/vdmsync"}
	if home.QueueFile() != "/srv/vdmsync/queue.json" {
		t.Errorf("QueueFile = %q", home.QueueFile())
	}
	if home.DatabaseFile() != "/srv/vdmsync/vdmsync.db" {
		t.Errorf("DatabaseFile = %q", home.DatabaseFile())
	}
}

func TestLoadConfigWithoutFile(t *testing.T) {
	home := Home{Dir: t.TempDir()}
	cfg, err := home.LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Client.Command != "nms_client" {
		t.Errorf("missing file must yield defaults, got %q", cfg.Client.Command)
	}
}

func TestLoadDefaultsFiltersKeys(t *testing.T) {
	home := Home{Dir: t.TempDir()}
	writeFile(t, home.DefaultsFile(), `{
		"station": "I18*",
		"priority": 5,
		"client_kwargs": {"verify_archive": false},
		"bogus_key": 1,
		"sds_root": 42
	}`)

	defaults, err := home.LoadDefaults(nil)
	if err != nil {
		t.Fatalf("LoadDefaults: %v", err)
	}

	if defaults["station"] != "I18*" {
		t.Errorf("station = %v", defaults["station"])
	}
	if defaults["priority"] != 5.0 {
		t.Errorf("priority = %v", defaults["priority"])
	}
	if _, ok := defaults["client_kwargs"]; !ok {
		t.Error("client_kwargs dropped")
	}
	if _, ok := defaults["bogus_key"]; ok {
		t.Error("unknown key survived")
	}
	if _, ok := defaults["sds_root"]; ok {
		t.Error("sds_root with a non-string value survived")
	}
}

func TestLoadDefaultsMissingFile(t *testing.T) {
	home := Home{Dir: t.TempDir()}
	defaults, err := home.LoadDefaults(nil)
	if err != nil {
		t.Fatalf("LoadDefaults: %v", err)
	}
	if len(defaults) != 0 {
		t.Errorf("missing file defaults = %v, want empty", defaults)
	}
}

func TestSaveDefaultsRoundTrip(t *testing.T) {
	home := Home{Dir: t.TempDir()}
	in := map[string]any{"station": "I18*", "priority": 3.0}

	if err := home.SaveDefaults(in); err != nil {
		t.Fatalf("SaveDefaults: %v", err)
	}
	out, err := home.LoadDefaults(nil)
	if err != nil {
		t.Fatalf("LoadDefaults: %v", err)
	}
	if out["station"] != "I18*" || out["priority"] != 3.0 {
		t.Errorf("round trip lost values: %v", out)
	}

	if err := home.SaveDefaults(map[string]any{"bogus": 1}); err == nil {
		t.Error("unknown key must not be saved")
	}
}

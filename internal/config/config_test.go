package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"folio/internal/config"
)

func TestLoadDefaultConfigExpandsPathsAndUsesEnvFallbacks(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("XDG_CACHE_HOME", "")
	t.Setenv("FOLIO_SCANNER_DEVICE", "genesys:libusb:001:004")
	t.Setenv("TESSDATA_PREFIX", "/usr/share/tessdata")
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	if cfg.Paths.LibraryDir != filepath.Join(tempHome, "books") {
		t.Fatalf("unexpected library dir: %q", cfg.Paths.LibraryDir)
	}
	if cfg.Paths.ThumbnailDir != filepath.Join(tempHome, ".cache", "thumbnails") {
		t.Fatalf("unexpected thumbnail dir: %q", cfg.Paths.ThumbnailDir)
	}
	if cfg.Scanner.Device != "genesys:libusb:001:004" {
		t.Fatalf("expected scanner device from env, got %q", cfg.Scanner.Device)
	}
	if cfg.OCR.TessdataPrefix != "/usr/share/tessdata" {
		t.Fatalf("expected tessdata prefix from env, got %q", cfg.OCR.TessdataPrefix)
	}
	if cfg.API.Bind != "127.0.0.1:7490" {
		t.Fatalf("unexpected api bind: %q", cfg.API.Bind)
	}
	if cfg.Artifacts.Workers != config.Default().Artifacts.Workers {
		t.Fatalf("unexpected worker count: %d", cfg.Artifacts.Workers)
	}
	if cfg.AcquireTimeout().Seconds() != 120 {
		t.Fatalf("unexpected acquire timeout: %s", cfg.AcquireTimeout())
	}
}

func TestLoadCustomConfigOverridesValues(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("FOLIO_SCANNER_DEVICE", "from-env")

	configPath := filepath.Join(t.TempDir(), "config.toml")
	content := `
[paths]
library_dir = "~/scans"

[scanner]
backend = "FAKE"
device = "fake:0"
default_resolution = 400

[book]
extension = "jpg"
title = "volume"

[artifacts]
workers = 6

[metadata]
resolver = "none"

[logging]
format = "JSON"
level = "Debug"
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != configPath {
		t.Fatalf("expected explicit config to be loaded, got %q exists=%v", resolved, exists)
	}
	if cfg.Paths.LibraryDir != filepath.Join(tempHome, "scans") {
		t.Fatalf("unexpected library dir: %q", cfg.Paths.LibraryDir)
	}
	if cfg.Scanner.Backend != "fake" {
		t.Fatalf("expected backend normalized to fake, got %q", cfg.Scanner.Backend)
	}
	if cfg.Scanner.Device != "fake:0" {
		t.Fatalf("expected configured device to win over env, got %q", cfg.Scanner.Device)
	}
	if cfg.Scanner.DefaultResolution != 400 {
		t.Fatalf("unexpected resolution: %d", cfg.Scanner.DefaultResolution)
	}
	if cfg.Book.Extension != ".jpg" || cfg.Book.Title != "volume" {
		t.Fatalf("unexpected book settings: %+v", cfg.Book)
	}
	if cfg.Artifacts.Workers != 6 {
		t.Fatalf("unexpected workers: %d", cfg.Artifacts.Workers)
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Level != "debug" {
		t.Fatalf("unexpected logging settings: %+v", cfg.Logging)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"backend", func(c *config.Config) { c.Scanner.Backend = "twain" }, "scanner.backend"},
		{"timeout", func(c *config.Config) { c.Scanner.AcquireTimeout = 0 }, "scanner.acquire_timeout"},
		{"resolution", func(c *config.Config) { c.Scanner.DefaultResolution = -1 }, "scanner.default_resolution"},
		{"mode", func(c *config.Config) { c.Scanner.DefaultMode = "Sepia" }, "scanner.default_mode"},
		{"extension", func(c *config.Config) { c.Book.Extension = ".gif" }, "book.extension"},
		{"title", func(c *config.Config) { c.Book.Title = "a/b" }, "book.title"},
		{"workers", func(c *config.Config) { c.Artifacts.Workers = 0 }, "artifacts.workers"},
		{"resolver", func(c *config.Config) { c.Metadata.Resolver = "worldcat" }, "metadata.resolver"},
		{"base url", func(c *config.Config) { c.Metadata.BaseURL = "openlibrary.org" }, "metadata.base_url"},
		{"bind", func(c *config.Config) { c.API.Bind = " " }, "api.bind"},
		{"log format", func(c *config.Config) { c.Logging.Format = "xml" }, "logging.format"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}
}

func TestCreateSampleProducesLoadableConfig(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample returned error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	var decoded map[string]any
	if err := toml.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("sample config is not valid TOML: %v", err)
	}
	for _, section := range []string{"paths", "scanner", "book", "artifacts", "ocr", "metadata", "api", "logging"} {
		if _, ok := decoded[section]; !ok {
			t.Fatalf("sample config missing [%s] section", section)
		}
	}

	if _, _, _, err := config.Load(path); err != nil {
		t.Fatalf("sample config failed to load: %v", err)
	}
}

func TestEnsureDirectoriesCreatesLogAndThumbnailDirs(t *testing.T) {
	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.ThumbnailDir = filepath.Join(base, "thumbs")

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories returned error: %v", err)
	}
	for _, dir := range []string{cfg.Paths.LogDir, cfg.Paths.ThumbnailDir} {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			t.Fatalf("expected directory %q to exist: %v", dir, err)
		}
	}
}

func TestExpandPathHandlesTilde(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	got, err := config.ExpandPath("~/books/atlas")
	if err != nil {
		t.Fatalf("ExpandPath returned error: %v", err)
	}
	if got != filepath.Join(home, "books", "atlas") {
		t.Fatalf("unexpected expansion: %q", got)
	}
}

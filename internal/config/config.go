package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	LibraryDir   string `toml:"library_dir"`
	LogDir       string `toml:"log_dir"`
	ThumbnailDir string `toml:"thumbnail_dir"`
}

// Scanner contains configuration for the scan device adapter.
type Scanner struct {
	// Backend selects the device adapter: "sane" drives scanimage, "fake"
	// produces synthetic pages.
	Backend           string `toml:"backend"`
	Device            string `toml:"device"`
	Binary            string `toml:"binary"`
	AcquireTimeout    int    `toml:"acquire_timeout"`
	DefaultResolution int    `toml:"default_resolution"`
	DefaultMode       string `toml:"default_mode"`
	Hotplug           bool   `toml:"hotplug"`
}

// Book contains configuration for page image files written into a book folder.
type Book struct {
	Extension string `toml:"extension"`
	Title     string `toml:"title"`
}

// Artifacts contains configuration for the derived artifact pipeline.
type Artifacts struct {
	Workers       int    `toml:"workers"`
	// ThumbnailSize selects the freedesktop cache flavour: "normal" (128px) or "large" (256px).
	ThumbnailSize string `toml:"thumbnail_size"`
}

// OCR contains configuration for text extraction.
type OCR struct {
	TessdataPrefix  string `toml:"tessdata_prefix"`
	DefaultLanguage string `toml:"default_language"`
}

// Metadata contains configuration for bibliographic identifier resolution.
type Metadata struct {
	Resolver       string `toml:"resolver"`
	BaseURL        string `toml:"base_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// API contains configuration for the local HTTP API.
type API struct {
	Bind           string   `toml:"bind"`
	AllowedOrigins []string `toml:"allowed_origins"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for folio.
//
// Configuration sections by subsystem:
//   - Paths: library root, logs and the thumbnail cache
//   - Scanner: device backend, default acquisition parameters, hotplug
//   - Book: page image naming inside a book folder
//   - Artifacts: worker pool size for thumbnails and OCR
//   - OCR: tesseract data location and fallback language
//   - Metadata: ISBN resolver selection
//   - API: local HTTP API bind address and CORS origins
//   - Logging: log format and level
type Config struct {
	Paths     Paths     `toml:"paths"`
	Scanner   Scanner   `toml:"scanner"`
	Book      Book      `toml:"book"`
	Artifacts Artifacts `toml:"artifacts"`
	OCR       OCR       `toml:"ocr"`
	Metadata  Metadata  `toml:"metadata"`
	API       API       `toml:"api"`
	Logging   Logging   `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/folio/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("folio.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates directories folio writes into.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.LogDir, c.Paths.ThumbnailDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// AcquireTimeout returns the per-leaf acquisition timeout for the scanner backend.
func (c *Config) AcquireTimeout() time.Duration {
	return time.Duration(c.Scanner.AcquireTimeout) * time.Second
}

// MetadataTimeout returns the HTTP timeout used by the metadata resolver.
func (c *Config) MetadataTimeout() time.Duration {
	return time.Duration(c.Metadata.TimeoutSeconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

func defaultThumbnailDir() string {
	if base, ok := os.LookupEnv("XDG_CACHE_HOME"); ok && strings.TrimSpace(base) != "" {
		return filepath.Join(base, "thumbnails")
	}
	return "~/.cache/thumbnails"
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

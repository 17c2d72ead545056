package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateScanner(); err != nil {
		return err
	}
	if err := c.validateBook(); err != nil {
		return err
	}
	if err := c.validateArtifacts(); err != nil {
		return err
	}
	if err := c.validateMetadata(); err != nil {
		return err
	}
	if err := c.validateAPI(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateScanner() error {
	switch c.Scanner.Backend {
	case scannerBackendSane, scannerBackendFake:
	default:
		return fmt.Errorf("scanner.backend: unsupported value %q (expected sane or fake)", c.Scanner.Backend)
	}
	if c.Scanner.AcquireTimeout < minimumAcquireTimeoutSec {
		return errors.New("scanner.acquire_timeout must be positive (seconds)")
	}
	if c.Scanner.DefaultResolution <= 0 {
		return errors.New("scanner.default_resolution must be a positive DPI value")
	}
	switch strings.ToLower(c.Scanner.DefaultMode) {
	case "color", "grayscale", "gray", "lineart":
	default:
		return fmt.Errorf("scanner.default_mode: unsupported value %q (expected Color, Grayscale or Lineart)", c.Scanner.DefaultMode)
	}
	return nil
}

func (c *Config) validateBook() error {
	switch c.Book.Extension {
	case ".png", ".jpg", ".jpeg", ".tiff", ".tif":
	default:
		return fmt.Errorf("book.extension: cannot write %q page images", c.Book.Extension)
	}
	if strings.ContainsAny(c.Book.Title, `./\`) {
		return errors.New("book.title must not contain dots or path separators")
	}
	return nil
}

func (c *Config) validateArtifacts() error {
	if c.Artifacts.Workers <= 0 {
		return errors.New("artifacts.workers must be positive")
	}
	if c.Artifacts.Workers > maxArtifactWorkers {
		return fmt.Errorf("artifacts.workers must not exceed %d", maxArtifactWorkers)
	}
	switch c.Artifacts.ThumbnailSize {
	case "normal", "large":
	default:
		return fmt.Errorf("artifacts.thumbnail_size: unsupported value %q (expected normal or large)", c.Artifacts.ThumbnailSize)
	}
	return nil
}

func (c *Config) validateMetadata() error {
	switch c.Metadata.Resolver {
	case metadataResolverNone:
		return nil
	case metadataResolverOpenLib:
	default:
		return fmt.Errorf("metadata.resolver: unsupported value %q (expected openlibrary or none)", c.Metadata.Resolver)
	}
	if c.Metadata.TimeoutSeconds <= 0 {
		return errors.New("metadata.timeout_seconds must be positive")
	}
	if !strings.HasPrefix(c.Metadata.BaseURL, "http://") && !strings.HasPrefix(c.Metadata.BaseURL, "https://") {
		return fmt.Errorf("metadata.base_url must be an http(s) URL, got %q", c.Metadata.BaseURL)
	}
	return nil
}

func (c *Config) validateAPI() error {
	if strings.TrimSpace(c.API.Bind) == "" {
		return errors.New("api.bind must be set")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

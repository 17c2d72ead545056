package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeScanner()
	c.normalizeBook()
	c.Artifacts.ThumbnailSize = strings.ToLower(strings.TrimSpace(c.Artifacts.ThumbnailSize))
	if c.Artifacts.ThumbnailSize == "" {
		c.Artifacts.ThumbnailSize = defaultThumbnailSize
	}
	c.normalizeOCR()
	c.normalizeMetadata()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.LibraryDir, err = expandPath(c.Paths.LibraryDir); err != nil {
		return fmt.Errorf("paths.library_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.ThumbnailDir) == "" {
		c.Paths.ThumbnailDir = defaultThumbnailDir()
	}
	if c.Paths.ThumbnailDir, err = expandPath(c.Paths.ThumbnailDir); err != nil {
		return fmt.Errorf("paths.thumbnail_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeScanner() {
	c.Scanner.Backend = strings.ToLower(strings.TrimSpace(c.Scanner.Backend))
	if c.Scanner.Backend == "" {
		c.Scanner.Backend = defaultScannerBackend
	}
	c.Scanner.Device = strings.TrimSpace(c.Scanner.Device)
	if c.Scanner.Device == "" {
		if value, ok := os.LookupEnv("FOLIO_SCANNER_DEVICE"); ok {
			c.Scanner.Device = strings.TrimSpace(value)
		}
	}
	c.Scanner.Binary = strings.TrimSpace(c.Scanner.Binary)
	if c.Scanner.Binary == "" {
		c.Scanner.Binary = defaultScannerBinary
	}
	c.Scanner.DefaultMode = strings.TrimSpace(c.Scanner.DefaultMode)
	if c.Scanner.DefaultMode == "" {
		c.Scanner.DefaultMode = defaultScanMode
	}
}

func (c *Config) normalizeBook() {
	ext := strings.ToLower(strings.TrimSpace(c.Book.Extension))
	if ext == "" {
		ext = defaultBookExtension
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	c.Book.Extension = ext
	c.Book.Title = strings.TrimSpace(c.Book.Title)
	if c.Book.Title == "" {
		c.Book.Title = defaultBookTitle
	}
}

func (c *Config) normalizeOCR() {
	c.OCR.TessdataPrefix = strings.TrimSpace(c.OCR.TessdataPrefix)
	if c.OCR.TessdataPrefix == "" {
		if value, ok := os.LookupEnv("TESSDATA_PREFIX"); ok {
			c.OCR.TessdataPrefix = strings.TrimSpace(value)
		}
	}
	c.OCR.DefaultLanguage = strings.ToLower(strings.TrimSpace(c.OCR.DefaultLanguage))
	if c.OCR.DefaultLanguage == "" {
		c.OCR.DefaultLanguage = defaultOCRLanguage
	}
}

func (c *Config) normalizeMetadata() {
	c.Metadata.Resolver = strings.ToLower(strings.TrimSpace(c.Metadata.Resolver))
	if c.Metadata.Resolver == "" {
		c.Metadata.Resolver = defaultMetadataResolver
	}
	c.Metadata.BaseURL = strings.TrimRight(strings.TrimSpace(c.Metadata.BaseURL), "/")
	if c.Metadata.BaseURL == "" && c.Metadata.Resolver == metadataResolverOpenLib {
		c.Metadata.BaseURL = defaultMetadataBaseURL
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

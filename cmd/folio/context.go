package main

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"folio/internal/config"
	"folio/internal/engine"
	"folio/internal/logging"
	"folio/internal/ocr/tesseract"
)

type commandContext struct {
	configFlag *string
	bookFlag   *string
	jsonFlag   *bool

	configOnce sync.Once
	config     *config.Config
	configErr  error

	// managerOptions is applied after the command's own options.
	managerOptions func(*engine.Options)
}

func newCommandContext(configFlag, bookFlag *string, jsonFlag *bool) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		bookFlag:   bookFlag,
		jsonFlag:   jsonFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) jsonOutput() bool {
	return c.jsonFlag != nil && *c.jsonFlag
}

func (c *commandContext) bookPath() string {
	if c.bookFlag == nil || strings.TrimSpace(*c.bookFlag) == "" {
		return "."
	}
	path, err := config.ExpandPath(strings.TrimSpace(*c.bookFlag))
	if err != nil {
		return *c.bookFlag
	}
	return path
}

// logger writes to folio.log only, keeping command output clean. serve
// also logs to stderr.
func (c *commandContext) logger(withStderr bool) (*slog.Logger, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	if withStderr {
		return logging.NewFromConfig(cfg)
	}
	outputs := []string{filepath.Join(cfg.Paths.LogDir, logging.LogFileName)}
	return logging.New(logging.Options{
		Level:            cfg.Logging.Level,
		Format:           cfg.Logging.Format,
		OutputPaths:      outputs,
		ErrorOutputPaths: outputs,
	})
}

func (c *commandContext) newManager(logger *slog.Logger, customize func(*engine.Options)) (*engine.Manager, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	opts := engine.Options{
		Config: cfg,
		Logger: logger,
		OCR:    tesseract.New(cfg.OCR.TessdataPrefix),
	}
	if customize != nil {
		customize(&opts)
	}
	if c.managerOptions != nil {
		c.managerOptions(&opts)
	}
	return engine.NewManager(opts)
}

// withBook opens the book named by --book for the duration of fn.
func (c *commandContext) withBook(ctx context.Context, fn func(*engine.Engine) error) error {
	return c.withBookOptions(ctx, nil, fn)
}

func (c *commandContext) withBookOptions(ctx context.Context, customize func(*engine.Options), fn func(*engine.Engine) error) (err error) {
	logger, err := c.logger(false)
	if err != nil {
		return err
	}
	manager, err := c.newManager(logger, customize)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := manager.Close(); err == nil {
			err = closeErr
		}
	}()
	e, err := manager.Open(ctx, c.bookPath())
	if err != nil {
		return err
	}
	return fn(e)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}

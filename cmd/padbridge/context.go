package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"padbridge/internal/config"
	"padbridge/internal/exchange"
	"padbridge/internal/ipc"
	"padbridge/internal/launcher"
	"padbridge/internal/locator"
	"padbridge/internal/logging"
	"padbridge/internal/namedobj"
)

type commandContext struct {
	configFlag   *string
	logLevelFlag *string

	configOnce   sync.Once
	config       *config.Config
	configPath   string
	configExists bool
	configErr    error
}

func newCommandContext(configFlag, logLevelFlag *string) *commandContext {
	return &commandContext{
		configFlag:   configFlag,
		logLevelFlag: logLevelFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, exists, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if c.logLevelFlag != nil && strings.TrimSpace(*c.logLevelFlag) != "" {
			cfg.Logging.Level = strings.ToLower(strings.TrimSpace(*c.logLevelFlag))
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = resolved
		c.configExists = exists
	})
	return c.config, c.configErr
}

// primaryLogger is the full process logger: console plus the JSON log file.
func (c *commandContext) primaryLogger() (*slog.Logger, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return logging.NewFromConfig(cfg)
}

// clientLogger keeps short-lived invocations quiet unless asked otherwise.
func (c *commandContext) clientLogger() *slog.Logger {
	cfg, err := c.ensureConfig()
	if err != nil {
		return logging.NewNop()
	}
	level := "warn"
	if c.logLevelFlag != nil && strings.TrimSpace(*c.logLevelFlag) != "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{Level: level, Format: cfg.Logging.Format})
	if err != nil {
		return logging.NewNop()
	}
	return logger
}

func (c *commandContext) client() (*launcher.Client, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	ns, err := namedobj.OpenNamespace(cfg.Paths.RuntimeDir)
	if err != nil {
		return nil, fmt.Errorf("open runtime directory: %w", err)
	}
	return launcher.NewClient(cfg, ns, c.clientLogger()), nil
}

// wrapBridgeError turns subsystem errors into actionable CLI messages.
func wrapBridgeError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, locator.ErrNoPrimary):
		return fmt.Errorf("no padbridge primary is running; start one with `padbridge run`")
	case errors.Is(err, ipc.ErrMalformed):
		return fmt.Errorf("invalid command: %w", err)
	case errors.Is(err, exchange.ErrBusy):
		return fmt.Errorf("another query held the result exchange too long: %w", err)
	case errors.Is(err, exchange.ErrNoAnswer):
		return fmt.Errorf("primary did not answer in time: %w", err)
	case errors.Is(err, namedobj.ErrPermission):
		return fmt.Errorf("runtime directory not accessible: %w", err)
	default:
		return err
	}
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

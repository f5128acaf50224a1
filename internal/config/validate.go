package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateIPC(); err != nil {
		return err
	}
	if err := c.validateSlots(); err != nil {
		return err
	}
	if err := c.validateDevices(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.RuntimeDir) == "" {
		return errors.New("paths.runtime_dir must be set")
	}
	return nil
}

func (c *Config) validateIPC() error {
	label := c.IPC.DisplayLabel
	if len(label) > maxDisplayLabelLength {
		return fmt.Errorf("ipc.display_label must be at most %d characters", maxDisplayLabelLength)
	}
	for _, r := range label {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_') {
			return fmt.Errorf("ipc.display_label %q may only contain letters, digits, '-' and '_'", label)
		}
	}
	for name, value := range map[string]int{
		"ipc.exclusion_timeout_ms": c.IPC.ExclusionTimeoutMS,
		"ipc.notify_timeout_ms":    c.IPC.NotifyTimeoutMS,
		"ipc.dial_timeout_ms":      c.IPC.DialTimeoutMS,
		"ipc.delivery_timeout_ms":  c.IPC.DeliveryTimeoutMS,
	} {
		if value < 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if c.IPC.MaxCommandLength < 16 || c.IPC.MaxCommandLength > 64*1024 {
		return errors.New("ipc.max_command_length must be between 16 and 65536")
	}
	return nil
}

func (c *Config) validateSlots() error {
	if c.Slots.Count < 1 || c.Slots.Count > maxSlotCount {
		return fmt.Errorf("slots.count must be between 1 and %d", maxSlotCount)
	}
	if len(c.Slots.Profiles) > c.Slots.Count {
		return fmt.Errorf("slots.profiles lists %d entries but only %d slots exist", len(c.Slots.Profiles), c.Slots.Count)
	}
	for i, name := range append([]string{c.Slots.DefaultProfile}, c.Slots.Profiles...) {
		if strings.ContainsAny(name, "\x00\n") {
			if i == 0 {
				return errors.New("slots.default_profile contains control characters")
			}
			return fmt.Errorf("slots.profiles[%d] contains control characters", i-1)
		}
	}
	return nil
}

func (c *Config) validateDevices() error {
	switch c.Devices.Subsystem {
	case "hidraw", "input", "usb":
		return nil
	default:
		return fmt.Errorf("devices.subsystem %q is not supported (use hidraw, input or usb)", c.Devices.Subsystem)
	}
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format %q is not supported (use console or json)", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not supported", c.Logging.Level)
	}
	if c.Logging.RetentionDays < 0 {
		return errors.New("logging.retention_days must be zero or positive")
	}
	return nil
}

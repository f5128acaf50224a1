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
	c.normalizeIPC()
	c.normalizeSlots()
	c.normalizeDevices()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	if value, ok := os.LookupEnv(EnvRuntimeDir); ok && strings.TrimSpace(value) != "" {
		c.Paths.RuntimeDir = value
	}
	if strings.TrimSpace(c.Paths.RuntimeDir) == "" {
		c.Paths.RuntimeDir = defaultRuntimeDir()
	}
	var err error
	if c.Paths.RuntimeDir, err = expandPath(strings.TrimSpace(c.Paths.RuntimeDir)); err != nil {
		return fmt.Errorf("paths.runtime_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(strings.TrimSpace(c.Paths.LogDir)); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(strings.TrimSpace(c.Paths.StateDir)); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeIPC() {
	c.IPC.DisplayLabel = strings.TrimSpace(c.IPC.DisplayLabel)
	if c.IPC.DisplayLabel == "" {
		c.IPC.DisplayLabel = defaultDisplayLabel
	}
	if c.IPC.ExclusionTimeoutMS == 0 {
		c.IPC.ExclusionTimeoutMS = defaultExclusionTimeoutMS
	}
	if c.IPC.NotifyTimeoutMS == 0 {
		c.IPC.NotifyTimeoutMS = defaultNotifyTimeoutMS
	}
	if c.IPC.MaxCommandLength == 0 {
		c.IPC.MaxCommandLength = defaultMaxCommandLength
	}
	if c.IPC.DialTimeoutMS == 0 {
		c.IPC.DialTimeoutMS = defaultDialTimeoutMS
	}
	if c.IPC.DeliveryTimeoutMS == 0 {
		c.IPC.DeliveryTimeoutMS = defaultDeliveryTimeoutMS
	}
}

func (c *Config) normalizeSlots() {
	if c.Slots.Count == 0 {
		c.Slots.Count = defaultSlotCount
	}
	c.Slots.DefaultProfile = strings.TrimSpace(c.Slots.DefaultProfile)
	if c.Slots.DefaultProfile == "" {
		c.Slots.DefaultProfile = defaultProfile
	}
	for i, name := range c.Slots.Profiles {
		c.Slots.Profiles[i] = strings.TrimSpace(name)
	}
}

func (c *Config) normalizeDevices() {
	c.Devices.Subsystem = strings.ToLower(strings.TrimSpace(c.Devices.Subsystem))
	if c.Devices.Subsystem == "" {
		c.Devices.Subsystem = defaultDeviceSubsys
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

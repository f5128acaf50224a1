package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	defaultConfigPath = "~/.config/padbridge/config.toml"
	defaultLogDir     = "~/.local/state/padbridge/logs"
	defaultStateDir   = "~/.local/state/padbridge"

	defaultDisplayLabel       = "padbridge"
	defaultExclusionTimeoutMS = 10000
	defaultNotifyTimeoutMS    = 10000
	defaultMaxCommandLength   = 1024
	defaultDialTimeoutMS      = 2000
	defaultDeliveryTimeoutMS  = 5000

	defaultSlotCount      = 4
	defaultProfile        = "Default"
	defaultDeviceSubsys   = "hidraw"
	defaultLogFormat      = "console"
	defaultLogLevel       = "info"
	defaultRetentionDays  = 14
	maxSlotCount          = 8
	maxDisplayLabelLength = 32
)

// Environment variables consulted during Load.
const (
	EnvRuntimeDir = "PADBRIDGE_RUNTIME_DIR"
	EnvConfigPath = "PADBRIDGE_CONFIG"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			RuntimeDir: defaultRuntimeDir(),
			LogDir:     defaultLogDir,
			StateDir:   defaultStateDir,
		},
		IPC: IPC{
			DisplayLabel:       defaultDisplayLabel,
			ExclusionTimeoutMS: defaultExclusionTimeoutMS,
			NotifyTimeoutMS:    defaultNotifyTimeoutMS,
			MaxCommandLength:   defaultMaxCommandLength,
			DialTimeoutMS:      defaultDialTimeoutMS,
			DeliveryTimeoutMS:  defaultDeliveryTimeoutMS,
		},
		Slots: Slots{
			Count:          defaultSlotCount,
			DefaultProfile: defaultProfile,
			Persist:        true,
		},
		Devices: Devices{
			Monitor:   false,
			Subsystem: defaultDeviceSubsys,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultRetentionDays,
		},
	}
}

// defaultRuntimeDir prefers XDG_RUNTIME_DIR, which is per-user and tmpfs
// backed, and falls back to a uid-scoped directory under the temp dir.
func defaultRuntimeDir() string {
	if base := strings.TrimSpace(os.Getenv("XDG_RUNTIME_DIR")); base != "" {
		return filepath.Join(base, "padbridge")
	}
	return filepath.Join(os.TempDir(), fmt.Sprintf("padbridge-%d", os.Getuid()))
}

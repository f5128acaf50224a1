package preflight

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pilebones/go-udev/netlink"
	"golang.org/x/sys/unix"

	"padbridge/internal/config"
	"padbridge/internal/locator"
)

// maxSocketPath is the usable length of sun_path on Linux.
const maxSocketPath = 107

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckRuntimeDir verifies the named-object namespace: accessible, private to
// the owner, and short enough for the endpoint socket path.
func CheckRuntimeDir(cfg *config.Config) Result {
	const name = "Runtime directory"
	dir := cfg.Paths.RuntimeDir
	access := CheckDirectoryAccess(name, dir)
	if !access.Passed {
		return access
	}
	info, err := os.Stat(dir)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", dir, err)}
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: mode %04o is shared with other users; want 0700)", dir, perm)}
	}
	sample := filepath.Join(dir, locator.SocketName(cfg.IPC.DisplayLabel, locator.NewToken()))
	if len(sample) > maxSocketPath {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: socket path would be %d bytes; limit is %d)", dir, len(sample), maxSocketPath)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (private, socket path ok)", dir)}
}

// CheckHotplug verifies that a udev netlink socket can be opened.
func CheckHotplug(_ context.Context) Result {
	const name = "Controller hotplug"
	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("netlink unavailable (%v)", err)}
	}
	_ = conn.Close()
	return Result{Name: name, Passed: true, Detail: "udev netlink reachable"}
}

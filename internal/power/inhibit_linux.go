//go:build linux

package power

import (
	"os/exec"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

// DefaultHelper is the program launched when no binary is configured.
const DefaultHelper = "systemd-inhibit"

func platformCommand(binary string, opts Options) (*exec.Cmd, error) {
	path, err := lookPath(binary, DefaultHelper)
	if err != nil {
		return nil, err
	}

	args := []string{"--who=barista", "--why=Barista is active"}
	if what := inhibitWhat(opts); what != "" {
		args = append(args, "--what="+what)
	}
	args = append(args, "sleep", "infinity")

	cmd := exec.Command(path, args...)
	// Kernel sends SIGTERM to child when parent dies — prevents orphans.
	cmd.SysProcAttr = &syscall.SysProcAttr{Pdeathsig: unix.SIGTERM}
	return cmd, nil
}

// inhibitWhat maps options onto systemd-inhibit lock types. Disk idle sleep
// has no systemd equivalent. An empty result leaves systemd's default.
func inhibitWhat(opts Options) string {
	var what []string
	if opts.PreventDisplaySleep || opts.PreventSystemIdleSleep {
		what = append(what, "idle")
	}
	if opts.KeepAwakeOnAC {
		what = append(what, "sleep")
	}
	return strings.Join(what, ":")
}

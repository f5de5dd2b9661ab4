package power

import (
	"fmt"
	"os/exec"
)

// Process is a handle to a spawned helper.
type Process interface {
	// Pid returns the OS process ID.
	Pid() int

	// Done is closed once the process has exited and been reaped.
	Done() <-chan struct{}

	// Err returns the exit error once Done is closed, nil before.
	Err() error

	// Terminate asks the process to exit gracefully. Safe to call
	// multiple times and after exit.
	Terminate() error

	// Kill forces the process to exit. Safe to call after exit.
	Kill() error
}

// Spawner launches a helper that prevents sleep as described by opts.
type Spawner interface {
	Spawn(opts Options) (Process, error)
}

// NewSpawner returns the platform-appropriate Spawner. A non-empty binary
// replaces the default helper program.
// See inhibit_darwin.go, inhibit_linux.go, inhibit_other.go.
func NewSpawner(binary string) *ExecSpawner {
	return &ExecSpawner{
		Command: func(opts Options) (*exec.Cmd, error) {
			return platformCommand(binary, opts)
		},
	}
}

func lookPath(binary, fallback string) (string, error) {
	if binary == "" {
		binary = fallback
	}
	path, err := exec.LookPath(binary)
	if err != nil {
		return "", fmt.Errorf("%s not found: %w", binary, err)
	}
	return path, nil
}

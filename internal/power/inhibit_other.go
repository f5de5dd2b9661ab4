//go:build !darwin && !linux

package power

import (
	"fmt"
	"os/exec"
	"runtime"
)

// DefaultHelper is empty: there is no helper on this platform.
const DefaultHelper = ""

func platformCommand(binary string, opts Options) (*exec.Cmd, error) {
	if binary == "" {
		return nil, fmt.Errorf("%s: %w", runtime.GOOS, ErrUnsupported)
	}
	path, err := lookPath(binary, "")
	if err != nil {
		return nil, err
	}
	return exec.Command(path, opts.Args()...), nil
}

//go:build darwin

package power

import "os/exec"

// DefaultHelper is the program launched when no binary is configured.
const DefaultHelper = "caffeinate"

func platformCommand(binary string, opts Options) (*exec.Cmd, error) {
	path, err := lookPath(binary, DefaultHelper)
	if err != nil {
		return nil, err
	}
	return exec.Command(path, opts.Args()...), nil
}

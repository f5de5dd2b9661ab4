//go:build !unix

package power

import "os"

// No graceful signal exists here; the stop timeout never gets a chance to
// matter.
func terminate(proc *os.Process) error {
	return proc.Kill()
}

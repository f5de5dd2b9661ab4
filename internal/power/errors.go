package power

import "errors"

var (
	// ErrSpawnFailed means the helper could not be launched, or exited
	// before it was confirmed running.
	ErrSpawnFailed = errors.New("failed to start")

	// ErrTerminationTimeout means the helper ignored the graceful stop
	// request and had to be killed.
	ErrTerminationTimeout = errors.New("termination timed out")

	// ErrUnexpectedExit means the helper died without being asked to.
	ErrUnexpectedExit = errors.New("exited unexpectedly")

	// ErrUnsupported is returned by spawners on platforms without a
	// sleep-inhibition helper.
	ErrUnsupported = errors.New("sleep inhibition is not supported on this platform")
)

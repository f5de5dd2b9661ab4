package power

import (
	"errors"
	"time"
)

// Phase is the lifecycle position of the supervised helper.
type Phase int

const (
	// PhaseStopped: no helper process exists.
	PhaseStopped Phase = iota

	// PhaseStarting: the helper was spawned but has not yet stayed up
	// for the startup grace period.
	PhaseStarting

	// PhaseRunning: the helper is confirmed running.
	PhaseRunning

	// PhaseStopping: termination was requested and the helper has not
	// exited yet.
	PhaseStopping
)

// String returns a human-readable name for the phase.
func (p Phase) String() string {
	switch p {
	case PhaseStopped:
		return "stopped"
	case PhaseStarting:
		return "starting"
	case PhaseRunning:
		return "running"
	case PhaseStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Active reports whether a helper process is owned in this phase.
func (p Phase) Active() bool {
	return p != PhaseStopped
}

// Status is a point-in-time snapshot of a Supervisor.
type Status struct {
	Phase Phase
	// PID of the owned helper, zero when stopped.
	PID int
	// Enabled is the latest requested intent.
	Enabled bool
	// Options are those of the live helper, or the pending options when
	// stopped.
	Options Options
	// Err is the last error recorded by the supervisor. A successful
	// spawn clears it.
	Err   error
	Since time.Time
}

// Failed reports whether the last start attempt failed.
func (s Status) Failed() bool {
	return s.Phase == PhaseStopped && errors.Is(s.Err, ErrSpawnFailed)
}

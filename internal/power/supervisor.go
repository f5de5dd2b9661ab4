package power

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultStartupGrace is how long a fresh helper must stay alive
	// before it counts as running.
	DefaultStartupGrace = 250 * time.Millisecond

	// DefaultStopTimeout bounds the wait after a graceful termination
	// request before the helper is killed.
	DefaultStopTimeout = 3 * time.Second
)

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(s *Supervisor) { s.log = l }
}

// WithStartupGrace overrides DefaultStartupGrace.
func WithStartupGrace(d time.Duration) Option {
	return func(s *Supervisor) { s.startupGrace = d }
}

// WithStopTimeout overrides DefaultStopTimeout.
func WithStopTimeout(d time.Duration) Option {
	return func(s *Supervisor) { s.stopTimeout = d }
}

// WithOnSpawn registers fn to be called with the PID of every helper that
// was started. fn runs with the supervisor locked and must not call back
// into it.
func WithOnSpawn(fn func(pid int)) Option {
	return func(s *Supervisor) { s.onSpawn = fn }
}

// WithOnError registers fn to be called with every error recorded in
// Status.Err. The same locking rule as WithOnSpawn applies.
func WithOnError(fn func(err error)) Option {
	return func(s *Supervisor) { s.onError = fn }
}

// Supervisor keeps at most one sleep-inhibition helper alive, reconciling
// it toward the latest requested intent. All methods are safe for
// concurrent use and never wait on the helper; starts and exits are
// observed on background goroutines.
type Supervisor struct {
	spawner      Spawner
	log          *zap.Logger
	startupGrace time.Duration
	stopTimeout  time.Duration
	onSpawn      func(pid int)
	onError      func(err error)

	mu      sync.Mutex
	phase   Phase
	proc    Process // nil iff phase == PhaseStopped
	enabled bool
	closed  bool    // set by Close; enabling is ignored afterwards
	opts    Options // used by the next spawn
	active  Options // what proc was spawned with
	lastErr error
	since   time.Time
	subs    map[chan Status]struct{}
}

// NewSupervisor returns a stopped, disabled Supervisor.
func NewSupervisor(spawner Spawner, options ...Option) *Supervisor {
	s := &Supervisor{
		spawner:      spawner,
		log:          zap.NewNop(),
		startupGrace: DefaultStartupGrace,
		stopTimeout:  DefaultStopTimeout,
		phase:        PhaseStopped,
		since:        time.Now(),
		subs:         make(map[chan Status]struct{}),
	}
	for _, o := range options {
		o(s)
	}
	return s
}

// SetEnabled records the requested intent and starts or stops the helper
// to match it. Enabling while a stop is still in flight queues a restart
// with the latest options once the old helper has exited. Enabling a
// closed supervisor does nothing.
func (s *Supervisor) SetEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if enabled && s.closed {
		s.log.Debug("ignoring enable after close")
		return
	}
	s.applyLocked(enabled)
}

func (s *Supervisor) applyLocked(enabled bool) {
	changed := s.enabled != enabled
	s.enabled = enabled

	switch {
	case enabled && s.phase == PhaseStopped:
		s.spawnLocked()
	case !enabled && (s.phase == PhaseStarting || s.phase == PhaseRunning):
		s.stopLocked()
	case changed:
		s.publishLocked()
	}
}

// SetOptions records the options for the next spawn. A live helper keeps
// the options it was started with.
func (s *Supervisor) SetOptions(opts Options) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.opts == opts {
		return
	}
	s.opts = opts
	s.publishLocked()
}

// Status returns the current snapshot.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

// Poll applies a pending exit of the helper immediately instead of waiting
// for the background monitor, and returns the resulting snapshot.
func (s *Supervisor) Poll() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p := s.proc; p != nil {
		select {
		case <-p.Done():
			s.exitLocked(p)
		default:
		}
	}
	return s.statusLocked()
}

// Subscribe returns a channel holding the most recent Status. Readers only
// ever see the latest value; intermediate transitions may be skipped. The
// channel is closed by cancel.
func (s *Supervisor) Subscribe() (<-chan Status, func()) {
	ch := make(chan Status, 1)

	s.mu.Lock()
	s.subs[ch] = struct{}{}
	ch <- s.statusLocked()
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, ch)
			close(ch)
			s.mu.Unlock()
		})
	}
	return ch, cancel
}

// Close disables the supervisor for good and waits until the helper has
// exited or ctx is done. Later SetEnabled(true) calls are ignored, and a
// restart queued before Close is dropped.
func (s *Supervisor) Close(ctx context.Context) error {
	updates, cancel := s.Subscribe()
	defer cancel()

	s.mu.Lock()
	s.closed = true
	s.applyLocked(false)
	s.mu.Unlock()

	for {
		select {
		case st := <-updates:
			if st.Phase == PhaseStopped {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Supervisor) spawnLocked() {
	opts := s.opts
	p, err := s.spawner.Spawn(opts)
	if err != nil {
		s.log.Warn("helper spawn failed", zap.Strings("args", opts.Args()), zap.Error(err))
		s.enabled = false
		s.failLocked(fmt.Errorf("%w: %w", ErrSpawnFailed, err))
		s.setLocked(PhaseStopped, nil)
		return
	}

	s.log.Info("helper spawned", zap.Int("pid", p.Pid()), zap.Strings("args", opts.Args()))
	if s.onSpawn != nil {
		s.onSpawn(p.Pid())
	}
	s.lastErr = nil
	s.active = opts
	s.setLocked(PhaseStarting, p)
	go s.monitor(p)
}

func (s *Supervisor) stopLocked() {
	p := s.proc
	s.setLocked(PhaseStopping, p)
	go s.terminate(p)
}

// monitor confirms p as running after the startup grace period and
// reports its exit.
func (s *Supervisor) monitor(p Process) {
	grace := time.NewTimer(s.startupGrace)
	select {
	case <-p.Done():
		grace.Stop()
	case <-grace.C:
		s.confirm(p)
		<-p.Done()
	}
	s.onProcessExit(p)
}

func (s *Supervisor) confirm(p Process) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.proc == p && s.phase == PhaseStarting {
		s.setLocked(PhaseRunning, p)
	}
}

// terminate asks p to exit and kills it if it is still alive after the
// stop timeout.
func (s *Supervisor) terminate(p Process) {
	if err := p.Terminate(); err != nil {
		s.log.Warn("helper termination request failed", zap.Int("pid", p.Pid()), zap.Error(err))
	}

	timer := time.NewTimer(s.stopTimeout)
	defer timer.Stop()
	select {
	case <-p.Done():
		return
	case <-timer.C:
	}

	s.log.Warn("helper ignored termination, killing",
		zap.Int("pid", p.Pid()), zap.Duration("timeout", s.stopTimeout))

	s.mu.Lock()
	if s.proc == p {
		s.failLocked(fmt.Errorf("%w after %s (pid %d)", ErrTerminationTimeout, s.stopTimeout, p.Pid()))
		s.publishLocked()
	}
	s.mu.Unlock()

	if err := p.Kill(); err != nil {
		s.log.Error("helper kill failed", zap.Int("pid", p.Pid()), zap.Error(err))
	}
}

func (s *Supervisor) onProcessExit(p Process) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exitLocked(p)
}

// exitLocked moves to PhaseStopped after p has exited. It ignores handles
// that are no longer current, so Poll and the monitor may both report the
// same exit.
func (s *Supervisor) exitLocked(p Process) {
	if s.proc != p {
		return
	}

	switch s.phase {
	case PhaseStarting:
		s.failLocked(fmt.Errorf("%w: helper exited during startup: %s", ErrSpawnFailed, exitReason(p.Err())))
		s.enabled = false
	case PhaseRunning:
		s.failLocked(fmt.Errorf("%w: %s", ErrUnexpectedExit, exitReason(p.Err())))
		s.enabled = false
	}

	s.log.Info("helper exited", zap.Int("pid", p.Pid()), zap.Stringer("phase", s.phase), zap.Error(p.Err()))
	s.setLocked(PhaseStopped, nil)

	if s.enabled && !s.closed {
		s.log.Info("restarting helper")
		s.spawnLocked()
	}
}

// failLocked records err for Status.Err.
func (s *Supervisor) failLocked(err error) {
	s.lastErr = err
	if s.onError != nil {
		s.onError(err)
	}
}

func (s *Supervisor) setLocked(phase Phase, p Process) {
	if phase != s.phase {
		s.log.Debug("phase change", zap.Stringer("from", s.phase), zap.Stringer("to", phase))
	}
	s.phase = phase
	s.proc = p
	s.since = time.Now()
	s.publishLocked()
}

func (s *Supervisor) publishLocked() {
	st := s.statusLocked()
	for ch := range s.subs {
		// Replace any unread value; senders all hold mu so this never blocks.
		select {
		case <-ch:
		default:
		}
		ch <- st
	}
}

func (s *Supervisor) statusLocked() Status {
	st := Status{
		Phase:   s.phase,
		Enabled: s.enabled,
		Options: s.opts,
		Err:     s.lastErr,
		Since:   s.since,
	}
	if s.phase.Active() {
		st.PID = s.proc.Pid()
		st.Options = s.active
	}
	return st
}

func exitReason(err error) string {
	if err == nil {
		return "exit status 0"
	}
	return err.Error()
}

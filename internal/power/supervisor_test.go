package power

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = 2 * time.Millisecond

	// forever keeps a phase from advancing on its own during a test.
	forever = time.Hour
)

func newTestSupervisor(f *fakeSpawner, grace, stop time.Duration) *Supervisor {
	return NewSupervisor(f, WithStartupGrace(grace), WithStopTimeout(stop))
}

func waitPhase(t *testing.T, s *Supervisor, want Phase) Status {
	t.Helper()
	var st Status
	require.Eventually(t, func() bool {
		st = s.Status()
		return st.Phase == want
	}, waitFor, tick, "phase never became %s", want)
	return st
}

func TestNewSupervisorIsStopped(t *testing.T) {
	s := NewSupervisor(&fakeSpawner{})

	st := s.Status()
	assert.Equal(t, PhaseStopped, st.Phase)
	assert.False(t, st.Enabled)
	assert.Zero(t, st.PID)
	assert.NoError(t, st.Err)
}

func TestSetEnabledSpawnsThenConfirmsRunning(t *testing.T) {
	f := &fakeSpawner{}
	s := newTestSupervisor(f, 5*time.Millisecond, forever)

	s.SetEnabled(true)

	st := waitPhase(t, s, PhaseRunning)
	assert.True(t, st.Enabled)
	assert.Equal(t, f.proc(0).pid, st.PID)
	assert.Equal(t, 1, f.spawned())
}

func TestSetEnabledStartingUntilGraceElapses(t *testing.T) {
	f := &fakeSpawner{}
	s := newTestSupervisor(f, forever, forever)

	s.SetEnabled(true)

	st := s.Status()
	assert.Equal(t, PhaseStarting, st.Phase)
	assert.Equal(t, f.proc(0).pid, st.PID)
}

func TestSetEnabledTrueTwiceIsNoop(t *testing.T) {
	f := &fakeSpawner{}
	s := newTestSupervisor(f, forever, forever)

	s.SetEnabled(true)
	s.SetEnabled(true)

	assert.Equal(t, 1, f.spawned())
	assert.Equal(t, PhaseStarting, s.Status().Phase)
}

func TestSetEnabledFalseWhenStoppedIsNoop(t *testing.T) {
	f := &fakeSpawner{}
	s := newTestSupervisor(f, forever, forever)

	s.SetEnabled(false)

	assert.Equal(t, PhaseStopped, s.Status().Phase)
	assert.Zero(t, f.spawned())
}

func TestDisableBeforeRunningTerminates(t *testing.T) {
	f := &fakeSpawner{}
	s := newTestSupervisor(f, forever, forever)

	s.SetEnabled(true)
	s.SetEnabled(false)

	waitPhase(t, s, PhaseStopped)
	p := f.proc(0)
	assert.EqualValues(t, 1, p.terms.Load())
	assert.False(t, p.killed.Load())
	assert.Zero(t, f.live.Load())
	assert.NoError(t, s.Status().Err)
}

func TestDisableWhileRunningStops(t *testing.T) {
	f := &fakeSpawner{termDelay: 20 * time.Millisecond}
	s := newTestSupervisor(f, time.Millisecond, forever)

	s.SetEnabled(true)
	waitPhase(t, s, PhaseRunning)

	s.SetEnabled(false)
	st := s.Status()
	assert.Equal(t, PhaseStopping, st.Phase)
	assert.False(t, st.Enabled)
	assert.NotZero(t, st.PID)

	waitPhase(t, s, PhaseStopped)
	assert.Zero(t, f.live.Load())
}

func TestUnexpectedExitWhileRunning(t *testing.T) {
	f := &fakeSpawner{}
	s := newTestSupervisor(f, time.Millisecond, forever)

	s.SetEnabled(true)
	waitPhase(t, s, PhaseRunning)

	f.proc(0).exit(errKilled)

	st := waitPhase(t, s, PhaseStopped)
	assert.ErrorIs(t, st.Err, ErrUnexpectedExit)
	assert.Contains(t, st.Err.Error(), "signal: killed")
	assert.False(t, st.Enabled)
	assert.False(t, st.Failed())
	assert.Equal(t, 1, f.spawned(), "unexpected exit must not respawn")
}

func TestPollObservesExit(t *testing.T) {
	f := &fakeSpawner{}
	s := newTestSupervisor(f, forever, forever)

	s.SetEnabled(true)
	f.proc(0).exit(nil)

	require.Eventually(t, func() bool {
		return s.Poll().Phase == PhaseStopped
	}, waitFor, tick)
	assert.Zero(t, s.Poll().PID)
}

func TestExitDuringStartupIsSpawnFailure(t *testing.T) {
	f := &fakeSpawner{}
	s := newTestSupervisor(f, forever, forever)

	s.SetEnabled(true)
	f.proc(0).exit(errors.New("exit status 1"))

	st := waitPhase(t, s, PhaseStopped)
	assert.True(t, st.Failed())
	assert.ErrorIs(t, st.Err, ErrSpawnFailed)
	assert.Contains(t, st.Err.Error(), "exited during startup")
}

func TestSpawnErrorSurfacesInStatus(t *testing.T) {
	f := &fakeSpawner{err: errors.New("caffeinate not found")}
	s := newTestSupervisor(f, forever, forever)

	s.SetEnabled(true)

	st := s.Status()
	assert.Equal(t, PhaseStopped, st.Phase)
	assert.False(t, st.Enabled)
	assert.True(t, st.Failed())
	assert.ErrorIs(t, st.Err, ErrSpawnFailed)
	assert.Contains(t, st.Err.Error(), "caffeinate not found")
}

func TestSuccessfulSpawnClearsError(t *testing.T) {
	f := &fakeSpawner{err: errors.New("boom")}
	s := newTestSupervisor(f, forever, forever)

	s.SetEnabled(true)
	require.True(t, s.Status().Failed())

	f.mu.Lock()
	f.err = nil
	f.mu.Unlock()

	s.SetEnabled(true)
	st := s.Status()
	assert.Equal(t, PhaseStarting, st.Phase)
	assert.NoError(t, st.Err)
}

func TestTerminationTimeoutEscalatesToKill(t *testing.T) {
	f := &fakeSpawner{ignoreTerm: true}
	s := newTestSupervisor(f, time.Millisecond, 20*time.Millisecond)

	s.SetEnabled(true)
	waitPhase(t, s, PhaseRunning)
	s.SetEnabled(false)

	st := waitPhase(t, s, PhaseStopped)
	p := f.proc(0)
	assert.True(t, p.killed.Load())
	assert.EqualValues(t, 1, p.terms.Load())
	assert.ErrorIs(t, st.Err, ErrTerminationTimeout)
	assert.Zero(t, f.live.Load())
}

func TestEnableWhileStoppingQueuesRestart(t *testing.T) {
	f := &fakeSpawner{ignoreTerm: true}
	s := newTestSupervisor(f, time.Millisecond, forever)

	s.SetOptions(Options{PreventSystemIdleSleep: true})
	s.SetEnabled(true)
	waitPhase(t, s, PhaseRunning)

	s.SetEnabled(false)
	s.SetEnabled(true)
	s.SetOptions(Options{PreventDisplaySleep: true})

	st := s.Status()
	assert.Equal(t, PhaseStopping, st.Phase)
	assert.True(t, st.Enabled)
	assert.Equal(t, 1, f.spawned(), "no spawn while the old helper is alive")

	f.proc(0).exit(nil)

	waitPhase(t, s, PhaseRunning)
	require.Equal(t, 2, f.spawned())
	assert.Equal(t, []string{"-d"}, f.spawnArgs(1), "restart uses the latest options")
	assert.EqualValues(t, 1, f.maxLive.Load())
}

func TestDisableWhileStoppingCancelsQueuedRestart(t *testing.T) {
	f := &fakeSpawner{ignoreTerm: true}
	s := newTestSupervisor(f, time.Millisecond, forever)

	s.SetEnabled(true)
	waitPhase(t, s, PhaseRunning)
	s.SetEnabled(false)
	s.SetEnabled(true)
	s.SetEnabled(false)

	f.proc(0).exit(nil)

	waitPhase(t, s, PhaseStopped)
	assert.Equal(t, 1, f.spawned())
}

func TestOptionsApplyOnNextSpawnOnly(t *testing.T) {
	f := &fakeSpawner{}
	s := newTestSupervisor(f, time.Millisecond, forever)

	first := Options{PreventDisplaySleep: true, KeepAwakeOnAC: true}
	second := Options{PreventDiskIdleSleep: true}

	s.SetOptions(first)
	s.SetEnabled(true)
	waitPhase(t, s, PhaseRunning)

	s.SetOptions(second)
	assert.Equal(t, first, s.Status().Options, "running helper keeps its options")

	s.SetEnabled(false)
	st := waitPhase(t, s, PhaseStopped)
	assert.Equal(t, second, st.Options, "stopped status shows pending options")

	s.SetEnabled(true)
	waitPhase(t, s, PhaseRunning)

	assert.Equal(t, []string{"-d", "-s"}, f.spawnArgs(0))
	assert.Equal(t, []string{"-m"}, f.spawnArgs(1))
}

func TestRapidTogglingNeverDoubleSpawns(t *testing.T) {
	for _, finalOn := range []bool{false, true} {
		t.Run(map[bool]string{false: "ends off", true: "ends on"}[finalOn], func(t *testing.T) {
			f := &fakeSpawner{termDelay: time.Millisecond}
			s := newTestSupervisor(f, time.Millisecond, forever)

			var wg sync.WaitGroup
			for g := 0; g < 4; g++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for i := 0; i < 100; i++ {
						s.SetEnabled(true)
						s.SetEnabled(false)
					}
				}()
			}
			wg.Wait()
			s.SetEnabled(finalOn)

			if finalOn {
				waitPhase(t, s, PhaseRunning)
				assert.EqualValues(t, 1, f.live.Load())
			} else {
				waitPhase(t, s, PhaseStopped)
				assert.Zero(t, f.live.Load())
			}
			assert.LessOrEqual(t, f.maxLive.Load(), int32(1))
		})
	}
}

func TestSubscribeDeliversLatestStatus(t *testing.T) {
	f := &fakeSpawner{}
	s := newTestSupervisor(f, time.Millisecond, forever)

	updates, cancel := s.Subscribe()
	defer cancel()

	first := <-updates
	assert.Equal(t, PhaseStopped, first.Phase)

	s.SetEnabled(true)

	deadline := time.After(waitFor)
	for {
		select {
		case st := <-updates:
			if st.Phase == PhaseRunning {
				assert.Equal(t, f.proc(0).pid, st.PID)
				return
			}
		case <-deadline:
			t.Fatal("never received running status")
		}
	}
}

func TestSubscribeCancelClosesChannel(t *testing.T) {
	s := NewSupervisor(&fakeSpawner{})

	updates, cancel := s.Subscribe()
	<-updates
	cancel()
	cancel()

	_, ok := <-updates
	assert.False(t, ok)

	// Publishing after cancel must not panic.
	s.SetOptions(Options{KeepAwakeOnAC: true})
}

func TestCloseStopsHelper(t *testing.T) {
	f := &fakeSpawner{termDelay: 10 * time.Millisecond}
	s := newTestSupervisor(f, time.Millisecond, forever)

	s.SetEnabled(true)
	waitPhase(t, s, PhaseRunning)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, s.Close(ctx))

	assert.Equal(t, PhaseStopped, s.Status().Phase)
	assert.Zero(t, f.live.Load())
}

func TestCloseHonoursContext(t *testing.T) {
	f := &fakeSpawner{ignoreTerm: true}
	s := newTestSupervisor(f, time.Millisecond, forever)

	s.SetEnabled(true)
	waitPhase(t, s, PhaseRunning)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Close(ctx), context.DeadlineExceeded)
	assert.Equal(t, PhaseStopping, s.Status().Phase)

	f.proc(0).exit(nil)
	waitPhase(t, s, PhaseStopped)
}

func TestEnableDuringCloseDoesNotRespawn(t *testing.T) {
	f := &fakeSpawner{ignoreTerm: true}
	s := newTestSupervisor(f, time.Millisecond, forever)

	s.SetEnabled(true)
	waitPhase(t, s, PhaseRunning)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- s.Close(ctx) }()

	waitPhase(t, s, PhaseStopping)
	s.SetEnabled(true)
	assert.False(t, s.Status().Enabled)

	f.proc(0).exit(nil)
	require.NoError(t, <-errCh)

	st := s.Status()
	assert.Equal(t, PhaseStopped, st.Phase)
	assert.False(t, st.Enabled)
	assert.Zero(t, f.live.Load())
	assert.Equal(t, 1, f.spawned())
}

func TestCloseDropsQueuedRestart(t *testing.T) {
	f := &fakeSpawner{ignoreTerm: true}
	s := newTestSupervisor(f, time.Millisecond, forever)

	s.SetEnabled(true)
	waitPhase(t, s, PhaseRunning)
	s.SetEnabled(false)
	s.SetEnabled(true) // queued while stopping

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- s.Close(ctx) }()

	require.Eventually(t, func() bool { return !s.Status().Enabled }, waitFor, tick)
	f.proc(0).exit(nil)
	require.NoError(t, <-errCh)

	assert.Equal(t, PhaseStopped, s.Status().Phase)
	assert.Equal(t, 1, f.spawned())
}

func TestEnableAfterCloseIsIgnored(t *testing.T) {
	f := &fakeSpawner{}
	s := newTestSupervisor(f, time.Millisecond, forever)

	require.NoError(t, s.Close(context.Background()))
	s.SetEnabled(true)

	st := s.Status()
	assert.Equal(t, PhaseStopped, st.Phase)
	assert.False(t, st.Enabled)
	assert.Zero(t, f.spawned())
	assert.Zero(t, f.live.Load())
}

func TestHooksSeeEverySpawnAndError(t *testing.T) {
	f := &fakeSpawner{}
	var (
		mu     sync.Mutex
		pids   []int
		failed []error
	)
	s := NewSupervisor(f,
		WithStartupGrace(forever),
		WithStopTimeout(forever),
		WithOnSpawn(func(pid int) {
			mu.Lock()
			pids = append(pids, pid)
			mu.Unlock()
		}),
		WithOnError(func(err error) {
			mu.Lock()
			failed = append(failed, err)
			mu.Unlock()
		}),
	)

	// Each helper dies during startup, so the status never shows two of
	// them, but both hooks still fire once per helper.
	for i := 0; i < 3; i++ {
		s.SetEnabled(true)
		f.proc(i).exit(errors.New("exit status 1"))
		waitPhase(t, s, PhaseStopped)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{f.proc(0).pid, f.proc(1).pid, f.proc(2).pid}, pids)
	require.Len(t, failed, 3)
	for _, err := range failed {
		assert.ErrorIs(t, err, ErrSpawnFailed)
	}
}

package power

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var errKilled = errors.New("signal: killed")

// fakeSpawner hands out in-memory processes and tracks how many are alive.
type fakeSpawner struct {
	mu      sync.Mutex
	err     error
	procs   []*fakeProcess
	args    [][]string
	nextPID int

	// ignoreTerm makes new processes ignore Terminate.
	ignoreTerm bool
	// termDelay delays the exit that follows Terminate.
	termDelay time.Duration

	live    atomic.Int32
	maxLive atomic.Int32
}

func (f *fakeSpawner) Spawn(opts Options) (Process, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}

	f.nextPID++
	p := &fakeProcess{
		pid:        1000 + f.nextPID,
		done:       make(chan struct{}),
		spawner:    f,
		ignoreTerm: f.ignoreTerm,
		termDelay:  f.termDelay,
	}
	f.procs = append(f.procs, p)
	f.args = append(f.args, opts.Args())

	n := f.live.Add(1)
	for {
		m := f.maxLive.Load()
		if n <= m || f.maxLive.CompareAndSwap(m, n) {
			break
		}
	}
	return p, nil
}

func (f *fakeSpawner) spawned() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.procs)
}

func (f *fakeSpawner) proc(i int) *fakeProcess {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.procs[i]
}

func (f *fakeSpawner) spawnArgs(i int) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.args[i]
}

type fakeProcess struct {
	pid        int
	done       chan struct{}
	once       sync.Once
	err        error
	spawner    *fakeSpawner
	ignoreTerm bool
	termDelay  time.Duration

	terms  atomic.Int32
	killed atomic.Bool
}

// exit simulates the process dying with err.
func (p *fakeProcess) exit(err error) {
	p.once.Do(func() {
		p.err = err
		p.spawner.live.Add(-1)
		close(p.done)
	})
}

func (p *fakeProcess) Pid() int              { return p.pid }
func (p *fakeProcess) Done() <-chan struct{} { return p.done }

func (p *fakeProcess) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

func (p *fakeProcess) Terminate() error {
	p.terms.Add(1)
	if p.ignoreTerm {
		return nil
	}
	go func() {
		if p.termDelay > 0 {
			time.Sleep(p.termDelay)
		}
		p.exit(nil)
	}()
	return nil
}

func (p *fakeProcess) Kill() error {
	p.killed.Store(true)
	p.exit(errKilled)
	return nil
}

package power

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
)

// ExecSpawner launches helpers as child processes via os/exec.
type ExecSpawner struct {
	// Command builds the (unstarted) command for an options snapshot.
	Command func(opts Options) (*exec.Cmd, error)
}

// Spawn starts the helper and returns a handle that is reaped in the
// background.
func (s *ExecSpawner) Spawn(opts Options) (Process, error) {
	cmd, err := s.Command(opts)
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", cmd.Path, err)
	}

	p := &ExecProcess{cmd: cmd, done: make(chan struct{})}
	// Reap the child in background so it doesn't become a zombie.
	go p.wait()
	return p, nil
}

// ExecProcess is a Process backed by an *exec.Cmd.
type ExecProcess struct {
	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

func (p *ExecProcess) wait() {
	p.err = p.cmd.Wait()
	close(p.done)
}

func (p *ExecProcess) Pid() int              { return p.cmd.Process.Pid }
func (p *ExecProcess) Done() <-chan struct{} { return p.done }

func (p *ExecProcess) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

func (p *ExecProcess) Terminate() error {
	if p.exited() {
		return nil
	}
	return ignoreDone(terminate(p.cmd.Process))
}

func (p *ExecProcess) Kill() error {
	if p.exited() {
		return nil
	}
	return ignoreDone(p.cmd.Process.Kill())
}

func (p *ExecProcess) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func ignoreDone(err error) error {
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

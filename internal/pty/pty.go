// Package pty provides pseudo-terminal pairs and processes spawned
// under them. Masters are opened non-blocking so the relay loop can
// poll them without ever stalling a tick.
package pty

import (
	"os/exec"
)

// PTY is one master/slave pseudo-terminal pair. The master side is
// owned by this process; the slave path can be handed to an external
// process (gdb's inferior tty, a console ui).
type PTY interface {
	// ReadAvailable performs one non-blocking read of the master.
	// It returns (nil, nil) when no data is pending.
	ReadAvailable() ([]byte, error)

	// Write writes data to the master (appears as terminal input to
	// whatever holds the slave).
	Write(p []byte) (int, error)

	// Resize changes the terminal window size.
	Resize(rows, cols uint16) error

	// SlavePath returns the filesystem path of the slave device.
	SlavePath() string

	// Close releases both sides of the pair.
	Close() error
}

// StartOptions configures a process spawned under a fresh PTY.
type StartOptions struct {
	Command     string
	Args        []string
	Env         []string
	InitialRows uint16
	InitialCols uint16
}

// Process is a running process attached to a PTY.
type Process struct {
	PTY PTY
	Cmd *exec.Cmd

	pid int
}

// PID returns the process id.
func (p *Process) PID() int {
	return p.pid
}

// Wait blocks until the process exits and returns its exit code.
// A process killed by a signal reports -1.
func (p *Process) Wait() (int, error) {
	err := p.Cmd.Wait()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return exitErr.ExitCode(), nil
		}
		return -1, err
	}
	return 0, nil
}

// Kill terminates the process.
func (p *Process) Kill() error {
	if p.Cmd.Process != nil {
		return p.Cmd.Process.Kill()
	}
	return nil
}

// Close closes the PTY pair. Kill the process first if it should not
// outlive the terminal.
func (p *Process) Close() error {
	return p.PTY.Close()
}

//go:build linux

package pty

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

const readChunkSize = 4096

// linuxPTY implements PTY with a raw non-blocking master fd. The raw
// fd is used directly (not wrapped in os.File) so reads stay genuinely
// non-blocking instead of parking on the runtime poller.
type linuxPTY struct {
	masterFd  int
	slave     *os.File
	slavePath string
}

// Open opens a new master/slave pair. The slave side is kept open in
// this process so the master does not see EIO before any external
// process attaches to the slave path.
func Open() (PTY, error) {
	masterFd, slave, slavePath, err := openPair()
	if err != nil {
		return nil, err
	}
	return &linuxPTY{masterFd: masterFd, slave: slave, slavePath: slavePath}, nil
}

func (p *linuxPTY) ReadAvailable() ([]byte, error) {
	buf := make([]byte, readChunkSize)
	n, err := unix.Read(p.masterFd, buf)
	if err != nil {
		if err == unix.EAGAIN {
			return nil, nil
		}
		return nil, fmt.Errorf("pty read: %w", err)
	}
	if n <= 0 {
		return nil, nil
	}
	return buf[:n], nil
}

func (p *linuxPTY) Write(b []byte) (int, error) {
	written := 0
	for written < len(b) {
		n, err := unix.Write(p.masterFd, b[written:])
		if err != nil {
			if err == unix.EAGAIN {
				continue
			}
			return written, fmt.Errorf("pty write: %w", err)
		}
		written += n
	}
	return written, nil
}

func (p *linuxPTY) Resize(rows, cols uint16) error {
	ws := &unix.Winsize{Row: rows, Col: cols}
	return unix.IoctlSetWinsize(p.masterFd, unix.TIOCSWINSZ, ws)
}

func (p *linuxPTY) SlavePath() string {
	return p.slavePath
}

func (p *linuxPTY) Close() error {
	err := unix.Close(p.masterFd)
	if p.slave != nil {
		if cerr := p.slave.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// Start spawns a process with a fresh PTY as its controlling terminal.
func Start(opts StartOptions) (*Process, error) {
	masterFd, slave, slavePath, err := openPair()
	if err != nil {
		return nil, err
	}

	p := &linuxPTY{masterFd: masterFd, slave: slave, slavePath: slavePath}

	if opts.InitialRows > 0 && opts.InitialCols > 0 {
		if err := p.Resize(opts.InitialRows, opts.InitialCols); err != nil {
			p.Close()
			return nil, fmt.Errorf("failed to set window size: %w", err)
		}
	}

	cmd := exec.Command(opts.Command, opts.Args...)
	cmd.Env = opts.Env
	if cmd.Env == nil {
		cmd.Env = os.Environ()
	}
	cmd.Stdin = slave
	cmd.Stdout = slave
	cmd.Stderr = slave
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid:  true,
		Setctty: true,
	}

	if err := cmd.Start(); err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to start process: %w", err)
	}

	return &Process{PTY: p, Cmd: cmd, pid: cmd.Process.Pid}, nil
}

// openPair opens /dev/ptmx non-blocking and unlocks its slave.
func openPair() (masterFd int, slave *os.File, slavePath string, err error) {
	masterFd, err = unix.Open("/dev/ptmx", unix.O_RDWR|unix.O_NONBLOCK|unix.O_NOCTTY, 0)
	if err != nil {
		return 0, nil, "", fmt.Errorf("failed to open /dev/ptmx: %w", err)
	}

	ptn, err := unix.IoctlGetInt(masterFd, unix.TIOCGPTN)
	if err != nil {
		unix.Close(masterFd)
		return 0, nil, "", fmt.Errorf("failed to get slave number: %w", err)
	}
	slavePath = fmt.Sprintf("/dev/pts/%d", ptn)

	if err := unix.IoctlSetPointerInt(masterFd, unix.TIOCSPTLCK, 0); err != nil {
		unix.Close(masterFd)
		return 0, nil, "", fmt.Errorf("failed to unlock pty: %w", err)
	}

	slave, err = os.OpenFile(slavePath, os.O_RDWR|syscall.O_NOCTTY, 0)
	if err != nil {
		unix.Close(masterFd)
		return 0, nil, "", fmt.Errorf("failed to open slave pty: %w", err)
	}

	return masterFd, slave, slavePath, nil
}

package remote

import (
	"io"
	"sync"
)

// Channel is one execution channel on a remote connection: either a
// pty-backed command or an interactive shell. Output arrives on
// per-stream channels so per-stream ordering is preserved without any
// cross-stream guarantee. Done is closed when the channel terminates;
// ExitStatus and Err are only meaningful afterwards.
type Channel interface {
	Stdout() <-chan []byte
	Stderr() <-chan []byte
	Done() <-chan struct{}

	// ExitStatus reports the remote exit code, when one was captured.
	ExitStatus() (int, bool)

	// Err reports the I/O error that ended the channel, if any.
	Err() error

	// Write sends input to the channel's stdin and flushes it.
	Write(p []byte) error

	// Close tears the channel down. Idempotent; never used as an
	// error path.
	Close() error
}

// Conn is one established, authenticated remote connection.
type Conn interface {
	// Exec starts a command on a fresh pty-backed channel.
	Exec(command string) (Channel, error)

	// Shell opens an interactive shell channel.
	Shell() (Channel, error)

	Close() error
}

// ConnectParams identify the remote endpoint.
type ConnectParams struct {
	Host     string
	Port     int
	User     string
	Password string
}

// Dialer establishes connections. Dial blocks; it is always run off
// the request path. onHandle is invoked with the in-flight transport
// handle as soon as one exists, so a concurrent cancellation can close
// it and abort the attempt.
type Dialer interface {
	Dial(params ConnectParams, onHandle func(io.Closer)) (Conn, error)
}

// stopSignal is a set-once cooperative stop flag.
type stopSignal struct {
	once sync.Once
	ch   chan struct{}
}

func newStopSignal() *stopSignal {
	return &stopSignal{ch: make(chan struct{})}
}

func (s *stopSignal) Set() {
	s.once.Do(func() { close(s.ch) })
}

func (s *stopSignal) IsSet() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}

// pendingConnection tracks one in-flight connect attempt. The
// cancelled flag aborts the attempt; the notified flag dedupes client
// messages when cancellation races with completion.
type pendingConnection struct {
	mu        sync.Mutex
	cancelled bool
	notified  bool
	handle    io.Closer
}

// cancel flags the attempt and closes any in-flight handle so a
// blocking connect aborts.
func (p *pendingConnection) cancel() {
	p.mu.Lock()
	p.cancelled = true
	handle := p.handle
	p.handle = nil
	p.mu.Unlock()

	if handle != nil {
		handle.Close()
	}
}

// setHandle records the transport handle. If the attempt was already
// cancelled the handle is closed immediately.
func (p *pendingConnection) setHandle(h io.Closer) {
	p.mu.Lock()
	if p.cancelled {
		p.mu.Unlock()
		h.Close()
		return
	}
	p.handle = h
	p.mu.Unlock()
}

func (p *pendingConnection) isCancelled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancelled
}

// markNotified reports whether the caller is the first to notify the
// client about this attempt's outcome.
func (p *pendingConnection) markNotified() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.notified {
		return false
	}
	p.notified = true
	return true
}

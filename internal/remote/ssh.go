package remote

import (
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// defaultDialTimeout bounds both the tcp dial and the ssh handshake.
const defaultDialTimeout = 10 * time.Second

// streamBufferDepth is the per-stream chunk buffer between the pump
// goroutines and the relay workers.
const streamBufferDepth = 32

// SSHDialer dials real ssh servers with password authentication.
type SSHDialer struct {
	// Timeout overrides defaultDialTimeout when positive.
	Timeout time.Duration
}

func (d *SSHDialer) timeout() time.Duration {
	if d.Timeout > 0 {
		return d.Timeout
	}
	return defaultDialTimeout
}

// Dial connects and authenticates. The raw tcp connection is handed to
// onHandle before the handshake so a cancellation can close it and
// abort the attempt mid-flight.
func (d *SSHDialer) Dial(params ConnectParams, onHandle func(io.Closer)) (Conn, error) {
	addr := net.JoinHostPort(params.Host, strconv.Itoa(params.Port))

	netConn, err := net.DialTimeout("tcp", addr, d.timeout())
	if err != nil {
		return nil, err
	}
	if onHandle != nil {
		onHandle(netConn)
	}

	config := &ssh.ClientConfig{
		User:            params.User,
		Auth:            []ssh.AuthMethod{ssh.Password(params.Password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         d.timeout(),
	}

	// ClientConfig.Timeout only covers the package's own dial; bound
	// the banner exchange and auth on our connection explicitly.
	netConn.SetDeadline(time.Now().Add(d.timeout()))
	clientConn, chans, reqs, err := ssh.NewClientConn(netConn, addr, config)
	if err != nil {
		netConn.Close()
		return nil, err
	}
	netConn.SetDeadline(time.Time{})

	return &sshConn{client: ssh.NewClient(clientConn, chans, reqs)}, nil
}

type sshConn struct {
	client *ssh.Client
}

var ptyModes = ssh.TerminalModes{
	ssh.ECHO:          1,
	ssh.TTY_OP_ISPEED: 14400,
	ssh.TTY_OP_OSPEED: 14400,
}

func (c *sshConn) Exec(command string) (Channel, error) {
	session, err := c.client.NewSession()
	if err != nil {
		return nil, err
	}
	if err := session.RequestPty("xterm-256color", 24, 80, ptyModes); err != nil {
		session.Close()
		return nil, err
	}
	return startSSHChannel(session, func() error { return session.Start(command) })
}

func (c *sshConn) Shell() (Channel, error) {
	session, err := c.client.NewSession()
	if err != nil {
		return nil, err
	}
	if err := session.RequestPty("xterm-256color", 24, 80, ptyModes); err != nil {
		session.Close()
		return nil, err
	}
	return startSSHChannel(session, session.Shell)
}

func (c *sshConn) Close() error {
	return c.client.Close()
}

// sshChannel adapts one ssh session to the Channel interface: a pump
// goroutine per stream feeds the buffered chunk channels, and a waiter
// closes done once the remote side finishes and both pumps have
// delivered everything they read.
type sshChannel struct {
	session *ssh.Session
	stdin   io.WriteCloser
	stdout  chan []byte
	stderr  chan []byte
	done    chan struct{}
	closed  chan struct{}

	closeOnce sync.Once

	mu       sync.Mutex
	exitCode int
	hasExit  bool
	ioErr    error
}

func startSSHChannel(session *ssh.Session, start func() error) (*sshChannel, error) {
	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, err
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, err
	}
	stderr, err := session.StderrPipe()
	if err != nil {
		session.Close()
		return nil, err
	}
	if err := start(); err != nil {
		session.Close()
		return nil, err
	}

	c := &sshChannel{
		session: session,
		stdin:   stdin,
		stdout:  make(chan []byte, streamBufferDepth),
		stderr:  make(chan []byte, streamBufferDepth),
		done:    make(chan struct{}),
		closed:  make(chan struct{}),
	}

	var pumps sync.WaitGroup
	pumps.Add(2)
	go c.pump(stdout, c.stdout, &pumps)
	go c.pump(stderr, c.stderr, &pumps)

	go func() {
		err := session.Wait()
		pumps.Wait()

		c.mu.Lock()
		switch e := err.(type) {
		case nil:
			c.hasExit, c.exitCode = true, 0
		case *ssh.ExitError:
			c.hasExit, c.exitCode = true, e.ExitStatus()
		case *ssh.ExitMissingError:
			// Channel closed without a status. Not an error; the
			// terminal event falls back to its default message.
		default:
			c.ioErr = err
		}
		c.mu.Unlock()
		close(c.done)
	}()

	return c, nil
}

func (c *sshChannel) pump(r io.Reader, out chan<- []byte, pumps *sync.WaitGroup) {
	defer pumps.Done()
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			select {
			case out <- data:
			case <-c.closed:
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func (c *sshChannel) Stdout() <-chan []byte { return c.stdout }
func (c *sshChannel) Stderr() <-chan []byte { return c.stderr }
func (c *sshChannel) Done() <-chan struct{} { return c.done }

func (c *sshChannel) ExitStatus() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exitCode, c.hasExit
}

func (c *sshChannel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ioErr
}

func (c *sshChannel) Write(p []byte) error {
	_, err := c.stdin.Write(p)
	return err
}

func (c *sshChannel) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.stdin.Close()
		c.session.Close()
	})
	return nil
}

// Package remote manages per-client ssh sessions: one connection per
// websocket client, with at most one running command and one
// interactive shell at a time.
package remote

import (
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/remote-debug-console/backend/internal/model"
)

// DefaultPollInterval is the cooperative yield between output drains in
// the command and shell workers.
const DefaultPollInterval = 50 * time.Millisecond

// Emitter delivers an event to the room of a single client.
type Emitter interface {
	Emit(event string, payload interface{}, clientID string)
}

// ConnectRequest carries the fields of a connect call before
// validation. Port is kept textual so a bad value can be reported
// instead of silently defaulting.
type ConnectRequest struct {
	Host     string
	Port     string
	User     string
	Password string
}

// activeCommand is the single running command of a session. The
// termination fields are written by whoever force-stops the command and
// read by the worker when it builds the terminal event.
type activeCommand struct {
	command string
	channel Channel
	stop    *stopSignal

	mu                  sync.Mutex
	terminationMessage  string
	terminatedWithError bool
}

func (a *activeCommand) setTermination(message string, asError bool) {
	a.mu.Lock()
	a.terminationMessage = message
	a.terminatedWithError = asError
	a.mu.Unlock()
	a.stop.Set()
}

func (a *activeCommand) termination() (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.terminationMessage, a.terminatedWithError
}

// remoteSession is one established connection. The command and shell
// slots have independent locks so a long command never blocks shell
// operations. Neither lock is held across I/O.
type remoteSession struct {
	conn Conn

	commandMu     sync.Mutex
	activeCommand *activeCommand

	shellMu      sync.Mutex
	shellChannel Channel
	shellStop    *stopSignal
}

// Manager owns every client's remote session and pending connect
// attempt.
type Manager struct {
	dialer    Dialer
	emitter   Emitter
	available bool
	interval  time.Duration

	sessionsMu sync.Mutex
	sessions   map[string]*remoteSession

	pendingMu sync.Mutex
	pending   map[string]*pendingConnection
}

// NewManager creates a Manager. A nil dialer disables remote support:
// every operation then reports that ssh is unavailable, mirroring a
// build without the transport.
func NewManager(dialer Dialer, emitter Emitter) *Manager {
	return &Manager{
		dialer:    dialer,
		emitter:   emitter,
		available: dialer != nil,
		interval:  DefaultPollInterval,
		sessions:  make(map[string]*remoteSession),
		pending:   make(map[string]*pendingConnection),
	}
}

// SetPollInterval overrides the worker yield interval. Tests shrink it.
func (m *Manager) SetPollInterval(d time.Duration) {
	if d > 0 {
		m.interval = d
	}
}

func (m *Manager) emit(event string, payload interface{}, clientID string) {
	m.emitter.Emit(event, payload, clientID)
}

func (m *Manager) session(clientID string) *remoteSession {
	m.sessionsMu.Lock()
	defer m.sessionsMu.Unlock()
	return m.sessions[clientID]
}

func (m *Manager) connectedSession(clientID string) (*remoteSession, error) {
	if !m.available {
		return nil, model.ErrSSHUnavailable
	}
	sess := m.session(clientID)
	if sess == nil {
		return nil, model.ErrNoConnection
	}
	return sess, nil
}

// liveShell returns the session and its shell channel when a shell is
// actually running.
func (m *Manager) liveShell(clientID string) (*remoteSession, Channel, error) {
	sess := m.session(clientID)
	if sess == nil {
		return nil, nil, model.ErrNoConnection
	}

	sess.shellMu.Lock()
	channel := sess.shellChannel
	stop := sess.shellStop
	sess.shellMu.Unlock()

	if channel == nil || stop == nil || stop.IsSet() {
		return nil, nil, model.ErrShellNotStarted
	}
	return sess, channel, nil
}

// Validation and precondition failures are classified with the shared
// sentinels; the emit layer maps each class to its client message.
var (
	errInvalidPort   = fmt.Errorf("%w: port must be a number in 1-65535", model.ErrValidation)
	errMissingTarget = fmt.Errorf("%w: host and username are required", model.ErrValidation)
	errEmptyCommand  = fmt.Errorf("%w: empty command", model.ErrValidation)
)

func connectFailureMessage(err error) string {
	switch {
	case errors.Is(err, model.ErrSSHUnavailable):
		return "SSH support is not enabled on this server."
	case errors.Is(err, errInvalidPort):
		return "The provided port number is invalid."
	case errors.Is(err, errMissingTarget):
		return "A host address and username are required to connect."
	}
	return "Connection failed: " + err.Error()
}

func commandFailureMessage(err error) string {
	switch {
	case errors.Is(err, model.ErrValidation):
		return "No command was provided."
	case errors.Is(err, model.ErrSSHUnavailable):
		return "SSH support is not enabled on this server."
	case errors.Is(err, model.ErrNoConnection):
		return "No SSH connection has been established."
	case errors.Is(err, model.ErrCommandActive):
		return "The previous command is still running; wait for it to finish."
	}
	return "Failed to run command: " + err.Error()
}

func inputFailureMessage(err error) string {
	if errors.Is(err, model.ErrNoActiveCommand) {
		return "No command is currently running."
	}
	return "No SSH connection has been established."
}

func shellFailureMessage(err error) string {
	switch {
	case errors.Is(err, model.ErrSSHUnavailable):
		return "SSH support is not enabled on this server."
	case errors.Is(err, model.ErrNoConnection):
		return "No SSH connection has been established."
	case errors.Is(err, model.ErrShellNotStarted):
		return "The interactive session has not been started."
	}
	return err.Error()
}

// Connect validates the request, cancels any prior pending attempt and
// existing session for this client, then dials off the request path.
func (m *Manager) Connect(clientID string, req ConnectRequest) {
	params, err := m.validateConnect(req)
	if err != nil {
		m.emit(EventConnection, ConnectionEvent{Message: connectFailureMessage(err)}, clientID)
		return
	}

	// A replaced attempt must not speak to the client anymore.
	if prev := m.cancelPending(clientID); prev != nil {
		prev.markNotified()
	}
	m.closeConnection(clientID, "")

	pending := &pendingConnection{}
	m.pendingMu.Lock()
	m.pending[clientID] = pending
	m.pendingMu.Unlock()

	go m.establish(clientID, params, pending)
}

func (m *Manager) validateConnect(req ConnectRequest) (ConnectParams, error) {
	if !m.available {
		return ConnectParams{}, model.ErrSSHUnavailable
	}

	host := strings.TrimSpace(req.Host)
	user := strings.TrimSpace(req.User)

	port := 22
	if p := strings.TrimSpace(req.Port); p != "" {
		parsed, err := strconv.Atoi(p)
		if err != nil || parsed < 1 || parsed > 65535 {
			return ConnectParams{}, errInvalidPort
		}
		port = parsed
	}

	if host == "" || user == "" {
		return ConnectParams{}, errMissingTarget
	}

	return ConnectParams{Host: host, Port: port, User: user, Password: req.Password}, nil
}

func (m *Manager) establish(clientID string, params ConnectParams, pending *pendingConnection) {
	defer m.removePending(clientID, pending)

	conn, err := m.dialer.Dial(params, pending.setHandle)
	if err != nil {
		if pending.isCancelled() {
			m.notifyCancelled(clientID, pending)
			return
		}
		log.Printf("SSH connect for client %s to %s@%s:%d failed: %v",
			clientID, params.User, params.Host, params.Port, err)
		m.emit(EventConnection, ConnectionEvent{Message: connectFailureMessage(err)}, clientID)
		return
	}

	if pending.isCancelled() {
		conn.Close()
		m.notifyCancelled(clientID, pending)
		return
	}

	m.sessionsMu.Lock()
	m.sessions[clientID] = &remoteSession{conn: conn}
	m.sessionsMu.Unlock()

	m.emit(EventConnection, ConnectionEvent{
		OK:      true,
		Message: fmt.Sprintf("Connected to %s@%s:%d", params.User, params.Host, params.Port),
	}, clientID)
	log.Printf("SSH client %s connected to %s@%s:%d", clientID, params.User, params.Host, params.Port)
}

// notifyCancelled emits the cancellation notice unless another path
// already spoke for this attempt.
func (m *Manager) notifyCancelled(clientID string, pending *pendingConnection) {
	if pending.markNotified() {
		m.emit(EventConnection, ConnectionEvent{
			Message: "Connection attempt cancelled.",
		}, clientID)
	}
}

// cancelPending pops and cancels the client's pending attempt, if any.
func (m *Manager) cancelPending(clientID string) *pendingConnection {
	m.pendingMu.Lock()
	pending := m.pending[clientID]
	delete(m.pending, clientID)
	m.pendingMu.Unlock()

	if pending == nil {
		return nil
	}
	pending.cancel()
	return pending
}

// removePending drops the pending record, but only if it still belongs
// to this attempt. A newer Connect may have replaced it.
func (m *Manager) removePending(clientID string, pending *pendingConnection) {
	m.pendingMu.Lock()
	if m.pending[clientID] == pending {
		delete(m.pending, clientID)
	}
	m.pendingMu.Unlock()
}

// Disconnect cancels a pending attempt or tears down the established
// session, notifying the client either way.
func (m *Manager) Disconnect(clientID string) {
	if pending := m.cancelPending(clientID); pending != nil {
		m.notifyCancelled(clientID, pending)
		return
	}
	m.closeConnection(clientID, "SSH connection closed.")
}

// HandleClientGone cleans up after a client whose socket vanished.
// Teardown notices still emitted address an unregistered room and are
// dropped by the gateway.
func (m *Manager) HandleClientGone(clientID string) {
	if pending := m.cancelPending(clientID); pending != nil {
		pending.markNotified()
	}
	m.closeConnection(clientID, "")
}

// closeConnection pops the session, stops its command and shell, and
// closes the transport. A non-empty message is sent as the disconnect
// notice when a session actually existed.
func (m *Manager) closeConnection(clientID, message string) {
	m.sessionsMu.Lock()
	sess := m.sessions[clientID]
	delete(m.sessions, clientID)
	m.sessionsMu.Unlock()

	if sess == nil {
		return
	}

	m.stopActiveCommand(sess, "The command was terminated because the connection was closed.", true)
	m.stopShell(sess, clientID, "The interactive session was stopped because the connection was closed.")
	if err := sess.conn.Close(); err != nil {
		log.Printf("Failed to close ssh connection for client %s: %v", clientID, err)
	}

	if message != "" {
		m.emit(EventDisconnected, Disconnected{Message: message}, clientID)
	}
}

// stopActiveCommand force-terminates the running command, if any. The
// worker observes the stop flag and closed channel, clears the slot and
// emits the terminal event with the recorded message.
func (m *Manager) stopActiveCommand(sess *remoteSession, message string, asError bool) {
	sess.commandMu.Lock()
	active := sess.activeCommand
	sess.commandMu.Unlock()
	if active == nil {
		return
	}

	active.setTermination(message, asError)
	active.channel.Close()
}

// RunCommand starts one command on a fresh pty-backed channel. Commands
// never queue: a second command while one is active is rejected.
func (m *Manager) RunCommand(clientID, command string) {
	command = strings.TrimSpace(command)
	sess, active, err := m.startCommand(clientID, command)
	if err != nil {
		m.emit(EventOutput, CommandOutput{
			Command: command,
			Message: commandFailureMessage(err),
		}, clientID)
		return
	}

	m.emit(EventOutput, CommandOutput{OK: true, Command: command, State: "started"}, clientID)
	go m.commandWorker(clientID, sess, active)
}

// startCommand claims the command slot and opens the channel, or
// reports why it cannot.
func (m *Manager) startCommand(clientID, command string) (*remoteSession, *activeCommand, error) {
	if command == "" {
		return nil, nil, errEmptyCommand
	}
	if !m.available {
		return nil, nil, model.ErrSSHUnavailable
	}
	sess := m.session(clientID)
	if sess == nil {
		return nil, nil, model.ErrNoConnection
	}

	sess.commandMu.Lock()
	if sess.activeCommand != nil {
		sess.commandMu.Unlock()
		return nil, nil, model.ErrCommandActive
	}

	channel, err := sess.conn.Exec(command)
	if err != nil {
		sess.commandMu.Unlock()
		return nil, nil, err
	}

	active := &activeCommand{command: command, channel: channel, stop: newStopSignal()}
	sess.activeCommand = active
	sess.commandMu.Unlock()
	return sess, active, nil
}

// SendCommandInput writes to the running command's stdin. A write
// failure force-terminates the command.
func (m *Manager) SendCommandInput(clientID, data string) {
	sess, active, err := m.runningCommand(clientID)
	if err != nil {
		m.emit(EventOutput, CommandOutput{
			State:   "input_error",
			Message: inputFailureMessage(err),
		}, clientID)
		return
	}

	if err := active.channel.Write([]byte(data)); err != nil {
		log.Printf("Failed to write to command stdin for client %s: %v", clientID, err)
		m.stopActiveCommand(sess, "Failed to send input to the command; it has been terminated.", true)
	}
}

func (m *Manager) runningCommand(clientID string) (*remoteSession, *activeCommand, error) {
	sess := m.session(clientID)
	if sess == nil {
		return nil, nil, model.ErrNoConnection
	}

	sess.commandMu.Lock()
	active := sess.activeCommand
	sess.commandMu.Unlock()
	if active == nil {
		return nil, nil, model.ErrNoActiveCommand
	}
	return sess, active, nil
}

// StartShell opens the interactive session. Idempotent while a live
// shell exists.
func (m *Manager) StartShell(clientID string) {
	sess, err := m.connectedSession(clientID)
	if err != nil {
		m.emit(EventShell, ShellEvent{Message: shellFailureMessage(err)}, clientID)
		return
	}

	sess.shellMu.Lock()
	if sess.shellChannel != nil && sess.shellStop != nil &&
		!sess.shellStop.IsSet() && !channelDone(sess.shellChannel) {
		sess.shellMu.Unlock()
		m.emit(EventShell, ShellEvent{
			OK:      true,
			Active:  true,
			Message: "The interactive session is already active.",
		}, clientID)
		return
	}
	sess.shellMu.Unlock()

	channel, err := sess.conn.Shell()
	if err != nil {
		log.Printf("Failed to open interactive shell for client %s: %v", clientID, err)
		m.emit(EventShell, ShellEvent{
			Message: "Failed to open an interactive session: " + err.Error(),
		}, clientID)
		return
	}

	stop := newStopSignal()
	sess.shellMu.Lock()
	sess.shellChannel = channel
	sess.shellStop = stop
	sess.shellMu.Unlock()

	m.emit(EventShell, ShellEvent{OK: true, Active: true, Message: "Interactive session started."}, clientID)
	go m.shellWorker(clientID, sess, channel, stop)
}

// ShellInput writes to the live shell. A write failure stops the shell
// and reports the closure.
func (m *Manager) ShellInput(clientID, data string) {
	sess, channel, err := m.liveShell(clientID)
	if err != nil {
		m.emit(EventShell, ShellEvent{Message: shellFailureMessage(err)}, clientID)
		return
	}

	if err := channel.Write([]byte(data)); err != nil {
		log.Printf("Failed to write to interactive shell for client %s: %v", clientID, err)
		m.stopShell(sess, clientID, "")
		m.emit(EventShell, ShellEvent{
			Message: "Failed to send data to the interactive session; it has been closed.",
		}, clientID)
	}
}

// StopShell stops the interactive session. Silent when no connection
// or shell exists.
func (m *Manager) StopShell(clientID string) {
	sess := m.session(clientID)
	if sess == nil {
		return
	}
	m.stopShell(sess, clientID, "The interactive session has been stopped.")
}

// stopShell clears the shell slot, signals the worker and closes the
// channel. The stopped notice is only sent when a shell existed and a
// message was given.
func (m *Manager) stopShell(sess *remoteSession, clientID, message string) {
	sess.shellMu.Lock()
	channel := sess.shellChannel
	stop := sess.shellStop
	sess.shellChannel = nil
	sess.shellStop = nil
	sess.shellMu.Unlock()

	if stop != nil {
		stop.Set()
	}
	if channel != nil {
		channel.Close()
	}

	if message != "" && channel != nil {
		m.emit(EventShell, ShellEvent{OK: true, Active: false, Message: message}, clientID)
	}
}

// detachShell clears the slot only when it still holds this channel, so
// a worker winding down never kills a replacement shell.
func (m *Manager) detachShell(sess *remoteSession, channel Channel) bool {
	sess.shellMu.Lock()
	defer sess.shellMu.Unlock()
	if sess.shellChannel != channel {
		return false
	}
	sess.shellChannel = nil
	if sess.shellStop != nil {
		sess.shellStop.Set()
	}
	sess.shellStop = nil
	return true
}

// Close tears down every session and pending attempt. Used on server
// shutdown; nothing is emitted.
func (m *Manager) Close() {
	m.pendingMu.Lock()
	pendings := make([]*pendingConnection, 0, len(m.pending))
	for _, p := range m.pending {
		pendings = append(pendings, p)
	}
	m.pending = make(map[string]*pendingConnection)
	m.pendingMu.Unlock()
	for _, p := range pendings {
		p.markNotified()
		p.cancel()
	}

	m.sessionsMu.Lock()
	clients := make([]string, 0, len(m.sessions))
	for clientID := range m.sessions {
		clients = append(clients, clientID)
	}
	m.sessionsMu.Unlock()
	for _, clientID := range clients {
		m.closeConnection(clientID, "")
	}
}

func channelDone(channel Channel) bool {
	select {
	case <-channel.Done():
		return true
	default:
		return false
	}
}

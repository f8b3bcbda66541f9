// Package session tracks debug sessions and the clients subscribed to
// them.
package session

import (
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/remote-debug-console/backend/internal/buffer"
	"github.com/remote-debug-console/backend/internal/gdbmi"
	"github.com/remote-debug-console/backend/internal/logger"
	"github.com/remote-debug-console/backend/internal/model"
	"github.com/remote-debug-console/backend/internal/pty"
)

// DefaultHistorySize is the per-session console history capacity.
const DefaultHistorySize = 64 * 1024

// Config holds registry settings.
type Config struct {
	// GdbCommand is the debugger command line used when a client does
	// not supply one.
	GdbCommand string

	// KillOnDetach removes a session as soon as its last subscriber
	// detaches. When false (the default) the session is retained so a
	// later client can reattach by pid.
	KillOnDetach bool

	// LogDir enables asciinema transcripts of the console pty when set.
	LogDir string

	// HistorySize overrides DefaultHistorySize when positive.
	HistorySize int
}

// Recorder receives session lifecycle notifications. It backs the
// persistent session records behind the dashboard.
type Recorder interface {
	SessionStarted(pid int, command string, startedAt time.Time)
	SessionEnded(pid int, reason string)
}

// Registry maps client connections to debug sessions. All maps are
// guarded by one registry mutex; callers copy references out before
// any I/O.
type Registry struct {
	cfg      Config
	recorder Recorder

	// newController and openPTY are swappable for tests.
	newController func(gdbCommand, miVersion string) (gdbmi.Controller, error)
	openPTY       func() (pty.PTY, error)

	mu               sync.Mutex
	sessionForClient map[string]*DebugSession
	clientsOfSession map[*DebugSession]map[string]struct{}
}

// NewRegistry creates a Registry backed by real gdb processes.
func NewRegistry(cfg Config) *Registry {
	return &Registry{
		cfg: cfg,
		newController: func(gdbCommand, miVersion string) (gdbmi.Controller, error) {
			return gdbmi.New(gdbCommand, miVersion)
		},
		openPTY:          pty.Open,
		sessionForClient: make(map[string]*DebugSession),
		clientsOfSession: make(map[*DebugSession]map[string]struct{}),
	}
}

// SetRecorder installs the lifecycle recorder. Must be called before
// sessions are started.
func (r *Registry) SetRecorder(rec Recorder) {
	r.recorder = rec
}

// SetFactories replaces the controller and pty constructors. Tests use
// this to run against fakes.
func (r *Registry) SetFactories(
	newController func(gdbCommand, miVersion string) (gdbmi.Controller, error),
	openPTY func() (pty.PTY, error),
) {
	r.newController = newController
	r.openPTY = openPTY
}

// StartDebugSession spawns a new debugger process and subscribes the
// client to it. An empty gdbCommand falls back to the configured
// default.
func (r *Registry) StartDebugSession(gdbCommand, miVersion, clientID string) (*DebugSession, error) {
	if gdbCommand == "" {
		gdbCommand = r.cfg.GdbCommand
	}

	controller, err := r.newController(gdbCommand, miVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to start debugger: %w", err)
	}

	userPTY, err := r.openPTY()
	if err != nil {
		controller.Close()
		return nil, fmt.Errorf("failed to open console pty: %w", err)
	}

	programPTY, err := r.openPTY()
	if err != nil {
		controller.Close()
		userPTY.Close()
		return nil, fmt.Errorf("failed to open program pty: %w", err)
	}

	historySize := r.cfg.HistorySize
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}

	sess := &DebugSession{
		PID:        controller.PID(),
		Command:    gdbCommand,
		StartedAt:  time.Now(),
		Controller: controller,
		UserPTY:    userPTY,
		ProgramPTY: programPTY,
		History:    buffer.NewRingBuffer(historySize),
	}

	r.attachPtys(sess)
	r.startTranscript(sess)

	r.mu.Lock()
	r.detachLocked(clientID)
	r.sessionForClient[clientID] = sess
	r.clientsOfSession[sess] = map[string]struct{}{clientID: {}}
	r.mu.Unlock()

	if r.recorder != nil {
		r.recorder.SessionStarted(sess.PID, sess.Command, sess.StartedAt)
	}
	return sess, nil
}

// attachPtys points the debugger's console ui and inferior tty at the
// freshly opened pairs. Failures here are not fatal for the session.
func (r *Registry) attachPtys(sess *DebugSession) {
	if err := sess.Controller.Write("new-ui console " + sess.UserPTY.SlavePath()); err != nil {
		log.Printf("Failed to attach console ui for pid %d: %v", sess.PID, err)
	}
	if err := sess.Controller.Write("set inferior-tty " + sess.ProgramPTY.SlavePath()); err != nil {
		log.Printf("Failed to set inferior tty for pid %d: %v", sess.PID, err)
	}
}

func (r *Registry) startTranscript(sess *DebugSession) {
	if r.cfg.LogDir == "" {
		return
	}
	path := filepath.Join(r.cfg.LogDir, fmt.Sprintf("gdb-%d.cast", sess.PID))
	transcript, err := newTranscript(path)
	if err != nil {
		log.Printf("Failed to create transcript for pid %d: %v", sess.PID, err)
		return
	}
	sess.Transcript = transcript
}

func newTranscript(path string) (*logger.TranscriptLogger, error) {
	return logger.NewTranscriptLogger(path, 80, 24)
}

// ConnectClient subscribes a client to an existing session by pid.
func (r *Registry) ConnectClient(pid int, clientID string) (*DebugSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for sess, clients := range r.clientsOfSession {
		if sess.PID == pid {
			r.detachLocked(clientID)
			clients[clientID] = struct{}{}
			r.sessionForClient[clientID] = sess
			return sess, nil
		}
	}
	return nil, fmt.Errorf("%w: no gdb process with pid %d", model.ErrSessionNotFound, pid)
}

// SessionForClient returns the session the client subscribes to.
func (r *Registry) SessionForClient(clientID string) (*DebugSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessionForClient[clientID]
	return sess, ok
}

// DisconnectClient removes the client's subscription. Whether the
// session survives its last subscriber is the KillOnDetach policy.
func (r *Registry) DisconnectClient(clientID string) {
	r.mu.Lock()
	sess := r.detachLocked(clientID)
	var remove *DebugSession
	if sess != nil && r.cfg.KillOnDetach && len(r.clientsOfSession[sess]) == 0 {
		delete(r.clientsOfSession, sess)
		remove = sess
	}
	r.mu.Unlock()

	if remove != nil {
		remove.Close()
		if r.recorder != nil {
			r.recorder.SessionEnded(remove.PID, "last client detached")
		}
	}
}

// detachLocked unlinks clientID from its session and returns that
// session, if any. Caller holds r.mu.
func (r *Registry) detachLocked(clientID string) *DebugSession {
	sess, ok := r.sessionForClient[clientID]
	if !ok {
		return nil
	}
	delete(r.sessionForClient, clientID)
	if clients, ok := r.clientsOfSession[sess]; ok {
		delete(clients, clientID)
	}
	return sess
}

// Remove unregisters and tears down a session. Safe to call more than
// once for the same session; only the first call does work.
func (r *Registry) Remove(sess *DebugSession, reason string) {
	r.mu.Lock()
	_, registered := r.clientsOfSession[sess]
	if registered {
		delete(r.clientsOfSession, sess)
		for clientID, s := range r.sessionForClient {
			if s == sess {
				delete(r.sessionForClient, clientID)
			}
		}
	}
	r.mu.Unlock()

	if !registered {
		return
	}
	sess.Close()
	if r.recorder != nil {
		r.recorder.SessionEnded(sess.PID, reason)
	}
}

// RemoveByPID removes the session with the given pid, if registered.
func (r *Registry) RemoveByPID(pid int, reason string) error {
	r.mu.Lock()
	var target *DebugSession
	for sess := range r.clientsOfSession {
		if sess.PID == pid {
			target = sess
			break
		}
	}
	r.mu.Unlock()

	if target == nil {
		return model.ErrSessionNotFound
	}
	r.Remove(target, reason)
	return nil
}

// Entry pairs a session with a copy of its subscriber list.
type Entry struct {
	Session   *DebugSession
	ClientIDs []string
}

// Snapshot copies out every live session and its subscribers. The
// relay loop iterates the snapshot without holding the registry lock.
func (r *Registry) Snapshot() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := make([]Entry, 0, len(r.clientsOfSession))
	for sess, clients := range r.clientsOfSession {
		ids := make([]string, 0, len(clients))
		for id := range clients {
			ids = append(ids, id)
		}
		entries = append(entries, Entry{Session: sess, ClientIDs: ids})
	}
	return entries
}

// Close tears down every session.
func (r *Registry) Close() {
	r.mu.Lock()
	sessions := make([]*DebugSession, 0, len(r.clientsOfSession))
	for sess := range r.clientsOfSession {
		sessions = append(sessions, sess)
	}
	r.clientsOfSession = make(map[*DebugSession]map[string]struct{})
	r.sessionForClient = make(map[string]*DebugSession)
	r.mu.Unlock()

	for _, sess := range sessions {
		sess.Close()
	}
}

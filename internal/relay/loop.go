// Package relay drains debugger responses and pty output from every
// live debug session and fans them out to subscribed clients.
package relay

import (
	"log"
	"sync"
	"time"

	"github.com/remote-debug-console/backend/internal/gdbmi"
	"github.com/remote-debug-console/backend/internal/session"
)

// DefaultInterval bounds end-to-end latency: the loop never sleeps
// longer than this between polls.
const DefaultInterval = 50 * time.Millisecond

// Emitter delivers an event to the room of a single client.
type Emitter interface {
	Emit(event string, payload interface{}, clientID string)
}

// Loop is the single recurring task reading all debug sessions. It is
// lazily started on the first client connection and runs until Stop.
type Loop struct {
	registry *session.Registry
	emitter  Emitter
	interval time.Duration

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
}

// NewLoop creates a relay loop over the registry. A non-positive
// interval falls back to DefaultInterval.
func NewLoop(registry *session.Registry, emitter Emitter, interval time.Duration) *Loop {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Loop{
		registry: registry,
		emitter:  emitter,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

// EnsureStarted starts the background goroutine once. Safe to call on
// every client connection.
func (l *Loop) EnsureStarted() {
	l.startOnce.Do(func() {
		log.Println("Starting gdb output relay loop")
		go l.run()
	})
}

// Stop terminates the loop. Idempotent.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

func (l *Loop) run() {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.tick()
		}
	}
}

// tick performs one relay pass: per session, one controller poll, then
// both ptys; sessions that failed are removed exactly once after all
// broadcasts for the tick. The ptys are drained even when the
// controller poll failed, so buffered final output still reaches the
// clients before the session is removed.
func (l *Loop) tick() {
	var dead []*session.DebugSession

	for _, entry := range l.registry.Snapshot() {
		if !l.forwardControllerResponse(entry) {
			dead = append(dead, entry.Session)
		}
		if !l.forwardPtyOutput(entry) {
			dead = append(dead, entry.Session)
		}
	}

	removed := make(map[*session.DebugSession]struct{}, len(dead))
	for _, sess := range dead {
		if _, done := removed[sess]; done {
			continue
		}
		removed[sess] = struct{}{}
		l.registry.Remove(sess, "debugger process lost")
	}
}

// forwardControllerResponse polls the session's MI controller once and
// broadcasts any pending records. It reports false when the underlying
// process is gone.
func (l *Loop) forwardControllerResponse(entry session.Entry) bool {
	records, err := entry.Session.Controller.Poll()
	if err != nil {
		log.Printf("gdb controller for pid %d failed: %v", entry.Session.PID, err)
		l.broadcastConsole(entry.ClientIDs,
			"The underlying gdb process has been killed. This tab will no longer function as expected.")
		return false
	}
	if len(records) > 0 {
		for _, clientID := range entry.ClientIDs {
			l.emitter.Emit("gdb_response", records, clientID)
		}
	}
	return true
}

// forwardPtyOutput reads both ptys non-blockingly and broadcasts any
// produced bytes under per-pty event names. It reports false on a read
// failure, after notifying every subscriber.
func (l *Loop) forwardPtyOutput(entry session.Entry) bool {
	sess := entry.Session

	data, err := sess.UserPTY.ReadAvailable()
	if err != nil {
		l.broadcastFatal(entry.ClientIDs, err.Error())
		return false
	}
	if len(data) > 0 {
		sess.RecordOutput(data)
		for _, clientID := range entry.ClientIDs {
			l.emitter.Emit("user_pty_response", string(data), clientID)
		}
	}

	data, err = sess.ProgramPTY.ReadAvailable()
	if err != nil {
		l.broadcastFatal(entry.ClientIDs, err.Error())
		return false
	}
	if len(data) > 0 {
		for _, clientID := range entry.ClientIDs {
			l.emitter.Emit("program_pty_response", string(data), clientID)
		}
	}
	return true
}

func (l *Loop) broadcastConsole(clientIDs []string, msg string) {
	records := []gdbmi.Record{{Type: "console", Payload: msg, Stream: "stderr"}}
	for _, clientID := range clientIDs {
		l.emitter.Emit("gdb_response", records, clientID)
	}
}

func (l *Loop) broadcastFatal(clientIDs []string, msg string) {
	for _, clientID := range clientIDs {
		l.emitter.Emit("fatal_server_error", map[string]string{"message": msg}, clientID)
	}
}

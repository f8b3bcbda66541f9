package session

import (
	"log"
	"time"

	"github.com/remote-debug-console/backend/internal/buffer"
	"github.com/remote-debug-console/backend/internal/gdbmi"
	"github.com/remote-debug-console/backend/internal/logger"
	"github.com/remote-debug-console/backend/internal/pty"
)

// DebugSession is one live debugger process plus its two
// pseudo-terminals: the user-facing console pty and the pty the
// debugged program is attached to. Its handles are shared read-only by
// every subscribing client; mutation goes through the registry.
type DebugSession struct {
	PID        int
	Command    string
	StartedAt  time.Time
	Controller gdbmi.Controller
	UserPTY    pty.PTY
	ProgramPTY pty.PTY

	// History buffers recent console output for clients reattaching
	// to a running session.
	History *buffer.RingBuffer

	// Transcript is an optional asciinema recording of the console.
	Transcript *logger.TranscriptLogger
}

// RecordOutput stores console bytes in the history buffer and the
// transcript, if enabled.
func (s *DebugSession) RecordOutput(data []byte) {
	if len(data) == 0 {
		return
	}
	if s.History != nil {
		s.History.Write(data)
	}
	if s.Transcript != nil {
		if err := s.Transcript.WriteOutput(data); err != nil {
			log.Printf("Failed to write transcript for pid %d: %v", s.PID, err)
		}
	}
}

// Close tears down the controller and both ptys. Teardown failures are
// logged and swallowed; they never surface to callers.
func (s *DebugSession) Close() {
	if s.Controller != nil {
		if err := s.Controller.Close(); err != nil {
			log.Printf("Failed to close gdb controller for pid %d: %v", s.PID, err)
		}
	}
	if s.UserPTY != nil {
		if err := s.UserPTY.Close(); err != nil {
			log.Printf("Failed to close user pty for pid %d: %v", s.PID, err)
		}
	}
	if s.ProgramPTY != nil {
		if err := s.ProgramPTY.Close(); err != nil {
			log.Printf("Failed to close program pty for pid %d: %v", s.PID, err)
		}
	}
	if s.Transcript != nil {
		if err := s.Transcript.Close(); err != nil {
			log.Printf("Failed to close transcript for pid %d: %v", s.PID, err)
		}
	}
}

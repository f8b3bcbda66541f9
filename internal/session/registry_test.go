package session

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/remote-debug-console/backend/internal/gdbmi"
	"github.com/remote-debug-console/backend/internal/model"
	"github.com/remote-debug-console/backend/internal/pty"
)

type fakeController struct {
	mu     sync.Mutex
	pid    int
	closed bool
	writes []string
}

func (f *fakeController) Write(cmd string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, cmd)
	return nil
}

func (f *fakeController) Poll() ([]gdbmi.Record, error) { return nil, nil }

func (f *fakeController) PID() int { return f.pid }

func (f *fakeController) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

type fakePTY struct {
	mu     sync.Mutex
	closed bool
}

func (f *fakePTY) ReadAvailable() ([]byte, error) { return nil, nil }
func (f *fakePTY) Write(p []byte) (int, error)    { return len(p), nil }
func (f *fakePTY) Resize(rows, cols uint16) error { return nil }
func (f *fakePTY) SlavePath() string              { return "/dev/pts/fake" }

func (f *fakePTY) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

type recordedEnd struct {
	pid    int
	reason string
}

type fakeRecorder struct {
	mu      sync.Mutex
	started []int
	ended   []recordedEnd
}

func (f *fakeRecorder) SessionStarted(pid int, command string, startedAt time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, pid)
}

func (f *fakeRecorder) SessionEnded(pid int, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended = append(f.ended, recordedEnd{pid, reason})
}

func newTestRegistry(cfg Config) (*Registry, *fakeRecorder) {
	nextPID := 1000
	reg := NewRegistry(cfg)
	reg.SetFactories(
		func(gdbCommand, miVersion string) (gdbmi.Controller, error) {
			nextPID++
			return &fakeController{pid: nextPID}, nil
		},
		func() (pty.PTY, error) { return &fakePTY{}, nil },
	)
	rec := &fakeRecorder{}
	reg.SetRecorder(rec)
	return reg, rec
}

func TestRegistry_StartDebugSession(t *testing.T) {
	reg, rec := newTestRegistry(Config{GdbCommand: "gdb"})

	sess, err := reg.StartDebugSession("", "", "client-1")
	if err != nil {
		t.Fatalf("StartDebugSession failed: %v", err)
	}

	if sess.Command != "gdb" {
		t.Errorf("expected default command, got %q", sess.Command)
	}
	if sess.PID == 0 {
		t.Error("expected a pid")
	}

	got, ok := reg.SessionForClient("client-1")
	if !ok || got != sess {
		t.Error("client should be subscribed to the new session")
	}

	ctrl := sess.Controller.(*fakeController)
	if len(ctrl.writes) != 2 {
		t.Errorf("expected console ui and inferior-tty setup writes, got %v", ctrl.writes)
	}

	if len(rec.started) != 1 || rec.started[0] != sess.PID {
		t.Errorf("recorder should see session start, got %v", rec.started)
	}
}

func TestRegistry_ReattachByPID(t *testing.T) {
	reg, _ := newTestRegistry(Config{GdbCommand: "gdb"})

	sess, err := reg.StartDebugSession("", "", "client-1")
	if err != nil {
		t.Fatalf("StartDebugSession failed: %v", err)
	}

	t.Run("second client attaches to same session", func(t *testing.T) {
		got, err := reg.ConnectClient(sess.PID, "client-2")
		if err != nil {
			t.Fatalf("ConnectClient failed: %v", err)
		}
		if got != sess {
			t.Error("expected the existing session")
		}
	})

	t.Run("unknown pid is rejected", func(t *testing.T) {
		_, err := reg.ConnectClient(99999, "client-3")
		if !errors.Is(err, model.ErrSessionNotFound) {
			t.Errorf("expected ErrSessionNotFound, got %v", err)
		}
	})
}

func TestRegistry_RetentionPolicy(t *testing.T) {
	t.Run("retained after last detach by default", func(t *testing.T) {
		reg, rec := newTestRegistry(Config{GdbCommand: "gdb"})
		sess, _ := reg.StartDebugSession("", "", "client-1")

		reg.DisconnectClient("client-1")

		if _, err := reg.ConnectClient(sess.PID, "client-2"); err != nil {
			t.Errorf("session should be retained for reattach: %v", err)
		}
		if len(rec.ended) != 0 {
			t.Errorf("no end events expected, got %v", rec.ended)
		}
	})

	t.Run("killed on detach when configured", func(t *testing.T) {
		reg, rec := newTestRegistry(Config{GdbCommand: "gdb", KillOnDetach: true})
		sess, _ := reg.StartDebugSession("", "", "client-1")

		reg.DisconnectClient("client-1")

		if _, err := reg.ConnectClient(sess.PID, "client-2"); err == nil {
			t.Error("session should have been removed")
		}
		if !sess.Controller.(*fakeController).closed {
			t.Error("controller should be closed")
		}
		if len(rec.ended) != 1 {
			t.Errorf("expected one end event, got %v", rec.ended)
		}
	})

	t.Run("other subscribers keep the session alive", func(t *testing.T) {
		reg, _ := newTestRegistry(Config{GdbCommand: "gdb", KillOnDetach: true})
		sess, _ := reg.StartDebugSession("", "", "client-1")
		if _, err := reg.ConnectClient(sess.PID, "client-2"); err != nil {
			t.Fatalf("ConnectClient failed: %v", err)
		}

		reg.DisconnectClient("client-1")

		if got, ok := reg.SessionForClient("client-2"); !ok || got != sess {
			t.Error("remaining subscriber should still see the session")
		}
	})
}

func TestRegistry_RemoveIsIdempotent(t *testing.T) {
	reg, rec := newTestRegistry(Config{GdbCommand: "gdb"})
	sess, _ := reg.StartDebugSession("", "", "client-1")

	reg.Remove(sess, "process lost")
	reg.Remove(sess, "process lost")

	if len(rec.ended) != 1 {
		t.Errorf("expected exactly one end event, got %v", rec.ended)
	}
	if _, ok := reg.SessionForClient("client-1"); ok {
		t.Error("client mapping should be gone")
	}
}

func TestRegistry_Snapshot(t *testing.T) {
	reg, _ := newTestRegistry(Config{GdbCommand: "gdb"})
	s1, _ := reg.StartDebugSession("", "", "client-1")
	if _, err := reg.ConnectClient(s1.PID, "client-2"); err != nil {
		t.Fatalf("ConnectClient failed: %v", err)
	}
	if _, err := reg.StartDebugSession("", "", "client-3"); err != nil {
		t.Fatalf("StartDebugSession failed: %v", err)
	}

	entries := reg.Snapshot()
	if len(entries) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(entries))
	}

	counts := map[int]int{}
	for _, e := range entries {
		counts[e.Session.PID] = len(e.ClientIDs)
	}
	if counts[s1.PID] != 2 {
		t.Errorf("expected 2 subscribers for first session, got %d", counts[s1.PID])
	}
}

package relay

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/remote-debug-console/backend/internal/gdbmi"
	"github.com/remote-debug-console/backend/internal/pty"
	"github.com/remote-debug-console/backend/internal/session"
)

type scriptedController struct {
	mu        sync.Mutex
	pid       int
	polls     int
	failOn    int // poll count that starts failing; 0 = never
	responses map[int][]gdbmi.Record
	closed    bool
}

func (c *scriptedController) Write(cmd string) error { return nil }

func (c *scriptedController) Poll() ([]gdbmi.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.polls++
	if c.failOn > 0 && c.polls >= c.failOn {
		return nil, errors.New("process has exited")
	}
	return c.responses[c.polls], nil
}

func (c *scriptedController) PID() int { return c.pid }

func (c *scriptedController) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

type scriptedPTY struct {
	mu    sync.Mutex
	reads [][]byte
	err   error
}

func (p *scriptedPTY) ReadAvailable() ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	if len(p.reads) == 0 {
		return nil, nil
	}
	data := p.reads[0]
	p.reads = p.reads[1:]
	return data, nil
}

func (p *scriptedPTY) Write(b []byte) (int, error)    { return len(b), nil }
func (p *scriptedPTY) Resize(rows, cols uint16) error { return nil }
func (p *scriptedPTY) SlavePath() string              { return "/dev/pts/scripted" }
func (p *scriptedPTY) Close() error                   { return nil }

type emittedEvent struct {
	event    string
	payload  interface{}
	clientID string
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []emittedEvent
}

func (e *recordingEmitter) Emit(event string, payload interface{}, clientID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, emittedEvent{event, payload, clientID})
}

func (e *recordingEmitter) byEvent(name string) []emittedEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []emittedEvent
	for _, ev := range e.events {
		if ev.event == name {
			out = append(out, ev)
		}
	}
	return out
}

// testHarness owns a registry whose factories hand out the scripted
// fakes queued in controllers and ptys, in order.
type testHarness struct {
	registry    *session.Registry
	emitter     *recordingEmitter
	loop        *Loop
	controllers []*scriptedController
	ptys        []*scriptedPTY
}

func newHarness(t *testing.T, controllers []*scriptedController, ptys []*scriptedPTY) *testHarness {
	t.Helper()
	h := &testHarness{
		registry:    session.NewRegistry(session.Config{GdbCommand: "gdb"}),
		emitter:     &recordingEmitter{},
		controllers: controllers,
		ptys:        ptys,
	}
	ci, pi := 0, 0
	h.registry.SetFactories(
		func(gdbCommand, miVersion string) (gdbmi.Controller, error) {
			c := controllers[ci]
			ci++
			return c, nil
		},
		func() (pty.PTY, error) {
			p := ptys[pi]
			pi++
			return p, nil
		},
	)
	h.loop = NewLoop(h.registry, h.emitter, DefaultInterval)
	return h
}

func TestLoop_ForwardsResponsesAndPtyOutput(t *testing.T) {
	ctrl := &scriptedController{
		pid: 101,
		responses: map[int][]gdbmi.Record{
			1: {{Type: "console", Payload: "hi", Stream: "stdout"}},
		},
	}
	userPTY := &scriptedPTY{reads: [][]byte{[]byte("console out")}}
	programPTY := &scriptedPTY{reads: [][]byte{[]byte("program out")}}

	h := newHarness(t, []*scriptedController{ctrl}, []*scriptedPTY{userPTY, programPTY})
	sess, err := h.registry.StartDebugSession("", "", "client-1")
	if err != nil {
		t.Fatalf("StartDebugSession failed: %v", err)
	}

	h.loop.tick()

	if got := h.emitter.byEvent("gdb_response"); len(got) != 1 || got[0].clientID != "client-1" {
		t.Errorf("expected one gdb_response for client-1, got %v", got)
	}
	if got := h.emitter.byEvent("user_pty_response"); len(got) != 1 || got[0].payload != "console out" {
		t.Errorf("expected user pty output, got %v", got)
	}
	if got := h.emitter.byEvent("program_pty_response"); len(got) != 1 || got[0].payload != "program out" {
		t.Errorf("expected program pty output, got %v", got)
	}

	t.Run("controller response precedes pty output", func(t *testing.T) {
		var order []string
		for _, ev := range h.emitter.events {
			order = append(order, ev.event)
		}
		if order[0] != "gdb_response" {
			t.Errorf("expected gdb_response first, got %v", order)
		}
	})

	t.Run("console output recorded in history", func(t *testing.T) {
		if got := string(sess.History.Bytes()); got != "console out" {
			t.Errorf("history = %q, want %q", got, "console out")
		}
	})
}

func TestLoop_ControllerFailureRemovesOnlyThatSession(t *testing.T) {
	const n = 3
	controllers := make([]*scriptedController, n)
	ptys := make([]*scriptedPTY, 0, n*2)
	for i := 0; i < n; i++ {
		controllers[i] = &scriptedController{
			pid: 200 + i,
			responses: map[int][]gdbmi.Record{
				1: {{Type: "console", Payload: "tick1", Stream: "stdout"}},
				2: {{Type: "console", Payload: "tick2", Stream: "stdout"}},
				3: {{Type: "console", Payload: "tick3", Stream: "stdout"}},
				4: {{Type: "console", Payload: "tick4", Stream: "stdout"}},
			},
		}
		ptys = append(ptys, &scriptedPTY{}, &scriptedPTY{})
	}
	// Session K's controller raises on its 3rd poll.
	const k = 1
	controllers[k].failOn = 3

	h := newHarness(t, controllers, ptys)
	for i := 0; i < n; i++ {
		if _, err := h.registry.StartDebugSession("", "", fmt.Sprintf("client-%d", i)); err != nil {
			t.Fatalf("StartDebugSession failed: %v", err)
		}
	}

	for tick := 0; tick < 4; tick++ {
		h.loop.tick()
	}

	t.Run("failed session removed after its failing tick", func(t *testing.T) {
		if controllers[k].polls != 3 {
			t.Errorf("failed controller polled %d times, want 3", controllers[k].polls)
		}
		if !controllers[k].closed {
			t.Error("failed session's controller should be closed")
		}
		if len(h.registry.Snapshot()) != n-1 {
			t.Errorf("expected %d surviving sessions, got %d", n-1, len(h.registry.Snapshot()))
		}
	})

	t.Run("exactly one fatal notice for the failed session", func(t *testing.T) {
		count := 0
		for _, ev := range h.emitter.byEvent("gdb_response") {
			if ev.clientID != fmt.Sprintf("client-%d", k) {
				continue
			}
			if recs, ok := ev.payload.([]gdbmi.Record); ok && len(recs) == 1 && recs[0].Stream == "stderr" {
				count++
			}
		}
		if count != 1 {
			t.Errorf("expected exactly one fatal notice, got %d", count)
		}
	})

	t.Run("other sessions keep receiving responses", func(t *testing.T) {
		for i := 0; i < n; i++ {
			if i == k {
				continue
			}
			if controllers[i].polls != 4 {
				t.Errorf("controller %d polled %d times, want 4", i, controllers[i].polls)
			}
		}
	})
}

func TestLoop_PtyFailureBroadcastsFatalError(t *testing.T) {
	ctrl := &scriptedController{pid: 300}
	userPTY := &scriptedPTY{err: errors.New("pty gone")}
	programPTY := &scriptedPTY{}

	h := newHarness(t, []*scriptedController{ctrl}, []*scriptedPTY{userPTY, programPTY})
	sess, err := h.registry.StartDebugSession("", "", "client-1")
	if err != nil {
		t.Fatalf("StartDebugSession failed: %v", err)
	}
	if _, err := h.registry.ConnectClient(sess.PID, "client-2"); err != nil {
		t.Fatalf("ConnectClient failed: %v", err)
	}

	h.loop.tick()

	fatal := h.emitter.byEvent("fatal_server_error")
	if len(fatal) != 2 {
		t.Fatalf("expected a fatal notice per subscriber, got %d", len(fatal))
	}
	payload, ok := fatal[0].payload.(map[string]string)
	if !ok || payload["message"] != "pty gone" {
		t.Errorf("fatal notice should carry the error text, got %v", fatal[0].payload)
	}

	if len(h.registry.Snapshot()) != 0 {
		t.Error("failed session should be removed from the registry")
	}
}

func TestLoop_ControllerFailureStillDrainsPtys(t *testing.T) {
	ctrl := &scriptedController{pid: 400, failOn: 1}
	userPTY := &scriptedPTY{reads: [][]byte{[]byte("final words\n")}}
	programPTY := &scriptedPTY{}

	h := newHarness(t, []*scriptedController{ctrl}, []*scriptedPTY{userPTY, programPTY})
	if _, err := h.registry.StartDebugSession("", "", "client-1"); err != nil {
		t.Fatalf("StartDebugSession failed: %v", err)
	}

	h.loop.tick()

	t.Run("buffered console output delivered on the dying tick", func(t *testing.T) {
		got := h.emitter.byEvent("user_pty_response")
		if len(got) != 1 || got[0].payload != "final words\n" {
			t.Errorf("expected buffered console output, got %v", got)
		}
	})

	t.Run("death notice still broadcast", func(t *testing.T) {
		responses := h.emitter.byEvent("gdb_response")
		if len(responses) != 1 {
			t.Fatalf("expected one gdb_response, got %d", len(responses))
		}
		recs, ok := responses[0].payload.([]gdbmi.Record)
		if !ok || len(recs) != 1 || recs[0].Stream != "stderr" {
			t.Errorf("expected the death notice, got %v", responses[0].payload)
		}
	})

	t.Run("session removed exactly once", func(t *testing.T) {
		if len(h.registry.Snapshot()) != 0 {
			t.Error("failed session should be removed")
		}
		if !ctrl.closed {
			t.Error("controller should be closed")
		}
	})
}

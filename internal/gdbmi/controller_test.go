package gdbmi

import (
	"reflect"
	"syscall"
	"testing"
)

func TestClassify(t *testing.T) {
	strPtr := func(s string) *string { return &s }

	tests := []struct {
		name string
		line string
		want Record
		ok   bool
	}{
		{"prompt dropped", "(gdb)", Record{}, false},
		{"empty dropped", "", Record{}, false},
		{
			"console stream",
			`~"Reading symbols from a.out...\n"`,
			Record{Type: "console", Payload: "Reading symbols from a.out...\n", Stream: "stdout"},
			true,
		},
		{
			"log stream",
			`&"warning: something\n"`,
			Record{Type: "log", Payload: "warning: something\n", Stream: "stdout"},
			true,
		},
		{
			"result with payload",
			`^done,bkpt={number="1"}`,
			Record{Type: "result", Message: strPtr("done"), Payload: `bkpt={number="1"}`, Stream: "stdout"},
			true,
		},
		{
			"result without payload",
			"^running",
			Record{Type: "result", Message: strPtr("running"), Payload: "", Stream: "stdout"},
			true,
		},
		{
			"exec async notify",
			`*stopped,reason="breakpoint-hit"`,
			Record{Type: "notify", Message: strPtr("stopped"), Payload: `reason="breakpoint-hit"`, Stream: "stdout"},
			true,
		},
		{
			"status notify",
			`=thread-created,id="1"`,
			Record{Type: "notify", Message: strPtr("thread-created"), Payload: `id="1"`, Stream: "stdout"},
			true,
		},
		{
			"unrecognized line passes through",
			"plain text",
			Record{Type: "output", Payload: "plain text", Stream: "stdout"},
			true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := classify(tt.line)
			if ok != tt.ok {
				t.Fatalf("classify(%q) ok = %v, want %v", tt.line, ok, tt.ok)
			}
			if !ok {
				return
			}
			if got.Type != tt.want.Type || got.Payload != tt.want.Payload || got.Stream != tt.want.Stream {
				t.Errorf("classify(%q) = %+v, want %+v", tt.line, got, tt.want)
			}
			if (got.Message == nil) != (tt.want.Message == nil) {
				t.Fatalf("classify(%q) message presence mismatch", tt.line)
			}
			if got.Message != nil && *got.Message != *tt.want.Message {
				t.Errorf("classify(%q) message = %q, want %q", tt.line, *got.Message, *tt.want.Message)
			}
		})
	}
}

func TestControllerCloseReapsProcess(t *testing.T) {
	c, err := New("/bin/cat", "")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	pid := c.PID()
	if pid <= 0 {
		t.Fatalf("expected positive pid, got %d", pid)
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// A reaped process no longer accepts signal 0.
	if err := syscall.Kill(pid, 0); err != syscall.ESRCH {
		t.Errorf("process %d should be reaped, kill(0) = %v", pid, err)
	}

	t.Run("second close is a no-op", func(t *testing.T) {
		if err := c.Close(); err != nil {
			t.Errorf("repeated Close should return nil, got %v", err)
		}
	})
}

func TestSplitCommand(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"gdb", []string{"gdb"}},
		{"gdb -q ./a.out", []string{"gdb", "-q", "./a.out"}},
		{`gdb "my program"`, []string{"gdb", "my program"}},
		{"gdb 'a b' c", []string{"gdb", "a b", "c"}},
		{"  spaced   out  ", []string{"spaced", "out"}},
	}

	for _, tt := range tests {
		if got := splitCommand(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("splitCommand(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

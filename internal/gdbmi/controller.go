// Package gdbmi drives a gdb machine-interface process. The rest of
// the system treats it as an opaque controller producing structured
// response records on demand; record payloads are not interpreted
// here beyond line framing and stream classification.
package gdbmi

import (
	"bytes"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/remote-debug-console/backend/internal/pty"
)

// Record is one structured response line from the debugger.
type Record struct {
	Type    string  `json:"type"`
	Message *string `json:"message"`
	Payload string  `json:"payload"`
	Stream  string  `json:"stream"`
}

// Controller is the process-I/O controller for one debugger instance.
// Poll never blocks; it returns (nil, nil) when nothing is pending and
// an error only when the underlying process is lost.
type Controller interface {
	Write(cmd string) error
	Poll() ([]Record, error)
	PID() int
	Close() error
}

// PtyController runs gdb in MI mode under a pseudo-terminal.
type PtyController struct {
	mu      sync.Mutex
	proc    *pty.Process
	partial []byte
	closed  bool
}

// DefaultMiVersion is the machine-interface protocol version used
// when the client does not request one.
const DefaultMiVersion = "mi2"

// New starts gdb from the given command line. Additional words in the
// command line are passed through as arguments before the MI flag.
func New(gdbCommand, miVersion string) (*PtyController, error) {
	parts := splitCommand(gdbCommand)
	if len(parts) == 0 {
		return nil, fmt.Errorf("empty gdb command")
	}
	if miVersion == "" {
		miVersion = DefaultMiVersion
	}

	args := append(append([]string{}, parts[1:]...), "--interpreter="+miVersion)
	proc, err := pty.Start(pty.StartOptions{
		Command:     parts[0],
		Args:        args,
		InitialRows: 24,
		InitialCols: 80,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start gdb: %w", err)
	}

	return &PtyController{proc: proc}, nil
}

// Write sends one command line to gdb.
func (c *PtyController) Write(cmd string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("controller is closed")
	}
	_, err := c.proc.PTY.Write([]byte(cmd + "\n"))
	return err
}

// Poll drains whatever gdb has produced since the last call and
// returns it as records, one per complete line. Incomplete trailing
// output is buffered for the next poll.
func (c *PtyController) Poll() ([]Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, fmt.Errorf("controller is closed")
	}

	data, err := c.proc.PTY.ReadAvailable()
	if err != nil {
		return nil, fmt.Errorf("gdb process i/o failed: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	c.partial = append(c.partial, data...)
	var records []Record
	for {
		idx := bytes.IndexByte(c.partial, '\n')
		if idx < 0 {
			break
		}
		line := strings.TrimRight(string(c.partial[:idx]), "\r")
		c.partial = c.partial[idx+1:]
		if rec, ok := classify(line); ok {
			records = append(records, rec)
		}
	}
	return records, nil
}

// PID returns the gdb process id.
func (c *PtyController) PID() int {
	return c.proc.PID()
}

// Close kills gdb, reaps it and releases the pty.
func (c *PtyController) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if err := c.proc.Kill(); err != nil {
		log.Printf("Failed to kill gdb pid %d: %v", c.proc.PID(), err)
	}
	if _, err := c.proc.Wait(); err != nil {
		log.Printf("Failed to reap gdb pid %d: %v", c.proc.PID(), err)
	}
	return c.proc.Close()
}

// classify maps an MI output line to a record by its sigil. The
// payload stays opaque. The "(gdb)" prompt terminator is dropped.
func classify(line string) (Record, bool) {
	if line == "" || line == "(gdb)" || line == "(gdb) " {
		return Record{}, false
	}

	switch line[0] {
	case '~':
		return Record{Type: "console", Payload: unquote(line[1:]), Stream: "stdout"}, true
	case '&':
		return Record{Type: "log", Payload: unquote(line[1:]), Stream: "stdout"}, true
	case '@':
		return Record{Type: "target", Payload: unquote(line[1:]), Stream: "stdout"}, true
	case '^', '*', '=':
		recType := map[byte]string{'^': "result", '*': "notify", '=': "notify"}[line[0]]
		msg, payload := splitResult(line[1:])
		return Record{Type: recType, Message: &msg, Payload: payload, Stream: "stdout"}, true
	default:
		return Record{Type: "output", Payload: line, Stream: "stdout"}, true
	}
}

// splitResult separates "done,key=..." into message and payload.
func splitResult(s string) (string, string) {
	if idx := strings.IndexByte(s, ','); idx >= 0 {
		return s[:idx], s[idx+1:]
	}
	return s, ""
}

// unquote removes the surrounding quotes of an MI c-string and
// resolves the common escapes. Malformed input is returned as-is.
func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	r := strings.NewReplacer(`\n`, "\n", `\t`, "\t", `\"`, `"`, `\\`, `\`)
	return r.Replace(s)
}

// splitCommand splits a command line into words, honoring single and
// double quotes.
func splitCommand(cmd string) []string {
	var parts []string
	var current []rune
	inQuote := false
	quoteChar := rune(0)

	for _, r := range cmd {
		switch {
		case r == '"' || r == '\'':
			if inQuote {
				if r == quoteChar {
					inQuote = false
					quoteChar = 0
				} else {
					current = append(current, r)
				}
			} else {
				inQuote = true
				quoteChar = r
			}
		case r == ' ' || r == '\t':
			if inQuote {
				current = append(current, r)
			} else if len(current) > 0 {
				parts = append(parts, string(current))
				current = nil
			}
		default:
			current = append(current, r)
		}
	}

	if len(current) > 0 {
		parts = append(parts, string(current))
	}
	return parts
}

// Package logger records debug-console transcripts in asciinema v2
// JSON-lines format so debugging sessions can be replayed later.
package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

type header struct {
	Version   int               `json:"version"`
	Width     int               `json:"width"`
	Height    int               `json:"height"`
	Timestamp int64             `json:"timestamp"`
	Env       map[string]string `json:"env,omitempty"`
}

// TranscriptLogger writes an asciinema v2 cast of one debug session's
// console pty.
type TranscriptLogger struct {
	mu        sync.Mutex
	writer    io.Writer
	file      *os.File // set only when we own the file
	startTime time.Time
}

// NewTranscriptLogger creates a cast file at path and writes the v2
// header for the given terminal size.
func NewTranscriptLogger(path string, cols, rows int) (*TranscriptLogger, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create transcript file: %w", err)
	}

	l := &TranscriptLogger{writer: file, file: file, startTime: time.Now()}
	if err := l.writeHeader(cols, rows); err != nil {
		file.Close()
		return nil, err
	}
	return l, nil
}

// NewTranscriptLoggerWithWriter writes to w instead of a file. Used in
// tests.
func NewTranscriptLoggerWithWriter(w io.Writer, cols, rows int) (*TranscriptLogger, error) {
	l := &TranscriptLogger{writer: w, startTime: time.Now()}
	if err := l.writeHeader(cols, rows); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *TranscriptLogger) writeHeader(cols, rows int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	h := header{Version: 2, Width: cols, Height: rows, Timestamp: l.startTime.Unix()}
	data, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}
	if _, err := l.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	return nil
}

// WriteOutput appends an output ("o") event.
func (l *TranscriptLogger) WriteOutput(data []byte) error {
	return l.writeEvent("o", data)
}

// WriteInput appends an input ("i") event.
func (l *TranscriptLogger) WriteInput(data []byte) error {
	return l.writeEvent("i", data)
}

func (l *TranscriptLogger) writeEvent(eventType string, data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	event := []interface{}{
		time.Since(l.startTime).Seconds(),
		eventType,
		string(data),
	}
	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if _, err := l.writer.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	return nil
}

// Close closes the underlying file if the logger owns one.
func (l *TranscriptLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

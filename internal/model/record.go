package model

import "time"

// SessionStatus is the lifecycle state of a recorded debug session.
type SessionStatus string

const (
	SessionStatusRunning SessionStatus = "running"
	SessionStatusEnded   SessionStatus = "ended"
)

// DebugSessionRecord is the persisted trace of one debugger process.
// Records outlive the process so the dashboard can show past sessions
// and why they ended.
type DebugSessionRecord struct {
	ID        int64         `json:"id"`
	PID       int           `json:"pid"`
	Command   string        `json:"command"`
	Status    SessionStatus `json:"status"`
	StartedAt time.Time     `json:"startedAt"`
	EndedAt   *time.Time    `json:"endedAt,omitempty"`
	EndReason string        `json:"endReason,omitempty"`
}

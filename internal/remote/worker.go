package remote

import (
	"fmt"
	"time"

	"github.com/remote-debug-console/backend/internal/sanitize"
)

// commandWorker relays one command's output until the channel ends or
// the command is force-stopped, then clears the slot and emits the
// terminal event. The slot is cleared before the terminal event so a
// client reacting to "finished" can start the next command immediately.
func (m *Manager) commandWorker(clientID string, sess *remoteSession, active *activeCommand) {
	channel := active.channel
	var exitStatus *int
	var ioErr error

	for !active.stop.IsSet() {
		drained := m.relayCommandOutput(clientID, active)

		select {
		case <-channel.Done():
			m.relayCommandOutput(clientID, active)
			if code, ok := channel.ExitStatus(); ok {
				exitStatus = &code
			} else {
				ioErr = channel.Err()
			}
		default:
			if !drained {
				time.Sleep(m.interval)
			}
			continue
		}
		break
	}

	channel.Close()

	sess.commandMu.Lock()
	if sess.activeCommand == active {
		sess.activeCommand = nil
	}
	sess.commandMu.Unlock()

	out := CommandOutput{State: "finished", Command: active.command}
	message, asError := active.termination()
	switch {
	case message != "":
		out.OK = !asError
		out.Message = message
	case exitStatus != nil:
		out.OK = *exitStatus == 0
		out.ExitStatus = exitStatus
		if out.OK {
			out.Message = "Command finished."
		} else {
			out.Message = fmt.Sprintf("Command finished with exit status %d.", *exitStatus)
		}
	case ioErr != nil:
		out.OK = false
		out.Message = "Command failed: " + ioErr.Error()
	default:
		out.OK = true
		out.Message = "Command finished."
	}
	m.emit(EventOutput, out, clientID)
}

// relayCommandOutput drains whatever both streams have buffered and
// emits one sanitized event per non-empty stream. It reports whether
// any bytes were read, so the worker only sleeps when idle.
func (m *Manager) relayCommandOutput(clientID string, active *activeCommand) bool {
	stdout := drainStream(active.channel.Stdout())
	stderr := drainStream(active.channel.Stderr())

	if text := sanitize.Output(string(stdout)); len(stdout) > 0 && text != "" {
		m.emit(EventOutput, CommandOutput{
			OK:      true,
			Output:  text,
			State:   "stream",
			Command: active.command,
		}, clientID)
	}
	if text := sanitize.Output(string(stderr)); len(stderr) > 0 && text != "" {
		m.emit(EventOutput, CommandOutput{
			ErrorOutput: text,
			State:       "stream",
			Command:     active.command,
		}, clientID)
	}
	return len(stdout) > 0 || len(stderr) > 0
}

// shellWorker relays interactive session output until the shell is
// stopped or the remote side ends it.
func (m *Manager) shellWorker(clientID string, sess *remoteSession, channel Channel, stop *stopSignal) {
	for !stop.IsSet() {
		drained := m.relayShellOutput(clientID, channel)

		select {
		case <-channel.Done():
			m.relayShellOutput(clientID, channel)
			channel.Close()
			if !m.detachShell(sess, channel) {
				return
			}
			message := "The interactive session has ended."
			if channel.Err() != nil {
				message = "Error while reading interactive session output."
			}
			m.emit(EventShell, ShellEvent{Message: message}, clientID)
			return
		default:
		}

		if !drained {
			time.Sleep(m.interval)
		}
	}
}

func (m *Manager) relayShellOutput(clientID string, channel Channel) bool {
	stdout := drainStream(channel.Stdout())
	stderr := drainStream(channel.Stderr())

	if text := sanitize.Output(string(stdout)); len(stdout) > 0 && text != "" {
		m.emit(EventShellOutput, ShellOutput{Output: text}, clientID)
	}
	if text := sanitize.Output(string(stderr)); len(stderr) > 0 && text != "" {
		m.emit(EventShellOutput, ShellOutput{Output: text, IsError: true}, clientID)
	}
	return len(stdout) > 0 || len(stderr) > 0
}

// drainStream collects every chunk the stream has ready without
// blocking.
func drainStream(stream <-chan []byte) []byte {
	var out []byte
	for {
		select {
		case data, ok := <-stream:
			if !ok {
				return out
			}
			out = append(out, data...)
		default:
			return out
		}
	}
}

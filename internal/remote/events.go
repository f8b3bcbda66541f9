package remote

// Event names on the client-facing socket.
const (
	EventConnection   = "ssh_connection_event"
	EventOutput       = "ssh_output"
	EventShell        = "ssh_shell_event"
	EventShellOutput  = "ssh_shell_output"
	EventDisconnected = "ssh_disconnected"
)

// ConnectionEvent reports the outcome of a connect or cancel.
type ConnectionEvent struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// CommandOutput carries command lifecycle and stream payloads. State is
// "started", "stream", "finished" or "input_error"; stream chunks use
// Output or ErrorOutput depending on the source stream.
type CommandOutput struct {
	OK          bool   `json:"ok"`
	Command     string `json:"command,omitempty"`
	State       string `json:"state,omitempty"`
	Output      string `json:"output,omitempty"`
	ErrorOutput string `json:"error_output,omitempty"`
	ExitStatus  *int   `json:"exit_status,omitempty"`
	Message     string `json:"message,omitempty"`
}

// ShellEvent reports interactive session lifecycle changes.
type ShellEvent struct {
	OK      bool   `json:"ok"`
	Active  bool   `json:"active"`
	Message string `json:"message"`
}

// ShellOutput is one sanitized chunk of interactive session output.
type ShellOutput struct {
	Output  string `json:"output"`
	IsError bool   `json:"isError"`
}

// Disconnected notifies the client its connection was closed.
type Disconnected struct {
	Message string `json:"message"`
}

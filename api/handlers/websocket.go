// Package handlers provides HTTP and WebSocket request handlers.
package handlers

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/remote-debug-console/backend/internal/relay"
	"github.com/remote-debug-console/backend/internal/remote"
	"github.com/remote-debug-console/backend/internal/session"
	"github.com/remote-debug-console/backend/internal/ws"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Cross-origin upgrades are rejected before Upgrade is called, so
	// the upgrader itself accepts what reaches it.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// DebugSessionConnectionEvent answers the initial socket connect.
type DebugSessionConnectionEvent struct {
	OK                   bool   `json:"ok"`
	StartedNewGdbProcess bool   `json:"started_new_gdb_process,omitempty"`
	PID                  int    `json:"pid,omitempty"`
	Message              string `json:"message"`
}

// ErrorEvent is the generic {message} error payload.
type ErrorEvent struct {
	Message string `json:"message"`
}

// WebSocketHandler upgrades clients, binds them to debug sessions and
// dispatches their inbound events.
type WebSocketHandler struct {
	registry   *session.Registry
	relay      *relay.Loop
	remote     *remote.Manager
	gateway    *ws.Gateway
	authorizer Authorizer
}

// NewWebSocketHandler wires the handler into the gateway's dispatch
// and disconnect callbacks.
func NewWebSocketHandler(
	registry *session.Registry,
	relayLoop *relay.Loop,
	remoteManager *remote.Manager,
	gateway *ws.Gateway,
	authorizer Authorizer,
) *WebSocketHandler {
	h := &WebSocketHandler{
		registry:   registry,
		relay:      relayLoop,
		remote:     remoteManager,
		gateway:    gateway,
		authorizer: authorizer,
	}
	gateway.SetOnMessage(h.dispatch)
	gateway.SetOnDisconnect(h.clientGone)
	return h
}

// Attach handles GET /ws: upgrades the connection, verifies the CSRF
// token and connects the client to a debug session. Connect parameters
// ride the upgrade request's query string.
func (h *WebSocketHandler) Attach(c *gin.Context) {
	if isCrossOrigin(c.Request) {
		log.Printf("Rejected cross origin websocket upgrade from %s", c.Request.Header.Get("Origin"))
		c.AbortWithStatus(http.StatusForbidden)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("Failed to upgrade websocket: %v", err)
		return
	}

	clientID := uuid.NewString()
	client := ws.NewClient(clientID, conn)
	h.gateway.Register(client)

	if h.authorizer != nil {
		if err := h.authorizer.Authorize(c.Query("csrf_token")); err != nil {
			log.Printf("Rejected websocket client %s: %v", clientID, err)
			h.gateway.Emit("server_error", ErrorEvent{
				Message: "Session expired. Please refresh this webpage.",
			}, clientID)
			client.Close()
			h.gateway.Serve(client)
			return
		}
	}

	h.connectDebugSession(c, clientID)
	h.relay.EnsureStarted()
	h.gateway.Serve(client)
}

// connectDebugSession attaches the client to an existing gdb process
// or starts a new one, per the gdbpid query parameter.
func (h *WebSocketHandler) connectDebugSession(c *gin.Context, clientID string) {
	gdbpid, _ := strconv.Atoi(c.Query("gdbpid"))

	if gdbpid > 0 {
		sess, err := h.registry.ConnectClient(gdbpid, clientID)
		if err != nil {
			h.gateway.Emit("debug_session_connection_event", DebugSessionConnectionEvent{
				Message: fmt.Sprintf("Failed to establish gdb session: %v", err),
			}, clientID)
			return
		}
		h.gateway.Emit("debug_session_connection_event", DebugSessionConnectionEvent{
			OK:      true,
			PID:     sess.PID,
			Message: fmt.Sprintf("Connected to existing gdb process %d", gdbpid),
		}, clientID)

		// Hot restore: replay the console history to the new client.
		if history := sess.History.Bytes(); len(history) > 0 {
			h.gateway.Emit("user_pty_response", string(history), clientID)
		}
		return
	}

	sess, err := h.registry.StartDebugSession(c.Query("gdb_command"), c.Query("mi_version"), clientID)
	if err != nil {
		h.gateway.Emit("debug_session_connection_event", DebugSessionConnectionEvent{
			Message: fmt.Sprintf("Failed to establish gdb session: %v", err),
		}, clientID)
		return
	}
	h.gateway.Emit("debug_session_connection_event", DebugSessionConnectionEvent{
		OK:                   true,
		StartedNewGdbProcess: true,
		PID:                  sess.PID,
		Message:              fmt.Sprintf("Started new gdb process, pid %d", sess.PID),
	}, clientID)
}

// clientGone releases everything the client held: its debug session
// subscription and its remote ssh state.
func (h *WebSocketHandler) clientGone(clientID string) {
	h.registry.DisconnectClient(clientID)
	h.remote.HandleClientGone(clientID)
}

// dispatch routes one inbound envelope to its handler.
func (h *WebSocketHandler) dispatch(clientID string, env *ws.Envelope) {
	switch env.Event {
	case "run_gdb_command":
		h.handleRunGdbCommand(clientID, env.Data)
	case "pty_interaction":
		h.handlePtyInteraction(clientID, env.Data)
	case "ssh_connect":
		var msg struct {
			Host     string `json:"host"`
			Port     string `json:"port"`
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			return
		}
		h.remote.Connect(clientID, remote.ConnectRequest{
			Host:     msg.Host,
			Port:     msg.Port,
			User:     msg.Username,
			Password: msg.Password,
		})
	case "ssh_command":
		var msg struct {
			Command string `json:"command"`
		}
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			return
		}
		h.remote.RunCommand(clientID, msg.Command)
	case "ssh_command_input":
		h.remote.SendCommandInput(clientID, dataField(env.Data))
	case "ssh_shell_start":
		h.remote.StartShell(clientID)
	case "ssh_shell_input":
		h.remote.ShellInput(clientID, dataField(env.Data))
	case "ssh_shell_stop":
		h.remote.StopShell(clientID)
	case "ssh_disconnect":
		h.remote.Disconnect(clientID)
	default:
		log.Printf("Unknown websocket event %q from client %s", env.Event, clientID)
	}
}

// handleRunGdbCommand writes MI commands to the session's controller.
// The cmd field may be a single string or a list of strings.
func (h *WebSocketHandler) handleRunGdbCommand(clientID string, data json.RawMessage) {
	sess, ok := h.registry.SessionForClient(clientID)
	if !ok {
		h.gateway.Emit("error_running_gdb_command", ErrorEvent{Message: "no session"}, clientID)
		return
	}

	var msg struct {
		Cmd json.RawMessage `json:"cmd"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		h.gateway.Emit("error_running_gdb_command", ErrorEvent{Message: err.Error()}, clientID)
		return
	}

	var cmds []string
	if err := json.Unmarshal(msg.Cmd, &cmds); err != nil {
		var single string
		if err := json.Unmarshal(msg.Cmd, &single); err != nil {
			h.gateway.Emit("error_running_gdb_command", ErrorEvent{Message: "cmd must be a string or list of strings"}, clientID)
			return
		}
		cmds = []string{single}
	}

	for _, cmd := range cmds {
		if err := sess.Controller.Write(cmd); err != nil {
			h.gateway.Emit("error_running_gdb_command", ErrorEvent{Message: err.Error()}, clientID)
			return
		}
	}
}

// handlePtyInteraction writes keystrokes to, or resizes, one of the
// session's ptys.
func (h *WebSocketHandler) handlePtyInteraction(clientID string, data json.RawMessage) {
	sess, ok := h.registry.SessionForClient(clientID)
	if !ok {
		h.gateway.Emit("error_running_gdb_command", ErrorEvent{
			Message: "no gdb session available for client id " + clientID,
		}, clientID)
		return
	}

	var msg struct {
		Data struct {
			PtyName string `json:"pty_name"`
			Action  string `json:"action"`
			Key     string `json:"key"`
			Rows    uint16 `json:"rows"`
			Cols    uint16 `json:"cols"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		h.gateway.Emit("error_running_gdb_command", ErrorEvent{Message: err.Error()}, clientID)
		return
	}

	var target interface {
		Write([]byte) (int, error)
		Resize(rows, cols uint16) error
	}
	switch msg.Data.PtyName {
	case "user_pty":
		target = sess.UserPTY
	case "program_pty":
		target = sess.ProgramPTY
	default:
		h.gateway.Emit("error_running_gdb_command", ErrorEvent{
			Message: "unknown pty: " + msg.Data.PtyName,
		}, clientID)
		return
	}

	var err error
	switch msg.Data.Action {
	case "write":
		_, err = target.Write([]byte(msg.Data.Key))
	case "set_winsize":
		err = target.Resize(msg.Data.Rows, msg.Data.Cols)
	default:
		err = fmt.Errorf("unknown action %s", msg.Data.Action)
	}
	if err != nil {
		h.gateway.Emit("error_running_gdb_command", ErrorEvent{Message: err.Error()}, clientID)
	}
}

// dataField extracts the common {"data": "..."} payload shape.
func dataField(raw json.RawMessage) string {
	var msg struct {
		Data string `json:"data"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return ""
	}
	return msg.Data
}

// isCrossOrigin reports whether the request's Origin names a different
// host than the one it was sent to.
func isCrossOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return false
	}
	parsed, err := url.Parse(origin)
	if err != nil {
		return true
	}
	return !strings.EqualFold(parsed.Host, r.Host)
}

// RegisterRoutes registers the websocket endpoint.
func (h *WebSocketHandler) RegisterRoutes(r *gin.Engine) {
	r.GET("/ws", h.Attach)
}

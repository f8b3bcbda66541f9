package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/remote-debug-console/backend/internal/model"
	"github.com/remote-debug-console/backend/internal/repository"
	"github.com/remote-debug-console/backend/internal/session"
)

// SessionHandler serves the debug session dashboard.
type SessionHandler struct {
	registry *session.Registry
	repo     *repository.DebugSessionRepository
}

// NewSessionHandler creates a SessionHandler.
func NewSessionHandler(registry *session.Registry, repo *repository.DebugSessionRepository) *SessionHandler {
	return &SessionHandler{registry: registry, repo: repo}
}

// SessionResponse is one dashboard row.
type SessionResponse struct {
	PID         int    `json:"pid"`
	Command     string `json:"command"`
	Status      string `json:"status"`
	ClientCount int    `json:"clientCount"`
	StartedAt   string `json:"startedAt"`
	EndedAt     string `json:"endedAt,omitempty"`
	EndReason   string `json:"endReason,omitempty"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error details.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func sendError(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, ErrorResponse{
		Error: ErrorDetail{Code: code, Message: message},
	})
}

// List handles GET /api/sessions: every recorded session, newest
// first, with live subscriber counts for the running ones.
func (h *SessionHandler) List(c *gin.Context) {
	records, err := h.repo.List(c.Request.Context())
	if err != nil {
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list sessions: "+err.Error())
		return
	}

	clientCounts := make(map[int]int)
	for _, entry := range h.registry.Snapshot() {
		clientCounts[entry.Session.PID] = len(entry.ClientIDs)
	}

	response := make([]*SessionResponse, len(records))
	for i, record := range records {
		row := &SessionResponse{
			PID:       record.PID,
			Command:   record.Command,
			Status:    string(record.Status),
			StartedAt: record.StartedAt.Format(time.RFC3339),
			EndReason: record.EndReason,
		}
		if record.EndedAt != nil {
			row.EndedAt = record.EndedAt.Format(time.RFC3339)
		}
		if record.Status == model.SessionStatusRunning {
			row.ClientCount = clientCounts[record.PID]
		}
		response[i] = row
	}

	c.JSON(http.StatusOK, response)
}

// Delete handles DELETE /api/sessions/:pid: kills the debugger process
// and unsubscribes its clients.
func (h *SessionHandler) Delete(c *gin.Context) {
	pid, err := strconv.Atoi(c.Param("pid"))
	if err != nil || pid <= 0 {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "A numeric pid is required")
		return
	}

	if err := h.registry.RemoveByPID(pid, "killed from dashboard"); err != nil {
		if errors.Is(err, model.ErrSessionNotFound) {
			sendError(c, http.StatusNotFound, "SESSION_NOT_FOUND", "No gdb process with pid "+c.Param("pid"))
			return
		}
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to remove session: "+err.Error())
		return
	}

	c.Status(http.StatusNoContent)
}

// RegisterRoutes registers the dashboard routes on a Gin router group.
func (h *SessionHandler) RegisterRoutes(rg *gin.RouterGroup) {
	sessions := rg.Group("/sessions")
	{
		sessions.GET("", h.List)
		sessions.DELETE("/:pid", h.Delete)
	}
}

package handlers

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/remote-debug-console/backend/internal/model"
)

// Authorizer decides whether a websocket upgrade may proceed.
type Authorizer interface {
	Authorize(token string) error
}

// TokenStore is an in-memory Authorizer issuing per-browser-session
// CSRF tokens. Tokens live until the server restarts.
type TokenStore struct {
	mu     sync.RWMutex
	tokens map[string]struct{}
}

// NewTokenStore creates an empty TokenStore.
func NewTokenStore() *TokenStore {
	return &TokenStore{tokens: make(map[string]struct{})}
}

// Issue creates and remembers a fresh token.
func (s *TokenStore) Issue() string {
	b := make([]byte, 16)
	rand.Read(b)
	token := hex.EncodeToString(b)

	s.mu.Lock()
	s.tokens[token] = struct{}{}
	s.mu.Unlock()
	return token
}

// Authorize returns ErrUnauthorized unless the token was issued by
// this store.
func (s *TokenStore) Authorize(token string) error {
	if token == "" {
		return model.ErrUnauthorized
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.tokens[token]; !ok {
		return model.ErrUnauthorized
	}
	return nil
}

// IssueToken handles GET /api/csrf_token: hands the frontend the token
// it must present on the websocket upgrade.
func (s *TokenStore) IssueToken(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"csrf_token": s.Issue()})
}

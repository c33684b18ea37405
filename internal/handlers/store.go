// Package handlers implements the control API: sandbox lifecycle, file I/O,
// one-shot exec and capability token issuing for the realtime bridge.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/codedeck/sandbox/internal/auth"
	"github.com/codedeck/sandbox/internal/engine"
	"github.com/codedeck/sandbox/internal/sandbox"
	"github.com/codedeck/sandbox/internal/token"
)

type APIStore struct {
	manager *sandbox.Manager
	engine  *engine.Engine
	tokens  *token.Service
}

func NewAPIStore(manager *sandbox.Manager, eng *engine.Engine, tokens *token.Service) *APIStore {
	return &APIStore{
		manager: manager,
		engine:  eng,
		tokens:  tokens,
	}
}

func (a *APIStore) RegisterRoutes(r gin.IRouter) {
	r.POST("/sandboxes", a.CreateSandbox)
	r.GET("/sandboxes", a.GetSandbox)
	r.DELETE("/sandboxes/:sandboxID", a.DestroySandbox)
	r.POST("/sandboxes/:sandboxID/exec", a.Exec)
	r.POST("/sandboxes/:sandboxID/files", a.WriteFile)
	r.POST("/sandboxes/:sandboxID/token", a.IssueToken)
	r.GET("/files", a.ReadOrListFiles)
}

// ownedSandbox loads the sandbox and enforces that the caller owns its
// project. Responds and returns false on any failure.
func (a *APIStore) ownedSandbox(c *gin.Context, sandboxID string) (sandbox.Sandbox, bool) {
	sb, ok := a.manager.GetByID(sandboxID)
	if !ok || sb.OwnerID != auth.UserID(c) {
		c.JSON(http.StatusNotFound, gin.H{"error": "sandbox not found"})

		return sandbox.Sandbox{}, false
	}

	return sb, true
}

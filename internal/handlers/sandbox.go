package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/codedeck/sandbox/internal/auth"
	"github.com/codedeck/sandbox/internal/engine"
	"github.com/codedeck/sandbox/internal/logger"
)

type createSandboxRequest struct {
	ProjectID string `json:"projectId" binding:"required"`
	Template  string `json:"template" binding:"required"`
}

func (a *APIStore) CreateSandbox(c *gin.Context) {
	ctx := c.Request.Context()

	var req createSandboxRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})

		return
	}

	template, err := engine.ParseTemplate(req.Template)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})

		return
	}

	userID := auth.UserID(c)

	if existing, ok := a.manager.Get(req.ProjectID); ok && existing.OwnerID != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "project belongs to another user"})

		return
	}

	sb, err := a.manager.Create(ctx, req.ProjectID, userID, template)
	if err != nil {
		zap.L().Error("sandbox create failed", zap.Error(err), logger.WithProjectID(req.ProjectID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create sandbox"})

		return
	}

	c.JSON(http.StatusOK, sb)
}

func (a *APIStore) GetSandbox(c *gin.Context) {
	projectID := c.Query("projectId")
	if projectID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "projectId is required"})

		return
	}

	sb, ok := a.manager.Get(projectID)
	if !ok || sb.OwnerID != auth.UserID(c) {
		c.JSON(http.StatusOK, nil)

		return
	}

	c.JSON(http.StatusOK, sb)
}

func (a *APIStore) DestroySandbox(c *gin.Context) {
	ctx := c.Request.Context()

	sb, ok := a.ownedSandbox(c, c.Param("sandboxID"))
	if !ok {
		return
	}

	if err := a.manager.Destroy(ctx, sb.ID); err != nil {
		zap.L().Error("sandbox destroy failed", zap.Error(err), logger.WithSandboxID(sb.ID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to destroy sandbox"})

		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

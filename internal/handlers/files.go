package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/codedeck/sandbox/internal/auth"
	"github.com/codedeck/sandbox/internal/logger"
)

type writeFileRequest struct {
	FilePath string `json:"filePath" binding:"required"`
	Content  string `json:"content"`
}

func (a *APIStore) WriteFile(c *gin.Context) {
	ctx := c.Request.Context()

	sb, ok := a.ownedSandbox(c, c.Param("sandboxID"))
	if !ok {
		return
	}

	var req writeFileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})

		return
	}

	a.manager.Touch(sb.ID)

	if err := a.engine.WriteFile(ctx, sb.ContainerID, req.FilePath, []byte(req.Content)); err != nil {
		zap.L().Error("file write failed", zap.Error(err),
			logger.WithSandboxID(sb.ID), zap.String("path", req.FilePath))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "file write failed"})

		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// ReadOrListFiles serves the editor's file pane: ?path= reads one file,
// ?list= returns the bounded directory tree.
func (a *APIStore) ReadOrListFiles(c *gin.Context) {
	ctx := c.Request.Context()

	containerID := c.Query("containerId")
	if containerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "containerId is required"})

		return
	}

	sb, ok := a.manager.GetByContainer(containerID)
	if !ok || sb.OwnerID != auth.UserID(c) {
		c.JSON(http.StatusNotFound, gin.H{"error": "sandbox not found"})

		return
	}

	a.manager.Touch(sb.ID)

	if dir := c.Query("list"); dir != "" {
		tree, err := a.engine.ListDir(ctx, containerID, dir)
		if err != nil {
			zap.L().Error("directory list failed", zap.Error(err),
				logger.WithContainerID(containerID), zap.String("dir", dir))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "directory list failed"})

			return
		}

		c.JSON(http.StatusOK, tree)

		return
	}

	filePath := c.Query("path")
	if filePath == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "path or list is required"})

		return
	}

	content, err := a.engine.ReadFile(ctx, containerID, filePath)
	if err != nil {
		zap.L().Error("file read failed", zap.Error(err),
			logger.WithContainerID(containerID), zap.String("path", filePath))
		c.JSON(http.StatusNotFound, gin.H{"error": "file read failed"})

		return
	}

	c.JSON(http.StatusOK, gin.H{"content": string(content)})
}

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/codedeck/sandbox/internal/logger"
)

type execRequest struct {
	Command string `json:"command" binding:"required"`
}

// Exec runs one command to completion in the sandbox's container and returns
// the merged output. Counts as activity for idle eviction.
func (a *APIStore) Exec(c *gin.Context) {
	ctx := c.Request.Context()

	sb, ok := a.ownedSandbox(c, c.Param("sandboxID"))
	if !ok {
		return
	}

	var req execRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})

		return
	}

	a.manager.Touch(sb.ID)

	result, err := a.engine.Exec(ctx, sb.ContainerID, req.Command)
	if err != nil {
		zap.L().Error("exec failed", zap.Error(err), logger.WithSandboxID(sb.ID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "command execution failed"})

		return
	}

	c.JSON(http.StatusOK, gin.H{"output": result.Output})
}

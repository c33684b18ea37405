package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/codedeck/sandbox/internal/auth"
	"github.com/codedeck/sandbox/internal/logger"
)

type issueTokenRequest struct {
	ContainerID string `json:"containerId" binding:"required"`
}

// IssueToken mints a capability token for the sandbox's container after
// checking the caller owns the sandbox and asked for the right container.
func (a *APIStore) IssueToken(c *gin.Context) {
	sb, ok := a.ownedSandbox(c, c.Param("sandboxID"))
	if !ok {
		return
	}

	var req issueTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})

		return
	}

	if req.ContainerID != sb.ContainerID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "container does not belong to sandbox"})

		return
	}

	value, err := a.tokens.Issue(auth.UserID(c), sb.ContainerID)
	if err != nil {
		zap.L().Error("token issue failed", zap.Error(err), logger.WithSandboxID(sb.ID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})

		return
	}

	c.JSON(http.StatusOK, gin.H{"token": value})
}

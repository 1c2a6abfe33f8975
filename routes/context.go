package routes

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"document-context-platform/internal/assembler"
	"document-context-platform/internal/config"
	"document-context-platform/internal/telemetry"
	"document-context-platform/middleware"
	"document-context-platform/utils"
)

// PreviewContext assembles the owner's ready documents into the token
// budget and returns the packed prompt fragment.
func PreviewContext(cfg *config.Config, asm *assembler.Assembler, metrics *telemetry.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		ownerID := middleware.GetOwnerID(c)

		budget := cfg.ContextTokenBudget
		if raw := c.Query("budget"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed <= 0 {
				utils.RespondWithBadRequest(c, "budget must be a positive integer", nil)
				return
			}
			budget = parsed
		}

		res, err := asm.Assemble(c.Request.Context(), ownerID, budget)
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to assemble context", nil)
			return
		}

		if metrics != nil {
			metrics.RecordAssembly(res.Included)
		}

		c.JSON(http.StatusOK, gin.H{
			"context":     res.Text,
			"tokens_used": res.Tokens,
			"included":    res.Included,
			"budget":      budget,
		})
	}
}

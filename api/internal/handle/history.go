package handle

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"photo-critic/api/internal/critique/types"
)

type historyItem struct {
	ID          string       `json:"id"`
	CreatedAt   time.Time    `json:"created_at"`
	Engine      string       `json:"engine"`
	Model       string       `json:"model"`
	ViewerLevel string       `json:"viewer_level"`
	Detailed    bool         `json:"detailed"`
	Strategy    string       `json:"strategy,omitempty"`
	Degraded    bool         `json:"degraded"`
	Feedback    types.Result `json:"feedback"`
}

// History serves GET /v1/critiques/:hash.
func (h *Handle) History(c *gin.Context) {
	if !h.history.Enabled() {
		writeError(c, http.StatusNotFound, "history is disabled")
		return
	}
	hash := c.Param("hash")
	limit, _ := strconv.Atoi(c.Query("limit"))

	recs, err := h.history.ListByHash(c.Request.Context(), hash, limit)
	if err != nil {
		h.log.Error("history list failed", zap.String("hash", hash), zap.Error(err))
		writeError(c, http.StatusInternalServerError, "internal error")
		return
	}
	if len(recs) == 0 {
		writeError(c, http.StatusNotFound, "no critiques for this image")
		return
	}
	items := make([]historyItem, 0, len(recs))
	for _, r := range recs {
		items = append(items, historyItem{
			ID:          r.ID.String(),
			CreatedAt:   r.CreatedAt,
			Engine:      r.Engine,
			Model:       r.Model,
			ViewerLevel: r.ViewerLevel,
			Detailed:    r.Detailed,
			Strategy:    r.Strategy,
			Degraded:    r.Degraded,
			Feedback:    r.Result,
		})
	}
	c.JSON(http.StatusOK, gin.H{"image_hash": hash, "items": items})
}

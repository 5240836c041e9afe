package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/BPFLNALCR/pihole-autoblocker/internal/config"
	"github.com/BPFLNALCR/pihole-autoblocker/internal/core"
	"github.com/BPFLNALCR/pihole-autoblocker/internal/quarantine"
	"github.com/gin-gonic/gin"
)

type Handler struct {
	cfg *config.Config
}

func NewHandler(cfg *config.Config) *Handler {
	return &Handler{cfg: cfg}
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// ListQuarantine returns the snapshot ordered by descending score.
// Optional query params: ?limit=N, ?min_score=X.
func (h *Handler) ListQuarantine(c *gin.Context) {
	items := h.snapshot()

	if v := c.Query("min_score"); v != "" {
		min, err := strconv.ParseFloat(v, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid min_score"})
			return
		}
		filtered := items[:0]
		for _, it := range items {
			if it.Score >= min {
				filtered = append(filtered, it)
			}
		}
		items = filtered
	}
	if v := c.Query("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		if len(items) > limit {
			items = items[:limit]
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"count": len(items),
		"items": items,
	})
}

func (h *Handler) GetQuarantine(c *gin.Context) {
	domain := core.Normalize(c.Param("domain"))
	for _, it := range h.snapshot() {
		if it.Domain == domain {
			c.JSON(http.StatusOK, it)
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "domain not quarantined"})
}

func (h *Handler) ListEvents(c *gin.Context) {
	log := quarantine.LoadEvents(h.cfg.State.EventsFile)
	c.JSON(http.StatusOK, gin.H{
		"count":  len(log.Blocked),
		"events": log.Blocked,
	})
}

func (h *Handler) snapshot() []core.ReviewItem {
	return quarantine.SnapshotOf(quarantine.LoadRecords(h.cfg.State.QuarantineFile))
}

// Package api serves the engine over HTTP with gin.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/abelbrown/waitwiki/internal/app"
	"github.com/abelbrown/waitwiki/internal/config"
	"github.com/abelbrown/waitwiki/internal/logging"
	"github.com/abelbrown/waitwiki/internal/model"
	"github.com/abelbrown/waitwiki/internal/otel"
)

// Engine is the part of app.Engine the handlers use.
type Engine interface {
	RequestCard(forceNew bool) (model.Item, bool)
	OnSettingsChanged(ctx context.Context, cats []model.Category)
	Enabled() []model.Category
	Stats() app.Stats
}

// Handler holds the endpoint implementations.
type Handler struct {
	engine Engine
	ring   *otel.RingBuffer
	save   func([]model.Category) error
}

// NewHandler creates a Handler. save, when non-nil, persists accepted
// category changes to the config file.
func NewHandler(engine Engine, ring *otel.RingBuffer, save func([]model.Category) error) *Handler {
	return &Handler{engine: engine, ring: ring, save: save}
}

// CardQuery are the query parameters of GET /api/v1/card.
type CardQuery struct {
	New bool `form:"new"`
}

// CardResponse answers a card request. Available is false when nothing
// could be shown; that is not an error.
type CardResponse struct {
	Available bool        `json:"available"`
	Card      *model.Item `json:"card,omitempty"`
}

// Card returns the current card, or a new one with ?new=true.
func (h *Handler) Card(c *gin.Context) {
	var q CardQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid query: " + err.Error()})
		return
	}

	item, ok := h.engine.RequestCard(q.New)
	if !ok {
		c.JSON(http.StatusOK, CardResponse{})
		return
	}
	c.JSON(http.StatusOK, CardResponse{Available: true, Card: &item})
}

// SettingsRequest is the body of PUT /api/v1/settings.
type SettingsRequest struct {
	Categories []string `json:"categories" binding:"required"`
}

// SettingsResponse lists the enabled categories.
type SettingsResponse struct {
	Categories []model.Category `json:"categories"`
}

// GetSettings returns the enabled categories.
func (h *Handler) GetSettings(c *gin.Context) {
	c.JSON(http.StatusOK, SettingsResponse{Categories: h.engine.Enabled()})
}

// PutSettings replaces the enabled categories.
func (h *Handler) PutSettings(c *gin.Context) {
	var req SettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body: " + err.Error()})
		return
	}
	if err := config.ValidateCategories(req.Categories); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid categories: " + err.Error()})
		return
	}

	cats := model.ParseCategories(req.Categories)
	h.engine.OnSettingsChanged(c.Request.Context(), cats)

	if h.save != nil {
		if err := h.save(cats); err != nil {
			// The engine already runs with the new set; only the file is stale.
			logging.Warn("Saving settings failed", "error", err)
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "settings applied but not saved"})
			return
		}
	}
	c.JSON(http.StatusOK, SettingsResponse{Categories: h.engine.Enabled()})
}

// StatsResponse is the engine snapshot plus recent warnings.
type StatsResponse struct {
	app.Stats
	Recent []otel.Event `json:"recent,omitempty"`
}

// Stats returns engine counters.
func (h *Handler) Stats(c *gin.Context) {
	resp := StatsResponse{Stats: h.engine.Stats()}
	if h.ring != nil {
		resp.Recent = h.ring.Recent(10, otel.LevelWarn)
	}
	c.JSON(http.StatusOK, resp)
}

// HealthResponse is the liveness answer.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"`
}

// Liveness confirms the process is serving.
func (h *Handler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "alive", Timestamp: time.Now().Unix()})
}

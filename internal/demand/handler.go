package demand

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/richxcame/driver-location/pkg/validation"
)

// Handler exposes the read-only demand views to dispatch.
type Handler struct {
	tracker *Tracker
}

// NewHandler wraps a Tracker.
func NewHandler(tracker *Tracker) *Handler {
	return &Handler{tracker: tracker}
}

// RegisterRoutes mounts the demand read paths.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/internal/demand/heatmap", h.GetHeatmap)
	r.GET("/internal/demand/surge", h.GetSurge)
}

func parseCoords(c *gin.Context) (float64, float64, bool) {
	lat, latErr := strconv.ParseFloat(c.Query("lat"), 64)
	lon, lonErr := strconv.ParseFloat(c.Query("lon"), 64)
	if latErr != nil || lonErr != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errorMessage": "lat and lon query params are required", "errorCode": "VALIDATION_ERROR"})
		return 0, 0, false
	}
	if err := validation.ValidateCoordinates(lat, lon); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errorMessage": err.Error(), "errorCode": "VALIDATION_ERROR"})
		return 0, 0, false
	}
	return lat, lon, true
}

// GetHeatmap handles GET /internal/demand/heatmap.
func (h *Handler) GetHeatmap(c *gin.Context) {
	lat, lon, ok := parseCoords(c)
	if !ok {
		return
	}
	heatmap, err := h.tracker.Heatmap(c.Request.Context(), lat, lon)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"errorMessage": "failed to read demand heatmap", "errorCode": "INTERNAL_ERROR"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"resp": heatmap})
}

// GetSurge handles GET /internal/demand/surge.
func (h *Handler) GetSurge(c *gin.Context) {
	lat, lon, ok := parseCoords(c)
	if !ok {
		return
	}
	surge, err := h.tracker.Surge(c.Request.Context(), lat, lon)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"errorMessage": "failed to read surge info", "errorCode": "INTERNAL_ERROR"})
		return
	}
	c.JSON(http.StatusOK, surge)
}

package location

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/richxcame/driver-location/pkg/common"
	sentryerrors "github.com/richxcame/driver-location/pkg/errors"
	"github.com/richxcame/driver-location/pkg/logger"
	"github.com/richxcame/driver-location/pkg/validation"
)

// Handler maps the HTTP surface onto the service. Error bodies use the
// {errorMessage, errorCode} envelope the downstream consumers expect.
type Handler struct {
	service     *Service
	maxBodySize int64
}

// NewHandler wires the service behind the route set. maxBodySize caps
// request bodies; requests beyond it get LARGE_PAYLOAD_SIZE.
func NewHandler(service *Service, maxBodySize int64) *Handler {
	if maxBodySize <= 0 {
		maxBodySize = 1 << 20
	}
	return &Handler{service: service, maxBodySize: maxBodySize}
}

type errorBody struct {
	ErrorMessage string `json:"errorMessage"`
	ErrorCode    string `json:"errorCode"`
}

// respondError translates the error taxonomy to the wire envelope; anything
// that is not an AppError becomes a generic 500.
func respondError(c *gin.Context, err error) {
	var appErr *common.AppError
	if !errors.As(err, &appErr) {
		appErr = common.NewInternalError("internal error", err)
	}
	if appErr.Code >= http.StatusInternalServerError {
		logger.ErrorContext(c.Request.Context(), "request failed",
			zap.String("path", c.FullPath()), zap.Error(appErr))
	}
	c.AbortWithStatusJSON(appErr.Code, errorBody{
		ErrorMessage: appErr.Message,
		ErrorCode:    appErr.ErrorCode,
	})
}

// recoverToAppError converts a handler panic into a PANIC_OCCURED response
// instead of tearing down the connection.
func recoverToAppError() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				sentryerrors.CaptureError(common.NewPanicOccuredError(r))
				logger.ErrorContext(c.Request.Context(), "panic recovered in handler",
					zap.Any("panic", r), zap.String("path", c.FullPath()))
				respondError(c, common.NewPanicOccuredError(r))
			}
		}()
		c.Next()
	}
}

// limitBodySize rejects oversized payloads with LARGE_PAYLOAD_SIZE before
// binding runs.
func (h *Handler) limitBodySize() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > h.maxBodySize {
			respondError(c, common.NewLargePayloadError("request body exceeds the size cap"))
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBodySize)
		c.Next()
	}
}

// RegisterRoutes mounts the full route set.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.Use(recoverToAppError())

	ui := r.Group("/ui", h.limitBodySize())
	ui.POST("/driver/location", h.UpdateDriverLocation)

	internal := r.Group("/internal")
	internal.GET("/drivers/nearby", h.GetNearbyDrivers)
	internal.POST("/ride/:rideId/start", h.RideStart)
	internal.POST("/ride/:rideId/inprogress", h.RideInProgress)
	internal.POST("/ride/:rideId/end", h.RideEnd)
	internal.POST("/driver/driverDetails", h.SetDriverDetails)

	external := r.Group("/external", h.limitBodySize())
	external.POST("/gps/location", h.ExternalGPSLocation)

	r.GET("/healthcheck", h.Healthcheck)
}

// RegisterNearbyRoutes mounts only the dispatch-facing read path, for the
// nearby binary.
func (h *Handler) RegisterNearbyRoutes(r *gin.Engine) {
	r.Use(recoverToAppError())
	r.GET("/internal/drivers/nearby", h.GetNearbyDrivers)
	r.GET("/healthcheck", h.Healthcheck)
}

// UpdateDriverLocation handles POST /ui/driver/location.
func (h *Handler) UpdateDriverLocation(c *gin.Context) {
	token := c.GetHeader("token")
	merchantID := c.GetHeader("mId")
	vehicleType := c.GetHeader("vt")
	if token == "" || merchantID == "" || vehicleType == "" {
		respondError(c, common.NewValidationError("token, mId and vt headers are required"))
		return
	}

	var batch []LocationUpdate
	if err := c.ShouldBindJSON(&batch); err != nil {
		respondError(c, common.NewValidationError("malformed location batch"))
		return
	}

	if err := h.service.UpdateDriverLocation(c.Request.Context(), token, merchantID, vehicleType, batch); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": "success"})
}

// GetNearbyDrivers handles GET /internal/drivers/nearby.
func (h *Handler) GetNearbyDrivers(c *gin.Context) {
	lat, latErr := strconv.ParseFloat(c.Query("lat"), 64)
	lon, lonErr := strconv.ParseFloat(c.Query("lon"), 64)
	radius, radErr := strconv.ParseFloat(c.Query("radius"), 64)
	if latErr != nil || lonErr != nil || radErr != nil || radius <= 0 {
		respondError(c, common.NewValidationError("lat, lon and radius query params are required"))
		return
	}
	if err := validation.ValidateCoordinates(lat, lon); err != nil {
		respondError(c, common.NewValidationError(err.Error()))
		return
	}
	merchantID := c.Query("merchantId")
	if merchantID == "" {
		respondError(c, common.NewValidationError("merchantId query param is required"))
		return
	}

	drivers, err := h.service.GetNearbyDrivers(c.Request.Context(), NearbyRequest{
		Lat:         lat,
		Lon:         lon,
		RadiusKm:    radius,
		VehicleType: c.Query("vehicleType"),
		MerchantID:  merchantID,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"resp": drivers})
}

// RideStart handles POST /internal/ride/:rideId/start.
func (h *Handler) RideStart(c *gin.Context) {
	var req RideStartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, common.NewValidationError("malformed ride start body"))
		return
	}
	if err := h.service.RideStart(c.Request.Context(), c.Param("rideId"), req); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": "success"})
}

// RideInProgress handles POST /internal/ride/:rideId/inprogress (pickup).
func (h *Handler) RideInProgress(c *gin.Context) {
	var req RideStartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, common.NewValidationError("malformed ride body"))
		return
	}
	if err := h.service.RideInProgress(c.Request.Context(), c.Param("rideId"), req); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": "success"})
}

// RideEnd handles POST /internal/ride/:rideId/end.
func (h *Handler) RideEnd(c *gin.Context) {
	var req RideEndRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, common.NewValidationError("malformed ride end body"))
		return
	}
	resp, err := h.service.RideEnd(c.Request.Context(), c.Param("rideId"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// SetDriverDetails handles POST /internal/driver/driverDetails.
func (h *Handler) SetDriverDetails(c *gin.Context) {
	var req DriverDetailsRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.DriverID == "" {
		respondError(c, common.NewValidationError("malformed driver details body"))
		return
	}
	if err := h.service.SetDriverDetails(c.Request.Context(), req); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": "success"})
}

// ExternalGPSLocation handles POST /external/gps/location.
func (h *Handler) ExternalGPSLocation(c *gin.Context) {
	if err := h.service.ValidateExternalAPIKey(c.GetHeader("X-API-Key")); err != nil {
		respondError(c, err)
		return
	}

	var batch []ExternalGPSUpdate
	if err := c.ShouldBindJSON(&batch); err != nil {
		respondError(c, common.NewInvalidGPSDataError("malformed gps batch"))
		return
	}

	if err := h.service.ProcessExternalGPS(c.Request.Context(), batch); err != nil {
		respondError(c, err)
		return
	}
	c.String(http.StatusOK, "SUCCESS")
}

// Healthcheck handles GET /healthcheck with a store round-trip.
func (h *Handler) Healthcheck(c *gin.Context) {
	if err := h.service.Healthy(c.Request.Context()); err != nil {
		respondError(c, common.NewInternalError("store unreachable", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": "success"})
}

// internal/handler/health_handler.go
package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"serial-bridge/internal/config"
	"serial-bridge/internal/database"
	"serial-bridge/internal/health"
	"serial-bridge/internal/service"
	"serial-bridge/internal/utils"
)

// HealthHandler handles service health and device health requests
type HealthHandler struct {
	db            *database.DB
	tracker       *health.Tracker
	deviceService *service.DeviceService
	config        *config.Config
	logger        *utils.ServiceLogger
	startedAt     time.Time
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(db *database.DB, tracker *health.Tracker, deviceService *service.DeviceService, config *config.Config, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		db:            db,
		tracker:       tracker,
		deviceService: deviceService,
		config:        config,
		logger:        utils.NewServiceLogger(logger, "health-handler"),
		startedAt:     time.Now(),
	}
}

// RegisterRoutes registers health check routes
func (h *HealthHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/health", h.HealthCheck)
	router.GET("/health/db", h.DatabaseHealthCheck)
	router.GET("/ready", h.ReadinessCheck)
	router.GET("/live", h.LivenessCheck)
}

// RegisterDeviceHealthRoutes registers device-health routes under the API
// group
func (h *HealthHandler) RegisterDeviceHealthRoutes(router *gin.RouterGroup) {
	flaky := router.Group("/devices/flaky")
	{
		flaky.GET("", h.ListDeviceHealth)
		flaky.POST("/clear", h.ClearFlaky)
	}
}

// HealthCheck performs general health check
// @Summary Health check
// @Description Get overall service health status including database connectivity
// @Tags Health
// @Accept json
// @Produce json
// @Success 200 {object} HealthResponse "Service is healthy"
// @Failure 503 {object} HealthResponse "Service is unhealthy"
// @Router /health [get]
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	resp := &HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Service:   h.config.App.Name,
		Version:   h.config.App.Version,
		Uptime:    time.Since(h.startedAt).String(),
		Checks:    make(map[string]CheckResult),
	}

	if err := h.db.HealthCheck(c.Request.Context()); err != nil {
		resp.Status = "unhealthy"
		resp.Checks["database"] = CheckResult{
			Status:  "unhealthy",
			Message: err.Error(),
		}
	} else {
		resp.Checks["database"] = CheckResult{
			Status:  "healthy",
			Message: "Database connection OK",
		}
	}

	stats := h.db.Stats()
	resp.Checks["database_stats"] = CheckResult{
		Status: "healthy",
		Data: map[string]interface{}{
			"open_connections": stats.OpenConnections,
			"in_use":           stats.InUse,
			"idle":             stats.Idle,
		},
	}

	statusCode := http.StatusOK
	if resp.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}
	c.JSON(statusCode, resp)
}

// DatabaseHealthCheck checks database connectivity
// @Summary Database health check
// @Description Check database connectivity and pool statistics
// @Tags Health
// @Produce json
// @Success 200 {object} utils.APIResponse "Database is healthy"
// @Failure 503 {object} utils.APIResponse "Database is unhealthy"
// @Router /health/db [get]
func (h *HealthHandler) DatabaseHealthCheck(c *gin.Context) {
	startTime := time.Now()

	if err := h.db.HealthCheck(c.Request.Context()); err != nil {
		h.logger.Error("Database health check failed", zap.Error(err))
		utils.ErrorResponse(c, http.StatusServiceUnavailable, "Database unhealthy", err)
		return
	}

	stats := h.db.Stats()
	response := gin.H{
		"status":           "healthy",
		"response_time_ms": time.Since(startTime).Milliseconds(),
		"stats": gin.H{
			"open_connections": stats.OpenConnections,
			"in_use":           stats.InUse,
			"idle":             stats.Idle,
			"wait_count":       stats.WaitCount,
			"wait_duration":    stats.WaitDuration,
		},
	}

	utils.SuccessResponse(c, http.StatusOK, "Database is healthy", response)
}

// ReadinessCheck for Kubernetes readiness probe
// @Summary Readiness check
// @Description Check if service is ready to accept traffic
// @Tags Health
// @Produce json
// @Success 200 {object} object{status=string,timestamp=string} "Service is ready"
// @Failure 503 {object} object{status=string,reason=string} "Service is not ready"
// @Router /ready [get]
func (h *HealthHandler) ReadinessCheck(c *gin.Context) {
	if err := h.db.HealthCheck(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"reason": "database not available",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "ready",
		"timestamp": time.Now(),
	})
}

// LivenessCheck for Kubernetes liveness probe
// @Summary Liveness check
// @Description Check if service is alive
// @Tags Health
// @Produce json
// @Success 200 {object} object{status=string,timestamp=string} "Service is alive"
// @Router /live [get]
func (h *HealthHandler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "alive",
		"timestamp": time.Now(),
	})
}

// ListDeviceHealth returns the health snapshot of every tracked device
// @Summary List device health
// @Description Get failure rates and flaky classification for all tracked devices
// @Tags Health
// @Produce json
// @Success 200 {object} utils.APIResponse{data=[]health.Snapshot} "Device health retrieved successfully"
// @Router /devices/flaky [get]
func (h *HealthHandler) ListDeviceHealth(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "Device health retrieved successfully", h.tracker.All())
}

// ClearFlaky resets a device's flaky classification
// @Summary Clear flaky classification
// @Description Reset the flaky flag so the device becomes eligible for auto-connect again
// @Tags Health
// @Accept json
// @Produce json
// @Param request body PortRequest true "Port to clear"
// @Success 200 {object} utils.APIResponse "Flaky classification cleared"
// @Router /devices/flaky/clear [post]
func (h *HealthHandler) ClearFlaky(c *gin.Context) {
	var req PortRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	h.deviceService.ClearFlaky(c.Request.Context(), req.Port)
	h.logger.Info("Flaky classification cleared", zap.String("port", req.Port))
	utils.SuccessResponse(c, http.StatusOK, "Flaky classification cleared", nil)
}

// HealthResponse represents health check response
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Service   string                 `json:"service"`
	Version   string                 `json:"version"`
	Uptime    string                 `json:"uptime"`
	Checks    map[string]CheckResult `json:"checks"`
}

// CheckResult represents individual check result
type CheckResult struct {
	Status  string                 `json:"status"`
	Message string                 `json:"message,omitempty"`
	Data    map[string]interface{} `json:"data,omitempty"`
}

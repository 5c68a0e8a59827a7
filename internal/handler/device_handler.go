// internal/handler/device_handler.go
package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"serial-bridge/internal/repository"
	"serial-bridge/internal/service"
	"serial-bridge/internal/utils"
)

// DeviceHandler handles device-related HTTP requests
type DeviceHandler struct {
	deviceService *service.DeviceService
	deviceRepo    repository.DeviceRepository
	logger        *utils.ServiceLogger
}

// NewDeviceHandler creates a new device handler
func NewDeviceHandler(deviceService *service.DeviceService, deviceRepo repository.DeviceRepository, logger *zap.Logger) *DeviceHandler {
	return &DeviceHandler{
		deviceService: deviceService,
		deviceRepo:    deviceRepo,
		logger:        utils.NewServiceLogger(logger, "device-handler"),
	}
}

// RegisterRoutes registers device-related routes
func (h *DeviceHandler) RegisterRoutes(router *gin.RouterGroup) {
	devices := router.Group("/devices")
	{
		devices.GET("", h.ListDevices)
		devices.GET("/info", h.GetDevice)
		devices.GET("/history", h.GetHistory)
		devices.POST("/scan", h.ScanDevices)
		devices.POST("/connect", h.ConnectDevice)
		devices.POST("/disconnect", h.DisconnectDevice)
		devices.POST("/boards", h.AddCustomBoard)
	}
}

// AddBoardRequest registers a custom VID:PID mapping
type AddBoardRequest struct {
	VIDPID     string `json:"vid_pid" binding:"required"`
	Name       string `json:"name" binding:"required"`
	DeviceType string `json:"type" binding:"required"`
}

// ListDevices lists the current device inventory
// @Summary List devices
// @Description Get all devices seen by the scanner with health counters
// @Tags Devices
// @Produce json
// @Success 200 {object} utils.APIResponse{data=[]model.DeviceRecord} "Devices retrieved successfully"
// @Router /devices [get]
func (h *DeviceHandler) ListDevices(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "Devices retrieved successfully", h.deviceService.ListDevices())
}

// GetDevice returns one device from the inventory
// @Summary Get device
// @Description Get one device with its health counters and history
// @Tags Devices
// @Produce json
// @Param port query string true "Port name"
// @Success 200 {object} utils.APIResponse{data=model.DeviceRecord} "Device retrieved successfully"
// @Failure 404 {object} utils.APIResponse "Device not found"
// @Router /devices/info [get]
func (h *DeviceHandler) GetDevice(c *gin.Context) {
	port := c.Query("port")
	if port == "" {
		utils.ErrorResponse(c, http.StatusBadRequest, "port query parameter is required", nil)
		return
	}

	device, ok := h.deviceService.GetDevice(port)
	if !ok {
		utils.ErrorResponse(c, http.StatusNotFound, "Device not found", nil)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Device retrieved successfully", device)
}

// GetHistory returns persisted connection history of a port
// @Summary Get connection history
// @Description Get the persisted connect/disconnect history of a port, newest first
// @Tags Devices
// @Produce json
// @Param port query string true "Port name"
// @Param limit query int false "Maximum entries" default(50)
// @Success 200 {object} utils.APIResponse{data=[]model.ConnectionHistoryEntry} "History retrieved successfully"
// @Router /devices/history [get]
func (h *DeviceHandler) GetHistory(c *gin.Context) {
	port := c.Query("port")
	if port == "" {
		utils.ErrorResponse(c, http.StatusBadRequest, "port query parameter is required", nil)
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if l, err := strconv.Atoi(raw); err == nil && l > 0 && l <= 1000 {
			limit = l
		}
	}

	entries, err := h.deviceRepo.GetHistory(c.Request.Context(), port, limit)
	if err != nil {
		h.logger.Error("Failed to get history", zap.Error(err), zap.String("port", port))
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to get history", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "History retrieved successfully", entries)
}

// ScanDevices triggers one scan immediately
// @Summary Scan devices
// @Description Run all scanners once and return the refreshed inventory
// @Tags Devices
// @Produce json
// @Success 200 {object} utils.APIResponse{data=[]model.DeviceRecord} "Scan completed"
// @Router /devices/scan [post]
func (h *DeviceHandler) ScanDevices(c *gin.Context) {
	if err := h.deviceService.Scan(c.Request.Context()); err != nil {
		h.logger.Error("Manual scan failed", zap.Error(err))
		utils.ErrorResponse(c, http.StatusInternalServerError, "Scan failed", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Scan completed", h.deviceService.ListDevices())
}

// ConnectDevice opens a connection with default settings
// @Summary Connect device
// @Description Connect to a device using the configured default settings
// @Tags Devices
// @Accept json
// @Produce json
// @Param request body PortRequest true "Port to connect"
// @Success 200 {object} utils.APIResponse "Device connected successfully"
// @Router /devices/connect [post]
func (h *DeviceHandler) ConnectDevice(c *gin.Context) {
	var req PortRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := h.deviceService.Connect(c.Request.Context(), req.Port); err != nil {
		h.logger.Error("Failed to connect device", zap.Error(err), zap.String("port", req.Port))
		utils.ErrorResponse(c, statusForError(err), "Failed to connect device", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Device connected successfully", nil)
}

// DisconnectDevice closes a device connection
// @Summary Disconnect device
// @Description Disconnect a device without counting it against its health record
// @Tags Devices
// @Accept json
// @Produce json
// @Param request body PortRequest true "Port to disconnect"
// @Success 200 {object} utils.APIResponse "Device disconnected successfully"
// @Router /devices/disconnect [post]
func (h *DeviceHandler) DisconnectDevice(c *gin.Context) {
	var req PortRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := h.deviceService.Disconnect(c.Request.Context(), req.Port); err != nil {
		utils.ErrorResponse(c, statusForError(err), "Failed to disconnect device", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Device disconnected successfully", nil)
}

// AddCustomBoard adds a user-defined board to the recognition database
// @Summary Add custom board
// @Description Register a custom VID:PID to board mapping
// @Tags Devices
// @Accept json
// @Produce json
// @Param request body AddBoardRequest true "Board definition"
// @Success 201 {object} utils.APIResponse "Board added successfully"
// @Router /devices/boards [post]
func (h *DeviceHandler) AddCustomBoard(c *gin.Context) {
	var req AddBoardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := h.deviceService.AddCustomBoard(req.VIDPID, req.Name, req.DeviceType); err != nil {
		h.logger.Error("Failed to add custom board", zap.Error(err))
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to add custom board", err)
		return
	}

	h.logger.Info("Custom board added",
		zap.String("vid_pid", req.VIDPID),
		zap.String("name", req.Name),
	)
	utils.SuccessResponse(c, http.StatusCreated, "Board added successfully", nil)
}

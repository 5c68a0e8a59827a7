// internal/handler/connection_handler.go
package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"serial-bridge/internal/model"
	"serial-bridge/internal/parser"
	"serial-bridge/internal/serial"
	"serial-bridge/internal/service"
	"serial-bridge/internal/utils"
)

// ConnectionHandler handles connection-related HTTP requests
type ConnectionHandler struct {
	registry      *serial.Registry
	deviceService *service.DeviceService
	logger        *utils.ServiceLogger
}

// NewConnectionHandler creates a new connection handler
func NewConnectionHandler(registry *serial.Registry, deviceService *service.DeviceService, logger *zap.Logger) *ConnectionHandler {
	return &ConnectionHandler{
		registry:      registry,
		deviceService: deviceService,
		logger:        utils.NewServiceLogger(logger, "connection-handler"),
	}
}

// RegisterRoutes registers connection-related routes
func (h *ConnectionHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/ports", h.ListPorts)

	connections := router.Group("/connections")
	{
		connections.GET("", h.ListConnections)
		connections.GET("/info", h.GetConnectionInfo)
		connections.POST("", h.OpenConnection)
		connections.POST("/close", h.CloseConnection)
		connections.POST("/send", h.SendData)
		connections.POST("/broadcast", h.Broadcast)
		connections.POST("/restore", h.RestoreSessions)
		connections.PUT("/parser", h.ConfigureParser)
	}
}

// OpenConnectionRequest is the request body for opening a connection.
// Omitted fields fall back to the configured defaults.
type OpenConnectionRequest struct {
	Port                string `json:"port" binding:"required"`
	BaudRate            int    `json:"baud_rate"`
	DataBits            int    `json:"data_bits"`
	Parity              string `json:"parity"`
	StopBits            string `json:"stop_bits"`
	FlowControl         string `json:"flow_control"`
	AutoReconnect       *bool  `json:"auto_reconnect"`
	ReconnectIntervalMs int64  `json:"reconnect_interval_ms"`
}

// SendDataRequest is the request body for writing to a port
type SendDataRequest struct {
	Port       string `json:"port" binding:"required"`
	Data       string `json:"data" binding:"required"`
	AddNewline *bool  `json:"add_newline"`
	Raw        bool   `json:"raw"` // skip \x and \b escape decoding
}

// BroadcastRequest is the request body for writing to all connected ports
type BroadcastRequest struct {
	Data       string `json:"data" binding:"required"`
	AddNewline *bool  `json:"add_newline"`
	Raw        bool   `json:"raw"`
}

// PortRequest names a single port
type PortRequest struct {
	Port string `json:"port" binding:"required"`
}

// ParserConfigRequest configures the frame parser of an open connection
type ParserConfigRequest struct {
	Port    string `json:"port" binding:"required"`
	Mode    string `json:"mode" binding:"required"`
	Pattern string `json:"pattern"`
}

// ListPorts lists serial ports visible to the system
// @Summary List serial ports
// @Description Get names of all serial ports currently present
// @Tags Connections
// @Produce json
// @Success 200 {object} utils.APIResponse{data=[]string} "Ports retrieved successfully"
// @Failure 500 {object} utils.APIResponse "Internal server error"
// @Router /ports [get]
func (h *ConnectionHandler) ListPorts(c *gin.Context) {
	ports, err := h.registry.AvailablePorts()
	if err != nil {
		h.logger.Error("Failed to list ports", zap.Error(err))
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to list ports", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Ports retrieved successfully", ports)
}

// ListConnections lists all registered connections
// @Summary List connections
// @Description Get state and statistics of every registered connection
// @Tags Connections
// @Produce json
// @Success 200 {object} utils.APIResponse{data=[]model.ConnectionInfo} "Connections retrieved successfully"
// @Router /connections [get]
func (h *ConnectionHandler) ListConnections(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "Connections retrieved successfully", h.registry.List())
}

// GetConnectionInfo returns one connection's state and statistics
// @Summary Get connection info
// @Description Get state and statistics of a single connection
// @Tags Connections
// @Produce json
// @Param port query string true "Port name"
// @Success 200 {object} utils.APIResponse{data=model.ConnectionInfo} "Connection retrieved successfully"
// @Failure 404 {object} utils.APIResponse "Connection not found"
// @Router /connections/info [get]
func (h *ConnectionHandler) GetConnectionInfo(c *gin.Context) {
	port := c.Query("port")
	if port == "" {
		utils.ErrorResponse(c, http.StatusBadRequest, "port query parameter is required", nil)
		return
	}

	conn, ok := h.registry.Get(port)
	if !ok {
		utils.ErrorResponse(c, http.StatusNotFound, "Connection not found", nil)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Connection retrieved successfully", conn.GetConnectionInfo())
}

// OpenConnection opens a serial connection
// @Summary Open connection
// @Description Open a serial connection; omitted parameters use configured defaults
// @Tags Connections
// @Accept json
// @Produce json
// @Param request body OpenConnectionRequest true "Connection parameters"
// @Success 201 {object} utils.APIResponse{data=model.ConnectionInfo} "Connection opened successfully"
// @Failure 400 {object} utils.APIResponse "Invalid request"
// @Failure 404 {object} utils.APIResponse "Port not found"
// @Failure 409 {object} utils.APIResponse "Port in use"
// @Router /connections [post]
func (h *ConnectionHandler) OpenConnection(c *gin.Context) {
	var req OpenConnectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	settings := model.ConnectionSettings{
		Port:          req.Port,
		BaudRate:      req.BaudRate,
		DataBits:      req.DataBits,
		Parity:        model.Parity(req.Parity),
		StopBits:      model.StopBits(req.StopBits),
		FlowControl:   model.FlowControl(req.FlowControl),
		AutoReconnect: true,
	}
	if req.AutoReconnect != nil {
		settings.AutoReconnect = *req.AutoReconnect
	}
	if req.ReconnectIntervalMs > 0 {
		settings.ReconnectInterval = time.Duration(req.ReconnectIntervalMs) * time.Millisecond
	}

	if err := h.deviceService.ConnectWith(c.Request.Context(), settings); err != nil {
		h.logger.Error("Failed to open connection", zap.Error(err), zap.String("port", req.Port))
		utils.ErrorResponse(c, statusForError(err), "Failed to open connection", err)
		return
	}

	conn, _ := h.registry.Get(req.Port)
	h.logger.Info("Connection opened", zap.String("port", req.Port))
	utils.SuccessResponse(c, http.StatusCreated, "Connection opened successfully", conn.GetConnectionInfo())
}

// CloseConnection closes a serial connection
// @Summary Close connection
// @Description Close the connection on a port and release the handle
// @Tags Connections
// @Accept json
// @Produce json
// @Param request body PortRequest true "Port to close"
// @Success 200 {object} utils.APIResponse "Connection closed successfully"
// @Failure 404 {object} utils.APIResponse "Connection not found"
// @Router /connections/close [post]
func (h *ConnectionHandler) CloseConnection(c *gin.Context) {
	var req PortRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := h.deviceService.Disconnect(c.Request.Context(), req.Port); err != nil {
		utils.ErrorResponse(c, statusForError(err), "Failed to close connection", err)
		return
	}

	h.logger.Info("Connection closed", zap.String("port", req.Port))
	utils.SuccessResponse(c, http.StatusOK, "Connection closed successfully", nil)
}

// SendData writes data to one port
// @Summary Send data
// @Description Queue data for transmission on an open connection
// @Tags Connections
// @Accept json
// @Produce json
// @Param request body SendDataRequest true "Data to send"
// @Success 200 {object} utils.APIResponse "Data queued successfully"
// @Failure 409 {object} utils.APIResponse "Connection not open"
// @Failure 503 {object} utils.APIResponse "Write queue full"
// @Router /connections/send [post]
func (h *ConnectionHandler) SendData(c *gin.Context) {
	var req SendDataRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	addNewline := true
	if req.AddNewline != nil {
		addNewline = *req.AddNewline
	}

	payload := []byte(req.Data)
	if !req.Raw {
		payload = parser.EncodeCommand(req.Data)
	}

	if err := h.registry.Send(req.Port, payload, addNewline); err != nil {
		utils.ErrorResponse(c, statusForError(err), "Failed to send data", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Data queued successfully", nil)
}

// Broadcast writes data to every connected port
// @Summary Broadcast data
// @Description Queue data for transmission on all connected ports
// @Tags Connections
// @Accept json
// @Produce json
// @Param request body BroadcastRequest true "Data to broadcast"
// @Success 200 {object} utils.APIResponse "Broadcast result"
// @Router /connections/broadcast [post]
func (h *ConnectionHandler) Broadcast(c *gin.Context) {
	var req BroadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	addNewline := true
	if req.AddNewline != nil {
		addNewline = *req.AddNewline
	}

	payload := []byte(req.Data)
	if !req.Raw {
		payload = parser.EncodeCommand(req.Data)
	}

	sent, failures := h.registry.Broadcast(payload, addNewline)

	result := gin.H{
		"sent":    sent,
		"success": len(failures) == 0,
	}
	if len(failures) > 0 {
		errs := make(map[string]string, len(failures))
		for port, err := range failures {
			errs[port] = err.Error()
		}
		result["failures"] = errs
	}
	utils.SuccessResponse(c, http.StatusOK, "Broadcast completed", result)
}

// RestoreSessions reopens all persisted sessions
// @Summary Restore sessions
// @Description Reopen every connection persisted from a previous run
// @Tags Connections
// @Produce json
// @Success 200 {object} utils.APIResponse "Restore result"
// @Router /connections/restore [post]
func (h *ConnectionHandler) RestoreSessions(c *gin.Context) {
	failures := h.deviceService.RestoreSessions(c.Request.Context())

	result := gin.H{"success": len(failures) == 0}
	if len(failures) > 0 {
		errs := make(map[string]string, len(failures))
		for port, err := range failures {
			errs[port] = err.Error()
		}
		result["failures"] = errs
	}
	utils.SuccessResponse(c, http.StatusOK, "Session restore completed", result)
}

// ConfigureParser switches framing mode on an open connection
// @Summary Configure parser
// @Description Set the framing mode (text, binary, hex, json, custom) of a connection
// @Tags Connections
// @Accept json
// @Produce json
// @Param request body ParserConfigRequest true "Parser configuration"
// @Success 200 {object} utils.APIResponse "Parser configured successfully"
// @Failure 400 {object} utils.APIResponse "Invalid mode or pattern"
// @Failure 404 {object} utils.APIResponse "Connection not found"
// @Router /connections/parser [put]
func (h *ConnectionHandler) ConfigureParser(c *gin.Context) {
	var req ParserConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	conn, ok := h.registry.Get(req.Port)
	if !ok {
		utils.ErrorResponse(c, http.StatusNotFound, "Connection not found", nil)
		return
	}

	if req.Pattern != "" {
		if err := conn.SetParserPattern(req.Pattern); err != nil {
			utils.ErrorResponse(c, http.StatusBadRequest, "Invalid custom pattern", err)
			return
		}
	}
	if err := conn.SetParserMode(parser.Mode(req.Mode)); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid parser mode", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Parser configured successfully", nil)
}

// statusForError maps transport errors to HTTP status codes
func statusForError(err error) int {
	switch {
	case errors.Is(err, serial.ErrPortNotFound):
		return http.StatusNotFound
	case errors.Is(err, serial.ErrPortInUse), errors.Is(err, serial.ErrAlreadyOpen),
		errors.Is(err, serial.ErrNotOpen), errors.Is(err, serial.ErrPermanentlyFailed):
		return http.StatusConflict
	case errors.Is(err, serial.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, serial.ErrQueueFull):
		return http.StatusServiceUnavailable
	case errors.Is(err, serial.ErrInvalidSettings):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

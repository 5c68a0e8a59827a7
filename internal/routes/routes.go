// internal/routes/routes.go
package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	swaggerfiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"serial-bridge/internal/config"
	"serial-bridge/internal/database"
	"serial-bridge/internal/handler"
	"serial-bridge/internal/health"
	"serial-bridge/internal/middleware"
	"serial-bridge/internal/repository"
	"serial-bridge/internal/serial"
	"serial-bridge/internal/service"
	"serial-bridge/internal/utils"
)

// Router holds all dependencies for routing
type Router struct {
	config        *config.Config
	logger        *zap.Logger
	db            *database.DB
	registry      *serial.Registry
	tracker       *health.Tracker
	deviceService *service.DeviceService
	deviceRepo    repository.DeviceRepository
	wsHandler     *handler.WebSocketHandler
}

// NewRouter creates a new router instance
func NewRouter(
	config *config.Config,
	logger *zap.Logger,
	db *database.DB,
	registry *serial.Registry,
	tracker *health.Tracker,
	deviceService *service.DeviceService,
	deviceRepo repository.DeviceRepository,
) *Router {
	return &Router{
		config:        config,
		logger:        logger,
		db:            db,
		registry:      registry,
		tracker:       tracker,
		deviceService: deviceService,
		deviceRepo:    deviceRepo,
		wsHandler:     handler.NewWebSocketHandler(registry, logger),
	}
}

// WebSocketHandler exposes the WebSocket layer so the application can wire
// the event bridge to it
func (r *Router) WebSocketHandler() *handler.WebSocketHandler {
	return r.wsHandler
}

// SetupRouter creates and configures the Gin router
func (r *Router) SetupRouter() *gin.Engine {
	if r.config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()

	r.addMiddleware(router)
	r.addRoutes(router)

	return router
}

// addMiddleware adds middleware to the router
func (r *Router) addMiddleware(router *gin.Engine) {
	router.Use(middleware.RecoveryMiddleware(r.logger))
	router.Use(middleware.RequestIDMiddleware())

	serviceLogger := utils.NewServiceLogger(r.logger, "http-server")
	router.Use(middleware.LoggingMiddleware(serviceLogger))

	router.Use(middleware.CORSMiddleware(&r.config.Server))

	r.logger.Info("Middleware configured")
}

// addRoutes sets up all application routes
func (r *Router) addRoutes(router *gin.Engine) {
	healthHandler := handler.NewHealthHandler(r.db, r.tracker, r.deviceService, r.config, r.logger)
	connectionHandler := handler.NewConnectionHandler(r.registry, r.deviceService, r.logger)
	deviceHandler := handler.NewDeviceHandler(r.deviceService, r.deviceRepo, r.logger)

	// Health check routes (no auth required)
	healthHandler.RegisterRoutes(router.Group(""))

	// API v1 routes
	apiV1 := router.Group("/api/v1")
	connectionHandler.RegisterRoutes(apiV1)
	deviceHandler.RegisterRoutes(apiV1)
	healthHandler.RegisterDeviceHealthRoutes(apiV1)

	// WebSocket routes
	r.wsHandler.RegisterRoutes(router.Group("/ws"))

	// Documentation routes
	r.addDocumentationRoutes(router)

	r.logger.Info("All routes configured successfully")
}

// addDocumentationRoutes sets up documentation routes
func (r *Router) addDocumentationRoutes(router *gin.Engine) {
	// Swagger documentation
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerfiles.Handler))

	// Swagger redirect for convenience
	router.GET("/docs", func(c *gin.Context) {
		c.Redirect(http.StatusMovedPermanently, "/swagger/index.html")
	})
}

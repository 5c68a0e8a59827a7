// cmd/server/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	_ "serial-bridge/docs"
	"serial-bridge/internal/config"
	"serial-bridge/internal/database"
	"serial-bridge/internal/discovery"
	discoveryserial "serial-bridge/internal/discovery/serial"
	"serial-bridge/internal/discovery/usb"
	"serial-bridge/internal/handler"
	"serial-bridge/internal/health"
	"serial-bridge/internal/repository"
	"serial-bridge/internal/routes"
	"serial-bridge/internal/serial"
	"serial-bridge/internal/service"
	"serial-bridge/internal/utils"
)

// Application represents the main application
type Application struct {
	config   *config.Config
	logger   *zap.Logger
	server   *http.Server
	database *database.DB

	// Core components
	registry      *serial.Registry
	tracker       *health.Tracker
	scanners      *discovery.ScannerManager
	boards        *usb.DeviceDatabase
	deviceService *service.DeviceService
	eventBridge   *handler.EventBridge

	// Repositories
	deviceRepo  repository.DeviceRepository
	sessionRepo repository.SessionRepository

	// Background lifecycle
	cancelBackground context.CancelFunc
}

// @title Serial Bridge API
// @version 1.0.0
// @description Serial/UART transport service with device discovery, connection health tracking and live data streaming
// @termsOfService http://swagger.io/terms/

// @contact.name Serial Bridge API Support
// @contact.email support@serialbridge.io

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8086
// @BasePath /api/v1
func main() {
	// Initialize application
	app, err := NewApplication()
	if err != nil {
		fmt.Printf("Failed to initialize application: %v\n", err)
		os.Exit(1)
	}

	// Start the application
	if err := app.Start(); err != nil {
		app.logger.Fatal("Failed to start application", zap.Error(err))
	}
}

// NewApplication creates a new application instance
func NewApplication() (*Application, error) {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	// Initialize logger
	logger, err := utils.NewLogger(&cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	// Create service logger
	serviceLogger := utils.NewServiceLogger(logger, "serial-bridge")
	serviceLogger.LogServiceStart(cfg.App.Version)

	app := &Application{
		config: cfg,
		logger: logger,
	}

	// Initialize components
	if err := app.initializeDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := app.initializeRepositories(); err != nil {
		return nil, fmt.Errorf("failed to initialize repositories: %w", err)
	}

	if err := app.initializeDiscovery(); err != nil {
		return nil, fmt.Errorf("failed to initialize discovery: %w", err)
	}

	if err := app.initializeServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	if err := app.initializeServer(); err != nil {
		return nil, fmt.Errorf("failed to initialize server: %w", err)
	}

	return app, nil
}

// initializeDatabase sets up database connection and runs migrations
func (app *Application) initializeDatabase() error {
	// Create database connection
	db, err := database.New(app.config, app.logger)
	if err != nil {
		return fmt.Errorf("failed to create database connection: %w", err)
	}

	app.database = db

	// Run migrations
	migrator := database.NewMigrator(db, app.logger)
	if err := migrator.Up(); err != nil {
		return fmt.Errorf("failed to run database migrations: %w", err)
	}

	app.logger.Info("Database initialized successfully")
	return nil
}

// initializeRepositories creates repository instances
func (app *Application) initializeRepositories() error {
	app.deviceRepo = repository.NewDeviceRepository(app.database, app.logger)
	app.sessionRepo = repository.NewSessionRepository(app.database, app.logger)

	app.logger.Info("Repositories initialized successfully")
	return nil
}

// initializeDiscovery sets up the known-board database and device scanners
func (app *Application) initializeDiscovery() error {
	boards, err := usb.NewDeviceDatabase(app.config.Devices.DeviceDBPath)
	if err != nil {
		return fmt.Errorf("failed to load device database: %w", err)
	}
	app.boards = boards

	app.scanners = discovery.NewScannerManager(app.logger)
	app.scanners.RegisterScanner(discoveryserial.NewScanner(app.logger, boards))
	app.scanners.RegisterScanner(usb.NewScanner(app.logger, boards, 0))

	app.logger.Info("Discovery initialized successfully",
		zap.Strings("scanners", app.scanners.GetAvailableScanners()),
		zap.Int("known_boards", boards.Count()),
	)
	return nil
}

// initializeServices creates service instances
func (app *Application) initializeServices() error {
	app.tracker = health.NewTracker(app.config.Devices, app.logger)
	app.registry = serial.NewRegistry(app.config, nil, nil, app.logger)

	app.deviceService = service.NewDeviceService(
		app.config,
		app.registry,
		app.tracker,
		app.scanners,
		app.boards,
		app.deviceRepo,
		app.sessionRepo,
		app.logger,
	)

	app.logger.Info("Services initialized successfully")
	return nil
}

// initializeServer sets up HTTP server and routes
func (app *Application) initializeServer() error {
	// Create router
	routerManager := routes.NewRouter(
		app.config,
		app.logger,
		app.database,
		app.registry,
		app.tracker,
		app.deviceService,
		app.deviceRepo,
	)

	// Setup router with all routes
	router := routerManager.SetupRouter()

	// Bridge connection events to WebSocket clients
	app.eventBridge = handler.NewEventBridge(
		app.registry,
		routerManager.WebSocketHandler().Connections(),
		app.logger,
	)

	// Create HTTP server
	app.server = &http.Server{
		Addr:         app.config.GetServerAddr(),
		Handler:      router,
		ReadTimeout:  app.config.Server.ReadTimeout,
		WriteTimeout: app.config.Server.WriteTimeout,
		IdleTimeout:  app.config.Server.IdleTimeout,
	}

	app.logger.Info("HTTP server initialized",
		zap.String("address", app.config.GetServerAddr()),
	)

	return nil
}

// startBackgroundServices starts the scan loop and the event bridge
func (app *Application) startBackgroundServices() {
	ctx, cancel := context.WithCancel(context.Background())
	app.cancelBackground = cancel

	go app.deviceService.Run(ctx)
	go app.eventBridge.Run(ctx)

	// Reconnect ports from the last run
	go func() {
		restoreCtx, restoreCancel := context.WithTimeout(ctx, 30*time.Second)
		defer restoreCancel()

		results := app.deviceService.RestoreSessions(restoreCtx)
		for port, err := range results {
			if err != nil {
				app.logger.Warn("Session restore failed",
					zap.String("port", port),
					zap.Error(err),
				)
			}
		}
	}()

	app.logger.Info("Background services started")
}

// waitForShutdown waits for shutdown signal and performs graceful shutdown
func (app *Application) waitForShutdown() {
	// Create channel to receive OS signals
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// Wait for signal
	sig := <-quit
	app.logger.Info("Received shutdown signal", zap.String("signal", sig.String()))

	// Perform graceful shutdown
	app.shutdown()
}

// shutdown performs graceful shutdown
func (app *Application) shutdown() {
	serviceLogger := utils.NewServiceLogger(app.logger, "serial-bridge")
	serviceLogger.LogServiceStop("shutdown signal received")

	// Stop background loops
	if app.cancelBackground != nil {
		app.cancelBackground()
	}

	// Shutdown HTTP server
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("HTTP server shutdown error", zap.Error(err))
	} else {
		app.logger.Info("HTTP server stopped")
	}

	// Close all serial connections
	app.registry.CloseAll()
	app.logger.Info("Serial connections closed")

	// Close database connection
	if app.database != nil {
		if err := app.database.Close(); err != nil {
			app.logger.Error("Database close error", zap.Error(err))
		} else {
			app.logger.Info("Database connection closed")
		}
	}

	// Flush logger
	if err := utils.CloseLogger(app.logger); err != nil {
		fmt.Printf("Logger close error: %v\n", err)
	}

	app.logger.Info("Application shutdown completed")
}

func (app *Application) Start() error {
	// Start server in goroutine
	go func() {
		app.logger.Info("Starting HTTP server",
			zap.String("address", app.server.Addr),
		)

		if err := app.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			app.logger.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	// Start background services
	app.startBackgroundServices()

	// Wait for interrupt signal
	app.waitForShutdown()

	return nil
}

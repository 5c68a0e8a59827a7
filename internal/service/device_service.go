// internal/service/device_service.go
package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"serial-bridge/internal/config"
	"serial-bridge/internal/discovery"
	"serial-bridge/internal/discovery/usb"
	"serial-bridge/internal/health"
	"serial-bridge/internal/model"
	"serial-bridge/internal/repository"
	"serial-bridge/internal/serial"
)

// deviceLostTimeout is how long a device may be absent from scans before it
// is declared lost
const deviceLostTimeout = 5 * time.Second

// DeviceService owns the device inventory. It runs the periodic scan loop,
// decides which newly seen devices are auto-connected, records connection
// outcomes in the health tracker and mirrors inventory changes to the
// database.
type DeviceService struct {
	cfg         *config.Config
	registry    *serial.Registry
	tracker     *health.Tracker
	scanners    *discovery.ScannerManager
	boards      *usb.DeviceDatabase
	deviceRepo  repository.DeviceRepository
	sessionRepo repository.SessionRepository
	logger      *zap.Logger

	mu      sync.RWMutex
	devices map[string]*model.DeviceRecord

	expectedMu     sync.Mutex
	expectedCloses map[string]struct{}
}

// NewDeviceService creates the device service
func NewDeviceService(
	cfg *config.Config,
	registry *serial.Registry,
	tracker *health.Tracker,
	scanners *discovery.ScannerManager,
	boards *usb.DeviceDatabase,
	deviceRepo repository.DeviceRepository,
	sessionRepo repository.SessionRepository,
	logger *zap.Logger,
) *DeviceService {
	return &DeviceService{
		cfg:            cfg,
		registry:       registry,
		tracker:        tracker,
		scanners:       scanners,
		boards:         boards,
		deviceRepo:     deviceRepo,
		sessionRepo:    sessionRepo,
		logger:         logger.With(zap.String("component", "device_service")),
		devices:        make(map[string]*model.DeviceRecord),
		expectedCloses: make(map[string]struct{}),
	}
}

// Run drives the periodic device scan until ctx is cancelled. It also
// watches connection events to keep the health tracker informed about
// unexpected disconnects.
func (s *DeviceService) Run(ctx context.Context) {
	subID, events := s.registry.Subscribe(256)
	defer s.registry.Unsubscribe(subID)

	ticker := time.NewTicker(s.cfg.Devices.ScanInterval)
	defer ticker.Stop()

	s.logger.Info("Device scan loop started",
		zap.Duration("scan_interval", s.cfg.Devices.ScanInterval),
		zap.Bool("auto_connect", s.cfg.Devices.AutoConnect),
	)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Device scan loop stopped")
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.handleEvent(ctx, ev)
		case <-ticker.C:
			if err := s.Scan(ctx); err != nil {
				s.logger.Error("Device scan failed", zap.Error(err))
			}
		}
	}
}

// Scan runs every available scanner once and reconciles the inventory:
// new devices are announced (and auto-connected when eligible), devices
// absent past the lost timeout are dropped.
func (s *DeviceService) Scan(ctx context.Context) error {
	discovered, err := s.scanners.ScanAll(ctx)
	if err != nil {
		return err
	}

	now := time.Now()
	seen := make(map[string]*discovery.DiscoveredDevice)
	for _, d := range discovered {
		if d.Port == "" {
			continue // bus-only device, nothing to connect to
		}
		seen[d.Port] = d
	}

	var fresh []*model.DeviceRecord
	var lost []*model.DeviceRecord

	s.mu.Lock()
	for port, d := range seen {
		if record, ok := s.devices[port]; ok {
			record.LastSeen = now
			continue
		}
		record := &model.DeviceRecord{
			Port:       port,
			Name:       d.Name,
			DeviceType: d.DeviceType,
			HardwareID: d.HardwareID,
			VIDPID:     d.VIDPID,
			LastSeen:   now,
		}
		s.devices[port] = record
		fresh = append(fresh, record)
	}
	for port, record := range s.devices {
		if _, ok := seen[port]; ok {
			continue
		}
		if now.Sub(record.LastSeen) > deviceLostTimeout {
			delete(s.devices, port)
			lost = append(lost, record)
		}
	}
	s.mu.Unlock()

	for _, record := range fresh {
		s.logger.Info("New device detected",
			zap.String("port", record.Port),
			zap.String("name", record.Name),
			zap.String("type", record.DeviceType),
		)
		s.registry.Publish(model.NewEvent(model.EventDeviceSeen, record.Port))

		if err := s.deviceRepo.Upsert(ctx, record); err != nil {
			s.logger.Warn("Failed to persist device record", zap.Error(err))
		}

		if s.cfg.Devices.AutoConnect {
			s.autoConnect(ctx, record)
		}
	}

	for _, record := range lost {
		s.logger.Info("Device lost",
			zap.String("port", record.Port),
			zap.String("name", record.Name),
		)
		s.registry.Publish(model.NewEvent(model.EventDeviceLost, record.Port))

		// release the connection if the hardware is gone
		if _, ok := s.registry.Get(record.Port); ok {
			if err := s.Disconnect(ctx, record.Port); err != nil {
				s.logger.Warn("Failed to disconnect lost device", zap.Error(err))
			}
		}
	}

	return nil
}

// autoConnect opens a connection to a newly seen device unless its health
// record says it is flaky
func (s *DeviceService) autoConnect(ctx context.Context, record *model.DeviceRecord) {
	if s.tracker.IsFlaky(record.Port) {
		s.logger.Warn("Skipping auto-connect of flaky device",
			zap.String("port", record.Port),
			zap.String("name", record.Name),
		)
		return
	}

	if err := s.Connect(ctx, record.Port); err != nil {
		s.logger.Warn("Auto-connect failed",
			zap.String("port", record.Port),
			zap.Error(err),
		)
	}
}

// Connect opens a connection with the configured defaults and records the
// outcome in the health tracker and the database
func (s *DeviceService) Connect(ctx context.Context, port string) error {
	settings := s.defaultSettings(port)
	return s.ConnectWith(ctx, settings)
}

// ConnectWith opens a connection with explicit settings
func (s *DeviceService) ConnectWith(ctx context.Context, settings model.ConnectionSettings) error {
	err := s.registry.Open(settings)
	s.recordAttempt(ctx, settings.Port, err == nil)

	if err != nil {
		return err
	}

	s.setConnected(settings.Port, true)
	if saveErr := s.sessionRepo.Save(ctx, settings); saveErr != nil {
		s.logger.Warn("Failed to persist session", zap.Error(saveErr), zap.String("port", settings.Port))
	}
	return nil
}

// Disconnect closes a connection deliberately, so the health tracker does
// not count it against the device
func (s *DeviceService) Disconnect(ctx context.Context, port string) error {
	s.expectedMu.Lock()
	s.expectedCloses[port] = struct{}{}
	s.expectedMu.Unlock()

	err := s.registry.Close(port)
	if err != nil {
		s.expectedMu.Lock()
		delete(s.expectedCloses, port)
		s.expectedMu.Unlock()
		return err
	}

	s.setConnected(port, false)
	if delErr := s.sessionRepo.Delete(ctx, port); delErr != nil {
		s.logger.Warn("Failed to remove session", zap.Error(delErr), zap.String("port", port))
	}
	return nil
}

// RestoreSessions reopens every persisted session. Ports that fail to open
// do not block the others; their errors are reported per port.
func (s *DeviceService) RestoreSessions(ctx context.Context) map[string]error {
	sessions, err := s.sessionRepo.List(ctx)
	if err != nil {
		s.logger.Error("Failed to load persisted sessions", zap.Error(err))
		return nil
	}
	if len(sessions) == 0 {
		return nil
	}

	s.logger.Info("Restoring persisted sessions", zap.Int("count", len(sessions)))

	failures := s.registry.Restore(sessions)
	for _, settings := range sessions {
		_, failed := failures[settings.Port]
		s.recordAttempt(ctx, settings.Port, !failed)
		if !failed {
			s.setConnected(settings.Port, true)
		}
	}
	return failures
}

// ListDevices returns the current inventory with live connection flags
func (s *DeviceService) ListDevices() []*model.DeviceRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	devices := make([]*model.DeviceRecord, 0, len(s.devices))
	for _, record := range s.devices {
		copied := *record
		if conn, ok := s.registry.Get(record.Port); ok {
			copied.Connected = conn.Connected()
		}
		if snap, ok := s.tracker.Get(record.Port); ok {
			copied.ConnectionAttempts = snap.Attempts
			copied.ConnectionFailures = snap.Failures
			copied.IsFlaky = snap.Flaky
			copied.ConnectionHistory = snap.History
		}
		devices = append(devices, &copied)
	}
	return devices
}

// GetDevice returns one device from the inventory
func (s *DeviceService) GetDevice(port string) (*model.DeviceRecord, bool) {
	s.mu.RLock()
	record, ok := s.devices[port]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}

	copied := *record
	if conn, found := s.registry.Get(port); found {
		copied.Connected = conn.Connected()
	}
	if snap, found := s.tracker.Get(port); found {
		copied.ConnectionAttempts = snap.Attempts
		copied.ConnectionFailures = snap.Failures
		copied.IsFlaky = snap.Flaky
		copied.ConnectionHistory = snap.History
	}
	return &copied, true
}

// ClearFlaky resets a device's flaky classification so auto-connect may
// pick it up again
func (s *DeviceService) ClearFlaky(ctx context.Context, port string) {
	s.tracker.ClearFlaky(port)

	if snap, ok := s.tracker.Get(port); ok {
		if err := s.deviceRepo.UpdateHealth(ctx, port, snap.Attempts, snap.Failures, snap.Flaky); err != nil {
			s.logger.Warn("Failed to persist health reset", zap.Error(err), zap.String("port", port))
		}
	}
}

// AddCustomBoard registers a user-defined VID:PID mapping
func (s *DeviceService) AddCustomBoard(vidPid, name, deviceType string) error {
	return s.boards.AddBoard(vidPid, usb.BoardInfo{Name: name, DeviceType: deviceType})
}

// handleEvent keeps the tracker and the inventory in sync with connection
// lifecycle events
func (s *DeviceService) handleEvent(ctx context.Context, ev model.Event) {
	switch ev.Type {
	case model.EventStatusChanged:
		if ev.Connected {
			s.setConnected(ev.Port, true)
			return
		}
		s.setConnected(ev.Port, false)

		s.expectedMu.Lock()
		_, expected := s.expectedCloses[ev.Port]
		delete(s.expectedCloses, ev.Port)
		s.expectedMu.Unlock()

		s.tracker.RecordDisconnect(ev.Port, expected)
		s.persistHealth(ctx, ev.Port, model.ConnectionHistoryEntry{
			Action:    model.ActionDisconnect,
			Timestamp: ev.Timestamp,
			Success:   expected,
		})
	}
}

// recordAttempt feeds one connection attempt into the tracker and mirrors
// the updated counters to the database
func (s *DeviceService) recordAttempt(ctx context.Context, port string, success bool) {
	s.tracker.RecordAttempt(port, success)
	s.persistHealth(ctx, port, model.ConnectionHistoryEntry{
		Action:    model.ActionConnect,
		Timestamp: time.Now(),
		Success:   success,
	})
}

func (s *DeviceService) persistHealth(ctx context.Context, port string, entry model.ConnectionHistoryEntry) {
	if err := s.deviceRepo.RecordHistory(ctx, port, entry); err != nil {
		s.logger.Debug("Failed to persist history entry", zap.Error(err), zap.String("port", port))
	}
	if snap, ok := s.tracker.Get(port); ok {
		if err := s.deviceRepo.UpdateHealth(ctx, port, snap.Attempts, snap.Failures, snap.Flaky); err != nil {
			s.logger.Debug("Failed to persist health counters", zap.Error(err), zap.String("port", port))
		}
	}
}

func (s *DeviceService) setConnected(port string, connected bool) {
	s.mu.Lock()
	if record, ok := s.devices[port]; ok {
		record.Connected = connected
	}
	s.mu.Unlock()
}

func (s *DeviceService) defaultSettings(port string) model.ConnectionSettings {
	serialCfg := s.cfg.Serial
	return model.ConnectionSettings{
		Port:              port,
		BaudRate:          serialCfg.DefaultBaudRate,
		DataBits:          serialCfg.DefaultDataBits,
		Parity:            model.Parity(serialCfg.DefaultParity),
		StopBits:          model.StopBits(serialCfg.DefaultStopBits),
		FlowControl:       model.FlowControl(serialCfg.DefaultFlowControl),
		AutoReconnect:     serialCfg.AutoReconnect,
		ReconnectInterval: serialCfg.ReconnectInterval,
	}
}

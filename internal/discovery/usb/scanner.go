// internal/discovery/usb/scanner.go - USB Bus Scanner
package usb

import (
	"context"
	"fmt"
	"time"

	"github.com/google/gousb"
	"go.uber.org/zap"

	"serial-bridge/internal/discovery"
)

// Scanner walks the USB bus looking for known boards. It catches devices
// that expose no serial endpoint at all, such as boards sitting in a DFU or
// bootloader mode, which the port scanner can never see.
type Scanner struct {
	logger      *zap.Logger
	knownBoards *DeviceDatabase
	timeout     time.Duration
}

// NewScanner creates a new USB bus scanner
func NewScanner(logger *zap.Logger, knownBoards *DeviceDatabase, timeout time.Duration) *Scanner {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Scanner{
		logger:      logger.With(zap.String("scanner", "usb")),
		knownBoards: knownBoards,
		timeout:     timeout,
	}
}

// GetScannerType returns scanner type identifier
func (s *Scanner) GetScannerType() string {
	return "usb"
}

// IsAvailable checks if the USB subsystem is accessible
func (s *Scanner) IsAvailable() bool {
	testCtx := gousb.NewContext()
	defer testCtx.Close()

	_, err := testCtx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return false // enumeration only, open nothing
	})
	if err != nil {
		s.logger.Debug("USB subsystem not accessible", zap.Error(err))
		return false
	}
	return true
}

// Scan performs USB bus discovery
func (s *Scanner) Scan(ctx context.Context) ([]*discovery.DiscoveredDevice, error) {
	scanCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	usbCtx := gousb.NewContext()
	defer func() {
		if err := usbCtx.Close(); err != nil {
			s.logger.Warn("Failed to close USB context", zap.Error(err))
		}
	}()

	var found []*discovery.DiscoveredDevice

	// The filter callback sees every descriptor on the bus; returning false
	// keeps gousb from actually opening anything.
	_, err := usbCtx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		if scanCtx.Err() != nil {
			return false
		}

		key := FormatKey(desc.Vendor, desc.Product)
		info, ok := s.knownBoards.Lookup(key)
		if !ok {
			return false
		}

		found = append(found, &discovery.DiscoveredDevice{
			Name:        info.Name,
			DeviceType:  info.DeviceType,
			Description: fmt.Sprintf("%s on bus %d address %d", info.Name, desc.Bus, desc.Address),
			VIDPID:      key,
			Source:      s.GetScannerType(),
		})
		return false
	})
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate USB devices: %w", err)
	}
	if scanCtx.Err() != nil {
		return nil, scanCtx.Err()
	}

	s.logger.Debug("USB bus scan completed", zap.Int("known_boards_found", len(found)))
	return found, nil
}

// internal/discovery/serial/scanner.go - Serial Port Scanner
package serial

import (
	"context"
	"fmt"
	"strings"

	"go.bug.st/serial/enumerator"
	"go.uber.org/zap"

	"serial-bridge/internal/discovery"
	"serial-bridge/internal/discovery/usb"
)

// Scanner discovers serial ports and identifies the board behind each one
// through its USB identifiers
type Scanner struct {
	logger      *zap.Logger
	knownBoards *usb.DeviceDatabase
}

// NewScanner creates a new serial port scanner
func NewScanner(logger *zap.Logger, knownBoards *usb.DeviceDatabase) *Scanner {
	return &Scanner{
		logger:      logger.With(zap.String("scanner", "serial")),
		knownBoards: knownBoards,
	}
}

// GetScannerType returns scanner type identifier
func (s *Scanner) GetScannerType() string {
	return "serial"
}

// IsAvailable checks if serial scanning is available
func (s *Scanner) IsAvailable() bool {
	return true
}

// Scan enumerates serial ports and resolves each against the board database
func (s *Scanner) Scan(ctx context.Context) ([]*discovery.DiscoveredDevice, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate serial ports: %w", err)
	}

	var discovered []*discovery.DiscoveredDevice
	for _, port := range details {
		select {
		case <-ctx.Done():
			return discovered, ctx.Err()
		default:
		}

		device := &discovery.DiscoveredDevice{
			Port:         port.Name,
			Name:         port.Name,
			DeviceType:   "unknown",
			Description:  port.Product,
			SerialNumber: port.SerialNumber,
			Source:       s.GetScannerType(),
		}

		if port.IsUSB && port.VID != "" && port.PID != "" {
			key := strings.ToUpper(port.VID + ":" + port.PID)
			device.VIDPID = key
			device.HardwareID = hardwareID(key, port.SerialNumber)

			if info, ok := s.knownBoards.Lookup(key); ok {
				device.Name = info.Name
				device.DeviceType = info.DeviceType
				s.logger.Debug("Recognized device",
					zap.String("port", port.Name),
					zap.String("vid_pid", key),
					zap.String("name", info.Name),
					zap.String("type", info.DeviceType),
				)
			} else {
				if port.Product != "" {
					device.Name = port.Product
				}
				s.logger.Debug("Unrecognized USB serial device",
					zap.String("port", port.Name),
					zap.String("vid_pid", key),
				)
			}
		}

		discovered = append(discovered, device)
	}

	s.logger.Debug("Serial port scan completed", zap.Int("ports_found", len(discovered)))
	return discovered, nil
}

func hardwareID(vidPid, serialNumber string) string {
	if serialNumber == "" {
		return "USB VID:PID=" + vidPid
	}
	return "USB VID:PID=" + vidPid + " SER=" + serialNumber
}

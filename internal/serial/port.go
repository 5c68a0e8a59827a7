// internal/serial/port.go
package serial

import (
	"fmt"
	"time"

	bugst "go.bug.st/serial"
	"go.uber.org/zap"

	"serial-bridge/internal/model"
)

// Port is the subset of the OS serial handle the connection pumps use.
// go.bug.st/serial ports satisfy it; tests substitute fakes.
type Port interface {
	Read(p []byte) (n int, err error)
	Write(p []byte) (n int, err error)
	Drain() error
	Close() error
}

// PortOpener configures and opens a physical port for the given settings
type PortOpener func(settings model.ConnectionSettings, readTimeout time.Duration) (Port, error)

// PortEnumerator lists the host's serial port identifiers
type PortEnumerator func() ([]string, error)

// DefaultOpener opens ports through go.bug.st/serial
func DefaultOpener(logger *zap.Logger) PortOpener {
	return func(settings model.ConnectionSettings, readTimeout time.Duration) (Port, error) {
		mode, err := buildMode(settings)
		if err != nil {
			return nil, err
		}

		if settings.FlowControl != model.FlowControlNone {
			// The serial driver layer does not expose flow control knobs;
			// the setting is preserved for session round-trips only.
			logger.Warn("Flow control is not applied by the serial driver",
				zap.String("port", settings.Port),
				zap.String("flow_control", string(settings.FlowControl)),
			)
		}

		port, err := bugst.Open(settings.Port, mode)
		if err != nil {
			return nil, fmt.Errorf("failed to open serial port: %w", err)
		}

		if err := port.SetReadTimeout(readTimeout); err != nil {
			port.Close()
			return nil, fmt.Errorf("failed to set read timeout: %w", err)
		}

		return port, nil
	}
}

// DefaultEnumerator lists ports through go.bug.st/serial
func DefaultEnumerator() PortEnumerator {
	return bugst.GetPortsList
}

// buildMode maps connection settings onto the serial driver's mode
func buildMode(settings model.ConnectionSettings) (*bugst.Mode, error) {
	mode := &bugst.Mode{
		BaudRate: settings.BaudRate,
		DataBits: settings.DataBits,
	}

	switch settings.Parity {
	case model.ParityNone, "":
		mode.Parity = bugst.NoParity
	case model.ParityEven:
		mode.Parity = bugst.EvenParity
	case model.ParityOdd:
		mode.Parity = bugst.OddParity
	case model.ParityMark:
		mode.Parity = bugst.MarkParity
	case model.ParitySpace:
		mode.Parity = bugst.SpaceParity
	default:
		return nil, fmt.Errorf("%w: parity %q", ErrInvalidSettings, settings.Parity)
	}

	switch settings.StopBits {
	case model.StopBitsOne, "":
		mode.StopBits = bugst.OneStopBit
	case model.StopBitsOnePointFive:
		mode.StopBits = bugst.OnePointFiveStopBits
	case model.StopBitsTwo:
		mode.StopBits = bugst.TwoStopBits
	default:
		return nil, fmt.Errorf("%w: stop bits %q", ErrInvalidSettings, settings.StopBits)
	}

	return mode, nil
}

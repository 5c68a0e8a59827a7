// internal/model/connection.go
package model

import (
	"fmt"
	"time"
)

// Parity represents the serial parity mode
type Parity string

const (
	ParityNone  Parity = "N"
	ParityEven  Parity = "E"
	ParityOdd   Parity = "O"
	ParityMark  Parity = "M"
	ParitySpace Parity = "S"
)

// StopBits represents the number of serial stop bits
type StopBits string

const (
	StopBitsOne          StopBits = "1"
	StopBitsOnePointFive StopBits = "1.5"
	StopBitsTwo          StopBits = "2"
)

// FlowControl represents the serial flow control mode
type FlowControl string

const (
	FlowControlNone    FlowControl = "none"
	FlowControlXonXoff FlowControl = "xonxoff"
	FlowControlRtsCts  FlowControl = "rtscts"
	FlowControlDsrDtr  FlowControl = "dsrdtr"
)

// ConnectionState represents the lifecycle state of a connection
type ConnectionState string

const (
	StateClosed            ConnectionState = "CLOSED"
	StateOpening           ConnectionState = "OPENING"
	StateOpen              ConnectionState = "OPEN"
	StateStalled           ConnectionState = "STALLED"
	StateErroring          ConnectionState = "ERRORING"
	StateReconnecting      ConnectionState = "RECONNECTING"
	StatePermanentlyFailed ConnectionState = "PERMANENTLY_FAILED"
)

// IsTerminal reports whether no pumps are running in this state
func (s ConnectionState) IsTerminal() bool {
	return s == StateClosed || s == StatePermanentlyFailed
}

// ConnectionSettings holds the immutable parameters of an open connection.
// Changing settings requires close + reopen.
type ConnectionSettings struct {
	Port              string        `json:"port" mapstructure:"port"`
	BaudRate          int           `json:"baud_rate" mapstructure:"baud_rate"`
	DataBits          int           `json:"data_bits" mapstructure:"data_bits"`
	Parity            Parity        `json:"parity" mapstructure:"parity"`
	StopBits          StopBits      `json:"stop_bits" mapstructure:"stop_bits"`
	FlowControl       FlowControl   `json:"flow_control" mapstructure:"flow_control"`
	AutoReconnect     bool          `json:"auto_reconnect" mapstructure:"auto_reconnect"`
	ReconnectInterval time.Duration `json:"reconnect_interval" mapstructure:"reconnect_interval"`
}

// Validate checks the settings against the allowed serial parameter ranges
func (s *ConnectionSettings) Validate() error {
	if s.Port == "" {
		return fmt.Errorf("port is required")
	}
	if s.BaudRate <= 0 {
		return fmt.Errorf("invalid baud rate: %d", s.BaudRate)
	}
	switch s.DataBits {
	case 5, 6, 7, 8:
	default:
		return fmt.Errorf("invalid data bits: %d (must be 5-8)", s.DataBits)
	}
	switch s.Parity {
	case ParityNone, ParityEven, ParityOdd, ParityMark, ParitySpace:
	default:
		return fmt.Errorf("invalid parity: %q", s.Parity)
	}
	switch s.StopBits {
	case StopBitsOne, StopBitsOnePointFive, StopBitsTwo:
	default:
		return fmt.Errorf("invalid stop bits: %q", s.StopBits)
	}
	switch s.FlowControl {
	case FlowControlNone, FlowControlXonXoff, FlowControlRtsCts, FlowControlDsrDtr:
	default:
		return fmt.Errorf("invalid flow control: %q", s.FlowControl)
	}
	return nil
}

// ConnectionStatistics is a point-in-time snapshot of a connection's counters.
// Counters are monotonically non-decreasing within a connection lifetime and
// reset only on a fresh open.
type ConnectionStatistics struct {
	BytesReceived     int64      `json:"bytes_received"`
	BytesSent         int64      `json:"bytes_sent"`
	PacketsReceived   int64      `json:"packets_received"`
	PacketsSent       int64      `json:"packets_sent"`
	Errors            int64      `json:"errors"`
	ReconnectAttempts int64      `json:"reconnect_attempts"`
	StallsDetected    int64      `json:"stalls_detected"`
	ConnectTime       *time.Time `json:"connect_time,omitempty"`
	LastActivity      *time.Time `json:"last_activity,omitempty"`
}

// ConnectionInfo describes a connection for external consumers
type ConnectionInfo struct {
	Settings   ConnectionSettings   `json:"settings"`
	State      ConnectionState      `json:"state"`
	Connected  bool                 `json:"connected"`
	Statistics ConnectionStatistics `json:"statistics"`
}

// HistoryAction is the kind of connection history event
type HistoryAction string

const (
	ActionConnect    HistoryAction = "connect"
	ActionDisconnect HistoryAction = "disconnect"
)

// ConnectionHistoryEntry is one append-only record in a device's
// connect/disconnect history
type ConnectionHistoryEntry struct {
	Action    HistoryAction `json:"action"`
	Timestamp time.Time     `json:"timestamp"`
	Success   bool          `json:"success"`
}

// DeviceRecord tracks per-port reliability counters consumed by the
// auto-connect gate
type DeviceRecord struct {
	Port               string                   `json:"port" db:"port"`
	Name               string                   `json:"name" db:"name"`
	DeviceType         string                   `json:"device_type" db:"device_type"`
	HardwareID         string                   `json:"hardware_id" db:"hardware_id"`
	VIDPID             string                   `json:"vid_pid,omitempty" db:"vid_pid"`
	ConnectionAttempts int                      `json:"connection_attempts" db:"connection_attempts"`
	ConnectionFailures int                      `json:"connection_failures" db:"connection_failures"`
	IsFlaky            bool                     `json:"is_flaky" db:"is_flaky"`
	Connected          bool                     `json:"connected" db:"connected"`
	LastSeen           time.Time                `json:"last_seen" db:"last_seen"`
	ConnectionHistory  []ConnectionHistoryEntry `json:"connection_history,omitempty"`
}

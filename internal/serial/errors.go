// internal/serial/errors.go
package serial

import (
	"errors"

	bugst "go.bug.st/serial"
)

// Predefined error types for robust error handling
var (
	ErrNotOpen           = errors.New("connection is not open")
	ErrAlreadyOpen       = errors.New("connection is already open")
	ErrQueueFull         = errors.New("outbound queue is full")
	ErrPortNotFound      = errors.New("serial port not found")
	ErrPortInUse         = errors.New("serial port already in use")
	ErrPermissionDenied  = errors.New("permission denied accessing serial port")
	ErrPermanentlyFailed = errors.New("connection permanently failed, reopen explicitly")
	ErrInvalidSettings   = errors.New("invalid connection settings")
)

// ErrorKind classifies a transport error so the caller can present a
// specific remedy
type ErrorKind string

const (
	KindPortInUse        ErrorKind = "port_in_use"
	KindPortNotFound     ErrorKind = "port_not_found"
	KindPermissionDenied ErrorKind = "permission_denied"
	KindTransport        ErrorKind = "transport_error"
)

// Classify maps an underlying open/read/write error to an ErrorKind
func Classify(err error) ErrorKind {
	if err == nil {
		return KindTransport
	}

	switch {
	case errors.Is(err, ErrPortNotFound):
		return KindPortNotFound
	case errors.Is(err, ErrPortInUse):
		return KindPortInUse
	case errors.Is(err, ErrPermissionDenied):
		return KindPermissionDenied
	}

	var portErr *bugst.PortError
	if errors.As(err, &portErr) {
		switch portErr.Code() {
		case bugst.PortBusy:
			return KindPortInUse
		case bugst.PortNotFound:
			return KindPortNotFound
		case bugst.PermissionDenied:
			return KindPermissionDenied
		}
	}

	return KindTransport
}

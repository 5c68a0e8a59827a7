// internal/serial/registry.go
package serial

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"serial-bridge/internal/config"
	"serial-bridge/internal/model"
)

// Registry is the single authority over serial connections. It guarantees
// at most one Connection per port name, fans connection events out to
// subscribers, and restores whole sessions of connections at once.
type Registry struct {
	cfg       *config.Config
	opener    PortOpener
	enumerate PortEnumerator
	logger    *zap.Logger

	mu    sync.RWMutex
	conns map[string]*Connection

	subMu sync.RWMutex
	subs  map[uuid.UUID]chan model.Event
}

// NewRegistry creates an empty registry. A nil opener or enumerator falls
// back to the real serial implementations.
func NewRegistry(cfg *config.Config, opener PortOpener, enumerate PortEnumerator, logger *zap.Logger) *Registry {
	if opener == nil {
		opener = DefaultOpener(logger)
	}
	if enumerate == nil {
		enumerate = DefaultEnumerator()
	}
	return &Registry{
		cfg:       cfg,
		opener:    opener,
		enumerate: enumerate,
		logger:    logger,
		conns:     make(map[string]*Connection),
		subs:      make(map[uuid.UUID]chan model.Event),
	}
}

// AvailablePorts lists the serial ports currently visible to the system
func (r *Registry) AvailablePorts() ([]string, error) {
	ports, err := r.enumerate()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate serial ports: %w", err)
	}
	sort.Strings(ports)
	return ports, nil
}

// Open establishes a connection on the given port. Opening a port that is
// already registered succeeds without touching the existing connection.
// Ports not present in the system enumeration fail fast before any open
// attempt is made.
func (r *Registry) Open(settings model.ConnectionSettings) error {
	r.applyDefaults(&settings)
	if err := settings.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}

	// An already-registered port is a no-op success even when the host's
	// enumeration has momentarily dropped it.
	r.mu.RLock()
	_, exists := r.conns[settings.Port]
	r.mu.RUnlock()
	if exists {
		r.logger.Debug("Port already registered, open is a no-op", zap.String("port", settings.Port))
		return nil
	}

	if ports, err := r.enumerate(); err == nil {
		found := false
		for _, p := range ports {
			if p == settings.Port {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%w: %s", ErrPortNotFound, settings.Port)
		}
	} else {
		// enumeration failure is not fatal, the open itself decides
		r.logger.Warn("Port enumeration failed, attempting open anyway", zap.Error(err))
	}

	conn := NewConnection(settings, OptionsFromConfig(r.cfg), r.opener, r.Publish, r.logger)

	r.mu.Lock()
	if _, exists := r.conns[settings.Port]; exists {
		r.mu.Unlock()
		r.logger.Debug("Port already registered, open is a no-op", zap.String("port", settings.Port))
		return nil
	}
	r.conns[settings.Port] = conn
	r.mu.Unlock()

	if err := conn.Open(); err != nil {
		r.mu.Lock()
		delete(r.conns, settings.Port)
		r.mu.Unlock()
		return err
	}
	return nil
}

// Close removes the connection for port and releases its resources
func (r *Registry) Close(port string) error {
	r.mu.Lock()
	conn, ok := r.conns[port]
	delete(r.conns, port)
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrPortNotFound, port)
	}
	return conn.Close()
}

// CloseAll closes every registered connection and empties the registry
func (r *Registry) CloseAll() {
	r.mu.Lock()
	conns := r.conns
	r.conns = make(map[string]*Connection)
	r.mu.Unlock()

	for port, conn := range conns {
		if err := conn.Close(); err != nil {
			r.logger.Warn("Failed to close connection", zap.String("port", port), zap.Error(err))
		}
	}
}

// Get returns the connection registered for port, if any
func (r *Registry) Get(port string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[port]
	return conn, ok
}

// Send enqueues data on the named port
func (r *Registry) Send(port string, data []byte, addNewline bool) error {
	conn, ok := r.Get(port)
	if !ok {
		return fmt.Errorf("%w: %s", ErrPortNotFound, port)
	}
	return conn.Send(data, addNewline)
}

// Broadcast enqueues data on every currently connected port. It returns
// the number of ports written to and a per-port error map; broadcast is
// considered successful only when the map is empty.
func (r *Registry) Broadcast(data []byte, addNewline bool) (int, map[string]error) {
	r.mu.RLock()
	conns := make(map[string]*Connection, len(r.conns))
	for port, conn := range r.conns {
		conns[port] = conn
	}
	r.mu.RUnlock()

	sent := 0
	errs := make(map[string]error)
	for port, conn := range conns {
		if !conn.Connected() {
			continue
		}
		if err := conn.Send(data, addNewline); err != nil {
			errs[port] = err
			continue
		}
		sent++
	}
	return sent, errs
}

// List returns a snapshot of every registered connection, sorted by port
func (r *Registry) List() []model.ConnectionInfo {
	r.mu.RLock()
	infos := make([]model.ConnectionInfo, 0, len(r.conns))
	for _, conn := range r.conns {
		infos = append(infos, conn.GetConnectionInfo())
	}
	r.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Settings.Port < infos[j].Settings.Port
	})
	return infos
}

// Restore opens every session independently. One port failing never
// prevents the others from being restored; the returned map carries the
// error for each port that could not be opened.
func (r *Registry) Restore(sessions []model.ConnectionSettings) map[string]error {
	errs := make(map[string]error)
	for _, settings := range sessions {
		if err := r.Open(settings); err != nil {
			r.logger.Warn("Failed to restore connection",
				zap.String("port", settings.Port),
				zap.Error(err),
			)
			errs[settings.Port] = err
		}
	}
	return errs
}

// Subscribe registers an event channel. Slow subscribers never block the
// pumps: events that do not fit the buffer are dropped.
func (r *Registry) Subscribe(buffer int) (uuid.UUID, <-chan model.Event) {
	if buffer <= 0 {
		buffer = 64
	}
	id := uuid.New()
	ch := make(chan model.Event, buffer)

	r.subMu.Lock()
	r.subs[id] = ch
	r.subMu.Unlock()

	r.logger.Debug("Event subscriber registered", zap.String("subscriber_id", id.String()))
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel
func (r *Registry) Unsubscribe(id uuid.UUID) {
	r.subMu.Lock()
	ch, ok := r.subs[id]
	delete(r.subs, id)
	r.subMu.Unlock()

	if ok {
		close(ch)
		r.logger.Debug("Event subscriber removed", zap.String("subscriber_id", id.String()))
	}
}

// Publish fans one event out to all subscribers without blocking
func (r *Registry) Publish(ev model.Event) {
	r.subMu.RLock()
	defer r.subMu.RUnlock()

	for id, ch := range r.subs {
		select {
		case ch <- ev:
		default:
			r.logger.Warn("Subscriber queue full, dropping event",
				zap.String("subscriber_id", id.String()),
				zap.String("event_type", string(ev.Type)),
				zap.String("port", ev.Port),
			)
		}
	}
}

// applyDefaults fills zero-valued settings fields from configuration
func (r *Registry) applyDefaults(settings *model.ConnectionSettings) {
	serial := r.cfg.Serial
	if settings.BaudRate == 0 {
		settings.BaudRate = serial.DefaultBaudRate
	}
	if settings.DataBits == 0 {
		settings.DataBits = serial.DefaultDataBits
	}
	if settings.Parity == "" {
		settings.Parity = model.Parity(serial.DefaultParity)
	}
	if settings.StopBits == "" {
		settings.StopBits = model.StopBits(serial.DefaultStopBits)
	}
	if settings.FlowControl == "" {
		settings.FlowControl = model.FlowControl(serial.DefaultFlowControl)
	}
	if settings.ReconnectInterval == 0 {
		settings.ReconnectInterval = serial.ReconnectInterval
	}
}

// internal/serial/connection.go
package serial

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"serial-bridge/internal/config"
	"serial-bridge/internal/model"
	"serial-bridge/internal/parser"
	"serial-bridge/internal/utils"
)

const (
	// consecutiveErrorLimit is how many back-to-back pump errors trigger
	// the reconnection procedure
	consecutiveErrorLimit = 3

	// errorBackoff is how long a pump sleeps after a transport error
	errorBackoff = time.Second

	// reconnectPause is the fixed wait between closing a stale handle and
	// reopening it within one reconnect attempt
	reconnectPause = 500 * time.Millisecond

	// joinTimeout bounds how long Close waits for the pumps to exit before
	// force-releasing the port handle
	joinTimeout = time.Second

	readChunkSize = 1024
)

// Options holds the tunable timing and sizing parameters of a connection
type Options struct {
	ReadTimeout          time.Duration
	WriteQueueSize       int
	MaxBufferSize        int
	StalledTimeout       time.Duration
	MaxReconnectAttempts int
}

// OptionsFromConfig derives connection options from application configuration
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		ReadTimeout:          cfg.Serial.ReadTimeout,
		WriteQueueSize:       cfg.Serial.WriteQueueSize,
		MaxBufferSize:        cfg.Serial.MaxBufferSize,
		StalledTimeout:       cfg.Serial.StalledTimeout,
		MaxReconnectAttempts: cfg.Devices.MaxReconnectAttempts,
	}
}

func (o *Options) applyDefaults() {
	if o.ReadTimeout <= 0 || o.ReadTimeout > 100*time.Millisecond {
		o.ReadTimeout = 100 * time.Millisecond
	}
	if o.WriteQueueSize <= 0 {
		o.WriteQueueSize = 256
	}
	if o.MaxBufferSize <= 0 {
		o.MaxBufferSize = parser.DefaultMaxBufferSize
	}
	if o.StalledTimeout <= 0 {
		o.StalledTimeout = 30 * time.Second
	}
	if o.MaxReconnectAttempts <= 0 {
		o.MaxReconnectAttempts = 5
	}
}

// connStats aggregates a connection's counters. All mutation goes through
// atomics so the pumps never lose updates to concurrent status queries.
type connStats struct {
	bytesReceived   atomic.Int64
	bytesSent       atomic.Int64
	packetsReceived atomic.Int64
	packetsSent     atomic.Int64
	errors          atomic.Int64
	reconnects      atomic.Int64
	stalls          atomic.Int64
	connectTime     atomic.Int64 // unix nanos, 0 when never connected
	lastActivity    atomic.Int64 // unix nanos, 0 when never active
}

func (s *connStats) reset(now time.Time) {
	s.bytesReceived.Store(0)
	s.bytesSent.Store(0)
	s.packetsReceived.Store(0)
	s.packetsSent.Store(0)
	s.errors.Store(0)
	s.reconnects.Store(0)
	s.stalls.Store(0)
	s.connectTime.Store(now.UnixNano())
	s.lastActivity.Store(now.UnixNano())
}

func (s *connStats) touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

func (s *connStats) lastActivityTime() time.Time {
	n := s.lastActivity.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

func (s *connStats) snapshot() model.ConnectionStatistics {
	snap := model.ConnectionStatistics{
		BytesReceived:     s.bytesReceived.Load(),
		BytesSent:         s.bytesSent.Load(),
		PacketsReceived:   s.packetsReceived.Load(),
		PacketsSent:       s.packetsSent.Load(),
		Errors:            s.errors.Load(),
		ReconnectAttempts: s.reconnects.Load(),
		StallsDetected:    s.stalls.Load(),
	}
	if n := s.connectTime.Load(); n != 0 {
		t := time.Unix(0, n)
		snap.ConnectTime = &t
	}
	if n := s.lastActivity.Load(); n != 0 {
		t := time.Unix(0, n)
		snap.LastActivity = &t
	}
	return snap
}

// Connection owns exactly one open OS serial handle (or none when closed).
// It runs a read pump and a write pump concurrently, detects staleness and
// drives reconnection attempts. Connections are created and owned by the
// Registry; no other component may hold a second handle to the same port.
type Connection struct {
	settings model.ConnectionSettings
	opts     Options
	opener   PortOpener
	emit     func(model.Event)
	logger   *utils.ConnectionLogger

	mu     sync.Mutex
	state  model.ConnectionState
	port   Port
	stopCh chan struct{}
	wg     *sync.WaitGroup
	cancel context.CancelFunc
	ctx    context.Context

	writeQueue chan []byte

	parserMu sync.Mutex
	parser   *parser.Parser

	reconnecting atomic.Bool
	announced    atomic.Bool // status-changed(true) has been emitted

	stats connStats
}

// NewConnection creates a closed connection for the given settings
func NewConnection(settings model.ConnectionSettings, opts Options, opener PortOpener, emit func(model.Event), baseLogger *zap.Logger) *Connection {
	opts.applyDefaults()
	if emit == nil {
		emit = func(model.Event) {}
	}
	return &Connection{
		settings:   settings,
		opts:       opts,
		opener:     opener,
		emit:       emit,
		logger:     utils.NewConnectionLogger(baseLogger, settings.Port),
		state:      model.StateClosed,
		writeQueue: make(chan []byte, opts.WriteQueueSize),
		parser:     parser.New(opts.MaxBufferSize),
	}
}

// Open configures the physical port, starts both pumps and the stall
// watcher, and transitions to Open. On failure the error is classified and
// emitted and the connection stays Closed.
func (c *Connection) Open() error {
	c.mu.Lock()
	if !c.state.IsTerminal() {
		c.mu.Unlock()
		return ErrAlreadyOpen
	}
	c.state = model.StateOpening
	c.mu.Unlock()

	c.logger.Info("Opening serial port",
		zap.Int("baud_rate", c.settings.BaudRate),
		zap.Int("data_bits", c.settings.DataBits),
		zap.String("parity", string(c.settings.Parity)),
		zap.String("stop_bits", string(c.settings.StopBits)),
		zap.String("flow_control", string(c.settings.FlowControl)),
	)

	port, err := c.opener(c.settings, c.opts.ReadTimeout)
	if err != nil {
		c.mu.Lock()
		c.state = model.StateClosed
		c.mu.Unlock()
		c.stats.errors.Add(1)
		c.emitError(err)
		c.logger.LogLifecycle("open", false, err)
		return err
	}

	c.drainQueue()
	c.parserMu.Lock()
	c.parser.ClearBuffer()
	c.parserMu.Unlock()
	c.stats.reset(time.Now())

	c.mu.Lock()
	c.port = port
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.startPumpsLocked()
	c.state = model.StateOpen
	c.mu.Unlock()

	c.announceStatus(true)
	c.logger.LogLifecycle("open", true, nil)
	return nil
}

// Send enqueues data for the write pump. It rejects immediately when the
// connection is not Open and never blocks the caller on I/O.
func (c *Connection) Send(data []byte, addNewline bool) error {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()

	if state != model.StateOpen {
		if state == model.StatePermanentlyFailed {
			return ErrPermanentlyFailed
		}
		return ErrNotOpen
	}

	if addNewline && !bytes.HasSuffix(data, []byte("\n")) {
		data = append(append([]byte(nil), data...), '\n')
	}

	select {
	case c.writeQueue <- data:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close signals both pumps to stop, joins them with a bounded wait, and
// releases the port handle even if a pump fails to exit in time. Closing an
// already-closed connection succeeds without side effects.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.state == model.StateClosed {
		c.mu.Unlock()
		return nil
	}
	c.state = model.StateClosed
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.stopPumps()
	c.closePort()
	c.drainQueue()

	c.announceStatus(false)
	c.logger.LogLifecycle("close", true, nil)
	return nil
}

// State returns the current lifecycle state
func (c *Connection) State() model.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connected reports whether the connection is usable for Send
func (c *Connection) Connected() bool {
	return c.State() == model.StateOpen
}

// Settings returns the immutable settings this connection was opened with
func (c *Connection) Settings() model.ConnectionSettings {
	return c.settings
}

// GetStatistics returns a snapshot of the connection counters. It never
// mutates state and is safe to call from any goroutine.
func (c *Connection) GetStatistics() model.ConnectionStatistics {
	return c.stats.snapshot()
}

// GetConnectionInfo returns a full description of the connection
func (c *Connection) GetConnectionInfo() model.ConnectionInfo {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()

	return model.ConnectionInfo{
		Settings:   c.settings,
		State:      state,
		Connected:  state == model.StateOpen,
		Statistics: c.stats.snapshot(),
	}
}

// SetParserMode switches the framing mode of the connection's parser
func (c *Connection) SetParserMode(mode parser.Mode) error {
	c.parserMu.Lock()
	defer c.parserMu.Unlock()
	return c.parser.SetMode(mode)
}

// SetParserPattern installs the custom-mode pattern. Invalid patterns are
// rejected here, never during stream processing.
func (c *Connection) SetParserPattern(pattern string) error {
	c.parserMu.Lock()
	defer c.parserMu.Unlock()
	return c.parser.SetCustomPattern(pattern)
}

// startPumpsLocked spawns the read pump, write pump and stall watcher for
// the current port handle. Caller holds c.mu.
func (c *Connection) startPumpsLocked() {
	stop := make(chan struct{})
	wg := &sync.WaitGroup{}
	c.stopCh = stop
	c.wg = wg

	wg.Add(3)
	go c.readPump(c.port, stop, wg)
	go c.writePump(c.port, stop, wg)
	go c.stallWatcher(stop, wg)
}

// stopPumps signals the current pump session to exit and waits for it with
// a bounded join
func (c *Connection) stopPumps() {
	c.mu.Lock()
	stop := c.stopCh
	wg := c.wg
	c.stopCh = nil
	c.wg = nil
	c.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	if wg != nil && !waitTimeout(wg, joinTimeout) {
		c.logger.Warn("Pumps did not exit in time, releasing port anyway")
	}
}

func (c *Connection) closePort() {
	c.mu.Lock()
	port := c.port
	c.port = nil
	c.mu.Unlock()

	if port != nil {
		if err := port.Close(); err != nil {
			c.logger.Warn("Failed to close serial port", zap.Error(err))
		}
	}
}

func (c *Connection) drainQueue() {
	for {
		select {
		case <-c.writeQueue:
		default:
			return
		}
	}
}

// readPump continuously polls the port, feeds the frame parser and emits
// one data-received event per decoded message
func (c *Connection) readPump(port Port, stop chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()

	buf := make([]byte, readChunkSize)
	consecutive := 0

	for {
		select {
		case <-stop:
			return
		default:
		}

		n, err := port.Read(buf)
		if err != nil {
			select {
			case <-stop:
				return
			default:
			}

			consecutive++
			c.stats.errors.Add(1)
			c.emitError(err)
			c.logger.Debug("Read error", zap.Error(err), zap.Int("consecutive", consecutive))

			if consecutive >= consecutiveErrorLimit {
				if c.settings.AutoReconnect {
					c.setState(model.StateErroring)
					c.beginReconnect()
					return
				}
				consecutive = 0
			}
			if !sleepOrStop(stop, errorBackoff) {
				return
			}
			continue
		}

		if n == 0 {
			// poll timeout, nothing arrived
			continue
		}

		consecutive = 0
		c.stats.bytesReceived.Add(int64(n))
		c.stats.touch()

		c.parserMu.Lock()
		messages := c.parser.Process(buf[:n])
		c.parserMu.Unlock()

		for _, msg := range messages {
			c.stats.packetsReceived.Add(1)
			ev := model.NewEvent(model.EventDataReceived, c.settings.Port)
			ev.Data = msg
			c.emit(ev)
		}
	}
}

// writePump drains the outbound queue in FIFO order, writing and flushing
// each item
func (c *Connection) writePump(port Port, stop chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()

	consecutive := 0

	for {
		select {
		case <-stop:
			return
		case data := <-c.writeQueue:
			n, err := port.Write(data)
			if err == nil && n == len(data) {
				err = port.Drain()
			} else if err == nil {
				err = fmt.Errorf("incomplete write: wrote %d of %d bytes", n, len(data))
			}

			if err != nil {
				select {
				case <-stop:
					return
				default:
				}

				consecutive++
				c.stats.errors.Add(1)
				c.emitError(err)
				c.logger.Debug("Write error", zap.Error(err), zap.Int("consecutive", consecutive))

				if consecutive >= consecutiveErrorLimit {
					if c.settings.AutoReconnect {
						c.setState(model.StateErroring)
						c.beginReconnect()
						return
					}
					consecutive = 0
				}
				if !sleepOrStop(stop, errorBackoff) {
					return
				}
				continue
			}

			consecutive = 0
			c.stats.bytesSent.Add(int64(len(data)))
			c.stats.packetsSent.Add(1)
			c.stats.touch()
		}
	}
}

// stallWatcher periodically checks elapsed time since the last read/write
// activity and triggers reconnection when the connection reports itself
// open with no traffic past the stalled timeout
func (c *Connection) stallWatcher(stop chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(c.opts.StalledTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if c.State() != model.StateOpen {
				continue
			}
			last := c.stats.lastActivityTime()
			if last.IsZero() || time.Since(last) <= c.opts.StalledTimeout {
				continue
			}

			c.stats.stalls.Add(1)
			c.logger.Warn("Connection stalled",
				zap.Time("last_activity", last),
				zap.Duration("stalled_timeout", c.opts.StalledTimeout),
			)
			c.emit(model.NewEvent(model.EventStallDetected, c.settings.Port))

			if c.settings.AutoReconnect {
				c.setState(model.StateStalled)
				c.beginReconnect()
				return
			}
		}
	}
}

// beginReconnect starts the reconnection procedure exactly once; concurrent
// triggers from the other pump or the stall watcher are ignored
func (c *Connection) beginReconnect() {
	if !c.reconnecting.CompareAndSwap(false, true) {
		return
	}
	go c.reconnectLoop()
}

// reconnectLoop closes the stale handle and retries the open with identical
// settings, bounded by the attempt cap. Success resumes Open with the
// attempt counter reset; exhaustion parks the connection in
// PermanentlyFailed until an explicit reopen.
func (c *Connection) reconnectLoop() {
	defer c.reconnecting.Store(false)

	c.mu.Lock()
	if c.state == model.StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = model.StateReconnecting
	ctx := c.ctx
	c.mu.Unlock()

	c.stopPumps()
	c.closePort()

	maxAttempts := c.opts.MaxReconnectAttempts
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		c.stats.reconnects.Add(1)

		ev := model.NewEvent(model.EventReconnectAttempt, c.settings.Port)
		ev.Attempt = attempt
		c.emit(ev)

		if !sleepOrDone(ctx, reconnectPause) {
			return
		}

		port, err := c.opener(c.settings, c.opts.ReadTimeout)
		if err == nil {
			c.mu.Lock()
			if c.state == model.StateClosed {
				// closed while reopening, release the fresh handle
				c.mu.Unlock()
				port.Close()
				return
			}
			c.port = port
			c.stats.touch()
			c.startPumpsLocked()
			c.state = model.StateOpen
			c.mu.Unlock()

			c.logger.LogReconnect(attempt, maxAttempts, nil)
			c.announceStatus(true)
			return
		}

		c.stats.errors.Add(1)
		c.logger.LogReconnect(attempt, maxAttempts, err)
		c.emitError(err)

		if attempt < maxAttempts {
			if !sleepOrDone(ctx, c.settings.ReconnectInterval) {
				return
			}
		}
	}

	c.mu.Lock()
	if c.state == model.StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = model.StatePermanentlyFailed
	c.mu.Unlock()

	err := fmt.Errorf("%w: %d reconnect attempts exhausted", ErrPermanentlyFailed, maxAttempts)
	c.logger.LogLifecycle("reconnect", false, err)
	c.emitError(err)
	c.announceStatus(false)
}

func (c *Connection) setState(state model.ConnectionState) {
	c.mu.Lock()
	if c.state != model.StateClosed {
		c.state = state
	}
	c.mu.Unlock()
}

// announceStatus emits connection-status-changed exactly once per
// transition between connected and disconnected
func (c *Connection) announceStatus(connected bool) {
	if !c.announced.CompareAndSwap(!connected, connected) {
		return
	}
	ev := model.NewEvent(model.EventStatusChanged, c.settings.Port)
	ev.Connected = connected
	c.emit(ev)
}

func (c *Connection) emitError(err error) {
	ev := model.NewEvent(model.EventErrorOccurred, c.settings.Port)
	ev.Error = err.Error()
	ev.ErrorKind = string(Classify(err))
	c.emit(ev)
}

// sleepOrStop sleeps for d, returning false early when stop closes
func sleepOrStop(stop chan struct{}, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-stop:
		return false
	case <-timer.C:
		return true
	}
}

// sleepOrDone sleeps for d, returning false early when ctx is cancelled
func sleepOrDone(ctx context.Context, d time.Duration) bool {
	if ctx == nil {
		time.Sleep(d)
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func waitTimeout(wg *sync.WaitGroup, d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(d):
		return false
	}
}

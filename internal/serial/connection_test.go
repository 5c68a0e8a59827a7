// internal/serial/connection_test.go
package serial

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"serial-bridge/internal/model"
)

// fakePort is an in-memory Port. Reads deliver chunks pushed into incoming
// and time out like a real poll when nothing is pending; writes are recorded.
type fakePort struct {
	incoming chan []byte
	readErr  chan error

	mu           sync.Mutex
	written      bytes.Buffer
	writeGate    chan struct{} // when set, Write blocks until the gate closes
	writeEntered chan struct{}
	closed       bool
}

func newFakePort() *fakePort {
	return &fakePort{
		incoming: make(chan []byte, 16),
		readErr:  make(chan error, 16),
	}
}

func (p *fakePort) Read(buf []byte) (int, error) {
	select {
	case err := <-p.readErr:
		return 0, err
	case data := <-p.incoming:
		return copy(buf, data), nil
	case <-time.After(5 * time.Millisecond):
		return 0, nil // poll timeout
	}
}

func (p *fakePort) Write(data []byte) (int, error) {
	p.mu.Lock()
	gate := p.writeGate
	entered := p.writeEntered
	p.mu.Unlock()

	if entered != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
	}
	if gate != nil {
		<-gate
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.written.Write(data)
	return len(data), nil
}

func (p *fakePort) Drain() error { return nil }

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePort) writtenString() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.String()
}

func testSettings(autoReconnect bool) model.ConnectionSettings {
	return model.ConnectionSettings{
		Port:              "/dev/ttyTEST0",
		BaudRate:          115200,
		DataBits:          8,
		Parity:            model.ParityNone,
		StopBits:          model.StopBitsOne,
		FlowControl:       model.FlowControlNone,
		AutoReconnect:     autoReconnect,
		ReconnectInterval: 10 * time.Millisecond,
	}
}

func staticOpener(port Port, err error) PortOpener {
	return func(model.ConnectionSettings, time.Duration) (Port, error) {
		if err != nil {
			return nil, err
		}
		return port, nil
	}
}

// sequenceOpener returns ports or errors in call order, repeating the last
// entry once exhausted.
func sequenceOpener(results ...func() (Port, error)) PortOpener {
	var mu sync.Mutex
	i := 0
	return func(model.ConnectionSettings, time.Duration) (Port, error) {
		mu.Lock()
		defer mu.Unlock()
		r := results[i]
		if i < len(results)-1 {
			i++
		}
		return r()
	}
}

func collectEvents() (func(model.Event), chan model.Event) {
	ch := make(chan model.Event, 256)
	return func(ev model.Event) {
		select {
		case ch <- ev:
		default:
		}
	}, ch
}

func waitForEvent(t *testing.T, ch chan model.Event, eventType model.EventType, timeout time.Duration) model.Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-ch:
			if ev.Type == eventType {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", eventType)
		}
	}
}

func waitForState(t *testing.T, c *Connection, state model.ConnectionState, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if c.State() == state {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state = %s, want %s", c.State(), state)
}

func TestOpenAndClose(t *testing.T) {
	port := newFakePort()
	emit, events := collectEvents()
	c := NewConnection(testSettings(false), Options{}, staticOpener(port, nil), emit, zap.NewNop())

	if err := c.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer c.Close()

	if !c.Connected() {
		t.Error("Connected() = false after Open")
	}

	ev := waitForEvent(t, events, model.EventStatusChanged, time.Second)
	if !ev.Connected {
		t.Error("status event Connected = false, want true")
	}

	stats := c.GetStatistics()
	if stats.ConnectTime == nil {
		t.Error("ConnectTime not set after Open")
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if c.State() != model.StateClosed {
		t.Errorf("State() = %s after Close, want %s", c.State(), model.StateClosed)
	}

	ev = waitForEvent(t, events, model.EventStatusChanged, time.Second)
	if ev.Connected {
		t.Error("status event Connected = true after Close, want false")
	}

	port.mu.Lock()
	closed := port.closed
	port.mu.Unlock()
	if !closed {
		t.Error("port handle not released on Close")
	}
}

func TestOpenWhenAlreadyOpen(t *testing.T) {
	port := newFakePort()
	emit, _ := collectEvents()
	c := NewConnection(testSettings(false), Options{}, staticOpener(port, nil), emit, zap.NewNop())

	if err := c.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer c.Close()

	if err := c.Open(); !errors.Is(err, ErrAlreadyOpen) {
		t.Errorf("second Open() error = %v, want ErrAlreadyOpen", err)
	}
}

func TestOpenFailure(t *testing.T) {
	openErr := errors.New("device busy")
	emit, events := collectEvents()
	c := NewConnection(testSettings(false), Options{}, staticOpener(nil, openErr), emit, zap.NewNop())

	if err := c.Open(); !errors.Is(err, openErr) {
		t.Fatalf("Open() error = %v, want %v", err, openErr)
	}
	if c.State() != model.StateClosed {
		t.Errorf("State() = %s after failed Open, want %s", c.State(), model.StateClosed)
	}

	waitForEvent(t, events, model.EventErrorOccurred, time.Second)
}

func TestCloseIsIdempotent(t *testing.T) {
	port := newFakePort()
	emit, _ := collectEvents()
	c := NewConnection(testSettings(false), Options{}, staticOpener(port, nil), emit, zap.NewNop())

	if err := c.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("first Close() error = %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close() error = %v, want nil", err)
	}
}

func TestSendWhenNotOpen(t *testing.T) {
	emit, _ := collectEvents()
	c := NewConnection(testSettings(false), Options{}, staticOpener(newFakePort(), nil), emit, zap.NewNop())

	if err := c.Send([]byte("data"), true); !errors.Is(err, ErrNotOpen) {
		t.Errorf("Send() on closed connection error = %v, want ErrNotOpen", err)
	}
}

func TestSendAppendsNewline(t *testing.T) {
	port := newFakePort()
	emit, _ := collectEvents()
	c := NewConnection(testSettings(false), Options{}, staticOpener(port, nil), emit, zap.NewNop())

	if err := c.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer c.Close()

	if err := c.Send([]byte("first"), true); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if err := c.Send([]byte("second\n"), true); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if err := c.Send([]byte("third"), false); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	deadline := time.Now().Add(time.Second)
	want := "first\nsecond\nthird"
	for time.Now().Before(deadline) {
		if port.writtenString() == want {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := port.writtenString(); got != want {
		t.Errorf("written = %q, want %q", got, want)
	}

	stats := c.GetStatistics()
	if stats.PacketsSent != 3 {
		t.Errorf("PacketsSent = %d, want 3", stats.PacketsSent)
	}
}

func TestSendQueueFull(t *testing.T) {
	port := newFakePort()
	gate := make(chan struct{})
	entered := make(chan struct{}, 1)
	port.writeGate = gate
	port.writeEntered = entered

	emit, _ := collectEvents()
	c := NewConnection(testSettings(false), Options{WriteQueueSize: 1}, staticOpener(port, nil), emit, zap.NewNop())

	if err := c.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer func() {
		close(gate)
		c.Close()
	}()

	// First send is dequeued by the pump, which then blocks in Write.
	if err := c.Send([]byte("a"), false); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("write pump never picked up the first item")
	}

	// Second send occupies the queue slot; the third has nowhere to go.
	if err := c.Send([]byte("b"), false); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if err := c.Send([]byte("c"), false); !errors.Is(err, ErrQueueFull) {
		t.Errorf("Send() with full queue error = %v, want ErrQueueFull", err)
	}
}

func TestReadDataEmitsEvents(t *testing.T) {
	port := newFakePort()
	emit, events := collectEvents()
	c := NewConnection(testSettings(false), Options{}, staticOpener(port, nil), emit, zap.NewNop())

	if err := c.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer c.Close()

	port.incoming <- []byte("hello\nwor")
	port.incoming <- []byte("ld\n")

	first := waitForEvent(t, events, model.EventDataReceived, time.Second)
	if first.Data != "hello" {
		t.Errorf("first message = %q, want %q", first.Data, "hello")
	}
	second := waitForEvent(t, events, model.EventDataReceived, time.Second)
	if second.Data != "world" {
		t.Errorf("second message = %q, want %q", second.Data, "world")
	}

	stats := c.GetStatistics()
	if stats.BytesReceived != 12 {
		t.Errorf("BytesReceived = %d, want 12", stats.BytesReceived)
	}
	if stats.PacketsReceived != 2 {
		t.Errorf("PacketsReceived = %d, want 2", stats.PacketsReceived)
	}
}

func TestReadErrorsTriggerReconnectExhaustion(t *testing.T) {
	failing := newFakePort()
	openErr := errors.New("gone")

	opener := sequenceOpener(
		func() (Port, error) { return failing, nil },
		func() (Port, error) { return nil, openErr },
	)

	emit, events := collectEvents()
	opts := Options{MaxReconnectAttempts: 2}
	c := NewConnection(testSettings(true), opts, opener, emit, zap.NewNop())

	if err := c.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer c.Close()

	// Three consecutive read errors push the connection into reconnection.
	for i := 0; i < 3; i++ {
		failing.readErr <- fmt.Errorf("read failed %d", i)
	}

	ev := waitForEvent(t, events, model.EventReconnectAttempt, 5*time.Second)
	if ev.Attempt != 1 {
		t.Errorf("first reconnect attempt = %d, want 1", ev.Attempt)
	}
	ev = waitForEvent(t, events, model.EventReconnectAttempt, 5*time.Second)
	if ev.Attempt != 2 {
		t.Errorf("second reconnect attempt = %d, want 2", ev.Attempt)
	}

	waitForState(t, c, model.StatePermanentlyFailed, 5*time.Second)

	if err := c.Send([]byte("data"), true); !errors.Is(err, ErrPermanentlyFailed) {
		t.Errorf("Send() after exhaustion error = %v, want ErrPermanentlyFailed", err)
	}

	// A permanently failed connection accepts an explicit reopen.
	if err := c.Open(); !errors.Is(err, openErr) {
		t.Errorf("explicit reopen error = %v, want the opener error", err)
	}
}

func TestReconnectRecovers(t *testing.T) {
	failing := newFakePort()
	healthy := newFakePort()
	openErr := errors.New("transient")

	opener := sequenceOpener(
		func() (Port, error) { return failing, nil },
		func() (Port, error) { return nil, openErr },
		func() (Port, error) { return healthy, nil },
	)

	emit, events := collectEvents()
	opts := Options{MaxReconnectAttempts: 5}
	c := NewConnection(testSettings(true), opts, opener, emit, zap.NewNop())

	if err := c.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer c.Close()

	for i := 0; i < 3; i++ {
		failing.readErr <- errors.New("read failed")
	}

	waitForState(t, c, model.StateOpen, 10*time.Second)

	// The recovered session reads from the fresh handle.
	healthy.incoming <- []byte("back\n")
	ev := waitForEvent(t, events, model.EventDataReceived, time.Second)
	if ev.Data != "back" {
		t.Errorf("message after recovery = %q, want %q", ev.Data, "back")
	}
}

func TestNoReconnectWhenDisabled(t *testing.T) {
	failing := newFakePort()
	emit, events := collectEvents()
	c := NewConnection(testSettings(false), Options{}, staticOpener(failing, nil), emit, zap.NewNop())

	if err := c.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer c.Close()

	for i := 0; i < 3; i++ {
		failing.readErr <- errors.New("read failed")
	}

	waitForEvent(t, events, model.EventErrorOccurred, time.Second)
	time.Sleep(50 * time.Millisecond)

	if got := c.State(); got != model.StateOpen {
		t.Errorf("State() = %s with reconnect disabled, want %s", got, model.StateOpen)
	}
}

func TestStallDetection(t *testing.T) {
	port := newFakePort()
	emit, events := collectEvents()
	opts := Options{StalledTimeout: 100 * time.Millisecond}
	c := NewConnection(testSettings(false), opts, staticOpener(port, nil), emit, zap.NewNop())

	if err := c.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer c.Close()

	waitForEvent(t, events, model.EventStallDetected, 2*time.Second)

	stats := c.GetStatistics()
	if stats.StallsDetected == 0 {
		t.Error("StallsDetected = 0 after stall event")
	}
}

func TestStallTriggersReconnect(t *testing.T) {
	port := newFakePort()
	emit, events := collectEvents()
	opts := Options{StalledTimeout: 100 * time.Millisecond}
	c := NewConnection(testSettings(true), opts, staticOpener(port, nil), emit, zap.NewNop())

	if err := c.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer c.Close()

	waitForEvent(t, events, model.EventStallDetected, 2*time.Second)

	ev := waitForEvent(t, events, model.EventReconnectAttempt, 5*time.Second)
	if ev.Attempt != 1 {
		t.Errorf("reconnect attempt = %d after stall, want 1", ev.Attempt)
	}

	// The reopen succeeds, so the connection returns to open.
	waitForState(t, c, model.StateOpen, 5*time.Second)
}

func TestParserModeSwitch(t *testing.T) {
	port := newFakePort()
	emit, events := collectEvents()
	c := NewConnection(testSettings(false), Options{}, staticOpener(port, nil), emit, zap.NewNop())

	if err := c.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer c.Close()

	if err := c.SetParserMode("nope"); err == nil {
		t.Error("SetParserMode(nope) expected error")
	}
	if err := c.SetParserMode("hex"); err != nil {
		t.Fatalf("SetParserMode(hex) error = %v", err)
	}

	port.incoming <- []byte("AB\n")
	ev := waitForEvent(t, events, model.EventDataReceived, time.Second)
	if ev.Data != "[HEX] 41 42" {
		t.Errorf("hex mode message = %q, want %q", ev.Data, "[HEX] 41 42")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"port not found sentinel", fmt.Errorf("wrap: %w", ErrPortNotFound), KindPortNotFound},
		{"port in use sentinel", ErrPortInUse, KindPortInUse},
		{"permission sentinel", ErrPermissionDenied, KindPermissionDenied},
		{"generic error", errors.New("io failure"), KindTransport},
		{"nil error", nil, KindTransport},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify() = %s, want %s", got, tt.want)
			}
		})
	}
}

// internal/serial/registry_test.go
package serial

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"serial-bridge/internal/config"
	"serial-bridge/internal/model"
)

func testRegistryConfig() *config.Config {
	return &config.Config{
		Serial: config.SerialConfig{
			DefaultBaudRate:    115200,
			DefaultDataBits:    8,
			DefaultParity:      "N",
			DefaultStopBits:    "1",
			DefaultFlowControl: "none",
			ReconnectInterval:  10 * time.Millisecond,
			MaxBufferSize:      1 << 20,
			StalledTimeout:     30 * time.Second,
			ReadTimeout:        5 * time.Millisecond,
			WriteQueueSize:     16,
		},
		Devices: config.DevicesConfig{
			MaxReconnectAttempts: 2,
		},
	}
}

func fakeEnumerator(ports ...string) PortEnumerator {
	return func() ([]string, error) {
		return ports, nil
	}
}

func fakeRegistryOpener() PortOpener {
	return func(model.ConnectionSettings, time.Duration) (Port, error) {
		return newFakePort(), nil
	}
}

func newTestRegistry(t *testing.T, ports ...string) *Registry {
	t.Helper()
	r := NewRegistry(testRegistryConfig(), fakeRegistryOpener(), fakeEnumerator(ports...), zap.NewNop())
	t.Cleanup(r.CloseAll)
	return r
}

func TestRegistryOpenUnknownPort(t *testing.T) {
	r := newTestRegistry(t, "/dev/ttyUSB0")

	err := r.Open(model.ConnectionSettings{Port: "/dev/ttyUSB9"})
	if !errors.Is(err, ErrPortNotFound) {
		t.Errorf("Open() error = %v, want ErrPortNotFound", err)
	}
}

func TestRegistryOpenInvalidSettings(t *testing.T) {
	r := newTestRegistry(t, "/dev/ttyUSB0")

	err := r.Open(model.ConnectionSettings{Port: "/dev/ttyUSB0", DataBits: 9})
	if !errors.Is(err, ErrInvalidSettings) {
		t.Errorf("Open() error = %v, want ErrInvalidSettings", err)
	}
}

func TestRegistryOpenAppliesDefaults(t *testing.T) {
	r := newTestRegistry(t, "/dev/ttyUSB0")

	if err := r.Open(model.ConnectionSettings{Port: "/dev/ttyUSB0"}); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	conn, ok := r.Get("/dev/ttyUSB0")
	if !ok {
		t.Fatal("Get() did not find opened port")
	}
	settings := conn.Settings()
	if settings.BaudRate != 115200 {
		t.Errorf("BaudRate = %d, want 115200", settings.BaudRate)
	}
	if settings.Parity != model.ParityNone {
		t.Errorf("Parity = %q, want %q", settings.Parity, model.ParityNone)
	}
	if settings.ReconnectInterval != 10*time.Millisecond {
		t.Errorf("ReconnectInterval = %v, want 10ms", settings.ReconnectInterval)
	}
}

func TestRegistryOpenIsIdempotentPerPort(t *testing.T) {
	r := newTestRegistry(t, "/dev/ttyUSB0")

	if err := r.Open(model.ConnectionSettings{Port: "/dev/ttyUSB0"}); err != nil {
		t.Fatalf("first Open() error = %v", err)
	}
	first, _ := r.Get("/dev/ttyUSB0")

	if err := r.Open(model.ConnectionSettings{Port: "/dev/ttyUSB0", BaudRate: 9600}); err != nil {
		t.Fatalf("second Open() error = %v", err)
	}
	second, _ := r.Get("/dev/ttyUSB0")

	if first != second {
		t.Error("second Open replaced the existing connection")
	}
	if second.Settings().BaudRate != 115200 {
		t.Error("second Open changed the existing connection's settings")
	}
}

func TestRegistryOpenNoopWhenEnumerationDropsOpenPort(t *testing.T) {
	ports := []string{"/dev/ttyUSB0"}
	enumerate := func() ([]string, error) { return ports, nil }
	r := NewRegistry(testRegistryConfig(), fakeRegistryOpener(), enumerate, zap.NewNop())
	t.Cleanup(r.CloseAll)

	if err := r.Open(model.ConnectionSettings{Port: "/dev/ttyUSB0"}); err != nil {
		t.Fatalf("first Open() error = %v", err)
	}

	// The host stops listing the port while the connection stays open.
	ports = nil
	if err := r.Open(model.ConnectionSettings{Port: "/dev/ttyUSB0"}); err != nil {
		t.Errorf("Open() on a registered port missing from enumeration = %v, want nil", err)
	}
}

func TestRegistryOpenFailureRemovesEntry(t *testing.T) {
	openErr := errors.New("no such device")
	opener := func(model.ConnectionSettings, time.Duration) (Port, error) {
		return nil, openErr
	}
	r := NewRegistry(testRegistryConfig(), opener, fakeEnumerator("/dev/ttyUSB0"), zap.NewNop())

	if err := r.Open(model.ConnectionSettings{Port: "/dev/ttyUSB0"}); !errors.Is(err, openErr) {
		t.Fatalf("Open() error = %v, want %v", err, openErr)
	}
	if _, ok := r.Get("/dev/ttyUSB0"); ok {
		t.Error("failed open left a registry entry behind")
	}
}

func TestRegistryCloseUnknownPort(t *testing.T) {
	r := newTestRegistry(t)

	if err := r.Close("/dev/ttyUSB0"); !errors.Is(err, ErrPortNotFound) {
		t.Errorf("Close() error = %v, want ErrPortNotFound", err)
	}
}

func TestRegistryCloseRemovesConnection(t *testing.T) {
	r := newTestRegistry(t, "/dev/ttyUSB0")

	if err := r.Open(model.ConnectionSettings{Port: "/dev/ttyUSB0"}); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := r.Close("/dev/ttyUSB0"); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, ok := r.Get("/dev/ttyUSB0"); ok {
		t.Error("connection still registered after Close")
	}
}

func TestRegistrySendUnknownPort(t *testing.T) {
	r := newTestRegistry(t)

	if err := r.Send("/dev/ttyUSB0", []byte("x"), true); !errors.Is(err, ErrPortNotFound) {
		t.Errorf("Send() error = %v, want ErrPortNotFound", err)
	}
}

func TestRegistryBroadcast(t *testing.T) {
	r := newTestRegistry(t, "/dev/ttyUSB0", "/dev/ttyUSB1")

	for _, port := range []string{"/dev/ttyUSB0", "/dev/ttyUSB1"} {
		if err := r.Open(model.ConnectionSettings{Port: port}); err != nil {
			t.Fatalf("Open(%s) error = %v", port, err)
		}
	}

	sent, errs := r.Broadcast([]byte("ping"), true)
	if sent != 2 {
		t.Errorf("Broadcast() sent = %d, want 2", sent)
	}
	if len(errs) != 0 {
		t.Errorf("Broadcast() errs = %v, want empty", errs)
	}
}

func TestRegistryBroadcastSkipsDisconnected(t *testing.T) {
	r := newTestRegistry(t, "/dev/ttyUSB0", "/dev/ttyUSB1")

	for _, port := range []string{"/dev/ttyUSB0", "/dev/ttyUSB1"} {
		if err := r.Open(model.ConnectionSettings{Port: port}); err != nil {
			t.Fatalf("Open(%s) error = %v", port, err)
		}
	}
	conn, _ := r.Get("/dev/ttyUSB1")
	if err := conn.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	sent, errs := r.Broadcast([]byte("ping"), true)
	if sent != 1 {
		t.Errorf("Broadcast() sent = %d, want 1", sent)
	}
	if len(errs) != 0 {
		t.Errorf("Broadcast() errs = %v, want empty", errs)
	}
}

func TestRegistryList(t *testing.T) {
	r := newTestRegistry(t, "/dev/ttyUSB1", "/dev/ttyUSB0")

	for _, port := range []string{"/dev/ttyUSB1", "/dev/ttyUSB0"} {
		if err := r.Open(model.ConnectionSettings{Port: port}); err != nil {
			t.Fatalf("Open(%s) error = %v", port, err)
		}
	}

	infos := r.List()
	if len(infos) != 2 {
		t.Fatalf("List() returned %d entries, want 2", len(infos))
	}
	if infos[0].Settings.Port != "/dev/ttyUSB0" || infos[1].Settings.Port != "/dev/ttyUSB1" {
		t.Errorf("List() not sorted by port: %s, %s", infos[0].Settings.Port, infos[1].Settings.Port)
	}
}

func TestRegistryRestorePartialFailure(t *testing.T) {
	r := newTestRegistry(t, "/dev/ttyUSB0")

	errs := r.Restore([]model.ConnectionSettings{
		{Port: "/dev/ttyUSB0"},
		{Port: "/dev/ttyMISSING"},
	})

	if len(errs) != 1 {
		t.Fatalf("Restore() errs = %v, want one entry", errs)
	}
	if !errors.Is(errs["/dev/ttyMISSING"], ErrPortNotFound) {
		t.Errorf("Restore() error for missing port = %v, want ErrPortNotFound", errs["/dev/ttyMISSING"])
	}
	if _, ok := r.Get("/dev/ttyUSB0"); !ok {
		t.Error("good port not restored alongside the failing one")
	}
}

func TestRegistrySubscribeReceivesEvents(t *testing.T) {
	r := newTestRegistry(t, "/dev/ttyUSB0")

	id, events := r.Subscribe(16)
	defer r.Unsubscribe(id)

	if err := r.Open(model.ConnectionSettings{Port: "/dev/ttyUSB0"}); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	select {
	case ev := <-events:
		if ev.Type != model.EventStatusChanged {
			t.Errorf("event type = %s, want %s", ev.Type, model.EventStatusChanged)
		}
		if !ev.Connected {
			t.Error("event Connected = false, want true")
		}
	case <-time.After(time.Second):
		t.Fatal("no event received after Open")
	}
}

func TestRegistryUnsubscribeClosesChannel(t *testing.T) {
	r := newTestRegistry(t)

	id, events := r.Subscribe(1)
	r.Unsubscribe(id)

	if _, open := <-events; open {
		t.Error("channel still open after Unsubscribe")
	}
}

func TestRegistryAvailablePortsSorted(t *testing.T) {
	r := newTestRegistry(t, "/dev/ttyUSB1", "/dev/ttyACM0", "/dev/ttyUSB0")

	ports, err := r.AvailablePorts()
	if err != nil {
		t.Fatalf("AvailablePorts() error = %v", err)
	}
	want := []string{"/dev/ttyACM0", "/dev/ttyUSB0", "/dev/ttyUSB1"}
	for i, p := range want {
		if ports[i] != p {
			t.Fatalf("AvailablePorts() = %v, want %v", ports, want)
		}
	}
}

// internal/health/tracker.go
package health

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"serial-bridge/internal/config"
	"serial-bridge/internal/model"
)

// disconnectRatioLimit marks a device flaky when it disconnects this many
// times more often than it connects
const disconnectRatioLimit = 1.5

// Snapshot is a read-only view of one device's health at a point in time
type Snapshot struct {
	Port        string                         `json:"port"`
	Attempts    int                            `json:"connection_attempts"`
	Failures    int                            `json:"connection_failures"`
	FailureRate float64                        `json:"failure_rate"`
	Connects    int                            `json:"connects"`
	Disconnects int                            `json:"disconnects"`
	Flaky       bool                           `json:"is_flaky"`
	History     []model.ConnectionHistoryEntry `json:"connection_history"`
}

// recentEvent is one lifecycle event in the recency window. The action is
// kept alongside the timestamp so the disconnect ratio can be computed over
// the window alone.
type recentEvent struct {
	at     time.Time
	action model.HistoryAction
}

// deviceHealth is the tracked state for a single port. The full history is
// capped independently of the short recency window used for the churn and
// disconnect-ratio signals.
type deviceHealth struct {
	attempts    int
	failures    int
	connects    int
	disconnects int
	flaky       bool
	history     []model.ConnectionHistoryEntry
	recent      []recentEvent
}

// Tracker observes connection attempts and lifecycle events per port and
// classifies devices as flaky. Flakiness is sticky: once set it survives
// later successes until ClearFlaky is called explicitly, so a device that
// alternates between working and failing cannot flap in and out of
// auto-connect eligibility.
type Tracker struct {
	cfg    config.DevicesConfig
	logger *zap.Logger

	mu      sync.Mutex
	devices map[string]*deviceHealth

	now func() time.Time
}

// NewTracker creates a tracker with the given thresholds
func NewTracker(cfg config.DevicesConfig, logger *zap.Logger) *Tracker {
	return &Tracker{
		cfg:     cfg,
		logger:  logger,
		devices: make(map[string]*deviceHealth),
		now:     time.Now,
	}
}

// RecordAttempt registers one connection attempt and its outcome
func (t *Tracker) RecordAttempt(port string, success bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	d := t.deviceLocked(port)
	d.attempts++
	if success {
		d.connects++
	} else {
		d.failures++
	}
	t.appendLocked(d, model.ActionConnect, success)
	t.evaluateLocked(port, d)
}

// RecordDisconnect registers a connection loss. Expected closes pass
// success=true; drops and errors pass success=false.
func (t *Tracker) RecordDisconnect(port string, expected bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	d := t.deviceLocked(port)
	d.disconnects++
	t.appendLocked(d, model.ActionDisconnect, expected)
	t.evaluateLocked(port, d)
}

// IsFlaky reports whether the device on port is currently classified flaky
func (t *Tracker) IsFlaky(port string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	d, ok := t.devices[port]
	return ok && d.flaky
}

// ClearFlaky resets the flaky classification for port. The counters and
// history are kept, so the device must prove itself stable again before
// re-tripping the thresholds.
func (t *Tracker) ClearFlaky(port string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	d, ok := t.devices[port]
	if !ok || !d.flaky {
		return
	}
	d.flaky = false
	d.recent = nil
	t.logger.Info("Flaky classification cleared", zap.String("port", port))
}

// Forget drops all tracked state for port
func (t *Tracker) Forget(port string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.devices, port)
}

// Get returns the health snapshot for a single port
func (t *Tracker) Get(port string) (Snapshot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	d, ok := t.devices[port]
	if !ok {
		return Snapshot{}, false
	}
	return t.snapshotLocked(port, d), true
}

// All returns snapshots for every tracked port
func (t *Tracker) All() []Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	snaps := make([]Snapshot, 0, len(t.devices))
	for port, d := range t.devices {
		snaps = append(snaps, t.snapshotLocked(port, d))
	}
	return snaps
}

func (t *Tracker) deviceLocked(port string) *deviceHealth {
	d, ok := t.devices[port]
	if !ok {
		d = &deviceHealth{}
		t.devices[port] = d
	}
	return d
}

// appendLocked records one lifecycle event in both the long history and
// the short recency window, trimming each to its own cap
func (t *Tracker) appendLocked(d *deviceHealth, action model.HistoryAction, success bool) {
	now := t.now()

	d.history = append(d.history, model.ConnectionHistoryEntry{
		Action:    action,
		Timestamp: now,
		Success:   success,
	})
	if max := t.cfg.MaxConnectionHistory; max > 0 && len(d.history) > max {
		d.history = d.history[len(d.history)-max:]
	}

	d.recent = append(d.recent, recentEvent{at: now, action: action})
	if window := t.cfg.ConnectionHistoryWindow; window > 0 && len(d.recent) > window {
		d.recent = d.recent[len(d.recent)-window:]
	}
}

// evaluateLocked applies the three flakiness signals. Any one of them is
// sufficient; none of them ever clears an existing classification.
func (t *Tracker) evaluateLocked(port string, d *deviceHealth) {
	if d.flaky {
		return
	}

	var reason string
	switch {
	case d.attempts >= t.cfg.MinConnectionAttempts &&
		float64(d.failures)/float64(d.attempts) >= t.cfg.FlakyConnectionThreshold:
		reason = "failure rate"
	case t.churningLocked(d):
		reason = "rapid connection churn"
	case t.disconnectHeavyLocked(d):
		reason = "disconnect ratio"
	default:
		return
	}

	d.flaky = true
	t.logger.Warn("Device classified as flaky",
		zap.String("port", port),
		zap.String("reason", reason),
		zap.Int("attempts", d.attempts),
		zap.Int("failures", d.failures),
		zap.Int("connects", d.connects),
		zap.Int("disconnects", d.disconnects),
	)
}

// churningLocked reports whether the recency window is full and the
// average spacing between its events falls below the stability floor
func (t *Tracker) churningLocked(d *deviceHealth) bool {
	window := t.cfg.ConnectionHistoryWindow
	if window < 2 || len(d.recent) < window {
		return false
	}
	span := d.recent[len(d.recent)-1].at.Sub(d.recent[0].at)
	avg := span / time.Duration(len(d.recent)-1)
	return avg < t.cfg.MinStableConnectionTime
}

// disconnectHeavyLocked reports whether disconnects outnumber connects by
// more than the ratio limit within the recency window. Lifetime counters
// stay out of it so a long healthy past cannot mask a recent storm.
func (t *Tracker) disconnectHeavyLocked(d *deviceHealth) bool {
	var connects, disconnects int
	for _, ev := range d.recent {
		switch ev.action {
		case model.ActionConnect:
			connects++
		case model.ActionDisconnect:
			disconnects++
		}
	}
	return connects > 0 && float64(disconnects)/float64(connects) > disconnectRatioLimit
}

func (t *Tracker) snapshotLocked(port string, d *deviceHealth) Snapshot {
	snap := Snapshot{
		Port:        port,
		Attempts:    d.attempts,
		Failures:    d.failures,
		Connects:    d.connects,
		Disconnects: d.disconnects,
		Flaky:       d.flaky,
		History:     append([]model.ConnectionHistoryEntry(nil), d.history...),
	}
	if d.attempts > 0 {
		snap.FailureRate = float64(d.failures) / float64(d.attempts)
	}
	return snap
}

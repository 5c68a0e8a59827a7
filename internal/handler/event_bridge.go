// internal/handler/event_bridge.go
package handler

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"serial-bridge/internal/model"
	"serial-bridge/internal/serial"
)

// EventBridge forwards transport events from the connection registry to
// WebSocket clients. Each client only receives events for the port it
// asked for; slow clients lose events rather than slow the pumps down.
type EventBridge struct {
	registry    *serial.Registry
	connections *ConnectionManager
	logger      *zap.Logger
}

// NewEventBridge creates the bridge between the registry and the WebSocket
// layer
func NewEventBridge(registry *serial.Registry, connections *ConnectionManager, logger *zap.Logger) *EventBridge {
	return &EventBridge{
		registry:    registry,
		connections: connections,
		logger:      logger.With(zap.String("component", "event_bridge")),
	}
}

// Run consumes registry events until ctx is cancelled
func (b *EventBridge) Run(ctx context.Context) {
	subID, events := b.registry.Subscribe(1024)
	defer b.registry.Unsubscribe(subID)

	b.logger.Info("Event bridge started")

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("Event bridge stopped")
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			b.forward(ev)
		}
	}
}

// forward serializes one event and queues it on every interested client
func (b *EventBridge) forward(ev model.Event) {
	message := WebSocketMessage{
		Type:      string(ev.Type),
		Data:      ev,
		Timestamp: ev.Timestamp,
	}

	payload, err := json.Marshal(message)
	if err != nil {
		b.logger.Error("Failed to marshal event", zap.Error(err))
		return
	}

	for _, client := range b.connections.ClientsForPort(ev.Port) {
		select {
		case client.Send <- payload:
		default:
			b.logger.Debug("Client queue full, dropping event",
				zap.String("client_id", client.ID),
				zap.String("event_type", string(ev.Type)),
			)
		}
	}
}

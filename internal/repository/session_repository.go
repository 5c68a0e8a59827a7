// internal/repository/session_repository.go
package repository

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"serial-bridge/internal/database"
	"serial-bridge/internal/model"
)

// sessionRepository implements SessionRepository interface
type sessionRepository struct {
	db     *database.DB
	logger *zap.Logger
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(db *database.DB, logger *zap.Logger) SessionRepository {
	return &sessionRepository{
		db:     db,
		logger: logger,
	}
}

// Save stores the settings of an open connection, replacing any previous
// session on the same port
func (r *sessionRepository) Save(ctx context.Context, settings model.ConnectionSettings) error {
	query := `
		INSERT INTO sessions (
			port, baud_rate, data_bits, parity, stop_bits,
			flow_control, auto_reconnect, reconnect_interval_ms, saved_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, CURRENT_TIMESTAMP)
		ON CONFLICT (port) DO UPDATE SET
			baud_rate = EXCLUDED.baud_rate,
			data_bits = EXCLUDED.data_bits,
			parity = EXCLUDED.parity,
			stop_bits = EXCLUDED.stop_bits,
			flow_control = EXCLUDED.flow_control,
			auto_reconnect = EXCLUDED.auto_reconnect,
			reconnect_interval_ms = EXCLUDED.reconnect_interval_ms,
			saved_at = CURRENT_TIMESTAMP
	`

	_, err := r.db.ExecContext(ctx, query,
		settings.Port, settings.BaudRate, settings.DataBits,
		string(settings.Parity), string(settings.StopBits),
		string(settings.FlowControl), settings.AutoReconnect,
		settings.ReconnectInterval.Milliseconds(),
	)
	if err != nil {
		r.logger.Error("Failed to save session", zap.Error(err), zap.String("port", settings.Port))
		return fmt.Errorf("failed to save session: %w", err)
	}

	r.logger.Debug("Session saved", zap.String("port", settings.Port))
	return nil
}

// Delete removes the persisted session for a port
func (r *sessionRepository) Delete(ctx context.Context, port string) error {
	query := `DELETE FROM sessions WHERE port = $1`

	_, err := r.db.ExecContext(ctx, query, port)
	if err != nil {
		r.logger.Error("Failed to delete session", zap.Error(err), zap.String("port", port))
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// List retrieves every persisted session ordered by port
func (r *sessionRepository) List(ctx context.Context) ([]model.ConnectionSettings, error) {
	query := `
		SELECT port, baud_rate, data_bits, parity, stop_bits,
			   flow_control, auto_reconnect, reconnect_interval_ms
		FROM sessions
		ORDER BY port
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		r.logger.Error("Failed to list sessions", zap.Error(err))
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []model.ConnectionSettings{}
	for rows.Next() {
		var settings model.ConnectionSettings
		var parity, stopBits, flowControl string
		var reconnectMs int64

		err := rows.Scan(
			&settings.Port, &settings.BaudRate, &settings.DataBits,
			&parity, &stopBits, &flowControl,
			&settings.AutoReconnect, &reconnectMs,
		)
		if err != nil {
			r.logger.Error("Failed to scan session row", zap.Error(err))
			continue
		}

		settings.Parity = model.Parity(parity)
		settings.StopBits = model.StopBits(stopBits)
		settings.FlowControl = model.FlowControl(flowControl)
		settings.ReconnectInterval = time.Duration(reconnectMs) * time.Millisecond
		sessions = append(sessions, settings)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate session rows: %w", err)
	}
	return sessions, nil
}

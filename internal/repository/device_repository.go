// internal/repository/device_repository.go
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"serial-bridge/internal/database"
	"serial-bridge/internal/model"
)

// deviceRepository implements DeviceRepository interface
type deviceRepository struct {
	db     *database.DB
	logger *zap.Logger
}

// NewDeviceRepository creates a new device repository
func NewDeviceRepository(db *database.DB, logger *zap.Logger) DeviceRepository {
	return &deviceRepository{
		db:     db,
		logger: logger,
	}
}

// Upsert inserts or refreshes a device record keyed by port
func (r *deviceRepository) Upsert(ctx context.Context, device *model.DeviceRecord) error {
	query := `
		INSERT INTO devices (
			port, name, device_type, hardware_id, vid_pid,
			connection_attempts, connection_failures, is_flaky, last_seen
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (port) DO UPDATE SET
			name = EXCLUDED.name,
			device_type = EXCLUDED.device_type,
			hardware_id = EXCLUDED.hardware_id,
			vid_pid = EXCLUDED.vid_pid,
			last_seen = EXCLUDED.last_seen,
			updated_at = CURRENT_TIMESTAMP
	`

	_, err := r.db.ExecContext(ctx, query,
		device.Port, device.Name, device.DeviceType, device.HardwareID,
		nullString(device.VIDPID), device.ConnectionAttempts,
		device.ConnectionFailures, device.IsFlaky, nullTime(device.LastSeen),
	)
	if err != nil {
		r.logger.Error("Failed to upsert device", zap.Error(err), zap.String("port", device.Port))
		return fmt.Errorf("failed to upsert device: %w", err)
	}

	r.logger.Debug("Device record upserted", zap.String("port", device.Port))
	return nil
}

// GetByPort retrieves a device by its port name
func (r *deviceRepository) GetByPort(ctx context.Context, port string) (*model.DeviceRecord, error) {
	query := `
		SELECT port, name, device_type, hardware_id, vid_pid,
			   connection_attempts, connection_failures, is_flaky, last_seen
		FROM devices WHERE port = $1
	`

	device := &model.DeviceRecord{}
	var vidPid sql.NullString
	var lastSeen sql.NullTime

	err := r.db.QueryRowContext(ctx, query, port).Scan(
		&device.Port, &device.Name, &device.DeviceType, &device.HardwareID,
		&vidPid, &device.ConnectionAttempts, &device.ConnectionFailures,
		&device.IsFlaky, &lastSeen,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("device not found on port: %s", port)
		}
		r.logger.Error("Failed to get device", zap.Error(err), zap.String("port", port))
		return nil, fmt.Errorf("failed to get device: %w", err)
	}

	device.VIDPID = vidPid.String
	if lastSeen.Valid {
		device.LastSeen = lastSeen.Time
	}
	return device, nil
}

// List retrieves all known devices ordered by port
func (r *deviceRepository) List(ctx context.Context) ([]*model.DeviceRecord, error) {
	query := `
		SELECT port, name, device_type, hardware_id, vid_pid,
			   connection_attempts, connection_failures, is_flaky, last_seen
		FROM devices
		ORDER BY port
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		r.logger.Error("Failed to list devices", zap.Error(err))
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	defer rows.Close()

	devices := []*model.DeviceRecord{}
	for rows.Next() {
		device := &model.DeviceRecord{}
		var vidPid sql.NullString
		var lastSeen sql.NullTime

		err := rows.Scan(
			&device.Port, &device.Name, &device.DeviceType, &device.HardwareID,
			&vidPid, &device.ConnectionAttempts, &device.ConnectionFailures,
			&device.IsFlaky, &lastSeen,
		)
		if err != nil {
			r.logger.Error("Failed to scan device row", zap.Error(err))
			continue
		}

		device.VIDPID = vidPid.String
		if lastSeen.Valid {
			device.LastSeen = lastSeen.Time
		}
		devices = append(devices, device)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate device rows: %w", err)
	}
	return devices, nil
}

// UpdateHealth stores the latest reliability counters for a port
func (r *deviceRepository) UpdateHealth(ctx context.Context, port string, attempts, failures int, isFlaky bool) error {
	query := `
		UPDATE devices SET
			connection_attempts = $2, connection_failures = $3,
			is_flaky = $4, updated_at = CURRENT_TIMESTAMP
		WHERE port = $1
	`

	result, err := r.db.ExecContext(ctx, query, port, attempts, failures, isFlaky)
	if err != nil {
		r.logger.Error("Failed to update device health", zap.Error(err), zap.String("port", port))
		return fmt.Errorf("failed to update device health: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("device not found on port: %s", port)
	}
	return nil
}

// TouchLastSeen updates the last time a device was observed in a scan
func (r *deviceRepository) TouchLastSeen(ctx context.Context, port string, seenAt time.Time) error {
	query := `
		UPDATE devices SET last_seen = $2, updated_at = CURRENT_TIMESTAMP
		WHERE port = $1
	`

	_, err := r.db.ExecContext(ctx, query, port, seenAt)
	if err != nil {
		r.logger.Error("Failed to update last seen", zap.Error(err), zap.String("port", port))
		return fmt.Errorf("failed to update last seen: %w", err)
	}
	return nil
}

// Delete removes a device and keeps its history for auditing
func (r *deviceRepository) Delete(ctx context.Context, port string) error {
	query := `DELETE FROM devices WHERE port = $1`

	result, err := r.db.ExecContext(ctx, query, port)
	if err != nil {
		r.logger.Error("Failed to delete device", zap.Error(err), zap.String("port", port))
		return fmt.Errorf("failed to delete device: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("device not found on port: %s", port)
	}

	r.logger.Info("Device deleted", zap.String("port", port))
	return nil
}

// RecordHistory appends one connect/disconnect entry for a port
func (r *deviceRepository) RecordHistory(ctx context.Context, port string, entry model.ConnectionHistoryEntry) error {
	query := `
		INSERT INTO connection_history (port, action, success, occurred_at)
		VALUES ($1, $2, $3, $4)
	`

	_, err := r.db.ExecContext(ctx, query, port, entry.Action, entry.Success, entry.Timestamp)
	if err != nil {
		r.logger.Error("Failed to record connection history", zap.Error(err), zap.String("port", port))
		return fmt.Errorf("failed to record connection history: %w", err)
	}
	return nil
}

// GetHistory retrieves the most recent history entries for a port, newest
// first
func (r *deviceRepository) GetHistory(ctx context.Context, port string, limit int) ([]model.ConnectionHistoryEntry, error) {
	query := `
		SELECT action, success, occurred_at
		FROM connection_history
		WHERE port = $1
		ORDER BY occurred_at DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, port, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get connection history: %w", err)
	}
	defer rows.Close()

	entries := []model.ConnectionHistoryEntry{}
	for rows.Next() {
		var entry model.ConnectionHistoryEntry
		if err := rows.Scan(&entry.Action, &entry.Success, &entry.Timestamp); err != nil {
			r.logger.Error("Failed to scan history row", zap.Error(err))
			continue
		}
		entries = append(entries, entry)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate history rows: %w", err)
	}
	return entries, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

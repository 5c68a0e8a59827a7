// internal/repository/interfaces.go
package repository

import (
	"context"
	"time"

	"serial-bridge/internal/model"
)

// DeviceRepository persists device records and their connection history
type DeviceRepository interface {
	Upsert(ctx context.Context, device *model.DeviceRecord) error
	GetByPort(ctx context.Context, port string) (*model.DeviceRecord, error)
	List(ctx context.Context) ([]*model.DeviceRecord, error)
	UpdateHealth(ctx context.Context, port string, attempts, failures int, isFlaky bool) error
	TouchLastSeen(ctx context.Context, port string, seenAt time.Time) error
	Delete(ctx context.Context, port string) error

	RecordHistory(ctx context.Context, port string, entry model.ConnectionHistoryEntry) error
	GetHistory(ctx context.Context, port string, limit int) ([]model.ConnectionHistoryEntry, error)
}

// SessionRepository persists connection settings across restarts so the
// service can restore its sessions on startup
type SessionRepository interface {
	Save(ctx context.Context, settings model.ConnectionSettings) error
	Delete(ctx context.Context, port string) error
	List(ctx context.Context) ([]model.ConnectionSettings, error)
}

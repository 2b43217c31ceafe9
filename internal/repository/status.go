package repository

import (
	"context"
	"database/sql"
	"fmt"

	"medwatch-ingest/internal/models"

	"go.uber.org/zap"
)

// DeviceStatusRepository 设备状态仓库（心跳/上下线，外部设备状态协作方）
type DeviceStatusRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewDeviceStatusRepository 创建设备状态仓库
func NewDeviceStatusRepository(db *sql.DB, logger *zap.Logger) *DeviceStatusRepository {
	return &DeviceStatusRepository{db: db, logger: logger}
}

// UpsertStatus 按 device_ref 更新设备在线状态与最近心跳指标
func (r *DeviceStatusRepository) UpsertStatus(ctx context.Context, ev *models.DeviceStatusEvent) error {
	query := `
		INSERT INTO device_status (device_ref, device_family, online, battery, signal, steps, last_seen_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (device_ref) DO UPDATE
			SET online = EXCLUDED.online,
			    battery = COALESCE(EXCLUDED.battery, device_status.battery),
			    signal = COALESCE(EXCLUDED.signal, device_status.signal),
			    steps = COALESCE(EXCLUDED.steps, device_status.steps),
			    last_seen_at = EXCLUDED.last_seen_at
	`
	_, err := r.db.ExecContext(ctx, query,
		ev.DeviceRef, string(ev.DeviceFamily), ev.Online,
		nullableInt(ev.Battery), nullableInt(ev.Signal), nullableInt(ev.Steps),
		ev.ReportedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert device status: %w", err)
	}

	r.logger.Debug("Device status updated",
		zap.String("device_ref", ev.DeviceRef),
		zap.Bool("online", ev.Online),
	)
	return nil
}

// UpdateLocation 更新设备最近已知位置（仅 GPS 坐标来源调用）
func (r *DeviceStatusRepository) UpdateLocation(ctx context.Context, deviceRef string, loc *models.GeoLocation) error {
	query := `
		INSERT INTO device_status (device_ref, online, latitude, longitude, location_source, location_at, last_seen_at)
		VALUES ($1, TRUE, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (device_ref) DO UPDATE
			SET latitude = EXCLUDED.latitude,
			    longitude = EXCLUDED.longitude,
			    location_source = EXCLUDED.location_source,
			    location_at = NOW()
	`
	_, err := r.db.ExecContext(ctx, query, deviceRef, loc.Latitude, loc.Longitude, loc.Source)
	if err != nil {
		return fmt.Errorf("failed to update device location: %w", err)
	}
	return nil
}

func nullableInt(v *int) interface{} {
	if v == nil {
		return sql.NullInt64{}
	}
	return *v
}

package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/nickcrisci/PalPalette-2-sub000/internal/protocol"
)

type Repository struct {
	db *gorm.DB
}

func OpenSQLite(path string) (*gorm.DB, error) {
	return gorm.Open(sqlite.Open(path), &gorm.Config{})
}

func New(db *gorm.DB) (*Repository, error) {
	if err := db.AutoMigrate(&DeviceRecord{}); err != nil {
		return nil, err
	}
	return &Repository{db: db}, nil
}

// UpsertStatus folds a deviceStatus event into the projection.
func (r *Repository) UpsertStatus(ctx context.Context, s protocol.DeviceStatus) error {
	rec := DeviceRecord{
		ID:              s.DeviceID,
		IsOnline:        s.IsOnline,
		IsProvisioned:   s.IsProvisioned,
		FirmwareVersion: s.FirmwareVersion,
		IPAddress:       s.IPAddress,
		MACAddress:      s.MACAddress,
		WifiRSSI:        s.WifiRSSI,
		LastSeen:        s.Timestamp.UTC(),
		UpdatedAt:       time.Now().UTC(),
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"is_online", "is_provisioned", "firmware_version", "ip_address",
			"mac_address", "wifi_rssi", "last_seen", "updated_at",
		}),
	}).Create(&rec).Error
}

// UpsertLighting folds a lightingSystemStatus event into the projection.
func (r *Repository) UpsertLighting(ctx context.Context, s protocol.LightingStatus) error {
	rec := DeviceRecord{
		ID:                 s.DeviceID,
		LightingSystemType: string(s.SystemType),
		LightingStatus:     string(s.Status),
		LightingReady:      s.IsReady,
		Capabilities:       []byte(s.Capabilities),
		LastSeen:           s.Timestamp.UTC(),
		UpdatedAt:          time.Now().UTC(),
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"lighting_system_type", "lighting_status", "lighting_ready",
			"capabilities", "last_seen", "updated_at",
		}),
	}).Create(&rec).Error
}

func (r *Repository) List(ctx context.Context) ([]DeviceRecord, error) {
	var devices []DeviceRecord
	if err := r.db.WithContext(ctx).Order("id").Find(&devices).Error; err != nil {
		return nil, err
	}
	return devices, nil
}

func (r *Repository) Get(ctx context.Context, id string) (*DeviceRecord, error) {
	var rec DeviceRecord
	if err := r.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// Evict removes a device from the local cache only. The server copy is
// untouched and the row reappears on the device's next status event.
func (r *Repository) Evict(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Delete(&DeviceRecord{}, "id = ?", id).Error
}

package store

import (
	"time"

	"gorm.io/datatypes"
)

// DeviceRecord is the read-mostly local projection of a server-owned device.
// Rows are created and mutated by status events and evicted on request; the
// server never deletes devices, so neither do we.
type DeviceRecord struct {
	ID                 string `gorm:"primaryKey"`
	Name               string
	Type               string
	IsOnline           bool
	IsProvisioned      bool
	FirmwareVersion    string
	IPAddress          string
	MACAddress         string
	WifiRSSI           int
	LightingSystemType string
	LightingStatus     string
	LightingReady      bool
	Capabilities       datatypes.JSON
	LastSeen           time.Time
	UpdatedAt          time.Time
}

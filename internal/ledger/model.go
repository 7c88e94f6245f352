package ledger

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Event is one metered interval attributed to a (device, network, tick)
// tuple. Rows are append-only except for the uploaded flag; total_bytes is
// always bytes_sent + bytes_received.
type Event struct {
	ID            snowflake.ID `gorm:"primaryKey"`
	DeviceID      string       `gorm:"size:64;not null;index"`
	NetworkName   string       `gorm:"size:255;not null"`
	Timestamp     time.Time    `gorm:"not null;index:idx_usage_events_replay,priority:1"`
	BytesSent     int64        `gorm:"not null"`
	BytesReceived int64        `gorm:"not null"`
	TotalBytes    int64        `gorm:"not null"`
	Uploaded      bool         `gorm:"not null;default:false;index"`
	CreatedAt     time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Event) TableName() string { return "usage_events" }

package domain

import "time"

// ProcessedUpdate records a transport update that has already been handled,
// keyed by the transport's update id. A redelivered update (e.g. after a
// restart of long polling) is recognized and skipped until ExpiresAt.
type ProcessedUpdate struct {
	ID        string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	UpdateID  int64     `gorm:"type:INTEGER NOT NULL;uniqueIndex:ux_update_id"`
	UserID    string    `gorm:"type:TEXT NOT NULL"`
	CreatedAt time.Time `gorm:"type:DATETIME NOT NULL;autoCreateTime"`
	ExpiresAt time.Time `gorm:"type:DATETIME NOT NULL;index"`
}

// TableName implements the GORM tabler interface.
func (ProcessedUpdate) TableName() string { return "processed_updates" }

package identity

import (
	"strings"
	"time"
)

// Attachment captures the mapping between an anonymous visitor and an
// authenticated account. A retroactive attachment signals that touches
// recorded under the visitor id belong to the account as well.
type Attachment struct {
	VisitorID   string    `gorm:"column:visitor_id;primaryKey;size:190;not null"`
	UserID      string    `gorm:"column:user_id;primaryKey;size:190;not null;index"`
	Retroactive bool      `gorm:"column:retroactive;not null;default:false"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing visitor attachments.
func (Attachment) TableName() string {
	return "visitor_attachments"
}

// normalize value helper used across service implementation.
func normalize(value string) string {
	return strings.TrimSpace(value)
}

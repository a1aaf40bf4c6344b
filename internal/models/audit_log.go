package models

import (
	"time"

	"github.com/google/uuid"
)

// AuditLog records a verification event (send or check) and its outcome
type AuditLog struct {
	ID        uuid.UUID `gorm:"type:uuid;primary_key;default:gen_random_uuid()" json:"id"`
	UserID    uuid.UUID `gorm:"type:uuid;index" json:"user_id"`
	User      *User     `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Action    string    `gorm:"type:varchar(100);not null" json:"action"` // e.g., "verify.send", "verify.check"
	Phone     string    `gorm:"type:varchar(20)" json:"phone,omitempty"`
	Mode      string    `gorm:"type:varchar(20)" json:"mode,omitempty"` // "local", "twilio_verify", "test"
	Outcome   string    `gorm:"type:varchar(50);not null" json:"outcome"`
	Details   string    `gorm:"type:text" json:"details,omitempty"` // JSON string with additional info
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName specifies the table name for AuditLog
func (AuditLog) TableName() string {
	return "audit_logs"
}

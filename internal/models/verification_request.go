package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CodeExternal marks a request whose code lifecycle is owned by the
// delegated verification provider rather than stored locally.
const CodeExternal = "external"

// VerificationRequest is one attempt to verify a phone number for a user.
// Phone is always stored in E.164 form (leading +).
type VerificationRequest struct {
	ID        uuid.UUID `gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	UserID    uuid.UUID `gorm:"type:uuid;index;not null"`
	Phone     string    `gorm:"not null;index"`
	Code      string    `gorm:"not null"`
	Attempts  int       `gorm:"not null;default:0"`
	Verified  bool      `gorm:"not null;default:false;index"`
	ExpiresAt time.Time `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (v *VerificationRequest) BeforeCreate(tx *gorm.DB) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	return nil
}

// Expired reports whether the request's window has passed.
func (v *VerificationRequest) Expired(now time.Time) bool {
	return now.After(v.ExpiresAt)
}

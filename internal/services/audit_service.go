package services

import (
	"encoding/json"
	"log"
	"time"

	"github.com/ajar-app/backend/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type AuditService struct {
	db *gorm.DB
}

func NewAuditService(db *gorm.DB) *AuditService {
	return &AuditService{db: db}
}

// Record logs a verification event to the audit log. Audit writes are
// best-effort: a failure is logged but never fails the operation that
// produced the event.
func (s *AuditService) Record(userID uuid.UUID, action, phone, mode, outcome string, details map[string]interface{}) {
	detailsJSON := ""
	if details != nil {
		if jsonBytes, err := json.Marshal(details); err == nil {
			detailsJSON = string(jsonBytes)
		}
	}

	entry := &models.AuditLog{
		UserID:  userID,
		Action:  action,
		Phone:   phone,
		Mode:    mode,
		Outcome: outcome,
		Details: detailsJSON,
	}

	if err := s.db.Create(entry).Error; err != nil {
		log.Printf("WARN: audit write failed for %s: %v", action, err)
	}
}

// GetRecentEvents retrieves recent verification events with pagination
func (s *AuditService) GetRecentEvents(page, limit int, userID *uuid.UUID, action string) ([]*models.AuditLog, int64, error) {
	var logs []*models.AuditLog
	var total int64

	query := s.db.Model(&models.AuditLog{})

	if userID != nil {
		query = query.Where("user_id = ?", *userID)
	}
	if action != "" {
		query = query.Where("action = ?", action)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	if err := query.Order("created_at DESC").Offset(offset).Limit(limit).Find(&logs).Error; err != nil {
		return nil, 0, err
	}

	return logs, total, nil
}

// CleanupOldEvents removes audit rows older than the retention window
func (s *AuditService) CleanupOldEvents(retention time.Duration) (int64, error) {
	result := s.db.Where("created_at < ?", time.Now().Add(-retention)).Delete(&models.AuditLog{})
	return result.RowsAffected, result.Error
}

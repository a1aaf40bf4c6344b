package services

import (
	"context"
	"errors"
	"time"

	"github.com/ajar-app/backend/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// VerificationStore is the durable record of verification attempts.
// FindActive resolves the newest unverified, unexpired request for a
// (user, phone) pair; overlapping requests are allowed and older ones
// simply stop being selected.
type VerificationStore interface {
	Insert(ctx context.Context, req *models.VerificationRequest) error
	FindActive(ctx context.Context, userID uuid.UUID, phone string) (*models.VerificationRequest, error)
	IncrementAttempts(ctx context.Context, id uuid.UUID) (int, error)
	MarkVerified(ctx context.Context, id uuid.UUID) (bool, error)
	DeleteExpired(ctx context.Context, olderThan time.Time) (int64, error)
}

type gormVerificationStore struct {
	db *gorm.DB
}

func NewVerificationStore(db *gorm.DB) VerificationStore {
	return &gormVerificationStore{db: db}
}

func (s *gormVerificationStore) Insert(ctx context.Context, req *models.VerificationRequest) error {
	return s.db.WithContext(ctx).Create(req).Error
}

// FindActive returns nil, nil when no qualifying request exists.
func (s *gormVerificationStore) FindActive(ctx context.Context, userID uuid.UUID, phone string) (*models.VerificationRequest, error) {
	var req models.VerificationRequest
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND phone = ? AND verified = ? AND expires_at > ?", userID, phone, false, time.Now()).
		Order("created_at DESC").
		First(&req).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &req, nil
}

// IncrementAttempts adds one failed attempt under a row lock so that
// concurrent submissions for the same request cannot lose counts.
func (s *gormVerificationStore) IncrementAttempts(ctx context.Context, id uuid.UUID) (int, error) {
	var attempts int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var req models.VerificationRequest
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&req, "id = ?", id).Error; err != nil {
			return err
		}
		req.Attempts++
		attempts = req.Attempts
		return tx.Model(&req).Update("attempts", req.Attempts).Error
	})
	return attempts, err
}

// MarkVerified flips verified to true exactly once. The conditional
// update is the compare-and-swap that keeps the transition one-way:
// the second of two racing submissions sees zero rows affected.
func (s *gormVerificationStore) MarkVerified(ctx context.Context, id uuid.UUID) (bool, error) {
	result := s.db.WithContext(ctx).
		Model(&models.VerificationRequest{}).
		Where("id = ? AND verified = ?", id, false).
		Update("verified", true)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// DeleteExpired removes unverified requests whose window closed before
// olderThan. Verified rows are kept as an audit trail.
func (s *gormVerificationStore) DeleteExpired(ctx context.Context, olderThan time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("verified = ? AND expires_at < ?", false, olderThan).
		Delete(&models.VerificationRequest{})
	return result.RowsAffected, result.Error
}

package services

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/ajar-app/backend/internal/config"
	"github.com/ajar-app/backend/internal/models"
	"github.com/ajar-app/backend/pkg/validation"
	"github.com/google/uuid"
)

// ProfileStore is the external profile surface the core reconciles
// into: flip phone_verified and pin the canonical number on success.
type ProfileStore interface {
	MarkPhoneVerified(ctx context.Context, userID uuid.UUID, phone string) error
}

// RequestCodeResult is the caller-visible outcome of RequestCode. The
// issued code itself never appears here; it travels only over SMS.
type RequestCodeResult struct {
	MessageID   string
	IsTestPhone bool
}

// VerificationService orchestrates code issuance and validation:
// test-number short-circuit, local or delegated delivery, expiry and
// attempt accounting, and the one-shot profile update.
type VerificationService struct {
	store       VerificationStore
	profiles    ProfileStore
	provider    CodeProvider
	registry    *TestNumberRegistry
	audit       *AuditService
	codeTTL     time.Duration
	maxAttempts int
}

func NewVerificationService(cfg *config.Config, store VerificationStore, profiles ProfileStore, provider CodeProvider, registry *TestNumberRegistry, audit *AuditService) *VerificationService {
	return &VerificationService{
		store:       store,
		profiles:    profiles,
		provider:    provider,
		registry:    registry,
		audit:       audit,
		codeTTL:     cfg.VerifyCodeTTL,
		maxAttempts: cfg.VerifyMaxAttempts,
	}
}

// RequestCode issues a verification code for the given phone number.
// Test numbers return immediately with no delivery and no store write.
// In local mode nothing is persisted unless the gateway send succeeded.
func (s *VerificationService) RequestCode(ctx context.Context, userID uuid.UUID, rawPhone string) (*RequestCodeResult, error) {
	phone := validation.CanonicalPhone(rawPhone)
	if phone == "" {
		return nil, ErrInvalidPhone
	}
	if userID == uuid.Nil {
		return nil, ErrMissingIdentity
	}

	if _, ok := s.registry.Lookup(strings.TrimPrefix(phone, "+")); ok {
		log.Printf("Test phone number detected: %s", phone)
		s.recordAudit(userID, "verify.send", phone, "test", "sent")
		return &RequestCodeResult{IsTestPhone: true}, nil
	}

	start, err := s.provider.Start(ctx, phone)
	if err != nil {
		return nil, fmt.Errorf("start verification: %w", err)
	}

	code := start.Code
	if s.provider.Managed() {
		code = models.CodeExternal
	}

	req := &models.VerificationRequest{
		UserID:    userID,
		Phone:     phone,
		Code:      code,
		Attempts:  0,
		Verified:  false,
		ExpiresAt: time.Now().Add(s.codeTTL),
	}
	if err := s.store.Insert(ctx, req); err != nil {
		return nil, fmt.Errorf("store verification request: %w", err)
	}

	s.recordAudit(userID, "verify.send", phone, s.provider.Mode(), "sent")
	return &RequestCodeResult{MessageID: start.MessageID}, nil
}

// SubmitCode validates a submitted code. A nil return means verified;
// the profile has been updated exactly once. ErrCodeMismatch and
// ErrNotFoundOrExpired are the caller-correctable failures.
func (s *VerificationService) SubmitCode(ctx context.Context, userID uuid.UUID, rawPhone, code string) error {
	phone := validation.CanonicalPhone(rawPhone)
	if phone == "" {
		return ErrInvalidPhone
	}
	if !validation.ValidateCode(code) {
		return ErrInvalidCode
	}
	if userID == uuid.Nil {
		return ErrMissingIdentity
	}

	if expected, ok := s.registry.Lookup(strings.TrimPrefix(phone, "+")); ok {
		return s.submitTestCode(ctx, userID, phone, code, expected)
	}

	if s.provider.Managed() {
		return s.submitDelegated(ctx, userID, phone, code)
	}

	return s.submitLocal(ctx, userID, phone, code)
}

// submitTestCode accepts the per-number configured code without
// touching the store or the provider.
func (s *VerificationService) submitTestCode(ctx context.Context, userID uuid.UUID, phone, code, expected string) error {
	if code != expected {
		s.recordAudit(userID, "verify.check", phone, "test", "mismatch")
		return ErrCodeMismatch
	}
	if err := s.profiles.MarkPhoneVerified(ctx, userID, phone); err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	s.recordAudit(userID, "verify.check", phone, "test", "verified")
	return nil
}

func (s *VerificationService) submitDelegated(ctx context.Context, userID uuid.UUID, phone, code string) error {
	approved, err := s.provider.Check(ctx, phone, code)
	if err != nil {
		return fmt.Errorf("check verification: %w", err)
	}
	if !approved {
		s.recordAudit(userID, "verify.check", phone, s.provider.Mode(), "rejected")
		return ErrCodeMismatch
	}

	// Resolve the local sentinel row too, so the audit trail agrees
	// with the provider. Losing this race is fine; the provider has
	// already accepted the code at most once.
	if req, err := s.store.FindActive(ctx, userID, phone); err == nil && req != nil {
		if _, err := s.store.MarkVerified(ctx, req.ID); err != nil {
			log.Printf("WARN: could not mark delegated request %s verified: %v", req.ID, err)
		}
	}

	if err := s.profiles.MarkPhoneVerified(ctx, userID, phone); err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	s.recordAudit(userID, "verify.check", phone, s.provider.Mode(), "verified")
	return nil
}

func (s *VerificationService) submitLocal(ctx context.Context, userID uuid.UUID, phone, code string) error {
	req, err := s.store.FindActive(ctx, userID, phone)
	if err != nil {
		return fmt.Errorf("find verification request: %w", err)
	}
	if req == nil || req.Expired(time.Now()) {
		s.recordAudit(userID, "verify.check", phone, s.provider.Mode(), "not_found_or_expired")
		return ErrNotFoundOrExpired
	}
	if s.maxAttempts > 0 && req.Attempts >= s.maxAttempts {
		s.recordAudit(userID, "verify.check", phone, s.provider.Mode(), "attempts_exceeded")
		return ErrNotFoundOrExpired
	}

	if req.Code != code {
		if _, err := s.store.IncrementAttempts(ctx, req.ID); err != nil {
			return fmt.Errorf("increment attempts: %w", err)
		}
		s.recordAudit(userID, "verify.check", phone, s.provider.Mode(), "mismatch")
		return ErrCodeMismatch
	}

	flipped, err := s.store.MarkVerified(ctx, req.ID)
	if err != nil {
		return fmt.Errorf("mark verified: %w", err)
	}
	if !flipped {
		// A concurrent submission won; this one resolves like a replay.
		s.recordAudit(userID, "verify.check", phone, s.provider.Mode(), "not_found_or_expired")
		return ErrNotFoundOrExpired
	}

	if err := s.profiles.MarkPhoneVerified(ctx, userID, phone); err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	s.recordAudit(userID, "verify.check", phone, s.provider.Mode(), "verified")
	return nil
}

// CleanupExpired removes unverified requests that expired more than a
// day ago. Expiry itself is enforced at read time; this is retention.
func (s *VerificationService) CleanupExpired(ctx context.Context) (int64, error) {
	return s.store.DeleteExpired(ctx, time.Now().Add(-24*time.Hour))
}

func (s *VerificationService) recordAudit(userID uuid.UUID, action, phone, mode, outcome string) {
	if s.audit == nil {
		return
	}
	s.audit.Record(userID, action, phone, mode, outcome, nil)
}

package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ajar-app/backend/internal/config"
	"github.com/ajar-app/backend/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// --- mocks ---

type mockVerificationStore struct{ mock.Mock }

func (m *mockVerificationStore) Insert(ctx context.Context, req *models.VerificationRequest) error {
	return m.Called(ctx, req).Error(0)
}
func (m *mockVerificationStore) FindActive(ctx context.Context, userID uuid.UUID, phone string) (*models.VerificationRequest, error) {
	args := m.Called(ctx, userID, phone)
	if v, _ := args.Get(0).(*models.VerificationRequest); v != nil {
		return v, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockVerificationStore) IncrementAttempts(ctx context.Context, id uuid.UUID) (int, error) {
	args := m.Called(ctx, id)
	return args.Int(0), args.Error(1)
}
func (m *mockVerificationStore) MarkVerified(ctx context.Context, id uuid.UUID) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}
func (m *mockVerificationStore) DeleteExpired(ctx context.Context, olderThan time.Time) (int64, error) {
	args := m.Called(ctx, olderThan)
	return int64(args.Int(0)), args.Error(1)
}

type mockProfileStore struct{ mock.Mock }

func (m *mockProfileStore) MarkPhoneVerified(ctx context.Context, userID uuid.UUID, phone string) error {
	return m.Called(ctx, userID, phone).Error(0)
}

type mockCodeProvider struct {
	mock.Mock
	managed bool
}

func (m *mockCodeProvider) Mode() string {
	if m.managed {
		return "twilio_verify"
	}
	return "local"
}
func (m *mockCodeProvider) Managed() bool { return m.managed }
func (m *mockCodeProvider) Start(ctx context.Context, phone string) (*StartResult, error) {
	args := m.Called(ctx, phone)
	if r, _ := args.Get(0).(*StartResult); r != nil {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockCodeProvider) Check(ctx context.Context, phone, code string) (bool, error) {
	args := m.Called(ctx, phone, code)
	return args.Bool(0), args.Error(1)
}

// --- builder ---

func newVerificationService(store *mockVerificationStore, profiles *mockProfileStore, provider *mockCodeProvider, testNumbers string, maxAttempts int) *VerificationService {
	cfg := &config.Config{
		VerifyCodeTTL:     10 * time.Minute,
		VerifyMaxAttempts: maxAttempts,
	}
	return NewVerificationService(cfg, store, profiles, provider, NewTestNumberRegistry(testNumbers), nil)
}

var (
	testUser  = uuid.MustParse("8f14e45f-ceea-467f-a8d9-6f0a3c1e5b21")
	testPhone = "+966501234567"
)

// --- RequestCode ---

func TestRequestCode_InvalidPhone(t *testing.T) {
	svc := newVerificationService(&mockVerificationStore{}, &mockProfileStore{}, &mockCodeProvider{}, "", 0)

	for _, phone := range []string{"", "abc", "+", "+0123", "+12345678901234567890"} {
		_, err := svc.RequestCode(context.Background(), testUser, phone)
		assert.ErrorIs(t, err, ErrInvalidPhone, "phone %q", phone)
	}
}

func TestRequestCode_MissingIdentity(t *testing.T) {
	svc := newVerificationService(&mockVerificationStore{}, &mockProfileStore{}, &mockCodeProvider{}, "", 0)

	_, err := svc.RequestCode(context.Background(), uuid.Nil, testPhone)
	assert.ErrorIs(t, err, ErrMissingIdentity)
}

func TestRequestCode_LocalHappyPath(t *testing.T) {
	store := &mockVerificationStore{}
	provider := &mockCodeProvider{}
	provider.On("Start", mock.Anything, testPhone).Return(&StartResult{MessageID: "SM123", Code: "482913"}, nil)

	var inserted *models.VerificationRequest
	store.On("Insert", mock.Anything, mock.AnythingOfType("*models.VerificationRequest")).
		Run(func(args mock.Arguments) {
			inserted = args.Get(1).(*models.VerificationRequest)
		}).Return(nil)

	svc := newVerificationService(store, &mockProfileStore{}, provider, "", 0)

	before := time.Now()
	result, err := svc.RequestCode(context.Background(), testUser, testPhone)
	require.NoError(t, err)

	assert.Equal(t, "SM123", result.MessageID)
	assert.False(t, result.IsTestPhone)

	require.NotNil(t, inserted)
	assert.Equal(t, testUser, inserted.UserID)
	assert.Equal(t, testPhone, inserted.Phone)
	assert.Equal(t, "482913", inserted.Code)
	assert.Equal(t, 0, inserted.Attempts)
	assert.False(t, inserted.Verified)
	assert.WithinDuration(t, before.Add(10*time.Minute), inserted.ExpiresAt, 2*time.Second)
}

func TestRequestCode_CanonicalizesBarePhone(t *testing.T) {
	store := &mockVerificationStore{}
	provider := &mockCodeProvider{}
	// The gateway and the store both see the +-prefixed form
	provider.On("Start", mock.Anything, testPhone).Return(&StartResult{Code: "111111"}, nil)
	store.On("Insert", mock.Anything, mock.MatchedBy(func(r *models.VerificationRequest) bool {
		return r.Phone == testPhone
	})).Return(nil)

	svc := newVerificationService(store, &mockProfileStore{}, provider, "", 0)

	_, err := svc.RequestCode(context.Background(), testUser, "966501234567")
	require.NoError(t, err)

	provider.AssertExpectations(t)
	store.AssertExpectations(t)
}

func TestRequestCode_DeliveryFailureSkipsPersistence(t *testing.T) {
	store := &mockVerificationStore{}
	provider := &mockCodeProvider{}
	provider.On("Start", mock.Anything, testPhone).Return(nil, errors.New("gateway timeout"))

	svc := newVerificationService(store, &mockProfileStore{}, provider, "", 0)

	_, err := svc.RequestCode(context.Background(), testUser, testPhone)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidPhone)
	store.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
}

func TestRequestCode_PersistenceFailure(t *testing.T) {
	store := &mockVerificationStore{}
	provider := &mockCodeProvider{}
	provider.On("Start", mock.Anything, testPhone).Return(&StartResult{Code: "222222"}, nil)
	store.On("Insert", mock.Anything, mock.Anything).Return(errors.New("db down"))

	svc := newVerificationService(store, &mockProfileStore{}, provider, "", 0)

	_, err := svc.RequestCode(context.Background(), testUser, testPhone)
	require.Error(t, err)
}

func TestRequestCode_TestNumberBypassesDeliveryAndStore(t *testing.T) {
	store := &mockVerificationStore{}
	provider := &mockCodeProvider{}

	svc := newVerificationService(store, &mockProfileStore{}, provider, "967779777358=123456", 0)

	result, err := svc.RequestCode(context.Background(), testUser, "967779777358")
	require.NoError(t, err)
	assert.True(t, result.IsTestPhone)
	assert.Empty(t, result.MessageID)

	provider.AssertNotCalled(t, "Start", mock.Anything, mock.Anything)
	store.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
}

func TestRequestCode_DelegatedStoresSentinelCode(t *testing.T) {
	store := &mockVerificationStore{}
	provider := &mockCodeProvider{managed: true}
	provider.On("Start", mock.Anything, testPhone).Return(&StartResult{MessageID: "VE987"}, nil)
	store.On("Insert", mock.Anything, mock.MatchedBy(func(r *models.VerificationRequest) bool {
		return r.Code == models.CodeExternal
	})).Return(nil)

	svc := newVerificationService(store, &mockProfileStore{}, provider, "", 0)

	result, err := svc.RequestCode(context.Background(), testUser, testPhone)
	require.NoError(t, err)
	assert.Equal(t, "VE987", result.MessageID)
	store.AssertExpectations(t)
}

// --- SubmitCode ---

func activeRequest(code string) *models.VerificationRequest {
	return &models.VerificationRequest{
		ID:        uuid.New(),
		UserID:    testUser,
		Phone:     testPhone,
		Code:      code,
		Attempts:  0,
		Verified:  false,
		ExpiresAt: time.Now().Add(5 * time.Minute),
		CreatedAt: time.Now(),
	}
}

func TestSubmitCode_MalformedCodeRejectedBeforeLookup(t *testing.T) {
	store := &mockVerificationStore{}
	svc := newVerificationService(store, &mockProfileStore{}, &mockCodeProvider{}, "", 0)

	for _, code := range []string{"", "12345", "1234567", "12345a", "abc"} {
		err := svc.SubmitCode(context.Background(), testUser, testPhone, code)
		assert.ErrorIs(t, err, ErrInvalidCode, "code %q", code)
	}
	store.AssertNotCalled(t, "FindActive", mock.Anything, mock.Anything, mock.Anything)
}

func TestSubmitCode_NoActiveRequest(t *testing.T) {
	store := &mockVerificationStore{}
	store.On("FindActive", mock.Anything, testUser, testPhone).Return(nil, nil)

	svc := newVerificationService(store, &mockProfileStore{}, &mockCodeProvider{}, "", 0)

	err := svc.SubmitCode(context.Background(), testUser, testPhone, "123456")
	assert.ErrorIs(t, err, ErrNotFoundOrExpired)
}

func TestSubmitCode_RowExpiredBetweenFetchAndCheck(t *testing.T) {
	req := activeRequest("482913")
	req.ExpiresAt = time.Now().Add(-time.Second)
	store := &mockVerificationStore{}
	store.On("FindActive", mock.Anything, testUser, testPhone).Return(req, nil)

	svc := newVerificationService(store, &mockProfileStore{}, &mockCodeProvider{}, "", 0)

	err := svc.SubmitCode(context.Background(), testUser, testPhone, "482913")
	assert.ErrorIs(t, err, ErrNotFoundOrExpired)
	store.AssertNotCalled(t, "MarkVerified", mock.Anything, mock.Anything)
}

func TestSubmitCode_MismatchIncrementsAttempts(t *testing.T) {
	req := activeRequest("482913")
	store := &mockVerificationStore{}
	profiles := &mockProfileStore{}
	store.On("FindActive", mock.Anything, testUser, testPhone).Return(req, nil)
	store.On("IncrementAttempts", mock.Anything, req.ID).Return(1, nil)

	svc := newVerificationService(store, profiles, &mockCodeProvider{}, "", 0)

	err := svc.SubmitCode(context.Background(), testUser, testPhone, "000000")
	assert.ErrorIs(t, err, ErrCodeMismatch)

	store.AssertCalled(t, "IncrementAttempts", mock.Anything, req.ID)
	store.AssertNotCalled(t, "MarkVerified", mock.Anything, mock.Anything)
	profiles.AssertNotCalled(t, "MarkPhoneVerified", mock.Anything, mock.Anything, mock.Anything)
}

func TestSubmitCode_MatchVerifiesAndUpdatesProfile(t *testing.T) {
	req := activeRequest("482913")
	store := &mockVerificationStore{}
	profiles := &mockProfileStore{}
	store.On("FindActive", mock.Anything, testUser, testPhone).Return(req, nil)
	store.On("MarkVerified", mock.Anything, req.ID).Return(true, nil)
	profiles.On("MarkPhoneVerified", mock.Anything, testUser, testPhone).Return(nil)

	svc := newVerificationService(store, profiles, &mockCodeProvider{}, "", 0)

	err := svc.SubmitCode(context.Background(), testUser, testPhone, "482913")
	require.NoError(t, err)

	store.AssertNotCalled(t, "IncrementAttempts", mock.Anything, mock.Anything)
	profiles.AssertExpectations(t)
}

func TestSubmitCode_BarePhoneResolvesSameRecord(t *testing.T) {
	req := activeRequest("482913")
	store := &mockVerificationStore{}
	profiles := &mockProfileStore{}
	// FindActive is keyed by the canonical +-prefixed phone
	store.On("FindActive", mock.Anything, testUser, testPhone).Return(req, nil)
	store.On("MarkVerified", mock.Anything, req.ID).Return(true, nil)
	profiles.On("MarkPhoneVerified", mock.Anything, testUser, testPhone).Return(nil)

	svc := newVerificationService(store, profiles, &mockCodeProvider{}, "", 0)

	err := svc.SubmitCode(context.Background(), testUser, "966501234567", "482913")
	require.NoError(t, err)
	store.AssertExpectations(t)
}

func TestSubmitCode_LostVerifyRaceResolvesLikeReplay(t *testing.T) {
	req := activeRequest("482913")
	store := &mockVerificationStore{}
	profiles := &mockProfileStore{}
	store.On("FindActive", mock.Anything, testUser, testPhone).Return(req, nil)
	store.On("MarkVerified", mock.Anything, req.ID).Return(false, nil)

	svc := newVerificationService(store, profiles, &mockCodeProvider{}, "", 0)

	err := svc.SubmitCode(context.Background(), testUser, testPhone, "482913")
	assert.ErrorIs(t, err, ErrNotFoundOrExpired)
	profiles.AssertNotCalled(t, "MarkPhoneVerified", mock.Anything, mock.Anything, mock.Anything)
}

func TestSubmitCode_AttemptCutoffWhenConfigured(t *testing.T) {
	req := activeRequest("482913")
	req.Attempts = 5
	store := &mockVerificationStore{}
	store.On("FindActive", mock.Anything, testUser, testPhone).Return(req, nil)

	svc := newVerificationService(store, &mockProfileStore{}, &mockCodeProvider{}, "", 5)

	// Even the correct code no longer qualifies past the cutoff
	err := svc.SubmitCode(context.Background(), testUser, testPhone, "482913")
	assert.ErrorIs(t, err, ErrNotFoundOrExpired)
	store.AssertNotCalled(t, "MarkVerified", mock.Anything, mock.Anything)
}

func TestSubmitCode_NoCutoffByDefault(t *testing.T) {
	req := activeRequest("482913")
	req.Attempts = 17
	store := &mockVerificationStore{}
	profiles := &mockProfileStore{}
	store.On("FindActive", mock.Anything, testUser, testPhone).Return(req, nil)
	store.On("MarkVerified", mock.Anything, req.ID).Return(true, nil)
	profiles.On("MarkPhoneVerified", mock.Anything, testUser, testPhone).Return(nil)

	svc := newVerificationService(store, profiles, &mockCodeProvider{}, "", 0)

	err := svc.SubmitCode(context.Background(), testUser, testPhone, "482913")
	assert.NoError(t, err)
}

func TestSubmitCode_TestNumberWithConfiguredCode(t *testing.T) {
	store := &mockVerificationStore{}
	profiles := &mockProfileStore{}
	profiles.On("MarkPhoneVerified", mock.Anything, testUser, "+967779777358").Return(nil)

	svc := newVerificationService(store, profiles, &mockCodeProvider{}, "967779777358=123456", 0)

	err := svc.SubmitCode(context.Background(), testUser, "967779777358", "123456")
	require.NoError(t, err)

	store.AssertNotCalled(t, "FindActive", mock.Anything, mock.Anything, mock.Anything)
	profiles.AssertExpectations(t)
}

func TestSubmitCode_TestNumberWrongCode(t *testing.T) {
	profiles := &mockProfileStore{}
	svc := newVerificationService(&mockVerificationStore{}, profiles, &mockCodeProvider{}, "967779777358=123456", 0)

	err := svc.SubmitCode(context.Background(), testUser, "+967779777358", "654321")
	assert.ErrorIs(t, err, ErrCodeMismatch)
	profiles.AssertNotCalled(t, "MarkPhoneVerified", mock.Anything, mock.Anything, mock.Anything)
}

// --- delegated mode ---

func TestSubmitCode_DelegatedApproved(t *testing.T) {
	store := &mockVerificationStore{}
	profiles := &mockProfileStore{}
	provider := &mockCodeProvider{managed: true}
	provider.On("Check", mock.Anything, testPhone, "482913").Return(true, nil)
	sentinel := activeRequest(models.CodeExternal)
	store.On("FindActive", mock.Anything, testUser, testPhone).Return(sentinel, nil)
	store.On("MarkVerified", mock.Anything, sentinel.ID).Return(true, nil)
	profiles.On("MarkPhoneVerified", mock.Anything, testUser, testPhone).Return(nil)

	svc := newVerificationService(store, profiles, provider, "", 0)

	err := svc.SubmitCode(context.Background(), testUser, testPhone, "482913")
	require.NoError(t, err)
	profiles.AssertExpectations(t)
}

func TestSubmitCode_DelegatedRejected(t *testing.T) {
	profiles := &mockProfileStore{}
	provider := &mockCodeProvider{managed: true}
	provider.On("Check", mock.Anything, testPhone, "000000").Return(false, nil)

	svc := newVerificationService(&mockVerificationStore{}, profiles, provider, "", 0)

	err := svc.SubmitCode(context.Background(), testUser, testPhone, "000000")
	assert.ErrorIs(t, err, ErrCodeMismatch)
	profiles.AssertNotCalled(t, "MarkPhoneVerified", mock.Anything, mock.Anything, mock.Anything)
}

func TestSubmitCode_DelegatedTransportFailure(t *testing.T) {
	provider := &mockCodeProvider{managed: true}
	provider.On("Check", mock.Anything, testPhone, "482913").Return(false, errors.New("connection refused"))

	svc := newVerificationService(&mockVerificationStore{}, &mockProfileStore{}, provider, "", 0)

	err := svc.SubmitCode(context.Background(), testUser, testPhone, "482913")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCodeMismatch)
	assert.NotErrorIs(t, err, ErrNotFoundOrExpired)
}

func TestSubmitCode_DelegatedTestNumberSkipsProvider(t *testing.T) {
	profiles := &mockProfileStore{}
	provider := &mockCodeProvider{managed: true}
	profiles.On("MarkPhoneVerified", mock.Anything, testUser, "+967779777358").Return(nil)

	svc := newVerificationService(&mockVerificationStore{}, profiles, provider, "967779777358=123456", 0)

	err := svc.SubmitCode(context.Background(), testUser, "967779777358", "123456")
	require.NoError(t, err)
	provider.AssertNotCalled(t, "Check", mock.Anything, mock.Anything, mock.Anything)
}

// --- cleanup ---

func TestCleanupExpired(t *testing.T) {
	store := &mockVerificationStore{}
	store.On("DeleteExpired", mock.Anything, mock.AnythingOfType("time.Time")).Return(3, nil)

	svc := newVerificationService(store, &mockProfileStore{}, &mockCodeProvider{}, "", 0)

	deleted, err := svc.CleanupExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)
}

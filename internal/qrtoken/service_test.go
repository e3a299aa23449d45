package qrtoken

import (
	"context"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ms-canteen/internal/config"
	"ms-canteen/internal/logger"
	"ms-canteen/internal/models"
)

type MockWallet struct {
	mock.Mock
}

func (m *MockWallet) Debit(ctx context.Context, userID string, amount int64, actorID, orderID string) (*models.LedgerEntry, error) {
	args := m.Called(userID, amount, actorID, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.LedgerEntry), args.Error(1)
}

func (m *MockWallet) DebitWithSession(ctx context.Context, userID string, amount int64, adminID, orderID, sessionID string) (*models.LedgerEntry, error) {
	args := m.Called(userID, amount, adminID, orderID, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.LedgerEntry), args.Error(1)
}

func testTokenConfig() config.TokenConfig {
	return config.TokenConfig{
		StrictTTL:         5 * time.Minute,
		LegacyStrictTTL:   15 * time.Minute,
		IdentificationTTL: 24 * time.Hour,
		SessionTTL:        30 * time.Minute,
	}
}

func newTestTokenService(wallet WalletDebiter) *Service {
	return NewService(testTokenConfig(), wallet, logger.NewLogger())
}

func TestIssueValidateRoundTrip(t *testing.T) {
	svc := newTestTokenService(nil)

	token := svc.Issue("stu-1", "Priya")

	claims, err := svc.Validate(token, ModeStrict)
	require.NoError(t, err)
	assert.Equal(t, "stu-1", claims.UserID)
	assert.NotEmpty(t, claims.SessionID)
}

func TestValidateWindows(t *testing.T) {
	svc := newTestTokenService(nil)

	// Six minutes old: past the strict window, inside identification.
	stale := encode("stu-1", "Priya", time.Now().Add(-6*time.Minute))

	_, err := svc.Validate(stale, ModeStrict)
	assert.ErrorIs(t, err, ErrTokenExpired)

	claims, err := svc.Validate(stale, ModeIdentification)
	require.NoError(t, err)
	assert.Equal(t, "stu-1", claims.UserID)

	// A day and a bit old fails even identification.
	ancient := encode("stu-1", "Priya", time.Now().Add(-25*time.Hour))
	_, err = svc.Validate(ancient, ModeIdentification)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestValidateLegacyGetsRelaxedStrictWindow(t *testing.T) {
	svc := newTestTokenService(nil)

	buildLegacy := func(age time.Duration) string {
		millisStr := strconv.FormatInt(time.Now().Add(-age).UnixMilli(), 10)
		sum := checksum(tokenPrefix, "stu-2", "Arun", millisStr)
		return strings.Join([]string{tokenPrefix, "stu-2", "Arun", millisStr, sum}, tokenDelimiter)
	}

	// Ten minutes old: dead for a current token, alive for legacy.
	claims, err := svc.Validate(buildLegacy(10*time.Minute), ModeStrict)
	require.NoError(t, err)
	assert.True(t, claims.Legacy())

	_, err = svc.Validate(buildLegacy(16*time.Minute), ModeStrict)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestConsumeForPaymentUsesSessionForCurrentTokens(t *testing.T) {
	wallet := new(MockWallet)
	svc := newTestTokenService(wallet)

	claims := Claims{UserID: "stu-1", SessionID: "sess-1", IssuedAt: time.Now()}
	wallet.On("DebitWithSession", "stu-1", int64(30000), "staff-1", "ord-1", "sess-1").
		Return(&models.LedgerEntry{ID: "entry-1"}, nil)

	entry, err := svc.ConsumeForPayment(context.Background(), claims, "staff-1", 30000, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, "entry-1", entry.ID)
	wallet.AssertExpectations(t)
}

func TestConsumeForPaymentLegacySkipsReplayCheck(t *testing.T) {
	wallet := new(MockWallet)
	svc := newTestTokenService(wallet)

	claims := Claims{UserID: "stu-2", IssuedAt: time.Now()}
	wallet.On("Debit", "stu-2", int64(15000), "staff-1", "ord-2").
		Return(&models.LedgerEntry{ID: "entry-2"}, nil)

	_, err := svc.ConsumeForPayment(context.Background(), claims, "staff-1", 15000, "ord-2")
	require.NoError(t, err)
	wallet.AssertExpectations(t)
	wallet.AssertNotCalled(t, "DebitWithSession")
}

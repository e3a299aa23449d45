package qrtoken

import (
	"context"
	"fmt"
	"time"

	"github.com/skip2/go-qrcode"

	"ms-canteen/internal/config"
	"ms-canteen/internal/logger"
	"ms-canteen/internal/models"
)

// WalletDebiter is the slice of the wallet ledger the token service needs
// to settle a scanned payment.
type WalletDebiter interface {
	Debit(ctx context.Context, userID string, amount int64, actorID, orderID string) (*models.LedgerEntry, error)
	DebitWithSession(ctx context.Context, userID string, amount int64, adminID, orderID, sessionID string) (*models.LedgerEntry, error)
}

// Service mints and validates short-lived payment-identification tokens and
// enforces single use for payment-grade consumptions.
type Service struct {
	cfg    config.TokenConfig
	wallet WalletDebiter
	log    *logger.Logger
}

func NewService(cfg config.TokenConfig, wallet WalletDebiter, log *logger.Logger) *Service {
	return &Service{cfg: cfg, wallet: wallet, log: log}
}

// Issue mints a self-describing token for the user. Nothing is persisted;
// the replay registry only learns about a session when it is consumed.
func (s *Service) Issue(userID, userName string) string {
	return encode(userID, userName, time.Now())
}

// IssueQR renders a freshly issued token as a QR PNG for display.
func (s *Service) IssueQR(userID, userName string) ([]byte, error) {
	token := s.Issue(userID, userName)
	png, err := qrcode.Encode(token, qrcode.Medium, 256)
	if err != nil {
		return nil, fmt.Errorf("failed to render QR: %w", err)
	}
	return png, nil
}

// Validate decodes the token and checks its expiry window for the given
// mode: strict (payment) is 5 minutes for current tokens and 15 for legacy
// ones; identification is 24 hours for both.
func (s *Service) Validate(token string, mode Mode) (Claims, error) {
	decoded, err := Decode(token)
	if err != nil {
		return Claims{}, err
	}
	claims := decoded.Claims()

	window := s.cfg.IdentificationTTL
	if mode == ModeStrict {
		if claims.Legacy() {
			window = s.cfg.LegacyStrictTTL
		} else {
			window = s.cfg.StrictTTL
		}
	}

	if time.Since(claims.IssuedAt) > window {
		return Claims{}, ErrTokenExpired
	}
	return claims, nil
}

// ConsumeForPayment settles a scanned token against the bearer's wallet.
// For current tokens the used-session record is written inside the debit
// transaction, so two counters scanning the same QR resolve to exactly one
// debit; the loser sees the session already used (or insufficient funds if
// the winner's debit drained the balance first). Legacy tokens carry no
// session and are debited without replay protection.
func (s *Service) ConsumeForPayment(ctx context.Context, claims Claims, adminID string, amount int64, orderID string) (*models.LedgerEntry, error) {
	if claims.Legacy() {
		s.log.LogSecurity("LEGACY_TOKEN", fmt.Sprintf("legacy token payment for user %s, no replay protection", claims.UserID))
		return s.wallet.Debit(ctx, claims.UserID, amount, adminID, orderID)
	}
	return s.wallet.DebitWithSession(ctx, claims.UserID, amount, adminID, orderID, claims.SessionID)
}

// Package recovery implements password reset through short-lived codes
// delivered by the recovery webhook.
package recovery

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"secscan.app/internal/audit"
	"secscan.app/internal/auth"
	"secscan.app/internal/ids"
	"secscan.app/internal/obs"
	"secscan.app/internal/store"
	"secscan.app/internal/webhook"
)

const codeLength = 8

// RequestedMessage is returned whether or not the email exists.
const RequestedMessage = "Se o e-mail existir, você receberá um código de recuperação."

var (
	ErrEmailRequired    = errors.New("E-mail é obrigatório")
	ErrCodeRequired     = errors.New("E-mail e código são obrigatórios")
	ErrCodeInvalid      = errors.New("Código expirado ou inválido. Solicite um novo código.")
	ErrIncomplete       = errors.New("Dados incompletos")
	ErrPasswordTooShort = errors.New("A senha deve ter no mínimo 8 caracteres")
	ErrRecoveryInvalid  = errors.New("Código de recuperação inválido ou expirado")
)

// AttemptError rejects a verification. Remaining is meaningful only when
// Exceeded is false.
type AttemptError struct {
	Remaining int
	Exceeded  bool
}

func (e *AttemptError) Error() string {
	if e.Exceeded {
		return "Limite de tentativas excedido. Solicite um novo código."
	}
	return fmt.Sprintf("Código incorreto. %d tentativa(s) restante(s).", e.Remaining)
}

// Store is the persistence the service needs.
type Store interface {
	store.Users
	store.RecoveryCodes
}

type Service struct {
	store       Store
	notifier    webhook.Sender
	ttl         time.Duration
	maxAttempts int
	now         func() time.Time
	log         *logrus.Logger
}

type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(st Store, notifier webhook.Sender, ttl time.Duration, maxAttempts int, opts ...Option) *Service {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	s := &Service{
		store:       st,
		notifier:    notifier,
		ttl:         ttl,
		maxAttempts: maxAttempts,
		now:         func() time.Time { return time.Now().UTC() },
		log:         obs.Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Request issues a code for email. Unknown emails succeed silently.
func (s *Service) Request(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return ErrEmailRequired
	}
	user, err := s.store.UserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		s.log.WithField("event", "recovery_unknown_email").Info("recovery_requested")
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup user: %w", err)
	}

	code, err := ids.Code(codeLength)
	if err != nil {
		return fmt.Errorf("generate code: %w", err)
	}
	now := s.now()
	rc, err := s.store.CreateRecoveryCode(ctx, store.RecoveryCode{
		UserID:      user.ID,
		Email:       email,
		CodeHash:    hashCode(code),
		MaxAttempts: s.maxAttempts,
		ExpiresAt:   now.Add(s.ttl),
	})
	if err != nil {
		return fmt.Errorf("store recovery code: %w", err)
	}
	_ = audit.LogEvent(ctx, "recovery.requested", map[string]any{"user_id": user.ID, "recovery_id": rc.ID})

	if s.notifier == nil {
		return nil
	}
	nome := user.Nome
	if nome == "" {
		nome = "Cliente"
	}
	err = s.notifier.Send(ctx, webhook.EventRecoveryCode, webhook.RecoveryNotice{
		Codigo:      code,
		NomeCliente: nome,
		WhatsApp:    user.WhatsApp,
		Email:       email,
		Timestamp:   webhook.Timestamp(now),
	})
	if err != nil && !errors.Is(err, webhook.ErrDisabled) {
		s.log.WithFields(logrus.Fields{"recovery_id": rc.ID, "error": err.Error()}).Warn("recovery_webhook_failed")
	}
	return nil
}

// Verified identifies the code that passed verification.
type Verified struct {
	UserID     string `json:"user_id"`
	RecoveryID string `json:"recovery_id"`
}

// Verify checks code against the newest active code for email.
func (s *Service) Verify(ctx context.Context, email, code string) (Verified, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	code = strings.ToUpper(strings.TrimSpace(code))
	if email == "" || code == "" {
		return Verified{}, ErrCodeRequired
	}
	rc, err := s.store.ActiveRecoveryCode(ctx, email, s.now())
	if errors.Is(err, store.ErrNotFound) {
		return Verified{}, ErrCodeInvalid
	}
	if err != nil {
		return Verified{}, fmt.Errorf("load recovery code: %w", err)
	}

	if rc.Attempts >= rc.MaxAttempts {
		if err := s.store.MarkRecoveryCodeUsed(ctx, rc.ID); err != nil {
			return Verified{}, fmt.Errorf("expire recovery code: %w", err)
		}
		return Verified{}, &AttemptError{Exceeded: true}
	}
	if subtle.ConstantTimeCompare([]byte(hashCode(code)), []byte(rc.CodeHash)) != 1 {
		attempts, err := s.store.IncrementRecoveryAttempts(ctx, rc.ID)
		if err != nil {
			return Verified{}, fmt.Errorf("count attempt: %w", err)
		}
		remaining := rc.MaxAttempts - attempts
		if remaining < 0 {
			remaining = 0
		}
		return Verified{}, &AttemptError{Remaining: remaining}
	}
	return Verified{UserID: rc.UserID, RecoveryID: rc.ID}, nil
}

// ResetRequest completes a verified recovery.
type ResetRequest struct {
	UserID      string `json:"user_id"`
	RecoveryID  string `json:"recovery_id"`
	NewPassword string `json:"new_password"`
}

// Reset replaces the password and consumes the code.
func (s *Service) Reset(ctx context.Context, req ResetRequest) error {
	if req.UserID == "" || req.RecoveryID == "" || req.NewPassword == "" {
		return ErrIncomplete
	}
	if len(req.NewPassword) < auth.MinPasswordLength {
		return ErrPasswordTooShort
	}
	rc, err := s.store.RecoveryCodeByID(ctx, req.RecoveryID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrRecoveryInvalid
	}
	if err != nil {
		return fmt.Errorf("load recovery code: %w", err)
	}
	if rc.UserID != req.UserID || rc.Used || !rc.ExpiresAt.After(s.now()) {
		return ErrRecoveryInvalid
	}

	hash, err := auth.HashPassword(req.NewPassword)
	if err != nil {
		return err
	}
	if err := s.store.UpdatePassword(ctx, rc.UserID, hash); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if err := s.store.MarkRecoveryCodeUsed(ctx, rc.ID); err != nil {
		return fmt.Errorf("consume recovery code: %w", err)
	}
	_ = audit.LogEvent(ctx, "recovery.completed", map[string]any{"user_id": rc.UserID, "recovery_id": rc.ID})
	return nil
}

func hashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

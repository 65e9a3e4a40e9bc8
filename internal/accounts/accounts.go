// Package accounts handles customer sign-up, login and the admin bootstrap.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"secscan.app/internal/audit"
	"secscan.app/internal/auth"
	"secscan.app/internal/obs"
	"secscan.app/internal/store"
	"secscan.app/internal/validate"
)

var (
	ErrEmailTaken         = errors.New("E-mail já cadastrado")
	ErrInvalidCredentials = errors.New("E-mail ou senha inválidos")
)

type Service struct {
	store     store.Store
	issuer    *auth.Issuer
	validator *validate.Validator
	log       *logrus.Logger
}

func NewService(st store.Store, issuer *auth.Issuer, v *validate.Validator) *Service {
	if v == nil {
		v = validate.New()
	}
	return &Service{store: st, issuer: issuer, validator: v, log: obs.Logger()}
}

type SignupRequest struct {
	Nome     string `json:"nome" validate:"min=2,max=100"`
	Email    string `json:"email" validate:"required,email,max=255"`
	WhatsApp string `json:"whatsapp" validate:"omitempty,digits_min=10,digits_max=13"`
	Password string `json:"password" validate:"min=8,max=72"`
}

var signupMessages = validate.Messages{
	"nome":     "Nome deve ter entre 2 e 100 caracteres",
	"email":    "E-mail inválido",
	"whatsapp": "WhatsApp inválido",
	"password": "A senha deve ter no mínimo 8 caracteres",
}

// Session is returned by sign-up and login.
type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	Nome      string    `json:"nome"`
	Role      auth.Role `json:"role"`
}

// Signup creates a customer account and logs it in.
func (s *Service) Signup(ctx context.Context, req SignupRequest) (Session, error) {
	req.Nome = strings.TrimSpace(req.Nome)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := s.validator.Struct(req, signupMessages); err != nil {
		return Session{}, err
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return Session{}, err
	}
	user, err := s.store.CreateUser(ctx, store.User{
		Email:        req.Email,
		PasswordHash: hash,
		Nome:         req.Nome,
		WhatsApp:     validate.Digits(req.WhatsApp),
		Role:         auth.RoleUser,
	})
	if errors.Is(err, store.ErrEmailTaken) {
		return Session{}, ErrEmailTaken
	}
	if err != nil {
		return Session{}, fmt.Errorf("create user: %w", err)
	}
	_ = audit.LogEvent(ctx, "user.signup", map[string]any{"user_id": user.ID})
	return s.session(user)
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login checks the credentials and issues a token. Unknown emails and wrong
// passwords are indistinguishable.
func (s *Service) Login(ctx context.Context, req LoginRequest) (Session, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || req.Password == "" {
		return Session{}, ErrInvalidCredentials
	}
	user, err := s.store.UserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return Session{}, ErrInvalidCredentials
	}
	if err != nil {
		return Session{}, fmt.Errorf("lookup user: %w", err)
	}
	if err := auth.VerifyPassword(user.PasswordHash, req.Password); err != nil {
		s.log.WithField("user_id", user.ID).Info("login_failed")
		return Session{}, ErrInvalidCredentials
	}
	return s.session(user)
}

func (s *Service) session(u store.User) (Session, error) {
	token, exp, err := s.issuer.Issue(auth.Principal{UserID: u.ID, Role: u.Role, Email: u.Email})
	if err != nil {
		return Session{}, fmt.Errorf("issue token: %w", err)
	}
	return Session{Token: token, ExpiresAt: exp, UserID: u.ID, Email: u.Email, Nome: u.Nome, Role: u.Role}, nil
}

// EnsureAdmin creates the admin account on first boot. An existing user with
// that email is left untouched.
func (s *Service) EnsureAdmin(ctx context.Context, email, password string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil
	}
	if _, err := s.store.UserByEmail(ctx, email); err == nil {
		return nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("lookup admin: %w", err)
	}
	if !auth.StrongPassword(password) {
		return errors.New("accounts: admin password is too weak")
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	u, err := s.store.CreateUser(ctx, store.User{Email: email, PasswordHash: hash, Nome: "Admin", Role: auth.RoleAdmin})
	if err != nil && !errors.Is(err, store.ErrEmailTaken) {
		return fmt.Errorf("create admin: %w", err)
	}
	s.log.WithField("user_id", u.ID).Info("admin_bootstrapped")
	return nil
}

// Submissions lists the caller's own scan requests.
func (s *Service) Submissions(ctx context.Context, userID string) ([]store.Submission, error) {
	return s.store.ListSubmissions(ctx, store.SubmissionFilter{UserID: userID})
}

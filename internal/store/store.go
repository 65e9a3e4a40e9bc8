// Package store defines the persistence contracts of the service and an
// in-memory implementation used by tests and local runs without Postgres.
package store

import (
	"context"
	"errors"
	"time"

	"secscan.app/internal/auth"
)

var (
	ErrNotFound    = errors.New("store: not found")
	ErrEmailTaken  = errors.New("store: email already registered")
	ErrCPFTaken    = errors.New("store: cpf already registered")
	ErrCouponTaken = errors.New("store: coupon already taken")
	ErrPaymentUsed = errors.New("store: registration payment already used")
	ErrAlreadyPaid = errors.New("store: commission already paid")
	ErrDuplicate   = errors.New("store: duplicate record")
)

// Payment statuses tracked on a submission.
const (
	PaymentNone      = ""
	PaymentPending   = "pending"
	PaymentApproved  = "approved"
	PaymentRejected  = "rejected"
	PaymentCancelled = "cancelled"
	PaymentExpired   = "expired"
)

// Analysis and contact statuses.
const (
	AnalysisPending    = "pending"
	AnalysisSafe       = "safe"
	AnalysisVulnerable = "vulnerable"

	ContactPending   = "pending"
	ContactInContact = "in_contact"
	ContactResolved  = "resolved"
)

// Commission payout statuses.
const (
	PayoutPending = "pending"
	PayoutPaid    = "paid"
)

// Coupon owner kinds in the coupon registry.
const (
	CouponOwnerPartner = "partner"
	CouponOwnerMaster  = "master"
)

type User struct {
	ID           string
	Email        string
	PasswordHash string
	Nome         string
	WhatsApp     string
	Role         auth.Role
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Submission struct {
	ID             string
	Nome           string
	Email          string
	WhatsApp       string
	URL            string
	AnalysisStatus string
	ContactStatus  string
	PaymentStatus  string
	PaymentID      string
	CouponCode     string
	Amount         int64
	UserID         string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type Partner struct {
	ID                    string
	UserID                string
	Nome                  string
	CPF                   string
	WhatsApp              string
	PixKey                string
	CouponCode            string
	MasterPartnerID       string
	RegistrationPaymentID string
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

type MasterPartner struct {
	ID         string
	UserID     string
	Nome       string
	CPF        string
	WhatsApp   string
	Email      string
	PixKey     string
	CouponCode string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type PartnerSale struct {
	ID                    string
	PartnerID             string
	SubmissionID          string
	SaleValue             int64
	CommissionValue       int64
	MasterCommissionValue int64
	PaymentStatus         string
	ReceiptURL            string
	PaidAt                *time.Time
	CreatedAt             time.Time
}

// CouponUsage is a master-partner commission row. Indirect marks the split
// earned through a sponsored partner's sale.
type CouponUsage struct {
	ID              string
	MasterPartnerID string
	SubmissionID    string
	PaymentValue    int64
	CommissionValue int64
	Indirect        bool
	PaymentStatus   string
	ReceiptURL      string
	PaidAt          *time.Time
	CreatedAt       time.Time
}

type RecoveryCode struct {
	ID          string
	UserID      string
	Email       string
	CodeHash    string
	Attempts    int
	MaxAttempts int
	ExpiresAt   time.Time
	Used        bool
	CreatedAt   time.Time
}

type RegistrationSettings struct {
	PartnerEnabled bool
	PartnerPrice   int64
	MasterEnabled  bool
}

// DefaultRegistrationSettings mirrors the seeded settings row.
func DefaultRegistrationSettings() RegistrationSettings {
	return RegistrationSettings{PartnerEnabled: true, PartnerPrice: 1000, MasterEnabled: true}
}

// SubmissionFilter narrows ListSubmissions. Zero values match everything.
type SubmissionFilter struct {
	PaymentStatus    string
	NotPaymentStatus string
	Analysis         string
	UserID           string
}

// SubmissionStats summarizes approved submissions by analysis status.
type SubmissionStats struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Vulnerable int `json:"vulnerable"`
	Safe       int `json:"safe"`
}

type Users interface {
	CreateUser(ctx context.Context, u User) (User, error)
	UserByID(ctx context.Context, id string) (User, error)
	UserByEmail(ctx context.Context, email string) (User, error)
	UpdatePassword(ctx context.Context, userID, hash string) error
	DeleteUser(ctx context.Context, id string) error
}

type Submissions interface {
	CreateSubmission(ctx context.Context, s Submission) (Submission, error)
	SubmissionByID(ctx context.Context, id string) (Submission, error)
	SubmissionByPaymentID(ctx context.Context, paymentID string) (Submission, error)
	AttachPayment(ctx context.Context, id, paymentID string) error
	// MarkApproved moves the submission holding paymentID to approved.
	// The bool is true only for the caller that performed the transition.
	MarkApproved(ctx context.Context, paymentID string) (Submission, bool, error)
	// SetPaymentStatus records a non-approved status; approved rows are left untouched.
	SetPaymentStatus(ctx context.Context, paymentID, status string) error
	ListSubmissions(ctx context.Context, f SubmissionFilter) ([]Submission, error)
	UpdateSubmissionStatus(ctx context.Context, id, analysis, contact string) (Submission, error)
	DeleteSubmission(ctx context.Context, id string) error
	SubmissionStats(ctx context.Context) (SubmissionStats, error)
}

type Affiliates interface {
	// CouponOwner returns the owner kind registered for a normalized coupon.
	CouponOwner(ctx context.Context, code string) (string, error)
	CreatePartner(ctx context.Context, p Partner) (Partner, error)
	PartnerByCoupon(ctx context.Context, code string) (Partner, error)
	PartnerByUserID(ctx context.Context, userID string) (Partner, error)
	ListPartners(ctx context.Context) ([]Partner, error)
	PartnersByMaster(ctx context.Context, masterID string) ([]Partner, error)
	CreateMasterPartner(ctx context.Context, m MasterPartner) (MasterPartner, error)
	MasterByCoupon(ctx context.Context, code string) (MasterPartner, error)
	MasterByID(ctx context.Context, id string) (MasterPartner, error)
	MasterByUserID(ctx context.Context, userID string) (MasterPartner, error)
	ListMasterPartners(ctx context.Context) ([]MasterPartner, error)
}

type Commissions interface {
	CreateSale(ctx context.Context, s PartnerSale) (PartnerSale, error)
	CreateUsage(ctx context.Context, u CouponUsage) (CouponUsage, error)
	SalesByPartner(ctx context.Context, partnerID string) ([]PartnerSale, error)
	UsagesByMaster(ctx context.Context, masterID string) ([]CouponUsage, error)
	MarkSalePaid(ctx context.Context, id, receiptURL string, at time.Time) error
	MarkUsagePaid(ctx context.Context, id, receiptURL string, at time.Time) error
}

type RecoveryCodes interface {
	CreateRecoveryCode(ctx context.Context, rc RecoveryCode) (RecoveryCode, error)
	// ActiveRecoveryCode returns the newest unused, unexpired code for email.
	ActiveRecoveryCode(ctx context.Context, email string, now time.Time) (RecoveryCode, error)
	RecoveryCodeByID(ctx context.Context, id string) (RecoveryCode, error)
	IncrementRecoveryAttempts(ctx context.Context, id string) (int, error)
	MarkRecoveryCodeUsed(ctx context.Context, id string) error
}

type Settings interface {
	RegistrationSettings(ctx context.Context) (RegistrationSettings, error)
	UpdateRegistrationSettings(ctx context.Context, s RegistrationSettings) error
	// ClaimMasterRegistration disables master registration if it is enabled,
	// returning false when another caller got there first.
	ClaimMasterRegistration(ctx context.Context) (bool, error)
	ReopenMasterRegistration(ctx context.Context) error
}

// Store aggregates every persistence contract.
type Store interface {
	Users
	Submissions
	Affiliates
	Commissions
	RecoveryCodes
	Settings
	Ping(ctx context.Context) error
}

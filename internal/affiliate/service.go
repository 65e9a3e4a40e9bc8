package affiliate

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
	"secscan.app/internal/payment"
	"secscan.app/internal/store"
	"secscan.app/internal/validate"
)

// Business-rule failures. The text is returned to callers verbatim.
var (
	ErrRegistrationClosed       = errors.New("Cadastro de parceiros está temporariamente desativado")
	ErrMasterRegistrationClosed = errors.New("Cadastro de Parceiro Master não está mais disponível")
	ErrCPFTaken                 = errors.New("CPF já cadastrado")
	ErrEmailTaken               = errors.New("Este e-mail já está cadastrado")
	ErrCouponTaken              = errors.New("Este código de cupom já está em uso")
	ErrCouponReserved           = errors.New("Este código de cupom não pode ser utilizado")
	ErrSelfReference            = errors.New("Você não pode usar o cupom do Parceiro Master como seu próprio cupom. Crie um código único para você.")
	ErrInvalidMasterCoupon      = errors.New("Cupom de Parceiro Master inválido")
	ErrPaymentRequired          = errors.New("Pagamento é obrigatório para registro sem cupom de Parceiro Master")
	ErrPaymentNotApproved       = errors.New("Pagamento não foi confirmado")
	ErrPaymentUsed              = errors.New("Este pagamento já foi utilizado em outro cadastro")
	ErrPaymentNotRegistration   = errors.New("Este pagamento não corresponde a uma taxa de cadastro")
	ErrNotAffiliate             = errors.New("Parceiro não encontrado")
	ErrAlreadyPaid              = errors.New("Comissão já foi paga")
)

// IsConflict reports whether err is a business-rule conflict rather than bad input.
func IsConflict(err error) bool {
	for _, target := range []error{
		ErrRegistrationClosed, ErrMasterRegistrationClosed, ErrCPFTaken, ErrEmailTaken,
		ErrCouponTaken, ErrPaymentUsed, ErrAlreadyPaid,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Service implements affiliate registration, attribution and reporting.
type Service struct {
	store     store.Store
	payments  payment.Processor
	validator *validate.Validator
	log       *logrus.Logger
	now       func() time.Time
}

func NewService(st store.Store, payments payment.Processor, v *validate.Validator) *Service {
	if v == nil {
		v = validate.New()
	}
	return &Service{
		store:     st,
		payments:  payments,
		validator: v,
		log:       obs.Logger(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// PartnerRegistration is the partner sign-up form.
type PartnerRegistration struct {
	Nome         string `json:"nome" validate:"min=2"`
	CPF          string `json:"cpf" validate:"digits_len=11"`
	WhatsApp     string `json:"whatsapp" validate:"digits_min=10"`
	PixKey       string `json:"pixKey" validate:"min=3"`
	CouponCode   string `json:"couponCode" validate:"coupon"`
	Email        string `json:"email" validate:"required,email,max=255"`
	Password     string `json:"password" validate:"strong_password"`
	MasterCoupon string `json:"masterCoupon"`
	PaymentID    string `json:"paymentId"`
}

var partnerMessages = validate.Messages{
	"nome":       "Nome deve ter no mínimo 2 caracteres",
	"cpf":        "CPF inválido",
	"whatsapp":   "WhatsApp inválido",
	"pixKey":     "Chave PIX inválida",
	"couponCode": "Cupom deve ter entre 3 e 20 caracteres (apenas letras e números)",
	"email":      "E-mail inválido",
	"password":   "Senha deve ter no mínimo 8 caracteres, incluindo maiúscula, minúscula, número e caractere especial",
}

// RegisteredPartner is the outcome of RegisterPartner.
type RegisteredPartner struct {
	Partner          store.Partner
	UsedMasterCoupon bool
}

// RegisterPartner creates a partner account. Without a sponsoring master
// coupon the caller must present an approved registration payment; admins
// skip both the fee and the enabled switch.
func (s *Service) RegisterPartner(ctx context.Context, req PartnerRegistration, caller *auth.Principal) (RegisteredPartner, error) {
	req.Nome = strings.TrimSpace(req.Nome)
	req.PixKey = strings.TrimSpace(req.PixKey)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := s.validator.Struct(req, partnerMessages); err != nil {
		obs.Registration("partner", "invalid")
		return RegisteredPartner{}, err
	}
	isAdmin := caller != nil && caller.IsAdmin()

	settings, err := s.store.RegistrationSettings(ctx)
	if err != nil {
		return RegisteredPartner{}, fmt.Errorf("load registration settings: %w", err)
	}
	if !settings.PartnerEnabled && !isAdmin {
		obs.Registration("partner", "closed")
		return RegisteredPartner{}, ErrRegistrationClosed
	}

	coupon := validate.NormalizeCoupon(req.CouponCode)
	masterCoupon := validate.NormalizeCoupon(req.MasterCoupon)
	if masterCoupon != "" && coupon == masterCoupon {
		return RegisteredPartner{}, ErrSelfReference
	}
	if IsReserved(coupon) {
		return RegisteredPartner{}, ErrCouponReserved
	}
	if err := s.ensureCouponFree(ctx, coupon); err != nil {
		return RegisteredPartner{}, err
	}

	var masterID, paymentID string
	switch {
	case masterCoupon != "":
		m, err := s.store.MasterByCoupon(ctx, masterCoupon)
		if errors.Is(err, store.ErrNotFound) {
			return RegisteredPartner{}, ErrInvalidMasterCoupon
		}
		if err != nil {
			return RegisteredPartner{}, fmt.Errorf("lookup master coupon: %w", err)
		}
		masterID = m.ID
	case isAdmin, settings.PartnerPrice <= 0:
	default:
		paymentID = strings.TrimSpace(req.PaymentID)
		if err := s.verifyRegistrationPayment(ctx, paymentID, settings.PartnerPrice); err != nil {
			obs.Registration("partner", "unpaid")
			return RegisteredPartner{}, err
		}
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return RegisteredPartner{}, err
	}
	digitsWhatsApp := validate.Digits(req.WhatsApp)
	user, err := s.store.CreateUser(ctx, store.User{
		Email:        req.Email,
		PasswordHash: hash,
		Nome:         req.Nome,
		WhatsApp:     digitsWhatsApp,
		Role:         auth.RoleUser,
	})
	if err != nil {
		return RegisteredPartner{}, mapStoreError(err)
	}

	partner, err := s.store.CreatePartner(ctx, store.Partner{
		UserID:                user.ID,
		Nome:                  req.Nome,
		CPF:                   validate.Digits(req.CPF),
		WhatsApp:              digitsWhatsApp,
		PixKey:                req.PixKey,
		CouponCode:            coupon,
		MasterPartnerID:       masterID,
		RegistrationPaymentID: paymentID,
	})
	if err != nil {
		if delErr := s.store.DeleteUser(ctx, user.ID); delErr != nil {
			s.log.WithFields(logrus.Fields{"user_id": user.ID, "error": delErr.Error()}).Error("partner_user_cleanup_failed")
		}
		obs.Registration("partner", "failed")
		return RegisteredPartner{}, mapStoreError(err)
	}

	obs.Registration("partner", "ok")
	_ = audit.LogEvent(ctx, "partner.registered", map[string]any{
		"partner_id":         partner.ID,
		"coupon":             partner.CouponCode,
		"master_partner_id":  masterID,
		"registration_price": settings.PartnerPrice,
		"fee_paid":           paymentID != "",
	})
	return RegisteredPartner{Partner: partner, UsedMasterCoupon: masterID != ""}, nil
}

func (s *Service) verifyRegistrationPayment(ctx context.Context, paymentID string, price int64) error {
	if paymentID == "" {
		return ErrPaymentRequired
	}
	// scan charges always carry a submission; registration fees never do
	switch _, err := s.store.SubmissionByPaymentID(ctx, paymentID); {
	case err == nil:
		return ErrPaymentNotRegistration
	case !errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("check registration payment: %w", err)
	}
	p, err := s.payments.GetPayment(ctx, paymentID)
	if err != nil {
		var apiErr *payment.APIError
		if errors.As(err, &apiErr) {
			return ErrPaymentNotApproved
		}
		return err
	}
	if p.Status != payment.StatusApproved || p.Amount < price {
		return ErrPaymentNotApproved
	}
	return nil
}

func (s *Service) ensureCouponFree(ctx context.Context, coupon string) error {
	_, err := s.store.CouponOwner(ctx, coupon)
	switch {
	case err == nil:
		return ErrCouponTaken
	case errors.Is(err, store.ErrNotFound):
		return nil
	default:
		return fmt.Errorf("check coupon: %w", err)
	}
}

// MasterRegistration is the master-partner sign-up form.
type MasterRegistration struct {
	Nome       string `json:"nome" validate:"required,min=2"`
	CPF        string `json:"cpf" validate:"required,digits_len=11"`
	WhatsApp   string `json:"whatsapp" validate:"required,digits_min=10"`
	Email      string `json:"email" validate:"required,email,max=255"`
	Password   string `json:"password" validate:"required,strong_password"`
	PixKey     string `json:"pix_key" validate:"omitempty,min=3"`
	CouponCode string `json:"coupon_code" validate:"required,coupon"`
}

var masterMessages = validate.Messages{
	"nome":        "Todos os campos são obrigatórios",
	"cpf":         "CPF inválido",
	"whatsapp":    "WhatsApp inválido",
	"email":       "E-mail inválido",
	"password":    "Senha deve ter no mínimo 8 caracteres, incluindo maiúscula, minúscula, número e caractere especial",
	"pix_key":     "Chave PIX inválida",
	"coupon_code": "Cupom deve ter entre 3 e 20 caracteres (apenas letras e números)",
}

// RegisterMaster creates the master-partner account. Only one registration
// succeeds per opening of the master registration window.
func (s *Service) RegisterMaster(ctx context.Context, req MasterRegistration) (store.MasterPartner, error) {
	req.Nome = strings.TrimSpace(req.Nome)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.PixKey = strings.TrimSpace(req.PixKey)
	if err := s.validator.Struct(req, masterMessages); err != nil {
		obs.Registration("master", "invalid")
		return store.MasterPartner{}, err
	}
	settings, err := s.store.RegistrationSettings(ctx)
	if err != nil {
		return store.MasterPartner{}, fmt.Errorf("load registration settings: %w", err)
	}
	if !settings.MasterEnabled {
		obs.Registration("master", "closed")
		return store.MasterPartner{}, ErrMasterRegistrationClosed
	}

	coupon := validate.NormalizeCoupon(req.CouponCode)
	if IsReserved(coupon) {
		return store.MasterPartner{}, ErrCouponTaken
	}
	if err := s.ensureCouponFree(ctx, coupon); err != nil {
		return store.MasterPartner{}, err
	}

	claimed, err := s.store.ClaimMasterRegistration(ctx)
	if err != nil {
		return store.MasterPartner{}, fmt.Errorf("claim master registration: %w", err)
	}
	if !claimed {
		obs.Registration("master", "closed")
		return store.MasterPartner{}, ErrMasterRegistrationClosed
	}

	master, err := s.createMaster(ctx, req, coupon)
	if err != nil {
		if reopenErr := s.store.ReopenMasterRegistration(ctx); reopenErr != nil {
			s.log.WithField("error", reopenErr.Error()).Error("master_registration_reopen_failed")
		}
		obs.Registration("master", "failed")
		return store.MasterPartner{}, err
	}
	obs.Registration("master", "ok")
	_ = audit.LogEvent(ctx, "master_partner.registered", map[string]any{
		"master_partner_id": master.ID,
		"coupon":            master.CouponCode,
	})
	return master, nil
}

func (s *Service) createMaster(ctx context.Context, req MasterRegistration, coupon string) (store.MasterPartner, error) {
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return store.MasterPartner{}, err
	}
	whatsapp := validate.Digits(req.WhatsApp)
	user, err := s.store.CreateUser(ctx, store.User{
		Email:        req.Email,
		PasswordHash: hash,
		Nome:         req.Nome,
		WhatsApp:     whatsapp,
		Role:         auth.RoleMasterPartner,
	})
	if err != nil {
		return store.MasterPartner{}, mapStoreError(err)
	}
	master, err := s.store.CreateMasterPartner(ctx, store.MasterPartner{
		UserID:     user.ID,
		Nome:       req.Nome,
		CPF:        validate.Digits(req.CPF),
		WhatsApp:   whatsapp,
		Email:      req.Email,
		PixKey:     req.PixKey,
		CouponCode: coupon,
	})
	if err != nil {
		if delErr := s.store.DeleteUser(ctx, user.ID); delErr != nil {
			s.log.WithFields(logrus.Fields{"user_id": user.ID, "error": delErr.Error()}).Error("master_user_cleanup_failed")
		}
		return store.MasterPartner{}, mapStoreError(err)
	}
	return master, nil
}

func mapStoreError(err error) error {
	switch {
	case errors.Is(err, store.ErrEmailTaken):
		return ErrEmailTaken
	case errors.Is(err, store.ErrCPFTaken):
		return ErrCPFTaken
	case errors.Is(err, store.ErrCouponTaken):
		return ErrCouponTaken
	case errors.Is(err, store.ErrPaymentUsed):
		return ErrPaymentUsed
	case errors.Is(err, store.ErrAlreadyPaid):
		return ErrAlreadyPaid
	}
	return err
}

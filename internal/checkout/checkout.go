// Package checkout creates PIX charges for scans and partner registrations
// and reconciles their status with the payment processor.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"secscan.app/internal/affiliate"
	"secscan.app/internal/audit"
	"secscan.app/internal/obs"
	"secscan.app/internal/payment"
	"secscan.app/internal/store"
	"secscan.app/internal/stream"
	"secscan.app/internal/validate"
	"secscan.app/internal/webhook"
)

const scanDescription = "Teste de Segurança - SecScan"

var (
	ErrPaymentIDRequired = errors.New("Payment ID is required")
	ErrFreeRegistration  = errors.New("Cadastro gratuito, pagamento não é necessário")
)

// Service wires the store, the processor, coupon rules and notifications.
type Service struct {
	store      store.Store
	payments   payment.Processor
	affiliates *affiliate.Service
	notifier   webhook.Sender
	validator  *validate.Validator
	events     Publisher
	log        *logrus.Logger
	now        func() time.Time
}

// Publisher receives payment lifecycle events.
type Publisher interface {
	Publish(stream.Event)
}

type Option func(*Service)

// WithEvents publishes created, approved, expired and rejected payments.
func WithEvents(p Publisher) Option {
	return func(s *Service) { s.events = p }
}

func NewService(st store.Store, payments payment.Processor, affiliates *affiliate.Service, notifier webhook.Sender, v *validate.Validator, opts ...Option) *Service {
	if v == nil {
		v = validate.New()
	}
	s := &Service{
		store:      st,
		payments:   payments,
		affiliates: affiliates,
		notifier:   notifier,
		validator:  v,
		log:        obs.Logger(),
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) publish(evt stream.Event) {
	if s.events == nil {
		return
	}
	evt.Timestamp = s.now()
	s.events.Publish(evt)
}

// ScanOrder is the public order form.
type ScanOrder struct {
	Nome     string `json:"nome" validate:"min=2,max=100"`
	Email    string `json:"email" validate:"required,email,max=255"`
	WhatsApp string `json:"whatsapp" validate:"digits_min=10,digits_max=13"`
	URL      string `json:"url" validate:"web_url,max=500"`
	Coupon   string `json:"coupon"`
}

var orderMessages = validate.Messages{
	"nome":     "Nome deve ter entre 2 e 100 caracteres",
	"email":    "E-mail inválido",
	"whatsapp": "WhatsApp inválido",
	"url":      "URL inválida",
}

// ScanPayment is returned to the browser to render the PIX QR code.
type ScanPayment struct {
	PaymentID    string     `json:"payment_id"`
	SubmissionID string     `json:"submission_id,omitempty"`
	Status       string     `json:"status"`
	QRCode       string     `json:"qr_code"`
	QRCodeBase64 string     `json:"qr_code_base64"`
	TicketURL    string     `json:"ticket_url,omitempty"`
	Amount       int64      `json:"amount"`
	Discount     int64      `json:"discount"`
	Coupon       string     `json:"coupon,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

// CreatePayment stores the submission and mints its PIX charge. The
// submission is saved before the processor call so abandoned checkouts
// remain visible to remarketing.
func (s *Service) CreatePayment(ctx context.Context, order ScanOrder, userID string) (ScanPayment, error) {
	order.Nome = strings.TrimSpace(order.Nome)
	order.Email = strings.ToLower(strings.TrimSpace(order.Email))
	order.URL = strings.TrimSpace(order.URL)
	if err := s.validator.Struct(order, orderMessages); err != nil {
		return ScanPayment{}, err
	}

	var coupon affiliate.Coupon
	if code := validate.NormalizeCoupon(order.Coupon); code != "" {
		c, err := s.affiliates.Resolve(ctx, code)
		if err != nil {
			return ScanPayment{}, err
		}
		coupon = c
	}
	amount := affiliate.Price(coupon)

	sub, err := s.store.CreateSubmission(ctx, store.Submission{
		Nome:       order.Nome,
		Email:      order.Email,
		WhatsApp:   validate.Digits(order.WhatsApp),
		URL:        order.URL,
		CouponCode: coupon.Code,
		Amount:     amount,
		UserID:     userID,
	})
	if err != nil {
		return ScanPayment{}, fmt.Errorf("store submission: %w", err)
	}

	p, err := s.payments.CreatePix(ctx, payment.Charge{
		Amount:            amount,
		Description:       scanDescription,
		PayerEmail:        order.Email,
		PayerName:         order.Nome,
		ExternalReference: sub.ID,
		Metadata: map[string]any{
			"submission_id": sub.ID,
			"coupon":        coupon.Code,
			"url":           order.URL,
		},
	})
	if err != nil {
		obs.PaymentCreated("scan", "error")
		return ScanPayment{}, err
	}
	obs.PaymentCreated("scan", "ok")

	if err := s.store.AttachPayment(ctx, sub.ID, p.ID); err != nil {
		return ScanPayment{}, fmt.Errorf("attach payment: %w", err)
	}
	s.log.WithFields(logrus.Fields{
		"submission_id": sub.ID,
		"payment_id":    p.ID,
		"amount":        amount,
		"coupon":        coupon.Code,
	}).Info("payment_created")
	s.publish(stream.Event{Type: stream.PaymentCreated, PaymentID: p.ID, SubmissionID: sub.ID, Status: p.Status, Amount: amount, Coupon: coupon.Code})

	return ScanPayment{
		PaymentID:    p.ID,
		SubmissionID: sub.ID,
		Status:       p.Status,
		QRCode:       p.QRCode,
		QRCodeBase64: p.QRCodeBase64,
		TicketURL:    p.TicketURL,
		Amount:       amount,
		Discount:     coupon.Discount,
		Coupon:       coupon.Code,
		ExpiresAt:    p.ExpiresAt,
	}, nil
}

// RegistrationOrder is the payer of a partner registration fee.
type RegistrationOrder struct {
	Nome  string `json:"nome" validate:"min=2,max=100"`
	Email string `json:"email" validate:"required,email,max=255"`
}

// CreateRegistrationPayment mints the partner registration fee charge.
func (s *Service) CreateRegistrationPayment(ctx context.Context, order RegistrationOrder) (ScanPayment, error) {
	order.Nome = strings.TrimSpace(order.Nome)
	order.Email = strings.ToLower(strings.TrimSpace(order.Email))
	if err := s.validator.Struct(order, orderMessages); err != nil {
		return ScanPayment{}, err
	}
	settings, err := s.store.RegistrationSettings(ctx)
	if err != nil {
		return ScanPayment{}, fmt.Errorf("load registration settings: %w", err)
	}
	if !settings.PartnerEnabled {
		return ScanPayment{}, affiliate.ErrRegistrationClosed
	}
	if settings.PartnerPrice <= 0 {
		return ScanPayment{}, ErrFreeRegistration
	}
	p, err := s.payments.CreatePix(ctx, payment.Charge{
		Amount:      settings.PartnerPrice,
		Description: "Cadastro de Parceiro - SecScan",
		PayerEmail:  order.Email,
		PayerName:   order.Nome,
		Metadata:    map[string]any{"kind": "partner_registration"},
	})
	if err != nil {
		obs.PaymentCreated("registration", "error")
		return ScanPayment{}, err
	}
	obs.PaymentCreated("registration", "ok")
	return ScanPayment{
		PaymentID:    p.ID,
		Status:       p.Status,
		QRCode:       p.QRCode,
		QRCodeBase64: p.QRCodeBase64,
		TicketURL:    p.TicketURL,
		Amount:       settings.PartnerPrice,
		ExpiresAt:    p.ExpiresAt,
	}, nil
}

// StatusQuery carries the payment id plus the contact fields the browser
// re-sends; stored submission data wins when available.
type StatusQuery struct {
	PaymentID string  `json:"payment_id"`
	Nome      string  `json:"cliente_nome"`
	WhatsApp  string  `json:"cliente_whatsapp"`
	Valor     float64 `json:"valor"`
	Cupom     string  `json:"cupom_usado"`
}

type StatusResult struct {
	PaymentID    string `json:"payment_id"`
	Status       string `json:"status"`
	StatusDetail string `json:"status_detail"`
}

// CheckStatus queries the processor and applies the first observation of
// each terminal status.
func (s *Service) CheckStatus(ctx context.Context, q StatusQuery) (StatusResult, error) {
	q.PaymentID = strings.TrimSpace(q.PaymentID)
	if q.PaymentID == "" {
		return StatusResult{}, ErrPaymentIDRequired
	}
	p, err := s.payments.GetPayment(ctx, q.PaymentID)
	if err != nil {
		return StatusResult{}, err
	}
	obs.StatusChecked(p.Status)
	if p.ID == "" {
		p.ID = q.PaymentID
	}

	contact := contactFromQuery(q)
	sub, err := s.store.SubmissionByPaymentID(ctx, p.ID)
	known := err == nil
	switch {
	case known:
		contact = contact.fromSubmission(sub)
	case !errors.Is(err, store.ErrNotFound):
		return StatusResult{}, fmt.Errorf("load submission: %w", err)
	}

	switch {
	case p.Status == payment.StatusApproved:
		if known {
			s.approve(ctx, p.ID)
		}
		s.notify(ctx, webhook.EventPaymentConfirmed, "pagamento_confirmado", p, contact)
	case p.Expired():
		if known && sub.PaymentStatus != store.PaymentExpired {
			s.setStatus(ctx, p.ID, store.PaymentExpired)
			s.publish(stream.Event{Type: stream.PaymentExpired, PaymentID: p.ID, SubmissionID: sub.ID, Status: store.PaymentExpired, Amount: sub.Amount})
		}
		s.notify(ctx, webhook.EventPaymentExpired, "pagamento_expirado", p, contact)
	case p.Status == payment.StatusRejected || p.Status == payment.StatusCancelled:
		if known && sub.PaymentStatus != p.Status {
			s.setStatus(ctx, p.ID, p.Status)
			s.publish(stream.Event{Type: stream.PaymentRejected, PaymentID: p.ID, SubmissionID: sub.ID, Status: p.Status, Amount: sub.Amount})
		}
	}

	return StatusResult{PaymentID: p.ID, Status: p.Status, StatusDetail: p.StatusDetail}, nil
}

// approve transitions the submission; commissions are recorded only by the
// call that performed the transition.
func (s *Service) approve(ctx context.Context, paymentID string) {
	sub, transitioned, err := s.store.MarkApproved(ctx, paymentID)
	if err != nil {
		s.log.WithFields(logrus.Fields{"payment_id": paymentID, "error": err.Error()}).Error("approve_submission_failed")
		return
	}
	if !transitioned {
		return
	}
	_ = audit.LogEvent(ctx, "payment.approved", map[string]any{
		"submission_id": sub.ID,
		"payment_id":    paymentID,
		"amount":        sub.Amount,
		"coupon":        sub.CouponCode,
	})
	if err := s.affiliates.Attribute(ctx, sub); err != nil {
		s.log.WithFields(logrus.Fields{"submission_id": sub.ID, "error": err.Error()}).Error("attribution_failed")
	}
	s.publish(stream.Event{Type: stream.PaymentApproved, PaymentID: paymentID, SubmissionID: sub.ID, Status: store.PaymentApproved, Amount: sub.Amount, Coupon: sub.CouponCode})
}

func (s *Service) setStatus(ctx context.Context, paymentID, status string) {
	if err := s.store.SetPaymentStatus(ctx, paymentID, status); err != nil {
		s.log.WithFields(logrus.Fields{"payment_id": paymentID, "status": status, "error": err.Error()}).Error("payment_status_update_failed")
	}
}

type contact struct {
	nome     string
	whatsapp string
	amount   int64
	coupon   string
}

func contactFromQuery(q StatusQuery) contact {
	return contact{
		nome:     strings.TrimSpace(q.Nome),
		whatsapp: validate.Digits(q.WhatsApp),
		amount:   int64(math.Round(q.Valor * 100)),
		coupon:   validate.NormalizeCoupon(q.Cupom),
	}
}

func (c contact) fromSubmission(sub store.Submission) contact {
	return contact{nome: sub.Nome, whatsapp: sub.WhatsApp, amount: sub.Amount, coupon: sub.CouponCode}
}

// notify sends the status webhook once per payment and status. Delivery
// problems are logged and never reach the caller.
func (s *Service) notify(ctx context.Context, ev webhook.Event, tipo string, p payment.Payment, c contact) {
	if s.notifier == nil || c.nome == "" || c.whatsapp == "" {
		return
	}
	amount := c.amount
	if amount == 0 {
		amount = p.Amount
	}
	notice := webhook.PaymentNotice{
		Tipo:           tipo,
		Nome:           c.nome,
		WhatsApp:       c.whatsapp,
		Valor:          float64(amount) / 100,
		CupomUtilizado: c.coupon,
		PaymentID:      p.ID,
		Status:         p.Status,
		Timestamp:      webhook.Timestamp(s.now()),
	}
	if _, err := s.notifier.SendOnce(ctx, ev, p.ID+":"+p.Status, notice); err != nil && !errors.Is(err, webhook.ErrDisabled) {
		s.log.WithFields(logrus.Fields{"payment_id": p.ID, "event": ev, "error": err.Error()}).Warn("payment_webhook_failed")
	}
}

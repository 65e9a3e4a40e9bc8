package httpapi

import (
	"time"

	"secscan.app/internal/affiliate"
	"secscan.app/internal/store"
)

// Amounts are serialized in centavos.

type submissionView struct {
	ID             string    `json:"id"`
	Nome           string    `json:"nome"`
	Email          string    `json:"email"`
	WhatsApp       string    `json:"whatsapp"`
	URL            string    `json:"url"`
	AnalysisStatus string    `json:"analysis_status"`
	ContactStatus  string    `json:"contact_status"`
	PaymentStatus  string    `json:"payment_status"`
	PaymentID      string    `json:"payment_id,omitempty"`
	CouponCode     string    `json:"coupon_code,omitempty"`
	Amount         int64     `json:"amount"`
	CreatedAt      time.Time `json:"created_at"`
}

func toSubmissionView(s store.Submission) submissionView {
	return submissionView{
		ID:             s.ID,
		Nome:           s.Nome,
		Email:          s.Email,
		WhatsApp:       s.WhatsApp,
		URL:            s.URL,
		AnalysisStatus: s.AnalysisStatus,
		ContactStatus:  s.ContactStatus,
		PaymentStatus:  s.PaymentStatus,
		PaymentID:      s.PaymentID,
		CouponCode:     s.CouponCode,
		Amount:         s.Amount,
		CreatedAt:      s.CreatedAt,
	}
}

func toSubmissionViews(in []store.Submission) []submissionView {
	out := make([]submissionView, 0, len(in))
	for _, s := range in {
		out = append(out, toSubmissionView(s))
	}
	return out
}

type partnerView struct {
	ID              string    `json:"id"`
	Nome            string    `json:"nome"`
	CPF             string    `json:"cpf"`
	WhatsApp        string    `json:"whatsapp"`
	PixKey          string    `json:"pix_key"`
	CouponCode      string    `json:"coupon_code"`
	MasterPartnerID string    `json:"master_partner_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

func toPartnerView(p store.Partner) partnerView {
	return partnerView{
		ID:              p.ID,
		Nome:            p.Nome,
		CPF:             p.CPF,
		WhatsApp:        p.WhatsApp,
		PixKey:          p.PixKey,
		CouponCode:      p.CouponCode,
		MasterPartnerID: p.MasterPartnerID,
		CreatedAt:       p.CreatedAt,
	}
}

func toPartnerViews(in []store.Partner) []partnerView {
	out := make([]partnerView, 0, len(in))
	for _, p := range in {
		out = append(out, toPartnerView(p))
	}
	return out
}

type masterView struct {
	ID         string    `json:"id"`
	Nome       string    `json:"nome"`
	CPF        string    `json:"cpf"`
	WhatsApp   string    `json:"whatsapp"`
	Email      string    `json:"email"`
	PixKey     string    `json:"pix_key,omitempty"`
	CouponCode string    `json:"coupon_code"`
	CreatedAt  time.Time `json:"created_at"`
}

func toMasterView(m store.MasterPartner) masterView {
	return masterView{
		ID:         m.ID,
		Nome:       m.Nome,
		CPF:        m.CPF,
		WhatsApp:   m.WhatsApp,
		Email:      m.Email,
		PixKey:     m.PixKey,
		CouponCode: m.CouponCode,
		CreatedAt:  m.CreatedAt,
	}
}

type saleView struct {
	ID                    string     `json:"id"`
	SubmissionID          string     `json:"submission_id"`
	SaleValue             int64      `json:"sale_value"`
	CommissionValue       int64      `json:"commission_value"`
	MasterCommissionValue int64      `json:"master_commission_value,omitempty"`
	PaymentStatus         string     `json:"payment_status"`
	ReceiptURL            string     `json:"receipt_url,omitempty"`
	PaidAt                *time.Time `json:"paid_at,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
}

type usageView struct {
	ID              string     `json:"id"`
	SubmissionID    string     `json:"submission_id"`
	PaymentValue    int64      `json:"payment_value"`
	CommissionValue int64      `json:"commission_value"`
	Indirect        bool       `json:"indirect"`
	PaymentStatus   string     `json:"payment_status"`
	ReceiptURL      string     `json:"receipt_url,omitempty"`
	PaidAt          *time.Time `json:"paid_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

type partnerDashboardView struct {
	Partner      partnerView `json:"partner"`
	Sales        []saleView  `json:"sales"`
	PendingTotal int64       `json:"pending_total"`
	PaidTotal    int64       `json:"paid_total"`
}

func toPartnerDashboardView(d affiliate.PartnerDashboard) partnerDashboardView {
	v := partnerDashboardView{
		Partner:      toPartnerView(d.Partner),
		Sales:        make([]saleView, 0, len(d.Sales)),
		PendingTotal: d.PendingTotal,
		PaidTotal:    d.PaidTotal,
	}
	for _, s := range d.Sales {
		v.Sales = append(v.Sales, saleView{
			ID:                    s.ID,
			SubmissionID:          s.SubmissionID,
			SaleValue:             s.SaleValue,
			CommissionValue:       s.CommissionValue,
			MasterCommissionValue: s.MasterCommissionValue,
			PaymentStatus:         s.PaymentStatus,
			ReceiptURL:            s.ReceiptURL,
			PaidAt:                s.PaidAt,
			CreatedAt:             s.CreatedAt,
		})
	}
	return v
}

type masterDashboardView struct {
	Master       masterView    `json:"master"`
	Usages       []usageView   `json:"usages"`
	Partners     []partnerView `json:"partners"`
	PendingTotal int64         `json:"pending_total"`
	PaidTotal    int64         `json:"paid_total"`
}

func toMasterDashboardView(d affiliate.MasterDashboard) masterDashboardView {
	v := masterDashboardView{
		Master:       toMasterView(d.Master),
		Usages:       make([]usageView, 0, len(d.Usages)),
		Partners:     toPartnerViews(d.Partners),
		PendingTotal: d.PendingTotal,
		PaidTotal:    d.PaidTotal,
	}
	for _, u := range d.Usages {
		v.Usages = append(v.Usages, usageView{
			ID:              u.ID,
			SubmissionID:    u.SubmissionID,
			PaymentValue:    u.PaymentValue,
			CommissionValue: u.CommissionValue,
			Indirect:        u.Indirect,
			PaymentStatus:   u.PaymentStatus,
			ReceiptURL:      u.ReceiptURL,
			PaidAt:          u.PaidAt,
			CreatedAt:       u.CreatedAt,
		})
	}
	return v
}

type settingsView struct {
	PartnerEnabled bool  `json:"partner_enabled"`
	PartnerPrice   int64 `json:"partner_price"`
	MasterEnabled  bool  `json:"master_enabled"`
}

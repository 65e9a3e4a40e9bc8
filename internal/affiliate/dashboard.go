package affiliate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"secscan.app/internal/audit"
	"secscan.app/internal/store"
)

type PartnerDashboard struct {
	Partner      store.Partner
	Sales        []store.PartnerSale
	PendingTotal int64
	PaidTotal    int64
}

type MasterDashboard struct {
	Master       store.MasterPartner
	Usages       []store.CouponUsage
	Partners     []store.Partner
	PendingTotal int64
	PaidTotal    int64
}

// PartnerDashboard returns the partner owned by userID with its sales.
func (s *Service) PartnerDashboard(ctx context.Context, userID string) (PartnerDashboard, error) {
	p, err := s.store.PartnerByUserID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return PartnerDashboard{}, ErrNotAffiliate
	}
	if err != nil {
		return PartnerDashboard{}, err
	}
	sales, err := s.store.SalesByPartner(ctx, p.ID)
	if err != nil {
		return PartnerDashboard{}, fmt.Errorf("list sales: %w", err)
	}
	d := PartnerDashboard{Partner: p, Sales: sales}
	for _, sale := range sales {
		if sale.PaymentStatus == store.PayoutPaid {
			d.PaidTotal += sale.CommissionValue
		} else {
			d.PendingTotal += sale.CommissionValue
		}
	}
	return d, nil
}

// MasterDashboard returns the master owned by userID with usages and sponsored partners.
func (s *Service) MasterDashboard(ctx context.Context, userID string) (MasterDashboard, error) {
	m, err := s.store.MasterByUserID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return MasterDashboard{}, ErrNotAffiliate
	}
	if err != nil {
		return MasterDashboard{}, err
	}
	usages, err := s.store.UsagesByMaster(ctx, m.ID)
	if err != nil {
		return MasterDashboard{}, fmt.Errorf("list usages: %w", err)
	}
	partners, err := s.store.PartnersByMaster(ctx, m.ID)
	if err != nil {
		return MasterDashboard{}, fmt.Errorf("list sponsored partners: %w", err)
	}
	d := MasterDashboard{Master: m, Usages: usages, Partners: partners}
	for _, u := range usages {
		if u.PaymentStatus == store.PayoutPaid {
			d.PaidTotal += u.CommissionValue
		} else {
			d.PendingTotal += u.CommissionValue
		}
	}
	return d, nil
}

func (s *Service) ListPartners(ctx context.Context) ([]store.Partner, error) {
	return s.store.ListPartners(ctx)
}

func (s *Service) ListMasterPartners(ctx context.Context) ([]store.MasterPartner, error) {
	return s.store.ListMasterPartners(ctx)
}

// ErrReceiptRequired is returned when a payout is marked without a receipt.
var ErrReceiptRequired = errors.New("Comprovante é obrigatório")

// MarkSalePaid settles a partner commission.
func (s *Service) MarkSalePaid(ctx context.Context, saleID, receiptURL string) error {
	return s.markPaid(ctx, "partner_sale", saleID, receiptURL, s.store.MarkSalePaid)
}

// MarkUsagePaid settles a master-partner commission.
func (s *Service) MarkUsagePaid(ctx context.Context, usageID, receiptURL string) error {
	return s.markPaid(ctx, "coupon_usage", usageID, receiptURL, s.store.MarkUsagePaid)
}

func (s *Service) markPaid(ctx context.Context, kind, id, receiptURL string, mark func(context.Context, string, string, time.Time) error) error {
	receiptURL = strings.TrimSpace(receiptURL)
	if receiptURL == "" {
		return ErrReceiptRequired
	}
	if err := mark(ctx, id, receiptURL, s.now()); err != nil {
		return mapStoreError(err)
	}
	_ = audit.LogEvent(ctx, kind+".paid", map[string]any{"id": id, "receipt_url": receiptURL})
	return nil
}

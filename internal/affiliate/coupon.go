// Package affiliate holds the coupon, commission and affiliate registration rules.
package affiliate

import (
	"context"
	"errors"
	"fmt"

	"secscan.app/internal/store"
	"secscan.app/internal/validate"
)

// Amounts in centavos.
const (
	ScanPrice                = 1990
	CouponDiscount           = 500
	PartnerCommission        = 500
	MasterDirectCommission   = 1000
	MasterSponsorCommission  = 200
	DefaultRegistrationPrice = 1000
)

// Kind is the origin of a coupon.
type Kind string

const (
	KindPartner Kind = "partner"
	KindMaster  Kind = "master"
	KindSystem  Kind = "system"
)

// reservedCoupons are system coupons; they discount but pay no commission
// and can never be claimed by an affiliate.
var reservedCoupons = map[string]struct{}{
	"cupom10": {},
	"10c":     {},
}

// IsReserved reports whether code is a system coupon, ignoring case and spaces.
func IsReserved(code string) bool {
	_, ok := reservedCoupons[validate.NormalizeCoupon(code)]
	return ok
}

// ErrInvalidCoupon is returned for unknown coupons at checkout.
var ErrInvalidCoupon = errors.New("Cupom inválido")

// Coupon is a resolved coupon code.
type Coupon struct {
	Code            string `json:"code"`
	Kind            Kind   `json:"kind"`
	PartnerID       string `json:"-"`
	MasterPartnerID string `json:"-"`
	Discount        int64  `json:"discount"`
}

// Resolve looks up a coupon in the system list and the coupon registry.
func (s *Service) Resolve(ctx context.Context, raw string) (Coupon, error) {
	code := validate.NormalizeCoupon(raw)
	if code == "" {
		return Coupon{}, ErrInvalidCoupon
	}
	if IsReserved(code) {
		return Coupon{Code: code, Kind: KindSystem, Discount: CouponDiscount}, nil
	}
	kind, err := s.store.CouponOwner(ctx, code)
	if errors.Is(err, store.ErrNotFound) {
		return Coupon{}, ErrInvalidCoupon
	}
	if err != nil {
		return Coupon{}, fmt.Errorf("resolve coupon: %w", err)
	}
	switch kind {
	case store.CouponOwnerPartner:
		p, err := s.store.PartnerByCoupon(ctx, code)
		if err != nil {
			return Coupon{}, fmt.Errorf("resolve partner coupon: %w", err)
		}
		return Coupon{Code: code, Kind: KindPartner, PartnerID: p.ID, MasterPartnerID: p.MasterPartnerID, Discount: CouponDiscount}, nil
	case store.CouponOwnerMaster:
		m, err := s.store.MasterByCoupon(ctx, code)
		if err != nil {
			return Coupon{}, fmt.Errorf("resolve master coupon: %w", err)
		}
		return Coupon{Code: code, Kind: KindMaster, MasterPartnerID: m.ID, Discount: CouponDiscount}, nil
	}
	return Coupon{}, ErrInvalidCoupon
}

// Price returns the amount due for a scan after the coupon discount.
func Price(c Coupon) int64 {
	price := int64(ScanPrice) - c.Discount
	if price < 0 {
		return 0
	}
	return price
}

// Attribute records commission rows for an approved submission. It must be
// called only by the caller that moved the submission to approved; rows that
// already exist are left alone.
func (s *Service) Attribute(ctx context.Context, sub store.Submission) error {
	if sub.CouponCode == "" || IsReserved(sub.CouponCode) {
		return nil
	}
	c, err := s.Resolve(ctx, sub.CouponCode)
	if errors.Is(err, ErrInvalidCoupon) {
		s.log.WithField("coupon", sub.CouponCode).Warn("attribution_unknown_coupon")
		return nil
	}
	if err != nil {
		return err
	}

	switch c.Kind {
	case KindPartner:
		sale := store.PartnerSale{
			PartnerID:       c.PartnerID,
			SubmissionID:    sub.ID,
			SaleValue:       sub.Amount,
			CommissionValue: PartnerCommission,
		}
		if c.MasterPartnerID != "" {
			sale.MasterCommissionValue = MasterSponsorCommission
		}
		if _, err := s.store.CreateSale(ctx, sale); err != nil && !errors.Is(err, store.ErrDuplicate) {
			return fmt.Errorf("record partner sale: %w", err)
		}
		if c.MasterPartnerID != "" {
			if err := s.recordUsage(ctx, c.MasterPartnerID, sub, MasterSponsorCommission, true); err != nil {
				return err
			}
		}
	case KindMaster:
		if err := s.recordUsage(ctx, c.MasterPartnerID, sub, MasterDirectCommission, false); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) recordUsage(ctx context.Context, masterID string, sub store.Submission, commission int64, indirect bool) error {
	_, err := s.store.CreateUsage(ctx, store.CouponUsage{
		MasterPartnerID: masterID,
		SubmissionID:    sub.ID,
		PaymentValue:    sub.Amount,
		CommissionValue: commission,
		Indirect:        indirect,
	})
	if err != nil && !errors.Is(err, store.ErrDuplicate) {
		return fmt.Errorf("record coupon usage: %w", err)
	}
	return nil
}

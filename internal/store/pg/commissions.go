package pg

import (
	"context"
	"database/sql"
	"time"

	"secscan.app/internal/ids"
	"secscan.app/internal/store"
)

const saleColumns = `id, partner_id, submission_id, sale_value, commission_value, master_commission_value,
	payment_status, receipt_url, paid_at, created_at`

const usageColumns = `id, master_partner_id, submission_id, payment_value, commission_value, indirect,
	payment_status, receipt_url, paid_at, created_at`

func scanSale(row scanner) (store.PartnerSale, error) {
	var (
		sale   store.PartnerSale
		paidAt sql.NullTime
	)
	err := row.Scan(&sale.ID, &sale.PartnerID, &sale.SubmissionID, &sale.SaleValue, &sale.CommissionValue,
		&sale.MasterCommissionValue, &sale.PaymentStatus, &sale.ReceiptURL, &paidAt, &sale.CreatedAt)
	if paidAt.Valid {
		sale.PaidAt = &paidAt.Time
	}
	return sale, err
}

func scanUsage(row scanner) (store.CouponUsage, error) {
	var (
		u      store.CouponUsage
		paidAt sql.NullTime
	)
	err := row.Scan(&u.ID, &u.MasterPartnerID, &u.SubmissionID, &u.PaymentValue, &u.CommissionValue, &u.Indirect,
		&u.PaymentStatus, &u.ReceiptURL, &paidAt, &u.CreatedAt)
	if paidAt.Valid {
		u.PaidAt = &paidAt.Time
	}
	return u, err
}

func (s *Store) CreateSale(ctx context.Context, sale store.PartnerSale) (store.PartnerSale, error) {
	if sale.ID == "" {
		sale.ID = ids.New()
	}
	row := s.db.QueryRowContext(ctx, `
		insert into partner_sales (id, partner_id, submission_id, sale_value, commission_value, master_commission_value)
		values ($1, $2, $3, $4, $5, $6)
		returning `+saleColumns,
		sale.ID, sale.PartnerID, sale.SubmissionID, sale.SaleValue, sale.CommissionValue, sale.MasterCommissionValue)
	created, err := scanSale(row)
	if err != nil {
		return store.PartnerSale{}, uniqueViolation(err)
	}
	return created, nil
}

func (s *Store) CreateUsage(ctx context.Context, u store.CouponUsage) (store.CouponUsage, error) {
	if u.ID == "" {
		u.ID = ids.New()
	}
	row := s.db.QueryRowContext(ctx, `
		insert into coupon_usages (id, master_partner_id, submission_id, payment_value, commission_value, indirect)
		values ($1, $2, $3, $4, $5, $6)
		returning `+usageColumns,
		u.ID, u.MasterPartnerID, u.SubmissionID, u.PaymentValue, u.CommissionValue, u.Indirect)
	created, err := scanUsage(row)
	if err != nil {
		return store.CouponUsage{}, uniqueViolation(err)
	}
	return created, nil
}

func (s *Store) SalesByPartner(ctx context.Context, partnerID string) ([]store.PartnerSale, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+saleColumns+` from partner_sales where partner_id = $1 order by created_at desc, id desc
	`, partnerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]store.PartnerSale, 0)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sale)
	}
	return out, rows.Err()
}

func (s *Store) UsagesByMaster(ctx context.Context, masterID string) ([]store.CouponUsage, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+usageColumns+` from coupon_usages where master_partner_id = $1 order by created_at desc, id desc
	`, masterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]store.CouponUsage, 0)
	for rows.Next() {
		u, err := scanUsage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *Store) MarkSalePaid(ctx context.Context, id, receiptURL string, at time.Time) error {
	return s.markPaid(ctx, "partner_sales", id, receiptURL, at)
}

func (s *Store) MarkUsagePaid(ctx context.Context, id, receiptURL string, at time.Time) error {
	return s.markPaid(ctx, "coupon_usages", id, receiptURL, at)
}

// markPaid moves a commission row from pending to paid; table is a literal.
func (s *Store) markPaid(ctx context.Context, table, id, receiptURL string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		update `+table+` set payment_status = 'paid', receipt_url = $2, paid_at = $3
		where id = $1 and payment_status = 'pending'
	`, id, receiptURL, at)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var status string
	err = s.db.QueryRowContext(ctx, `select payment_status from `+table+` where id = $1`, id).Scan(&status)
	if err != nil {
		return notFound(err)
	}
	return store.ErrAlreadyPaid
}

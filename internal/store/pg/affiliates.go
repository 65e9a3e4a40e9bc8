package pg

import (
	"context"
	"database/sql"

	"secscan.app/internal/ids"
	"secscan.app/internal/store"
)

const partnerColumns = `id, user_id, nome, cpf, whatsapp, pix_key, coupon_code,
	coalesce(master_partner_id, ''), coalesce(registration_payment_id, ''), created_at, updated_at`

const masterColumns = `id, user_id, nome, cpf, whatsapp, email, pix_key, coupon_code, created_at, updated_at`

func scanPartner(row scanner) (store.Partner, error) {
	var p store.Partner
	err := row.Scan(&p.ID, &p.UserID, &p.Nome, &p.CPF, &p.WhatsApp, &p.PixKey, &p.CouponCode,
		&p.MasterPartnerID, &p.RegistrationPaymentID, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func scanMaster(row scanner) (store.MasterPartner, error) {
	var m store.MasterPartner
	err := row.Scan(&m.ID, &m.UserID, &m.Nome, &m.CPF, &m.WhatsApp, &m.Email, &m.PixKey, &m.CouponCode, &m.CreatedAt, &m.UpdatedAt)
	return m, err
}

func (s *Store) CouponOwner(ctx context.Context, code string) (string, error) {
	var kind string
	err := s.db.QueryRowContext(ctx, `select owner_kind from coupon_codes where code = $1`, code).Scan(&kind)
	if err != nil {
		return "", notFound(err)
	}
	return kind, nil
}

// CreatePartner inserts the partner and claims its coupon in the registry
// within one transaction so coupons stay unique across both affiliate tables.
func (s *Store) CreatePartner(ctx context.Context, p store.Partner) (store.Partner, error) {
	if p.ID == "" {
		p.ID = ids.New()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return store.Partner{}, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		insert into partners (id, user_id, nome, cpf, whatsapp, pix_key, coupon_code, master_partner_id, registration_payment_id)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		returning `+partnerColumns,
		p.ID, p.UserID, p.Nome, p.CPF, p.WhatsApp, p.PixKey, p.CouponCode,
		nullIfEmpty(p.MasterPartnerID), nullIfEmpty(p.RegistrationPaymentID))
	created, err := scanPartner(row)
	if err != nil {
		return store.Partner{}, uniqueViolation(err)
	}
	if err := claimCoupon(ctx, tx, p.CouponCode, store.CouponOwnerPartner); err != nil {
		return store.Partner{}, err
	}
	if err := tx.Commit(); err != nil {
		return store.Partner{}, err
	}
	return created, nil
}

func claimCoupon(ctx context.Context, tx *sql.Tx, code, kind string) error {
	if _, err := tx.ExecContext(ctx, `insert into coupon_codes (code, owner_kind) values ($1, $2)`, code, kind); err != nil {
		return uniqueViolation(err)
	}
	return nil
}

func (s *Store) PartnerByCoupon(ctx context.Context, code string) (store.Partner, error) {
	p, err := scanPartner(s.db.QueryRowContext(ctx, `select `+partnerColumns+` from partners where coupon_code = $1`, code))
	if err != nil {
		return store.Partner{}, notFound(err)
	}
	return p, nil
}

func (s *Store) PartnerByUserID(ctx context.Context, userID string) (store.Partner, error) {
	p, err := scanPartner(s.db.QueryRowContext(ctx, `select `+partnerColumns+` from partners where user_id = $1`, userID))
	if err != nil {
		return store.Partner{}, notFound(err)
	}
	return p, nil
}

func (s *Store) ListPartners(ctx context.Context) ([]store.Partner, error) {
	return s.queryPartners(ctx, `select `+partnerColumns+` from partners order by created_at desc, id desc`)
}

func (s *Store) PartnersByMaster(ctx context.Context, masterID string) ([]store.Partner, error) {
	return s.queryPartners(ctx, `select `+partnerColumns+` from partners where master_partner_id = $1 order by created_at desc, id desc`, masterID)
}

func (s *Store) queryPartners(ctx context.Context, q string, args ...any) ([]store.Partner, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]store.Partner, 0)
	for rows.Next() {
		p, err := scanPartner(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) CreateMasterPartner(ctx context.Context, m store.MasterPartner) (store.MasterPartner, error) {
	if m.ID == "" {
		m.ID = ids.New()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return store.MasterPartner{}, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		insert into master_partners (id, user_id, nome, cpf, whatsapp, email, pix_key, coupon_code)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
		returning `+masterColumns,
		m.ID, m.UserID, m.Nome, m.CPF, m.WhatsApp, m.Email, m.PixKey, m.CouponCode)
	created, err := scanMaster(row)
	if err != nil {
		return store.MasterPartner{}, uniqueViolation(err)
	}
	if err := claimCoupon(ctx, tx, m.CouponCode, store.CouponOwnerMaster); err != nil {
		return store.MasterPartner{}, err
	}
	if err := tx.Commit(); err != nil {
		return store.MasterPartner{}, err
	}
	return created, nil
}

func (s *Store) MasterByCoupon(ctx context.Context, code string) (store.MasterPartner, error) {
	return s.masterWhere(ctx, "coupon_code", code)
}

func (s *Store) MasterByID(ctx context.Context, id string) (store.MasterPartner, error) {
	return s.masterWhere(ctx, "id", id)
}

func (s *Store) MasterByUserID(ctx context.Context, userID string) (store.MasterPartner, error) {
	return s.masterWhere(ctx, "user_id", userID)
}

// column is always a literal from this file.
func (s *Store) masterWhere(ctx context.Context, column, value string) (store.MasterPartner, error) {
	m, err := scanMaster(s.db.QueryRowContext(ctx, `select `+masterColumns+` from master_partners where `+column+` = $1`, value))
	if err != nil {
		return store.MasterPartner{}, notFound(err)
	}
	return m, nil
}

func (s *Store) ListMasterPartners(ctx context.Context) ([]store.MasterPartner, error) {
	rows, err := s.db.QueryContext(ctx, `select `+masterColumns+` from master_partners order by created_at desc, id desc`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]store.MasterPartner, 0)
	for rows.Next() {
		m, err := scanMaster(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}


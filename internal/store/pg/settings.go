package pg

import (
	"context"
	"database/sql"
	"errors"

	"secscan.app/internal/store"
)

// Settings live in a single row with id = 1, seeded by the migrations.

func (s *Store) RegistrationSettings(ctx context.Context) (store.RegistrationSettings, error) {
	var st store.RegistrationSettings
	err := s.db.QueryRowContext(ctx, `
		select partner_enabled, partner_price, master_enabled from registration_settings where id = 1
	`).Scan(&st.PartnerEnabled, &st.PartnerPrice, &st.MasterEnabled)
	if errors.Is(err, sql.ErrNoRows) {
		return store.DefaultRegistrationSettings(), nil
	}
	return st, err
}

func (s *Store) UpdateRegistrationSettings(ctx context.Context, st store.RegistrationSettings) error {
	_, err := s.db.ExecContext(ctx, `
		insert into registration_settings (id, partner_enabled, partner_price, master_enabled)
		values (1, $1, $2, $3)
		on conflict (id) do update
		set partner_enabled = excluded.partner_enabled,
		    partner_price = excluded.partner_price,
		    master_enabled = excluded.master_enabled
	`, st.PartnerEnabled, st.PartnerPrice, st.MasterEnabled)
	return err
}

func (s *Store) ClaimMasterRegistration(ctx context.Context) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		update registration_settings set master_enabled = false where id = 1 and master_enabled = true
	`)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *Store) ReopenMasterRegistration(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `update registration_settings set master_enabled = true where id = 1`)
	return err
}

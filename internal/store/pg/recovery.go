package pg

import (
	"context"
	"strings"
	"time"

	"secscan.app/internal/ids"
	"secscan.app/internal/store"
)

const recoveryColumns = `id, user_id, email, code_hash, attempts, max_attempts, expires_at, used, created_at`

func scanRecovery(row scanner) (store.RecoveryCode, error) {
	var rc store.RecoveryCode
	err := row.Scan(&rc.ID, &rc.UserID, &rc.Email, &rc.CodeHash, &rc.Attempts, &rc.MaxAttempts, &rc.ExpiresAt, &rc.Used, &rc.CreatedAt)
	return rc, err
}

func (s *Store) CreateRecoveryCode(ctx context.Context, rc store.RecoveryCode) (store.RecoveryCode, error) {
	if rc.ID == "" {
		rc.ID = ids.New()
	}
	row := s.db.QueryRowContext(ctx, `
		insert into recovery_codes (id, user_id, email, code_hash, attempts, max_attempts, expires_at, used)
		values ($1, $2, $3, $4, 0, $5, $6, false)
		returning `+recoveryColumns,
		rc.ID, rc.UserID, strings.ToLower(strings.TrimSpace(rc.Email)), rc.CodeHash, rc.MaxAttempts, rc.ExpiresAt)
	return scanRecovery(row)
}

func (s *Store) ActiveRecoveryCode(ctx context.Context, email string, now time.Time) (store.RecoveryCode, error) {
	rc, err := scanRecovery(s.db.QueryRowContext(ctx, `
		select `+recoveryColumns+`
		from recovery_codes
		where email = $1 and used = false and expires_at > $2
		order by created_at desc, id desc
		limit 1
	`, strings.ToLower(strings.TrimSpace(email)), now))
	if err != nil {
		return store.RecoveryCode{}, notFound(err)
	}
	return rc, nil
}

func (s *Store) RecoveryCodeByID(ctx context.Context, id string) (store.RecoveryCode, error) {
	rc, err := scanRecovery(s.db.QueryRowContext(ctx, `select `+recoveryColumns+` from recovery_codes where id = $1`, id))
	if err != nil {
		return store.RecoveryCode{}, notFound(err)
	}
	return rc, nil
}

func (s *Store) IncrementRecoveryAttempts(ctx context.Context, id string) (int, error) {
	var attempts int
	err := s.db.QueryRowContext(ctx, `
		update recovery_codes set attempts = attempts + 1 where id = $1 returning attempts
	`, id).Scan(&attempts)
	if err != nil {
		return 0, notFound(err)
	}
	return attempts, nil
}

func (s *Store) MarkRecoveryCodeUsed(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `update recovery_codes set used = true where id = $1`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

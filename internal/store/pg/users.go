package pg

import (
	"context"
	"strings"

	"secscan.app/internal/ids"
	"secscan.app/internal/store"
)

const userColumns = `id, email, password_hash, nome, whatsapp, role, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (store.User, error) {
	var u store.User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Nome, &u.WhatsApp, &u.Role, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

func (s *Store) CreateUser(ctx context.Context, u store.User) (store.User, error) {
	if u.ID == "" {
		u.ID = ids.New()
	}
	row := s.db.QueryRowContext(ctx, `
		insert into users (id, email, password_hash, nome, whatsapp, role)
		values ($1, $2, $3, $4, $5, $6)
		returning `+userColumns,
		u.ID, strings.ToLower(strings.TrimSpace(u.Email)), u.PasswordHash, u.Nome, u.WhatsApp, string(u.Role))
	created, err := scanUser(row)
	if err != nil {
		return store.User{}, uniqueViolation(err)
	}
	return created, nil
}

func (s *Store) UserByID(ctx context.Context, id string) (store.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `select `+userColumns+` from users where id = $1`, id))
	if err != nil {
		return store.User{}, notFound(err)
	}
	return u, nil
}

func (s *Store) UserByEmail(ctx context.Context, email string) (store.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `select `+userColumns+` from users where email = $1`,
		strings.ToLower(strings.TrimSpace(email))))
	if err != nil {
		return store.User{}, notFound(err)
	}
	return u, nil
}

func (s *Store) UpdatePassword(ctx context.Context, userID, hash string) error {
	res, err := s.db.ExecContext(ctx, `update users set password_hash = $2, updated_at = now() where id = $1`, userID, hash)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from users where id = $1`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

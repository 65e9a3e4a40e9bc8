package pg

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"

	"secscan.app/internal/ids"
	"secscan.app/internal/store"
)

const submissionColumns = `id, nome, email, whatsapp, url, analysis_status, contact_status, payment_status,
	coalesce(payment_id, ''), coupon_code, amount, coalesce(user_id, ''), created_at, updated_at`

func scanSubmission(row scanner) (store.Submission, error) {
	var sub store.Submission
	err := row.Scan(&sub.ID, &sub.Nome, &sub.Email, &sub.WhatsApp, &sub.URL, &sub.AnalysisStatus, &sub.ContactStatus,
		&sub.PaymentStatus, &sub.PaymentID, &sub.CouponCode, &sub.Amount, &sub.UserID, &sub.CreatedAt, &sub.UpdatedAt)
	return sub, err
}

func (s *Store) CreateSubmission(ctx context.Context, sub store.Submission) (store.Submission, error) {
	if sub.ID == "" {
		sub.ID = ids.New()
	}
	if sub.AnalysisStatus == "" {
		sub.AnalysisStatus = store.AnalysisPending
	}
	if sub.ContactStatus == "" {
		sub.ContactStatus = store.ContactPending
	}
	row := s.db.QueryRowContext(ctx, `
		insert into submissions (id, nome, email, whatsapp, url, analysis_status, contact_status,
			payment_status, payment_id, coupon_code, amount, user_id)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		returning `+submissionColumns,
		sub.ID, sub.Nome, sub.Email, sub.WhatsApp, sub.URL, sub.AnalysisStatus, sub.ContactStatus,
		sub.PaymentStatus, nullIfEmpty(sub.PaymentID), sub.CouponCode, sub.Amount, nullIfEmpty(sub.UserID))
	created, err := scanSubmission(row)
	if err != nil {
		return store.Submission{}, uniqueViolation(err)
	}
	return created, nil
}

func (s *Store) SubmissionByID(ctx context.Context, id string) (store.Submission, error) {
	sub, err := scanSubmission(s.db.QueryRowContext(ctx, `select `+submissionColumns+` from submissions where id = $1`, id))
	if err != nil {
		return store.Submission{}, notFound(err)
	}
	return sub, nil
}

func (s *Store) SubmissionByPaymentID(ctx context.Context, paymentID string) (store.Submission, error) {
	sub, err := scanSubmission(s.db.QueryRowContext(ctx, `select `+submissionColumns+` from submissions where payment_id = $1`, paymentID))
	if err != nil {
		return store.Submission{}, notFound(err)
	}
	return sub, nil
}

func (s *Store) AttachPayment(ctx context.Context, id, paymentID string) error {
	res, err := s.db.ExecContext(ctx, `
		update submissions set payment_id = $2, payment_status = 'pending', updated_at = now()
		where id = $1
	`, id, paymentID)
	if err != nil {
		return uniqueViolation(err)
	}
	return requireRow(res)
}

func (s *Store) MarkApproved(ctx context.Context, paymentID string) (store.Submission, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		update submissions set payment_status = 'approved', updated_at = now()
		where payment_id = $1 and payment_status <> 'approved'
		returning `+submissionColumns, paymentID)
	sub, err := scanSubmission(row)
	if err == nil {
		return sub, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return store.Submission{}, false, err
	}
	// Either already approved or unknown.
	sub, err = s.SubmissionByPaymentID(ctx, paymentID)
	if err != nil {
		return store.Submission{}, false, err
	}
	return sub, false, nil
}

func (s *Store) SetPaymentStatus(ctx context.Context, paymentID, status string) error {
	res, err := s.db.ExecContext(ctx, `
		update submissions set payment_status = $2, updated_at = now()
		where payment_id = $1 and payment_status <> 'approved'
	`, paymentID, status)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		_, err := s.SubmissionByPaymentID(ctx, paymentID)
		return err
	}
	return nil
}

func (s *Store) ListSubmissions(ctx context.Context, f store.SubmissionFilter) ([]store.Submission, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond, val string) {
		args = append(args, val)
		where = append(where, strings.Replace(cond, "?", "$"+strconv.Itoa(len(args)), 1))
	}
	if f.PaymentStatus != "" {
		add("payment_status = ?", f.PaymentStatus)
	}
	if f.NotPaymentStatus != "" {
		add("payment_status <> ?", f.NotPaymentStatus)
	}
	if f.Analysis != "" {
		add("analysis_status = ?", f.Analysis)
	}
	if f.UserID != "" {
		add("user_id = ?", f.UserID)
	}
	q := `select ` + submissionColumns + ` from submissions`
	if len(where) > 0 {
		q += ` where ` + strings.Join(where, " and ")
	}
	q += ` order by created_at desc, id desc`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]store.Submission, 0)
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *Store) UpdateSubmissionStatus(ctx context.Context, id, analysis, contact string) (store.Submission, error) {
	row := s.db.QueryRowContext(ctx, `
		update submissions
		set analysis_status = coalesce(nullif($2, ''), analysis_status),
		    contact_status = coalesce(nullif($3, ''), contact_status),
		    updated_at = now()
		where id = $1
		returning `+submissionColumns, id, analysis, contact)
	sub, err := scanSubmission(row)
	if err != nil {
		return store.Submission{}, notFound(err)
	}
	return sub, nil
}

func (s *Store) DeleteSubmission(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from submissions where id = $1`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *Store) SubmissionStats(ctx context.Context) (store.SubmissionStats, error) {
	var st store.SubmissionStats
	err := s.db.QueryRowContext(ctx, `
		select count(*),
		       count(*) filter (where analysis_status = 'pending'),
		       count(*) filter (where analysis_status = 'vulnerable'),
		       count(*) filter (where analysis_status = 'safe')
		from submissions
		where payment_status = 'approved'
	`).Scan(&st.Total, &st.Pending, &st.Vulnerable, &st.Safe)
	return st, err
}

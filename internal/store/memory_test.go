package store

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"secscan.app/internal/auth"
)

func TestMarkApprovedTransitionsOnce(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	sub, _ := s.CreateSubmission(ctx, Submission{Nome: "Ana", Amount: 1990})
	if err := s.AttachPayment(ctx, sub.ID, "pay-1"); err != nil {
		t.Fatal(err)
	}

	var transitions int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok, err := s.MarkApproved(ctx, "pay-1"); err == nil && ok {
				atomic.AddInt32(&transitions, 1)
			}
		}()
	}
	wg.Wait()
	if transitions != 1 {
		t.Fatalf("expected exactly one transition, got %d", transitions)
	}
	if err := s.SetPaymentStatus(ctx, "pay-1", PaymentCancelled); err != nil {
		t.Fatal(err)
	}
	got, _ := s.SubmissionByPaymentID(ctx, "pay-1")
	if got.PaymentStatus != PaymentApproved {
		t.Fatalf("approved submission was overwritten: %q", got.PaymentStatus)
	}
}

func TestCouponRegistrySpansPartnersAndMasters(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	if _, err := s.CreateMasterPartner(ctx, MasterPartner{CPF: "11111111111", CouponCode: "mestre"}); err != nil {
		t.Fatal(err)
	}
	_, err := s.CreatePartner(ctx, Partner{CPF: "22222222222", CouponCode: "mestre"})
	if !errors.Is(err, ErrCouponTaken) {
		t.Fatalf("expected ErrCouponTaken, got %v", err)
	}
	kind, err := s.CouponOwner(ctx, "mestre")
	if err != nil || kind != CouponOwnerMaster {
		t.Fatalf("CouponOwner = %q, %v", kind, err)
	}
}

func TestPartnerUniqueness(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	if _, err := s.CreatePartner(ctx, Partner{CPF: "22222222222", CouponCode: "joao", RegistrationPaymentID: "reg-1"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.CreatePartner(ctx, Partner{CPF: "22222222222", CouponCode: "outro"}); !errors.Is(err, ErrCPFTaken) {
		t.Fatalf("expected ErrCPFTaken, got %v", err)
	}
	if _, err := s.CreatePartner(ctx, Partner{CPF: "33333333333", CouponCode: "outro", RegistrationPaymentID: "reg-1"}); !errors.Is(err, ErrPaymentUsed) {
		t.Fatalf("expected ErrPaymentUsed, got %v", err)
	}
}

func TestUserEmailIsCaseInsensitive(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	if _, err := s.CreateUser(ctx, User{Email: "Ana@Example.com", Role: auth.RoleUser}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.CreateUser(ctx, User{Email: "ana@example.com", Role: auth.RoleUser}); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
	if _, err := s.UserByEmail(ctx, " ANA@example.com "); err != nil {
		t.Fatalf("UserByEmail: %v", err)
	}
}

func TestMarkSalePaidOnlyFromPending(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	sale, _ := s.CreateSale(ctx, PartnerSale{PartnerID: "p", SubmissionID: "sub", SaleValue: 1490, CommissionValue: 500})
	if _, err := s.CreateSale(ctx, PartnerSale{PartnerID: "p", SubmissionID: "sub"}); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	if err := s.MarkSalePaid(ctx, sale.ID, "https://r/1", time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkSalePaid(ctx, sale.ID, "https://r/2", time.Now()); !errors.Is(err, ErrAlreadyPaid) {
		t.Fatalf("expected ErrAlreadyPaid, got %v", err)
	}
}

func TestActiveRecoveryCodeSkipsUsedAndExpired(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	now := time.Now().UTC()
	expired, _ := s.CreateRecoveryCode(ctx, RecoveryCode{Email: "a@x.com", ExpiresAt: now.Add(-time.Minute), MaxAttempts: 5})
	used, _ := s.CreateRecoveryCode(ctx, RecoveryCode{Email: "a@x.com", ExpiresAt: now.Add(time.Minute), MaxAttempts: 5})
	_ = s.MarkRecoveryCodeUsed(ctx, used.ID)

	if _, err := s.ActiveRecoveryCode(ctx, "a@x.com", now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v (expired=%s)", err, expired.ID)
	}
	live, _ := s.CreateRecoveryCode(ctx, RecoveryCode{Email: "A@x.com", ExpiresAt: now.Add(time.Minute), MaxAttempts: 5})
	got, err := s.ActiveRecoveryCode(ctx, "a@x.com", now)
	if err != nil || got.ID != live.ID {
		t.Fatalf("ActiveRecoveryCode = %+v, %v", got, err)
	}
}

func TestClaimMasterRegistration(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	ok, _ := s.ClaimMasterRegistration(ctx)
	if !ok {
		t.Fatal("first claim should succeed")
	}
	ok, _ = s.ClaimMasterRegistration(ctx)
	if ok {
		t.Fatal("second claim should fail")
	}
	_ = s.ReopenMasterRegistration(ctx)
	if st, _ := s.RegistrationSettings(ctx); !st.MasterEnabled {
		t.Fatal("expected master registration reopened")
	}
}

func TestListSubmissionsFilters(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	a, _ := s.CreateSubmission(ctx, Submission{Nome: "A", UserID: "u1"})
	b, _ := s.CreateSubmission(ctx, Submission{Nome: "B"})
	_ = s.AttachPayment(ctx, a.ID, "pa")
	_ = s.AttachPayment(ctx, b.ID, "pb")
	_, _, _ = s.MarkApproved(ctx, "pa")
	_, _ = s.UpdateSubmissionStatus(ctx, a.ID, AnalysisVulnerable, "")

	approved, _ := s.ListSubmissions(ctx, SubmissionFilter{PaymentStatus: PaymentApproved})
	if len(approved) != 1 || approved[0].ID != a.ID {
		t.Fatalf("approved = %+v", approved)
	}
	remarketing, _ := s.ListSubmissions(ctx, SubmissionFilter{NotPaymentStatus: PaymentApproved})
	if len(remarketing) != 1 || remarketing[0].ID != b.ID {
		t.Fatalf("remarketing = %+v", remarketing)
	}
	mine, _ := s.ListSubmissions(ctx, SubmissionFilter{UserID: "u1"})
	if len(mine) != 1 {
		t.Fatalf("mine = %+v", mine)
	}
	st, _ := s.SubmissionStats(ctx)
	if st.Total != 1 || st.Vulnerable != 1 {
		t.Fatalf("stats = %+v", st)
	}
}

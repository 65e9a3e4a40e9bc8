package accounts

import (
	"context"
	"errors"
	"testing"
	"time"

	"secscan.app/internal/auth"
	"secscan.app/internal/store"
	"secscan.app/internal/validate"
)

func newService(t *testing.T) (*Service, *store.InMemory, *auth.Issuer) {
	t.Helper()
	issuer, err := auth.NewIssuer("test-secret", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	st := store.NewInMemory()
	return NewService(st, issuer, validate.New()), st, issuer
}

func TestSignupAndLogin(t *testing.T) {
	svc, _, issuer := newService(t)
	ctx := context.Background()

	sess, err := svc.Signup(ctx, SignupRequest{Nome: "Ana", Email: " Ana@X.com ", WhatsApp: "(11) 99999-9999", Password: "segredo123"})
	if err != nil {
		t.Fatalf("Signup: %v", err)
	}
	if sess.Role != auth.RoleUser || sess.Email != "ana@x.com" || sess.Token == "" {
		t.Fatalf("unexpected session: %+v", sess)
	}
	p, err := issuer.Parse(sess.Token)
	if err != nil || p.UserID != sess.UserID || p.Role != auth.RoleUser {
		t.Fatalf("token does not carry the user: %+v %v", p, err)
	}

	if _, err := svc.Signup(ctx, SignupRequest{Nome: "Ana", Email: "ana@x.com", Password: "segredo123"}); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}

	login, err := svc.Login(ctx, LoginRequest{Email: "ANA@x.com", Password: "segredo123"})
	if err != nil || login.UserID != sess.UserID {
		t.Fatalf("Login: %+v %v", login, err)
	}
	if _, err := svc.Login(ctx, LoginRequest{Email: "ana@x.com", Password: "errada123"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := svc.Login(ctx, LoginRequest{Email: "ninguem@x.com", Password: "segredo123"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown email, got %v", err)
	}
}

func TestSignupValidation(t *testing.T) {
	svc, _, _ := newService(t)
	cases := []struct {
		name string
		req  SignupRequest
		msg  string
	}{
		{"short name", SignupRequest{Nome: "A", Email: "a@x.com", Password: "segredo123"}, "Nome deve ter entre 2 e 100 caracteres"},
		{"bad email", SignupRequest{Nome: "Ana", Email: "ana", Password: "segredo123"}, "E-mail inválido"},
		{"short password", SignupRequest{Nome: "Ana", Email: "a@x.com", Password: "123"}, "A senha deve ter no mínimo 8 caracteres"},
		{"bad whatsapp", SignupRequest{Nome: "Ana", Email: "a@x.com", WhatsApp: "123", Password: "segredo123"}, "WhatsApp inválido"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Signup(context.Background(), tc.req)
			if !errors.Is(err, validate.ErrInvalid) || err.Error() != tc.msg {
				t.Fatalf("expected %q, got %v", tc.msg, err)
			}
		})
	}
}

func TestEnsureAdmin(t *testing.T) {
	svc, st, _ := newService(t)
	ctx := context.Background()

	if err := svc.EnsureAdmin(ctx, "", ""); err != nil {
		t.Fatalf("empty bootstrap must be a no-op: %v", err)
	}
	if err := svc.EnsureAdmin(ctx, "admin@secscan.app", "fraca"); err == nil {
		t.Fatal("expected weak password to be rejected")
	}
	if err := svc.EnsureAdmin(ctx, "admin@secscan.app", "Adm1n!forte"); err != nil {
		t.Fatalf("EnsureAdmin: %v", err)
	}
	if err := svc.EnsureAdmin(ctx, "admin@secscan.app", "Adm1n!forte"); err != nil {
		t.Fatalf("second EnsureAdmin: %v", err)
	}
	u, err := st.UserByEmail(ctx, "admin@secscan.app")
	if err != nil || u.Role != auth.RoleAdmin {
		t.Fatalf("admin not created: %+v %v", u, err)
	}
	sess, err := svc.Login(ctx, LoginRequest{Email: "admin@secscan.app", Password: "Adm1n!forte"})
	if err != nil || sess.Role != auth.RoleAdmin {
		t.Fatalf("admin login: %+v %v", sess, err)
	}
}

func TestSubmissionsScopedToUser(t *testing.T) {
	svc, st, _ := newService(t)
	ctx := context.Background()
	_, _ = st.CreateSubmission(ctx, store.Submission{Nome: "Ana", URL: "https://a.dev", UserID: "u1"})
	_, _ = st.CreateSubmission(ctx, store.Submission{Nome: "Bia", URL: "https://b.dev", UserID: "u2"})

	subs, err := svc.Submissions(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(subs) != 1 || subs[0].UserID != "u1" {
		t.Fatalf("unexpected submissions: %+v", subs)
	}
}

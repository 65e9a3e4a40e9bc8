package payment_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"secscan.app/internal/payment"
	"secscan.app/internal/payment/paymenttest"
)

func newClient(srv *paymenttest.Server) *payment.MercadoPago {
	return payment.NewMercadoPago("TEST-token", "TEST-public", 2*time.Second, payment.WithBaseURL(srv.URL))
}

func TestCreatePixSendsChargeAndParsesQR(t *testing.T) {
	srv := paymenttest.NewServer()
	defer srv.Close()

	p, err := newClient(srv).CreatePix(context.Background(), payment.Charge{
		Amount:            1990,
		Description:       "Teste de Segurança - SecScan",
		PayerEmail:        "ana@example.com",
		PayerName:         "Ana",
		ExternalReference: "sub-1",
	})
	if err != nil {
		t.Fatalf("CreatePix: %v", err)
	}
	if p.ID == "" || p.Status != payment.StatusPending || p.Amount != 1990 {
		t.Fatalf("unexpected payment: %+v", p)
	}
	if p.QRCode == "" || p.QRCodeBase64 == "" || p.ExpiresAt == nil {
		t.Fatalf("missing qr data: %+v", p)
	}

	reqs := srv.Requests()
	if len(reqs) != 1 {
		t.Fatalf("expected one request, got %d", len(reqs))
	}
	if reqs[0]["payment_method_id"] != "pix" || reqs[0]["transaction_amount"] != 19.9 {
		t.Fatalf("unexpected body: %v", reqs[0])
	}
	if keys := srv.IdempotencyKeys(); keys[0] == "" {
		t.Fatal("missing idempotency key")
	}
}

func TestCreatePixRendersQRWhenMissing(t *testing.T) {
	srv := paymenttest.NewServer()
	defer srv.Close()
	srv.OmitQRImage()

	p, err := newClient(srv).CreatePix(context.Background(), payment.Charge{Amount: 1000, PayerEmail: "a@x.com"})
	if err != nil {
		t.Fatalf("CreatePix: %v", err)
	}
	if p.QRCodeBase64 == "" {
		t.Fatal("expected rendered qr image")
	}
}

func TestCreatePixSurfacesProcessorMessage(t *testing.T) {
	srv := paymenttest.NewServer()
	defer srv.Close()
	srv.FailNext(http.StatusBadRequest, "payer.email must be a valid email")

	_, err := newClient(srv).CreatePix(context.Background(), payment.Charge{Amount: 1990, PayerEmail: "x"})
	var apiErr *payment.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest || apiErr.Message != "payer.email must be a valid email" {
		t.Fatalf("unexpected api error: %+v", apiErr)
	}
}

func TestNotConfigured(t *testing.T) {
	mp := payment.NewMercadoPago("", "", time.Second)
	if _, err := mp.CreatePix(context.Background(), payment.Charge{Amount: 1990}); !errors.Is(err, payment.ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if _, err := mp.GetPayment(context.Background(), "1"); !errors.Is(err, payment.ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestGetPaymentStatus(t *testing.T) {
	srv := paymenttest.NewServer()
	defer srv.Close()
	srv.SetStatus("777", "cancelled", "expired")

	p, err := newClient(srv).GetPayment(context.Background(), "777")
	if err != nil {
		t.Fatalf("GetPayment: %v", err)
	}
	if p.ID != "777" || !p.Expired() {
		t.Fatalf("expected expired payment, got %+v", p)
	}

	_, err = newClient(srv).GetPayment(context.Background(), "404")
	var apiErr *payment.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 APIError, got %v", err)
	}
}

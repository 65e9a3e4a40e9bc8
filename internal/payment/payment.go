// Package payment talks to the PIX payment processor.
package payment

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	qrcode "github.com/skip2/go-qrcode"
)

// Processor statuses the service reacts to.
const (
	StatusPending   = "pending"
	StatusApproved  = "approved"
	StatusRejected  = "rejected"
	StatusCancelled = "cancelled"
	StatusExpired   = "expired"
)

// ErrNotConfigured is returned when the processor access token is missing.
var ErrNotConfigured = errors.New("payment configuration error")

// APIError carries a non-2xx processor response. Message is shown to callers as-is.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("payment processor error (%d): %s", e.StatusCode, e.Message)
}

// Charge describes a PIX charge to mint. Amount is in centavos.
type Charge struct {
	Amount            int64
	Description       string
	PayerEmail        string
	PayerName         string
	ExternalReference string
	Metadata          map[string]any
}

// Payment is the processor view of a charge.
type Payment struct {
	ID           string
	Status       string
	StatusDetail string
	Amount       int64
	QRCode       string
	QRCodeBase64 string
	TicketURL    string
	ExpiresAt    *time.Time
}

// Expired reports whether the processor cancelled the charge because its PIX window closed.
func (p Payment) Expired() bool {
	return p.Status == StatusExpired || (p.Status == StatusCancelled && p.StatusDetail == "expired")
}

// Processor is the subset of the payment API the service uses.
type Processor interface {
	CreatePix(ctx context.Context, c Charge) (Payment, error)
	GetPayment(ctx context.Context, id string) (Payment, error)
	PublicKey() string
}

// qrPNGSize is the edge length of the fallback QR image.
const qrPNGSize = 256

// ensureQRImage renders the copy-and-paste payload as a PNG when the processor did not.
func ensureQRImage(p *Payment) error {
	if p.QRCodeBase64 != "" || p.QRCode == "" {
		return nil
	}
	png, err := qrcode.Encode(p.QRCode, qrcode.Medium, qrPNGSize)
	if err != nil {
		return fmt.Errorf("render qr code: %w", err)
	}
	p.QRCodeBase64 = base64.StdEncoding.EncodeToString(png)
	return nil
}

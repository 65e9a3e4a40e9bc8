package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

const defaultBaseURL = "https://api.mercadopago.com"

// MercadoPago is a Processor backed by the Mercado Pago payments API.
type MercadoPago struct {
	baseURL     string
	accessToken string
	publicKey   string
	client      *http.Client
	newKey      func() string
}

// MercadoPagoOption configures the client.
type MercadoPagoOption func(*MercadoPago)

// WithBaseURL points the client at another API host (tests, sandbox proxies).
func WithBaseURL(base string) MercadoPagoOption {
	return func(m *MercadoPago) {
		if base = strings.TrimRight(strings.TrimSpace(base), "/"); base != "" {
			m.baseURL = base
		}
	}
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) MercadoPagoOption {
	return func(m *MercadoPago) {
		if c != nil {
			m.client = c
		}
	}
}

// WithIdempotencyKeys overrides the X-Idempotency-Key generator.
func WithIdempotencyKeys(fn func() string) MercadoPagoOption {
	return func(m *MercadoPago) {
		if fn != nil {
			m.newKey = fn
		}
	}
}

// NewMercadoPago builds the client. An empty access token is allowed; calls then
// fail with ErrNotConfigured so the service can still start.
func NewMercadoPago(accessToken, publicKey string, timeout time.Duration, opts ...MercadoPagoOption) *MercadoPago {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	m := &MercadoPago{
		baseURL:     defaultBaseURL,
		accessToken: strings.TrimSpace(accessToken),
		publicKey:   strings.TrimSpace(publicKey),
		client:      &http.Client{Timeout: timeout},
		newKey:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *MercadoPago) PublicKey() string { return m.publicKey }

type mpPayer struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name,omitempty"`
}

type mpCreateRequest struct {
	TransactionAmount float64        `json:"transaction_amount"`
	Description       string         `json:"description"`
	PaymentMethodID   string         `json:"payment_method_id"`
	Payer             mpPayer        `json:"payer"`
	ExternalReference string         `json:"external_reference,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
}

// mpID accepts the numeric ids the API returns as well as string ids.
type mpID string

func (id *mpID) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "null" {
		s = ""
	}
	*id = mpID(s)
	return nil
}

type mpPayment struct {
	ID                 mpID       `json:"id"`
	Status             string     `json:"status"`
	StatusDetail       string     `json:"status_detail"`
	TransactionAmount  float64    `json:"transaction_amount"`
	DateOfExpiration   *time.Time `json:"date_of_expiration"`
	PointOfInteraction struct {
		TransactionData struct {
			QRCode       string `json:"qr_code"`
			QRCodeBase64 string `json:"qr_code_base64"`
			TicketURL    string `json:"ticket_url"`
		} `json:"transaction_data"`
	} `json:"point_of_interaction"`
}

func (p mpPayment) toPayment() Payment {
	td := p.PointOfInteraction.TransactionData
	return Payment{
		ID:           string(p.ID),
		Status:       p.Status,
		StatusDetail: p.StatusDetail,
		Amount:       int64(math.Round(p.TransactionAmount * 100)),
		QRCode:       td.QRCode,
		QRCodeBase64: td.QRCodeBase64,
		TicketURL:    td.TicketURL,
		ExpiresAt:    p.DateOfExpiration,
	}
}

// CreatePix mints a PIX charge.
func (m *MercadoPago) CreatePix(ctx context.Context, c Charge) (Payment, error) {
	if m.accessToken == "" {
		return Payment{}, ErrNotConfigured
	}
	if c.Amount <= 0 {
		return Payment{}, fmt.Errorf("charge amount must be positive")
	}
	body := mpCreateRequest{
		TransactionAmount: float64(c.Amount) / 100,
		Description:       c.Description,
		PaymentMethodID:   "pix",
		Payer:             mpPayer{Email: c.PayerEmail, FirstName: c.PayerName},
		ExternalReference: c.ExternalReference,
		Metadata:          c.Metadata,
	}
	var out mpPayment
	if err := m.do(ctx, http.MethodPost, "/v1/payments", body, &out); err != nil {
		return Payment{}, err
	}
	p := out.toPayment()
	if err := ensureQRImage(&p); err != nil {
		return Payment{}, err
	}
	return p, nil
}

// GetPayment fetches the current state of a charge.
func (m *MercadoPago) GetPayment(ctx context.Context, id string) (Payment, error) {
	if m.accessToken == "" {
		return Payment{}, ErrNotConfigured
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return Payment{}, fmt.Errorf("payment id is required")
	}
	var out mpPayment
	if err := m.do(ctx, http.MethodGet, "/v1/payments/"+url.PathEscape(id), nil, &out); err != nil {
		return Payment{}, err
	}
	return out.toPayment(), nil
}

func (m *MercadoPago) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, m.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+m.accessToken)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Idempotency-Key", m.newKey())
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("payment processor request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read payment processor response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Message: apiMessage(raw, resp.StatusCode)}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode payment processor response: %w", err)
	}
	return nil
}

// apiMessage extracts the human readable message from an error body.
func apiMessage(raw []byte, status int) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
	}
	if s := strings.TrimSpace(string(raw)); s != "" {
		return s
	}
	return http.StatusText(status)
}

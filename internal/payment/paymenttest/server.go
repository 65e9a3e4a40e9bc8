// Package paymenttest provides an in-process stand-in for the payments API.
package paymenttest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
)

// Server mimics the PIX endpoints of the processor API.
type Server struct {
	*httptest.Server

	mu        sync.Mutex
	next      int64
	payments  map[string]map[string]any
	requests  []map[string]any
	idemKeys  []string
	failNext  *failure
	getCalls  int
	omitImage bool
}

type failure struct {
	status  int
	message string
}

// NewServer starts the fake API. Callers must Close it.
func NewServer() *Server {
	s := &Server{next: 1000, payments: make(map[string]map[string]any)}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/payments", s.create)
	mux.HandleFunc("/v1/payments/", s.get)
	s.Server = httptest.NewServer(mux)
	return s
}

// FailNext makes the next request answer with the given status and message.
func (s *Server) FailNext(status int, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = &failure{status: status, message: message}
}

// OmitQRImage drops qr_code_base64 from created payments.
func (s *Server) OmitQRImage() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.omitImage = true
}

// SetStatus changes the status reported for a payment.
func (s *Server) SetStatus(id, status, detail string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.payments[id]; ok {
		p["status"] = status
		p["status_detail"] = detail
		return
	}
	s.payments[id] = map[string]any{"id": id, "status": status, "status_detail": detail, "transaction_amount": 0.0}
}

// SetPayment registers a payment with a given amount in centavos.
func (s *Server) SetPayment(id, status string, amount int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payments[id] = map[string]any{"id": id, "status": status, "status_detail": "", "transaction_amount": float64(amount) / 100}
}

// Requests returns the decoded bodies of create calls.
func (s *Server) Requests() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]any(nil), s.requests...)
}

// IdempotencyKeys returns the X-Idempotency-Key header of each create call.
func (s *Server) IdempotencyKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.idemKeys...)
}

// GetCalls reports how many status lookups were served.
func (s *Server) GetCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getCalls
}

func (s *Server) takeFailure(w http.ResponseWriter) bool {
	if s.failNext == nil {
		return false
	}
	f := s.failNext
	s.failNext = nil
	writeJSON(w, f.status, map[string]any{"message": f.message, "status": f.status})
	return true
}

func (s *Server) create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.takeFailure(w) {
		return
	}
	if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "unauthorized"})
		return
	}
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"message": "invalid body"})
		return
	}
	s.requests = append(s.requests, body)
	s.idemKeys = append(s.idemKeys, r.Header.Get("X-Idempotency-Key"))

	s.next++
	id := strconv.FormatInt(s.next, 10)
	td := map[string]any{
		"qr_code":    "00020126580014br.gov.bcb.pix0136" + id,
		"ticket_url": s.URL + "/ticket/" + id,
	}
	if !s.omitImage {
		td["qr_code_base64"] = "aVZCT1J3MEtHZ28="
	}
	p := map[string]any{
		"id":                   s.next,
		"status":               "pending",
		"status_detail":        "pending_waiting_transfer",
		"transaction_amount":   body["transaction_amount"],
		"date_of_expiration":   "2030-01-01T12:00:00.000-03:00",
		"point_of_interaction": map[string]any{"transaction_data": td},
	}
	s.payments[id] = p
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) get(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getCalls++
	if s.takeFailure(w) {
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/v1/payments/")
	p, ok := s.payments[id]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"message": "Payment not found"})
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

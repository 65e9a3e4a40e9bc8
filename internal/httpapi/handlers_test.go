package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"secscan.app/internal/accounts"
	"secscan.app/internal/affiliate"
	"secscan.app/internal/auth"
	"secscan.app/internal/checkout"
	"secscan.app/internal/payment"
	"secscan.app/internal/payment/paymenttest"
	"secscan.app/internal/recovery"
	"secscan.app/internal/store"
	"secscan.app/internal/stream"
	"secscan.app/internal/validate"
	"secscan.app/internal/webhook"
)

type hookRecorder struct {
	mu     sync.Mutex
	bodies map[string][]map[string]any
}

func (h *hookRecorder) count(path string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.bodies[path])
}

func (h *hookRecorder) last(path string) map[string]any {
	h.mu.Lock()
	defer h.mu.Unlock()
	if n := len(h.bodies[path]); n > 0 {
		return h.bodies[path][n-1]
	}
	return nil
}

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T
	store   *store.InMemory
	mp      *paymenttest.Server
	hooks   *hookRecorder
	issuer  *auth.Issuer
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	mp := paymenttest.NewServer()
	t.Cleanup(mp.Close)

	hooks := &hookRecorder{bodies: map[string][]map[string]any{}}
	hookSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		hooks.mu.Lock()
		hooks.bodies[r.URL.Path] = append(hooks.bodies[r.URL.Path], body)
		hooks.mu.Unlock()
	}))
	t.Cleanup(hookSrv.Close)

	issuer, err := auth.NewIssuer("test-secret", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	st := store.NewInMemory()
	v := validate.New()
	proc := payment.NewMercadoPago("TEST-token", "TEST-public-key", time.Second, payment.WithBaseURL(mp.URL))
	notifier := webhook.NewNotifier(webhook.Endpoints{
		PaymentConfirmed: hookSrv.URL + "/confirmed",
		PaymentExpired:   hookSrv.URL + "/expired",
		RecoveryCode:     hookSrv.URL + "/recovery",
	}, time.Second, webhook.NewMemoryDedup(time.Hour))
	aff := affiliate.NewService(st, proc, v)
	events := stream.New()

	api := New(ReadyProbe{Store: st}, "test", Deps{
		Store:      st,
		Payments:   proc,
		Checkout:   checkout.NewService(st, proc, aff, notifier, v, checkout.WithEvents(events)),
		Affiliates: aff,
		Accounts:   accounts.NewService(st, issuer, v),
		Recovery:   recovery.NewService(st, notifier, 15*time.Minute, 5),
		Issuer:     issuer,
		Events:     events,
	}, WithRateLimit(1000, 1000))

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{baseURL: srv.URL, client: srv.Client(), t: t, store: st, mp: mp, hooks: hooks, issuer: issuer}
}

func (c *apiClient) do(method, path string, body any, token string) (*http.Response, map[string]any) {
	c.t.Helper()
	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
		payload = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, c.baseURL+path, payload)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	out := map[string]any{}
	raw, _ := io.ReadAll(resp.Body)
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			c.t.Fatalf("decode %s %s response %q: %v", method, path, raw, err)
		}
	}
	return resp, out
}

func (c *apiClient) expect(method, path string, body any, token string, code int) map[string]any {
	c.t.Helper()
	resp, out := c.do(method, path, body, token)
	if resp.StatusCode != code {
		c.t.Fatalf("%s %s: expected %d, got %d (%v)", method, path, code, resp.StatusCode, out)
	}
	return out
}

func (c *apiClient) adminToken() string {
	c.t.Helper()
	tok, _, err := c.issuer.Issue(auth.Principal{UserID: "admin-1", Role: auth.RoleAdmin, Email: "admin@secscan.app"})
	if err != nil {
		c.t.Fatal(err)
	}
	return tok
}

func TestHealthAndReady(t *testing.T) {
	c := newTestAPI(t)
	out := c.expect(http.MethodGet, "/healthz", nil, "", http.StatusOK)
	if out["service"] != serviceName {
		t.Fatalf("unexpected health body: %v", out)
	}
	c.expect(http.MethodGet, "/readyz", nil, "", http.StatusOK)
	out = c.expect(http.MethodGet, "/v1/payments/public-key", nil, "", http.StatusOK)
	if out["public_key"] != "TEST-public-key" {
		t.Fatalf("unexpected public key: %v", out)
	}
}

func TestScanCheckoutFlow(t *testing.T) {
	c := newTestAPI(t)
	order := map[string]any{"nome": "Ana", "email": "ana@x.com", "url": "https://ana.dev", "whatsapp": "11999999999"}

	created := c.expect(http.MethodPost, "/v1/payments", order, "", http.StatusCreated)
	if created["amount"] != float64(affiliate.ScanPrice) || created["qr_code"] == "" {
		t.Fatalf("unexpected payment: %v", created)
	}
	id := created["payment_id"].(string)

	status := c.expect(http.MethodPost, "/v1/payments/status", map[string]any{"payment_id": id}, "", http.StatusOK)
	if status["status"] != "pending" {
		t.Fatalf("expected pending, got %v", status)
	}

	c.mp.SetStatus(id, "approved", "accredited")
	for i := 0; i < 3; i++ {
		status = c.expect(http.MethodPost, "/v1/payments/status", map[string]any{"payment_id": id}, "", http.StatusOK)
		if status["status"] != "approved" {
			t.Fatalf("expected approved, got %v", status)
		}
	}
	if n := c.hooks.count("/confirmed"); n != 1 {
		t.Fatalf("expected one confirmation webhook, got %d", n)
	}

	admin := c.adminToken()
	list := c.expect(http.MethodGet, "/v1/admin/submissions", nil, admin, http.StatusOK)
	items := list["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("expected one approved submission, got %v", list)
	}
	subID := items[0].(map[string]any)["id"].(string)

	stats := c.expect(http.MethodGet, "/v1/admin/stats", nil, admin, http.StatusOK)
	if stats["total"] != float64(1) || stats["pending"] != float64(1) {
		t.Fatalf("unexpected stats: %v", stats)
	}

	updated := c.expect(http.MethodPatch, "/v1/admin/submissions/"+subID, map[string]any{"analysis_status": "vulnerable"}, admin, http.StatusOK)
	if updated["analysis_status"] != "vulnerable" {
		t.Fatalf("unexpected update: %v", updated)
	}
	c.expect(http.MethodPatch, "/v1/admin/submissions/"+subID, map[string]any{"analysis_status": "unknown"}, admin, http.StatusBadRequest)
	filtered := c.expect(http.MethodGet, "/v1/admin/submissions?analysis=safe", nil, admin, http.StatusOK)
	if len(filtered["items"].([]any)) != 0 {
		t.Fatalf("expected no safe submissions, got %v", filtered)
	}
	c.expect(http.MethodDelete, "/v1/admin/submissions/"+subID, nil, admin, http.StatusNoContent)
	c.expect(http.MethodDelete, "/v1/admin/submissions/"+subID, nil, admin, http.StatusNotFound)
}

func TestCheckoutErrors(t *testing.T) {
	c := newTestAPI(t)

	out := c.expect(http.MethodPost, "/v1/payments", map[string]any{"nome": "Ana", "email": "ana@x.com", "url": "ana.dev", "whatsapp": "11999999999"}, "", http.StatusBadRequest)
	if out["error"] != "URL inválida" || out["request_id"] == "" {
		t.Fatalf("unexpected validation body: %v", out)
	}

	out = c.expect(http.MethodPost, "/v1/payments", map[string]any{"nome": "Ana", "email": "ana@x.com", "url": "https://ana.dev", "whatsapp": "11999999999", "coupon": "nope"}, "", http.StatusBadRequest)
	if out["error"] != "Cupom inválido" {
		t.Fatalf("unexpected coupon error: %v", out)
	}

	c.mp.FailNext(http.StatusBadRequest, "payer.email must be a valid email")
	out = c.expect(http.MethodPost, "/v1/payments", map[string]any{"nome": "Ana", "email": "ana@x.com", "url": "https://ana.dev", "whatsapp": "11999999999"}, "", http.StatusBadGateway)
	if out["error"] != "payer.email must be a valid email" {
		t.Fatalf("processor message must be surfaced verbatim: %v", out)
	}

	c.expect(http.MethodPost, "/v1/payments/status", map[string]any{}, "", http.StatusBadRequest)
	c.expect(http.MethodGet, "/v1/payments", nil, "", http.StatusMethodNotAllowed)
	c.expect(http.MethodPost, "/v1/payments", map[string]any{"unknown": true}, "", http.StatusBadRequest)

	remarketing := c.expect(http.MethodGet, "/v1/admin/remarketing", nil, c.adminToken(), http.StatusOK)
	if len(remarketing["items"].([]any)) != 1 {
		t.Fatalf("failed checkout should be listed for remarketing: %v", remarketing)
	}
}

func TestCouponLookup(t *testing.T) {
	c := newTestAPI(t)
	out := c.expect(http.MethodGet, "/v1/coupons/CUPOM10", nil, "", http.StatusOK)
	if out["valid"] != true || out["kind"] != "system" || out["amount"] != float64(affiliate.ScanPrice-affiliate.CouponDiscount) {
		t.Fatalf("unexpected coupon: %v", out)
	}
	out = c.expect(http.MethodGet, "/v1/coupons/missing", nil, "", http.StatusOK)
	if out["valid"] != false {
		t.Fatalf("unexpected coupon: %v", out)
	}
}

func TestPartnerRegistrationAndDashboard(t *testing.T) {
	c := newTestAPI(t)
	form := map[string]any{
		"nome": "João", "cpf": "123.456.789-01", "whatsapp": "11988887777", "pixKey": "joao@pix",
		"couponCode": "joao", "email": "joao@example.com", "password": "S3nha!forte",
	}

	out := c.expect(http.MethodPost, "/v1/partners", form, "", http.StatusBadRequest)
	if out["error"] != affiliate.ErrPaymentRequired.Error() {
		t.Fatalf("expected payment required, got %v", out)
	}

	fee := c.expect(http.MethodPost, "/v1/payments/registration", map[string]any{"nome": "João", "email": "joao@example.com"}, "", http.StatusCreated)
	feeID := fee["payment_id"].(string)
	form["paymentId"] = feeID
	out = c.expect(http.MethodPost, "/v1/partners", form, "", http.StatusBadRequest)
	if out["error"] != affiliate.ErrPaymentNotApproved.Error() {
		t.Fatalf("expected payment not approved, got %v", out)
	}
	c.mp.SetStatus(feeID, "approved", "accredited")
	c.expect(http.MethodPost, "/v1/partners", form, "", http.StatusCreated)

	form["cpf"] = "98765432100"
	form["email"] = "outro@example.com"
	out = c.expect(http.MethodPost, "/v1/partners", form, "", http.StatusConflict)
	if out["error"] == "" {
		t.Fatalf("expected conflict body, got %v", out)
	}

	login := c.expect(http.MethodPost, "/v1/auth/login", map[string]any{"email": "joao@example.com", "password": "S3nha!forte"}, "", http.StatusOK)
	token := login["token"].(string)

	order := map[string]any{"nome": "Ana", "email": "ana@x.com", "url": "https://ana.dev", "whatsapp": "11999999999", "coupon": "JOAO"}
	created := c.expect(http.MethodPost, "/v1/payments", order, "", http.StatusCreated)
	c.mp.SetStatus(created["payment_id"].(string), "approved", "accredited")
	c.expect(http.MethodPost, "/v1/payments/status", map[string]any{"payment_id": created["payment_id"]}, "", http.StatusOK)

	dash := c.expect(http.MethodGet, "/v1/partner/dashboard", nil, token, http.StatusOK)
	sales := dash["sales"].([]any)
	if len(sales) != 1 || dash["pending_total"] != float64(affiliate.PartnerCommission) {
		t.Fatalf("unexpected dashboard: %v", dash)
	}
	saleID := sales[0].(map[string]any)["id"].(string)

	admin := c.adminToken()
	c.expect(http.MethodPost, "/v1/admin/sales/paid", map[string]any{"id": saleID}, admin, http.StatusBadRequest)
	c.expect(http.MethodPost, "/v1/admin/sales/paid", map[string]any{"id": saleID, "receipt_url": "https://r/1"}, admin, http.StatusOK)
	c.expect(http.MethodPost, "/v1/admin/sales/paid", map[string]any{"id": saleID, "receipt_url": "https://r/1"}, admin, http.StatusConflict)

	dash = c.expect(http.MethodGet, "/v1/partner/dashboard", nil, token, http.StatusOK)
	if dash["paid_total"] != float64(affiliate.PartnerCommission) || dash["pending_total"] != float64(0) {
		t.Fatalf("unexpected dashboard after payout: %v", dash)
	}

	c.expect(http.MethodGet, "/v1/master/dashboard", nil, token, http.StatusForbidden)
	c.expect(http.MethodGet, "/v1/admin/partners", nil, token, http.StatusForbidden)
	partners := c.expect(http.MethodGet, "/v1/admin/partners", nil, admin, http.StatusOK)
	if len(partners["items"].([]any)) != 1 {
		t.Fatalf("unexpected partners: %v", partners)
	}
}

func TestMasterRegistrationIsSingleUse(t *testing.T) {
	c := newTestAPI(t)
	form := map[string]any{
		"nome": "Maria", "cpf": "11111111111", "whatsapp": "11977776666", "email": "maria@example.com",
		"password": "M4ster!forte", "coupon_code": "maria",
	}
	master := c.expect(http.MethodPost, "/v1/master-partners", form, "", http.StatusCreated)
	if master["coupon_code"] != "maria" {
		t.Fatalf("unexpected master: %v", master)
	}

	form["cpf"], form["email"], form["coupon_code"] = "22222222222", "m2@example.com", "outra"
	c.expect(http.MethodPost, "/v1/master-partners", form, "", http.StatusConflict)

	login := c.expect(http.MethodPost, "/v1/auth/login", map[string]any{"email": "maria@example.com", "password": "M4ster!forte"}, "", http.StatusOK)
	dash := c.expect(http.MethodGet, "/v1/master/dashboard", nil, login["token"].(string), http.StatusOK)
	if dash["master"].(map[string]any)["coupon_code"] != "maria" {
		t.Fatalf("unexpected master dashboard: %v", dash)
	}

	admin := c.adminToken()
	settings := c.expect(http.MethodGet, "/v1/admin/settings/registration", nil, admin, http.StatusOK)
	if settings["master_enabled"] != false {
		t.Fatalf("master registration should be closed: %v", settings)
	}
	c.expect(http.MethodPut, "/v1/admin/settings/registration", map[string]any{"partner_enabled": false, "partner_price": 1500, "master_enabled": true}, admin, http.StatusOK)
	out := c.expect(http.MethodPost, "/v1/payments/registration", map[string]any{"nome": "João", "email": "joao@example.com"}, "", http.StatusConflict)
	if out["error"] != affiliate.ErrRegistrationClosed.Error() {
		t.Fatalf("unexpected error: %v", out)
	}
}

func TestSignupLoginAndMySubmissions(t *testing.T) {
	c := newTestAPI(t)
	c.expect(http.MethodGet, "/v1/me/submissions", nil, "", http.StatusUnauthorized)
	c.expect(http.MethodGet, "/v1/me/submissions", nil, "garbage", http.StatusUnauthorized)

	sess := c.expect(http.MethodPost, "/v1/auth/signup", map[string]any{"nome": "Ana", "email": "ana@x.com", "password": "segredo123"}, "", http.StatusCreated)
	token := sess["token"].(string)
	c.expect(http.MethodPost, "/v1/auth/signup", map[string]any{"nome": "Ana", "email": "ana@x.com", "password": "segredo123"}, "", http.StatusConflict)
	c.expect(http.MethodPost, "/v1/auth/login", map[string]any{"email": "ana@x.com", "password": "errada"}, "", http.StatusUnauthorized)

	order := map[string]any{"nome": "Ana", "email": "ana@x.com", "url": "https://ana.dev", "whatsapp": "11999999999"}
	c.expect(http.MethodPost, "/v1/payments", order, token, http.StatusCreated)
	c.expect(http.MethodPost, "/v1/payments", order, "", http.StatusCreated)

	mine := c.expect(http.MethodGet, "/v1/me/submissions", nil, token, http.StatusOK)
	if len(mine["items"].([]any)) != 1 {
		t.Fatalf("expected only the caller's submission, got %v", mine)
	}
	c.expect(http.MethodGet, "/v1/admin/stats", nil, token, http.StatusForbidden)
}

func TestPasswordRecoveryFlow(t *testing.T) {
	c := newTestAPI(t)
	c.expect(http.MethodPost, "/v1/auth/signup", map[string]any{"nome": "Ana", "email": "ana@x.com", "whatsapp": "11999999999", "password": "segredo123"}, "", http.StatusCreated)

	out := c.expect(http.MethodPost, "/v1/auth/recovery", map[string]any{"email": "nobody@x.com"}, "", http.StatusOK)
	if out["success"] != true || c.hooks.count("/recovery") != 0 {
		t.Fatalf("unknown email must succeed silently: %v", out)
	}
	c.expect(http.MethodPost, "/v1/auth/recovery", map[string]any{"email": "ana@x.com"}, "", http.StatusOK)
	notice := c.hooks.last("/recovery")
	if notice == nil || notice["nome_cliente"] != "Ana" {
		t.Fatalf("unexpected recovery notice: %v", notice)
	}
	code := notice["codigo"].(string)

	out = c.expect(http.MethodPost, "/v1/auth/recovery/verify", map[string]any{"email": "ana@x.com", "code": "ZZZZZZZZ"}, "", http.StatusBadRequest)
	if out["remaining_attempts"] != float64(4) {
		t.Fatalf("expected remaining attempts, got %v", out)
	}
	verified := c.expect(http.MethodPost, "/v1/auth/recovery/verify", map[string]any{"email": "ana@x.com", "code": code}, "", http.StatusOK)

	reset := map[string]any{"user_id": verified["user_id"], "recovery_id": verified["recovery_id"], "new_password": "novasenha1"}
	c.expect(http.MethodPost, "/v1/auth/recovery/reset", reset, "", http.StatusOK)
	c.expect(http.MethodPost, "/v1/auth/recovery/reset", reset, "", http.StatusBadRequest)
	c.expect(http.MethodPost, "/v1/auth/login", map[string]any{"email": "ana@x.com", "password": "novasenha1"}, "", http.StatusOK)
}

func TestReadyReportsStoreFailure(t *testing.T) {
	api := New(ReadyProbe{Store: failingStore{}}, "test", Deps{})
	rr := httptest.NewRecorder()
	api.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil).WithContext(context.Background()))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestAdminEventStream(t *testing.T) {
	c := newTestAPI(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/admin/events", nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer "+c.adminToken())
	resp, err := c.client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	first, err := reader.ReadString('\n')
	if err != nil || !strings.HasPrefix(first, ": stream started") {
		t.Fatalf("unexpected preamble %q (%v)", first, err)
	}

	order := map[string]any{"nome": "Ana", "email": "ana@x.com", "url": "https://ana.dev", "whatsapp": "11999999999"}
	created := c.expect(http.MethodPost, "/v1/payments", order, "", http.StatusCreated)

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("stream ended early: %v", err)
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var evt stream.Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &evt); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		if evt.Type != stream.PaymentCreated || evt.PaymentID != created["payment_id"] {
			t.Fatalf("unexpected event: %+v", evt)
		}
		return
	}
}

func TestAdminEventStreamRequiresAdmin(t *testing.T) {
	c := newTestAPI(t)
	c.expect(http.MethodGet, "/v1/admin/events", nil, "", http.StatusUnauthorized)
}

package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"secscan.app/internal/affiliate"
	"secscan.app/internal/checkout"
	"secscan.app/internal/payment"
	"secscan.app/internal/validate"
)

func (a *API) handlePayments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req checkout.ScanOrder
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	pay, err := a.deps.Checkout.CreatePayment(r.Context(), req, callerID(r))
	if err != nil {
		handleCheckoutError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, pay)
}

func (a *API) handlePaymentStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req checkout.StatusQuery
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	res, err := a.deps.Checkout.CheckStatus(r.Context(), req)
	if err != nil {
		handleCheckoutError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleRegistrationPayment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req checkout.RegistrationOrder
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	pay, err := a.deps.Checkout.CreateRegistrationPayment(r.Context(), req)
	if err != nil {
		handleCheckoutError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, pay)
}

func (a *API) handlePublicKey(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	key := ""
	if a.deps.Payments != nil {
		key = a.deps.Payments.PublicKey()
	}
	if key == "" {
		writeError(w, r, http.StatusInternalServerError, "payment configuration error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"public_key": key})
}

type couponResponse struct {
	Valid    bool           `json:"valid"`
	Code     string         `json:"code"`
	Kind     affiliate.Kind `json:"kind,omitempty"`
	Discount int64          `json:"discount"`
	Amount   int64          `json:"amount"`
}

func (a *API) handleCoupon(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	code := strings.TrimPrefix(r.URL.Path, "/v1/coupons/")
	if code == "" || strings.Contains(code, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	c, err := a.deps.Affiliates.Resolve(r.Context(), code)
	if errors.Is(err, affiliate.ErrInvalidCoupon) {
		writeJSON(w, http.StatusOK, couponResponse{Code: validate.NormalizeCoupon(code), Amount: affiliate.ScanPrice})
		return
	}
	if err != nil {
		internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, couponResponse{
		Valid:    true,
		Code:     c.Code,
		Kind:     c.Kind,
		Discount: c.Discount,
		Amount:   affiliate.Price(c),
	})
}

func handleCheckoutError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *payment.APIError
	switch {
	case errors.Is(err, validate.ErrInvalid),
		errors.Is(err, affiliate.ErrInvalidCoupon),
		errors.Is(err, checkout.ErrPaymentIDRequired):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, affiliate.ErrRegistrationClosed), errors.Is(err, checkout.ErrFreeRegistration):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, payment.ErrNotConfigured):
		writeError(w, r, http.StatusInternalServerError, "payment configuration error")
	case errors.As(err, &apiErr):
		writeError(w, r, http.StatusBadGateway, apiErr.Message)
	default:
		internalError(w, r, err)
	}
}

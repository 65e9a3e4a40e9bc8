package httpapi

import (
	"errors"
	"net/http"

	"secscan.app/internal/affiliate"
	"secscan.app/internal/auth"
	"secscan.app/internal/store"
	"secscan.app/internal/validate"
)

type partnerRegisteredResponse struct {
	Partner          partnerView `json:"partner"`
	UsedMasterCoupon bool        `json:"used_master_coupon"`
}

func (a *API) handlePartners(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req affiliate.PartnerRegistration
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	var caller *auth.Principal
	if p, ok := auth.PrincipalFromContext(r.Context()); ok {
		caller = &p
	}
	res, err := a.deps.Affiliates.RegisterPartner(r.Context(), req, caller)
	if err != nil {
		handleAffiliateError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/partner/dashboard")
	writeJSON(w, http.StatusCreated, partnerRegisteredResponse{
		Partner:          toPartnerView(res.Partner),
		UsedMasterCoupon: res.UsedMasterCoupon,
	})
}

func (a *API) handleMasterPartners(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req affiliate.MasterRegistration
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	m, err := a.deps.Affiliates.RegisterMaster(r.Context(), req)
	if err != nil {
		handleAffiliateError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMasterView(m))
}

func (a *API) handlePartnerDashboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	d, err := a.deps.Affiliates.PartnerDashboard(r.Context(), callerID(r))
	if err != nil {
		handleAffiliateError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPartnerDashboardView(d))
}

func (a *API) handleMasterDashboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	d, err := a.deps.Affiliates.MasterDashboard(r.Context(), callerID(r))
	if err != nil {
		handleAffiliateError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toMasterDashboardView(d))
}

func handleAffiliateError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, validate.ErrInvalid),
		errors.Is(err, affiliate.ErrCouponReserved),
		errors.Is(err, affiliate.ErrSelfReference),
		errors.Is(err, affiliate.ErrInvalidMasterCoupon),
		errors.Is(err, affiliate.ErrPaymentRequired),
		errors.Is(err, affiliate.ErrPaymentNotApproved),
		errors.Is(err, affiliate.ErrPaymentNotRegistration),
		errors.Is(err, affiliate.ErrReceiptRequired):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case affiliate.IsConflict(err):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, affiliate.ErrNotAffiliate):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "resource not found")
	default:
		handleCheckoutError(w, r, err)
	}
}

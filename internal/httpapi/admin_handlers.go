package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"secscan.app/internal/audit"
	"secscan.app/internal/store"
)

var (
	analysisStatuses = map[string]bool{store.AnalysisPending: true, store.AnalysisSafe: true, store.AnalysisVulnerable: true}
	contactStatuses  = map[string]bool{store.ContactPending: true, store.ContactInContact: true, store.ContactResolved: true}
)

func (a *API) handleAdminSubmissions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	analysis := strings.TrimSpace(r.URL.Query().Get("analysis"))
	if analysis != "" && !analysisStatuses[analysis] {
		writeError(w, r, http.StatusBadRequest, "invalid analysis status")
		return
	}
	subs, err := a.deps.Store.ListSubmissions(r.Context(), store.SubmissionFilter{
		PaymentStatus: store.PaymentApproved,
		Analysis:      analysis,
	})
	if err != nil {
		internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": toSubmissionViews(subs)})
}

func (a *API) handleAdminRemarketing(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	subs, err := a.deps.Store.ListSubmissions(r.Context(), store.SubmissionFilter{NotPaymentStatus: store.PaymentApproved})
	if err != nil {
		internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": toSubmissionViews(subs)})
}

func (a *API) handleAdminStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	stats, err := a.deps.Store.SubmissionStats(r.Context())
	if err != nil {
		internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type submissionUpdateRequest struct {
	AnalysisStatus string `json:"analysis_status"`
	ContactStatus  string `json:"contact_status"`
}

func (a *API) handleAdminSubmission(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/admin/submissions/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	switch r.Method {
	case http.MethodPatch:
		a.updateSubmission(w, r, id)
	case http.MethodDelete:
		a.deleteSubmission(w, r, id)
	default:
		methodNotAllowed(w, r, http.MethodPatch, http.MethodDelete)
	}
}

func (a *API) updateSubmission(w http.ResponseWriter, r *http.Request, id string) {
	var req submissionUpdateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.AnalysisStatus == "" && req.ContactStatus == "" {
		writeError(w, r, http.StatusBadRequest, "analysis_status or contact_status is required")
		return
	}
	if req.AnalysisStatus != "" && !analysisStatuses[req.AnalysisStatus] {
		writeError(w, r, http.StatusBadRequest, "invalid analysis status")
		return
	}
	if req.ContactStatus != "" && !contactStatuses[req.ContactStatus] {
		writeError(w, r, http.StatusBadRequest, "invalid contact status")
		return
	}
	sub, err := a.deps.Store.UpdateSubmissionStatus(r.Context(), id, req.AnalysisStatus, req.ContactStatus)
	if err != nil {
		handleAdminError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "submission.update", map[string]any{
		"submission_id":   id,
		"analysis_status": sub.AnalysisStatus,
		"contact_status":  sub.ContactStatus,
		"actor":           callerID(r),
	})
	writeJSON(w, http.StatusOK, toSubmissionView(sub))
}

func (a *API) deleteSubmission(w http.ResponseWriter, r *http.Request, id string) {
	if err := a.deps.Store.DeleteSubmission(r.Context(), id); err != nil {
		handleAdminError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "submission.delete", map[string]any{"submission_id": id, "actor": callerID(r)})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleAdminPartners(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	partners, err := a.deps.Affiliates.ListPartners(r.Context())
	if err != nil {
		internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": toPartnerViews(partners)})
}

func (a *API) handleAdminMasterPartners(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	masters, err := a.deps.Affiliates.ListMasterPartners(r.Context())
	if err != nil {
		internalError(w, r, err)
		return
	}
	items := make([]masterView, 0, len(masters))
	for _, m := range masters {
		items = append(items, toMasterView(m))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

type markPaidRequest struct {
	ID         string `json:"id"`
	ReceiptURL string `json:"receipt_url"`
}

func (a *API) handleAdminSalePaid(w http.ResponseWriter, r *http.Request) {
	a.markPaid(w, r, a.deps.Affiliates.MarkSalePaid)
}

func (a *API) handleAdminUsagePaid(w http.ResponseWriter, r *http.Request) {
	a.markPaid(w, r, a.deps.Affiliates.MarkUsagePaid)
}

func (a *API) markPaid(w http.ResponseWriter, r *http.Request, mark func(context.Context, string, string) error) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req markPaidRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	id := strings.TrimSpace(req.ID)
	if id == "" {
		writeError(w, r, http.StatusBadRequest, "id is required")
		return
	}
	if err := mark(r.Context(), id, req.ReceiptURL); err != nil {
		handleAffiliateError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "payment_status": store.PayoutPaid})
}

func (a *API) handleAdminSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		settings, err := a.deps.Store.RegistrationSettings(r.Context())
		if err != nil {
			internalError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, settingsView(settings))
	case http.MethodPut:
		var req settingsView
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if req.PartnerPrice < 0 {
			writeError(w, r, http.StatusBadRequest, "partner_price must be >= 0")
			return
		}
		if err := a.deps.Store.UpdateRegistrationSettings(r.Context(), store.RegistrationSettings(req)); err != nil {
			internalError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "settings.registration.update", map[string]any{
			"partner_enabled": req.PartnerEnabled,
			"partner_price":   req.PartnerPrice,
			"master_enabled":  req.MasterEnabled,
			"actor":           callerID(r),
		})
		writeJSON(w, http.StatusOK, req)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut)
	}
}

func handleAdminError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "submission not found")
	default:
		internalError(w, r, err)
	}
}

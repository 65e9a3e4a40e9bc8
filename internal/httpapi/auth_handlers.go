package httpapi

import (
	"errors"
	"net/http"

	"secscan.app/internal/accounts"
	"secscan.app/internal/recovery"
	"secscan.app/internal/validate"
)

func (a *API) handleSignup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req accounts.SignupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	sess, err := a.deps.Accounts.Signup(r.Context(), req)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req accounts.LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	sess, err := a.deps.Accounts.Login(r.Context(), req)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (a *API) handleMySubmissions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	subs, err := a.deps.Accounts.Submissions(r.Context(), callerID(r))
	if err != nil {
		internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": toSubmissionViews(subs)})
}

type recoveryRequest struct {
	Email string `json:"email"`
}

type recoveryVerifyRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

func (a *API) handleRecoveryRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req recoveryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.deps.Recovery.Request(r.Context(), req.Email); err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": recovery.RequestedMessage})
}

func (a *API) handleRecoveryVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req recoveryVerifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	v, err := a.deps.Recovery.Verify(r.Context(), req.Email, req.Code)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (a *API) handleRecoveryReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req recovery.ResetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.deps.Recovery.Reset(r.Context(), req); err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Senha alterada com sucesso!"})
}

func handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	var attemptErr *recovery.AttemptError
	switch {
	case errors.As(err, &attemptErr):
		extra := map[string]any{"remaining_attempts": attemptErr.Remaining}
		if attemptErr.Exceeded {
			extra = map[string]any{"attempts_exceeded": true}
		}
		writeErrorWith(w, r, http.StatusBadRequest, err.Error(), extra)
	case errors.Is(err, validate.ErrInvalid),
		errors.Is(err, recovery.ErrEmailRequired),
		errors.Is(err, recovery.ErrCodeRequired),
		errors.Is(err, recovery.ErrCodeInvalid),
		errors.Is(err, recovery.ErrIncomplete),
		errors.Is(err, recovery.ErrPasswordTooShort),
		errors.Is(err, recovery.ErrRecoveryInvalid):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, accounts.ErrEmailTaken):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, accounts.ErrInvalidCredentials):
		unauthorized(w, r, err.Error())
	default:
		internalError(w, r, err)
	}
}

package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"clmhub.io/internal/audit"
	"clmhub.io/internal/auth"
	"clmhub.io/internal/billing"
	"clmhub.io/internal/blob"
	"clmhub.io/internal/company"
	"clmhub.io/internal/contracts"
	"clmhub.io/internal/docs"
	"clmhub.io/internal/insights"
	"clmhub.io/internal/mail"
	"clmhub.io/internal/obs"
	"clmhub.io/internal/signature"
)

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// statusFor maps service sentinels to HTTP status codes, falling back to fallback.
func statusFor(err error, fallback int) int {
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxErr):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, auth.ErrNotMember), errors.Is(err, auth.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, auth.ErrInvalidInput),
		errors.Is(err, company.ErrInvalidInput),
		errors.Is(err, contracts.ErrInvalidInput),
		errors.Is(err, signature.ErrInvalidInput),
		errors.Is(err, audit.ErrInvalidInput),
		errors.Is(err, billing.ErrInvalidInput),
		errors.Is(err, billing.ErrInvalidPlan),
		errors.Is(err, billing.ErrInvalidAction),
		errors.Is(err, billing.ErrMissingSignature),
		errors.Is(err, billing.ErrInvalidSignature),
		errors.Is(err, billing.ErrSignatureTooOld),
		errors.Is(err, insights.ErrInvalidInput),
		errors.Is(err, mail.ErrInvalidInput),
		errors.Is(err, blob.ErrInvalidPath):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrNotFound),
		errors.Is(err, company.ErrNotFound),
		errors.Is(err, company.ErrInvalidInviteCode),
		errors.Is(err, company.ErrUserNotFound),
		errors.Is(err, contracts.ErrNotFound),
		errors.Is(err, signature.ErrNotFound),
		errors.Is(err, signature.ErrNoTask),
		errors.Is(err, audit.ErrNotFound),
		errors.Is(err, billing.ErrNotFound),
		errors.Is(err, docs.ErrPageNotFound),
		errors.Is(err, blob.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, auth.ErrConflict),
		errors.Is(err, company.ErrConflict),
		errors.Is(err, contracts.ErrConflict),
		errors.Is(err, blob.ErrExists):
		return http.StatusConflict
	}
	return fallback
}

// writeServiceError answers with the status the error maps to. Unmapped errors are
// 500 and keep their message.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	writeServiceErrorOr(w, r, err, http.StatusInternalServerError)
}

func writeServiceErrorOr(w http.ResponseWriter, r *http.Request, err error, fallback int) {
	code := statusFor(err, fallback)
	if code >= http.StatusInternalServerError {
		obs.Error("request_failed", map[string]any{
			"request_id": RequestIDFromContext(r),
			"path":       r.URL.Path,
			"error":      err,
		})
	}
	writeError(w, r, code, err.Error())
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"clmhub.io/internal/audit"
	"clmhub.io/internal/auth"
	"clmhub.io/internal/billing"
	"clmhub.io/internal/company"
	"clmhub.io/internal/mail"
	"clmhub.io/internal/signature"
)

const (
	msgInvalidJSON   = "Invalid JSON"
	msgMissingFields = "Missing fields"
)

func setFunctionCORS(h http.Header) {
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Headers", "authorization, x-client-info, apikey, content-type")
	h.Set("Access-Control-Allow-Methods", "POST, OPTIONS")
}

// function applies the shared function contract: CORS on every answer, preflight
// answered with "ok", POST only.
func (a *API) function(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		setFunctionCORS(w.Header())
		if r.Method == http.MethodOptions {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
			return
		}
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", "POST, OPTIONS")
			writeError(w, r, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		h(w, r)
	}
}

// readBody decodes a function payload. Unknown fields are ignored. An empty body
// is accepted only when optional is set.
func readBody(w http.ResponseWriter, r *http.Request, dst any, optional bool) bool {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil || (optional && errors.Is(err, io.EOF)) {
		return true
	}
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		writeError(w, r, http.StatusRequestEntityTooLarge, "request body too large")
		return false
	}
	writeError(w, r, http.StatusBadRequest, msgInvalidJSON)
	return false
}

func okResponse(extra map[string]any) map[string]any {
	out := map[string]any{"ok": true}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

type inviteUserRequest struct {
	Mode       string  `json:"mode"`
	InviteCode string  `json:"invite_code"`
	CompanyID  string  `json:"company_id"`
	Email      string  `json:"email"`
	RoleID     *string `json:"role_id"`
	IsAdmin    bool    `json:"is_admin"`
}

func (a *API) inviteUser(w http.ResponseWriter, r *http.Request) {
	var req inviteUserRequest
	if !readBody(w, r, &req, false) {
		return
	}
	id := identity(r)
	switch req.Mode {
	case "join_by_invite_code":
		if strings.TrimSpace(req.InviteCode) == "" {
			writeError(w, r, http.StatusBadRequest, "Missing invite_code")
			return
		}
		m, err := a.deps.Companies.JoinByInviteCode(r.Context(), id.UserID, req.InviteCode)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		a.logAudit(r, "company.member.joined", map[string]any{"company_id": m.CompanyID})
		writeJSON(w, http.StatusOK, okResponse(map[string]any{"company_id": m.CompanyID}))
	case "admin_add_by_email":
		if strings.TrimSpace(req.CompanyID) == "" || strings.TrimSpace(req.Email) == "" {
			writeError(w, r, http.StatusBadRequest, msgMissingFields)
			return
		}
		if _, allowed := a.require(w, r, req.CompanyID, auth.PermRolesManage); !allowed {
			return
		}
		m, err := a.deps.Companies.AddMemberByEmail(r.Context(), company.AddMemberInput{
			CompanyID: req.CompanyID,
			Email:     req.Email,
			RoleID:    req.RoleID,
			IsAdmin:   req.IsAdmin,
		})
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		a.logAudit(r, "company.member.added", map[string]any{"company_id": m.CompanyID, "member_id": m.UserID})
		writeJSON(w, http.StatusOK, okResponse(nil))
	default:
		writeError(w, r, http.StatusBadRequest, "Invalid mode")
	}
}

func (a *API) createCheckoutSession(w http.ResponseWriter, r *http.Request) {
	var req billing.CheckoutRequest
	if !readBody(w, r, &req, false) {
		return
	}
	if _, allowed := a.require(w, r, req.CompanyID, auth.PermOrgManage); !allowed {
		return
	}
	req.CreatedBy = identity(r).UserID
	sess, err := a.deps.Checkout.CreateSession(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse(map[string]any{"url": sess.URL, "id": sess.ID}))
}

type createEnvelopeRequest struct {
	CompanyID  string                     `json:"company_id"`
	ContractID string                     `json:"contract_id"`
	Recipients []signature.RecipientInput `json:"recipients"`
}

func (a *API) createEnvelope(w http.ResponseWriter, r *http.Request) {
	var req createEnvelopeRequest
	if !readBody(w, r, &req, false) {
		return
	}
	if req.CompanyID == "" || req.ContractID == "" || len(req.Recipients) == 0 {
		writeError(w, r, http.StatusBadRequest, msgMissingFields)
		return
	}
	if _, allowed := a.require(w, r, req.CompanyID, auth.PermContractsSendForSign); !allowed {
		return
	}
	env, _, err := a.deps.Signatures.CreateEnvelope(r.Context(), req.CompanyID, req.ContractID, identity(r).UserID, req.Recipients)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse(map[string]any{"envelope_id": env.ID}))
}

type signEnvelopeRequest struct {
	CompanyID  string `json:"company_id"`
	EnvelopeID string `json:"envelope_id"`
}

func (a *API) signEnvelope(w http.ResponseWriter, r *http.Request) {
	var req signEnvelopeRequest
	if !readBody(w, r, &req, false) {
		return
	}
	if req.CompanyID == "" || req.EnvelopeID == "" {
		writeError(w, r, http.StatusBadRequest, msgMissingFields)
		return
	}
	if _, allowed := a.require(w, r, req.CompanyID, ""); !allowed {
		return
	}
	id := identity(r)
	res, err := a.deps.Signatures.Sign(r.Context(), req.CompanyID, req.EnvelopeID, id.UserID, id.Email)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse(map[string]any{"status": res.Status, "envelope_status": res.EnvelopeStatus}))
}

type createAuditLogRequest struct {
	CompanyID  string          `json:"company_id"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Action     string          `json:"action"`
	OldValue   json.RawMessage `json:"old_value"`
	NewValue   json.RawMessage `json:"new_value"`
}

func (a *API) createAuditLog(w http.ResponseWriter, r *http.Request) {
	var req createAuditLogRequest
	if !readBody(w, r, &req, false) {
		return
	}
	if req.CompanyID == "" || req.EntityType == "" || req.Action == "" {
		writeError(w, r, http.StatusBadRequest, msgMissingFields)
		return
	}
	if _, allowed := a.require(w, r, req.CompanyID, ""); !allowed {
		return
	}
	id := identity(r)
	var ip string
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ip = strings.TrimSpace(strings.Split(xff, ",")[0])
	}
	entry, err := a.deps.Audit.Record(r.Context(), audit.Entry{
		CompanyID:  req.CompanyID,
		ActorID:    id.UserID,
		ActorEmail: id.Email,
		EntityType: req.EntityType,
		EntityID:   req.EntityID,
		Action:     req.Action,
		OldValue:   req.OldValue,
		NewValue:   req.NewValue,
		UserAgent:  r.UserAgent(),
		IPAddress:  ip,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse(map[string]any{"id": entry.ID}))
}

type contractRef struct {
	CompanyID  string `json:"company_id"`
	ContractID string `json:"contract_id"`
}

func (a *API) analyzeContract(w http.ResponseWriter, r *http.Request) {
	var req contractRef
	if !readBody(w, r, &req, false) {
		return
	}
	if req.CompanyID == "" || req.ContractID == "" {
		writeError(w, r, http.StatusBadRequest, msgMissingFields)
		return
	}
	if _, allowed := a.require(w, r, req.CompanyID, auth.PermAIManage); !allowed {
		return
	}
	result, err := a.deps.Insights.Analyze(r.Context(), req.CompanyID, req.ContractID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse(map[string]any{"insights": result}))
}

type sendEmailRequest struct {
	CompanyID string `json:"company_id"`
	mail.Message
}

func (a *API) sendEmail(w http.ResponseWriter, r *http.Request) {
	var req sendEmailRequest
	if !readBody(w, r, &req, false) {
		return
	}
	if req.CompanyID == "" || req.To == "" || req.Subject == "" {
		writeError(w, r, http.StatusBadRequest, msgMissingFields)
		return
	}
	if _, allowed := a.require(w, r, req.CompanyID, auth.PermOrgManage); !allowed {
		return
	}
	res, err := a.deps.Mail.Send(r.Context(), req.Message)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	out := okResponse(map[string]any{"sent": res.Sent})
	if res.Message != "" {
		out["message"] = res.Message
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) stripeWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeServiceErrorOr(w, r, err, http.StatusBadRequest)
		return
	}
	evt, err := a.deps.Verifier.Verify(r.Header.Get(billing.SignatureHeader), body, a.now())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	applied, err := a.deps.Webhooks.Apply(r.Context(), evt)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	a.logAudit(r, "billing.webhook.received", map[string]any{"event_id": evt.ID, "type": evt.Type, "applied": applied})
	writeJSON(w, http.StatusOK, okResponse(nil))
}

// subscriptionManager is guarded like every other privileged function; admins pass
// through the guard. Service failures answer 400.
func (a *API) subscriptionManager(w http.ResponseWriter, r *http.Request) {
	var req billing.Request
	if !readBody(w, r, &req, false) {
		return
	}
	if _, allowed := a.require(w, r, req.CompanyID, auth.PermOrgManage); !allowed {
		return
	}
	out, err := a.deps.Billing.Manage(r.Context(), req)
	if err != nil {
		writeServiceErrorOr(w, r, err, http.StatusBadRequest)
		return
	}
	a.logAudit(r, "billing.subscription."+req.Action, map[string]any{"company_id": req.CompanyID, "plan_id": req.PlanID})
	writeJSON(w, http.StatusOK, okResponse(map[string]any{"success": out.Success, "message": out.Message}))
}

type ensureProfileRequest struct {
	FullName string `json:"full_name"`
}

func (a *API) ensureUserProfile(w http.ResponseWriter, r *http.Request) {
	var req ensureProfileRequest
	if !readBody(w, r, &req, true) {
		return
	}
	if _, err := a.deps.Auth.EnsureProfile(r.Context(), identity(r), req.FullName); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse(nil))
}

func (a *API) logAudit(r *http.Request, event string, fields map[string]any) {
	_ = audit.LogEvent(r.Context(), event, fields)
}

package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"clmhub.io/internal/auth"
	"clmhub.io/internal/contracts"
)

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name,omitempty"`
}

func (a *API) signUp(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceErrorOr(w, r, err, http.StatusBadRequest)
		return
	}
	sess, err := a.deps.Auth.SignUp(r.Context(), req.Email, req.Password, req.FullName)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	ctx := auth.ContextWithIdentity(r.Context(), auth.Identity{UserID: sess.User.ID, Email: sess.User.Email})
	a.logAudit(r.WithContext(ctx), "auth.signup", map[string]any{"expires_at": sess.ExpiresAt.Format(time.RFC3339)})
	writeJSON(w, http.StatusCreated, sess)
}

func (a *API) signIn(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceErrorOr(w, r, err, http.StatusBadRequest)
		return
	}
	sess, err := a.deps.Auth.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (a *API) listMyCompanies(w http.ResponseWriter, r *http.Request) {
	list, err := a.deps.Companies.ListMyCompanies(r.Context(), identity(r).UserID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"companies": list})
}

type createCompanyRequest struct {
	Name string `json:"name"`
}

func (a *API) createCompany(w http.ResponseWriter, r *http.Request) {
	var req createCompanyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceErrorOr(w, r, err, http.StatusBadRequest)
		return
	}
	summary, err := a.deps.Companies.CreateCompany(r.Context(), identity(r).UserID, req.Name)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	a.logAudit(r, "company.create", map[string]any{"company_id": summary.Company.ID, "name": summary.Company.Name})
	w.Header().Set("Location", fmt.Sprintf("/v1/companies/%s", summary.Company.ID))
	writeJSON(w, http.StatusCreated, summary)
}

func (a *API) myPermissions(w http.ResponseWriter, r *http.Request) {
	companyID := chi.URLParam(r, "companyID")
	access, allowed := a.require(w, r, companyID, "")
	if !allowed {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"company_id":  companyID,
		"is_admin":    access.IsAdmin(),
		"permissions": access.Keys(),
	})
}

func queryInt(r *http.Request, key string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return 0, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", contracts.ErrInvalidInput, key)
	}
	return val, nil
}

func (a *API) listContracts(w http.ResponseWriter, r *http.Request) {
	companyID := chi.URLParam(r, "companyID")
	if _, allowed := a.require(w, r, companyID, ""); !allowed {
		return
	}
	page, err := queryInt(r, "page")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	size, err := queryInt(r, "page_size")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	q := r.URL.Query()
	result, err := a.deps.Contracts.List(r.Context(), contracts.ListParams{
		CompanyID: companyID,
		Page:      page,
		PageSize:  size,
		Status:    q.Get("status"),
		Search:    q.Get("search"),
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type createContractRequest struct {
	Title string `json:"title"`
}

func (a *API) createContract(w http.ResponseWriter, r *http.Request) {
	companyID := chi.URLParam(r, "companyID")
	if _, allowed := a.require(w, r, companyID, auth.PermContractsCreate); !allowed {
		return
	}
	var req createContractRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceErrorOr(w, r, err, http.StatusBadRequest)
		return
	}
	c, err := a.deps.Contracts.Create(r.Context(), companyID, req.Title)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/v1/companies/%s/contracts/%s", companyID, c.ID))
	writeJSON(w, http.StatusCreated, c)
}

func (a *API) getContract(w http.ResponseWriter, r *http.Request) {
	companyID := chi.URLParam(r, "companyID")
	if _, allowed := a.require(w, r, companyID, ""); !allowed {
		return
	}
	c, err := a.deps.Contracts.Get(r.Context(), companyID, chi.URLParam(r, "contractID"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

func (a *API) updateContractStatus(w http.ResponseWriter, r *http.Request) {
	companyID := chi.URLParam(r, "companyID")
	if _, allowed := a.require(w, r, companyID, auth.PermContractsUpdate); !allowed {
		return
	}
	var req updateStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceErrorOr(w, r, err, http.StatusBadRequest)
		return
	}
	c, err := a.deps.Contracts.UpdateStatus(r.Context(), companyID, chi.URLParam(r, "contractID"), req.Status)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (a *API) listVersions(w http.ResponseWriter, r *http.Request) {
	companyID := chi.URLParam(r, "companyID")
	if _, allowed := a.require(w, r, companyID, ""); !allowed {
		return
	}
	versions, err := a.deps.Contracts.ListVersions(r.Context(), companyID, chi.URLParam(r, "contractID"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"versions": versions})
}

type saveVersionRequest struct {
	Content string `json:"content"`
}

func (a *API) saveVersion(w http.ResponseWriter, r *http.Request) {
	companyID := chi.URLParam(r, "companyID")
	if _, allowed := a.require(w, r, companyID, auth.PermContractsUpdate); !allowed {
		return
	}
	var req saveVersionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceErrorOr(w, r, err, http.StatusBadRequest)
		return
	}
	v, err := a.deps.Contracts.SaveNewVersion(r.Context(), companyID, chi.URLParam(r, "contractID"), identity(r).UserID, req.Content)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

type documentView struct {
	contracts.Document
	DownloadURL string     `json:"download_url,omitempty"`
	ExpiresAt   *time.Time `json:"download_expires_at,omitempty"`
}

func (a *API) documentView(d contracts.Document) documentView {
	view := documentView{Document: d}
	u, exp, err := a.deps.Documents.SignedDownloadURL(d.CompanyID, d.StoragePath, a.deps.SignedURLTTL)
	if err == nil {
		view.DownloadURL = u
		view.ExpiresAt = &exp
	}
	return view
}

func (a *API) listDocuments(w http.ResponseWriter, r *http.Request) {
	companyID := chi.URLParam(r, "companyID")
	if _, allowed := a.require(w, r, companyID, ""); !allowed {
		return
	}
	docs, err := a.deps.Documents.List(r.Context(), companyID, chi.URLParam(r, "contractID"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	out := make([]documentView, 0, len(docs))
	for _, d := range docs {
		out = append(out, a.documentView(d))
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": out})
}

func (a *API) uploadDocument(w http.ResponseWriter, r *http.Request) {
	companyID := chi.URLParam(r, "companyID")
	if _, allowed := a.require(w, r, companyID, auth.PermContractsUpdate); !allowed {
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			writeError(w, r, http.StatusBadRequest, "missing file")
			return
		}
		writeServiceErrorOr(w, r, err, http.StatusBadRequest)
		return
	}
	defer file.Close()

	doc, err := a.deps.Documents.Upload(r.Context(), contracts.UploadInput{
		CompanyID:   companyID,
		ContractID:  chi.URLParam(r, "contractID"),
		FileName:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Body:        file,
		UploadedBy:  identity(r).UserID,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, a.documentView(doc))
}

func (a *API) contractAudit(w http.ResponseWriter, r *http.Request) {
	companyID := chi.URLParam(r, "companyID")
	if _, allowed := a.require(w, r, companyID, auth.PermAuditView); !allowed {
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	entries, err := a.deps.Audit.ListForContract(r.Context(), companyID, chi.URLParam(r, "contractID"), limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (a *API) signatureTasks(w http.ResponseWriter, r *http.Request) {
	companyID := chi.URLParam(r, "companyID")
	if _, allowed := a.require(w, r, companyID, ""); !allowed {
		return
	}
	tasks, err := a.deps.Signatures.ListMyTasks(r.Context(), companyID, identity(r).UserID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (a *API) listInvoices(w http.ResponseWriter, r *http.Request) {
	companyID := chi.URLParam(r, "companyID")
	if _, allowed := a.require(w, r, companyID, auth.PermOrgManage); !allowed {
		return
	}
	invoices, err := a.deps.Billing.ListInvoices(r.Context(), companyID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"invoices": invoices})
}

type createRoleRequest struct {
	Name string `json:"name"`
}

func (a *API) createRole(w http.ResponseWriter, r *http.Request) {
	companyID := chi.URLParam(r, "companyID")
	if _, allowed := a.require(w, r, companyID, auth.PermRolesManage); !allowed {
		return
	}
	var req createRoleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceErrorOr(w, r, err, http.StatusBadRequest)
		return
	}
	role, err := a.deps.Companies.CreateRole(r.Context(), companyID, req.Name)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	a.logAudit(r, "rbac.role.create", map[string]any{"company_id": companyID, "role_id": role.ID, "name": role.Name})
	writeJSON(w, http.StatusCreated, role)
}

type rolePermissionsRequest struct {
	Permissions []string `json:"permissions"`
}

func (a *API) setRolePermissions(w http.ResponseWriter, r *http.Request) {
	companyID := chi.URLParam(r, "companyID")
	if _, allowed := a.require(w, r, companyID, auth.PermRolesManage); !allowed {
		return
	}
	var req rolePermissionsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceErrorOr(w, r, err, http.StatusBadRequest)
		return
	}
	roleID := chi.URLParam(r, "roleID")
	keys, err := a.deps.Companies.SetRolePermissions(r.Context(), companyID, roleID, req.Permissions)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	a.logAudit(r, "rbac.role.permissions.update", map[string]any{"company_id": companyID, "role_id": roleID, "permissions": keys})
	writeJSON(w, http.StatusOK, map[string]any{"role_id": roleID, "permissions": keys})
}

package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"clmhub.io/internal/auth"
	"clmhub.io/internal/config"
	"clmhub.io/internal/store/memory"
	"clmhub.io/internal/stream"
)

type apiClient struct {
	baseURL string
	client  *http.Client
	handler http.Handler
	store   *memory.Store
	t       *testing.T
}

// testOption adjusts the settings before wiring and the deps after it.
type testOption struct {
	settings func(*config.Settings)
	deps     func(*Deps, *memory.Store)
}

func newTestAPI(t *testing.T, opts ...testOption) *apiClient {
	t.Helper()

	settings := config.Settings{
		AuthSecret:          "test-secret",
		TokenTTL:            time.Hour,
		RateBurst:           100,
		RatePerSec:          100,
		BlobDir:             t.TempDir(),
		BlobSecret:          "blob-secret",
		SignedURLTTL:        time.Minute,
		StripeWebhookSecret: "whsec_test",
	}
	for _, o := range opts {
		if o.settings != nil {
			o.settings(&settings)
		}
	}

	store := memory.New()
	hub := stream.NewHub()
	deps, emitter, err := NewDeps(store, settings, hub, hub)
	if err != nil {
		t.Fatalf("wire deps: %v", err)
	}
	deps.Version = "test"
	t.Cleanup(emitter.Wait)
	for _, o := range opts {
		if o.deps != nil {
			o.deps(&deps, store)
		}
	}

	handler := New(deps).Handler()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		handler: handler,
		store:   store,
		t:       t,
	}
}

func bearerHeader(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func (c *apiClient) do(method, path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	return c.do(http.MethodPost, path, body, headers)
}

func (c *apiClient) get(path string, params url.Values, headers map[string]string) *http.Response {
	c.t.Helper()
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		c.t.Fatalf("parse url: %v", err)
	}
	if params != nil {
		u.RawQuery = params.Encode()
	}
	req, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("get request: %v", err)
	}
	return resp
}

// signUp registers email and returns its access token.
func (c *apiClient) signUp(email string) string {
	c.t.Helper()
	resp := c.post("/v1/auth/signup", map[string]any{
		"email":     email,
		"password":  "correct-horse",
		"full_name": "Test User",
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		c.t.Fatalf("unexpected signup status: %d", resp.StatusCode)
	}
	session := decode[map[string]any](c.t, resp)
	token, _ := session["access_token"].(string)
	if token == "" {
		c.t.Fatalf("empty token issued")
	}
	return token
}

// createCompany returns the new company's id and invite code.
func (c *apiClient) createCompany(token, name string) (string, string) {
	c.t.Helper()
	resp := c.post("/v1/companies", map[string]any{"name": name}, bearerHeader(token))
	if resp.StatusCode != http.StatusCreated {
		c.t.Fatalf("unexpected create company status: %d", resp.StatusCode)
	}
	summary := decode[map[string]any](c.t, resp)
	company := summary["company"].(map[string]any)
	code, _ := company["invite_code"].(string)
	return company["id"].(string), code
}

// join adds the token's user to a company through its invite code.
func (c *apiClient) join(token, code string) {
	c.t.Helper()
	resp := c.post("/functions/v1/invite-user", map[string]any{
		"mode":        "join_by_invite_code",
		"invite_code": code,
	}, bearerHeader(token))
	expectStatus(c.t, resp, http.StatusOK)
	resp.Body.Close()
}

// createRole creates a company role holding perms and returns its id.
func (c *apiClient) createRole(token, companyID, name string, perms ...string) string {
	c.t.Helper()
	base := "/v1/companies/" + companyID + "/roles"
	resp := c.post(base, map[string]any{"name": name}, bearerHeader(token))
	expectStatus(c.t, resp, http.StatusCreated)
	roleID := decode[map[string]any](c.t, resp)["id"].(string)
	resp = c.do(http.MethodPut, base+"/"+roleID+"/permissions", map[string]any{"permissions": perms}, bearerHeader(token))
	expectStatus(c.t, resp, http.StatusOK)
	resp.Body.Close()
	return roleID
}

// assignRole gives email the role through admin_add_by_email.
func (c *apiClient) assignRole(adminToken, companyID, email, roleID string) {
	c.t.Helper()
	resp := c.post("/functions/v1/invite-user", map[string]any{
		"mode":       "admin_add_by_email",
		"company_id": companyID,
		"email":      email,
		"role_id":    roleID,
	}, bearerHeader(adminToken))
	expectStatus(c.t, resp, http.StatusOK)
	resp.Body.Close()
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("expected %d, got %d: %s", want, resp.StatusCode, body)
	}
}

func TestAPIContractSignatureFlow(t *testing.T) {
	api := newTestAPI(t)
	token := api.signUp("owner@example.com")
	companyID, _ := api.createCompany(token, "Acme")
	h := bearerHeader(token)
	base := "/v1/companies/" + companyID

	resp := api.get(base+"/permissions", nil, h)
	expectStatus(t, resp, http.StatusOK)
	perms := decode[map[string]any](t, resp)
	if perms["is_admin"] != true {
		t.Fatalf("creator should be admin: %v", perms)
	}

	resp = api.post(base+"/contracts", map[string]any{"title": "Supply agreement"}, h)
	expectStatus(t, resp, http.StatusCreated)
	contract := decode[map[string]any](t, resp)
	contractID := contract["id"].(string)
	if contract["status"] != "draft" {
		t.Fatalf("unexpected initial status: %v", contract["status"])
	}

	for _, content := range []string{"first", "second"} {
		resp = api.post(base+"/contracts/"+contractID+"/versions", map[string]any{"content": content}, h)
		expectStatus(t, resp, http.StatusCreated)
		resp.Body.Close()
	}
	resp = api.get(base+"/contracts/"+contractID+"/versions", nil, h)
	expectStatus(t, resp, http.StatusOK)
	versions := decode[map[string][]map[string]any](t, resp)["versions"]
	if len(versions) != 2 {
		t.Fatalf("expected 2 versions, got %d", len(versions))
	}
	numbers := map[float64]bool{}
	for _, v := range versions {
		numbers[v["version_number"].(float64)] = true
	}
	if !numbers[1] || !numbers[2] {
		t.Fatalf("expected versions numbered 1 and 2, got %v", numbers)
	}

	resp = api.get(base+"/contracts", url.Values{"search": []string{"supply"}}, h)
	expectStatus(t, resp, http.StatusOK)
	page := decode[map[string]any](t, resp)
	if page["total"].(float64) != 1 {
		t.Fatalf("expected one matching contract, got %v", page["total"])
	}

	resp = api.post("/functions/v1/create-envelope", map[string]any{
		"company_id":  companyID,
		"contract_id": contractID,
		"recipients":  []map[string]any{{"email": "owner@example.com"}},
	}, h)
	expectStatus(t, resp, http.StatusOK)
	envelopeID := decode[map[string]any](t, resp)["envelope_id"].(string)

	resp = api.get(base+"/signature-tasks", nil, h)
	expectStatus(t, resp, http.StatusOK)
	tasks := decode[map[string][]map[string]any](t, resp)["tasks"]
	if len(tasks) != 1 || tasks[0]["envelope_id"] != envelopeID {
		t.Fatalf("expected one task for the envelope, got %v", tasks)
	}

	resp = api.post("/functions/v1/sign-envelope", map[string]any{
		"company_id":  companyID,
		"envelope_id": envelopeID,
	}, h)
	expectStatus(t, resp, http.StatusOK)
	signed := decode[map[string]any](t, resp)
	if signed["status"] != "signed" || signed["envelope_status"] != "fully_signed" {
		t.Fatalf("unexpected sign result: %v", signed)
	}

	resp = api.post("/functions/v1/sign-envelope", map[string]any{
		"company_id":  companyID,
		"envelope_id": envelopeID,
	}, h)
	expectStatus(t, resp, http.StatusOK)
	if again := decode[map[string]any](t, resp); again["status"] != "already_signed" {
		t.Fatalf("expected already_signed on repeat, got %v", again)
	}

	resp = api.get(base+"/contracts/"+contractID+"/audit", nil, h)
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()
}

func TestFunctionPreflightAndMethod(t *testing.T) {
	api := newTestAPI(t)

	resp := api.do(http.MethodOptions, "/functions/v1/invite-user", nil, nil)
	expectStatus(t, resp, http.StatusOK)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "ok" {
		t.Fatalf("unexpected preflight body: %q", body)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("unexpected allow-origin: %q", got)
	}
	if got := resp.Header.Get("Access-Control-Allow-Methods"); got != "POST, OPTIONS" {
		t.Fatalf("unexpected allow-methods: %q", got)
	}

	resp = api.get("/functions/v1/invite-user", nil, nil)
	expectStatus(t, resp, http.StatusMethodNotAllowed)
	if payload := decode[map[string]any](t, resp); payload["error"] != "Method not allowed" {
		t.Fatalf("unexpected error: %v", payload["error"])
	}
}

func TestFunctionRequiresBearer(t *testing.T) {
	api := newTestAPI(t)

	resp := api.post("/functions/v1/sign-envelope", map[string]any{}, nil)
	expectStatus(t, resp, http.StatusUnauthorized)
	errBody := decode[map[string]any](t, resp)
	if errBody["error"] != "missing bearer token" {
		t.Fatalf("unexpected error: %v", errBody["error"])
	}
	if errBody["request_id"] == "" {
		t.Fatalf("expected request_id")
	}

	resp = api.post("/functions/v1/sign-envelope", map[string]any{}, bearerHeader("garbage"))
	expectStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()
}

func TestFunctionRejectsMalformedBody(t *testing.T) {
	api := newTestAPI(t)
	token := api.signUp("user@example.com")

	req, err := http.NewRequest(http.MethodPost, api.baseURL+"/functions/v1/create-envelope", strings.NewReader("{not json"))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := api.client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	expectStatus(t, resp, http.StatusBadRequest)
	if payload := decode[map[string]any](t, resp); payload["error"] != "Invalid JSON" {
		t.Fatalf("unexpected error: %v", payload["error"])
	}

	resp = api.post("/functions/v1/create-envelope", map[string]any{"company_id": "x"}, bearerHeader(token))
	expectStatus(t, resp, http.StatusBadRequest)
	if payload := decode[map[string]any](t, resp); payload["error"] != "Missing fields" {
		t.Fatalf("unexpected error: %v", payload["error"])
	}
}

func TestInviteUserModes(t *testing.T) {
	api := newTestAPI(t)
	owner := api.signUp("owner@example.com")
	companyID, code := api.createCompany(owner, "Acme")
	member := api.signUp("member@example.com")

	resp := api.post("/functions/v1/invite-user", map[string]any{"mode": "bogus"}, bearerHeader(member))
	expectStatus(t, resp, http.StatusBadRequest)
	if payload := decode[map[string]any](t, resp); payload["error"] != "Invalid mode" {
		t.Fatalf("unexpected error: %v", payload["error"])
	}

	resp = api.post("/functions/v1/invite-user", map[string]any{
		"mode":        "join_by_invite_code",
		"invite_code": "NOPE0000",
	}, bearerHeader(member))
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()

	// not yet a member
	resp = api.get("/v1/companies/"+companyID+"/contracts", nil, bearerHeader(member))
	expectStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()

	resp = api.post("/functions/v1/invite-user", map[string]any{
		"mode":        "join_by_invite_code",
		"invite_code": code,
	}, bearerHeader(member))
	expectStatus(t, resp, http.StatusOK)
	if payload := decode[map[string]any](t, resp); payload["company_id"] != companyID {
		t.Fatalf("joined wrong company: %v", payload)
	}

	resp = api.get("/v1/companies/"+companyID+"/contracts", nil, bearerHeader(member))
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	// members without a role hold no permission keys
	resp = api.post("/v1/companies/"+companyID+"/contracts", map[string]any{"title": "x"}, bearerHeader(member))
	expectStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()

	resp = api.post("/functions/v1/invite-user", map[string]any{
		"mode":       "admin_add_by_email",
		"company_id": companyID,
		"email":      "owner@example.com",
	}, bearerHeader(member))
	expectStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()
}

func TestJoinKeepsAssignedRole(t *testing.T) {
	api := newTestAPI(t)
	owner := api.signUp("owner@example.com")
	companyID, code := api.createCompany(owner, "Acme")
	member := api.signUp("member@example.com")

	roleID := api.createRole(owner, companyID, "Editor", auth.PermContractsCreate)
	api.assignRole(owner, companyID, "member@example.com", roleID)
	api.join(member, code)

	resp := api.get("/v1/companies/"+companyID+"/permissions", nil, bearerHeader(member))
	expectStatus(t, resp, http.StatusOK)
	perms := decode[map[string]any](t, resp)
	keys, _ := perms["permissions"].([]any)
	if perms["is_admin"] != false || len(keys) != 1 || keys[0] != auth.PermContractsCreate {
		t.Fatalf("expected the Editor grant to survive the join, got %v", perms)
	}

	resp = api.post("/v1/companies/"+companyID+"/contracts", map[string]any{"title": "Rejoined"}, bearerHeader(member))
	expectStatus(t, resp, http.StatusCreated)
	resp.Body.Close()
}

func TestStripeWebhookRequiresSignature(t *testing.T) {
	api := newTestAPI(t)

	resp := api.post("/functions/v1/stripe-webhook", map[string]any{"id": "evt_1"}, nil)
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()
}

func TestDocumentUploadAndSignedDownload(t *testing.T) {
	api := newTestAPI(t)
	token := api.signUp("owner@example.com")
	companyID, _ := api.createCompany(token, "Acme")
	base := "/v1/companies/" + companyID

	resp := api.post(base+"/contracts", map[string]any{"title": "NDA"}, bearerHeader(token))
	expectStatus(t, resp, http.StatusCreated)
	contractID := decode[map[string]any](t, resp)["id"].(string)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "nda.txt")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	_, _ = part.Write([]byte("confidential"))
	_ = mw.Close()

	req, err := http.NewRequest(http.MethodPost, api.baseURL+base+"/contracts/"+contractID+"/documents", &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = api.client.Do(req)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	expectStatus(t, resp, http.StatusCreated)
	doc := decode[map[string]any](t, resp)
	link, _ := doc["download_url"].(string)
	if link == "" {
		t.Fatalf("expected signed download url: %v", doc)
	}

	resp = api.get(link, nil, nil)
	expectStatus(t, resp, http.StatusOK)
	content, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(content) != "confidential" {
		t.Fatalf("unexpected content: %q", content)
	}

	tampered := strings.Replace(link, "sig=", "sig=00", 1)
	resp = api.get(tampered, nil, nil)
	expectStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()
}

func TestDocsAndHealth(t *testing.T) {
	api := newTestAPI(t)

	resp := api.get("/docs/readme", nil, map[string]string{"Accept": "application/json"})
	expectStatus(t, resp, http.StatusOK)
	page := decode[map[string]any](t, resp)
	if page["key"] != "readme" {
		t.Fatalf("unexpected page: %v", page["key"])
	}

	resp = api.get("/docs/missing", nil, nil)
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()

	resp = api.get("/healthz", nil, nil)
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = api.get("/readyz", nil, nil)
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()
}

package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestExtractBearerToken(t *testing.T) {
	cases := []struct {
		header  string
		want    string
		wantErr bool
	}{
		{header: "Bearer abc", want: "abc"},
		{header: "bearer   abc  ", want: "abc"},
		{header: "", wantErr: true},
		{header: "Bearer ", wantErr: true},
		{header: "Basic dXNlcjpwYXNz", wantErr: true},
	}
	for _, tc := range cases {
		got, err := extractBearerToken(tc.header)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("%q: expected error, got token %q", tc.header, got)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%q: unexpected error: %v", tc.header, err)
		}
		if got != tc.want {
			t.Fatalf("%q: expected %q, got %q", tc.header, tc.want, got)
		}
	}
}

func TestStreamAcceptsQueryToken(t *testing.T) {
	api := newTestAPI(t)
	token := api.signUp("owner@example.com")

	// no company membership, so the guard answers once auth passes
	resp := api.get("/v1/companies/missing/events", map[string][]string{"access_token": {token}}, nil)
	expectStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()

	resp = api.get("/v1/companies/missing/events", nil, nil)
	expectStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()
}

func TestRestRejectsQueryToken(t *testing.T) {
	api := newTestAPI(t)
	token := api.signUp("owner@example.com")

	resp := api.get("/v1/me/companies", map[string][]string{"access_token": {token}}, nil)
	expectStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()

	resp = api.get("/v1/me/companies", nil, bearerHeader(token))
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()
}

func TestRequireNeedsCompany(t *testing.T) {
	a := &API{}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rr := httptest.NewRecorder()
	if _, ok := a.require(rr, req, "  ", ""); ok {
		t.Fatal("expected require to reject an empty company id")
	}
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

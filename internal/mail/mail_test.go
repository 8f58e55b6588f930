package mail

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSendStubbedWithoutKey(t *testing.T) {
	r := NewRelay("", "", nil)
	res, err := r.Send(context.Background(), Message{To: "a@b.co", Subject: "Hi", Text: "hello"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.Sent || res.Message != "SENDGRID_API_KEY not set (stubbed)" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestSendValidation(t *testing.T) {
	r := NewRelay("", "", nil)
	cases := []struct {
		name string
		msg  Message
	}{
		{name: "no recipient", msg: Message{Subject: "s", Text: "t"}},
		{name: "no subject", msg: Message{To: "a@b.co", Text: "t"}},
		{name: "no body", msg: Message{To: "a@b.co", Subject: "s"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := r.Send(context.Background(), tc.msg); !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestSendPostsPayload(t *testing.T) {
	var got payload
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if r.URL.Path != "/v3/mail/send" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	r := NewRelay("sg-key", "ops@clm.test", srv.Client())
	r.baseURL = srv.URL
	res, err := r.Send(context.Background(), Message{To: " x@y.z ", Subject: "Signed", HTML: "<b>done</b>", Text: "done"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !res.Sent {
		t.Fatalf("expected sent, got %+v", res)
	}
	if auth != "Bearer sg-key" {
		t.Fatalf("unexpected auth header %q", auth)
	}
	if got.From.Email != "ops@clm.test" || got.Personalizations[0].To[0].Email != "x@y.z" || got.Subject != "Signed" {
		t.Fatalf("unexpected payload: %+v", got)
	}
	if len(got.Content) != 2 || got.Content[0].Type != "text/plain" || got.Content[1].Type != "text/html" {
		t.Fatalf("unexpected content parts: %+v", got.Content)
	}
}

func TestSendSurfacesProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, "sender not verified")
	}))
	defer srv.Close()

	r := NewRelay("sg-key", "", srv.Client())
	r.baseURL = srv.URL
	_, err := r.Send(context.Background(), Message{To: "x@y.z", Subject: "s", Text: "t"})
	if err == nil || !strings.HasPrefix(err.Error(), "SendGrid error: 403") {
		t.Fatalf("unexpected error: %v", err)
	}
}

package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"clmhub.io/internal/auth"
	"clmhub.io/internal/config"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.Header.Get("apikey") != "anon" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "missing apikey"})
			return
		}
		switch r.URL.Path {
		case "/v1/auth/signin":
			var body credentials
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body.Password != "secret-pass" {
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid credentials"})
				return
			}
			_ = json.NewEncoder(w).Encode(auth.Session{
				AccessToken: "tok-1",
				ExpiresAt:   time.Now().Add(time.Hour),
				User:        auth.User{ID: "u1", Email: body.Email},
			})
		case "/v1/me/companies":
			if r.Header.Get("Authorization") != "Bearer tok-1" {
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid token"})
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"companies": []string{"c1"}})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSignInNotifiesAndAuthorizes(t *testing.T) {
	srv := newTestServer(t)
	client := NewClient(config.Coordinates{URL: srv.URL + "/", APIKey: "anon"}, WithHTTPClient(srv.Client()))
	ctx := context.Background()

	if err := client.Do(ctx, http.MethodGet, "/v1/me/companies", nil, nil); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession before sign-in, got %v", err)
	}

	var seen []string
	client.OnChange(func(s *auth.Session) {
		if s == nil {
			seen = append(seen, "first:nil")
			return
		}
		seen = append(seen, "first:"+s.User.ID)
	})
	client.OnChange(func(s *auth.Session) {
		if s == nil {
			seen = append(seen, "second:nil")
			return
		}
		seen = append(seen, "second:"+s.User.ID)
	})

	if _, err := client.SignIn(ctx, "a@b.co", "secret-pass"); err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	var out struct {
		Companies []string `json:"companies"`
	}
	if err := client.Do(ctx, http.MethodGet, "/v1/me/companies", nil, &out); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if len(out.Companies) != 1 || out.Companies[0] != "c1" {
		t.Fatalf("unexpected companies: %+v", out)
	}
	if err := client.SignOut(); err != nil {
		t.Fatalf("SignOut: %v", err)
	}
	if _, err := client.Session(); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected no session after sign-out, got %v", err)
	}
	want := []string{"first:u1", "second:u1", "first:nil", "second:nil"}
	if len(seen) != len(want) {
		t.Fatalf("listener calls %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("listener calls %v, want %v", seen, want)
		}
	}
}

func TestAPIErrorCarriesMessage(t *testing.T) {
	srv := newTestServer(t)
	client := NewClient(config.Coordinates{URL: srv.URL, APIKey: "anon"}, WithHTTPClient(srv.Client()))
	_, err := client.SignIn(context.Background(), "a@b.co", "wrong")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized || apiErr.Message != "invalid credentials" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSessionPersistsInStorage(t *testing.T) {
	srv := newTestServer(t)
	storage := config.NewMemoryStorage(nil)
	coords := config.Coordinates{URL: srv.URL, APIKey: "anon"}
	first := NewClient(coords, WithHTTPClient(srv.Client()), WithStorage(storage))
	if _, err := first.SignIn(context.Background(), "a@b.co", "secret-pass"); err != nil {
		t.Fatalf("SignIn: %v", err)
	}

	second := NewClient(coords, WithHTTPClient(srv.Client()), WithStorage(storage))
	s, err := second.Session()
	if err != nil || s.AccessToken != "tok-1" {
		t.Fatalf("session not restored: %+v %v", s, err)
	}
	if err := second.SignOut(); err != nil {
		t.Fatalf("SignOut: %v", err)
	}
	if _, ok := storage.Get(storageKey); ok {
		t.Fatal("expected stored session to be removed")
	}
}

func TestCacheReusesClientUntilCoordinatesChange(t *testing.T) {
	cache := NewCache()
	a := config.Coordinates{URL: "http://a", APIKey: "k"}
	b := config.Coordinates{URL: "http://b", APIKey: "k"}

	var wg sync.WaitGroup
	clients := make([]*Client, 16)
	for i := range clients {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			clients[i] = cache.Client(a)
		}(i)
	}
	wg.Wait()
	for _, c := range clients[1:] {
		if c != clients[0] {
			t.Fatal("expected one shared client for identical coordinates")
		}
	}
	other := cache.Client(b)
	if other == clients[0] || other.Coordinates().URL != "http://b" {
		t.Fatal("expected a new client for new coordinates")
	}
	if cache.Client(b) != other {
		t.Fatal("expected the new client to be cached")
	}
}

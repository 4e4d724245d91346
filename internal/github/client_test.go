package github

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}
	return key
}

func TestParseRSAPrivateKeyFormats(t *testing.T) {
	key := testKey(t)

	pkcs1, err := parseRSAPrivateKey(x509.MarshalPKCS1PrivateKey(key))
	if err != nil {
		t.Fatalf("parse pkcs1: %v", err)
	}
	if pkcs1.N.Cmp(key.N) != 0 {
		t.Fatal("pkcs1 key mismatch")
	}

	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("marshal pkcs8: %v", err)
	}
	pkcs8, err := parseRSAPrivateKey(der)
	if err != nil {
		t.Fatalf("parse pkcs8: %v", err)
	}
	if pkcs8.N.Cmp(key.N) != 0 {
		t.Fatal("pkcs8 key mismatch")
	}

	if _, err := parseRSAPrivateKey([]byte("garbage")); err == nil {
		t.Fatal("expected failure for junk DER")
	}
}

func testClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	return &Client{
		appID:          1234,
		installationID: 7,
		privateKey:     testKey(t),
		httpClient:     &http.Client{Timeout: 10 * time.Second},
		baseURL:        baseURL,
	}
}

func TestCreatePullRequestRetriesServerErrors(t *testing.T) {
	var pullAttempts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/app/installations/7/access_tokens":
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(installationTokenResponse{
				Token:     "inst-token",
				ExpiresAt: time.Now().Add(time.Hour),
			})

		case "/repos/acme/billing/pulls":
			pullAttempts++
			if r.Header.Get("Authorization") != "token inst-token" {
				t.Errorf("unexpected authorization header %q", r.Header.Get("Authorization"))
			}
			if pullAttempts == 1 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			var in CreatePullRequestInput
			json.NewDecoder(r.Body).Decode(&in)
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(map[string]any{
				"number":   42,
				"title":    in.Title,
				"state":    "open",
				"html_url": "https://github.com/acme/billing/pull/42",
			})

		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	pr, err := c.CreatePullRequest(context.Background(), "acme", "billing", CreatePullRequestInput{
		Title: "Raise coverage",
		Head:  "feature/coverage",
		Base:  "main",
	})
	if err != nil {
		t.Fatalf("create pull request: %v", err)
	}

	if pullAttempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", pullAttempts)
	}
	if pr.Number != 42 || pr.HTMLURL != "https://github.com/acme/billing/pull/42" {
		t.Fatalf("unexpected pull request %+v", pr)
	}
}

func TestCreatePullRequestSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/app/installations/7/access_tokens" {
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(installationTokenResponse{
				Token:     "inst-token",
				ExpiresAt: time.Now().Add(time.Hour),
			})
			return
		}
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"message":"No commits between main and feature/x"}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	_, err := c.CreatePullRequest(context.Background(), "acme", "billing", CreatePullRequestInput{
		Title: "t", Head: "feature/x", Base: "main",
	})

	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("expected *APIError, got %T: %v", err, err)
	}
	if apiErr.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("unexpected status %d", apiErr.StatusCode)
	}
}

func TestRetryAfterDuration(t *testing.T) {
	resp := &http.Response{Header: http.Header{}}

	if d := retryAfterDuration(resp); d != 0 {
		t.Fatalf("expected 0 without header, got %v", d)
	}

	resp.Header.Set("Retry-After", "3")
	if d := retryAfterDuration(resp); d != 3*time.Second {
		t.Fatalf("expected 3s, got %v", d)
	}

	resp.Header.Set("Retry-After", "-1")
	if d := retryAfterDuration(resp); d != 0 {
		t.Fatalf("expected 0 for negative value, got %v", d)
	}
}

func TestIsRetryableStatus(t *testing.T) {
	for code, want := range map[int]bool{
		http.StatusTooManyRequests:     true,
		http.StatusBadGateway:          true,
		http.StatusInternalServerError: true,
		http.StatusUnprocessableEntity: false,
		http.StatusUnauthorized:        false,
		http.StatusCreated:             false,
	} {
		if got := isRetryableStatus(code); got != want {
			t.Errorf("status %d: expected %v", code, want)
		}
	}
}

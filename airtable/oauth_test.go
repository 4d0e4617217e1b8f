package airtable

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/formbridge/formbridge/core"
)

func TestOAuthClientExchangePublicClient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if _, _, ok := r.BasicAuth(); ok {
			t.Error("public client must not send basic auth")
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if got := r.PostForm.Get("grant_type"); got != "authorization_code" {
			t.Errorf("grant_type = %q", got)
		}
		if got := r.PostForm.Get("client_id"); got != "client-123" {
			t.Errorf("client_id = %q", got)
		}
		if got := r.PostForm.Get("code_verifier"); got != "verifier-abc" {
			t.Errorf("code_verifier = %q", got)
		}
		if got := r.PostForm.Get("redirect_uri"); got != "https://app.example.com/callback" {
			t.Errorf("redirect_uri = %q", got)
		}
		if r.PostForm.Get("client_secret") != "" {
			t.Error("public client must not send a client secret")
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"at-1","refresh_token":"rt-1","token_type":"Bearer","expires_in":3600}`))
	}))
	defer server.Close()

	client, err := NewOAuthClient(OAuthConfig{
		ClientID:    "client-123",
		TokenURL:    server.URL,
		RedirectURI: "https://app.example.com/callback",
	}, server.Client())
	if err != nil {
		t.Fatalf("NewOAuthClient: %v", err)
	}

	grant, err := client.Exchange(context.Background(), "auth-code", "verifier-abc")
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if grant.AccessToken != "at-1" || grant.RefreshToken != "rt-1" || grant.ExpiresIn != 3600 {
		t.Fatalf("unexpected grant: %+v", grant)
	}
}

func TestOAuthClientExchangeConfidentialClientUsesBasicAuth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, password, ok := r.BasicAuth()
		if !ok || user != "client-123" || password != "shh" {
			t.Errorf("expected basic auth with client credentials, got %q/%q ok=%v", user, password, ok)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.PostForm.Get("client_secret") != "" {
			t.Error("secret must not also appear in the body")
		}
		if got := r.PostForm.Get("client_id"); got != "" {
			t.Errorf("client_id must not appear in the body alongside basic auth, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"at-1","token_type":"Bearer","expires_in":3600}`))
	}))
	defer server.Close()

	client, err := NewOAuthClient(OAuthConfig{
		ClientID:     "client-123",
		ClientSecret: "shh",
		TokenURL:     server.URL,
	}, server.Client())
	if err != nil {
		t.Fatalf("NewOAuthClient: %v", err)
	}
	if _, err := client.Exchange(context.Background(), "auth-code", "verifier-abc"); err != nil {
		t.Fatalf("Exchange: %v", err)
	}
}

func TestOAuthClientRefresh(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if got := r.PostForm.Get("grant_type"); got != "refresh_token" {
			t.Errorf("grant_type = %q", got)
		}
		if got := r.PostForm.Get("refresh_token"); got != "rt-old" {
			t.Errorf("refresh_token = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"at-2","refresh_token":"rt-new","token_type":"Bearer","expires_in":"1800"}`))
	}))
	defer server.Close()

	client, err := NewOAuthClient(OAuthConfig{ClientID: "client-123", TokenURL: server.URL}, server.Client())
	if err != nil {
		t.Fatalf("NewOAuthClient: %v", err)
	}

	grant, err := client.Refresh(context.Background(), "rt-old")
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if grant.AccessToken != "at-2" || grant.RefreshToken != "rt-new" {
		t.Fatalf("unexpected grant: %+v", grant)
	}
	// Quoted expires_in values still parse.
	if grant.ExpiresIn != 1800 {
		t.Fatalf("expires_in = %d", grant.ExpiresIn)
	}
}

func TestOAuthClientSurfacesProviderError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant","error_description":"authorization code expired"}`))
	}))
	defer server.Close()

	client, err := NewOAuthClient(OAuthConfig{ClientID: "client-123", TokenURL: server.URL}, server.Client())
	if err != nil {
		t.Fatalf("NewOAuthClient: %v", err)
	}

	_, err = client.Exchange(context.Background(), "stale-code", "verifier")
	var upstream *core.UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if upstream.Code != "invalid_grant" || upstream.Description != "authorization code expired" {
		t.Fatalf("unexpected upstream error: %+v", upstream)
	}
}

func TestOAuthClientFormEncodedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-www-form-urlencoded")
		w.Write([]byte("access_token=at-3&token_type=bearer&expires_in=900"))
	}))
	defer server.Close()

	client, err := NewOAuthClient(OAuthConfig{ClientID: "client-123", TokenURL: server.URL}, server.Client())
	if err != nil {
		t.Fatalf("NewOAuthClient: %v", err)
	}

	grant, err := client.Exchange(context.Background(), "code", "verifier")
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if grant.AccessToken != "at-3" || grant.ExpiresIn != 900 {
		t.Fatalf("unexpected grant: %+v", grant)
	}
}

func TestOAuthClientMissingAccessToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"token_type":"Bearer"}`))
	}))
	defer server.Close()

	client, err := NewOAuthClient(OAuthConfig{ClientID: "client-123", TokenURL: server.URL}, server.Client())
	if err != nil {
		t.Fatalf("NewOAuthClient: %v", err)
	}
	if _, err := client.Exchange(context.Background(), "code", "verifier"); err == nil {
		t.Fatal("expected error for missing access token")
	}
}

func TestNewOAuthClientValidation(t *testing.T) {
	if _, err := NewOAuthClient(OAuthConfig{TokenURL: "https://example.com"}, nil); err == nil {
		t.Fatal("expected error for missing client id")
	}
	if _, err := NewOAuthClient(OAuthConfig{ClientID: "client"}, nil); err == nil {
		t.Fatal("expected error for missing token url")
	}
}

package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

type stubLookup struct {
	callerID, email, name, hash string
	active                      bool
}

func (s stubLookup) LookupByAPIKeyPrefix(_ context.Context, _ string) (string, string, string, string, bool, error) {
	return s.callerID, s.email, s.name, s.hash, s.active, nil
}

func TestAuthenticate_APIKeySetsCredentialToPrefix(t *testing.T) {
	key, prefix, err := GenerateAPIKey()
	if err != nil {
		t.Fatalf("GenerateAPIKey() error = %v", err)
	}
	hash, err := HashAPIKey(key)
	if err != nil {
		t.Fatalf("HashAPIKey() error = %v", err)
	}
	lookup := stubLookup{callerID: "CL-AAAAAAAAAAAA", email: "a@example.com", name: "A", hash: hash, active: true}

	id, err := authenticate(requestWithAPIKey(key), nil, lookup, false)
	if err != nil {
		t.Fatalf("authenticate() error = %v", err)
	}
	if id.Method != "api_key" {
		t.Errorf("Method = %q, want %q", id.Method, "api_key")
	}
	if id.Credential != prefix {
		t.Errorf("Credential = %q, want key prefix %q", id.Credential, prefix)
	}
}

func TestAuthenticate_JWTSetsCredentialFromCallerID(t *testing.T) {
	issuer, err := NewTokenIssuer("0123456789abcdef0123456789abcdef")
	if err != nil {
		t.Fatalf("NewTokenIssuer() error = %v", err)
	}
	token, err := issuer.Issue(Claims{CallerID: "CL-BBBBBBBBBBBB", Email: "b@example.com", Name: "B"})
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/usage/daily", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	id, err := authenticate(req, issuer, nil, true)
	if err != nil {
		t.Fatalf("authenticate() error = %v", err)
	}
	if id.Method != "jwt" {
		t.Errorf("Method = %q, want %q", id.Method, "jwt")
	}
	if want := "jwt:CL-BBBBBBBBBBBB"; id.Credential != want {
		t.Errorf("Credential = %q, want %q", id.Credential, want)
	}
}

func requestWithAPIKey(key string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/logs", nil)
	req.Header.Set("X-API-Key", key)
	return req
}

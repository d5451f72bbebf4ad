package auth

import (
	"strings"
	"testing"
)

func TestTokenIssuer_IssueAndVerifyRoundTrip(t *testing.T) {
	issuer, err := NewTokenIssuer("test-secret-at-least-32-bytes-long")
	if err != nil {
		t.Fatalf("NewTokenIssuer() error = %v", err)
	}

	claims := Claims{CallerID: "CL-ABCDEF123456", Email: "dev@example.com", Name: "Dev Example"}

	token, err := issuer.Issue(claims)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if token == "" {
		t.Fatal("Issue() returned empty token")
	}

	got, err := issuer.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if got != claims {
		t.Errorf("Verify() = %+v, want %+v", got, claims)
	}
}

func TestTokenIssuer_VerifyRejectsTamperedSignature(t *testing.T) {
	issuer, err := NewTokenIssuer("test-secret-at-least-32-bytes-long")
	if err != nil {
		t.Fatalf("NewTokenIssuer() error = %v", err)
	}

	token, err := issuer.Issue(Claims{CallerID: "CL-ABCDEF123456"})
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		t.Fatalf("token has %d parts, want 3", len(parts))
	}
	tampered := parts[0] + "." + parts[1] + "." + parts[2][:len(parts[2])-2] + "xx"

	if _, err := issuer.Verify(tampered); err == nil {
		t.Error("Verify() on tampered token: want error, got nil")
	}
}

func TestTokenIssuer_VerifyRejectsWrongSecret(t *testing.T) {
	a, err := NewTokenIssuer("secret-a-is-at-least-32-bytes-long")
	if err != nil {
		t.Fatalf("NewTokenIssuer() error = %v", err)
	}
	b, err := NewTokenIssuer("secret-b-is-different-and-32-bytes-long")
	if err != nil {
		t.Fatalf("NewTokenIssuer() error = %v", err)
	}

	token, err := a.Issue(Claims{CallerID: "CL-ABCDEF123456"})
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	if _, err := b.Verify(token); err == nil {
		t.Error("Verify() with a different signing secret: want error, got nil")
	}
}

package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/wisbric/apitracker/internal/apierr"
	"github.com/wisbric/apitracker/internal/httpserver"
)

// Identity is the authenticated caller attached to the request context.
type Identity struct {
	CallerID string
	Email    string
	Name     string
	Method   string // "jwt" or "api_key"

	// Credential identifies the specific credential presented, denormalized
	// onto activity records for audit: the API key prefix for api_key auth,
	// or "jwt:<callerID>" for token auth (tokens carry no separate subject).
	Credential string
}

type contextKey int

const identityKey contextKey = iota

// FromContext returns the Identity stored by RequireJWTOrAPIKey or
// RequireAPIKey, or nil if the request was not authenticated.
func FromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey).(*Identity)
	return id
}

// CallerLookup resolves an API key to its owning caller's identity and
// active status. Implemented by pkg/caller.Store to avoid an import cycle.
type CallerLookup interface {
	LookupByAPIKeyPrefix(ctx context.Context, prefix string) (callerID, email, name, hash string, active bool, err error)
}

// RequireJWTOrAPIKey authenticates via Authorization: Bearer JWT, falling
// back to X-API-Key, and rejects the request with 401/403 on failure.
func RequireJWTOrAPIKey(issuer *TokenIssuer, lookup CallerLookup, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := authenticate(r, issuer, lookup, true)
			if err != nil {
				httpserver.RespondAPIErr(w, logger, err)
				return
			}
			r = r.WithContext(context.WithValue(r.Context(), identityKey, id))
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAPIKey authenticates via an API key only, from the X-API-Key
// header or the apiKey query parameter (JWT is not accepted), used on the
// ingestion endpoint.
func RequireAPIKey(lookup CallerLookup, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := authenticate(r, nil, lookup, false)
			if err != nil {
				httpserver.RespondAPIErr(w, logger, err)
				return
			}
			r = r.WithContext(context.WithValue(r.Context(), identityKey, id))
			next.ServeHTTP(w, r)
		})
	}
}

func authenticate(r *http.Request, issuer *TokenIssuer, lookup CallerLookup, allowJWT bool) (*Identity, error) {
	if allowJWT && issuer != nil {
		if bearer := extractBearer(r); bearer != "" {
			claims, err := issuer.Verify(bearer)
			if err != nil {
				return nil, apierr.Unauthenticated("invalid or expired token")
			}
			return &Identity{CallerID: claims.CallerID, Email: claims.Email, Name: claims.Name, Method: "jwt", Credential: "jwt:" + claims.CallerID}, nil
		}
	}

	apiKey := r.Header.Get("X-API-Key")
	if apiKey == "" {
		apiKey = r.URL.Query().Get("apiKey")
	}
	if apiKey == "" {
		if token := r.URL.Query().Get("token"); token != "" && allowJWT && issuer != nil {
			claims, err := issuer.Verify(token)
			if err != nil {
				return nil, apierr.Unauthenticated("invalid or expired token")
			}
			return &Identity{CallerID: claims.CallerID, Email: claims.Email, Name: claims.Name, Method: "jwt", Credential: "jwt:" + claims.CallerID}, nil
		}
		return nil, apierr.Unauthenticated("missing credentials")
	}

	if len(apiKey) < KeyPrefixLen {
		return nil, apierr.Unauthenticated("malformed api key")
	}

	prefix := apiKey[:KeyPrefixLen]
	callerID, email, name, hash, active, err := lookup.LookupByAPIKeyPrefix(r.Context(), prefix)
	if err != nil {
		return nil, apierr.Unauthenticated("invalid api key")
	}
	if !CompareAPIKey(hash, apiKey) {
		return nil, apierr.Unauthenticated("invalid api key")
	}
	if !active {
		return nil, apierr.Forbidden("caller is not active")
	}

	return &Identity{CallerID: callerID, Email: email, Name: name, Method: "api_key", Credential: prefix}, nil
}

func extractBearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if strings.HasPrefix(h, prefix) {
		return strings.TrimPrefix(h, prefix)
	}
	return ""
}

package caller

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/wisbric/apitracker/internal/apierr"
	"github.com/wisbric/apitracker/internal/auth"
)

// RegisterRequest is the POST /register payload.
type RegisterRequest struct {
	Name      string `json:"name" validate:"required,min=1"`
	Email     string `json:"email" validate:"required,email"`
	RateLimit int    `json:"rate_limit" validate:"omitempty,gt=0"`
}

// RegisterResponse is returned once on successful registration; the plain
// API key is never recoverable afterward.
type RegisterResponse struct {
	CallerID  string    `json:"caller_id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	APIKey    string    `json:"api_key"`
	Token     string    `json:"token"`
	RateLimit int       `json:"rate_limit"`
	CreatedAt time.Time `json:"created_at"`
}

// Service implements caller registration.
type Service struct {
	store            *Store
	issuer           *auth.TokenIssuer
	encryptor        *auth.Encryptor
	defaultRateLimit int
}

// NewService builds a registration service.
func NewService(store *Store, issuer *auth.TokenIssuer, encryptor *auth.Encryptor, defaultRateLimit int) *Service {
	return &Service{store: store, issuer: issuer, encryptor: encryptor, defaultRateLimit: defaultRateLimit}
}

// Register creates a new caller, issuing a fresh API key and JWT. Returns
// an apierr.Conflict error (surfaced as 409) if the email is already
// registered.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*RegisterResponse, error) {
	rateLimit := req.RateLimit
	if rateLimit <= 0 {
		rateLimit = s.defaultRateLimit
	}

	callerID, err := newCallerID()
	if err != nil {
		return nil, apierr.Internal(fmt.Errorf("generating caller id: %w", err))
	}

	apiKey, prefix, err := auth.GenerateAPIKey()
	if err != nil {
		return nil, apierr.Internal(fmt.Errorf("generating api key: %w", err))
	}

	hash, err := auth.HashAPIKey(apiKey)
	if err != nil {
		return nil, apierr.Internal(fmt.Errorf("hashing api key: %w", err))
	}

	encrypted, err := s.encryptor.Encrypt(apiKey)
	if err != nil {
		return nil, apierr.Internal(fmt.Errorf("encrypting api key: %w", err))
	}

	now := time.Now().UTC()
	c := &Caller{
		ID:              callerID,
		Name:            req.Name,
		Email:           req.Email,
		Active:          true,
		RateLimit:       rateLimit,
		APIKeyHash:      hash,
		APIKeyPrefix:    prefix,
		APIKeyEncrypted: encrypted,
		CreatedAt:       now,
	}

	if err := s.store.Create(ctx, c); err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			return nil, apierr.Conflict("email already registered")
		}
		return nil, apierr.Internal(fmt.Errorf("creating caller: %w", err))
	}

	token, err := s.issuer.Issue(auth.Claims{CallerID: c.ID, Email: c.Email, Name: c.Name})
	if err != nil {
		return nil, apierr.Internal(fmt.Errorf("issuing token: %w", err))
	}

	return &RegisterResponse{
		CallerID:  c.ID,
		Name:      c.Name,
		Email:     c.Email,
		APIKey:    apiKey,
		Token:     token,
		RateLimit: c.RateLimit,
		CreatedAt: c.CreatedAt,
	}, nil
}

const callerIDAlphabet = "0123456789ABCDEF"

// newCallerID returns an id matching CL-[0-9A-F]{12}.
func newCallerID() (string, error) {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	out := make([]byte, 12)
	for i, b := range buf {
		out[i] = callerIDAlphabet[b%16]
	}
	return "CL-" + string(out), nil
}

package caller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wisbric/apitracker/internal/apierr"
)

const pgUniqueViolation = "23505"

// ErrDuplicateEmail is returned by Create when the email is already
// registered.
var ErrDuplicateEmail = errors.New("email already registered")

// Store persists callers in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wraps a pgx pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Create inserts a new caller row.
func (s *Store) Create(ctx context.Context, c *Caller) error {
	const q = `
		INSERT INTO callers (
			id, name, email, active, rate_limit,
			api_key_hash, api_key_prefix, api_key_encrypted, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.pool.Exec(ctx, q,
		c.ID, c.Name, c.Email, c.Active, c.RateLimit,
		c.APIKeyHash, c.APIKeyPrefix, c.APIKeyEncrypted, c.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("inserting caller: %w", err)
	}
	return nil
}

// GetByEmail returns the caller registered under email, or pgx.ErrNoRows.
func (s *Store) GetByEmail(ctx context.Context, email string) (*Caller, error) {
	const q = `
		SELECT id, name, email, active, rate_limit,
		       api_key_hash, api_key_prefix, api_key_encrypted, created_at, last_seen_at
		FROM callers WHERE email = $1`

	return s.scanOne(s.pool.QueryRow(ctx, q, email))
}

// GetByID returns the caller with the given id.
func (s *Store) GetByID(ctx context.Context, id string) (*Caller, error) {
	const q = `
		SELECT id, name, email, active, rate_limit,
		       api_key_hash, api_key_prefix, api_key_encrypted, created_at, last_seen_at
		FROM callers WHERE id = $1`

	return s.scanOne(s.pool.QueryRow(ctx, q, id))
}

// ActiveCallerIDs returns the id of every active caller, used by
// DailyUsage's per-caller aggregation sweep.
func (s *Store) ActiveCallerIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM callers WHERE active`)
	if err != nil {
		return nil, fmt.Errorf("querying active callers: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning caller id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// LookupByAPIKeyPrefix implements auth.CallerLookup: it narrows the search
// to the row(s) matching the key's unencrypted prefix, then lets the
// caller bcrypt-compare the full key against the returned hash.
func (s *Store) LookupByAPIKeyPrefix(ctx context.Context, prefix string) (callerID, email, name, hash string, active bool, err error) {
	const q = `
		SELECT id, email, name, api_key_hash, active
		FROM callers WHERE api_key_prefix = $1`

	row := s.pool.QueryRow(ctx, q, prefix)
	if err := row.Scan(&callerID, &email, &name, &hash, &active); err != nil {
		return "", "", "", "", false, apierr.Unauthenticated("unknown api key")
	}
	return callerID, email, name, hash, active, nil
}

// RateLimitFor implements pkg/ratelimit.CeilingLookup: the per-caller
// ceiling override, or 0 if the caller cannot be resolved (the limiter
// then falls back to its configured default).
func (s *Store) RateLimitFor(callerID string) int {
	c, err := s.GetByID(context.Background(), callerID)
	if err != nil {
		return 0
	}
	return c.RateLimit
}

// TouchLastSeen updates a caller's last_seen_at to now, best-effort.
func (s *Store) TouchLastSeen(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `UPDATE callers SET last_seen_at = $2 WHERE id = $1`, id, time.Now().UTC())
	return err
}

func (s *Store) scanOne(row pgx.Row) (*Caller, error) {
	var c Caller
	if err := row.Scan(
		&c.ID, &c.Name, &c.Email, &c.Active, &c.RateLimit,
		&c.APIKeyHash, &c.APIKeyPrefix, &c.APIKeyEncrypted, &c.CreatedAt, &c.LastSeenAt,
	); err != nil {
		return nil, err
	}
	return &c, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

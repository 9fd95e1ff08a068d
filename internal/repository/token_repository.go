package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ilaygozlan/crypto-advisor-api/internal/metrics"
)

// Token repository errors
var (
	ErrTokenNotFound = errors.New("refresh token not found")
)

// TokenRepository is the durable store for long-lived credentials. Rows are
// never updated except to set revoked_at; rotation inserts a new row. Revoked
// and expired rows stay in place until the GC sweep removes them.
type TokenRepository interface {
	Create(ctx context.Context, token *RefreshToken) error
	// FindValidByHash returns the record only if it is unrevoked. Expiry is
	// the caller's check, so "expired but present" and "not found" stay
	// distinguishable in logs even though both must be rejected.
	FindValidByHash(ctx context.Context, tokenHash string) (*RefreshToken, error)
	// GetByHash returns the record regardless of revocation. Used to tell a
	// replayed (rotated-away) secret apart from one that never existed.
	GetByHash(ctx context.Context, tokenHash string) (*RefreshToken, error)
	Revoke(ctx context.Context, id uuid.UUID) error
	RevokeByHash(ctx context.Context, tokenHash string) error
	RevokeAllForUser(ctx context.Context, userID uuid.UUID) error
	// Rotate atomically revokes the credential identified by presentedHash
	// and inserts its replacement. When two requests race on the same hash,
	// the conditional revoke claims the row for exactly one of them; the
	// other gets ErrTokenNotFound.
	Rotate(ctx context.Context, presentedHash string, replacement *RefreshToken) error
	DeleteExpiredAndRevoked(ctx context.Context) (int64, error)
}

// tokenRepository implements TokenRepository using PostgreSQL
type tokenRepository struct {
	pool *pgxpool.Pool
}

// NewTokenRepository creates a new TokenRepository instance
func NewTokenRepository(pool *pgxpool.Pool) TokenRepository {
	return &tokenRepository{pool: pool}
}

// Create inserts a new long-lived credential row
func (r *tokenRepository) Create(ctx context.Context, token *RefreshToken) error {
	query := `
		INSERT INTO refresh_tokens (user_id, token_hash, expires_at, ip_address, user_agent)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`

	err := r.pool.QueryRow(ctx, query,
		token.UserID,
		token.TokenHash,
		token.ExpiresAt,
		token.IPAddress,
		token.UserAgent,
	).Scan(&token.ID, &token.CreatedAt)

	if err != nil {
		return err
	}

	return nil
}

const tokenColumns = `id, user_id, token_hash, expires_at, created_at, revoked_at, ip_address, user_agent`

func scanToken(row pgx.Row) (*RefreshToken, error) {
	token := &RefreshToken{}
	err := row.Scan(
		&token.ID,
		&token.UserID,
		&token.TokenHash,
		&token.ExpiresAt,
		&token.CreatedAt,
		&token.RevokedAt,
		&token.IPAddress,
		&token.UserAgent,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTokenNotFound
		}
		return nil, err
	}
	return token, nil
}

// FindValidByHash retrieves an unrevoked credential by its token hash
func (r *tokenRepository) FindValidByHash(ctx context.Context, tokenHash string) (*RefreshToken, error) {
	query := `
		SELECT ` + tokenColumns + `
		FROM refresh_tokens
		WHERE token_hash = $1 AND revoked_at IS NULL
	`

	return scanToken(r.pool.QueryRow(ctx, query, tokenHash))
}

// GetByHash retrieves a credential by its token hash, revoked or not
func (r *tokenRepository) GetByHash(ctx context.Context, tokenHash string) (*RefreshToken, error) {
	query := `
		SELECT ` + tokenColumns + `
		FROM refresh_tokens
		WHERE token_hash = $1
	`

	return scanToken(r.pool.QueryRow(ctx, query, tokenHash))
}

// Revoke marks a credential as revoked. Revoking an already-revoked
// credential is a no-op, not an error, so retries after a timeout are safe.
func (r *tokenRepository) Revoke(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE refresh_tokens
		SET revoked_at = $1
		WHERE id = $2 AND revoked_at IS NULL
	`

	_, err := r.pool.Exec(ctx, query, time.Now().UTC(), id)
	return err
}

// RevokeByHash marks the credential with the given hash as revoked.
// Idempotent: a missing or already-revoked row is not an error.
func (r *tokenRepository) RevokeByHash(ctx context.Context, tokenHash string) error {
	query := `
		UPDATE refresh_tokens
		SET revoked_at = $1
		WHERE token_hash = $2 AND revoked_at IS NULL
	`

	_, err := r.pool.Exec(ctx, query, time.Now().UTC(), tokenHash)
	return err
}

// RevokeAllForUser revokes every active credential for a user. Used for
// logout-everywhere and as the response to refresh-secret reuse.
func (r *tokenRepository) RevokeAllForUser(ctx context.Context, userID uuid.UUID) error {
	query := `
		UPDATE refresh_tokens
		SET revoked_at = $1
		WHERE user_id = $2 AND revoked_at IS NULL
	`

	_, err := r.pool.Exec(ctx, query, time.Now().UTC(), userID)
	return err
}

// Rotate revokes the presented credential and inserts its replacement in a
// single transaction. The conditional UPDATE acts as the claim: with two
// concurrent refreshes of the same cookie, Postgres row locking serializes
// them and the second UPDATE matches zero rows.
func (r *tokenRepository) Rotate(ctx context.Context, presentedHash string, replacement *RefreshToken) error {
	defer metrics.TimeQuery("rotate_token")()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin rotate: %w", err)
	}
	defer tx.Rollback(ctx)

	revoke := `
		UPDATE refresh_tokens
		SET revoked_at = $1
		WHERE token_hash = $2 AND revoked_at IS NULL
	`

	result, err := tx.Exec(ctx, revoke, time.Now().UTC(), presentedHash)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrTokenNotFound
	}

	insert := `
		INSERT INTO refresh_tokens (user_id, token_hash, expires_at, ip_address, user_agent)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`

	err = tx.QueryRow(ctx, insert,
		replacement.UserID,
		replacement.TokenHash,
		replacement.ExpiresAt,
		replacement.IPAddress,
		replacement.UserAgent,
	).Scan(&replacement.ID, &replacement.CreatedAt)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// DeleteExpiredAndRevoked removes rows that are already dead to the protocol:
// past expiry or explicitly revoked. Safe to run concurrently with every
// other operation.
func (r *tokenRepository) DeleteExpiredAndRevoked(ctx context.Context) (int64, error) {
	defer metrics.TimeQuery("delete_dead_tokens")()

	query := `
		DELETE FROM refresh_tokens
		WHERE expires_at < $1 OR revoked_at IS NOT NULL
	`

	result, err := r.pool.Exec(ctx, query, time.Now().UTC())
	if err != nil {
		return 0, err
	}

	return result.RowsAffected(), nil
}

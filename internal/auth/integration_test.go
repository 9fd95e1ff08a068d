//go:build integration

package auth_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ilaygozlan/crypto-advisor-api/internal/auth"
	"github.com/ilaygozlan/crypto-advisor-api/internal/repository"
)

var testDB *pgxpool.Pool

// TestMain connects to the test database. Run with:
//
//	go test -tags integration ./internal/auth/
func TestMain(m *testing.M) {
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		dbURL = "host=localhost port=5432 user=postgres password=postgres dbname=crypto_advisor_test sslmode=disable"
	}

	ctx := context.Background()

	var err error
	testDB, err = pgxpool.New(ctx, dbURL)
	if err != nil {
		fmt.Printf("Failed to connect to test database: %v\n", err)
		os.Exit(1)
	}
	defer testDB.Close()

	if err := testDB.Ping(ctx); err != nil {
		fmt.Printf("Failed to ping test database: %v\n", err)
		os.Exit(1)
	}

	os.Exit(m.Run())
}

// cleanupTestData removes test data, children before parents
func cleanupTestData(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	if _, err := testDB.Exec(ctx, "DELETE FROM refresh_tokens"); err != nil {
		t.Logf("Warning: failed to cleanup refresh_tokens: %v", err)
	}
	if _, err := testDB.Exec(ctx, "DELETE FROM users"); err != nil {
		t.Logf("Warning: failed to cleanup users: %v", err)
	}
}

func newIntegrationService(t *testing.T) (*auth.Service, repository.TokenRepository) {
	t.Helper()

	tokens := repository.NewTokenRepository(testDB)
	signer, err := auth.NewTokenService(auth.TokenServiceConfig{
		AccessSecret: "test-access-secret-key-32-chars!",
		AccessTTL:    15 * time.Minute,
		RefreshTTL:   7 * 24 * time.Hour,
		Issuer:       "test-issuer",
	})
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}

	service := auth.NewService(
		repository.NewUserRepository(testDB),
		tokens,
		signer,
		auth.NewPasswordHasher(auth.MinBcryptCost),
		nil,
	)
	return service, tokens
}

func signupUser(t *testing.T, service *auth.Service, email string) *auth.SessionResult {
	t.Helper()
	result, err := service.Signup(context.Background(), auth.SignupRequest{
		Email:    email,
		Password: "password123",
	}, "203.0.113.7", "integration-test")
	if err != nil {
		t.Fatalf("Signup: %v", err)
	}
	return result
}

func activeTokenCount(t *testing.T, userID uuid.UUID) int {
	t.Helper()
	var count int
	err := testDB.QueryRow(context.Background(),
		"SELECT COUNT(*) FROM refresh_tokens WHERE user_id = $1 AND revoked_at IS NULL",
		userID,
	).Scan(&count)
	if err != nil {
		t.Fatalf("count active tokens: %v", err)
	}
	return count
}

// Concurrent refreshes of the same cookie against real Postgres: the
// conditional revoke inside the rotation transaction is the claim, and row
// locking must let exactly one request win.
func TestRotationExclusivity(t *testing.T) {
	cleanupTestData(t)
	service, _ := newIntegrationService(t)
	signup := signupUser(t, service, "rotation@example.com")

	const attempts = 8
	results := make(chan error, attempts)

	var start sync.WaitGroup
	start.Add(1)
	for i := 0; i < attempts; i++ {
		go func() {
			start.Wait()
			_, err := service.Refresh(context.Background(), signup.RefreshSecret, "", "")
			results <- err
		}()
	}
	start.Done()

	var wins, losses int
	for i := 0; i < attempts; i++ {
		switch err := <-results; {
		case err == nil:
			wins++
		case errors.Is(err, auth.ErrInvalidRefreshToken):
			losses++
		default:
			t.Fatalf("unexpected refresh error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("wins = %d, losses = %d, want exactly one winner", wins, losses)
	}

	// The presented credential is revoked in the database
	var revoked bool
	err := testDB.QueryRow(context.Background(),
		"SELECT revoked_at IS NOT NULL FROM refresh_tokens WHERE token_hash = $1",
		auth.HashRefreshSecret(signup.RefreshSecret),
	).Scan(&revoked)
	if err != nil {
		t.Fatalf("presented token lookup: %v", err)
	}
	if !revoked {
		t.Error("presented credential not revoked after rotation")
	}
}

// Refresh racing logout on the same credential: whichever order Postgres
// serializes them in, the presented credential ends up revoked and the
// refresh either wins cleanly or is rejected, never both half-done.
func TestRefreshVersusLogout(t *testing.T) {
	cleanupTestData(t)
	service, _ := newIntegrationService(t)
	signup := signupUser(t, service, "race@example.com")

	var wg sync.WaitGroup
	var refreshErr, logoutErr error

	wg.Add(2)
	go func() {
		defer wg.Done()
		_, refreshErr = service.Refresh(context.Background(), signup.RefreshSecret, "", "")
	}()
	go func() {
		defer wg.Done()
		logoutErr = service.Logout(context.Background(), signup.RefreshSecret)
	}()
	wg.Wait()

	if logoutErr != nil {
		t.Fatalf("Logout: %v", logoutErr)
	}
	if refreshErr != nil && !errors.Is(refreshErr, auth.ErrInvalidRefreshToken) {
		t.Fatalf("Refresh: %v", refreshErr)
	}

	var revoked bool
	err := testDB.QueryRow(context.Background(),
		"SELECT revoked_at IS NOT NULL FROM refresh_tokens WHERE token_hash = $1",
		auth.HashRefreshSecret(signup.RefreshSecret),
	).Scan(&revoked)
	if err != nil {
		t.Fatalf("presented token lookup: %v", err)
	}
	if !revoked {
		t.Error("presented credential survived the refresh/logout race unrevoked")
	}
}

// Replaying a rotated-away secret against the real store revokes every
// credential for the user.
func TestReplayRevokesAllSessions(t *testing.T) {
	cleanupTestData(t)
	service, _ := newIntegrationService(t)
	signup := signupUser(t, service, "replay@example.com")

	if _, err := service.Login(context.Background(), auth.LoginRequest{
		Email:    "replay@example.com",
		Password: "password123",
	}, "", ""); err != nil {
		t.Fatalf("Login: %v", err)
	}

	if _, err := service.Refresh(context.Background(), signup.RefreshSecret, "", ""); err != nil {
		t.Fatalf("first refresh: %v", err)
	}

	_, err := service.Refresh(context.Background(), signup.RefreshSecret, "", "")
	if !errors.Is(err, auth.ErrInvalidRefreshToken) {
		t.Fatalf("replayed secret = %v, want ErrInvalidRefreshToken", err)
	}

	if got := activeTokenCount(t, signup.User.ID); got != 0 {
		t.Fatalf("%d credentials still active after replay, want 0", got)
	}
}

// GC sweep through the repository: expired and revoked rows go, live rows
// stay.
func TestDeleteExpiredAndRevoked(t *testing.T) {
	cleanupTestData(t)
	service, tokens := newIntegrationService(t)
	signup := signupUser(t, service, "sweep@example.com")
	ctx := context.Background()

	expired := &repository.RefreshToken{
		UserID:    signup.User.ID,
		TokenHash: auth.HashRefreshSecret("expired-secret"),
		ExpiresAt: time.Now().UTC().Add(-time.Hour),
	}
	if err := tokens.Create(ctx, expired); err != nil {
		t.Fatalf("create expired token: %v", err)
	}

	revoked := &repository.RefreshToken{
		UserID:    signup.User.ID,
		TokenHash: auth.HashRefreshSecret("revoked-secret"),
		ExpiresAt: time.Now().UTC().Add(time.Hour),
	}
	if err := tokens.Create(ctx, revoked); err != nil {
		t.Fatalf("create revoked token: %v", err)
	}
	if err := tokens.RevokeByHash(ctx, revoked.TokenHash); err != nil {
		t.Fatalf("revoke token: %v", err)
	}

	deleted, err := tokens.DeleteExpiredAndRevoked(ctx)
	if err != nil {
		t.Fatalf("DeleteExpiredAndRevoked: %v", err)
	}
	if deleted != 2 {
		t.Errorf("deleted = %d, want 2", deleted)
	}

	// The signup session is untouched
	if _, err := tokens.GetByHash(ctx, auth.HashRefreshSecret(signup.RefreshSecret)); err != nil {
		t.Errorf("live credential swept: %v", err)
	}
	if _, err := tokens.GetByHash(ctx, expired.TokenHash); !errors.Is(err, repository.ErrTokenNotFound) {
		t.Errorf("expired credential still present: %v", err)
	}
}

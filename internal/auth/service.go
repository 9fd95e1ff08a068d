package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ilaygozlan/crypto-advisor-api/internal/metrics"
	"github.com/ilaygozlan/crypto-advisor-api/internal/repository"
)

// Auth service errors
var (
	ErrEmailTaken          = errors.New("email already registered")
	ErrInvalidCredentials  = errors.New("invalid email or password")
	ErrNoRefreshToken      = errors.New("refresh token missing")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	ErrRefreshExpired      = errors.New("refresh token expired")
	ErrUserNotFound        = errors.New("user not found")
)

// Error codes for API responses
const (
	CodeValidationError     = "VALIDATION_ERROR"
	CodeEmailExists         = "EMAIL_EXISTS"
	CodeInvalidCredentials  = "INVALID_CREDENTIALS"
	CodeAuthTokenMissing    = "AUTH_TOKEN_MISSING"
	CodeAuthTokenInvalid    = "AUTH_TOKEN_INVALID"
	CodeRefreshTokenMissing = "REFRESH_TOKEN_MISSING"
	CodeInvalidRefreshToken = "INVALID_REFRESH_TOKEN"
	CodeRateLimited         = "RATE_LIMITED"
	CodeInternalError       = "INTERNAL_ERROR"
)

// SessionResult is the outcome of signup, login, and refresh: a signed access
// token plus the raw refresh secret destined for the HTTP-only cookie.
type SessionResult struct {
	User             *repository.User
	AccessToken      string
	RefreshSecret    string
	RefreshExpiresAt time.Time
}

// Service orchestrates the credential lifecycle: it creates users, issues the
// access/refresh pair, rotates the refresh credential on every refresh, and
// revokes it on logout or reuse.
type Service struct {
	users  repository.UserRepository
	tokens repository.TokenRepository
	signer *TokenService
	hasher *PasswordHasher
	logger *slog.Logger
	now    func() time.Time

	// dummyHash absorbs a bcrypt comparison when the email is unknown, so
	// "no such user" and "wrong password" share one timing profile.
	dummyHash string
}

// NewService creates a new session manager Service
func NewService(
	users repository.UserRepository,
	tokens repository.TokenRepository,
	signer *TokenService,
	hasher *PasswordHasher,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	dummyHash, err := hasher.Hash("decoy-password-for-timing")
	if err != nil {
		// bcrypt only fails on invalid cost, which the hasher constructor
		// already clamps
		dummyHash = ""
	}
	return &Service{
		users:     users,
		tokens:    tokens,
		signer:    signer,
		hasher:    hasher,
		logger:    logger,
		now:       time.Now,
		dummyHash: dummyHash,
	}
}

// WithClock overrides the service clock. Test hook.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Signup creates a new user account and issues a credential pair
func (s *Service) Signup(ctx context.Context, req SignupRequest, ip, userAgent string) (*SessionResult, error) {
	email := strings.TrimSpace(strings.ToLower(req.Email))

	exists, err := s.users.EmailExists(ctx, email)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrEmailTaken
	}

	passwordHash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, err
	}

	user := &repository.User{
		Email:        email,
		PasswordHash: passwordHash,
		FirstName:    optionalString(req.FirstName),
		LastName:     optionalString(req.LastName),
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrEmailAlreadyExists) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}

	metrics.SignupsTotal.Inc()
	return s.issueSession(ctx, user, ip, userAgent)
}

// Login authenticates a user and issues a credential pair. Unknown email and
// wrong password produce the identical error and a comparable timing profile.
func (s *Service) Login(ctx context.Context, req LoginRequest, ip, userAgent string) (*SessionResult, error) {
	email := strings.TrimSpace(strings.ToLower(req.Email))

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			s.hasher.Verify(req.Password, s.dummyHash)
			metrics.LoginsTotal.WithLabelValues("failure").Inc()
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if !s.hasher.Verify(req.Password, user.PasswordHash) {
		metrics.LoginsTotal.WithLabelValues("failure").Inc()
		return nil, ErrInvalidCredentials
	}

	if err := s.users.UpdateLastLogin(ctx, user.ID); err != nil {
		// Not worth failing the login over
		s.logger.Warn("failed to update last login", "user_id", user.ID, "error", err)
	}

	metrics.LoginsTotal.WithLabelValues("success").Inc()
	return s.issueSession(ctx, user, ip, userAgent)
}

// Refresh rotates the presented refresh credential: the old record is revoked
// and a brand-new one is created in the same transaction, so a leaked cookie
// is worth at most one use. Presenting an already-rotated secret is treated
// as compromise and revokes every credential for that user.
func (s *Service) Refresh(ctx context.Context, presentedSecret, ip, userAgent string) (*SessionResult, error) {
	if presentedSecret == "" {
		return nil, ErrNoRefreshToken
	}

	hash := HashRefreshSecret(presentedSecret)

	current, err := s.tokens.FindValidByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, repository.ErrTokenNotFound) {
			s.handlePossibleReuse(ctx, hash)
			metrics.RefreshesTotal.WithLabelValues("invalid").Inc()
			return nil, ErrInvalidRefreshToken
		}
		return nil, err
	}

	now := s.now()
	if current.IsExpired(now) {
		metrics.RefreshesTotal.WithLabelValues("expired").Inc()
		return nil, ErrRefreshExpired
	}

	user, err := s.users.GetByID(ctx, current.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrInvalidRefreshToken
		}
		return nil, err
	}

	next, err := s.signer.GenerateRefreshSecret()
	if err != nil {
		return nil, err
	}

	replacement := &repository.RefreshToken{
		UserID:    user.ID,
		TokenHash: next.Hash,
		ExpiresAt: next.ExpiresAt,
		IPAddress: optionalString(ip),
		UserAgent: optionalString(userAgent),
	}

	if err := s.tokens.Rotate(ctx, hash, replacement); err != nil {
		if errors.Is(err, repository.ErrTokenNotFound) {
			// Lost a race against a concurrent refresh or logout; exactly
			// one rotation wins per presented hash.
			metrics.RefreshesTotal.WithLabelValues("invalid").Inc()
			return nil, ErrInvalidRefreshToken
		}
		return nil, err
	}

	accessToken, err := s.signer.SignAccess(user.ID.String(), user.Email)
	if err != nil {
		return nil, err
	}

	metrics.RefreshesTotal.WithLabelValues("success").Inc()
	return &SessionResult{
		User:             user,
		AccessToken:      accessToken,
		RefreshSecret:    next.Secret,
		RefreshExpiresAt: next.ExpiresAt,
	}, nil
}

// Logout revokes the presented refresh credential. Idempotent: an unknown or
// already-revoked secret is not an error.
func (s *Service) Logout(ctx context.Context, presentedSecret string) error {
	if presentedSecret == "" {
		return nil
	}
	return s.tokens.RevokeByHash(ctx, HashRefreshSecret(presentedSecret))
}

// LogoutAll revokes every active credential for the user (logout everywhere)
func (s *Service) LogoutAll(ctx context.Context, userID uuid.UUID) error {
	return s.tokens.RevokeAllForUser(ctx, userID)
}

// GetMe returns the authenticated user's profile
func (s *Service) GetMe(ctx context.Context, userID string) (*repository.User, error) {
	id, err := uuid.Parse(userID)
	if err != nil {
		return nil, ErrUserNotFound
	}

	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}

// UpdateProfile updates the mutable display name fields and returns the
// refreshed profile
func (s *Service) UpdateProfile(ctx context.Context, userID string, req UpdateProfileRequest) (*repository.User, error) {
	id, err := uuid.Parse(userID)
	if err != nil {
		return nil, ErrUserNotFound
	}

	if err := s.users.UpdateNames(ctx, id, req.FirstName, req.LastName); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	return s.users.GetByID(ctx, id)
}

// issueSession persists a fresh long-lived credential and signs the matching
// access token
func (s *Service) issueSession(ctx context.Context, user *repository.User, ip, userAgent string) (*SessionResult, error) {
	secret, err := s.signer.GenerateRefreshSecret()
	if err != nil {
		return nil, err
	}

	token := &repository.RefreshToken{
		UserID:    user.ID,
		TokenHash: secret.Hash,
		ExpiresAt: secret.ExpiresAt,
		IPAddress: optionalString(ip),
		UserAgent: optionalString(userAgent),
	}

	if err := s.tokens.Create(ctx, token); err != nil {
		return nil, err
	}

	accessToken, err := s.signer.SignAccess(user.ID.String(), user.Email)
	if err != nil {
		return nil, err
	}

	return &SessionResult{
		User:             user,
		AccessToken:      accessToken,
		RefreshSecret:    secret.Secret,
		RefreshExpiresAt: secret.ExpiresAt,
	}, nil
}

// handlePossibleReuse inspects a hash that failed the valid lookup. A record
// that exists but is revoked means the secret was already rotated away: a
// second presentation is a replay, and every session for that user gets
// revoked.
func (s *Service) handlePossibleReuse(ctx context.Context, hash string) {
	record, err := s.tokens.GetByHash(ctx, hash)
	if err != nil {
		return
	}
	if !record.IsRevoked() {
		return
	}

	s.logger.Warn("refresh token reuse detected, revoking all sessions",
		"user_id", record.UserID,
	)
	metrics.TokenReuseTotal.Inc()

	if err := s.tokens.RevokeAllForUser(ctx, record.UserID); err != nil {
		s.logger.Error("failed to revoke sessions after reuse detection",
			"user_id", record.UserID, "error", err,
		)
	}
}

// NewUserResponse maps a stored user onto the API shape
func NewUserResponse(user *repository.User) UserResponse {
	return UserResponse{
		ID:        user.ID.String(),
		Email:     user.Email,
		FirstName: user.FirstName,
		LastName:  user.LastName,
		CreatedAt: user.CreatedAt,
		LastLogin: user.LastLoginAt,
	}
}

func optionalString(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}

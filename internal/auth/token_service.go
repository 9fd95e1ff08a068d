package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token errors. Invalid and expired are distinct so callers can decide
// whether a refresh attempt is worth making.
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

// refreshSecretBytes is the entropy of the opaque refresh secret (256 bits).
const refreshSecretBytes = 32

// Claims represents the JWT claims carried by access tokens
type Claims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// UserID returns the user ID from the Subject claim
func (c *Claims) UserID() string {
	return c.Subject
}

// TokenServiceConfig holds configuration for TokenService
type TokenServiceConfig struct {
	// AccessSecret signs access tokens. Must be non-empty; the process is
	// expected to fail fast at startup otherwise.
	AccessSecret string
	AccessTTL    time.Duration
	RefreshTTL   time.Duration
	Issuer       string
	// Now overrides the clock; nil means time.Now. Tests use this to reach
	// expiry without sleeping.
	Now func() time.Time
}

// TokenService issues and validates short-lived access tokens and generates
// the opaque secrets behind long-lived refresh credentials. Access token
// validity is purely cryptographic; no store lookup is ever involved.
type TokenService struct {
	accessSecret []byte
	accessTTL    time.Duration
	refreshTTL   time.Duration
	issuer       string
	now          func() time.Time
}

// NewTokenService creates a new TokenService instance
func NewTokenService(cfg TokenServiceConfig) (*TokenService, error) {
	if cfg.AccessSecret == "" {
		return nil, errors.New("token service: access secret is required")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &TokenService{
		accessSecret: []byte(cfg.AccessSecret),
		accessTTL:    cfg.AccessTTL,
		refreshTTL:   cfg.RefreshTTL,
		issuer:       cfg.Issuer,
		now:          now,
	}, nil
}

// SignAccess generates a signed access token for the given user
func (s *TokenService) SignAccess(userID, email string) (string, error) {
	now := s.now()

	claims := Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.accessSecret)
}

// VerifyAccess validates an access token and returns its claims. Returns
// ErrExpiredToken for structurally valid but stale tokens and ErrInvalidToken
// for everything else.
func (s *TokenService) VerifyAccess(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return s.accessSecret, nil
	}, jwt.WithTimeFunc(s.now))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// RefreshSecret is a freshly generated opaque refresh credential. Secret is
// handed to the client; only Hash is persisted.
type RefreshSecret struct {
	Secret    string
	Hash      string
	ExpiresAt time.Time
}

// GenerateRefreshSecret produces a cryptographically random opaque secret,
// its lookup hash, and the expiry instant. The secret is high-entropy, so a
// fast hash is sufficient; bcrypt would buy nothing here.
func (s *TokenService) GenerateRefreshSecret() (*RefreshSecret, error) {
	buf := make([]byte, refreshSecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("generate refresh secret: %w", err)
	}

	secret := base64.RawURLEncoding.EncodeToString(buf)
	return &RefreshSecret{
		Secret:    secret,
		Hash:      HashRefreshSecret(secret),
		ExpiresAt: s.now().Add(s.refreshTTL),
	}, nil
}

// HashRefreshSecret is the deterministic hash used to look up a presented
// refresh secret without ever storing the secret itself.
func HashRefreshSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// AccessTTL returns the access token lifetime
func (s *TokenService) AccessTTL() time.Duration {
	return s.accessTTL
}

// RefreshTTL returns the refresh credential lifetime
func (s *TokenService) RefreshTTL() time.Duration {
	return s.refreshTTL
}

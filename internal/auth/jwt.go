// Package auth implements the authentication and session core: password
// hashing off the request path, short-lived access tokens, and rotating
// database-backed refresh tokens with reuse detection.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims carried by an access token.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Service mints and verifies access tokens and manages refresh tokens.
type Service struct {
	secret     []byte
	method     jwt.SigningMethod
	accessTTL  time.Duration
	refreshTTL time.Duration
	Passwords  *PasswordPool
}

// New builds a Service. algorithm names an HS-family JWT method (HS256,
// HS384, HS512).
func New(secret, algorithm string, accessMinutes, refreshDays int) (*Service, error) {
	method := jwt.GetSigningMethod(algorithm)
	if method == nil {
		return nil, fmt.Errorf("unknown JWT algorithm %q", algorithm)
	}
	if _, ok := method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("JWT algorithm %q is not HMAC-based", algorithm)
	}
	return &Service{
		secret:     []byte(secret),
		method:     method,
		accessTTL:  time.Duration(accessMinutes) * time.Minute,
		refreshTTL: time.Duration(refreshDays) * 24 * time.Hour,
		Passwords:  NewPasswordPool(0),
	}, nil
}

// AccessTTL is the configured access-token lifetime.
func (s *Service) AccessTTL() time.Duration { return s.accessTTL }

// MintAccessToken signs a token with sub=userID and the given role.
func (s *Service) MintAccessToken(userID, role string) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
		},
	}
	return jwt.NewWithClaims(s.method, claims).SignedString(s.secret)
}

// ParseAccessToken verifies signature and expiry and returns (sub, role).
func (s *Service) ParseAccessToken(token string) (string, string, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != s.method.Alg() {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return s.secret, nil
	})
	if err != nil || !parsed.Valid {
		return "", "", fmt.Errorf("invalid token: %w", err)
	}
	if claims.Subject == "" {
		return "", "", fmt.Errorf("token missing subject")
	}
	return claims.Subject, claims.Role, nil
}

// ValidateWSToken is the handshake-time validator for WebSocket connections.
// The token arrives as a query parameter and anonymous is acceptable, so this
// never errors: invalid or missing tokens resolve to empty identity.
func (s *Service) ValidateWSToken(token string) (userID, role string) {
	if token == "" {
		return "", ""
	}
	sub, r, err := s.ParseAccessToken(token)
	if err != nil {
		return "", ""
	}
	return sub, r
}

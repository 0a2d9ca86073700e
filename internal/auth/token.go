package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/smartwinnr/callturn/internal/domain"
)

// Scope distinguishes call clients from the server-side agent pipeline
type Scope string

const (
	// ScopeClient is held by app clients rendering the call
	ScopeClient Scope = "client"
	// ScopeAgent is held by the AI pipeline that pushes speaking messages
	ScopeAgent Scope = "agent"
)

const (
	issuer     = "callturn"
	DefaultTTL = 2 * time.Hour
)

// Valid reports whether s is a known scope.
func (s Scope) Valid() bool {
	return s == ScopeClient || s == ScopeAgent
}

// Claims represents the JWT claims of a call token
type Claims struct {
	jwt.RegisteredClaims
	CallID string `json:"call_id"`
	Name   string `json:"name,omitempty"`
	Scope  Scope  `json:"scope"`
}

// ParticipantID returns the subject the token was issued to.
func (c *Claims) ParticipantID() string {
	return c.Subject
}

// Authorize checks that the token may act on callID.
func (c *Claims) Authorize(callID string) error {
	if c.CallID != callID {
		return domain.ErrWrongCall
	}
	return nil
}

// TokenService handles call token creation and validation
type TokenService struct {
	signingKey []byte
	ttl        time.Duration
}

// NewTokenService creates a new token service
func NewTokenService(signingKey string, ttl time.Duration) (*TokenService, error) {
	if len(signingKey) < 32 {
		return nil, errors.New("signing key must be at least 32 characters")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &TokenService{
		signingKey: []byte(signingKey),
		ttl:        ttl,
	}, nil
}

// GenerateCallToken issues a token bound to one call and participant
func (s *TokenService) GenerateCallToken(callID, participantID, name string, scope Scope) (string, time.Time, error) {
	if callID == "" || participantID == "" {
		return "", time.Time{}, errors.New("call and participant ids are required")
	}
	if !scope.Valid() {
		return "", time.Time{}, fmt.Errorf("unknown scope %q", scope)
	}

	now := time.Now()
	expiresAt := now.Add(s.ttl)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   participantID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			Issuer:    issuer,
		},
		CallID: callID,
		Name:   name,
		Scope:  scope,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}

	return signed, expiresAt, nil
}

// ValidateCallToken parses and validates a call token
func (s *TokenService) ValidateCallToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.signingKey, nil
	}, jwt.WithIssuer(issuer))

	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, domain.ErrTokenInvalid
	}
	if claims.CallID == "" || claims.Subject == "" || !claims.Scope.Valid() {
		return nil, fmt.Errorf("%w: incomplete claims", domain.ErrTokenInvalid)
	}

	return claims, nil
}

// TTL returns the token lifetime
func (s *TokenService) TTL() time.Duration {
	return s.ttl
}

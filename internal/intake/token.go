package intake

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrTokenInvalid covers malformed tokens and bad signatures.
	ErrTokenInvalid = errors.New("intake: token invalid")
	// ErrTokenExpired indicates the token's window has closed.
	ErrTokenExpired = errors.New("intake: token expired")
	// ErrTokenRevoked indicates the invite was revoked by the practice.
	ErrTokenRevoked = errors.New("intake: token revoked")
)

// TokenClaims binds a form token to its invite and patient/appointment pair.
type TokenClaims struct {
	PatientID     string `json:"pid"`
	AppointmentID string `json:"apt,omitempty"`
	jwt.RegisteredClaims
}

// TokenSigner issues and verifies HMAC-signed intake tokens. The raw token
// is treated as opaque by patients; only this service inspects it.
type TokenSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenSigner creates a signer. ttl bounds the token window; the invite
// row's expires_at remains the authoritative server-side check.
func NewTokenSigner(secret string, ttl time.Duration) (*TokenSigner, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("intake: token signing secret is required")
	}
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	return &TokenSigner{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

// TTL exposes the configured token window.
func (s *TokenSigner) TTL() time.Duration {
	return s.ttl
}

// Issue signs a token whose jti is the invite ID.
func (s *TokenSigner) Issue(inviteID, patientID, appointmentID string) (string, error) {
	if inviteID == "" {
		return "", errors.New("intake: invite id required")
	}
	now := s.now().UTC()
	claims := TokenClaims{
		PatientID:     patientID,
		AppointmentID: appointmentID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        inviteID,
			Issuer:    "careprep",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("intake: failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify checks signature and expiry and returns the embedded claims.
func (s *TokenSigner) Verify(raw string) (*TokenClaims, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, ErrTokenInvalid
	}
	claims := &TokenClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return s.now() }))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}
	if !token.Valid || claims.ID == "" {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

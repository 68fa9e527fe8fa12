package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid or expired share token")
	ErrMissingToken = errors.New("share token required")
)

const shareTokenIssuer = "tabsplit"

// ShareTokenManager issues and validates share-link tokens. A token grants
// access to exactly one bill.
type ShareTokenManager struct {
	secretKey     []byte
	tokenDuration time.Duration
	now           func() time.Time
}

// ShareClaims are the JWT claims carried by a share link.
type ShareClaims struct {
	BillID string `json:"bill_id"`
	jwt.RegisteredClaims
}

// NewShareTokenManager creates a manager signing with secretKey.
// tokenDuration is how long share links stay valid (e.g. 30 days).
func NewShareTokenManager(secretKey string, tokenDuration time.Duration) *ShareTokenManager {
	return &ShareTokenManager{
		secretKey:     []byte(secretKey),
		tokenDuration: tokenDuration,
		now:           time.Now,
	}
}

// Generate creates a share token for billID.
func (m *ShareTokenManager) Generate(billID string) (string, error) {
	if billID == "" {
		return "", errors.New("bill ID required")
	}

	now := m.now()
	claims := &ShareClaims{
		BillID: billID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    shareTokenIssuer,
			Subject:   billID,
			ExpiresAt: jwt.NewNumericDate(now.Add(m.tokenDuration)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(m.secretKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, nil
}

// Validate parses a share token and returns its claims if the signature,
// issuer and validity window check out.
func (m *ShareTokenManager) Validate(tokenString string) (*ShareClaims, error) {
	token, err := jwt.ParseWithClaims(
		tokenString,
		&ShareClaims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return m.secretKey, nil
		},
		jwt.WithIssuer(shareTokenIssuer),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*ShareClaims)
	if !ok || !token.Valid || claims.BillID == "" {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

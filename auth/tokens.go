package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SessionClaims is the verified content of a session token. IssuedAt has
// millisecond precision.
type SessionClaims struct {
	ID        string
	Subject   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// sessionJWT adds a millisecond issue time, since the registered iat claim
// only has second precision.
type sessionJWT struct {
	jwt.RegisteredClaims
	IssuedAtMillis int64 `json:"iat_ms"`
}

type TokenSigner interface {
	Sign(subject string, issuedAt time.Time) (token string, expiresAt time.Time, err error)
	Verify(token string, now time.Time) (*SessionClaims, error)
}

// JWTSigner issues HS256 tokens.
type JWTSigner struct {
	secret []byte
	ttl    time.Duration
}

func NewJWTSigner(secret string, ttl time.Duration) (*JWTSigner, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is empty")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("invalid token ttl %s", ttl)
	}
	return &JWTSigner{secret: []byte(secret), ttl: ttl}, nil
}

func (s *JWTSigner) Sign(subject string, issuedAt time.Time) (string, time.Time, error) {
	expiresAt := issuedAt.Add(s.ttl)
	claims := sessionJWT{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		IssuedAtMillis: issuedAt.UnixMilli(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify checks signature, algorithm and expiry against now. Every failure is
// reported as ErrUnauthenticated.
func (s *JWTSigner) Verify(tokenStr string, now time.Time) (*SessionClaims, error) {
	claims := &sessionJWT{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	)
	if err != nil || !token.Valid {
		return nil, ErrUnauthenticated
	}
	if claims.Subject == "" || claims.IssuedAt == nil || claims.IssuedAtMillis <= 0 {
		return nil, ErrUnauthenticated
	}
	issuedAt := time.UnixMilli(claims.IssuedAtMillis).UTC()
	if issuedAt.Unix() != claims.IssuedAt.Unix() {
		return nil, ErrUnauthenticated
	}
	return &SessionClaims{
		ID:        claims.ID,
		Subject:   claims.Subject,
		IssuedAt:  issuedAt,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

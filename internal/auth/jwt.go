package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const clockSkew = 5 * time.Second

// JWTClaims carries the account identity. Subject is the username and
// Scope the role, so tokens stay readable by third-party tooling.
type JWTClaims struct {
	AccountID uuid.UUID `json:"aid"`
	Scope     string    `json:"scope"`
	jwt.RegisteredClaims
}

// JWTHandler issues and checks HS512 access tokens. Refresh tokens are opaque
// random strings stored server side.
type JWTHandler struct {
	secretKey       []byte
	issuer          string
	accessTokenTTL  time.Duration
	refreshTokenTTL time.Duration
	parser          *jwt.Parser
}

func NewJWTHandler(secretKey, issuer string, accessTTL, refreshTTL time.Duration) *JWTHandler {
	return &JWTHandler{
		secretKey:       []byte(secretKey),
		issuer:          issuer,
		accessTokenTTL:  accessTTL,
		refreshTokenTTL: refreshTTL,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS512.Alg()}),
			jwt.WithIssuer(issuer),
			jwt.WithExpirationRequired(),
			jwt.WithLeeway(clockSkew),
		),
	}
}

func (j *JWTHandler) GenerateAccessToken(accountID uuid.UUID, username, role string) (string, error) {
	now := time.Now()
	claims := JWTClaims{
		AccountID: accountID,
		Scope:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   username,
			Issuer:    j.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.accessTokenTTL)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString(j.secretKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, nil
}

// GenerateRefreshToken returns 32 random bytes, hex encoded.
func (j *JWTHandler) GenerateRefreshToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate refresh token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func (j *JWTHandler) ValidateAccessToken(raw string) (*JWTClaims, error) {
	claims := &JWTClaims{}
	if _, err := j.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return j.secretKey, nil
	}); err != nil {
		return nil, fmt.Errorf("invalid access token: %w", err)
	}

	if claims.AccountID == uuid.Nil {
		return nil, errors.New("invalid access token: missing account id")
	}
	return claims, nil
}

func (j *JWTHandler) AccessTokenTTL() time.Duration {
	return j.accessTokenTTL
}

func (j *JWTHandler) RefreshTokenTTL() time.Duration {
	return j.refreshTokenTTL
}

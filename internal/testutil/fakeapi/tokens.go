package fakeapi

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	defaultAccessTokenTTL = 15 * time.Minute
	signingMethod         = "HS256"
)

type accessClaims struct {
	jwt.RegisteredClaims
	UserID int64 `json:"uid"`
}

// Issues and parses access tokens the way the real API does: HS256 JWT with user id
type tokenIssuer struct {
	key       []byte
	alg       jwt.SigningMethod
	accessTTL time.Duration
}

func newTokenIssuer(secret string, accessTTL time.Duration) (*tokenIssuer, error) {
	if secret == "" {
		return nil, errors.New("secret key must not be empty")
	}
	if accessTTL == 0 {
		accessTTL = defaultAccessTokenTTL
	}

	return &tokenIssuer{
		key:       []byte(secret),
		alg:       jwt.GetSigningMethod(signingMethod),
		accessTTL: accessTTL,
	}, nil
}

// Issue access token. Returns token and its jti
func (i *tokenIssuer) issueAccess(userID int64) (string, string, error) {
	now := time.Now().Truncate(time.Second)
	jti := uuid.NewString()

	token := jwt.NewWithClaims(i.alg, accessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.accessTTL)),
		},
		UserID: userID,
	})

	access, err := token.SignedString(i.key)
	if err != nil {
		return "", "", fmt.Errorf("error while signing access token. Err: %w", err)
	}

	return access, jti, nil
}

// Parse and validate access token
func (i *tokenIssuer) parseAccess(access string) (accessClaims, error) {
	claims := accessClaims{}

	_, err := jwt.ParseWithClaims(
		access,
		&claims,
		func(t *jwt.Token) (any, error) { return i.key, nil },
		jwt.WithValidMethods([]string{i.alg.Alg()}),
	)
	if err != nil {
		return claims, fmt.Errorf("error while parsing or validating token. Err: %w", err)
	}

	return claims, nil
}

// Random opaque refresh token 16 bytes length
func newRefreshToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("error while generate refresh token. Err: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Bcrypt password hasher
// Password is pre-hashed with sha256 cause bcrypt ignores bytes after 72th
type bcryptHasher struct{}

func (h bcryptHasher) Hash(password string) (string, error) {
	sum := sha256.Sum256([]byte(password))
	hash, err := bcrypt.GenerateFromPassword(sum[:], bcrypt.MinCost)
	return string(hash), err
}

func (h bcryptHasher) Compare(hashedPassword string, password string) error {
	sum := sha256.Sum256([]byte(password))
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), sum[:])
}

// Package tokenmanager signs and verifies stateless access tokens and
// generates the opaque secrets used for refresh and verification
// tokens. It holds no storage: the token_version cross-check against
// the account is the caller's job.
package tokenmanager

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/ivolkov/coinkeeper/internal/apperrors"
	"github.com/ivolkov/coinkeeper/internal/models"
)

const (
	defaultAccessTokenTTL = 15 * time.Minute
	defaultSigningMethod  = "HS256"

	// 32 random bytes give 256 bits of entropy per secret
	secretBytesLen = 32
)

type AccessClaims struct {
	jwt.RegisteredClaims
	UserID       uuid.UUID `json:"uid"`
	SessionID    uuid.UUID `json:"sid"`
	TokenVersion int64     `json:"ver"`
}

// Token manager config with sensible defaults
type Config struct {
	// Secret key to sign access tokens
	// Required to be set
	SecretKey string

	// JWT MAC (Message Authentication Code) algorithm
	// If not set then default is used
	Alg string

	// Access token lifetime
	// If not set then default is used
	AccessTTL time.Duration
}

type TokenManager struct {
	key       string
	alg       jwt.SigningMethod
	accessTTL time.Duration
}

func New(cfg Config) (*TokenManager, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("secret key must not be empty")
	}

	if cfg.Alg == "" {
		cfg.Alg = defaultSigningMethod
	}
	if cfg.AccessTTL == 0 {
		cfg.AccessTTL = defaultAccessTokenTTL
	}

	return &TokenManager{
		key:       cfg.SecretKey,
		alg:       jwt.GetSigningMethod(cfg.Alg),
		accessTTL: cfg.AccessTTL,
	}, nil
}

// Mint signs a fresh access token for the given user, session and
// token version. No side effects.
func (m *TokenManager) Mint(userID uuid.UUID, sessionID uuid.UUID, tokenVersion int64) (models.IssuedToken, error) {
	now := time.Now().Truncate(time.Second)
	expiresAt := now.Add(m.accessTTL)

	token := jwt.NewWithClaims(
		m.alg,
		AccessClaims{
			RegisteredClaims: jwt.RegisteredClaims{
				ID:        uuid.NewString(),
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(expiresAt),
			},
			UserID:       userID,
			SessionID:    sessionID,
			TokenVersion: tokenVersion,
		},
	)
	signed, err := token.SignedString([]byte(m.key))
	if err != nil {
		return models.IssuedToken{}, fmt.Errorf("error while signing access token. Err: %w", err)
	}

	return models.IssuedToken{Value: signed, ExpiresAt: expiresAt}, nil
}

// Parse verifies signature and expiry and returns the embedded claims.
// Malformed, expired and bad-signature tokens all collapse to
// apperrors.ErrInvalidToken so the caller can't be used as an oracle.
func (m *TokenManager) Parse(access string) (AccessClaims, error) {
	claims := &AccessClaims{}

	_, err := jwt.ParseWithClaims(
		access,
		claims,
		func(t *jwt.Token) (any, error) {
			return []byte(m.key), nil
		},
		jwt.WithValidMethods([]string{m.alg.Alg()}),
	)
	if err != nil {
		return AccessClaims{}, apperrors.ErrInvalidToken
	}

	return *claims, nil
}

// NewSecret generates a cryptographically random opaque secret
func NewSecret() (models.Secret, error) {
	b := make([]byte, secretBytesLen)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("error while generating secret. Err: %w", err)
	}

	return models.Secret(hex.EncodeToString(b)), nil
}

// HashSecret returns the deterministic one-way digest stored instead of
// the secret itself. A dumped database can't be replayed as tokens.
func HashSecret(secret models.Secret) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

package jwt

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Purpose tags every token with the flow it was issued for.
type Purpose string

const (
	PurposeAccess  Purpose = "access"
	PurposeRefresh Purpose = "refresh"
	PurposeSignup  Purpose = "signup"
	PurposeReset   Purpose = "reset"
)

const minSecretBytes = 32

var (
	// ErrInvalidToken covers bad signatures, malformed tokens and purpose mismatches.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is returned for a correctly signed token past its expiry.
	ErrExpiredToken = errors.New("token expired")
)

// KeyConfig is the HMAC secret and lifetime for one token purpose.
type KeyConfig struct {
	Secret []byte
	TTL    time.Duration
}

// Config configures a [Codec]. Each purpose needs its own secret.
type Config struct {
	Issuer  string
	Leeway  time.Duration
	Access  KeyConfig
	Refresh KeyConfig
	Signup  KeyConfig
	Reset   KeyConfig

	// Now overrides the clock used for issuance and validation.
	Now func() time.Time
}

// Subject is the identity embedded in access and refresh tokens.
type Subject struct {
	UserID        string
	Email         string
	RoleID        string
	PermissionIDs []string
}

// AccessClaims is the payload of a short-lived access token.
type AccessClaims struct {
	Type          Purpose  `json:"typ"`
	UserID        string   `json:"uid"`
	Email         string   `json:"email"`
	RoleID        string   `json:"rid,omitempty"`
	PermissionIDs []string `json:"pids,omitempty"`
	jwt.RegisteredClaims
}

// RefreshClaims is the payload of a long-lived refresh token.
type RefreshClaims struct {
	Type          Purpose  `json:"typ"`
	UserID        string   `json:"uid"`
	Email         string   `json:"email"`
	RoleID        string   `json:"rid,omitempty"`
	PermissionIDs []string `json:"pids,omitempty"`
	jwt.RegisteredClaims
}

// SignupClaims carries a pending registration until the email is verified.
type SignupClaims struct {
	Type         Purpose `json:"typ"`
	Email        string  `json:"email"`
	PasswordHash string  `json:"ph"`
	jwt.RegisteredClaims
}

// ResetClaims binds a password-reset flow to one user. ID holds the flow id (jti).
type ResetClaims struct {
	Type   Purpose `json:"typ"`
	Email  string  `json:"email"`
	UserID string  `json:"uid"`
	jwt.RegisteredClaims
}

type purposeClaims interface {
	jwt.Claims
	purpose() Purpose
}

func (c *AccessClaims) purpose() Purpose  { return c.Type }
func (c *RefreshClaims) purpose() Purpose { return c.Type }
func (c *SignupClaims) purpose() Purpose  { return c.Type }
func (c *ResetClaims) purpose() Purpose   { return c.Type }

// Identity returns the subject carried by the access token.
func (c *AccessClaims) Identity() Subject {
	return Subject{UserID: c.UserID, Email: c.Email, RoleID: c.RoleID, PermissionIDs: c.PermissionIDs}
}

// Identity returns the subject carried by the refresh token.
func (c *RefreshClaims) Identity() Subject {
	return Subject{UserID: c.UserID, Email: c.Email, RoleID: c.RoleID, PermissionIDs: c.PermissionIDs}
}

// Codec issues and verifies HS256 tokens for each purpose. A token can only be
// parsed by the method of the purpose it was issued for: secrets differ per
// purpose and the typ claim is checked after the signature.
type Codec struct {
	config Config
	keys   map[Purpose]KeyConfig
}

// NewCodec validates cfg and returns a codec.
func NewCodec(cfg Config) (*Codec, error) {
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	keys := map[Purpose]KeyConfig{
		PurposeAccess:  cfg.Access,
		PurposeRefresh: cfg.Refresh,
		PurposeSignup:  cfg.Signup,
		PurposeReset:   cfg.Reset,
	}
	for purpose, key := range keys {
		if len(key.Secret) < minSecretBytes {
			return nil, fmt.Errorf("%s token secret must be at least %d bytes", purpose, minSecretBytes)
		}
		if key.TTL <= 0 {
			return nil, fmt.Errorf("%s token ttl must be positive", purpose)
		}
		for other, otherKey := range keys {
			if other != purpose && bytes.Equal(key.Secret, otherKey.Secret) {
				return nil, fmt.Errorf("%s and %s tokens must use distinct secrets", purpose, other)
			}
		}
	}

	return &Codec{config: cfg, keys: keys}, nil
}

// TTL returns the configured lifetime for purpose.
func (c *Codec) TTL(purpose Purpose) time.Duration {
	return c.keys[purpose].TTL
}

// IssueAccess signs an access token for s.
func (c *Codec) IssueAccess(s Subject) (string, error) {
	claims := &AccessClaims{
		Type:             PurposeAccess,
		UserID:           s.UserID,
		Email:            s.Email,
		RoleID:           s.RoleID,
		PermissionIDs:    s.PermissionIDs,
		RegisteredClaims: c.registered(s.UserID, ""),
	}
	return c.sign(PurposeAccess, claims, &claims.RegisteredClaims, c.keys[PurposeAccess].TTL)
}

// ParseAccess verifies an access token.
func (c *Codec) ParseAccess(token string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := c.parse(PurposeAccess, token, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// IssueRefresh signs a refresh token for s. Every token carries a fresh jti so
// two tokens issued within the same second never collide.
func (c *Codec) IssueRefresh(s Subject) (string, error) {
	claims := &RefreshClaims{
		Type:             PurposeRefresh,
		UserID:           s.UserID,
		Email:            s.Email,
		RoleID:           s.RoleID,
		PermissionIDs:    s.PermissionIDs,
		RegisteredClaims: c.registered(s.UserID, uuid.NewString()),
	}
	return c.sign(PurposeRefresh, claims, &claims.RegisteredClaims, c.keys[PurposeRefresh].TTL)
}

// ParseRefresh verifies a refresh token.
func (c *Codec) ParseRefresh(token string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := c.parse(PurposeRefresh, token, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// IssueSignup signs an email-verification token holding a pending registration.
func (c *Codec) IssueSignup(email, passwordHash string) (string, error) {
	claims := &SignupClaims{
		Type:             PurposeSignup,
		Email:            email,
		PasswordHash:     passwordHash,
		RegisteredClaims: c.registered("", uuid.NewString()),
	}
	return c.sign(PurposeSignup, claims, &claims.RegisteredClaims, c.keys[PurposeSignup].TTL)
}

// ParseSignup verifies an email-verification token.
func (c *Codec) ParseSignup(token string) (*SignupClaims, error) {
	claims := &SignupClaims{}
	if err := c.parse(PurposeSignup, token, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// IssueReset signs a password-reset token and returns it with its flow id.
func (c *Codec) IssueReset(email, userID string) (string, string, error) {
	flowID := uuid.NewString()
	claims := &ResetClaims{
		Type:             PurposeReset,
		Email:            email,
		UserID:           userID,
		RegisteredClaims: c.registered(userID, flowID),
	}
	token, err := c.sign(PurposeReset, claims, &claims.RegisteredClaims, c.keys[PurposeReset].TTL)
	if err != nil {
		return "", "", err
	}
	return token, flowID, nil
}

// ParseReset verifies a password-reset token.
func (c *Codec) ParseReset(token string) (*ResetClaims, error) {
	claims := &ResetClaims{}
	if err := c.parse(PurposeReset, token, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

func (c *Codec) registered(subject, id string) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		Issuer:  c.config.Issuer,
		Subject: subject,
		ID:      id,
	}
}

func (c *Codec) sign(purpose Purpose, claims jwt.Claims, reg *jwt.RegisteredClaims, ttl time.Duration) (string, error) {
	now := c.config.Now()
	reg.IssuedAt = jwt.NewNumericDate(now)
	reg.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(c.keys[purpose].Secret)
}

func (c *Codec) parse(purpose Purpose, token string, claims purposeClaims) error {
	if token == "" {
		return ErrInvalidToken
	}

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.config.Now),
	}
	if c.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(c.config.Leeway))
	}
	if c.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(c.config.Issuer))
	}

	parsed, err := jwt.NewParser(options...).ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		return c.keys[purpose].Secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrExpiredToken
		}
		return ErrInvalidToken
	}
	if !parsed.Valid || claims.purpose() != purpose {
		return ErrInvalidToken
	}

	return nil
}

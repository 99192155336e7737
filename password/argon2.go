package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	minMemoryKB    uint32 = 4 * 1024
	minTimeCost    uint32 = 1
	minParallelism uint8  = 1
	minSaltLength  uint32 = 16
	minKeyLength   uint32 = 16
	algorithmID           = "argon2id"

	// DefaultMaxPasswordBytes caps the secret length accepted by Hash and Verify.
	DefaultMaxPasswordBytes = 1024

	maxRefreshTokenBytes = 8 * 1024

	// DefaultPepper is used only when no pepper is configured.
	DefaultPepper = "credflow-default-pepper"
)

var (
	// ErrEmptySecret is returned when hashing an empty secret.
	ErrEmptySecret = errors.New("secret must not be empty")
	// ErrSecretTooLong is returned when a secret exceeds MaxPasswordBytes.
	ErrSecretTooLong = errors.New("secret exceeds maximum length")
	// ErrMalformedHash is returned by Verify when the stored hash cannot be parsed.
	ErrMalformedHash = errors.New("malformed password hash")
)

// Config holds the Argon2id cost parameters and the process-wide pepper.
type Config struct {
	Memory           uint32
	Time             uint32
	Parallelism      uint8
	SaltLength       uint32
	KeyLength        uint32
	MaxPasswordBytes int
	Pepper           string
}

// DefaultConfig returns the password profile: t=4, m=4096 KiB, p=2, 32-byte salt.
func DefaultConfig() Config {
	return Config{
		Memory:      4096,
		Time:        4,
		Parallelism: 2,
		SaltLength:  32,
		KeyLength:   32,
	}
}

// RefreshTokenConfig returns the cheaper profile used for high-entropy refresh tokens.
func RefreshTokenConfig() Config {
	return Config{
		Memory:      4096,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// Argon2 hashes and verifies peppered secrets. It holds one cost profile for
// passwords and a second one for refresh tokens; Verify reads the parameters
// embedded in the stored hash, so both kinds verify through the same call.
type Argon2 struct {
	config  Config
	refresh Config
}

type parsedPHC struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	hash        []byte
	keyLength   uint32
}

// NewArgon2 validates cfg and returns a hasher. An empty Pepper falls back to
// DefaultPepper. The refresh-token profile shares the pepper of cfg.
func NewArgon2(cfg Config) (*Argon2, error) {
	if cfg.MaxPasswordBytes == 0 {
		cfg.MaxPasswordBytes = DefaultMaxPasswordBytes
	}
	if cfg.Pepper == "" {
		cfg.Pepper = DefaultPepper
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	refresh := RefreshTokenConfig()
	refresh.Pepper = cfg.Pepper
	refresh.MaxPasswordBytes = maxRefreshTokenBytes

	return &Argon2{config: cfg, refresh: refresh}, nil
}

// Hash returns a PHC-encoded Argon2id hash of secret combined with the pepper.
func (a *Argon2) Hash(secret string) (string, error) {
	return a.hashWith(a.config, secret)
}

// HashRefreshToken hashes an opaque refresh token with the refresh profile.
func (a *Argon2) HashRefreshToken(token string) (string, error) {
	return a.hashWith(a.refresh, token)
}

func (a *Argon2) hashWith(cfg Config, secret string) (string, error) {
	// Secret processing uses raw string bytes exactly as provided (no Unicode normalization).
	if secret == "" {
		return "", ErrEmptySecret
	}
	if len(secret) > cfg.MaxPasswordBytes {
		return "", ErrSecretTooLong
	}

	salt := make([]byte, cfg.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}

	hash := argon2.IDKey(
		a.peppered(secret),
		salt,
		cfg.Time,
		cfg.Memory,
		cfg.Parallelism,
		cfg.KeyLength,
	)

	return fmt.Sprintf(
		"$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID,
		argon2.Version,
		cfg.Memory,
		cfg.Time,
		cfg.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// Verify reports whether secret matches encodedHash. A mismatch returns
// (false, nil); only a malformed stored hash or an oversized secret returns an error.
func (a *Argon2) Verify(secret string, encodedHash string) (bool, error) {
	return a.verifyWith(a.config, secret, encodedHash)
}

// VerifyRefreshToken is Verify with the refresh-token length limit.
func (a *Argon2) VerifyRefreshToken(token string, encodedHash string) (bool, error) {
	return a.verifyWith(a.refresh, token, encodedHash)
}

func (a *Argon2) verifyWith(cfg Config, secret string, encodedHash string) (bool, error) {
	if len(secret) > cfg.MaxPasswordBytes {
		return false, ErrSecretTooLong
	}

	parsed, err := parsePHC(encodedHash)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrMalformedHash, err)
	}

	computed := argon2.IDKey(
		a.peppered(secret),
		parsed.salt,
		parsed.time,
		parsed.memory,
		parsed.parallelism,
		parsed.keyLength,
	)

	return subtle.ConstantTimeCompare(computed, parsed.hash) == 1, nil
}

// NeedsUpgrade reports whether encodedHash was produced with weaker password parameters.
func (a *Argon2) NeedsUpgrade(encodedHash string) (bool, error) {
	parsed, err := parsePHC(encodedHash)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrMalformedHash, err)
	}

	if a.config.Memory > parsed.memory {
		return true, nil
	}
	if a.config.Time > parsed.time {
		return true, nil
	}
	if a.config.Parallelism > parsed.parallelism {
		return true, nil
	}
	if a.config.KeyLength != parsed.keyLength {
		return true, nil
	}

	return false, nil
}

func (a *Argon2) peppered(secret string) []byte {
	buf := make([]byte, 0, len(secret)+len(a.config.Pepper))
	buf = append(buf, secret...)
	buf = append(buf, a.config.Pepper...)
	return buf
}

func parsePHC(encodedHash string) (*parsedPHC, error) {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 || parts[0] != "" {
		return nil, errors.New("invalid PHC format")
	}

	if parts[1] != algorithmID {
		return nil, errors.New("unsupported algorithm")
	}

	versionPart := parts[2]
	if !strings.HasPrefix(versionPart, "v=") {
		return nil, errors.New("missing argon2 version")
	}

	version, err := strconv.Atoi(strings.TrimPrefix(versionPart, "v="))
	if err != nil {
		return nil, errors.New("invalid argon2 version")
	}
	if version != argon2.Version {
		return nil, errors.New("unsupported argon2 version")
	}

	params, err := parseParams(parts[3])
	if err != nil {
		return nil, err
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return nil, errors.New("invalid salt encoding")
	}
	if len(salt) < int(minSaltLength) {
		return nil, errors.New("invalid salt length")
	}

	hash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return nil, errors.New("invalid hash encoding")
	}
	if len(hash) == 0 {
		return nil, errors.New("invalid hash length")
	}

	return &parsedPHC{
		memory:      params.memory,
		time:        params.time,
		parallelism: params.parallelism,
		salt:        salt,
		hash:        hash,
		keyLength:   uint32(len(hash)),
	}, nil
}

type parsedParams struct {
	memory      uint32
	time        uint32
	parallelism uint8
}

func parseParams(part string) (*parsedParams, error) {
	pairs := strings.Split(part, ",")
	if len(pairs) != 3 {
		return nil, errors.New("invalid parameter format")
	}

	var (
		memorySet, timeSet, parallelismSet bool
		params                             parsedParams
	)

	for _, pair := range pairs {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			return nil, errors.New("invalid parameter entry")
		}

		switch kv[0] {
		case "m":
			v, err := strconv.ParseUint(kv[1], 10, 32)
			if err != nil || v < uint64(minMemoryKB) {
				return nil, errors.New("invalid memory parameter")
			}
			params.memory = uint32(v)
			memorySet = true
		case "t":
			v, err := strconv.ParseUint(kv[1], 10, 32)
			if err != nil || v < uint64(minTimeCost) {
				return nil, errors.New("invalid time parameter")
			}
			params.time = uint32(v)
			timeSet = true
		case "p":
			v, err := strconv.ParseUint(kv[1], 10, 8)
			if err != nil || v < uint64(minParallelism) {
				return nil, errors.New("invalid parallelism parameter")
			}
			params.parallelism = uint8(v)
			parallelismSet = true
		default:
			return nil, errors.New("unsupported parameter")
		}
	}

	if !memorySet || !timeSet || !parallelismSet {
		return nil, errors.New("missing parameters")
	}

	return &params, nil
}

func validateConfig(cfg Config) error {
	if cfg.Memory < minMemoryKB {
		return errors.New("password memory must be >= 4096 KB")
	}
	if cfg.Time < minTimeCost {
		return errors.New("password time must be >= 1")
	}
	if cfg.Parallelism < minParallelism {
		return errors.New("password parallelism must be >= 1")
	}
	if cfg.SaltLength < minSaltLength {
		return errors.New("password salt length must be >= 16")
	}
	if cfg.KeyLength < minKeyLength {
		return errors.New("password key length must be >= 16")
	}
	if cfg.MaxPasswordBytes < 0 {
		return errors.New("password max bytes must be >= 0")
	}

	return nil
}

// Package otp generates one-time codes from a configurable alphabet using
// crypto/rand for every character.
package otp

import (
	"crypto/rand"
	"errors"
	"math/big"
	"strconv"
	"strings"
)

const (
	lowerChars   = "abcdefghijklmnopqrstuvwxyz"
	upperChars   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	digitChars   = "0123456789"
	specialChars = "#!&@"

	maxLength       = 64
	maxNumericDigit = 18
)

var (
	// ErrInvalidLength is returned for lengths outside 1..64.
	ErrInvalidLength = errors.New("otp length out of range")
	// ErrEmptyAlphabet is returned when no character class is enabled.
	ErrEmptyAlphabet = errors.New("otp alphabet is empty")
	// ErrNumericAlphabet is returned by GenerateNumber when the alphabet is not digits only.
	ErrNumericAlphabet = errors.New("numeric otp requires a digits-only alphabet")
)

// Alphabet selects the character classes a code is drawn from.
type Alphabet struct {
	Lower   bool
	Upper   bool
	Digits  bool
	Special bool
}

// Config describes the shape of a generated code.
type Config struct {
	Length   int
	Alphabet Alphabet
}

// Numeric returns a digits-only config of the given length.
func Numeric(length int) Config {
	return Config{Length: length, Alphabet: Alphabet{Digits: true}}
}

func (a Alphabet) chars() string {
	var b strings.Builder
	if a.Lower {
		b.WriteString(lowerChars)
	}
	if a.Upper {
		b.WriteString(upperChars)
	}
	if a.Digits {
		b.WriteString(digitChars)
	}
	if a.Special {
		b.WriteString(specialChars)
	}
	return b.String()
}

func (a Alphabet) digitsOnly() bool {
	return a.Digits && !a.Lower && !a.Upper && !a.Special
}

// Generate returns a code of cfg.Length characters, each drawn uniformly from
// the configured alphabet.
func Generate(cfg Config) (string, error) {
	if cfg.Length < 1 || cfg.Length > maxLength {
		return "", ErrInvalidLength
	}
	chars := cfg.Alphabet.chars()
	if chars == "" {
		return "", ErrEmptyAlphabet
	}

	max := big.NewInt(int64(len(chars)))
	out := make([]byte, cfg.Length)
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = chars[n.Int64()]
	}

	return string(out), nil
}

// GenerateNumber returns a digits-only code parsed as an integer. Leading
// zeros are lost, so callers that need a fixed width should use Generate.
func GenerateNumber(cfg Config) (int64, error) {
	if !cfg.Alphabet.digitsOnly() {
		return 0, ErrNumericAlphabet
	}
	if cfg.Length > maxNumericDigit {
		return 0, ErrInvalidLength
	}

	code, err := Generate(cfg)
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(code, 10, 64)
}

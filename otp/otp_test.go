package otp

import (
	"errors"
	"strings"
	"testing"
)

func TestNumericCodeShape(t *testing.T) {
	for i := 0; i < 200; i++ {
		code, err := Generate(Numeric(6))
		if err != nil {
			t.Fatalf("Generate: %v", err)
		}
		if len(code) != 6 {
			t.Fatalf("expected 6 characters, got %q", code)
		}
		for _, c := range code {
			if c < '0' || c > '9' {
				t.Fatalf("non-digit in numeric code %q", code)
			}
		}
	}
}

func TestAlphabetClassesAreRespected(t *testing.T) {
	cfg := Config{Length: 64, Alphabet: Alphabet{Upper: true, Special: true}}
	code, err := Generate(cfg)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	for _, c := range code {
		if !strings.ContainsRune(upperChars+specialChars, c) {
			t.Fatalf("unexpected character %q in %q", c, code)
		}
	}
}

func TestEveryDigitEventuallyAppears(t *testing.T) {
	seen := map[rune]bool{}
	for i := 0; i < 100 && len(seen) < 10; i++ {
		code, err := Generate(Numeric(32))
		if err != nil {
			t.Fatalf("Generate: %v", err)
		}
		for _, c := range code {
			seen[c] = true
		}
	}
	if len(seen) != 10 {
		t.Fatalf("expected all ten digits, saw %d", len(seen))
	}
}

func TestGenerateRejectsBadConfig(t *testing.T) {
	if _, err := Generate(Config{Length: 0, Alphabet: Alphabet{Digits: true}}); !errors.Is(err, ErrInvalidLength) {
		t.Fatalf("expected ErrInvalidLength, got %v", err)
	}
	if _, err := Generate(Config{Length: 6}); !errors.Is(err, ErrEmptyAlphabet) {
		t.Fatalf("expected ErrEmptyAlphabet, got %v", err)
	}
}

func TestGenerateNumber(t *testing.T) {
	n, err := GenerateNumber(Numeric(6))
	if err != nil {
		t.Fatalf("GenerateNumber: %v", err)
	}
	if n < 0 || n > 999999 {
		t.Fatalf("number out of range: %d", n)
	}

	_, err = GenerateNumber(Config{Length: 6, Alphabet: Alphabet{Digits: true, Lower: true}})
	if !errors.Is(err, ErrNumericAlphabet) {
		t.Fatalf("expected ErrNumericAlphabet, got %v", err)
	}
	if _, err := GenerateNumber(Numeric(19)); !errors.Is(err, ErrInvalidLength) {
		t.Fatalf("expected ErrInvalidLength, got %v", err)
	}
}

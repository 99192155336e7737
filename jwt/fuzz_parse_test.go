package jwt

import (
	"testing"
	"time"
)

// FuzzParseAccess feeds arbitrary strings to the parser. Invalid input must be
// rejected with an error and never panic.
func FuzzParseAccess(f *testing.F) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	codec, err := NewCodec(testConfig(clock))
	if err != nil {
		f.Fatal(err)
	}

	valid, err := codec.IssueAccess(Subject{UserID: "uid1", Email: "u@x.com"})
	if err != nil {
		f.Fatal(err)
	}

	f.Add(valid)
	f.Add("")
	f.Add("a.b.c")
	f.Add("eyJhbGciOiJIUzI1NiJ9.e30.")

	f.Fuzz(func(t *testing.T, token string) {
		claims, err := codec.ParseAccess(token)
		if err == nil && claims == nil {
			t.Fatal("nil claims without error")
		}
		if err == nil && token != valid && claims.Type != PurposeAccess {
			t.Fatalf("accepted token with purpose %q", claims.Type)
		}
	})
}

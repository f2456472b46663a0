package contract

import (
	"regexp"
	"testing"
	"time"
)

var tokenPattern = regexp.MustCompile(`^[a-zA-Z0-9]{40}$`)

func TestNewToken_Format(t *testing.T) {
	issuer := NewTokenIssuer(nil)
	token, err := issuer.NewToken()
	if err != nil {
		t.Fatalf("new token: %v", err)
	}
	if !tokenPattern.MatchString(token) {
		t.Fatalf("token %q does not match 40-char alphanumeric format", token)
	}
}

func TestNewTokenSet_Independent(t *testing.T) {
	issuer := NewTokenIssuer(nil)
	tokens, err := issuer.NewTokenSet()
	if err != nil {
		t.Fatalf("new token set: %v", err)
	}
	if tokens.Access == tokens.ClientSigning || tokens.Access == tokens.SpeakerSigning || tokens.ClientSigning == tokens.SpeakerSigning {
		t.Fatal("expected three distinct tokens")
	}
}

// Statistical check, not a proof: 100k draws from a 62^40 space should never
// collide.
func TestNewToken_NoCollisions(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping collision sweep in short mode")
	}
	issuer := NewTokenIssuer(nil)
	seen := make(map[string]struct{}, 100_000)
	for i := 0; i < 100_000; i++ {
		token, err := issuer.NewToken()
		if err != nil {
			t.Fatalf("new token: %v", err)
		}
		if _, dup := seen[token]; dup {
			t.Fatalf("collision after %d tokens", i)
		}
		seen[token] = struct{}{}
	}
}

func TestNewContractNumber_Format(t *testing.T) {
	fixed := time.Date(2026, 3, 10, 15, 4, 5, 0, time.UTC)
	issuer := NewTokenIssuer(func() time.Time { return fixed })

	pattern := regexp.MustCompile(`^CTR-20260310-\d{4}$`)
	for i := 0; i < 50; i++ {
		number, err := issuer.NewContractNumber()
		if err != nil {
			t.Fatalf("new contract number: %v", err)
		}
		if !pattern.MatchString(number) {
			t.Fatalf("contract number %q does not match CTR-YYYYMMDD-NNNN", number)
		}
	}
}

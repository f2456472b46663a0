package contract

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

const (
	tokenAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	tokenLength   = 40

	contractNumberPrefix = "CTR"
)

// TokenIssuer mints the opaque bearer tokens and the human-facing contract
// number for new contracts. Tokens come from crypto/rand: a token embedded in
// a signing hyperlink is the only authorization a remote signer presents, so
// the source must be unguessable. The issuer holds no mutable state and is
// safe for concurrent use.
type TokenIssuer struct {
	now func() time.Time
}

// NewTokenIssuer builds an issuer using the supplied clock, or time.Now when
// nil.
func NewTokenIssuer(now func() time.Time) *TokenIssuer {
	if now == nil {
		now = time.Now
	}
	return &TokenIssuer{now: now}
}

// NewToken returns a fresh 40-character alphanumeric bearer token. Tokens are
// stored verbatim and never re-derived.
func (i *TokenIssuer) NewToken() (string, error) {
	buf := make([]byte, tokenLength)
	max := big.NewInt(int64(len(tokenAlphabet)))
	for n := range buf {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("contract: generate token: %w", err)
		}
		buf[n] = tokenAlphabet[idx.Int64()]
	}
	return string(buf), nil
}

// NewTokenSet mints the three independent tokens a contract carries.
func (i *TokenIssuer) NewTokenSet() (Tokens, error) {
	access, err := i.NewToken()
	if err != nil {
		return Tokens{}, err
	}
	client, err := i.NewToken()
	if err != nil {
		return Tokens{}, err
	}
	speaker, err := i.NewToken()
	if err != nil {
		return Tokens{}, err
	}
	return Tokens{Access: access, ClientSigning: client, SpeakerSigning: speaker}, nil
}

// NewContractNumber returns a candidate contract number of the form
// CTR-YYYYMMDD-NNNN. The number is a non-secret human identifier; the random
// suffix makes collisions rare, and creation retries against the unique index
// when one occurs.
func (i *TokenIssuer) NewContractNumber() (string, error) {
	suffix, err := rand.Int(rand.Reader, big.NewInt(10000))
	if err != nil {
		return "", fmt.Errorf("contract: generate contract number: %w", err)
	}
	return fmt.Sprintf("%s-%s-%04d", contractNumberPrefix, i.now().UTC().Format("20060102"), suffix.Int64()), nil
}

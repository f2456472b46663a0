package contract

import (
	"errors"
	"testing"
)

func TestValidateTransition(t *testing.T) {
	allowed := []struct{ from, to Status }{
		{StatusDraft, StatusSent},
		{StatusSent, StatusSent},
		{StatusSent, StatusPartiallySigned},
		{StatusSent, StatusFullyExecuted},
		{StatusPartiallySigned, StatusPartiallySigned},
		{StatusPartiallySigned, StatusFullyExecuted},
		{StatusClientSigned, StatusPartiallySigned},
		{StatusSpeakerSigned, StatusFullyExecuted},
		{StatusDraft, StatusCancelled},
		{StatusSent, StatusCancelled},
		{StatusPartiallySigned, StatusCancelled},
	}
	for _, tc := range allowed {
		if err := ValidateTransition(tc.from, tc.to); err != nil {
			t.Errorf("expected %s -> %s to be allowed: %v", tc.from, tc.to, err)
		}
	}

	rejected := []struct{ from, to Status }{
		{StatusSent, StatusDraft},
		{StatusFullyExecuted, StatusSent},
		{StatusFullyExecuted, StatusCancelled},
		{StatusCancelled, StatusSent},
		{StatusCancelled, StatusCancelled},
		{StatusPartiallySigned, StatusSent},
	}
	for _, tc := range rejected {
		err := ValidateTransition(tc.from, tc.to)
		var invalid *ErrInvalidTransition
		if !errors.As(err, &invalid) {
			t.Errorf("expected %s -> %s to be rejected, got %v", tc.from, tc.to, err)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	for _, s := range []Status{StatusDraft, StatusSent, StatusClientSigned, StatusSpeakerSigned, StatusPartiallySigned} {
		if IsTerminal(s) {
			t.Errorf("%s must not be terminal", s)
		}
	}
	for _, s := range []Status{StatusFullyExecuted, StatusCancelled} {
		if !IsTerminal(s) {
			t.Errorf("%s must be terminal", s)
		}
	}
}

func TestSignatureSetRecompute(t *testing.T) {
	client := Signature{SignerType: SignerClient}
	speaker := Signature{SignerType: SignerSpeaker}
	admin := Signature{SignerType: SignerAdmin}

	cases := []struct {
		name    string
		set     SignatureSet
		current Status
		want    Status
	}{
		{"empty keeps current", SignatureSet{}, StatusSent, StatusSent},
		{"empty keeps draft", SignatureSet{}, StatusDraft, StatusDraft},
		{"client only", SignatureSet{SignerClient: client}, StatusSent, StatusPartiallySigned},
		{"speaker only", SignatureSet{SignerSpeaker: speaker}, StatusSent, StatusPartiallySigned},
		{"both", SignatureSet{SignerClient: client, SignerSpeaker: speaker}, StatusPartiallySigned, StatusFullyExecuted},
		{"admin does not count", SignatureSet{SignerAdmin: admin, SignerClient: client}, StatusSent, StatusPartiallySigned},
		{"admin alone keeps draft", SignatureSet{SignerAdmin: admin}, StatusDraft, StatusDraft},
	}
	for _, tc := range cases {
		if got := tc.set.Recompute(tc.current); got != tc.want {
			t.Errorf("%s: Recompute(%s) = %s, want %s", tc.name, tc.current, got, tc.want)
		}
	}
}

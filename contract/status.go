package contract

import "fmt"

// ErrInvalidTransition reports a status change the lifecycle does not allow.
type ErrInvalidTransition struct {
	From Status
	To   Status
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("contract: invalid transition %s -> %s", e.From, e.To)
}

// IsTerminal reports whether no further transition is possible from s.
func IsTerminal(s Status) bool {
	return s == StatusFullyExecuted || s == StatusCancelled
}

// Signable reports whether a contract in status s accepts signature
// submissions. Terminal contracts never do; signatures arriving before the
// formal send are accepted so an in-person wet signature is not rejected.
func Signable(s Status) bool {
	return !IsTerminal(s)
}

// allowedTransitions is the lifecycle edge set. Cancellation is handled
// separately because it is reachable from every non-terminal state.
var allowedTransitions = map[Status]map[Status]bool{
	StatusDraft: {
		StatusSent:            true,
		StatusClientSigned:    true,
		StatusSpeakerSigned:   true,
		StatusPartiallySigned: true,
		StatusFullyExecuted:   true,
	},
	StatusSent: {
		StatusSent:            true, // resend is a no-op transition
		StatusClientSigned:    true,
		StatusSpeakerSigned:   true,
		StatusPartiallySigned: true,
		StatusFullyExecuted:   true,
	},
	StatusClientSigned: {
		StatusPartiallySigned: true,
		StatusFullyExecuted:   true,
	},
	StatusSpeakerSigned: {
		StatusPartiallySigned: true,
		StatusFullyExecuted:   true,
	},
	StatusPartiallySigned: {
		StatusPartiallySigned: true, // re-signed slot, set unchanged
		StatusFullyExecuted:   true,
	},
}

// ValidateTransition checks whether moving from -> to is allowed.
func ValidateTransition(from, to Status) error {
	if to == StatusCancelled {
		if IsTerminal(from) {
			return &ErrInvalidTransition{From: from, To: to}
		}
		return nil
	}
	if allowedTransitions[from][to] {
		return nil
	}
	return &ErrInvalidTransition{From: from, To: to}
}

// SignatureSet is the full current set of active signatures for a contract,
// keyed by signer role. Status is always recomputed from this set rather than
// from an event count, so corrections, out-of-order and concurrent
// submissions all converge on the same answer.
type SignatureSet map[SignerType]Signature

// Recompute derives the post-signature status from the full signature set.
// Only client and speaker signatures advance the lifecycle; a set without
// either (an admin countersignature alone) leaves current unchanged.
func (set SignatureSet) Recompute(current Status) Status {
	_, client := set[SignerClient]
	_, speaker := set[SignerSpeaker]
	switch {
	case client && speaker:
		return StatusFullyExecuted
	case client, speaker:
		return StatusPartiallySigned
	default:
		return current
	}
}

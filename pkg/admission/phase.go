package admission

// Phase is a state of the review state machine:
//
//	RECEIVED -> PARSED -> INELIGIBLE -> ALLOWED
//	RECEIVED -> PARSED -> ELIGIBLE -> NORMALIZED -> REVEALING -> REVEALED -> PATCHED -> ALLOWED
//	... -> REVEAL_FAILED -> DENIED
//	RECEIVED -> MALFORMED
type Phase string

const (
	PhaseReceived     Phase = "RECEIVED"
	PhaseParsed       Phase = "PARSED"
	PhaseIneligible   Phase = "INELIGIBLE"
	PhaseEligible     Phase = "ELIGIBLE"
	PhaseNormalized   Phase = "NORMALIZED"
	PhaseRevealing    Phase = "REVEALING"
	PhaseRevealed     Phase = "REVEALED"
	PhasePatched      Phase = "PATCHED"
	PhaseAllowed      Phase = "ALLOWED"
	PhaseRevealFailed Phase = "REVEAL_FAILED"
	PhaseDenied       Phase = "DENIED"
	PhaseMalformed    Phase = "MALFORMED"
)

// Terminal reports whether no transition leaves p.
func (p Phase) Terminal() bool {
	switch p {
	case PhaseAllowed, PhaseDenied, PhaseMalformed:
		return true
	}
	return false
}

// inReveal reports whether p lies on the eligible branch before a verdict.
func (p Phase) inReveal() bool {
	switch p {
	case PhaseEligible, PhaseNormalized, PhaseRevealing, PhaseRevealed, PhasePatched:
		return true
	}
	return false
}

package domain

import (
	"fmt"
	"regexp"
	"strings"
)

// VIN format: exactly 17 uppercase alphanumeric characters.
var vinRegex = regexp.MustCompile(`^[A-Z0-9]{17}$`)

// ValidateVIN checks an optional VIN. An empty VIN is valid.
func ValidateVIN(vin string) error {
	if vin == "" {
		return nil
	}
	if !vinRegex.MatchString(vin) {
		return NewValidationError("vin", vin, ErrInvalidVIN)
	}
	return nil
}

// ValidateSubmission gates a diagnosis submission: the problem description
// must be non-empty after trimming, and the VIN must be empty or well-formed.
func ValidateSubmission(userInput, vin string) error {
	if strings.TrimSpace(userInput) == "" {
		return NewValidationError("userInput", userInput, ErrEmptyDescription)
	}
	return ValidateVIN(vin)
}

// Validate checks a report received from the model against the contract.
// The model response is untrusted input: field presence, enum membership, and
// the non-empty invariants are all enforced here.
func (r *DiagnosticReport) Validate() error {
	if strings.TrimSpace(r.ProblemSummary) == "" {
		return NewValidationError("problemSummary", r.ProblemSummary, ErrMalformedReport)
	}
	if len(r.PossibleCauses) == 0 {
		return NewValidationError("possibleCauses", "", ErrMalformedReport)
	}
	for i, c := range r.PossibleCauses {
		if strings.TrimSpace(c.Cause) == "" {
			return NewValidationError(fmt.Sprintf("possibleCauses[%d].cause", i), c.Cause, ErrMalformedReport)
		}
		if !ValidLikelihoods[c.Likelihood] {
			return NewValidationError(fmt.Sprintf("possibleCauses[%d].likelihood", i), string(c.Likelihood), ErrMalformedReport)
		}
	}
	if len(r.DiagnosticSteps) == 0 {
		return NewValidationError("diagnosticSteps", "", ErrMalformedReport)
	}
	if len(r.RecommendedActions) == 0 {
		return NewValidationError("recommendedActions", "", ErrMalformedReport)
	}
	for i, a := range r.RecommendedActions {
		if strings.TrimSpace(a.Action) == "" {
			return NewValidationError(fmt.Sprintf("recommendedActions[%d].action", i), a.Action, ErrMalformedReport)
		}
		if !ValidDifficulties[a.Difficulty] {
			return NewValidationError(fmt.Sprintf("recommendedActions[%d].difficulty", i), string(a.Difficulty), ErrMalformedReport)
		}
	}
	if strings.TrimSpace(r.SafetyWarning) == "" {
		return NewValidationError("safetyWarning", r.SafetyWarning, ErrMalformedReport)
	}
	return nil
}

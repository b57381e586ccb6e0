package controller

import (
	"github.com/lukeponga-dev/rotorwise/engine/attachment"
	"github.com/lukeponga-dev/rotorwise/engine/domain"
)

// Phase is the view the session is in. Every transition goes through
// Submit, NewDiagnosis, SelectEntry, or ClearHistory; there is no
// back-door mutation of the phase.
type Phase string

const (
	PhaseWelcome Phase = "welcome"
	PhaseLoading Phase = "loading"
	PhaseError   Phase = "error"
	PhaseReport  Phase = "report"
)

// ErrorView is what the error phase renders.
type ErrorView struct {
	Title   string `json:"title"`
	Message string `json:"message"`
}

// State is a point-in-time snapshot of a session. It is a copy; mutating it
// has no effect on the controller.
type State struct {
	Phase         Phase                    `json:"phase"`
	UserInput     string                   `json:"userInput"`
	VIN           string                   `json:"vin"`
	Attachments   []attachment.Attachment  `json:"attachments"`
	SelectedID    string                   `json:"selectedId,omitempty"`
	Report        *domain.DiagnosticReport `json:"report,omitempty"`
	Error         *ErrorView               `json:"error,omitempty"`
	HasCredential bool                     `json:"hasCredential"`
}

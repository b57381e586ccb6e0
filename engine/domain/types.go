// Package domain defines the core data model and validation for the
// diagnostic assistant: attachments, diagnostic reports, and history entries.
// It acts as the validation gate for user input and for untrusted model output.
package domain

import (
	"strconv"
	"strings"
	"time"
)

// Likelihood ranks how probable a cause is.
type Likelihood string

const (
	LikelihoodHigh   Likelihood = "High"
	LikelihoodMedium Likelihood = "Medium"
	LikelihoodLow    Likelihood = "Low"
)

// ValidLikelihoods is the set of recognised likelihood values.
var ValidLikelihoods = map[Likelihood]bool{
	LikelihoodHigh: true, LikelihoodMedium: true, LikelihoodLow: true,
}

// Difficulty classifies how hard a recommended action is.
type Difficulty string

const (
	DifficultyDIY          Difficulty = "DIY"
	DifficultyIntermediate Difficulty = "Intermediate"
	DifficultyProfessional Difficulty = "Professional"
)

// ValidDifficulties is the set of recognised difficulty values.
var ValidDifficulties = map[Difficulty]bool{
	DifficultyDIY: true, DifficultyIntermediate: true, DifficultyProfessional: true,
}

// PossibleCause is one candidate explanation for the reported problem.
type PossibleCause struct {
	Cause       string     `json:"cause"`
	Likelihood  Likelihood `json:"likelihood"`
	Explanation string     `json:"explanation"`
}

// RecommendedAction is one suggested fix.
type RecommendedAction struct {
	Action     string     `json:"action"`
	Difficulty Difficulty `json:"difficulty"`
}

// DiagnosticReport is the structured model output for one diagnosis.
// PossibleCauses are ordered most-to-least likely by producer contract.
// Immutable once received.
type DiagnosticReport struct {
	ProblemSummary        string              `json:"problemSummary"`
	ObservationsFromMedia string              `json:"observationsFromMedia,omitempty"`
	PossibleCauses        []PossibleCause     `json:"possibleCauses"`
	DiagnosticSteps       []string            `json:"diagnosticSteps"`
	RecommendedActions    []RecommendedAction `json:"recommendedActions"`
	RequiredPartsAndTools []string            `json:"requiredPartsAndTools,omitempty"`
	SafetyWarning         string              `json:"safetyWarning"`
}

// AttachmentKind classifies an attachment by its declared MIME type.
type AttachmentKind string

const (
	KindImage AttachmentKind = "image"
	KindVideo AttachmentKind = "video"
	KindOther AttachmentKind = "other"
)

// KindForMIME classifies a declared MIME type.
func KindForMIME(mimeType string) AttachmentKind {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return KindImage
	case strings.HasPrefix(mimeType, "video/"):
		return KindVideo
	default:
		return KindOther
	}
}

// AttachmentStatus tracks the upload/encode lifecycle of an attachment.
// Status moves uploading -> complete or uploading -> error exactly once.
type AttachmentStatus string

const (
	StatusUploading AttachmentStatus = "uploading"
	StatusComplete  AttachmentStatus = "complete"
	StatusError     AttachmentStatus = "error"
)

// FileRef describes an attachment on a history entry. Raw bytes are not
// retained once a diagnosis completes.
type FileRef struct {
	Name     string `json:"name"`
	MIMEType string `json:"mimeType"`
}

// HistoryEntry is one completed diagnostic exchange. Never mutated after
// creation; removed only by clearing the whole history.
type HistoryEntry struct {
	ID        string           `json:"id"`
	Timestamp time.Time        `json:"timestamp"`
	UserInput string           `json:"userInput"`
	VIN       string           `json:"vin"`
	Files     []FileRef        `json:"files"`
	Report    DiagnosticReport `json:"report"`
}

// NewHistoryEntry builds an entry with an id derived from the creation time.
func NewHistoryEntry(now time.Time, userInput, vin string, files []FileRef, report DiagnosticReport) HistoryEntry {
	return HistoryEntry{
		ID:        strconv.FormatInt(now.UnixMilli(), 10),
		Timestamp: now,
		UserInput: userInput,
		VIN:       vin,
		Files:     files,
		Report:    report,
	}
}

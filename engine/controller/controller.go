// Package controller owns the view state of one diagnostic session: the
// welcome/loading/error/report machine, the submission gate, and the handoff
// between the attachment manager, the diagnostic client, and the history log.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lukeponga-dev/rotorwise/engine/attachment"
	"github.com/lukeponga-dev/rotorwise/engine/diagnose"
	"github.com/lukeponga-dev/rotorwise/engine/domain"
	"github.com/lukeponga-dev/rotorwise/engine/history"
	"github.com/lukeponga-dev/rotorwise/pkg/events"
	"github.com/lukeponga-dev/rotorwise/pkg/fn"
)

// Submission gate errors.
var (
	// ErrBusy means a diagnosis is already in flight for this session.
	ErrBusy = errors.New("controller: diagnosis already in flight")
	// ErrUploadsPending means at least one attachment is still encoding.
	ErrUploadsPending = errors.New("controller: attachments still uploading")
)

// DiagnoseFunc performs one diagnosis request. Production wires
// (*diagnose.Client).Request; tests substitute their own.
type DiagnoseFunc func(ctx context.Context, userInput, vin string, attachments []attachment.Attachment, credential string) (*domain.DiagnosticReport, error)

// Controller serializes all session mutations behind one mutex. The mutex is
// released for the duration of the diagnose call so the loading phase is
// observable and concurrent submissions can be refused.
type Controller struct {
	mu sync.Mutex

	phase      Phase
	userInput  string
	vin        string
	selectedID string
	report     *domain.DiagnosticReport
	errView    *ErrorView

	attachments *attachment.Manager
	history     *history.Store
	credentials *Credentials
	diagnose    DiagnoseFunc
	publisher   *events.Publisher
	logger      *slog.Logger
	now         func() time.Time
}

// Options wires a Controller's collaborators.
type Options struct {
	Attachments *attachment.Manager
	History     *history.Store
	Credentials *Credentials
	Diagnose    DiagnoseFunc
	Publisher   *events.Publisher
	Logger      *slog.Logger
	Now         func() time.Time
}

// New creates a Controller in the welcome phase.
func New(opts Options) *Controller {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Controller{
		phase:       PhaseWelcome,
		attachments: opts.Attachments,
		history:     opts.History,
		credentials: opts.Credentials,
		diagnose:    opts.Diagnose,
		publisher:   opts.Publisher,
		logger:      opts.Logger,
		now:         opts.Now,
	}
}

// SetInput records the form fields. Editing is allowed in any phase except
// loading; edits during loading are dropped.
func (c *Controller) SetInput(userInput, vin string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase == PhaseLoading {
		return
	}
	c.userInput = userInput
	c.vin = vin
}

// Submit runs the submission gate and, if it passes, performs one diagnosis.
// Gate failures return the offending error and leave the state untouched.
// Diagnosis failures move the session to the error phase with the form
// preserved; success appends a history entry, selects it, and resets the form.
func (c *Controller) Submit(ctx context.Context) error {
	c.mu.Lock()
	if c.phase == PhaseLoading {
		c.mu.Unlock()
		return ErrBusy
	}
	credential := c.credentials.Get()
	if credential == "" {
		c.mu.Unlock()
		return diagnose.ErrNoCredential
	}
	if err := domain.ValidateSubmission(c.userInput, c.vin); err != nil {
		c.mu.Unlock()
		return err
	}
	if c.attachments.Uploading() {
		c.mu.Unlock()
		return ErrUploadsPending
	}

	userInput, vin := c.userInput, c.vin
	atts := c.attachments.List()
	refs := c.attachments.FileRefs()
	c.phase = PhaseLoading
	c.errView = nil
	c.report = nil
	c.mu.Unlock()

	report, err := c.diagnose(ctx, userInput, vin, atts, credential)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.logger.Warn("diagnosis failed", "error", err)
		c.phase = PhaseError
		c.errView = mapError(err)
		return err
	}

	// Record the descriptors captured at submit time; the attachment set may
	// have changed while the request was in flight.
	entry := domain.NewHistoryEntry(c.now(), userInput, vin, refs, *report)
	c.history.Append(entry)
	c.selectedID = entry.ID
	c.report = &entry.Report
	c.phase = PhaseReport
	c.userInput, c.vin = "", ""
	c.attachments.Clear()

	if pubErr := events.Publish(ctx, c.publisher, events.SubjectDiagnosisCompleted, events.DiagnosisCompleted{
		EntryID:         entry.ID,
		Timestamp:       entry.Timestamp,
		AttachmentCount: len(entry.Files),
		CauseCount:      len(entry.Report.PossibleCauses),
	}); pubErr != nil {
		c.logger.Warn("could not publish diagnosis event", "error", pubErr)
	}
	return nil
}

// NewDiagnosis returns to the welcome phase with a clean form. Refused while
// a diagnosis is in flight.
func (c *Controller) NewDiagnosis() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase == PhaseLoading {
		return ErrBusy
	}
	c.phase = PhaseWelcome
	c.userInput, c.vin = "", ""
	c.selectedID = ""
	c.report = nil
	c.errView = nil
	c.attachments.Clear()
	return nil
}

// SelectEntry shows a past report. Refused while a diagnosis is in flight.
func (c *Controller) SelectEntry(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase == PhaseLoading {
		return ErrBusy
	}
	entry, err := c.history.Get(id)
	if err != nil {
		return err
	}
	c.selectedID = entry.ID
	c.report = &entry.Report
	c.phase = PhaseReport
	c.errView = nil
	return nil
}

// ClearHistory empties the log and returns to the welcome phase. Clearing an
// already-empty log is still a clean transition.
func (c *Controller) ClearHistory(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase == PhaseLoading {
		return ErrBusy
	}
	c.history.Clear()
	c.phase = PhaseWelcome
	c.selectedID = ""
	c.report = nil
	c.errView = nil

	if pubErr := events.Publish(ctx, c.publisher, events.SubjectHistoryCleared, events.HistoryCleared{At: c.now()}); pubErr != nil {
		c.logger.Warn("could not publish history-cleared event", "error", pubErr)
	}
	return nil
}

// State returns a snapshot of the session.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{
		Phase:         c.phase,
		UserInput:     c.userInput,
		VIN:           c.vin,
		Attachments:   c.attachments.List(),
		SelectedID:    c.selectedID,
		Report:        c.report,
		Error:         c.errView,
		HasCredential: c.credentials.Get() != "",
	}
}

// History returns the log most recent first, for presentation. Storage order
// stays chronological.
func (c *Controller) History() []domain.HistoryEntry {
	return fn.Reverse(c.history.Entries())
}

// Attachments exposes the session's attachment manager.
func (c *Controller) Attachments() *attachment.Manager {
	return c.attachments
}

// mapError converts a diagnosis failure into the error view. First match
// wins, mirroring the client's classification order.
func mapError(err error) *ErrorView {
	switch {
	case errors.Is(err, diagnose.ErrInvalidAPIKey):
		return &ErrorView{
			Title:   "Invalid API Key",
			Message: "Your API key may be invalid or missing permissions. Please save a valid key via the settings panel and try again.",
		}
	case errors.Is(err, diagnose.ErrRateLimited):
		return &ErrorView{
			Title:   "Rate Limit Exceeded",
			Message: "You have made too many requests in a short period. Please wait a moment before trying again.",
		}
	case errors.Is(err, diagnose.ErrNetwork):
		return &ErrorView{
			Title:   "Network Error",
			Message: "Could not connect to the AI service. Please check your internet connection and try again.",
		}
	case errors.Is(err, diagnose.ErrService):
		return &ErrorView{
			Title:   "AI Service Error",
			Message: fmt.Sprintf("An unexpected error occurred while communicating with the AI service: %v", err),
		}
	default:
		return &ErrorView{
			Title:   "An Unknown Error Occurred",
			Message: "Something went wrong. Please check the logs for details and try again.",
		}
	}
}

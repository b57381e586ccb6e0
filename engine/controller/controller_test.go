package controller

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lukeponga-dev/rotorwise/engine/attachment"
	"github.com/lukeponga-dev/rotorwise/engine/diagnose"
	"github.com/lukeponga-dev/rotorwise/engine/domain"
	"github.com/lukeponga-dev/rotorwise/engine/history"
	"github.com/lukeponga-dev/rotorwise/pkg/store"
)

type memKV struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemKV() *memKV { return &memKV{data: map[string][]byte{}} }

func (m *memKV) Put(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *memKV) Get(key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return v, nil
}

func (m *memKV) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func testReport() *domain.DiagnosticReport {
	return &domain.DiagnosticReport{
		ProblemSummary: "Failing alternator.",
		PossibleCauses: []domain.PossibleCause{
			{Cause: "Worn alternator brushes", Likelihood: domain.LikelihoodHigh, Explanation: "Dimming lights at idle."},
		},
		DiagnosticSteps:    []string{"Measure battery voltage with the engine running."},
		RecommendedActions: []domain.RecommendedAction{{Action: "Replace the alternator", Difficulty: domain.DifficultyProfessional}},
		SafetyWarning:      "Disconnect the battery before working on the charging system.",
	}
}

type fixture struct {
	ctrl  *Controller
	creds *Credentials
	mgr   *attachment.Manager
	calls *int
}

func newFixture(t *testing.T, fn DiagnoseFunc) *fixture {
	t.Helper()
	kv := newMemKV()
	creds := NewCredentials(kv)
	mgr := attachment.NewManager(nil)
	calls := new(int)
	wrapped := func(ctx context.Context, input, vin string, atts []attachment.Attachment, cred string) (*domain.DiagnosticReport, error) {
		*calls++
		return fn(ctx, input, vin, atts, cred)
	}
	clock := int64(1700000000000)
	ctrl := New(Options{
		Attachments: mgr,
		History:     history.Load(kv, nil),
		Credentials: creds,
		Diagnose:    wrapped,
		Now: func() time.Time {
			clock += 1000
			return time.UnixMilli(clock)
		},
	})
	return &fixture{ctrl: ctrl, creds: creds, mgr: mgr, calls: calls}
}

func succeed(ctx context.Context, input, vin string, atts []attachment.Attachment, cred string) (*domain.DiagnosticReport, error) {
	return testReport(), nil
}

func TestSubmit_HappyPath(t *testing.T) {
	var observed Phase
	f := newFixture(t, nil)
	f.ctrl.diagnose = func(ctx context.Context, input, vin string, atts []attachment.Attachment, cred string) (*domain.DiagnosticReport, error) {
		observed = f.ctrl.State().Phase
		if input != "engine stalls at idle" || vin != "1HGCM82633A004352" || cred != "key-1" {
			t.Errorf("unexpected call: input=%q vin=%q cred=%q", input, vin, cred)
		}
		if len(atts) != 1 {
			t.Errorf("attachments = %d, want 1", len(atts))
		}
		return testReport(), nil
	}
	f.creds.Set("key-1")

	added, _ := f.mgr.Add([]attachment.File{{Name: "engine.jpg", MIMEType: "image/jpeg", Content: strings.NewReader("jpeg bytes")}})
	<-f.mgr.Wait(added[0].ID)

	f.ctrl.SetInput("engine stalls at idle", "1HGCM82633A004352")
	if err := f.ctrl.Submit(context.Background()); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if observed != PhaseLoading {
		t.Errorf("phase during diagnosis = %q, want loading", observed)
	}
	st := f.ctrl.State()
	if st.Phase != PhaseReport {
		t.Fatalf("phase = %q, want report", st.Phase)
	}
	if st.Report == nil || st.Report.ProblemSummary != "Failing alternator." {
		t.Errorf("unexpected report: %+v", st.Report)
	}
	if st.UserInput != "" || st.VIN != "" {
		t.Errorf("form not reset: %q %q", st.UserInput, st.VIN)
	}
	if len(st.Attachments) != 0 {
		t.Errorf("attachments not cleared: %d", len(st.Attachments))
	}

	entries := f.ctrl.History()
	if len(entries) != 1 {
		t.Fatalf("history len = %d, want 1", len(entries))
	}
	e := entries[0]
	if st.SelectedID != e.ID {
		t.Errorf("selected id %q != entry id %q", st.SelectedID, e.ID)
	}
	if e.UserInput != "engine stalls at idle" || e.VIN != "1HGCM82633A004352" {
		t.Errorf("unexpected entry: %+v", e)
	}
	if len(e.Files) != 1 || e.Files[0].Name != "engine.jpg" {
		t.Errorf("unexpected file refs: %+v", e.Files)
	}
}

func TestSubmit_FailurePreservesForm(t *testing.T) {
	f := newFixture(t, func(ctx context.Context, input, vin string, atts []attachment.Attachment, cred string) (*domain.DiagnosticReport, error) {
		return nil, diagnose.ErrInvalidAPIKey
	})
	f.creds.Set("bad-key")
	f.ctrl.SetInput("rough idle", "")

	err := f.ctrl.Submit(context.Background())
	if !errors.Is(err, diagnose.ErrInvalidAPIKey) {
		t.Fatalf("Submit: %v", err)
	}
	st := f.ctrl.State()
	if st.Phase != PhaseError {
		t.Fatalf("phase = %q, want error", st.Phase)
	}
	if st.Error == nil || st.Error.Title != "Invalid API Key" {
		t.Errorf("unexpected error view: %+v", st.Error)
	}
	if st.UserInput != "rough idle" {
		t.Errorf("form was not preserved: %q", st.UserInput)
	}
	if len(f.ctrl.History()) != 0 {
		t.Error("failed diagnosis must not append history")
	}
}

func TestSubmit_RefusedWhileInFlight(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	f := newFixture(t, func(ctx context.Context, input, vin string, atts []attachment.Attachment, cred string) (*domain.DiagnosticReport, error) {
		close(started)
		<-release
		return testReport(), nil
	})
	f.creds.Set("key-1")
	f.ctrl.SetInput("no crank", "")

	done := make(chan error, 1)
	go func() { done <- f.ctrl.Submit(context.Background()) }()
	<-started

	if err := f.ctrl.Submit(context.Background()); !errors.Is(err, ErrBusy) {
		t.Errorf("second submit: got %v, want ErrBusy", err)
	}
	if err := f.ctrl.NewDiagnosis(); !errors.Is(err, ErrBusy) {
		t.Errorf("NewDiagnosis during flight: got %v, want ErrBusy", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if got := f.ctrl.State().Phase; got != PhaseReport {
		t.Errorf("phase = %q, want report", got)
	}
	if *f.calls != 1 {
		t.Errorf("diagnose called %d times, want 1", *f.calls)
	}
}

func TestSubmit_Gates(t *testing.T) {
	t.Run("missing credential", func(t *testing.T) {
		f := newFixture(t, succeed)
		f.ctrl.SetInput("stalling", "")
		if err := f.ctrl.Submit(context.Background()); !errors.Is(err, diagnose.ErrNoCredential) {
			t.Errorf("got %v, want ErrNoCredential", err)
		}
		if *f.calls != 0 {
			t.Error("gate failure must not call the service")
		}
		if got := f.ctrl.State().Phase; got != PhaseWelcome {
			t.Errorf("phase = %q, want welcome", got)
		}
	})

	t.Run("empty input", func(t *testing.T) {
		f := newFixture(t, succeed)
		f.creds.Set("key-1")
		f.ctrl.SetInput("   ", "")
		if err := f.ctrl.Submit(context.Background()); !errors.Is(err, domain.ErrEmptyDescription) {
			t.Errorf("got %v, want ErrEmptyDescription", err)
		}
		if *f.calls != 0 {
			t.Error("gate failure must not call the service")
		}
	})

	t.Run("invalid vin", func(t *testing.T) {
		f := newFixture(t, succeed)
		f.creds.Set("key-1")
		f.ctrl.SetInput("stalling", "SHORT")
		if err := f.ctrl.Submit(context.Background()); !errors.Is(err, domain.ErrInvalidVIN) {
			t.Errorf("got %v, want ErrInvalidVIN", err)
		}
		if *f.calls != 0 {
			t.Error("gate failure must not call the service")
		}
	})

	t.Run("uploads pending", func(t *testing.T) {
		f := newFixture(t, succeed)
		f.creds.Set("key-1")
		pr, pw := io.Pipe()
		defer pw.Close()
		f.mgr.Add([]attachment.File{{Name: "clip.mp4", MIMEType: "video/mp4", Content: pr}})
		f.ctrl.SetInput("stalling", "")
		if err := f.ctrl.Submit(context.Background()); !errors.Is(err, ErrUploadsPending) {
			t.Errorf("got %v, want ErrUploadsPending", err)
		}
		if *f.calls != 0 {
			t.Error("gate failure must not call the service")
		}
	})
}

func TestHistoryPresentedNewestFirst(t *testing.T) {
	f := newFixture(t, succeed)
	f.creds.Set("key-1")

	f.ctrl.SetInput("first problem", "")
	if err := f.ctrl.Submit(context.Background()); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	f.ctrl.SetInput("second problem", "")
	if err := f.ctrl.Submit(context.Background()); err != nil {
		t.Fatalf("second submit: %v", err)
	}

	view := f.ctrl.History()
	if len(view) != 2 {
		t.Fatalf("history len = %d, want 2", len(view))
	}
	if view[0].UserInput != "second problem" || view[1].UserInput != "first problem" {
		t.Errorf("expected newest first, got %q then %q", view[0].UserInput, view[1].UserInput)
	}
	if !view[1].Timestamp.Before(view[0].Timestamp) {
		t.Error("newest entry should carry the latest timestamp")
	}
}

func TestSubmit_RecordsFilesFromSubmitSnapshot(t *testing.T) {
	f := newFixture(t, nil)
	f.creds.Set("key-1")

	added, _ := f.mgr.Add([]attachment.File{{Name: "before.jpg", MIMEType: "image/jpeg", Content: strings.NewReader("x")}})
	<-f.mgr.Wait(added[0].ID)

	f.ctrl.diagnose = func(ctx context.Context, input, vin string, atts []attachment.Attachment, cred string) (*domain.DiagnosticReport, error) {
		// the set changes while the request is in flight
		late, _ := f.mgr.Add([]attachment.File{{Name: "during.jpg", MIMEType: "image/jpeg", Content: strings.NewReader("y")}})
		<-f.mgr.Wait(late[0].ID)
		return testReport(), nil
	}
	f.ctrl.SetInput("warning light", "")
	if err := f.ctrl.Submit(context.Background()); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	entry := f.ctrl.History()[0]
	if len(entry.Files) != 1 || entry.Files[0].Name != "before.jpg" {
		t.Errorf("entry must record the files sent with the request, got %+v", entry.Files)
	}
}

func TestNewDiagnosisResetsEverything(t *testing.T) {
	f := newFixture(t, succeed)
	f.creds.Set("key-1")
	f.ctrl.SetInput("brake shudder", "")
	if err := f.ctrl.Submit(context.Background()); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if err := f.ctrl.NewDiagnosis(); err != nil {
		t.Fatalf("NewDiagnosis: %v", err)
	}
	st := f.ctrl.State()
	if st.Phase != PhaseWelcome || st.Report != nil || st.SelectedID != "" || st.Error != nil {
		t.Errorf("unexpected state after reset: %+v", st)
	}
	if len(f.ctrl.History()) != 1 {
		t.Error("NewDiagnosis must not touch history")
	}
}

func TestSelectEntry(t *testing.T) {
	f := newFixture(t, succeed)
	f.creds.Set("key-1")
	f.ctrl.SetInput("brake shudder", "")
	if err := f.ctrl.Submit(context.Background()); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	id := f.ctrl.History()[0].ID
	if err := f.ctrl.NewDiagnosis(); err != nil {
		t.Fatal(err)
	}

	if err := f.ctrl.SelectEntry(id); err != nil {
		t.Fatalf("SelectEntry: %v", err)
	}
	st := f.ctrl.State()
	if st.Phase != PhaseReport || st.SelectedID != id || st.Report == nil {
		t.Errorf("unexpected state: %+v", st)
	}

	if err := f.ctrl.SelectEntry("missing"); !errors.Is(err, history.ErrNotFound) {
		t.Errorf("unknown entry: got %v, want ErrNotFound", err)
	}
}

func TestClearHistory(t *testing.T) {
	f := newFixture(t, succeed)
	f.creds.Set("key-1")
	f.ctrl.SetInput("brake shudder", "")
	if err := f.ctrl.Submit(context.Background()); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if err := f.ctrl.ClearHistory(context.Background()); err != nil {
		t.Fatalf("ClearHistory: %v", err)
	}
	st := f.ctrl.State()
	if st.Phase != PhaseWelcome || st.SelectedID != "" || st.Report != nil {
		t.Errorf("unexpected state: %+v", st)
	}
	if len(f.ctrl.History()) != 0 {
		t.Error("history not cleared")
	}
	// clearing again is still a clean transition
	if err := f.ctrl.ClearHistory(context.Background()); err != nil {
		t.Fatalf("second ClearHistory: %v", err)
	}
}

func TestCredentials(t *testing.T) {
	kv := newMemKV()
	c := NewCredentials(kv)

	if c.Present() {
		t.Error("fresh store should have no credential")
	}
	if err := c.Set("  "); !errors.Is(err, ErrEmptyCredential) {
		t.Errorf("blank set: got %v, want ErrEmptyCredential", err)
	}
	if err := c.Set("  key-1  "); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got := c.Get(); got != "key-1" {
		t.Errorf("Get = %q, want trimmed key-1", got)
	}

	// persisted across a fresh wrapper
	if got := NewCredentials(kv).Get(); got != "key-1" {
		t.Errorf("reloaded Get = %q", got)
	}

	if err := c.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if c.Present() {
		t.Error("credential should be gone after Clear")
	}
}

func TestMapError(t *testing.T) {
	tests := []struct {
		err   error
		title string
	}{
		{diagnose.ErrInvalidAPIKey, "Invalid API Key"},
		{diagnose.ErrRateLimited, "Rate Limit Exceeded"},
		{diagnose.ErrNetwork, "Network Error"},
		{diagnose.ErrService, "AI Service Error"},
		{diagnose.ErrUnknown, "An Unknown Error Occurred"},
		{errors.New("mystery"), "An Unknown Error Occurred"},
	}
	for _, tt := range tests {
		if got := mapError(tt.err); got.Title != tt.title {
			t.Errorf("mapError(%v).Title = %q, want %q", tt.err, got.Title, tt.title)
		}
	}
}

package attachment

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/lukeponga-dev/rotorwise/engine/domain"
)

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("disk gone") }

func waitSettled(t *testing.T, m *Manager, id string) Attachment {
	t.Helper()
	select {
	case <-m.Wait(id):
	case <-time.After(5 * time.Second):
		t.Fatalf("attachment %s did not settle", id)
	}
	for _, a := range m.List() {
		if a.ID == id {
			return a
		}
	}
	t.Fatalf("attachment %s not in active set", id)
	return Attachment{}
}

func TestAdd_EncodesToComplete(t *testing.T) {
	m := NewManager(nil)
	added, truncated := m.Add([]File{
		{Name: "engine.jpg", MIMEType: "image/jpeg", Content: strings.NewReader("jpegbytes")},
	})
	if truncated {
		t.Error("expected no truncation")
	}
	if len(added) != 1 {
		t.Fatalf("expected 1 attachment, got %d", len(added))
	}
	if added[0].Status != domain.StatusUploading {
		t.Errorf("expected uploading status at creation, got %s", added[0].Status)
	}
	if added[0].Kind != domain.KindImage {
		t.Errorf("expected image kind, got %s", added[0].Kind)
	}

	a := waitSettled(t, m, added[0].ID)
	if a.Status != domain.StatusComplete {
		t.Fatalf("expected complete, got %s", a.Status)
	}
	want := base64.StdEncoding.EncodeToString([]byte("jpegbytes"))
	if a.Payload != want {
		t.Errorf("unexpected payload: %q", a.Payload)
	}

	data, mime, ok := m.Preview(a.ID)
	if !ok || string(data) != "jpegbytes" || mime != "image/jpeg" {
		t.Errorf("preview not served: ok=%v data=%q mime=%q", ok, data, mime)
	}
}

func TestAdd_TruncatesOverCapacity(t *testing.T) {
	m := NewManager(nil)
	var files []File
	for i := 0; i < 6; i++ {
		files = append(files, File{
			Name:     fmt.Sprintf("clip%d.mp4", i),
			MIMEType: "video/mp4",
			Content:  strings.NewReader("bytes"),
		})
	}
	added, truncated := m.Add(files)
	if !truncated {
		t.Error("expected capacity warning for 6 files")
	}
	if len(added) != MaxAttachments {
		t.Errorf("expected %d accepted, got %d", MaxAttachments, len(added))
	}
	if m.Count() != MaxAttachments {
		t.Errorf("expected count %d, got %d", MaxAttachments, m.Count())
	}

	// The dropped file is not queued: adding again on a full set accepts nothing.
	added, truncated = m.Add([]File{{Name: "late.jpg", MIMEType: "image/jpeg", Content: strings.NewReader("x")}})
	if !truncated || len(added) != 0 {
		t.Errorf("expected full set to reject the batch, got %d accepted", len(added))
	}
}

func TestCountNeverExceedsLimit(t *testing.T) {
	m := NewManager(nil)
	for i := 0; i < 4; i++ {
		added, _ := m.Add([]File{
			{Name: "a.jpg", MIMEType: "image/jpeg", Content: strings.NewReader("x")},
			{Name: "b.jpg", MIMEType: "image/jpeg", Content: strings.NewReader("y")},
		})
		if m.Count() > MaxAttachments {
			t.Fatalf("count %d exceeds limit", m.Count())
		}
		if len(added) > 0 && i%2 == 1 {
			m.Remove(added[0].ID)
		}
	}
	if m.Count() > MaxAttachments {
		t.Fatalf("count %d exceeds limit", m.Count())
	}
}

func TestAdd_EncodeFailureSettlesToError(t *testing.T) {
	m := NewManager(nil)
	added, _ := m.Add([]File{{Name: "bad.jpg", MIMEType: "image/jpeg", Content: failingReader{}}})

	a := waitSettled(t, m, added[0].ID)
	if a.Status != domain.StatusError {
		t.Errorf("expected error status, got %s", a.Status)
	}
	if a.Payload != "" {
		t.Error("errored attachment must not carry a payload")
	}
	if len(m.Completed()) != 0 {
		t.Error("errored attachment must not be completed")
	}
}

func TestAdd_EmptyFileIsError(t *testing.T) {
	m := NewManager(nil)
	added, _ := m.Add([]File{{Name: "empty.png", MIMEType: "image/png", Content: strings.NewReader("")}})
	a := waitSettled(t, m, added[0].ID)
	if a.Status != domain.StatusError {
		t.Errorf("expected error status for empty file, got %s", a.Status)
	}
}

func TestRemove_MidUploadLeavesOthersAlone(t *testing.T) {
	m := NewManager(nil)

	pr, pw := io.Pipe()
	added, _ := m.Add([]File{
		{Name: "stuck.mp4", MIMEType: "video/mp4", Content: pr},
		{Name: "ok.jpg", MIMEType: "image/jpeg", Content: strings.NewReader("fine")},
	})
	stuck, ok := added[0], added[1]

	okAtt := waitSettled(t, m, ok.ID)
	if okAtt.Status != domain.StatusComplete {
		t.Fatalf("independent encode should complete, got %s", okAtt.Status)
	}

	if !m.Remove(stuck.ID) {
		t.Fatal("remove should succeed for an uploading attachment")
	}
	if m.Count() != 1 {
		t.Errorf("expected 1 attachment left, got %d", m.Count())
	}
	if _, _, found := m.Preview(stuck.ID); found {
		t.Error("removed attachment preview must be released")
	}

	// Let the stuck encode finish; it must not rejoin the set or retain bytes.
	pw.Write([]byte("late"))
	pw.Close()
	time.Sleep(50 * time.Millisecond)
	if m.Count() != 1 {
		t.Errorf("late encode must not resurrect a removed attachment, count=%d", m.Count())
	}
	if _, _, found := m.Preview(stuck.ID); found {
		t.Error("released attachment must stay released after late encode")
	}
}

func TestOnEncodeObservesOutcomes(t *testing.T) {
	m := NewManager(nil)
	outcomes := make(chan string, 2)
	m.OnEncode(func(outcome string) { outcomes <- outcome })

	added, _ := m.Add([]File{
		{Name: "ok.jpg", MIMEType: "image/jpeg", Content: strings.NewReader("fine")},
		{Name: "bad.jpg", MIMEType: "image/jpeg", Content: failingReader{}},
	})
	for _, a := range added {
		waitSettled(t, m, a.ID)
	}

	got := map[string]int{}
	for i := 0; i < 2; i++ {
		select {
		case o := <-outcomes:
			got[o]++
		case <-time.After(5 * time.Second):
			t.Fatal("observer was not called for every settled encode")
		}
	}
	if got["complete"] != 1 || got["error"] != 1 {
		t.Errorf("unexpected outcomes: %v", got)
	}
}

func TestRemove_Unknown(t *testing.T) {
	m := NewManager(nil)
	if m.Remove("nope") {
		t.Error("expected false for unknown id")
	}
}

func TestClear_ReleasesEverything(t *testing.T) {
	m := NewManager(nil)
	added, _ := m.Add([]File{
		{Name: "a.jpg", MIMEType: "image/jpeg", Content: strings.NewReader("one")},
		{Name: "b.jpg", MIMEType: "image/jpeg", Content: strings.NewReader("two")},
	})
	for _, a := range added {
		waitSettled(t, m, a.ID)
	}

	m.Clear()
	if m.Count() != 0 {
		t.Errorf("expected empty set, got %d", m.Count())
	}
	for _, a := range added {
		if _, _, ok := m.Preview(a.ID); ok {
			t.Errorf("preview for %s still live after clear", a.ID)
		}
	}
	// Clearing an empty manager is a no-op.
	m.Clear()
}

func TestFileRefs(t *testing.T) {
	m := NewManager(nil)
	added, _ := m.Add([]File{{Name: "squeal.mp4", MIMEType: "video/mp4", Content: strings.NewReader("x")}})
	waitSettled(t, m, added[0].ID)

	refs := m.FileRefs()
	if len(refs) != 1 || refs[0].Name != "squeal.mp4" || refs[0].MIMEType != "video/mp4" {
		t.Errorf("unexpected refs: %+v", refs)
	}
}

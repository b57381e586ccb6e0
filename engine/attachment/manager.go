// Package attachment tracks user-selected media through the upload/encode
// lifecycle. Each attachment is created in uploading status, encoded to
// base64 in its own goroutine, and settles into complete or error exactly
// once. Preview bytes are held in memory and released exactly once per
// attachment, on removal, clear, or manager teardown.
package attachment

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/lukeponga-dev/rotorwise/engine/domain"
	"github.com/lukeponga-dev/rotorwise/pkg/fn"
)

const (
	// MaxAttachments is the live-attachment ceiling per pending submission.
	MaxAttachments = 5

	// MaxFileBytes caps the raw size of a single attachment.
	MaxFileBytes = 20 << 20 // 20MB
)

var (
	errEmptyFile    = errors.New("file is empty")
	errFileTooLarge = fmt.Errorf("file exceeds %d bytes", MaxFileBytes)
)

// Attachment is a snapshot of one tracked media item. Payload is the base64
// encoding of the file content and is populated only when Status is complete.
type Attachment struct {
	ID          string                  `json:"id"`
	Name        string                  `json:"name"`
	Kind        domain.AttachmentKind   `json:"kind"`
	MIMEType    string                  `json:"mimeType"`
	PreviewPath string                  `json:"previewPath"`
	Status      domain.AttachmentStatus `json:"status"`
	Payload     string                  `json:"-"`
}

// File is one user-selected file handed to Add. Content is consumed by the
// encode goroutine; the caller must keep it readable until the attachment
// settles.
type File struct {
	Name     string
	MIMEType string
	Content  io.Reader
}

// slot is the internal record for one attachment.
type slot struct {
	att      Attachment
	preview  []byte
	released bool
	done     chan struct{}
}

// EncodeObserver receives the outcome of each settled encode, either
// "complete" or "error".
type EncodeObserver func(outcome string)

// Manager owns the active attachment set.
type Manager struct {
	mu       sync.Mutex
	slots    []*slot
	logger   *slog.Logger
	onEncode EncodeObserver
}

// NewManager creates an empty Manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{logger: logger}
}

// OnEncode registers an observer called after every encode settles, outside
// the manager's lock.
func (m *Manager) OnEncode(obs EncodeObserver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEncode = obs
}

// Add accepts a batch of selected files. If the batch exceeds the available
// slots it is truncated to fit and truncated reports true; excess files are
// dropped, not queued. Accepted files are returned in uploading status and
// encode asynchronously. Encode failures never surface to the caller; they
// resolve into the attachment's own error status.
func (m *Manager) Add(files []File) (added []Attachment, truncated bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	available := MaxAttachments - len(m.slots)
	if available < 0 {
		available = 0
	}
	if len(files) > available {
		truncated = true
		files = files[:available]
	}

	for _, f := range files {
		id := uuid.NewString()
		s := &slot{
			att: Attachment{
				ID:          id,
				Name:        f.Name,
				Kind:        domain.KindForMIME(f.MIMEType),
				MIMEType:    f.MIMEType,
				PreviewPath: "/api/attachments/" + id + "/preview",
				Status:      domain.StatusUploading,
			},
			done: make(chan struct{}),
		}
		m.slots = append(m.slots, s)
		added = append(added, s.att)
		go m.encode(s, f.Content)
	}
	return added, truncated
}

// encode reads and base64-encodes one file, settling the slot's status.
func (m *Manager) encode(s *slot, content io.Reader) {
	data, err := io.ReadAll(io.LimitReader(content, MaxFileBytes+1))
	if err == nil {
		switch {
		case len(data) == 0:
			err = errEmptyFile
		case len(data) > MaxFileBytes:
			err = errFileTooLarge
		}
	}

	status, obs := m.settle(s, data, err)
	if obs != nil {
		obs(string(status))
	}
}

// settle resolves one slot under the manager's lock and returns the final
// status plus the registered observer.
func (m *Manager) settle(s *slot, data []byte, err error) (domain.AttachmentStatus, EncodeObserver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer close(s.done)

	switch {
	case err != nil:
		s.att.Status = domain.StatusError
		m.logger.Warn("attachment encode failed",
			"id", s.att.ID, "name", s.att.Name, "err", err)
	case s.released:
		// Removed while encoding; do not retain bytes.
		s.att.Status = domain.StatusError
	default:
		s.preview = data
		s.att.Payload = base64.StdEncoding.EncodeToString(data)
		s.att.Status = domain.StatusComplete
	}
	return s.att.Status, m.onEncode
}

// Remove releases the attachment's preview bytes and drops it from the
// active set, regardless of status. Returns false if the id is unknown.
func (m *Manager) Remove(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, s := range m.slots {
		if s.att.ID == id {
			releaseLocked(s)
			m.slots = append(m.slots[:i], m.slots[i+1:]...)
			return true
		}
	}
	return false
}

// Clear releases every preview and empties the set.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.slots {
		releaseLocked(s)
	}
	m.slots = nil
}

// releaseLocked frees a slot's preview bytes exactly once. Must hold mu.
func releaseLocked(s *slot) {
	if s.released {
		return
	}
	s.released = true
	s.preview = nil
}

// List returns a snapshot of the active attachments in insertion order.
func (m *Manager) List() []Attachment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn.Map(m.slots, func(s *slot) Attachment { return s.att })
}

// Completed returns the attachments eligible for a diagnosis request:
// status complete with a populated payload.
func (m *Manager) Completed() []Attachment {
	return fn.Filter(m.List(), func(a Attachment) bool {
		return a.Status == domain.StatusComplete && a.Payload != ""
	})
}

// FileRefs returns name/MIME descriptors for every active attachment.
func (m *Manager) FileRefs() []domain.FileRef {
	return fn.Map(m.List(), func(a Attachment) domain.FileRef {
		return domain.FileRef{Name: a.Name, MIMEType: a.MIMEType}
	})
}

// Uploading reports whether any attachment is still mid-encode.
func (m *Manager) Uploading() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.slots {
		if s.att.Status == domain.StatusUploading {
			return true
		}
	}
	return false
}

// Count returns the number of live attachments.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.slots)
}

// Preview returns the preview bytes and MIME type for a live, settled
// attachment. ok is false while the attachment is still encoding, after
// release, or for unknown ids.
func (m *Manager) Preview(id string) (data []byte, mimeType string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.slots {
		if s.att.ID == id && s.preview != nil {
			return s.preview, s.att.MIMEType, true
		}
	}
	return nil, "", false
}

// Wait returns a channel closed when the attachment's encode settles.
// Unknown ids return an already-closed channel.
func (m *Manager) Wait(id string) <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.slots {
		if s.att.ID == id {
			return s.done
		}
	}
	closed := make(chan struct{})
	close(closed)
	return closed
}

package status

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/podushkina/docextract/internal/metadata"
	"github.com/podushkina/docextract/internal/queue"
	"github.com/podushkina/docextract/internal/task"
)

var (
	// ErrNotFound means the id resolves in neither the queue's
	// tracking layer nor the metadata store.
	ErrNotFound = errors.New("task not found")
	// ErrNotReady means the task exists but has not reached a
	// terminal state yet.
	ErrNotReady = errors.New("result not ready")
)

const statusUnknown = "unknown"

// Entry is one row of the task listing.
type Entry struct {
	TaskID        string    `json:"task_id"`
	Status        string    `json:"status"`
	Filename      string    `json:"filename"`
	FileSize      int64     `json:"file_size"`
	FileSizeHuman string    `json:"file_size_human,omitempty"`
	MIMEType      string    `json:"mime_type"`
	Pages         int       `json:"pages,omitempty"`
	SubmittedAt   time.Time `json:"submitted_at"`
}

// Service answers status and result queries by reconciling live task
// state with the metadata store's denormalized view.
type Service struct {
	queue  *queue.Queue
	store  *metadata.Store
	logger zerolog.Logger
}

func New(q *queue.Queue, store *metadata.Store, logger zerolog.Logger) *Service {
	return &Service{
		queue:  q,
		store:  store,
		logger: logger.With().Str("component", "status").Logger(),
	}
}

// ListTasks returns every tracked task, most recent first. Live task
// state is authoritative; the stored status is a cache refreshed here
// when a change is observed. Ids whose metadata has aged out still
// appear, with a synthesized minimal entry.
func (s *Service) ListTasks(ctx context.Context) ([]Entry, error) {
	ids, err := s.store.ListRecent(ctx)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(ids))
	for _, id := range ids {
		md, err := s.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}

		t, err := s.queue.Get(ctx, id)
		if err != nil {
			return nil, err
		}

		entry := Entry{TaskID: id, Status: statusUnknown}
		if md != nil {
			entry.Status = string(md.Status)
			entry.Filename = md.Filename
			entry.FileSize = md.FileSize
			entry.FileSizeHuman = formatFileSize(md.FileSize)
			entry.MIMEType = md.MIMEType
			entry.Pages = md.Pages
			entry.SubmittedAt = md.SubmittedAt
		}

		if t != nil {
			entry.Status = string(t.State)
			if md != nil && md.Status != t.State {
				if err := s.store.RefreshStatus(ctx, id, t.State); err != nil {
					s.logger.Warn().Err(err).Str("task_id", id).Msg("status refresh failed")
				}
			}
		}

		entries = append(entries, entry)
	}

	return entries, nil
}

// GetState reports the current lifecycle state of one task.
func (s *Service) GetState(ctx context.Context, id string) (task.State, error) {
	t, err := s.queue.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if t != nil {
		return t.State, nil
	}

	md, err := s.store.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if md != nil {
		return md.Status, nil
	}

	return "", ErrNotFound
}

// GetResult returns the terminal result for a task. ErrNotReady and
// ErrNotFound are distinct outcomes and never conflated: NotReady
// while the task is PENDING, STARTED or REVOKED, NotFound when the id
// resolves nowhere (or its result record aged out).
func (s *Service) GetResult(ctx context.Context, id string) (*task.Result, error) {
	t, err := s.queue.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if t == nil {
		md, err := s.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if md != nil && !md.Status.Terminal() {
			return nil, ErrNotReady
		}
		return nil, ErrNotFound
	}

	if !t.State.Terminal() {
		return nil, ErrNotReady
	}

	return t.Result, nil
}

// formatFileSize renders a byte count for the listing surface.
func formatFileSize(size int64) string {
	if size == 0 {
		return "0 B"
	}

	units := []string{"B", "KB", "MB", "GB"}
	f := float64(size)
	i := 0
	for f >= 1024 && i < len(units)-1 {
		f /= 1024
		i++
	}

	return fmt.Sprintf("%.1f %s", f, units[i])
}

package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/podushkina/docextract/internal/metadata"
	"github.com/podushkina/docextract/internal/queue"
	"github.com/podushkina/docextract/internal/task"
)

// Submission describes one already-validated, already-persisted
// document handed over for extraction.
type Submission struct {
	Path     string
	MIMEType string
	Filename string
	FileSize int64
	Pages    int
}

// Dispatcher turns submissions into queued tasks. Submit returns as
// soon as the task is enqueued and its metadata written; it never
// waits on extraction.
type Dispatcher struct {
	queue  *queue.Queue
	store  *metadata.Store
	logger zerolog.Logger
}

func New(q *queue.Queue, store *metadata.Store, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		queue:  q,
		store:  store,
		logger: logger.With().Str("component", "dispatcher").Logger(),
	}
}

// Submit enqueues the document and records its metadata under the
// same id. The two writes are atomic from the caller's perspective:
// if the metadata write fails, the queued task is rolled back and no
// task exists at all.
func (d *Dispatcher) Submit(ctx context.Context, sub Submission) (string, error) {
	kind, ok := task.KindFromMIME(sub.MIMEType)
	if !ok {
		return "", fmt.Errorf("unsupported mime type: %s", sub.MIMEType)
	}

	t, err := d.queue.Enqueue(ctx, task.InputRef{Path: sub.Path, Kind: kind})
	if err != nil {
		return "", fmt.Errorf("enqueue: %w", err)
	}

	md := metadata.Metadata{
		Filename:    sub.Filename,
		FileSize:    sub.FileSize,
		MIMEType:    sub.MIMEType,
		Pages:       sub.Pages,
		SubmittedAt: time.Now(),
		Status:      task.StatePending,
	}

	if err := d.store.Put(ctx, t.ID, md); err != nil {
		if rbErr := d.queue.Remove(ctx, t.ID); rbErr != nil {
			d.logger.Error().Err(rbErr).Str("task_id", t.ID).Msg("rollback failed")
		}
		return "", fmt.Errorf("write metadata: %w", err)
	}

	d.logger.Info().
		Str("task_id", t.ID).
		Str("kind", string(kind)).
		Str("filename", sub.Filename).
		Int64("file_size", sub.FileSize).
		Msg("task submitted")

	return t.ID, nil
}

package worker

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/podushkina/docextract/internal/extract"
	"github.com/podushkina/docextract/internal/queue"
	"github.com/podushkina/docextract/internal/task"
)

const (
	claimTimeout = 2 * time.Second
	reapInterval = 30 * time.Second
)

// Pool runs a fixed number of workers over the shared queue. Each
// claimed task is driven to a terminal state before it is
// acknowledged, so a crash mid-task causes redelivery instead of a
// silently lost task.
type Pool struct {
	queue      *queue.Queue
	provider   extract.Provider
	count      int
	visibility time.Duration
	wg         sync.WaitGroup
	logger     zerolog.Logger
}

func NewPool(q *queue.Queue, provider extract.Provider, count int, logger zerolog.Logger) *Pool {
	return &Pool{
		queue:    q,
		provider: provider,
		count:    count,
		// Visibility must exceed the longest provider call, including
		// its retries, or the reaper requeues tasks that are still
		// being worked on.
		visibility: extract.MaxCallDuration() + time.Minute,
		logger:     logger.With().Str("component", "worker").Logger(),
	}
}

func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.count; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	p.wg.Add(1)
	go p.reaper(ctx)
	p.logger.Info().Int("count", p.count).Msg("workers started")
}

func (p *Pool) Stop() {
	p.wg.Wait()
	p.logger.Info().Msg("all workers stopped")
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			t, err := p.queue.Claim(ctx, claimTimeout)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				p.logger.Error().Err(err).Int("worker", id).Msg("claim error")
				continue
			}

			if t == nil {
				continue
			}

			p.process(ctx, id, t)
		}
	}
}

// reaper redelivers claims abandoned by crashed workers.
func (p *Pool) reaper(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.queue.RequeueStale(ctx, p.visibility)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				p.logger.Error().Err(err).Msg("stale claim recovery failed")
				continue
			}
			if n > 0 {
				p.logger.Warn().Int("requeued", n).Msg("redelivered stale claims")
			}
		}
	}
}

func (p *Pool) process(ctx context.Context, workerID int, t *task.Task) {
	log := p.logger.With().Int("worker", workerID).Str("task_id", t.ID).Logger()

	if t.State.Terminal() || t.State == task.StateRevoked {
		// Redelivered after completion, or cancelled before we got to
		// it. Nothing left to compute.
		p.cleanup(log, t)
		p.ack(ctx, log, t.ID)
		return
	}

	if _, err := p.queue.MarkStarted(ctx, t.ID); err != nil {
		log.Error().Err(err).Msg("mark started failed")
		return
	}

	log.Info().Str("kind", string(t.Input.Kind)).Msg("processing task")

	res := p.execute(ctx, t)

	if err := p.queue.WriteResult(ctx, t.ID, res); err != nil {
		// Leave the claim unacknowledged: the reaper redelivers it
		// once the store is reachable again.
		log.Error().Err(err).Msg("terminal write failed")
		return
	}

	if res.Failed {
		log.Warn().Str("error", res.Message).Msg("task failed")
	} else {
		log.Info().
			Int("input_tokens", res.InputTokens).
			Int("output_tokens", res.OutputTokens).
			Msg("task completed")
	}

	p.cleanup(log, t)
	p.ack(ctx, log, t.ID)
}

// execute runs the extraction for one claimed task. Every failure
// mode, panics included, is converted into a Failure result so the
// task can never get stuck in STARTED.
func (p *Pool) execute(ctx context.Context, t *task.Task) (res *task.Result) {
	defer func() {
		if r := recover(); r != nil {
			res = task.Failure(fmt.Sprintf("panic during extraction: %v", r))
		}
	}()

	data, err := os.ReadFile(t.Input.Path)
	if err != nil {
		return task.Failure(fmt.Sprintf("read input: %v", err))
	}

	mimeType := "application/pdf"
	if t.Input.Kind == task.KindImage {
		mimeType = http.DetectContentType(data)
	}

	resp, err := p.provider.Extract(ctx, extract.Request{
		Kind:     t.Input.Kind,
		MIMEType: mimeType,
		Data:     data,
	})
	if err != nil {
		return task.Failure(fmt.Sprintf("extraction failed: %v", err))
	}

	docs := []extract.Document{extract.Parse(resp.Text)}
	markdown := extract.Assemble(docs)

	return task.Success(markdown, resp.InputTokens, resp.OutputTokens)
}

// cleanup removes the staged input file. Best effort: a leftover file
// is logged, never escalated.
func (p *Pool) cleanup(log zerolog.Logger, t *task.Task) {
	if t.Input.Path == "" {
		return
	}
	if err := os.Remove(t.Input.Path); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Str("path", t.Input.Path).Msg("staged file cleanup failed")
	}
}

func (p *Pool) ack(ctx context.Context, log zerolog.Logger, id string) {
	if err := p.queue.Ack(ctx, id); err != nil {
		log.Error().Err(err).Msg("ack failed")
	}
}

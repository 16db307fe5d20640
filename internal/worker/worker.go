package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/polly-app/backend/internal/models"
	"github.com/polly-app/backend/internal/polls"
	"github.com/polly-app/backend/pkg/queue"
	"github.com/polly-app/backend/pkg/storage"
)

// Results is the part of the polls service the processor needs.
type Results interface {
	GetPoll(ctx context.Context, id uuid.UUID) (*models.Poll, error)
	Tally(ctx context.Context, pollID uuid.UUID) (*models.Tally, error)
	RecordSnapshot(ctx context.Context, pollID uuid.UUID, key string) error
}

// Uploader stores results documents.
type Uploader interface {
	UploadResults(ctx context.Context, key string, body []byte) error
}

// Jobs is the job source.
type Jobs interface {
	Dequeue(ctx context.Context, timeout time.Duration) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// ResultsDocument is the archived form of a closed poll's results.
type ResultsDocument struct {
	PollID     uuid.UUID         `json:"poll_id"`
	Title      string            `json:"title"`
	Status     models.PollStatus `json:"status"`
	CreatedBy  uuid.UUID         `json:"created_by"`
	ExpiresAt  *time.Time        `json:"expires_at,omitempty"`
	ClosedAt   time.Time         `json:"closed_at"`
	Tally      models.Tally      `json:"tally"`
	ArchivedAt time.Time         `json:"archived_at"`
}

// SnapshotProcessor archives final results of closed polls: dequeue, tally,
// upload to S3, record the key on the poll.
type SnapshotProcessor struct {
	results Results
	store   Uploader
	jobs    Jobs
	backoff time.Duration
	logger  *zap.Logger
}

// NewSnapshotProcessor creates a results snapshot processor.
func NewSnapshotProcessor(results Results, store Uploader, jobs Jobs, logger *zap.Logger) *SnapshotProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SnapshotProcessor{results: results, store: store, jobs: jobs, backoff: queue.RetryBackoff, logger: logger}
}

// Process executes one results snapshot job. Jobs for deleted polls and
// polls already archived succeed without work.
func (p *SnapshotProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeResultsSnapshot {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.ResultsSnapshotPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	poll, err := p.results.GetPoll(ctx, payload.PollID)
	if errors.Is(err, polls.ErrPollNotFound) {
		p.logger.Info("snapshot skipped, poll deleted", zap.String("poll_id", payload.PollID.String()))
		return nil
	}
	if err != nil {
		return fmt.Errorf("get poll: %w", err)
	}
	if poll.SnapshotKey != nil {
		p.logger.Info("snapshot already archived", zap.String("poll_id", poll.ID.String()))
		return nil
	}

	tally, err := p.results.Tally(ctx, poll.ID)
	if err != nil {
		return fmt.Errorf("tally: %w", err)
	}
	if !tally.Final {
		return fmt.Errorf("poll %s is not closed", poll.ID)
	}

	doc := ResultsDocument{
		PollID:     poll.ID,
		Title:      poll.Title,
		Status:     models.PollStatusClosed,
		CreatedBy:  poll.CreatedBy,
		ExpiresAt:  poll.ExpiresAt,
		ClosedAt:   poll.UpdatedAt,
		Tally:      *tally,
		ArchivedAt: time.Now().UTC(),
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}
	key := storage.ResultsKey(poll.ID.String())
	if err := p.store.UploadResults(ctx, key, body); err != nil {
		return fmt.Errorf("s3 upload: %w", err)
	}
	if err := p.results.RecordSnapshot(ctx, poll.ID, key); err != nil {
		p.logger.Error("record snapshot key failed", zap.Error(err), zap.String("poll_id", poll.ID.String()))
		return fmt.Errorf("update db: %w", err)
	}

	p.logger.Info("results snapshot archived",
		zap.String("poll_id", poll.ID.String()),
		zap.String("s3_key", key),
		zap.Int("total_votes", tally.TotalVotes),
	)
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *SnapshotProcessor) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			p.logger.Info("snapshot worker stopping")
			return
		}

		job, err := p.jobs.Dequeue(ctx, queue.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			if reErr := p.jobs.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			p.sleep(ctx)
		}
	}
}

func (p *SnapshotProcessor) sleep(ctx context.Context) {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/edutrack/edutrack-backend/internal/config"
	"github.com/edutrack/edutrack-backend/internal/service"
)

const (
	ReconcileBatchSize    = 50
	ReconcileBatchTimeout = 2 * time.Second
	ReconcilePollTimeout  = 1 * time.Second
	// ReconcileMaxAttempts bounds how often a student is requeued before
	// the entry is dropped and left to a manual reconcile run.
	ReconcileMaxAttempts = 5
)

// Reconciler is the part of the academic service the worker drives.
type Reconciler interface {
	ReconcileStudent(ctx context.Context, studentID int) (*service.ReconcileResult, error)
}

type reconcilePayload struct {
	StudentID  int       `json:"student_id"`
	Reason     string    `json:"reason"`
	Attempts   int       `json:"attempts"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// ----------------------------------------------------------------
// Queue
// ----------------------------------------------------------------

// ReconcileQueue records deferred reconciliations in a Redis list.
type ReconcileQueue struct {
	rdb *redis.Client
}

func NewReconcileQueue(rdb *redis.Client) *ReconcileQueue {
	return &ReconcileQueue{rdb: rdb}
}

// Enqueue appends a student to the pending reconcile list.
func (q *ReconcileQueue) Enqueue(ctx context.Context, studentID int, reason string) error {
	return q.push(ctx, &reconcilePayload{
		StudentID:  studentID,
		Reason:     reason,
		EnqueuedAt: time.Now().UTC(),
	})
}

// Len returns the number of pending entries.
func (q *ReconcileQueue) Len(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, config.WorkerKey.PendingReconcileQueue).Result()
}

func (q *ReconcileQueue) push(ctx context.Context, p *reconcilePayload) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return q.rdb.RPush(ctx, config.WorkerKey.PendingReconcileQueue, raw).Err()
}

// ----------------------------------------------------------------
// Worker loop with batching
// ----------------------------------------------------------------

// ReconcileWorker drains the pending reconcile list. Entries for the same
// student inside one batch collapse into a single reconciliation.
type ReconcileWorker struct {
	queue      *ReconcileQueue
	reconciler Reconciler
	log        zerolog.Logger
}

func NewReconcileWorker(queue *ReconcileQueue, reconciler Reconciler, log zerolog.Logger) *ReconcileWorker {
	return &ReconcileWorker{
		queue:      queue,
		reconciler: reconciler,
		log:        log.With().Str("component", "reconcile_worker").Logger(),
	}
}

func (w *ReconcileWorker) Start(ctx context.Context) {
	w.log.Info().Msg("ReconcileWorker started")

	batch := make([]*reconcilePayload, 0, ReconcileBatchSize)
	lastFlush := time.Now()

	for {
		if len(batch) > 0 &&
			(len(batch) >= ReconcileBatchSize || time.Since(lastFlush) >= ReconcileBatchTimeout) {

			w.flush(ctx, batch)
			batch = batch[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			// Whatever was popped goes back so the next process picks it up.
			w.requeue(context.Background(), batch, false)
			w.log.Info().Msg("ReconcileWorker stopped")
			return

		default:
			item, err := w.queue.rdb.BLPop(ctx, ReconcilePollTimeout, config.WorkerKey.PendingReconcileQueue).Result()
			if err != nil {
				if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
					w.log.Error().Err(err).Msg("BLPop error")
				}
				continue
			}

			if len(item) < 2 {
				continue
			}

			var p reconcilePayload
			if err := json.Unmarshal([]byte(item[1]), &p); err != nil {
				w.log.Error().Err(err).Msg("Invalid JSON payload")
				continue
			}

			batch = append(batch, &p)
		}
	}
}

// ----------------------------------------------------------------
// Batch processing
// ----------------------------------------------------------------

func (w *ReconcileWorker) flush(ctx context.Context, batch []*reconcilePayload) {
	var failed []*reconcilePayload
	for _, p := range dedupe(batch) {
		if ctx.Err() != nil {
			failed = append(failed, p)
			continue
		}

		res, err := w.reconciler.ReconcileStudent(ctx, p.StudentID)
		if err != nil {
			if errors.Is(err, service.ErrNotFound) {
				w.log.Warn().Int("student_id", p.StudentID).Msg("student gone, dropping deferred reconcile")
				continue
			}
			w.log.Warn().Err(err).Int("student_id", p.StudentID).Int("attempts", p.Attempts+1).Msg("deferred reconcile failed")
			p.Attempts++
			failed = append(failed, p)
			continue
		}

		w.log.Info().
			Int("student_id", p.StudentID).
			Bool("corrected", res.Corrected).
			Str("reason", p.Reason).
			Msg("deferred reconcile applied")
	}

	w.requeue(context.WithoutCancel(ctx), failed, true)
}

func (w *ReconcileWorker) requeue(ctx context.Context, items []*reconcilePayload, enforceLimit bool) {
	for _, p := range items {
		if enforceLimit && p.Attempts >= ReconcileMaxAttempts {
			w.log.Error().Int("student_id", p.StudentID).Int("attempts", p.Attempts).Msg("giving up on deferred reconcile, run reconcile manually")
			continue
		}
		if err := w.queue.push(ctx, p); err != nil {
			w.log.Error().Err(err).Int("student_id", p.StudentID).Msg("requeue failed")
		}
	}
}

// dedupe keeps the first entry per student, carrying the highest attempt count.
func dedupe(batch []*reconcilePayload) []*reconcilePayload {
	index := make(map[int]*reconcilePayload, len(batch))
	out := make([]*reconcilePayload, 0, len(batch))
	for _, p := range batch {
		if seen, ok := index[p.StudentID]; ok {
			if p.Attempts > seen.Attempts {
				seen.Attempts = p.Attempts
			}
			continue
		}
		index[p.StudentID] = p
		out = append(out, p)
	}
	return out
}

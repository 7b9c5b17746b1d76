// Package reindex re-embeds the example corpus after an embedding model
// change, driven by the persistent job queue.
package reindex

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/teleprompt/autocue/internal/corpus"
	"github.com/teleprompt/autocue/internal/storage"
)

// JobTypeReembed is the queue type for one-record re-embedding jobs.
const JobTypeReembed = "reembed_example"

// defaultPollInterval is how often the worker checks for claimable jobs.
const defaultPollInterval = 2 * time.Second

// reembedBatchSize caps how many claimed jobs are embedded in one call.
const reembedBatchSize = 16

// Embedder turns a batch of texts into vectors. *retrieval.Embedder
// satisfies it.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// reembedPayload is the JSON payload of a reembed job.
type reembedPayload struct {
	ScriptID string `json:"script_id"`
}

// Enqueue schedules a re-embedding job for every record in the corpus and
// returns the number of jobs queued.
func Enqueue(store *storage.Store, corpusStore *corpus.Store) (int, error) {
	records, err := corpusStore.ListAll()
	if err != nil {
		return 0, fmt.Errorf("listing corpus: %w", err)
	}

	for _, rec := range records {
		payload, err := json.Marshal(reembedPayload{ScriptID: rec.ID})
		if err != nil {
			return 0, err
		}
		job := storage.Job{
			ID:          uuid.NewString(),
			Type:        JobTypeReembed,
			PayloadJSON: string(payload),
		}
		if err := store.EnqueueJob(job); err != nil {
			return 0, fmt.Errorf("enqueueing job for %s: %w", rec.ID, err)
		}
	}

	slog.Info("reindex enqueued", "jobs", len(records))
	return len(records), nil
}

// Worker claims reembed jobs in batches and replaces stored vectors.
type Worker struct {
	store        *storage.Store
	corpusStore  *corpus.Store
	embedder     Embedder
	pollInterval time.Duration
}

// NewWorker builds a Worker. pollInterval of zero uses the default.
func NewWorker(store *storage.Store, corpusStore *corpus.Store, embedder Embedder, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	return &Worker{
		store:        store,
		corpusStore:  corpusStore,
		embedder:     embedder,
		pollInterval: pollInterval,
	}
}

// Run polls for jobs until ctx is cancelled. Claimed jobs that fail are
// requeued with backoff by the job store until their attempts run out.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		// Drain all claimable jobs before sleeping.
		for {
			jobs := w.claimBatch()
			if len(jobs) == 0 {
				break
			}
			w.processBatch(ctx, jobs)

			if ctx.Err() != nil {
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce processes claimable jobs until the queue is drained, for use from
// the CLI's synchronous reindex path. Returns the number of jobs handled.
func (w *Worker) RunOnce(ctx context.Context) int {
	handled := 0
	for {
		jobs := w.claimBatch()
		if len(jobs) == 0 {
			return handled
		}
		w.processBatch(ctx, jobs)
		handled += len(jobs)
	}
}

// claimBatch pulls up to reembedBatchSize claimable jobs off the queue.
func (w *Worker) claimBatch() []*storage.Job {
	var jobs []*storage.Job
	for len(jobs) < reembedBatchSize {
		job, err := w.store.ClaimNextJob([]string{JobTypeReembed})
		if err != nil {
			slog.Error("claiming reindex job", "error", err)
			break
		}
		if job == nil {
			break
		}
		jobs = append(jobs, job)
	}
	return jobs
}

// processBatch resolves each job's record, embeds all their texts in one
// batched call, and stores the vectors. A job whose payload or record is
// broken fails individually without dragging down the rest of the batch; an
// embedding failure fails every job still in the batch, and the queue's
// backoff retries them.
func (w *Worker) processBatch(ctx context.Context, jobs []*storage.Job) {
	type item struct {
		job *storage.Job
		rec corpus.ExampleRecord
	}
	items := make([]item, 0, len(jobs))

	for _, job := range jobs {
		var payload reembedPayload
		if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
			// Malformed payloads will never succeed; burn their attempts.
			w.fail(job.ID, fmt.Errorf("parsing payload: %w", err))
			continue
		}
		rec, err := w.corpusStore.GetByID(payload.ScriptID)
		if err != nil {
			w.fail(job.ID, fmt.Errorf("loading record %s: %w", payload.ScriptID, err))
			continue
		}
		items = append(items, item{job: job, rec: rec})
	}
	if len(items) == 0 {
		return
	}

	texts := make([]string, len(items))
	for i, it := range items {
		texts[i] = it.rec.BeforeText
	}
	vecs, err := w.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		for _, it := range items {
			w.fail(it.job.ID, fmt.Errorf("embedding record %s: %w", it.rec.ID, err))
		}
		return
	}
	if len(vecs) != len(items) {
		for _, it := range items {
			w.fail(it.job.ID, fmt.Errorf("embedder returned %d vectors for %d records", len(vecs), len(items)))
		}
		return
	}

	for i, it := range items {
		if err := w.corpusStore.ReplaceVector(it.rec.ID, vecs[i]); err != nil {
			w.fail(it.job.ID, fmt.Errorf("storing vector for %s: %w", it.rec.ID, err))
			continue
		}
		if err := w.store.CompleteJob(it.job.ID); err != nil {
			slog.Error("completing reindex job", "job", it.job.ID, "error", err)
			continue
		}
		slog.Debug("record re-embedded", "id", it.rec.ID)
	}
}

func (w *Worker) fail(jobID string, cause error) {
	slog.Warn("reindex job failed", "job", jobID, "error", cause)
	if err := w.store.FailJob(jobID, cause.Error()); err != nil {
		slog.Error("recording job failure", "job", jobID, "error", err)
	}
}

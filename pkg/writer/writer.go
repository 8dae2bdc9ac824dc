// Package writer applies batches of documents to the target as single bulk
// operations, with adaptive retry and exponential backoff on transport
// failure. Actions are keyed by document identifier, so replaying a batch
// under at-least-once delivery leaves the target in the same state.
package writer

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/syncwell/esmirror/pkg/cluster"
	"github.com/syncwell/esmirror/pkg/logger"
	"github.com/syncwell/esmirror/pkg/models"
	"github.com/syncwell/esmirror/pkg/syncerrors"
)

// Policy controls retry, backoff and write mode for one writer
type Policy struct {
	// MaxRetries is the total transport attempt budget per batch
	MaxRetries int
	// BaseDelay is the backoff floor; it doubles as the pacing delay the
	// orchestrator inserts between successful batches
	BaseDelay time.Duration
	// MaxDelay is the backoff ceiling
	MaxDelay time.Duration
	// DetectChanges gates each document on an equality check against the
	// target instead of upserting unconditionally
	DetectChanges bool
}

// RetryState is the per-batch mutable retry state. It is created when a
// batch write is first attempted and discarded once the batch succeeds or
// exhausts its budget.
type RetryState struct {
	Attempt int
	Delay   time.Duration
}

// Next records one more failed attempt and returns the delay to wait
// before the following attempt: min(BaseDelay * 2^attempt, MaxDelay).
func (s *RetryState) Next(p Policy) time.Duration {
	s.Attempt++
	d := p.BaseDelay
	for i := 0; i < s.Attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			d = p.MaxDelay
			break
		}
	}
	s.Delay = d
	return d
}

// ChangeDetector reports whether a document differs from what the target
// already stores. Implemented by detect.Detector.
type ChangeDetector interface {
	HasChanged(ctx context.Context, collection string, doc *models.SyncDocument) bool
}

// Writer applies document batches to the target cluster
type Writer struct {
	target   cluster.TargetCluster
	detector ChangeDetector
	policy   Policy
	sleep    func(time.Duration)
	log      *zap.Logger
}

// New creates a batch writer. The detector may be nil when
// policy.DetectChanges is false.
func New(target cluster.TargetCluster, detector ChangeDetector, policy Policy) *Writer {
	return &Writer{
		target:   target,
		detector: detector,
		policy:   policy,
		sleep:    time.Sleep,
		log:      logger.With(zap.String("component", "writer")),
	}
}

// Policy returns the writer's policy
func (w *Writer) Policy() Policy {
	return w.policy
}

// SetSleep overrides the backoff delay function. Tests inject a recording
// function here instead of waiting on real time.
func (w *Writer) SetSleep(fn func(time.Duration)) {
	w.sleep = fn
}

// Write applies one batch to the target collection. The returned
// BatchResult always accounts for every document handed in; the error is
// non-nil only when the whole bulk call failed after exhausting its retry
// budget, and even then the result carries the per-document failures so
// the caller can keep accumulating metrics and move on.
func (w *Writer) Write(ctx context.Context, collection string, docs []*models.SyncDocument) (*models.BatchResult, error) {
	result := &models.BatchResult{Attempted: len(docs)}
	if len(docs) == 0 {
		return result, nil
	}

	actions := w.buildActions(ctx, collection, docs, result)
	if len(actions) == 0 {
		// Everything was up to date already.
		return result, nil
	}

	resp, err := w.writeWithRetry(ctx, collection, actions)
	if err != nil {
		result.Failed += len(actions)
		for _, a := range actions {
			result.Errors = append(result.Errors, models.DocumentError{ID: a.ID, Err: err})
		}
		return result, err
	}

	for _, item := range resp.Items {
		switch {
		case item.Failed():
			result.Failed++
			result.Errors = append(result.Errors, models.DocumentError{
				ID:  item.ID,
				Err: syncerrors.New(syncerrors.ErrorTypeBulkItem, item.Error).WithDetail("status", item.Status),
			})
		case item.Created():
			result.Created++
		default:
			result.Updated++
		}
	}
	return result, nil
}

// buildActions converts documents into bulk actions, consulting the change
// detector in differential mode. Unchanged documents are counted as
// skipped and excluded from the request.
func (w *Writer) buildActions(ctx context.Context, collection string, docs []*models.SyncDocument, result *models.BatchResult) []cluster.BulkAction {
	actionType := cluster.ActionUpsert
	if w.policy.DetectChanges {
		actionType = cluster.ActionUpdate
	}

	actions := make([]cluster.BulkAction, 0, len(docs))
	for _, doc := range docs {
		if w.policy.DetectChanges && w.detector != nil && !w.detector.HasChanged(ctx, collection, doc) {
			result.Skipped++
			continue
		}
		actions = append(actions, cluster.BulkAction{Type: actionType, ID: doc.ID, Doc: doc.Fields})
	}
	return actions
}

// writeWithRetry runs the bulk call under the retry policy. Backoff grows
// exponentially from BaseDelay and is capped at MaxDelay.
func (w *Writer) writeWithRetry(ctx context.Context, collection string, actions []cluster.BulkAction) (*cluster.BulkResponse, error) {
	state := &RetryState{Delay: w.policy.BaseDelay}

	for {
		resp, err := w.target.Bulk(ctx, collection, actions)
		if err == nil {
			return resp, nil
		}

		if state.Attempt+1 >= w.policy.MaxRetries {
			state.Attempt++
			w.log.Error("bulk retries exhausted, batch marked failed",
				zap.String("collection", collection),
				zap.Int("attempts", state.Attempt),
				zap.Int("batch_size", len(actions)),
				zap.Error(err))
			return nil, syncerrors.Wrap(err, syncerrors.ErrorTypeTransport, "bulk retries exhausted").
				WithDetail("attempts", state.Attempt).
				WithDetail("batch_size", len(actions))
		}

		delay := state.Next(w.policy)
		w.log.Warn("bulk transport failure, backing off",
			zap.String("collection", collection),
			zap.Int("attempt", state.Attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
		w.sleep(delay)
	}
}

// Package sync drives full synchronization passes end to end and repeats
// them forever. The orchestrator owns one pass: index provisioning,
// counting, the extract/transform/detect/write loop, metrics accumulation
// and cursor teardown. The scheduler serializes passes so that pass N+1
// never begins while pass N is still running.
//
// A pass moves through a fixed sequence of states:
//
//	INIT -> PROVISION_INDEX -> COUNT_SOURCE -> STREAM_BATCHES -> FINALIZE -> DONE
//
// Any error raised inside a pass is caught at the FINALIZE boundary,
// logged, and converted into a completed-with-error pass; the process
// never crashes because of a failed pass.
package sync

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/syncwell/esmirror/pkg/cluster"
	"github.com/syncwell/esmirror/pkg/config"
	"github.com/syncwell/esmirror/pkg/detect"
	"github.com/syncwell/esmirror/pkg/extract"
	"github.com/syncwell/esmirror/pkg/logger"
	"github.com/syncwell/esmirror/pkg/models"
	"github.com/syncwell/esmirror/pkg/syncerrors"
	"github.com/syncwell/esmirror/pkg/transform"
	"github.com/syncwell/esmirror/pkg/writer"
)

// mapping keys the target engine rejects; stripped from the source schema
// at provisioning time
var incompatibleMappingKeys = []string{"_all", "_size", "_routing", "dynamic_templates"}

// Orchestrator drives one synchronization pass at a time
type Orchestrator struct {
	source      cluster.SourceCluster
	target      cluster.TargetCluster
	extractor   *extract.Extractor
	transformer *transform.Transformer
	writer      *writer.Writer
	cfg         *config.Config

	pace    func(time.Duration)
	passSeq int64
}

// NewOrchestrator wires the engine components for one synchronization
// pair. The source and target collaborators are constructed once at
// process start and handed in, so tests can substitute fakes.
func NewOrchestrator(source cluster.SourceCluster, target cluster.TargetCluster, cfg *config.Config) *Orchestrator {
	var detector writer.ChangeDetector
	if cfg.Sync.DetectChanges {
		detector = detect.New(target)
	}

	policy := writer.Policy{
		MaxRetries:    cfg.Sync.MaxRetries,
		BaseDelay:     cfg.Sync.BaseDelay,
		MaxDelay:      cfg.Sync.MaxDelay,
		DetectChanges: cfg.Sync.DetectChanges,
	}

	return &Orchestrator{
		source:      source,
		target:      target,
		extractor:   extract.New(source, cfg.Sync.ScrollLease),
		transformer: transform.New(cfg.Sync.PayloadField),
		writer:      writer.New(target, detector, policy),
		cfg:         cfg,
		pace:        time.Sleep,
	}
}

// Writer exposes the batch writer, so tests can inject a delay function
func (o *Orchestrator) Writer() *writer.Writer {
	return o.writer
}

// SetPace overrides the inter-batch pacing function, for tests
func (o *Orchestrator) SetPace(fn func(time.Duration)) {
	o.pace = fn
}

// RunPass executes one full synchronization pass. It never returns an
// error: failures are folded into the returned metrics and logged, so the
// scheduler can keep going regardless of how the pass ended.
func (o *Orchestrator) RunPass(ctx context.Context) *models.PassMetrics {
	o.passSeq++
	passID := fmt.Sprintf("pass-%d", o.passSeq)
	ctx = context.WithValue(ctx, logger.PassIDKey, passID)
	ctx = context.WithValue(ctx, logger.CollectionKey, o.cfg.Collections.Source)
	log := logger.WithContext(ctx)

	log.Info("pass started",
		zap.String("source_collection", o.cfg.Collections.Source),
		zap.String("target_collection", o.cfg.Collections.Target),
		zap.Bool("detect_changes", o.cfg.Sync.DetectChanges))

	metrics := models.NewPassMetrics()
	err := o.runPass(ctx, log, metrics)
	metrics.Finalize(err)

	if err != nil {
		log.Error("pass completed with error", append(metrics.Fields(), zap.Error(err))...)
	} else {
		log.Info("pass completed", metrics.Fields()...)
	}
	return metrics
}

func (o *Orchestrator) runPass(ctx context.Context, log *zap.Logger, metrics *models.PassMetrics) error {
	// PROVISION_INDEX
	if err := o.provision(ctx, log); err != nil {
		return err
	}

	// COUNT_SOURCE
	total, err := o.source.Count(ctx, o.cfg.Collections.Source)
	if err != nil {
		return syncerrors.Wrap(err, syncerrors.ErrorTypeTransport, "failed to count source collection")
	}
	metrics.Total = total
	log.Info("source counted", zap.Int64("total", total))
	if total == 0 {
		return nil
	}

	// STREAM_BATCHES
	cur, page, err := o.extractor.Open(ctx, o.cfg.Collections.Source, o.cfg.Sync.PageSize)
	if err != nil {
		return err
	}
	defer func() {
		// FINALIZE: the cursor is released exactly once; a close failure
		// is logged but never fails the pass.
		if cerr := o.extractor.Close(ctx, cur); cerr != nil {
			log.Warn("cursor close failed", zap.Error(cerr))
		}
	}()

	for !page.Empty() {
		o.processPage(ctx, log, page, metrics)

		percent := float64(0)
		if metrics.Total > 0 {
			percent = float64(metrics.Processed) / float64(metrics.Total) * 100
		}
		log.Info("batch progress",
			zap.Int64("processed", metrics.Processed),
			zap.Int64("total", metrics.Total),
			zap.Int64("failed", metrics.Failed),
			zap.Float64("percent", percent))

		// Pacing between successful batches keeps sustained load off the
		// target; the backoff floor doubles as the pacing delay.
		o.pace(o.cfg.Sync.BaseDelay)

		page, err = o.extractor.Advance(ctx, cur)
		if err != nil {
			return err
		}
	}
	return nil
}

// processPage transforms one page and writes the resulting batch. A page
// that transforms to an empty write set still counts toward processed
// documents. A batch whose retries were exhausted is already accounted in
// the result; the pass moves on to the next page to maximize forward
// progress.
func (o *Orchestrator) processPage(ctx context.Context, log *zap.Logger, page models.Page, metrics *models.PassMetrics) {
	docs := make([]*models.SyncDocument, 0, page.Size())
	for _, rec := range page.Records {
		doc, err := o.transformer.Transform(rec)
		if err != nil {
			metrics.Failed++
			log.Warn("record transform failed",
				zap.String("id", rec.ID),
				zap.Error(err))
			continue
		}
		docs = append(docs, doc)
	}

	result, err := o.writer.Write(ctx, o.cfg.Collections.Target, docs)
	if err != nil {
		log.Error("batch lost after exhausted retries",
			zap.Int("batch_size", len(docs)),
			zap.Error(err))
	}
	for _, docErr := range result.Errors {
		log.Debug("document write failed",
			zap.String("id", docErr.ID),
			zap.Error(docErr.Err))
	}

	metrics.ObserveBatch(result)
	metrics.ObservePage(page)
}

// provision creates the target collection from the source mapping when it
// does not exist yet. Failure here is fatal to the pass: the engine cannot
// write without a target schema.
func (o *Orchestrator) provision(ctx context.Context, log *zap.Logger) error {
	exists, err := o.target.Exists(ctx, o.cfg.Collections.Target)
	if err != nil {
		return syncerrors.Wrap(err, syncerrors.ErrorTypeProvision, "failed to check target collection")
	}
	if exists {
		return nil
	}

	mapping, err := o.source.Mapping(ctx, o.cfg.Collections.Source)
	if err != nil {
		return syncerrors.Wrap(err, syncerrors.ErrorTypeProvision, "failed to fetch source mapping")
	}

	schema := sanitizeMapping(mapping)
	if err := o.target.Create(ctx, o.cfg.Collections.Target, schema); err != nil {
		return syncerrors.Wrap(err, syncerrors.ErrorTypeProvision, "failed to create target collection")
	}

	log.Info("target collection provisioned",
		zap.String("collection", o.cfg.Collections.Target))
	return nil
}

// sanitizeMapping copies the source mapping, dropping top-level mapping
// keys the target engine does not accept
func sanitizeMapping(mapping map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(mapping))
	for k, v := range mapping {
		out[k] = v
	}

	if raw, ok := out["mappings"].(map[string]interface{}); ok {
		mappings := make(map[string]interface{}, len(raw))
		for k, v := range raw {
			mappings[k] = v
		}
		for _, key := range incompatibleMappingKeys {
			delete(mappings, key)
		}
		out["mappings"] = mappings
	}
	return out
}

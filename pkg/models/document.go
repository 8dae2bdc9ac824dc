// Package models provides the data model for the synchronization engine.
// All entities here are pass-scoped or batch-scoped; nothing survives
// across orchestrator passes.
package models

import (
	"time"

	"go.uber.org/zap"
)

// SourceRecord is a raw document as extracted from the source collection.
// Fields may contain a string-encoded structured payload that the
// transformer decodes before the record reaches the target.
type SourceRecord struct {
	// ID is the document identifier, unique within the source collection
	ID string
	// Fields is the untyped field map as returned by the source
	Fields map[string]interface{}
}

// SyncDocument is the transformed, write-ready representation of a record.
// Once a payload field has been decoded it is never re-encoded to a string.
type SyncDocument struct {
	// ID is the same identifier as the originating SourceRecord
	ID string
	// Fields is the field map with payload fields decoded into native
	// nested structures
	Fields map[string]interface{}
}

// Page is one cursor page of source records. An empty page is the
// loop-termination signal, not an error.
type Page struct {
	Records []*SourceRecord
}

// Empty reports whether the page signals cursor exhaustion
func (p Page) Empty() bool {
	return len(p.Records) == 0
}

// Size returns the number of records on the page
func (p Page) Size() int {
	return len(p.Records)
}

// DocumentError ties a failed document to its cause
type DocumentError struct {
	ID  string
	Err error
}

// BatchResult holds the outcome counts of one applied batch
type BatchResult struct {
	// Attempted is the number of documents handed to the writer
	Attempted int
	// Created counts documents inserted at the target
	Created int
	// Updated counts documents updated in place at the target
	Updated int
	// Skipped counts documents the change detector filtered out
	Skipped int
	// Failed counts documents that could not be applied
	Failed int
	// Errors lists per-document failures for failed entries
	Errors []DocumentError
}

// Succeeded returns the number of documents applied to the target
func (r *BatchResult) Succeeded() int {
	return r.Created + r.Updated
}

// PassMetrics accumulates totals across all batches of one pass. It is
// created fresh at pass start, finalized and logged at pass end, then
// discarded.
type PassMetrics struct {
	Total     int64
	Processed int64
	Created   int64
	Updated   int64
	Skipped   int64
	Failed    int64
	StartedAt time.Time
	Duration  time.Duration
	// Err is the pass-level error when the pass completed with an error
	Err error
}

// NewPassMetrics starts metrics accumulation for a new pass
func NewPassMetrics() *PassMetrics {
	return &PassMetrics{StartedAt: time.Now()}
}

// ObserveBatch folds one batch result into the pass totals
func (m *PassMetrics) ObserveBatch(res *BatchResult) {
	m.Created += int64(res.Created)
	m.Updated += int64(res.Updated)
	m.Skipped += int64(res.Skipped)
	m.Failed += int64(res.Failed)
}

// ObservePage counts a consumed page toward processed documents. A page
// whose documents were all skipped or failed still counts here.
func (m *PassMetrics) ObservePage(p Page) {
	m.Processed += int64(p.Size())
}

// Finalize stamps the pass duration and records the pass-level error, if any
func (m *PassMetrics) Finalize(err error) {
	m.Duration = time.Since(m.StartedAt)
	m.Err = err
}

// Fields renders the metrics as structured log fields
func (m *PassMetrics) Fields() []zap.Field {
	return []zap.Field{
		zap.Int64("total", m.Total),
		zap.Int64("processed", m.Processed),
		zap.Int64("created", m.Created),
		zap.Int64("updated", m.Updated),
		zap.Int64("skipped", m.Skipped),
		zap.Int64("failed", m.Failed),
		zap.Duration("duration", m.Duration),
	}
}

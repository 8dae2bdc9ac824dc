// Package extract opens and advances a consistent, bounded-memory forward
// cursor over all documents in a source collection. The cursor is a
// server-side, time-leased snapshot handle; every advance renews the lease.
package extract

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/syncwell/esmirror/pkg/cluster"
	"github.com/syncwell/esmirror/pkg/logger"
	"github.com/syncwell/esmirror/pkg/models"
	"github.com/syncwell/esmirror/pkg/syncerrors"
)

// Cursor is the pass-scoped handle over one snapshot of the source
// collection. It is owned exclusively by the orchestrator for the
// duration of one pass and never shared across passes.
type Cursor struct {
	id         string
	collection string
	exhausted  bool
	closed     bool
}

// ID returns the server-side cursor identifier
func (c *Cursor) ID() string {
	return c.id
}

// Exhausted reports whether the snapshot has been fully consumed
func (c *Cursor) Exhausted() bool {
	return c.exhausted
}

// Extractor pages over source collections
type Extractor struct {
	source cluster.SourceCluster
	lease  time.Duration
	log    *zap.Logger
}

// New creates an extractor reading from the given source cluster
func New(source cluster.SourceCluster, lease time.Duration) *Extractor {
	return &Extractor{
		source: source,
		lease:  lease,
		log:    logger.With(zap.String("component", "extractor")),
	}
}

// Open issues the initial match-all snapshot query and returns the cursor
// handle plus the first page. When the collection is empty the returned
// cursor is already exhausted and needs no Close.
func (e *Extractor) Open(ctx context.Context, collection string, pageSize int) (*Cursor, models.Page, error) {
	id, page, err := e.source.OpenCursor(ctx, collection, pageSize, e.lease)
	if err != nil {
		return nil, models.Page{}, syncerrors.Wrap(err, syncerrors.ErrorTypeCursor, "failed to open cursor").
			WithDetail("collection", collection)
	}

	cur := &Cursor{id: id, collection: collection}
	if page.Empty() {
		cur.exhausted = true
	}

	e.log.Debug("cursor opened",
		zap.String("collection", collection),
		zap.String("cursor_id", id),
		zap.Int("first_page", page.Size()))
	return cur, page, nil
}

// Advance extends the cursor lease and returns the next page. An empty
// page is the loop-termination signal, not an error.
func (e *Extractor) Advance(ctx context.Context, cur *Cursor) (models.Page, error) {
	if cur.exhausted {
		return models.Page{}, nil
	}

	page, err := e.source.AdvanceCursor(ctx, cur.id, e.lease)
	if err != nil {
		return models.Page{}, syncerrors.Wrap(err, syncerrors.ErrorTypeCursor, "failed to advance cursor").
			WithDetail("cursor_id", cur.id)
	}
	if page.Empty() {
		cur.exhausted = true
	}
	return page, nil
}

// Close releases server-side cursor resources. It must be invoked exactly
// once per successfully opened cursor, including on error paths; callers
// log failures but never treat them as fatal to the pass.
func (e *Extractor) Close(ctx context.Context, cur *Cursor) error {
	if cur == nil || cur.closed || cur.id == "" {
		return nil
	}
	cur.closed = true

	if err := e.source.CloseCursor(ctx, cur.id); err != nil {
		return syncerrors.Wrap(err, syncerrors.ErrorTypeCursor, "failed to close cursor").
			WithDetail("cursor_id", cur.id)
	}
	e.log.Debug("cursor closed", zap.String("cursor_id", cur.id))
	return nil
}

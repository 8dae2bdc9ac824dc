// Package cluster defines the collaborator interfaces for the source and
// target document-search clusters, plus the bulk wire types shared by the
// writer and the cluster implementations. The clusters are opaque services;
// the engine only consumes the operations declared here.
package cluster

import (
	"context"
	"time"

	"github.com/syncwell/esmirror/pkg/models"
)

// SourceCluster exposes the read-side operations the engine consumes
type SourceCluster interface {
	// Count returns the total number of documents in the collection
	Count(ctx context.Context, collection string) (int64, error)

	// Mapping fetches the field-mapping definition of the collection
	Mapping(ctx context.Context, collection string) (map[string]interface{}, error)

	// OpenCursor issues a match-all snapshot query and returns the cursor
	// handle plus the first page. An empty page with an empty handle means
	// the collection had no documents at open time.
	OpenCursor(ctx context.Context, collection string, pageSize int, lease time.Duration) (string, models.Page, error)

	// AdvanceCursor extends the cursor lease and returns the next page.
	// An empty page signals snapshot exhaustion.
	AdvanceCursor(ctx context.Context, cursorID string, lease time.Duration) (models.Page, error)

	// CloseCursor releases server-side cursor resources
	CloseCursor(ctx context.Context, cursorID string) error

	// Get fetches a single document by identifier
	Get(ctx context.Context, collection, id string) (map[string]interface{}, error)
}

// TargetCluster exposes the write-side operations the engine consumes
type TargetCluster interface {
	// Exists reports whether the collection exists
	Exists(ctx context.Context, collection string) (bool, error)

	// Create provisions the collection with the given schema
	Create(ctx context.Context, collection string, schema map[string]interface{}) error

	// Bulk applies a batch of actions in a single request. A transport
	// error means the whole call failed; item-level errors are reported
	// inside the response.
	Bulk(ctx context.Context, collection string, actions []BulkAction) (*BulkResponse, error)

	// Get fetches a single document by identifier; a not-found condition
	// is reported as a typed not_found error
	Get(ctx context.Context, collection, id string) (map[string]interface{}, error)

	// Count returns the total number of documents in the collection
	Count(ctx context.Context, collection string) (int64, error)
}

// ActionType selects the bulk action applied per document
type ActionType string

const (
	// ActionUpsert indexes the document unconditionally, inserting or
	// replacing it in place keyed by identifier
	ActionUpsert ActionType = "upsert"
	// ActionUpdate merges the document into the existing one, inserting
	// it when absent (update-with-upsert)
	ActionUpdate ActionType = "update"
)

// BulkAction is one document operation inside a bulk request. Actions are
// keyed by the document identifier so replaying the same batch is
// idempotent.
type BulkAction struct {
	Type ActionType
	ID   string
	Doc  map[string]interface{}
}

// BulkItem is the per-document outcome of a bulk request
type BulkItem struct {
	ID string
	// Result is the engine-reported outcome: created, updated or noop
	Result string
	Status int
	// Error is empty for successful items
	Error string
}

// Created reports whether the item inserted a new document
func (i BulkItem) Created() bool {
	return i.Error == "" && i.Result == "created"
}

// Failed reports whether the item carries an item-level error
func (i BulkItem) Failed() bool {
	return i.Error != ""
}

// BulkResponse is the outcome of one bulk call that reached the cluster
type BulkResponse struct {
	// Errors is true when at least one item failed
	Errors bool
	Items  []BulkItem
}

// Package clustertest provides an in-memory cluster implementing both the
// SourceCluster and TargetCluster interfaces. It behaves like a real
// document store as far as the engine can observe: documents round-trip
// through JSON so numeric types widen the way a wire response would, scroll
// cursors page over a snapshot taken at open time, and failures can be
// injected at the transport and item level.
package clustertest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	gojson "github.com/goccy/go-json"

	"github.com/syncwell/esmirror/pkg/cluster"
	"github.com/syncwell/esmirror/pkg/models"
	"github.com/syncwell/esmirror/pkg/syncerrors"
)

// MemCluster is an in-memory document cluster
type MemCluster struct {
	mu sync.Mutex

	collections map[string]*collection
	cursors     map[string]*snapshot
	nextCursor  int

	// BulkCalls counts every Bulk invocation, including failed ones
	BulkCalls int
	// GetCalls counts every Get invocation
	GetCalls int
	// ClosedCursors records the cursor IDs released via CloseCursor
	ClosedCursors []string

	// FailBulkCalls makes the next N Bulk calls fail at the transport
	// level before touching any document
	FailBulkCalls int
	// FailItems maps document IDs to an item-level error message returned
	// inside an otherwise successful bulk response
	FailItems map[string]string
	// FailGets makes every Get call fail with a transport error
	FailGets bool
	// FailCursorAfter makes AdvanceCursor fail once the given number of
	// advances has succeeded; 0 disables injection
	FailCursorAfter int
	advances        int
}

type collection struct {
	schema map[string]interface{}
	docs   map[string]map[string]interface{}
	order  []string
}

type snapshot struct {
	records []*models.SourceRecord
	pos     int
	size    int
}

// New creates an empty in-memory cluster
func New() *MemCluster {
	return &MemCluster{
		collections: make(map[string]*collection),
		cursors:     make(map[string]*snapshot),
	}
}

var (
	_ cluster.SourceCluster = (*MemCluster)(nil)
	_ cluster.TargetCluster = (*MemCluster)(nil)
)

// Seed stores a document directly, bypassing bulk accounting. Intended for
// test setup.
func (m *MemCluster) Seed(collectionName, id string, fields map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.put(m.coll(collectionName), id, fields)
}

// Docs returns a normalized copy of every document in the collection,
// keyed by identifier.
func (m *MemCluster) Docs(collectionName string) map[string]map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.coll(collectionName)
	out := make(map[string]map[string]interface{}, len(c.docs))
	for id, doc := range c.docs {
		out[id] = normalize(doc)
	}
	return out
}

// Count returns the number of documents in the collection
func (m *MemCluster) Count(_ context.Context, collectionName string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.coll(collectionName).docs)), nil
}

// Mapping returns the schema the collection was created or seeded with
func (m *MemCluster) Mapping(_ context.Context, collectionName string) (map[string]interface{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.coll(collectionName)
	if c.schema == nil {
		return map[string]interface{}{
			"mappings": map[string]interface{}{"properties": map[string]interface{}{}},
		}, nil
	}
	return normalize(c.schema), nil
}

// SetMapping seeds the schema returned by Mapping
func (m *MemCluster) SetMapping(collectionName string, schema map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.coll(collectionName).schema = schema
}

// OpenCursor snapshots the collection and returns the first page
func (m *MemCluster) OpenCursor(_ context.Context, collectionName string, pageSize int, _ time.Duration) (string, models.Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.coll(collectionName)
	if len(c.docs) == 0 {
		return "", models.Page{}, nil
	}

	records := make([]*models.SourceRecord, 0, len(c.docs))
	for _, id := range c.order {
		records = append(records, &models.SourceRecord{ID: id, Fields: normalize(c.docs[id])})
	}

	m.nextCursor++
	id := fmt.Sprintf("cursor-%d", m.nextCursor)
	snap := &snapshot{records: records, size: pageSize}
	m.cursors[id] = snap

	return id, snap.next(), nil
}

// AdvanceCursor returns the next page of the snapshot
func (m *MemCluster) AdvanceCursor(_ context.Context, cursorID string, _ time.Duration) (models.Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap, ok := m.cursors[cursorID]
	if !ok {
		return models.Page{}, syncerrors.New(syncerrors.ErrorTypeCursor, "unknown cursor").
			WithDetail("cursor_id", cursorID)
	}
	if m.FailCursorAfter > 0 {
		m.advances++
		if m.advances > m.FailCursorAfter {
			return models.Page{}, syncerrors.New(syncerrors.ErrorTypeCursor, "cursor lease expired").
				WithDetail("cursor_id", cursorID)
		}
	}
	return snap.next(), nil
}

// CloseCursor releases the snapshot
func (m *MemCluster) CloseCursor(_ context.Context, cursorID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.cursors[cursorID]; !ok {
		return syncerrors.New(syncerrors.ErrorTypeCursor, "unknown cursor").
			WithDetail("cursor_id", cursorID)
	}
	delete(m.cursors, cursorID)
	m.ClosedCursors = append(m.ClosedCursors, cursorID)
	return nil
}

// Get fetches a single document
func (m *MemCluster) Get(_ context.Context, collectionName, id string) (map[string]interface{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.GetCalls++
	if m.FailGets {
		return nil, syncerrors.New(syncerrors.ErrorTypeTransport, "get failed")
	}

	doc, ok := m.coll(collectionName).docs[id]
	if !ok {
		return nil, syncerrors.New(syncerrors.ErrorTypeNotFound, "document not found").
			WithDetail("id", id)
	}
	return normalize(doc), nil
}

// Exists reports whether the collection has been created or seeded
func (m *MemCluster) Exists(_ context.Context, collectionName string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.collections[collectionName]
	return ok, nil
}

// Create provisions the collection with the given schema
func (m *MemCluster) Create(_ context.Context, collectionName string, schema map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.collections[collectionName]; ok {
		return syncerrors.New(syncerrors.ErrorTypeProvision, "collection already exists").
			WithDetail("collection", collectionName)
	}
	m.collections[collectionName] = &collection{
		schema: schema,
		docs:   make(map[string]map[string]interface{}),
	}
	return nil
}

// Bulk applies a batch of actions
func (m *MemCluster) Bulk(_ context.Context, collectionName string, actions []cluster.BulkAction) (*cluster.BulkResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.BulkCalls++
	if m.FailBulkCalls > 0 {
		m.FailBulkCalls--
		return nil, syncerrors.New(syncerrors.ErrorTypeTransport, "bulk call failed")
	}

	c := m.coll(collectionName)
	res := &cluster.BulkResponse{}
	for _, a := range actions {
		if msg, ok := m.FailItems[a.ID]; ok {
			res.Errors = true
			res.Items = append(res.Items, cluster.BulkItem{ID: a.ID, Status: 400, Error: msg})
			continue
		}

		item := cluster.BulkItem{ID: a.ID, Status: 200, Result: "updated"}
		if _, exists := c.docs[a.ID]; !exists {
			item.Result = "created"
			item.Status = 201
		}

		switch a.Type {
		case cluster.ActionUpdate:
			merged := normalize(a.Doc)
			if existing, exists := c.docs[a.ID]; exists {
				base := normalize(existing)
				for k, v := range merged {
					base[k] = v
				}
				merged = base
			}
			m.put(c, a.ID, merged)
		default:
			m.put(c, a.ID, a.Doc)
		}
		res.Items = append(res.Items, item)
	}
	return res, nil
}

// coll returns the named collection, creating an empty one on first use
func (m *MemCluster) coll(name string) *collection {
	c, ok := m.collections[name]
	if !ok {
		c = &collection{docs: make(map[string]map[string]interface{})}
		m.collections[name] = c
	}
	return c
}

// put stores a normalized copy of the document, keeping insertion order
// stable for scroll snapshots
func (m *MemCluster) put(c *collection, id string, fields map[string]interface{}) {
	if _, exists := c.docs[id]; !exists {
		c.order = append(c.order, id)
		sort.Strings(c.order)
	}
	c.docs[id] = normalize(fields)
}

// normalize round-trips a value through JSON the way a real cluster
// response would, widening numeric types and copying the structure
func normalize(in map[string]interface{}) map[string]interface{} {
	data, err := gojson.Marshal(in)
	if err != nil {
		panic(fmt.Sprintf("clustertest: unmarshalable document: %v", err))
	}
	var out map[string]interface{}
	if err := gojson.Unmarshal(data, &out); err != nil {
		panic(fmt.Sprintf("clustertest: undecodable document: %v", err))
	}
	return out
}

func (s *snapshot) next() models.Page {
	if s.pos >= len(s.records) {
		return models.Page{}
	}
	end := s.pos + s.size
	if end > len(s.records) {
		end = len(s.records)
	}
	page := models.Page{Records: s.records[s.pos:end]}
	s.pos = end
	return page
}

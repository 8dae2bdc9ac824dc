package cluster

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/olivere/elastic/v7"
	"go.uber.org/zap"

	"github.com/syncwell/esmirror/pkg/config"
	"github.com/syncwell/esmirror/pkg/logger"
	"github.com/syncwell/esmirror/pkg/models"
	"github.com/syncwell/esmirror/pkg/syncerrors"
)

// Elastic implements both SourceCluster and TargetCluster against an
// Elasticsearch-compatible endpoint.
type Elastic struct {
	client *elastic.Client
	log    *zap.Logger
}

var (
	_ SourceCluster = (*Elastic)(nil)
	_ TargetCluster = (*Elastic)(nil)
)

// NewSource connects to the source cluster with basic authentication
func NewSource(cfg config.SourceConfig) (*Elastic, error) {
	opts := []elastic.ClientOptionFunc{
		elastic.SetURL(cfg.URL),
		elastic.SetSniff(false),
		elastic.SetHealthcheck(false),
	}
	if cfg.Username != "" {
		opts = append(opts, elastic.SetBasicAuth(cfg.Username, cfg.Password))
	}

	client, err := elastic.NewClient(opts...)
	if err != nil {
		return nil, syncerrors.Wrap(err, syncerrors.ErrorTypeConfig, "failed to connect to source cluster")
	}

	return &Elastic{
		client: client,
		log:    logger.With(zap.String("cluster", "source"), zap.String("url", cfg.URL)),
	}, nil
}

// NewTarget connects to the target cluster with API-key authentication
func NewTarget(cfg config.TargetConfig) (*Elastic, error) {
	opts := []elastic.ClientOptionFunc{
		elastic.SetURL(cfg.URL),
		elastic.SetSniff(false),
		elastic.SetHealthcheck(false),
	}
	if cfg.APIKey != "" {
		opts = append(opts, elastic.SetHeaders(http.Header{
			"Authorization": []string{"ApiKey " + cfg.APIKey},
		}))
	}

	client, err := elastic.NewClient(opts...)
	if err != nil {
		return nil, syncerrors.Wrap(err, syncerrors.ErrorTypeConfig, "failed to connect to target cluster")
	}

	return &Elastic{
		client: client,
		log:    logger.With(zap.String("cluster", "target"), zap.String("url", cfg.URL)),
	}, nil
}

// Count returns the total number of documents in the collection
func (e *Elastic) Count(ctx context.Context, collection string) (int64, error) {
	n, err := e.client.Count(collection).Do(ctx)
	if err != nil {
		return 0, syncerrors.Wrap(err, syncerrors.ErrorTypeTransport, "count failed").
			WithDetail("collection", collection)
	}
	return n, nil
}

// Mapping fetches the field-mapping definition of the collection
func (e *Elastic) Mapping(ctx context.Context, collection string) (map[string]interface{}, error) {
	res, err := e.client.GetMapping().Index(collection).Do(ctx)
	if err != nil {
		return nil, syncerrors.Wrap(err, syncerrors.ErrorTypeProvision, "mapping fetch failed").
			WithDetail("collection", collection)
	}

	// The response is keyed by concrete index name, which may differ from
	// the requested name when it is an alias.
	if body, ok := res[collection].(map[string]interface{}); ok {
		return body, nil
	}
	for _, v := range res {
		if body, ok := v.(map[string]interface{}); ok {
			return body, nil
		}
	}
	return nil, syncerrors.New(syncerrors.ErrorTypeProvision, "empty mapping response").
		WithDetail("collection", collection)
}

// OpenCursor issues the initial match-all snapshot query
func (e *Elastic) OpenCursor(ctx context.Context, collection string, pageSize int, lease time.Duration) (string, models.Page, error) {
	res, err := e.client.Scroll(collection).
		Query(elastic.NewMatchAllQuery()).
		Size(pageSize).
		Scroll(leaseString(lease)).
		Do(ctx)
	if err == io.EOF {
		// Empty collection: there is no snapshot to page over.
		return "", models.Page{}, nil
	}
	if err != nil {
		return "", models.Page{}, syncerrors.Wrap(err, syncerrors.ErrorTypeCursor, "cursor open failed").
			WithDetail("collection", collection)
	}
	page, err := pageFromResult(res)
	if err != nil {
		return "", models.Page{}, err
	}
	return res.ScrollId, page, nil
}

// AdvanceCursor renews the lease and fetches the next page
func (e *Elastic) AdvanceCursor(ctx context.Context, cursorID string, lease time.Duration) (models.Page, error) {
	res, err := e.client.Scroll().
		ScrollId(cursorID).
		Scroll(leaseString(lease)).
		Do(ctx)
	if err == io.EOF {
		return models.Page{}, nil
	}
	if err != nil {
		return models.Page{}, syncerrors.Wrap(err, syncerrors.ErrorTypeCursor, "cursor advance failed")
	}
	return pageFromResult(res)
}

// CloseCursor releases the server-side scroll context
func (e *Elastic) CloseCursor(ctx context.Context, cursorID string) error {
	_, err := e.client.ClearScroll(cursorID).Do(ctx)
	if err != nil {
		return syncerrors.Wrap(err, syncerrors.ErrorTypeCursor, "cursor close failed")
	}
	return nil
}

// Get fetches a single document by identifier
func (e *Elastic) Get(ctx context.Context, collection, id string) (map[string]interface{}, error) {
	res, err := e.client.Get().Index(collection).Id(id).Do(ctx)
	if err != nil {
		if elastic.IsNotFound(err) {
			return nil, syncerrors.New(syncerrors.ErrorTypeNotFound, "document not found").
				WithDetail("collection", collection).
				WithDetail("id", id)
		}
		return nil, syncerrors.Wrap(err, syncerrors.ErrorTypeTransport, "get failed").
			WithDetail("collection", collection).
			WithDetail("id", id)
	}
	if !res.Found {
		return nil, syncerrors.New(syncerrors.ErrorTypeNotFound, "document not found").
			WithDetail("collection", collection).
			WithDetail("id", id)
	}

	var fields map[string]interface{}
	if err := gojson.Unmarshal(res.Source, &fields); err != nil {
		return nil, syncerrors.Wrap(err, syncerrors.ErrorTypeInternal, "failed to decode document source")
	}
	return fields, nil
}

// Exists reports whether the collection exists
func (e *Elastic) Exists(ctx context.Context, collection string) (bool, error) {
	exists, err := e.client.IndexExists(collection).Do(ctx)
	if err != nil {
		return false, syncerrors.Wrap(err, syncerrors.ErrorTypeTransport, "index existence check failed").
			WithDetail("collection", collection)
	}
	return exists, nil
}

// Create provisions the collection with the given schema
func (e *Elastic) Create(ctx context.Context, collection string, schema map[string]interface{}) error {
	svc := e.client.CreateIndex(collection)
	if len(schema) > 0 {
		svc = svc.BodyJson(schema)
	}
	res, err := svc.Do(ctx)
	if err != nil {
		return syncerrors.Wrap(err, syncerrors.ErrorTypeProvision, "index creation failed").
			WithDetail("collection", collection)
	}
	if !res.Acknowledged {
		e.log.Warn("index creation not acknowledged", zap.String("collection", collection))
	}
	return nil
}

// Bulk applies a batch of actions in a single request
func (e *Elastic) Bulk(ctx context.Context, collection string, actions []BulkAction) (*BulkResponse, error) {
	svc := e.client.Bulk().Index(collection)
	for _, a := range actions {
		switch a.Type {
		case ActionUpdate:
			svc.Add(elastic.NewBulkUpdateRequest().
				Index(collection).
				Id(a.ID).
				Doc(a.Doc).
				DocAsUpsert(true))
		default:
			svc.Add(elastic.NewBulkIndexRequest().
				Index(collection).
				Id(a.ID).
				Doc(a.Doc))
		}
	}

	res, err := svc.Do(ctx)
	if err != nil {
		return nil, syncerrors.Wrap(err, syncerrors.ErrorTypeTransport, "bulk call failed").
			WithDetail("collection", collection).
			WithDetail("actions", len(actions))
	}

	out := &BulkResponse{Errors: res.Errors}
	for _, item := range res.Items {
		for _, detail := range item {
			bi := BulkItem{
				ID:     detail.Id,
				Result: detail.Result,
				Status: detail.Status,
			}
			if detail.Error != nil {
				bi.Error = fmt.Sprintf("%s: %s", detail.Error.Type, detail.Error.Reason)
			}
			out.Items = append(out.Items, bi)
		}
	}
	return out, nil
}

// pageFromResult converts scroll hits into a page of source records
func pageFromResult(res *elastic.SearchResult) (models.Page, error) {
	if res.Hits == nil || len(res.Hits.Hits) == 0 {
		return models.Page{}, nil
	}

	records := make([]*models.SourceRecord, 0, len(res.Hits.Hits))
	for _, hit := range res.Hits.Hits {
		var fields map[string]interface{}
		if err := gojson.Unmarshal(hit.Source, &fields); err != nil {
			return models.Page{}, syncerrors.Wrap(err, syncerrors.ErrorTypeCursor, "failed to decode hit source").
				WithDetail("id", hit.Id)
		}
		records = append(records, &models.SourceRecord{ID: hit.Id, Fields: fields})
	}
	return models.Page{Records: records}, nil
}

// leaseString renders a lease duration in the cluster's duration syntax
func leaseString(lease time.Duration) string {
	return fmt.Sprintf("%ds", int(lease.Seconds()))
}

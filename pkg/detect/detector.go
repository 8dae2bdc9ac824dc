// Package detect decides whether a transformed document differs from what
// already exists at the target, so the differential-sync mode can avoid
// redundant writes. Detection costs one target round trip per document;
// high-throughput callers should prefer unconditional upsert.
package detect

import (
	"context"
	"reflect"

	gojson "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/syncwell/esmirror/pkg/cluster"
	"github.com/syncwell/esmirror/pkg/logger"
	"github.com/syncwell/esmirror/pkg/models"
	"github.com/syncwell/esmirror/pkg/syncerrors"
)

// Detector performs per-document change detection against the target
type Detector struct {
	target cluster.TargetCluster
	log    *zap.Logger
}

// New creates a detector reading from the given target cluster
func New(target cluster.TargetCluster) *Detector {
	return &Detector{
		target: target,
		log:    logger.With(zap.String("component", "detector")),
	}
}

// HasChanged reports whether the candidate differs from the stored
// document. A missing document needs an insert and reports true. Any
// fetch error other than not-found also reports true: the engine prefers
// a redundant write over silently dropping an update.
func (d *Detector) HasChanged(ctx context.Context, collection string, doc *models.SyncDocument) bool {
	existing, err := d.target.Get(ctx, collection, doc.ID)
	if err != nil {
		if !syncerrors.IsNotFound(err) {
			d.log.Debug("existence check failed, treating as changed",
				zap.String("id", doc.ID),
				zap.Error(err))
		}
		return true
	}

	candidate, err := normalize(doc.Fields)
	if err != nil {
		d.log.Debug("candidate normalization failed, treating as changed",
			zap.String("id", doc.ID),
			zap.Error(err))
		return true
	}

	return !reflect.DeepEqual(existing, candidate)
}

// normalize round-trips the candidate through JSON so its numeric types
// match what the cluster returns for the stored document
func normalize(fields map[string]interface{}) (map[string]interface{}, error) {
	data, err := gojson.Marshal(fields)
	if err != nil {
		return nil, err
	}
	var out map[string]interface{}
	if err := gojson.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Package transform normalizes extracted records into the shape the target
// accepts. Its single responsibility is decoding string-encoded structured
// payload fields into native nested values; everything else is copied by
// value so transformed documents share no mutable state with the source
// records.
package transform

import (
	gojson "github.com/goccy/go-json"

	"github.com/syncwell/esmirror/pkg/models"
	"github.com/syncwell/esmirror/pkg/syncerrors"
)

// Transformer converts SourceRecords into write-ready SyncDocuments
type Transformer struct {
	payloadField string
}

// New creates a transformer decoding the named payload field
func New(payloadField string) *Transformer {
	return &Transformer{payloadField: payloadField}
}

// Transform copies all fields by value and decodes the payload field when
// it is present as encoded text. A decode failure fails only this record;
// the caller counts it and continues with the rest of the batch. Records
// without the payload field, or whose payload is already structured, pass
// through unchanged.
func (t *Transformer) Transform(rec *models.SourceRecord) (*models.SyncDocument, error) {
	fields := copyFields(rec.Fields)

	if raw, ok := fields[t.payloadField]; ok {
		if encoded, isString := raw.(string); isString {
			var decoded interface{}
			if err := gojson.Unmarshal([]byte(encoded), &decoded); err != nil {
				return nil, syncerrors.Wrap(err, syncerrors.ErrorTypeTransform, "failed to decode payload field").
					WithDetail("id", rec.ID).
					WithDetail("field", t.payloadField)
			}
			fields[t.payloadField] = decoded
		}
	}

	return &models.SyncDocument{ID: rec.ID, Fields: fields}, nil
}

// copyFields deep-copies a field map so the document can be mutated
// independently of the source record
func copyFields(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return copyFields(val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = copyValue(item)
		}
		return out
	default:
		return val
	}
}

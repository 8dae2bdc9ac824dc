package detect_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/syncwell/esmirror/pkg/cluster/clustertest"
	"github.com/syncwell/esmirror/pkg/detect"
	"github.com/syncwell/esmirror/pkg/models"
	"github.com/syncwell/esmirror/pkg/testutil"
)

func TestHasChanged(t *testing.T) {
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	t.Run("missing document needs insert", func(t *testing.T) {
		mem := clustertest.New()
		d := detect.New(mem)

		changed := d.HasChanged(ctx, "books", &models.SyncDocument{
			ID:     "a",
			Fields: map[string]interface{}{"name": "a"},
		})
		assert.True(t, changed)
	})

	t.Run("identical document is unchanged", func(t *testing.T) {
		mem := clustertest.New()
		mem.Seed("books", "a", map[string]interface{}{
			"name": "a",
			"meta": map[string]interface{}{"rank": 3},
		})
		d := detect.New(mem)

		// The candidate uses native Go ints; the stored document came back
		// from the wire with widened numbers. Both must compare equal.
		changed := d.HasChanged(ctx, "books", &models.SyncDocument{
			ID: "a",
			Fields: map[string]interface{}{
				"name": "a",
				"meta": map[string]interface{}{"rank": 3},
			},
		})
		assert.False(t, changed)
	})

	t.Run("any differing field reports changed", func(t *testing.T) {
		mem := clustertest.New()
		mem.Seed("books", "a", map[string]interface{}{"name": "a", "rank": 1})
		d := detect.New(mem)

		changed := d.HasChanged(ctx, "books", &models.SyncDocument{
			ID:     "a",
			Fields: map[string]interface{}{"name": "a", "rank": 2},
		})
		assert.True(t, changed)
	})

	t.Run("fetch errors fail open", func(t *testing.T) {
		mem := clustertest.New()
		mem.Seed("books", "a", map[string]interface{}{"name": "a"})
		mem.FailGets = true
		d := detect.New(mem)

		changed := d.HasChanged(ctx, "books", &models.SyncDocument{
			ID:     "a",
			Fields: map[string]interface{}{"name": "a"},
		})
		assert.True(t, changed, "a failed lookup must never block the write")
	})
}

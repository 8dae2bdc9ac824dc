package sync_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncwell/esmirror/internal/sync"
	"github.com/syncwell/esmirror/pkg/cluster/clustertest"
	"github.com/syncwell/esmirror/pkg/config"
	"github.com/syncwell/esmirror/pkg/syncerrors"
)

// testConfig returns a config wired for in-memory passes: tiny delays so
// retries and pacing do not slow the suite down.
func testConfig() *config.Config {
	cfg := config.New()
	cfg.Collections.Source = "books"
	cfg.Collections.Target = "books-mirror"
	cfg.Sync.PageSize = 10
	cfg.Sync.MaxRetries = 3
	cfg.Sync.BaseDelay = time.Millisecond
	cfg.Sync.MaxDelay = 5 * time.Millisecond
	return cfg
}

// newTestOrchestrator builds an orchestrator with pacing and retry sleeps
// disabled
func newTestOrchestrator(source, target *clustertest.MemCluster, cfg *config.Config) *sync.Orchestrator {
	orch := sync.NewOrchestrator(source, target, cfg)
	orch.SetPace(func(time.Duration) {})
	orch.Writer().SetSleep(func(time.Duration) {})
	return orch
}

func TestOrchestrator_RunPass(t *testing.T) {
	t.Run("mirrors all records and decodes payloads", func(t *testing.T) {
		source := clustertest.New()
		target := clustertest.New()
		cfg := testConfig()

		source.Seed("books", "a", map[string]interface{}{
			"title":   "a",
			"payload": `{"answer":42,"tags":["x","y"]}`,
		})
		source.Seed("books", "b", map[string]interface{}{
			"title":   "b",
			"payload": map[string]interface{}{"answer": 7},
		})

		orch := newTestOrchestrator(source, target, cfg)
		metrics := orch.RunPass(context.Background())

		require.NoError(t, metrics.Err)
		assert.Equal(t, int64(2), metrics.Total)
		assert.Equal(t, int64(2), metrics.Processed)
		assert.Equal(t, int64(2), metrics.Created)
		assert.Equal(t, int64(0), metrics.Failed)

		docs := target.Docs("books-mirror")
		require.Len(t, docs, 2)

		payload, ok := docs["a"]["payload"].(map[string]interface{})
		require.True(t, ok, "encoded payload should arrive decoded")
		assert.Equal(t, float64(42), payload["answer"])
		assert.Equal(t, []interface{}{"x", "y"}, payload["tags"])

		structured, ok := docs["b"]["payload"].(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, float64(7), structured["answer"])
	})

	t.Run("malformed payload fails only that record", func(t *testing.T) {
		source := clustertest.New()
		target := clustertest.New()
		cfg := testConfig()

		source.Seed("books", "a", map[string]interface{}{"payload": `{"ok":true}`})
		source.Seed("books", "b", map[string]interface{}{"title": "plain"})
		source.Seed("books", "c", map[string]interface{}{"payload": `{not json`})

		orch := newTestOrchestrator(source, target, cfg)
		metrics := orch.RunPass(context.Background())

		require.NoError(t, metrics.Err)
		assert.Equal(t, int64(3), metrics.Total)
		assert.Equal(t, int64(3), metrics.Processed)
		assert.Equal(t, int64(1), metrics.Failed)
		assert.Equal(t, int64(2), metrics.Created)

		docs := target.Docs("books-mirror")
		assert.Len(t, docs, 2)
		assert.Contains(t, docs, "a")
		assert.Contains(t, docs, "b")
		assert.NotContains(t, docs, "c")
	})

	t.Run("second pass updates instead of creating", func(t *testing.T) {
		source := clustertest.New()
		target := clustertest.New()
		cfg := testConfig()

		source.Seed("books", "a", map[string]interface{}{"title": "a"})
		orch := newTestOrchestrator(source, target, cfg)

		first := orch.RunPass(context.Background())
		require.NoError(t, first.Err)
		assert.Equal(t, int64(1), first.Created)

		second := orch.RunPass(context.Background())
		require.NoError(t, second.Err)
		assert.Equal(t, int64(0), second.Created)
		assert.Equal(t, int64(1), second.Updated)
		assert.Len(t, target.Docs("books-mirror"), 1)
	})

	t.Run("empty source short-circuits after counting", func(t *testing.T) {
		source := clustertest.New()
		target := clustertest.New()
		cfg := testConfig()

		orch := newTestOrchestrator(source, target, cfg)
		metrics := orch.RunPass(context.Background())

		require.NoError(t, metrics.Err)
		assert.Equal(t, int64(0), metrics.Total)
		assert.Equal(t, int64(0), metrics.Processed)
		assert.Empty(t, source.ClosedCursors, "no cursor should be opened for an empty source")
		assert.Equal(t, 0, target.BulkCalls)

		exists, err := target.Exists(context.Background(), "books-mirror")
		require.NoError(t, err)
		assert.True(t, exists, "target is provisioned even when there is nothing to copy")
	})
}

func TestOrchestrator_Provisioning(t *testing.T) {
	t.Run("creates target from sanitized source mapping", func(t *testing.T) {
		source := clustertest.New()
		target := clustertest.New()
		cfg := testConfig()

		source.Seed("books", "a", map[string]interface{}{"title": "a"})
		source.SetMapping("books", map[string]interface{}{
			"settings": map[string]interface{}{"refresh_interval": "1s"},
			"mappings": map[string]interface{}{
				"properties":        map[string]interface{}{"title": map[string]interface{}{"type": "text"}},
				"_all":              map[string]interface{}{"enabled": true},
				"_size":             map[string]interface{}{"enabled": true},
				"_routing":          map[string]interface{}{"required": false},
				"dynamic_templates": []interface{}{},
			},
		})

		orch := newTestOrchestrator(source, target, cfg)
		metrics := orch.RunPass(context.Background())
		require.NoError(t, metrics.Err)

		schema, err := target.Mapping(context.Background(), "books-mirror")
		require.NoError(t, err)

		mappings, ok := schema["mappings"].(map[string]interface{})
		require.True(t, ok)
		assert.Contains(t, mappings, "properties")
		assert.NotContains(t, mappings, "_all")
		assert.NotContains(t, mappings, "_size")
		assert.NotContains(t, mappings, "_routing")
		assert.NotContains(t, mappings, "dynamic_templates")
		assert.Contains(t, schema, "settings", "non-mapping sections pass through untouched")
	})

	t.Run("existing target is never re-created", func(t *testing.T) {
		source := clustertest.New()
		target := clustertest.New()
		cfg := testConfig()

		source.Seed("books", "a", map[string]interface{}{"title": "a"})
		require.NoError(t, target.Create(context.Background(), "books-mirror", nil))

		orch := newTestOrchestrator(source, target, cfg)

		// Create on an existing collection would error, so two clean passes
		// prove provisioning was skipped both times.
		require.NoError(t, orch.RunPass(context.Background()).Err)
		require.NoError(t, orch.RunPass(context.Background()).Err)
	})
}

func TestOrchestrator_Failures(t *testing.T) {
	t.Run("exhausted batch does not stop the pass", func(t *testing.T) {
		source := clustertest.New()
		target := clustertest.New()
		cfg := testConfig()
		cfg.Sync.PageSize = 2
		cfg.Sync.MaxRetries = 2

		for _, id := range []string{"a", "b", "c", "d"} {
			source.Seed("books", id, map[string]interface{}{"title": id})
		}
		// Both attempts of the first batch fail; the second batch is clean.
		target.FailBulkCalls = 2

		orch := newTestOrchestrator(source, target, cfg)
		metrics := orch.RunPass(context.Background())

		require.NoError(t, metrics.Err, "a lost batch is a document failure, not a pass failure")
		assert.Equal(t, int64(4), metrics.Processed)
		assert.Equal(t, int64(2), metrics.Failed)
		assert.Equal(t, int64(2), metrics.Created)
		assert.Len(t, target.Docs("books-mirror"), 2)
	})

	t.Run("cursor failure fails the pass but still releases the cursor", func(t *testing.T) {
		source := clustertest.New()
		target := clustertest.New()
		cfg := testConfig()
		cfg.Sync.PageSize = 1

		for _, id := range []string{"a", "b", "c"} {
			source.Seed("books", id, map[string]interface{}{"title": id})
		}
		source.FailCursorAfter = 1

		orch := newTestOrchestrator(source, target, cfg)
		metrics := orch.RunPass(context.Background())

		require.Error(t, metrics.Err)
		assert.True(t, syncerrors.IsType(metrics.Err, syncerrors.ErrorTypeCursor))
		assert.Equal(t, int64(2), metrics.Processed, "pages before the failure are already applied")
		assert.Len(t, source.ClosedCursors, 1, "teardown runs even when the pass fails")
	})
}

func TestOrchestrator_DetectChanges(t *testing.T) {
	source := clustertest.New()
	target := clustertest.New()
	cfg := testConfig()
	cfg.Sync.DetectChanges = true

	source.Seed("books", "same", map[string]interface{}{"title": "same", "n": 1})
	source.Seed("books", "new", map[string]interface{}{"title": "new"})
	target.Seed("books-mirror", "same", map[string]interface{}{"title": "same", "n": 1})

	orch := newTestOrchestrator(source, target, cfg)
	metrics := orch.RunPass(context.Background())

	require.NoError(t, metrics.Err)
	assert.Equal(t, int64(2), metrics.Processed)
	assert.Equal(t, int64(1), metrics.Skipped)
	assert.Equal(t, int64(1), metrics.Created)
	assert.Equal(t, 2, target.GetCalls, "every record is compared against the target")
	assert.Len(t, target.Docs("books-mirror"), 2)
}

func TestOrchestrator_Pacing(t *testing.T) {
	source := clustertest.New()
	target := clustertest.New()
	cfg := testConfig()
	cfg.Sync.PageSize = 2
	cfg.Sync.BaseDelay = 250 * time.Millisecond

	for _, id := range []string{"a", "b", "c", "d"} {
		source.Seed("books", id, map[string]interface{}{"title": id})
	}

	var paced []time.Duration
	orch := sync.NewOrchestrator(source, target, cfg)
	orch.SetPace(func(d time.Duration) { paced = append(paced, d) })
	orch.Writer().SetSleep(func(time.Duration) {})

	metrics := orch.RunPass(context.Background())
	require.NoError(t, metrics.Err)

	require.Len(t, paced, 2, "one pacing pause per non-empty page")
	for _, d := range paced {
		assert.Equal(t, 250*time.Millisecond, d)
	}
}

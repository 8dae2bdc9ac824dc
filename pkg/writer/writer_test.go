package writer_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncwell/esmirror/pkg/cluster/clustertest"
	"github.com/syncwell/esmirror/pkg/detect"
	"github.com/syncwell/esmirror/pkg/models"
	"github.com/syncwell/esmirror/pkg/testutil"
	"github.com/syncwell/esmirror/pkg/writer"
)

func defaultPolicy() writer.Policy {
	return writer.Policy{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   60 * time.Second,
	}
}

func docs(ids ...string) []*models.SyncDocument {
	out := make([]*models.SyncDocument, 0, len(ids))
	for i, id := range ids {
		out = append(out, &models.SyncDocument{
			ID:     id,
			Fields: map[string]interface{}{"name": id, "rank": i},
		})
	}
	return out
}

func TestWriter_Write(t *testing.T) {
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	t.Run("upserts a batch", func(t *testing.T) {
		mem := clustertest.New()
		w := writer.New(mem, nil, defaultPolicy())

		result, err := w.Write(ctx, "books", docs("a", "b", "c"))
		require.NoError(t, err)
		assert.Equal(t, 3, result.Attempted)
		assert.Equal(t, 3, result.Created)
		assert.Equal(t, 0, result.Failed)
		assert.Len(t, mem.Docs("books"), 3)
	})

	t.Run("replay is idempotent", func(t *testing.T) {
		mem := clustertest.New()
		w := writer.New(mem, nil, defaultPolicy())
		batch := docs("a", "b")

		first, err := w.Write(ctx, "books", batch)
		require.NoError(t, err)
		assert.Equal(t, 2, first.Created)
		after := mem.Docs("books")

		second, err := w.Write(ctx, "books", batch)
		require.NoError(t, err)
		assert.Equal(t, 0, second.Created)
		assert.Equal(t, 2, second.Updated)
		assert.Equal(t, after, mem.Docs("books"))
	})

	t.Run("empty batch is a no-op", func(t *testing.T) {
		mem := clustertest.New()
		w := writer.New(mem, nil, defaultPolicy())

		result, err := w.Write(ctx, "books", nil)
		require.NoError(t, err)
		assert.Equal(t, 0, result.Attempted)
		assert.Equal(t, 0, mem.BulkCalls)
	})

	t.Run("partial item errors keep the batch applied", func(t *testing.T) {
		mem := clustertest.New()
		mem.FailItems = map[string]string{"b": "mapper_parsing_exception: failed to parse"}
		w := writer.New(mem, nil, defaultPolicy())

		result, err := w.Write(ctx, "books", docs("a", "b", "c"))
		require.NoError(t, err)
		assert.Equal(t, 2, result.Succeeded())
		assert.Equal(t, 1, result.Failed)
		require.Len(t, result.Errors, 1)
		assert.Equal(t, "b", result.Errors[0].ID)
		assert.NotContains(t, mem.Docs("books"), "b")
	})
}

func TestWriter_Retry(t *testing.T) {
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	t.Run("backoff doubles up to the ceiling", func(t *testing.T) {
		mem := clustertest.New()
		mem.FailBulkCalls = 3
		w := writer.New(mem, nil, writer.Policy{
			MaxRetries: 5,
			BaseDelay:  time.Second,
			MaxDelay:   5 * time.Second,
		})

		var delays []time.Duration
		w.SetSleep(func(d time.Duration) { delays = append(delays, d) })

		result, err := w.Write(ctx, "books", docs("a"))
		require.NoError(t, err)
		assert.Equal(t, 1, result.Created)
		assert.Equal(t, 4, mem.BulkCalls)
		assert.Equal(t, []time.Duration{
			2 * time.Second,
			4 * time.Second,
			5 * time.Second, // capped at MaxDelay
		}, delays)
	})

	t.Run("gives up after the retry ceiling", func(t *testing.T) {
		mem := clustertest.New()
		mem.FailBulkCalls = 100
		w := writer.New(mem, nil, defaultPolicy())
		w.SetSleep(func(time.Duration) {})

		result, err := w.Write(ctx, "books", docs("a", "b"))
		require.Error(t, err)
		assert.Equal(t, 3, mem.BulkCalls)
		assert.Equal(t, 2, result.Failed)
		require.Len(t, result.Errors, 2)
		assert.Equal(t, "a", result.Errors[0].ID)
		assert.Equal(t, "b", result.Errors[1].ID)
	})

	t.Run("recovers when a retry succeeds", func(t *testing.T) {
		mem := clustertest.New()
		mem.FailBulkCalls = 1
		w := writer.New(mem, nil, defaultPolicy())
		w.SetSleep(func(time.Duration) {})

		result, err := w.Write(ctx, "books", docs("a"))
		require.NoError(t, err)
		assert.Equal(t, 1, result.Created)
		assert.Equal(t, 2, mem.BulkCalls)
	})
}

func TestWriter_DetectChanges(t *testing.T) {
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	policy := defaultPolicy()
	policy.DetectChanges = true

	t.Run("skips unchanged documents", func(t *testing.T) {
		mem := clustertest.New()
		mem.Seed("books", "a", map[string]interface{}{"name": "a", "rank": 0})
		w := writer.New(mem, detect.New(mem), policy)

		result, err := w.Write(ctx, "books", docs("a"))
		require.NoError(t, err)
		assert.Equal(t, 1, result.Skipped)
		assert.Equal(t, 0, result.Succeeded())
		assert.Equal(t, 0, mem.BulkCalls, "no bulk call for an all-skipped batch")
	})

	t.Run("writes new and changed documents", func(t *testing.T) {
		mem := clustertest.New()
		mem.Seed("books", "a", map[string]interface{}{"name": "a", "rank": 0})
		mem.Seed("books", "b", map[string]interface{}{"name": "stale", "rank": 99})
		w := writer.New(mem, detect.New(mem), policy)

		result, err := w.Write(ctx, "books", docs("a", "b", "c"))
		require.NoError(t, err)
		assert.Equal(t, 1, result.Skipped)
		assert.Equal(t, 1, result.Updated)
		assert.Equal(t, 1, result.Created)

		stored := mem.Docs("books")
		assert.Equal(t, "b", stored["b"]["name"])
	})
}

package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/langtools/langid/app/storage/engine"
)

func newTestDetections(t *testing.T) *Detections {
	db, err := engine.NewSqlite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	d, err := NewDetections(context.Background(), db)
	require.NoError(t, err)
	return d
}

func TestNewDetections(t *testing.T) {
	t.Run("nil db", func(t *testing.T) {
		_, err := NewDetections(context.Background(), nil)
		assert.Error(t, err)
	})

	t.Run("double init is fine", func(t *testing.T) {
		db, err := engine.NewSqlite(":memory:")
		require.NoError(t, err)
		defer db.Close()

		_, err = NewDetections(context.Background(), db)
		require.NoError(t, err)
		_, err = NewDetections(context.Background(), db)
		require.NoError(t, err)
	})
}

func TestDetections_WriteAndLast(t *testing.T) {
	ctx := context.Background()
	d := newTestDetections(t)

	ts := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		det := Detection{
			Timestamp: ts.Add(time.Duration(i) * time.Minute),
			Source:    fmt.Sprintf("file-%d.txt", i),
			Mode:      "batch",
			TextLen:   100 + i,
			Lang:      "en",
			LogProb:   -12.5,
		}
		require.NoError(t, d.Write(ctx, det))
	}

	last, err := d.Last(ctx, 3)
	require.NoError(t, err)
	require.Len(t, last, 3)
	assert.Equal(t, "file-4.txt", last[0].Source, "newest first")
	assert.Equal(t, "file-2.txt", last[2].Source)
	assert.Equal(t, 104, last[0].TextLen)
	assert.Equal(t, "en", last[0].Lang)
	assert.InDelta(t, -12.5, last[0].LogProb, 1e-9)
	assert.Equal(t, ts.Add(4*time.Minute).Unix(), last[0].Timestamp.Unix())

	last, err = d.Last(ctx, 100)
	require.NoError(t, err)
	assert.Len(t, last, 5, "limit above the row count returns everything")
}

func TestDetections_WriteFillsTimestamp(t *testing.T) {
	ctx := context.Background()
	d := newTestDetections(t)

	require.NoError(t, d.Write(ctx, Detection{Source: "stdin", Mode: "line", TextLen: 10, Lang: "fr", LogProb: -3}))

	last, err := d.Last(ctx, 1)
	require.NoError(t, err)
	require.Len(t, last, 1)
	assert.False(t, last[0].Timestamp.IsZero())
	assert.WithinDuration(t, time.Now(), last[0].Timestamp, time.Minute)
}

func TestDetections_Count(t *testing.T) {
	ctx := context.Background()
	d := newTestDetections(t)

	count, err := d.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	for i := 0; i < 3; i++ {
		require.NoError(t, d.Write(ctx, Detection{Source: "stdin", Mode: "line", TextLen: 1, Lang: "en", LogProb: 0}))
	}
	count, err = d.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestDetections_LangStats(t *testing.T) {
	ctx := context.Background()
	d := newTestDetections(t)

	langs := []string{"en", "fr", "en", "de", "en", "fr"}
	for _, lang := range langs {
		require.NoError(t, d.Write(ctx, Detection{Source: "stdin", Mode: "line", TextLen: 1, Lang: lang, LogProb: 0}))
	}

	stats, err := d.LangStats(ctx)
	require.NoError(t, err)
	require.Len(t, stats, 3)
	assert.Equal(t, LangStat{Lang: "en", Count: 3}, stats[0])
	assert.Equal(t, LangStat{Lang: "fr", Count: 2}, stats[1])
	assert.Equal(t, LangStat{Lang: "de", Count: 1}, stats[2])
}

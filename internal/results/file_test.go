package results

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jordanhubbard/ensemble/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func result(n int) models.JobResult {
	return models.JobResult{
		JobID:     fmt.Sprintf("job-%d", n),
		PersonaID: "scholar",
		Timestamp: time.Unix(int64(n), 0).UTC(),
	}
}

func batch(from, to int) []models.JobResult {
	// most recent (highest n) first
	var out []models.JobResult
	for n := to; n >= from; n-- {
		out = append(out, result(n))
	}
	return out
}

func TestFileStoreBound(t *testing.T) {
	ctx := context.Background()
	s := NewFileStore(filepath.Join(t.TempDir(), "results.json"), models.MaxResults)

	require.NoError(t, s.Append(ctx, batch(1, models.MaxResults)))
	require.Len(t, s.ReadAll(ctx), models.MaxResults)

	require.NoError(t, s.Append(ctx, batch(101, 105)))
	all := s.ReadAll(ctx)
	require.Len(t, all, models.MaxResults)

	// The five newest first, then the previous entries minus the five oldest.
	assert.Equal(t, "job-105", all[0].JobID)
	assert.Equal(t, "job-101", all[4].JobID)
	assert.Equal(t, "job-100", all[5].JobID)
	assert.Equal(t, "job-6", all[len(all)-1].JobID)
}

func TestFileStoreMissingAndCorrupt(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "results.json")
	s := NewFileStore(path, 10)

	assert.NotNil(t, s.ReadAll(ctx))
	assert.Empty(t, s.ReadAll(ctx))

	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))
	assert.Empty(t, s.ReadAll(ctx))

	// A corrupt file is replaced on the next append.
	require.NoError(t, s.Append(ctx, batch(1, 2)))
	all := s.ReadAll(ctx)
	require.Len(t, all, 2)
	assert.Equal(t, "job-2", all[0].JobID)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var decoded []models.JobResult
	require.NoError(t, json.Unmarshal(data, &decoded))
}

func TestFileStorePersistError(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))

	s := NewFileStore(filepath.Join(blocker, "results.json"), 10)
	err := s.Append(context.Background(), batch(1, 1))
	assert.ErrorIs(t, err, ErrPersist)
}

func TestEncodeForPushOrder(t *testing.T) {
	values, err := encodeForPush(batch(1, 3))
	require.NoError(t, err)
	require.Len(t, values, 3)
	// LPUSH inserts left to right, so the oldest must go first.
	var first models.JobResult
	require.NoError(t, json.Unmarshal([]byte(values[0].(string)), &first))
	assert.Equal(t, "job-1", first.JobID)
}

func TestNewSelectsBackend(t *testing.T) {
	s, err := New(context.Background(), configFor("file", filepath.Join(t.TempDir(), "r.json")))
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, s)

	_, err = New(context.Background(), configFor("s3", ""))
	assert.Error(t, err)
}

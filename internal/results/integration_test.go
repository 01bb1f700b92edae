package results

import (
	"context"
	"os"
	"testing"

	"github.com/jordanhubbard/ensemble/pkg/config"
	"github.com/jordanhubbard/ensemble/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func configFor(backend, path string) config.ResultsConfig {
	return config.ResultsConfig{Backend: backend, Path: path, MaxResults: models.MaxResults}
}

func TestRedisStoreBound(t *testing.T) {
	url := os.Getenv("ENSEMBLE_TEST_REDIS_URL")
	if url == "" {
		t.Skip("Skipping: ENSEMBLE_TEST_REDIS_URL not set")
	}
	ctx := context.Background()
	s, err := NewRedisStore(ctx, url, "ensemble:test:"+t.Name(), 10)
	require.NoError(t, err)
	defer s.Close()
	defer s.client.Del(ctx, s.key)

	require.NoError(t, s.Append(ctx, batch(1, 10)))
	require.NoError(t, s.Append(ctx, batch(11, 13)))

	all := s.ReadAll(ctx)
	require.Len(t, all, 10)
	assert.Equal(t, "job-13", all[0].JobID)
	assert.Equal(t, "job-4", all[9].JobID)
}

func TestPostgresStoreBound(t *testing.T) {
	dsn := os.Getenv("ENSEMBLE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("Skipping: ENSEMBLE_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	s, err := NewPostgresStore(ctx, dsn, 10)
	require.NoError(t, err)
	defer s.Close()
	_, err = s.db.ExecContext(ctx, `TRUNCATE job_results`)
	require.NoError(t, err)

	require.NoError(t, s.Append(ctx, batch(1, 10)))
	require.NoError(t, s.Append(ctx, batch(11, 13)))

	all := s.ReadAll(ctx)
	require.Len(t, all, 10)
	assert.Equal(t, "job-13", all[0].JobID)
	assert.Equal(t, "job-4", all[9].JobID)
}

package messagebus

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jordanhubbard/ensemble/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeToken(t *testing.T) {
	tests := []struct{ in, want string }{
		{"morning-brief", "morning-brief"},
		{"a.b", "a_b"},
		{"ad hoc*", "ad_hoc_"},
		{"x>y", "x_y"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sanitizeToken(tt.in))
	}
}

func TestResultsSubject(t *testing.T) {
	mb := &NatsMessageBus{prefix: "ensemble"}
	assert.Equal(t, "ensemble.results.process_tasks", mb.ResultsSubject("process.tasks"))
}

func TestPublishSubscribe(t *testing.T) {
	url := os.Getenv("ENSEMBLE_TEST_NATS_URL")
	if url == "" {
		t.Skip("Skipping: ENSEMBLE_TEST_NATS_URL not set")
	}
	mb, err := NewNatsMessageBus(Config{URL: url, SubjectPrefix: "ensembletest"})
	require.NoError(t, err)
	defer mb.Close()

	got := make(chan *ResultsMessage, 1)
	sub, err := mb.SubscribeResults(func(m *ResultsMessage) { got <- m })
	require.NoError(t, err)
	defer sub.Unsubscribe()
	require.NoError(t, mb.Conn().Flush())

	require.NoError(t, mb.PublishResults(context.Background(), "brief", []models.JobResult{{JobID: "brief"}}))
	select {
	case m := <-got:
		assert.Equal(t, "brief", m.JobID)
		require.Len(t, m.Results, 1)
	case <-time.After(2 * time.Second):
		t.Fatal("no results message received")
	}
}

package messagebus

import (
	"context"

	"github.com/jordanhubbard/ensemble/pkg/models"
)

// ResultPublisher announces finished job results to other processes.
type ResultPublisher interface {
	PublishResults(ctx context.Context, jobID string, results []models.JobResult) error
}

// Verify NatsMessageBus implements the interface at compile time.
var _ ResultPublisher = (*NatsMessageBus)(nil)

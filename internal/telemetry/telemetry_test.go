package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTracerBeforeInit(t *testing.T) {
	// Without InitTelemetry spans come from the global no-op provider.
	_, span := Tracer().Start(context.Background(), "test")
	defer span.End()
	assert.False(t, span.SpanContext().IsSampled())
}

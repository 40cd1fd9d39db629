package speech

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

type queueMetrics struct {
	played metric.Int64Counter
	failed metric.Int64Counter
}

func newQueueMetrics() (*queueMetrics, error) {
	meter := otel.Meter("github.com/medport-labs/medvoice-core/speech")
	played, err := meter.Int64Counter("medvoice.speech.utterances_played",
		metric.WithDescription("Utterances that completed playback"))
	if err != nil {
		return nil, err
	}
	failed, err := meter.Int64Counter("medvoice.speech.utterances_failed",
		metric.WithDescription("Utterances dropped during synthesis or playback"))
	if err != nil {
		return nil, err
	}
	return &queueMetrics{played: played, failed: failed}, nil
}

func (m *queueMetrics) recordPlayed(ctx context.Context) {
	if m == nil {
		return
	}
	m.played.Add(ctx, 1)
}

func (m *queueMetrics) recordFailed(ctx context.Context) {
	if m == nil {
		return
	}
	m.failed.Add(ctx, 1)
}

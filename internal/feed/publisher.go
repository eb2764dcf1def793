package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"CreditLedger/internal/engine"
	"CreditLedger/internal/observability"
)

// publishedEnvelope is the outbound wire format. Payload carries the
// already-encoded event body verbatim.
type publishedEnvelope struct {
	Sequence  int64           `json:"sequence"`
	RequestID uuid.UUID       `json:"request_id"`
	Kind      string          `json:"kind"`
	Vault     *string         `json:"vault,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Publisher drains the engine's event channel and publishes each
// envelope to a per-kind subject under ledger.events.
type Publisher struct {
	js      jetstream.JetStream
	input   <-chan engine.Output
	metrics *observability.Metrics
	log     zerolog.Logger
}

func NewPublisher(js jetstream.JetStream, input <-chan engine.Output, metrics *observability.Metrics, log zerolog.Logger) *Publisher {
	return &Publisher{
		js:      js,
		input:   input,
		metrics: metrics,
		log:     log.With().Str("component", "event_publisher").Logger(),
	}
}

// Run publishes until ctx is cancelled or the input channel closes.
// Publish failures are logged and counted; the event stream is
// best-effort on top of the durable Postgres log.
func (p *Publisher) Run(ctx context.Context) error {
	p.log.Info().Msg("event publisher started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out, ok := <-p.input:
			if !ok {
				p.log.Info().Msg("event channel closed, publisher stopping")
				return nil
			}
			p.publish(ctx, out)
		}
	}
}

func (p *Publisher) publish(ctx context.Context, out engine.Output) {
	env := publishedEnvelope{
		Sequence:  out.Envelope.Sequence,
		RequestID: out.Envelope.RequestID,
		Kind:      out.Envelope.Kind.String(),
		Vault:     out.Envelope.Vault,
		Timestamp: out.Envelope.Timestamp,
		Payload:   json.RawMessage(out.Envelope.Payload),
	}
	data, err := json.Marshal(env)
	if err != nil {
		p.metrics.PublishErrors.Inc()
		p.log.Error().Err(err).Int64("sequence", env.Sequence).Msg("encode envelope")
		return
	}

	subject := fmt.Sprintf("ledger.events.%s", env.Kind)
	if _, err := p.js.Publish(ctx, subject, data); err != nil {
		p.metrics.PublishErrors.Inc()
		p.log.Error().Err(err).
			Str("subject", subject).
			Int64("sequence", env.Sequence).
			Msg("publish event")
		return
	}
	p.metrics.EventsPublished.WithLabelValues(env.Kind).Inc()
}

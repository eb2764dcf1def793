package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"CreditLedger/internal/observability"
	"CreditLedger/internal/oracle"
)

// PriceMessage is the wire format for inbound oracle prices.
type PriceMessage struct {
	Symbol    string          `json:"symbol"`
	PriceUSD  decimal.Decimal `json:"price_usd"`
	Timestamp time.Time       `json:"timestamp"`
}

// PriceSubscriber consumes the price stream and keeps the oracle cache
// current. Malformed or rejected messages are terminated rather than
// redelivered.
type PriceSubscriber struct {
	js      jetstream.JetStream
	cache   *oracle.Cache
	metrics *observability.Metrics
	log     zerolog.Logger
}

func NewPriceSubscriber(js jetstream.JetStream, cache *oracle.Cache, metrics *observability.Metrics, log zerolog.Logger) *PriceSubscriber {
	return &PriceSubscriber{
		js:      js,
		cache:   cache,
		metrics: metrics,
		log:     log.With().Str("component", "price_subscriber").Logger(),
	}
}

// Run consumes price messages until ctx is cancelled.
func (s *PriceSubscriber) Run(ctx context.Context) error {
	consumer, err := s.js.CreateOrUpdateConsumer(ctx, PriceStream, jetstream.ConsumerConfig{
		Durable:       "ledger-prices",
		FilterSubject: PriceSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
	})
	if err != nil {
		return fmt.Errorf("create price consumer: %w", err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		symbol, err := s.handle(msg.Data())
		if err != nil {
			s.metrics.PriceFeedErrors.Inc()
			s.log.Warn().Err(err).Str("subject", msg.Subject()).Msg("rejected price message")
			_ = msg.Term()
			return
		}
		s.metrics.PriceUpdates.WithLabelValues(symbol).Inc()
		_ = msg.Ack()
	})
	if err != nil {
		return fmt.Errorf("consume prices: %w", err)
	}
	defer cc.Stop()

	s.log.Info().Str("stream", PriceStream).Msg("price subscriber started")
	<-ctx.Done()
	return ctx.Err()
}

func (s *PriceSubscriber) handle(data []byte) (string, error) {
	var pm PriceMessage
	if err := json.Unmarshal(data, &pm); err != nil {
		return "", fmt.Errorf("decode price: %w", err)
	}
	if pm.Symbol == "" {
		return "", fmt.Errorf("price message missing symbol")
	}
	at := pm.Timestamp
	if at.IsZero() {
		at = time.Now()
	}
	if err := s.cache.Put(pm.Symbol, pm.PriceUSD, at); err != nil {
		return "", fmt.Errorf("cache put %s: %w", pm.Symbol, err)
	}
	return pm.Symbol, nil
}

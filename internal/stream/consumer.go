// Package stream reads the CDC trade topic, normalizes raw payloads, and
// fans events out across trader-partitioned workers.
package stream

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"fx-cortex/internal/domain"
	"fx-cortex/internal/normalizer"
	"fx-cortex/internal/observability"
	"fx-cortex/internal/symbols"
)

// ConsumerOptions configures a Consumer.
type ConsumerOptions struct {
	Brokers []string
	Topic   string
	GroupID string

	// DeadLetterTopic receives malformed payloads verbatim, annotated with
	// the rejection reason. Empty disables dead-lettering (events are only
	// counted and logged).
	DeadLetterTopic string

	Normalizer    *normalizer.Normalizer
	Canonicalizer *symbols.Canonicalizer
	Pool          *Pool
	Logger        *zap.Logger
}

// Consumer is the single reader for the raw CDC topic. It owns no trader
// state; everything stateful lives behind the pool's partition boundary.
type Consumer struct {
	reader     *kafka.Reader
	deadLetter *kafka.Writer

	normalizer    *normalizer.Normalizer
	canonicalizer *symbols.Canonicalizer
	pool          *Pool
	log           *zap.Logger
}

// NewConsumer creates a Consumer.
func NewConsumer(opts ConsumerOptions) *Consumer {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  opts.Brokers,
		Topic:    opts.Topic,
		GroupID:  opts.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})

	var deadLetter *kafka.Writer
	if opts.DeadLetterTopic != "" {
		deadLetter = &kafka.Writer{
			Addr:     kafka.TCP(opts.Brokers...),
			Topic:    opts.DeadLetterTopic,
			Balancer: &kafka.LeastBytes{},
		}
	}

	return &Consumer{
		reader:        reader,
		deadLetter:    deadLetter,
		normalizer:    opts.Normalizer,
		canonicalizer: opts.Canonicalizer,
		pool:          opts.Pool,
		log:           opts.Logger,
	}
}

// Run reads messages until the context is cancelled. Malformed payloads go
// to the dead-letter topic; unknown tables are counted and skipped; neither
// stalls the stream.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			c.log.Error("read message", zap.Error(err))
			continue
		}

		if err := c.process(ctx, msg); err != nil {
			return err
		}
	}
}

func (c *Consumer) process(ctx context.Context, msg kafka.Message) error {
	ev, err := c.normalizer.Normalize(msg.Value)

	var malformed *normalizer.MalformedEventError
	if errors.As(err, &malformed) {
		observability.RecordMalformedEvent()
		c.log.Warn("malformed event",
			zap.Int64("offset", msg.Offset),
			zap.Int("partition", msg.Partition),
			zap.String("reason", malformed.Reason),
		)
		c.sendDeadLetter(ctx, msg, malformed.Reason)
		return nil
	}

	var unknown *normalizer.UnknownEntityError
	if errors.As(err, &unknown) {
		observability.RecordUnknownEntity(unknown.Table)
		c.log.Debug("unknown entity table", zap.String("table", unknown.Table))
		return nil
	}
	if err != nil {
		c.log.Error("normalize event", zap.Int64("offset", msg.Offset), zap.Error(err))
		return nil
	}

	if ev.SourcePartition == 0 {
		ev.SourcePartition = msg.Partition
	}
	c.canonicalizeSymbols(ev)

	return c.pool.Dispatch(ctx, ev)
}

// canonicalizeSymbols rewrites trade symbols to their canonical form before
// any state is touched, so raw variants never leak into aggregation keys.
func (c *Consumer) canonicalizeSymbols(ev *domain.ChangeEvent) {
	if c.canonicalizer == nil || ev.Entity != domain.EntityTrade {
		return
	}
	for _, t := range []*domain.Trade{ev.TradeBefore, ev.TradeAfter} {
		if t == nil || t.Symbol == "" {
			continue
		}
		canonical, fallback := c.canonicalizer.Canonicalize(t.Symbol)
		if fallback {
			observability.RecordFallbackSymbol()
			c.log.Debug("fallback symbol canonicalization",
				zap.String("raw", t.Symbol),
				zap.String("canonical", canonical),
			)
		}
		t.Symbol = canonical
	}
}

func (c *Consumer) sendDeadLetter(ctx context.Context, msg kafka.Message, reason string) {
	if c.deadLetter == nil {
		return
	}
	dlm := kafka.Message{
		Key:   msg.Key,
		Value: msg.Value,
		Headers: []kafka.Header{
			{Key: "dlq-reason", Value: []byte(reason)},
			{Key: "dlq-source-topic", Value: []byte(msg.Topic)},
			{Key: "dlq-source-offset", Value: []byte(strconv.FormatInt(msg.Offset, 10))},
			{Key: "dlq-time", Value: []byte(time.Now().UTC().Format(time.RFC3339))},
		},
	}
	if err := c.deadLetter.WriteMessages(ctx, dlm); err != nil {
		c.log.Error("write dead letter", zap.Int64("offset", msg.Offset), zap.Error(err))
	}
}

// Close releases the reader and the dead-letter writer.
func (c *Consumer) Close() error {
	var errs []error
	if err := c.reader.Close(); err != nil {
		errs = append(errs, err)
	}
	if c.deadLetter != nil {
		if err := c.deadLetter.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

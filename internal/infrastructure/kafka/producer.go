package kafka

import (
	"context"
	"errors"
	"strings"
	"time"

	"chainlens/internal/domain"
	"chainlens/internal/infrastructure/telemetry"
	"chainlens/internal/streaming"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Producer mirrors stored transaction batches onto a Kafka topic so
// downstream consumers can follow the firehose without querying the store.
type Producer struct {
	writer *kafka.Writer
	topic  string
}

type ProducerConfig struct {
	Brokers []string
	Topic   string
}

func NewProducer(cfg ProducerConfig) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		cfg.Topic = "chainlens-transactions"
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 500 * time.Millisecond,
	}
	return &Producer{writer: writer, topic: cfg.Topic}, nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

func (p *Producer) PublishTransactions(ctx context.Context, transactions []domain.Transaction) error {
	if len(transactions) == 0 {
		return nil
	}
	tracer := otel.Tracer("chainlens/kafka")
	messages := make([]kafka.Message, 0, len(transactions))
	spans := make([]trace.Span, 0, len(transactions))
	for idx := range transactions {
		tx := transactions[idx]
		traceID, traceIDHex, ok := telemetry.NewTraceID()
		traceCtx := ctx
		if ok {
			if spanCtx, ok := telemetry.NewSpanContext(traceID); ok {
				traceCtx = trace.ContextWithSpanContext(ctx, spanCtx)
			}
		}
		traceCtx, span := tracer.Start(traceCtx, "ingest.publish_transaction", trace.WithSpanKind(trace.SpanKindProducer))
		span.SetAttributes(
			attribute.String("tx.hash", tx.Hash),
			attribute.Int64("block.number", int64(tx.BlockNumber)),
		)

		payload, err := streaming.Encode(streaming.Message{
			Type:        streaming.MessageTypeTransaction,
			TraceID:     traceIDHex,
			Transaction: &tx,
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.End()
			return err
		}
		headers := make([]kafka.Header, 0, 2)
		telemetry.InjectKafkaHeaders(traceCtx, &headers)
		messages = append(messages, kafka.Message{
			Key:     []byte(tx.Hash),
			Value:   payload,
			Headers: headers,
		})
		spans = append(spans, span)
	}

	err := p.writer.WriteMessages(ctx, messages...)
	if err != nil {
		for _, span := range spans {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}
	for _, span := range spans {
		span.End()
	}
	return err
}

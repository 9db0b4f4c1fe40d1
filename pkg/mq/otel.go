package mq

import (
	"context"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("bulksms.rabbitmq")

	instrumentsOnce sync.Once
	mqMessagesTotal metric.Int64Counter
)

func messagesCounter() metric.Int64Counter {
	instrumentsOnce.Do(func() {
		mqMessagesTotal, _ = otel.Meter("bulksms.rabbitmq").Int64Counter(
			"rabbitmq.messages.total",
			metric.WithDescription("Total number of RabbitMQ messages published or consumed"),
			metric.WithUnit("{message}"),
		)
	})
	return mqMessagesTotal
}

// HeaderCarrier 把 amqp.Table 适配为 propagation.TextMapCarrier
type HeaderCarrier amqp.Table

func (c HeaderCarrier) Get(key string) string {
	if v, ok := c[key].(string); ok {
		return v
	}
	return ""
}

func (c HeaderCarrier) Set(key, value string) {
	c[key] = value
}

func (c HeaderCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

// StartPublish 开启发布 span，并把追踪上下文注入消息头
func StartPublish(ctx context.Context, queue string, msg *amqp.Publishing) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, "rabbitmq.publish "+queue,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			semconv.MessagingSystem("rabbitmq"),
			semconv.MessagingDestinationName(queue),
		),
	)

	if msg.Headers == nil {
		msg.Headers = amqp.Table{}
	}
	otel.GetTextMapPropagator().Inject(ctx, HeaderCarrier(msg.Headers))
	return ctx, span
}

// StartConsume 从消息头还原上游上下文并开启处理 span
func StartConsume(ctx context.Context, queue string, msg amqp.Delivery) (context.Context, trace.Span) {
	if msg.Headers != nil {
		ctx = otel.GetTextMapPropagator().Extract(ctx, HeaderCarrier(msg.Headers))
	}
	return tracer.Start(ctx, "rabbitmq.process "+queue,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			semconv.MessagingSystem("rabbitmq"),
			semconv.MessagingDestinationName(queue),
			semconv.MessagingMessageID(msg.MessageId),
		),
	)
}

// End 结束 span 并计数
func End(ctx context.Context, span trace.Span, operation, queue string, err error) {
	status := "success"
	if err != nil {
		status = "error"
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
	}
	span.End()

	messagesCounter().Add(ctx, 1, metric.WithAttributes(
		attribute.String("messaging.operation", operation),
		attribute.String("messaging.destination.name", queue),
		attribute.String("messaging.status", status),
	))
}

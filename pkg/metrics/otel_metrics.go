package metrics

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetrics 群发链路的指标集合
type OTelMetrics struct {
	CampaignDispatchTotal metric.Int64Counter
	JobsEnqueuedTotal     metric.Int64Counter

	SMSSentTotal    metric.Int64Counter
	SMSSendDuration metric.Float64Histogram

	CreditsReservedTotal metric.Int64Counter
	CreditsRefundedTotal metric.Int64Counter

	DeliveryUpdatesTotal metric.Int64Counter
	DuplicateJobsTotal   metric.Int64Counter
}

var metrics *OTelMetrics

// InitMetrics 使用全局 MeterProvider 创建指标，需在 otel 初始化之后调用
func InitMetrics() error {
	meter := otel.Meter("bulksms")
	m := &OTelMetrics{}
	var err error

	if m.CampaignDispatchTotal, err = meter.Int64Counter(
		"campaign_dispatch_total",
		metric.WithDescription("Campaign dispatch attempts by outcome"),
		metric.WithUnit("{campaign}"),
	); err != nil {
		return err
	}

	if m.JobsEnqueuedTotal, err = meter.Int64Counter(
		"sms_jobs_enqueued_total",
		metric.WithDescription("Send jobs accepted by the queue"),
		metric.WithUnit("{job}"),
	); err != nil {
		return err
	}

	if m.SMSSentTotal, err = meter.Int64Counter(
		"sms_sent_total",
		metric.WithDescription("Provider send attempts by status"),
		metric.WithUnit("{sms}"),
	); err != nil {
		return err
	}

	if m.SMSSendDuration, err = meter.Float64Histogram(
		"sms_send_duration_seconds",
		metric.WithDescription("Time spent in provider send calls"),
		metric.WithUnit("s"),
	); err != nil {
		return err
	}

	if m.CreditsReservedTotal, err = meter.Int64Counter(
		"credits_reserved_total",
		metric.WithDescription("Credits debited for campaign dispatch"),
		metric.WithUnit("{credit}"),
	); err != nil {
		return err
	}

	if m.CreditsRefundedTotal, err = meter.Int64Counter(
		"credits_refunded_total",
		metric.WithDescription("Credits returned by compensating refunds"),
		metric.WithUnit("{credit}"),
	); err != nil {
		return err
	}

	if m.DeliveryUpdatesTotal, err = meter.Int64Counter(
		"sms_delivery_updates_total",
		metric.WithDescription("Delivery state transitions applied"),
		metric.WithUnit("{update}"),
	); err != nil {
		return err
	}

	if m.DuplicateJobsTotal, err = meter.Int64Counter(
		"sms_duplicate_jobs_total",
		metric.WithDescription("Jobs skipped by deduplication"),
		metric.WithUnit("{job}"),
	); err != nil {
		return err
	}

	metrics = m
	return nil
}

func GetMetrics() *OTelMetrics {
	return metrics
}

// 以下包级函数在未初始化时为空操作

func RecordDispatch(ctx context.Context, outcome string, recipients int64) {
	if metrics == nil {
		return
	}
	metrics.CampaignDispatchTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	if outcome == "queued" && recipients > 0 {
		metrics.JobsEnqueuedTotal.Add(ctx, recipients)
	}
}

func RecordSMSSend(ctx context.Context, provider, status string, seconds float64) {
	if metrics == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("status", status),
	)
	metrics.SMSSentTotal.Add(ctx, 1, attrs)
	metrics.SMSSendDuration.Record(ctx, seconds, attrs)
}

func RecordReserve(ctx context.Context, amount int64) {
	if metrics == nil || amount <= 0 {
		return
	}
	metrics.CreditsReservedTotal.Add(ctx, amount)
}

func RecordRefund(ctx context.Context, amount int64) {
	if metrics == nil || amount <= 0 {
		return
	}
	metrics.CreditsRefundedTotal.Add(ctx, amount)
}

func RecordDeliveryUpdate(ctx context.Context, state string) {
	if metrics == nil {
		return
	}
	metrics.DeliveryUpdatesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("state", state)))
}

func RecordDuplicateJob(ctx context.Context, kind string) {
	if metrics == nil {
		return
	}
	metrics.DuplicateJobsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

package middleware

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/config"
	hertztracing "github.com/hertz-contrib/obs-opentelemetry/tracing"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// httpMetrics API 层指标，路由标签使用注册时的模板避免 ID 撑爆基数
type httpMetrics struct {
	requests metric.Int64Counter
	duration metric.Float64Histogram
	active   metric.Int64UpDownCounter
	bodySize metric.Int64Histogram
}

var apiMetrics *httpMetrics

// InitMetrics 注册 HTTP 指标
func InitMetrics(meter metric.Meter) error {
	m := &httpMetrics{}
	var err error

	if m.requests, err = meter.Int64Counter(
		"bulksms.http.requests",
		metric.WithDescription("HTTP requests by route and status class"),
		metric.WithUnit("{request}"),
	); err != nil {
		return err
	}

	if m.duration, err = meter.Float64Histogram(
		"bulksms.http.duration",
		metric.WithDescription("HTTP request duration"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	); err != nil {
		return err
	}

	if m.active, err = meter.Int64UpDownCounter(
		"bulksms.http.active_requests",
		metric.WithDescription("In-flight HTTP requests"),
		metric.WithUnit("{request}"),
	); err != nil {
		return err
	}

	if m.bodySize, err = meter.Int64Histogram(
		"bulksms.http.response.size",
		metric.WithDescription("HTTP response body size"),
		metric.WithUnit("By"),
	); err != nil {
		return err
	}

	apiMetrics = m
	return nil
}

// statusClass 2xx/4xx/5xx
func statusClass(code int) string {
	return strconv.Itoa(code/100) + "xx"
}

// routeOf 返回路由模板，如 /v1/stores/:store_id/campaigns/:campaign_id/send；未命中路由时归为 unmatched
func routeOf(c *app.RequestContext) string {
	if route := c.FullPath(); route != "" {
		return route
	}
	return "unmatched"
}

// OpenTelemetryMiddleware 为每个请求创建 span 并记录 API 指标
func OpenTelemetryMiddleware() app.HandlerFunc {
	tracer := otel.Tracer("bulksms/http")
	metricsOnce.Do(func() { _ = InitMetrics(otel.Meter("bulksms/http")) })
	m := apiMetrics

	return func(ctx context.Context, c *app.RequestContext) {
		start := time.Now()
		method := strings.ToValidUTF8(string(c.Method()), "")
		route := routeOf(c)

		if m != nil {
			m.active.Add(ctx, 1)
			defer m.active.Add(ctx, -1)
		}

		spanCtx, span := tracer.Start(ctx, method+" "+route,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				semconv.HTTPMethod(method),
				semconv.HTTPRoute(route),
				attribute.String("http.user_agent", strings.ToValidUTF8(string(c.UserAgent()), "")),
			),
		)
		defer span.End()

		for _, p := range []struct{ param, attr string }{
			{"store_id", "store.id"},
			{"campaign_id", "campaign.id"},
		} {
			if v := c.Param(p.param); v != "" {
				span.SetAttributes(attribute.String(p.attr, strings.ToValidUTF8(v, "")))
			}
		}
		if requestID := c.GetHeader("X-Request-Id"); len(requestID) > 0 {
			span.SetAttributes(attribute.String("http.request_id", strings.ToValidUTF8(string(requestID), "")))
		}

		c.Next(spanCtx)

		status := c.Response.StatusCode()
		elapsed := time.Since(start).Seconds()
		span.SetAttributes(semconv.HTTPStatusCode(status))

		switch {
		case status >= 500:
			span.SetStatus(codes.Error, "server error")
			if lastErr := c.Errors.Last(); lastErr != nil {
				span.RecordError(lastErr)
			}
		case status >= 400:
			// 客户端错误（额度不足、状态冲突）不标记 span 失败
			span.SetAttributes(attribute.Bool("http.client_error", true))
		default:
			span.SetStatus(codes.Ok, "")
		}

		if m == nil {
			return
		}
		labels := metric.WithAttributes(
			semconv.HTTPMethod(method),
			semconv.HTTPRoute(route),
			attribute.String("http.status_class", statusClass(status)),
		)
		m.requests.Add(ctx, 1, labels)
		m.duration.Record(ctx, elapsed, labels)
		if size := int64(len(c.Response.Body())); size > 0 {
			m.bodySize.Record(ctx, size, labels)
		}
	}
}

// NewServerTracerConfig hertz server 的追踪选项与中间件，需在 server.Default 时传入
func NewServerTracerConfig(opts ...hertztracing.Option) (config.Option, app.HandlerFunc) {
	tracer, cfg := hertztracing.NewServerTracer(opts...)
	return tracer, hertztracing.ServerMiddleware(cfg)
}

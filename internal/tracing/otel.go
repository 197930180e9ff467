package tracing

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

var (
	providerOnce sync.Once
	providerMu   sync.RWMutex
	provider     *sdktrace.TracerProvider
	providerErr  error
)

// InitOpenTelemetry installs the process-wide tracer provider under the
// given service name. Repeated calls return the first outcome.
func InitOpenTelemetry(serviceName string) error {
	providerOnce.Do(func() {
		res, err := resource.New(
			context.Background(),
			resource.WithAttributes(semconv.ServiceName(serviceName)),
		)
		if err != nil {
			providerErr = err
			return
		}

		tp := sdktrace.NewTracerProvider(
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(1))),
			sdktrace.WithResource(res),
		)

		providerMu.Lock()
		provider = tp
		providerMu.Unlock()

		otel.SetTracerProvider(tp)
	})

	return providerErr
}

// ShutdownOpenTelemetry flushes and shuts down the provider installed by
// InitOpenTelemetry. A no-op when tracing was never initialized.
func ShutdownOpenTelemetry(ctx context.Context) error {
	providerMu.RLock()
	tp := provider
	providerMu.RUnlock()
	if tp == nil {
		return nil
	}
	return tp.Shutdown(ctx)
}

// contextAttributes converts the context's correlation identifiers into
// span attributes, the span-side counterpart of PropagateToLogger.
func contextAttributes(ctx context.Context) []attribute.KeyValue {
	tc := FromContext(ctx)
	attrs := make([]attribute.KeyValue, 0, 5)

	if tc.RunID != "" {
		attrs = append(attrs, attribute.String("run_id", tc.RunID))
	}
	if tc.StepID != "" {
		attrs = append(attrs, attribute.String("step_id", tc.StepID))
	}
	if tc.JobID != "" {
		attrs = append(attrs, attribute.String("job_id", tc.JobID))
	}
	if tc.TenantID != "" {
		attrs = append(attrs, attribute.String("tenant_id", tc.TenantID))
	}
	if tc.AgentID != "" {
		attrs = append(attrs, attribute.String("agent_id", tc.AgentID))
	}
	return attrs
}

// StartSpan starts a span on the named tracer, tagging it with the
// context's correlation identifiers plus any caller attributes, and
// backfills the context trace ID from the span when none is set yet.
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}

	spanAttrs := append(contextAttributes(ctx), attrs...)
	ctx, span := otel.Tracer(tracerName).Start(ctx, spanName, trace.WithAttributes(spanAttrs...))

	if GetTraceID(ctx) == "" {
		if sc := span.SpanContext(); sc.IsValid() {
			ctx = WithTraceID(ctx, sc.TraceID().String())
		}
	}

	return ctx, span
}

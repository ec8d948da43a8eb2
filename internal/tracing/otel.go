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

// TracerPrefix names every tracer as insightx/<component>.
const TracerPrefix = "insightx/"

// Telemetry describes the process for the tracer provider
type Telemetry struct {
	Version     string
	Environment string
	// SampleRatio is the share of turns traced. Child spans follow their turn.
	SampleRatio float64
}

var (
	providerOnce sync.Once
	providerMu   sync.RWMutex
	provider     *sdktrace.TracerProvider
	providerErr  error
)

// InitOpenTelemetry installs the process tracer provider. Only the first call has effect.
func InitOpenTelemetry(t Telemetry) error {
	providerOnce.Do(func() {
		attrs := []attribute.KeyValue{semconv.ServiceName("insightx")}
		if t.Version != "" {
			attrs = append(attrs, semconv.ServiceVersion(t.Version))
		}
		if t.Environment != "" {
			attrs = append(attrs, semconv.DeploymentEnvironment(t.Environment))
		}

		res, err := resource.New(context.Background(), resource.WithAttributes(attrs...))
		if err != nil {
			providerErr = err
			return
		}

		tp := sdktrace.NewTracerProvider(
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(t.SampleRatio))),
			sdktrace.WithResource(res),
		)

		providerMu.Lock()
		provider = tp
		providerMu.Unlock()

		otel.SetTracerProvider(tp)
	})

	return providerErr
}

// ShutdownOpenTelemetry flushes pending spans.
func ShutdownOpenTelemetry(ctx context.Context) error {
	providerMu.RLock()
	tp := provider
	providerMu.RUnlock()
	if tp == nil {
		return nil
	}
	return tp.Shutdown(ctx)
}

// StartSpan opens a span on the component's tracer. The turn, session and agent ids in
// ctx are attached to the span, and a trace id is stored in ctx if it has none yet.
func StartSpan(ctx context.Context, component, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := otel.Tracer(TracerPrefix+component).Start(ctx, spanName,
		trace.WithAttributes(append(turnAttributes(ctx), attrs...)...))

	if GetTraceID(ctx) == "" {
		if sc := span.SpanContext(); sc.IsValid() {
			ctx = WithTraceID(ctx, sc.TraceID().String())
		} else {
			ctx = WithTraceID(ctx, NewTraceID())
		}
	}

	return ctx, span
}

func turnAttributes(ctx context.Context) []attribute.KeyValue {
	tc := FromContext(ctx)
	var attrs []attribute.KeyValue
	if tc.TurnID != "" {
		attrs = append(attrs, attribute.String("insightx.turn_id", tc.TurnID))
	}
	if tc.SessionID != "" {
		attrs = append(attrs, attribute.String("insightx.session_id", tc.SessionID))
	}
	if tc.AgentID != "" {
		attrs = append(attrs, attribute.String("insightx.agent_id", tc.AgentID))
	}
	return attrs
}

// Package tracing provides the ACP provider core's tracer, shared across
// process spawning and prompt streaming spans. The hosting application may
// call Init to install an SDK-backed provider; until it does (or installs
// its own via otel.SetTracerProvider), Tracer returns the otel package's
// default no-op tracer, so tracing is zero-overhead when unconfigured.
package tracing

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const serviceName = "deepchat-acp-core"

var (
	initOnce    sync.Once
	sdkProvider *sdktrace.TracerProvider
)

// Init installs an SDK-backed TracerProvider as the global provider. Spans
// are recorded but not exported anywhere; the hosting application is
// expected to register its own span processor/exporter on top if it wants
// spans to leave the process. Safe to call multiple times; only the first
// call takes effect.
func Init() {
	initOnce.Do(func() {
		res, err := resource.New(context.Background(),
			resource.WithAttributes(semconv.ServiceName(serviceName)),
		)
		if err != nil {
			res = resource.Default()
		}
		sdkProvider = sdktrace.NewTracerProvider(sdktrace.WithResource(res))
		otel.SetTracerProvider(sdkProvider)
	})
}

// Tracer returns a named tracer from whatever TracerProvider is currently
// installed globally (otel.SetTracerProvider), falling back to otel's
// built-in no-op provider if none has been installed.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// Shutdown flushes and releases the provider installed by Init. It has no
// effect if Init was never called.
func Shutdown(ctx context.Context) error {
	if sdkProvider != nil {
		return sdkProvider.Shutdown(ctx)
	}
	return nil
}

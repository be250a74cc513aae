// Package tracer starts spans on the process-wide tracer provider.
package tracer

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	otelsetup "github.com/astro-web3/spacecat-auth/pkg/otel"
)

const instrumentationName = "github.com/astro-web3/spacecat-auth"

var (
	initOnce sync.Once
	errInit  error
)

// InitTracer configures exporting once per process. Start works before and
// without it, producing non-recording spans.
func InitTracer(ctx context.Context, serviceName string, cfg otelsetup.Config) error {
	initOnce.Do(func() {
		cfg.ServiceName = serviceName
		errInit = otelsetup.Setup(ctx, cfg)
	})
	return errInit
}

func Start(ctx context.Context, spanName string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, spanName, opts...)
}

package cmd

import (
	"context"
	"log/slog"

	"github.com/dukex/flowpilot/pkg/otelhelper"
	"go.opentelemetry.io/otel/trace"
)

// NewTracer falls back to a no-op tracer when tracing is disabled or the exporter cannot start.
func NewTracer(ctx context.Context, logger *slog.Logger, serviceName string, enabled bool) trace.Tracer {
	if !enabled {
		return otelhelper.NoopTracer()
	}

	tracer, err := otelhelper.NewTracer(ctx, serviceName)
	if err != nil {
		logger.Warn("Tracing disabled", "error", err)

		return otelhelper.NoopTracer()
	}

	return tracer
}

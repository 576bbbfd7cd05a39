package backend

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/nextlevelbuilder/cellstore/internal/backend"

// Traced records a span around every read and write on b using the global
// tracer provider.
func Traced(b Backend) Backend {
	return &traced{inner: b, tracer: otel.Tracer(tracerName)}
}

type traced struct {
	inner  Backend
	tracer trace.Tracer
}

func (t *traced) Name() string { return t.inner.Name() }

func (t *traced) Read(ctx context.Context) (string, bool, error) {
	ctx, span := t.tracer.Start(ctx, "backend.read",
		trace.WithAttributes(attribute.String("backend.name", t.inner.Name())))
	defer span.End()

	data, ok, err := t.inner.Read(ctx)
	span.SetAttributes(attribute.Bool("backend.found", ok), attribute.Int("backend.bytes", len(data)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return data, ok, err
}

func (t *traced) Write(ctx context.Context, data string) error {
	ctx, span := t.tracer.Start(ctx, "backend.write",
		trace.WithAttributes(
			attribute.String("backend.name", t.inner.Name()),
			attribute.Int("backend.bytes", len(data)),
		))
	defer span.End()

	err := t.inner.Write(ctx, data)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

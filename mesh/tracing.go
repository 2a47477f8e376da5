package mesh

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name every span is recorded
// under.
const tracerName = "github.com/relaymesh/meshrt/mesh"

// StartDispatchSpan opens a span covering one command's journey from
// dispatch to settled result, linking the in-path and out-path hops a
// cross-app fan-out produces. Callers must End() the returned span once the
// result (or timeout) is known.
func StartDispatchSpan(ctx context.Context, cmd *Message) (context.Context, trace.Span) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "mesh.dispatch_cmd",
		trace.WithAttributes(
			attribute.String("mesh.cmd_name", cmd.Name),
			attribute.String("mesh.cmd_id", cmd.CmdID),
			attribute.String("mesh.src", cmd.Src.String()),
		),
	)
	if len(cmd.Dest) > 0 {
		span.SetAttributes(attribute.String("mesh.dest", cmd.Dest[0].String()))
	}
	return ctx, span
}

// EndDispatchSpan records the settled result's status on span and ends it.
func EndDispatchSpan(span trace.Span, result *Message, err error) {
	defer span.End()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	if result != nil && result.Status == StatusError {
		span.SetStatus(codes.Error, "cmd_result status=error")
	} else {
		span.SetStatus(codes.Ok, "")
	}
}

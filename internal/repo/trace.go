package repo

import (
	"context"

	"gopkg.in/DataDog/dd-trace-go.v1/ddtrace/tracer"
)

func startSpan(ctx context.Context, system, op string) (tracer.Span, context.Context) {
	return tracer.StartSpanFromContext(ctx, system+".accounts."+op,
		tracer.ResourceName(op),
		tracer.Tag("db.system", system),
	)
}

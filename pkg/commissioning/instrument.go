package commissioning

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationScope = "github.com/backkem/matter-autocommissioner/pkg/commissioning"

// flowInstruments traces a flow and its stages through the global OTel
// providers. With the default no-op providers this costs nothing.
type flowInstruments struct {
	tracer   trace.Tracer
	steps    metric.Int64Counter
	failures metric.Int64Counter
	duration metric.Float64Histogram

	flowCtx   context.Context
	flowSpan  trace.Span
	stageSpan trace.Span
	stage     Stage
	started   time.Time
}

func newFlowInstruments() *flowInstruments {
	m := otel.Meter(instrumentationScope)
	steps, _ := m.Int64Counter("commissioning.steps",
		metric.WithDescription("Commissioning steps dispatched"),
	)
	failures, _ := m.Int64Counter("commissioning.step.failures",
		metric.WithDescription("Commissioning steps reported as failed"),
	)
	duration, _ := m.Float64Histogram("commissioning.step.duration",
		metric.WithDescription("Time from dispatch to completion of a commissioning step"),
		metric.WithUnit("ms"),
	)
	return &flowInstruments{
		tracer:   otel.Tracer(instrumentationScope),
		steps:    steps,
		failures: failures,
		duration: duration,
		flowCtx:  context.Background(),
	}
}

func (f *flowInstruments) startFlow(flowID string, transport TransportType) {
	f.flowCtx, f.flowSpan = f.tracer.Start(context.Background(), "commissioning.flow",
		trace.WithAttributes(
			attribute.String("commissioning.flow_id", flowID),
			attribute.String("commissioning.transport", transport.String()),
		),
	)
}

func (f *flowInstruments) beginStage(step Step) {
	attrs := []attribute.KeyValue{attribute.String("commissioning.stage", step.Stage.String())}
	_, f.stageSpan = f.tracer.Start(f.flowCtx, "commissioning."+step.Stage.String(),
		trace.WithAttributes(append(attrs,
			attribute.Int64("commissioning.timeout_ms", step.Timeout.Milliseconds()),
			attribute.Int("commissioning.endpoint", int(step.Endpoint)),
		)...),
	)
	f.stage = step.Stage
	f.started = time.Now()
	if f.steps != nil {
		f.steps.Add(f.flowCtx, 1, metric.WithAttributes(attrs...))
	}
}

func (f *flowInstruments) endStage(err error, absorbed bool) {
	if f.stageSpan == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("commissioning.stage", f.stage.String()))
	if f.duration != nil {
		f.duration.Record(f.flowCtx, float64(time.Since(f.started).Milliseconds()), attrs)
	}
	if err != nil {
		f.stageSpan.RecordError(err)
		if absorbed {
			f.stageSpan.SetAttributes(attribute.Bool("commissioning.absorbed", true))
		} else {
			f.stageSpan.SetStatus(codes.Error, err.Error())
		}
		if f.failures != nil {
			f.failures.Add(f.flowCtx, 1, attrs)
		}
	}
	f.stageSpan.End()
	f.stageSpan = nil
}

func (f *flowInstruments) endFlow(status CompletionStatus) {
	if f.flowSpan == nil {
		return
	}
	if status.Err != nil {
		f.flowSpan.SetAttributes(attribute.String("commissioning.failed_stage", status.FailedStage.String()))
		f.flowSpan.SetStatus(codes.Error, status.Err.Error())
	}
	f.flowSpan.End()
	f.flowSpan = nil
	f.flowCtx = context.Background()
}

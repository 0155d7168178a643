package workflow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"parcelmint/observability"
)

const tracerName = "parcelmint/workflow"

// Step names a workflow stage and the message used when it fails.
type Step struct {
	Name    string
	Failure string
}

// Runner executes the steps of one workflow run, attaching a run id to every
// log line and span.
type Runner struct {
	workflow string
	campaign string
	runID    string
	logger   *slog.Logger
	tracer   trace.Tracer
	metrics  *observability.WorkflowMetrics
}

// NewRunner creates a runner for a single invocation of a workflow against a
// campaign namespace.
func NewRunner(workflow, campaign string, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	runID := uuid.NewString()
	return &Runner{
		workflow: workflow,
		campaign: campaign,
		runID:    runID,
		logger: logger.With(
			slog.String("workflow", workflow),
			slog.String("campaign", campaign),
			slog.String("run_id", runID),
		),
		tracer:  otel.Tracer(tracerName),
		metrics: observability.Workflow(),
	}
}

// RunID returns the identifier shared by every log line of this run.
func (r *Runner) RunID() string { return r.runID }

// Logger returns the run scoped logger.
func (r *Runner) Logger() *slog.Logger { return r.logger }

// Run executes fn as step. A failure is wrapped in a *StepError carrying the
// step's failure message unless fn already returned one.
func (r *Runner) Run(ctx context.Context, step Step, fn func(ctx context.Context) error) error {
	ctx, span := r.tracer.Start(ctx, r.workflow+"."+step.Name, trace.WithAttributes(
		attribute.String("workflow", r.workflow),
		attribute.String("campaign", r.campaign),
		attribute.String("run_id", r.runID),
	))
	defer span.End()

	log := r.logger.With(slog.String("step", step.Name))
	log.Debug("step started")
	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)
	r.metrics.ObserveStep(r.workflow, step.Name, elapsed, err)

	if err == nil {
		log.Info("step finished", slog.Duration("elapsed", elapsed))
		return nil
	}

	var fanErr *FanOutError
	if errors.As(err, &fanErr) {
		r.metrics.RecordFanOutFailures(r.workflow, step.Name, fanErr.Failed)
		log.Warn("fan-out failures", slog.Int("failed", fanErr.Failed), slog.Int("total", fanErr.Total), slog.Int("first_index", fanErr.Index))
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, step.Failure)
	log.Error("step failed", slog.Any("error", err), slog.Duration("elapsed", elapsed))

	var stepErr *StepError
	if errors.As(err, &stepErr) {
		return err
	}
	return &StepError{Step: step.Name, Message: step.Failure, Err: err}
}

// Skip records that step was already completed according to the ledger.
func (r *Runner) Skip(ctx context.Context, step Step, reason string) {
	r.metrics.RecordSkip(r.workflow, step.Name)
	r.logger.InfoContext(ctx, "step skipped", slog.String("step", step.Name), slog.String("reason", reason))
}

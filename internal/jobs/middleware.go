package jobs

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/runnerr0/trail/internal/apperr"
)

var tracer = otel.Tracer("github.com/runnerr0/trail/internal/jobs")

// WithLock holds the job's named lock, if any, while it runs.
func WithLock(locks *Locks) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, job *Job) (any, error) {
			if job.Lock == "" {
				return next(ctx, job)
			}
			var result any
			err := locks.With(ctx, job.Lock, func(ctx context.Context) error {
				var err error
				result, err = next(ctx, job)
				return err
			})
			return result, err
		}
	}
}

// Logging logs each job's outcome. Aborted jobs are logged at debug level.
func Logging(log *slog.Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, job *Job) (any, error) {
			start := time.Now()
			result, err := next(ctx, job)
			attrs := []any{"job_id", job.ID, "job", job.Name, "duration", time.Since(start)}
			switch {
			case err == nil:
				log.Debug("job done", attrs...)
			case apperr.IsAborted(err):
				log.Debug("job aborted", attrs...)
			default:
				log.Error("job failed", append(attrs, "code", apperr.CodeOf(err), "error", err)...)
			}
			return result, err
		}
	}
}

// Tracing runs each job inside a span.
func Tracing() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, job *Job) (any, error) {
			ctx, span := tracer.Start(ctx, "jobs."+job.Name,
				trace.WithAttributes(
					attribute.String("job.id", job.ID),
					attribute.String("job.name", job.Name),
				),
			)
			defer span.End()

			result, err := next(ctx, job)
			switch {
			case err == nil:
				span.SetStatus(codes.Ok, "")
			case apperr.IsAborted(err):
				span.SetAttributes(attribute.Bool("job.aborted", true))
			default:
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				span.SetAttributes(attribute.String("job.code", string(apperr.CodeOf(err))))
			}
			return result, err
		}
	}
}

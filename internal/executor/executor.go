// Package executor orchestrates one run of one job: Fetcher → Sandbox →
// Mailer, with retry policy delegated to those components, logging, and the
// last_run update. It is grounded on the teacher's scheduler.go execute()
// flow (snapshot → run handler → classify outcome → persist state),
// generalized from the teacher's single retry-and-reschedule handler into
// the spec's five-step sequential flow (spec.md §4.5).
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tablecron/tablecron/internal/fetcher"
	"github.com/tablecron/tablecron/internal/logger"
	"github.com/tablecron/tablecron/internal/mailer"
	"github.com/tablecron/tablecron/internal/metrics"
	"github.com/tablecron/tablecron/internal/notifier"
	"github.com/tablecron/tablecron/internal/sandbox"
	"github.com/tablecron/tablecron/internal/store"
	"github.com/tablecron/tablecron/internal/types"
)

// Executor wires the Fetcher, Sandbox, Mailer, and Store together for a
// single job run.
type Executor struct {
	store    *store.Store
	fetcher  *fetcher.Fetcher
	sandbox  *sandbox.Sandbox
	mailer   *mailer.Mailer
	metrics  *metrics.Metrics
	notifier *notifier.Notifier
	log      logger.Logger
	deadline time.Duration
}

// New builds an Executor.
func New(st *store.Store, f *fetcher.Fetcher, sb *sandbox.Sandbox, ml *mailer.Mailer, mt *metrics.Metrics, nt *notifier.Notifier, log logger.Logger, sandboxDeadline time.Duration) *Executor {
	return &Executor{store: st, fetcher: f, sandbox: sb, mailer: ml, metrics: mt, notifier: nt, log: log, deadline: sandboxDeadline}
}

// Run executes jobName's five-step flow. It never returns an error to the
// caller: every failure mode is logged and, where applicable, reported via
// a best-effort failure notice, matching spec.md's "executor never panics
// the scheduler" contract.
func (e *Executor) Run(ctx context.Context, jobName string) {
	runID := uuid.NewString()
	start := time.Now().UTC()
	e.metrics.ActiveRuns.Inc()
	defer e.metrics.ActiveRuns.Dec()

	log := e.log.WithJob(jobName, runID)

	// Step 1: snapshot.
	job, err := e.store.Get(jobName)
	if err != nil {
		log.Warnf("job vanished before run started, skipping: %v", err)
		return
	}

	result, runErr := e.runSteps(ctx, job, log)

	success := runErr == nil
	if success {
		now := time.Now().UTC()
		if err := e.mailer.DeliverSuccess(ctx, job.Name, job.Recipients, result, now); err != nil {
			log.Errorf("deliver_success failed, last_run not advanced: %v", err)
			success = false
			runErr = err
		} else if err := e.store.TouchLastRun(job.Name, now); err != nil {
			log.Errorf("touch_last_run failed: %v", err)
		} else {
			log.Infof("run completed successfully")
			e.metrics.JobsSucceeded.Inc()
		}
	}

	if !success {
		e.metrics.JobsFailed.Inc()
		e.deliverFailureBestEffort(ctx, job, runErr, log)
	}

	if e.notifier != nil {
		_ = e.notifier.Notify(notifier.RunResult{
			JobName:   job.Name,
			RunID:     runID,
			Success:   success,
			Error:     errString(runErr),
			StartTime: start,
			EndTime:   time.Now().UTC(),
		})
	}
}

// runSteps performs fetch and transform, returning either the transformed
// table or the first error encountered.
func (e *Executor) runSteps(ctx context.Context, job types.Job, log logger.Logger) (types.Table, error) {
	input, err := e.fetcher.Fetch(ctx, job.Source)
	if err != nil {
		log.Warnf("fetch failed: %v", err)
		return types.Table{}, fmt.Errorf("fetch: %w", err)
	}

	result, err := e.sandbox.Run(job.Transform, input, e.deadline)
	if err != nil {
		var se *sandbox.SandboxError
		if errors.As(err, &se) && se.Kind == sandbox.Timeout {
			e.metrics.SandboxTimeout.Inc()
		}
		log.Warnf("transform failed: %v", err)
		return types.Table{}, fmt.Errorf("transform: %w", err)
	}

	return result, nil
}

// deliverFailureBestEffort attempts a failure notice; a failure notice that
// itself fails to deliver is logged and abandoned, never retried further
// (spec.md §4.5).
func (e *Executor) deliverFailureBestEffort(ctx context.Context, job types.Job, cause error, log logger.Logger) {
	if err := e.mailer.DeliverFailure(ctx, job.Name, job.Recipients, errString(cause), time.Now().UTC()); err != nil {
		log.Errorf("failure notice itself failed to deliver, abandoning: %v", err)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

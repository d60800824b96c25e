// Package orchestrator sequences the discovery stages for one run, owns the
// run's artifacts, and reports progress through an event sink.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/intent-cli/internal/artifact"
	"github.com/sells-group/intent-cli/internal/events"
	"github.com/sells-group/intent-cli/internal/llm"
	"github.com/sells-group/intent-cli/internal/model"
	"github.com/sells-group/intent-cli/internal/normalize"
	"github.com/sells-group/intent-cli/internal/store"
	"github.com/sells-group/intent-cli/internal/taxonomy"
)

// Stage names used in phase records and fatal errors.
const (
	StageNormalize = "normalize"
	StageTaxonomy  = "taxonomy"
	StageExtract   = "extract"
	StageAssign    = "assign"
	StageAnalyze   = "analyze"
)

// ErrInvalidJob is returned before any work starts when a job is unusable.
var ErrInvalidJob = eris.New("orchestrator: invalid job")

// FatalError aborts a run at the named stage.
type FatalError struct {
	Stage string
	Err   error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// Deps are the collaborators shared by every run.
type Deps struct {
	Generator llm.Generator
	Source    normalize.Source
	// Renderer caches taxonomy prompt text; nil renders on every run.
	Renderer *taxonomy.Renderer
	// Store records run history; nil disables it.
	Store store.Store
	// Mirror copies finished artifacts; nil disables it.
	Mirror artifact.Mirror
	// Now defaults to time.Now.
	Now func() time.Time
}

// Orchestrator runs the discovery pipeline. It is safe for concurrent runs;
// each run gets its own state and artifact directory.
type Orchestrator struct {
	deps Deps
	opts Options
}

// New creates an Orchestrator.
func New(deps Deps, opts Options) *Orchestrator {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Orchestrator{deps: deps, opts: opts}
}

// Options returns the base run parameters.
func (o *Orchestrator) Options() Options {
	return o.opts
}

// Run executes one job and streams its events to sink. It returns the
// complete payload, or the error that moved the run to Failed. A failed
// write to sink, or ctx canceled with events.ErrConsumerGone as its cause,
// stops the run: no further backend calls are dispatched, no error event is
// attempted and the returned error matches events.ErrConsumerGone.
func (o *Orchestrator) Run(ctx context.Context, job Job, sink events.Sink) (*events.Results, error) {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	em := events.NewEmitter(sink, cancel)
	if err := validateJob(job); err != nil {
		_ = em.Emit(context.WithoutCancel(ctx), events.Error(err.Error()))
		return nil, err
	}

	s := &runState{
		o:      o,
		job:    job,
		opts:   job.apply(o.opts),
		em:     em,
		bg:     context.WithoutCancel(ctx),
		status: model.RunStatusIdle,
		log:    zap.L().With(zap.String("company", job.Company)),
	}
	s.open()

	res, err := s.execute(ctx)
	if err != nil {
		if s.consumerGone(ctx) && !errors.Is(err, events.ErrConsumerGone) {
			err = eris.Wrap(events.ErrConsumerGone, err.Error())
		}
		s.fail(err)
		return nil, err
	}
	return res, nil
}

func validateJob(job Job) error {
	switch {
	case job.Input == "":
		return eris.Wrap(ErrInvalidJob, "transcript input is required")
	case job.Taxonomy == "":
		return eris.Wrap(ErrInvalidJob, "taxonomy is required")
	case job.Threshold < 0 || job.Threshold > model.MaxScore:
		return eris.Wrapf(ErrInvalidJob, "threshold must be between %d and %d", model.MinScore, model.MaxScore)
	}
	return nil
}

// FailureReason renders err as the human readable Failed reason.
func FailureReason(err error) string {
	var fe *FatalError
	switch {
	case errors.Is(err, events.ErrConsumerGone):
		return "consumer disconnected"
	case errors.As(err, &fe):
		return fe.Error()
	case errors.Is(err, context.Canceled):
		return "run canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "run timed out"
	}
	return err.Error()
}

// runState is the mutable state of one run.
type runState struct {
	o    *Orchestrator
	job  Job
	opts Options
	em   *events.Emitter
	// bg outlives cancellation so history and the error event can still be
	// recorded.
	bg  context.Context
	log *zap.Logger

	status  model.RunStatus
	storeID string
	art     *artifact.Run
	phases  []model.PhaseResult
	usage   model.TokenUsage
}

func (s *runState) open() {
	st := s.o.deps.Store
	if st == nil {
		return
	}
	run, err := st.CreateRun(s.bg, model.RunInput{
		Company:          s.job.Company,
		Description:      s.job.Description,
		TranscriptSource: s.job.Input,
		TaxonomySource:   s.job.Taxonomy,
	})
	if err != nil {
		s.log.Warn("orchestrator: failed to record run", zap.Error(err))
		return
	}
	s.storeID = run.ID
	s.log = s.log.With(zap.String("history_id", run.ID))
}

func (s *runState) transition(status model.RunStatus) {
	s.log.Info("orchestrator: state change",
		zap.String("from", string(s.status)),
		zap.String("to", string(status)),
	)
	s.status = status
	if s.storeID == "" {
		return
	}
	if err := s.o.deps.Store.UpdateRunStatus(s.bg, s.storeID, status); err != nil {
		s.log.Warn("orchestrator: failed to update status", zap.Error(err))
	}
}

// progress emits a progress line. A failed write is observed through the
// canceled context at the next checkpoint.
func (s *runState) progress(format string, args ...any) {
	_ = s.em.Progress(s.bg, format, args...)
}

// consumerGone reports whether a write failed or the caller canceled the run
// because its consumer disconnected.
func (s *runState) consumerGone(ctx context.Context) bool {
	return s.em.Gone() || events.ConsumerGone(ctx)
}

// stopped returns a non-nil error once the consumer is gone or the run's
// context is done.
func (s *runState) stopped(ctx context.Context) error {
	if s.consumerGone(ctx) {
		return eris.Wrap(events.ErrConsumerGone, "orchestrator: stopping run")
	}
	if err := ctx.Err(); err != nil {
		return eris.Wrap(err, "orchestrator: run canceled")
	}
	return nil
}

// fatal classifies a stage error. Errors caused by cancellation are reported
// as such rather than as stage failures.
func (s *runState) fatal(ctx context.Context, stage string, err error) error {
	if stop := s.stopped(ctx); stop != nil {
		return stop
	}
	return &FatalError{Stage: stage, Err: err}
}

// track runs one stage and records it as a phase.
func (s *runState) track(name string, fn func() (*model.PhaseResult, error)) error {
	var phase *model.RunPhase
	if s.storeID != "" {
		p, err := s.o.deps.Store.CreatePhase(s.bg, s.storeID, name)
		if err != nil {
			s.log.Warn("orchestrator: failed to create phase", zap.String("phase", name), zap.Error(err))
		}
		phase = p
	}

	start := time.Now()
	pr, err := fn()
	duration := time.Since(start).Milliseconds()

	if pr == nil {
		pr = &model.PhaseResult{}
	}
	pr.Name = name
	pr.Duration = duration
	if err != nil {
		pr.Status = model.PhaseStatusFailed
		pr.Error = err.Error()
		s.log.Error("orchestrator: phase failed",
			zap.String("phase", name),
			zap.Int64("duration_ms", duration),
			zap.Error(err),
		)
	} else {
		pr.Status = model.PhaseStatusComplete
		s.log.Info("orchestrator: phase complete",
			zap.String("phase", name),
			zap.Int64("duration_ms", duration),
		)
	}
	s.usage.Add(pr.TokenUsage)

	if phase != nil {
		if cerr := s.o.deps.Store.CompletePhase(s.bg, phase.ID, pr); cerr != nil {
			s.log.Warn("orchestrator: failed to complete phase", zap.String("phase", name), zap.Error(cerr))
		}
	}
	s.phases = append(s.phases, *pr)
	return err
}

func (s *runState) fail(err error) {
	reason := FailureReason(err)
	s.log.Error("orchestrator: run failed", zap.String("reason", reason), zap.Error(err))
	s.transition(model.RunStatusFailed)

	if s.storeID != "" {
		if ferr := s.o.deps.Store.FailRun(s.bg, s.storeID, reason); ferr != nil {
			s.log.Warn("orchestrator: failed to record failure", zap.Error(ferr))
		}
	}
	if !errors.Is(err, events.ErrConsumerGone) && !s.em.Gone() {
		_ = s.em.Emit(s.bg, events.Error(reason))
	}
}

func (s *runState) workDir() (string, func(), error) {
	dir, err := os.MkdirTemp("", "intent-run-*")
	if err != nil {
		return "", nil, eris.Wrap(err, "orchestrator: create work dir")
	}
	return dir, func() { _ = os.RemoveAll(dir) }, nil
}

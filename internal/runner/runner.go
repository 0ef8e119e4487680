package runner

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/intent-curator/backend/internal/curate"
	"github.com/intent-curator/backend/internal/events"
	"github.com/intent-curator/backend/internal/llm"
	"github.com/intent-curator/backend/internal/pool"
	"github.com/intent-curator/backend/internal/prompt"
	"github.com/intent-curator/backend/internal/segment"
	"github.com/intent-curator/backend/internal/similarity"
	"github.com/intent-curator/backend/internal/storage/models"
	"github.com/intent-curator/backend/pkg/config"
)

var (
	ErrUnknownKind    = errors.New("unknown run kind")
	ErrInvalidRequest = errors.New("invalid run request")
	ErrNotFound       = errors.New("run not found")
	ErrOutputBusy     = errors.New("output is already being written by an active run")
)

// Run kinds.
const (
	KindCleanse = "cleanse"
	KindAugment = "augment"
)

type Request struct {
	Kind     string `json:"kind"`
	Input    string `json:"input"`
	Output   string `json:"output"`
	Rewriter string `json:"rewriter,omitempty"`
	Repeat   int    `json:"repeat,omitempty"`
	Resume   *bool  `json:"resume,omitempty"`
}

// Store persists run metadata. *sqlite.Client implements it.
type Store interface {
	CreateRun(ctx context.Context, run *models.Run) error
	UpdateRunStatus(ctx context.Context, id, status string) error
	FinishRun(ctx context.Context, id, status, errMsg string, finishedAt time.Time) error
	GetRun(ctx context.Context, id string) (*models.Run, error)
}

type Deps struct {
	Config    *config.Config
	Scorer    pool.Scorer
	Generator llm.Generator
	Segmenter segment.Segmenter
	// Store is optional; without it run state lives in memory only.
	Store Store
	Sink  events.Sink
	// BaseContext is the parent of every run context. Runs never inherit
	// values or cancellation from the context passed to Start.
	BaseContext context.Context
}

type active struct {
	run      *models.Run
	cancel   context.CancelFunc
	accepted atomic.Int64
	rejected atomic.Int64
}

// Runner executes cleanse and augment runs, one pool and curator per run.
type Runner struct {
	deps   Deps
	logger *zap.Logger

	mu   sync.RWMutex
	runs map[string]*active
	wg   sync.WaitGroup
}

func New(deps Deps, logger *zap.Logger) *Runner {
	if deps.Segmenter == nil {
		deps.Segmenter = segment.Whitespace{}
	}
	if deps.Sink == nil {
		deps.Sink = events.Nop
	}
	if deps.BaseContext == nil {
		deps.BaseContext = context.Background()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{deps: deps, logger: logger, runs: map[string]*active{}}
}

func (r *Runner) validate(req Request) error {
	switch req.Kind {
	case KindCleanse:
	case KindAugment:
		if req.Rewriter == "" {
			return fmt.Errorf("%w: augment requires a rewriter", ErrInvalidRequest)
		}
		if _, err := prompt.RewriterByName(req.Rewriter, "", ""); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, req.Kind)
	}
	if req.Input == "" || req.Output == "" {
		return fmt.Errorf("%w: input and output are required", ErrInvalidRequest)
	}
	return nil
}

func (r *Runner) register(ctx context.Context, req Request) (*active, context.Context, error) {
	if err := r.validate(req); err != nil {
		return nil, nil, err
	}

	run := &models.Run{
		ID:        uuid.New().String(),
		Kind:      req.Kind,
		Status:    models.RunPending,
		Input:     req.Input,
		Output:    req.Output,
		Rewriter:  req.Rewriter,
		StartedAt: time.Now(),
	}
	runCtx, cancel := context.WithCancel(r.deps.BaseContext)
	a := &active{run: run, cancel: cancel}

	r.mu.Lock()
	if busy := r.writing(req.Output); busy != "" {
		r.mu.Unlock()
		cancel()
		return nil, nil, fmt.Errorf("%w: %s (run %s)", ErrOutputBusy, req.Output, busy)
	}
	r.runs[run.ID] = a
	r.mu.Unlock()

	if r.deps.Store != nil {
		if err := r.deps.Store.CreateRun(ctx, run); err != nil {
			r.mu.Lock()
			delete(r.runs, run.ID)
			r.mu.Unlock()
			cancel()
			return nil, nil, err
		}
	}
	return a, runCtx, nil
}

// writing returns the id of an unfinished run whose output is path.
// Callers hold r.mu.
func (r *Runner) writing(path string) string {
	path = filepath.Clean(path)
	for id, a := range r.runs {
		if a.run.FinishedAt == nil && filepath.Clean(a.run.Output) == path {
			return id
		}
	}
	return ""
}

// Start launches a run in the background and returns it in pending state.
// ctx is used only to persist the run; the run itself derives from
// Deps.BaseContext and is stopped through Cancel or Shutdown.
func (r *Runner) Start(ctx context.Context, req Request) (*models.Run, error) {
	a, runCtx, err := r.register(ctx, req)
	if err != nil {
		return nil, err
	}
	snapshot := *a.run

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		_ = r.execute(runCtx, a, req)
	}()
	return &snapshot, nil
}

// Execute runs to completion on the caller's goroutine.
func (r *Runner) Execute(ctx context.Context, req Request) (*models.Run, error) {
	a, runCtx, err := r.register(ctx, req)
	if err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, a.cancel)
	defer stop()

	err = r.execute(runCtx, a, req)
	run, _ := r.Get(context.Background(), a.run.ID)
	return run, err
}

func (r *Runner) execute(ctx context.Context, a *active, req Request) (err error) {
	defer a.cancel()
	id := a.run.ID
	logger := r.logger.With(zap.String("run_id", id), zap.String("kind", req.Kind))

	counter := events.SinkFunc(func(_ context.Context, e events.Event) {
		switch e.Kind {
		case events.KindAccepted:
			a.accepted.Add(1)
		case events.KindRejected:
			a.rejected.Add(1)
		}
	})
	sink := events.WithRun(id, events.Multi(counter, r.deps.Sink))

	r.setStatus(a, models.RunRunning, "")
	sink.Handle(ctx, events.Event{Kind: events.KindRunStarted, Target: req.Output})
	logger.Info("Run started", zap.String("input", req.Input), zap.String("output", req.Output))
	start := time.Now()

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("run panicked: %v", rec)
		}
		status, msg := models.RunSucceeded, ""
		if err != nil {
			status, msg = models.RunFailed, err.Error()
			logger.Error("Run failed", zap.Error(err))
		} else {
			logger.Info("Run finished",
				zap.Int64("accepted", a.accepted.Load()),
				zap.Int64("rejected", a.rejected.Load()),
				zap.Duration("duration", time.Since(start)),
			)
		}
		r.setStatus(a, status, msg)
		sink.Handle(context.WithoutCancel(ctx), events.Event{
			Kind:     events.KindRunFinished,
			Target:   req.Output,
			Accepted: int(a.accepted.Load()),
			Duration: time.Since(start),
			Error:    msg,
		})
	}()

	return r.curate(ctx, req, sink, logger)
}

func (r *Runner) curate(ctx context.Context, req Request, sink events.Sink, logger *zap.Logger) error {
	cfg := r.deps.Config

	scheme, err := pool.SchemeFromConfig(cfg.Pool, cfg.Curate)
	if err != nil {
		return err
	}
	p, err := pool.New(scheme, r.deps.Scorer, pool.Options{
		Size:     cfg.Pool.Size,
		Repeat:   cfg.Judge.Repeat,
		Parallel: cfg.Pool.Parallel,
		Sink:     sink,
	}, logger)
	if err != nil {
		return err
	}
	filter, err := similarity.FilterFromConfig(cfg.Novelty, logger)
	if err != nil {
		return err
	}
	opts := curate.OptionsFromConfig(cfg.Curate, filter, r.deps.Segmenter)
	opts.Sink = sink

	switch req.Kind {
	case KindCleanse:
		c, err := curate.FromFile(req.Input, false, opts, logger)
		if err != nil {
			return err
		}
		_, err = c.Cleanse(ctx, p, req.Output)
		return err

	case KindAugment:
		rw, err := prompt.RewriterByName(req.Rewriter, cfg.Curate.TextKey, cfg.Curate.IntentKey)
		if err != nil {
			return err
		}
		c, err := curate.FromFile(req.Input, true, opts, logger)
		if err != nil {
			return err
		}
		aopts := curate.AugmentOptions{
			OutputPath: req.Output,
			Repeat:     cfg.Augment.Repeat,
			Resume:     cfg.Augment.Resume,
			Indent:     cfg.Curate.Indent,
			Request:    llm.Request{Model: cfg.LLM.Model},
		}
		if req.Repeat > 0 {
			aopts.Repeat = req.Repeat
		}
		if req.Resume != nil {
			aopts.Resume = *req.Resume
		}
		_, err = c.Augment(ctx, p, rw, r.deps.Generator, aopts)
		return err
	}
	return fmt.Errorf("%w: %q", ErrUnknownKind, req.Kind)
}

func (r *Runner) setStatus(a *active, status, errMsg string) {
	now := time.Now()

	r.mu.Lock()
	a.run.Status = status
	a.run.Error = errMsg
	a.run.Accepted = int(a.accepted.Load())
	a.run.Rejected = int(a.rejected.Load())
	if status == models.RunSucceeded || status == models.RunFailed {
		a.run.FinishedAt = &now
	}
	r.mu.Unlock()

	if r.deps.Store == nil {
		return
	}
	ctx := context.Background()
	var err error
	if a.run.FinishedAt != nil {
		err = r.deps.Store.FinishRun(ctx, a.run.ID, status, errMsg, now)
	} else {
		err = r.deps.Store.UpdateRunStatus(ctx, a.run.ID, status)
	}
	if err != nil {
		r.logger.Error("Failed to persist run status", zap.String("run_id", a.run.ID), zap.Error(err))
	}
}

// Get returns a snapshot of a run, falling back to the store for runs this
// process did not start.
func (r *Runner) Get(ctx context.Context, id string) (*models.Run, error) {
	r.mu.RLock()
	a, ok := r.runs[id]
	if ok {
		snapshot := *a.run
		snapshot.Accepted = int(a.accepted.Load())
		snapshot.Rejected = int(a.rejected.Load())
		r.mu.RUnlock()
		return &snapshot, nil
	}
	r.mu.RUnlock()

	if r.deps.Store == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	run, err := r.deps.Store.GetRun(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return run, nil
}

// Cancel stops a running run. It reports false for unknown or finished runs.
func (r *Runner) Cancel(id string) bool {
	r.mu.RLock()
	a, ok := r.runs[id]
	finished := ok && a.run.FinishedAt != nil
	r.mu.RUnlock()
	if !ok || finished {
		return false
	}
	a.cancel()
	return true
}

// Shutdown cancels every run and waits for them, up to ctx.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.RLock()
	for _, a := range r.runs {
		a.cancel()
	}
	r.mu.RUnlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

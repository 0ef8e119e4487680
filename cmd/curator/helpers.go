package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/intent-curator/backend/internal/curate"
	"github.com/intent-curator/backend/internal/judge"
	"github.com/intent-curator/backend/internal/llm"
	"github.com/intent-curator/backend/internal/pool"
	"github.com/intent-curator/backend/internal/runner"
	"github.com/intent-curator/backend/internal/segment"
	"github.com/intent-curator/backend/internal/similarity"
	"github.com/intent-curator/backend/internal/storage/sqlite"
)

func newLLM() *llm.Client {
	return llm.NewClient(cfg.LLM, logger.Named("llm"))
}

func newJudge(gen llm.Generator) *judge.Judge {
	return judge.New(gen, judge.OptionsFromConfig(cfg.Judge), logger.Named("judge"))
}

// newRunner builds a runner that records runs in sqlite when enabled. The
// returned close func releases the store.
func newRunner(gen llm.Generator) (*runner.Runner, func(), error) {
	seg, err := segment.ByName(cfg.Novelty.Segmenter)
	if err != nil {
		return nil, nil, err
	}
	deps := runner.Deps{
		Config:    cfg,
		Scorer:    newJudge(gen),
		Generator: gen,
		Segmenter: seg,
	}
	closeFn := func() {}

	if cfg.SQLite.Enabled {
		db, err := sqlite.NewClient(cfg.SQLite.Path, logger.Named("sqlite"))
		if err != nil {
			return nil, nil, err
		}
		if err := db.InitSchema(); err != nil {
			db.Close()
			return nil, nil, err
		}
		deps.Store = db
		deps.Sink = db
		closeFn = func() { db.Close() }
	}
	return runner.New(deps, logger.Named("runner")), closeFn, nil
}

// newCurateStack builds the pool and curator options the way a run does.
func newCurateStack(scorer pool.Scorer) (*pool.Pool, curate.Options, error) {
	scheme, err := pool.SchemeFromConfig(cfg.Pool, cfg.Curate)
	if err != nil {
		return nil, curate.Options{}, err
	}
	p, err := pool.New(scheme, scorer, pool.Options{
		Size:     cfg.Pool.Size,
		Repeat:   cfg.Judge.Repeat,
		Parallel: cfg.Pool.Parallel,
	}, logger.Named("pool"))
	if err != nil {
		return nil, curate.Options{}, err
	}
	filter, err := similarity.FilterFromConfig(cfg.Novelty, logger.Named("novelty"))
	if err != nil {
		return nil, curate.Options{}, err
	}
	seg, err := segment.ByName(cfg.Novelty.Segmenter)
	if err != nil {
		return nil, curate.Options{}, err
	}
	return p, curate.OptionsFromConfig(cfg.Curate, filter, seg), nil
}

// outputFor names the output of one rewriter when several share a base
// path: aug.jsonl becomes aug-lazy.jsonl.
func outputFor(base, rewriter string, total int) string {
	if total <= 1 {
		return base
	}
	ext := filepath.Ext(base)
	return fmt.Sprintf("%s-%s%s", strings.TrimSuffix(base, ext), rewriter, ext)
}

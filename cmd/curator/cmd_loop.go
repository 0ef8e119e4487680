package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/intent-curator/backend/internal/curate"
	"github.com/intent-curator/backend/internal/evaluation"
	"github.com/intent-curator/backend/internal/finetune"
	"github.com/intent-curator/backend/internal/llm"
	"github.com/intent-curator/backend/internal/prompt"
)

var evaluateFlags struct {
	test  string
	wrong string
}

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Score the served model on a test set and collect the wrong examples",
	RunE:  runEvaluate,
}

var loopFlags struct {
	train   string
	test    string
	maxIter int
}

var loopCmd = &cobra.Command{
	Use:   "loop",
	Short: "Train, evaluate and augment wrong examples until the metric plateaus",
	RunE:  runLoop,
}

func init() {
	f := evaluateCmd.Flags()
	f.StringVarP(&evaluateFlags.test, "test", "t", "", "test dataset (default loop.testFile)")
	f.StringVarP(&evaluateFlags.wrong, "wrong", "w", "", "where to write wrong examples as JSONL")

	f = loopCmd.Flags()
	f.StringVar(&loopFlags.train, "train", "", "train dataset (default loop.trainFile)")
	f.StringVar(&loopFlags.test, "test", "", "test dataset (default loop.testFile)")
	f.IntVar(&loopFlags.maxIter, "max-iter", 0, "iteration budget (default loop.maxIter)")
}

// newServedEvaluator talks to the fine-tuned model behind loop.serveBaseURL.
func newServedEvaluator() *evaluation.IntentEvaluator {
	served := cfg.LLM
	if cfg.Loop.ServeBaseURL != "" {
		served.BaseURL = cfg.Loop.ServeBaseURL
	}
	if cfg.Loop.ServeModel != "" {
		served.Model = cfg.Loop.ServeModel
	}
	client := llm.NewClient(served, logger.Named("served"))
	return evaluation.NewIntentEvaluator(client, evaluation.IntentOptions{
		InputKey: cfg.Curate.TextKey,
		Request:  llm.Request{Model: served.Model, Temperature: 0.01},
	}, logger.Named("evaluate"))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func runEvaluate(cmd *cobra.Command, _ []string) error {
	test := firstNonEmpty(evaluateFlags.test, cfg.Loop.TestFile)
	if test == "" {
		return fmt.Errorf("a test dataset is required")
	}
	wrong := firstNonEmpty(evaluateFlags.wrong, filepath.Join(cfg.Loop.WorkDir, "wrong_data.jsonl"))

	report, err := evaluation.Run(cmd.Context(), newServedEvaluator(), test, wrong, logger.Named("evaluate"))
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), report.Format())
	return nil
}

func runLoop(cmd *cobra.Command, _ []string) error {
	lc := cfg.Loop
	train := firstNonEmpty(loopFlags.train, lc.TrainFile)
	test := firstNonEmpty(loopFlags.test, lc.TestFile)
	if train == "" || test == "" {
		return fmt.Errorf("train and test datasets are required")
	}
	if loopFlags.maxIter > 0 {
		lc.MaxIter = loopFlags.maxIter
	}

	trainer, err := finetune.NewCommandTrainer(lc.TrainCommand, nil, lc.WorkDir, logger.Named("train"))
	if err != nil {
		return err
	}

	client := newLLM()
	p, copts, err := newCurateStack(newJudge(client))
	if err != nil {
		return err
	}
	var rewriters []finetune.NamedRewriter
	for _, name := range cfg.Augment.Rewriters {
		rw, err := prompt.RewriterByName(name, cfg.Curate.TextKey, cfg.Curate.IntentKey)
		if err != nil {
			return err
		}
		rewriters = append(rewriters, finetune.NamedRewriter{Name: name, Rewriter: rw})
	}
	augmenter := finetune.NewCuratorAugmenter(p, rewriters, client, copts, curate.AugmentOptions{
		Repeat: cfg.Augment.Repeat,
	}, logger.Named("augment"))

	loop := finetune.NewLoop(trainer, newServedEvaluator(), augmenter, finetune.LoopOptions{
		TrainFile:    train,
		TestFile:     test,
		WrongFile:    filepath.Join(lc.WorkDir, "wrong_data.jsonl"),
		ResultsFile:  filepath.Join(lc.WorkDir, "results.txt"),
		MaxIter:      lc.MaxIter,
		Metric:       lc.Metric,
		AugThreshold: lc.AugThreshold,
	}, logger.Named("loop"))

	res, err := loop.Run(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, it := range res.Iterations {
		fmt.Fprintf(out, "iteration %d: %s=%0.4f wrong=%d augmented=%d\n", it.Number, lc.Metric, it.Score, it.WrongSize, it.Augmented)
	}
	fmt.Fprintf(out, "best %s=%0.4f at iteration %d (%s)\n", lc.Metric, res.Best, res.BestIter, res.StopReason)
	return nil
}

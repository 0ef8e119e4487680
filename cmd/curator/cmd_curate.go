package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/intent-curator/backend/internal/runner"
)

var cleanseFlags struct {
	input  string
	output string
}

var cleanseCmd = &cobra.Command{
	Use:   "cleanse",
	Short: "Filter a dataset through the length, novelty and judge gates",
	RunE:  runCleanse,
}

var augmentFlags struct {
	input     string
	output    string
	rewriters []string
	repeat    int
	noResume  bool
}

var augmentCmd = &cobra.Command{
	Use:   "augment",
	Short: "Paraphrase every seed and keep the paraphrases that pass the gates",
	RunE:  runAugment,
}

func init() {
	f := cleanseCmd.Flags()
	f.StringVarP(&cleanseFlags.input, "input", "i", "", "dataset to cleanse (.json or .jsonl)")
	f.StringVarP(&cleanseFlags.output, "output", "o", "", "where to write the accepted records as a JSON array")
	_ = cleanseCmd.MarkFlagRequired("input")
	_ = cleanseCmd.MarkFlagRequired("output")

	f = augmentCmd.Flags()
	f.StringVarP(&augmentFlags.input, "input", "i", "", "seed dataset")
	f.StringVarP(&augmentFlags.output, "output", "o", "", "output file; suffixed per rewriter when several run")
	f.StringSliceVar(&augmentFlags.rewriters, "rewriter", nil, "rewriters to run (default augment.rewriters)")
	f.IntVar(&augmentFlags.repeat, "repeat", 0, "paraphrases per seed (default augment.repeat)")
	f.BoolVar(&augmentFlags.noResume, "no-resume", false, "ignore the checkpoint and start from the first seed")
	_ = augmentCmd.MarkFlagRequired("input")
}

func printRun(cmd *cobra.Command, kind, output string, accepted, rejected int) {
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d accepted, %d rejected -> %s\n", kind, accepted, rejected, output)
}

func runCleanse(cmd *cobra.Command, _ []string) error {
	r, closeFn, err := newRunner(newLLM())
	if err != nil {
		return err
	}
	defer closeFn()

	run, err := r.Execute(cmd.Context(), runner.Request{
		Kind:   runner.KindCleanse,
		Input:  cleanseFlags.input,
		Output: cleanseFlags.output,
	})
	if err != nil {
		return err
	}
	printRun(cmd, run.Kind, run.Output, run.Accepted, run.Rejected)
	return nil
}

func runAugment(cmd *cobra.Command, _ []string) error {
	rewriters := augmentFlags.rewriters
	if len(rewriters) == 0 {
		rewriters = cfg.Augment.Rewriters
	}
	if len(rewriters) == 0 {
		return fmt.Errorf("no rewriter configured")
	}
	output := augmentFlags.output
	if output == "" {
		output = cfg.Augment.OutputPath
	}
	if output == "" {
		return fmt.Errorf("--output is required when augment.outputPath is unset")
	}

	r, closeFn, err := newRunner(newLLM())
	if err != nil {
		return err
	}
	defer closeFn()

	for _, name := range rewriters {
		req := runner.Request{
			Kind:     runner.KindAugment,
			Input:    augmentFlags.input,
			Output:   outputFor(output, name, len(rewriters)),
			Rewriter: name,
			Repeat:   augmentFlags.repeat,
		}
		if augmentFlags.noResume {
			resume := false
			req.Resume = &resume
		}
		run, err := r.Execute(cmd.Context(), req)
		if err != nil {
			return fmt.Errorf("rewriter %s: %w", name, err)
		}
		printRun(cmd, run.Kind+"/"+name, run.Output, run.Accepted, run.Rejected)
	}
	return nil
}

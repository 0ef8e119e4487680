package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/intent-curator/backend/internal/checkpoint"
	"github.com/intent-curator/backend/internal/record"
)

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Inspect or reset augmentation checkpoints",
}

var checkpointShowCmd = &cobra.Command{
	Use:   "show [dir]",
	Short: "List the checkpoint entries kept in a directory",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := "."
		if len(args) == 1 {
			dir = args[0]
		}
		entries, err := checkpoint.ReadAll(dir)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(entries) == 0 {
			fmt.Fprintf(out, "No checkpoints in %s\n", dir)
			return nil
		}
		for _, e := range entries {
			fmt.Fprintf(out, "%s\t%d\n", e.Filename, e.Idx)
		}
		return nil
	},
}

var checkpointResetCmd = &cobra.Command{
	Use:   "reset <output-file>",
	Short: "Restart augmentation of an output file from the first seed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := checkpoint.Open(args[0])
		if err != nil {
			return err
		}
		if err := log.Reset(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "reset %s in %s\n", filepath.Base(args[0]), log.Path())
		return nil
	},
}

var mergeFlags struct {
	keys   []string
	output string
	indent int
}

var mergeCmd = &cobra.Command{
	Use:   "merge <dataset>...",
	Short: "Concatenate datasets, optionally keeping only some fields",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runMerge,
}

func init() {
	checkpointCmd.AddCommand(checkpointShowCmd)
	checkpointCmd.AddCommand(checkpointResetCmd)

	f := mergeCmd.Flags()
	f.StringSliceVarP(&mergeFlags.keys, "keys", "k", nil, "fields to keep (default: all)")
	f.StringVarP(&mergeFlags.output, "output", "o", "", "merged JSON file")
	f.IntVar(&mergeFlags.indent, "indent", 4, "JSON indent")
	_ = mergeCmd.MarkFlagRequired("output")
}

func runMerge(cmd *cobra.Command, args []string) error {
	datasets := make([]record.Dataset, 0, len(args))
	for _, path := range args {
		ds, err := record.LoadFile(path)
		if err != nil {
			return err
		}
		datasets = append(datasets, ds)
	}

	merged := record.Merge(mergeFlags.keys, datasets...)
	if err := record.SaveJSON(mergeFlags.output, merged, mergeFlags.indent); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "merged %d records from %d files -> %s\n", len(merged), len(args), mergeFlags.output)
	return nil
}

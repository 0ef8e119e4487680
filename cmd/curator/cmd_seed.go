package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/intent-curator/backend/internal/seed"
)

var seedFlags struct {
	mapping string
	sheet   string
	output  string
	count   int
	seed    uint64
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Generate seed questions from a query-to-intent spreadsheet",
	RunE:  runSeed,
}

func init() {
	f := seedCmd.Flags()
	f.StringVarP(&seedFlags.mapping, "mapping", "m", "", "xlsx file mapping queries to intents (default seed.mappingFile)")
	f.StringVar(&seedFlags.sheet, "sheet", "", "sheet name (default: first sheet)")
	f.StringVarP(&seedFlags.output, "output", "o", "", "output JSON file (default seed.outputPath)")
	f.IntVarP(&seedFlags.count, "count", "n", 0, "number of seeds (default seed.count)")
	f.Uint64Var(&seedFlags.seed, "random-seed", 0, "sampling seed (default seed.randomSeed)")
}

func runSeed(cmd *cobra.Command, _ []string) error {
	sc := cfg.Seed
	if seedFlags.mapping != "" {
		sc.MappingFile = seedFlags.mapping
	}
	if seedFlags.sheet != "" {
		sc.Sheet = seedFlags.sheet
	}
	if seedFlags.output != "" {
		sc.OutputPath = seedFlags.output
	}
	if seedFlags.count > 0 {
		sc.Count = seedFlags.count
	}
	if cmd.Flags().Changed("random-seed") {
		sc.RandomSeed = seedFlags.seed
	}
	if sc.MappingFile == "" || sc.OutputPath == "" {
		return fmt.Errorf("a mapping file and an output path are required")
	}

	mapping, err := seed.LoadMapping(sc.MappingFile, sc.Sheet, sc.QueryColumn, sc.IntentColumn)
	if err != nil {
		return err
	}

	client := newLLM()
	gen := seed.NewGenerator(client, newJudge(client), mapping, seed.OptionsFromConfig(sc), logger.Named("seed"))
	ds, err := gen.Generate(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "generated %d seeds from %d queries -> %s\n", len(ds), len(mapping.Queries), sc.OutputPath)
	return nil
}

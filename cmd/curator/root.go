package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/intent-curator/backend/pkg/config"
	appLogger "github.com/intent-curator/backend/pkg/logger"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootFlags struct {
	configPath string
	logLevel   string
}

// Loaded by the root command before any subcommand runs.
var (
	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "curator",
	Short: "Curate intent-classification datasets with an LLM judge",
	Long: "curator cleanses and augments intent datasets: every candidate passes a\n" +
		"length gate, a ROUGE novelty filter and batched LLM quality scoring.",
	SilenceUsage: true,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		var err error
		cfg, err = config.Load(rootFlags.configPath)
		if err != nil {
			return err
		}
		level := cfg.Logging.Level
		if rootFlags.logLevel != "" {
			level = rootFlags.logLevel
		}
		logger, err = appLogger.New(appLogger.Config{
			Level:      level,
			Format:     cfg.Logging.Format,
			OutputPath: cfg.Logging.OutputPath,
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
		})
		return err
	},
	PersistentPostRun: func(*cobra.Command, []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&rootFlags.configPath, "config", "", "path to curator.yaml")
	pf.StringVar(&rootFlags.logLevel, "log-level", "", "override logging.level")

	rootCmd.AddCommand(cleanseCmd)
	rootCmd.AddCommand(augmentCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(evaluateCmd)
	rootCmd.AddCommand(loopCmd)
	rootCmd.AddCommand(checkpointCmd)
	rootCmd.AddCommand(mergeCmd)
	rootCmd.Version = version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

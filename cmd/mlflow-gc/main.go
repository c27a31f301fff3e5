// Package main provides the mlflow-gc CLI, which permanently removes
// soft-deleted runs and experiments from a file-backed tracking directory.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/Spencerx/mlflow/internal/store"
)

var (
	trackingDir   string
	runIDs        []string
	experimentIDs []string
	olderThan     string
	verbose       bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "mlflow-gc",
	Short: "Permanently delete soft-deleted runs and experiments",
	Long: `mlflow-gc permanently removes runs and experiments that were
previously soft-deleted from a file-backed tracking directory.

Without --run-ids, every deleted run matching the --older-than window is
removed. Experiments given with --experiment-ids must already be deleted;
their whole subtree is removed from the trash.`,
	RunE: runGC,
}

func init() {
	rootCmd.Flags().StringVar(&trackingDir, "backend-store-uri", "./mlruns", "tracking directory to clean (defaults to MLFLOW_TRACKING_DIR when unset)")
	rootCmd.Flags().StringSliceVar(&runIDs, "run-ids", nil, "specific deleted run ids to remove")
	rootCmd.Flags().StringSliceVar(&experimentIDs, "experiment-ids", nil, "deleted experiment ids to remove")
	rootCmd.Flags().StringVar(&olderThan, "older-than", "", "only remove runs deleted at least this long ago (e.g. 30d, 12h, 45m)")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

func runGC(cmd *cobra.Command, args []string) error {
	if verbose {
		log.SetLevel(log.DebugLevel)
	}
	threshold, err := parseOlderThan(olderThan)
	if err != nil {
		return err
	}
	cfg, err := store.NewConfigFromEnv()
	if err != nil {
		return fmt.Errorf("read environment configuration: %w", err)
	}
	if cmd.Flags().Changed("backend-store-uri") {
		cfg.RootDirectory = trackingDir
	}
	fileStore, err := store.NewFileStore(cfg, afero.NewOsFs())
	if err != nil {
		return fmt.Errorf("open tracking directory %q: %w", cfg.RootDirectory, err)
	}

	targets := runIDs
	if len(targets) == 0 {
		targets, err = fileStore.DeletedRuns(threshold.Milliseconds())
		if err != nil {
			return fmt.Errorf("list deleted runs: %w", err)
		}
	}
	var errs *multierror.Error
	for _, runID := range targets {
		if err := fileStore.HardDeleteRun(runID); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("run %s: %w", runID, err))
			continue
		}
		log.WithField("run_id", runID).Info("permanently deleted run")
	}
	for _, experimentID := range experimentIDs {
		if err := fileStore.HardDeleteExperiment(experimentID); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("experiment %s: %w", experimentID, err))
			continue
		}
		log.WithField("experiment_id", experimentID).Info("permanently deleted experiment")
	}
	return errs.ErrorOrNil()
}

// parseOlderThan accepts compound durations with day suffixes, like "30d",
// "12h30m" or "1d6h".
func parseOlderThan(value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	var total time.Duration
	rest := value
	for rest != "" {
		i := 0
		for i < len(rest) && (rest[i] >= '0' && rest[i] <= '9' || rest[i] == '.') {
			i++
		}
		if i == 0 || i == len(rest) {
			return 0, fmt.Errorf("invalid --older-than value %q", value)
		}
		j := i
		for j < len(rest) && !(rest[j] >= '0' && rest[j] <= '9') {
			j++
		}
		number, unit := rest[:i], rest[i:j]
		rest = rest[j:]
		if unit == "d" {
			d, err := time.ParseDuration(number + "h")
			if err != nil {
				return 0, fmt.Errorf("invalid --older-than value %q", value)
			}
			total += d * 24
			continue
		}
		d, err := time.ParseDuration(number + unit)
		if err != nil {
			return 0, fmt.Errorf("invalid --older-than value %q", value)
		}
		total += d
	}
	return total, nil
}

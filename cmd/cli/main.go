package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"abstat/adapters/bucketing"
	"abstat/adapters/dataset"
	"abstat/adapters/excel"
	"abstat/adapters/warehouse"
	"abstat/app"
	"abstat/domain/core"
	"abstat/domain/experiment"
	"abstat/internal/testkit"
	"abstat/ports"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "abstat",
		Short: "A/B test analysis: bucketing, frequentist and Bayesian engines, sequential monitoring",
	}

	rootCmd.AddCommand(
		newRunCmd(),
		newAssignCmd(),
		newDemoCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type runFlags struct {
	experimentKey string
	testType      string
	metricKind    string
	correction    string
	tails         string
	alpha         float64
	sequential    bool
	maxSampleSize int
	draws         int
	seed          int64
	weightsJSON   string
	strategy      string
	sheet         string
	warehouseDSN  string
	table         string
	format        string
}

func newRunCmd() *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "run [dataset-file]",
		Short: "Analyze one experiment dataset",
		Long: `Analyze an experiment dataset and print the report.

Reads JSON, CSV or XLSX files, or a warehouse table when --warehouse-dsn is
set. Records without group assignments are bucketed with --weights.

Example: abstat run conversions.csv --experiment-key checkout-v2 --test-type frequentist --metric binary --correction holm`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) > 0 {
				path = args[0]
			}
			return runAnalysis(cmd.Context(), path, flags)
		},
	}

	cmd.Flags().StringVar(&flags.experimentKey, "experiment-key", "", "Experiment identifier (required)")
	cmd.Flags().StringVar(&flags.testType, "test-type", "frequentist", "Test type: frequentist or bayesian")
	cmd.Flags().StringVar(&flags.metricKind, "metric", "binary", "Metric kind: binary, continuous or count")
	cmd.Flags().StringVar(&flags.correction, "correction", "none", "Multiple testing correction: none, bonferroni, holm or benjamini-hochberg")
	cmd.Flags().StringVar(&flags.tails, "tails", "", "Override default tails: one_tailed or two_tailed")
	cmd.Flags().Float64Var(&flags.alpha, "alpha", 0, "Override default significance level")
	cmd.Flags().BoolVar(&flags.sequential, "sequential", false, "Evaluate under the sequential stopping rule")
	cmd.Flags().IntVar(&flags.maxSampleSize, "max-sample-size", 0, "Planned sample size per arm for sequential runs")
	cmd.Flags().IntVar(&flags.draws, "draws", 0, "Override posterior draw budget for Bayesian runs")
	cmd.Flags().Int64Var(&flags.seed, "seed", 0, "Random seed for deterministic operations")
	cmd.Flags().StringVar(&flags.weightsJSON, "weights", "", `Group weights as JSON, e.g. '{"control":0.5,"treatment":0.5}'`)
	cmd.Flags().StringVar(&flags.strategy, "strategy", "", "Bucketing strategy for unassigned records: hash or random")
	cmd.Flags().StringVar(&flags.sheet, "sheet", "", "Worksheet name for XLSX input")
	cmd.Flags().StringVar(&flags.warehouseDSN, "warehouse-dsn", "", "Postgres DSN; reads the warehouse instead of a file")
	cmd.Flags().StringVar(&flags.table, "table", "observations", "Warehouse table name")
	cmd.Flags().StringVar(&flags.format, "format", "markdown", "Output format: markdown or json")
	cmd.MarkFlagRequired("experiment-key")

	return cmd
}

func runAnalysis(ctx context.Context, path string, flags runFlags) error {
	key, err := core.ParseExperimentKey(flags.experimentKey)
	if err != nil {
		return err
	}

	reader, err := resolveReader(path, flags, key)
	if err != nil {
		return err
	}

	defaults := experiment.StandardDefaults()
	cfg, err := experiment.NewTestConfig(
		experiment.TestType(flags.testType),
		experiment.MetricKind(flags.metricKind),
		defaults,
	)
	if err != nil {
		return err
	}
	cfg.Correction = experiment.CorrectionMethod(flags.correction)
	cfg.Sequential = flags.sequential
	cfg.MaxSampleSize = flags.maxSampleSize
	if flags.tails != "" {
		cfg.Tails = experiment.Tails(flags.tails)
	}
	if flags.alpha != 0 {
		cfg.Alpha = flags.alpha
	}
	if flags.draws != 0 {
		cfg.PosteriorDraws = flags.draws
	}
	if flags.seed != 0 {
		cfg.Seed = flags.seed
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	var weights experiment.GroupWeights
	if flags.weightsJSON != "" {
		if err := json.Unmarshal([]byte(flags.weightsJSON), &weights); err != nil {
			return fmt.Errorf("parsing --weights: %w", err)
		}
	}

	service := app.NewAnalysisService(defaults)
	outcome, err := service.Analyze(ctx, reader, app.AnalysisRequest{
		ExperimentKey: key,
		Config:        cfg,
		Weights:       weights,
		Strategy:      experiment.Strategy(flags.strategy),
		Seed:          flags.seed,
	})
	if err != nil {
		return err
	}

	return printReport(outcome.Report, flags.format)
}

func resolveReader(path string, flags runFlags, key core.ExperimentKey) (ports.DatasetReaderPort, error) {
	if flags.warehouseDSN != "" {
		db, err := warehouse.Connect(flags.warehouseDSN, 4)
		if err != nil {
			return nil, err
		}
		return warehouse.NewReader(db, flags.table, key), nil
	}
	if path == "" {
		return nil, fmt.Errorf("provide a dataset file or --warehouse-dsn")
	}
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return excel.NewReader(path, flags.sheet), nil
	}
	return dataset.NewFileReader(path)
}

func newAssignCmd() *cobra.Command {
	var weightsJSON string
	var strategy string
	var seed int64
	var experimentKey string

	cmd := &cobra.Command{
		Use:   "assign [subject-ids...]",
		Short: "Bucket subjects into groups",
		Long: `Assign each subject to a group and print the assignments.

Example: abstat assign user-1 user-2 user-3 --experiment-key checkout-v2 --weights '{"control":0.5,"treatment":0.5}'`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := core.ParseExperimentKey(experimentKey)
			if err != nil {
				return err
			}

			var weights experiment.GroupWeights
			if err := json.Unmarshal([]byte(weightsJSON), &weights); err != nil {
				return fmt.Errorf("parsing --weights: %w", err)
			}

			assigner, err := bucketing.NewAssigner(key, experiment.Strategy(strategy), weights, seed)
			if err != nil {
				return err
			}

			out := json.NewEncoder(os.Stdout)
			out.SetIndent("", "  ")
			for _, subjectID := range args {
				assignment, err := assigner.AssignSubject(subjectID)
				if err != nil {
					return err
				}
				if err := out.Encode(assignment); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&experimentKey, "experiment-key", "", "Experiment identifier (required)")
	cmd.Flags().StringVar(&weightsJSON, "weights", `{"control":0.5,"treatment":0.5}`, "Group weights as JSON")
	cmd.Flags().StringVar(&strategy, "strategy", "hash", "Bucketing strategy: hash or random")
	cmd.Flags().Int64Var(&seed, "seed", 1, "Seed for the random strategy")
	cmd.MarkFlagRequired("experiment-key")

	return cmd
}

func newDemoCmd() *cobra.Command {
	var subjects int
	var baseline, lift float64
	var seed uint64
	var testType string

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run both engines over a synthetic conversion experiment",
		RunE: func(cmd *cobra.Command, args []string) error {
			scenario := testkit.ConversionScenario(subjects, baseline, lift, seed)
			records, err := scenario.Generate()
			if err != nil {
				return err
			}

			key, _ := core.ParseExperimentKey("demo-experiment")
			defaults := experiment.StandardDefaults()
			cfg, err := experiment.NewTestConfig(
				experiment.TestType(testType),
				experiment.MetricBinary,
				defaults,
			)
			if err != nil {
				return err
			}

			service := app.NewAnalysisService(defaults)
			kit := testkit.NewTestKit()
			outcome, err := service.Analyze(cmd.Context(), kit.ReaderFor(records), app.AnalysisRequest{
				ExperimentKey: key,
				Config:        cfg,
			})
			if err != nil {
				return err
			}
			return printReport(outcome.Report, "markdown")
		},
	}

	cmd.Flags().IntVar(&subjects, "subjects", 5000, "Subjects per group")
	cmd.Flags().Float64Var(&baseline, "baseline", 0.10, "Control conversion rate")
	cmd.Flags().Float64Var(&lift, "lift", 0.02, "Additive treatment effect")
	cmd.Flags().Uint64Var(&seed, "seed", 42, "Scenario seed")
	cmd.Flags().StringVar(&testType, "test-type", "frequentist", "Test type: frequentist or bayesian")

	return cmd
}

func printReport(report *experiment.Report, format string) error {
	switch format {
	case "json":
		out := json.NewEncoder(os.Stdout)
		out.SetIndent("", "  ")
		return out.Encode(report)
	case "markdown":
		fmt.Println(report.Markdown())
		return nil
	default:
		return fmt.Errorf("unknown format %q, want markdown or json", format)
	}
}

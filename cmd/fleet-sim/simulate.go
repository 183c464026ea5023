package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/miradorstack/mirador-fleetsim/internal/config"
	"github.com/miradorstack/mirador-fleetsim/internal/models"
	"github.com/miradorstack/mirador-fleetsim/internal/utils"
)

const formatReport = "report"

type simulateOptions struct {
	ticks   int
	format  string
	seed    int64
	injects []string
}

// plannedInjection is one --inject flag: node:scenario@tick.
type plannedInjection struct {
	node     string
	scenario string
	tick     int
}

func newSimulateCmd(configPath *string) *cobra.Command {
	opts := simulateOptions{}
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run ticks offline and print the recorded history",
		Long: `Runs the simulator synchronously without waiting for the tick interval and
writes the history export (json or csv) or a root-cause report to stdout.`,
		Example: `  fleet-sim simulate --ticks 240 --format csv
  fleet-sim simulate --ticks 120 --inject db-01:database_slowdown@20 --format report`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSimulate(cmd.Context(), *configPath, opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	cmd.Flags().IntVarP(&opts.ticks, "ticks", "n", 120, "Number of ticks to run")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "json", "Output format: json, csv or report")
	cmd.Flags().Int64Var(&opts.seed, "seed", 0, "Random seed (overrides config)")
	cmd.Flags().StringArrayVar(&opts.injects, "inject", nil, "Inject a scenario as node:scenario@tick (repeatable)")
	return cmd
}

func runSimulate(ctx context.Context, configPath string, opts simulateOptions, stdout, stderr io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.ticks <= 0 {
		return fmt.Errorf("--ticks must be positive")
	}
	switch opts.format {
	case "json", "csv", formatReport:
	default:
		return fmt.Errorf("unsupported format %q", opts.format)
	}
	plan, err := parseInjections(opts.injects)
	if err != nil {
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if opts.seed != 0 {
		cfg.Simulation.Seed = opts.seed
	}
	if cfg.Simulation.Seed == 0 {
		cfg.Simulation.Seed = 1
	}
	logger := utils.NewLoggerTo(stderr, cfg.Logging.Level, cfg.Logging.JSON)

	now := time.Now().UTC().Truncate(time.Second)
	cfg.Analysis.Window = time.Duration(opts.ticks) * cfg.Simulation.TickInterval
	sim, analyzer, err := buildEngine(cfg, logger, func() time.Time { return now })
	if err != nil {
		return err
	}
	defer sim.Close()

	for tick := 1; tick <= opts.ticks; tick++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		for _, p := range plan {
			if p.tick != tick {
				continue
			}
			if _, err := sim.Inject(p.node, p.scenario, models.InjectOptions{}); err != nil {
				logger.Warn("planned injection failed", slog.String("node", p.node), slog.String("scenario", p.scenario), slog.Any("error", err))
			}
		}
		now = now.Add(cfg.Simulation.TickInterval)
		sim.Step(ctx, now)
	}
	logger.Info("simulation finished", slog.Int("ticks", opts.ticks), slog.Duration("p95_tick", sim.TickLatency()))

	if opts.format == formatReport {
		report, err := analyzer.Analyze(ctx, 0)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	data, err := sim.History().Export(opts.format)
	if err != nil {
		return err
	}
	_, err = stdout.Write(data)
	return err
}

func parseInjections(raw []string) ([]plannedInjection, error) {
	out := make([]plannedInjection, 0, len(raw))
	for _, spec := range raw {
		target, at, ok := strings.Cut(spec, "@")
		if !ok {
			return nil, fmt.Errorf("inject %q: expected node:scenario@tick", spec)
		}
		node, scenario, ok := strings.Cut(target, ":")
		if !ok || node == "" || scenario == "" {
			return nil, fmt.Errorf("inject %q: expected node:scenario@tick", spec)
		}
		tick, err := strconv.Atoi(at)
		if err != nil || tick < 1 {
			return nil, fmt.Errorf("inject %q: tick must be a positive integer", spec)
		}
		out = append(out, plannedInjection{node: node, scenario: scenario, tick: tick})
	}
	return out, nil
}

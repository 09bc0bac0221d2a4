package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"syscall"

	"github.com/ongoingai/agenteval/internal/config"
	"github.com/ongoingai/agenteval/internal/evaluation"
	"github.com/ongoingai/agenteval/internal/evaluators"
	"github.com/ongoingai/agenteval/internal/instrument"
	"github.com/ongoingai/agenteval/internal/judge"
	"github.com/ongoingai/agenteval/internal/observability"
	"github.com/ongoingai/agenteval/internal/report"
	"github.com/ongoingai/agenteval/internal/results"
	"github.com/ongoingai/agenteval/internal/trace"
)

const (
	defaultEvaluateFormat = "text"
	defaultEvaluateLimit  = 100
	maxEvaluateLimit      = 500
)

func runEvaluate(args []string, out io.Writer, errOut io.Writer) int {
	flagSet := flag.NewFlagSet("evaluate", flag.ContinueOnError)
	flagSet.SetOutput(errOut)

	configPath := flagSet.String("config", defaultConfigPath, "Path to config file")
	input := flagSet.String("input", "", "Evaluate traces from an export file instead of the trace store")
	systemName := flagSet.String("system", "", "System name (defaults to system.name)")
	resultName := flagSet.String("name", "", "Name for the saved result (defaults to the system name)")
	limit := flagSet.Int("limit", defaultEvaluateLimit, fmt.Sprintf("Most recent stored traces to evaluate (1-%d)", maxEvaluateLimit))
	format := flagSet.String("format", defaultEvaluateFormat, "Output format: text or json")
	noSave := flagSet.Bool("no-save", false, "Do not save the result")
	color := flagSet.Bool("color", false, "Colorize text output")
	verbose := flagSet.Bool("verbose", false, "Log debug output to stderr")

	if err := flagSet.Parse(args); err != nil {
		return 2
	}
	if flagSet.NArg() != 0 {
		fmt.Fprintln(errOut, "evaluate does not accept positional arguments")
		return 2
	}
	normalizedFormat, err := normalizeFormat("evaluate", *format, defaultEvaluateFormat)
	if err != nil {
		fmt.Fprintln(errOut, err.Error())
		return 2
	}
	if *limit <= 0 || *limit > maxEvaluateLimit {
		fmt.Fprintf(errOut, "limit must be between 1 and %d\n", maxEvaluateLimit)
		return 2
	}

	cfg, stage, err := loadAndValidateConfig(*configPath)
	if err != nil {
		reportConfigError(errOut, stage, err)
		return 1
	}
	system := strings.TrimSpace(*systemName)
	if system == "" {
		system = cfg.System.Name
	}

	ctx, stop := signalNotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := newLogger(errOut, *verbose)
	runtime := setupOpenTelemetry(ctx, cfg, logger)
	defer shutdownOpenTelemetry(logger, runtime, otelShutdownTimeout)

	traces, err := loadEvaluationTraces(ctx, cfg, *input, system, *limit, strings.TrimSpace(*systemName) != "")
	if err != nil {
		fmt.Fprintf(errOut, "failed to load traces: %v\n", err)
		return 1
	}
	if *input != "" && strings.TrimSpace(*systemName) == "" && traces.system != "" {
		system = traces.system
	}
	description := traces.systemDescription(cfg.System.Description)

	if cfg.Judge.APIKey() == "" {
		logger.Warn("judge api key is not set; judged checks will fall back to neutral scores", "api_key_env", cfg.Judge.APIKeyEnv)
	}
	orchestrator, err := newOrchestrator(cfg, judge.FromConfig(cfg.Judge, runtime), runtime, logger)
	if err != nil {
		fmt.Fprintf(errOut, "failed to configure evaluation: %v\n", err)
		return 1
	}

	result := orchestrator.Evaluate(ctx, system, description, traces.items)
	if ctx.Err() != nil {
		fmt.Fprintf(errOut, "evaluation interrupted: %v\n", ctx.Err())
		return 1
	}

	if !*noSave {
		name := strings.TrimSpace(*resultName)
		if name == "" {
			name = system
		}
		path, err := results.NewStore(cfg.Results.Dir).Save(result, name)
		if err != nil {
			fmt.Fprintf(errOut, "failed to save result: %v\n", err)
			return 1
		}
		fmt.Fprintf(errOut, "saved result: %s\n", path)
	}

	if normalizedFormat == "json" {
		err = report.RenderJSON(out, result)
	} else {
		err = report.Render(out, result, reportStyles(*color))
	}
	if err != nil {
		fmt.Fprintf(errOut, "failed to render result: %v\n", err)
		return 1
	}
	return 0
}

type loadedTraces struct {
	system      string
	description string
	items       []*trace.Trace
}

// systemDescription prefers the description recorded with an export over the
// configured one.
func (l loadedTraces) systemDescription(configured string) string {
	if l.description != "" {
		return l.description
	}
	return configured
}

// loadEvaluationTraces reads an export file when input is set and otherwise
// queries the trace store for the most recent traces of system.
func loadEvaluationTraces(ctx context.Context, cfg config.Config, input, system string, limit int, systemExplicit bool) (loadedTraces, error) {
	if strings.TrimSpace(input) != "" {
		doc, err := instrument.LoadExport(input)
		if err != nil {
			return loadedTraces{}, err
		}
		items := doc.Traces
		if systemExplicit {
			items = filterBySystem(items, system)
		}
		return loadedTraces{system: doc.SystemName, description: doc.SystemDescription, items: items}, nil
	}

	store, err := openTraceStore(cfg)
	if err != nil {
		return loadedTraces{}, err
	}
	defer func() { _ = closeTraceStore(store) }()

	page, err := store.QueryTraces(ctx, trace.TraceFilter{System: system, Limit: limit})
	if err != nil {
		return loadedTraces{}, fmt.Errorf("query traces: %w", err)
	}
	return loadedTraces{system: system, items: page.Items}, nil
}

func filterBySystem(items []*trace.Trace, system string) []*trace.Trace {
	out := make([]*trace.Trace, 0, len(items))
	for _, item := range items {
		if item != nil && (item.System == "" || item.System == system) {
			out = append(out, item)
		}
	}
	return out
}

func newOrchestrator(cfg config.Config, j judge.Judge, runtime *observability.Runtime, logger *slog.Logger) (*evaluation.Orchestrator, error) {
	return evaluation.New(
		evaluators.Default(j),
		evaluation.WithWeights(cfg.Evaluation.Weights),
		evaluation.WithConcurrency(cfg.Evaluation.Concurrency),
		evaluation.WithRuntime(runtime),
		evaluation.WithLogger(logger),
	)
}

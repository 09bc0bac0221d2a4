package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/ongoingai/agenteval/internal/config"
	"github.com/ongoingai/agenteval/internal/observability"
	"github.com/ongoingai/agenteval/internal/version"
)

const defaultConfigPath = "agenteval.yaml"

const traceWriterShutdownTimeout = 5 * time.Second
const otelShutdownTimeout = 5 * time.Second

var signalNotifyContext = signal.NotifyContext

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		printUsage(errOut)
		return 2
	}

	switch args[0] {
	case "version", "--version", "-v":
		fmt.Fprintln(out, version.String())
		return 0
	case "config":
		return runConfig(args[1:], out, errOut)
	case "evaluate":
		return runEvaluate(args[1:], out, errOut)
	case "import":
		return runImport(args[1:], out, errOut)
	case "traces":
		return runTraces(args[1:], out, errOut)
	case "results":
		return runResults(args[1:], out, errOut)
	case "help", "--help", "-h":
		printUsage(out)
		return 0
	default:
		printUsage(errOut)
		return 2
	}
}

func runConfig(args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		printConfigUsage(errOut)
		return 2
	}

	switch args[0] {
	case "validate":
		return runConfigValidate(args[1:], out, errOut)
	default:
		printConfigUsage(errOut)
		return 2
	}
}

func runConfigValidate(args []string, out io.Writer, errOut io.Writer) int {
	flagSet := flag.NewFlagSet("config validate", flag.ContinueOnError)
	flagSet.SetOutput(errOut)
	configPath := flagSet.String("config", defaultConfigPath, "Path to config file")
	if err := flagSet.Parse(args); err != nil {
		return 2
	}
	if flagSet.NArg() != 0 {
		fmt.Fprintln(errOut, "config validate does not accept positional arguments")
		return 2
	}

	if _, _, err := loadAndValidateConfig(*configPath); err != nil {
		fmt.Fprintf(errOut, "config is invalid: %v\n", err)
		return 1
	}

	fmt.Fprintf(out, "config is valid: %s\n", *configPath)
	return 0
}

// newLogger writes JSON logs to errOut so stdout stays reserved for command
// output. Records carry the active OpenTelemetry trace and span ids.
func newLogger(errOut io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(observability.NewTraceLogHandler(slog.NewJSONHandler(errOut, &slog.HandlerOptions{Level: level})))
}

func setupOpenTelemetry(ctx context.Context, cfg config.Config, logger *slog.Logger) *observability.Runtime {
	runtime, err := observability.Setup(ctx, cfg.Observability.OTel, version.String(), logger)
	if err != nil {
		logger.Error("failed to initialize opentelemetry; continuing with instrumentation disabled", "error", err)
	}
	return runtime
}

func shutdownOpenTelemetry(logger *slog.Logger, runtime *observability.Runtime, timeout time.Duration) {
	if runtime == nil || !runtime.Enabled() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := runtime.Shutdown(ctx); err != nil {
		if logger != nil {
			logger.Error("failed to shutdown opentelemetry providers", "error", err, "timeout", timeout.String())
		}
	}
}

func printUsage(out io.Writer) {
	fmt.Fprintln(out, "Usage:")
	fmt.Fprintln(out, "  agenteval version")
	fmt.Fprintln(out, "  agenteval config validate [--config path/to/agenteval.yaml]")
	fmt.Fprintln(out, "  agenteval evaluate [--config path/to/agenteval.yaml] [--input traces.json] [--system NAME] [--name NAME] [--limit N] [--format text|json] [--no-save] [--color] [--verbose]")
	fmt.Fprintln(out, "  agenteval import --input traces.json [--config path/to/agenteval.yaml] [--verbose]")
	fmt.Fprintln(out, "  agenteval traces [--config path/to/agenteval.yaml] [--system NAME] [--name NAME] [--errors] [--limit N] [--cursor CURSOR] [--format text|json]")
	fmt.Fprintln(out, "  agenteval results list [--config path/to/agenteval.yaml] [--format text|json]")
	fmt.Fprintln(out, "  agenteval results show NAME [--config path/to/agenteval.yaml] [--format text|json|summary] [--color]")
	fmt.Fprintln(out, "  agenteval results compare NAME NAME... [--config path/to/agenteval.yaml] [--color]")
}

func printConfigUsage(out io.Writer) {
	fmt.Fprintln(out, "Usage:")
	fmt.Fprintln(out, "  agenteval config validate [--config path/to/agenteval.yaml]")
}

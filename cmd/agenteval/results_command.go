package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"

	"github.com/ongoingai/agenteval/internal/evaluation"
	"github.com/ongoingai/agenteval/internal/report"
	"github.com/ongoingai/agenteval/internal/results"
)

func runResults(args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		printResultsUsage(errOut)
		return 2
	}

	switch args[0] {
	case "list":
		return runResultsList(args[1:], out, errOut)
	case "show":
		return runResultsShow(args[1:], out, errOut)
	case "compare":
		return runResultsCompare(args[1:], out, errOut)
	default:
		printResultsUsage(errOut)
		return 2
	}
}

// parseInterspersed parses flags that may appear before or after positional
// arguments.
func parseInterspersed(flagSet *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := flagSet.Parse(args); err != nil {
			return nil, err
		}
		args = flagSet.Args()
		if len(args) == 0 {
			return positional, nil
		}
		positional = append(positional, args[0])
		args = args[1:]
	}
}

func openResultsStore(configPath string, errOut io.Writer) (*results.Store, bool) {
	cfg, stage, err := loadAndValidateConfig(configPath)
	if err != nil {
		reportConfigError(errOut, stage, err)
		return nil, false
	}
	return results.NewStore(cfg.Results.Dir), true
}

func runResultsList(args []string, out io.Writer, errOut io.Writer) int {
	flagSet := flag.NewFlagSet("results list", flag.ContinueOnError)
	flagSet.SetOutput(errOut)
	configPath := flagSet.String("config", defaultConfigPath, "Path to config file")
	format := flagSet.String("format", "text", "Output format: text or json")
	if err := flagSet.Parse(args); err != nil {
		return 2
	}
	if flagSet.NArg() != 0 {
		fmt.Fprintln(errOut, "results list does not accept positional arguments")
		return 2
	}
	normalizedFormat, err := normalizeFormat("results list", *format, "text")
	if err != nil {
		fmt.Fprintln(errOut, err.Error())
		return 2
	}

	store, ok := openResultsStore(*configPath, errOut)
	if !ok {
		return 1
	}
	entries, err := store.List()
	if err != nil {
		fmt.Fprintf(errOut, "failed to list results: %v\n", err)
		return 1
	}

	if normalizedFormat == "json" {
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(entries); err != nil {
			fmt.Fprintf(errOut, "failed to encode results: %v\n", err)
			return 1
		}
		return 0
	}

	if len(entries) == 0 {
		fmt.Fprintf(out, "No results in %s.\n", store.Dir())
		return 0
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tFILE\tSCORE\tSTATUS\tTRACES\tEVALUATED")
	for _, entry := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
			entry.Name,
			entry.Filename,
			evaluation.Percent(entry.Score),
			entry.Status,
			entry.Traces,
			humanize.Time(entry.Timestamp),
		)
	}
	_ = tw.Flush()
	return 0
}

func runResultsShow(args []string, out io.Writer, errOut io.Writer) int {
	flagSet := flag.NewFlagSet("results show", flag.ContinueOnError)
	flagSet.SetOutput(errOut)
	configPath := flagSet.String("config", defaultConfigPath, "Path to config file")
	format := flagSet.String("format", "text", "Output format: text, json or summary")
	color := flagSet.Bool("color", false, "Colorize text output")
	positional, err := parseInterspersed(flagSet, args)
	if err != nil {
		return 2
	}
	if len(positional) != 1 {
		fmt.Fprintln(errOut, "usage: agenteval results show NAME [--format text|json|summary]")
		return 2
	}
	normalizedFormat, err := normalizeFormat("results show", *format, "text", "text", "json", "summary")
	if err != nil {
		fmt.Fprintln(errOut, err.Error())
		return 2
	}

	store, ok := openResultsStore(*configPath, errOut)
	if !ok {
		return 1
	}
	result, err := store.Load(positional[0])
	if err != nil {
		return reportLoadError(errOut, positional[0], err)
	}

	switch normalizedFormat {
	case "json":
		err = report.RenderJSON(out, result)
	case "summary":
		_, err = fmt.Fprintln(out, report.Summary(result))
	default:
		err = report.Render(out, result, reportStyles(*color))
	}
	if err != nil {
		fmt.Fprintf(errOut, "failed to render result: %v\n", err)
		return 1
	}
	return 0
}

func runResultsCompare(args []string, out io.Writer, errOut io.Writer) int {
	flagSet := flag.NewFlagSet("results compare", flag.ContinueOnError)
	flagSet.SetOutput(errOut)
	configPath := flagSet.String("config", defaultConfigPath, "Path to config file")
	color := flagSet.Bool("color", false, "Colorize text output")
	positional, err := parseInterspersed(flagSet, args)
	if err != nil {
		return 2
	}
	if len(positional) < 2 {
		fmt.Fprintln(errOut, "usage: agenteval results compare NAME NAME...")
		return 2
	}

	store, ok := openResultsStore(*configPath, errOut)
	if !ok {
		return 1
	}
	loaded, err := store.LoadAll(positional)
	if err != nil {
		var loadErr *results.LoadError
		if errors.As(err, &loadErr) {
			return reportLoadError(errOut, loadErr.Name, loadErr.Err)
		}
		fmt.Fprintf(errOut, "failed to load results: %v\n", err)
		return 1
	}

	if err := report.RenderComparison(out, results.Compare(loaded), reportStyles(*color)); err != nil {
		fmt.Fprintf(errOut, "failed to render comparison: %v\n", err)
		return 1
	}
	return 0
}

func reportLoadError(errOut io.Writer, name string, err error) int {
	var schemaErr *results.UnsupportedSchemaError
	switch {
	case errors.Is(err, results.ErrInvalidName):
		fmt.Fprintf(errOut, "invalid result name %q: %v\n", name, err)
		return 2
	case errors.Is(err, results.ErrNotFound):
		fmt.Fprintf(errOut, "result not found: %s\n", name)
	case errors.As(err, &schemaErr):
		fmt.Fprintf(errOut, "cannot read result %s: %v\n", name, err)
	default:
		fmt.Fprintf(errOut, "failed to load result %s: %v\n", name, err)
	}
	return 1
}

func printResultsUsage(out io.Writer) {
	fmt.Fprintln(out, "Usage:")
	fmt.Fprintln(out, "  agenteval results list [--config path/to/agenteval.yaml] [--format text|json]")
	fmt.Fprintln(out, "  agenteval results show NAME [--config path/to/agenteval.yaml] [--format text|json|summary] [--color]")
	fmt.Fprintln(out, "  agenteval results compare NAME NAME... [--config path/to/agenteval.yaml] [--color]")
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/ongoingai/agenteval/internal/instrument"
	"github.com/ongoingai/agenteval/internal/trace"
)

const (
	defaultTracesFormat = "text"
	defaultTracesLimit  = 20
	maxTracesLimit      = 500
)

type traceListDocument struct {
	Items      []traceListItem `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type traceListItem struct {
	ID          string    `json:"id"`
	Name        string    `json:"name,omitempty"`
	System      string    `json:"system,omitempty"`
	Framework   string    `json:"framework,omitempty"`
	StartTime   time.Time `json:"start_time"`
	DurationMS  int64     `json:"duration_ms"`
	ModelCalls  int       `json:"model_calls"`
	ToolCalls   int       `json:"tool_calls"`
	AgentSpans  int       `json:"agent_spans"`
	TotalTokens int       `json:"total_tokens"`
	Error       string    `json:"error,omitempty"`
	Issues      []string  `json:"issues,omitempty"`
}

func runTraces(args []string, out io.Writer, errOut io.Writer) int {
	flagSet := flag.NewFlagSet("traces", flag.ContinueOnError)
	flagSet.SetOutput(errOut)

	configPath := flagSet.String("config", defaultConfigPath, "Path to config file")
	system := flagSet.String("system", "", "System filter")
	name := flagSet.String("name", "", "Trace name filter")
	errorsOnly := flagSet.Bool("errors", false, "Only traces that ended with an error")
	limit := flagSet.Int("limit", defaultTracesLimit, fmt.Sprintf("Page size (1-%d)", maxTracesLimit))
	cursor := flagSet.String("cursor", "", "Continue from a previous page")
	format := flagSet.String("format", defaultTracesFormat, "Output format: text or json")

	if err := flagSet.Parse(args); err != nil {
		return 2
	}
	if flagSet.NArg() != 0 {
		fmt.Fprintln(errOut, "traces does not accept positional arguments")
		return 2
	}
	normalizedFormat, err := normalizeFormat("traces", *format, defaultTracesFormat)
	if err != nil {
		fmt.Fprintln(errOut, err.Error())
		return 2
	}
	if *limit <= 0 || *limit > maxTracesLimit {
		fmt.Fprintf(errOut, "limit must be between 1 and %d\n", maxTracesLimit)
		return 2
	}

	cfg, stage, err := loadAndValidateConfig(*configPath)
	if err != nil {
		reportConfigError(errOut, stage, err)
		return 1
	}
	store, err := openTraceStore(cfg)
	if err != nil {
		fmt.Fprintf(errOut, "failed to open trace store: %v\n", err)
		return 1
	}
	defer closeTraceStoreWithWarning(store, errOut)

	page, err := store.QueryTraces(context.Background(), trace.TraceFilter{
		System:     strings.TrimSpace(*system),
		Name:       strings.TrimSpace(*name),
		ErrorsOnly: *errorsOnly,
		Limit:      *limit,
		Cursor:     strings.TrimSpace(*cursor),
	})
	if err != nil {
		if errors.Is(err, trace.ErrInvalidCursor) {
			fmt.Fprintf(errOut, "invalid cursor: %v\n", err)
			return 2
		}
		fmt.Fprintf(errOut, "failed to query traces: %v\n", err)
		return 1
	}

	doc := traceListDocument{Items: make([]traceListItem, 0, len(page.Items)), NextCursor: page.NextCursor}
	for _, item := range page.Items {
		doc.Items = append(doc.Items, traceListItem{
			ID:          item.ID,
			Name:        item.Name,
			System:      item.System,
			Framework:   item.Framework,
			StartTime:   item.StartTime,
			DurationMS:  item.Duration.Milliseconds(),
			ModelCalls:  len(item.ModelCalls),
			ToolCalls:   len(item.ToolCalls),
			AgentSpans:  len(item.AgentSpans),
			TotalTokens: item.TotalTokens(),
			Error:       item.Error,
			Issues:      item.Issues,
		})
	}

	if normalizedFormat == "json" {
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(doc); err != nil {
			fmt.Fprintf(errOut, "failed to encode traces: %v\n", err)
			return 1
		}
		return 0
	}
	writeTraceList(out, doc)
	return 0
}

func writeTraceList(out io.Writer, doc traceListDocument) {
	if len(doc.Items) == 0 {
		fmt.Fprintln(out, "No traces found.")
		return
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSYSTEM\tSTARTED\tDURATION\tMODEL\tTOOLS\tTOKENS\tSTATUS")
	for _, item := range doc.Items {
		status := "ok"
		if item.Error != "" {
			status = "error"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%dms\t%d\t%d\t%s\t%s\n",
			item.ID,
			dashIfEmpty(item.Name),
			dashIfEmpty(item.System),
			humanize.Time(item.StartTime),
			item.DurationMS,
			item.ModelCalls,
			item.ToolCalls,
			humanize.Comma(int64(item.TotalTokens)),
			status,
		)
	}
	_ = tw.Flush()
	if doc.NextCursor != "" {
		fmt.Fprintf(out, "\nMore traces: --cursor %s\n", doc.NextCursor)
	}
}

func dashIfEmpty(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

// runImport persists the traces of an export file through the async writer.
func runImport(args []string, out io.Writer, errOut io.Writer) int {
	flagSet := flag.NewFlagSet("import", flag.ContinueOnError)
	flagSet.SetOutput(errOut)

	configPath := flagSet.String("config", defaultConfigPath, "Path to config file")
	input := flagSet.String("input", "", "Export file written by the capture recorder")
	verbose := flagSet.Bool("verbose", false, "Log debug output to stderr")

	if err := flagSet.Parse(args); err != nil {
		return 2
	}
	if flagSet.NArg() != 0 {
		fmt.Fprintln(errOut, "import does not accept positional arguments")
		return 2
	}
	if strings.TrimSpace(*input) == "" {
		fmt.Fprintln(errOut, "usage: agenteval import --input traces.json [--config path/to/agenteval.yaml]")
		return 2
	}

	cfg, stage, err := loadAndValidateConfig(*configPath)
	if err != nil {
		reportConfigError(errOut, stage, err)
		return 1
	}
	doc, err := instrument.LoadExport(*input)
	if err != nil {
		fmt.Fprintf(errOut, "failed to load traces: %v\n", err)
		return 1
	}

	ctx, stop := signalNotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := newLogger(errOut, *verbose)
	runtime := setupOpenTelemetry(ctx, cfg, logger)
	defer shutdownOpenTelemetry(logger, runtime, otelShutdownTimeout)

	store, err := openTraceStore(cfg)
	if err != nil {
		fmt.Fprintf(errOut, "failed to open trace store: %v\n", err)
		return 1
	}
	defer closeTraceStoreWithWarning(store, errOut)

	writer := newTraceWriter(store, cfg, logger, runtime)
	writer.Start(ctx)
	queued, dropped := 0, 0
	for _, item := range doc.Traces {
		if item == nil {
			continue
		}
		if item.System == "" {
			item.System = doc.SystemName
		}
		if writer.Enqueue(item) {
			queued++
			continue
		}
		dropped++
	}
	if err := shutdownTraceWriter(logger, writer, traceWriterShutdownTimeout); err != nil {
		fmt.Fprintf(errOut, "failed to flush traces: %v\n", err)
		return 1
	}

	diagnostics := writer.Diagnostics()
	failed := int(diagnostics.WriteDroppedTotal)
	fmt.Fprintf(out, "imported %d traces from %s\n", queued-failed, *input)
	if dropped > 0 || failed > 0 {
		fmt.Fprintf(errOut, "warning: %d traces dropped (queue full: %d, write failures: %d)\n", dropped+failed, dropped, failed)
		return 1
	}
	return 0
}

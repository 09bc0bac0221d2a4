package report

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/ongoingai/agenteval/internal/evaluation"
	"github.com/ongoingai/agenteval/internal/evaluators"
	"github.com/ongoingai/agenteval/internal/results"
)

const (
	ruleWidth          = 70
	sectionRuleWidth   = 66
	barWidth           = 25
	maxIssues          = 10
	maxTraceBreakdown  = 5
	categoryWarnScore  = 0.7
	shortTraceIDLength = 8
)

// Styles colors the text report. The zero value renders plain text.
type Styles struct {
	Title   lipgloss.Style
	Success lipgloss.Style
	Warn    lipgloss.Style
	Fail    lipgloss.Style
	Dim     lipgloss.Style
}

// DefaultStyles returns the terminal color scheme.
func DefaultStyles() Styles {
	return Styles{
		Title:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212")),
		Success: lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		Warn:    lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		Fail:    lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		Dim:     lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
	}
}

// PlainStyles renders without any terminal escapes.
func PlainStyles() Styles {
	plain := lipgloss.NewStyle()
	return Styles{Title: plain, Success: plain, Warn: plain, Fail: plain, Dim: plain}
}

func (s Styles) status(status evaluation.Status) lipgloss.Style {
	switch status {
	case evaluation.StatusExcellent, evaluation.StatusGood:
		return s.Success
	case evaluation.StatusFair:
		return s.Warn
	default:
		return s.Fail
	}
}

// StatusIcon is the marker shown next to the overall score.
func StatusIcon(status evaluation.Status) string {
	switch status {
	case evaluation.StatusExcellent:
		return "★"
	case evaluation.StatusGood:
		return "●"
	case evaluation.StatusFair:
		return "○"
	default:
		return "✗"
	}
}

// Bar draws a fixed-width progress bar for a score in [0, 1].
func Bar(score float64) string {
	filled := int(score * barWidth)
	if filled < 0 {
		filled = 0
	}
	if filled > barWidth {
		filled = barWidth
	}
	return strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)
}

// Render writes the human-readable report for result.
func Render(w io.Writer, result *evaluation.EvaluationResult, styles Styles) error {
	if result == nil {
		return fmt.Errorf("render report: result is nil")
	}
	bw := bufio.NewWriter(w)
	line := func(format string, args ...any) {
		fmt.Fprintf(bw, format+"\n", args...)
	}

	rule := strings.Repeat("=", ruleWidth)
	section := strings.Repeat("-", sectionRuleWidth)

	line("")
	line("%s", rule)
	line("  %s", styles.Title.Render("AGENT EVALUATION: "+result.SystemName))
	line("%s", rule)
	line("")

	scoreText := fmt.Sprintf("%s %s (%s)", evaluation.Percent(result.Score), StatusIcon(result.Status), result.Status)
	line("  Overall Score: %s", styles.status(result.Status).Render(scoreText))
	line("")
	line("  Traces: %d | Model Calls: %d | Tool Calls: %d", result.TotalTraces, result.TotalModelCalls, result.TotalToolCalls)
	line("  Total Tokens: %s | Total Time: %s", humanize.Comma(int64(result.TotalTokens)), seconds(result.TotalDuration))
	line("")

	if len(result.Categories) > 0 {
		line("  CATEGORY SCORES")
		line("  %s", section)
		for _, cat := range sortedCategories(result.Categories) {
			row := fmt.Sprintf("  %-16s %s %4s", cat.Name, Bar(cat.Score), evaluation.Percent(cat.Score))
			if cat.Score < categoryWarnScore {
				row += " " + styles.Warn.Render("⚠")
			}
			line("%s", row)
		}
		line("")
	}

	if len(result.Issues) > 0 {
		line("  ISSUES (%d)", len(result.Issues))
		line("  %s", section)
		for i, issue := range result.Issues {
			if i == maxIssues {
				line("  %s", styles.Dim.Render(fmt.Sprintf("... and %d more", len(result.Issues)-maxIssues)))
				break
			}
			line("  • %s", issue)
		}
		line("")
	}

	if len(result.Recommendations) > 0 {
		line("  RECOMMENDATIONS")
		line("  %s", section)
		for _, rec := range result.Recommendations {
			line("  → %s", rec)
		}
		line("")
	}

	if n := len(result.TraceResults); n > 0 && n <= maxTraceBreakdown {
		line("  TRACE BREAKDOWN")
		line("  %s", section)
		for _, tr := range result.TraceResults {
			line("  %s: %s (%d model, %d tools, %s)",
				traceLabel(tr), evaluation.Percent(tr.Score), tr.ModelCallCount, tr.ToolCallCount, seconds(tr.Duration))
		}
		line("")
	}

	if len(result.AgentsObserved) > 0 {
		line("  Agents observed: %s", strings.Join(result.AgentsObserved, ", "))
	}
	if len(result.ToolsObserved) > 0 {
		line("  Tools observed: %s", strings.Join(result.ToolsObserved, ", "))
	}
	line("%s", rule)
	line("")
	return bw.Flush()
}

// Summary is the one-line digest of result.
func Summary(result *evaluation.EvaluationResult) string {
	if result == nil {
		return ""
	}
	return fmt.Sprintf("%d traces | Score: %s (%s) | %d model calls | %d issues",
		result.TotalTraces, evaluation.Percent(result.Score), result.Status, result.TotalModelCalls, len(result.Issues))
}

// RenderJSON writes the persisted document form of result.
func RenderJSON(w io.Writer, result *evaluation.EvaluationResult) error {
	data, err := results.Encode(result)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// RenderComparison writes a side-by-side table of several results.
func RenderComparison(w io.Writer, c results.Comparison, styles Styles) error {
	bw := bufio.NewWriter(w)
	const labelWidth = 18
	colWidth := 14
	for _, name := range c.Names {
		if n := len([]rune(name)) + 2; n > colWidth {
			colWidth = n
		}
	}
	width := labelWidth + colWidth*len(c.Names)
	if width < ruleWidth {
		width = ruleWidth
	}

	row := func(label string, cells []string) {
		fmt.Fprintf(bw, "  %-*s", labelWidth, label)
		for _, cell := range cells {
			fmt.Fprintf(bw, "%-*s", colWidth, cell)
		}
		fmt.Fprintln(bw)
	}

	fmt.Fprintln(bw)
	fmt.Fprintln(bw, strings.Repeat("=", width))
	fmt.Fprintf(bw, "  %s\n", styles.Title.Render("COMPARISON REPORT"))
	fmt.Fprintln(bw, strings.Repeat("=", width))
	fmt.Fprintln(bw)

	row("", c.Names)
	fmt.Fprintf(bw, "  %s\n", strings.Repeat("-", width-2))

	scores := make([]string, len(c.Scores))
	for i, s := range c.Scores {
		scores[i] = evaluation.Percent(s)
	}
	row("Overall Score", scores)

	statuses := make([]string, len(c.Statuses))
	for i, s := range c.Statuses {
		statuses[i] = string(s)
	}
	row("Status", statuses)

	traces := make([]string, len(c.Traces))
	for i, n := range c.Traces {
		traces[i] = fmt.Sprintf("%d", n)
	}
	row("Traces", traces)

	if len(c.Categories) > 0 {
		fmt.Fprintln(bw)
		fmt.Fprintf(bw, "  %s\n", styles.Dim.Render("Category Scores"))
		for _, cat := range c.Categories {
			cells := make([]string, len(cat.Scores))
			for i, s := range cat.Scores {
				if s == nil {
					cells[i] = "N/A"
					continue
				}
				cells[i] = evaluation.Percent(*s)
			}
			row(cat.Name, cells)
		}
	}
	fmt.Fprintln(bw, strings.Repeat("=", width))
	return bw.Flush()
}

func sortedCategories(in []evaluators.CategoryResult) []evaluators.CategoryResult {
	out := append([]evaluators.CategoryResult(nil), in...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

func traceLabel(tr evaluation.TraceResult) string {
	if tr.TraceName != "" {
		return tr.TraceName
	}
	if len(tr.TraceID) > shortTraceIDLength {
		return tr.TraceID[:shortTraceIDLength]
	}
	return tr.TraceID
}

func seconds(d time.Duration) string {
	return fmt.Sprintf("%.1fs", d.Seconds())
}

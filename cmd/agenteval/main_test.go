package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/ongoingai/agenteval/internal/config"
	"github.com/ongoingai/agenteval/internal/instrument"
	"github.com/ongoingai/agenteval/internal/providers"
	"github.com/ongoingai/agenteval/internal/results"
	"github.com/ongoingai/agenteval/internal/version"
)

type fakeCompleter struct {
	reply string
}

func (f fakeCompleter) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	return openai.ChatCompletionResponse{
		Model: req.Model,
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: f.reply}},
		},
		Usage: openai.Usage{PromptTokens: 20, CompletionTokens: 12, TotalTokens: 32},
	}, nil
}

type testWorkspace struct {
	dir        string
	configPath string
	resultsDir string
}

func newTestWorkspace(t *testing.T, driver string) testWorkspace {
	t.Helper()

	dir := t.TempDir()
	ws := testWorkspace{
		dir:        dir,
		configPath: filepath.Join(dir, "agenteval.yaml"),
		resultsDir: filepath.Join(dir, "results"),
	}
	body := fmt.Sprintf(`system:
  name: support-bot
  description: Answers billing questions
storage:
  driver: %s
  path: %s
judge:
  api_key_env: AGENTEVAL_TEST_JUDGE_KEY_UNSET
results:
  dir: %s
`, driver, filepath.Join(dir, "traces.db"), ws.resultsDir)
	if err := os.WriteFile(ws.configPath, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return ws
}

// writeExportFixture captures two runs of a small support agent through the
// public capture API and exports them.
func writeExportFixture(t *testing.T, dir string) string {
	t.Helper()

	chat := providers.NewChatClient(fakeCompleter{reply: "Invoice 42 was paid on March 3."}, providers.CaptureMiddleware())
	recorder := instrument.New("support-bot", instrument.WithDescription("Answers billing questions"))
	hooks := instrument.Hooks{Framework: "custom"}

	answer := instrument.Wrap(recorder, "answer", func(ctx context.Context, question string) (string, error) {
		hooks.OnTaskStart(ctx, "triage", question)
		out, err := instrument.RunAgent(ctx, "planner", "plans the answer", question, func(ctx context.Context) (string, error) {
			if _, err := instrument.RecordTool(ctx, "lookup_invoice", question, func(_ context.Context, q string) (string, error) {
				return "invoice 42 is paid", nil
			}); err != nil {
				return "", err
			}
			resp, err := chat.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
				Model:    "gpt-4o-mini",
				Messages: []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: question}},
			})
			if err != nil {
				return "", err
			}
			return resp.Choices[0].Message.Content, nil
		})
		if err != nil {
			return "", err
		}
		if err := hooks.OnAgentStart(ctx, "reviewer", "checks the answer", out); err != nil {
			return "", err
		}
		if err := hooks.OnAgentEnd(ctx, "reviewer", out, nil); err != nil {
			return "", err
		}
		hooks.OnTaskEnd(ctx, "triage", out)
		return out, nil
	})

	for _, question := range []string{"Is invoice 42 paid?", "When was invoice 42 paid?"} {
		if _, err := answer(context.Background(), question); err != nil {
			t.Fatalf("answer(%q) error: %v", question, err)
		}
	}
	if got := recorder.Collector().Len(); got != 2 {
		t.Fatalf("collected traces=%d, want 2", got)
	}

	path := filepath.Join(dir, "export", "traces.json")
	if err := recorder.Export(path); err != nil {
		t.Fatalf("Export() error: %v", err)
	}
	return path
}

func TestRunVersionAndUsage(t *testing.T) {
	t.Parallel()

	var stdout, stderr bytes.Buffer
	if code := run([]string{"version"}, &stdout, &stderr); code != 0 {
		t.Fatalf("run(version) code=%d", code)
	}
	if strings.TrimSpace(stdout.String()) != version.String() {
		t.Fatalf("version output=%q, want %q", stdout.String(), version.String())
	}

	stdout.Reset()
	if code := run(nil, &stdout, &stderr); code != 2 {
		t.Fatalf("run() code=%d, want 2", code)
	}
	if !strings.Contains(stderr.String(), "agenteval evaluate") {
		t.Fatalf("stderr=%q, want usage", stderr.String())
	}

	stderr.Reset()
	if code := run([]string{"bogus"}, &stdout, &stderr); code != 2 {
		t.Fatalf("run(bogus) code=%d, want 2", code)
	}
}

func TestRunConfigValidate(t *testing.T) {
	t.Parallel()

	ws := newTestWorkspace(t, "sqlite")
	var stdout, stderr bytes.Buffer
	if code := run([]string{"config", "validate", "--config", ws.configPath}, &stdout, &stderr); code != 0 {
		t.Fatalf("config validate code=%d, stderr=%q", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "config is valid: "+ws.configPath) {
		t.Fatalf("stdout=%q, want success message", stdout.String())
	}

	badPath := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(badPath, []byte("evaluation:\n  weights:\n    speed: 0.5\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	stdout.Reset()
	stderr.Reset()
	if code := runConfigValidate([]string{"--config", badPath}, &stdout, &stderr); code != 1 {
		t.Fatalf("config validate code=%d, want 1", code)
	}
	if !strings.Contains(stderr.String(), `config is invalid: evaluation weight "speed"`) {
		t.Fatalf("stderr=%q, want weight error", stderr.String())
	}
}

func TestRunEvaluateFromExportJSON(t *testing.T) {
	t.Parallel()

	ws := newTestWorkspace(t, "none")
	input := writeExportFixture(t, ws.dir)

	var stdout, stderr bytes.Buffer
	code := run([]string{"evaluate", "--config", ws.configPath, "--input", input, "--format", "json", "--no-save"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("evaluate code=%d, stderr=%q", code, stderr.String())
	}

	result, err := results.Decode(stdout.Bytes())
	if err != nil {
		t.Fatalf("Decode() error: %v\nbody=%s", err, stdout.String())
	}
	if result.SystemName != "support-bot" || result.TotalTraces != 2 {
		t.Fatalf("system=%q traces=%d, want support-bot/2", result.SystemName, result.TotalTraces)
	}
	if result.TotalModelCalls != 2 || result.TotalToolCalls != 2 || result.TotalTokens != 64 {
		t.Fatalf("totals model=%d tools=%d tokens=%d, want 2/2/64", result.TotalModelCalls, result.TotalToolCalls, result.TotalTokens)
	}
	if strings.Join(result.AgentsObserved, ",") != "planner,reviewer" {
		t.Fatalf("AgentsObserved=%v, want [planner reviewer]", result.AgentsObserved)
	}
	if strings.Join(result.ToolsObserved, ",") != "lookup_invoice" {
		t.Fatalf("ToolsObserved=%v, want [lookup_invoice]", result.ToolsObserved)
	}
	if len(result.Categories) != 6 {
		t.Fatalf("categories=%d, want 6", len(result.Categories))
	}
	if _, err := os.Stat(ws.resultsDir); !os.IsNotExist(err) {
		t.Fatalf("results dir exists with --no-save (err=%v)", err)
	}
	if !strings.Contains(stderr.String(), "judge api key is not set") {
		t.Fatalf("stderr=%q, want missing key warning", stderr.String())
	}
}

func TestRunEvaluateSavesAndResultsCommandsReadBack(t *testing.T) {
	t.Parallel()

	ws := newTestWorkspace(t, "none")
	input := writeExportFixture(t, ws.dir)

	var stdout, stderr bytes.Buffer
	code := run([]string{"evaluate", "--config", ws.configPath, "--input", input, "--name", "nightly"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("evaluate code=%d, stderr=%q", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "AGENT EVALUATION: support-bot") || !strings.Contains(stdout.String(), "Traces: 2") {
		t.Fatalf("stdout=%q, want text report", stdout.String())
	}
	if !strings.Contains(stderr.String(), "saved result: ") {
		t.Fatalf("stderr=%q, want saved path", stderr.String())
	}
	matches, err := filepath.Glob(filepath.Join(ws.resultsDir, "nightly_*.json"))
	if err != nil || len(matches) != 1 {
		t.Fatalf("saved files=%v (err=%v), want one nightly_*.json", matches, err)
	}

	stdout.Reset()
	stderr.Reset()
	if code := run([]string{"results", "list", "--config", ws.configPath}, &stdout, &stderr); code != 0 {
		t.Fatalf("results list code=%d, stderr=%q", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "nightly") || !strings.Contains(stdout.String(), filepath.Base(matches[0])) {
		t.Fatalf("results list=%q, want nightly entry", stdout.String())
	}

	stdout.Reset()
	if code := run([]string{"results", "show", "nightly", "--config", ws.configPath, "--format", "summary"}, &stdout, &stderr); code != 0 {
		t.Fatalf("results show code=%d, stderr=%q", code, stderr.String())
	}
	if !strings.HasPrefix(stdout.String(), "2 traces | Score: ") {
		t.Fatalf("summary=%q", stdout.String())
	}

	stdout.Reset()
	if code := run([]string{"results", "compare", "--config", ws.configPath, "nightly", strings.TrimSuffix(filepath.Base(matches[0]), ".json")}, &stdout, &stderr); code != 0 {
		t.Fatalf("results compare code=%d, stderr=%q", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "COMPARISON REPORT") || !strings.Contains(stdout.String(), "functional") {
		t.Fatalf("compare=%q", stdout.String())
	}

	stderr.Reset()
	if code := run([]string{"results", "show", "missing", "--config", ws.configPath}, &stdout, &stderr); code != 1 {
		t.Fatalf("results show missing code=%d, want 1", code)
	}
	if !strings.Contains(stderr.String(), "result not found: missing") {
		t.Fatalf("stderr=%q", stderr.String())
	}
}

func TestRunImportThenTracesAndEvaluateFromStore(t *testing.T) {
	t.Parallel()

	ws := newTestWorkspace(t, "sqlite")
	input := writeExportFixture(t, ws.dir)

	var stdout, stderr bytes.Buffer
	if code := run([]string{"import", "--config", ws.configPath, "--input", input}, &stdout, &stderr); code != 0 {
		t.Fatalf("import code=%d, stderr=%q", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "imported 2 traces") {
		t.Fatalf("stdout=%q", stdout.String())
	}

	stdout.Reset()
	if code := run([]string{"traces", "--config", ws.configPath, "--system", "support-bot", "--format", "json"}, &stdout, &stderr); code != 0 {
		t.Fatalf("traces code=%d, stderr=%q", code, stderr.String())
	}
	var doc traceListDocument
	if err := json.Unmarshal(stdout.Bytes(), &doc); err != nil {
		t.Fatalf("decode traces: %v\nbody=%s", err, stdout.String())
	}
	if len(doc.Items) != 2 {
		t.Fatalf("traces=%d, want 2", len(doc.Items))
	}
	for _, item := range doc.Items {
		if item.Name != "answer" || item.ModelCalls != 1 || item.ToolCalls != 1 || item.TotalTokens != 32 || item.Framework != "custom" {
			t.Fatalf("trace item=%+v", item)
		}
	}

	stdout.Reset()
	if code := run([]string{"traces", "--config", ws.configPath}, &stdout, &stderr); code != 0 {
		t.Fatalf("traces text code=%d, stderr=%q", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "support-bot") || !strings.Contains(stdout.String(), "STATUS") {
		t.Fatalf("traces text=%q", stdout.String())
	}

	stdout.Reset()
	if code := run([]string{"evaluate", "--config", ws.configPath, "--format", "json", "--no-save"}, &stdout, &stderr); code != 0 {
		t.Fatalf("evaluate code=%d, stderr=%q", code, stderr.String())
	}
	result, err := results.Decode(stdout.Bytes())
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if result.TotalTraces != 2 {
		t.Fatalf("TotalTraces=%d, want 2", result.TotalTraces)
	}
}

func TestRunEvaluateRejectsBadInput(t *testing.T) {
	t.Parallel()

	ws := newTestWorkspace(t, "none")
	tests := []struct {
		name   string
		args   []string
		code   int
		stderr string
	}{
		{name: "format", args: []string{"--format", "xml"}, code: 2, stderr: "invalid evaluate format"},
		{name: "limit", args: []string{"--limit", "0"}, code: 2, stderr: "limit must be between 1 and 500"},
		{name: "positional", args: []string{"extra"}, code: 2, stderr: "does not accept positional arguments"},
		{name: "no store", args: []string{"--config", ws.configPath}, code: 1, stderr: "storage.driver=none"},
		{name: "missing input", args: []string{"--config", ws.configPath, "--input", filepath.Join(ws.dir, "nope.json")}, code: 1, stderr: "failed to load traces"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var stdout, stderr bytes.Buffer
			if code := runEvaluate(tt.args, &stdout, &stderr); code != tt.code {
				t.Fatalf("runEvaluate(%v) code=%d, want %d (stderr=%q)", tt.args, code, tt.code, stderr.String())
			}
			if !strings.Contains(stderr.String(), tt.stderr) {
				t.Fatalf("stderr=%q, want %q", stderr.String(), tt.stderr)
			}
		})
	}
}

func TestLoadEvaluationTracesKeepsExportedDescription(t *testing.T) {
	t.Parallel()

	ws := newTestWorkspace(t, "none")
	input := writeExportFixture(t, ws.dir)
	cfg := config.Default()
	cfg.System.Description = "Configured description"

	loaded, err := loadEvaluationTraces(context.Background(), cfg, input, "", 100, false)
	if err != nil {
		t.Fatalf("loadEvaluationTraces() error: %v", err)
	}
	if loaded.system != "support-bot" || len(loaded.items) != 2 {
		t.Fatalf("loaded system=%q traces=%d, want support-bot and 2", loaded.system, len(loaded.items))
	}
	if got := loaded.systemDescription(cfg.System.Description); got != "Answers billing questions" {
		t.Fatalf("systemDescription()=%q, want exported description", got)
	}
	if got := (loadedTraces{}).systemDescription(cfg.System.Description); got != "Configured description" {
		t.Fatalf("systemDescription() without export=%q, want configured description", got)
	}
}

func TestNormalizeFormat(t *testing.T) {
	t.Parallel()

	if got, err := normalizeFormat("x", " JSON ", "text"); err != nil || got != "json" {
		t.Fatalf("normalizeFormat(JSON)=(%q, %v), want json", got, err)
	}
	if got, err := normalizeFormat("x", "", "text"); err != nil || got != "text" {
		t.Fatalf("normalizeFormat(empty)=(%q, %v), want text", got, err)
	}
	if _, err := normalizeFormat("x", "summary", "text"); err == nil {
		t.Fatal("normalizeFormat(summary) error=nil, want error without summary allowed")
	}
	if got, err := normalizeFormat("x", "summary", "text", "text", "json", "summary"); err != nil || got != "summary" {
		t.Fatalf("normalizeFormat(summary allowed)=(%q, %v)", got, err)
	}
}

func TestParseInterspersed(t *testing.T) {
	t.Parallel()

	var stderr bytes.Buffer
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(&stderr)
	format := fs.String("format", "text", "")
	positional, err := parseInterspersed(fs, []string{"a", "--format", "json", "b"})
	if err != nil {
		t.Fatalf("parseInterspersed() error: %v", err)
	}
	if strings.Join(positional, ",") != "a,b" || *format != "json" {
		t.Fatalf("positional=%v format=%q", positional, *format)
	}
}

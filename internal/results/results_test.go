package results

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ongoingai/agenteval/internal/evaluation"
	"github.com/ongoingai/agenteval/internal/evaluators"
	"github.com/ongoingai/agenteval/internal/judge"
)

func sampleResult(score float64, at time.Time) *evaluation.EvaluationResult {
	return &evaluation.EvaluationResult{
		SystemName: "support-bot",
		Score:      score,
		Status:     evaluation.StatusFor(score),
		Categories: []evaluators.CategoryResult{
			{
				Name:   evaluators.Functional,
				Score:  score,
				Weight: 0.2,
				Checks: map[string]judge.Score{"correctness": {Value: score, Reason: "ok"}},
				Issues: []string{},
			},
		},
		Summary:     "1 traces evaluated.",
		Issues:      []string{},
		TotalTraces: 1,
		Timestamp:   at,
	}
}

func fixedStore(t *testing.T, at time.Time) *Store {
	t.Helper()
	s := NewStore(filepath.Join(t.TempDir(), "results"))
	s.now = func() time.Time { return at }
	return s
}

func TestEncodeDecodeStampsSchema(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	data, err := Encode(sampleResult(0.8, at))
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}
	if !strings.Contains(string(data), `"schema_version": "evaluation.v1"`) {
		t.Fatalf("encoded document missing schema version:\n%s", data)
	}

	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if decoded.Score != 0.8 || decoded.Status != evaluation.StatusGood || !decoded.Timestamp.Equal(at) {
		t.Fatalf("decoded=%+v", decoded)
	}
	if got := decoded.Categories[0].Checks["correctness"].Value; got != 0.8 {
		t.Fatalf("correctness=%v, want 0.8", got)
	}
}

func TestDecodeVersionHandling(t *testing.T) {
	t.Parallel()

	legacy, err := Decode([]byte(`{"name":"old","system_name":"bot","score":0.5,"status":"poor"}`))
	if err != nil {
		t.Fatalf("Decode(legacy) error: %v", err)
	}
	if legacy.SchemaVersion != evaluation.SchemaVersion || legacy.Name != "old" {
		t.Fatalf("legacy=%+v", legacy)
	}

	_, err = Decode([]byte(`{"schema_version":"evaluation.v9"}`))
	var schemaErr *UnsupportedSchemaError
	if !errors.As(err, &schemaErr) || schemaErr.Version != "evaluation.v9" {
		t.Fatalf("Decode(v9) error=%v, want UnsupportedSchemaError", err)
	}

	if _, err := Decode([]byte(`{`)); err == nil {
		t.Fatal("Decode(invalid json) error=nil")
	}
}

func TestSaveUsesTimestampedFilename(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 3, 1, 9, 5, 7, 0, time.UTC)
	store := fixedStore(t, at)
	result := sampleResult(0.9, at)

	path, err := store.Save(result, "baseline")
	if err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	if got := filepath.Base(path); got != "baseline_20260301_090507.json" {
		t.Fatalf("filename=%q, want baseline_20260301_090507.json", got)
	}
	if result.Name != "baseline" {
		t.Fatalf("result name=%q, want baseline", result.Name)
	}

	loaded, err := store.Load("baseline_20260301_090507")
	if err != nil {
		t.Fatalf("Load(exact) error: %v", err)
	}
	if loaded.Name != "baseline" || loaded.Score != 0.9 {
		t.Fatalf("loaded=%+v", loaded)
	}
	if _, err := store.Load("baseline_20260301_090507.json"); err != nil {
		t.Fatalf("Load(with .json) error: %v", err)
	}
}

func TestLoadPrefixPicksMostRecentlyModified(t *testing.T) {
	t.Parallel()

	store := fixedStore(t, time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	older, err := store.Save(sampleResult(0.5, time.Time{}), "nightly")
	if err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	store.now = func() time.Time { return time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC) }
	newer, err := store.Save(sampleResult(0.95, time.Time{}), "nightly")
	if err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(older, past, past); err != nil {
		t.Fatalf("Chtimes() error: %v", err)
	}
	if err := os.Chtimes(newer, time.Now(), time.Now()); err != nil {
		t.Fatalf("Chtimes() error: %v", err)
	}

	loaded, err := store.Load("nightly")
	if err != nil {
		t.Fatalf("Load(prefix) error: %v", err)
	}
	if loaded.Score != 0.95 {
		t.Fatalf("loaded score=%v, want most recent 0.95", loaded.Score)
	}
}

func TestLoadErrors(t *testing.T) {
	t.Parallel()

	missingDir := NewStore(filepath.Join(t.TempDir(), "missing"))
	if _, err := missingDir.Load("x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load() on missing dir error=%v, want ErrNotFound", err)
	}

	store := fixedStore(t, time.Now())
	if _, err := store.Save(sampleResult(0.5, time.Now()), "present"); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	if _, err := store.Load("absent"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load(absent) error=%v, want ErrNotFound", err)
	}
	if _, err := store.Load("../escape"); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("Load(../escape) error=%v, want ErrInvalidName", err)
	}
	if _, err := store.Save(sampleResult(0.5, time.Now()), ""); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("Save(empty name) error=%v, want ErrInvalidName", err)
	}
}

func TestListNewestFirstSkipsUnreadable(t *testing.T) {
	t.Parallel()

	store := fixedStore(t, time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	if _, err := store.Save(sampleResult(0.6, time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)), "first"); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	store.now = func() time.Time { return time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC) }
	if _, err := store.Save(sampleResult(0.9, time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC)), "second"); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	if err := os.WriteFile(filepath.Join(store.Dir(), "broken.json"), []byte("{"), 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}

	entries, err := store.List()
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries=%d, want 2", len(entries))
	}
	if entries[0].Name != "second" || entries[1].Name != "first" {
		t.Fatalf("order=%s,%s, want second,first", entries[0].Name, entries[1].Name)
	}
	if entries[0].Status != "excellent" || entries[0].Traces != 1 {
		t.Fatalf("entry=%+v", entries[0])
	}

	empty, err := NewStore(filepath.Join(t.TempDir(), "none")).List()
	if err != nil || len(empty) != 0 {
		t.Fatalf("List() on missing dir=(%v, %v), want empty", empty, err)
	}
}

func TestCompare(t *testing.T) {
	t.Parallel()

	a := sampleResult(0.7, time.Now())
	a.Name = "before"
	b := sampleResult(0.9, time.Now())
	b.Name = "after"
	b.Categories = append(b.Categories, evaluators.CategoryResult{Name: evaluators.Safety, Score: 1})

	c := Compare([]*evaluation.EvaluationResult{a, b})
	if strings.Join(c.Names, ",") != "before,after" {
		t.Fatalf("Names=%v", c.Names)
	}
	if len(c.Categories) != 2 || c.Categories[0].Name != evaluators.Functional || c.Categories[1].Name != evaluators.Safety {
		t.Fatalf("Categories=%+v", c.Categories)
	}
	if c.Categories[1].Scores[0] != nil || *c.Categories[1].Scores[1] != 1 {
		t.Fatalf("safety row=%v, want [nil 1]", c.Categories[1].Scores)
	}
	if c.Statuses[0] != evaluation.StatusFair || c.Statuses[1] != evaluation.StatusExcellent {
		t.Fatalf("Statuses=%v", c.Statuses)
	}
}

func TestLoadAllKeepsOrderAndNamesFailure(t *testing.T) {
	t.Parallel()

	store := fixedStore(t, time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	if _, err := store.Save(sampleResult(0.6, time.Time{}), "baseline"); err != nil {
		t.Fatalf("Save(baseline) error: %v", err)
	}
	if _, err := store.Save(sampleResult(0.9, time.Time{}), "candidate"); err != nil {
		t.Fatalf("Save(candidate) error: %v", err)
	}

	loaded, err := store.LoadAll([]string{"candidate", "baseline"})
	if err != nil {
		t.Fatalf("LoadAll() error: %v", err)
	}
	if len(loaded) != 2 || loaded[0].Score != 0.9 || loaded[1].Score != 0.6 {
		t.Fatalf("LoadAll() scores=%v, want [0.9 0.6]", scores(loaded))
	}

	_, err = store.LoadAll([]string{"baseline", "ghost"})
	var loadErr *LoadError
	if !errors.As(err, &loadErr) || loadErr.Name != "ghost" {
		t.Fatalf("LoadAll() error=%v, want LoadError for ghost", err)
	}
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("LoadAll() error=%v, want ErrNotFound", err)
	}
}

func scores(items []*evaluation.EvaluationResult) []float64 {
	out := make([]float64, 0, len(items))
	for _, item := range items {
		out = append(out, item.Score)
	}
	return out
}

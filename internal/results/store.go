package results

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ongoingai/agenteval/internal/evaluation"
)

const (
	DefaultDir      = "agenteval-results"
	timestampFormat = "20060102_150405"
)

var (
	ErrNotFound    = errors.New("evaluation result not found")
	ErrInvalidName = errors.New("result name must be non-empty and must not contain path separators")
)

// Store saves evaluation results as JSON files in one directory.
type Store struct {
	dir string
	now func() time.Time
}

func NewStore(dir string) *Store {
	if strings.TrimSpace(dir) == "" {
		dir = DefaultDir
	}
	return &Store{dir: dir, now: time.Now}
}

func (s *Store) Dir() string {
	return s.dir
}

// Save writes result as <name>_<YYYYMMDD_HHMMSS>.json and returns the path.
// The result's Name is set to name.
func (s *Store) Save(result *evaluation.EvaluationResult, name string) (string, error) {
	name = strings.TrimSpace(name)
	if err := validateName(name); err != nil {
		return "", err
	}
	if result == nil {
		return "", fmt.Errorf("save evaluation result: result is nil")
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create results dir: %w", err)
	}

	result.Name = name
	data, err := Encode(result)
	if err != nil {
		return "", err
	}
	path := filepath.Join(s.dir, fmt.Sprintf("%s_%s.json", name, s.now().Format(timestampFormat)))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("write evaluation result: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("write evaluation result: %w", err)
	}
	return path, nil
}

// Load resolves name as an exact file (<name>.json, or name itself when it
// already ends in .json) and otherwise loads the most recently modified file
// whose name starts with name.
func (s *Store) Load(name string) (*evaluation.EvaluationResult, error) {
	path, err := s.Resolve(name)
	if err != nil {
		return nil, err
	}
	return loadFile(path)
}

// Resolve returns the file Load would read.
func (s *Store) Resolve(name string) (string, error) {
	name = strings.TrimSpace(name)
	if err := validateName(name); err != nil {
		return "", err
	}
	if _, err := os.Stat(s.dir); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("results directory %q: %w", s.dir, ErrNotFound)
		}
		return "", fmt.Errorf("stat results directory: %w", err)
	}

	candidates := []string{filepath.Join(s.dir, name+".json")}
	if strings.HasSuffix(name, ".json") {
		candidates = append(candidates, filepath.Join(s.dir, name))
	}
	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return "", fmt.Errorf("read results directory: %w", err)
	}
	var best string
	var bestMod time.Time
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") || !strings.HasPrefix(entry.Name(), name) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if best == "" || info.ModTime().After(bestMod) {
			best = filepath.Join(s.dir, entry.Name())
			bestMod = info.ModTime()
		}
	}
	if best == "" {
		return "", fmt.Errorf("no results matching %q: %w", name, ErrNotFound)
	}
	return best, nil
}

// Entry summarizes one saved result.
type Entry struct {
	Name      string    `json:"name"`
	Filename  string    `json:"filename"`
	Timestamp time.Time `json:"timestamp"`
	Score     float64   `json:"score"`
	Status    string    `json:"status"`
	Traces    int       `json:"traces"`
}

// List returns every readable result, newest first. Unreadable files are
// skipped. A missing directory lists nothing.
func (s *Store) List() ([]Entry, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []Entry{}, nil
		}
		return nil, fmt.Errorf("read results directory: %w", err)
	}

	out := make([]Entry, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		result, err := loadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			continue
		}
		name := result.Name
		if name == "" {
			name = strings.TrimSuffix(entry.Name(), ".json")
		}
		out = append(out, Entry{
			Name:      name,
			Filename:  entry.Name(),
			Timestamp: result.Timestamp,
			Score:     result.Score,
			Status:    string(result.Status),
			Traces:    result.TotalTraces,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Filename > out[j].Filename
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out, nil
}

// LoadError names the result that failed to load in LoadAll.
type LoadError struct {
	Name string
	Err  error
}

func (e *LoadError) Error() string { return fmt.Sprintf("load result %q: %v", e.Name, e.Err) }

func (e *LoadError) Unwrap() error { return e.Err }

// LoadAll loads each name with Load, in order, stopping at the first failure.
func (s *Store) LoadAll(names []string) ([]*evaluation.EvaluationResult, error) {
	out := make([]*evaluation.EvaluationResult, 0, len(names))
	for _, name := range names {
		result, err := s.Load(name)
		if err != nil {
			return nil, &LoadError{Name: name, Err: err}
		}
		out = append(out, result)
	}
	return out, nil
}

func loadFile(path string) (*evaluation.EvaluationResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read evaluation result: %w", err)
	}
	result, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return result, nil
}

func validateName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return ErrInvalidName
	}
	return nil
}

package results

import (
	"github.com/ongoingai/agenteval/internal/evaluation"
	"github.com/ongoingai/agenteval/internal/evaluators"
)

// Comparison lines up several results column by column. Missing category
// scores are nil.
type Comparison struct {
	Names      []string
	Scores     []float64
	Statuses   []evaluation.Status
	Traces     []int
	Categories []CategoryRow
}

type CategoryRow struct {
	Name   string
	Scores []*float64
}

// Compare builds a comparison of results in the given order. Category rows
// follow the built-in category order, then any other categories in
// first-seen order.
func Compare(items []*evaluation.EvaluationResult) Comparison {
	var c Comparison
	var order []string
	seen := make(map[string]struct{})
	addCategory := func(name string) {
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		order = append(order, name)
	}

	present := make(map[string]struct{})
	for _, r := range items {
		for _, cat := range r.Categories {
			present[cat.Name] = struct{}{}
		}
	}
	for _, name := range evaluators.Categories() {
		if _, ok := present[name]; ok {
			addCategory(name)
		}
	}

	for _, r := range items {
		name := r.Name
		if name == "" {
			name = r.SystemName
		}
		c.Names = append(c.Names, name)
		c.Scores = append(c.Scores, r.Score)
		c.Statuses = append(c.Statuses, r.Status)
		c.Traces = append(c.Traces, r.TotalTraces)
		for _, cat := range r.Categories {
			addCategory(cat.Name)
		}
	}

	for _, name := range order {
		row := CategoryRow{Name: name, Scores: make([]*float64, len(items))}
		for i, r := range items {
			if cat, ok := r.Category(name); ok {
				score := cat.Score
				row.Scores[i] = &score
			}
		}
		c.Categories = append(c.Categories, row)
	}
	return c
}

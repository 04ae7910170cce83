package coaching

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

type BudgetCategory struct {
	Name       string  `yaml:"name"`
	Spent      float64 `yaml:"spent"`
	Limit      float64 `yaml:"limit"`
	Adjustable bool    `yaml:"adjustable"`
}

// UsageRatio is spent over limit, zero when the limit is not positive.
func (c BudgetCategory) UsageRatio() float64 {
	if c.Limit <= 0 {
		return 0
	}
	return c.Spent / c.Limit
}

// BudgetSnapshot is a read-only monthly budget view used to ground fallback
// messages in concrete figures.
type BudgetSnapshot struct {
	TotalBudget float64          `yaml:"totalBudget"`
	TotalSpent  float64          `yaml:"totalSpent"`
	Categories  []BudgetCategory `yaml:"categories"`
}

func DefaultSnapshot() BudgetSnapshot {
	return BudgetSnapshot{
		TotalBudget: 8500,
		TotalSpent:  6520,
		Categories: []BudgetCategory{
			{Name: "Alimentation", Spent: 1850, Limit: 2500, Adjustable: true},
			{Name: "Transport", Spent: 650, Limit: 800, Adjustable: true},
			{Name: "Logement", Spent: 3000, Limit: 3000, Adjustable: false},
			{Name: "Shopping", Spent: 420, Limit: 1000, Adjustable: true},
			{Name: "Santé", Spent: 280, Limit: 500, Adjustable: true},
			{Name: "Loisirs", Spent: 320, Limit: 700, Adjustable: true},
		},
	}
}

// LoadSnapshot reads a snapshot from a YAML file. An empty path yields the
// built-in figures.
func LoadSnapshot(path string) (BudgetSnapshot, error) {
	if path == "" {
		return DefaultSnapshot(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return BudgetSnapshot{}, fmt.Errorf("coaching: read budget snapshot: %w", err)
	}
	var s BudgetSnapshot
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return BudgetSnapshot{}, fmt.Errorf("coaching: decode budget snapshot: %w", err)
	}
	if s.TotalBudget < 0 || s.TotalSpent < 0 {
		return BudgetSnapshot{}, errors.New("coaching: budget totals must not be negative")
	}
	for _, c := range s.Categories {
		if c.Name == "" {
			return BudgetSnapshot{}, errors.New("coaching: budget category name must not be empty")
		}
	}
	return s, nil
}

// Usage is the share of the total budget already spent.
func (s BudgetSnapshot) Usage() float64 {
	if s.TotalBudget <= 0 {
		return 0
	}
	return s.TotalSpent / s.TotalBudget
}

// Available is what is left of the budget, never negative.
func (s BudgetSnapshot) Available() float64 {
	if s.TotalSpent >= s.TotalBudget {
		return 0
	}
	return s.TotalBudget - s.TotalSpent
}

// TopCategories returns up to n categories by descending usage ratio.
func (s BudgetSnapshot) TopCategories(n int) []BudgetCategory {
	return topByUsage(s.Categories, n, false)
}

// TopAdjustable is TopCategories restricted to adjustable categories.
func (s BudgetSnapshot) TopAdjustable(n int) []BudgetCategory {
	return topByUsage(s.Categories, n, true)
}

func topByUsage(categories []BudgetCategory, n int, adjustableOnly bool) []BudgetCategory {
	out := make([]BudgetCategory, 0, len(categories))
	for _, c := range categories {
		if adjustableOnly && !c.Adjustable {
			continue
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UsageRatio() > out[j].UsageRatio()
	})
	if n >= 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

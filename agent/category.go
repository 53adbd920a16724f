package agent

import (
	"fmt"
	"sort"
	"strings"

	errorspkg "github.com/sweetpotato0/ai-concierge/errors"
)

// CategoryRegistry is the static routing table from classifier label to
// agent id.
type CategoryRegistry struct {
	routes map[string]ID
}

// NewCategoryRegistry copies routes into a registry. Labels are matched
// case-insensitively.
func NewCategoryRegistry(routes map[string]ID) *CategoryRegistry {
	r := &CategoryRegistry{routes: make(map[string]ID, len(routes))}
	for label, id := range routes {
		r.routes[normalizeLabel(label)] = id
	}
	return r
}

// DefaultCategories routes the built-in labels to the built-in agents.
func DefaultCategories() *CategoryRegistry {
	return NewCategoryRegistry(map[string]ID{
		"question":       QA,
		"device_control": Control,
		"navigation":     Navigation,
		"media":          Media,
	})
}

// Route returns the agent for category. A label outside the table is a
// configuration defect and wraps errors.ErrUnknownCategory.
func (r *CategoryRegistry) Route(category string) (ID, error) {
	id, ok := r.routes[normalizeLabel(category)]
	if !ok {
		return "", fmt.Errorf("category %q: %w", category, errorspkg.ErrUnknownCategory)
	}
	return id, nil
}

// Categories returns every routable label, sorted.
func (r *CategoryRegistry) Categories() []string {
	out := make([]string, 0, len(r.routes))
	for label := range r.routes {
		out = append(out, label)
	}
	sort.Strings(out)
	return out
}

// Validate checks that every label the classifier can emit is routable and
// that every route targets a registered agent.
func (r *CategoryRegistry) Validate(labels []string, agents *Registry) error {
	var problems []string
	for _, label := range labels {
		if _, ok := r.routes[normalizeLabel(label)]; !ok {
			problems = append(problems, fmt.Sprintf("label %q has no route", label))
		}
	}
	if agents != nil {
		for _, label := range r.Categories() {
			if _, err := agents.Get(r.routes[label]); err != nil {
				problems = append(problems, fmt.Sprintf("label %q routes to unregistered agent %s", label, r.routes[label]))
			}
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", errorspkg.ErrUnknownCategory, strings.Join(problems, "; "))
	}
	return nil
}

func normalizeLabel(label string) string {
	return strings.ToLower(strings.TrimSpace(label))
}

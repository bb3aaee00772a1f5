package rule

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/cel-go/cel"
)

// Repository holds the configured deduction rules and resolves the applicable
// set for an analysis. Rules are validated on the way in: a rule that reaches
// the repository has a known parameter, a supported mode and, for custom
// formulas, a compiled program with a verified result shape.
type Repository struct {
	env   *cel.Env
	rules []*Rule
	seq   int
	mu    sync.RWMutex
}

// NewRepository creates an empty rule repository with its own restricted
// formula environment.
func NewRepository() (*Repository, error) {
	env, err := NewFormulaEnv()
	if err != nil {
		return nil, err
	}
	return &Repository{env: env}, nil
}

// Add validates and stores a rule. Enforces the uniqueness invariant: at most
// one rule per (operation type, product, parameter) triple.
func (r *Repository) Add(rule *Rule) error {
	if err := rule.Init(r.env); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.rules {
		if existing.OperationType == rule.OperationType &&
			existing.Product == rule.Product &&
			existing.Parameter == rule.Parameter {
			return fmt.Errorf("rule %q: a rule for (%s, %q, %s) already exists: %q",
				rule.Name, rule.OperationType, rule.Product, rule.Parameter, existing.Name)
		}
	}

	r.seq++
	rule.ticket = r.seq
	r.rules = append(r.rules, rule)
	sort.SliceStable(r.rules, func(i, j int) bool {
		if r.rules[i].Sequence != r.rules[j].Sequence {
			return r.rules[i].Sequence < r.rules[j].Sequence
		}
		return r.rules[i].ticket < r.rules[j].ticket
	})
	return nil
}

// Len returns the number of stored rules.
func (r *Repository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rules)
}

// ResolveApplicable returns, for each parameter that has any matching rule,
// the single most specific active rule for the given operation type and
// product. A product-specific rule always wins its parameter slot; a generic
// rule (no product) fills the slot only while no specific rule holds it, with
// the later generic winning among generics. Iteration is in ascending
// (sequence, ticket) order, so resolution is deterministic and idempotent.
//
// An empty operation type yields an empty result: no operation, no deductions.
func (r *Repository) ResolveApplicable(operationType, product string) map[Parameter]*Rule {
	resolved := make(map[Parameter]*Rule)
	if operationType == "" {
		return resolved
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, rule := range r.rules {
		if !rule.Active || rule.OperationType != operationType {
			continue
		}
		if rule.Product != "" {
			if rule.Product != product {
				continue
			}
			// Specific rule: unconditionally takes the slot.
			resolved[rule.Parameter] = rule
			continue
		}
		current, taken := resolved[rule.Parameter]
		if !taken || current.Product == "" {
			resolved[rule.Parameter] = rule
		}
	}

	return resolved
}

// Ordered returns the resolved rules in ascending (sequence, ticket) order.
// Rule evaluation and the audit trail must follow this fixed order; relying
// on map iteration would reorder the trail between runs.
func Ordered(resolved map[Parameter]*Rule) []*Rule {
	rules := make([]*Rule, 0, len(resolved))
	for _, rule := range resolved {
		rules = append(rules, rule)
	}
	sort.Slice(rules, func(i, j int) bool {
		if rules[i].Sequence != rules[j].Sequence {
			return rules[i].Sequence < rules[j].Sequence
		}
		return rules[i].ticket < rules[j].ticket
	})
	return rules
}

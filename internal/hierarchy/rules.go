package hierarchy

import (
	"fmt"
	"time"

	"planline/internal/domain"
)

// Rule lists the child types allowed under one parent type.
type Rule struct {
	Parent   domain.ItemType   `yaml:"parent" json:"parent"`
	Children []domain.ItemType `yaml:"children" json:"children"`
	// MaxDepth caps the resulting child depth; 0 means the policy maximum.
	MaxDepth int `yaml:"max_depth,omitempty" json:"max_depth,omitempty"`
	// EnvelopeExempt names child types whose dates may escape the parent's.
	EnvelopeExempt []domain.ItemType `yaml:"envelope_exempt,omitempty" json:"envelope_exempt,omitempty"`
}

// Policy is the deployment-specific composition table.
type Policy struct {
	MaxDepth        int    `yaml:"max_depth" json:"max_depth"`
	TraversalMargin int    `yaml:"traversal_margin" json:"traversal_margin"`
	Composition     []Rule `yaml:"composition" json:"composition"`
}

// TraversalLimit is the number of hops a read traversal may take before the
// stored tree is considered corrupt.
func (p Policy) TraversalLimit() int {
	return p.MaxDepth + p.TraversalMargin
}

// Validate ensures the policy is internally consistent.
func (p Policy) Validate() error {
	if p.MaxDepth < 1 {
		return fmt.Errorf("hierarchy.max_depth must be >= 1")
	}
	if p.TraversalMargin < 0 {
		return fmt.Errorf("hierarchy.traversal_margin must be >= 0")
	}
	seen := map[domain.ItemType]bool{}
	for _, r := range p.Composition {
		if !r.Parent.Valid() {
			return fmt.Errorf("composition rule has unknown parent type %q", r.Parent)
		}
		if seen[r.Parent] {
			return fmt.Errorf("composition rule for parent %s defined twice", r.Parent)
		}
		seen[r.Parent] = true
		if r.MaxDepth < 0 || r.MaxDepth > p.MaxDepth {
			return fmt.Errorf("composition rule for parent %s: max_depth %d outside 0..%d", r.Parent, r.MaxDepth, p.MaxDepth)
		}
		children := map[domain.ItemType]bool{}
		for _, c := range r.Children {
			if !c.Valid() {
				return fmt.Errorf("composition rule for parent %s has unknown child type %q", r.Parent, c)
			}
			children[c] = true
		}
		for _, c := range r.EnvelopeExempt {
			if !children[c] {
				return fmt.Errorf("composition rule for parent %s exempts %s which is not an allowed child", r.Parent, c)
			}
		}
	}
	return nil
}

// DefaultPolicy is the composition table shipped with new projects.
func DefaultPolicy() Policy {
	return Policy{
		MaxDepth:        5,
		TraversalMargin: 2,
		Composition: []Rule{
			{
				Parent: domain.ItemTypeGoal,
				Children: []domain.ItemType{
					domain.ItemTypeGoal, domain.ItemTypeMilestone, domain.ItemTypeTask, domain.ItemTypeHabit,
					domain.ItemTypeNote, domain.ItemTypeDocument, domain.ItemTypeReview,
				},
				EnvelopeExempt: []domain.ItemType{domain.ItemTypeHabit, domain.ItemTypeNote, domain.ItemTypeDocument},
			},
			{
				Parent: domain.ItemTypeMilestone,
				Children: []domain.ItemType{
					domain.ItemTypeTask, domain.ItemTypeEvent, domain.ItemTypeReview,
					domain.ItemTypeNote, domain.ItemTypeDocument,
				},
				EnvelopeExempt: []domain.ItemType{domain.ItemTypeNote, domain.ItemTypeDocument},
			},
			{
				Parent: domain.ItemTypeTask,
				Children: []domain.ItemType{
					domain.ItemTypeTask, domain.ItemTypeNote, domain.ItemTypeDocument, domain.ItemTypeReview,
				},
				EnvelopeExempt: []domain.ItemType{domain.ItemTypeNote, domain.ItemTypeDocument},
			},
			{
				Parent:         domain.ItemTypeEvent,
				Children:       []domain.ItemType{domain.ItemTypeTask, domain.ItemTypeNote, domain.ItemTypeDocument},
				EnvelopeExempt: []domain.ItemType{domain.ItemTypeNote, domain.ItemTypeDocument},
			},
			{
				Parent:         domain.ItemTypeHabit,
				Children:       []domain.ItemType{domain.ItemTypeNote},
				MaxDepth:       4,
				EnvelopeExempt: []domain.ItemType{domain.ItemTypeNote},
			},
			{
				Parent:         domain.ItemTypeReview,
				Children:       []domain.ItemType{domain.ItemTypeNote, domain.ItemTypeDocument},
				EnvelopeExempt: []domain.ItemType{domain.ItemTypeNote, domain.ItemTypeDocument},
			},
			{
				Parent:         domain.ItemTypeDocument,
				Children:       []domain.ItemType{domain.ItemTypeNote},
				EnvelopeExempt: []domain.ItemType{domain.ItemTypeNote},
			},
		},
	}
}

type ruleEntry struct {
	maxDepth int
	exempt   bool
}

// RuleTable answers composition and envelope questions for one Policy.
// It holds no mutable state and does no I/O.
type RuleTable struct {
	policy  Policy
	parents map[domain.ItemType]bool
	entries map[[2]domain.ItemType]ruleEntry
}

func NewRuleTable(p Policy) (*RuleTable, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	t := &RuleTable{
		policy:  p,
		parents: map[domain.ItemType]bool{},
		entries: map[[2]domain.ItemType]ruleEntry{},
	}
	for _, r := range p.Composition {
		t.parents[r.Parent] = true
		limit := r.MaxDepth
		if limit == 0 {
			limit = p.MaxDepth
		}
		exempt := map[domain.ItemType]bool{}
		for _, c := range r.EnvelopeExempt {
			exempt[c] = true
		}
		for _, c := range r.Children {
			t.entries[[2]domain.ItemType{r.Parent, c}] = ruleEntry{maxDepth: limit, exempt: exempt[c]}
		}
	}
	return t, nil
}

func (t *RuleTable) Policy() Policy { return t.policy }
func (t *RuleTable) MaxDepth() int  { return t.policy.MaxDepth }

type CompositionResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

// IsCompositionAllowed reports whether childType may sit under parentType
// when the child ends up at depth.
func (t *RuleTable) IsCompositionAllowed(parentType, childType domain.ItemType, depth int) CompositionResult {
	var errs []string
	if depth < 1 {
		errs = append(errs, fmt.Sprintf("child depth %d is not below a parent", depth))
	}
	if !t.parents[parentType] {
		errs = append(errs, fmt.Sprintf("%s items cannot have children", parentType))
		return CompositionResult{Errors: errs}
	}
	entry, ok := t.entries[[2]domain.ItemType{parentType, childType}]
	if !ok {
		errs = append(errs, fmt.Sprintf("%s cannot be nested under %s", childType, parentType))
		return CompositionResult{Errors: errs}
	}
	if depth > entry.maxDepth {
		errs = append(errs, fmt.Sprintf("%s under %s is allowed up to depth %d, got %d", childType, parentType, entry.maxDepth, depth))
	}
	return CompositionResult{Valid: len(errs) == 0, Errors: errs}
}

// EnvelopeExempt reports whether the pairing skips date containment.
func (t *RuleTable) EnvelopeExempt(parentType, childType domain.ItemType) bool {
	return t.entries[[2]domain.ItemType{parentType, childType}].exempt
}

// Envelope violation codes.
const (
	ViolationStartsBeforeParent    = "starts_before_parent"
	ViolationEndsAfterParent       = "ends_after_parent"
	ViolationStartsAfterParentEnd  = "starts_after_parent_end"
	ViolationEndsBeforeParentStart = "ends_before_parent_start"
)

type EnvelopeResult struct {
	WithinWindow bool   `json:"within_window"`
	Violation    string `json:"violation,omitempty"`
	Description  string `json:"description,omitempty"`
}

// CheckEnvelope tests that the child's [start, end] lies inside the parent's.
// A missing bound on either side leaves that side unconstrained.
func (t *RuleTable) CheckEnvelope(parentStart, parentEnd, childStart, childEnd *time.Time) EnvelopeResult {
	return CheckEnvelope(parentStart, parentEnd, childStart, childEnd)
}

func CheckEnvelope(parentStart, parentEnd, childStart, childEnd *time.Time) EnvelopeResult {
	switch {
	case parentStart != nil && childStart != nil && childStart.Before(*parentStart):
		return EnvelopeResult{
			Violation:   ViolationStartsBeforeParent,
			Description: fmt.Sprintf("child starts %s, before parent start %s", day(childStart), day(parentStart)),
		}
	case parentEnd != nil && childEnd != nil && childEnd.After(*parentEnd):
		return EnvelopeResult{
			Violation:   ViolationEndsAfterParent,
			Description: fmt.Sprintf("child ends %s, after parent end %s", day(childEnd), day(parentEnd)),
		}
	case parentEnd != nil && childStart != nil && childStart.After(*parentEnd):
		return EnvelopeResult{
			Violation:   ViolationStartsAfterParentEnd,
			Description: fmt.Sprintf("child starts %s, after parent end %s", day(childStart), day(parentEnd)),
		}
	case parentStart != nil && childEnd != nil && childEnd.Before(*parentStart):
		return EnvelopeResult{
			Violation:   ViolationEndsBeforeParentStart,
			Description: fmt.Sprintf("child ends %s, before parent start %s", day(childEnd), day(parentStart)),
		}
	}
	return EnvelopeResult{WithinWindow: true}
}

func day(t *time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// Package features turns a (task, candidate) pair into the fixed-length
// context vector consumed by the bandit engine.
//
// The component order is a contract shared with every persisted arm model:
//
//	[priority, complexity, urgency, load, role, skill_match]
//
// Reordering, inserting or removing a component invalidates all learned state.
package features

import (
	"fmt"
	"math"
)

// Dimension is the length of every vector produced by Encoder.
const Dimension = 6

// Component indices into an encoded vector.
const (
	IndexPriority = iota
	IndexComplexity
	IndexUrgency
	IndexLoad
	IndexRole
	IndexSkillMatch
)

// NeutralValue is returned for any priority or role label missing from the
// lookup tables.
const NeutralValue = 0.5

// ComplexityScale is the documented upper bound of Task.Complexity.
const ComplexityScale = 10.0

// DefaultPriorities maps task priority labels to [0,1].
func DefaultPriorities() map[string]float64 {
	return map[string]float64{
		"Low":      0.2,
		"Medium":   0.5,
		"High":     0.8,
		"Critical": 1.0,
	}
}

// DefaultRoles maps candidate role labels to [0,1].
func DefaultRoles() map[string]float64 {
	return map[string]float64{
		"Intern": 0.2,
		"Junior": 0.4,
		"Mid":    0.6,
		"Senior": 0.8,
		"Lead":   1.0,
	}
}

// Encoder maps tasks and candidates to context vectors. It holds only
// read-only lookup tables and is safe for concurrent use.
type Encoder struct {
	priorities map[string]float64
	roles      map[string]float64
}

// Option configures an Encoder.
type Option func(*Encoder)

// WithPriorities replaces the priority lookup table.
func WithPriorities(table map[string]float64) Option {
	return func(e *Encoder) {
		e.priorities = copyTable(table)
	}
}

// WithRoles replaces the role lookup table.
func WithRoles(table map[string]float64) Option {
	return func(e *Encoder) {
		e.roles = copyTable(table)
	}
}

// NewEncoder creates an encoder with the default lookup tables unless
// overridden by opts. Table values must lie in [0,1].
func NewEncoder(opts ...Option) (*Encoder, error) {
	e := &Encoder{
		priorities: DefaultPriorities(),
		roles:      DefaultRoles(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := validateTable("priority", e.priorities); err != nil {
		return nil, err
	}
	if err := validateTable("role", e.roles); err != nil {
		return nil, err
	}
	return e, nil
}

// Encode returns the context vector for assigning task to cand.
func (e *Encoder) Encode(task Task, cand Candidate) []float64 {
	return []float64{
		IndexPriority:   lookup(e.priorities, task.Priority),
		IndexComplexity: float64(task.Complexity) / ComplexityScale,
		IndexUrgency:    inverseCount(task.DeadlineHours),
		IndexLoad:       inverseCount(cand.CurrentLoad),
		IndexRole:       lookup(e.roles, cand.RoleLevel),
		IndexSkillMatch: SkillOverlap(task.SkillsRequired, cand.Skills),
	}
}

// EncodeAll encodes task against every candidate, preserving input order.
func (e *Encoder) EncodeAll(task Task, cands []Candidate) [][]float64 {
	out := make([][]float64, len(cands))
	for i, c := range cands {
		out[i] = e.Encode(task, c)
	}
	return out
}

// SkillOverlap is the fraction of required skills held by the candidate.
// An empty requirement is a vacuous match and yields 1.0. Duplicate
// required skills are counted once.
func SkillOverlap(required, held []string) float64 {
	req := make(map[string]struct{}, len(required))
	for _, s := range required {
		req[s] = struct{}{}
	}
	if len(req) == 0 {
		return 1.0
	}
	have := make(map[string]struct{}, len(held))
	for _, s := range held {
		have[s] = struct{}{}
	}
	matched := 0
	for s := range req {
		if _, ok := have[s]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(req))
}

// inverseCount computes 1/(n+1). Negative counts are treated as zero so the
// result stays in (0,1].
func inverseCount(n int) float64 {
	if n < 0 {
		n = 0
	}
	return 1.0 / float64(n+1)
}

func lookup(table map[string]float64, label string) float64 {
	if v, ok := table[label]; ok {
		return v
	}
	return NeutralValue
}

func copyTable(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func validateTable(name string, table map[string]float64) error {
	for label, v := range table {
		if math.IsNaN(v) || v < 0 || v > 1 {
			return fmt.Errorf("%s table: value for %q must be in [0,1], got %v", name, label, v)
		}
	}
	return nil
}

// Package predicate models metadata filters as a small expression tree.
//
// A predicate is a boolean constraint over chunk/document metadata, built
// from field comparisons (equality, ordering, set membership) combined with
// AND/OR. Modeling filters as a tagged tree instead of a string DSL keeps
// evaluation a simple recursive walk with no parsing ambiguity.
//
// Predicates are applied before vector search, never after: hard constraints
// must not be violated by approximate similarity ranking.
package predicate

import (
	"errors"
	"fmt"
)

// ErrInvalidPredicate indicates a malformed predicate tree.
var ErrInvalidPredicate = errors.New("invalid predicate")

// Op identifies a comparison operator.
type Op string

// Comparison operators supported by leaf predicates.
const (
	OpEq    Op = "eq"
	OpNe    Op = "ne"
	OpLt    Op = "lt"
	OpLe    Op = "le"
	OpGt    Op = "gt"
	OpGe    Op = "ge"
	OpIn    Op = "in"
	OpNotIn Op = "not_in"
)

// Expr is a node in a predicate tree.
type Expr interface {
	// Eval reports whether the metadata satisfies the predicate.
	// A missing field never satisfies a leaf comparison.
	Eval(metadata map[string]any) bool

	// Validate checks the predicate tree for structural errors.
	Validate() error
}

// Cmp is a leaf comparison against a single metadata field.
type Cmp struct {
	Field  string
	Op     Op
	Value  any   // for scalar operators
	Values []any // for in / not_in
}

// And is the conjunction of its sub-expressions.
type And []Expr

// Or is the disjunction of its sub-expressions.
type Or []Expr

// Eq builds an equality comparison.
func Eq(field string, value any) Expr { return Cmp{Field: field, Op: OpEq, Value: value} }

// Ne builds an inequality comparison.
func Ne(field string, value any) Expr { return Cmp{Field: field, Op: OpNe, Value: value} }

// Lt builds a less-than comparison.
func Lt(field string, value any) Expr { return Cmp{Field: field, Op: OpLt, Value: value} }

// Le builds a less-than-or-equal comparison.
func Le(field string, value any) Expr { return Cmp{Field: field, Op: OpLe, Value: value} }

// Gt builds a greater-than comparison.
func Gt(field string, value any) Expr { return Cmp{Field: field, Op: OpGt, Value: value} }

// Ge builds a greater-than-or-equal comparison.
func Ge(field string, value any) Expr { return Cmp{Field: field, Op: OpGe, Value: value} }

// In builds a set-membership comparison.
func In(field string, values ...any) Expr { return Cmp{Field: field, Op: OpIn, Values: values} }

// NotIn builds a negated set-membership comparison.
func NotIn(field string, values ...any) Expr { return Cmp{Field: field, Op: OpNotIn, Values: values} }

// AllOf combines expressions with AND.
func AllOf(exprs ...Expr) Expr { return And(exprs) }

// AnyOf combines expressions with OR.
func AnyOf(exprs ...Expr) Expr { return Or(exprs) }

// Eval implements Expr.
func (c Cmp) Eval(metadata map[string]any) bool {
	v, ok := metadata[c.Field]
	if !ok {
		return false
	}

	switch c.Op {
	case OpEq:
		return scalarEqual(v, c.Value)
	case OpNe:
		return !scalarEqual(v, c.Value)
	case OpIn:
		for _, want := range c.Values {
			if scalarEqual(v, want) {
				return true
			}
		}
		return false
	case OpNotIn:
		for _, want := range c.Values {
			if scalarEqual(v, want) {
				return false
			}
		}
		return true
	case OpLt, OpLe, OpGt, OpGe:
		ord, ok := compareScalars(v, c.Value)
		if !ok {
			return false
		}
		switch c.Op {
		case OpLt:
			return ord < 0
		case OpLe:
			return ord <= 0
		case OpGt:
			return ord > 0
		default:
			return ord >= 0
		}
	default:
		return false
	}
}

// Validate implements Expr.
func (c Cmp) Validate() error {
	if c.Field == "" {
		return fmt.Errorf("%w: comparison field is empty", ErrInvalidPredicate)
	}
	switch c.Op {
	case OpIn, OpNotIn:
		if len(c.Values) == 0 {
			return fmt.Errorf("%w: %s on %q requires at least one value", ErrInvalidPredicate, c.Op, c.Field)
		}
	case OpEq, OpNe:
		if c.Value == nil {
			return fmt.Errorf("%w: %s on %q requires a value", ErrInvalidPredicate, c.Op, c.Field)
		}
	case OpLt, OpLe, OpGt, OpGe:
		if !isOrdered(c.Value) {
			return fmt.Errorf("%w: %s on %q requires a numeric or string value", ErrInvalidPredicate, c.Op, c.Field)
		}
	default:
		return fmt.Errorf("%w: unknown operator %q", ErrInvalidPredicate, c.Op)
	}
	return nil
}

// Eval implements Expr.
func (a And) Eval(metadata map[string]any) bool {
	for _, e := range a {
		if !e.Eval(metadata) {
			return false
		}
	}
	return true
}

// Validate implements Expr.
func (a And) Validate() error {
	if len(a) == 0 {
		return fmt.Errorf("%w: empty AND", ErrInvalidPredicate)
	}
	return validateAll(a)
}

// Eval implements Expr.
func (o Or) Eval(metadata map[string]any) bool {
	for _, e := range o {
		if e.Eval(metadata) {
			return true
		}
	}
	return false
}

// Validate implements Expr.
func (o Or) Validate() error {
	if len(o) == 0 {
		return fmt.Errorf("%w: empty OR", ErrInvalidPredicate)
	}
	return validateAll(o)
}

func validateAll(exprs []Expr) error {
	for _, e := range exprs {
		if e == nil {
			return fmt.Errorf("%w: nil sub-expression", ErrInvalidPredicate)
		}
		if err := e.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// scalarEqual compares two metadata scalars, coercing numeric types so that
// an int stored at indexing time matches a float64 from a decoded filter.
func scalarEqual(a, b any) bool {
	if af, aok := toFloat(a); aok {
		bf, bok := toFloat(b)
		return bok && af == bf
	}
	return a == b
}

// compareScalars orders two scalars. Returns -1/0/1 and true when the values
// are comparable (both numeric or both strings), false otherwise.
func compareScalars(a, b any) (int, bool) {
	if af, aok := toFloat(a); aok {
		bf, bok := toFloat(b)
		if !bok {
			return 0, false
		}
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		default:
			return 0, true
		}
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if !aok || !bok {
		return 0, false
	}
	switch {
	case as < bs:
		return -1, true
	case as > bs:
		return 1, true
	default:
		return 0, true
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func isOrdered(v any) bool {
	if _, ok := toFloat(v); ok {
		return true
	}
	_, ok := v.(string)
	return ok
}

// Package store provides the option-based query machinery shared by all
// persistence-backed stores.
package store

import "fmt"

// Option applies a modification to a Query.
type Option func(Query) Query

// Query holds conditions, ordering, and pagination for store lookups.
type Query struct {
	conditions []Condition
	orders     []Order
	limit      int
	offset     int
}

// Build creates a Query from a set of options.
func Build(options ...Option) Query {
	q := Query{}
	for _, opt := range options {
		q = opt(q)
	}
	return q
}

// Conditions returns the query conditions.
func (q Query) Conditions() []Condition {
	result := make([]Condition, len(q.conditions))
	copy(result, q.conditions)
	return result
}

// Orders returns the query ordering specifications.
func (q Query) Orders() []Order {
	result := make([]Order, len(q.orders))
	copy(result, q.orders)
	return result
}

// LimitValue returns the limit (0 means no limit).
func (q Query) LimitValue() int {
	return q.limit
}

// OffsetValue returns the offset.
func (q Query) OffsetValue() int {
	return q.offset
}

// Comparison is the operator of a Condition.
type Comparison int

// Comparison values.
const (
	CompareEqual Comparison = iota
	CompareIn
	CompareGreaterThan
	CompareGreaterOrEqual
	CompareLessThan
	CompareLessOrEqual
	CompareGreaterThanField
)

// Condition represents a single query condition.
type Condition struct {
	field   string
	value   any
	compare Comparison
}

// Field returns the condition field name.
func (c Condition) Field() string { return c.field }

// Value returns the condition value.
func (c Condition) Value() any { return c.value }

// Compare returns the condition operator.
func (c Condition) Compare() Comparison { return c.compare }

// String returns a readable representation.
func (c Condition) String() string {
	op := "="
	switch c.compare {
	case CompareIn:
		op = "IN"
	case CompareGreaterThan:
		op = ">"
	case CompareGreaterOrEqual:
		op = ">="
	case CompareLessThan:
		op = "<"
	case CompareLessOrEqual:
		op = "<="
	case CompareGreaterThanField:
		op = ">"
	}
	return fmt.Sprintf("%s %s %v", c.field, op, c.value)
}

// Order represents a sort specification.
type Order struct {
	field     string
	ascending bool
}

// Field returns the order field name.
func (o Order) Field() string { return o.field }

// Ascending returns true for ASC, false for DESC.
func (o Order) Ascending() bool { return o.ascending }

// --- Generic options reused across all stores ---

// WithCondition adds a field = value equality condition.
// Domain packages use this to define their own typed options.
func WithCondition(field string, value any) Option {
	return withCompare(field, value, CompareEqual)
}

// WithConditionIn adds a field IN (values) condition.
func WithConditionIn(field string, values any) Option {
	return withCompare(field, values, CompareIn)
}

// WithGreaterThan adds a field > value condition.
func WithGreaterThan(field string, value any) Option {
	return withCompare(field, value, CompareGreaterThan)
}

// WithGreaterOrEqual adds a field >= value condition.
func WithGreaterOrEqual(field string, value any) Option {
	return withCompare(field, value, CompareGreaterOrEqual)
}

// WithLessThan adds a field < value condition.
func WithLessThan(field string, value any) Option {
	return withCompare(field, value, CompareLessThan)
}

// WithLessOrEqual adds a field <= value condition.
func WithLessOrEqual(field string, value any) Option {
	return withCompare(field, value, CompareLessOrEqual)
}

// WithGreaterThanField adds a field > otherField condition comparing
// two fields of the same document.
func WithGreaterThanField(field, otherField string) Option {
	return withCompare(field, otherField, CompareGreaterThanField)
}

func withCompare(field string, value any, compare Comparison) Option {
	return func(q Query) Query {
		q.conditions = append(q.conditions, Condition{field: field, value: value, compare: compare})
		return q
	}
}

// WithLimit sets the maximum number of results.
func WithLimit(n int) Option {
	return func(q Query) Query {
		q.limit = n
		return q
	}
}

// WithOffset sets the result offset.
func WithOffset(n int) Option {
	return func(q Query) Query {
		q.offset = n
		return q
	}
}

// WithOrderAsc adds ascending ordering on a field.
func WithOrderAsc(field string) Option {
	return func(q Query) Query {
		q.orders = append(q.orders, Order{field: field, ascending: true})
		return q
	}
}

// WithOrderDesc adds descending ordering on a field.
func WithOrderDesc(field string) Option {
	return func(q Query) Query {
		q.orders = append(q.orders, Order{field: field, ascending: false})
		return q
	}
}

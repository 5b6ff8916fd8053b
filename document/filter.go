package document

import "fmt"

// Op is a predicate comparison operator.
type Op int

const (
	OpEq Op = iota
	OpNe
	OpIn
)

func (o Op) String() string {
	switch o {
	case OpEq:
		return "eq"
	case OpNe:
		return "ne"
	case OpIn:
		return "in"
	default:
		return fmt.Sprintf("op(%d)", int(o))
	}
}

// Predicate is a single condition on one document field.
// Values is only used by OpIn.
type Predicate struct {
	Field  string
	Op     Op
	Value  any
	Values []any
}

func (p Predicate) String() string {
	if p.Op == OpIn {
		return fmt.Sprintf("%s %s %v", p.Field, p.Op, p.Values)
	}
	return fmt.Sprintf("%s %s %v", p.Field, p.Op, p.Value)
}

// Filter is the AND of its predicates. An empty Filter matches every document.
type Filter []Predicate

// Eq matches documents whose field equals value.
func Eq(field string, value any) Predicate {
	return Predicate{Field: field, Op: OpEq, Value: value}
}

// Ne matches documents whose field differs from value.
func Ne(field string, value any) Predicate {
	return Predicate{Field: field, Op: OpNe, Value: value}
}

// In matches documents whose field is one of values.
func In[T any](field string, values ...T) Predicate {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return Predicate{Field: field, Op: OpIn, Values: out}
}

// And concatenates filters into a single conjunction.
func And(filters ...Filter) Filter {
	var size int
	for _, f := range filters {
		size += len(f)
	}
	out := make(Filter, 0, size)
	for _, f := range filters {
		out = append(out, f...)
	}
	return out
}

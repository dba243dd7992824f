package clause

import "reflect"

// Equal compares two clauses structurally. IN and NOT IN lists are
// compared as multisets; numbers compare by value regardless of Go type.
func Equal(a, b Clause) bool {
	switch x := a.(type) {
	case Filter:
		y, ok := b.(Filter)
		if !ok || x.Field != y.Field || x.Operator != y.Operator {
			return false
		}
		if x.Operator == In || x.Operator == NotIn {
			return sameMultiset(x.Value, y.Value)
		}
		return valueEqual(x.Value, y.Value)
	case Unary:
		y, ok := b.(Unary)
		if !ok || x.Operator != y.Operator {
			return false
		}
		return Equal(x.Clause, y.Clause)
	case Aggregate:
		y, ok := b.(Aggregate)
		if !ok || x.Operator != y.Operator || len(x.Clauses) != len(y.Clauses) {
			return false
		}
		for i := range x.Clauses {
			if !Equal(x.Clauses[i], y.Clauses[i]) {
				return false
			}
		}
		return true
	case nil:
		return b == nil
	default:
		return false
	}
}

func sameMultiset(a, b any) bool {
	xs, okA := a.([]any)
	ys, okB := b.([]any)
	if !okA || !okB {
		return valueEqual(a, b)
	}
	if len(xs) != len(ys) {
		return false
	}
	used := make([]bool, len(ys))
outer:
	for _, x := range xs {
		for j, y := range ys {
			if !used[j] && valueEqual(x, y) {
				used[j] = true
				continue outer
			}
		}
		return false
	}
	return true
}

func valueEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

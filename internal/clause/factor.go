package clause

// Factor rewrites c into disjunctive normal form: an OR of ANDs whose
// members are literals (a Filter or NOT of a Filter).
//
// Shapes of the result:
//
//	literal            a single disjunct with a single literal
//	AND(l1, l2, ...)   a single disjunct
//	OR(d1, d2, ...)    several disjuncts, each a literal or an AND of literals
//	AND()              always true
//	OR()               always false
//
// NOT is pushed inward with De Morgan's laws and double negation cancels.
// AND is distributed over OR by taking the Cartesian product of the
// operands' disjuncts. Factor(Factor(c)) equals Factor(c).
func Factor(c Clause) Clause {
	return fromDisjuncts(disjuncts(c, false))
}

// disjuncts returns c (negated when neg is set) as a list of conjunctions.
func disjuncts(c Clause, neg bool) [][]Clause {
	switch x := c.(type) {
	case Filter:
		if neg {
			return [][]Clause{{NotOf(x)}}
		}
		return [][]Clause{{x}}
	case Unary:
		return disjuncts(x.Clause, !neg)
	case Aggregate:
		op := x.Operator
		if neg {
			// De Morgan: NOT(AND(...)) is OR(NOT ...) and vice versa.
			if op == And {
				op = Or
			} else {
				op = And
			}
		}
		if op == Or {
			out := [][]Clause{}
			for _, child := range x.Clauses {
				out = append(out, disjuncts(child, neg)...)
			}
			return out
		}
		out := [][]Clause{{}}
		for _, child := range x.Clauses {
			out = product(out, disjuncts(child, neg))
			if len(out) == 0 {
				break
			}
		}
		return out
	default:
		return [][]Clause{{}}
	}
}

func product(left, right [][]Clause) [][]Clause {
	out := make([][]Clause, 0, len(left)*len(right))
	for _, l := range left {
		for _, r := range right {
			conj := make([]Clause, 0, len(l)+len(r))
			conj = append(conj, l...)
			conj = append(conj, r...)
			out = append(out, conj)
		}
	}
	return out
}

func fromDisjuncts(ds [][]Clause) Clause {
	for _, d := range ds {
		if len(d) == 0 {
			return True()
		}
	}
	if len(ds) == 0 {
		return False()
	}
	if len(ds) == 1 {
		return conjunction(ds[0])
	}
	out := make([]Clause, len(ds))
	for i, d := range ds {
		out[i] = conjunction(d)
	}
	return OrOf(out...)
}

func conjunction(lits []Clause) Clause {
	if len(lits) == 1 {
		return lits[0]
	}
	return AndOf(lits...)
}

// Disjuncts returns the conjunctions of a factored clause as literal lists.
// It accepts any clause and factors it first.
func Disjuncts(c Clause) [][]Clause {
	return disjuncts(c, false)
}

// IsLiteral reports whether c is a Filter or the negation of a Filter.
func IsLiteral(c Clause) bool {
	switch x := c.(type) {
	case Filter:
		return true
	case Unary:
		_, ok := x.Clause.(Filter)
		return ok && x.Operator == Not
	}
	return false
}

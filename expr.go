package redisom

import "fmt"

// ExprKind discriminates the nodes of the query expression tree, the Go
// stand-in for the source's operator-overloaded field proxies (spec.md §9,
// "expose explicit builder functions").
type ExprKind int

const (
	ExprEq ExprKind = iota
	ExprNe
	ExprLt
	ExprLte
	ExprGt
	ExprGte
	ExprMatch
	ExprIn
	ExprNotIn
	ExprKNN
	ExprGeoWithin
	ExprAnd
	ExprOr
	ExprNot
)

// Expr is one node of the query expression tree (spec.md §4.5): a
// discriminated union of comparison leaves, the KNN/geo-radius leaves, and
// the And/Or/Not combinators.
type Expr struct {
	Kind ExprKind

	// Leaf comparison fields.
	Field  string
	Value  any
	Values []string

	// KNN leaf fields.
	K      int
	Vector any // []float32 or []float64

	// GeoWithin leaf fields.
	Lat, Lon, Radius float64
	Unit             string

	// Combinator fields.
	Left, Right *Expr
	Child       *Expr
}

func leaf(kind ExprKind, field string, value any) Expr {
	return Expr{Kind: kind, Field: field, Value: value}
}

// Eq builds an equality leaf ("==" in spec.md §4.5).
func Eq(field string, value any) Expr { return leaf(ExprEq, field, value) }

// Ne builds an inequality leaf ("!=").
func Ne(field string, value any) Expr { return leaf(ExprNe, field, value) }

// Lt builds a "<" range leaf (NUMERIC fields only).
func Lt(field string, value any) Expr { return leaf(ExprLt, field, value) }

// Lte builds a "<=" range leaf.
func Lte(field string, value any) Expr { return leaf(ExprLte, field, value) }

// Gt builds a ">" range leaf.
func Gt(field string, value any) Expr { return leaf(ExprGt, field, value) }

// Gte builds a ">=" range leaf.
func Gte(field string, value any) Expr { return leaf(ExprGte, field, value) }

// Match builds a stemmed full-text match leaf ("%", TEXT fields only).
func Match(field, value string) Expr { return leaf(ExprMatch, field, value) }

// In builds a containment leaf ("<<": value is one of values, list/tuple
// TAG fields only).
func In(field string, values ...string) Expr {
	return Expr{Kind: ExprIn, Field: field, Values: values}
}

// NotIn builds the negated containment leaf (">>").
func NotIn(field string, values ...string) Expr {
	return Expr{Kind: ExprNotIn, Field: field, Values: values}
}

// KNN builds a vector-similarity leaf: the k nearest neighbors of vector
// (a []float32 or []float64) on a VECTOR field.
func KNN(field string, k int, vector any) Expr {
	return Expr{Kind: ExprKNN, Field: field, K: k, Vector: vector}
}

// GeoWithin builds a geo-radius leaf on a GEO field.
func GeoWithin(field string, lat, lon, radius float64, unit string) Expr {
	if unit == "" {
		unit = "m"
	}
	return Expr{Kind: ExprGeoWithin, Field: field, Lat: lat, Lon: lon, Radius: radius, Unit: unit}
}

// And builds a conjunction. With one argument it is a no-op wrapper; with
// more than two it right-folds them, which is sound per spec.md §4.5's
// "AND is associative and commutative at compile time".
func And(exprs ...Expr) Expr { return foldBinary(ExprAnd, exprs) }

// Or builds a disjunction, right-folding more than two arguments.
func Or(exprs ...Expr) Expr { return foldBinary(ExprOr, exprs) }

func foldBinary(kind ExprKind, exprs []Expr) Expr {
	if len(exprs) == 0 {
		panic("redisom: And/Or require at least one expression")
	}
	out := exprs[len(exprs)-1]
	for i := len(exprs) - 2; i >= 0; i-- {
		l, r := exprs[i], out
		out = Expr{Kind: kind, Left: &l, Right: &r}
	}
	return out
}

// Not builds a negation.
func Not(e Expr) Expr { return Expr{Kind: ExprNot, Child: &e} }

// Normalize collapses double negation (Not(Not(x)) -> x) recursively. AND/OR
// associativity and commutativity need no structural rewrite: the compiler
// lowers them independently of tree shape, so differently-shaped trees
// already produce query strings with the same result set (spec.md §4.5,
// §8.1.5) even though Normalize does not canonicalize their shape.
func Normalize(e Expr) Expr {
	switch e.Kind {
	case ExprNot:
		child := Normalize(*e.Child)
		if child.Kind == ExprNot {
			return *child.Child
		}
		return Expr{Kind: ExprNot, Child: &child}
	case ExprAnd, ExprOr:
		l, r := Normalize(*e.Left), Normalize(*e.Right)
		return Expr{Kind: e.Kind, Left: &l, Right: &r}
	default:
		return e
	}
}

// String renders e as a deterministic, test-verifiable ASCII tree, per
// spec.md §4.5's "debug contract".
func (e Expr) String() string {
	switch e.Kind {
	case ExprEq:
		return fmt.Sprintf("(%s == %v)", e.Field, e.Value)
	case ExprNe:
		return fmt.Sprintf("(%s != %v)", e.Field, e.Value)
	case ExprLt:
		return fmt.Sprintf("(%s < %v)", e.Field, e.Value)
	case ExprLte:
		return fmt.Sprintf("(%s <= %v)", e.Field, e.Value)
	case ExprGt:
		return fmt.Sprintf("(%s > %v)", e.Field, e.Value)
	case ExprGte:
		return fmt.Sprintf("(%s >= %v)", e.Field, e.Value)
	case ExprMatch:
		return fmt.Sprintf("(%s %% %v)", e.Field, e.Value)
	case ExprIn:
		return fmt.Sprintf("(%s << %v)", e.Field, e.Values)
	case ExprNotIn:
		return fmt.Sprintf("(%s >> %v)", e.Field, e.Values)
	case ExprKNN:
		return fmt.Sprintf("KNN(%s, k=%d)", e.Field, e.K)
	case ExprGeoWithin:
		return fmt.Sprintf("GEOWITHIN(%s, %g,%g,%g%s)", e.Field, e.Lat, e.Lon, e.Radius, e.Unit)
	case ExprAnd:
		return fmt.Sprintf("(%s AND %s)", e.Left, e.Right)
	case ExprOr:
		return fmt.Sprintf("(%s OR %s)", e.Left, e.Right)
	case ExprNot:
		return fmt.Sprintf("NOT(%s)", e.Child)
	default:
		return "<invalid expr>"
	}
}

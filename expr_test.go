package redisom

import "testing"

func TestExprBuildersShape(t *testing.T) {
	if e := Eq("name", "ada"); e.Kind != ExprEq || e.Field != "name" || e.Value != "ada" {
		t.Fatalf("Eq = %+v", e)
	}
	if e := In("tags", "a", "b"); e.Kind != ExprIn || len(e.Values) != 2 {
		t.Fatalf("In = %+v", e)
	}
	if e := NotIn("tags", "a"); e.Kind != ExprNotIn {
		t.Fatalf("NotIn = %+v", e)
	}
	if e := KNN("vec", 5, []float32{1, 2}); e.Kind != ExprKNN || e.K != 5 {
		t.Fatalf("KNN = %+v", e)
	}
	if e := GeoWithin("loc", 1, 2, 3, ""); e.Unit != "m" {
		t.Fatalf("GeoWithin default unit = %q, want \"m\"", e.Unit)
	}
	if e := GeoWithin("loc", 1, 2, 3, "km"); e.Unit != "km" {
		t.Fatalf("GeoWithin unit = %q, want \"km\"", e.Unit)
	}
}

func TestAndOrFolding(t *testing.T) {
	a, b, c := Eq("x", 1), Eq("y", 2), Eq("z", 3)

	single := And(a)
	if single.Kind != ExprEq {
		t.Fatalf("And with one arg should return that arg unwrapped, got %+v", single)
	}

	two := And(a, b)
	if two.Kind != ExprAnd || two.Left.Field != "x" || two.Right.Field != "y" {
		t.Fatalf("And(a,b) = %+v", two)
	}

	three := And(a, b, c)
	if three.Kind != ExprAnd {
		t.Fatalf("And(a,b,c) kind = %v, want ExprAnd", three.Kind)
	}
	if three.Left.Field != "x" {
		t.Fatalf("And(a,b,c).Left = %+v, want x", three.Left)
	}
	if three.Right.Kind != ExprAnd || three.Right.Left.Field != "y" || three.Right.Right.Field != "z" {
		t.Fatalf("And(a,b,c).Right = %+v, want right-folded (y AND z)", three.Right)
	}

	or := Or(a, b)
	if or.Kind != ExprOr {
		t.Fatalf("Or(a,b) kind = %v, want ExprOr", or.Kind)
	}
}

func TestAndPanicsOnEmpty(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected And() with no args to panic")
		}
	}()
	And()
}

func TestNormalizeCollapsesDoubleNegation(t *testing.T) {
	e := Not(Not(Eq("x", 1)))
	n := Normalize(e)
	if n.Kind != ExprEq || n.Field != "x" {
		t.Fatalf("Normalize(Not(Not(x))) = %+v, want bare eq leaf", n)
	}
}

func TestNormalizeLeavesTripleNegationAsSingle(t *testing.T) {
	e := Not(Not(Not(Eq("x", 1))))
	n := Normalize(e)
	if n.Kind != ExprNot || n.Child.Kind != ExprEq {
		t.Fatalf("Normalize(Not^3(x)) = %+v, want single Not wrapping the leaf", n)
	}
}

func TestNormalizeRecursesIntoCombinators(t *testing.T) {
	e := And(Not(Not(Eq("x", 1))), Eq("y", 2))
	n := Normalize(e)
	if n.Kind != ExprAnd {
		t.Fatalf("Normalize result kind = %v, want ExprAnd", n.Kind)
	}
	if n.Left.Kind != ExprEq || n.Left.Field != "x" {
		t.Fatalf("Normalize did not collapse nested double negation: %+v", n.Left)
	}
}

func TestExprStringDeterministic(t *testing.T) {
	e := And(Eq("name", "ada"), Gt("age", 10))
	s1 := e.String()
	s2 := e.String()
	if s1 != s2 {
		t.Fatalf("String() not deterministic: %q vs %q", s1, s2)
	}
	want := `((name == ada) AND (age > 10))`
	if s1 != want {
		t.Fatalf("String() = %q, want %q", s1, want)
	}
}

func TestExprStringCombinators(t *testing.T) {
	if got, want := Not(Eq("x", 1)).String(), "NOT((x == 1))"; got != want {
		t.Fatalf("Not.String() = %q, want %q", got, want)
	}
	if got, want := Or(Eq("x", 1), Eq("y", 2)).String(), "((x == 1) OR (y == 2))"; got != want {
		t.Fatalf("Or.String() = %q, want %q", got, want)
	}
	if got, want := KNN("vec", 3, []float32{1}).String(), "KNN(vec, k=3)"; got != want {
		t.Fatalf("KNN.String() = %q, want %q", got, want)
	}
}

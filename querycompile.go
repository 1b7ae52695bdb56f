package redisom

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// escapeChars are the RediSearch punctuation characters that must be
// backslash-escaped inside a TAG value, per spec.md §4.6. Space is included:
// spaces split tag terms unless escaped.
const escapeChars = ",.<>{}[]\"':;!@#$%^&*()-+=~/ "

func escapeTag(s string) string {
	var b strings.Builder
	for _, r := range s {
		if strings.ContainsRune(escapeChars, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func formatScalar(f IndexField, v any) (string, error) {
	switch t := v.(type) {
	case time.Time:
		return strconv.FormatFloat(encodeEpochSeconds(f.DeclaredType, t), 'f', -1, 64), nil
	case GeoPoint:
		return t.String(), nil
	case bool:
		if t {
			return "1", nil
		}
		return "0", nil
	case string:
		return t, nil
	case int:
		return strconv.Itoa(t), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 64), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	default:
		return fmt.Sprint(v), nil
	}
}

// SortSpec names the single field an FT.SEARCH result set is ordered by,
// per spec.md §4.6/§4.7.
type SortSpec struct {
	Field string
	Desc  bool
}

// CompileOptions carries the non-expression parts of a query: pagination
// window, sort order, and RETURN field list (already resolved to shallow
// field names by the query runtime's projection logic, C7).
type CompileOptions struct {
	Offset       int
	Count        int // 0 (the zero value) means "use DefaultLimit"
	DefaultLimit int
	Sort         *SortSpec
	Return       []string
	// CountOnly forces "LIMIT 0 0", for a total-count query that fetches no
	// document bodies.
	CountOnly bool
}

// ValidateSort checks a requested sort field against schema, returning E2 if
// the field is not marked Sortable and E6 if it does not exist at all.
func ValidateSort(schema *CompiledSchema, sort SortSpec) error {
	f, ok := schema.FieldByName(sort.Field)
	if !ok {
		return &QueryError{Field: sort.Field, Err: ErrE6}
	}
	if !f.Sortable {
		return &QueryError{Field: sort.Field, Err: ErrE2}
	}
	return nil
}

// CompileQuery lowers e against schema into the argument vector for
// FT.SEARCH (spec.md §4.6), including the index name as args[0]. opts
// supplies pagination, sort, and projection; opts.Sort is checked here with
// ValidateSort, and the Return names are emitted as given.
func CompileQuery(e Expr, schema *CompiledSchema, opts CompileOptions) ([]interface{}, error) {
	e = Normalize(e)

	filter, knn, err := splitKNN(&e)
	if err != nil {
		return nil, err
	}

	var queryStr string
	var params []interface{}
	if knn != nil {
		f, ok := schema.FieldByName(knn.Field)
		if !ok {
			return nil, &QueryError{Field: knn.Field, Err: ErrE6}
		}
		if f.Kind != KindVector {
			return nil, &QueryError{Field: knn.Field, Err: fmt.Errorf("%w: KNN requires a VECTOR field", ErrE10)}
		}
		blob, err := packVector(FieldSpec{Name: f.Name, Type: f.DeclaredType, Vector: f.Vector}, knn.Vector)
		if err != nil {
			return nil, &QueryError{Field: knn.Field, Err: err}
		}

		pre := "*"
		if filter != nil {
			s, err := compileNode(*filter, schema)
			if err != nil {
				return nil, err
			}
			pre = s
		}
		queryStr = fmt.Sprintf("(%s)=>[KNN %d @%s $BLOB AS __vec_score]", pre, knn.K, f.Name)
		params = []interface{}{"PARAMS", 2, "BLOB", blob}
	} else {
		s := "*"
		if filter != nil {
			var err error
			s, err = compileNode(*filter, schema)
			if err != nil {
				return nil, err
			}
		}
		queryStr = s
	}

	args := []interface{}{IndexName(schema.Meta), queryStr}

	offset, count := opts.Offset, opts.Count
	switch {
	case opts.CountOnly:
		offset, count = 0, 0
	case count <= 0:
		count = opts.DefaultLimit
		if count <= 0 {
			count = 1000
		}
	}
	args = append(args, "LIMIT", offset, count)

	if opts.Sort != nil {
		if err := ValidateSort(schema, *opts.Sort); err != nil {
			return nil, err
		}
		args = append(args, "SORTBY", opts.Sort.Field)
		if opts.Sort.Desc {
			args = append(args, "DESC")
		}
	}

	if len(opts.Return) > 0 {
		args = append(args, "RETURN", len(opts.Return))
		for _, r := range opts.Return {
			args = append(args, r)
		}
	}

	if params != nil {
		args = append(args, params...)
		args = append(args, "DIALECT", 2)
	}

	return args, nil
}

// splitKNN pulls the sole KNN leaf (if any) out of an AND-combined
// expression tree and returns the remaining filter separately, per spec.md
// §4.6's "KNN wraps the filter portion". KNN is only valid at the top level
// of a conjunction: nesting it under OR/NOT, or combining two KNN leaves,
// is E8.
func splitKNN(e *Expr) (filter *Expr, knn *Expr, err error) {
	switch e.Kind {
	case ExprKNN:
		cp := *e
		return nil, &cp, nil
	case ExprAnd:
		lf, lk, err := splitKNN(e.Left)
		if err != nil {
			return nil, nil, err
		}
		rf, rk, err := splitKNN(e.Right)
		if err != nil {
			return nil, nil, err
		}
		if lk != nil && rk != nil {
			return nil, nil, &QueryError{Err: fmt.Errorf("%w: only one KNN leaf is allowed per query", ErrE8)}
		}
		knn = lk
		if knn == nil {
			knn = rk
		}
		filter = andOf(lf, rf)
		return filter, knn, nil
	default:
		if containsKNN(e) {
			return nil, nil, &QueryError{Err: fmt.Errorf("%w: KNN may only appear as a top-level AND operand", ErrE8)}
		}
		cp := *e
		return &cp, nil, nil
	}
}

func containsKNN(e *Expr) bool {
	switch e.Kind {
	case ExprKNN:
		return true
	case ExprAnd, ExprOr:
		return containsKNN(e.Left) || containsKNN(e.Right)
	case ExprNot:
		return containsKNN(e.Child)
	default:
		return false
	}
}

func andOf(a, b *Expr) *Expr {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	default:
		return &Expr{Kind: ExprAnd, Left: a, Right: b}
	}
}

func compileNode(e Expr, schema *CompiledSchema) (string, error) {
	switch e.Kind {
	case ExprAnd:
		l, err := compileNode(*e.Left, schema)
		if err != nil {
			return "", err
		}
		r, err := compileNode(*e.Right, schema)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("(%s %s)", l, r), nil
	case ExprOr:
		l, err := compileNode(*e.Left, schema)
		if err != nil {
			return "", err
		}
		r, err := compileNode(*e.Right, schema)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("(%s | %s)", l, r), nil
	case ExprNot:
		inner, err := compileNode(*e.Child, schema)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("-(%s)", inner), nil
	case ExprGeoWithin:
		f, ok := schema.FieldByName(e.Field)
		if !ok {
			return "", &QueryError{Field: e.Field, Err: ErrE6}
		}
		if f.Kind != KindGeo {
			return "", &QueryError{Field: e.Field, Err: fmt.Errorf("%w: GeoWithin requires a GEO field", ErrE10)}
		}
		return fmt.Sprintf("@%s:[%g %g %g %s]", f.Name, e.Lon, e.Lat, e.Radius, e.Unit), nil
	default:
		return compileLeaf(e, schema)
	}
}

func compileLeaf(e Expr, schema *CompiledSchema) (string, error) {
	f, ok := schema.FieldByName(e.Field)
	if !ok {
		return "", &QueryError{Field: e.Field, Err: ErrE6}
	}

	switch e.Kind {
	case ExprMatch:
		if f.Kind != KindText {
			return "", &QueryError{Field: e.Field, Err: ErrE3}
		}
		return fmt.Sprintf("@%s:(%v)", f.Name, e.Value), nil
	case ExprIn, ExprNotIn:
		if !f.IsList {
			return "", &QueryError{Field: e.Field, Err: ErrE1}
		}
		escaped := make([]string, len(e.Values))
		for i, v := range e.Values {
			escaped[i] = escapeTag(v)
		}
		clause := fmt.Sprintf("@%s:{%s}", f.Name, strings.Join(escaped, "|"))
		if e.Kind == ExprNotIn {
			clause = "-" + clause
		}
		return clause, nil
	case ExprLt, ExprLte, ExprGt, ExprGte:
		if f.Kind != KindNumeric {
			return "", &QueryError{Field: e.Field, Err: fmt.Errorf("%w: range comparisons require a NUMERIC field", ErrE10)}
		}
		val, err := formatScalar(f, e.Value)
		if err != nil {
			return "", &QueryError{Field: e.Field, Err: err}
		}
		switch e.Kind {
		case ExprLt:
			return fmt.Sprintf("@%s:[-inf (%s]", f.Name, val), nil
		case ExprLte:
			return fmt.Sprintf("@%s:[-inf %s]", f.Name, val), nil
		case ExprGt:
			return fmt.Sprintf("@%s:[(%s +inf]", f.Name, val), nil
		default: // ExprGte
			return fmt.Sprintf("@%s:[%s +inf]", f.Name, val), nil
		}
	case ExprEq, ExprNe:
		clause, err := compileEquality(f, e.Value)
		if err != nil {
			return "", &QueryError{Field: e.Field, Err: err}
		}
		if e.Kind == ExprNe {
			clause = "-" + clause
		}
		return clause, nil
	default:
		return "", &QueryError{Field: e.Field, Err: ErrE7}
	}
}

func compileEquality(f IndexField, value any) (string, error) {
	switch f.Kind {
	case KindTag:
		val, err := formatScalar(f, value)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("@%s:{%s}", f.Name, escapeTag(val)), nil
	case KindText:
		return fmt.Sprintf("@%s:(%v)", f.Name, value), nil
	case KindNumeric:
		val, err := formatScalar(f, value)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("@%s:[%s %s]", f.Name, val, val), nil
	case KindGeo:
		p, ok := value.(GeoPoint)
		if !ok {
			return "", fmt.Errorf("%w: equality on a GEO field requires a GeoPoint value", ErrE10)
		}
		return fmt.Sprintf("@%s:[%g %g 0 m]", f.Name, p.Lon, p.Lat), nil
	default:
		return "", fmt.Errorf("%w: field kind does not support equality", ErrE5)
	}
}

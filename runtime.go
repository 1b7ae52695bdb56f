package redisom

import (
	"context"
	"fmt"
)

// Query is a bound, executable search against one record type, built from
// Repository.Query. It is a lightweight builder: each method returns the
// same *Query[T] so calls chain, per spec.md §4.6's fluent query contract.
type Query[T any] struct {
	repo         *Repository[T]
	expr         Expr
	sort         *SortSpec
	returnFields []string
}

// SortBy orders the result set by field (must be schema-marked Sortable).
// Page requires this to have been called first, per this module's
// resolution of spec.md §9's pagination-ordering Open Question (see
// DESIGN.md): pagination without an explicit sort is rejected rather than
// silently defaulting.
func (q *Query[T]) SortBy(field string, desc bool) *Query[T] {
	q.sort = &SortSpec{Field: field, Desc: desc}
	return q
}

// Only restricts which fields are fetched from the server. A path is either
// the flattened schema name ("address_city") or the original dotted field
// path ("address.city"); both resolve to the same compiled field via
// CompiledSchema.FieldByPath (spec.md §9's deep projection grammar). On a
// Hash record, fields left out of paths decode to their zero value rather
// than erroring; a Document record always loads its whole body (see
// compileOpts). Use Partial via PartialAll/PartialFirst to detect and reject
// access to a field Only did not request.
func (q *Query[T]) Only(paths ...string) *Query[T] {
	q.returnFields = append([]string{}, paths...)
	return q
}

func (q *Query[T]) compileOpts(offset, count int, countOnly bool) (CompileOptions, error) {
	opts := CompileOptions{Offset: offset, Count: count, DefaultLimit: 1000, Sort: q.sort, CountOnly: countOnly}
	if q.repo.Schema.Layout == Document {
		// FT.SEARCH can only RETURN whole JSONPath values, not a
		// caller-chosen subset of a document reassembled client side, so a
		// projected document query always fetches the full "$" body and
		// falls back to loading the whole record (spec.md §4.7) — Partial
		// still restricts access to the paths actually requested. Only the
		// requested paths themselves are validated eagerly here.
		for _, p := range q.returnFields {
			if _, ok := q.repo.Schema.FieldByPath(p); !ok {
				return opts, &QueryError{Field: p, Err: ErrE6}
			}
		}
		opts.Return = []string{"$"}
		return opts, nil
	}
	for _, p := range q.returnFields {
		f, ok := q.repo.Schema.FieldByPath(p)
		if !ok {
			return opts, &QueryError{Field: p, Err: ErrE6}
		}
		opts.Return = append(opts.Return, f.Name)
	}
	return opts, nil
}

func (q *Query[T]) search(ctx context.Context, offset, count int, countOnly bool) (int64, []T, error) {
	opts, err := q.compileOpts(offset, count, countOnly)
	if err != nil {
		return 0, nil, err
	}
	args, err := CompileQuery(q.expr, q.repo.Schema, opts)
	if err != nil {
		return 0, nil, err
	}
	reply, err := q.repo.Conn.Do(ctx, args...).Result()
	if err != nil {
		return 0, nil, capabilityMissing("search", err)
	}
	total, docs, err := parseSearchReply(reply)
	if err != nil {
		return 0, nil, &QueryError{Err: err}
	}
	out := make([]T, 0, len(docs))
	for _, d := range docs {
		rec, err := q.repo.decode(d.fields)
		if err != nil {
			return 0, nil, err
		}
		out = append(out, rec)
	}
	return total, out, nil
}

// All runs the query and returns every matching record up to the runtime's
// default page size; use Page for explicit pagination over large result
// sets (spec.md §4.7).
func (q *Query[T]) All(ctx context.Context) ([]T, error) {
	_, recs, err := q.search(ctx, 0, 0, false)
	return recs, err
}

// First returns the single highest-ranked match, or a *NotFoundError.
func (q *Query[T]) First(ctx context.Context) (*T, error) {
	_, recs, err := q.search(ctx, 0, 1, false)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, &NotFoundError{Key: q.repo.Schema.RecordName}
	}
	return &recs[0], nil
}

// Count returns the total number of matches without fetching document
// bodies.
func (q *Query[T]) Count(ctx context.Context) (int, error) {
	total, _, err := q.search(ctx, 0, 0, true)
	return int(total), err
}

// Page returns one fixed-size window of the result set. It requires a
// SortBy call first (ErrPaginationNeedsSort otherwise), since FT.SEARCH's
// LIMIT offset/count windowing is only stable under an explicit sort.
func (q *Query[T]) Page(ctx context.Context, offset, count int) ([]T, error) {
	if q.sort == nil {
		return nil, &QueryError{Err: ErrPaginationNeedsSort}
	}
	_, recs, err := q.search(ctx, offset, count, false)
	return recs, err
}

// Iterator is a pull-style cursor over a query's result set (spec.md §4.7,
// §9's "dual async/sync" resolved to a single synchronous cursor rather
// than a channel or generator). It pages internally in batches of
// batchSize.
type Iterator[T any] struct {
	q         *Query[T]
	ctx       context.Context
	batchSize int
	offset    int
	buf       []T
	bufPos    int
	total     int64
	fetched   bool
	cur       T
	err       error
}

// Iterator returns a cursor over q's result set, sorted by sort (required:
// stable cursoring needs a deterministic order, same rule as Page).
func (q *Query[T]) Iterator(ctx context.Context, sort SortSpec, batchSize int) (*Iterator[T], error) {
	if err := ValidateSort(q.repo.Schema, sort); err != nil {
		return nil, err
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	cp := *q
	cp.sort = &sort
	return &Iterator[T]{q: &cp, ctx: ctx, batchSize: batchSize}, nil
}

// Next advances the cursor, returning false at end of the result set or on
// error (check Err to distinguish the two).
func (it *Iterator[T]) Next() bool {
	if it.err != nil {
		return false
	}
	for it.bufPos >= len(it.buf) {
		if it.fetched && int64(it.offset) >= it.total {
			return false
		}
		total, recs, err := it.q.search(it.ctx, it.offset, it.batchSize, false)
		if err != nil {
			it.err = err
			return false
		}
		it.fetched = true
		it.total = total
		it.offset += len(recs)
		it.buf = recs
		it.bufPos = 0
		if len(recs) == 0 {
			return false
		}
	}
	it.cur = it.buf[it.bufPos]
	it.bufPos++
	return true
}

// Record returns the record Next most recently advanced to.
func (it *Iterator[T]) Record() T { return it.cur }

// Err returns the error that stopped iteration, if any.
func (it *Iterator[T]) Err() error { return it.err }

// Update loads every record the query matches, applies mutate to each, and
// saves it back, returning the number of records updated. It is not
// transactional across records: a failure partway through leaves earlier
// records already saved (spec.md §5, "Transactions: none").
func (q *Query[T]) Update(ctx context.Context, mutate func(*T) error) (int, error) {
	recs, err := q.All(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for i := range recs {
		if err := mutate(&recs[i]); err != nil {
			return n, err
		}
		if _, err := q.repo.Save(ctx, &recs[i]); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Partial wraps a record loaded by PartialAll/PartialFirst with the set of
// fields Only actually requested, enforcing spec.md §9's "accessing a field
// outside the loaded projection is an error" contract (ErrPartialFieldAccess)
// that a plain Go struct cannot express on its own.
type Partial[T any] struct {
	record T
	repo   *Repository[T]
	loaded map[string]bool
	full   bool
}

// Record returns the underlying decoded record. On a Hash record, fields
// Only did not request hold their zero value; a Document record is decoded
// whole. Prefer Field to fail loudly instead.
func (p Partial[T]) Record() T { return p.record }

// Field returns the value of the named schema field (flattened or dotted
// path, same as Only), or ErrPartialFieldAccess if Only did not request it.
func (p Partial[T]) Field(name string) (any, error) {
	f, ok := p.repo.Schema.FieldByPath(name)
	if !ok {
		return nil, &QueryError{Field: name, Err: ErrE6}
	}
	if !p.full && !p.loaded[f.Name] {
		return nil, ErrPartialFieldAccess
	}
	return p.repo.valueAt(p.record, f)
}

func (q *Query[T]) partialSet() (map[string]bool, bool) {
	loaded := map[string]bool{}
	for _, p := range q.returnFields {
		if f, ok := q.repo.Schema.FieldByPath(p); ok {
			loaded[f.Name] = true
		}
	}
	return loaded, len(q.returnFields) == 0
}

// PartialAll runs the query honoring any Only restriction and returns
// access-checked wrappers instead of bare records.
func (q *Query[T]) PartialAll(ctx context.Context) ([]Partial[T], error) {
	recs, err := q.All(ctx)
	if err != nil {
		return nil, err
	}
	loaded, full := q.partialSet()
	out := make([]Partial[T], len(recs))
	for i, r := range recs {
		out[i] = Partial[T]{record: r, repo: q.repo, loaded: loaded, full: full}
	}
	return out, nil
}

// PartialFirst is First with the same access-checked wrapping as PartialAll.
func (q *Query[T]) PartialFirst(ctx context.Context) (*Partial[T], error) {
	rec, err := q.First(ctx)
	if err != nil {
		return nil, err
	}
	loaded, full := q.partialSet()
	return &Partial[T]{record: *rec, repo: q.repo, loaded: loaded, full: full}, nil
}

// Values runs the query and projects each match down to a plain map of
// flattened field name to value, honoring Only if set or every indexed
// field otherwise — the "no struct" sibling of PartialAll for callers that
// want raw values rather than a record shape (spec.md §9 ".values()").
func (q *Query[T]) Values(ctx context.Context) ([]map[string]any, error) {
	recs, err := q.All(ctx)
	if err != nil {
		return nil, err
	}
	names := q.returnFields
	if len(names) == 0 {
		for _, f := range q.repo.Schema.Fields {
			names = append(names, f.Name)
		}
	}
	out := make([]map[string]any, len(recs))
	for i, r := range recs {
		m := make(map[string]any, len(names))
		for _, name := range names {
			f, ok := q.repo.Schema.FieldByPath(name)
			if !ok {
				continue
			}
			val, err := q.repo.valueAt(r, f)
			if err != nil {
				return nil, err
			}
			m[f.Name] = val
		}
		out[i] = m
	}
	return out, nil
}

// Delete deletes every record the query matches, returning the count
// deleted.
func (q *Query[T]) Delete(ctx context.Context) (int, error) {
	recs, err := q.All(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for i := range recs {
		pk, ok := q.repo.pkValue(&recs[i])
		if !ok {
			continue
		}
		if err := q.repo.Delete(ctx, pk); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

type searchDoc struct {
	id     string
	fields map[string]string
}

// parseSearchReply decodes the raw FT.SEARCH reply shape: [total, id1,
// fields1, id2, fields2, ...] where each fieldsN is a flat [k1,v1,k2,v2,...]
// array, matching the teacher's parseSearchResults decode loop
// (redisearch.go) generalized from arbitrary caller structs to this
// module's schema-driven codec.
func parseSearchReply(reply any) (int64, []searchDoc, error) {
	arr, ok := reply.([]interface{})
	if !ok || len(arr) == 0 {
		return 0, nil, fmt.Errorf("redisom: unexpected FT.SEARCH reply shape: %T", reply)
	}
	total, err := toInt64(arr[0])
	if err != nil {
		return 0, nil, err
	}

	var docs []searchDoc
	i := 1
	for i < len(arr) {
		id, _ := arr[i].(string)
		i++
		fields := map[string]string{}
		if i < len(arr) {
			if pairs, ok := arr[i].([]interface{}); ok {
				for j := 0; j+1 < len(pairs); j += 2 {
					fields[fmt.Sprint(pairs[j])] = fmt.Sprint(pairs[j+1])
				}
				i++
			}
		}
		docs = append(docs, searchDoc{id: id, fields: fields})
	}
	return total, docs, nil
}

func toInt64(v any) (int64, error) {
	switch t := v.(type) {
	case int64:
		return t, nil
	case int:
		return int64(t), nil
	case string:
		var n int64
		if _, err := fmt.Sscanf(t, "%d", &n); err != nil {
			return 0, fmt.Errorf("redisom: non-numeric FT.SEARCH total %q", t)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("redisom: unexpected FT.SEARCH total type %T", v)
	}
}

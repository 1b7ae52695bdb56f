package redisom

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Validator is the host validation contract (spec.md §9, "Pydantic →
// single-method interface"): a record type may implement it to have Save
// reject an invalid value before it is ever encoded.
type Validator interface {
	Validate() error
}

// SaveOptions configures Repository.Save's conditional-write behavior
// (spec.md §5, "conditional save flags map to the server's atomic
// primitives").
type SaveOptions struct {
	// OnlyIfAbsent fails the save (ErrSaveConditionFailed) if a record
	// already exists under the record's primary key.
	OnlyIfAbsent bool
	// OnlyIfPresent fails the save if no record currently exists under the
	// record's primary key.
	OnlyIfPresent bool
}

// Repository is the per-record-type handle for Get/Save/Delete and for
// building queries, generalizing the teacher's single untyped Client into a
// schema-bound, generic store (spec.md §4.1/§4.7).
type Repository[T any] struct {
	Conn   Conn
	Schema *CompiledSchema
	Fields []FieldSpec
}

// NewRepository binds conn, a compiled schema, and the record type's full
// declared field list (not just the indexed subset) into a Repository.
func NewRepository[T any](conn Conn, schema *CompiledSchema, fields []FieldSpec) *Repository[T] {
	return &Repository[T]{Conn: conn, Schema: schema, Fields: fields}
}

// Query begins building a search against this repository's record type.
func (r *Repository[T]) Query(expr Expr) *Query[T] {
	return &Query[T]{repo: r, expr: Normalize(expr)}
}

// Get loads a single record by primary key, or returns a *NotFoundError.
func (r *Repository[T]) Get(ctx context.Context, pk string) (*T, error) {
	key := Key(r.Schema.Meta, pk)
	var rec T
	switch r.Schema.Layout {
	case Hash:
		data, err := r.Conn.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, &ConnectionError{Op: "HGETALL", Err: err}
		}
		if len(data) == 0 {
			return nil, &NotFoundError{Key: key}
		}
		if err := DecodeHash(r.Fields, data, &rec); err != nil {
			return nil, err
		}
	case Document:
		raw, err := r.Conn.Do(ctx, "JSON.GET", key, "$").Result()
		if errors.Is(err, redis.Nil) {
			return nil, &NotFoundError{Key: key}
		}
		if err != nil {
			return nil, capabilityMissing("json", err)
		}
		body, ok := raw.(string)
		if !ok || body == "" {
			return nil, &NotFoundError{Key: key}
		}
		doc, err := firstJSONArrayElement(body)
		if err != nil {
			return nil, &QueryError{Err: err}
		}
		if err := DecodeJSON(r.Fields, doc, &rec); err != nil {
			return nil, err
		}
	}
	return &rec, nil
}

// Save encodes rec (running Validate first if rec implements Validator),
// allocating a primary key if unset, and writes it under its record key.
func (r *Repository[T]) Save(ctx context.Context, rec *T, opts ...SaveOptions) (string, error) {
	pk, err := r.prepare(rec)
	if err != nil {
		return "", err
	}
	var cond SaveOptions
	if len(opts) > 0 {
		cond = opts[0]
	}
	key := Key(r.Schema.Meta, pk)

	switch r.Schema.Layout {
	case Hash:
		data, err := EncodeHash(r.Fields, rec)
		if err != nil {
			return "", err
		}
		if cond.OnlyIfAbsent || cond.OnlyIfPresent {
			exists, err := r.Conn.Exists(ctx, key).Result()
			if err != nil {
				return "", &ConnectionError{Op: "EXISTS", Err: err}
			}
			if cond.OnlyIfAbsent && exists > 0 {
				return "", ErrSaveConditionFailed
			}
			if cond.OnlyIfPresent && exists == 0 {
				return "", ErrSaveConditionFailed
			}
		}
		if err := r.Conn.HSet(ctx, key, data).Err(); err != nil {
			return "", &ConnectionError{Op: "HSET", Err: err}
		}
	case Document:
		body, err := EncodeJSON(r.Fields, rec)
		if err != nil {
			return "", err
		}
		args := []interface{}{"JSON.SET", key, "$", string(body)}
		if cond.OnlyIfAbsent {
			args = append(args, "NX")
		} else if cond.OnlyIfPresent {
			args = append(args, "XX")
		}
		res, err := r.Conn.Do(ctx, args...).Result()
		if errors.Is(err, redis.Nil) && (cond.OnlyIfAbsent || cond.OnlyIfPresent) {
			return "", ErrSaveConditionFailed
		}
		if err != nil {
			return "", capabilityMissing("json", err)
		}
		if res == nil && (cond.OnlyIfAbsent || cond.OnlyIfPresent) {
			return "", ErrSaveConditionFailed
		}
	}
	return pk, nil
}

// SaveWithPipe queues the same write Save would issue onto pipe instead of
// sending it immediately, for batched multi-record writes (spec.md §5).
// For a Document record, conditional flags are queued as NX/XX arguments and
// their outcome is only known once the caller Execs the pipeline. For a Hash
// record the flags are ignored: the HSET is queued unconditionally.
func (r *Repository[T]) SaveWithPipe(ctx context.Context, pipe Pipe, rec *T, opts ...SaveOptions) (string, error) {
	pk, err := r.prepare(rec)
	if err != nil {
		return "", err
	}
	var cond SaveOptions
	if len(opts) > 0 {
		cond = opts[0]
	}
	key := Key(r.Schema.Meta, pk)

	switch r.Schema.Layout {
	case Hash:
		data, err := EncodeHash(r.Fields, rec)
		if err != nil {
			return "", err
		}
		pipe.HSet(ctx, key, data)
	case Document:
		body, err := EncodeJSON(r.Fields, rec)
		if err != nil {
			return "", err
		}
		args := []interface{}{"JSON.SET", key, "$", string(body)}
		if cond.OnlyIfAbsent {
			args = append(args, "NX")
		} else if cond.OnlyIfPresent {
			args = append(args, "XX")
		}
		pipe.Do(ctx, args...)
	}
	return pk, nil
}

// Delete removes the record stored under pk.
func (r *Repository[T]) Delete(ctx context.Context, pk string) error {
	if err := r.Conn.Del(ctx, Key(r.Schema.Meta, pk)).Err(); err != nil {
		return &ConnectionError{Op: "DEL", Err: err}
	}
	return nil
}

// DeleteWithPipe queues a delete of pk onto pipe.
func (r *Repository[T]) DeleteWithPipe(ctx context.Context, pipe Pipe, pk string) {
	pipe.Del(ctx, Key(r.Schema.Meta, pk))
}

// prepare validates rec and allocates its primary key if unset, returning
// the key in either case.
func (r *Repository[T]) prepare(rec *T) (string, error) {
	if v, ok := any(rec).(Validator); ok {
		if err := v.Validate(); err != nil {
			return "", &ValidationError{Record: r.Schema.RecordName, Err: err}
		}
	}
	pk, ok := r.pkValue(rec)
	if !ok || pk == "" {
		pk = AllocatePK(r.Schema.Meta)
		r.setPK(rec, pk)
	}
	return pk, nil
}

func (r *Repository[T]) pkValue(rec *T) (string, bool) {
	v := indirect(reflect.ValueOf(rec))
	idx, ok := structFieldByTag(v.Type(), r.Schema.PrimaryKeyField)
	if !ok || v.Field(idx).Kind() != reflect.String {
		return "", false
	}
	return v.Field(idx).String(), true
}

func (r *Repository[T]) setPK(rec *T, pk string) {
	v := indirect(reflect.ValueOf(rec))
	if idx, ok := structFieldByTag(v.Type(), r.Schema.PrimaryKeyField); ok {
		v.Field(idx).SetString(pk)
	}
}

// valueAt reads the value at f's declared path out of rec, by the same
// struct-tag traversal the value codec uses, for deep projection (Values,
// Partial.Field).
func (r *Repository[T]) valueAt(rec T, f IndexField) (any, error) {
	cur := indirect(reflect.ValueOf(rec))
	for _, seg := range f.Path {
		cur = indirect(cur)
		idx, ok := structFieldByTag(cur.Type(), seg)
		if !ok {
			return nil, fmt.Errorf("redisom: no such field path %s", strings.Join(f.Path, "."))
		}
		cur = cur.Field(idx)
	}
	return cur.Interface(), nil
}

func (r *Repository[T]) decode(fields map[string]string) (T, error) {
	var rec T
	switch r.Schema.Layout {
	case Hash:
		if err := DecodeHash(r.Fields, fields, &rec); err != nil {
			return rec, err
		}
	case Document:
		body, ok := fields["$"]
		if !ok {
			return rec, fmt.Errorf("redisom: search reply for a document record is missing \"$\"")
		}
		if err := DecodeJSON(r.Fields, []byte(body), &rec); err != nil {
			return rec, err
		}
	}
	return rec, nil
}

func firstJSONArrayElement(body string) ([]byte, error) {
	s := strings.TrimSpace(body)
	if !strings.HasPrefix(s, "[") {
		return []byte(s), nil
	}
	s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
	return []byte(strings.TrimSpace(s)), nil
}

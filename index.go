package redisom

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

// BuildCreateArgs assembles the FT.CREATE argument vector for s, per
// spec.md §4.4's shape table. It returns a flat []interface{} suitable for
// Conn.Do, exactly the technique the teacher's CreateIndex (redisearch.go)
// uses for its own FT.CREATE call.
func BuildCreateArgs(s *CompiledSchema) []interface{} {
	args := []interface{}{
		"FT.CREATE", IndexName(s.Meta),
		"ON", s.Layout.String(),
		"PREFIX", 1, KeyPrefix(s.Meta),
		"SCORE", "1.0",
		"SCHEMA",
	}
	for _, f := range s.Fields {
		args = append(args, fieldSchemaArgs(s.Layout, f)...)
	}
	return args
}

func fieldSchemaArgs(layout StorageLayout, f IndexField) []interface{} {
	var ident, alias string
	if layout == Document {
		ident = f.JSONPath()
		alias = f.Name
	} else {
		ident = f.HashField()
	}

	args := []interface{}{ident}
	if layout == Document {
		args = append(args, "AS", alias)
	}

	switch f.Kind {
	case KindTag:
		args = append(args, "TAG", "SEPARATOR", string(f.Separator))
		if f.CaseSensitive {
			args = append(args, "CASESENSITIVE")
		}
		if f.Sortable {
			args = append(args, "SORTABLE")
		}
	case KindText:
		args = append(args, "TEXT")
		if f.Sortable {
			args = append(args, "SORTABLE")
		}
	case KindNumeric:
		args = append(args, "NUMERIC")
		if f.Sortable {
			args = append(args, "SORTABLE")
		}
	case KindGeo:
		args = append(args, "GEO")
		if f.Sortable {
			args = append(args, "SORTABLE")
		}
	case KindVector:
		args = append(args, vectorSchemaArgs(f.Vector)...)
	}
	return args
}

func vectorSchemaArgs(v *VectorOptions) []interface{} {
	params := []interface{}{
		"TYPE", string(v.DType),
		"DIM", v.Dimension,
		"DISTANCE_METRIC", string(v.Metric),
	}
	switch v.Algorithm {
	case VectorFlat:
		if v.InitialCap > 0 {
			params = append(params, "INITIAL_CAP", v.InitialCap)
		}
		if v.BlockSize > 0 {
			params = append(params, "BLOCK_SIZE", v.BlockSize)
		}
	case VectorHNSW:
		if v.M > 0 {
			params = append(params, "M", v.M)
		}
		if v.EfConstruction > 0 {
			params = append(params, "EF_CONSTRUCTION", v.EfConstruction)
		}
		if v.EfRuntime > 0 {
			params = append(params, "EF_RUNTIME", v.EfRuntime)
		}
		if v.Epsilon > 0 {
			params = append(params, "EPSILON", strconv.FormatFloat(v.Epsilon, 'f', -1, 64))
		}
	}
	return append([]interface{}{"VECTOR", string(v.Algorithm), len(params)}, params...)
}

// Fingerprint computes the deterministic hash of s's canonicalized, sorted
// field-tuple list plus storage layout and key prefix, per spec.md §3.6.
func Fingerprint(s *CompiledSchema) string {
	lines := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		lines[i] = fingerprintLine(f)
	}
	sort.Strings(lines)

	h := sha256.New()
	fmt.Fprintf(h, "layout=%s\nprefix=%s\n", s.Layout, KeyPrefix(s.Meta))
	for _, l := range lines {
		h.Write([]byte(l))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func fingerprintLine(f IndexField) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s|%s|sortable=%v|text=%v|case=%v|sep=%c|list=%v",
		f.Name, f.Kind, f.Sortable, f.FullTextSearch, f.CaseSensitive, f.Separator, f.IsList)
	if f.Vector != nil {
		fmt.Fprintf(&b, "|vec=%s,%s,%d,%s,%d,%d,%d,%d,%d,%g",
			f.Vector.Algorithm, f.Vector.DType, f.Vector.Dimension, f.Vector.Metric,
			f.Vector.InitialCap, f.Vector.BlockSize, f.Vector.M, f.Vector.EfConstruction,
			f.Vector.EfRuntime, f.Vector.Epsilon)
	}
	return b.String()
}

// IndexManager holds a compiled schema and its server-side lifecycle.
type IndexManager struct {
	Schema *CompiledSchema
	Conn   Conn
}

// NewIndexManager returns a manager bound to schema and conn.
func NewIndexManager(schema *CompiledSchema, conn Conn) *IndexManager {
	return &IndexManager{Schema: schema, Conn: conn}
}

// IndexExists reports whether the manager's index currently exists on the
// server, per spec.md §4.4 (driven by FT.INFO, matching the teacher's
// IndexExists).
func (m *IndexManager) IndexExists(ctx context.Context) (bool, error) {
	err := m.Conn.Do(ctx, "FT.INFO", IndexName(m.Schema.Meta)).Err()
	if err == nil {
		return true, nil
	}
	if strings.Contains(strings.ToLower(err.Error()), "unknown index") {
		return false, nil
	}
	return false, capabilityMissing("search", err)
}

// CreateIndex issues FT.CREATE for the manager's schema.
func (m *IndexManager) CreateIndex(ctx context.Context) error {
	if err := requireDB0(m.Conn); err != nil {
		return err
	}
	args := BuildCreateArgs(m.Schema)
	if err := m.Conn.Do(ctx, args...).Err(); err != nil {
		return capabilityMissing("search", err)
	}
	return nil
}

// DropIndex issues FT.DROPINDEX for the manager's schema, tolerating an
// "unknown index" response (already absent).
func (m *IndexManager) DropIndex(ctx context.Context) error {
	if err := requireDB0(m.Conn); err != nil {
		return err
	}
	err := m.Conn.Do(ctx, "FT.DROPINDEX", IndexName(m.Schema.Meta)).Err()
	if err != nil && !strings.Contains(strings.ToLower(err.Error()), "unknown index") {
		return capabilityMissing("search", err)
	}
	return nil
}

// EnsureIndex implements spec.md §4.4's create_index contract: compare the
// in-memory fingerprint against the server-persisted one, and only on a
// mismatch drop and re-create the index before atomically writing the new
// fingerprint. A no-op run issues zero write commands, satisfying the
// idempotence property of spec.md §8.1.2.
func (m *IndexManager) EnsureIndex(ctx context.Context) error {
	if err := requireDB0(m.Conn); err != nil {
		return err
	}
	want := Fingerprint(m.Schema)
	have, err := m.Conn.Get(ctx, SchemaHashKey(m.Schema.Meta)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return &ConnectionError{Op: "GET schema hash", Err: err}
	}
	if have == want {
		return nil
	}
	if err := m.DropIndex(ctx); err != nil {
		return err
	}
	if err := m.CreateIndex(ctx); err != nil {
		return err
	}
	if err := m.Conn.Set(ctx, SchemaHashKey(m.Schema.Meta), want, 0).Err(); err != nil {
		return &ConnectionError{Op: "SET schema hash", Err: err}
	}
	return nil
}

package redisom

import (
	"strings"

	"github.com/oklog/ulid/v2"
)

// StorageLayout is the tagged variant spec.md §9 calls for: flat (Hash) vs
// document (JSON) storage, dispatched on rather than expressed through
// inheritance.
type StorageLayout int

const (
	// Hash stores a record as a single Hash of flat string fields.
	Hash StorageLayout = iota
	// Document stores a record as a single native JSON value.
	Document
)

func (l StorageLayout) String() string {
	if l == Document {
		return "JSON"
	}
	return "HASH"
}

// PKGenerator allocates a new primary key locally, without a server round
// trip, per spec.md §3.5. Implementations must be safe for concurrent use.
type PKGenerator interface {
	Allocate() string
}

// ulidGenerator is the default primary-key generator: a 26-character,
// lexicographically sortable, monotonic-within-entropy-source identifier.
// ulid.Make uses crypto/rand-seeded monotonic entropy internally, matching
// spec.md §3.5's "derived from current time plus randomness" contract.
type ulidGenerator struct{}

func (ulidGenerator) Allocate() string { return ulid.Make().String() }

// DefaultPKGenerator is the package-wide default primary-key generator.
var DefaultPKGenerator PKGenerator = ulidGenerator{}

// Meta is the per-record-type configuration bundle described in spec.md
// §6.5. Fields left zero-valued fall back to their documented default when
// read through the accessor methods below.
type Meta struct {
	// GlobalKeyPrefix prefixes every key this record type ever touches.
	GlobalKeyPrefix string
	// ModelKeyPrefix has no default: WithDefaults leaves it empty, so
	// callers must supply it explicitly, since Go has no runtime
	// module/typename introspection equivalent to the source language's
	// "{module}.{typename}" default.
	ModelKeyPrefix string
	// PrimaryKeyPattern is a Sprintf-style pattern with a single "%s" verb
	// for the primary key; defaults to "%s" (spec.md's "{pk}").
	PrimaryKeyPattern string
	// Database is the wire client handle. Required at runtime; nil Database
	// is only tolerated for schema-compile-only use (tests, CLI dry runs).
	Database Conn
	// PrimaryKeyCreator overrides the default sortable-id generator.
	PrimaryKeyCreator PKGenerator
	// IndexNameOverride replaces the default "{global}:{model}:index" name.
	IndexNameOverride string
	// Embedded marks this record type as usable only as a nested value of
	// another document record; it is never independently indexed.
	Embedded bool
	// Encoding is the text encoding used for binary-safe Hash decoding.
	// Only "utf-8" is implemented; the field exists so callers can detect
	// and reject unsupported encodings at registration time.
	Encoding string
	// Layout selects Hash vs Document storage for this record type.
	Layout StorageLayout
}

// WithDefaults returns a copy of m with every zero-valued optional field
// filled in from its documented default. ModelKeyPrefix has no generic
// default (see field doc) and must already be set.
func (m Meta) WithDefaults() Meta {
	out := m
	if out.PrimaryKeyPattern == "" {
		out.PrimaryKeyPattern = "%s"
	}
	if out.PrimaryKeyCreator == nil {
		out.PrimaryKeyCreator = DefaultPKGenerator
	}
	if out.Encoding == "" {
		out.Encoding = "utf-8"
	}
	return out
}

// Inherit overlays child onto parent: any field child leaves zero-valued is
// taken from parent, matching spec.md §6.5's inheritance rule for record
// types that extend another. Embedded and Layout are the exception: they
// are always child's own values.
func Inherit(parent, child Meta) Meta {
	out := child
	if out.GlobalKeyPrefix == "" {
		out.GlobalKeyPrefix = parent.GlobalKeyPrefix
	}
	if out.ModelKeyPrefix == "" {
		out.ModelKeyPrefix = parent.ModelKeyPrefix
	}
	if out.PrimaryKeyPattern == "" {
		out.PrimaryKeyPattern = parent.PrimaryKeyPattern
	}
	if out.Database == nil {
		out.Database = parent.Database
	}
	if out.PrimaryKeyCreator == nil {
		out.PrimaryKeyCreator = parent.PrimaryKeyCreator
	}
	if out.IndexNameOverride == "" {
		out.IndexNameOverride = parent.IndexNameOverride
	}
	if out.Encoding == "" {
		out.Encoding = parent.Encoding
	}
	return out
}

// prefixPath joins the global and model prefixes with ":" exactly as
// spec.md §3.2/§3.6 specify, skipping an empty global prefix.
func (m Meta) prefixPath() string {
	m = m.WithDefaults()
	if m.GlobalKeyPrefix == "" {
		return m.ModelKeyPrefix
	}
	return strings.Join([]string{m.GlobalKeyPrefix, m.ModelKeyPrefix}, ":")
}

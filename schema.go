package redisom

import (
	"fmt"
	"strings"
)

// IndexField is one compiled entry of a record type's secondary-index
// schema, possibly derived from a nested embedded-record path (spec.md
// §4.3).
type IndexField struct {
	// Name is the flattened, query-time field identifier: the raw field
	// name for top-level fields, or "parent_child" for fields unfolded out
	// of an embedded record (spec.md §4.3 step 3).
	Name string
	// Path is the original dotted field path ["parent", "child"], used to
	// build the document JSON path and to validate deep projection paths.
	Path []string
	// DeclaredType is the source field's declared type, preserved for
	// value-codec dispatch (encoding/decoding needs more than the index
	// Kind: e.g. DateTime and Date are both NUMERIC but encode differently).
	DeclaredType DeclaredType
	Kind         FieldKind

	Sortable       bool
	FullTextSearch bool
	CaseSensitive  bool
	Separator      byte
	IsList         bool
	Vector         *VectorOptions
}

// HashField returns the Hash field name this index field is stored under
// in a flat record: the flattened alias, since flat records have no
// nesting (spec.md §4.3 step 4 rejects embedded fields in flat records).
func (f IndexField) HashField() string { return f.Name }

// JSONPath returns the document field's JSON path expression, e.g.
// "$.address.city" or "$.tags" for a top-level list, per spec.md §4.3
// step 5.
func (f IndexField) JSONPath() string {
	return "$." + strings.Join(f.Path, ".")
}

// RecordSchema is the input to Compile: a record type's identity, storage
// layout, record-level index default, and declared field list.
type RecordSchema struct {
	// Name identifies the record type (module-qualified name or alias),
	// used by the schema migrator (spec.md §4.8) and in error messages.
	Name string
	Meta Meta
	// DefaultIndex is the record-level `index` flag each field's tri-state
	// Index option overrides or inherits (spec.md §3.1).
	DefaultIndex bool
	Fields       []FieldSpec
}

// CompiledSchema is the deterministic output of Compile: an ordered index
// field list plus the bookkeeping C4/C6/C7/C8 need.
type CompiledSchema struct {
	RecordName      string
	Layout          StorageLayout
	Meta            Meta
	Fields          []IndexField
	byName          map[string]*IndexField
	PrimaryKeyField string
}

// FieldByName looks up a compiled index field by its flattened query-time
// name. The bool is false if name is absent or not indexed.
func (s *CompiledSchema) FieldByName(name string) (IndexField, bool) {
	f, ok := s.byName[name]
	if !ok {
		return IndexField{}, false
	}
	return *f, true
}

// HasPath reports whether a dotted projection path (e.g. "address.city")
// resolves to a compiled field, used to validate deep projection paths
// before any server round trip (spec.md §9 "Deep projection path grammar").
func (s *CompiledSchema) HasPath(path string) bool {
	return s.resolvePath(path) != nil
}

// FieldByPath resolves a projection path to its compiled field, accepting
// either the already-flattened query-time name ("address_city") or the
// original dotted field path ("address.city") that spec.md §9's deep
// projection grammar uses. Only/Values/Partial.Field all go through this so
// either spelling reaches the same IndexField.
func (s *CompiledSchema) FieldByPath(path string) (IndexField, bool) {
	f := s.resolvePath(path)
	if f == nil {
		return IndexField{}, false
	}
	return *f, true
}

func (s *CompiledSchema) resolvePath(path string) *IndexField {
	if f, ok := s.byName[path]; ok {
		return f
	}
	if f, ok := s.byName[strings.ReplaceAll(path, ".", "_")]; ok {
		return f
	}
	return nil
}

// Compile walks rs per spec.md §4.3 and produces its CompiledSchema. Schema
// errors are returned eagerly and never lazily deferred, per spec.md §3.7.
func Compile(rs RecordSchema) (*CompiledSchema, error) {
	out := &CompiledSchema{
		RecordName: rs.Name,
		Layout:     rs.Meta.Layout,
		Meta:       rs.Meta,
		byName:     map[string]*IndexField{},
	}

	pkSeen := false
	var walk func(prefix []string, fields []FieldSpec) error
	walk = func(prefix []string, fields []FieldSpec) error {
		for _, fs := range fields {
			if fs.PrimaryKey {
				if len(prefix) != 0 {
					return &SchemaError{Record: rs.Name, Field: fs.Name, Err: fmt.Errorf("%w: primary_key cannot be on an embedded field", ErrE4)}
				}
				if pkSeen {
					return &SchemaError{Record: rs.Name, Field: fs.Name, Err: ErrDuplicatePrimaryKey}
				}
				pkSeen = true
				out.PrimaryKeyField = fs.Name
			}

			if fs.Type == TypeEmbedded {
				if out.Layout != Document {
					return &SchemaError{Record: rs.Name, Field: fs.Name, Err: fmt.Errorf("%w: embedded records require document (JSON) storage", ErrE4)}
				}
				if err := walk(append(append([]string{}, prefix...), fs.Name), fs.Embedded); err != nil {
					return err
				}
				continue
			}

			indexed := rs.DefaultIndex
			switch fs.Index {
			case IndexInclude:
				indexed = true
			case IndexExclude:
				indexed = false
			}
			if fs.Sortable && !indexed {
				return &SchemaError{Record: rs.Name, Field: fs.Name, Err: fmt.Errorf("%w: sortable field must be indexed", ErrE4)}
			}
			if !indexed {
				continue
			}

			if out.Layout != Document && (fs.Type == TypeList) {
				return &SchemaError{Record: rs.Name, Field: fs.Name, Err: fmt.Errorf("%w: container types are not allowed in flat (hash) records", ErrE4)}
			}

			if fs.FullTextSearch && fs.CaseSensitive {
				return &SchemaError{Record: rs.Name, Field: fs.Name, Err: fmt.Errorf("%w: full_text_search is incompatible with case_sensitive", ErrE4)}
			}

			path := append(append([]string{}, prefix...), fs.Name)
			name := strings.Join(path, "_")

			field := IndexField{
				Name:           name,
				Path:           path,
				DeclaredType:   fs.Type,
				Sortable:       fs.Sortable,
				FullTextSearch: fs.FullTextSearch,
				CaseSensitive:  fs.CaseSensitive,
				Separator:      fs.Separator,
			}
			if field.Separator == 0 {
				field.Separator = '|'
			}

			switch fs.Type {
			case TypeString:
				if fs.FullTextSearch {
					field.Kind = KindText
				} else {
					field.Kind = KindTag
				}
			case TypeInt, TypeFloat, TypeDecimal, TypeDateTime, TypeDate:
				field.Kind = KindNumeric
			case TypeBool:
				if out.Layout == Document {
					field.Kind = KindNumeric
				} else {
					field.Kind = KindTag
				}
			case TypeGeo:
				field.Kind = KindGeo
			case TypeVector:
				if fs.Vector == nil {
					return &SchemaError{Record: rs.Name, Field: fs.Name, Err: fmt.Errorf("%w: vector field requires WithVector options", ErrE4)}
				}
				if err := fs.Vector.validate(); err != nil {
					return &SchemaError{Record: rs.Name, Field: fs.Name, Err: err}
				}
				field.Kind = KindVector
				v := *fs.Vector
				field.Vector = &v
			case TypeList:
				if fs.ElementType == nil || *fs.ElementType != TypeString {
					return &SchemaError{Record: rs.Name, Field: fs.Name, Err: ErrE12}
				}
				if fs.FullTextSearch {
					return &SchemaError{Record: rs.Name, Field: fs.Name, Err: ErrE13}
				}
				field.Kind = KindTag
				field.IsList = true
			default:
				return &SchemaError{Record: rs.Name, Field: fs.Name, Err: fmt.Errorf("%w: unsupported declared type", ErrE4)}
			}

			out.Fields = append(out.Fields, field)
		}
		return nil
	}

	if err := walk(nil, rs.Fields); err != nil {
		return nil, err
	}
	if !pkSeen {
		return nil, &SchemaError{Record: rs.Name, Err: ErrMissingPrimaryKey}
	}
	for i := range out.Fields {
		out.byName[out.Fields[i].Name] = &out.Fields[i]
	}
	return out, nil
}

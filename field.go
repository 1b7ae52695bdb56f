package redisom

// IndexState is the tri-state `index` option of spec.md §3.1: inherit the
// record-level default, or explicitly include/exclude this field.
type IndexState int

const (
	IndexInherit IndexState = iota
	IndexInclude
	IndexExclude
)

// FieldSpec is the declared shape of one record field plus its index
// options, the Go stand-in for the source's reflected/metaclass field
// descriptor (spec.md §9 "explicit registration"). Record types build a
// []FieldSpec up front and pass it to Compile.
type FieldSpec struct {
	Name    string
	Type    DeclaredType
	Default any

	Index          IndexState
	Sortable       bool
	FullTextSearch bool
	CaseSensitive  bool
	Separator      byte
	PrimaryKey     bool

	// Vector holds VECTOR index parameters; only meaningful when
	// Type == TypeVector.
	Vector *VectorOptions

	// ElementType is the element type of a TypeList field; spec.md §3.3
	// requires it to be TypeString (E12 otherwise).
	ElementType *DeclaredType

	// Embedded holds the nested record's own field list when
	// Type == TypeEmbedded; spec.md §4.3 step 3 recurses into it.
	Embedded []FieldSpec
}

// FieldOption mutates a FieldSpec being built. Go has no overloadable
// operators, so field configuration is expressed as explicit functional
// options applied by the *Field constructors below (spec.md §9).
type FieldOption func(*FieldSpec)

// Indexed explicitly includes this field in the index, overriding a
// record-level index=false default.
func Indexed() FieldOption { return func(f *FieldSpec) { f.Index = IndexInclude } }

// Excluded explicitly excludes this field from the index, overriding a
// record-level index=true default.
func Excluded() FieldOption { return func(f *FieldSpec) { f.Index = IndexExclude } }

// Sortable marks the field as stored in the index's sortable column.
func Sortable() FieldOption { return func(f *FieldSpec) { f.Sortable = true } }

// FullText marks a string field for tokenized/stemmed matching instead of
// exact TAG matching.
func FullText() FieldOption { return func(f *FieldSpec) { f.FullTextSearch = true } }

// CaseSensitive preserves case during TAG indexing.
func CaseSensitive() FieldOption { return func(f *FieldSpec) { f.CaseSensitive = true } }

// SeparatorChar sets the character used to split a TAG/list field's values;
// default is '|' per spec.md §3.1.
func SeparatorChar(c byte) FieldOption { return func(f *FieldSpec) { f.Separator = c } }

// PrimaryKey marks this field as the record's primary key. Only one field
// per record type may carry this option.
func PrimaryKey() FieldOption { return func(f *FieldSpec) { f.PrimaryKey = true } }

// WithVector attaches VECTOR index parameters; only meaningful on a
// VectorField.
func WithVector(opts VectorOptions) FieldOption {
	return func(f *FieldSpec) { f.Vector = &opts }
}

func build(name string, t DeclaredType, opts []FieldOption) FieldSpec {
	f := FieldSpec{Name: name, Type: t, Separator: '|'}
	for _, opt := range opts {
		opt(&f)
	}
	return f
}

// StringField declares a string-typed field. Default kind is TAG; pass
// FullText() for stemmed full-text matching.
func StringField(name string, opts ...FieldOption) FieldSpec { return build(name, TypeString, opts) }

// IntField declares an integer-typed field (NUMERIC).
func IntField(name string, opts ...FieldOption) FieldSpec { return build(name, TypeInt, opts) }

// FloatField declares a float-typed field (NUMERIC).
func FloatField(name string, opts ...FieldOption) FieldSpec { return build(name, TypeFloat, opts) }

// DecimalField declares a fixed-point decimal field (NUMERIC).
func DecimalField(name string, opts ...FieldOption) FieldSpec {
	return build(name, TypeDecimal, opts)
}

// DateTimeField declares a timezone-aware timestamp field, encoded as
// seconds-since-epoch and indexed NUMERIC per spec.md §3.4.
func DateTimeField(name string, opts ...FieldOption) FieldSpec {
	return build(name, TypeDateTime, opts)
}

// DateField declares a date-only field, encoded as the UTC-midnight
// timestamp of that date and indexed NUMERIC.
func DateField(name string, opts ...FieldOption) FieldSpec { return build(name, TypeDate, opts) }

// BoolField declares a boolean field: TAG in a flat record, NUMERIC (0/1)
// in a document record, per spec.md §3.3.
func BoolField(name string, opts ...FieldOption) FieldSpec { return build(name, TypeBool, opts) }

// GeoField declares a "lat,lon" geographic point field (GEO).
func GeoField(name string, opts ...FieldOption) FieldSpec { return build(name, TypeGeo, opts) }

// VectorField declares a byte-packed vector field (VECTOR); requires
// WithVector among opts.
func VectorField(name string, opts ...FieldOption) FieldSpec { return build(name, TypeVector, opts) }

// StringListField declares a homogeneous list/tuple-of-string field,
// indexed as TAG with Separator; full-text search is forbidden on it
// (E13) and a non-string element type is rejected at schema-compile time
// (E12, not reachable from this constructor but enforced generically by
// Compile for programmatically-built specs).
func StringListField(name string, opts ...FieldOption) FieldSpec {
	f := build(name, TypeList, opts)
	str := TypeString
	f.ElementType = &str
	return f
}

// EmbeddedField declares a nested embedded-record field (document layout
// only); its own indexable fields are unfolded into the parent schema by
// Compile, per spec.md §4.3 step 3.
func EmbeddedField(name string, fields []FieldSpec, opts ...FieldOption) FieldSpec {
	f := build(name, TypeEmbedded, opts)
	f.Embedded = fields
	return f
}

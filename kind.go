package redisom

import "fmt"

// FieldKind is the index-field kind the schema compiler lowers a declared
// record field to, per spec.md §3.3.
type FieldKind int

const (
	KindTag FieldKind = iota
	KindText
	KindNumeric
	KindGeo
	KindVector
)

func (k FieldKind) String() string {
	switch k {
	case KindTag:
		return "TAG"
	case KindText:
		return "TEXT"
	case KindNumeric:
		return "NUMERIC"
	case KindGeo:
		return "GEO"
	case KindVector:
		return "VECTOR"
	default:
		return "UNKNOWN"
	}
}

// DeclaredType is the record field's declared scalar/compound type, the
// input to the kind-mapping table in spec.md §3.3.
type DeclaredType int

const (
	TypeString DeclaredType = iota
	TypeInt
	TypeFloat
	TypeDecimal
	TypeDateTime
	TypeDate
	TypeBool
	TypeGeo
	TypeVector
	TypeList
	TypeEmbedded
)

// VectorAlgorithm selects the server-side vector index algorithm.
type VectorAlgorithm string

const (
	VectorFlat VectorAlgorithm = "FLAT"
	VectorHNSW VectorAlgorithm = "HNSW"
)

// VectorDType is the packed element type of a vector field.
type VectorDType string

const (
	VectorFloat32 VectorDType = "FLOAT32"
	VectorFloat64 VectorDType = "FLOAT64"
)

// VectorMetric is the distance metric used for KNN similarity, per
// spec.md §3.1.
type VectorMetric string

const (
	MetricCosine VectorMetric = "COSINE"
	MetricL2     VectorMetric = "L2"
	MetricIP     VectorMetric = "IP"
)

// VectorOptions holds the vector index parameters of spec.md §3.1: a
// required common set (Algorithm, DType, Dimension, Metric) plus
// algorithm-specific knobs. FLAT honors InitialCap/BlockSize; HNSW honors
// M/EfConstruction/EfRuntime/Epsilon.
type VectorOptions struct {
	Algorithm VectorAlgorithm
	DType     VectorDType
	Dimension int
	Metric    VectorMetric

	// FLAT-specific.
	InitialCap int
	BlockSize  int

	// HNSW-specific.
	M              int
	EfConstruction int
	EfRuntime      int
	Epsilon        float64
}

func (v VectorOptions) validate() error {
	if v.Dimension < 1 {
		return fmt.Errorf("%w: vector dimension must be >= 1", ErrE4)
	}
	switch v.Algorithm {
	case VectorFlat, VectorHNSW:
	default:
		return fmt.Errorf("%w: unsupported vector algorithm %q", ErrE4, v.Algorithm)
	}
	switch v.DType {
	case VectorFloat32, VectorFloat64:
	default:
		return fmt.Errorf("%w: unsupported vector dtype %q", ErrE4, v.DType)
	}
	switch v.Metric {
	case MetricCosine, MetricL2, MetricIP:
	default:
		return fmt.Errorf("%w: unsupported vector metric %q", ErrE4, v.Metric)
	}
	return nil
}

// GeoPoint is a "lat,lon" geographic point value, per spec.md §3.3.
type GeoPoint struct {
	Lat float64
	Lon float64
}

// String renders the server's "lon,lat" wire format for GEO fields.
func (p GeoPoint) String() string {
	return fmt.Sprintf("%g,%g", p.Lon, p.Lat)
}

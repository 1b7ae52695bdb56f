package redisom

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// EncodeHash encodes rec (a struct value or pointer to one) into the flat
// string map a Hash-backed record is stored as, per spec.md §4.2. fields
// must be the record type's *complete* declared field list (not just the
// indexed subset C3 compiles) — every stored field participates in
// encoding regardless of whether it is part of the secondary index.
func EncodeHash(fields []FieldSpec, rec any) (map[string]string, error) {
	v := indirect(reflect.ValueOf(rec))
	tree, err := encodeTree(fields, v, true)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(tree))
	for k, val := range tree {
		s, ok := val.(string)
		if !ok {
			return nil, fmt.Errorf("redisom: internal error encoding %q to hash: got %T", k, val)
		}
		out[k] = s
	}
	return out, nil
}

// DecodeHash decodes a Hash record's flat string map into out (a pointer to
// a struct), tolerating the dual datetime encodings of spec.md §3.4.
func DecodeHash(fields []FieldSpec, data map[string]string, out any) error {
	v := indirect(reflect.ValueOf(out))
	for _, fs := range fields {
		raw, present := data[fs.Name]
		if !present {
			continue
		}
		if err := setField(v, fs, raw); err != nil {
			return err
		}
	}
	return nil
}

// EncodeJSON encodes rec into the single native JSON value a Document-backed
// record is stored as, per spec.md §4.2.
func EncodeJSON(fields []FieldSpec, rec any) ([]byte, error) {
	v := indirect(reflect.ValueOf(rec))
	tree, err := encodeTree(fields, v, false)
	if err != nil {
		return nil, err
	}
	return json.Marshal(tree)
}

// DecodeJSON decodes a Document record's JSON value into out (a pointer to
// a struct), tolerating the dual datetime encodings of spec.md §3.4.
func DecodeJSON(fields []FieldSpec, data []byte, out any) error {
	var tree map[string]any
	if err := json.Unmarshal(data, &tree); err != nil {
		return fmt.Errorf("redisom: decoding document: %w", err)
	}
	v := indirect(reflect.ValueOf(out))
	return decodeJSONTree(fields, tree, v)
}

func indirect(v reflect.Value) reflect.Value {
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			v.Set(reflect.New(v.Type().Elem()))
		}
		v = v.Elem()
	}
	return v
}

// structFieldByTag finds the struct field whose `json` tag name (falling
// back to the bare field name) matches name, mirroring the tag lookup the
// teacher's parseSearchResults performs in redisearch.go.
func structFieldByTag(t reflect.Type, name string) (int, bool) {
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		key := sf.Name
		if tag := sf.Tag.Get("json"); tag != "" {
			if parts := strings.Split(tag, ","); parts[0] != "" {
				key = parts[0]
			}
		}
		if key == name {
			return i, true
		}
	}
	return 0, false
}

func encodeTree(fields []FieldSpec, v reflect.Value, hashMode bool) (map[string]any, error) {
	tree := make(map[string]any, len(fields))
	t := v.Type()
	for _, fs := range fields {
		idx, ok := structFieldByTag(t, fs.Name)
		if !ok {
			continue
		}
		fv := v.Field(idx)
		if fv.Kind() == reflect.Ptr {
			if fv.IsNil() {
				continue // nulls are elided, per spec.md §4.2
			}
			fv = fv.Elem()
		}

		val, err := encodeLeaf(fs, fv, hashMode)
		if err != nil {
			return nil, err
		}
		if val == nil {
			continue
		}
		tree[fs.Name] = val
	}
	return tree, nil
}

func encodeLeaf(fs FieldSpec, fv reflect.Value, hashMode bool) (any, error) {
	switch fs.Type {
	case TypeEmbedded:
		if hashMode {
			return nil, &SchemaError{Field: fs.Name, Err: fmt.Errorf("%w: embedded fields require document storage", ErrE4)}
		}
		sub, err := encodeTree(fs.Embedded, fv, hashMode)
		if err != nil {
			return nil, err
		}
		return sub, nil

	case TypeString:
		s := fv.String()
		if strings.IndexByte(s, fs.Separator) >= 0 {
			return nil, &SchemaError{Field: fs.Name, Err: fmt.Errorf("%w: value contains the forbidden separator %q", ErrE4, fs.Separator)}
		}
		return s, nil

	case TypeList:
		strs, err := toStringSlice(fv)
		if err != nil {
			return nil, &SchemaError{Field: fs.Name, Err: err}
		}
		for _, s := range strs {
			if strings.IndexByte(s, fs.Separator) >= 0 {
				return nil, &SchemaError{Field: fs.Name, Err: fmt.Errorf("%w: list element contains the forbidden separator %q", ErrE4, fs.Separator)}
			}
		}
		if hashMode {
			return strings.Join(strs, string(fs.Separator)), nil
		}
		return strs, nil

	case TypeBool:
		b := fv.Bool()
		if hashMode {
			if b {
				return "1", nil
			}
			return "0", nil
		}
		return b, nil

	case TypeInt:
		i := fv.Int()
		if hashMode {
			return strconv.FormatInt(i, 10), nil
		}
		return i, nil

	case TypeFloat, TypeDecimal:
		f := fv.Float()
		if hashMode {
			return strconv.FormatFloat(f, 'f', -1, 64), nil
		}
		return f, nil

	case TypeDateTime, TypeDate:
		t, ok := fv.Interface().(time.Time)
		if !ok {
			return nil, &SchemaError{Field: fs.Name, Err: fmt.Errorf("%w: field must be time.Time", ErrE4)}
		}
		seconds := encodeEpochSeconds(fs.Type, t)
		if hashMode {
			return strconv.FormatFloat(seconds, 'f', -1, 64), nil
		}
		return seconds, nil

	case TypeGeo:
		p, ok := fv.Interface().(GeoPoint)
		if !ok {
			return nil, &SchemaError{Field: fs.Name, Err: fmt.Errorf("%w: field must be GeoPoint", ErrE4)}
		}
		return p.String(), nil

	case TypeVector:
		raw, err := packVector(fs, fv.Interface())
		if err != nil {
			return nil, &SchemaError{Field: fs.Name, Err: err}
		}
		if hashMode {
			return string(raw), nil
		}
		return base64.StdEncoding.EncodeToString(raw), nil

	default:
		return nil, &SchemaError{Field: fs.Name, Err: fmt.Errorf("%w: unsupported declared type", ErrE4)}
	}
}

func encodeEpochSeconds(t DeclaredType, v time.Time) float64 {
	if t == TypeDate {
		v = time.Date(v.Year(), v.Month(), v.Day(), 0, 0, 0, 0, time.UTC)
		return float64(v.Unix())
	}
	return float64(v.UnixNano()) / 1e9
}

func toStringSlice(fv reflect.Value) ([]string, error) {
	if fv.Kind() != reflect.Slice && fv.Kind() != reflect.Array {
		return nil, fmt.Errorf("%w: field must be []string", ErrE12)
	}
	out := make([]string, fv.Len())
	for i := range out {
		ev := fv.Index(i)
		if ev.Kind() != reflect.String {
			return nil, ErrE12
		}
		out[i] = ev.String()
	}
	return out, nil
}

func packVector(fs FieldSpec, v any) ([]byte, error) {
	dtype := VectorFloat32
	if fs.Vector != nil {
		dtype = fs.Vector.DType
	}
	switch xs := v.(type) {
	case []float32:
		return packFloat32(xs), nil
	case []float64:
		if dtype == VectorFloat64 {
			return packFloat64(xs), nil
		}
		f32 := make([]float32, len(xs))
		for i, x := range xs {
			f32[i] = float32(x)
		}
		return packFloat32(f32), nil
	default:
		return nil, fmt.Errorf("%w: vector field must be []float32 or []float64", ErrE4)
	}
}

func packFloat32(xs []float32) []byte {
	buf := make([]byte, 4*len(xs))
	for i, x := range xs {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(x))
	}
	return buf
}

func packFloat64(xs []float64) []byte {
	buf := make([]byte, 8*len(xs))
	for i, x := range xs {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(x))
	}
	return buf
}

func unpackVector(raw []byte, dtype VectorDType) ([]float32, []float64, error) {
	switch dtype {
	case VectorFloat64:
		if len(raw)%8 != 0 {
			return nil, nil, fmt.Errorf("redisom: vector byte length %d not a multiple of 8", len(raw))
		}
		out := make([]float64, len(raw)/8)
		for i := range out {
			out[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[i*8:]))
		}
		return nil, out, nil
	default:
		if len(raw)%4 != 0 {
			return nil, nil, fmt.Errorf("redisom: vector byte length %d not a multiple of 4", len(raw))
		}
		out := make([]float32, len(raw)/4)
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}
		return out, nil, nil
	}
}

// setField decodes one Hash-encoded string value into the matching struct
// field of v, per fs's declared type.
func setField(v reflect.Value, fs FieldSpec, raw string) error {
	idx, ok := structFieldByTag(v.Type(), fs.Name)
	if !ok {
		return nil
	}
	fv := v.Field(idx)
	target := fv
	if target.Kind() == reflect.Ptr {
		if target.IsNil() {
			target.Set(reflect.New(target.Type().Elem()))
		}
		target = target.Elem()
	}

	switch fs.Type {
	case TypeString:
		target.SetString(raw)
	case TypeList:
		parts := strings.Split(raw, string(fs.Separator))
		if raw == "" {
			parts = nil
		}
		target.Set(reflect.ValueOf(parts))
	case TypeBool:
		target.SetBool(raw == "1" || raw == "true")
	case TypeInt:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("redisom: decoding %q as int: %w", fs.Name, err)
		}
		target.SetInt(n)
	case TypeFloat, TypeDecimal:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("redisom: decoding %q as float: %w", fs.Name, err)
		}
		target.SetFloat(f)
	case TypeDateTime, TypeDate:
		t, err := decodeTimeTolerant(raw)
		if err != nil {
			return fmt.Errorf("redisom: decoding %q as datetime: %w", fs.Name, err)
		}
		target.Set(reflect.ValueOf(t))
	case TypeGeo:
		p, err := parseGeoPoint(raw)
		if err != nil {
			return fmt.Errorf("redisom: decoding %q as geo point: %w", fs.Name, err)
		}
		target.Set(reflect.ValueOf(p))
	case TypeVector:
		dtype := VectorFloat32
		if fs.Vector != nil {
			dtype = fs.Vector.DType
		}
		f32, f64, err := unpackVector([]byte(raw), dtype)
		if err != nil {
			return err
		}
		if f64 != nil {
			target.Set(reflect.ValueOf(f64))
		} else {
			target.Set(reflect.ValueOf(f32))
		}
	default:
		return fmt.Errorf("%w: unsupported declared type for %q", ErrE4, fs.Name)
	}
	return nil
}

// decodeTimeTolerant accepts either a decimal seconds-since-epoch string or
// a legacy ISO-8601 string, per spec.md §3.4/§4.2.
func decodeTimeTolerant(raw string) (time.Time, error) {
	if seconds, err := strconv.ParseFloat(raw, 64); err == nil {
		whole := int64(seconds)
		frac := seconds - float64(whole)
		return time.Unix(whole, int64(frac*1e9)).UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("value %q is neither numeric seconds nor ISO-8601", raw)
}

func parseGeoPoint(raw string) (GeoPoint, error) {
	parts := strings.SplitN(raw, ",", 2)
	if len(parts) != 2 {
		return GeoPoint{}, fmt.Errorf("expected \"lon,lat\", got %q", raw)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return GeoPoint{}, err
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return GeoPoint{}, err
	}
	return GeoPoint{Lat: lat, Lon: lon}, nil
}

func decodeJSONTree(fields []FieldSpec, tree map[string]any, v reflect.Value) error {
	t := v.Type()
	for _, fs := range fields {
		raw, present := tree[fs.Name]
		if !present || raw == nil {
			continue
		}
		idx, ok := structFieldByTag(t, fs.Name)
		if !ok {
			continue
		}
		fv := v.Field(idx)
		target := fv
		if target.Kind() == reflect.Ptr {
			if target.IsNil() {
				target.Set(reflect.New(target.Type().Elem()))
			}
			target = target.Elem()
		}

		if err := setJSONLeaf(fs, raw, target); err != nil {
			return err
		}
	}
	return nil
}

func setJSONLeaf(fs FieldSpec, raw any, target reflect.Value) error {
	switch fs.Type {
	case TypeEmbedded:
		sub, ok := raw.(map[string]any)
		if !ok {
			return fmt.Errorf("redisom: field %q expected a JSON object", fs.Name)
		}
		return decodeJSONTree(fs.Embedded, sub, target)

	case TypeString:
		s, _ := raw.(string)
		target.SetString(s)

	case TypeList:
		arr, ok := raw.([]any)
		if !ok {
			return fmt.Errorf("redisom: field %q expected a JSON array", fs.Name)
		}
		strs := make([]string, len(arr))
		for i, e := range arr {
			s, ok := e.(string)
			if !ok {
				return ErrE12
			}
			strs[i] = s
		}
		target.Set(reflect.ValueOf(strs))

	case TypeBool:
		switch x := raw.(type) {
		case bool:
			target.SetBool(x)
		case float64:
			target.SetBool(x != 0)
		}

	case TypeInt:
		f, ok := raw.(float64)
		if !ok {
			return fmt.Errorf("redisom: field %q expected a JSON number", fs.Name)
		}
		target.SetInt(int64(f))

	case TypeFloat, TypeDecimal:
		f, ok := raw.(float64)
		if !ok {
			return fmt.Errorf("redisom: field %q expected a JSON number", fs.Name)
		}
		target.SetFloat(f)

	case TypeDateTime, TypeDate:
		var t time.Time
		switch x := raw.(type) {
		case float64:
			whole := int64(x)
			frac := x - float64(whole)
			t = time.Unix(whole, int64(frac*1e9)).UTC()
		case string:
			parsed, err := time.Parse(time.RFC3339Nano, x)
			if err != nil {
				return fmt.Errorf("redisom: field %q: %w", fs.Name, err)
			}
			t = parsed.UTC()
		default:
			return fmt.Errorf("redisom: field %q has unsupported datetime encoding %T", fs.Name, raw)
		}
		target.Set(reflect.ValueOf(t))

	case TypeGeo:
		s, ok := raw.(string)
		if !ok {
			return fmt.Errorf("redisom: field %q expected a string geo point", fs.Name)
		}
		p, err := parseGeoPoint(s)
		if err != nil {
			return err
		}
		target.Set(reflect.ValueOf(p))

	case TypeVector:
		s, ok := raw.(string)
		if !ok {
			return fmt.Errorf("redisom: field %q expected a base64 string", fs.Name)
		}
		bin, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return err
		}
		dtype := VectorFloat32
		if fs.Vector != nil {
			dtype = fs.Vector.DType
		}
		f32, f64, err := unpackVector(bin, dtype)
		if err != nil {
			return err
		}
		if f64 != nil {
			target.Set(reflect.ValueOf(f64))
		} else {
			target.Set(reflect.ValueOf(f32))
		}

	default:
		return fmt.Errorf("%w: unsupported declared type for %q", ErrE4, fs.Name)
	}
	return nil
}

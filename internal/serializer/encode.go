package serializer

import (
	"encoding/json"
	"fmt"
	"math/big"
	"reflect"
	"strings"
	"time"
)

var (
	bigIntType  = reflect.TypeOf(big.Int{})
	timeType    = reflect.TypeOf(time.Time{})
	numberType  = reflect.TypeOf(json.Number(""))
	rawJSONType = reflect.TypeOf(json.RawMessage(nil))
)

// encode converts v into a JSON-compatible tree with tagged big integers
// and timestamps. Struct fields follow encoding/json tag rules.
func encode(v any) (any, error) {
	return encodeValue(reflect.ValueOf(v))
}

func encodeValue(v reflect.Value) (any, error) {
	if !v.IsValid() {
		return nil, nil
	}

	switch v.Kind() {
	case reflect.Interface:
		if v.IsNil() {
			return nil, nil
		}
		return encodeValue(v.Elem())
	case reflect.Pointer:
		if v.IsNil() {
			return nil, nil
		}
		if v.Type().Elem() == bigIntType {
			return tagBigInt(v.Interface().(*big.Int)), nil
		}
		return encodeValue(v.Elem())
	}

	switch v.Type() {
	case bigIntType:
		n := v.Interface().(big.Int)
		return tagBigInt(&n), nil
	case timeType:
		return map[string]any{dateTag: FormatTime(v.Interface().(time.Time))}, nil
	case numberType:
		return v.Interface(), nil
	case rawJSONType:
		return v.Interface(), nil
	}

	switch v.Kind() {
	case reflect.Struct:
		return encodeStruct(v)
	case reflect.Map:
		return encodeMap(v)
	case reflect.Slice:
		if v.IsNil() {
			return nil, nil
		}
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return v.Interface(), nil
		}
		return encodeList(v)
	case reflect.Array:
		return encodeList(v)
	case reflect.Bool:
		return v.Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return v.Uint(), nil
	case reflect.Float32, reflect.Float64:
		return v.Float(), nil
	case reflect.String:
		return v.String(), nil
	default:
		return nil, fmt.Errorf("serializer: unsupported type %s", v.Type())
	}
}

func tagBigInt(n *big.Int) map[string]any {
	return map[string]any{bigIntTag: n.String()}
}

func encodeList(v reflect.Value) (any, error) {
	out := make([]any, v.Len())
	for i := 0; i < v.Len(); i++ {
		item, err := encodeValue(v.Index(i))
		if err != nil {
			return nil, fmt.Errorf("[%d]: %w", i, err)
		}
		out[i] = item
	}
	return out, nil
}

func encodeMap(v reflect.Value) (any, error) {
	if v.IsNil() {
		return nil, nil
	}
	if v.Type().Key().Kind() != reflect.String {
		return nil, fmt.Errorf("serializer: unsupported map key type %s", v.Type().Key())
	}
	out := make(map[string]any, v.Len())
	iter := v.MapRange()
	for iter.Next() {
		key := iter.Key().String()
		item, err := encodeValue(iter.Value())
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		out[key] = item
	}
	return out, nil
}

func encodeStruct(v reflect.Value) (any, error) {
	out := make(map[string]any, v.NumField())
	if err := encodeFields(v, out); err != nil {
		return nil, err
	}
	return out, nil
}

func encodeFields(v reflect.Value, out map[string]any) error {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		name, omitEmpty, skip := parseTag(field)
		if skip {
			continue
		}

		fv := v.Field(i)
		if field.Anonymous && name == "" {
			inner := fv
			if inner.Kind() == reflect.Pointer {
				if inner.IsNil() {
					continue
				}
				inner = inner.Elem()
			}
			if inner.Kind() == reflect.Struct && inner.Type() != timeType && inner.Type() != bigIntType {
				if err := encodeFields(inner, out); err != nil {
					return err
				}
				continue
			}
		}
		if !field.IsExported() {
			continue
		}
		if name == "" {
			name = field.Name
		}
		if omitEmpty && isEmptyValue(fv) {
			continue
		}

		item, err := encodeValue(fv)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		out[name] = item
	}
	return nil
}

func parseTag(field reflect.StructField) (name string, omitEmpty, skip bool) {
	tag, ok := field.Tag.Lookup("json")
	if !ok {
		return "", false, false
	}
	if tag == "-" {
		return "", false, true
	}
	parts := strings.Split(tag, ",")
	for _, opt := range parts[1:] {
		if opt == "omitempty" {
			omitEmpty = true
		}
	}
	return parts[0], omitEmpty, false
}

func isEmptyValue(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Array, reflect.Map, reflect.Slice, reflect.String:
		return v.Len() == 0
	case reflect.Bool:
		return !v.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int() == 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return v.Uint() == 0
	case reflect.Float32, reflect.Float64:
		return v.Float() == 0
	case reflect.Interface, reflect.Pointer:
		return v.IsNil()
	}
	return false
}

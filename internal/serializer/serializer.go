// Package serializer encodes values holding arbitrary-precision integers and
// timestamps into JSON text and restores them exactly.
//
// Big integers and timestamps are written as single-key tagged objects:
//
//	{"$bigint": "123456789012345678901234"}
//	{"$date": "2024-10-27T09:15:00.000Z"}
//
// Payloads from an older schema (or with no schema tag) are decoded with the
// legacy heuristics: a string of 15 or more decimal digits becomes *big.Int and
// a string matching YYYY-MM-DDTHH:mm:ss(.sss)?Z becomes time.Time. The digit
// heuristic cannot tell a legitimate numeric-looking string from an integer,
// which is why current payloads are tagged.
package serializer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/big"
	"regexp"
	"time"
)

const (
	// SchemaVersion tags every payload written by this package.
	SchemaVersion = "v2.0.0"

	// LegacySchemaVersion is the untagged heuristic format.
	LegacySchemaVersion = "v1.0.0"

	versionField = "__version"
	valueField   = "__value"
	bigIntTag    = "$bigint"
	dateTag      = "$date"

	// bigIntMinDigits is the legacy threshold for digit-only strings.
	bigIntMinDigits = 15

	timeLayout = "2006-01-02T15:04:05.000Z"
)

var (
	legacyBigIntPattern = regexp.MustCompile(fmt.Sprintf(`^-?\d{%d,}$`, bigIntMinDigits))
	isoPattern          = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(\.\d{3})?Z$`)
	digitsPattern       = regexp.MustCompile(`^-?\d+$`)
)

// ErrMalformed is returned when a tagged value cannot be decoded.
var ErrMalformed = errors.New("malformed serialized value")

// Codec serializes and deserializes values for one schema version.
type Codec struct {
	version string
	logger  *log.Logger
}

// New creates a Codec writing SchemaVersion. A nil logger uses log.Default().
func New(logger *log.Logger) *Codec {
	if logger == nil {
		logger = log.Default()
	}
	return &Codec{version: SchemaVersion, logger: logger}
}

var std = New(nil)

// Serialize encodes v with the default codec.
func Serialize(v any) ([]byte, error) { return std.Serialize(v) }

// Deserialize decodes data with the default codec.
func Deserialize(data []byte) (any, error) { return std.Deserialize(data) }

// DeserializeInto decodes data into out with the default codec.
func DeserializeInto(data []byte, out any) error { return std.DeserializeInto(data, out) }

// Serialize walks v, replaces big integers and timestamps with tagged
// objects and wraps the result with the schema version.
func (c *Codec) Serialize(v any) ([]byte, error) {
	tree, err := encode(v)
	if err != nil {
		return nil, err
	}

	var root map[string]any
	if obj, ok := tree.(map[string]any); ok {
		root = make(map[string]any, len(obj)+1)
		for k, val := range obj {
			root[k] = val
		}
	} else {
		root = map[string]any{valueField: tree}
	}
	root[versionField] = c.version

	data, err := json.Marshal(root)
	if err != nil {
		return nil, fmt.Errorf("marshal serialized value: %w", err)
	}
	return data, nil
}

// Deserialize parses data into a dynamic tree of map[string]any, []any,
// *big.Int, time.Time, json.Number, string, bool and nil.
// A schema version mismatch is logged and decoding continues.
func (c *Codec) Deserialize(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("unmarshal serialized value: %w", err)
	}

	legacy := true
	if obj, ok := raw.(map[string]any); ok {
		version, _ := obj[versionField].(string)
		switch {
		case version == c.version:
			legacy = false
		case version == "":
			c.logger.Printf("serializer: payload has no schema version, expected %s", c.version)
		default:
			c.logger.Printf("serializer: schema version mismatch: got %s, expected %s", version, c.version)
		}
		delete(obj, versionField)
		if inner, ok := obj[valueField]; ok && len(obj) == 1 {
			raw = inner
		}
	}

	return restore(raw, legacy)
}

// DeserializeInto decodes data into the value pointed to by out.
// Fields typed *big.Int and time.Time receive their exact values.
func (c *Codec) DeserializeInto(data []byte, out any) error {
	tree, err := c.Deserialize(data)
	if err != nil {
		return err
	}
	// *big.Int marshals as a JSON number and time.Time as RFC 3339, both of
	// which encoding/json restores into typed fields.
	intermediate, err := json.Marshal(tree)
	if err != nil {
		return fmt.Errorf("re-encode restored value: %w", err)
	}
	if err := json.Unmarshal(intermediate, out); err != nil {
		return fmt.Errorf("decode into %T: %w", out, err)
	}
	return nil
}

// Version returns the schema version tag of data, or "" if none.
func Version(data []byte) string {
	var head struct {
		Version string `json:"__version"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return ""
	}
	return head.Version
}

func restore(v any, legacy bool) (any, error) {
	switch val := v.(type) {
	case map[string]any:
		if len(val) == 1 {
			if s, ok := val[bigIntTag].(string); ok {
				return parseBigInt(s)
			}
			if s, ok := val[dateTag].(string); ok {
				return parseTime(s)
			}
		}
		for k, item := range val {
			restored, err := restore(item, legacy)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			val[k] = restored
		}
		return val, nil
	case []any:
		for i, item := range val {
			restored, err := restore(item, legacy)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			val[i] = restored
		}
		return val, nil
	case string:
		if !legacy {
			return val, nil
		}
		if legacyBigIntPattern.MatchString(val) {
			return parseBigInt(val)
		}
		if isoPattern.MatchString(val) {
			if t, err := parseTime(val); err == nil {
				return t, nil
			}
		}
		return val, nil
	default:
		return v, nil
	}
}

func parseBigInt(s string) (*big.Int, error) {
	if !digitsPattern.MatchString(s) {
		return nil, fmt.Errorf("%w: bigint %q", ErrMalformed, s)
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("%w: bigint %q", ErrMalformed, s)
	}
	return n, nil
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q", ErrMalformed, s)
	}
	return t.UTC(), nil
}

// FormatTime renders t the way the serializer writes timestamps.
func FormatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

package extract

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Coercion is the closed set of value types a field can be cast to.
type Coercion int

// Supported coercions. CoerceNone keeps extracted strings.
const (
	CoerceNone Coercion = iota
	CoerceInteger
	CoerceFloat
	CoerceJSON
	CoerceBoolean
)

var coercionNames = map[string]Coercion{
	"integer": CoerceInteger,
	"float":   CoerceFloat,
	"json":    CoerceJSON,
	"boolean": CoerceBoolean,
}

// ParseCoercion maps a configured type name onto a Coercion.
func ParseCoercion(name string) (Coercion, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return CoerceNone, nil
	}
	c, ok := coercionNames[name]
	if !ok {
		return CoerceNone, fmt.Errorf("unknown type %q", name)
	}
	return c, nil
}

func (c Coercion) String() string {
	for name, v := range coercionNames {
		if v == c {
			return name
		}
	}
	return "none"
}

var (
	integerPrefix = regexp.MustCompile(`^[+-]?\d+`)
	floatPrefix   = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?`)
	falsyBooleans = map[string]struct{}{"false": {}, "0": {}, "no": {}, "": {}}
)

type coerceFunc func(string) (any, error)

var coercers = map[Coercion]coerceFunc{
	CoerceNone:    func(s string) (any, error) { return s, nil },
	CoerceInteger: toInteger,
	CoerceFloat:   toFloat,
	CoerceJSON:    toJSON,
	CoerceBoolean: toBoolean,
}

// Apply casts one extracted value.
func (c Coercion) Apply(value string) (any, error) {
	fn, ok := coercers[c]
	if !ok {
		return nil, fmt.Errorf("unknown coercion %d", int(c))
	}
	return fn(value)
}

// toInteger parses the leading integer of value. Unparsable input yields nil.
func toInteger(value string) (any, error) {
	digits := integerPrefix.FindString(strings.TrimSpace(value))
	if digits == "" {
		return nil, nil
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return nil, nil //nolint:nilerr // out of range behaves like unparsable
	}
	return n, nil
}

// toFloat parses the leading decimal number of value. Unparsable input yields nil.
func toFloat(value string) (any, error) {
	num := floatPrefix.FindString(strings.TrimSpace(value))
	if num == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return nil, nil //nolint:nilerr // out of range behaves like unparsable
	}
	return f, nil
}

func toJSON(value string) (any, error) {
	var out any
	if err := json.Unmarshal([]byte(value), &out); err != nil {
		return nil, fmt.Errorf("invalid json: %w", err)
	}
	return out, nil
}

func toBoolean(value string) (any, error) {
	_, falsy := falsyBooleans[value]
	return !falsy, nil
}

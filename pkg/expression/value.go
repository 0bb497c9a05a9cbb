package expression

import (
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/spf13/cast"
)

type undefined struct{}

// Undefined is the value of a path that does not exist. It is distinct from a JSON null (nil).
var Undefined any = undefined{}

// IsUndefined reports whether v is the Undefined value.
func IsUndefined(v any) bool {
	_, ok := v.(undefined)

	return ok
}

// ParseLiteral converts a non-token field into its literal value: "true"/"false" become booleans, strings
// whose canonical number form equals the input become numbers, anything else is returned unchanged.
func ParseLiteral(s string) any {
	switch s {
	case "true":
		return true
	case "false":
		return false
	}

	n := ToNumber(s)
	if FormatNumber(n) == s {
		return n
	}

	return s
}

// ToNumber coerces v to a float64 the way numeric comparison expects. Non-numeric input yields NaN.
func ToNumber(v any) float64 {
	switch value := v.(type) {
	case nil:
		return 0
	case undefined:
		return math.NaN()
	case bool:
		if value {
			return 1
		}

		return 0
	case string:
		return parseNumber(value)
	case float64:
		return value
	}

	switch reflect.ValueOf(v).Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32:
		return cast.ToFloat64(v)
	}

	if n, err := cast.ToFloat64E(v); err == nil && isNumberLike(v) {
		return n
	}

	return math.NaN()
}

func isNumberLike(v any) bool {
	_, ok := v.(interface{ Float64() (float64, error) })

	return ok
}

func parseNumber(s string) float64 {
	s = strings.TrimSpace(s)

	switch s {
	case "":
		return 0
	case "Infinity", "+Infinity":
		return math.Inf(1)
	case "-Infinity":
		return math.Inf(-1)
	}

	lower := strings.ToLower(s)
	if strings.HasPrefix(lower, "0x") || strings.HasPrefix(lower, "0o") || strings.HasPrefix(lower, "0b") {
		n, err := strconv.ParseInt(s[2:], baseOf(lower[1]), 64)
		if err != nil {
			return math.NaN()
		}

		return float64(n)
	}

	// ParseFloat accepts spellings like "inf" or "1_0" that are not numbers here.
	if strings.ContainsAny(lower, "_npx") || strings.Contains(lower, "inf") {
		return math.NaN()
	}

	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}

	return n
}

func baseOf(prefix byte) int {
	switch prefix {
	case 'x':
		return 16
	case 'o':
		return 8
	default:
		return 2
	}
}

// FormatNumber renders f in canonical decimal form.
func FormatNumber(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case f == 0:
		return "0"
	}

	abs := math.Abs(f)
	if abs >= 1e21 || abs < 1e-6 {
		s := strconv.FormatFloat(f, 'e', -1, 64)
		mantissa, exponent, _ := strings.Cut(s, "e")
		sign := exponent[0]
		digits := strings.TrimLeft(exponent[1:], "0")

		return mantissa + "e" + string(sign) + digits
	}

	return strconv.FormatFloat(f, 'f', -1, 64)
}

// ToString renders a resolved value as text.
func ToString(v any) string {
	switch value := v.(type) {
	case nil:
		return "null"
	case undefined:
		return "undefined"
	case string:
		return value
	case bool:
		return strconv.FormatBool(value)
	case float64:
		return FormatNumber(value)
	case []any:
		parts := make([]string, len(value))

		for i, item := range value {
			if item == nil || IsUndefined(item) {
				continue
			}

			parts[i] = ToString(item)
		}

		return strings.Join(parts, ",")
	case map[string]any:
		return "[object Object]"
	}

	if n := ToNumber(v); !math.IsNaN(n) {
		return FormatNumber(n)
	}

	return cast.ToString(v)
}

// StrictEqual compares two resolved values without type coercion. Objects and arrays are never equal.
func StrictEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	if IsUndefined(a) || IsUndefined(b) {
		return IsUndefined(a) && IsUndefined(b)
	}

	an, aNum := numeric(a)
	bn, bNum := numeric(b)

	if aNum || bNum {
		return aNum && bNum && an == bn
	}

	switch a.(type) {
	case string, bool:
		return a == b
	default:
		return false
	}
}

func numeric(v any) (float64, bool) {
	switch v.(type) {
	case float64, float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return ToNumber(v), true
	default:
		if isNumberLike(v) {
			return ToNumber(v), true
		}

		return 0, false
	}
}

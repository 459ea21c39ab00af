package tplengine

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

// maxSafeInteger is the largest integer a float64 holds exactly.
const maxSafeInteger = 1<<53 - 1

// PrecisionConverter turns rendered numeric strings into int64 or float64
// values when no precision is lost, and leaves them as strings otherwise.
type PrecisionConverter struct{}

func NewPrecisionConverter() *PrecisionConverter {
	return &PrecisionConverter{}
}

func (pc *PrecisionConverter) ConvertWithPrecision(value any) any {
	switch v := value.(type) {
	case string:
		return pc.convertString(v)
	case json.Number:
		return pc.convertString(string(v))
	default:
		return v
	}
}

func (pc *PrecisionConverter) convertString(s string) any {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return s
	}
	dec, err := decimal.NewFromString(trimmed)
	if err != nil {
		return s
	}
	if dec.IsInteger() {
		n := dec.BigInt()
		if n.IsInt64() && n.Int64() >= -maxSafeInteger && n.Int64() <= maxSafeInteger {
			return n.Int64()
		}
		return s
	}
	f, _ := dec.Float64()
	if !dec.Equal(decimal.NewFromFloat(f)) || significantDigits(trimmed) > 15 {
		return s
	}
	return f
}

func significantDigits(s string) int {
	lower := strings.ToLower(s)
	if i := strings.IndexByte(lower, 'e'); i >= 0 {
		lower = lower[:i]
	}
	lower = strings.TrimLeft(lower, "+-")
	lower = strings.TrimLeft(lower, "0")
	count := 0
	for _, c := range lower {
		if c >= '0' && c <= '9' {
			count++
		}
	}
	return max(count, 1)
}

// ConvertJSONWithPrecision decodes jsonStr keeping numbers exact where possible.
func (pc *PrecisionConverter) ConvertJSONWithPrecision(jsonStr string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(jsonStr))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return pc.convertJSON(out), nil
}

func (pc *PrecisionConverter) convertJSON(value any) any {
	switch v := value.(type) {
	case json.Number:
		return pc.ConvertWithPrecision(v)
	case map[string]any:
		for k, item := range v {
			v[k] = pc.convertJSON(item)
		}
		return v
	case []any:
		for i, item := range v {
			v[i] = pc.convertJSON(item)
		}
		return v
	default:
		return v
	}
}

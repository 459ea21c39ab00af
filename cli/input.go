package cli

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// parseData turns key=value pairs into workflow data. JSON values are decoded,
// anything else stays a string.
func parseData(pairs []string) (map[string]any, error) {
	data := make(map[string]any)
	for _, pair := range pairs {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid data format: %s (expected key=value)", pair)
		}
		key := strings.TrimSpace(parts[0])
		if key == "" {
			return nil, fmt.Errorf("invalid data format: %s (empty key)", pair)
		}
		value := strings.TrimSpace(parts[1])
		if !gjson.Valid(value) {
			data[key] = value
			continue
		}
		result := gjson.Parse(value)
		switch result.Type {
		case gjson.Null:
			data[key] = value
		case gjson.Number:
			if result.Num == float64(result.Int()) {
				data[key] = result.Int()
				continue
			}
			data[key] = result.Num
		default:
			data[key] = result.Value()
		}
	}
	return data, nil
}

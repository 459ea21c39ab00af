package core

import (
	"fmt"

	"dario.cat/mergo"
	"github.com/mohae/deepcopy"
)

// DeepCopy returns a deep copy of v.
func DeepCopy[T any](v T) (T, error) {
	var zero T
	copied := deepcopy.Copy(v)
	if copied == nil {
		return zero, nil
	}
	out, ok := copied.(T)
	if !ok {
		return zero, fmt.Errorf("deep copy: type assertion to %T failed", zero)
	}
	return out, nil
}

// CloneMap deep-copies a data map. A nil map yields an empty one.
func CloneMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	out, ok := deepcopy.Copy(m).(map[string]any)
	if !ok || out == nil {
		return map[string]any{}
	}
	return out
}

// MergeData overlays src onto dst. Keys missing from src are kept, later
// values win (zero values included) and nested maps merge.
func MergeData(dst map[string]any, src map[string]any) error {
	if len(src) == 0 {
		return nil
	}
	if dst == nil {
		return fmt.Errorf("failed to merge data: nil destination")
	}
	for k, v := range CloneMap(src) {
		nested, ok := v.(map[string]any)
		current, isMap := dst[k].(map[string]any)
		if !ok || !isMap || current == nil {
			dst[k] = v
			continue
		}
		if err := mergo.Merge(&current, nested, mergo.WithOverride); err != nil {
			return fmt.Errorf("failed to merge data key %q: %w", k, err)
		}
	}
	return nil
}

package driver

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// ToInt coerces a script or session value to an int. JSON transports hand
// back float64, embedded engines int64; both are accepted. Fractions are
// truncated toward zero the way the browser reports scroll offsets.
func ToInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case float32:
		return int(math.Trunc(float64(n))), nil
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, fmt.Errorf("non-finite number %v", n)
		}
		return int(math.Trunc(n)), nil
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, err
		}
		return int(math.Trunc(f)), nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, err
		}
		return int(math.Trunc(f)), nil
	}
	return 0, fmt.Errorf("not a number: %T", v)
}

// ToFloat coerces a numeric value to float64.
func ToFloat(v any) (float64, error) {
	switch n := v.(type) {
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	case string:
		return strconv.ParseFloat(n, 64)
	}
	return 0, fmt.Errorf("not a number: %T", v)
}

// ToInts coerces an array result of exactly n numbers.
func ToInts(v any, n int) ([]int, error) {
	var items []any
	switch arr := v.(type) {
	case []any:
		items = arr
	case []int64:
		for _, x := range arr {
			items = append(items, x)
		}
	case []float64:
		for _, x := range arr {
			items = append(items, x)
		}
	default:
		return nil, fmt.Errorf("not an array: %T", v)
	}
	if len(items) != n {
		return nil, fmt.Errorf("expected %d values, got %d", n, len(items))
	}
	out := make([]int, n)
	for i, item := range items {
		x, err := ToInt(item)
		if err != nil {
			return nil, fmt.Errorf("value %d: %w", i, err)
		}
		out[i] = x
	}
	return out, nil
}

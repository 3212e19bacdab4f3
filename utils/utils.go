package utils

import (
	"encoding/json"
	"fmt"
)

// AsInt coerces a decoded JSON value to an int. JSON numbers arrive as
// float64; anything fractional or non-numeric is rejected.
func AsInt(v interface{}) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != float64(int(n)) {
			return 0, fmt.Errorf("value %v is not an integer", n)
		}
		return int(n), nil
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, fmt.Errorf("value %q is not an integer", n.String())
		}
		return int(i), nil
	default:
		return 0, fmt.Errorf("value of type %T is not an integer", v)
	}
}

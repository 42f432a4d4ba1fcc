package storage

import (
	"fmt"
	"strconv"
	"strings"
)

// NormalizeKey converts a lookup key value to the canonical string used as a
// map key (e.g. "Acme" or "8429529"). Drivers return text as string or
// []byte depending on backend and protocol, so callers must not assume one.
func NormalizeKey(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case []byte:
		return strings.TrimSpace(string(t))
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	case *string:
		if t == nil {
			return ""
		}
		return strings.TrimSpace(*t)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

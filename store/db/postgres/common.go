package postgres

import (
	"encoding/json"
	"fmt"
	"strings"
)

// placeholder returns a numbered placeholder for PostgreSQL ($1, $2, ...).
func placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}

// placeholders returns n numbered placeholders.
func placeholders(n int) string {
	list := []string{}
	for i := 0; i < n; i++ {
		list = append(list, placeholder(i+1))
	}
	return strings.Join(list, ", ")
}

// marshalJSON serializes v for a TEXT column, falling back to the
// given zero literal on failure.
func marshalJSON(v any, zero string) string {
	b, err := json.Marshal(v)
	if err != nil {
		return zero
	}
	return string(b)
}

func unmarshalJSON(data string, v any) {
	if data == "" {
		return
	}
	// Corrupt rows degrade to zero values rather than failing reads.
	_ = json.Unmarshal([]byte(data), v)
}

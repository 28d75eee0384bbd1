// Package enums holds the string-backed value sets persisted in the ledger
// and outbox tables.
package enums

import (
	"fmt"
	"slices"
)

func isOneOf[T ~string](value T, valid []T) bool {
	return slices.Contains(valid, value)
}

// parse matches value exactly; casing is significant.
func parse[T ~string](kind string, value string, valid []T) (T, error) {
	if v := T(value); isOneOf(v, valid) {
		return v, nil
	}
	return "", fmt.Errorf("invalid %s %q", kind, value)
}

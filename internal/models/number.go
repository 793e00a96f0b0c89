package models

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// NullableNumber is an optional numeric form field.
//
// Clients send these as JSON numbers, numeric strings or empty strings.
// An empty value decodes to "unset"; anything that does not parse as a
// number is kept in Raw so validation can reject it with a field message
// instead of failing the whole request body.
type NullableNumber struct {
	Value *float64
	Raw   string
}

// Num returns a set NullableNumber.
func Num(f float64) NullableNumber {
	return NullableNumber{Value: &f}
}

// IsSet reports whether the field holds a number.
func (n NullableNumber) IsSet() bool {
	return n.Value != nil
}

// Invalid reports whether the client sent something that is not a number.
func (n NullableNumber) Invalid() bool {
	return n.Value == nil && n.Raw != ""
}

// Float returns the value and whether it is set.
func (n NullableNumber) Float() (float64, bool) {
	if n.Value == nil {
		return 0, false
	}
	return *n.Value, true
}

// ParseNullableNumber coerces a textual field value.
func ParseNullableNumber(s string) NullableNumber {
	s = strings.TrimSpace(s)
	if s == "" {
		return NullableNumber{}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return NullableNumber{Raw: s}
	}
	return NullableNumber{Value: &f}
}

// UnmarshalJSON implements json.Unmarshaler.
func (n *NullableNumber) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*n = NullableNumber{}
		return nil
	}

	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*n = ParseNullableNumber(s)
		return nil
	}

	var f float64
	if err := json.Unmarshal(trimmed, &f); err != nil {
		// booleans, objects and arrays are kept as invalid input
		*n = NullableNumber{Raw: string(trimmed)}
		return nil
	}
	*n = NullableNumber{Value: &f}
	return nil
}

// MarshalJSON implements json.Marshaler. Unset and invalid values encode as null.
func (n NullableNumber) MarshalJSON() ([]byte, error) {
	if n.Value == nil {
		return []byte("null"), nil
	}
	return json.Marshal(*n.Value)
}

package form

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Segment is one step of a FieldPath: either an object key or a slice index.
type Segment struct {
	Key     string
	Index   int
	IsIndex bool
}

// FieldPath addresses a field nested inside the form, for example
// material_quality_entries -> 0 -> location.
type FieldPath []Segment

// NewPath starts a path at a top-level key.
func NewPath(root string) FieldPath {
	return FieldPath{{Key: root}}
}

// Key returns a copy of p extended with an object key.
func (p FieldPath) Key(k string) FieldPath {
	return append(p.clone(), Segment{Key: k})
}

// Index returns a copy of p extended with a slice index.
func (p FieldPath) Index(i int) FieldPath {
	return append(p.clone(), Segment{Index: i, IsIndex: true})
}

// Root returns the first key, used as the error map key.
func (p FieldPath) Root() string {
	if len(p) == 0 {
		return ""
	}
	return p[0].String()
}

// String renders the path in dotted form (material_quality_entries.0.location).
func (p FieldPath) String() string {
	parts := make([]string, len(p))
	for i, s := range p {
		parts[i] = s.String()
	}
	return strings.Join(parts, ".")
}

// MarshalJSON encodes the path in its dotted form.
func (p FieldPath) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

func (s Segment) String() string {
	if s.IsIndex {
		return strconv.Itoa(s.Index)
	}
	return s.Key
}

func (p FieldPath) clone() FieldPath {
	out := make(FieldPath, len(p), len(p)+1)
	copy(out, p)
	return out
}

// ParseNamespace converts a validator namespace such as
// "AppraisalForm.material_quality_entries[0].location" into a FieldPath.
// The leading struct name is dropped.
func ParseNamespace(ns string) FieldPath {
	parts := strings.Split(ns, ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}

	var path FieldPath
	for _, part := range parts {
		for part != "" {
			open := strings.IndexByte(part, '[')
			if open < 0 {
				path = append(path, Segment{Key: part})
				break
			}
			if open > 0 {
				path = append(path, Segment{Key: part[:open]})
			}
			end := strings.IndexByte(part[open:], ']')
			if end < 0 {
				path = append(path, Segment{Key: part[open:]})
				break
			}
			inner := part[open+1 : open+end]
			if i, err := strconv.Atoi(inner); err == nil {
				path = append(path, Segment{Index: i, IsIndex: true})
			} else {
				path = append(path, Segment{Key: inner})
			}
			part = part[open+end+1:]
		}
	}
	return path
}

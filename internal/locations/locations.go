// Package locations serves the department and city reference data used by
// the intake form.
package locations

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

//go:embed data/colombia.json
var colombiaJSON []byte

// ErrUnknownDepartment is returned for departments not in the catalog.
var ErrUnknownDepartment = errors.New("unknown department")

// Department groups the cities of one department.
type Department struct {
	Name   string   `json:"name"`
	Cities []string `json:"cities"`
}

// Match is one search hit.
type Match struct {
	Department string `json:"department"`
	City       string `json:"city"`
}

// Catalog is an immutable, searchable list of departments.
type Catalog struct {
	departments []Department
	byKey       map[string]int
}

// Load parses the embedded catalog.
func Load() (*Catalog, error) {
	return Parse(colombiaJSON)
}

// Parse builds a Catalog from JSON. Departments and cities are sorted.
func Parse(data []byte) (*Catalog, error) {
	var deps []Department
	if err := json.Unmarshal(data, &deps); err != nil {
		return nil, fmt.Errorf("failed to parse locations: %w", err)
	}

	sort.Slice(deps, func(i, j int) bool { return fold(deps[i].Name) < fold(deps[j].Name) })

	c := &Catalog{departments: deps, byKey: make(map[string]int, len(deps))}
	for i := range deps {
		cities := append([]string(nil), deps[i].Cities...)
		sort.Slice(cities, func(a, b int) bool { return fold(cities[a]) < fold(cities[b]) })
		deps[i].Cities = cities

		key := fold(deps[i].Name)
		if _, dup := c.byKey[key]; dup {
			return nil, fmt.Errorf("duplicate department %q", deps[i].Name)
		}
		c.byKey[key] = i
	}
	return c, nil
}

// Departments returns every department with its cities.
func (c *Catalog) Departments() []Department {
	out := make([]Department, len(c.departments))
	copy(out, c.departments)
	return out
}

// Cities returns the cities of a department. The lookup ignores case and accents.
func (c *Catalog) Cities(department string) ([]string, error) {
	i, ok := c.byKey[fold(department)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDepartment, department)
	}
	return append([]string(nil), c.departments[i].Cities...), nil
}

// Contains reports whether city belongs to department.
func (c *Catalog) Contains(department, city string) bool {
	cities, err := c.Cities(department)
	if err != nil {
		return false
	}
	key := fold(city)
	for _, name := range cities {
		if fold(name) == key {
			return true
		}
	}
	return false
}

// Search returns cities whose name or department starts with query,
// ignoring case and accents. City matches come first.
func (c *Catalog) Search(query string, limit int) []Match {
	q := fold(query)
	if q == "" {
		return []Match{}
	}

	var byCity, byDepartment []Match
	for _, d := range c.departments {
		depMatch := strings.HasPrefix(fold(d.Name), q)
		for _, city := range d.Cities {
			m := Match{Department: d.Name, City: city}
			switch {
			case strings.HasPrefix(fold(city), q):
				byCity = append(byCity, m)
			case depMatch:
				byDepartment = append(byDepartment, m)
			}
		}
	}

	out := append(byCity, byDepartment...)
	if out == nil {
		out = []Match{}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// fold lowercases s and strips diacritics so "Bogotá" and "bogota" compare equal.
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, strings.TrimSpace(s))
	if err != nil {
		stripped = s
	}
	return cases.Fold().String(stripped)
}

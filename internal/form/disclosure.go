package form

import (
	"errors"
	"fmt"
	"strings"

	"github.com/stwalsh4118/peritaje/internal/models"
)

// Group identifies a conditional block of the form.
type Group string

const (
	GroupPH           Group = "ph"
	GroupSpecialZone  Group = "special_zone"
	GroupPOT          Group = "pot"
	GroupEncumbrances Group = "encumbrances"
)

// ErrUnknownGroup is returned for a group name that has no rule.
var ErrUnknownGroup = errors.New("unknown conditional group")

// dependent is a field whose presence is governed by a group gate.
type dependent struct {
	name     string
	field    string
	required bool
	missing  func(f *models.AppraisalForm) bool
	value    func(f *models.AppraisalForm) interface{}
	reset    func(f *models.AppraisalForm)
}

type groupRule struct {
	group      Group
	gate       string
	active     func(f *models.AppraisalForm) bool
	setGate    func(f *models.AppraisalForm, on bool)
	dependents []dependent
}

// groupRules is the single source of truth for conditional requiredness and
// for the inactive defaults applied when a gate is switched off.
var groupRules = []groupRule{
	{
		group:   GroupPH,
		gate:    "ph_applies",
		active:  func(f *models.AppraisalForm) bool { return f.PHApplies },
		setGate: func(f *models.AppraisalForm, on bool) { f.PHApplies = on },
		dependents: []dependent{
			{
				name: "ph_name", field: "PHName", required: true,
				missing: func(f *models.AppraisalForm) bool { return blank(f.PHName) },
				value:   func(f *models.AppraisalForm) interface{} { return f.PHName },
				reset:   func(f *models.AppraisalForm) { f.PHName = "" },
			},
			{
				name: "ph_coefficient", field: "PHCoefficient", required: true,
				missing: func(f *models.AppraisalForm) bool { return !f.PHCoefficient.IsSet() },
				value:   func(f *models.AppraisalForm) interface{} { return f.PHCoefficient },
				reset:   func(f *models.AppraisalForm) { f.PHCoefficient = models.NullableNumber{} },
			},
			{
				name: "ph_has_doorman", field: "PHHasDoorman",
				value: func(f *models.AppraisalForm) interface{} { return f.PHHasDoorman },
				reset: func(f *models.AppraisalForm) { f.PHHasDoorman = false },
			},
			{
				name: "ph_common_areas", field: "PHCommonAreas", required: true,
				missing: func(f *models.AppraisalForm) bool { return len(f.PHCommonAreas) == 0 },
				value:   func(f *models.AppraisalForm) interface{} { return f.PHCommonAreas },
				reset:   func(f *models.AppraisalForm) { f.PHCommonAreas = []string{} },
			},
		},
	},
	{
		group:   GroupSpecialZone,
		gate:    "special_zone_applies",
		active:  func(f *models.AppraisalForm) bool { return f.SpecialZoneApplies },
		setGate: func(f *models.AppraisalForm, on bool) { f.SpecialZoneApplies = on },
		dependents: []dependent{
			{
				name: "special_zone_type", field: "SpecialZoneType", required: true,
				missing: func(f *models.AppraisalForm) bool { return blank(f.SpecialZoneType) },
				value:   func(f *models.AppraisalForm) interface{} { return f.SpecialZoneType },
				reset:   func(f *models.AppraisalForm) { f.SpecialZoneType = "" },
			},
			{
				name: "special_zone_act", field: "SpecialZoneAct", required: true,
				missing: func(f *models.AppraisalForm) bool { return blank(f.SpecialZoneAct) },
				value:   func(f *models.AppraisalForm) interface{} { return f.SpecialZoneAct },
				reset:   func(f *models.AppraisalForm) { f.SpecialZoneAct = "" },
			},
			{
				name: "special_zone_restrictions", field: "SpecialZoneRestrictions",
				value: func(f *models.AppraisalForm) interface{} { return f.SpecialZoneRestrictions },
				reset: func(f *models.AppraisalForm) { f.SpecialZoneRestrictions = []string{} },
			},
		},
	},
	{
		group:   GroupPOT,
		gate:    "pot_applies",
		active:  func(f *models.AppraisalForm) bool { return f.POTApplies },
		setGate: func(f *models.AppraisalForm, on bool) { f.POTApplies = on },
		dependents: []dependent{
			{
				name: "pot_restrictions", field: "POTRestrictions", required: true,
				missing: func(f *models.AppraisalForm) bool { return len(f.POTRestrictions) == 0 },
				value:   func(f *models.AppraisalForm) interface{} { return f.POTRestrictions },
				reset:   func(f *models.AppraisalForm) { f.POTRestrictions = []string{} },
			},
			{
				name: "pot_notes", field: "POTNotes",
				value: func(f *models.AppraisalForm) interface{} { return f.POTNotes },
				reset: func(f *models.AppraisalForm) { f.POTNotes = "" },
			},
		},
	},
	{
		group:   GroupEncumbrances,
		gate:    "encumbrances_apply",
		active:  func(f *models.AppraisalForm) bool { return f.EncumbrancesApply },
		setGate: func(f *models.AppraisalForm, on bool) { f.EncumbrancesApply = on },
		dependents: []dependent{
			{
				name: "encumbrance_types", field: "EncumbranceTypes", required: true,
				missing: func(f *models.AppraisalForm) bool { return len(f.EncumbranceTypes) == 0 },
				value:   func(f *models.AppraisalForm) interface{} { return f.EncumbranceTypes },
				reset:   func(f *models.AppraisalForm) { f.EncumbranceTypes = []string{} },
			},
			{
				name: "encumbrance_details", field: "EncumbranceDetails", required: true,
				missing: func(f *models.AppraisalForm) bool { return blank(f.EncumbranceDetails) },
				value:   func(f *models.AppraisalForm) interface{} { return f.EncumbranceDetails },
				reset:   func(f *models.AppraisalForm) { f.EncumbranceDetails = "" },
			},
			{
				name: "encumbrance_value", field: "EncumbranceValue",
				value: func(f *models.AppraisalForm) interface{} { return f.EncumbranceValue },
				reset: func(f *models.AppraisalForm) { f.EncumbranceValue = models.NullableNumber{} },
			},
		},
	},
}

func ruleFor(g Group) (groupRule, error) {
	for _, r := range groupRules {
		if r.group == g {
			return r, nil
		}
	}
	return groupRule{}, fmt.Errorf("%w: %q", ErrUnknownGroup, g)
}

// Groups lists every conditional group.
func Groups() []Group {
	out := make([]Group, len(groupRules))
	for i, r := range groupRules {
		out[i] = r.group
	}
	return out
}

// ParseGroup accepts either a group name or its gate field name.
func ParseGroup(s string) (Group, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	for _, r := range groupRules {
		if string(r.group) == s || r.gate == s {
			return r.group, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownGroup, s)
}

// Dependents returns the field names governed by the group's gate.
func Dependents(g Group) []string {
	r, err := ruleFor(g)
	if err != nil {
		return nil
	}
	names := make([]string, len(r.dependents))
	for i, d := range r.dependents {
		names[i] = d.name
	}
	return names
}

// ApplyToggle returns the form after switching a group's gate.
// Switching off resets every dependent to its inactive default; switching on
// leaves dependents as they are so validation reports the missing ones.
// The input form is not modified.
func ApplyToggle(f models.AppraisalForm, g Group, on bool) (models.AppraisalForm, error) {
	r, err := ruleFor(g)
	if err != nil {
		return f, err
	}
	r.setGate(&f, on)
	if !on {
		for _, d := range r.dependents {
			d.reset(&f)
		}
	}
	return f, nil
}

// SetSpecialZoneType sets the zone type. A non-empty type switches the
// special-zone gate on; clearing the type leaves the gate alone.
func SetSpecialZoneType(f models.AppraisalForm, zoneType string) models.AppraisalForm {
	f.SpecialZoneType = zoneType
	if !blank(zoneType) {
		f.SpecialZoneApplies = true
	}
	return f
}

// Normalize resets the dependents of every inactive group.
func Normalize(f models.AppraisalForm) models.AppraisalForm {
	for _, r := range groupRules {
		if !r.active(&f) {
			for _, d := range r.dependents {
				d.reset(&f)
			}
		}
	}
	return f
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}

package form

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stwalsh4118/peritaje/internal/models"
)

func filledGroups() models.AppraisalForm {
	f := validForm()
	f.PHApplies = true
	f.PHName = "Conjunto Los Pinos"
	f.PHCoefficient = models.Num(1.75)
	f.PHHasDoorman = true
	f.PHCommonAreas = []string{"piscina"}
	f.SpecialZoneApplies = true
	f.SpecialZoneType = "zona_riesgo"
	f.SpecialZoneAct = "Decreto 45"
	f.SpecialZoneRestrictions = []string{"sin ampliaciones"}
	f.POTApplies = true
	f.POTRestrictions = []string{"altura"}
	f.POTNotes = "Máximo 5 pisos"
	f.EncumbrancesApply = true
	f.EncumbranceTypes = []string{"embargo"}
	f.EncumbranceDetails = "Embargo judicial"
	f.EncumbranceValue = models.Num(1000000)
	return f
}

func TestApplyToggle_OffResetsDependents(t *testing.T) {
	f := filledGroups()

	f, err := ApplyToggle(f, GroupPH, false)
	require.NoError(t, err)
	assert.False(t, f.PHApplies)
	assert.Equal(t, "", f.PHName)
	assert.False(t, f.PHCoefficient.IsSet())
	assert.False(t, f.PHHasDoorman)
	assert.Empty(t, f.PHCommonAreas)

	f, err = ApplyToggle(f, GroupSpecialZone, false)
	require.NoError(t, err)
	assert.Equal(t, "", f.SpecialZoneType)
	assert.Equal(t, "", f.SpecialZoneAct)
	assert.Empty(t, f.SpecialZoneRestrictions)

	f, err = ApplyToggle(f, GroupPOT, false)
	require.NoError(t, err)
	assert.Empty(t, f.POTRestrictions)
	assert.Equal(t, "", f.POTNotes)

	f, err = ApplyToggle(f, GroupEncumbrances, false)
	require.NoError(t, err)
	assert.Empty(t, f.EncumbranceTypes)
	assert.Equal(t, "", f.EncumbranceDetails)
	assert.False(t, f.EncumbranceValue.IsSet())

	// unrelated fields survive
	assert.Equal(t, "Dept1", f.Department)
	assert.Len(t, f.MaterialQualityEntries, 1)
}

func TestApplyToggle_OnLeavesDependentsUntouched(t *testing.T) {
	f := validForm()
	f.PHName = "Borrador"

	next, err := ApplyToggle(f, GroupPH, true)
	require.NoError(t, err)

	assert.True(t, next.PHApplies)
	assert.Equal(t, "Borrador", next.PHName)
	assert.False(t, next.PHCoefficient.IsSet())
	assert.Empty(t, next.PHCommonAreas)
}

func TestApplyToggle_DoesNotModifyInput(t *testing.T) {
	f := filledGroups()

	_, err := ApplyToggle(f, GroupPOT, false)
	require.NoError(t, err)

	assert.True(t, f.POTApplies)
	assert.Equal(t, []string{"altura"}, f.POTRestrictions)
}

func TestApplyToggle_UnknownGroup(t *testing.T) {
	_, err := ApplyToggle(validForm(), Group("garden"), true)
	assert.ErrorIs(t, err, ErrUnknownGroup)
}

func TestSetSpecialZoneType(t *testing.T) {
	f := SetSpecialZoneType(validForm(), "reserva_ambiental")
	assert.True(t, f.SpecialZoneApplies)
	assert.Equal(t, "reserva_ambiental", f.SpecialZoneType)

	f = SetSpecialZoneType(f, "")
	assert.True(t, f.SpecialZoneApplies, "clearing the type keeps the gate as it was")

	f, err := ApplyToggle(SetSpecialZoneType(f, "zona_riesgo"), GroupSpecialZone, false)
	require.NoError(t, err)
	assert.False(t, f.SpecialZoneApplies)
	assert.Equal(t, "", f.SpecialZoneType)
}

func TestNormalize(t *testing.T) {
	f := filledGroups()
	f.PHApplies = false
	f.EncumbrancesApply = false

	got := Normalize(f)

	assert.Equal(t, "", got.PHName)
	assert.Empty(t, got.PHCommonAreas)
	assert.Empty(t, got.EncumbranceTypes)
	assert.Equal(t, "zona_riesgo", got.SpecialZoneType)
	assert.Equal(t, []string{"altura"}, got.POTRestrictions)
}

func TestParseGroup(t *testing.T) {
	g, err := ParseGroup("ph")
	require.NoError(t, err)
	assert.Equal(t, GroupPH, g)

	g, err = ParseGroup("Encumbrances_Apply")
	require.NoError(t, err)
	assert.Equal(t, GroupEncumbrances, g)

	_, err = ParseGroup("roof")
	assert.ErrorIs(t, err, ErrUnknownGroup)
}

func TestDependents(t *testing.T) {
	assert.Equal(t, []string{"pot_restrictions", "pot_notes"}, Dependents(GroupPOT))
	assert.Nil(t, Dependents(Group("x")))
	assert.Len(t, Groups(), 4)
}

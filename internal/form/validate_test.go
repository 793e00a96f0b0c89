package form

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stwalsh4118/peritaje/internal/models"
)

func validForm() models.AppraisalForm {
	return models.AppraisalForm{
		Department:        "Dept1",
		City:              "CityA",
		Address:           "Calle 10 # 5-20",
		PropertyType:      "apartamento",
		Stratum:           3,
		BuiltArea:         models.Num(85),
		ConservationState: "bueno",
		MaterialQualityEntries: []models.MaterialQualityEntry{
			{ID: "m1", Location: "Cocina", QualityDescription: "Granito"},
		},
		TruthfulnessDeclaration: true,
		DataProcessingConsent:   true,
	}
}

func newTestValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := NewValidator(nil)
	require.NoError(t, err)
	return v
}

func errorKeys(errs map[string]string) []string {
	keys := make([]string, 0, len(errs))
	for k := range errs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func TestValidate_ValidForm(t *testing.T) {
	v := newTestValidator(t)

	res := v.Validate(validForm(), 1, nil)

	assert.True(t, res.Valid)
	assert.Empty(t, res.Errors)
}

func TestValidate_ImageBounds(t *testing.T) {
	v := newTestValidator(t)

	tests := []struct {
		name    string
		count   int
		wantMsg string
	}{
		{"no images", 0, MsgNoImages},
		{"one image", 1, ""},
		{"exactly thirty", 30, ""},
		{"thirty one", 31, MsgTooManyImages},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := v.Validate(validForm(), tt.count, nil)
			if tt.wantMsg == "" {
				assert.True(t, res.Valid)
				assert.NotContains(t, res.Errors, ImagesKey)
				return
			}
			assert.False(t, res.Valid)
			assert.Equal(t, tt.wantMsg, res.Errors[ImagesKey])
		})
	}
}

func TestValidate_ExternalImageErrorOverrides(t *testing.T) {
	v := newTestValidator(t)

	res := v.Validate(validForm(), 0, errors.New("Formato de imagen no soportado"))

	assert.False(t, res.Valid)
	assert.Equal(t, "Formato de imagen no soportado", res.Errors[ImagesKey])
}

func TestValidate_RequiredScalars(t *testing.T) {
	v := newTestValidator(t)

	res := v.Validate(models.AppraisalForm{}, 1, nil)

	assert.False(t, res.Valid)
	assert.Equal(t, "Selecciona un departamento", res.Errors["department"])
	assert.Equal(t, "Selecciona una ciudad", res.Errors["city"])
	assert.Equal(t, "Ingresa el área construida", res.Errors["built_area"])
	assert.Equal(t, "Debes declarar que la información es veraz", res.Errors["truthfulness_declaration"])
	assert.Equal(t, "Debes autorizar el tratamiento de datos personales", res.Errors["data_processing_consent"])
	assert.NotContains(t, res.Errors, "neighborhood")
	assert.NotContains(t, res.Errors, "ph_name")
}

func TestValidate_ActiveGroupReportsExactlyMissingDependents(t *testing.T) {
	v := newTestValidator(t)

	tests := []struct {
		name  string
		group Group
		fill  func(f *models.AppraisalForm)
		want  []string
	}{
		{
			name:  "ph empty",
			group: GroupPH,
			want:  []string{"ph_coefficient", "ph_common_areas", "ph_name"},
		},
		{
			name:  "ph partially filled",
			group: GroupPH,
			fill: func(f *models.AppraisalForm) {
				f.PHName = "Edificio Torres"
				f.PHCoefficient = models.Num(2.5)
			},
			want: []string{"ph_common_areas"},
		},
		{
			name:  "special zone empty",
			group: GroupSpecialZone,
			want:  []string{"special_zone_act", "special_zone_type"},
		},
		{
			name:  "pot empty",
			group: GroupPOT,
			want:  []string{"pot_restrictions"},
		},
		{
			name:  "encumbrances with types",
			group: GroupEncumbrances,
			fill: func(f *models.AppraisalForm) {
				f.EncumbranceTypes = []string{"hipoteca"}
			},
			want: []string{"encumbrance_details"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := ApplyToggle(validForm(), tt.group, true)
			require.NoError(t, err)
			if tt.fill != nil {
				tt.fill(&f)
			}

			res := v.Validate(f, 1, nil)

			assert.False(t, res.Valid)
			assert.Equal(t, tt.want, errorKeys(res.Errors))
		})
	}
}

func TestValidate_InactiveGroupIgnoresDependents(t *testing.T) {
	v := newTestValidator(t)
	f := validForm()
	f.PHName = ""
	f.EncumbranceDetails = ""

	res := v.Validate(f, 1, nil)

	assert.True(t, res.Valid)
}

func TestValidate_FullyFilledGroupsPass(t *testing.T) {
	v := newTestValidator(t)
	f := validForm()
	f.PHApplies = true
	f.PHName = "Conjunto Los Pinos"
	f.PHCoefficient = models.Num(1.75)
	f.PHCommonAreas = []string{"piscina", "ascensor"}
	f = SetSpecialZoneType(f, "patrimonio_cultural")
	f.SpecialZoneAct = "Resolución 123 de 2020"
	f.POTApplies = true
	f.POTRestrictions = []string{"altura"}
	f.EncumbrancesApply = true
	f.EncumbranceTypes = []string{"hipoteca"}
	f.EncumbranceDetails = "Hipoteca con Banco Ejemplo"

	res := v.Validate(f, 5, nil)

	assert.True(t, res.Valid, "unexpected errors: %v", res.Errors)
}

func TestValidate_NumericCoercion(t *testing.T) {
	v := newTestValidator(t)

	tests := []struct {
		name    string
		field   string
		raw     string
		wantKey string
		wantMsg string
	}{
		{"empty optional area is unset", "area", `""`, "", ""},
		{"empty admin fee is unset", "admin_fee", `""`, "", ""},
		{"numeric string built area", "built_area", `"150"`, "", ""},
		{"empty built area is missing", "built_area", `""`, "built_area", "Ingresa el área construida"},
		{"non numeric built area", "built_area", `"abc"`, "built_area", "El área construida debe ser un número"},
		{"non numeric area", "area", `"ciento"`, "area", "El área del terreno debe ser un número"},
		{"non numeric admin fee", "admin_fee", `"n/a"`, "admin_fee", "La cuota de administración debe ser un número"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base, err := json.Marshal(validForm())
			require.NoError(t, err)

			var doc map[string]json.RawMessage
			require.NoError(t, json.Unmarshal(base, &doc))
			doc[tt.field] = json.RawMessage(tt.raw)
			patched, err := json.Marshal(doc)
			require.NoError(t, err)

			var f models.AppraisalForm
			require.NoError(t, json.Unmarshal(patched, &f))

			res := v.Validate(f, 1, nil)
			if tt.wantKey == "" {
				assert.True(t, res.Valid, "unexpected errors: %v", res.Errors)
				return
			}
			assert.Equal(t, tt.wantMsg, res.Errors[tt.wantKey])
		})
	}
}

func TestValidate_NumericStringCoercesToNumber(t *testing.T) {
	var f models.AppraisalForm
	require.NoError(t, json.Unmarshal([]byte(`{"built_area":"150"}`), &f))

	got, ok := f.BuiltArea.Float()
	require.True(t, ok)
	assert.Equal(t, 150.0, got)
}

func TestValidate_NestedErrorsCollapseToRootKey(t *testing.T) {
	v := newTestValidator(t)
	f := validForm()
	long := make([]byte, 130)
	for i := range long {
		long[i] = 'a'
	}
	f.MaterialQualityEntries = append(f.MaterialQualityEntries, models.MaterialQualityEntry{
		ID:       "m2",
		Location: string(long),
	})

	res := v.Validate(f, 1, nil)

	assert.False(t, res.Valid)
	assert.Contains(t, res.Errors, "material_quality_entries")
	require.NotEmpty(t, res.Fields)
	assert.Equal(t, "material_quality_entries.1.location", res.Fields[0].Path.String())
}

func TestValidate_InvalidSelectionInList(t *testing.T) {
	v := newTestValidator(t)
	f := validForm()
	f.PHApplies = true
	f.PHName = "Torre Norte"
	f.PHCoefficient = models.Num(3)
	f.PHCommonAreas = []string{"helipuerto"}

	res := v.Validate(f, 1, nil)

	assert.Equal(t, []string{"ph_common_areas"}, errorKeys(res.Errors))
}

func TestValidate_EndToEndScenario(t *testing.T) {
	v := newTestValidator(t)
	entries := NewMaterialEntries(validForm().MaterialQualityEntries...)
	images := &ImageSet{}
	images.Add(models.ImageUpload{Name: "fachada.jpg", ContentType: "image/jpeg", Data: []byte{0xff, 0xd8}})

	res := v.Validate(validForm(), images.Len(), nil)

	assert.True(t, res.Valid)
	assert.Len(t, entries.Filled(), 1)
}

func TestValidate_PositiveNumbersRejectZeroAndNegatives(t *testing.T) {
	v := newTestValidator(t)

	tests := []struct {
		field   string
		set     func(f *models.AppraisalForm, n models.NullableNumber)
		wantMsg string
	}{
		{"built_area", func(f *models.AppraisalForm, n models.NullableNumber) { f.BuiltArea = n }, "El área construida debe ser mayor que 0"},
		{"area", func(f *models.AppraisalForm, n models.NullableNumber) { f.Area = n }, "El área del terreno debe ser mayor que 0"},
		{"expected_value", func(f *models.AppraisalForm, n models.NullableNumber) { f.ExpectedValue = n }, "El valor esperado debe ser mayor que 0"},
		{"ph_coefficient", func(f *models.AppraisalForm, n models.NullableNumber) { f.PHCoefficient = n }, "El coeficiente debe ser mayor que 0"},
	}

	for _, tt := range tests {
		for _, value := range []float64{0, -5} {
			t.Run(fmt.Sprintf("%s=%v", tt.field, value), func(t *testing.T) {
				f := validForm()
				f.PHApplies = true
				f.PHName = "Torre Norte"
				f.PHCoefficient = models.Num(3)
				f.PHCommonAreas = []string{"piscina"}
				tt.set(&f, models.Num(value))

				res := v.Validate(f, 1, nil)

				assert.False(t, res.Valid)
				assert.Equal(t, []string{tt.field}, errorKeys(res.Errors))
				assert.Equal(t, tt.wantMsg, res.Errors[tt.field])
			})
		}
	}
}

func TestValidate_OptionalZeroAllowedWhereNonNegative(t *testing.T) {
	v := newTestValidator(t)
	f := validForm()
	f.AdminFee = models.Num(0)
	f.AgeYears = models.Num(0)

	res := v.Validate(f, 1, nil)

	assert.True(t, res.Valid, "unexpected errors: %v", res.Errors)
}

func TestValidate_InactiveGroupLeftoversIgnored(t *testing.T) {
	v := newTestValidator(t)
	f := validForm()
	f.PHApplies = false
	f.PHCoefficient = models.Num(150)
	f.PHCommonAreas = []string{"helipuerto"}
	f.POTApplies = false
	f.POTRestrictions = []string{"bogus"}
	f.EncumbranceTypes = []string{"desconocido"}

	res := v.Validate(f, 1, nil)

	assert.True(t, res.Valid, "unexpected errors: %v", res.Errors)
}

type fakePlaces map[string][]string

func (p fakePlaces) Contains(department, city string) bool {
	for _, c := range p[department] {
		if c == city {
			return true
		}
	}
	return false
}

func TestValidate_CityMustBelongToDepartment(t *testing.T) {
	v, err := NewValidator(fakePlaces{"Dept1": {"CityA"}, "Dept2": {"CityB"}})
	require.NoError(t, err)

	res := v.Validate(validForm(), 1, nil)
	assert.True(t, res.Valid, "unexpected errors: %v", res.Errors)

	f := validForm()
	f.City = "CityB"
	res = v.Validate(f, 1, nil)
	assert.Equal(t, []string{"city"}, errorKeys(res.Errors))
	assert.Equal(t, "La ciudad no pertenece al departamento seleccionado", res.Errors["city"])

	f.City = ""
	res = v.Validate(f, 1, nil)
	assert.Equal(t, "Selecciona una ciudad", res.Errors["city"])
}

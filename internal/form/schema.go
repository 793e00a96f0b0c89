package form

import (
	"errors"
	"reflect"
	"strings"

	esLocale "github.com/go-playground/locales/es"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	esTranslations "github.com/go-playground/validator/v10/translations/es"

	"github.com/stwalsh4118/peritaje/internal/models"
)

const (
	// TagNumber marks a numeric field that received a non-numeric value.
	TagNumber = "number"

	// TagLocation marks a city that does not belong to the selected department.
	TagLocation = "location"
)

// Places reports whether a city belongs to a department.
// *locations.Catalog satisfies it.
type Places interface {
	Contains(department, city string) bool
}

// FieldError is one failing constraint of the form.
type FieldError struct {
	Path    FieldPath `json:"path"`
	Tag     string    `json:"tag"`
	Message string    `json:"message"`
}

// messages holds field-specific Spanish messages keyed by "<field>.<tag>".
// Anything not listed falls back to the validator's Spanish translation.
var messages = map[string]string{
	"department.required":               "Selecciona un departamento",
	"city.required":                     "Selecciona una ciudad",
	"city.location":                     "La ciudad no pertenece al departamento seleccionado",
	"address.required":                  "Ingresa la dirección del inmueble",
	"address.min":                       "La dirección es demasiado corta",
	"property_type.required":            "Selecciona el tipo de inmueble",
	"property_type.oneof":               "Tipo de inmueble no válido",
	"stratum.required":                  "Selecciona el estrato",
	"stratum.min":                       "El estrato debe estar entre 1 y 6",
	"stratum.max":                       "El estrato debe estar entre 1 y 6",
	"built_area.required":               "Ingresa el área construida",
	"built_area.gt":                     "El área construida debe ser mayor que 0",
	"built_area.number":                 "El área construida debe ser un número",
	"area.number":                       "El área del terreno debe ser un número",
	"area.gt":                           "El área del terreno debe ser mayor que 0",
	"admin_fee.number":                  "La cuota de administración debe ser un número",
	"age_years.number":                  "La antigüedad debe ser un número",
	"expected_value.number":             "El valor esperado debe ser un número",
	"expected_value.gt":                 "El valor esperado debe ser mayor que 0",
	"conservation_state.required":       "Selecciona el estado de conservación",
	"ph_name.required":                  "Ingresa el nombre de la propiedad horizontal",
	"ph_coefficient.required":           "Ingresa el coeficiente de copropiedad",
	"ph_coefficient.number":             "El coeficiente de copropiedad debe ser un número",
	"ph_coefficient.gt":                 "El coeficiente debe ser mayor que 0",
	"ph_coefficient.lte":                "El coeficiente no puede superar 100",
	"ph_common_areas.required":          "Selecciona al menos una zona común",
	"special_zone_type.required":        "Selecciona el tipo de declaratoria especial",
	"special_zone_act.required":         "Indica el acto administrativo de la declaratoria",
	"pot_restrictions.required":         "Selecciona al menos una restricción del POT",
	"encumbrance_types.required":        "Selecciona al menos un tipo de gravamen",
	"encumbrance_details.required":      "Describe los gravámenes del inmueble",
	"encumbrance_value.number":          "El valor del gravamen debe ser un número",
	"truthfulness_declaration.required": "Debes declarar que la información es veraz",
	"data_processing_consent.required":  "Debes autorizar el tratamiento de datos personales",
}

// numericField lists the NullableNumber fields the refinement checks.
//
// The validator sees a set 0 and an unset value the same way, so
// "required" and "gt=0" on these fields are enforced here. Negative values
// still fail the struct tag.
type numericField struct {
	name     string
	field    string
	required bool
	positive bool
	get      func(f *models.AppraisalForm) models.NullableNumber
}

var numericFields = []numericField{
	{"built_area", "BuiltArea", true, true, func(f *models.AppraisalForm) models.NullableNumber { return f.BuiltArea }},
	{"area", "Area", false, true, func(f *models.AppraisalForm) models.NullableNumber { return f.Area }},
	{"admin_fee", "AdminFee", false, false, func(f *models.AppraisalForm) models.NullableNumber { return f.AdminFee }},
	{"age_years", "AgeYears", false, false, func(f *models.AppraisalForm) models.NullableNumber { return f.AgeYears }},
	{"expected_value", "ExpectedValue", false, true, func(f *models.AppraisalForm) models.NullableNumber { return f.ExpectedValue }},
	{"ph_coefficient", "PHCoefficient", false, true, func(f *models.AppraisalForm) models.NullableNumber { return f.PHCoefficient }},
	{"encumbrance_value", "EncumbranceValue", false, false, func(f *models.AppraisalForm) models.NullableNumber { return f.EncumbranceValue }},
}

// Schema is the declarative rule set for AppraisalForm.
type Schema struct {
	validate *validator.Validate
	trans    ut.Translator
	places   Places
}

// NewSchema builds the validator with JSON field names, NullableNumber
// support, the conditional-group refinement and Spanish messages.
// A nil places skips the city/department check.
func NewSchema(places Places) (*Schema, error) {
	s := &Schema{places: places}

	v := validator.New()
	v.RegisterTagNameFunc(jsonTagName)
	v.RegisterCustomTypeFunc(nullableNumberValue, models.NullableNumber{})
	v.RegisterStructValidation(s.refine, models.AppraisalForm{})

	locale := esLocale.New()
	uni := ut.New(locale, locale)
	trans, _ := uni.GetTranslator("es")
	if err := esTranslations.RegisterDefaultTranslations(v, trans); err != nil {
		return nil, err
	}

	err := v.RegisterTranslation(TagNumber, trans,
		func(t ut.Translator) error {
			return t.Add(TagNumber, "{0} debe ser un número", true)
		},
		func(t ut.Translator, fe validator.FieldError) string {
			msg, _ := t.T(TagNumber, fe.Field())
			return msg
		},
	)
	if err != nil {
		return nil, err
	}

	s.validate = v
	s.trans = trans
	return s, nil
}

// Check runs every rule against the form and returns the failures in order.
func (s *Schema) Check(f *models.AppraisalForm) []FieldError {
	err := s.validate.Struct(f)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []FieldError{{Path: NewPath("form"), Tag: "invalid", Message: err.Error()}}
	}

	out := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		path := ParseNamespace(fe.Namespace())
		out = append(out, FieldError{
			Path:    path,
			Tag:     fe.Tag(),
			Message: s.message(path, fe),
		})
	}
	return out
}

func (s *Schema) message(path FieldPath, fe validator.FieldError) string {
	if msg, ok := messages[leafKey(path)+"."+fe.Tag()]; ok {
		return msg
	}
	return fe.Translate(s.trans)
}

// leafKey is the last non-index segment of a path.
func leafKey(path FieldPath) string {
	for i := len(path) - 1; i >= 0; i-- {
		if !path[i].IsIndex {
			return path[i].Key
		}
	}
	return ""
}

func jsonTagName(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	if name == "" {
		return fld.Name
	}
	return name
}

// nullableNumberValue exposes a NullableNumber to the validator as a float64,
// or nil when unset or invalid so omitempty skips it and required fails.
func nullableNumberValue(field reflect.Value) interface{} {
	n, ok := field.Interface().(models.NullableNumber)
	if !ok {
		return nil
	}
	if v, set := n.Float(); set {
		return v
	}
	return nil
}

// refine reports the dependents missing from active groups, the numeric
// fields that failed coercion or their positivity rule, and a city outside
// the selected department.
func (s *Schema) refine(sl validator.StructLevel) {
	f, ok := sl.Current().Interface().(models.AppraisalForm)
	if !ok {
		return
	}

	for _, r := range groupRules {
		if !r.active(&f) {
			continue
		}
		for _, d := range r.dependents {
			if d.required && d.missing(&f) {
				sl.ReportError(d.value(&f), d.name, d.field, "required", string(r.group))
			}
		}
	}

	for _, nf := range numericFields {
		n := nf.get(&f)
		switch {
		case n.Invalid():
			sl.ReportError(n.Raw, nf.name, nf.field, TagNumber, "")
		case !n.IsSet():
			if nf.required {
				sl.ReportError(nil, nf.name, nf.field, "required", "")
			}
		case nf.positive:
			if v, _ := n.Float(); v == 0 {
				sl.ReportError(v, nf.name, nf.field, "gt", "0")
			}
		}
	}

	if s.places != nil && !blank(f.Department) && !blank(f.City) && !s.places.Contains(f.Department, f.City) {
		sl.ReportError(f.City, "city", "City", TagLocation, f.Department)
	}
}

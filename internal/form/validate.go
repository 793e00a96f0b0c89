package form

import (
	"github.com/stwalsh4118/peritaje/internal/models"
)

const (
	// MaxImages is the largest number of attachments accepted per appraisal.
	MaxImages = 30

	ImagesKey        = "images"
	MsgNoImages      = "Sube al menos una imagen"
	MsgTooManyImages = "Máximo 30 imágenes"
)

// Result is the outcome of validating a form.
type Result struct {
	Valid  bool              `json:"valid"`
	Errors map[string]string `json:"errors"`
	Fields []FieldError      `json:"fields,omitempty"`
}

// Validator combines the schema with the image-count bounds.
type Validator struct {
	schema *Schema
}

// NewValidator builds a Validator with its schema. places may be nil, in
// which case city and department are not cross-checked.
func NewValidator(places Places) (*Validator, error) {
	schema, err := NewSchema(places)
	if err != nil {
		return nil, err
	}
	return &Validator{schema: schema}, nil
}

// Validate checks the form and the attachment count. imageErr, when non-nil,
// replaces any count-based image message. Dependents of inactive groups
// are reset first, so leftovers never fail validation.
func (v *Validator) Validate(f models.AppraisalForm, imageCount int, imageErr error) Result {
	f = Normalize(f)
	fields := v.schema.Check(&f)

	errs := make(map[string]string)
	tags := make(map[string]string)
	for _, fe := range fields {
		key := fe.Path.Root()
		if prev, seen := tags[key]; seen {
			if fe.Tag != TagNumber || prev == TagNumber {
				continue
			}
		}
		errs[key] = fe.Message
		tags[key] = fe.Tag
	}

	if msg, tag := imageMessage(imageCount, imageErr); msg != "" {
		errs[ImagesKey] = msg
		fields = append(fields, FieldError{Path: NewPath(ImagesKey), Tag: tag, Message: msg})
	}

	return Result{
		Valid:  len(errs) == 0,
		Errors: errs,
		Fields: fields,
	}
}

func imageMessage(count int, imageErr error) (string, string) {
	switch {
	case imageErr != nil:
		return imageErr.Error(), "image"
	case count <= 0:
		return MsgNoImages, "min"
	case count > MaxImages:
		return MsgTooManyImages, "max"
	}
	return "", ""
}

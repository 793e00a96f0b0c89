package models

import (
	"encoding/json"
	"time"
)

// AppraisalForm is the aggregate submitted by the intake form.
//
// Conditional blocks are flattened so every field keeps its own top-level
// error key. Each block has a gate (PHApplies, SpecialZoneApplies,
// POTApplies, EncumbrancesApply) and dependents that are only required
// while the gate is on.
type AppraisalForm struct {
	// Location
	Department   string `json:"department" validate:"required,max=100"`
	City         string `json:"city" validate:"required,max=100"`
	Address      string `json:"address" validate:"required,min=5,max=200"`
	Neighborhood string `json:"neighborhood" validate:"max=100"`

	// Property descriptors
	PropertyType string         `json:"property_type" validate:"required,oneof=apartamento casa lote local oficina bodega"`
	Stratum      int            `json:"stratum" validate:"required,min=1,max=6"`
	BuiltArea    NullableNumber `json:"built_area" validate:"omitempty,gt=0,lte=100000"`
	Area         NullableNumber `json:"area" validate:"omitempty,gt=0,lte=10000000"`
	AdminFee     NullableNumber `json:"admin_fee" validate:"omitempty,gte=0"`
	AgeYears     NullableNumber `json:"age_years" validate:"omitempty,gte=0,lte=300"`
	Bedrooms     int            `json:"bedrooms" validate:"gte=0,lte=50"`
	Bathrooms    int            `json:"bathrooms" validate:"gte=0,lte=50"`
	ParkingSpots int            `json:"parking_spots" validate:"gte=0,lte=50"`
	Floor        int            `json:"floor" validate:"gte=0,lte=200"`

	// Habitability
	ConservationState      string                 `json:"conservation_state" validate:"required,oneof=excelente bueno regular malo"`
	MaterialQualityEntries []MaterialQualityEntry `json:"material_quality_entries" validate:"dive"`

	ExpectedValue NullableNumber `json:"expected_value" validate:"omitempty,gt=0"`

	// Propiedad horizontal
	PHApplies     bool           `json:"ph_applies"`
	PHName        string         `json:"ph_name" validate:"max=150"`
	PHCoefficient NullableNumber `json:"ph_coefficient" validate:"omitempty,gt=0,lte=100"`
	PHHasDoorman  bool           `json:"ph_has_doorman"`
	PHCommonAreas []string       `json:"ph_common_areas" validate:"dive,oneof=piscina gimnasio salon_comunal parque_infantil bbq ascensor zonas_verdes"`

	// Special declaration zone
	SpecialZoneApplies      bool     `json:"special_zone_applies"`
	SpecialZoneType         string   `json:"special_zone_type" validate:"omitempty,oneof=patrimonio_cultural reserva_ambiental zona_riesgo renovacion_urbana"`
	SpecialZoneAct          string   `json:"special_zone_act" validate:"max=200"`
	SpecialZoneRestrictions []string `json:"special_zone_restrictions" validate:"dive,max=100"`

	// Plan de ordenamiento territorial
	POTApplies      bool     `json:"pot_applies"`
	POTRestrictions []string `json:"pot_restrictions" validate:"dive,oneof=altura uso_suelo aislamiento afectacion_vial ronda_hidrica cesion"`
	POTNotes        string   `json:"pot_notes" validate:"max=1000"`

	// Liens and other legal encumbrances
	EncumbrancesApply  bool           `json:"encumbrances_apply"`
	EncumbranceTypes   []string       `json:"encumbrance_types" validate:"dive,oneof=hipoteca embargo servidumbre usufructo patrimonio_familia afectacion_vivienda"`
	EncumbranceDetails string         `json:"encumbrance_details" validate:"max=1000"`
	EncumbranceValue   NullableNumber `json:"encumbrance_value" validate:"omitempty,gte=0"`

	// Legal attestations, always required
	TruthfulnessDeclaration bool `json:"truthfulness_declaration" validate:"required"`
	DataProcessingConsent   bool `json:"data_processing_consent" validate:"required"`
}

// MaterialQualityEntry describes the finish quality of one part of the property.
type MaterialQualityEntry struct {
	ID                 string `json:"id"`
	Location           string `json:"location" validate:"max=120"`
	QualityDescription string `json:"quality_description" validate:"max=500"`
}

// ImageUpload is an attached property photo as received from the client.
type ImageUpload struct {
	Name        string
	ContentType string
	Data        []byte
}

// AppraisalStatus is the lifecycle state of a persisted appraisal.
type AppraisalStatus string

const (
	StatusPending   AppraisalStatus = "pending"
	StatusCompleted AppraisalStatus = "completed"
	StatusFailed    AppraisalStatus = "failed"
	StatusTimedOut  AppraisalStatus = "timed_out"
)

// Terminal reports whether no further transition is expected.
func (s AppraisalStatus) Terminal() bool {
	return s != StatusPending
}

// Valid reports whether s is a known status.
func (s AppraisalStatus) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusFailed, StatusTimedOut:
		return true
	}
	return false
}

// AppraisalRecord is one row of the appraisals table.
// Exactly one of UserID and AnonymousSessionID is normally set.
type AppraisalRecord struct {
	ID                 string          `json:"id"`
	UserID             *string         `json:"user_id"`
	AnonymousSessionID *string         `json:"anonymous_session_id"`
	InitialData        json.RawMessage `json:"initial_data"`
	ResultData         json.RawMessage `json:"result_data"`
	Status             AppraisalStatus `json:"status"`
	ErrorMessage       *string         `json:"error_message,omitempty"`
	DeadlineAt         *time.Time      `json:"deadline_at,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// OwnedBy reports whether the record belongs to the identity.
func (r *AppraisalRecord) OwnedBy(id Identity) bool {
	if r.UserID != nil && id.UserID != "" && *r.UserID == id.UserID {
		return true
	}
	if r.AnonymousSessionID != nil && id.AnonymousSessionID != "" && *r.AnonymousSessionID == id.AnonymousSessionID {
		return true
	}
	return false
}

// StatusEvent is published whenever an appraisal changes state.
type StatusEvent struct {
	ID     string          `json:"id"`
	Status AppraisalStatus `json:"status"`
}

// Identity is the caller resolved from a session token.
type Identity struct {
	UserID             string `json:"user_id,omitempty"`
	AnonymousSessionID string `json:"anonymous_session_id,omitempty"`
	Email              string `json:"email,omitempty"`
	Phone              string `json:"phone,omitempty"`
}

// Authenticated reports whether the identity belongs to a registered account.
func (i Identity) Authenticated() bool {
	return i.UserID != "" && (i.Email != "" || i.Phone != "")
}

// Empty reports whether no identity could be resolved.
func (i Identity) Empty() bool {
	return i.UserID == "" && i.AnonymousSessionID == ""
}

// StatusSnapshot is the subset of a record needed to answer status queries.
type StatusSnapshot struct {
	ID         string          `json:"id"`
	Status     AppraisalStatus `json:"status"`
	DeadlineAt *time.Time      `json:"deadline_at,omitempty"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Overdue reports whether a pending record has passed its deadline.
func (s StatusSnapshot) Overdue(now time.Time) bool {
	return s.Status == StatusPending && s.DeadlineAt != nil && !now.Before(*s.DeadlineAt)
}

// ResultUpsert is the write performed when the workflow reports back.
type ResultUpsert struct {
	ID                 string
	UserID             *string
	AnonymousSessionID *string
	ResultData         json.RawMessage
	Status             AppraisalStatus
	ErrorMessage       *string
}

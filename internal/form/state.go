package form

import (
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/stwalsh4118/peritaje/internal/models"
)

var (
	ErrEntryNotFound = errors.New("material quality entry not found")
	ErrLastEntry     = errors.New("cannot remove the last material quality entry")
)

// ImageSet holds the attachments of one submission.
// Bounds are checked by the Validator, not here.
type ImageSet struct {
	images []models.ImageUpload
}

// Add appends images.
func (s *ImageSet) Add(images ...models.ImageUpload) {
	s.images = append(s.images, images...)
}

// Len returns the number of images held.
func (s *ImageSet) Len() int {
	return len(s.images)
}

// All returns a copy of the held images.
func (s *ImageSet) All() []models.ImageUpload {
	out := make([]models.ImageUpload, len(s.images))
	copy(out, s.images)
	return out
}

// MaterialEntries holds the repeatable material quality rows. It always
// keeps at least one row.
type MaterialEntries struct {
	entries []models.MaterialQualityEntry
}

// NewMaterialEntries seeds the holder, adding a blank row when none is given.
// Rows without an id get one.
func NewMaterialEntries(initial ...models.MaterialQualityEntry) *MaterialEntries {
	m := &MaterialEntries{}
	for _, e := range initial {
		if e.ID == "" {
			e.ID = uuid.New().String()
		}
		m.entries = append(m.entries, e)
	}
	if len(m.entries) == 0 {
		m.Add()
	}
	return m
}

// Add appends a blank row and returns it.
func (m *MaterialEntries) Add() models.MaterialQualityEntry {
	e := models.MaterialQualityEntry{ID: uuid.New().String()}
	m.entries = append(m.entries, e)
	return e
}

// Update replaces the text of the row with the given id.
func (m *MaterialEntries) Update(id, location, description string) error {
	for i := range m.entries {
		if m.entries[i].ID == id {
			m.entries[i].Location = location
			m.entries[i].QualityDescription = description
			return nil
		}
	}
	return ErrEntryNotFound
}

// Remove deletes the row with the given id unless it is the only one left.
func (m *MaterialEntries) Remove(id string) error {
	for i := range m.entries {
		if m.entries[i].ID != id {
			continue
		}
		if len(m.entries) == 1 {
			return ErrLastEntry
		}
		m.entries = append(m.entries[:i:i], m.entries[i+1:]...)
		return nil
	}
	return ErrEntryNotFound
}

// All returns a copy of every row.
func (m *MaterialEntries) All() []models.MaterialQualityEntry {
	out := make([]models.MaterialQualityEntry, len(m.entries))
	copy(out, m.entries)
	return out
}

// Filled returns the rows with at least one non-blank field.
func (m *MaterialEntries) Filled() []models.MaterialQualityEntry {
	return FilterFilled(m.entries)
}

// FilterFilled drops rows whose location and description are both blank.
func FilterFilled(entries []models.MaterialQualityEntry) []models.MaterialQualityEntry {
	out := make([]models.MaterialQualityEntry, 0, len(entries))
	for _, e := range entries {
		if strings.TrimSpace(e.Location) == "" && strings.TrimSpace(e.QualityDescription) == "" {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Package workflow hands submissions to the external appraisal workflow and
// notifies the web client when results land.
package workflow

import (
	"context"
	"time"

	"github.com/stwalsh4118/peritaje/internal/models"
)

// EncodedImage is an attachment in transport-safe form.
type EncodedImage struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Data        string `json:"data"`
}

// Payload is the message sent to the workflow for one submission.
type Payload struct {
	RequestID              string                        `json:"request_id"`
	UserID                 string                        `json:"user_id,omitempty"`
	AnonymousSessionID     string                        `json:"anonymous_session_id,omitempty"`
	Form                   models.AppraisalForm          `json:"form"`
	Images                 []EncodedImage                `json:"images"`
	MaterialQualityDetails []models.MaterialQualityEntry `json:"material_quality_details"`
	SubmittedAt            time.Time                     `json:"submitted_at"`
}

// Trigger starts the external workflow for a submission.
type Trigger interface {
	Trigger(ctx context.Context, p Payload) error
}

package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/stwalsh4118/peritaje/internal/form"
	"github.com/stwalsh4118/peritaje/internal/logger"
	"github.com/stwalsh4118/peritaje/internal/models"
	"github.com/stwalsh4118/peritaje/internal/repository"
	"github.com/stwalsh4118/peritaje/internal/workflow"
)

// Submission steps, in execution order.
const (
	StepIdentity = "identity"
	StepPersist  = "persist"
	StepEncode   = "encode"
	StepTrigger  = "trigger"
)

const encodeConcurrency = 4

var (
	ErrNoIdentity = errors.New("no session identity")
	ErrEmptyImage = errors.New("image has no content")
)

// SubmissionError reports the step at which a submission stopped.
type SubmissionError struct {
	Step      string
	Err       error
	Retryable bool
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submission failed at %s: %v", e.Step, e.Err)
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// Submission is returned once the workflow has been triggered. The final
// status is observed through the realtime watcher.
type Submission struct {
	RequestID string                 `json:"request_id"`
	Status    models.AppraisalStatus `json:"status"`
}

// SubmissionService turns a validated form into a pending record and a
// workflow trigger.
type SubmissionService interface {
	Submit(ctx context.Context, id models.Identity, f models.AppraisalForm, images []models.ImageUpload, entries []models.MaterialQualityEntry) (*Submission, error)
}

type submissionService struct {
	repo           repository.AppraisalRepository
	trigger        workflow.Trigger
	pendingTimeout time.Duration
	log            *logger.Logger
	now            func() time.Time
}

// NewSubmissionService creates a SubmissionService. Records not resolved
// within pendingTimeout are later moved to timed_out.
func NewSubmissionService(repo repository.AppraisalRepository, trigger workflow.Trigger, pendingTimeout time.Duration, log *logger.Logger) SubmissionService {
	return &submissionService{
		repo:           repo,
		trigger:        trigger,
		pendingTimeout: pendingTimeout,
		log:            log,
		now:            time.Now,
	}
}

// Submit runs the submission steps in order. The pending record is written
// before the workflow is triggered, so a trigger never references a missing
// record. A failed trigger leaves the record pending until its deadline.
func (s *submissionService) Submit(ctx context.Context, id models.Identity, f models.AppraisalForm, images []models.ImageUpload, entries []models.MaterialQualityEntry) (*Submission, error) {
	if id.Empty() {
		s.log.Error("Submission without identity", ErrNoIdentity, nil)
		return nil, &SubmissionError{Step: StepIdentity, Err: ErrNoIdentity}
	}

	requestID := uuid.New().String()
	f = form.Normalize(f)
	if entries == nil {
		entries = f.MaterialQualityEntries
	}

	fields := map[string]interface{}{
		"request_id": requestID,
		"images":     len(images),
	}

	// Persist the pending record first
	initial, err := json.Marshal(f)
	if err != nil {
		return nil, &SubmissionError{Step: StepPersist, Err: fmt.Errorf("failed to encode form: %w", err)}
	}

	now := s.now()
	deadline := now.Add(s.pendingTimeout)
	rec := &models.AppraisalRecord{
		ID:          requestID,
		InitialData: initial,
		DeadlineAt:  &deadline,
	}
	if id.UserID != "" {
		rec.UserID = &id.UserID
	} else {
		rec.AnonymousSessionID = &id.AnonymousSessionID
	}

	if err := s.repo.CreatePending(ctx, rec); err != nil {
		s.log.Error("Failed to persist pending appraisal", err, fields)
		return nil, &SubmissionError{Step: StepPersist, Err: err, Retryable: true}
	}

	// Encode images, all or nothing
	encoded, err := encodeImages(ctx, images)
	if err != nil {
		s.log.Error("Failed to encode images", err, fields)
		return nil, &SubmissionError{Step: StepEncode, Err: err}
	}

	payload := workflow.Payload{
		RequestID:              requestID,
		UserID:                 id.UserID,
		Form:                   f,
		Images:                 encoded,
		MaterialQualityDetails: form.NewMaterialEntries(entries...).Filled(),
		SubmittedAt:            now.UTC(),
	}
	if id.UserID == "" {
		payload.AnonymousSessionID = id.AnonymousSessionID
	}

	// Hand off to the workflow
	if err := s.trigger.Trigger(ctx, payload); err != nil {
		s.log.Error("Failed to trigger appraisal workflow", err, fields)
		return nil, &SubmissionError{Step: StepTrigger, Err: err, Retryable: true}
	}

	fields["material_entries"] = len(payload.MaterialQualityDetails)
	s.log.Info("Appraisal submitted", fields)

	return &Submission{RequestID: requestID, Status: models.StatusPending}, nil
}

// encodeImages base64-encodes every image in parallel. Order is preserved.
func encodeImages(ctx context.Context, images []models.ImageUpload) ([]workflow.EncodedImage, error) {
	out := make([]workflow.EncodedImage, len(images))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(encodeConcurrency)

	for i, img := range images {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if len(img.Data) == 0 {
				return fmt.Errorf("%w: %s", ErrEmptyImage, img.Name)
			}
			out[i] = workflow.EncodedImage{
				Name:        img.Name,
				ContentType: img.ContentType,
				Data:        base64.StdEncoding.EncodeToString(img.Data),
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

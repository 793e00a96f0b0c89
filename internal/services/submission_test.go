package services

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/stwalsh4118/peritaje/internal/logger"
	"github.com/stwalsh4118/peritaje/internal/models"
	"github.com/stwalsh4118/peritaje/internal/workflow"
)

func submittableForm() models.AppraisalForm {
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

func oneImage() []models.ImageUpload {
	return []models.ImageUpload{{Name: "fachada.jpg", ContentType: "image/jpeg", Data: []byte("jpeg-bytes")}}
}

func newSubmission(repo *MockAppraisalRepository, trigger *MockTrigger) *submissionService {
	svc := NewSubmissionService(repo, trigger, 15*time.Minute, logger.Nop()).(*submissionService)
	svc.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return svc
}

func TestSubmit_PendingWriteThenSingleTrigger(t *testing.T) {
	repo := new(MockAppraisalRepository)
	trigger := new(MockTrigger)
	svc := newSubmission(repo, trigger)

	var order []string
	var written *models.AppraisalRecord
	repo.On("CreatePending", mock.Anything, mock.AnythingOfType("*models.AppraisalRecord")).
		Run(func(args mock.Arguments) {
			order = append(order, "persist")
			written = args.Get(1).(*models.AppraisalRecord)
		}).Return(nil).Once()

	var sent workflow.Payload
	trigger.On("Trigger", mock.Anything, mock.AnythingOfType("workflow.Payload")).
		Run(func(args mock.Arguments) {
			order = append(order, "trigger")
			sent = args.Get(1).(workflow.Payload)
		}).Return(nil).Once()

	identity := models.Identity{AnonymousSessionID: "anon-1"}
	sub, err := svc.Submit(context.Background(), identity, submittableForm(), oneImage(), nil)

	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, sub.Status)
	assert.Equal(t, []string{"persist", "trigger"}, order)

	require.NotNil(t, written)
	assert.Equal(t, sub.RequestID, written.ID)
	assert.Equal(t, sub.RequestID, sent.RequestID)
	assert.Nil(t, written.UserID)
	assert.Equal(t, "anon-1", *written.AnonymousSessionID)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 15, 0, 0, time.UTC), *written.DeadlineAt)
	assert.Contains(t, string(written.InitialData), `"department":"Dept1"`)

	assert.Equal(t, "anon-1", sent.AnonymousSessionID)
	assert.Empty(t, sent.UserID)
	require.Len(t, sent.Images, 1)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("jpeg-bytes")), sent.Images[0].Data)
	assert.Len(t, sent.MaterialQualityDetails, 1)

	repo.AssertExpectations(t)
	trigger.AssertExpectations(t)
}

func TestSubmit_FiltersBlankMaterialEntries(t *testing.T) {
	repo := new(MockAppraisalRepository)
	trigger := new(MockTrigger)
	svc := newSubmission(repo, trigger)

	repo.On("CreatePending", mock.Anything, mock.Anything).Return(nil)
	var sent workflow.Payload
	trigger.On("Trigger", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { sent = args.Get(1).(workflow.Payload) }).
		Return(nil)

	entries := []models.MaterialQualityEntry{
		{ID: "1", Location: "Cocina", QualityDescription: "Granito"},
		{ID: "2", Location: "Baño"},
		{QualityDescription: "Madera"},
		{ID: "4", Location: "  ", QualityDescription: ""},
	}

	_, err := svc.Submit(context.Background(), models.Identity{UserID: "user-1"}, submittableForm(), oneImage(), entries)
	require.NoError(t, err)

	assert.Len(t, sent.MaterialQualityDetails, 3)
	for _, e := range sent.MaterialQualityDetails {
		assert.NotEmpty(t, e.ID)
	}
	assert.Equal(t, "user-1", sent.UserID)
	assert.Empty(t, sent.AnonymousSessionID)
}

func TestSubmit_NoIdentity(t *testing.T) {
	repo := new(MockAppraisalRepository)
	trigger := new(MockTrigger)
	svc := newSubmission(repo, trigger)

	_, err := svc.Submit(context.Background(), models.Identity{}, submittableForm(), oneImage(), nil)

	var subErr *SubmissionError
	require.ErrorAs(t, err, &subErr)
	assert.Equal(t, StepIdentity, subErr.Step)
	assert.False(t, subErr.Retryable)
	assert.ErrorIs(t, err, ErrNoIdentity)
	repo.AssertNotCalled(t, "CreatePending", mock.Anything, mock.Anything)
	trigger.AssertNotCalled(t, "Trigger", mock.Anything, mock.Anything)
}

func TestSubmit_PersistFailureSkipsTrigger(t *testing.T) {
	repo := new(MockAppraisalRepository)
	trigger := new(MockTrigger)
	svc := newSubmission(repo, trigger)

	repo.On("CreatePending", mock.Anything, mock.Anything).Return(errors.New("connection refused"))

	_, err := svc.Submit(context.Background(), models.Identity{UserID: "u"}, submittableForm(), oneImage(), nil)

	var subErr *SubmissionError
	require.ErrorAs(t, err, &subErr)
	assert.Equal(t, StepPersist, subErr.Step)
	assert.True(t, subErr.Retryable)
	trigger.AssertNotCalled(t, "Trigger", mock.Anything, mock.Anything)
}

func TestSubmit_EncodeFailureAborts(t *testing.T) {
	repo := new(MockAppraisalRepository)
	trigger := new(MockTrigger)
	svc := newSubmission(repo, trigger)

	repo.On("CreatePending", mock.Anything, mock.Anything).Return(nil)

	images := append(oneImage(), models.ImageUpload{Name: "vacia.jpg"})
	_, err := svc.Submit(context.Background(), models.Identity{UserID: "u"}, submittableForm(), images, nil)

	var subErr *SubmissionError
	require.ErrorAs(t, err, &subErr)
	assert.Equal(t, StepEncode, subErr.Step)
	assert.ErrorIs(t, err, ErrEmptyImage)
	trigger.AssertNotCalled(t, "Trigger", mock.Anything, mock.Anything)
}

func TestSubmit_TriggerFailure(t *testing.T) {
	repo := new(MockAppraisalRepository)
	trigger := new(MockTrigger)
	svc := newSubmission(repo, trigger)

	repo.On("CreatePending", mock.Anything, mock.Anything).Return(nil)
	trigger.On("Trigger", mock.Anything, mock.Anything).Return(&workflow.StatusError{StatusCode: 502})

	_, err := svc.Submit(context.Background(), models.Identity{UserID: "u"}, submittableForm(), oneImage(), nil)

	var subErr *SubmissionError
	require.ErrorAs(t, err, &subErr)
	assert.Equal(t, StepTrigger, subErr.Step)
	assert.True(t, subErr.Retryable)
	assert.Contains(t, err.Error(), "trigger")
	repo.AssertNumberOfCalls(t, "CreatePending", 1)
}

func TestSubmit_NormalizesInactiveGroups(t *testing.T) {
	repo := new(MockAppraisalRepository)
	trigger := new(MockTrigger)
	svc := newSubmission(repo, trigger)

	repo.On("CreatePending", mock.Anything, mock.Anything).Return(nil)
	var sent workflow.Payload
	trigger.On("Trigger", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { sent = args.Get(1).(workflow.Payload) }).
		Return(nil)

	f := submittableForm()
	f.PHApplies = false
	f.PHName = "Torres del Parque"

	_, err := svc.Submit(context.Background(), models.Identity{UserID: "u"}, f, oneImage(), nil)
	require.NoError(t, err)
	assert.Empty(t, sent.Form.PHName)
}

func TestEncodeImages_PreservesOrder(t *testing.T) {
	images := make([]models.ImageUpload, 10)
	for i := range images {
		images[i] = models.ImageUpload{Name: string(rune('a' + i)), Data: []byte{byte(i + 1)}}
	}

	out, err := encodeImages(context.Background(), images)
	require.NoError(t, err)
	require.Len(t, out, 10)
	for i := range images {
		assert.Equal(t, images[i].Name, out[i].Name)
	}
}

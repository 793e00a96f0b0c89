package handlers

import (
	"context"
	"encoding/json"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/mock"

	"github.com/stwalsh4118/peritaje/internal/logger"
	"github.com/stwalsh4118/peritaje/internal/middleware"
	"github.com/stwalsh4118/peritaje/internal/models"
	"github.com/stwalsh4118/peritaje/internal/services"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// newTestRouter creates a router with the request-scoped middleware.
func newTestRouter() *gin.Engine {
	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(logger.Nop()))
	return router
}

// withIdentity stands in for the session middleware.
func withIdentity(id models.Identity) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.IdentityKey, id)
		c.Next()
	}
}

// MockSubmissionService is a mock implementation of SubmissionService for testing
type MockSubmissionService struct {
	mock.Mock
}

func (m *MockSubmissionService) Submit(ctx context.Context, id models.Identity, f models.AppraisalForm, images []models.ImageUpload, entries []models.MaterialQualityEntry) (*services.Submission, error) {
	args := m.Called(ctx, id, f, images, entries)
	sub, _ := args.Get(0).(*services.Submission)
	return sub, args.Error(1)
}

// MockAppraisalService is a mock implementation of AppraisalService for testing
type MockAppraisalService struct {
	mock.Mock
}

func (m *MockAppraisalService) Details(ctx context.Context, id string) (*models.AppraisalRecord, error) {
	args := m.Called(ctx, id)
	rec, _ := args.Get(0).(*models.AppraisalRecord)
	return rec, args.Error(1)
}

func (m *MockAppraisalService) Status(ctx context.Context, id string) (*services.StatusView, error) {
	args := m.Called(ctx, id)
	view, _ := args.Get(0).(*services.StatusView)
	return view, args.Error(1)
}

func (m *MockAppraisalService) Receive(ctx context.Context, secret string, body []byte) (*models.AppraisalRecord, error) {
	args := m.Called(ctx, secret, body)
	rec, _ := args.Get(0).(*models.AppraisalRecord)
	return rec, args.Error(1)
}

func (m *MockAppraisalService) Associate(ctx context.Context, anonymousSessionID, userID string) (int64, error) {
	args := m.Called(ctx, anonymousSessionID, userID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockAppraisalService) History(ctx context.Context, owner models.Identity, limit int) ([]models.AppraisalRecord, error) {
	args := m.Called(ctx, owner, limit)
	list, _ := args.Get(0).([]models.AppraisalRecord)
	return list, args.Error(1)
}

func (m *MockAppraisalService) SaveResult(ctx context.Context, owner models.Identity, id string, result json.RawMessage) (*models.AppraisalRecord, error) {
	args := m.Called(ctx, owner, id, result)
	rec, _ := args.Get(0).(*models.AppraisalRecord)
	return rec, args.Error(1)
}

// MockReportRenderer is a mock implementation of ReportRenderer for testing
type MockReportRenderer struct {
	mock.Mock
}

func (m *MockReportRenderer) Render(ctx context.Context, id string) ([]byte, error) {
	args := m.Called(ctx, id)
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1)
}

// fakeWatcher replays a fixed list of statuses.
type fakeWatcher struct {
	statuses []models.AppraisalStatus
	err      error
}

func (f *fakeWatcher) Watch(ctx context.Context, id string, fn func(models.StatusEvent) error) error {
	for _, s := range f.statuses {
		if err := fn(models.StatusEvent{ID: id, Status: s}); err != nil {
			return err
		}
	}
	return f.err
}

// errorBody is the decoded error envelope.
type errorBody struct {
	Error struct {
		Code    string            `json:"code"`
		Message string            `json:"message"`
		Details map[string]string `json:"details"`
	} `json:"error"`
}

package services

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stwalsh4118/peritaje/internal/logger"
	"github.com/stwalsh4118/peritaje/internal/models"
	"github.com/stwalsh4118/peritaje/internal/repository"
	"github.com/stwalsh4118/peritaje/internal/workflow"
)

// History listing bounds.
const (
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 100
)

// Service-level errors
var (
	ErrAppraisalNotFound     = errors.New("appraisal not found")
	ErrMissingRequestID      = errors.New("callback carries no request id")
	ErrInvalidCallback       = errors.New("malformed callback payload")
	ErrUnauthorizedCallback  = errors.New("invalid callback secret")
	ErrCallbackNotConfigured = errors.New("callback secret not configured")
	ErrMissingIdentifiers    = errors.New("anonymous_session_id and user_id are required")
	ErrNotOwner              = errors.New("appraisal belongs to another session")
	ErrInvalidResult         = errors.New("result_data must be a JSON object")
	ErrNotCompleted          = errors.New("appraisal is not completed")
)

// callback keys that steer consolidation and are not stored as results.
const (
	keyRequestID      = "requestId"
	keyRequestIDSnake = "request_id"
	keySessionCookie  = "session_cookie"
)

// TokenParser resolves a signed session token to an identity.
type TokenParser interface {
	Parse(token string) (models.Identity, error)
}

// CacheInvalidator drops cached copies of a web client page.
type CacheInvalidator interface {
	Revalidate(ctx context.Context, path string) error
}

// StatusView is the answer to a status query. Result is only set once the
// appraisal is completed; Partial carries whatever the workflow stored before.
type StatusView struct {
	ID           string                 `json:"id"`
	Status       models.AppraisalStatus `json:"status"`
	Result       json.RawMessage        `json:"result_data,omitempty"`
	Partial      json.RawMessage        `json:"partial,omitempty"`
	ErrorMessage *string                `json:"error_message,omitempty"`
}

// Completed reports whether the full result is available.
func (v StatusView) Completed() bool {
	return v.Status == models.StatusCompleted
}

// AppraisalService defines the read, callback and ownership operations on
// appraisal records.
type AppraisalService interface {
	// Details returns ErrAppraisalNotFound when the record does not exist.
	Details(ctx context.Context, id string) (*models.AppraisalRecord, error)

	// Status expires the record first when it is pending past its deadline.
	Status(ctx context.Context, id string) (*StatusView, error)

	// Receive authenticates and stores a workflow callback.
	Receive(ctx context.Context, secret string, body []byte) (*models.AppraisalRecord, error)

	// Associate backfills user_id on an anonymous session's records.
	Associate(ctx context.Context, anonymousSessionID, userID string) (int64, error)

	// History lists the identity's records, newest first.
	History(ctx context.Context, owner models.Identity, limit int) ([]models.AppraisalRecord, error)

	// SaveResult completes a record owned by the identity.
	SaveResult(ctx context.Context, owner models.Identity, id string, result json.RawMessage) (*models.AppraisalRecord, error)
}

type appraisalService struct {
	repo           repository.AppraisalRepository
	tokens         TokenParser
	cache          CacheInvalidator
	callbackSecret string
	log            *logger.Logger
	now            func() time.Time
}

// NewAppraisalService creates an AppraisalService. An empty callbackSecret
// makes every callback fail with ErrCallbackNotConfigured.
func NewAppraisalService(repo repository.AppraisalRepository, tokens TokenParser, cache CacheInvalidator, callbackSecret string, log *logger.Logger) AppraisalService {
	return &appraisalService{
		repo:           repo,
		tokens:         tokens,
		cache:          cache,
		callbackSecret: callbackSecret,
		log:            log,
		now:            time.Now,
	}
}

func (s *appraisalService) Details(ctx context.Context, id string) (*models.AppraisalRecord, error) {
	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		s.log.Error("Failed to query appraisal", err, map[string]interface{}{"appraisal_id": id})
		return nil, fmt.Errorf("failed to query appraisal: %w", err)
	}
	if rec == nil {
		return nil, ErrAppraisalNotFound
	}
	return rec, nil
}

func (s *appraisalService) Status(ctx context.Context, id string) (*StatusView, error) {
	snap, err := s.repo.GetStatus(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query appraisal status: %w", err)
	}
	if snap == nil {
		return nil, ErrAppraisalNotFound
	}

	if snap.Overdue(s.now()) {
		if _, err := s.repo.MarkTimedOut(ctx, id); err != nil {
			return nil, fmt.Errorf("failed to expire appraisal: %w", err)
		}
	}

	rec, err := s.Details(ctx, id)
	if err != nil {
		return nil, err
	}

	view := &StatusView{ID: rec.ID, Status: rec.Status, ErrorMessage: rec.ErrorMessage}
	if view.Completed() {
		view.Result = rec.ResultData
	} else {
		view.Partial = rec.ResultData
	}
	return view, nil
}

// Receive checks the shared secret, consolidates the payload, resolves the
// request id and owner, upserts the record and revalidates its results page.
func (s *appraisalService) Receive(ctx context.Context, secret string, body []byte) (*models.AppraisalRecord, error) {
	// Authenticate the caller
	if s.callbackSecret == "" {
		s.log.Error("Callback received but no secret is configured", ErrCallbackNotConfigured, nil)
		return nil, ErrCallbackNotConfigured
	}
	if subtle.ConstantTimeCompare([]byte(secret), []byte(s.callbackSecret)) != 1 {
		s.log.Warn("Callback rejected: bad secret", nil)
		return nil, ErrUnauthorizedCallback
	}

	if err := workflow.ValidateCallback(body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCallback, err)
	}

	// Array payloads are merged into one object
	merged, err := consolidate(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCallback, err)
	}

	requestID := extractRequestID(merged)
	if requestID == "" {
		s.log.Warn("Callback without request id", map[string]interface{}{
			"keys": len(merged),
		})
		return nil, ErrMissingRequestID
	}

	owner := s.resolveOwner(merged)
	status, errMsg := callbackStatus(merged)

	// the session token is not part of the result
	delete(merged, keySessionCookie)
	result, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCallback, err)
	}

	in := models.ResultUpsert{
		ID:           requestID,
		ResultData:   result,
		Status:       status,
		ErrorMessage: errMsg,
	}
	if owner.UserID != "" {
		in.UserID = &owner.UserID
	}
	if owner.AnonymousSessionID != "" {
		in.AnonymousSessionID = &owner.AnonymousSessionID
	}

	rec, err := s.repo.UpsertResult(ctx, in)
	if err != nil {
		s.log.Error("Failed to store callback result", err, map[string]interface{}{"appraisal_id": requestID})
		return nil, fmt.Errorf("failed to store callback result: %w", err)
	}

	if err := s.cache.Revalidate(ctx, workflow.ResultsPath(requestID)); err != nil {
		s.log.Warn("Failed to revalidate results page", map[string]interface{}{
			"appraisal_id": requestID,
			"error":        err.Error(),
		})
	}

	s.log.Info("Callback stored", map[string]interface{}{
		"appraisal_id":  requestID,
		"status":        string(rec.Status),
		"authenticated": owner.UserID != "",
	})
	return rec, nil
}

// resolveOwner prefers the embedded session token and falls back to explicit
// ids. Tokens without email or phone are anonymous sessions.
func (s *appraisalService) resolveOwner(m map[string]interface{}) models.Identity {
	if token := stringField(m, keySessionCookie); token != "" && s.tokens != nil {
		id, err := s.tokens.Parse(token)
		if err == nil {
			if id.Authenticated() {
				return models.Identity{UserID: id.UserID}
			}
			anon := id.AnonymousSessionID
			if anon == "" {
				anon = id.UserID
			}
			return models.Identity{AnonymousSessionID: anon}
		}
		s.log.Warn("Ignoring unparseable session cookie in callback", map[string]interface{}{
			"error": err.Error(),
		})
	}

	if user := stringField(m, "user_id"); user != "" {
		return models.Identity{UserID: user}
	}
	return models.Identity{AnonymousSessionID: stringField(m, "anonymous_session_id")}
}

func (s *appraisalService) Associate(ctx context.Context, anonymousSessionID, userID string) (int64, error) {
	anonymousSessionID = strings.TrimSpace(anonymousSessionID)
	userID = strings.TrimSpace(userID)
	if anonymousSessionID == "" || userID == "" {
		return 0, ErrMissingIdentifiers
	}

	n, err := s.repo.AssociateUser(ctx, anonymousSessionID, userID)
	if err != nil {
		s.log.Error("Failed to associate appraisals", err, map[string]interface{}{
			"anonymous_session_id": anonymousSessionID,
			"user_id":              userID,
		})
		return 0, fmt.Errorf("failed to associate appraisals: %w", err)
	}

	s.log.Info("Appraisals associated with user", map[string]interface{}{
		"user_id": userID,
		"count":   n,
	})
	return n, nil
}

func (s *appraisalService) History(ctx context.Context, owner models.Identity, limit int) ([]models.AppraisalRecord, error) {
	if owner.Empty() {
		return nil, ErrNoIdentity
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}

	records, err := s.repo.ListByOwner(ctx, owner, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list appraisals: %w", err)
	}
	return records, nil
}

func (s *appraisalService) SaveResult(ctx context.Context, owner models.Identity, id string, result json.RawMessage) (*models.AppraisalRecord, error) {
	trimmed := bytes.TrimSpace(result)
	if len(trimmed) == 0 || trimmed[0] != '{' || !json.Valid(trimmed) {
		return nil, ErrInvalidResult
	}

	rec, err := s.Details(ctx, id)
	if err != nil {
		return nil, err
	}
	if !rec.OwnedBy(owner) {
		s.log.Warn("Save result rejected for non-owner", map[string]interface{}{"appraisal_id": id})
		return nil, ErrNotOwner
	}

	saved, err := s.repo.SaveResult(ctx, id, trimmed)
	if err != nil {
		return nil, fmt.Errorf("failed to save result: %w", err)
	}
	if saved == nil {
		return nil, ErrAppraisalNotFound
	}

	if err := s.cache.Revalidate(ctx, workflow.ResultsPath(id)); err != nil {
		s.log.Warn("Failed to revalidate results page", map[string]interface{}{
			"appraisal_id": id,
			"error":        err.Error(),
		})
	}
	return saved, nil
}

// consolidate decodes an object, or an array of partial objects merged in
// order with later keys winning.
func consolidate(body []byte) (map[string]interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var raw interface{}
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}

	switch v := raw.(type) {
	case map[string]interface{}:
		return v, nil
	case []interface{}:
		merged := make(map[string]interface{})
		for i, item := range v {
			obj, ok := item.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("item %d is not an object", i)
			}
			for k, val := range obj {
				merged[k] = val
			}
		}
		return merged, nil
	default:
		return nil, fmt.Errorf("unexpected payload type %T", raw)
	}
}

// extractRequestID looks at the root first, then under "body", then "data".
func extractRequestID(m map[string]interface{}) string {
	if id := requestIDIn(m); id != "" {
		return id
	}
	for _, key := range []string{"body", "data"} {
		if nested, ok := m[key].(map[string]interface{}); ok {
			if id := requestIDIn(nested); id != "" {
				return id
			}
		}
	}
	return ""
}

func requestIDIn(m map[string]interface{}) string {
	if id := stringField(m, keyRequestID); id != "" {
		return id
	}
	return stringField(m, keyRequestIDSnake)
}

// callbackStatus defaults to completed, or failed when an error is present.
func callbackStatus(m map[string]interface{}) (models.AppraisalStatus, *string) {
	var errMsg *string
	if e := stringField(m, "error"); e != "" {
		errMsg = &e
	}

	switch models.AppraisalStatus(stringField(m, "status")) {
	case models.StatusCompleted:
		return models.StatusCompleted, nil
	case models.StatusFailed:
		return models.StatusFailed, errMsg
	}
	if errMsg != nil {
		return models.StatusFailed, errMsg
	}
	return models.StatusCompleted, nil
}

func stringField(m map[string]interface{}, key string) string {
	s, _ := m[key].(string)
	return strings.TrimSpace(s)
}

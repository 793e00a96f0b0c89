package services

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/stwalsh4118/peritaje/internal/models"
	"github.com/stwalsh4118/peritaje/internal/workflow"
)

// MockAppraisalRepository is a mock implementation of AppraisalRepository for testing
type MockAppraisalRepository struct {
	mock.Mock
}

func (m *MockAppraisalRepository) CreatePending(ctx context.Context, rec *models.AppraisalRecord) error {
	return m.Called(ctx, rec).Error(0)
}

func (m *MockAppraisalRepository) UpsertResult(ctx context.Context, in models.ResultUpsert) (*models.AppraisalRecord, error) {
	args := m.Called(ctx, in)
	if fn, ok := args.Get(0).(func(context.Context, models.ResultUpsert) *models.AppraisalRecord); ok {
		return fn(ctx, in), args.Error(1)
	}
	rec, _ := args.Get(0).(*models.AppraisalRecord)
	return rec, args.Error(1)
}

func (m *MockAppraisalRepository) GetByID(ctx context.Context, id string) (*models.AppraisalRecord, error) {
	args := m.Called(ctx, id)
	rec, _ := args.Get(0).(*models.AppraisalRecord)
	return rec, args.Error(1)
}

func (m *MockAppraisalRepository) GetStatus(ctx context.Context, id string) (*models.StatusSnapshot, error) {
	args := m.Called(ctx, id)
	snap, _ := args.Get(0).(*models.StatusSnapshot)
	return snap, args.Error(1)
}

func (m *MockAppraisalRepository) ListByOwner(ctx context.Context, owner models.Identity, limit int) ([]models.AppraisalRecord, error) {
	args := m.Called(ctx, owner, limit)
	list, _ := args.Get(0).([]models.AppraisalRecord)
	return list, args.Error(1)
}

func (m *MockAppraisalRepository) AssociateUser(ctx context.Context, anonymousSessionID, userID string) (int64, error) {
	args := m.Called(ctx, anonymousSessionID, userID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockAppraisalRepository) SaveResult(ctx context.Context, id string, result []byte) (*models.AppraisalRecord, error) {
	args := m.Called(ctx, id, result)
	rec, _ := args.Get(0).(*models.AppraisalRecord)
	return rec, args.Error(1)
}

func (m *MockAppraisalRepository) MarkTimedOut(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *MockAppraisalRepository) ExpireOverdue(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	ids, _ := args.Get(0).([]string)
	return ids, args.Error(1)
}

// MockTrigger records workflow invocations.
type MockTrigger struct {
	mock.Mock
}

func (m *MockTrigger) Trigger(ctx context.Context, p workflow.Payload) error {
	return m.Called(ctx, p).Error(0)
}

// MockCache records revalidated paths.
type MockCache struct {
	mock.Mock
}

func (m *MockCache) Revalidate(ctx context.Context, path string) error {
	return m.Called(ctx, path).Error(0)
}

package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"github.com/Demonslyr/posthog/internal/dto"
)

// MockPingChecker is a mock implementation of PingChecker.
type MockPingChecker struct {
	mock.Mock
}

func (m *MockPingChecker) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// MockStatsSource is a mock implementation of StatsSource.
type MockStatsSource struct {
	mock.Mock
}

func (m *MockStatsSource) CountByTeamSince(ctx context.Context, teamID int64, since time.Time) (uint64, error) {
	args := m.Called(ctx, teamID, since)
	return args.Get(0).(uint64), args.Error(1)
}

// MockDLQRedriver is a mock implementation of DLQRedriver.
type MockDLQRedriver struct {
	mock.Mock
}

func (m *MockDLQRedriver) Redrive(ctx context.Context, maxMessages int32, replay func(ctx context.Context, raw []byte) error) (int, error) {
	args := m.Called(ctx, maxMessages, replay)
	return args.Int(0), args.Error(1)
}

func noopReplay(ctx context.Context, raw []byte) error { return nil }

func TestHandler_Health(t *testing.T) {
	pg := new(MockPingChecker)
	stats := new(MockStatsSource)
	dlqRedriver := new(MockDLQRedriver)
	log := zap.NewNop()

	handler := NewHandler(pg, stats, dlqRedriver, noopReplay, log)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response dto.HealthResponse
	err := json.Unmarshal(w.Body.Bytes(), &response)
	assert.NoError(t, err)
	assert.Equal(t, "ok", response.Status)
}

func TestHandler_Ready_Success(t *testing.T) {
	pg := new(MockPingChecker)
	stats := new(MockStatsSource)
	dlqRedriver := new(MockDLQRedriver)
	log := zap.NewNop()

	handler := NewHandler(pg, stats, dlqRedriver, noopReplay, log)

	pg.On("Ping", mock.Anything).Return(nil)

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response dto.ReadyResponse
	err := json.Unmarshal(w.Body.Bytes(), &response)
	assert.NoError(t, err)
	assert.Equal(t, "ok", response.Status)
	assert.True(t, response.Postgres)
	pg.AssertExpectations(t)
}

func TestHandler_Ready_PostgresDown(t *testing.T) {
	pg := new(MockPingChecker)
	stats := new(MockStatsSource)
	dlqRedriver := new(MockDLQRedriver)
	log := zap.NewNop()

	handler := NewHandler(pg, stats, dlqRedriver, noopReplay, log)

	pg.On("Ping", mock.Anything).Return(errors.New("connection refused"))

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var response dto.ReadyResponse
	err := json.Unmarshal(w.Body.Bytes(), &response)
	assert.NoError(t, err)
	assert.Equal(t, "degraded", response.Status)
	assert.False(t, response.Postgres)
	pg.AssertExpectations(t)
}

func TestHandler_PipelineStats_Success(t *testing.T) {
	pg := new(MockPingChecker)
	stats := new(MockStatsSource)
	dlqRedriver := new(MockDLQRedriver)
	log := zap.NewNop()

	handler := NewHandler(pg, stats, dlqRedriver, noopReplay, log)

	stats.On("CountByTeamSince", mock.Anything, int64(42), mock.AnythingOfType("time.Time")).
		Return(uint64(18234), nil)

	req := httptest.NewRequest(http.MethodGet, "/pipeline/stats?team_id=42&since_unix_secs=1723475612", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response dto.PipelineStatsResponse
	err := json.Unmarshal(w.Body.Bytes(), &response)
	assert.NoError(t, err)
	assert.Equal(t, int64(42), response.TeamID)
	assert.Equal(t, uint64(18234), response.ProducedCount)
	stats.AssertExpectations(t)
}

func TestHandler_PipelineStats_MissingRequiredFields(t *testing.T) {
	pg := new(MockPingChecker)
	stats := new(MockStatsSource)
	dlqRedriver := new(MockDLQRedriver)
	log := zap.NewNop()

	handler := NewHandler(pg, stats, dlqRedriver, noopReplay, log)

	req := httptest.NewRequest(http.MethodGet, "/pipeline/stats?team_id=42", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)

	var response dto.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &response)
	assert.NoError(t, err)
	assert.Equal(t, "validation_error", response.Error)
	stats.AssertNotCalled(t, "CountByTeamSince")
}

func TestHandler_PipelineStats_SourceError(t *testing.T) {
	pg := new(MockPingChecker)
	stats := new(MockStatsSource)
	dlqRedriver := new(MockDLQRedriver)
	log := zap.NewNop()

	handler := NewHandler(pg, stats, dlqRedriver, noopReplay, log)

	sourceErr := errors.New("clickhouse connection error")
	stats.On("CountByTeamSince", mock.Anything, int64(42), mock.AnythingOfType("time.Time")).
		Return(uint64(0), sourceErr)

	req := httptest.NewRequest(http.MethodGet, "/pipeline/stats?team_id=42&since_unix_secs=1723475612", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)

	var response dto.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &response)
	assert.NoError(t, err)
	assert.Equal(t, "internal_error", response.Error)
	assert.Contains(t, response.Message, "clickhouse connection error")
	stats.AssertExpectations(t)
}

func TestHandler_RedriveDLQ_Success(t *testing.T) {
	pg := new(MockPingChecker)
	stats := new(MockStatsSource)
	dlqRedriver := new(MockDLQRedriver)
	log := zap.NewNop()

	handler := NewHandler(pg, stats, dlqRedriver, noopReplay, log)

	dlqRedriver.On("Redrive", mock.Anything, int32(5), mock.AnythingOfType("func(context.Context, []uint8) error")).
		Return(5, nil)

	req := httptest.NewRequest(http.MethodPost, "/dlq/redrive?max_messages=5", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response dto.DLQRedriveResponse
	err := json.Unmarshal(w.Body.Bytes(), &response)
	assert.NoError(t, err)
	assert.Equal(t, 5, response.Replayed)
	dlqRedriver.AssertExpectations(t)
}

func TestHandler_RedriveDLQ_DefaultsMaxMessages(t *testing.T) {
	pg := new(MockPingChecker)
	stats := new(MockStatsSource)
	dlqRedriver := new(MockDLQRedriver)
	log := zap.NewNop()

	handler := NewHandler(pg, stats, dlqRedriver, noopReplay, log)

	dlqRedriver.On("Redrive", mock.Anything, int32(10), mock.AnythingOfType("func(context.Context, []uint8) error")).
		Return(0, nil)

	req := httptest.NewRequest(http.MethodPost, "/dlq/redrive", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	dlqRedriver.AssertExpectations(t)
}

func TestHandler_RedriveDLQ_RedriveError(t *testing.T) {
	pg := new(MockPingChecker)
	stats := new(MockStatsSource)
	dlqRedriver := new(MockDLQRedriver)
	log := zap.NewNop()

	handler := NewHandler(pg, stats, dlqRedriver, noopReplay, log)

	redriveErr := errors.New("sqs receive error")
	dlqRedriver.On("Redrive", mock.Anything, int32(10), mock.AnythingOfType("func(context.Context, []uint8) error")).
		Return(0, redriveErr)

	req := httptest.NewRequest(http.MethodPost, "/dlq/redrive", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)

	var response dto.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &response)
	assert.NoError(t, err)
	assert.Equal(t, "internal_error", response.Error)
	assert.Contains(t, response.Message, "sqs receive error")
	dlqRedriver.AssertExpectations(t)
}

package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segyhp/loan-engine/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockAuditSink struct {
	mock.Mock
}

func (m *mockAuditSink) Append(ctx context.Context, entry *domain.AuditEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func TestAuditRecorder_Record(t *testing.T) {
	at := time.Date(2025, time.March, 1, 8, 0, 0, 0, time.UTC)
	recorder := NewAuditRecorder(func() time.Time { return at })
	sink := &mockAuditSink{}

	sink.On("Append", mock.Anything, mock.MatchedBy(func(e *domain.AuditEntry) bool {
		return e.Subject == "LN-1" &&
			e.Action == domain.AuditLoanRejected &&
			e.Actor == testAdmin &&
			e.CreatedAt.Equal(at) &&
			string(e.Before) == `{"status":"pending"}` &&
			string(e.After) == `{"status":"rejected"}`
	})).Return(nil)

	err := recorder.Record(context.Background(), sink, "LN-1", domain.AuditLoanRejected, testAdmin,
		map[string]string{"status": "pending"},
		map[string]string{"status": "rejected"},
	)

	require.NoError(t, err)
	sink.AssertExpectations(t)
}

func TestAuditRecorder_Record_NilBefore(t *testing.T) {
	recorder := NewAuditRecorder(time.Now)
	sink := &mockAuditSink{}
	sink.On("Append", mock.Anything, mock.MatchedBy(func(e *domain.AuditEntry) bool {
		return string(e.Before) == "null"
	})).Return(nil)

	require.NoError(t, recorder.Record(context.Background(), sink, "LN-1", domain.AuditLoanCreated, testAdmin, nil, struct{}{}))
	sink.AssertExpectations(t)
}

func TestAuditRecorder_Record_SinkError(t *testing.T) {
	recorder := NewAuditRecorder(time.Now)
	sink := &mockAuditSink{}
	sink.On("Append", mock.Anything, mock.Anything).Return(errors.New("disk full"))

	err := recorder.Record(context.Background(), sink, "LN-1", domain.AuditLoanCreated, testAdmin, nil, nil)

	assert.EqualError(t, err, "disk full")
}

func TestAuditRecorder_Record_Unmarshalable(t *testing.T) {
	recorder := NewAuditRecorder(time.Now)
	sink := &mockAuditSink{}

	err := recorder.Record(context.Background(), sink, "LN-1", domain.AuditLoanCreated, testAdmin, nil, make(chan int))

	assert.Error(t, err)
	sink.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)
}

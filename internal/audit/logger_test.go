package audit

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MedLarabi/compucar-sub005/internal/metrics"
)

type countingRecorder struct {
	metrics.Nop
	auditFailures int
}

func (c *countingRecorder) AuditFailure() { c.auditFailures++ }

func newTestLogger(mock *auditMock, rec metrics.Recorder) *Logger {
	l := NewLogger(NewStore(mock, "audit"), zerolog.Nop(), rec)
	l.backoff = time.Millisecond
	return l
}

func TestAppendAndTrail(t *testing.T) {
	mock := newAuditMock()
	l := newTestLogger(mock, nil)
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	n := 0
	l.nowFunc = func() time.Time { n++; return base.Add(time.Duration(n) * time.Second) }

	ctx := context.Background()
	l.Append(ctx, "f1", "admin-1", ActionStatusChange, "RECEIVED", "PENDING")
	l.Append(ctx, "f1", "admin-1", ActionEstimateSet, "", "15")
	l.Append(ctx, "f2", "admin-1", ActionStatusChange, "PENDING", "READY")

	trail, err := l.Trail(ctx, "f1")
	require.NoError(t, err)
	require.Len(t, trail, 2)
	assert.Equal(t, ActionStatusChange, trail[0].Action)
	assert.Equal(t, "RECEIVED", trail[0].OldValue)
	assert.Equal(t, "PENDING", trail[0].NewValue)
	assert.Equal(t, ActionEstimateSet, trail[1].Action)
	assert.Equal(t, "admin-1", trail[1].ActorID)
}

func TestAppend_RetriesTransientFailure(t *testing.T) {
	mock := newAuditMock()
	mock.failPut = 2
	rec := &countingRecorder{}
	l := newTestLogger(mock, rec)

	l.Append(context.Background(), "f1", "u1", ActionStatusChange, "PENDING", "READY")

	assert.Equal(t, 3, mock.puts)
	assert.Equal(t, 0, rec.auditFailures)
	trail, err := l.Trail(context.Background(), "f1")
	require.NoError(t, err)
	assert.Len(t, trail, 1)
}

func TestAppend_RetriesAfterCallerCancels(t *testing.T) {
	mock := newAuditMock()
	mock.failPut = 1
	rec := &countingRecorder{}
	l := newTestLogger(mock, rec)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	l.Append(ctx, "f1", "admin-1", ActionModifiedAttached, "", "stage1.bin")

	assert.Equal(t, 2, mock.puts)
	assert.Equal(t, 0, rec.auditFailures)
	trail, err := l.Trail(context.Background(), "f1")
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, "stage1.bin", trail[0].NewValue)
}

func TestAppend_GivesUpWithoutPanicking(t *testing.T) {
	mock := newAuditMock()
	mock.failPut = 10
	rec := &countingRecorder{}
	l := newTestLogger(mock, rec)

	l.Append(context.Background(), "f1", "u1", ActionStatusChange, "PENDING", "READY")

	assert.Equal(t, defaultAttempts, mock.puts)
	assert.Equal(t, 1, rec.auditFailures)
}

func TestStorePut_Duplicate(t *testing.T) {
	mock := newAuditMock()
	s := NewStore(mock, "audit")
	e := Entry{FileID: "f1", EntryID: "2024-01-01T00:00:00Z#x", Action: ActionStatusChange, CreatedAt: time.Now()}
	require.NoError(t, s.Put(context.Background(), e))
	assert.ErrorIs(t, s.Put(context.Background(), e), ErrDuplicateEntry)
}

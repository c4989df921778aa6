// Package audit records an append-only trail of every action that changes a
// tuning file.
package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/MedLarabi/compucar-sub005/internal/metrics"
)

const (
	defaultAttempts = 3
	defaultBackoff  = 100 * time.Millisecond

	// entryTimeLayout is fixed width so entry ids sort chronologically.
	entryTimeLayout = "2006-01-02T15:04:05.000000000Z"
)

// Writer is the persistence used by Logger.
type Writer interface {
	Put(ctx context.Context, e Entry) error
	ListByFile(ctx context.Context, fileID string) ([]Entry, error)
}

// Logger appends audit entries. Append never fails its caller: a write that
// still fails after retries is logged and counted.
type Logger struct {
	store    Writer
	log      zerolog.Logger
	metrics  metrics.Recorder
	attempts int
	backoff  time.Duration
	nowFunc  func() time.Time
	newID    func() uuid.UUID
}

func NewLogger(store Writer, log zerolog.Logger, rec metrics.Recorder) *Logger {
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &Logger{
		store:    store,
		log:      log.With().Str("component", "audit").Logger(),
		metrics:  rec,
		attempts: defaultAttempts,
		backoff:  defaultBackoff,
		nowFunc:  time.Now,
		newID:    uuid.New,
	}
}

// Append records action on fileID by actorID.
func (l *Logger) Append(ctx context.Context, fileID, actorID, action, oldValue, newValue string) {
	// Retries outlive the caller's cancellation.
	ctx = context.WithoutCancel(ctx)
	now := l.nowFunc().UTC()
	e := Entry{
		FileID:    fileID,
		EntryID:   now.Format(entryTimeLayout) + "#" + l.newID().String(),
		ActorID:   actorID,
		Action:    action,
		OldValue:  oldValue,
		NewValue:  newValue,
		CreatedAt: now,
	}

	var err error
retry:
	for attempt := 1; attempt <= l.attempts; attempt++ {
		err = l.store.Put(ctx, e)
		if err == nil || errors.Is(err, ErrDuplicateEntry) {
			return
		}
		l.log.Warn().Err(err).Str("file_id", fileID).Str("action", action).Int("attempt", attempt).Msg("audit write failed")
		if attempt == l.attempts {
			break
		}
		select {
		case <-ctx.Done():
			break retry
		case <-time.After(time.Duration(attempt) * l.backoff):
		}
	}

	l.metrics.AuditFailure()
	l.log.Error().Err(err).
		Str("file_id", e.FileID).
		Str("entry_id", e.EntryID).
		Str("actor_id", e.ActorID).
		Str("action", e.Action).
		Str("old_value", e.OldValue).
		Str("new_value", e.NewValue).
		Msg("audit entry lost")
}

// Trail returns the audit entries of fileID, oldest first.
func (l *Logger) Trail(ctx context.Context, fileID string) ([]Entry, error) {
	return l.store.ListByFile(ctx, fileID)
}

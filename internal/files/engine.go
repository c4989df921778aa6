// Package files owns the tuning file lifecycle: submission, the
// RECEIVED/PENDING/READY state machine, modified file delivery and reads.
package files

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/MedLarabi/compucar-sub005/internal/apperr"
	"github.com/MedLarabi/compucar-sub005/internal/audit"
	"github.com/MedLarabi/compucar-sub005/internal/customers"
	"github.com/MedLarabi/compucar-sub005/internal/metrics"
	"github.com/MedLarabi/compucar-sub005/internal/notify"
	"github.com/MedLarabi/compucar-sub005/internal/objectkey"
	"github.com/MedLarabi/compucar-sub005/internal/presign"
)

// transitions lists the allowed status edges. Anything absent is rejected.
var transitions = map[string]map[string]bool{
	StatusReceived: {StatusPending: true},
	StatusPending:  {StatusReady: true, StatusReceived: true},
	StatusReady:    {StatusPending: true},
}

// CanTransition reports whether from -> to is an allowed edge.
func CanTransition(from, to string) bool { return transitions[from][to] }

// NextStatuses returns the statuses reachable from status, sorted.
func NextStatuses(status string) []string {
	next := make([]string, 0, len(transitions[status]))
	for s := range transitions[status] {
		next = append(next, s)
	}
	sort.Strings(next)
	return next
}

// Auditor is the audit trail used by the engine.
type Auditor interface {
	Append(ctx context.Context, fileID, actorID, action, oldValue, newValue string)
	Trail(ctx context.Context, fileID string) ([]audit.Entry, error)
}

// Dispatcher fans an event out to notification channels.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev notify.Event) []notify.Result
}

// AccessIssuer issues object storage URLs.
type AccessIssuer interface {
	IssueUpload(ctx context.Context, key, contentType string, contentLength int64) (*presign.Access, error)
	IssueDownload(ctx context.Context, key, dispositionName string) (*presign.Access, error)
	Exists(ctx context.Context, key string) (bool, error)
}

// CustomerDirectory resolves file owners.
type CustomerDirectory interface {
	Get(ctx context.Context, userID string) (*customers.Customer, error)
}

// Deps groups the engine's collaborators.
type Deps struct {
	Store     *Store
	Keys      *objectkey.Generator
	Access    AccessIssuer
	Audit     Auditor
	Notify    Dispatcher
	Customers CustomerDirectory
	Metrics   metrics.Recorder
	Log       zerolog.Logger
	// DashboardURL is linked from customer "ready" notifications.
	DashboardURL string
}

// Engine applies file operations and their side effects.
type Engine struct {
	store        *Store
	keys         *objectkey.Generator
	access       AccessIssuer
	audit        Auditor
	notify       Dispatcher
	customers    CustomerDirectory
	metrics      metrics.Recorder
	log          zerolog.Logger
	dashboardURL string
	newID        func() string
	nowFunc      func() time.Time
}

func NewEngine(d Deps) *Engine {
	if d.Metrics == nil {
		d.Metrics = metrics.Nop{}
	}
	if d.Keys == nil {
		d.Keys = objectkey.New()
	}
	return &Engine{
		store:        d.Store,
		keys:         d.Keys,
		access:       d.Access,
		audit:        d.Audit,
		notify:       d.Notify,
		customers:    d.Customers,
		metrics:      d.Metrics,
		log:          d.Log.With().Str("component", "files").Logger(),
		dashboardURL: strings.TrimRight(d.DashboardURL, "/"),
		newID:        uuid.NewString,
		nowFunc:      time.Now,
	}
}

// Outcome is the result of a state-changing operation. Deliveries reports
// what happened on each notification channel.
type Outcome struct {
	File       *TuningFile
	Deliveries []notify.Result
}

// Transition moves a file to requested. estimate (minutes) may only
// accompany a move to PENDING.
func (e *Engine) Transition(ctx context.Context, fileID, requested string, actor Actor, estimate *int) (*Outcome, error) {
	if !actor.IsAdmin() {
		return nil, apperr.Authz("only administrators can change file status")
	}
	if _, known := transitions[requested]; !known {
		return nil, apperr.Validation(fmt.Sprintf("unknown status %q", requested))
	}
	if estimate != nil {
		if requested != StatusPending {
			return nil, apperr.Validation("an estimate can only be set when moving to PENDING")
		}
		if *estimate < MinEstimateMinutes || *estimate > MaxEstimateMinutes {
			return nil, apperr.Validation(fmt.Sprintf("estimate must be between %d and %d minutes", MinEstimateMinutes, MaxEstimateMinutes))
		}
	}

	current, err := e.mustGet(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(current.Status, requested) {
		return nil, apperr.Validation(fmt.Sprintf("cannot move file from %s to %s", current.Status, requested))
	}

	updated, err := e.store.UpdateStatus(ctx, StatusChange{
		FileID:   fileID,
		Expected: current.Status,
		Status:   requested,
		Estimate: estimate,
	})
	if errors.Is(err, ErrStatusMismatch) {
		return nil, apperr.Conflict("file status changed concurrently, reload and retry")
	}
	if err != nil {
		return nil, fmt.Errorf("update file status: %w", err)
	}
	e.metrics.Transition(current.Status, requested)

	e.audit.Append(ctx, fileID, actor.ID, audit.ActionStatusChange, current.Status, requested)
	if estimate != nil {
		var old string
		if current.EstimatedProcessingTime != nil {
			old = strconv.Itoa(*current.EstimatedProcessingTime)
		}
		e.audit.Append(ctx, fileID, actor.ID, audit.ActionEstimateSet, old, strconv.Itoa(*estimate))
	}

	e.log.Info().
		Str("file_id", fileID).
		Str("actor_id", actor.ID).
		Str("from", current.Status).
		Str("to", requested).
		Msg("file status changed")

	return &Outcome{File: updated, Deliveries: e.dispatchStatus(ctx, updated)}, nil
}

// AttachModified records an uploaded modified file and completes the file.
// The key must be the one last issued by PrepareModifiedUpload for this file
// and the object must already exist in storage.
func (e *Engine) AttachModified(ctx context.Context, fileID string, actor Actor, key, filename string) (*Outcome, error) {
	if !actor.IsAdmin() {
		return nil, apperr.Authz("only administrators can attach modified files")
	}
	key = strings.TrimSpace(key)
	filename = strings.TrimSpace(filename)
	if key == "" || filename == "" {
		return nil, apperr.Validation("key and filename are required")
	}
	if !strings.Contains(key, "/"+string(objectkey.Modified)+"/") {
		return nil, apperr.Validation("key does not address a modified file")
	}

	current, err := e.mustGet(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if current.PendingModifiedKey == "" || key != current.PendingModifiedKey {
		return nil, apperr.Validation("key was not issued for this file")
	}

	exists, err := e.access.Exists(ctx, key)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, apperr.Validation("modified file has not been uploaded")
	}

	updated, err := e.store.AttachModified(ctx, fileID, current.Status, key, filename)
	if errors.Is(err, ErrStatusMismatch) {
		return nil, apperr.Conflict("file status changed concurrently, reload and retry")
	}
	if err != nil {
		return nil, fmt.Errorf("attach modified file: %w", err)
	}

	e.audit.Append(ctx, fileID, actor.ID, audit.ActionModifiedAttached, current.ModifiedFilename, filename)
	if current.Status != StatusReady {
		e.metrics.Transition(current.Status, StatusReady)
		e.audit.Append(ctx, fileID, actor.ID, audit.ActionStatusChange, current.Status, StatusReady)
	}

	e.log.Info().
		Str("file_id", fileID).
		Str("actor_id", actor.ID).
		Str("from", current.Status).
		Str("key", key).
		Msg("modified file attached")

	return &Outcome{File: updated, Deliveries: e.dispatchStatus(ctx, updated)}, nil
}

// SubmitInput is a customer's new file submission.
type SubmitInput struct {
	Filename      string
	ContentType   string
	ContentLength int64
	Modifications []string
	Comment       string
	Price         float64
}

// Submission is a created file plus the URL to upload its content to.
type Submission struct {
	File       *TuningFile
	Upload     *presign.Access
	Deliveries []notify.Result
}

// Submit creates a RECEIVED file and issues the upload URL for its content.
// The record exists before the client uploads.
func (e *Engine) Submit(ctx context.Context, actor Actor, in SubmitInput) (*Submission, error) {
	if actor.ID == "" {
		return nil, apperr.Authz("an authenticated user is required")
	}
	if strings.TrimSpace(in.Filename) == "" {
		return nil, apperr.Validation("filename is required")
	}

	now := e.nowFunc().UTC()
	fileID := e.newID()
	owner := e.lookupCustomer(ctx, actor.ID)
	key := e.keys.Key(objectkey.Input{
		Kind:          objectkey.Original,
		OwnerID:       actor.ID,
		FileID:        fileID,
		Filename:      in.Filename,
		OwnerName:     owner.Name,
		SubmittedAt:   now,
		Modifications: in.Modifications,
	})

	upload, err := e.access.IssueUpload(ctx, key, in.ContentType, in.ContentLength)
	if err != nil {
		return nil, err
	}

	f := TuningFile{
		FileID:           fileID,
		OwnerID:          actor.ID,
		OriginalFilename: in.Filename,
		OriginalKey:      key,
		ContentType:      in.ContentType,
		Size:             in.ContentLength,
		Status:           StatusReceived,
		Price:            in.Price,
		PaymentStatus:    PaymentUnpaid,
		CustomerComment:  in.Comment,
		Modifications:    in.Modifications,
		CreatedAt:        now,
	}
	if err := e.store.Create(ctx, f); err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}
	f.UpdatedAt = now

	e.audit.Append(ctx, fileID, actor.ID, audit.ActionFileSubmitted, "", in.Filename)
	e.log.Info().Str("file_id", fileID).Str("owner_id", actor.ID).Str("key", key).Msg("file submitted")

	ev := e.fileEvent(&f, owner)
	ev.Kind = notify.KindFileSubmitted
	return &Submission{File: &f, Upload: upload, Deliveries: e.notify.Dispatch(ctx, ev)}, nil
}

// ModifiedUpload is a generated key for a modified version and its upload URL.
type ModifiedUpload struct {
	Key    string          `json:"key"`
	Upload *presign.Access `json:"upload"`
}

// PrepareModifiedUpload issues an upload URL for a modified version and
// remembers its key. The status is unchanged; AttachModified completes the
// file once uploaded.
func (e *Engine) PrepareModifiedUpload(ctx context.Context, fileID string, actor Actor, filename, contentType string, contentLength int64) (*ModifiedUpload, error) {
	if !actor.IsAdmin() {
		return nil, apperr.Authz("only administrators can upload modified files")
	}
	if strings.TrimSpace(filename) == "" {
		return nil, apperr.Validation("filename is required")
	}
	f, err := e.mustGet(ctx, fileID)
	if err != nil {
		return nil, err
	}
	owner := e.lookupCustomer(ctx, f.OwnerID)
	key := e.keys.Key(objectkey.Input{
		Kind:          objectkey.Modified,
		OwnerID:       f.OwnerID,
		FileID:        f.FileID,
		Filename:      filename,
		OwnerName:     owner.Name,
		SubmittedAt:   f.CreatedAt,
		Modifications: f.Modifications,
	})
	upload, err := e.access.IssueUpload(ctx, key, contentType, contentLength)
	if err != nil {
		return nil, err
	}
	if err := e.store.SetPendingModifiedKey(ctx, fileID, key); err != nil {
		return nil, fmt.Errorf("record modified key: %w", err)
	}
	return &ModifiedUpload{Key: key, Upload: upload}, nil
}

// Get returns a file readable by actor.
func (e *Engine) Get(ctx context.Context, fileID string, actor Actor) (*TuningFile, error) {
	f, err := e.mustGet(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if !actor.canRead(f) {
		return nil, apperr.Authz("not allowed to read this file")
	}
	return f, nil
}

// List returns the actor's own files.
func (e *Engine) List(ctx context.Context, actor Actor) ([]TuningFile, error) {
	if actor.ID == "" {
		return nil, apperr.Authz("an authenticated user is required")
	}
	out, err := e.store.ListByOwner(ctx, actor.ID)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	return out, nil
}

// Versions accepted by DownloadURL.
const (
	VersionOriginal = "original"
	VersionModified = "modified"
)

// DownloadURL issues a download URL for one version of a file. Customers
// can fetch the modified version only once the file is READY.
func (e *Engine) DownloadURL(ctx context.Context, fileID string, actor Actor, version string) (*presign.Access, error) {
	if version == "" {
		version = VersionOriginal
	}
	if version != VersionOriginal && version != VersionModified {
		return nil, apperr.Validation(fmt.Sprintf("unknown version %q", version))
	}
	f, err := e.Get(ctx, fileID, actor)
	if err != nil {
		return nil, err
	}

	key, name := f.OriginalKey, f.OriginalFilename
	if version == VersionModified {
		if !f.HasModified() || (!actor.IsAdmin() && f.Status != StatusReady) {
			return nil, apperr.NotFound("modified file is not available yet")
		}
		key, name = f.ModifiedKey, f.ModifiedFilename
	}
	return e.access.IssueDownload(ctx, key, name)
}

// AuditTrail returns the file's audit entries, oldest first.
func (e *Engine) AuditTrail(ctx context.Context, fileID string, actor Actor) ([]audit.Entry, error) {
	if _, err := e.Get(ctx, fileID, actor); err != nil {
		return nil, err
	}
	trail, err := e.audit.Trail(ctx, fileID)
	if err != nil {
		return nil, fmt.Errorf("read audit trail: %w", err)
	}
	return trail, nil
}

func (e *Engine) mustGet(ctx context.Context, fileID string) (*TuningFile, error) {
	f, err := e.store.Get(ctx, fileID)
	if err != nil {
		return nil, fmt.Errorf("load file: %w", err)
	}
	if f == nil {
		return nil, apperr.NotFound("file not found")
	}
	return f, nil
}

func (e *Engine) lookupCustomer(ctx context.Context, userID string) notify.Recipient {
	r := notify.Recipient{ID: userID}
	if e.customers == nil || userID == "" {
		return r
	}
	c, err := e.customers.Get(ctx, userID)
	if err != nil {
		e.log.Warn().Err(err).Str("user_id", userID).Msg("customer lookup failed")
		return r
	}
	if c == nil {
		return r
	}
	r.Name = c.DisplayName
	r.Email = c.Email
	r.TelegramChatID = c.TelegramChatID
	return r
}

func (e *Engine) fileEvent(f *TuningFile, owner notify.Recipient) notify.Event {
	return notify.Event{
		FileID:          f.FileID,
		Filename:        f.OriginalFilename,
		Status:          f.Status,
		EstimateMinutes: f.EstimatedProcessingTime,
		Modifications:   f.Modifications,
		Comment:         f.CustomerComment,
		Customer:        owner,
		NextStatuses:    NextStatuses(f.Status),
		OccurredAt:      f.UpdatedAt,
	}
}

func (e *Engine) dispatchStatus(ctx context.Context, f *TuningFile) []notify.Result {
	ev := e.fileEvent(f, e.lookupCustomer(ctx, f.OwnerID))
	switch f.Status {
	case StatusReceived:
		ev.Kind = notify.KindFileReceived
	case StatusPending:
		ev.Kind = notify.KindFilePending
	case StatusReady:
		ev.Kind = notify.KindFileReady
		if e.dashboardURL != "" {
			ev.URL = e.dashboardURL + "/files/" + f.FileID
		}
	}
	return e.notify.Dispatch(ctx, ev)
}

package files

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MedLarabi/compucar-sub005/internal/apperr"
	"github.com/MedLarabi/compucar-sub005/internal/audit"
	"github.com/MedLarabi/compucar-sub005/internal/aws/dynamotest"
	"github.com/MedLarabi/compucar-sub005/internal/customers"
	"github.com/MedLarabi/compucar-sub005/internal/notify"
	"github.com/MedLarabi/compucar-sub005/internal/objectkey"
	"github.com/MedLarabi/compucar-sub005/internal/presign"
)

var (
	admin    = Actor{ID: "admin-1", Role: RoleAdmin}
	customer = Actor{ID: "cust-1", Role: RoleCustomer}
	stranger = Actor{ID: "cust-2", Role: RoleCustomer}
)

type fakeAccess struct {
	mu       sync.Mutex
	maxBytes int64
	uploaded map[string]bool
	uploads  []string
	existErr error
}

func (f *fakeAccess) IssueUpload(ctx context.Context, key, contentType string, contentLength int64) (*presign.Access, error) {
	if f.maxBytes > 0 && contentLength > f.maxBytes {
		return nil, apperr.Validation("too large")
	}
	f.mu.Lock()
	f.uploads = append(f.uploads, key)
	f.mu.Unlock()
	return &presign.Access{URL: "https://s3.test/" + key + "?put", Method: "PUT"}, nil
}

func (f *fakeAccess) IssueDownload(ctx context.Context, key, name string) (*presign.Access, error) {
	return &presign.Access{URL: "https://s3.test/" + key + "?get=" + name, Method: "GET"}, nil
}

func (f *fakeAccess) Exists(ctx context.Context, key string) (bool, error) {
	if f.existErr != nil {
		return false, f.existErr
	}
	return f.uploaded[key], nil
}

type recNotifier struct {
	name  string
	kinds map[notify.Kind]bool
	err   error

	mu     sync.Mutex
	events []notify.Event
}

func newRecNotifier(name string, err error, kinds ...notify.Kind) *recNotifier {
	n := &recNotifier{name: name, err: err, kinds: map[notify.Kind]bool{}}
	for _, k := range kinds {
		n.kinds[k] = true
	}
	return n
}

func (n *recNotifier) Name() string               { return n.name }
func (n *recNotifier) Accepts(k notify.Kind) bool { return n.kinds[k] }
func (n *recNotifier) Notify(ctx context.Context, ev notify.Event) error {
	n.mu.Lock()
	n.events = append(n.events, ev)
	n.mu.Unlock()
	return n.err
}

func (n *recNotifier) seen() []notify.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notify.Event(nil), n.events...)
}

type harness struct {
	engine   *Engine
	fake     *dynamotest.Fake
	access   *fakeAccess
	operator *recNotifier
	chat     *recNotifier
	email    *recNotifier
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	fake := dynamotest.New()
	fake.CreateTable("files", "file_id", "", map[string]string{OwnerIndex: "owner_id"})
	fake.CreateTable("audit", "file_id", "entry_id", nil)
	fake.CreateTable("users", "user_id", "", nil)

	users, err := attributevalue.MarshalMap(customers.Customer{
		UserID:         "cust-1",
		DisplayName:    "Amine B",
		Email:          "amine@example.com",
		TelegramChatID: "777",
	})
	require.NoError(t, err)
	fake.Seed("users", users)

	h := &harness{
		fake:     fake,
		access:   &fakeAccess{uploaded: map[string]bool{}},
		operator: newRecNotifier("telegram:file_admin", nil, notify.KindFileSubmitted, notify.KindFileReceived, notify.KindFilePending, notify.KindFileReady),
		chat:     newRecNotifier("telegram:customer", nil, notify.KindFilePending, notify.KindFileReady),
		email:    newRecNotifier("email", nil, notify.KindFileReady),
	}
	log := zerolog.Nop()
	auditLog := audit.NewLogger(audit.NewStore(fake, "audit"), log, nil)
	h.engine = NewEngine(Deps{
		Store:        NewStore(fake, "files"),
		Keys:         &objectkey.Generator{NewID: uuid.New},
		Access:       h.access,
		Audit:        auditLog,
		Notify:       notify.NewDispatcher(log, nil, time.Second, h.operator, h.chat, h.email),
		Customers:    customers.NewStore(fake, "users"),
		Log:          log,
		DashboardURL: "https://shop.example.com/dashboard/",
	})
	return h
}

func (h *harness) seed(t *testing.T, f TuningFile) {
	t.Helper()
	if f.OwnerID == "" {
		f.OwnerID = customer.ID
	}
	if f.OriginalFilename == "" {
		f.OriginalFilename = "golf7.bin"
		f.OriginalKey = "orders/" + f.FileID + "-x/original/golf7.bin"
	}
	item, err := attributevalue.MarshalMap(f)
	require.NoError(t, err)
	h.fake.Seed("files", item)
}

func (h *harness) file(t *testing.T, id string) *TuningFile {
	t.Helper()
	f, err := h.engine.store.Get(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, f)
	return f
}

func (h *harness) trail(t *testing.T, id string) []audit.Entry {
	t.Helper()
	trail, err := h.engine.audit.Trail(context.Background(), id)
	require.NoError(t, err)
	return trail
}

func intPtr(v int) *int { return &v }

func TestTransition_AllPairs(t *testing.T) {
	statuses := []string{StatusReceived, StatusPending, StatusReady}
	allowed := map[[2]string]bool{
		{StatusReceived, StatusPending}: true,
		{StatusPending, StatusReady}:    true,
		{StatusPending, StatusReceived}: true,
		{StatusReady, StatusPending}:    true,
	}

	for _, from := range statuses {
		for _, to := range statuses {
			t.Run(from+"->"+to, func(t *testing.T) {
				h := newHarness(t)
				h.seed(t, TuningFile{FileID: "f1", Status: from})

				out, err := h.engine.Transition(context.Background(), "f1", to, admin, nil)

				if allowed[[2]string{from, to}] {
					require.NoError(t, err)
					assert.Equal(t, to, out.File.Status)
					assert.Equal(t, to, h.file(t, "f1").Status)
					trail := h.trail(t, "f1")
					require.Len(t, trail, 1)
					assert.Equal(t, audit.ActionStatusChange, trail[0].Action)
					assert.Equal(t, from, trail[0].OldValue)
					assert.Equal(t, to, trail[0].NewValue)
					assert.NotEmpty(t, h.operator.seen())
					return
				}
				assert.True(t, apperr.Is(err, apperr.KindValidation), "got %v", err)
				assert.Equal(t, from, h.file(t, "f1").Status)
				assert.Empty(t, h.trail(t, "f1"))
				assert.Empty(t, h.operator.seen())
				assert.Equal(t, 0, h.fake.Calls("UpdateItem"))
			})
		}
	}
}

func TestTransition_Rejections(t *testing.T) {
	h := newHarness(t)
	h.seed(t, TuningFile{FileID: "f1", Status: StatusReceived})
	ctx := context.Background()

	_, err := h.engine.Transition(ctx, "f1", StatusPending, customer, nil)
	assert.True(t, apperr.Is(err, apperr.KindAuthz))

	_, err = h.engine.Transition(ctx, "missing", StatusPending, admin, nil)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	_, err = h.engine.Transition(ctx, "f1", "SHIPPED", admin, nil)
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	for _, est := range []int{4, 61} {
		_, err = h.engine.Transition(ctx, "f1", StatusPending, admin, intPtr(est))
		assert.True(t, apperr.Is(err, apperr.KindValidation), "estimate %d", est)
	}

	h.seed(t, TuningFile{FileID: "f2", Status: StatusPending})
	_, err = h.engine.Transition(ctx, "f2", StatusReady, admin, intPtr(15))
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	assert.Equal(t, 0, h.fake.Calls("UpdateItem"))
	assert.Empty(t, h.operator.seen())
}

func TestTransition_EstimateLifecycle(t *testing.T) {
	h := newHarness(t)
	h.seed(t, TuningFile{FileID: "f1", Status: StatusReceived})
	ctx := context.Background()

	out, err := h.engine.Transition(ctx, "f1", StatusPending, admin, intPtr(15))
	require.NoError(t, err)
	require.NotNil(t, out.File.EstimatedProcessingTime)
	assert.Equal(t, 15, *out.File.EstimatedProcessingTime)
	assert.NotNil(t, out.File.EstimatedTimeSetAt)

	trail := h.trail(t, "f1")
	require.Len(t, trail, 2)
	assert.Equal(t, audit.ActionStatusChange, trail[0].Action)
	assert.Equal(t, audit.ActionEstimateSet, trail[1].Action)
	assert.Equal(t, "15", trail[1].NewValue)

	chat := h.chat.seen()
	require.Len(t, chat, 1)
	assert.Equal(t, notify.KindFilePending, chat[0].Kind)
	require.NotNil(t, chat[0].EstimateMinutes)
	assert.Equal(t, 15, *chat[0].EstimateMinutes)
	assert.Equal(t, "777", chat[0].Customer.TelegramChatID)

	out, err = h.engine.Transition(ctx, "f1", StatusReceived, admin, nil)
	require.NoError(t, err)
	assert.Nil(t, out.File.EstimatedProcessingTime)
	assert.Nil(t, out.File.EstimatedTimeSetAt)
	assert.Nil(t, h.file(t, "f1").EstimatedProcessingTime)
}

func TestTransition_ConcurrentChangeIsConflict(t *testing.T) {
	h := newHarness(t)
	h.seed(t, TuningFile{FileID: "f1", Status: StatusPending})
	h.fake.FailNext("UpdateItem", &types.ConditionalCheckFailedException{})

	_, err := h.engine.Transition(context.Background(), "f1", StatusReady, admin, nil)

	assert.True(t, apperr.Is(err, apperr.KindConflict), "got %v", err)
	assert.Empty(t, h.trail(t, "f1"))
	assert.Empty(t, h.operator.seen())
}

func TestTransition_StoreFailureIsInternal(t *testing.T) {
	h := newHarness(t)
	h.seed(t, TuningFile{FileID: "f1", Status: StatusPending})
	h.fake.FailNext("UpdateItem", errors.New("throttled"))

	_, err := h.engine.Transition(context.Background(), "f1", StatusReady, admin, nil)

	require.Error(t, err)
	assert.Equal(t, apperr.Kind(""), apperr.KindOf(err))
	assert.Empty(t, h.trail(t, "f1"))
}

func TestTransition_NotificationFailureDoesNotFailChange(t *testing.T) {
	h := newHarness(t)
	h.email.err = errors.New("ses down")
	h.seed(t, TuningFile{FileID: "f1", Status: StatusPending})

	out, err := h.engine.Transition(context.Background(), "f1", StatusReady, admin, nil)

	require.NoError(t, err)
	assert.Equal(t, StatusReady, h.file(t, "f1").Status)
	delivered, _, failed := notify.Summary(out.Deliveries)
	assert.Equal(t, 2, delivered)
	assert.Equal(t, 1, failed)
	require.Len(t, h.email.seen(), 1)
	assert.Equal(t, "https://shop.example.com/dashboard/files/f1", h.email.seen()[0].URL)
}

func TestAttachModified_CompletesPendingFile(t *testing.T) {
	h := newHarness(t)
	setAt := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	key := "orders/f1-abc/modified/golf7_stage1.bin"
	h.seed(t, TuningFile{FileID: "f1", Status: StatusPending, EstimatedProcessingTime: intPtr(15), EstimatedTimeSetAt: &setAt, PendingModifiedKey: key})
	h.access.uploaded[key] = true

	out, err := h.engine.AttachModified(context.Background(), "f1", admin, key, "golf7_stage1.bin")
	require.NoError(t, err)

	f := h.file(t, "f1")
	assert.Equal(t, StatusReady, f.Status)
	assert.Nil(t, f.EstimatedProcessingTime)
	assert.Nil(t, f.EstimatedTimeSetAt)
	assert.Equal(t, key, f.ModifiedKey)
	assert.Equal(t, "golf7_stage1.bin", f.ModifiedFilename)
	assert.Empty(t, f.PendingModifiedKey)

	trail := h.trail(t, "f1")
	require.Len(t, trail, 2)
	assert.Equal(t, audit.ActionModifiedAttached, trail[0].Action)
	assert.Equal(t, audit.ActionStatusChange, trail[1].Action)
	assert.Equal(t, StatusPending, trail[1].OldValue)
	assert.Equal(t, StatusReady, trail[1].NewValue)

	assert.Len(t, h.chat.seen(), 1)
	assert.Len(t, h.email.seen(), 1)
	assert.Equal(t, notify.KindFileReady, h.email.seen()[0].Kind)
	delivered, _, failed := notify.Summary(out.Deliveries)
	assert.Equal(t, 3, delivered)
	assert.Equal(t, 0, failed)
}

func TestAttachModified_AlreadyReadyAuditsOnlyAttach(t *testing.T) {
	h := newHarness(t)
	key := "orders/f1-b/modified/v2.bin"
	h.seed(t, TuningFile{FileID: "f1", Status: StatusReady, ModifiedKey: "orders/f1-a/modified/v1.bin", ModifiedFilename: "v1.bin", PendingModifiedKey: key})
	h.access.uploaded[key] = true

	_, err := h.engine.AttachModified(context.Background(), "f1", admin, key, "v2.bin")
	require.NoError(t, err)

	trail := h.trail(t, "f1")
	require.Len(t, trail, 1)
	assert.Equal(t, "v1.bin", trail[0].OldValue)
	assert.Equal(t, "v2.bin", trail[0].NewValue)
}

func TestAttachModified_Rejections(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	key := "orders/f1-abc/modified/out.bin"
	h.seed(t, TuningFile{FileID: "f1", Status: StatusPending, PendingModifiedKey: key})

	_, err := h.engine.AttachModified(ctx, "f1", customer, key, "out.bin")
	assert.True(t, apperr.Is(err, apperr.KindAuthz))

	_, err = h.engine.AttachModified(ctx, "f1", admin, key, "out.bin")
	assert.True(t, apperr.Is(err, apperr.KindValidation), "object not uploaded: %v", err)

	_, err = h.engine.AttachModified(ctx, "f1", admin, "orders/f1-abc/original/out.bin", "out.bin")
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	h.access.existErr = apperr.External("head object", errors.New("timeout"))
	_, err = h.engine.AttachModified(ctx, "f1", admin, key, "out.bin")
	assert.True(t, apperr.Is(err, apperr.KindExternal))

	assert.Equal(t, StatusPending, h.file(t, "f1").Status)
	assert.Empty(t, h.trail(t, "f1"))
	assert.Empty(t, h.chat.seen())
}

func TestAttachModified_KeyMustBeIssuedForFile(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	created := time.Date(2024, 6, 1, 8, 30, 0, 0, time.UTC)
	h.seed(t, TuningFile{FileID: "f1", Status: StatusPending, CreatedAt: created})
	h.seed(t, TuningFile{FileID: "f2", Status: StatusPending, CreatedAt: created})

	mine, err := h.engine.PrepareModifiedUpload(ctx, "f1", admin, "stage1.bin", "", 1024)
	require.NoError(t, err)
	other, err := h.engine.PrepareModifiedUpload(ctx, "f2", admin, "stage1.bin", "", 1024)
	require.NoError(t, err)
	h.access.uploaded[mine.Key] = true
	h.access.uploaded[other.Key] = true

	_, err = h.engine.AttachModified(ctx, "f1", admin, other.Key, "stage1.bin")
	assert.True(t, apperr.Is(err, apperr.KindValidation), "key issued for f2: %v", err)

	_, err = h.engine.AttachModified(ctx, "f1", admin, "orders/anything/modified/stage1.bin", "stage1.bin")
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	assert.Equal(t, StatusPending, h.file(t, "f1").Status)
	assert.Empty(t, h.trail(t, "f1"))

	_, err = h.engine.AttachModified(ctx, "f1", admin, mine.Key, "stage1.bin")
	require.NoError(t, err)
	f := h.file(t, "f1")
	assert.Equal(t, StatusReady, f.Status)
	assert.Equal(t, mine.Key, f.ModifiedKey)
	assert.Empty(t, f.PendingModifiedKey)
	assert.Equal(t, StatusPending, h.file(t, "f2").Status)
}

func TestAttachModified_UnpreparedFileRejected(t *testing.T) {
	h := newHarness(t)
	key := "orders/f1-abc/modified/out.bin"
	h.seed(t, TuningFile{FileID: "f1", Status: StatusPending})
	h.access.uploaded[key] = true

	_, err := h.engine.AttachModified(context.Background(), "f1", admin, key, "out.bin")
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	assert.Equal(t, StatusPending, h.file(t, "f1").Status)
}

func TestSubmit(t *testing.T) {
	h := newHarness(t)

	sub, err := h.engine.Submit(context.Background(), customer, SubmitInput{
		Filename:      "Golf 7 GTI.bin",
		ContentType:   "application/octet-stream",
		ContentLength: 2 << 20,
		Modifications: []string{"Stage 1", "DPF off"},
		Comment:       "please hurry",
		Price:         120,
	})
	require.NoError(t, err)

	require.NotNil(t, sub.Upload)
	assert.Equal(t, "PUT", sub.Upload.Method)
	assert.Contains(t, sub.File.OriginalKey, "orders/amine-b-golf-7-gti.bin-stage-1-dpf-off-")
	assert.Contains(t, sub.File.OriginalKey, "/original/Golf 7 GTI.bin")

	stored := h.file(t, sub.File.FileID)
	assert.Equal(t, StatusReceived, stored.Status)
	assert.Equal(t, PaymentUnpaid, stored.PaymentStatus)
	assert.Equal(t, []string{"Stage 1", "DPF off"}, stored.Modifications)

	trail := h.trail(t, sub.File.FileID)
	require.Len(t, trail, 1)
	assert.Equal(t, audit.ActionFileSubmitted, trail[0].Action)

	ops := h.operator.seen()
	require.Len(t, ops, 1)
	assert.Equal(t, notify.KindFileSubmitted, ops[0].Kind)
	assert.Equal(t, []string{StatusPending}, ops[0].NextStatuses)
	assert.Equal(t, "Amine B", ops[0].Customer.Name)
	assert.Empty(t, h.chat.seen())
}

func TestSubmit_OversizeWritesNothing(t *testing.T) {
	h := newHarness(t)
	h.access.maxBytes = 1024

	_, err := h.engine.Submit(context.Background(), customer, SubmitInput{Filename: "a.bin", ContentLength: 4096})

	assert.True(t, apperr.Is(err, apperr.KindValidation))
	assert.Empty(t, h.fake.Items("files"))
	assert.Empty(t, h.operator.seen())
}

func TestPrepareModifiedUpload(t *testing.T) {
	h := newHarness(t)
	h.seed(t, TuningFile{FileID: "f1", Status: StatusPending, CreatedAt: time.Date(2024, 6, 1, 8, 30, 0, 0, time.UTC)})

	up, err := h.engine.PrepareModifiedUpload(context.Background(), "f1", admin, "golf7_stage1.bin", "application/octet-stream", 1024)
	require.NoError(t, err)
	assert.Contains(t, up.Key, "/modified/golf7_stage1.bin")
	assert.Contains(t, up.Key, "2024-06-01-08-30-00")
	stored := h.file(t, "f1")
	assert.Equal(t, StatusPending, stored.Status)
	assert.Equal(t, up.Key, stored.PendingModifiedKey)

	_, err = h.engine.PrepareModifiedUpload(context.Background(), "f1", customer, "x.bin", "", 1)
	assert.True(t, apperr.Is(err, apperr.KindAuthz))
}

func TestReads(t *testing.T) {
	h := newHarness(t)
	h.seed(t, TuningFile{FileID: "f1", Status: StatusPending, ModifiedKey: "orders/f1-a/modified/m.bin", ModifiedFilename: "m.bin"})
	ctx := context.Background()

	f, err := h.engine.Get(ctx, "f1", customer)
	require.NoError(t, err)
	assert.Equal(t, "f1", f.FileID)

	_, err = h.engine.Get(ctx, "f1", stranger)
	assert.True(t, apperr.Is(err, apperr.KindAuthz))

	dl, err := h.engine.DownloadURL(ctx, "f1", customer, "")
	require.NoError(t, err)
	assert.Contains(t, dl.URL, "/original/golf7.bin")

	_, err = h.engine.DownloadURL(ctx, "f1", customer, VersionModified)
	assert.True(t, apperr.Is(err, apperr.KindNotFound), "modified hidden until READY")

	dl, err = h.engine.DownloadURL(ctx, "f1", admin, VersionModified)
	require.NoError(t, err)
	assert.Contains(t, dl.URL, "get=m.bin")

	_, err = h.engine.DownloadURL(ctx, "f1", admin, "latest")
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	list, err := h.engine.List(ctx, customer)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = h.engine.AuditTrail(ctx, "f1", stranger)
	assert.True(t, apperr.Is(err, apperr.KindAuthz))
}

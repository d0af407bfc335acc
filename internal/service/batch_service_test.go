package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hpckit/alloc-notifier/internal/domain"
	"github.com/hpckit/alloc-notifier/internal/repository"
)

var testCreatedAt = time.Date(2026, 8, 20, 10, 30, 0, 0, time.UTC)

func newTestBatchService(t *testing.T, maxRetries int) (*BatchService, string) {
	t.Helper()

	dir := t.TempDir()
	store, err := repository.NewFileBatchStore(dir, zap.NewNop())
	if err != nil {
		t.Fatalf("NewFileBatchStore() error = %v", err)
	}
	svc, err := NewBatchService(store, maxRetries, zap.NewNop())
	if err != nil {
		t.Fatalf("NewBatchService() error = %v", err)
	}
	svc.SetNow(func() time.Time { return testCreatedAt })
	return svc, dir
}

func expiryRequests(allocationIDs ...string) []domain.Request {
	requests := make([]domain.Request, 0, len(allocationIDs))
	for _, id := range allocationIDs {
		requests = append(requests, domain.Request{
			Keys:    []string{id, "expiry-7d"},
			Payload: json.RawMessage(`{"allocation_id":"` + id + `"}`),
		})
	}
	return requests
}

func TestNewBatchServiceDefaults(t *testing.T) {
	t.Parallel()

	if _, err := NewBatchService(nil, 3, zap.NewNop()); err == nil {
		t.Fatal("expected error for nil store")
	}

	svc, err := NewBatchService(&fakeBatchStore{}, 0, nil)
	if err != nil {
		t.Fatalf("NewBatchService() error = %v", err)
	}
	if svc.MaxRetries() != defaultMaxRetries {
		t.Fatalf("MaxRetries() = %d, want %d", svc.MaxRetries(), defaultMaxRetries)
	}
}

func TestCreateBatchBuildsAllPendingRecord(t *testing.T) {
	t.Parallel()

	svc, _ := newTestBatchService(t, 3)

	batch, location, err := svc.CreateBatch(context.Background(), "expiry-7d", expiryRequests("alloc-1", "alloc-2", "alloc-3"))
	if err != nil {
		t.Fatalf("CreateBatch() error = %v", err)
	}

	if batch.Metadata.BatchID != "expiry-7d_20260820T103000Z" {
		t.Fatalf("batch id = %s, want expiry-7d_20260820T103000Z", batch.Metadata.BatchID)
	}
	if batch.Metadata.Status != domain.BatchStatusInProgress {
		t.Fatalf("status = %s, want in_progress", batch.Metadata.Status)
	}
	if batch.Metadata.TotalCount != 3 || batch.Metadata.PendingCount != 3 {
		t.Fatalf("counts = %d/%d, want 3/3", batch.Metadata.TotalCount, batch.Metadata.PendingCount)
	}

	wantIDs := []string{"alloc-1_expiry-7d", "alloc-2_expiry-7d", "alloc-3_expiry-7d"}
	for i, entry := range batch.Entries {
		if entry.ID != wantIDs[i] {
			t.Fatalf("entry %d id = %s, want %s", i, entry.ID, wantIDs[i])
		}
		if entry.Status != domain.EntryStatusPending || entry.AttemptCount != 0 {
			t.Fatalf("entry %d = %s/%d, want pending/0", i, entry.Status, entry.AttemptCount)
		}
	}

	// The record must be on disk already, not only in memory.
	loaded, err := svc.LoadBatch(context.Background(), location)
	if err != nil {
		t.Fatalf("LoadBatch() error = %v", err)
	}
	if len(loaded.Entries) != 3 {
		t.Fatalf("persisted entries = %d, want 3", len(loaded.Entries))
	}
}

func TestCreateBatchValidation(t *testing.T) {
	t.Parallel()

	oversized := make([]domain.Request, maxBatchSize+1)
	for i := range oversized {
		oversized[i] = domain.Request{
			Keys:    []string{fmt.Sprintf("alloc-%d", i), "expiry-7d"},
			Payload: json.RawMessage(`{}`),
		}
	}

	testCases := []struct {
		name             string
		notificationType string
		requests         []domain.Request
	}{
		{
			name:             "empty requests",
			notificationType: "expiry-7d",
			requests:         nil,
		},
		{
			name:             "invalid type",
			notificationType: "no spaces allowed",
			requests:         expiryRequests("alloc-1"),
		},
		{
			name:             "request without keys",
			notificationType: "expiry-7d",
			requests:         []domain.Request{{Payload: json.RawMessage(`{}`)}},
		},
		{
			name:             "request without payload",
			notificationType: "expiry-7d",
			requests:         []domain.Request{{Keys: []string{"alloc-1"}}},
		},
		{
			name:             "duplicate entry ids",
			notificationType: "expiry-7d",
			requests:         expiryRequests("alloc-1", "alloc-1"),
		},
		{
			name:             "oversized batch",
			notificationType: "expiry-7d",
			requests:         oversized,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			svc, _ := newTestBatchService(t, 3)
			_, _, err := svc.CreateBatch(context.Background(), tc.notificationType, tc.requests)
			if !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("CreateBatch() error = %v, want ErrValidation", err)
			}
		})
	}
}

func TestCreateBatchRefusesSecondIdenticalRun(t *testing.T) {
	t.Parallel()

	svc, _ := newTestBatchService(t, 3)
	requests := expiryRequests("alloc-1", "alloc-2")

	_, firstLocation, err := svc.CreateBatch(context.Background(), "expiry-7d", requests)
	if err != nil {
		t.Fatalf("CreateBatch() error = %v", err)
	}

	batch, conflictLocation, err := svc.CreateBatch(context.Background(), "expiry-7d", requests)
	if !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("second CreateBatch() error = %v, want ErrAlreadyExists", err)
	}
	if batch != nil {
		t.Fatal("second CreateBatch() should not return a batch")
	}
	if conflictLocation != firstLocation {
		t.Fatalf("conflict location = %s, want %s", conflictLocation, firstLocation)
	}
}

func TestPendingFiltersAndPreservesOrder(t *testing.T) {
	t.Parallel()

	svc, err := NewBatchService(&fakeBatchStore{}, 3, zap.NewNop())
	if err != nil {
		t.Fatalf("NewBatchService() error = %v", err)
	}

	batch := &domain.Batch{
		Entries: []*domain.Entry{
			{ID: "a", Status: domain.EntryStatusPending, AttemptCount: 0, Payload: json.RawMessage(`{}`)},
			{ID: "b", Status: domain.EntryStatusSuccess, AttemptCount: 1, Payload: json.RawMessage(`{}`)},
			{ID: "c", Status: domain.EntryStatusPending, AttemptCount: 2, Payload: json.RawMessage(`{}`)},
			{ID: "d", Status: domain.EntryStatusFailed, AttemptCount: 3, Payload: json.RawMessage(`{}`)},
			{ID: "e", Status: domain.EntryStatusPending, AttemptCount: 3, Payload: json.RawMessage(`{}`)},
		},
	}

	pending := svc.Pending(batch)
	if len(pending) != 2 {
		t.Fatalf("pending count = %d, want 2", len(pending))
	}
	if pending[0].ID != "a" || pending[1].ID != "c" {
		t.Fatalf("pending order = %s,%s, want a,c", pending[0].ID, pending[1].ID)
	}

	if got := svc.Pending(nil); got != nil {
		t.Fatalf("Pending(nil) = %v, want nil", got)
	}
}

func TestRecordResultSuccessPersistsImmediately(t *testing.T) {
	t.Parallel()

	svc, _ := newTestBatchService(t, 3)
	attemptAt := testCreatedAt.Add(5 * time.Minute)

	batch, location, err := svc.CreateBatch(context.Background(), "expiry-7d", expiryRequests("alloc-1", "alloc-2"))
	if err != nil {
		t.Fatalf("CreateBatch() error = %v", err)
	}

	svc.SetNow(func() time.Time { return attemptAt })
	if err := svc.RecordResult(context.Background(), batch, "alloc-1_expiry-7d", nil); err != nil {
		t.Fatalf("RecordResult() error = %v", err)
	}

	entry, _ := batch.Entry("alloc-1_expiry-7d")
	if entry.Status != domain.EntryStatusSuccess {
		t.Fatalf("status = %s, want success", entry.Status)
	}
	if entry.AttemptCount != 1 {
		t.Fatalf("attempt count = %d, want 1", entry.AttemptCount)
	}
	if entry.LastAttemptAt == nil || !entry.LastAttemptAt.Equal(attemptAt) {
		t.Fatalf("last attempt at = %v, want %s", entry.LastAttemptAt, attemptAt)
	}

	// Reload from disk: the mutation must already be durable.
	loaded, err := svc.LoadBatch(context.Background(), location)
	if err != nil {
		t.Fatalf("LoadBatch() error = %v", err)
	}
	persisted, _ := loaded.Entry("alloc-1_expiry-7d")
	if persisted.Status != domain.EntryStatusSuccess || persisted.AttemptCount != 1 {
		t.Fatalf("persisted entry = %s/%d, want success/1", persisted.Status, persisted.AttemptCount)
	}
	if loaded.Metadata.SuccessCount != 1 || loaded.Metadata.PendingCount != 1 {
		t.Fatalf("persisted counts = %d success %d pending, want 1/1",
			loaded.Metadata.SuccessCount, loaded.Metadata.PendingCount)
	}
}

func TestRecordResultFailureKeepsPendingUntilBudgetSpent(t *testing.T) {
	t.Parallel()

	svc, _ := newTestBatchService(t, 3)

	batch, location, err := svc.CreateBatch(context.Background(), "expiry-7d", expiryRequests("alloc-1"))
	if err != nil {
		t.Fatalf("CreateBatch() error = %v", err)
	}

	sendErr := errors.New("connection refused")
	for attempt := 1; attempt <= 3; attempt++ {
		if err := svc.RecordResult(context.Background(), batch, "alloc-1_expiry-7d", sendErr); err != nil {
			t.Fatalf("RecordResult() attempt %d error = %v", attempt, err)
		}

		loaded, err := svc.LoadBatch(context.Background(), location)
		if err != nil {
			t.Fatalf("LoadBatch() error = %v", err)
		}
		persisted, _ := loaded.Entry("alloc-1_expiry-7d")
		if persisted.AttemptCount != attempt {
			t.Fatalf("persisted attempt count = %d, want %d", persisted.AttemptCount, attempt)
		}
		if persisted.LastError != "connection refused" {
			t.Fatalf("persisted last error = %q, want connection refused", persisted.LastError)
		}

		wantStatus := domain.EntryStatusPending
		if attempt == 3 {
			wantStatus = domain.EntryStatusFailed
		}
		if persisted.Status != wantStatus {
			t.Fatalf("after attempt %d status = %s, want %s", attempt, persisted.Status, wantStatus)
		}
	}

	// The budget is spent; the entry is terminal and stays that way.
	err = svc.RecordResult(context.Background(), batch, "alloc-1_expiry-7d", sendErr)
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("RecordResult() on failed entry = %v, want ErrConflict", err)
	}

	loaded, err := svc.LoadBatch(context.Background(), location)
	if err != nil {
		t.Fatalf("LoadBatch() error = %v", err)
	}
	if loaded.Metadata.Status != domain.BatchStatusPartial {
		t.Fatalf("batch status = %s, want partial", loaded.Metadata.Status)
	}
}

func TestRecordResultNeverTouchesSuccessfulEntry(t *testing.T) {
	t.Parallel()

	svc, _ := newTestBatchService(t, 3)

	batch, _, err := svc.CreateBatch(context.Background(), "expiry-7d", expiryRequests("alloc-1"))
	if err != nil {
		t.Fatalf("CreateBatch() error = %v", err)
	}
	if err := svc.RecordResult(context.Background(), batch, "alloc-1_expiry-7d", nil); err != nil {
		t.Fatalf("RecordResult() error = %v", err)
	}

	err = svc.RecordResult(context.Background(), batch, "alloc-1_expiry-7d", nil)
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("RecordResult() on successful entry = %v, want ErrConflict", err)
	}

	entry, _ := batch.Entry("alloc-1_expiry-7d")
	if entry.AttemptCount != 1 {
		t.Fatalf("attempt count = %d, want 1 (terminal entries are immutable)", entry.AttemptCount)
	}
}

func TestRecordResultUnknownEntry(t *testing.T) {
	t.Parallel()

	svc, _ := newTestBatchService(t, 3)

	batch, _, err := svc.CreateBatch(context.Background(), "expiry-7d", expiryRequests("alloc-1"))
	if err != nil {
		t.Fatalf("CreateBatch() error = %v", err)
	}

	err = svc.RecordResult(context.Background(), batch, "alloc-99_expiry-7d", nil)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("RecordResult() error = %v, want ErrNotFound", err)
	}
}

func TestRecordResultRollsBackWhenSaveFails(t *testing.T) {
	t.Parallel()

	store := &fakeBatchStore{
		saveFn: func(batch *domain.Batch) error {
			return errors.New("disk full")
		},
	}
	svc, err := NewBatchService(store, 3, zap.NewNop())
	if err != nil {
		t.Fatalf("NewBatchService() error = %v", err)
	}

	batch := &domain.Batch{
		Metadata: domain.BatchMetadata{
			BatchID:          "expiry-7d_20260820T103000Z",
			NotificationType: "expiry-7d",
			CreatedAt:        testCreatedAt,
		},
		Entries: []*domain.Entry{
			{ID: "alloc-1_expiry-7d", Status: domain.EntryStatusPending, Payload: json.RawMessage(`{}`)},
		},
	}
	batch.Recompute()

	err = svc.RecordResult(context.Background(), batch, "alloc-1_expiry-7d", nil)
	if err == nil {
		t.Fatal("expected error when save fails")
	}

	// The in-memory record must still match what is on disk.
	entry, _ := batch.Entry("alloc-1_expiry-7d")
	if entry.Status != domain.EntryStatusPending {
		t.Fatalf("status = %s, want pending after rollback", entry.Status)
	}
	if entry.AttemptCount != 0 {
		t.Fatalf("attempt count = %d, want 0 after rollback", entry.AttemptCount)
	}
	if entry.LastAttemptAt != nil {
		t.Fatal("last attempt at should be unset after rollback")
	}
	if batch.Metadata.PendingCount != 1 || batch.Metadata.SuccessCount != 0 {
		t.Fatalf("counts = %d pending %d success, want 1/0 after rollback",
			batch.Metadata.PendingCount, batch.Metadata.SuccessCount)
	}
}

func TestSummaryAndListIncomplete(t *testing.T) {
	t.Parallel()

	svc, _ := newTestBatchService(t, 3)

	batch, location, err := svc.CreateBatch(context.Background(), "expiry-7d", expiryRequests("alloc-1", "alloc-2"))
	if err != nil {
		t.Fatalf("CreateBatch() error = %v", err)
	}
	if err := svc.RecordResult(context.Background(), batch, "alloc-1_expiry-7d", nil); err != nil {
		t.Fatalf("RecordResult() error = %v", err)
	}

	summary := svc.Summary(batch)
	if summary.Total != 2 || summary.Success != 1 || summary.Pending != 1 {
		t.Fatalf("summary = %+v, want total 2 success 1 pending 1", summary)
	}
	if summary.Status != domain.BatchStatusInProgress {
		t.Fatalf("summary status = %s, want in_progress", summary.Status)
	}

	locations, err := svc.ListIncomplete(context.Background())
	if err != nil {
		t.Fatalf("ListIncomplete() error = %v", err)
	}
	if len(locations) != 1 || locations[0] != location {
		t.Fatalf("ListIncomplete() = %v, want [%s]", locations, location)
	}

	if err := svc.ValidateDirectory(context.Background()); err != nil {
		t.Fatalf("ValidateDirectory() error = %v", err)
	}
}

type fakeBatchStore struct {
	createFn         func(batch *domain.Batch) (string, error)
	loadFn           func(location string) (*domain.Batch, error)
	saveFn           func(batch *domain.Batch) error
	listIncompleteFn func() ([]string, error)
	validateDirFn    func() error
}

var _ repository.BatchStore = (*fakeBatchStore)(nil)

func (f *fakeBatchStore) Create(batch *domain.Batch) (string, error) {
	if f.createFn != nil {
		return f.createFn(batch)
	}
	return batch.Metadata.BatchID + ".json", nil
}

func (f *fakeBatchStore) Load(location string) (*domain.Batch, error) {
	if f.loadFn != nil {
		return f.loadFn(location)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeBatchStore) Save(batch *domain.Batch) error {
	if f.saveFn != nil {
		return f.saveFn(batch)
	}
	return nil
}

func (f *fakeBatchStore) Location(meta domain.BatchMetadata) string {
	return meta.BatchID + ".json"
}

func (f *fakeBatchStore) ListIncomplete() ([]string, error) {
	if f.listIncompleteFn != nil {
		return f.listIncompleteFn()
	}
	return nil, nil
}

func (f *fakeBatchStore) ValidateDir() error {
	if f.validateDirFn != nil {
		return f.validateDirFn()
	}
	return nil
}

package postgres

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"botmaster/internal/store"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
)

var queueItemRowColumns = strings.Split(queueItemColumns, ", ")

func queueItemRows(id int64, folder uuid.UUID, status string, attempts int) *sqlmock.Rows {
	now := time.Now().Truncate(time.Millisecond)
	return sqlmock.NewRows(queueItemRowColumns).AddRow(
		id, folder.String(), int64(1), "job-1", nil,
		nil, nil, nil, status,
		[]byte(`{}`), nil, nil, attempts, 3,
		5, []byte(`{urgent,eu}`), []byte(`{}`), nil,
		nil, nil, now, now,
	)
}

func TestCreateQueueItem_Success(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	ctx := context.Background()
	tc := testTenant(t)

	expectBind(mock, tc, false)
	mock.ExpectQuery(`INSERT INTO queue_items`).
		WithArgs(int64(1), "job-1", nil, nil, nil, nil, "waiting", []byte(`{}`), 3, 5,
			sqlmock.AnyArg(), []byte(`{}`)).
		WillReturnRows(queueItemRows(9, tc.FolderKey, "waiting", 0))
	expectUnbind(mock)

	it, err := s.CreateQueueItem(ctx, tc, &store.QueueItem{
		QueueID:     1,
		JobID:       "job-1",
		Status:      store.QueueItemStatusWaiting,
		MaxAttempts: 3,
		Priority:    5,
	})
	if err != nil {
		t.Fatalf("CreateQueueItem failed: %v", err)
	}
	if it.ID != 9 {
		t.Errorf("got id %d, want 9", it.ID)
	}
	if len(it.Tags) != 2 || it.Tags[0] != "urgent" {
		t.Errorf("got tags %v", it.Tags)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestListQueueItems_CountAndPageShareFilters(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	ctx := context.Background()
	tc := testTenant(t)
	queueID := int64(1)
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	predicates := `WHERE status = ANY\(\$1\) AND queue_id = \$2 AND created_at >= \$3 AND \(job_id ILIKE \$4 OR job_name ILIKE \$4 OR worker_name ILIKE \$4\)`

	expectBind(mock, tc, false)
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM queue_items ` + predicates).
		WithArgs(sqlmock.AnyArg(), queueID, from, "%inv%").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(21)))
	mock.ExpectQuery(`FROM queue_items ` + predicates + ` ORDER BY .+ LIMIT \$5 OFFSET \$6`).
		WithArgs(sqlmock.AnyArg(), queueID, from, "%inv%", 20, 20).
		WillReturnRows(queueItemRows(3, tc.FolderKey, "error", 1))
	expectUnbind(mock)

	items, total, err := s.ListQueueItems(ctx, tc, store.QueueItemFilter{
		Statuses: []store.QueueItemStatus{store.QueueItemStatusError, store.QueueItemStatusWaiting},
		QueueID:  &queueID,
		From:     &from,
		Search:   "inv",
		Page:     store.Page{Page: 2, PageSize: 20},
	})
	if err != nil {
		t.Fatalf("ListQueueItems failed: %v", err)
	}
	if total != 21 || len(items) != 1 {
		t.Errorf("got total %d and %d items", total, len(items))
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestRetryQueueItem_AtomicReset(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	ctx := context.Background()
	tc := testTenant(t)

	mock.ExpectBegin()
	expectBind(mock, tc, true)
	mock.ExpectQuery(`SELECT 1 FROM queue_items WHERE id = \$1 FOR UPDATE`).
		WithArgs(int64(4)).
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectQuery(`SELECT .+ FROM queue_items WHERE id = \$1`).
		WithArgs(int64(4)).
		WillReturnRows(queueItemRows(4, tc.FolderKey, "error", 1))
	mock.ExpectQuery(`UPDATE queue_items SET attempts = attempts \+ 1, status = 'waiting', started_at = NULL, finished_at = NULL, error_message = NULL, processing_time = NULL, result = NULL`).
		WithArgs(int64(4)).
		WillReturnRows(queueItemRows(4, tc.FolderKey, "waiting", 2))
	mock.ExpectCommit()

	it, err := s.RetryQueueItem(ctx, tc, 4, func(current *store.QueueItem) error {
		if current.Status != store.QueueItemStatusError {
			t.Errorf("check saw status %q", current.Status)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RetryQueueItem failed: %v", err)
	}
	if it.Attempts != 2 || it.Status != store.QueueItemStatusWaiting {
		t.Errorf("got attempts %d status %q", it.Attempts, it.Status)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestRetryQueueItem_CheckRejects(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	ctx := context.Background()
	tc := testTenant(t)
	rejected := errors.New("only failed items can be retried")

	mock.ExpectBegin()
	expectBind(mock, tc, true)
	mock.ExpectQuery(`SELECT 1 FROM queue_items WHERE id = \$1 FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectQuery(`SELECT .+ FROM queue_items WHERE id = \$1`).
		WillReturnRows(queueItemRows(4, tc.FolderKey, "completed", 1))
	mock.ExpectRollback()

	_, err := s.RetryQueueItem(ctx, tc, 4, func(*store.QueueItem) error { return rejected })
	if err != rejected {
		t.Fatalf("expected rejection, got %v", err)
	}

	assertReleased(t, s)
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestUpdateQueueItem_AppliesPatch(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	ctx := context.Background()
	tc := testTenant(t)
	started := time.Now().Truncate(time.Millisecond)

	mock.ExpectBegin()
	expectBind(mock, tc, true)
	mock.ExpectQuery(`SELECT 1 FROM queue_items WHERE id = \$1 FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectQuery(`SELECT .+ FROM queue_items WHERE id = \$1`).
		WillReturnRows(queueItemRows(4, tc.FolderKey, "waiting", 0))
	mock.ExpectQuery(`UPDATE queue_items SET status = \$1, started_at = \$2, updated_at = NOW\(\) WHERE id = \$3`).
		WithArgs("processing", started, int64(4)).
		WillReturnRows(queueItemRows(4, tc.FolderKey, "processing", 0))
	mock.ExpectCommit()

	it, err := s.UpdateQueueItem(ctx, tc, 4, func(*store.QueueItem) (store.QueueItemPatch, error) {
		status := store.QueueItemStatusProcessing
		return store.QueueItemPatch{Status: &status, StartedAt: &started}, nil
	})
	if err != nil {
		t.Fatalf("UpdateQueueItem failed: %v", err)
	}
	if it.Status != store.QueueItemStatusProcessing {
		t.Errorf("got status %q", it.Status)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestQueueItemStats_PerQueue(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	ctx := context.Background()
	tc := testTenant(t)
	queueID := int64(2)

	expectBind(mock, tc, false)
	mock.ExpectQuery(`FROM queue_items WHERE queue_id = \$1`).
		WithArgs(queueID).
		WillReturnRows(sqlmock.NewRows([]string{"total", "waiting", "processing", "completed", "error", "cancelled"}).
			AddRow(int64(6), int64(1), int64(1), int64(2), int64(1), int64(1)))
	expectUnbind(mock)

	st, err := s.QueueItemStats(ctx, tc, &queueID)
	if err != nil {
		t.Fatalf("QueueItemStats failed: %v", err)
	}
	if st.Total != 6 || st.Cancelled != 1 {
		t.Errorf("got stats %+v", st)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

package segmentation

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/campaign-engine/internal/domain"
)

func setupStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(sqlx.NewDb(db, "postgres")), mock
}

var contactCols = []string{"id", "company_id", "name", "email", "phone", "company", "tags", "is_active", "created_at", "last_activity_at"}

func TestStore_FindContacts(t *testing.T) {
	store, mock := setupStore(t)
	created := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT c.id, c.company_id`).
		WithArgs(int64(10), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(contactCols).
			AddRow(2, 10, "Ana", "ana@example.com", "5550000002", "Acme", "{vip,lead}", true, created, nil).
			AddRow(1, 10, nil, nil, "5550000001", nil, "{}", true, created, nil))

	got, err := store.FindContacts(context.Background(), Plan(10, domain.SegmentCriteria{ContactIDs: []int64{1, 2}}))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Ana", got[0].Name)
	assert.Equal(t, []string{"vip", "lead"}, got[0].Tags)
	assert.Equal(t, "", got[1].Email)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_FindContactDetails(t *testing.T) {
	store, mock := setupStore(t)
	created := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	seen := created.Add(time.Hour)

	cols := append(append([]string{}, contactCols...), "last_conversation_at")
	mock.ExpectQuery(`AS last_conversation_at`).
		WithArgs(int64(10), 20).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(1, 10, "Bo", "", "5550000001", "", "{}", true, created, nil, seen))

	got, err := store.FindContactDetails(context.Background(), Plan(10, domain.SegmentCriteria{}), 20)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.NotNil(t, got[0].LastConversationAt)
	assert.True(t, seen.Equal(*got[0].LastConversationAt))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_GetSegment(t *testing.T) {
	store, mock := setupStore(t)
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM contact_segments`).
		WithArgs(int64(4), int64(10)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "company_id", "name", "criteria", "created_at", "updated_at"}).
			AddRow(4, 10, "VIPs", []byte(`{"tags":["vip"],"contact_ids":[1,2]}`), now, now))

	seg, err := store.GetSegment(context.Background(), 10, 4)
	require.NoError(t, err)
	assert.Equal(t, "VIPs", seg.Name)
	assert.Equal(t, []string{"vip"}, seg.Criteria.Tags)
	assert.Equal(t, []int64{1, 2}, seg.Criteria.ContactIDs)
}

func TestStore_GetSegmentNotFound(t *testing.T) {
	store, mock := setupStore(t)
	mock.ExpectQuery(`FROM contact_segments`).WillReturnError(sql.ErrNoRows)

	_, err := store.GetSegment(context.Background(), 10, 4)
	assert.ErrorIs(t, err, ErrSegmentNotFound)
}

func TestStore_CreateSegment(t *testing.T) {
	store, mock := setupStore(t)
	mock.ExpectQuery(`INSERT INTO contact_segments`).
		WithArgs(int64(10), "Leads", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(77))

	seg := &domain.ContactSegment{CompanyID: 10, Name: "Leads", Criteria: domain.SegmentCriteria{Tags: []string{"lead"}}}
	require.NoError(t, store.CreateSegment(context.Background(), seg))
	assert.Equal(t, int64(77), seg.ID)
	assert.False(t, seg.CreatedAt.IsZero())
}

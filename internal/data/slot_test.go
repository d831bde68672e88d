package data

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"Corva/pkg/oauth"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupSlotRepo(t *testing.T) (*SlotRepo, sqlmock.Sqlmock) {
	db, mock := setupTestDB(t)
	return NewSlotRepo(&Data{db: db}, log.DefaultLogger), mock
}

func testSlots(userID string) []*SyncedSlot {
	start := time.Date(2025, 3, 2, 15, 0, 0, 0, time.UTC)
	return []*SyncedSlot{
		NewSyncedSlot(userID, oauth.Slot{Provider: oauth.ProviderSquare, ExternalID: "b1", StartTime: start,
			EndTime: start.Add(45 * time.Minute), Status: oauth.SlotBooked, ServiceName: "Haircut"}),
		NewSyncedSlot(userID, oauth.Slot{Provider: oauth.ProviderSquare, ExternalID: "b2", StartTime: start.Add(24 * time.Hour),
			EndTime: start.Add(25 * time.Hour), Status: oauth.SlotCancelled, ServiceName: "Beard Trim"}),
	}
}

func TestNewSyncedSlot(t *testing.T) {
	loc := time.FixedZone("EST", -5*3600)
	start := time.Date(2025, 3, 2, 10, 0, 0, 0, loc)

	row := NewSyncedSlot("user-1", oauth.Slot{
		Provider: oauth.ProviderAcuity, ExternalID: "101", StartTime: start, EndTime: start.Add(time.Hour),
		Status: oauth.SlotBooked, ServiceName: "Kids Haircut",
	})

	assert.Equal(t, "user-1", row.UserID)
	assert.Equal(t, oauth.ProviderAcuity, row.Provider)
	assert.Equal(t, "101", row.ExternalID)
	assert.Equal(t, time.UTC, row.StartTime.Location())
	assert.True(t, start.Equal(row.StartTime))
}

func TestReplaceRange(t *testing.T) {
	repo, mock := setupSlotRepo(t)
	ctx := context.Background()
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 30)

	t.Run("deletes range then inserts", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("DELETE FROM `synced_slots` WHERE user_id = ? AND provider = ? AND start_time >= ? AND start_time < ?")).
			WithArgs("user-1", "square", start, end).
			WillReturnResult(sqlmock.NewResult(0, 5))
		mock.ExpectExec("INSERT INTO `synced_slots` .* ON DUPLICATE KEY UPDATE").
			WillReturnResult(sqlmock.NewResult(1, 2))
		mock.ExpectCommit()

		written, err := repo.ReplaceRange(ctx, "user-1", oauth.ProviderSquare, start, end, testSlots("user-1"))
		require.NoError(t, err)
		assert.Equal(t, 2, written)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty result clears range", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("DELETE FROM `synced_slots`")).
			WillReturnResult(sqlmock.NewResult(0, 3))
		mock.ExpectCommit()

		written, err := repo.ReplaceRange(ctx, "user-1", oauth.ProviderSquare, start, end, nil)
		require.NoError(t, err)
		assert.Equal(t, 0, written)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insert failure rolls back", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("DELETE FROM `synced_slots`")).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO `synced_slots`").
			WillReturnError(errors.New("boom"))
		mock.ExpectRollback()

		written, err := repo.ReplaceRange(ctx, "user-1", oauth.ProviderSquare, start, end, testSlots("user-1"))
		assert.Error(t, err)
		assert.Equal(t, 0, written)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestMergeByExternalID(t *testing.T) {
	repo, mock := setupSlotRepo(t)
	ctx := context.Background()

	mock.ExpectExec("INSERT INTO `synced_slots` .* ON DUPLICATE KEY UPDATE .*`status`").
		WillReturnResult(sqlmock.NewResult(1, 3))

	written, err := repo.MergeByExternalID(ctx, "user-1", oauth.ProviderSquare, testSlots("user-1"))
	require.NoError(t, err)
	assert.Equal(t, 2, written)

	// Nothing to merge: no statement is issued and nothing is deleted.
	written, err = repo.MergeByExternalID(ctx, "user-1", oauth.ProviderSquare, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, written)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListRange(t *testing.T) {
	repo, mock := setupSlotRepo(t)
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 7)
	cols := []string{"id", "user_id", "provider", "external_id", "start_time", "end_time", "status", "service_name", "created_at", "updated_at"}

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `synced_slots` WHERE (user_id = ? AND start_time >= ? AND start_time < ?) AND provider = ? ORDER BY start_time ASC")).
		WithArgs("user-1", start, end, "acuity").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(1, "user-1", "acuity", "101", start.Add(time.Hour), start.Add(2*time.Hour), "booked", "Haircut", start, start))

	slots, err := repo.ListRange(context.Background(), "user-1", oauth.ProviderAcuity, start, end)
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.Equal(t, oauth.SlotBooked, slots[0].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

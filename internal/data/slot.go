package data

import (
	"context"
	"fmt"
	"time"

	pkgerrors "Corva/pkg/errors"
	"Corva/pkg/oauth"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const slotBatchSize = 200

// SyncedSlot is the GORM model for the synced_slots table.
type SyncedSlot struct {
	ID          int64              `gorm:"primaryKey;column:id"`
	UserID      string             `gorm:"column:user_id;size:64;not null;uniqueIndex:uk_user_provider_external,priority:1;index:idx_user_provider_start,priority:1"`
	Provider    oauth.ProviderType `gorm:"column:provider;size:32;not null;uniqueIndex:uk_user_provider_external,priority:2;index:idx_user_provider_start,priority:2"`
	ExternalID  string             `gorm:"column:external_id;size:128;not null;uniqueIndex:uk_user_provider_external,priority:3"`
	StartTime   time.Time          `gorm:"column:start_time;not null;index:idx_user_provider_start,priority:3"`
	EndTime     time.Time          `gorm:"column:end_time;not null"`
	Status      oauth.SlotStatus   `gorm:"column:status;size:16;not null"`
	ServiceName string             `gorm:"column:service_name;size:255;not null"`
	CreatedAt   time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}

func (SyncedSlot) TableName() string {
	return "synced_slots"
}

// NewSyncedSlot maps a provider slot onto a row owned by userID.
func NewSyncedSlot(userID string, s oauth.Slot) *SyncedSlot {
	return &SyncedSlot{
		UserID:      userID,
		Provider:    s.Provider,
		ExternalID:  s.ExternalID,
		StartTime:   s.StartTime.UTC(),
		EndTime:     s.EndTime.UTC(),
		Status:      s.Status,
		ServiceName: s.ServiceName,
	}
}

// upsertSlots is the ON DUPLICATE KEY clause shared by both write modes.
// Rows whose values did not change are left untouched by MySQL.
var upsertSlots = clause.OnConflict{
	Columns: []clause.Column{{Name: "user_id"}, {Name: "provider"}, {Name: "external_id"}},
	DoUpdates: clause.AssignmentColumns([]string{
		"start_time",
		"end_time",
		"status",
		"service_name",
		"updated_at",
	}),
}

// SlotRepo implements biz.SlotRepo.
type SlotRepo struct {
	data   *Data
	logger *log.Helper
}

func NewSlotRepo(data *Data, logger log.Logger) *SlotRepo {
	return &SlotRepo{
		data:   data,
		logger: log.NewHelper(logger),
	}
}

// ReplaceRange makes the stored set for (userID, provider) with start in
// [start, end) equal to slots, in one transaction. It returns the number of
// rows written.
func (r *SlotRepo) ReplaceRange(ctx context.Context, userID string, provider oauth.ProviderType, start, end time.Time, slots []*SyncedSlot) (int, error) {
	var deleted int64
	err := r.data.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("user_id = ? AND provider = ? AND start_time >= ? AND start_time < ?",
			userID, provider, start.UTC(), end.UTC()).
			Delete(&SyncedSlot{})
		if res.Error != nil {
			return fmt.Errorf("failed to clear slot range: %w", pkgerrors.ClassifyDBError(res.Error))
		}
		deleted = res.RowsAffected

		if len(slots) == 0 {
			return nil
		}
		if err := tx.Clauses(upsertSlots).CreateInBatches(slots, slotBatchSize).Error; err != nil {
			return fmt.Errorf("failed to insert slots: %w", pkgerrors.ClassifyDBError(err))
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	r.logger.Infow("msg", "slot range replaced", "user_id", userID, "provider", provider,
		"deleted", deleted, "written", len(slots), "type", "sync")
	return len(slots), nil
}

// MergeByExternalID inserts new slots and updates changed ones; stored slots
// absent from the input are kept.
func (r *SlotRepo) MergeByExternalID(ctx context.Context, userID string, provider oauth.ProviderType, slots []*SyncedSlot) (int, error) {
	if len(slots) == 0 {
		return 0, nil
	}

	err := r.data.db.WithContext(ctx).
		Clauses(upsertSlots).
		CreateInBatches(slots, slotBatchSize).Error
	if err != nil {
		return 0, fmt.Errorf("failed to merge slots: %w", pkgerrors.ClassifyDBError(err))
	}

	r.logger.Infow("msg", "slots merged", "user_id", userID, "provider", provider, "written", len(slots), "type", "sync")
	return len(slots), nil
}

// ListRange returns the stored slots of userID starting in [start, end),
// ordered by start time. An empty provider matches all providers.
func (r *SlotRepo) ListRange(ctx context.Context, userID string, provider oauth.ProviderType, start, end time.Time) ([]*SyncedSlot, error) {
	q := r.data.db.WithContext(ctx).
		Where("user_id = ? AND start_time >= ? AND start_time < ?", userID, start.UTC(), end.UTC())
	if provider != "" {
		q = q.Where("provider = ?", provider)
	}

	var slots []*SyncedSlot
	if err := q.Order("start_time ASC").Find(&slots).Error; err != nil {
		return nil, fmt.Errorf("failed to list slots: %w", pkgerrors.ClassifyDBError(err))
	}
	return slots, nil
}

package data

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"Corva/pkg/oauth"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
)

const auditBufferSize = 1000

// AuditLog is the GORM model for the credential_audit_logs table.
type AuditLog struct {
	ID        int64              `gorm:"primaryKey;column:id"`
	UserID    string             `gorm:"column:user_id;size:64;not null;index"`
	Provider  oauth.ProviderType `gorm:"column:provider;size:32;not null"`
	Action    AuditAction        `gorm:"column:action;type:varchar(32);not null"`
	Details   *string            `gorm:"column:details;type:json"`
	CreatedAt time.Time          `gorm:"column:created_at;autoCreateTime"`
}

func (AuditLog) TableName() string {
	return "credential_audit_logs"
}

// AuditLoggerImpl implements biz.AuditLogger. Events are queued on a
// buffered channel and written by one background goroutine; a full buffer
// drops the event rather than blocking the caller.
type AuditLoggerImpl struct {
	data    *Data
	logChan chan *AuditLog
	done    chan struct{}
	mu      sync.RWMutex
	closed  bool
	logger  *log.Helper
}

// NewAuditLogger starts the writer goroutine. The returned cleanup drains
// queued events before returning.
func NewAuditLogger(data *Data, logger log.Logger) (*AuditLoggerImpl, func()) {
	al := &AuditLoggerImpl{
		data:    data,
		logChan: make(chan *AuditLog, auditBufferSize),
		done:    make(chan struct{}),
		logger:  log.NewHelper(logger),
	}

	go al.start()

	return al, al.Close
}

func (a *AuditLoggerImpl) start() {
	defer close(a.done)

	for event := range a.logChan {
		if err := a.write(context.Background(), event); err != nil {
			a.logger.Errorw("msg", "failed to write audit log",
				"user_id", event.UserID,
				"provider", event.Provider,
				"action", event.Action,
				"error", err,
				"type", "audit")
			continue
		}
		a.logger.Debugw("msg", "audit log written", "user_id", event.UserID, "action", event.Action, "type", "audit")
	}
}

func (a *AuditLoggerImpl) write(ctx context.Context, event *AuditLog) error {
	if a.data == nil || a.data.db == nil {
		return gorm.ErrInvalidDB
	}
	return a.data.db.WithContext(ctx).Create(event).Error
}

// LogCredentialEvent queues one audit row. details may be nil.
func (a *AuditLoggerImpl) LogCredentialEvent(ctx context.Context, userID string, provider oauth.ProviderType, action AuditAction, details map[string]interface{}) {
	event := &AuditLog{
		UserID:   userID,
		Provider: provider,
		Action:   action,
	}

	if len(details) > 0 {
		detailsJSON, err := json.Marshal(details)
		if err != nil {
			a.logger.Errorw("msg", "failed to marshal audit log details", "error", err, "type", "audit")
			return
		}
		s := string(detailsJSON)
		event.Details = &s
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		a.logger.Warnw("msg", "audit logger closed, dropping event", "user_id", userID, "action", action, "type", "audit")
		return
	}

	select {
	case a.logChan <- event:
	default:
		a.logger.Warnw("msg", "audit log channel full, dropping event",
			"user_id", userID,
			"action", action,
			"type", "audit")
	}
}

// Close stops accepting events and waits until queued ones are written.
func (a *AuditLoggerImpl) Close() {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.logChan)
	}
	a.mu.Unlock()
	<-a.done
}

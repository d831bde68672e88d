package data

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"time"

	pkgerrors "Corva/pkg/errors"
	"Corva/pkg/metadata"
	"Corva/pkg/oauth"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CredentialStatus represents the database ENUM type for status.
type CredentialStatus string

const (
	CredentialActive            CredentialStatus = "active"
	CredentialReconnectRequired CredentialStatus = "reconnect_required"
)

// ErrCredentialNotFound is returned when the user has no credential for the
// provider.
var ErrCredentialNotFound = errors.New("credential not found")

// Credential is the GORM model for the provider_credentials table. Token
// columns hold AES-GCM ciphertext; the biz layer encrypts and decrypts.
type Credential struct {
	ID                    int64              `gorm:"primaryKey;column:id"`
	UserID                string             `gorm:"column:user_id;size:64;not null;uniqueIndex:uk_user_provider,priority:1"`
	Provider              oauth.ProviderType `gorm:"column:provider;size:32;not null;uniqueIndex:uk_user_provider,priority:2"`
	AccessTokenEncrypted  string             `gorm:"column:access_token_encrypted;type:text;not null"`
	RefreshTokenEncrypted string             `gorm:"column:refresh_token_encrypted;type:text"`
	ExpiresAt             *time.Time         `gorm:"column:expires_at;index"` // NULL when the provider token does not expire
	AccountID             string             `gorm:"column:account_id;size:128"`
	Metadata              *string            `gorm:"column:metadata;type:json"`
	Status                CredentialStatus   `gorm:"column:status;type:enum('active','reconnect_required');default:'active';not null"`
	CreatedAt             time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for GORM.
func (Credential) TableName() string {
	return "provider_credentials"
}

// Scan implements sql.Scanner interface for CredentialStatus.
func (s *CredentialStatus) Scan(value interface{}) error {
	if value == nil {
		*s = ""
		return nil
	}
	switch v := value.(type) {
	case []byte:
		*s = CredentialStatus(v)
	case string:
		*s = CredentialStatus(v)
	default:
		return fmt.Errorf("cannot scan type %T into CredentialStatus", value)
	}
	return nil
}

// Value implements driver.Valuer interface for CredentialStatus.
func (s CredentialStatus) Value() (driver.Value, error) {
	return string(s), nil
}

// Expired reports whether the access token expires before now+skew. A
// credential without an expiry never expires.
func (c *Credential) Expired(now time.Time, skew time.Duration) bool {
	if c.ExpiresAt == nil {
		return false
	}
	return !c.ExpiresAt.After(now.Add(skew))
}

// ParsedMetadata returns the decoded metadata column; an empty column yields
// empty metadata.
func (c *Credential) ParsedMetadata() (*metadata.CredentialMetadata, error) {
	if c.Metadata == nil || *c.Metadata == "" {
		return &metadata.CredentialMetadata{}, nil
	}
	return metadata.Parse(*c.Metadata)
}

// TokenUpdate carries the columns written after a successful refresh.
// An empty RefreshTokenEncrypted keeps the stored refresh token.
type TokenUpdate struct {
	AccessTokenEncrypted  string
	RefreshTokenEncrypted string
	ExpiresAt             *time.Time
}

// CredentialRepo implements biz.CredentialRepo.
type CredentialRepo struct {
	data   *Data
	logger *log.Helper
}

func NewCredentialRepo(data *Data, logger log.Logger) *CredentialRepo {
	return &CredentialRepo{
		data:   data,
		logger: log.NewHelper(logger),
	}
}

// GetCredential returns the credential for (userID, provider) or
// ErrCredentialNotFound.
func (r *CredentialRepo) GetCredential(ctx context.Context, userID string, provider oauth.ProviderType) (*Credential, error) {
	var cred Credential
	err := r.data.db.WithContext(ctx).
		Where("user_id = ? AND provider = ?", userID, provider).
		First(&cred).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCredentialNotFound
		}
		return nil, fmt.Errorf("failed to get credential: %w", pkgerrors.ClassifyDBError(err))
	}
	return &cred, nil
}

// ListCredentials returns every credential row of userID ordered by id.
func (r *CredentialRepo) ListCredentials(ctx context.Context, userID string) ([]*Credential, error) {
	var creds []*Credential
	err := r.data.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id ASC").
		Find(&creds).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", pkgerrors.ClassifyDBError(err))
	}
	return creds, nil
}

// UpsertCredential inserts cred or, when (user_id, provider) already exists,
// overwrites the tokens, identifiers and metadata and re-activates the row.
func (r *CredentialRepo) UpsertCredential(ctx context.Context, cred *Credential) error {
	if cred.Status == "" {
		cred.Status = CredentialActive
	}

	err := r.data.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}, {Name: "provider"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"access_token_encrypted",
				"refresh_token_encrypted",
				"expires_at",
				"account_id",
				"metadata",
				"status",
				"updated_at",
			}),
		}).
		Create(cred).Error
	if err != nil {
		dbErr := pkgerrors.ClassifyDBError(err)
		r.logger.Errorw("msg", "failed to upsert credential", "user_id", cred.UserID, "provider", cred.Provider,
			"error_type", dbErr.Type.String(), "error", dbErr.Error(), "type", "database")
		return fmt.Errorf("failed to upsert credential: %w", dbErr)
	}

	r.logger.Infow("msg", "credential saved", "user_id", cred.UserID, "provider", cred.Provider, "type", "database")
	return nil
}

// UpdateToken writes a refreshed token in a single UPDATE and marks the row
// active again.
func (r *CredentialRepo) UpdateToken(ctx context.Context, id int64, upd *TokenUpdate) error {
	updates := map[string]interface{}{
		"access_token_encrypted": upd.AccessTokenEncrypted,
		"expires_at":             upd.ExpiresAt,
		"status":                 CredentialActive,
		"updated_at":             time.Now(),
	}
	if upd.RefreshTokenEncrypted != "" {
		updates["refresh_token_encrypted"] = upd.RefreshTokenEncrypted
	}

	result := r.data.db.WithContext(ctx).
		Model(&Credential{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update credential token: %w", pkgerrors.ClassifyDBError(result.Error))
	}
	if result.RowsAffected == 0 {
		return ErrCredentialNotFound
	}
	return nil
}

// UpdateStatus sets the status column of credential id.
func (r *CredentialRepo) UpdateStatus(ctx context.Context, id int64, status CredentialStatus) error {
	result := r.data.db.WithContext(ctx).
		Model(&Credential{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     status,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update credential status: %w", pkgerrors.ClassifyDBError(result.Error))
	}
	if result.RowsAffected == 0 {
		return ErrCredentialNotFound
	}

	r.logger.Infow("msg", "credential status updated", "credential_id", id, "status", status, "type", "database")
	return nil
}

// DeleteCredential removes the row for (userID, provider). It reports
// whether a row existed.
func (r *CredentialRepo) DeleteCredential(ctx context.Context, userID string, provider oauth.ProviderType) (bool, error) {
	result := r.data.db.WithContext(ctx).
		Where("user_id = ? AND provider = ?", userID, provider).
		Delete(&Credential{})
	if result.Error != nil {
		return false, fmt.Errorf("failed to delete credential: %w", pkgerrors.ClassifyDBError(result.Error))
	}
	return result.RowsAffected > 0, nil
}

// ListExpiring returns active credentials whose expiry is at or before
// threshold, soonest first.
func (r *CredentialRepo) ListExpiring(ctx context.Context, threshold time.Time) ([]*Credential, error) {
	var creds []*Credential

	// SQL: WHERE status = 'active'
	//      AND expires_at IS NOT NULL
	//      AND expires_at <= ?
	//      ORDER BY expires_at ASC
	err := r.data.db.WithContext(ctx).
		Where("status = ?", CredentialActive).
		Where("expires_at IS NOT NULL").
		Where("expires_at <= ?", threshold).
		Order("expires_at ASC").
		Find(&creds).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list expiring credentials: %w", pkgerrors.ClassifyDBError(err))
	}

	r.logger.Debugw("msg", "expiring credentials listed", "count", len(creds), "threshold", threshold, "type", "database")
	return creds, nil
}

// File: tokenizer.store.gorm.imp.go

package tokenizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

// AuthTokenModel is the relational row of a TokenRecord.
type AuthTokenModel struct {
	ID                      uint64         `gorm:"primaryKey;autoIncrement:false"`
	Name                    string         `gorm:"type:varchar(255);not null"`
	Platform                string         `gorm:"type:varchar(128);not null;default:default"`
	OwnerType               string         `gorm:"index:idx_auth_tokens_owner;type:varchar(255);not null"`
	OwnerID                 string         `gorm:"index:idx_auth_tokens_owner;type:varchar(255);not null"`
	Driver                  string         `gorm:"type:varchar(64);not null"`
	AccessToken             string         `gorm:"uniqueIndex:idx_auth_tokens_access_token;type:varchar(64);not null"`
	RefreshToken            string         `gorm:"uniqueIndex:idx_auth_tokens_refresh_token;type:varchar(128);not null"`
	Scopes                  string         `gorm:"type:text"`
	AccessTokenExpireAt     time.Time      `gorm:"index:idx_auth_tokens_access_expire;not null"`
	RefreshTokenAvailableAt time.Time      `gorm:"not null"`
	RefreshTokenExpireAt    time.Time      `gorm:"index:idx_auth_tokens_refresh_expire;not null"`
	LastUsedAt              *time.Time
	CreatedAt               time.Time
	UpdatedAt               time.Time
	DeletedAt               gorm.DeletedAt `gorm:"index"`
}

// TableName specifies the default table name for AuthTokenModel
func (AuthTokenModel) TableName() string {
	return DefaultTable
}

func (m *AuthTokenModel) BeforeCreate(tx *gorm.DB) error {
	if m.ID == 0 {
		m.ID = GenerateID()
	}
	return nil
}

func newAuthTokenModel(record *TokenRecord) (*AuthTokenModel, error) {
	scopes, err := json.Marshal(record.Scopes)
	if err != nil {
		return nil, fmt.Errorf("failed to encode scopes: %w", err)
	}
	model := &AuthTokenModel{
		ID:                      record.ID,
		Name:                    record.Name,
		Platform:                record.Platform,
		OwnerType:               record.OwnerType,
		OwnerID:                 record.OwnerID,
		Driver:                  record.Driver,
		AccessToken:             record.AccessToken,
		RefreshToken:            record.RefreshToken,
		Scopes:                  string(scopes),
		AccessTokenExpireAt:     record.AccessTokenExpireAt.UTC(),
		RefreshTokenAvailableAt: record.RefreshTokenAvailableAt.UTC(),
		RefreshTokenExpireAt:    record.RefreshTokenExpireAt.UTC(),
		CreatedAt:               record.CreatedAt.UTC(),
		UpdatedAt:               record.UpdatedAt.UTC(),
	}
	if record.LastUsedAt != nil {
		at := record.LastUsedAt.UTC()
		model.LastUsedAt = &at
	}
	if record.DeletedAt != nil {
		model.DeletedAt = gorm.DeletedAt{Time: record.DeletedAt.UTC(), Valid: true}
	}
	return model, nil
}

func (m *AuthTokenModel) toRecord() (*TokenRecord, error) {
	var scopes []string
	if m.Scopes != "" {
		if err := json.Unmarshal([]byte(m.Scopes), &scopes); err != nil {
			return nil, fmt.Errorf("failed to decode scopes: %w", err)
		}
	}
	record := &TokenRecord{
		ID:                      m.ID,
		Name:                    m.Name,
		Platform:                m.Platform,
		OwnerType:               m.OwnerType,
		OwnerID:                 m.OwnerID,
		Driver:                  m.Driver,
		AccessToken:             m.AccessToken,
		RefreshToken:            m.RefreshToken,
		Scopes:                  scopes,
		AccessTokenExpireAt:     m.AccessTokenExpireAt,
		RefreshTokenAvailableAt: m.RefreshTokenAvailableAt,
		RefreshTokenExpireAt:    m.RefreshTokenExpireAt,
		LastUsedAt:              m.LastUsedAt,
		CreatedAt:               m.CreatedAt,
		UpdatedAt:               m.UpdatedAt,
	}
	if m.DeletedAt.Valid {
		t := m.DeletedAt.Time
		record.DeletedAt = &t
	}
	return record, nil
}

// GormTokenStore stores token records in a relational database through GORM.
//
// Open the database with gorm.Config{TranslateError: true} so unique index
// violations surface as gorm.ErrDuplicatedKey.
type GormTokenStore struct {
	db    *gorm.DB
	table string
}

// NewGormTokenStore creates a GORM-based token store and migrates its table.
func NewGormTokenStore(db *gorm.DB, table string) (*GormTokenStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database cannot be nil")
	}
	if table == "" {
		table = DefaultTable
	}

	// Test the connection
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}

	if err := db.Table(table).AutoMigrate(&AuthTokenModel{}); err != nil {
		return nil, fmt.Errorf("failed to migrate tables: %w", err)
	}

	return &GormTokenStore{
		db:    db,
		table: table,
	}, nil
}

// query returns a session scoped to the token table with soft-delete
// filtering enabled.
func (r *GormTokenStore) query(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Model(&AuthTokenModel{}).Table(r.table)
}

// withTransaction executes a function within a database transaction
func (r *GormTokenStore) withTransaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	tx := r.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return fmt.Errorf("failed to begin transaction: %w", tx.Error)
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit().Error; err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func (r *GormTokenStore) TokenExists(ctx context.Context, tokenType TokenType, value string) (bool, error) {
	var column string
	switch tokenType {
	case AccessTokenType:
		column = "access_token"
	case RefreshTokenType:
		column = "refresh_token"
	default:
		return false, fmt.Errorf("invalid token type: %s", tokenType)
	}

	var count int64
	err := r.query(ctx).Unscoped().Where(column+" = ?", value).Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("database error: %w", err)
	}
	return count > 0, nil
}

// Times are compared in UTC: sqlite keeps them as zone-suffixed text, so
// mixing zones breaks ordering.

func (r *GormTokenStore) FindByAccessToken(ctx context.Context, value string, now time.Time) (*TokenRecord, error) {
	return r.first(r.query(ctx).
		Where("access_token = ? AND access_token_expire_at > ?", value, now.UTC()))
}

func (r *GormTokenStore) FindByRefreshToken(ctx context.Context, value string, now time.Time) (*TokenRecord, error) {
	now = now.UTC()
	return r.first(r.query(ctx).
		Where("refresh_token = ? AND refresh_token_available_at <= ? AND refresh_token_expire_at > ?", value, now, now))
}

func (r *GormTokenStore) first(tx *gorm.DB) (*TokenRecord, error) {
	var model AuthTokenModel
	if err := tx.First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("database error: %w", err)
	}
	return model.toRecord()
}

func (r *GormTokenStore) Create(ctx context.Context, record *TokenRecord) error {
	model, err := newAuthTokenModel(record)
	if err != nil {
		return err
	}

	err = r.withTransaction(ctx, func(tx *gorm.DB) error {
		if err := tx.Table(r.table).Create(model).Error; err != nil {
			if isDuplicateKeyError(err) {
				return fmt.Errorf("%w: %v", ErrDuplicateToken, err)
			}
			return fmt.Errorf("failed to create token record: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	record.ID = model.ID
	return nil
}

func (r *GormTokenStore) Update(ctx context.Context, record *TokenRecord) error {
	model, err := newAuthTokenModel(record)
	if err != nil {
		return err
	}

	return r.withTransaction(ctx, func(tx *gorm.DB) error {
		result := tx.Model(&AuthTokenModel{}).Table(r.table).
			Where("id = ?", record.ID).
			Updates(map[string]interface{}{
				"name":                       model.Name,
				"platform":                   model.Platform,
				"driver":                     model.Driver,
				"access_token":               model.AccessToken,
				"refresh_token":              model.RefreshToken,
				"scopes":                     model.Scopes,
				"access_token_expire_at":     model.AccessTokenExpireAt,
				"refresh_token_available_at": model.RefreshTokenAvailableAt,
				"refresh_token_expire_at":    model.RefreshTokenExpireAt,
				"last_used_at":               model.LastUsedAt,
				"updated_at":                 model.UpdatedAt,
			})
		if result.Error != nil {
			if isDuplicateKeyError(result.Error) {
				return fmt.Errorf("%w: %v", ErrDuplicateToken, result.Error)
			}
			return fmt.Errorf("failed to update token record: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrRecordNotFound
		}
		return nil
	})
}

func (r *GormTokenStore) Touch(ctx context.Context, id uint64, at time.Time) error {
	result := r.query(ctx).Where("id = ?", id).UpdateColumn("last_used_at", at.UTC())
	if result.Error != nil {
		return fmt.Errorf("failed to touch token record: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (r *GormTokenStore) SoftDelete(ctx context.Context, id uint64, at time.Time) (bool, error) {
	at = at.UTC()
	result := r.query(ctx).Where("id = ?", id).UpdateColumns(map[string]interface{}{
		"deleted_at": at,
		"updated_at": at,
	})
	if result.Error != nil {
		return false, fmt.Errorf("failed to revoke token record: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (r *GormTokenStore) ListLive(ctx context.Context, ownerType, ownerID string) ([]*TokenRecord, error) {
	var models []AuthTokenModel
	err := r.query(ctx).
		Where("owner_type = ? AND owner_id = ?", ownerType, ownerID).
		Order("id").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}

	records := make([]*TokenRecord, 0, len(models))
	for i := range models {
		record, err := models[i].toRecord()
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

func (r *GormTokenStore) PurgeBatch(ctx context.Context, criteria PurgeCriteria, limit int) (int, error) {
	if limit <= 0 {
		return 0, fmt.Errorf("limit must be positive")
	}

	var conditions []string
	var args []interface{}
	if criteria.Revoked {
		conditions = append(conditions, "deleted_at IS NOT NULL")
	}
	if criteria.Expired {
		conditions = append(conditions, "refresh_token_expire_at < ?")
		args = append(args, criteria.ExpiredBefore.UTC())
	}
	if len(conditions) == 0 {
		return 0, nil
	}

	var purged int
	err := r.withTransaction(ctx, func(tx *gorm.DB) error {
		var ids []uint64
		err := tx.Model(&AuthTokenModel{}).Table(r.table).Unscoped().
			Where(strings.Join(conditions, " OR "), args...).
			Order("id").
			Limit(limit).
			Pluck("id", &ids).Error
		if err != nil {
			return fmt.Errorf("failed to select purgeable records: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}

		result := tx.Table(r.table).Unscoped().Where("id IN ?", ids).Delete(&AuthTokenModel{})
		if result.Error != nil {
			return fmt.Errorf("failed to purge token records: %w", result.Error)
		}
		purged = int(result.RowsAffected)
		return nil
	})
	return purged, err
}

// Close performs cleanup operations
func (r *GormTokenStore) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	return sqlDB.Close()
}

// isDuplicateKeyError also recognizes raw driver errors for connections
// opened without TranslateError.
func isDuplicateKeyError(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate entry")
}

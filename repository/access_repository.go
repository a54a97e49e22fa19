package repository

import (
	"context"
	"errors"

	"Fanvault/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AccessRepository 角色与授权数据访问接口
type AccessRepository interface {
	RolesFor(ctx context.Context, principalID string) ([]model.Role, error)
	HasGrant(ctx context.Context, principalID, mediaID string) (bool, error)
	AssignRole(ctx context.Context, principalID string, role model.Role) error
	Grant(ctx context.Context, principalID, mediaID string) error
	Revoke(ctx context.Context, principalID, mediaID string) error
}

type gormAccessRepository struct {
	db *gorm.DB
}

// NewGormAccessRepository 创建 GORM 授权仓库
func NewGormAccessRepository(db *gorm.DB) AccessRepository {
	return &gormAccessRepository{db: db}
}

func (r *gormAccessRepository) RolesFor(ctx context.Context, principalID string) ([]model.Role, error) {
	var roles []model.Role
	err := r.db.WithContext(ctx).Model(&model.UserRole{}).
		Where("principal_id = ?", principalID).
		Pluck("role", &roles).Error
	return roles, err
}

// HasGrant reports an exact principal and media match. Grants are never
// inherited through other assets.
func (r *gormAccessRepository) HasGrant(ctx context.Context, principalID, mediaID string) (bool, error) {
	var grant model.AccessGrant
	err := r.db.WithContext(ctx).
		Where("principal_id = ? AND media_id = ?", principalID, mediaID).
		Take(&grant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// AssignRole is idempotent.
func (r *gormAccessRepository) AssignRole(ctx context.Context, principalID string, role model.Role) error {
	return r.db.WithContext(ctx).
		Where(model.UserRole{PrincipalID: principalID, Role: role}).
		FirstOrCreate(&model.UserRole{}).Error
}

// Grant is idempotent.
func (r *gormAccessRepository) Grant(ctx context.Context, principalID, mediaID string) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model.AccessGrant{PrincipalID: principalID, MediaID: mediaID}).Error
}

func (r *gormAccessRepository) Revoke(ctx context.Context, principalID, mediaID string) error {
	return r.db.WithContext(ctx).
		Where("principal_id = ? AND media_id = ?", principalID, mediaID).
		Delete(&model.AccessGrant{}).Error
}

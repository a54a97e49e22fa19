package repository

import (
	"context"
	"errors"
	"fmt"

	"Fanvault/model"

	"gorm.io/gorm"
)

// MediaAssetRepository 媒体资源数据访问接口
type MediaAssetRepository interface {
	Create(ctx context.Context, asset *model.MediaAsset) error
	GetByID(ctx context.Context, id string) (*model.MediaAsset, error)
	ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*model.MediaAsset, error)
	ListByStatus(ctx context.Context, status model.ProcessingStatus, limit int) ([]*model.MediaAsset, error)
	UpdateStatus(ctx context.Context, assetID string, status model.ProcessingStatus, detail string) error
	SaveManifest(ctx context.Context, assetID string, manifest *model.TranscodeManifest, processedPath string) error
	SetThumbnail(ctx context.Context, assetID, thumbnailPath string) error
}

// gormMediaAssetRepository GORM 实现
type gormMediaAssetRepository struct {
	db *gorm.DB
}

// NewGormMediaAssetRepository 创建 GORM 媒体资源仓库
func NewGormMediaAssetRepository(db *gorm.DB) MediaAssetRepository {
	return &gormMediaAssetRepository{db: db}
}

// Create inserts asset, defaulting the kind from its original path.
func (r *gormMediaAssetRepository) Create(ctx context.Context, asset *model.MediaAsset) error {
	if asset.Kind == "" {
		if kind, ok := model.ClassifyPath(asset.OriginalPath); ok {
			asset.Kind = kind
		}
	}
	if asset.Status == "" {
		asset.Status = model.StatusPending
	}
	return r.db.WithContext(ctx).Create(asset).Error
}

// GetByID returns model.ErrAssetNotFound for unknown ids.
func (r *gormMediaAssetRepository) GetByID(ctx context.Context, id string) (*model.MediaAsset, error) {
	var asset model.MediaAsset
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&asset).Error
	if err != nil {
		return nil, notFound(err, fmt.Errorf("%w: %s", model.ErrAssetNotFound, id))
	}
	return &asset, nil
}

func (r *gormMediaAssetRepository) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*model.MediaAsset, error) {
	var assets []*model.MediaAsset
	err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&assets).Error
	return assets, err
}

// ListByStatus 按处理状态列出资源, oldest first.
func (r *gormMediaAssetRepository) ListByStatus(ctx context.Context, status model.ProcessingStatus, limit int) ([]*model.MediaAsset, error) {
	var assets []*model.MediaAsset
	err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at ASC").
		Limit(limit).
		Find(&assets).Error
	return assets, err
}

func (r *gormMediaAssetRepository) UpdateStatus(ctx context.Context, assetID string, status model.ProcessingStatus, detail string) error {
	return r.updates(ctx, assetID, map[string]interface{}{
		"status":       status,
		"error_detail": detail,
	})
}

// SaveManifest stores the manifest and its terminal status. An empty
// processedPath leaves the stored one untouched.
func (r *gormMediaAssetRepository) SaveManifest(ctx context.Context, assetID string, manifest *model.TranscodeManifest, processedPath string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var asset model.MediaAsset
		if err := tx.Where("id = ?", assetID).First(&asset).Error; err != nil {
			return notFound(err, fmt.Errorf("%w: %s", model.ErrAssetNotFound, assetID))
		}

		asset.Manifest = manifest
		asset.Status = manifest.Status
		asset.ErrorDetail = ""
		columns := []string{"manifest", "status", "error_detail"}
		if processedPath != "" {
			asset.ProcessedPath = processedPath
			columns = append(columns, "processed_path")
		}
		// Select so the cleared error detail is written too.
		return tx.Model(&asset).Select(columns).Updates(&asset).Error
	})
}

func (r *gormMediaAssetRepository) SetThumbnail(ctx context.Context, assetID, thumbnailPath string) error {
	return r.updates(ctx, assetID, map[string]interface{}{"thumbnail_path": thumbnailPath})
}

func (r *gormMediaAssetRepository) updates(ctx context.Context, assetID string, fields map[string]interface{}) error {
	res := r.db.WithContext(ctx).Model(&model.MediaAsset{}).Where("id = ?", assetID).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", model.ErrAssetNotFound, assetID)
	}
	return nil
}

// notFound swaps gorm.ErrRecordNotFound for the domain error.
func notFound(err, domain error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain
	}
	return err
}

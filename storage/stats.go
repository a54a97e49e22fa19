package storage

import (
	"context"
	"fmt"
	"time"
)

// BucketStats 存储桶统计信息
type BucketStats struct {
	TotalObjects int64
	TotalSize    int64
	LastModified time.Time
}

// Usage lists everything under prefix and totals it.
func Usage(ctx context.Context, store BlobStore, prefix string) ([]ObjectInfo, BucketStats, error) {
	objects, err := store.List(ctx, prefix, true)
	if err != nil {
		return nil, BucketStats{}, err
	}

	var stats BucketStats
	for _, object := range objects {
		stats.TotalObjects++
		stats.TotalSize += object.Size
		if object.LastModified.After(stats.LastModified) {
			stats.LastModified = object.LastModified
		}
	}
	return objects, stats, nil
}

// FormatSize 格式化文件大小
func FormatSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}

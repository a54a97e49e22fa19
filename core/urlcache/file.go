package urlcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

// FilePersister keeps the snapshot in one JSON file, replaced atomically.
type FilePersister struct {
	path     string
	maxBytes int64
}

// NewFilePersister stores snapshots at path. maxBytes > 0 makes Save report
// ErrQuotaExceeded for larger snapshots.
func NewFilePersister(path string, maxBytes int64) *FilePersister {
	return &FilePersister{path: path, maxBytes: maxBytes}
}

func (f *FilePersister) Load(ctx context.Context) (map[string]Record, error) {
	raw, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]Record{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read url cache file: %w", err)
	}
	records := make(map[string]Record)
	if len(raw) == 0 {
		return records, nil
	}
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("decode url cache file: %w", err)
	}
	return records, nil
}

func (f *FilePersister) Save(ctx context.Context, records map[string]Record) error {
	raw, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encode url cache: %w", err)
	}
	if f.maxBytes > 0 && int64(len(raw)) > f.maxBytes {
		return fmt.Errorf("%w: snapshot is %d bytes, limit %d", ErrQuotaExceeded, len(raw), f.maxBytes)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create url cache dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".url_cache-*")
	if err != nil {
		return quotaErr(fmt.Errorf("create temp file: %w", err))
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return quotaErr(fmt.Errorf("write url cache: %w", err))
	}
	if err := tmp.Close(); err != nil {
		return quotaErr(fmt.Errorf("close url cache: %w", err))
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("replace url cache file: %w", err)
	}
	return nil
}

func (f *FilePersister) Clear(ctx context.Context) error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove url cache file: %w", err)
	}
	return nil
}

func quotaErr(err error) error {
	if errors.Is(err, syscall.ENOSPC) {
		return fmt.Errorf("%w: %v", ErrQuotaExceeded, err)
	}
	return err
}

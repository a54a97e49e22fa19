// Package delivery answers URL and manifest requests for media assets:
// authorize, consult the URL cache, and resolve on a miss.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"Fanvault/core/access"
	"Fanvault/core/ladder"
	"Fanvault/core/resolver"
	"Fanvault/core/urlcache"
	"Fanvault/logger"
	"Fanvault/model"

	"golang.org/x/sync/singleflight"
)

// ErrRenditionNotFound is returned when a requested label has no successful
// rendition.
var ErrRenditionNotFound = errors.New("delivery: rendition not available")

// OriginalLabel labels URLs that point at the uploaded source.
const OriginalLabel = "original"

// AssetStore loads assets by id.
type AssetStore interface {
	GetByID(ctx context.Context, id string) (*model.MediaAsset, error)
}

// Authorizer decides access and returns the caller's access class.
type Authorizer interface {
	Authorize(ctx context.Context, principalID, mediaID string) (access.Class, error)
}

// URLResolver signs storage paths.
type URLResolver interface {
	Resolve(ctx context.Context, p string, tf resolver.Transform, expiresIn time.Duration) (resolver.Result, error)
}

// URLResponse is a single resolved URL.
type URLResponse struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
	Label     string    `json:"label"`
}

// ManifestEntry is one playable rendition.
type ManifestEntry struct {
	Label       string `json:"label"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	BitrateKbps int    `json:"bitrate"`
	URL         string `json:"url"`
	SizeBytes   int64  `json:"sizeBytes"`
}

// ManifestResponse lists every successful rendition with a signed URL.
type ManifestResponse struct {
	Manifest     []ManifestEntry        `json:"manifest"`
	OriginalPath string                 `json:"originalPath"`
	ThumbnailURL string                 `json:"thumbnailUrl,omitempty"`
	Status       model.ProcessingStatus `json:"status"`
}

// Options tunes a Service. Zero values pick defaults.
type Options struct {
	// DefaultExpiry applies when a request names no lifetime. It should
	// match the resolver's default.
	DefaultExpiry time.Duration
	Now           func() time.Time
}

// Service is safe for concurrent use.
type Service struct {
	assets   AssetStore
	guard    Authorizer
	resolver URLResolver
	cache    *urlcache.Cache
	group    singleflight.Group
	opts     Options
}

// NewService wires the delivery path. cache may be nil.
func NewService(assets AssetStore, guard Authorizer, r URLResolver, cache *urlcache.Cache, opts Options) *Service {
	if opts.DefaultExpiry <= 0 {
		opts.DefaultExpiry = time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{assets: assets, guard: guard, resolver: r, cache: cache, opts: opts}
}

func (s *Service) authorizedAsset(ctx context.Context, principalID, assetID string) (*model.MediaAsset, access.Class, error) {
	class, err := s.guard.Authorize(ctx, principalID, assetID)
	if err != nil {
		return nil, "", err
	}
	asset, err := s.assets.GetByID(ctx, assetID)
	if err != nil {
		return nil, "", err
	}
	return asset, class, nil
}

// URL returns a signed URL for one rendition of assetID. With no label the
// asset's stored processed path is used, falling back to the original.
func (s *Service) URL(ctx context.Context, principalID, assetID, label string, expiresIn time.Duration) (*URLResponse, error) {
	asset, class, err := s.authorizedAsset(ctx, principalID, assetID)
	if err != nil {
		return nil, err
	}

	target, resolvedLabel, err := pickPath(asset, label)
	if err != nil {
		return nil, err
	}

	res, err := s.resolve(ctx, class, target, resolver.Transform{}, expiresIn)
	if err != nil {
		return nil, err
	}
	return &URLResponse{URL: res.URL, ExpiresAt: res.ExpiresAt, Label: resolvedLabel}, nil
}

// Manifest returns every successful rendition with its own signed URL.
func (s *Service) Manifest(ctx context.Context, principalID, assetID string, expiresIn time.Duration) (*ManifestResponse, error) {
	asset, class, err := s.authorizedAsset(ctx, principalID, assetID)
	if err != nil {
		return nil, err
	}

	out := &ManifestResponse{
		Manifest:     []ManifestEntry{},
		OriginalPath: asset.OriginalPath,
		Status:       asset.Status,
	}
	if asset.Manifest != nil {
		for _, r := range asset.Manifest.Successful() {
			res, err := s.resolve(ctx, class, r.Path, resolver.Transform{}, expiresIn)
			if err != nil {
				return nil, fmt.Errorf("resolve %s: %w", r.Label, err)
			}
			out.Manifest = append(out.Manifest, ManifestEntry{
				Label:       r.Label,
				Width:       r.Width,
				Height:      r.Height,
				BitrateKbps: r.BitrateKbps,
				URL:         res.URL,
				SizeBytes:   r.SizeBytes,
			})
		}
	}

	if asset.ThumbnailPath != "" {
		res, err := s.resolve(ctx, class, asset.ThumbnailPath, resolver.Transform{}, expiresIn)
		if err != nil {
			logger.Warn("thumbnail resolution failed",
				logger.String("assetId", assetID),
				logger.ErrorField(err))
		} else {
			out.ThumbnailURL = res.URL
		}
	}
	return out, nil
}

// SecureURL signs p with an optional transform. p must be one of the
// asset's own stored paths; a grant on one asset never signs another's.
func (s *Service) SecureURL(ctx context.Context, principalID, assetID, p string, tf resolver.Transform, expiresIn time.Duration) (*resolver.Result, error) {
	asset, class, err := s.authorizedAsset(ctx, principalID, assetID)
	if err != nil {
		return nil, err
	}
	norm, err := resolver.NormalizePath(p)
	if err != nil {
		return nil, err
	}
	if !ownsPath(asset, norm) {
		logger.Warn("secure url path does not belong to asset",
			logger.String("assetId", assetID),
			logger.String("path", norm))
		return nil, access.ErrAccessDenied
	}
	res, err := s.resolve(ctx, class, norm, tf, expiresIn)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// resolve consults the cache, then coalesces concurrent misses for the same
// key and lifetime into one resolver call. A cached URL is only served when
// it expires no later than the caller asked for. Cache trouble never fails
// the request.
func (s *Service) resolve(ctx context.Context, class access.Class, p string, tf resolver.Transform, expiresIn time.Duration) (resolver.Result, error) {
	norm, err := resolver.NormalizePath(p)
	if err != nil {
		return resolver.Result{}, err
	}
	if expiresIn <= 0 {
		expiresIn = s.opts.DefaultExpiry
	}
	key := urlcache.Key{Path: norm, Transform: tf.String(), AccessClass: string(class)}

	if s.cache != nil {
		if e, ok := s.cache.Get(key); ok {
			if !e.ExpiresAt.Add(s.cache.SafetyMargin()).After(s.opts.Now().Add(expiresIn)) {
				return resolver.Result{URL: e.URL, ExpiresAt: e.ExpiresAt}, nil
			}
			logger.Debug("cached url outlives requested expiry",
				logger.String("path", norm),
				logger.Duration("expiresIn", expiresIn))
		}
	}

	// The shared call must not die with whichever caller started it; the
	// resolver bounds each attempt itself.
	detached := context.WithoutCancel(ctx)
	ch := s.group.DoChan(key.String()+"|"+expiresIn.String(), func() (interface{}, error) {
		res, err := s.resolver.Resolve(detached, norm, tf, expiresIn)
		if err != nil {
			return nil, err
		}
		if s.cache != nil {
			s.cache.Set(key, urlcache.Entry{URL: res.URL, ExpiresAt: res.ExpiresAt, AccessClass: string(class)})
		}
		return res, nil
	})

	select {
	case <-ctx.Done():
		return resolver.Result{}, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return resolver.Result{}, r.Err
		}
		if r.Shared {
			logger.Debug("coalesced url resolution", logger.String("path", norm))
		}
		return r.Val.(resolver.Result), nil
	}
}

// pickPath chooses the stored path for label. Paths are never derived from
// the asset id; only stored fields are trusted.
func pickPath(asset *model.MediaAsset, label string) (string, string, error) {
	if label != "" {
		l := ladder.Normalize(label)
		if l == OriginalLabel {
			return asset.OriginalPath, OriginalLabel, nil
		}
		if asset.Manifest != nil {
			if r, ok := asset.Manifest.Renditions[l]; ok && r.Success && r.Path != "" {
				return r.Path, l, nil
			}
		}
		return "", "", fmt.Errorf("%w: %s", ErrRenditionNotFound, l)
	}

	if asset.ProcessedPath != "" {
		return asset.ProcessedPath, labelForPath(asset, asset.ProcessedPath), nil
	}
	if asset.Manifest != nil {
		if ok := asset.Manifest.Successful(); len(ok) > 0 {
			best := ok[len(ok)-1]
			return best.Path, best.Label, nil
		}
	}
	if asset.OriginalPath == "" {
		return "", "", fmt.Errorf("%w: asset has no stored path", ErrRenditionNotFound)
	}
	return asset.OriginalPath, OriginalLabel, nil
}

func labelForPath(asset *model.MediaAsset, p string) string {
	if asset.Manifest != nil {
		for label, r := range asset.Manifest.Renditions {
			if r.Success && r.Path == p {
				return label
			}
		}
	}
	return OriginalLabel
}

func ownsPath(asset *model.MediaAsset, p string) bool {
	candidates := []string{asset.OriginalPath, asset.ProcessedPath, asset.ThumbnailPath}
	if asset.Manifest != nil {
		for _, r := range asset.Manifest.Renditions {
			if r.Success {
				candidates = append(candidates, r.Path)
			}
		}
	}
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if norm, err := resolver.NormalizePath(c); err == nil && norm == p {
			return true
		}
	}
	return false
}

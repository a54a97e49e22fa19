// Package resolver turns a storage path plus optional image transform into a
// short-lived signed URL. Formats that a transform would damage are sent down
// a bypass path before any transform logic runs.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"Fanvault/logger"
	"Fanvault/metrics"
	"Fanvault/model"
	"Fanvault/storage"
)

var (
	ErrInvalidPath = errors.New("resolver: invalid path")
	// ErrTransformUnsupportedFormat means a transform reached a source kind
	// that the bypass classification should have excluded.
	ErrTransformUnsupportedFormat = errors.New("resolver: transform requested for unsupported format")
)

const (
	DefaultMaxEdge    = 1920
	DefaultMaxQuality = 95
)

// legacyImageExtensions are image containers that lose data when converted.
var legacyImageExtensions = map[string]bool{
	".heic": true,
	".heif": true,
}

var outputFormats = map[string]bool{
	"webp": true,
	"jpeg": true,
	"png":  true,
	"avif": true,
}

// Transform is an optional image transform. The zero value means none.
type Transform struct {
	Width   int    `json:"width,omitempty"`
	Height  int    `json:"height,omitempty"`
	Quality int    `json:"quality,omitempty"`
	Format  string `json:"format,omitempty"`
}

// IsZero reports whether no transform was requested.
func (t Transform) IsZero() bool {
	return t.Width <= 0 && t.Height <= 0 && t.Quality <= 0 && t.Format == ""
}

// String is a stable representation used in cache keys.
func (t Transform) String() string {
	if t.IsZero() {
		return "-"
	}
	return fmt.Sprintf("w=%d,h=%d,q=%d,f=%s", t.Width, t.Height, t.Quality, strings.ToLower(t.Format))
}

// Result is a resolved URL. ExpiresAt is the URL's real expiry.
type Result struct {
	URL       string          `json:"url"`
	ExpiresAt time.Time       `json:"expiresAt"`
	Kind      model.MediaKind `json:"kind,omitempty"`
	Bypass    bool            `json:"-"`
}

// Options tunes the resolver.
type Options struct {
	DefaultExpiry time.Duration
	Timeout       time.Duration
	MaxAttempts   int
	BaseBackoff   time.Duration
	MaxEdge       int
	MaxQuality    int
	Now           func() time.Time
}

func (o *Options) setDefaults() {
	if o.DefaultExpiry <= 0 {
		o.DefaultExpiry = time.Hour
	}
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = 200 * time.Millisecond
	}
	if o.MaxEdge <= 0 {
		o.MaxEdge = DefaultMaxEdge
	}
	if o.MaxQuality <= 0 {
		o.MaxQuality = DefaultMaxQuality
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Resolver signs URLs. It does no caching and no authorization; callers
// check access first.
type Resolver struct {
	signer storage.URLSigner
	opts   Options
}

// New creates a resolver.
func New(signer storage.URLSigner, opts Options) *Resolver {
	opts.setDefaults()
	return &Resolver{signer: signer, opts: opts}
}

// NormalizePath strips leading slashes and cleans p. Paths escaping the
// bucket root are rejected.
func NormalizePath(p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		return "", ErrInvalidPath
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
		}
	}
	cleaned := strings.TrimLeft(path.Clean("/"+p), "/")
	if cleaned == "" || cleaned == "." {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	return cleaned, nil
}

// route is how a source kind is delivered.
type route int

const (
	routeTransform   route = iota // image transform allowed
	routeBypass                   // never transform
	routePassthrough              // no transform; size comes from renditions
)

type routeVisitor struct{}

func (routeVisitor) Image() route         { return routeTransform }
func (routeVisitor) Video() route         { return routePassthrough }
func (routeVisitor) Audio() route         { return routeBypass }
func (routeVisitor) AnimatedImage() route { return routeBypass }

// Classify reports the media kind of p and whether it must bypass
// transforms. Unknown extensions are bypassed.
func Classify(p string) (model.MediaKind, bool) {
	kind, ok := model.ClassifyPath(p)
	if !ok {
		return "", true
	}
	if legacyImageExtensions[model.Ext(p)] {
		return kind, true
	}
	r, err := model.VisitKind[route](kind, routeVisitor{})
	if err != nil {
		return kind, true
	}
	return kind, r != routeTransform
}

// Resolve signs a URL for p. expiresIn <= 0 selects the default expiry.
func (r *Resolver) Resolve(ctx context.Context, p string, tf Transform, expiresIn time.Duration) (Result, error) {
	key, err := NormalizePath(p)
	if err != nil {
		return Result{}, err
	}

	if expiresIn <= 0 {
		expiresIn = r.opts.DefaultExpiry
	}
	if expiresIn > storage.MaxPresignExpiry {
		expiresIn = storage.MaxPresignExpiry
	}

	// Classification runs before any transform handling.
	kind, bypass := Classify(key)
	var params url.Values
	if !bypass && !tf.IsZero() {
		params, err = r.transformParams(kind, tf)
		if err != nil {
			logger.Error("transform reached a bypass-class source",
				logger.String("path", key),
				logger.String("kind", string(kind)),
				logger.ErrorField(err))
			metrics.URLResolutionsTotal.WithLabelValues("error").Inc()
			return Result{}, err
		}
	}

	issuedAt := r.opts.Now()
	u, err := r.signWithRetry(ctx, key, expiresIn, params)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			metrics.URLResolutionsTotal.WithLabelValues("not_found").Inc()
		} else {
			metrics.URLResolutionsTotal.WithLabelValues("error").Inc()
		}
		return Result{}, err
	}

	outcome := "signed"
	if bypass {
		outcome = "bypass"
	}
	metrics.URLResolutionsTotal.WithLabelValues(outcome).Inc()

	return Result{
		URL:       u.String(),
		ExpiresAt: issuedAt.Add(expiresIn),
		Kind:      kind,
		Bypass:    bypass,
	}, nil
}

// transformParams clamps tf to the configured maxima.
func (r *Resolver) transformParams(kind model.MediaKind, tf Transform) (url.Values, error) {
	if kind != model.KindImage {
		return nil, fmt.Errorf("%w: %s", ErrTransformUnsupportedFormat, kind)
	}

	params := url.Values{}
	if tf.Width > 0 {
		params.Set("width", strconv.Itoa(min(tf.Width, r.opts.MaxEdge)))
	}
	if tf.Height > 0 {
		params.Set("height", strconv.Itoa(min(tf.Height, r.opts.MaxEdge)))
	}
	if tf.Quality > 0 {
		params.Set("quality", strconv.Itoa(min(tf.Quality, r.opts.MaxQuality)))
	}
	if f := strings.ToLower(tf.Format); f != "" {
		if f == "jpg" {
			f = "jpeg"
		}
		if outputFormats[f] {
			params.Set("format", f)
		} else {
			logger.Warn("ignoring unknown output format", logger.String("format", tf.Format))
		}
	}
	if len(params) == 0 {
		return nil, nil
	}
	return params, nil
}

// transient reports whether a signing failure is worth retrying.
func transient(err error) bool {
	switch {
	case errors.Is(err, storage.ErrNotFound),
		errors.Is(err, storage.ErrForbidden),
		errors.Is(err, ErrInvalidPath),
		errors.Is(err, context.Canceled):
		return false
	}
	return true
}

func (r *Resolver) signWithRetry(ctx context.Context, key string, expiry time.Duration, params url.Values) (*url.URL, error) {
	backoff := r.opts.BaseBackoff
	var lastErr error
	for attempt := 1; attempt <= r.opts.MaxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
		u, err := r.signer.PresignGet(attemptCtx, key, expiry, params)
		cancel()
		if err == nil {
			return u, nil
		}
		lastErr = err

		if !transient(err) || ctx.Err() != nil || attempt == r.opts.MaxAttempts {
			break
		}
		logger.Warn("signing failed, retrying",
			logger.String("path", key),
			logger.Int("attempt", attempt),
			logger.Duration("backoff", backoff),
			logger.ErrorField(err))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return nil, lastErr
}

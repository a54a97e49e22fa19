package model

import (
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"
)

// MediaKind is the closed set of media kinds an asset can have.
type MediaKind string

const (
	KindImage         MediaKind = "image"
	KindVideo         MediaKind = "video"
	KindAudio         MediaKind = "audio"
	KindAnimatedImage MediaKind = "animated_image"
)

// KindVisitor must handle every MediaKind. Adding a kind adds a method here,
// which breaks every implementation until it is handled.
type KindVisitor[T any] interface {
	Image() T
	Video() T
	Audio() T
	AnimatedImage() T
}

// VisitKind dispatches k to the matching visitor method.
func VisitKind[T any](k MediaKind, v KindVisitor[T]) (T, error) {
	switch k {
	case KindImage:
		return v.Image(), nil
	case KindVideo:
		return v.Video(), nil
	case KindAudio:
		return v.Audio(), nil
	case KindAnimatedImage:
		return v.AnimatedImage(), nil
	}
	var zero T
	return zero, fmt.Errorf("unknown media kind %q", k)
}

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
	".bmp":  true,
	".tif":  true,
	".tiff": true,
	".heic": true,
	".heif": true,
	".avif": true,
}

var animatedImageExtensions = map[string]bool{
	".gif":  true,
	".apng": true,
}

var videoExtensions = map[string]bool{
	".mp4":  true,
	".m4v":  true,
	".mov":  true,
	".mkv":  true,
	".webm": true,
	".avi":  true,
	".3gp":  true,
	".ts":   true,
	".mpg":  true,
	".mpeg": true,
}

var audioExtensions = map[string]bool{
	".mp3":  true,
	".m4a":  true,
	".aac":  true,
	".wav":  true,
	".ogg":  true,
	".oga":  true,
	".opus": true,
	".flac": true,
	".weba": true,
}

// Ext returns the lower-cased extension of p, including the dot.
func Ext(p string) string {
	return strings.ToLower(path.Ext(p))
}

// ClassifyPath derives the media kind from a storage path's extension.
// Unknown extensions are reported as ok=false.
func ClassifyPath(p string) (MediaKind, bool) {
	ext := Ext(p)
	switch {
	case animatedImageExtensions[ext]:
		return KindAnimatedImage, true
	case imageExtensions[ext]:
		return KindImage, true
	case videoExtensions[ext]:
		return KindVideo, true
	case audioExtensions[ext]:
		return KindAudio, true
	}
	return "", false
}

// ProcessingStatus tracks the transcode lifecycle of an asset.
type ProcessingStatus string

const (
	StatusPending    ProcessingStatus = "pending"
	StatusProcessing ProcessingStatus = "processing"
	StatusCompleted  ProcessingStatus = "completed"
	StatusFailed     ProcessingStatus = "failed"
)

// ErrAssetNotFound is returned by asset stores for unknown ids.
var ErrAssetNotFound = errors.New("media asset not found")

// MediaAsset is one uploaded item in the media library.
type MediaAsset struct {
	ID            string             `gorm:"primaryKey;size:64" json:"id"`
	OwnerID       string             `gorm:"size:64;index" json:"ownerId"`
	Kind          MediaKind          `gorm:"size:32" json:"kind"`
	OriginalPath  string             `gorm:"size:512" json:"originalPath"`
	ProcessedPath string             `gorm:"size:512" json:"processedPath,omitempty"`
	ThumbnailPath string             `gorm:"size:512" json:"thumbnailPath,omitempty"`
	Status        ProcessingStatus   `gorm:"size:16;index" json:"status"`
	ErrorDetail   string             `gorm:"type:text" json:"errorDetail,omitempty"`
	Manifest      *TranscodeManifest `gorm:"serializer:json;type:json" json:"manifest,omitempty"`
	CreatedAt     time.Time          `json:"createdAt"`
	UpdatedAt     time.Time          `json:"updatedAt"`
}

// RenditionSpec is one planned rung of the quality ladder.
type RenditionSpec struct {
	Label       string `json:"label"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	BitrateKbps int    `json:"bitrateKbps"`
	CRF         int    `json:"crf"`
}

// RenditionResult is the outcome of encoding one rendition.
type RenditionResult struct {
	Label            string  `json:"label"`
	Success          bool    `json:"success"`
	Path             string  `json:"path,omitempty"`
	SizeBytes        int64   `json:"sizeBytes,omitempty"`
	CompressionRatio float64 `json:"compressionRatio,omitempty"`
	Width            int     `json:"width,omitempty"`
	Height           int     `json:"height,omitempty"`
	BitrateKbps      int     `json:"bitrateKbps,omitempty"`
	Error            string  `json:"error,omitempty"`
}

// TranscodeManifest records every rendition outcome for one asset.
type TranscodeManifest struct {
	AssetID     string                     `json:"assetId"`
	Status      ProcessingStatus           `json:"status"`
	Renditions  map[string]RenditionResult `json:"renditions"`
	CompletedAt time.Time                  `json:"completedAt"`
}

// NewTranscodeManifest returns an empty manifest for assetID.
func NewTranscodeManifest(assetID string) *TranscodeManifest {
	return &TranscodeManifest{
		AssetID:    assetID,
		Status:     StatusProcessing,
		Renditions: make(map[string]RenditionResult),
	}
}

// Record stores r under its label. A label already recorded as successful is
// never replaced by a failure; it reports whether r was stored.
func (m *TranscodeManifest) Record(r RenditionResult) bool {
	if m.Renditions == nil {
		m.Renditions = make(map[string]RenditionResult)
	}
	if prev, ok := m.Renditions[r.Label]; ok && prev.Success && !r.Success {
		return false
	}
	m.Renditions[r.Label] = r
	return true
}

// SuccessCount is the number of successful renditions.
func (m *TranscodeManifest) SuccessCount() int {
	n := 0
	for _, r := range m.Renditions {
		if r.Success {
			n++
		}
	}
	return n
}

// Finalize sets the terminal status: failed iff nothing succeeded.
func (m *TranscodeManifest) Finalize(now time.Time) {
	if m.SuccessCount() == 0 {
		m.Status = StatusFailed
	} else {
		m.Status = StatusCompleted
	}
	m.CompletedAt = now
}

// Successful returns the successful renditions ordered by ascending height.
func (m *TranscodeManifest) Successful() []RenditionResult {
	var out []RenditionResult
	for _, r := range m.Renditions {
		if r.Success {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Height < out[j].Height })
	return out
}

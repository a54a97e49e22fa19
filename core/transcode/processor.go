// Package transcode turns one uploaded video into a ladder of renditions,
// encoding them one at a time to keep peak memory to a single encode.
package transcode

import (
	"context"
	"errors"

	"Fanvault/model"
)

var (
	// ErrInputTooLarge rejects sources at or above the configured ceiling.
	ErrInputTooLarge = errors.New("transcode: input too large")
	// ErrProbeFailed is fatal to the job: nothing can be planned without dimensions.
	ErrProbeFailed = errors.New("transcode: probe failed")
	// ErrEncodeFailed and ErrUploadFailed only fail one rendition.
	ErrEncodeFailed = errors.New("transcode: encode failed")
	ErrUploadFailed = errors.New("transcode: upload failed")
)

// ProbeResult is what the job needs to know about a source.
type ProbeResult struct {
	Width    int
	Height   int
	Duration float64 // seconds
	Codec    string
}

// Encoder wraps the external encoding binary.
type Encoder interface {
	Probe(ctx context.Context, inputFile string) (ProbeResult, error)
	Encode(ctx context.Context, inputFile, outputFile string, spec model.RenditionSpec) error
}

// AssetStore persists job outcomes onto the asset row.
type AssetStore interface {
	UpdateStatus(ctx context.Context, assetID string, status model.ProcessingStatus, detail string) error
	SaveManifest(ctx context.Context, assetID string, manifest *model.TranscodeManifest, processedPath string) error
}

package transcode

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"Fanvault/logger"
	"Fanvault/metrics"
	"Fanvault/model"
	"Fanvault/storage"
)

const renditionContentType = "video/mp4"

// ProcessedPrefix is where renditions are stored.
const ProcessedPrefix = "processed/"

// RenditionKey is the deterministic storage path of a rendition.
func RenditionKey(assetID, label string) string {
	return fmt.Sprintf("%s%s/%s_%s.mp4", ProcessedPrefix, assetID, assetID, label)
}

// Worker encodes and uploads a single rendition.
type Worker struct {
	encoder Encoder
	dest    storage.BlobStore
	timeout time.Duration
}

// NewWorker creates a worker; timeout bounds each encode (0 means none).
func NewWorker(encoder Encoder, dest storage.BlobStore, timeout time.Duration) *Worker {
	return &Worker{encoder: encoder, dest: dest, timeout: timeout}
}

// Render never returns an error: failures are recorded on the result so the
// caller can carry on with the next label. The local output is removed
// before Render returns whatever happened.
func (w *Worker) Render(ctx context.Context, scopeDir, inputFile, assetID string, sourceSize int64, spec model.RenditionSpec) model.RenditionResult {
	result := model.RenditionResult{
		Label:       spec.Label,
		Width:       spec.Width,
		Height:      spec.Height,
		BitrateKbps: spec.BitrateKbps,
	}

	outputFile := filepath.Join(scopeDir, fmt.Sprintf("%s_%s.mp4", assetID, spec.Label))
	defer func() {
		if err := os.Remove(outputFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warn("failed to remove rendition temp file",
				logger.String("path", outputFile),
				logger.ErrorField(err))
		}
	}()

	encodeCtx := ctx
	if w.timeout > 0 {
		var cancel context.CancelFunc
		encodeCtx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	started := time.Now()
	if err := w.encoder.Encode(encodeCtx, inputFile, outputFile, spec); err != nil {
		result.Error = fmt.Errorf("%w: %v", ErrEncodeFailed, err).Error()
		metrics.TranscodeRenditionsTotal.WithLabelValues(spec.Label, "encode_failed").Inc()
		logger.Warn("rendition encode failed",
			logger.String("assetId", assetID),
			logger.String("label", spec.Label),
			logger.ErrorField(err))
		return result
	}

	info, err := os.Stat(outputFile)
	if err != nil || info.Size() == 0 {
		if err == nil {
			err = errors.New("encoder produced an empty file")
		}
		result.Error = fmt.Errorf("%w: %v", ErrEncodeFailed, err).Error()
		metrics.TranscodeRenditionsTotal.WithLabelValues(spec.Label, "encode_failed").Inc()
		return result
	}

	key := RenditionKey(assetID, spec.Label)
	if _, err := w.dest.PutFile(ctx, key, outputFile, renditionContentType); err != nil {
		result.Error = fmt.Errorf("%w: %v", ErrUploadFailed, err).Error()
		metrics.TranscodeRenditionsTotal.WithLabelValues(spec.Label, "upload_failed").Inc()
		logger.Warn("rendition upload failed",
			logger.String("assetId", assetID),
			logger.String("key", key),
			logger.ErrorField(err))
		return result
	}

	result.Success = true
	result.Path = key
	result.SizeBytes = info.Size()
	result.CompressionRatio = compressionRatio(sourceSize, info.Size())
	metrics.TranscodeRenditionsTotal.WithLabelValues(spec.Label, "success").Inc()

	logger.Info("rendition stored",
		logger.String("assetId", assetID),
		logger.String("label", spec.Label),
		logger.Int64("sizeBytes", result.SizeBytes),
		logger.Float64("compressionRatio", result.CompressionRatio),
		logger.Duration("elapsed", time.Since(started)))
	return result
}

// compressionRatio is source bytes per output byte, rounded to 2 places.
func compressionRatio(sourceSize, outputSize int64) float64 {
	if sourceSize <= 0 || outputSize <= 0 {
		return 0
	}
	r := float64(sourceSize) / float64(outputSize)
	return float64(int64(r*100+0.5)) / 100
}

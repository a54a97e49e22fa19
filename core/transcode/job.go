package transcode

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"Fanvault/core/ladder"
	"Fanvault/logger"
	"Fanvault/metrics"
	"Fanvault/model"
	"Fanvault/storage"

	"github.com/google/uuid"
)

// Request is one transcode submission.
type Request struct {
	SourceBucket string   `json:"sourceBucket"`
	SourcePath   string   `json:"sourcePath"`
	AssetID      string   `json:"assetId"`
	TargetLabels []string `json:"targetLabels"`
}

// Options configures a Runner.
type Options struct {
	MaxInputBytes    int64
	TempDir          string
	RenditionTimeout time.Duration
	Now              func() time.Time
}

// BucketFunc picks the store holding a request's source bucket.
type BucketFunc func(bucket string) storage.BlobStore

// Runner executes transcode jobs. It holds no per-job state, so one Runner
// may run several jobs concurrently.
type Runner struct {
	sources BucketFunc
	worker  *Worker
	encoder Encoder
	assets  AssetStore
	events  EventSink
	opts    Options
}

// NewRunner wires a Runner. events may be nil.
func NewRunner(sources BucketFunc, dest storage.BlobStore, encoder Encoder, assets AssetStore, events EventSink, opts Options) *Runner {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}
	if events == nil {
		events = nopSink{}
	}
	return &Runner{
		sources: sources,
		worker:  NewWorker(encoder, dest, opts.RenditionTimeout),
		encoder: encoder,
		assets:  assets,
		events:  events,
		opts:    opts,
	}
}

// Run executes one job. Per-rendition failures are recorded in the returned
// manifest; the error is non-nil only for job-fatal conditions
// (ErrInputTooLarge, ErrProbeFailed, missing source, cancellation).
func (r *Runner) Run(ctx context.Context, req Request) (*model.TranscodeManifest, error) {
	if req.AssetID == "" || req.SourcePath == "" {
		return nil, errors.New("transcode: assetId and sourcePath are required")
	}

	jobID := uuid.NewString()
	started := r.opts.Now()
	metrics.TranscodeJobsInProgress.Inc()
	defer metrics.TranscodeJobsInProgress.Dec()
	defer func() {
		metrics.TranscodeJobDuration.Observe(r.opts.Now().Sub(started).Seconds())
	}()

	logger.Info("transcode job starting",
		logger.String("jobId", jobID),
		logger.String("assetId", req.AssetID),
		logger.String("source", req.SourcePath),
		logger.Strings("labels", req.TargetLabels))

	src := r.sources(req.SourceBucket)
	info, err := src.Stat(ctx, req.SourcePath)
	if err != nil {
		return nil, r.fail(ctx, jobID, req.AssetID, "rejected", fmt.Errorf("stat source: %w", err))
	}
	if info.Size >= r.opts.MaxInputBytes {
		return nil, r.fail(ctx, jobID, req.AssetID, "rejected",
			fmt.Errorf("%w: %d bytes (limit %d)", ErrInputTooLarge, info.Size, r.opts.MaxInputBytes))
	}

	if err := r.assets.UpdateStatus(ctx, req.AssetID, model.StatusProcessing, ""); err != nil {
		logger.Warn("failed to mark asset processing", logger.String("assetId", req.AssetID), logger.ErrorField(err))
	}

	scopeDir, err := os.MkdirTemp(r.opts.TempDir, "transcode-"+jobID+"-")
	if err != nil {
		return nil, r.fail(ctx, jobID, req.AssetID, "failed", fmt.Errorf("create temp scope: %w", err))
	}
	defer func() {
		if err := os.RemoveAll(scopeDir); err != nil {
			logger.Warn("failed to remove job temp scope", logger.String("dir", scopeDir), logger.ErrorField(err))
		}
	}()

	inputFile := filepath.Join(scopeDir, "source"+model.Ext(req.SourcePath))
	if err := r.download(ctx, src, req.SourcePath, inputFile); err != nil {
		return nil, r.fail(ctx, jobID, req.AssetID, "failed", err)
	}

	probe, err := r.encoder.Probe(ctx, inputFile)
	if err != nil {
		return nil, r.fail(ctx, jobID, req.AssetID, "failed", fmt.Errorf("%w: %v", ErrProbeFailed, err))
	}

	specs, err := ladder.Plan(probe.Width, probe.Height, req.TargetLabels)
	if err != nil {
		return nil, r.fail(ctx, jobID, req.AssetID, "failed", fmt.Errorf("%w: %v", ErrProbeFailed, err))
	}

	planned := make([]string, len(specs))
	for i, s := range specs {
		planned[i] = s.Label
	}
	r.events.Publish(Event{Type: EventJobStarted, JobID: jobID, AssetID: req.AssetID, Planned: planned, Time: r.opts.Now()})

	manifest := model.NewTranscodeManifest(req.AssetID)
	var jobErr error
	// Strictly one rendition at a time.
	for _, spec := range specs {
		if err := ctx.Err(); err != nil {
			jobErr = err
			manifest.Record(model.RenditionResult{Label: spec.Label, Width: spec.Width, Height: spec.Height, Error: "job cancelled"})
			continue
		}

		result := r.worker.Render(ctx, scopeDir, inputFile, req.AssetID, info.Size, spec)
		if !manifest.Record(result) {
			logger.Warn("ignored failure for already successful rendition",
				logger.String("assetId", req.AssetID),
				logger.String("label", spec.Label))
		}
		res := result
		r.events.Publish(Event{Type: EventRenditionDone, JobID: jobID, AssetID: req.AssetID, Rendition: &res, Time: r.opts.Now()})
	}

	manifest.Finalize(r.opts.Now())

	// Persist even when the caller's context is gone.
	persistCtx := context.WithoutCancel(ctx)
	if err := r.assets.SaveManifest(persistCtx, req.AssetID, manifest, processedPath(manifest)); err != nil {
		logger.Error("failed to persist manifest", logger.String("assetId", req.AssetID), logger.ErrorField(err))
		if jobErr == nil {
			jobErr = fmt.Errorf("save manifest: %w", err)
		}
	}

	metrics.TranscodeJobsTotal.WithLabelValues(string(manifest.Status)).Inc()
	r.events.Publish(Event{Type: EventJobDone, JobID: jobID, AssetID: req.AssetID, Status: manifest.Status, Time: r.opts.Now()})

	logger.Info("transcode job finished",
		logger.String("jobId", jobID),
		logger.String("assetId", req.AssetID),
		logger.String("status", string(manifest.Status)),
		logger.Int("succeeded", manifest.SuccessCount()),
		logger.Int("planned", len(specs)),
		logger.Duration("elapsed", r.opts.Now().Sub(started)))

	return manifest, jobErr
}

// download streams the source once into the job scope, refusing to write
// past the ceiling even if the stat lied.
func (r *Runner) download(ctx context.Context, src storage.BlobStore, key, dest string) error {
	rc, err := src.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer rc.Close()

	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create temp input: %w", err)
	}
	defer f.Close()

	n, err := io.Copy(f, io.LimitReader(rc, r.opts.MaxInputBytes))
	if err != nil {
		return fmt.Errorf("download source: %w", err)
	}
	if n >= r.opts.MaxInputBytes {
		return fmt.Errorf("%w: download reached %d bytes", ErrInputTooLarge, n)
	}
	return f.Sync()
}

func (r *Runner) fail(ctx context.Context, jobID, assetID, metricStatus string, err error) error {
	metrics.TranscodeJobsTotal.WithLabelValues(metricStatus).Inc()
	if uerr := r.assets.UpdateStatus(context.WithoutCancel(ctx), assetID, model.StatusFailed, err.Error()); uerr != nil {
		logger.Warn("failed to mark asset failed", logger.String("assetId", assetID), logger.ErrorField(uerr))
	}
	r.events.Publish(Event{Type: EventJobDone, JobID: jobID, AssetID: assetID, Status: model.StatusFailed, Error: err.Error(), Time: r.opts.Now()})
	logger.Error("transcode job failed",
		logger.String("jobId", jobID),
		logger.String("assetId", assetID),
		logger.ErrorField(err))
	return err
}

// processedPath is the tallest successful rendition, or "" if none.
func processedPath(m *model.TranscodeManifest) string {
	ok := m.Successful()
	if len(ok) == 0 {
		return ""
	}
	return ok[len(ok)-1].Path
}

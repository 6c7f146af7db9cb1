package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/dimes/labelsync/manifest"
	"github.com/dimes/labelsync/runlog"
)

// ErrImagesFailed is returned when FailOnImageError is set and at least one image failed
var ErrImagesFailed = errors.New("image uploads failed")

// ImagesFailedError counts the failed images
type ImagesFailedError struct {
	Failed int
	Total  int
}

func (e *ImagesFailedError) Error() string {
	return fmt.Sprintf("%d of %d image uploads failed", e.Failed, e.Total)
}

func (e *ImagesFailedError) Unwrap() error {
	return ErrImagesFailed
}

// UploadStage is a state of the upload pipeline. Each stage is reached only if the previous one
// completed.
type UploadStage int

const (
	StageStart UploadStage = iota
	StageManifestCleaned
	StageManifestGenerated
	StageManifestVerified
	StageManifestUploaded
	StageImagesUploaded
	StageDone
)

var uploadStageNames = []string{
	"Start",
	"ManifestCleaned",
	"ManifestGenerated",
	"ManifestVerified",
	"ManifestUploaded",
	"ImagesUploaded",
	"Done",
}

func (s UploadStage) String() string {
	if s < 0 || int(s) >= len(uploadStageNames) {
		return fmt.Sprintf("UploadStage(%d)", int(s))
	}
	return uploadStageNames[s]
}

// Outcome is what happened to one file
type Outcome string

const (
	OutcomeUploaded Outcome = "uploaded"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeFailed   Outcome = "failed"
)

// FileOutcome records the upload of one local file
type FileOutcome struct {
	Key      string
	Path     string
	Outcome  Outcome
	Attempts int
	Err      error // Reason of a failure
}

// UploadReport is the result of an upload run, including a failed one
type UploadReport struct {
	RunID    string
	Bucket   string
	Stage    UploadStage // Last stage reached
	Manifest []FileOutcome
	Images   []FileOutcome
}

// Failed returns the failed image uploads
func (r *UploadReport) Failed() []FileOutcome {
	failed := make([]FileOutcome, 0)
	for _, image := range r.Images {
		if image.Outcome == OutcomeFailed {
			failed = append(failed, image)
		}
	}
	return failed
}

// Count returns the number of images with the outcome
func (r *UploadReport) Count(outcome Outcome) int {
	count := 0
	for _, image := range r.Images {
		if image.Outcome == outcome {
			count++
		}
	}
	return count
}

// UploadOptions configures an upload run
type UploadOptions struct {
	Bucket           string
	ManifestDir      string // Where the manifest and index are generated
	ImagesDir        string
	ImageExtension   string // Defaults to .jpg
	EnsureBucket     bool   // Create the bucket if it does not exist
	FailOnImageError bool   // Fail the run if any image upload fails
}

// UploadPipeline regenerates the dataset manifest and uploads it with the images
type UploadPipeline struct {
	store     ObjectStore
	generator manifest.Generator
	opts      UploadOptions
	logger    *runlog.Logger
}

// NewUploadPipeline returns an upload pipeline
func NewUploadPipeline(store ObjectStore, generator manifest.Generator, opts UploadOptions,
	logger *runlog.Logger) *UploadPipeline {
	if opts.ImageExtension == "" {
		opts.ImageExtension = ".jpg"
	}

	return &UploadPipeline{
		store:     store,
		generator: generator,
		opts:      opts,
		logger:    logger,
	}
}

// Run executes the pipeline. The report is returned even on failure and names the last stage
// reached.
func (p *UploadPipeline) Run(ctx context.Context) (*UploadReport, error) {
	runID, logger := runLogger(p.logger, "upload")
	report := &UploadReport{
		RunID:  runID,
		Bucket: p.opts.Bucket,
		Stage:  StageStart,
	}

	logger.Infof("Selected dataset manifest location: %s", p.opts.ManifestDir)
	if err := manifest.Clean(p.opts.ManifestDir); err != nil {
		return report, err
	}
	report.Stage = StageManifestCleaned

	logger.Infof("Generating manifest for %s with the %s generator", p.opts.ImagesDir, p.generator.Type())
	if err := p.generator.Generate(ctx, p.opts.ImagesDir, p.opts.ManifestDir); err != nil {
		logger.Errorf("Error generating manifest: %+v", err)
		return report, fmt.Errorf("Error generating manifest for %s: %w", p.opts.ImagesDir, err)
	}
	report.Stage = StageManifestGenerated

	if err := manifest.Verify(p.opts.ManifestDir); err != nil {
		logger.Errorf("Manifest was not created: %+v", err)
		return report, err
	}
	report.Stage = StageManifestVerified

	if p.opts.EnsureBucket {
		if err := p.store.EnsureBucket(ctx, p.opts.Bucket); err != nil {
			return report, err
		}
	}

	manifestPath, indexPath := manifest.Paths(p.opts.ManifestDir)
	for _, path := range []string{manifestPath, indexPath} {
		outcome := p.upload(ctx, logger, path, true)
		report.Manifest = append(report.Manifest, outcome)
		if outcome.Err != nil {
			return report, fmt.Errorf("Error uploading manifest file %s: %w", path, outcome.Err)
		}
	}
	report.Stage = StageManifestUploaded

	images, err := p.listImages()
	if err != nil {
		return report, err
	}

	for _, path := range images {
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("Upload of images interrupted: %w", err)
		}

		logger.Infof("Uploading file from location: %s", path)
		outcome := p.upload(ctx, logger, path, false)
		if outcome.Err != nil {
			logger.Warningf("Error uploading %s, skipping it: %v", path, outcome.Err)
		}
		report.Images = append(report.Images, outcome)
	}
	report.Stage = StageImagesUploaded

	logger.Infof("Uploaded %d images, skipped %d, failed %d",
		report.Count(OutcomeUploaded), report.Count(OutcomeSkipped), report.Count(OutcomeFailed))
	if failed := report.Count(OutcomeFailed); failed > 0 && p.opts.FailOnImageError {
		return report, &ImagesFailedError{Failed: failed, Total: len(report.Images)}
	}

	report.Stage = StageDone
	return report, nil
}

func (p *UploadPipeline) upload(ctx context.Context, logger *runlog.Logger, path string,
	overwrite bool) FileOutcome {
	outcome := FileOutcome{
		Key:  filepath.Base(path),
		Path: path,
	}

	result, err := p.store.Upload(ctx, p.opts.Bucket, outcome.Key, path, overwrite)
	if err != nil {
		outcome.Outcome = OutcomeFailed
		outcome.Err = err
		return outcome
	}

	outcome.Attempts = result.Attempts
	if result.Skipped {
		logger.Debugf("%s already exists in %s", outcome.Key, p.opts.Bucket)
		outcome.Outcome = OutcomeSkipped
		return outcome
	}

	outcome.Outcome = OutcomeUploaded
	return outcome
}

// listImages returns the paths of the images manifest.ListImages selects with the configured
// extension
func (p *UploadPipeline) listImages() ([]string, error) {
	names, err := manifest.ListImages(p.opts.ImagesDir, p.opts.ImageExtension)
	if err != nil {
		return nil, err
	}

	images := make([]string, 0, len(names))
	for _, name := range names {
		images = append(images, filepath.Join(p.opts.ImagesDir, name))
	}

	return images, nil
}

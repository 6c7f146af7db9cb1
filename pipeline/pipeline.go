// Package pipeline contains the three labelsync pipelines. Each pipeline is handed explicitly
// constructed clients and runs sequentially on the caller's goroutine.
package pipeline

import (
	"context"

	"github.com/google/uuid"

	"github.com/dimes/labelsync/annotations"
	"github.com/dimes/labelsync/cvat"
	"github.com/dimes/labelsync/objectstore"
	"github.com/dimes/labelsync/runlog"
)

// ObjectStore is the object store used by the upload pipeline. *objectstore.Gateway implements
// it.
type ObjectStore interface {
	EnsureBucket(ctx context.Context, bucket string) error
	Upload(ctx context.Context, bucket, key, localPath string, overwrite bool) (*objectstore.UploadResult, error)
}

// Platform is the annotation platform used by the task mapping and retrieval pipelines.
// *cvat.Gateway implements it.
type Platform interface {
	FindOrCreateCloudStorage(ctx context.Context, spec cvat.CloudStorageSpec) (*cvat.CloudStorage, bool, error)
	FindTask(ctx context.Context, name string) (*cvat.Task, error)
	CreateTask(ctx context.Context, name string, labels []cvat.Label, cloudStorageID int) (*cvat.Task, error)
	ListJobs(ctx context.Context, taskID int) ([]cvat.Job, error)
	ExportJobAnnotations(ctx context.Context, jobID int) ([]annotations.Record, error)
}

// runLogger returns a run id and a logger tagging every line with it
func runLogger(logger *runlog.Logger, pipeline string) (string, *runlog.Logger) {
	if logger == nil {
		logger = runlog.Default()
	}

	runID := uuid.NewString()
	return runID, logger.With("run_id", runID, "pipeline", pipeline)
}

package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/dimes/labelsync/cvat"
	"github.com/dimes/labelsync/lock"
	"github.com/dimes/labelsync/manifest"
	"github.com/dimes/labelsync/runlog"
)

// TaskMappingOptions configures a task mapping run
type TaskMappingOptions struct {
	Provider    cvat.ProviderType // Defaults to AWS_S3_BUCKET
	Bucket      string
	DisplayName string
	Credentials cvat.Credentials
	Endpoint    string // Object store endpoint as seen by CVAT
	TaskName    string
	Labels      []cvat.Label
}

// TaskMappingReport is the result of a task mapping run
type TaskMappingReport struct {
	RunID               string
	CloudStorage        *cvat.CloudStorage
	CloudStorageCreated bool
	Task                *cvat.Task
	TaskCreated         bool
}

// TaskMappingPipeline registers the bucket in CVAT and creates the annotation task bound to it.
// Both steps look up before creating, so a second run with the same options creates nothing.
// Concurrent runs for the same bucket and task are serialized only by the locker; with
// lock.Noop at most one run per pair must be started.
type TaskMappingPipeline struct {
	platform Platform
	locker   lock.Locker
	opts     TaskMappingOptions
	logger   *runlog.Logger
}

// NewTaskMappingPipeline returns a task mapping pipeline. A nil locker means no locking.
func NewTaskMappingPipeline(platform Platform, locker lock.Locker, opts TaskMappingOptions,
	logger *runlog.Logger) *TaskMappingPipeline {
	if locker == nil {
		locker = lock.Noop()
	}

	if opts.Provider == "" {
		opts.Provider = cvat.ProviderAWSS3Bucket
	}

	return &TaskMappingPipeline{
		platform: platform,
		locker:   locker,
		opts:     opts,
		logger:   logger,
	}
}

// LockKey is the key the run is locked under
func (p *TaskMappingPipeline) LockKey() string {
	return p.opts.Bucket + "/" + p.opts.TaskName
}

// Run executes the pipeline. Every failure aborts the run.
func (p *TaskMappingPipeline) Run(ctx context.Context) (*TaskMappingReport, error) {
	runID, logger := runLogger(p.logger, "map-task")
	report := &TaskMappingReport{RunID: runID}

	lease, err := p.locker.Acquire(ctx, p.LockKey())
	if err != nil {
		logger.Errorf("Error locking %s: %+v", p.LockKey(), err)
		return report, err
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			logger.Warningf("Error releasing lock %s: %v", p.LockKey(), err)
		}
	}()

	storage, created, err := p.platform.FindOrCreateCloudStorage(ctx, cvat.CloudStorageSpec{
		Provider:    p.opts.Provider,
		Resource:    p.opts.Bucket,
		DisplayName: p.opts.DisplayName,
		Credentials: p.opts.Credentials,
		Endpoint:    p.opts.Endpoint,
		Manifests:   []string{manifest.ManifestFileName},
	})
	if err != nil {
		return report, err
	}

	report.CloudStorage, report.CloudStorageCreated = storage, created
	logger.Infof("Using cloud storage %d for bucket %s", storage.ID, p.opts.Bucket)

	task, err := p.platform.FindTask(ctx, p.opts.TaskName)
	if err == nil {
		logger.Infof("Task %s already exists with id %d, not creating it", task.Name, task.ID)
		report.Task = task
		return report, nil
	}

	if !errors.Is(err, cvat.ErrTaskNotFound) {
		return report, err
	}

	task, err = p.platform.CreateTask(ctx, p.opts.TaskName, p.opts.Labels, storage.ID)
	if err != nil {
		var dataErr *cvat.TaskDataError
		if errors.As(err, &dataErr) {
			logger.Errorf("Task %d exists without data and needs manual cleanup", dataErr.TaskID)
		}
		return report, fmt.Errorf("Error creating task %s: %w", p.opts.TaskName, err)
	}

	report.Task, report.TaskCreated = task, true
	logger.Infof("Created task %s with id %d", task.Name, task.ID)
	return report, nil
}

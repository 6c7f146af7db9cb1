package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/dimes/labelsync/runlog"
)

// RetrieveOptions configures a retrieval run
type RetrieveOptions struct {
	TaskName  string
	OutputDir string
}

// RetrieveReport is the result of a retrieval run
type RetrieveReport struct {
	RunID  string
	TaskID int
	Jobs   int
	Files  []string // Written files, in write order
}

// RetrievePipeline writes the current annotations of every job of a task, one JSON file per
// image. It performs no remote mutation.
type RetrievePipeline struct {
	platform Platform
	opts     RetrieveOptions
	logger   *runlog.Logger
}

// NewRetrievePipeline returns a retrieval pipeline
func NewRetrievePipeline(platform Platform, opts RetrieveOptions, logger *runlog.Logger) *RetrievePipeline {
	return &RetrievePipeline{
		platform: platform,
		opts:     opts,
		logger:   logger,
	}
}

// Run executes the pipeline. A missing task fails with cvat.ErrTaskNotFound before any job is
// listed.
func (p *RetrievePipeline) Run(ctx context.Context) (*RetrieveReport, error) {
	runID, logger := runLogger(p.logger, "retrieve")
	report := &RetrieveReport{RunID: runID}

	task, err := p.platform.FindTask(ctx, p.opts.TaskName)
	if err != nil {
		logger.Errorf("Error finding task %s: %v", p.opts.TaskName, err)
		return report, err
	}
	report.TaskID = task.ID

	jobs, err := p.platform.ListJobs(ctx, task.ID)
	if err != nil {
		return report, err
	}
	report.Jobs = len(jobs)
	logger.Infof("Task %s has %d jobs", task.Name, len(jobs))

	if err := os.MkdirAll(p.opts.OutputDir, 0755); err != nil {
		return report, fmt.Errorf("Error creating output directory %s: %w", p.opts.OutputDir, err)
	}

	for _, job := range jobs {
		images, err := p.platform.ExportJobAnnotations(ctx, job.ID)
		if err != nil {
			return report, err
		}

		for _, image := range images {
			baseName := image.BaseName()
			if baseName == "" {
				logger.Warningf("Skipping image without name in job %d", job.ID)
				continue
			}

			imageBytes, err := json.MarshalIndent(image, "", "  ")
			if err != nil {
				return report, fmt.Errorf("Error encoding annotations of %s: %w", image.Name(), err)
			}

			path := filepath.Join(p.opts.OutputDir, baseName+".json")
			if err := ioutil.WriteFile(path, imageBytes, 0644); err != nil {
				return report, fmt.Errorf("Error writing annotations to %s: %w", path, err)
			}

			logger.Debugf("Wrote annotations of %s to %s", image.Name(), path)
			report.Files = append(report.Files, path)
		}
	}

	logger.Infof("Wrote %d annotation files to %s", len(report.Files), p.opts.OutputDir)
	return report, nil
}

package cvat

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/dimes/labelsync/annotations"
	"github.com/dimes/labelsync/retry"
	"github.com/dimes/labelsync/runlog"
)

const (
	// DefaultExportAttempts is the number of times an annotation export is requested
	DefaultExportAttempts = 5

	// ImageQuality is the compression quality used for task data
	ImageQuality = 70

	cloudStoragePageSize = 10
	maxListPages         = 1000
)

var (
	// ErrTaskNotFound is returned when no task has the requested name
	ErrTaskNotFound = errors.New("task not found")

	// ErrExportNotReady is returned when an export never became ready within the retry policy
	ErrExportNotReady = errors.New("annotation export not ready")

	errNotReady = errors.New("export not ready yet")
)

// TaskNotFoundError names the missing task
type TaskNotFoundError struct {
	Name string
}

func (e *TaskNotFoundError) Error() string {
	return fmt.Sprintf("task %s not found", e.Name)
}

func (e *TaskNotFoundError) Unwrap() error {
	return ErrTaskNotFound
}

// ExportNotReadyError describes the last response of an export that never became ready
type ExportNotReadyError struct {
	JobID      int
	Attempts   int
	LastStatus int
}

func (e *ExportNotReadyError) Error() string {
	return fmt.Sprintf("annotations of job %d not ready after %d attempts (last status %d)",
		e.JobID, e.Attempts, e.LastStatus)
}

func (e *ExportNotReadyError) Unwrap() error {
	return ErrExportNotReady
}

// TaskDataError is returned when a task was created but its data could not be submitted. The
// task exists remotely without data and must not be created again.
type TaskDataError struct {
	TaskID int
	Err    error
}

func (e *TaskDataError) Error() string {
	return fmt.Sprintf("task %d was created but submitting its data failed: %v", e.TaskID, e.Err)
}

func (e *TaskDataError) Unwrap() error {
	return e.Err
}

// CloudStorageSpec describes the cloud storage to find or create
type CloudStorageSpec struct {
	Provider    ProviderType
	Resource    string
	DisplayName string
	Credentials Credentials
	Endpoint    string // Endpoint CVAT uses to reach the provider
	Manifests   []string
}

// Validate checks the tagged provider and credentials
func (s CloudStorageSpec) Validate() error {
	if err := s.Provider.Validate(); err != nil {
		return err
	}

	if s.Resource == "" {
		return fmt.Errorf("cloud storage resource name is required")
	}

	if len(s.Manifests) == 0 {
		return fmt.Errorf("cloud storage %s needs at least one manifest", s.Resource)
	}

	return s.Credentials.Validate()
}

func (s CloudStorageSpec) writeRequest() *CloudStorageWriteRequest {
	request := &CloudStorageWriteRequest{
		ProviderType: s.Provider,
		Resource:     s.Resource,
		DisplayName:  s.DisplayName,
		Manifests:    s.Manifests,
	}

	if s.Endpoint != "" {
		request.SpecificAttributes = "endpoint_url=" + s.Endpoint
	}

	s.Credentials.apply(request)
	return request
}

// Gateway implements the lookup-or-create and export operations on top of a Client
type Gateway struct {
	client       *Client
	exportPolicy retry.Policy
	logger       *runlog.Logger
}

// GatewayOption configures a Gateway
type GatewayOption func(*Gateway)

// WithExportPolicy sets the policy used to poll annotation exports
func WithExportPolicy(policy retry.Policy) GatewayOption {
	return func(g *Gateway) {
		g.exportPolicy = policy
	}
}

// WithGatewayLogger sets the logger
func WithGatewayLogger(logger *runlog.Logger) GatewayOption {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// NewGateway returns a gateway using client
func NewGateway(client *Client, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		client:       client,
		exportPolicy: retry.Fixed(DefaultExportAttempts),
		logger:       client.logger,
	}

	for _, opt := range opts {
		opt(g)
	}

	return g
}

// FindOrCreateCloudStorage returns the first cloud storage registered under the spec's provider
// and resource name, creating one only if none exists. An existing resource is returned as is
// even if its display name or manifests differ. The boolean reports whether a create was issued.
func (g *Gateway) FindOrCreateCloudStorage(ctx context.Context, spec CloudStorageSpec) (*CloudStorage, bool, error) {
	if err := spec.Validate(); err != nil {
		return nil, false, err
	}

	page, err := g.client.ListCloudStorages(ctx, spec.Provider, spec.Resource, 1, cloudStoragePageSize)
	if err != nil {
		g.logger.Errorf("Error listing cloud storages for %s: %+v", spec.Resource, err)
		return nil, false, fmt.Errorf("Error listing cloud storages for %s: %w", spec.Resource, err)
	}

	if len(page.Results) > 0 {
		storage := page.Results[0]
		g.logger.Infof("Found cloud storage %d for %s", storage.ID, spec.Resource)
		return &storage, false, nil
	}

	storage, err := g.client.CreateCloudStorage(ctx, spec.writeRequest())
	if err != nil {
		g.logger.Errorf("Error creating cloud storage for %s: %+v", spec.Resource, err)
		return nil, false, fmt.Errorf("Error creating cloud storage for %s: %w", spec.Resource, err)
	}

	g.logger.Infof("Created cloud storage %d for %s", storage.ID, spec.Resource)
	return storage, true, nil
}

// FindTask returns the first task whose name is exactly name
func (g *Gateway) FindTask(ctx context.Context, name string) (*Task, error) {
	for pageNumber := 1; pageNumber <= maxListPages; pageNumber++ {
		page, err := g.client.ListTasks(ctx, name, pageNumber)
		if err != nil {
			g.logger.Errorf("Error listing tasks named %s: %+v", name, err)
			return nil, fmt.Errorf("Error listing tasks named %s: %w", name, err)
		}

		for _, task := range page.Results {
			if task.Name == name {
				return &task, nil
			}
		}

		if page.Next == nil {
			break
		}
	}

	return nil, &TaskNotFoundError{Name: name}
}

// CreateTask creates a task bound to the cloud storage and populates it with the storage's
// current content. The two steps are not atomic: if populating fails a *TaskDataError is returned
// and the task is left without data.
func (g *Gateway) CreateTask(ctx context.Context, name string, labels []Label,
	cloudStorageID int) (*Task, error) {
	storageID := cloudStorageID
	task, err := g.client.CreateTask(ctx, &TaskWriteRequest{
		Name:          name,
		Labels:        labels,
		TargetStorage: &StorageLocation{Location: "local"},
		SourceStorage: &StorageLocation{Location: "cloud_storage", CloudStorageID: &storageID},
	})
	if err != nil {
		g.logger.Errorf("Error creating task %s: %+v", name, err)
		return nil, fmt.Errorf("Error creating task %s: %w", name, err)
	}

	g.logger.Infof("Created task %d named %s", task.ID, name)
	content, err := g.client.CloudStorageContent(ctx, cloudStorageID, "")
	if err != nil {
		g.logger.Errorf("Error listing content of cloud storage %d: %+v", cloudStorageID, err)
		return nil, &TaskDataError{TaskID: task.ID, Err: err}
	}

	g.logger.Debugf("Cloud storage %d holds %d files", cloudStorageID, len(content))
	err = g.client.CreateTaskData(ctx, task.ID, &DataRequest{
		CloudStorageID: cloudStorageID,
		ImageQuality:   ImageQuality,
		ServerFiles:    content,
		SortingMethod:  SortingLexicographical,
		UseZipChunks:   true,
		UseCache:       true,
	})
	if err != nil {
		g.logger.Errorf("Error submitting data of task %d: %+v", task.ID, err)
		return nil, &TaskDataError{TaskID: task.ID, Err: err}
	}

	return task, nil
}

// ListJobs returns every job of the task
func (g *Gateway) ListJobs(ctx context.Context, taskID int) ([]Job, error) {
	jobs := make([]Job, 0)
	for pageNumber := 1; pageNumber <= maxListPages; pageNumber++ {
		page, err := g.client.ListJobs(ctx, taskID, pageNumber)
		if err != nil {
			g.logger.Errorf("Error listing jobs of task %d: %+v", taskID, err)
			return nil, fmt.Errorf("Error listing jobs of task %d: %w", taskID, err)
		}

		jobs = append(jobs, page.Results...)
		if page.Next == nil {
			break
		}
	}

	return jobs, nil
}

// ExportJobAnnotations polls the annotation export of a job until it is downloadable and returns
// the images of the decoded document
func (g *Gateway) ExportJobAnnotations(ctx context.Context, jobID int) ([]annotations.Record, error) {
	g.logger.Infof("Starting annotations loading for job %d", jobID)

	var body []byte
	lastStatus := 0
	attempts := 0
	err := retry.Do(ctx, g.exportPolicy, func(attempt int) error {
		attempts = attempt
		status, payload, err := g.client.RetrieveAnnotations(ctx, jobID, annotations.ExportFormat)
		lastStatus = status
		if err != nil {
			if status == http.StatusTooManyRequests || status >= http.StatusInternalServerError {
				return err
			}
			return retry.Permanent(err)
		}

		if status != http.StatusOK {
			g.logger.Debugf("Export of job %d not ready on attempt %d (status %d)", jobID, attempt, status)
			return errNotReady
		}

		body = payload
		return nil
	})
	if err != nil {
		if errors.Is(err, retry.ErrExhausted) && errors.Is(err, errNotReady) {
			g.logger.Warningf("Export of job %d never became ready, last status %d", jobID, lastStatus)
			return nil, &ExportNotReadyError{JobID: jobID, Attempts: attempts, LastStatus: lastStatus}
		}

		g.logger.Errorf("Error retrieving annotations of job %d: %+v", jobID, err)
		return nil, fmt.Errorf("Error retrieving annotations of job %d: %w", jobID, err)
	}

	images, err := annotations.ExtractArchive(body)
	if err != nil {
		return nil, fmt.Errorf("Error decoding annotations of job %d: %w", jobID, err)
	}

	g.logger.Infof("Job %d has %d annotated images", jobID, len(images))
	return images, nil
}

// Package cvat contains the client and gateway for the CVAT annotation platform
package cvat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dimes/labelsync/runlog"
)

const (
	defaultTimeout = 60 * time.Second
)

// APIError is returned for any CVAT response with a status of 300 or above
type APIError struct {
	Method     string
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s failed: status=%d, body=%s", e.Method, e.Endpoint, e.StatusCode,
		strings.TrimSpace(e.Body))
}

// IsStatus reports whether err is an APIError with the given status code
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == status
}

// ClientOptions configures a Client
type ClientOptions struct {
	Host       string
	Username   string
	Password   string
	BasicAuth  bool // Send credentials on every request instead of logging in for a token
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *runlog.Logger
}

// Client talks to the CVAT REST API. It must be closed to release the login session.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	username   string
	password   string
	basicAuth  bool
	token      string
	logger     *runlog.Logger
}

// NewClient returns a client for the CVAT instance at opts.Host. Hosts without a scheme are
// reached over http.
func NewClient(opts ClientOptions) (*Client, error) {
	host := strings.TrimSpace(opts.Host)
	if host == "" {
		return nil, fmt.Errorf("CVAT host is required")
	}

	if !strings.Contains(host, "://") {
		host = "http://" + host
	}

	baseURL, err := url.Parse(strings.TrimRight(host, "/"))
	if err != nil {
		return nil, fmt.Errorf("Error parsing CVAT host %s: %w", opts.Host, err)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	logger := opts.Logger
	if logger == nil {
		logger = runlog.Default()
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		username:   opts.Username,
		password:   opts.Password,
		basicAuth:  opts.BasicAuth,
		logger:     logger,
	}, nil
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Key string `json:"key"`
}

// Login exchanges the username and password for an API token. It is a no-op with basic auth.
func (c *Client) Login(ctx context.Context) error {
	if c.basicAuth {
		return nil
	}

	response := &loginResponse{}
	err := c.do(ctx, http.MethodPost, "/api/auth/login", nil,
		&loginRequest{Username: c.username, Password: c.password}, response)
	if err != nil {
		return fmt.Errorf("Error logging in to CVAT as %s: %w", c.username, err)
	}

	if response.Key == "" {
		return fmt.Errorf("Error logging in to CVAT as %s: no token returned", c.username)
	}

	c.token = response.Key
	c.logger.Debugf("Logged in to CVAT at %s as %s", c.baseURL.Host, c.username)
	return nil
}

// Close logs out of the session opened by Login
func (c *Client) Close(ctx context.Context) error {
	if c.token == "" {
		return nil
	}

	err := c.do(ctx, http.MethodPost, "/api/auth/logout", nil, nil, nil)
	c.token = ""
	if err != nil {
		return fmt.Errorf("Error logging out of CVAT: %w", err)
	}

	return nil
}

// ListCloudStorages lists cloud storages matching the provider type and resource name
func (c *Client) ListCloudStorages(ctx context.Context, providerType ProviderType, resource string,
	page, pageSize int) (*Page[CloudStorage], error) {
	query := url.Values{}
	query.Set("provider_type", string(providerType))
	query.Set("resource", resource)
	query.Set("page", strconv.Itoa(page))
	query.Set("page_size", strconv.Itoa(pageSize))

	result := &Page[CloudStorage]{}
	if err := c.do(ctx, http.MethodGet, "/api/cloudstorages", query, nil, result); err != nil {
		return nil, err
	}

	return result, nil
}

// CreateCloudStorage registers a new cloud storage
func (c *Client) CreateCloudStorage(ctx context.Context,
	request *CloudStorageWriteRequest) (*CloudStorage, error) {
	result := &CloudStorage{}
	if err := c.do(ctx, http.MethodPost, "/api/cloudstorages", nil, request, result); err != nil {
		return nil, err
	}

	return result, nil
}

// CloudStorageContent lists the files of a cloud storage as seen through its manifest
func (c *Client) CloudStorageContent(ctx context.Context, id int, manifestPath string) ([]string, error) {
	query := url.Values{}
	if manifestPath != "" {
		query.Set("manifest_path", manifestPath)
	}

	var result []string
	endpoint := fmt.Sprintf("/api/cloudstorages/%d/content", id)
	if err := c.do(ctx, http.MethodGet, endpoint, query, nil, &result); err != nil {
		return nil, err
	}

	return result, nil
}

// ListTasks lists tasks filtered by name
func (c *Client) ListTasks(ctx context.Context, name string, page int) (*Page[Task], error) {
	query := url.Values{}
	query.Set("name", name)
	query.Set("page", strconv.Itoa(page))

	result := &Page[Task]{}
	if err := c.do(ctx, http.MethodGet, "/api/tasks", query, nil, result); err != nil {
		return nil, err
	}

	return result, nil
}

// CreateTask creates a task without data
func (c *Client) CreateTask(ctx context.Context, request *TaskWriteRequest) (*Task, error) {
	result := &Task{}
	if err := c.do(ctx, http.MethodPost, "/api/tasks", nil, request, result); err != nil {
		return nil, err
	}

	return result, nil
}

// CreateTaskData submits the data population request of a task
func (c *Client) CreateTaskData(ctx context.Context, taskID int, request *DataRequest) error {
	endpoint := fmt.Sprintf("/api/tasks/%d/data", taskID)
	return c.do(ctx, http.MethodPost, endpoint, nil, request, nil)
}

// ListJobs lists one page of the jobs of a task
func (c *Client) ListJobs(ctx context.Context, taskID int, page int) (*Page[Job], error) {
	query := url.Values{}
	query.Set("task_id", strconv.Itoa(taskID))
	query.Set("page", strconv.Itoa(page))

	result := &Page[Job]{}
	if err := c.do(ctx, http.MethodGet, "/api/jobs", query, nil, result); err != nil {
		return nil, err
	}

	return result, nil
}

// RetrieveAnnotations requests a job annotation download. Statuses below 300 are returned with
// the raw body, the caller decides whether the export is ready.
func (c *Client) RetrieveAnnotations(ctx context.Context, jobID int, format string) (int, []byte, error) {
	query := url.Values{}
	query.Set("action", "download")
	query.Set("format", format)

	endpoint := fmt.Sprintf("/api/jobs/%d/annotations", jobID)
	return c.raw(ctx, http.MethodGet, endpoint, query, nil)
}

func (c *Client) do(ctx context.Context, method, endpoint string, query url.Values, body, out any) error {
	_, payload, err := c.raw(ctx, method, endpoint, query, body)
	if err != nil {
		return err
	}

	if out == nil || len(bytes.TrimSpace(payload)) == 0 {
		return nil
	}

	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("Error decoding response of %s %s: %w", method, endpoint, err)
	}

	return nil
}

func (c *Client) raw(ctx context.Context, method, endpoint string, query url.Values,
	body any) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("Error encoding request for %s %s: %w", method, endpoint, err)
		}
		reader = bytes.NewReader(payload)
	}

	target := c.baseURL.JoinPath(endpoint)
	if len(query) > 0 {
		target.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return 0, nil, fmt.Errorf("Error building request %s %s: %w", method, endpoint, err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	switch {
	case c.token != "":
		req.Header.Set("Authorization", "Token "+c.token)
	case c.basicAuth:
		req.SetBasicAuth(c.username, c.password)
	}

	c.logger.Debugf("%s %s", method, target.String())
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("Error calling %s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("Error reading response of %s %s: %w", method, endpoint, err)
	}

	if resp.StatusCode >= http.StatusMultipleChoices {
		return resp.StatusCode, payload, &APIError{
			Method:     method,
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Body:       string(payload),
		}
	}

	return resp.StatusCode, payload, nil
}

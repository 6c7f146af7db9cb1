// Package cvattest provides an in-memory CVAT API server for tests
package cvattest

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"sync"

	"github.com/dimes/labelsync/cvat"
)

const (
	// Token is the API token handed out on login
	Token = "test-token"
)

// Server is a fake CVAT instance. Fields may be changed between calls while holding no lock as
// long as no request is in flight.
type Server struct {
	*httptest.Server

	Username string
	Password string

	// Content is returned by the cloud storage content endpoint
	Content []string

	// ExportStatuses queues the statuses returned for a job's annotation export. Once drained the
	// export answers 200 with ExportArchive.
	ExportStatuses map[int][]int

	// ExportArchive is the zip returned when an export is ready
	ExportArchive []byte

	// FailTaskData makes task data submission answer 500
	FailTaskData bool

	// JobsPerTask is the number of jobs created with each task
	JobsPerTask int

	mu            sync.Mutex
	calls         map[string]int
	nextID        int
	cloudStorages []cvat.CloudStorage
	tasks         []cvat.Task
	jobs          []cvat.Job
	taskData      map[int]cvat.DataRequest
	taskRequests  map[int]cvat.TaskWriteRequest
}

// NewServer starts a fake CVAT server. Close it with Close.
func NewServer() *Server {
	s := &Server{
		Username:       "admin",
		Password:       "secret",
		ExportStatuses: make(map[int][]int),
		JobsPerTask:    1,
		calls:          make(map[string]int),
		nextID:         1,
		taskData:       make(map[int]cvat.DataRequest),
		taskRequests:   make(map[int]cvat.TaskWriteRequest),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/login", s.count("login", s.login))
	mux.HandleFunc("POST /api/auth/logout", s.count("logout", s.authed(s.logout)))
	mux.HandleFunc("GET /api/cloudstorages", s.count("list_cloudstorages", s.authed(s.listCloudStorages)))
	mux.HandleFunc("POST /api/cloudstorages", s.count("create_cloudstorage", s.authed(s.createCloudStorage)))
	mux.HandleFunc("GET /api/cloudstorages/{id}/content", s.count("cloudstorage_content", s.authed(s.content)))
	mux.HandleFunc("GET /api/tasks", s.count("list_tasks", s.authed(s.listTasks)))
	mux.HandleFunc("POST /api/tasks", s.count("create_task", s.authed(s.createTask)))
	mux.HandleFunc("POST /api/tasks/{id}/data", s.count("create_task_data", s.authed(s.createTaskData)))
	mux.HandleFunc("GET /api/jobs", s.count("list_jobs", s.authed(s.listJobs)))
	mux.HandleFunc("GET /api/jobs/{id}/annotations", s.count("retrieve_annotations", s.authed(s.annotations)))

	s.Server = httptest.NewServer(mux)
	return s
}

// Calls returns how many requests reached the named endpoint
func (s *Server) Calls(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.calls[name]
}

// CloudStorages returns the registered cloud storages
func (s *Server) CloudStorages() []cvat.CloudStorage {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]cvat.CloudStorage(nil), s.cloudStorages...)
}

// Tasks returns the created tasks
func (s *Server) Tasks() []cvat.Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]cvat.Task(nil), s.tasks...)
}

// TaskRequest returns the creation request of a task
func (s *Server) TaskRequest(taskID int) (cvat.TaskWriteRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	request, ok := s.taskRequests[taskID]
	return request, ok
}

// TaskData returns the data request submitted for a task
func (s *Server) TaskData(taskID int) (cvat.DataRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	request, ok := s.taskData[taskID]
	return request, ok
}

// AddCloudStorage registers a cloud storage without counting a create call
func (s *Server) AddCloudStorage(storage cvat.CloudStorage) cvat.CloudStorage {
	s.mu.Lock()
	defer s.mu.Unlock()

	storage.ID = s.id()
	s.cloudStorages = append(s.cloudStorages, storage)
	return storage
}

// AddTask creates a task with its jobs without counting a create call
func (s *Server) AddTask(name string) cvat.Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.addTask(name)
}

func (s *Server) addTask(name string) cvat.Task {
	task := cvat.Task{ID: s.id(), Name: name, Status: "annotation"}
	s.tasks = append(s.tasks, task)
	for i := 0; i < s.JobsPerTask; i++ {
		s.jobs = append(s.jobs, cvat.Job{ID: s.id(), TaskID: task.ID, Stage: "annotation"})
	}
	return task
}

// Jobs returns the jobs of a task
func (s *Server) Jobs(taskID int) []cvat.Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := make([]cvat.Job, 0)
	for _, job := range s.jobs {
		if job.TaskID == taskID {
			jobs = append(jobs, job)
		}
	}
	return jobs
}

func (s *Server) id() int {
	id := s.nextID
	s.nextID++
	return id
}

func (s *Server) count(name string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls[name]++
		s.mu.Unlock()
		handler(w, r)
	}
}

func (s *Server) authed(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		basicOK := ok && username == s.Username && password == s.Password
		if r.Header.Get("Authorization") != "Token "+Token && !basicOK {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Authentication credentials were not provided."})
			return
		}
		handler(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func page[T any](results []T) cvat.Page[T] {
	return cvat.Page[T]{Count: len(results), Results: results}
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": err.Error()})
		return
	}

	if request.Username != s.Username || request.Password != s.Password {
		writeJSON(w, http.StatusBadRequest, map[string][]string{
			"non_field_errors": {"Unable to log in with provided credentials."},
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"key": Token})
}

func (s *Server) logout(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"detail": "Successfully logged out."})
}

func (s *Server) listCloudStorages(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	providerType := r.URL.Query().Get("provider_type")
	resource := r.URL.Query().Get("resource")
	results := make([]cvat.CloudStorage, 0)
	for _, storage := range s.cloudStorages {
		if string(storage.ProviderType) == providerType && storage.Resource == resource {
			results = append(results, storage)
		}
	}

	writeJSON(w, http.StatusOK, page(results))
}

func (s *Server) createCloudStorage(w http.ResponseWriter, r *http.Request) {
	var request cvat.CloudStorageWriteRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": err.Error()})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	storage := cvat.CloudStorage{
		ID:                 s.id(),
		ProviderType:       request.ProviderType,
		Resource:           request.Resource,
		DisplayName:        request.DisplayName,
		CredentialsType:    request.CredentialsType,
		SpecificAttributes: request.SpecificAttributes,
		Manifests:          request.Manifests,
	}
	s.cloudStorages = append(s.cloudStorages, storage)
	writeJSON(w, http.StatusCreated, storage)
}

func (s *Server) content(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	content := append([]string{}, s.Content...)
	s.mu.Unlock()

	sort.Strings(content)
	writeJSON(w, http.StatusOK, content)
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := r.URL.Query().Get("name")
	results := make([]cvat.Task, 0)
	for _, task := range s.tasks {
		if task.Name == name {
			results = append(results, task)
		}
	}

	writeJSON(w, http.StatusOK, page(results))
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	var request cvat.TaskWriteRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": err.Error()})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	task := s.addTask(request.Name)
	s.taskRequests[task.ID] = request
	writeJSON(w, http.StatusCreated, task)
}

func (s *Server) createTaskData(w http.ResponseWriter, r *http.Request) {
	taskID, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found."})
		return
	}

	var request cvat.DataRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": err.Error()})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailTaskData {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "storage unavailable"})
		return
	}

	s.taskData[taskID] = request
	writeJSON(w, http.StatusAccepted, map[string]string{"rq_id": fmt.Sprintf("create:task-%d", taskID)})
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	taskID, _ := strconv.Atoi(r.URL.Query().Get("task_id"))

	s.mu.Lock()
	defer s.mu.Unlock()

	results := make([]cvat.Job, 0)
	for _, job := range s.jobs {
		if job.TaskID == taskID {
			results = append(results, job)
		}
	}

	writeJSON(w, http.StatusOK, page(results))
}

func (s *Server) annotations(w http.ResponseWriter, r *http.Request) {
	jobID, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found."})
		return
	}

	if r.URL.Query().Get("action") != "download" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "unexpected action"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if statuses := s.ExportStatuses[jobID]; len(statuses) > 0 {
		s.ExportStatuses[jobID] = statuses[1:]
		w.WriteHeader(statuses[0])
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.WriteHeader(http.StatusOK)
	w.Write(s.ExportArchive)
}

// Archive builds an export archive holding annotations.xml with the given content
func Archive(document string) []byte {
	var buffer bytes.Buffer
	writer := zip.NewWriter(&buffer)
	entry, err := writer.Create("annotations.xml")
	if err != nil {
		panic(err)
	}

	if _, err := entry.Write([]byte(document)); err != nil {
		panic(err)
	}

	if err := writer.Close(); err != nil {
		panic(err)
	}

	return buffer.Bytes()
}

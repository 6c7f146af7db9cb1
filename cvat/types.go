package cvat

import (
	"fmt"
)

// ProviderType identifies the backend of a cloud storage resource
type ProviderType string

const (
	// ProviderAWSS3Bucket is an S3 compatible bucket, including MinIO
	ProviderAWSS3Bucket ProviderType = "AWS_S3_BUCKET"

	// ProviderAzureContainer is an Azure blob container
	ProviderAzureContainer ProviderType = "AZURE_CONTAINER"

	// ProviderGoogleCloudStorage is a GCS bucket
	ProviderGoogleCloudStorage ProviderType = "GOOGLE_CLOUD_STORAGE"
)

// Validate returns an error for unknown provider types
func (p ProviderType) Validate() error {
	switch p {
	case ProviderAWSS3Bucket, ProviderAzureContainer, ProviderGoogleCloudStorage:
		return nil
	}

	return fmt.Errorf("Unknown provider type %q", string(p))
}

// CredentialsType identifies how CVAT authenticates against the provider
type CredentialsType string

const (
	CredentialsKeySecretKeyPair     CredentialsType = "KEY_SECRET_KEY_PAIR"
	CredentialsAccountNameTokenPair CredentialsType = "ACCOUNT_NAME_TOKEN_PAIR"
	CredentialsKeyFilePath          CredentialsType = "KEY_FILE_PATH"
	CredentialsAnonymousAccess      CredentialsType = "ANONYMOUS_ACCESS"
	CredentialsConnectionString     CredentialsType = "CONNECTION_STRING"
)

// Credentials is tagged by Type. Only the fields used by that type are sent.
type Credentials struct {
	Type             CredentialsType
	Key              string
	SecretKey        string
	AccountName      string
	SessionToken     string
	KeyFilePath      string
	ConnectionString string
}

// KeySecretKeyPair returns access key credentials
func KeySecretKeyPair(key, secretKey string) Credentials {
	return Credentials{
		Type:      CredentialsKeySecretKeyPair,
		Key:       key,
		SecretKey: secretKey,
	}
}

// Validate returns an error if a field required by the credential type is empty
func (c Credentials) Validate() error {
	switch c.Type {
	case CredentialsKeySecretKeyPair:
		if c.Key == "" || c.SecretKey == "" {
			return fmt.Errorf("%s credentials need a key and a secret key", c.Type)
		}
	case CredentialsAccountNameTokenPair:
		if c.AccountName == "" || c.SessionToken == "" {
			return fmt.Errorf("%s credentials need an account name and a token", c.Type)
		}
	case CredentialsKeyFilePath:
		if c.KeyFilePath == "" {
			return fmt.Errorf("%s credentials need a key file", c.Type)
		}
	case CredentialsConnectionString:
		if c.ConnectionString == "" {
			return fmt.Errorf("%s credentials need a connection string", c.Type)
		}
	case CredentialsAnonymousAccess:
	default:
		return fmt.Errorf("Unknown credentials type %q", string(c.Type))
	}

	return nil
}

func (c Credentials) apply(request *CloudStorageWriteRequest) {
	request.CredentialsType = c.Type
	switch c.Type {
	case CredentialsKeySecretKeyPair:
		request.Key = c.Key
		request.SecretKey = c.SecretKey
	case CredentialsAccountNameTokenPair:
		request.AccountName = c.AccountName
		request.SessionToken = c.SessionToken
	case CredentialsKeyFilePath:
		request.KeyFile = c.KeyFilePath
	case CredentialsConnectionString:
		request.ConnectionString = c.ConnectionString
	}
}

// LabelType is the shape type of a label
type LabelType string

const (
	LabelAny       LabelType = "any"
	LabelRectangle LabelType = "rectangle"
	LabelPolygon   LabelType = "polygon"
	LabelPolyline  LabelType = "polyline"
	LabelPoints    LabelType = "points"
	LabelEllipse   LabelType = "ellipse"
	LabelCuboid    LabelType = "cuboid"
	LabelSkeleton  LabelType = "skeleton"
	LabelMask      LabelType = "mask"
	LabelTag       LabelType = "tag"
)

// Validate returns an error for unknown label types
func (l LabelType) Validate() error {
	switch l {
	case LabelAny, LabelRectangle, LabelPolygon, LabelPolyline, LabelPoints,
		LabelEllipse, LabelCuboid, LabelSkeleton, LabelMask, LabelTag:
		return nil
	}

	return fmt.Errorf("Unknown label type %q", string(l))
}

// SortingMethod is the frame ordering used when populating a task
type SortingMethod string

const (
	SortingLexicographical SortingMethod = "lexicographical"
	SortingNatural         SortingMethod = "natural"
	SortingPredefined      SortingMethod = "predefined"
	SortingRandom          SortingMethod = "random"
)

// Label is one entry of a task's label schema
type Label struct {
	ID   int       `json:"id,omitempty"`
	Name string    `json:"name"`
	Type LabelType `json:"type,omitempty"`
}

// CloudStorage is a cloud storage resource registered in CVAT
type CloudStorage struct {
	ID                 int             `json:"id"`
	ProviderType       ProviderType    `json:"provider_type"`
	Resource           string          `json:"resource"`
	DisplayName        string          `json:"display_name"`
	CredentialsType    CredentialsType `json:"credentials_type"`
	SpecificAttributes string          `json:"specific_attributes,omitempty"`
	Manifests          []string        `json:"manifests"`
}

// CloudStorageWriteRequest is the body of a cloud storage creation
type CloudStorageWriteRequest struct {
	ProviderType       ProviderType    `json:"provider_type"`
	Resource           string          `json:"resource"`
	DisplayName        string          `json:"display_name"`
	CredentialsType    CredentialsType `json:"credentials_type"`
	Key                string          `json:"key,omitempty"`
	SecretKey          string          `json:"secret_key,omitempty"`
	AccountName        string          `json:"account_name,omitempty"`
	SessionToken       string          `json:"session_token,omitempty"`
	KeyFile            string          `json:"key_file,omitempty"`
	ConnectionString   string          `json:"connection_string,omitempty"`
	SpecificAttributes string          `json:"specific_attributes,omitempty"`
	Manifests          []string        `json:"manifests"`
}

// StorageLocation tells CVAT where task data is read from or written to
type StorageLocation struct {
	Location       string `json:"location"`
	CloudStorageID *int   `json:"cloud_storage_id,omitempty"`
}

// TaskWriteRequest is the body of a task creation
type TaskWriteRequest struct {
	Name          string           `json:"name"`
	Labels        []Label          `json:"labels"`
	TargetStorage *StorageLocation `json:"target_storage,omitempty"`
	SourceStorage *StorageLocation `json:"source_storage,omitempty"`
}

// Task is an annotation task
type Task struct {
	ID            int              `json:"id"`
	Name          string           `json:"name"`
	Status        string           `json:"status,omitempty"`
	Size          int              `json:"size,omitempty"`
	SourceStorage *StorageLocation `json:"source_storage,omitempty"`
}

// DataRequest populates a task with files from a cloud storage
type DataRequest struct {
	CloudStorageID int           `json:"cloud_storage_id"`
	ImageQuality   int           `json:"image_quality"`
	ServerFiles    []string      `json:"server_files"`
	SortingMethod  SortingMethod `json:"sorting_method"`
	UseZipChunks   bool          `json:"use_zip_chunks"`
	UseCache       bool          `json:"use_cache"`
}

// Job is a part of a task assigned for annotation
type Job struct {
	ID         int    `json:"id"`
	TaskID     int    `json:"task_id"`
	Stage      string `json:"stage,omitempty"`
	State      string `json:"state,omitempty"`
	StartFrame int    `json:"start_frame"`
	StopFrame  int    `json:"stop_frame"`
}

// Page is one page of a paginated list response
type Page[T any] struct {
	Count   int     `json:"count"`
	Next    *string `json:"next"`
	Results []T     `json:"results"`
}

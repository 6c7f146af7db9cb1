// Package config loads the labelsync configuration from the environment and an optional YAML
// file, and validates the keys each command needs before any pipeline stage runs
package config

import (
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	yaml "gopkg.in/yaml.v2"

	"github.com/dimes/labelsync/lock"
	"github.com/dimes/labelsync/manifest"
	"github.com/dimes/labelsync/objectstore"
	"github.com/dimes/labelsync/retry"
)

const (
	// EnvPrefix prefixes the environment variables of the tuning keys
	EnvPrefix = "LABELSYNC"

	// TaskConfigKey is the key of the task configuration
	TaskConfigKey = "task_config"

	defaultImageExtension = ".jpg"
	defaultExportAttempts = 5
	defaultUploadAttempts = 5
	defaultLockTTL        = 10 * time.Minute
)

// ErrInvalid is returned by every validation failure
var ErrInvalid = errors.New("invalid configuration")

// InvalidError names the offending key
type InvalidError struct {
	Key    string
	Reason string
}

func (e *InvalidError) Error() string {
	return fmt.Sprintf("%s: %s", e.Key, e.Reason)
}

func (e *InvalidError) Unwrap() error {
	return ErrInvalid
}

// envNames are the variables read without prefix
var envNames = map[string]string{
	"dataset_manifest_location": "DATASET_MANIFEST_LOCATION",
	"dataset_images":            "DATASET_IMAGES",
	"bucket_name":               "BUCKET_NAME",
	"access_key":                "ACCESS_KEY",
	"secret_key":                "SECRET_KEY",
	"minio_api_host":            "MINIO_API_HOST",
	"s3_api_host":               "S3_API_HOST",
	"cvat_username":             "CVAT_USERNAME",
	"cvat_password":             "CVAT_PASSWORD",
	"cvat_host":                 "CVAT_HOST",
	"resource_display_name":     "RESOURCE_DISPLAY_NAME",
	TaskConfigKey:               "TASK_CONFIG",
	"data_path":                 "DATA_PATH",
}

// Config is the full configuration of labelsync
type Config struct {
	ManifestDir     string `yaml:"dataset_manifest_location" mapstructure:"dataset_manifest_location"`
	ImagesDir       string `yaml:"dataset_images" mapstructure:"dataset_images"`
	Bucket          string `yaml:"bucket_name" mapstructure:"bucket_name"`
	AccessKey       string `yaml:"access_key" mapstructure:"access_key"`
	SecretKey       string `yaml:"secret_key" mapstructure:"secret_key"`
	ObjectStoreHost string `yaml:"minio_api_host" mapstructure:"minio_api_host"` // Endpoint used by this process
	StorageEndpoint string `yaml:"s3_api_host" mapstructure:"s3_api_host"`       // Endpoint used by CVAT
	Region          string `yaml:"region" mapstructure:"region"`
	Secure          bool   `yaml:"secure" mapstructure:"secure"`
	CVATUsername    string `yaml:"cvat_username" mapstructure:"cvat_username"`
	CVATPassword    string `yaml:"cvat_password" mapstructure:"cvat_password"`
	CVATHost        string `yaml:"cvat_host" mapstructure:"cvat_host"`
	DisplayName     string `yaml:"resource_display_name" mapstructure:"resource_display_name"`
	TaskConfig      string `yaml:"task_config" mapstructure:"task_config"` // Inline JSON or a file path
	DataPath        string `yaml:"data_path" mapstructure:"data_path"`

	CVAT     CVATConfig     `yaml:"cvat" mapstructure:"cvat"`
	Manifest ManifestConfig `yaml:"manifest" mapstructure:"manifest"`
	Upload   UploadConfig   `yaml:"upload" mapstructure:"upload"`
	Export   ExportConfig   `yaml:"export" mapstructure:"export"`
	Lock     LockConfig     `yaml:"lock" mapstructure:"lock"`
}

// CVATConfig tunes the CVAT client
type CVATConfig struct {
	BasicAuth bool          `yaml:"basic_auth" mapstructure:"basic_auth"`
	Timeout   time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// ManifestConfig selects the manifest generator
type ManifestConfig struct {
	Generator   string `yaml:"generator" mapstructure:"generator"`
	DockerImage string `yaml:"docker_image" mapstructure:"docker_image"`
}

// UploadConfig tunes the upload pipeline
type UploadConfig struct {
	ImageExtension   string       `yaml:"image_extension" mapstructure:"image_extension"`
	EnsureBucket     bool         `yaml:"ensure_bucket" mapstructure:"ensure_bucket"`
	FailOnImageError bool         `yaml:"fail_on_image_error" mapstructure:"fail_on_image_error"`
	Retry            retry.Policy `yaml:"retry" mapstructure:"retry"`
}

// ExportConfig tunes annotation export polling
type ExportConfig struct {
	Retry retry.Policy `yaml:"retry" mapstructure:"retry"`
}

// LockConfig selects the run lock backend
type LockConfig struct {
	Type        string        `yaml:"type" mapstructure:"type"`
	RedisAddr   string        `yaml:"redis_addr" mapstructure:"redis_addr"`
	DynamoTable string        `yaml:"dynamo_table" mapstructure:"dynamo_table"`
	TTL         time.Duration `yaml:"ttl" mapstructure:"ttl"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("region", objectstore.DefaultRegion)
	v.SetDefault("secure", false)
	v.SetDefault("cvat.basic_auth", false)
	v.SetDefault("cvat.timeout", time.Duration(0))
	v.SetDefault("manifest.generator", manifest.DockerGeneratorType)
	v.SetDefault("manifest.docker_image", "cvat/server")
	v.SetDefault("upload.image_extension", defaultImageExtension)
	v.SetDefault("upload.ensure_bucket", true)
	v.SetDefault("upload.fail_on_image_error", false)
	v.SetDefault("upload.retry.max_attempts", defaultUploadAttempts)
	v.SetDefault("upload.retry.initial_interval", time.Duration(0))
	v.SetDefault("upload.retry.max_interval", time.Duration(0))
	v.SetDefault("upload.retry.multiplier", 0.0)
	v.SetDefault("upload.retry.jitter", 0.0)
	v.SetDefault("upload.retry.max_elapsed", time.Duration(0))
	v.SetDefault("export.retry.max_attempts", defaultExportAttempts)
	v.SetDefault("export.retry.initial_interval", time.Duration(0))
	v.SetDefault("export.retry.max_interval", time.Duration(0))
	v.SetDefault("export.retry.multiplier", 0.0)
	v.SetDefault("export.retry.jitter", 0.0)
	v.SetDefault("export.retry.max_elapsed", time.Duration(0))
	v.SetDefault("lock.type", lock.NoneType)
	v.SetDefault("lock.redis_addr", "")
	v.SetDefault("lock.dynamo_table", "")
	v.SetDefault("lock.ttl", defaultLockTTL)
}

// NewViper returns a viper instance bound to the labelsync environment. The original variable
// names are read as is, tuning keys are read from LABELSYNC_<KEY> with dots replaced by
// underscores, e.g. LABELSYNC_UPLOAD_RETRY_MAX_ATTEMPTS.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// BindEnv only fails when given no key
	for key, env := range envNames {
		v.BindEnv(key, env)
	}

	setDefaults(v)
	return v
}

// Load reads the configuration file at path, if any, and overlays the environment
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("Error reading config file %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, &InvalidError{Key: "config", Reason: fmt.Sprintf("Error decoding configuration: %v", err)}
	}

	return cfg, nil
}

// WriteFile writes the configuration as YAML, readable only by the owner since it holds
// credentials
func WriteFile(path string, cfg *Config) error {
	configBytes, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("Error marshaling config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("Error creating directory for %s: %w", path, err)
	}

	if err := ioutil.WriteFile(path, configBytes, 0600); err != nil {
		return fmt.Errorf("Error writing config to %s: %w", path, err)
	}

	return nil
}

// StorageEndpointOrDefault returns the endpoint CVAT uses to reach the object store. It falls
// back to the endpoint this process uses.
func (c *Config) StorageEndpointOrDefault() string {
	endpoint := c.StorageEndpoint
	if endpoint == "" {
		endpoint = c.ObjectStoreHost
	}

	if endpoint != "" && !strings.Contains(endpoint, "://") {
		scheme := "http://"
		if c.Secure {
			scheme = "https://"
		}
		endpoint = scheme + endpoint
	}

	return endpoint
}

// DisplayNameOrDefault returns the display name of the cloud storage, the bucket name if unset
func (c *Config) DisplayNameOrDefault() string {
	if c.DisplayName != "" {
		return c.DisplayName
	}
	return c.Bucket
}

type checker struct {
	errs []error
}

func (c *checker) required(key, value string) {
	if strings.TrimSpace(value) == "" {
		c.errs = append(c.errs, &InvalidError{Key: key, Reason: "not set"})
	}
}

func (c *checker) check(key string, err error) {
	if err != nil {
		c.errs = append(c.errs, &InvalidError{Key: key, Reason: err.Error()})
	}
}

func (c *checker) err() error {
	return errors.Join(c.errs...)
}

func (c *Config) checkObjectStore(ch *checker) {
	ch.required("bucket_name", c.Bucket)
	if c.Bucket != "" {
		ch.check("bucket_name", objectstore.ValidBucketName(c.Bucket))
	}
	ch.required("access_key", c.AccessKey)
	ch.required("secret_key", c.SecretKey)
}

func (c *Config) checkCVAT(ch *checker) {
	ch.required("cvat_host", c.CVATHost)
	ch.required("cvat_username", c.CVATUsername)
	ch.required("cvat_password", c.CVATPassword)
	if c.CVAT.Timeout < 0 {
		ch.check("cvat.timeout", fmt.Errorf("must not be negative"))
	}
}

func (c *Config) checkTaskConfig(ch *checker) *TaskConfig {
	taskConfig, err := ParseTaskConfig(c.TaskConfig)
	if err != nil {
		if errors.Is(err, ErrInvalid) {
			ch.errs = append(ch.errs, err)
		} else {
			ch.check(TaskConfigKey, err)
		}
		return nil
	}
	return taskConfig
}

func (c *Config) checkLock(ch *checker) {
	switch c.Lock.Type {
	case "", lock.NoneType:
	case lock.RedisType:
		ch.required("lock.redis_addr", c.Lock.RedisAddr)
	case lock.DynamoType:
		ch.required("lock.dynamo_table", c.Lock.DynamoTable)
	default:
		ch.check("lock.type", fmt.Errorf("unknown lock type %q", c.Lock.Type))
	}

	if c.Lock.Type != "" && c.Lock.Type != lock.NoneType && c.Lock.TTL <= 0 {
		ch.check("lock.ttl", fmt.Errorf("must be positive"))
	}
}

// ValidateUpload checks the keys used by the upload pipeline
func (c *Config) ValidateUpload() error {
	ch := &checker{}
	ch.required("dataset_manifest_location", c.ManifestDir)
	ch.required("dataset_images", c.ImagesDir)
	ch.required("minio_api_host", c.ObjectStoreHost)
	c.checkObjectStore(ch)
	ch.required("manifest.generator", c.Manifest.Generator)
	ch.check("upload.retry", c.Upload.Retry.Validate())
	if c.Upload.ImageExtension != "" && !strings.HasPrefix(c.Upload.ImageExtension, ".") {
		ch.check("upload.image_extension", fmt.Errorf("must start with a dot, got %q", c.Upload.ImageExtension))
	}
	return ch.err()
}

// ValidateMapTask checks the keys used by the task mapping pipeline and returns the parsed
// task configuration
func (c *Config) ValidateMapTask() (*TaskConfig, error) {
	ch := &checker{}
	c.checkObjectStore(ch)
	if c.StorageEndpoint == "" {
		ch.required("s3_api_host", c.ObjectStoreHost)
	}
	c.checkCVAT(ch)
	c.checkLock(ch)
	taskConfig := c.checkTaskConfig(ch)
	if err := ch.err(); err != nil {
		return nil, err
	}
	return taskConfig, nil
}

// ValidateRetrieve checks the keys used by the retrieval pipeline and returns the parsed task
// configuration
func (c *Config) ValidateRetrieve() (*TaskConfig, error) {
	ch := &checker{}
	c.checkCVAT(ch)
	ch.required("data_path", c.DataPath)
	ch.check("export.retry", c.Export.Retry.Validate())
	taskConfig := c.checkTaskConfig(ch)
	if err := ch.err(); err != nil {
		return nil, err
	}
	return taskConfig, nil
}

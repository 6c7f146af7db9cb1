package commands

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dimes/labelsync/config"
	"github.com/dimes/labelsync/pipeline"
)

func TestRenderUploadReport(t *testing.T) {
	report := &pipeline.UploadReport{
		RunID:  "run-1",
		Bucket: "images",
		Stage:  pipeline.StageDone,
		Images: []pipeline.FileOutcome{
			{Key: "a.jpg", Outcome: pipeline.OutcomeUploaded, Attempts: 1},
			{Key: "b.jpg", Outcome: pipeline.OutcomeSkipped, Attempts: 1},
			{Key: "c.jpg", Outcome: pipeline.OutcomeFailed, Attempts: 5, Err: errors.New("connection reset")},
		},
	}

	var out bytes.Buffer
	renderUploadReport(&out, report)

	rendered := out.String()
	assert.Contains(t, rendered, "run-1")
	assert.Contains(t, rendered, "images")
	assert.Contains(t, rendered, pipeline.StageDone.String())
	assert.Contains(t, rendered, "c.jpg")
	assert.Contains(t, rendered, "connection reset")
	assert.NotContains(t, rendered, "a.jpg")
}

func TestRenderUploadReportWithoutFailures(t *testing.T) {
	var out bytes.Buffer
	renderUploadReport(&out, &pipeline.UploadReport{RunID: "run-2", Stage: pipeline.StageDone})

	assert.Contains(t, out.String(), "run-2")
	assert.NotContains(t, out.String(), "Attempts")
	assert.NotContains(t, out.String(), "ATTEMPTS")
}

func chdir(t *testing.T, dir string) {
	previous, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() {
		_ = os.Chdir(previous)
	})
}

func TestLoadConfigFindsFileInParent(t *testing.T) {
	t.Setenv("BUCKET_NAME", "")
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, config.FileName), []byte("bucket_name: from-file\n"), 0600))

	nested := filepath.Join(root, "images", "batch")
	require.NoError(t, os.MkdirAll(nested, 0755))
	chdir(t, nested)

	cfg, err := loadConfig(&globalOptions{})
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.Bucket)
}

func TestLoadConfigWithoutFile(t *testing.T) {
	t.Setenv("BUCKET_NAME", "from-env")
	chdir(t, t.TempDir())

	cfg, err := loadConfig(&globalOptions{})
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Bucket)
}

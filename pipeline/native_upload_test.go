package pipeline_test

import (
	"bufio"
	"context"
	"encoding/json"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dimes/labelsync/manifest"
	"github.com/dimes/labelsync/objectstore"
	"github.com/dimes/labelsync/pipeline"
	"github.com/dimes/labelsync/runlog"
)

func writeJPEG(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	file, err := os.Create(path)
	require.NoError(t, err)
	defer file.Close()
	require.NoError(t, jpeg.Encode(file, image.NewRGBA(image.Rect(0, 0, 2, 2)), nil))
}

func manifestImages(t *testing.T, dir string) []string {
	t.Helper()
	manifestPath, _ := manifest.Paths(dir)
	file, err := os.Open(manifestPath)
	require.NoError(t, err)
	defer file.Close()

	images := make([]string, 0)
	scanner := bufio.NewScanner(file)
	for line := 0; scanner.Scan(); line++ {
		if line < 2 {
			continue
		}

		var entry manifest.Entry
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry))
		images = append(images, entry.Name+entry.Extension)
	}
	require.NoError(t, scanner.Err())
	return images
}

func TestNativeManifestMatchesUploadedImages(t *testing.T) {
	fixture := newUploadFixture(t, "images")
	writeJPEG(t, filepath.Join(fixture.imagesDir, "a.jpg"))
	writeJPEG(t, filepath.Join(fixture.imagesDir, "B.JPG"))
	writeJPEG(t, filepath.Join(fixture.imagesDir, "sub", "c.jpg"))

	generator := manifest.NewNativeGenerator()
	generator.Extensions = []string{".jpg"}
	generator.Logger = runlog.Discard()

	gateway := objectstore.NewGateway(fixture.s3, objectstore.WithLogger(runlog.Discard()))
	upload := pipeline.NewUploadPipeline(gateway, generator, pipeline.UploadOptions{
		Bucket:         "images",
		ManifestDir:    fixture.manifestDir,
		ImagesDir:      fixture.imagesDir,
		ImageExtension: ".jpg",
	}, runlog.Discard())

	report, err := upload.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, pipeline.StageDone, report.Stage)

	uploaded := make([]string, 0)
	for _, key := range fixture.s3.Keys("images") {
		if key != manifest.ManifestFileName && key != manifest.IndexFileName {
			uploaded = append(uploaded, key)
		}
	}

	assert.Equal(t, []string{"a.jpg"}, uploaded)
	assert.ElementsMatch(t, uploaded, manifestImages(t, fixture.manifestDir))
}

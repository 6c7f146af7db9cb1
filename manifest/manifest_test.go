package manifest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dimes/labelsync/runlog"
)

func writePNG(t *testing.T, path string, width, height int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})

	file, err := os.Create(path)
	require.NoError(t, err)
	defer file.Close()
	require.NoError(t, png.Encode(file, img))
}

func TestCleanAndVerify(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Clean(dir), "absent files are not an error")

	err := Verify(dir)
	assert.ErrorIs(t, err, ErrManifestMissing)

	manifestPath, indexPath := Paths(dir)
	require.NoError(t, os.WriteFile(manifestPath, []byte("{}\n"), 0644))
	err = Verify(dir)
	var missing *MissingError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, indexPath, missing.Path)

	require.NoError(t, os.WriteFile(indexPath, []byte("{}"), 0644))
	require.NoError(t, Verify(dir))

	require.NoError(t, Clean(dir))
	assert.NoFileExists(t, manifestPath)
	assert.NoFileExists(t, indexPath)
}

func TestRegistry(t *testing.T) {
	registry, err := NewRegistry(NewDockerGenerator(), NewNativeGenerator())
	require.NoError(t, err)

	assert.Equal(t, []string{DockerGeneratorType, NativeGeneratorType}, registry.Types())
	assert.NotNil(t, registry.GetGeneratorForType(NativeGeneratorType))
	assert.Nil(t, registry.GetGeneratorForType("unknown"))
	assert.Error(t, registry.RegisterGenerator(NewNativeGenerator()))
}

func TestDockerGeneratorArgs(t *testing.T) {
	generator := NewDockerGenerator()
	args, err := generator.Args("/data/images", "/data")
	require.NoError(t, err)

	assert.Equal(t, []string{
		"run", "--rm",
		"-v", "/data:/local",
		"-v", "/data/images:/local/images",
		"--entrypoint", "python3",
		"cvat/server",
		"utils/dataset_manifest/create.py",
		"--output-dir", "/local",
		"/local/images",
	}, args)
}

func TestDockerGeneratorRunsBinary(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not executable on windows")
	}

	dir := t.TempDir()
	fakeDocker := filepath.Join(dir, "docker")
	script := "#!/bin/sh\nout=\"${4%%:*}\"\necho '{\"version\":\"1.1\"}' > \"$out/manifest.jsonl\"\necho '{}' > \"$out/index.json\"\n"
	require.NoError(t, os.WriteFile(fakeDocker, []byte(script), 0755))

	output := filepath.Join(dir, "dataset")
	require.NoError(t, os.MkdirAll(output, 0755))

	generator := NewDockerGenerator()
	generator.Binary = fakeDocker
	generator.Logger = runlog.Discard()
	require.NoError(t, generator.Generate(context.Background(), filepath.Join(output, "images"), output))
	require.NoError(t, Verify(output))

	failing := filepath.Join(dir, "failing")
	require.NoError(t, os.WriteFile(failing, []byte("#!/bin/sh\nexit 3\n"), 0755))
	generator.Binary = failing
	assert.Error(t, generator.Generate(context.Background(), output, output))
}

func TestNativeGenerator(t *testing.T) {
	dir := t.TempDir()
	images := filepath.Join(dir, "images")
	writePNG(t, filepath.Join(images, "b.png"), 4, 3)
	writePNG(t, filepath.Join(images, "a.png"), 2, 5)
	writePNG(t, filepath.Join(images, "nested", "c.png"), 1, 1)
	writePNG(t, filepath.Join(images, "D.PNG"), 1, 1)
	require.NoError(t, os.WriteFile(filepath.Join(images, "notes.txt"), []byte("skip"), 0644))

	generator := NewNativeGenerator()
	generator.Logger = runlog.Discard()
	require.NoError(t, generator.Generate(context.Background(), images, dir))
	require.NoError(t, Verify(dir))

	manifestPath, indexPath := Paths(dir)
	raw, err := os.ReadFile(manifestPath)
	require.NoError(t, err)

	file, err := os.Open(manifestPath)
	require.NoError(t, err)
	defer file.Close()

	lines := make([]string, 0)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	require.NoError(t, scanner.Err())
	require.Len(t, lines, 4)
	assert.JSONEq(t, `{"version":"1.1"}`, lines[0])
	assert.JSONEq(t, `{"type":"images"}`, lines[1])

	entries := make([]Entry, 0, 2)
	for _, line := range lines[2:] {
		var entry Entry
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		entries = append(entries, entry)
	}

	assert.Equal(t, "a", entries[0].Name)
	assert.Equal(t, ".png", entries[0].Extension)
	assert.Equal(t, 2, entries[0].Width)
	assert.Equal(t, 5, entries[0].Height)
	assert.Len(t, entries[0].Checksum, 32)
	assert.Equal(t, "b", entries[1].Name)

	indexRaw, err := os.ReadFile(indexPath)
	require.NoError(t, err)
	index := make(map[string]int64)
	require.NoError(t, json.Unmarshal(indexRaw, &index))
	require.Len(t, index, 2)
	for i, entry := range entries {
		offset := index[strconv.Itoa(i)]
		var atOffset Entry
		decoder := json.NewDecoder(bytes.NewReader(raw[offset:]))
		require.NoError(t, decoder.Decode(&atOffset))
		assert.Equal(t, entry.Name, atOffset.Name)
	}

	leftovers, err := filepath.Glob(filepath.Join(dir, "*.jsonl.*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestNativeGeneratorFailsOnCorruptImage(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.jpg"), []byte("not a jpeg"), 0644))

	generator := NewNativeGenerator()
	generator.Logger = runlog.Discard()
	require.Error(t, generator.Generate(context.Background(), dir, dir))
	assert.ErrorIs(t, Verify(dir), ErrManifestMissing)
}

func TestListImages(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.jpg", "a.jpg", "C.JPG", "d.png", "e.jpg.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644))
	}
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub.jpg"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub.jpg", "f.jpg"), []byte("x"), 0644))

	images, err := ListImages(dir, ".jpg")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.jpg", "b.jpg"}, images)

	images, err = ListImages(dir, ".jpg", ".png")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.jpg", "b.jpg", "d.png"}, images)

	_, err = ListImages(filepath.Join(dir, "missing"), ".jpg")
	assert.Error(t, err)
}

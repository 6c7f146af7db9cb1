package manifest

import (
	"bufio"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"image"
	_ "image/gif"  // register decoder
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dimes/labelsync/runlog"
)

const (
	// NativeGeneratorType is the type of the in-process generator
	NativeGeneratorType = "native"

	manifestVersion = "1.1"
)

// Entry is one image line of the manifest
type Entry struct {
	Name      string         `json:"name"`
	Extension string         `json:"extension"`
	Width     int            `json:"width"`
	Height    int            `json:"height"`
	Meta      map[string]any `json:"meta"`
	Checksum  string         `json:"checksum"`
}

// NativeGenerator writes a CVAT image manifest without running CVAT's tooling. Images are the
// files directly inside the images directory selected by ListImages with Extensions.
type NativeGenerator struct {
	Extensions []string
	Logger     *runlog.Logger
}

// NewNativeGenerator returns a generator for jpeg, png and gif images
func NewNativeGenerator() *NativeGenerator {
	return &NativeGenerator{
		Extensions: []string{".jpg", ".jpeg", ".png", ".gif"},
		Logger:     runlog.Default(),
	}
}

// Type returns the type of this generator
func (n *NativeGenerator) Type() string {
	return NativeGeneratorType
}

func describe(imagesDir, name string) (*Entry, error) {
	path := filepath.Join(imagesDir, name)
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("Error opening %s: %w", path, err)
	}
	defer file.Close()

	config, _, err := image.DecodeConfig(file)
	if err != nil {
		return nil, fmt.Errorf("Error decoding %s: %w", path, err)
	}

	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("Error rewinding %s: %w", path, err)
	}

	hash := md5.New()
	if _, err := io.Copy(hash, file); err != nil {
		return nil, fmt.Errorf("Error hashing %s: %w", path, err)
	}

	extension := filepath.Ext(name)
	return &Entry{
		Name:      strings.TrimSuffix(name, extension),
		Extension: extension,
		Width:     config.Width,
		Height:    config.Height,
		Meta:      map[string]any{"related_images": []string{}},
		Checksum:  hex.EncodeToString(hash.Sum(nil)),
	}, nil
}

// Generate writes the manifest and index to temporary files and renames them into place so a
// reader never sees a partially written pair
func (n *NativeGenerator) Generate(ctx context.Context, imagesDir, outputDir string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	images, err := ListImages(imagesDir, n.Extensions...)
	if err != nil {
		return err
	}

	n.Logger.Infof("Generating manifest for %d images in %s", len(images), imagesDir)
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("Error creating manifest directory %s: %w", outputDir, err)
	}

	manifestPath, indexPath := Paths(outputDir)
	manifestTemp, err := os.CreateTemp(outputDir, ManifestFileName+".*")
	if err != nil {
		return fmt.Errorf("Error creating temporary manifest in %s: %w", outputDir, err)
	}
	defer os.Remove(manifestTemp.Name())
	defer manifestTemp.Close()

	index := make(map[string]int64, len(images))
	writer := bufio.NewWriter(manifestTemp)
	var offset int64
	writeLine := func(value any) error {
		line, err := json.Marshal(value)
		if err != nil {
			return err
		}

		line = append(line, '\n')
		if _, err := writer.Write(line); err != nil {
			return err
		}

		offset += int64(len(line))
		return nil
	}

	if err := writeLine(map[string]string{"version": manifestVersion}); err != nil {
		return fmt.Errorf("Error writing manifest header: %w", err)
	}

	if err := writeLine(map[string]string{"type": "images"}); err != nil {
		return fmt.Errorf("Error writing manifest header: %w", err)
	}

	for i, name := range images {
		if err := ctx.Err(); err != nil {
			return err
		}

		entry, err := describe(imagesDir, name)
		if err != nil {
			return err
		}

		index[strconv.Itoa(i)] = offset
		if err := writeLine(entry); err != nil {
			return fmt.Errorf("Error writing manifest entry for %s: %w", name, err)
		}
	}

	if err := writer.Flush(); err != nil {
		return fmt.Errorf("Error writing manifest %s: %w", manifestTemp.Name(), err)
	}

	if err := manifestTemp.Close(); err != nil {
		return fmt.Errorf("Error closing manifest %s: %w", manifestTemp.Name(), err)
	}

	indexTemp, err := os.CreateTemp(outputDir, IndexFileName+".*")
	if err != nil {
		return fmt.Errorf("Error creating temporary index in %s: %w", outputDir, err)
	}
	defer os.Remove(indexTemp.Name())
	defer indexTemp.Close()

	if err := json.NewEncoder(indexTemp).Encode(index); err != nil {
		return fmt.Errorf("Error writing index %s: %w", indexTemp.Name(), err)
	}

	if err := indexTemp.Close(); err != nil {
		return fmt.Errorf("Error closing index %s: %w", indexTemp.Name(), err)
	}

	if err := os.Rename(manifestTemp.Name(), manifestPath); err != nil {
		return fmt.Errorf("Error moving manifest into %s: %w", manifestPath, err)
	}

	if err := os.Rename(indexTemp.Name(), indexPath); err != nil {
		os.Remove(manifestPath)
		return fmt.Errorf("Error moving index into %s: %w", indexPath, err)
	}

	return nil
}

// Package manifest contains the generators of the dataset manifest read by CVAT to locate images
// in a cloud storage
package manifest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

const (
	// ManifestFileName is the line delimited image inventory
	ManifestFileName = "manifest.jsonl"

	// IndexFileName maps image positions to offsets in the manifest
	IndexFileName = "index.json"
)

var (
	// ErrManifestMissing is returned when a generator finished without producing both files
	ErrManifestMissing = errors.New("manifest missing")
)

// MissingError names the file that was not generated
type MissingError struct {
	Path string
}

func (e *MissingError) Error() string {
	return fmt.Sprintf("manifest file %s was not created", e.Path)
}

func (e *MissingError) Unwrap() error {
	return ErrManifestMissing
}

// Generator produces ManifestFileName and IndexFileName in outputDir for the images in
// imagesDir
type Generator interface {
	Type() string
	Generate(ctx context.Context, imagesDir, outputDir string) error
}

// Registry associates generators with their type
type Registry struct {
	generators map[string]Generator
}

// NewRegistry returns a registry holding the given generators
func NewRegistry(generators ...Generator) (*Registry, error) {
	r := &Registry{generators: make(map[string]Generator)}
	for _, generator := range generators {
		if err := r.RegisterGenerator(generator); err != nil {
			return nil, err
		}
	}

	return r, nil
}

// RegisterGenerator associates the generator with its type. If the type already has a generator
// associated with it, then this method will return an error. This method is not safe for
// concurrent calls
func (r *Registry) RegisterGenerator(generator Generator) error {
	if _, ok := r.generators[generator.Type()]; ok {
		return fmt.Errorf("Type %s is already registered", generator.Type())
	}

	r.generators[generator.Type()] = generator
	return nil
}

// GetGeneratorForType returns the generator for the given type, or nil if none is registered
func (r *Registry) GetGeneratorForType(generatorType string) Generator {
	return r.generators[generatorType]
}

// Types returns the registered types in sorted order
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.generators))
	for generatorType := range r.generators {
		types = append(types, generatorType)
	}
	sort.Strings(types)

	return types
}

// ListImages returns the names of the regular files directly inside dir whose extension is one of
// extensions, compared case-sensitively, sorted by name. Manifest generation and the image upload
// both select images with it.
func ListImages(dir string, extensions ...string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("Error listing images in %s: %w", dir, err)
	}

	images := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}

		extension := filepath.Ext(entry.Name())
		for _, candidate := range extensions {
			if extension == candidate {
				images = append(images, entry.Name())
				break
			}
		}
	}

	sort.Strings(images)
	return images, nil
}

// Paths returns the manifest and index locations inside dir
func Paths(dir string) (string, string) {
	return filepath.Join(dir, ManifestFileName), filepath.Join(dir, IndexFileName)
}

// Clean removes a previous manifest and index from dir. Missing files are not an error.
func Clean(dir string) error {
	manifestPath, indexPath := Paths(dir)
	for _, path := range []string{manifestPath, indexPath} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("Error removing stale %s: %w", path, err)
		}
	}

	return nil
}

// Verify returns a *MissingError unless both the manifest and the index are regular files in dir
func Verify(dir string) error {
	manifestPath, indexPath := Paths(dir)
	for _, path := range []string{manifestPath, indexPath} {
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			return &MissingError{Path: path}
		}
	}

	return nil
}

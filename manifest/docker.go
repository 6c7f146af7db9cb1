package manifest

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/dimes/labelsync/runlog"
)

const (
	// DockerGeneratorType is the type of the generator running CVAT's own manifest tool
	DockerGeneratorType = "docker"

	defaultDockerBinary = "docker"
	defaultDockerImage  = "cvat/server"
	defaultScript       = "utils/dataset_manifest/create.py"

	containerOutputDir = "/local"
	containerImagesDir = "/local/images"
)

// DockerGenerator runs utils/dataset_manifest/create.py from the CVAT server image with the
// output directory and the images mounted into the container
type DockerGenerator struct {
	Binary    string
	Image     string
	Script    string
	ExtraArgs []string // Passed to the script before the images directory
	Stdout    io.Writer
	Stderr    io.Writer
	Logger    *runlog.Logger
}

// NewDockerGenerator returns a generator using the cvat/server image
func NewDockerGenerator() *DockerGenerator {
	return &DockerGenerator{
		Binary: defaultDockerBinary,
		Image:  defaultDockerImage,
		Script: defaultScript,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		Logger: runlog.Default(),
	}
}

// Type returns the type of this generator
func (d *DockerGenerator) Type() string {
	return DockerGeneratorType
}

// Args returns the docker arguments used to generate the manifest
func (d *DockerGenerator) Args(imagesDir, outputDir string) ([]string, error) {
	absoluteImagesDir, err := filepath.Abs(imagesDir)
	if err != nil {
		return nil, fmt.Errorf("Error determining absolute path for %s: %w", imagesDir, err)
	}

	absoluteOutputDir, err := filepath.Abs(outputDir)
	if err != nil {
		return nil, fmt.Errorf("Error determining absolute path for %s: %w", outputDir, err)
	}

	args := []string{
		"run", "--rm",
		"-v", absoluteOutputDir + ":" + containerOutputDir,
		"-v", absoluteImagesDir + ":" + containerImagesDir,
		"--entrypoint", "python3",
		d.Image,
		d.Script,
		"--output-dir", containerOutputDir,
	}
	args = append(args, d.ExtraArgs...)
	args = append(args, containerImagesDir)

	return args, nil
}

// Generate runs the container and waits for it to exit
func (d *DockerGenerator) Generate(ctx context.Context, imagesDir, outputDir string) error {
	args, err := d.Args(imagesDir, outputDir)
	if err != nil {
		return err
	}

	d.Logger.Infof("Generating manifest for %s into %s", imagesDir, outputDir)
	d.Logger.Debugf("Running %s %v", d.Binary, args)

	cmd := exec.CommandContext(ctx, d.Binary, args...)
	cmd.Stdout = d.Stdout
	cmd.Stderr = d.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("Error generating manifest for %s: %w", imagesDir, err)
	}

	return nil
}

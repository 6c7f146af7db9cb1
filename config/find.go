package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dimes/labelsync/runlog"
)

const (
	// FileName is the name of the configuration file looked up by Find
	FileName = "labelsync.yaml"

	rootSep = string(os.PathSeparator)
)

var (
	// ErrConfigNotFound is returned when no configuration file is found
	ErrConfigNotFound = errors.New("configuration file not found")
)

// Find traverses up the directory tree starting at directory looking for FileName and returns
// its path
func Find(directory string) (string, error) {
	abs, err := filepath.Abs(directory)
	if err != nil {
		return "", fmt.Errorf("Error determining absolute path for %s: %w", directory, err)
	}

	needToCheckRoot := true
	for dir := abs; dir != rootSep || needToCheckRoot; dir = filepath.Dir(dir) {
		if dir == rootSep {
			needToCheckRoot = false
		}

		configLocation := filepath.Join(dir, FileName)
		info, err := os.Stat(configLocation)
		if err != nil {
			runlog.Debugf("Did not find %s in %s", FileName, dir)
			continue
		}

		if info.IsDir() {
			return "", fmt.Errorf("Expected configuration file at %s but found directory", configLocation)
		}

		return configLocation, nil
	}

	return "", ErrConfigNotFound
}

// Package commands contains the labelsync sub-commands
package commands

import (
	"errors"
	"fmt"
	"os"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/dimes/labelsync/config"
	"github.com/dimes/labelsync/cvat"
	"github.com/dimes/labelsync/manifest"
	"github.com/dimes/labelsync/objectstore"
	"github.com/dimes/labelsync/pipeline"
	"github.com/dimes/labelsync/retry"
	"github.com/dimes/labelsync/runlog"
)

// Exit codes returned by the labelsync binary
const (
	ExitOK             = 0
	ExitFailure        = 1
	ExitInvalidConfig  = 2
	ExitNotFound       = 3
	ExitRetryExhausted = 4
	ExitPartialFailure = 5
)

type globalOptions struct {
	verbose    bool
	configPath string
	logFormat  string
}

// NewRootCommand returns the labelsync command with every sub-command attached
func NewRootCommand() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:           "labelsync",
		Short:         "Moves image datasets between an S3 compatible store and CVAT",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch runlog.Format(opts.logFormat) {
			case runlog.FormatText, runlog.FormatJSON:
				runlog.SetFormat(runlog.Format(opts.logFormat))
			default:
				return &config.InvalidError{Key: "log-format", Reason: fmt.Sprintf("unknown format %q", opts.logFormat)}
			}

			if opts.verbose {
				runlog.SetLogLevel(runlog.Debug)
			} else {
				runlog.SetLogLevel(runlog.Info)
			}
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "if set, verbose logging will be enabled")
	flags.StringVar(&opts.configPath, "config", "", "YAML configuration file, the environment overrides it")
	flags.StringVar(&opts.logFormat, "log-format", string(runlog.FormatText), "log format, text or json")

	root.AddCommand(
		newInitCommand(opts),
		newUploadCommand(opts),
		newMapTaskCommand(opts),
		newRunCommand(opts),
		newRetrieveCommand(opts),
	)
	return root
}

// ExitCode maps an error returned by a command to the process exit code
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, config.ErrInvalid):
		return ExitInvalidConfig
	case errors.Is(err, cvat.ErrTaskNotFound),
		errors.Is(err, manifest.ErrManifestMissing),
		errors.Is(err, objectstore.ErrBucketMissing):
		return ExitNotFound
	case errors.Is(err, retry.ErrExhausted),
		errors.Is(err, objectstore.ErrUploadExhausted),
		errors.Is(err, cvat.ErrExportNotReady):
		return ExitRetryExhausted
	case errors.Is(err, pipeline.ErrImagesFailed):
		return ExitPartialFailure
	}

	return ExitFailure
}

// loadConfig reads --config, or the nearest labelsync.yaml above the working directory, and the
// environment
func loadConfig(opts *globalOptions) (*config.Config, error) {
	path := opts.configPath
	if path == "" {
		workingDir, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("Error getting working directory: %w", err)
		}

		if path, err = config.Find(workingDir); err != nil && !errors.Is(err, config.ErrConfigNotFound) {
			return nil, err
		}
	}

	if path != "" {
		runlog.Debugf("Using configuration file %s", path)
	}
	return config.Load(config.NewViper(), path)
}

func readLineWithPrompt(label string, validate promptui.ValidateFunc, defaultVal string) (string, error) {
	prompt := promptui.Prompt{
		Label:    label,
		Validate: validate,
		Default:  defaultVal,
	}

	result, err := prompt.Run()
	if err != nil {
		return "", fmt.Errorf("Error getting option for label %s: %w", label, err)
	}

	return result, nil
}

func readSecretWithPrompt(label string) (string, error) {
	prompt := promptui.Prompt{
		Label: label,
		Mask:  '*',
	}

	result, err := prompt.Run()
	if err != nil {
		return "", fmt.Errorf("Error getting option for label %s: %w", label, err)
	}

	return result, nil
}

func getYnConfirmation(label string) (bool, error) {
	prompt := promptui.Select{
		Label: label,
		Items: []string{"Yes", "No"},
	}

	selectedIndex, _, err := prompt.Run()
	if err != nil {
		return false, err
	}

	return selectedIndex == 0, nil
}

func notEmpty(input string) error {
	if input == "" {
		return fmt.Errorf("a value is required")
	}
	return nil
}

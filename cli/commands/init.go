package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dimes/labelsync/config"
	"github.com/dimes/labelsync/cvat"
	"github.com/dimes/labelsync/lock"
	"github.com/dimes/labelsync/manifest"
	"github.com/dimes/labelsync/objectstore"
	"github.com/dimes/labelsync/runlog"
)

func newInitCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Interactively writes a configuration file and creates the bucket and lock table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := opts.configPath
			if path == "" {
				workingDir, err := os.Getwd()
				if err != nil {
					return fmt.Errorf("Error getting working directory: %w", err)
				}

				if existing, err := config.Find(workingDir); err == nil {
					return fmt.Errorf("Configuration already exists at %s", existing)
				} else if !errors.Is(err, config.ErrConfigNotFound) {
					return fmt.Errorf("Error validating no existing configuration: %w", err)
				}
				path = filepath.Join(workingDir, config.FileName)
			} else if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("Configuration already exists at %s", path)
			}

			return initConfig(cmd.Context(), path, runlog.Default())
		},
	}
}

func initConfig(ctx context.Context, path string, logger *runlog.Logger) error {
	cfg, err := config.Load(config.NewViper(), "")
	if err != nil {
		return err
	}

	logger.Infof("Welcome to labelsync")
	logger.Infof("Please provide some info about the resources you'd like to use.")
	logger.Infof("If the bucket or the lock table don't exist, then they can be created for you.")
	if err := promptObjectStore(cfg); err != nil {
		return err
	}

	if err := promptCVAT(cfg); err != nil {
		return err
	}

	if err := promptTask(cfg); err != nil {
		return err
	}

	if err := promptLock(cfg); err != nil {
		return err
	}

	logger.Infof(`

			Bucket: %s
			Object store: %s (seen by CVAT as %s)
			CVAT: %s as %s
			Task: %s
			Manifest generator: %s
			Lock: %s

			`, cfg.Bucket, cfg.ObjectStoreHost, cfg.StorageEndpointOrDefault(), cfg.CVATHost, cfg.CVATUsername,
		cfg.TaskConfig, cfg.Manifest.Generator, cfg.Lock.Type)
	if ok, err := getYnConfirmation("Is this correct"); !ok || err != nil {
		return fmt.Errorf("User must re-enter information")
	}

	if ok, err := getYnConfirmation("Create resources"); ok {
		if err := setupResources(ctx, cfg, logger); err != nil {
			return err
		}
	} else if err != nil {
		return fmt.Errorf("Error getting confirmation for resource creation: %w", err)
	}

	if err := config.WriteFile(path, cfg); err != nil {
		return err
	}

	logger.Infof("Wrote configuration to %s", path)
	return nil
}

// setupResources creates the bucket and the lock table in parallel
func setupResources(ctx context.Context, cfg *config.Config, logger *runlog.Logger) error {
	store, err := newObjectStore(cfg, logger)
	if err != nil {
		return err
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return store.EnsureBucket(groupCtx, cfg.Bucket)
	})

	if cfg.Lock.Type == lock.DynamoType {
		locker, err := newDynamoLocker(cfg, logger)
		if err != nil {
			return err
		}
		group.Go(func() error {
			return locker.Setup(groupCtx)
		})
	}

	if err := group.Wait(); err != nil {
		return fmt.Errorf("Error creating bucket and lock table: %w", err)
	}

	return nil
}

func optional(validate promptui.ValidateFunc) promptui.ValidateFunc {
	return func(input string) error {
		if input == "" {
			return nil
		}
		return validate(input)
	}
}

func promptObjectStore(cfg *config.Config) error {
	var err error
	if cfg.Bucket, err = readLineWithPrompt("Bucket for the dataset", objectstore.ValidBucketName, cfg.Bucket); err != nil {
		return err
	}

	if cfg.ObjectStoreHost, err = readLineWithPrompt("Object store API host", notEmpty, cfg.ObjectStoreHost); err != nil {
		return err
	}

	if cfg.StorageEndpoint, err = readLineWithPrompt("(Optional) Object store host as seen by CVAT",
		optional(notEmpty), cfg.StorageEndpoint); err != nil {
		return err
	}

	if cfg.AccessKey, err = readLineWithPrompt("Access key", notEmpty, cfg.AccessKey); err != nil {
		return err
	}

	if cfg.SecretKey, err = readSecretWithPrompt("Secret key"); err != nil {
		return err
	}

	if cfg.ManifestDir, err = readLineWithPrompt("Dataset manifest location", notEmpty, cfg.ManifestDir); err != nil {
		return err
	}

	if cfg.ImagesDir, err = readLineWithPrompt("Dataset images directory", notEmpty, cfg.ImagesDir); err != nil {
		return err
	}

	generators := []string{manifest.DockerGeneratorType, manifest.NativeGeneratorType}
	prompt := promptui.Select{
		Label: "Select manifest generator",
		Items: generators,
	}

	selectedIndex, _, err := prompt.Run()
	if err != nil {
		return err
	}

	cfg.Manifest.Generator = generators[selectedIndex]
	return nil
}

func promptCVAT(cfg *config.Config) error {
	var err error
	if cfg.CVATHost, err = readLineWithPrompt("CVAT host", notEmpty, cfg.CVATHost); err != nil {
		return err
	}

	if cfg.CVATUsername, err = readLineWithPrompt("CVAT username", notEmpty, cfg.CVATUsername); err != nil {
		return err
	}

	if cfg.CVATPassword, err = readSecretWithPrompt("CVAT password"); err != nil {
		return err
	}

	if cfg.DisplayName, err = readLineWithPrompt("Cloud storage display name", notEmpty,
		cfg.DisplayNameOrDefault()); err != nil {
		return err
	}

	cfg.DataPath, err = readLineWithPrompt("Directory for retrieved annotations", notEmpty, cfg.DataPath)
	return err
}

func validLabel(input string) error {
	name, labelType, _ := strings.Cut(input, ":")
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("label name is required")
	}

	if labelType == "" {
		return nil
	}
	return cvat.LabelType(labelType).Validate()
}

// promptTask asks for the task name and its labels, one name[:type] per prompt until an empty
// answer
func promptTask(cfg *config.Config) error {
	name, err := readLineWithPrompt("Task name", notEmpty, "")
	if err != nil {
		return err
	}

	taskConfig := &config.TaskConfig{Name: name}
	for {
		input, err := readLineWithPrompt("Label as name[:type], empty to finish", optional(validLabel), "")
		if err != nil {
			return err
		}

		if input == "" {
			if len(taskConfig.Labels) > 0 {
				break
			}
			continue
		}

		labelName, labelType, _ := strings.Cut(input, ":")
		if labelType == "" {
			labelType = string(cvat.LabelAny)
		}
		taskConfig.Labels = append(taskConfig.Labels, config.Label{
			Name: strings.TrimSpace(labelName),
			Type: cvat.LabelType(labelType),
		})
	}

	if err := taskConfig.Validate(); err != nil {
		return err
	}

	cfg.TaskConfig = taskConfig.String()
	return nil
}

func promptLock(cfg *config.Config) error {
	types := []string{lock.NoneType, lock.RedisType, lock.DynamoType}
	prompt := promptui.Select{
		Label: "Select run lock backend",
		Items: types,
	}

	selectedIndex, _, err := prompt.Run()
	if err != nil {
		return err
	}

	cfg.Lock.Type = types[selectedIndex]
	switch cfg.Lock.Type {
	case lock.RedisType:
		cfg.Lock.RedisAddr, err = readLineWithPrompt("Redis address", notEmpty, "localhost:6379")
	case lock.DynamoType:
		cfg.Lock.DynamoTable, err = readLineWithPrompt("Dynamo table name for run locks", notEmpty,
			"labelsync-locks")
		if err == nil {
			cfg.Region, err = readLineWithPrompt("Dynamo region", notEmpty, cfg.Region)
		}
	}
	if err != nil {
		return err
	}

	if cfg.Lock.TTL <= 0 {
		cfg.Lock.TTL = 10 * time.Minute
	}
	return nil
}

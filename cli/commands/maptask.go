package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/dimes/labelsync/config"
	"github.com/dimes/labelsync/cvat"
	"github.com/dimes/labelsync/pipeline"
	"github.com/dimes/labelsync/runlog"
)

func newMapTaskCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "map-task",
		Short: "Registers the bucket in CVAT and creates the annotation task",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}

			taskConfig, err := cfg.ValidateMapTask()
			if err != nil {
				return err
			}

			_, err = runMapTask(cmd.Context(), cfg, taskConfig, runlog.Default())
			return err
		},
	}
}

func runMapTask(ctx context.Context, cfg *config.Config, taskConfig *config.TaskConfig,
	logger *runlog.Logger) (*pipeline.TaskMappingReport, error) {
	locker, closeLocker, err := newLocker(cfg, logger)
	if err != nil {
		return nil, err
	}
	defer closeLocker()

	platform, client, err := newPlatform(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	defer closePlatform(client, logger)

	mapping := pipeline.NewTaskMappingPipeline(platform, locker, pipeline.TaskMappingOptions{
		Bucket:      cfg.Bucket,
		DisplayName: cfg.DisplayNameOrDefault(),
		Credentials: cvat.KeySecretKeyPair(cfg.AccessKey, cfg.SecretKey),
		Endpoint:    cfg.StorageEndpointOrDefault(),
		TaskName:    taskConfig.Name,
		Labels:      taskConfig.CVATLabels(),
	}, logger)

	report, err := mapping.Run(ctx)
	if err != nil {
		return report, err
	}

	logger.Outputf("cloud_storage=%d created=%t task=%d created=%t\n", report.CloudStorage.ID,
		report.CloudStorageCreated, report.Task.ID, report.TaskCreated)
	return report, nil
}

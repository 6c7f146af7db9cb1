package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/dimes/labelsync/config"
	"github.com/dimes/labelsync/pipeline"
	"github.com/dimes/labelsync/runlog"
)

func newUploadCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "upload",
		Short: "Regenerates the dataset manifest and uploads it with the images",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}

			if err := cfg.ValidateUpload(); err != nil {
				return err
			}

			_, err = runUpload(cmd.Context(), cfg, runlog.Default())
			return err
		},
	}
}

func runUpload(ctx context.Context, cfg *config.Config, logger *runlog.Logger) (*pipeline.UploadReport, error) {
	generator, err := newGenerator(cfg, logger)
	if err != nil {
		return nil, err
	}

	store, err := newObjectStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	upload := pipeline.NewUploadPipeline(store, generator, pipeline.UploadOptions{
		Bucket:           cfg.Bucket,
		ManifestDir:      cfg.ManifestDir,
		ImagesDir:        cfg.ImagesDir,
		ImageExtension:   cfg.Upload.ImageExtension,
		EnsureBucket:     cfg.Upload.EnsureBucket,
		FailOnImageError: cfg.Upload.FailOnImageError,
	}, logger)

	report, err := upload.Run(ctx)
	if report != nil {
		renderUploadReport(logger.Output(), report)
	}
	return report, err
}

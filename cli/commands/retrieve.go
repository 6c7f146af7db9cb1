package commands

import (
	"github.com/spf13/cobra"

	"github.com/dimes/labelsync/pipeline"
	"github.com/dimes/labelsync/runlog"
)

func newRetrieveCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "retrieve",
		Short: "Writes the annotations of every job of the task to DATA_PATH",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}

			taskConfig, err := cfg.ValidateRetrieve()
			if err != nil {
				return err
			}

			logger := runlog.Default()
			platform, client, err := newPlatform(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer closePlatform(client, logger)

			retrieve := pipeline.NewRetrievePipeline(platform, pipeline.RetrieveOptions{
				TaskName:  taskConfig.Name,
				OutputDir: cfg.DataPath,
			}, logger)

			report, err := retrieve.Run(cmd.Context())
			if err != nil {
				return err
			}

			for _, path := range report.Files {
				logger.Outputf("%s\n", path)
			}
			return nil
		},
	}
}

package commands

import (
	"github.com/spf13/cobra"

	"github.com/dimes/labelsync/runlog"
)

// newRunCommand chains the upload and the task mapping. The mapping only starts once the upload
// reached its last stage.
func newRunCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Uploads the dataset then creates its annotation task",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}

			if err := cfg.ValidateUpload(); err != nil {
				return err
			}

			taskConfig, err := cfg.ValidateMapTask()
			if err != nil {
				return err
			}

			logger := runlog.Default()
			if _, err := runUpload(cmd.Context(), cfg, logger); err != nil {
				return err
			}

			_, err = runMapTask(cmd.Context(), cfg, taskConfig, logger)
			return err
		},
	}
}

package commands

import (
	"io"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/dimes/labelsync/pipeline"
)

// renderUploadReport prints the outcome counts of a run followed by one row per failed image
func renderUploadReport(w io.Writer, report *pipeline.UploadReport) {
	summary := table.NewWriter()
	summary.SetOutputMirror(w)
	summary.AppendHeader(table.Row{"Run", "Bucket", "Stage", "Uploaded", "Skipped", "Failed"})
	summary.AppendRow(table.Row{
		report.RunID,
		report.Bucket,
		report.Stage.String(),
		report.Count(pipeline.OutcomeUploaded),
		report.Count(pipeline.OutcomeSkipped),
		report.Count(pipeline.OutcomeFailed),
	})
	summary.Render()

	failed := report.Failed()
	if len(failed) == 0 {
		return
	}

	failures := table.NewWriter()
	failures.SetOutputMirror(w)
	failures.AppendHeader(table.Row{"Key", "Attempts", "Error"})
	for _, outcome := range failed {
		errText := ""
		if outcome.Err != nil {
			errText = outcome.Err.Error()
		}
		failures.AppendRow(table.Row{outcome.Key, outcome.Attempts, errText})
	}
	failures.Render()
}

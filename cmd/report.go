package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/signalnine/envgrade/internal/report"
	"github.com/signalnine/envgrade/internal/rubric"
)

var (
	flagFormat string
	flagWrite  bool
)

func newReportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report <repo>",
		Short: "Compare stored evaluation reports for a repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if flagReportsDir != "" {
				cfg.Batch.ReportsByModelDir = flagReportsDir
			}
			if flagRubricDir != "" {
				cfg.RubricDir = flagRubricDir
			}
			log := newLogger()
			repo := args[0]

			doc, err := rubric.Load(rubric.PathFor(cfg.RubricDir, repo), cfg.Runtime.CheckTimeout)
			if err != nil {
				log.Debug("categories from reports only", "err", err)
				doc = nil
			}
			s, err := report.Collect(cfg.Batch.ReportsByModelDir, repo, doc, time.Now(), log)
			if err != nil {
				return err
			}
			if flagWrite {
				jsonPath, tablePath, err := report.Write(cfg.Batch.ReportsByRepoDir, s)
				if err != nil {
					return err
				}
				log.Info("summary written", "json", jsonPath, "table", tablePath)
			}
			return report.Render(s, flagFormat, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&flagFormat, "format", "table", "output format (table, markdown, json)")
	cmd.Flags().StringVar(&flagReportsDir, "reports-by-model-dir", "", "per-recipe report root (default from config)")
	cmd.Flags().StringVar(&flagRubricDir, "rubric-dir", "", "rubric directory used for category maximums (default from config)")
	cmd.Flags().BoolVar(&flagWrite, "write", false, "also write the summary files to the reports-by-repo dir")
	return cmd
}

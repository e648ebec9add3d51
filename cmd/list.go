package cmd

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/signalnine/envgrade/internal/rubric"
)

func newListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list [repo]",
		Short: "List available rubrics, or the tests of one rubric",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if flagRubricDir != "" {
				cfg.RubricDir = flagRubricDir
			}
			if len(args) == 1 {
				doc, err := rubric.Load(rubric.PathFor(cfg.RubricDir, args[0]), cfg.Runtime.CheckTimeout)
				if err != nil {
					return err
				}
				return listTests(cmd.OutOrStdout(), doc)
			}

			repos, err := rubricRepos(cfg.RubricDir)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Rubrics in %s:\n", cfg.RubricDir)
			for _, repo := range repos {
				doc, err := rubric.Load(rubric.PathFor(cfg.RubricDir, repo), cfg.Runtime.CheckTimeout)
				if err != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "  - %s (invalid: %v)\n", repo, err)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "  - %s (%d tests, max score %g)\n", repo, len(doc.Tests), doc.MaxScore())
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&flagRubricDir, "rubric-dir", "", "rubric directory (default from config)")
	return cmd
}

func listTests(w io.Writer, doc *rubric.Document) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tSCORE\tCATEGORY\tTIMEOUT\tREQUIRES")
	for _, t := range doc.Tests {
		requires := strings.Join(t.Requires, ",")
		if requires == "" {
			requires = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%g\t%s\t%s\t%s\n", t.ID, t.Type, t.Score, t.Category, t.Timeout, requires)
	}
	return tw.Flush()
}

package cmd

import (
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/signalnine/envgrade/internal/rubric"
)

var flagStrict bool

func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [rubric.json...]",
		Short: "Check rubric files without touching docker",
		Long: "Loads each rubric, reporting files that cannot be evaluated and warning about " +
			"unknown requirements, dependency cycles, negative weights and unsupported types. " +
			"Without arguments every rubric in the rubric directory is checked.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			paths := args
			if len(paths) == 0 {
				if flagRubricDir != "" {
					cfg.RubricDir = flagRubricDir
				}
				if paths, err = filepath.Glob(filepath.Join(cfg.RubricDir, "*.json")); err != nil {
					return err
				}
				if len(paths) == 0 {
					return fmt.Errorf("no rubrics found in %s", cfg.RubricDir)
				}
			}
			invalid, warned := validateRubrics(cmd.OutOrStdout(), paths, cfg.Runtime.CheckTimeout)
			fmt.Fprintf(cmd.OutOrStdout(), "\n%d rubrics, %d invalid, %d with warnings\n", len(paths), invalid, warned)
			if invalid > 0 || (flagStrict && warned > 0) {
				return &ExitError{Code: 1, Err: fmt.Errorf("%d invalid rubrics", invalid)}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&flagRubricDir, "rubric-dir", "", "rubric directory (default from config)")
	cmd.Flags().BoolVar(&flagStrict, "strict", false, "treat warnings as failures")
	return cmd
}

func validateRubrics(w io.Writer, paths []string, defaultTimeout time.Duration) (invalid, warned int) {
	ok := color.New(color.FgGreen).SprintFunc()
	warn := color.New(color.FgYellow).SprintFunc()
	bad := color.New(color.FgRed, color.Bold).SprintFunc()

	for _, path := range paths {
		doc, err := rubric.Load(path, defaultTimeout)
		if err != nil {
			invalid++
			fmt.Fprintf(w, "%s %v\n", bad("INVALID"), err)
			continue
		}
		issues := doc.Analyze()
		if len(issues) == 0 {
			fmt.Fprintf(w, "%s %s (%d tests, max score %g)\n", ok("OK"), path, len(doc.Tests), doc.MaxScore())
			continue
		}
		warned++
		fmt.Fprintf(w, "%s %s (%d tests, max score %g)\n", warn("WARN"), path, len(doc.Tests), doc.MaxScore())
		for _, issue := range issues {
			fmt.Fprintf(w, "    %s\n", issue)
		}
	}
	return invalid, warned
}

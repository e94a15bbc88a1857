package main

import (
	"fmt"

	"teststability/internal/project"
	"teststability/internal/security"
	"teststability/pkg/fileutil"
	"teststability/pkg/templates"

	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check [CONFIG]",
	Short: "Validate a jobs.yaml file",
	Long: `Load and validate a jobs.yaml file the way the server does, and report insecure
file permissions. Without an argument the default locations are searched.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCheck,
}

func runCheck(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	path := ""
	if len(args) == 1 {
		path = args[0]
	}
	path, err := resolveConfigFile(path)
	if err != nil {
		return err
	}

	_, jobs, err := project.LoadConfig(path)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "%s: %d job(s)\n", path, len(jobs))
	registry := project.NewRegistry(jobs)
	for _, name := range registry.List() {
		job, _ := registry.Get(name)
		fmt.Fprintf(out, "  %-20s history %d, reconcile %s", name, job.HistoryLength, job.Reconcile)
		if len(job.Filters) > 0 {
			fmt.Fprintf(out, ", %d filter(s)", len(job.Filters))
		}
		if job.Repository != "" {
			fmt.Fprintf(out, ", repository %s", job.Repository)
		}
		fmt.Fprintln(out)
	}

	for _, name := range templates.ListTemplates() {
		for _, candidate := range templates.GetTemplatePaths(name) {
			if fileutil.FileExists(candidate) {
				fmt.Fprintf(out, "Template %s overridden by %s\n", name, candidate)
				break
			}
		}
	}

	if err := security.ValidateSecurePermissions(path); err != nil {
		fmt.Fprintf(out, "Warning: %v\n", err)
	}
	return nil
}

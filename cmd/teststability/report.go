package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"teststability/internal/history"
	"teststability/internal/report"
	"teststability/internal/security"
	"teststability/internal/stability"
	"teststability/pkg/fileutil"

	"github.com/spf13/cobra"
)

var reportOpts struct {
	db     string
	build  int
	asJSON bool
}

var reportCmd = &cobra.Command{
	Use:   "report JOB [TEST_ID]",
	Short: "Show the stability of a job or one of its tests",
	Long: `Show the stability summary of a job's latest build, or of the build given with
--build. With TEST_ID (suite, suite/class or suite/class/case) the summary of that
test node is shown instead of the whole job.`,
	Example: `  teststability report backend
  teststability report backend api/com.acme.UsersTest/testCreate --build 42`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runReport,
}

func init() {
	reportCmd.Flags().StringVar(&reportOpts.db, "db", getEnvOrDefault("TESTSTABILITY_DB_PATH", defaultDBPath), "Path to SQLite database")
	reportCmd.Flags().IntVar(&reportOpts.build, "build", 0, "Build number (default: latest)")
	reportCmd.Flags().BoolVar(&reportOpts.asJSON, "json", false, "Print JSON")
}

func runReport(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	jobName := args[0]
	testID := ""
	if len(args) == 2 {
		testID = args[1]
	}

	if err := security.ValidateJobName(jobName); err != nil {
		return err
	}
	if err := security.ValidateTestID(testID); err != nil {
		return err
	}

	if !fileutil.FileExists(reportOpts.db) {
		return fmt.Errorf("history database %s not found", reportOpts.db)
	}
	store, err := history.NewStore(reportOpts.db)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()
	var build *history.BuildRecord
	if reportOpts.build > 0 {
		build, err = store.GetBuild(ctx, jobName, reportOpts.build)
	} else {
		build, err = store.LatestBuild(ctx, jobName)
	}
	if err != nil {
		return err
	}
	if build == nil {
		return fmt.Errorf("no recorded build found for job '%s'", jobName)
	}

	tree, err := store.LoadTree(ctx, jobName, build.BuildNumber)
	if err != nil {
		return err
	}
	if tree == nil {
		return fmt.Errorf("build %d of %s has no records", build.BuildNumber, jobName)
	}

	node, ok := tree.Nodes[testID]
	if !ok {
		return fmt.Errorf("test '%s' not found in build %d of %s", testID, build.BuildNumber, jobName)
	}

	summary := report.Summarize(node)
	if testID == "" {
		summary = summary.WithHidden(stability.NewHiddenTests(build.HiddenTests...))
	}
	regressions := report.FromTree(jobName, build.BuildNumber, build.Author, tree.Order, tree.Nodes)

	if reportOpts.asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]interface{}{
			"build":       build,
			"test_id":     testID,
			"summary":     summary,
			"regressions": regressions,
		})
	}

	fmt.Fprintf(out, "%s build #%d", jobName, build.BuildNumber)
	if build.Author != "" {
		fmt.Fprintf(out, " by %s", build.Author)
	}
	fmt.Fprintf(out, " (recorded %s)\n", build.RecordedAt.Local().Format("2006-01-02 15:04:05"))
	printSummary(out, summary)

	if testID != "" {
		return nil
	}
	return printRegressions(out, regressions)
}

func printSummary(out io.Writer, s report.Summary) {
	fmt.Fprintf(out, "\n%s\n", s.Name)
	fmt.Fprintf(out, "  %s\n", s.Description)
	fmt.Fprintf(out, "  Health:        %d%%\n", s.Health)
	if s.FlakiestChildFlakiness >= 0 {
		fmt.Fprintf(out, "  Flakiest:      %s (%d%%)\n", s.FlakiestChild, s.FlakiestChildFlakiness)
		fmt.Fprintf(out, "  Least stable:  %s (%d%%)\n", s.LeastStableChild, s.LeastStableChildStability)
	}
	if s.HiddenTests != "" {
		fmt.Fprintf(out, "  Hidden:        %s\n", s.HiddenTests)
	}
	if len(s.Timeline) > 0 {
		points := make([]string, len(s.Timeline))
		for i, p := range s.Timeline {
			points[i] = fmt.Sprintf("#%d %s", p.BuildNumber, p.Status)
		}
		fmt.Fprintf(out, "  Timeline:      %s\n", strings.Join(points, ", "))
	}
	if s.StackTrace != "" && s.Failed > 0 {
		fmt.Fprintf(out, "  Last failure:\n    %s\n", strings.ReplaceAll(s.StackTrace, "\n", "\n    "))
	}
}

func printRegressions(out io.Writer, r *report.RegressionReport) error {
	if r.Empty() {
		fmt.Fprintln(out, "\nNo regressions")
		return nil
	}
	text, err := r.Text()
	if err != nil {
		return fmt.Errorf("failed to render regression report: %w", err)
	}
	fmt.Fprintf(out, "\n%s", text)
	return nil
}

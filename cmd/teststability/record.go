package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"teststability/internal/project"
	"teststability/internal/recorder"
	"teststability/internal/report"
	"teststability/internal/scm"
	"teststability/internal/security"
	"teststability/internal/stability"
	"teststability/pkg/cmdutil"
	"teststability/pkg/fileutil"

	"github.com/jstemmer/go-junit-report/v2/junit"
	"github.com/spf13/cobra"
)

const (
	execOutputTailLines = 20
	execOutputLimit     = 256 << 10
)

var recordOpts struct {
	job           string
	build         int
	junit         []string
	db            string
	config        string
	historyLength int
	filters       []string
	strict        bool
	author        string
	message       string
	exec          string
	execTimeout   time.Duration
	workDir       string
	allow         []string
	verbose       bool
}

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record a build from JUnit files without the server",
	Long: `Record one build of a job directly into the history database.

With --exec the test command is run first; a failing test run is expected and
does not stop the report from being recorded. Only well-known test runners may
be started, without a shell.`,
	Example: `  teststability record --job backend --build 42 --junit 'build/test-results/*.xml'
  teststability record --job backend --build 43 --exec "gotestsum --junitfile report.xml" --junit report.xml`,
	Args: cobra.NoArgs,
	RunE: runRecord,
}

func init() {
	f := recordCmd.Flags()
	f.StringVar(&recordOpts.job, "job", "", "Job name")
	f.IntVar(&recordOpts.build, "build", 0, "Build number")
	f.StringSliceVar(&recordOpts.junit, "junit", nil, "JUnit XML file or glob (repeatable)")
	f.StringVar(&recordOpts.db, "db", getEnvOrDefault("TESTSTABILITY_DB_PATH", defaultDBPath), "Path to SQLite database")
	f.StringVarP(&recordOpts.config, "config", "c", getEnvOrDefault("TESTSTABILITY_CONFIG_FILE", ""), "Take job settings from this jobs.yaml")
	f.IntVar(&recordOpts.historyLength, "history-length", recorder.DefaultHistoryLength, "Number of builds kept per test")
	f.StringSliceVar(&recordOpts.filters, "filter", nil, "Test name to hide from the history (repeatable)")
	f.BoolVar(&recordOpts.strict, "strict", false, "Reconcile the root only when every visible child passed")
	f.StringVar(&recordOpts.author, "author", "", "Build author")
	f.StringVar(&recordOpts.message, "message", "", "Commit message")
	f.StringVar(&recordOpts.exec, "exec", "", "Test command to run before recording")
	f.DurationVar(&recordOpts.execTimeout, "exec-timeout", time.Hour, "Maximum run time of --exec")
	f.StringVar(&recordOpts.workDir, "workdir", ".", "Working directory of --exec")
	f.StringSliceVar(&recordOpts.allow, "allow", nil, "Extra command --exec may start (repeatable)")
	f.BoolVarP(&recordOpts.verbose, "verbose", "v", false, "Log recording details to stderr")

	recordCmd.MarkFlagRequired("job")
	recordCmd.MarkFlagRequired("build")
	recordCmd.MarkFlagRequired("junit")
}

func runRecord(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	if err := security.ValidateJobName(recordOpts.job); err != nil {
		return err
	}
	if recordOpts.build < 1 {
		return fmt.Errorf("--build must be a positive integer")
	}

	job, err := recordJob(cmd)
	if err != nil {
		return err
	}

	if ignore, reason := job.ShouldIgnore(recordOpts.author, recordOpts.message); ignore {
		fmt.Fprintf(out, "Build %d of %s skipped (%s)\n", recordOpts.build, job.Name, reason)
		return nil
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	if recordOpts.exec != "" {
		if err := runTests(ctx, out, recordOpts.exec); err != nil {
			return err
		}
	}

	suites, err := loadReports(recordOpts.junit)
	if err != nil {
		return err
	}

	level := slog.LevelWarn
	if recordOpts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	store, err := openStore(recordOpts.db)
	if err != nil {
		return err
	}
	defer store.Close()

	build := recorder.Build{
		Job:           job.Name,
		Number:        recordOpts.build,
		Author:        recordOpts.author,
		CommitMessage: recordOpts.message,
	}
	result, err := store.Ingest(ctx, recorder.New(job.RecorderOptions(), logger), build, suites)
	if err != nil {
		return err
	}
	for _, skipped := range result.Skipped {
		fmt.Fprintf(os.Stderr, "Warning: discarded undecodable record: %v\n", skipped)
	}

	data := result.Data
	fmt.Fprintf(out, "Recorded build %d of %s (%d nodes, ingest %s)\n",
		build.Number, job.Name, len(data.Histories), data.Build.IngestID)
	if data.Hidden.Len() > 0 {
		fmt.Fprintf(out, "Hidden tests: %s\n", data.Hidden)
	}
	printSummary(out, report.Summarize(data.Root))

	return printRegressions(out, report.FromBuildData(data))
}

// recordJob builds the job settings from --config, if given, with flags
// set on the command line taking precedence.
func recordJob(cmd *cobra.Command) (*project.Job, error) {
	job := &project.Job{Name: recordOpts.job, HistoryLength: recorder.DefaultHistoryLength}

	path := recordOpts.config
	explicit := path != ""
	if !explicit {
		path = fileutil.FindConfigOptional(configFileName)
	}
	if path != "" {
		_, jobs, err := project.LoadConfig(path)
		if err != nil {
			return nil, err
		}
		configured, ok := jobs[recordOpts.job]
		switch {
		case ok:
			job = configured
		case explicit:
			return nil, fmt.Errorf("job '%s' not found in %s", recordOpts.job, path)
		}
	}

	flags := cmd.Flags()
	if flags.Changed("history-length") {
		if recordOpts.historyLength < 1 || recordOpts.historyLength > project.MaxHistoryLength {
			return nil, fmt.Errorf("--history-length must be between 1 and %d", project.MaxHistoryLength)
		}
		job.HistoryLength = recordOpts.historyLength
	}
	if flags.Changed("filter") {
		job.Filters = recordOpts.filters
	}
	if flags.Changed("strict") {
		job.Reconcile = stability.ReconcileLegacy
		if recordOpts.strict {
			job.Reconcile = stability.ReconcileStrict
		}
	}
	return job, nil
}

// runTests runs the --exec command. A non-zero exit is reported and
// ignored; a command that cannot be run at all is an error.
func runTests(ctx context.Context, out io.Writer, command string) error {
	parts, err := cmdutil.ParseCommandString(command)
	if err != nil {
		return err
	}

	if !fileutil.DirExists(recordOpts.workDir) {
		return fmt.Errorf("working directory %s does not exist", recordOpts.workDir)
	}

	executor := security.NewSandboxedExecutor(recordOpts.workDir)
	executor.Timeout = recordOpts.execTimeout
	executor.OutputLimit = execOutputLimit
	for _, name := range recordOpts.allow {
		executor.AddAllowedCommand(name)
	}

	fmt.Fprintf(out, "Running %s\n", cmdutil.FormatCommand(parts))
	result, err := executor.Execute(ctx, parts)
	if !result.Exited() {
		return fmt.Errorf("failed to run tests: %w", err)
	}

	output := cmdutil.SanitizeOutput(result.Output, []string{os.Getenv(scm.TokenEnv)})
	if result.ExitCode != 0 {
		fmt.Fprintf(out, "Tests exited with code %d after %s; recording anyway\n",
			result.ExitCode, result.Duration.Round(time.Millisecond))
		if tail := cmdutil.TailLines(output, execOutputTailLines); tail != "" {
			fmt.Fprintln(out, tail)
		}
		return nil
	}

	fmt.Fprintf(out, "Tests passed in %s\n", result.Duration.Round(time.Millisecond))
	return nil
}

// loadReports parses every file matched by patterns into one report.
func loadReports(patterns []string) (*junit.Testsuites, error) {
	files, err := fileutil.ExpandPatterns(patterns)
	if err != nil {
		return nil, err
	}

	merged := &junit.Testsuites{}
	for _, path := range files {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open report: %w", err)
		}
		suites, err := recorder.ParseJUnit(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		for _, suite := range suites.Suites {
			merged.AddSuite(suite)
		}
	}
	return merged, nil
}

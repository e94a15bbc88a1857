package main

import (
	"fmt"
	"strconv"

	"teststability/internal/history"
	"teststability/internal/security"
	"teststability/pkg/fileutil"

	"github.com/spf13/cobra"
)

var forgetDB string

var forgetCmd = &cobra.Command{
	Use:   "forget JOB BUILD",
	Short: "Remove a recorded build",
	Long: `Remove one build of a job and all of its test records from the history database.

Each build stores a full snapshot of every history, so forgetting the latest build
rewinds the job: the next build recorded continues from the one before it.`,
	Example: `  teststability forget backend 42`,
	Args:    cobra.ExactArgs(2),
	RunE:    runForget,
}

func init() {
	forgetCmd.Flags().StringVar(&forgetDB, "db", getEnvOrDefault("TESTSTABILITY_DB_PATH", defaultDBPath), "Path to SQLite database")
}

func runForget(cmd *cobra.Command, args []string) error {
	jobName := args[0]
	if err := security.ValidateJobName(jobName); err != nil {
		return err
	}
	number, err := strconv.Atoi(args[1])
	if err != nil || number < 1 {
		return fmt.Errorf("build must be a positive integer, got %q", args[1])
	}

	if !fileutil.FileExists(forgetDB) {
		return fmt.Errorf("history database %s not found", forgetDB)
	}
	store, err := history.NewStore(forgetDB)
	if err != nil {
		return err
	}
	defer store.Close()

	deleted, err := store.DeleteBuild(cmd.Context(), jobName, number)
	if err != nil {
		return err
	}
	if !deleted {
		return fmt.Errorf("build %d of %s not found", number, jobName)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Removed build %d of %s\n", number, jobName)
	return nil
}

package main

import (
	"fmt"
	"runtime"

	"teststability/internal/recorder"

	"github.com/spf13/cobra"
)

var (
	// These will be set during build with -ldflags
	gitCommit = "unknown"
	buildDate = "unknown"

	versionShort bool
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Long:  `Display version, build information, and runtime details for teststability.`,
	Args:  cobra.NoArgs,
	Run:   runVersion,
}

func init() {
	versionCmd.Flags().BoolVar(&versionShort, "short", false, "Print only the version number")
}

func runVersion(cmd *cobra.Command, args []string) {
	out := cmd.OutOrStdout()
	if versionShort {
		fmt.Fprintln(out, version)
		return
	}

	fmt.Fprintf(out, "teststability version %s\n", version)
	fmt.Fprintf(out, "  Git commit:      %s\n", gitCommit)
	fmt.Fprintf(out, "  Build date:      %s\n", buildDate)
	fmt.Fprintf(out, "  History length:  %d builds (default)\n", recorder.DefaultHistoryLength)
	fmt.Fprintf(out, "  Go version:      %s\n", runtime.Version())
	fmt.Fprintf(out, "  OS/Arch:         %s/%s\n", runtime.GOOS, runtime.GOARCH)
}

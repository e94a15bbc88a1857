package main

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"teststability/internal/security"
	"teststability/internal/server"

	"github.com/spf13/cobra"
)

var submitOpts struct {
	url     string
	job     string
	build   int
	junit   []string
	secret  string
	author  string
	message string
	sha     string
	timeout time.Duration
}

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Send JUnit files to a running server",
	Long: `Merge the given JUnit files into one report, sign it with the job secret and
post it to a teststability server. This is the client side of POST /in/{job}.`,
	Example: `  TESTSTABILITY_SECRET=... teststability submit --url http://ci-stats:5000 \
    --job backend --build "$BUILD_NUMBER" --sha "$GIT_COMMIT" --junit 'reports/*.xml'`,
	Args: cobra.NoArgs,
	RunE: runSubmit,
}

func init() {
	f := submitCmd.Flags()
	f.StringVar(&submitOpts.url, "url", getEnvOrDefault("TESTSTABILITY_URL", "http://127.0.0.1:5000"), "Server base URL")
	f.StringVar(&submitOpts.job, "job", "", "Job name")
	f.IntVar(&submitOpts.build, "build", 0, "Build number")
	f.StringSliceVar(&submitOpts.junit, "junit", nil, "JUnit XML file or glob (repeatable)")
	f.StringVar(&submitOpts.secret, "secret", getEnvOrDefault("TESTSTABILITY_SECRET", ""), "Job secret used to sign the report")
	f.StringVar(&submitOpts.author, "author", "", "Build author")
	f.StringVar(&submitOpts.message, "message", "", "Commit message")
	f.StringVar(&submitOpts.sha, "sha", "", "Commit SHA, used by the server to look up missing metadata")
	f.DurationVar(&submitOpts.timeout, "timeout", 2*time.Minute, "Request timeout")

	submitCmd.MarkFlagRequired("job")
	submitCmd.MarkFlagRequired("build")
	submitCmd.MarkFlagRequired("junit")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	if err := security.ValidateJobName(submitOpts.job); err != nil {
		return err
	}
	if submitOpts.build < 1 {
		return fmt.Errorf("--build must be a positive integer")
	}
	if submitOpts.secret == "" {
		return fmt.Errorf("a job secret is required (--secret or TESTSTABILITY_SECRET)")
	}

	suites, err := loadReports(submitOpts.junit)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	if err := suites.WriteXML(&buf); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	body := buf.Bytes()

	url := strings.TrimRight(submitOpts.url, "/") + "/in/" + submitOpts.job
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/xml")
	req.Header.Set("X-Hub-Signature-256", server.Sign(body, submitOpts.secret))
	req.Header.Set("X-Build-Number", strconv.Itoa(submitOpts.build))
	setIfNotEmpty(req.Header, "X-Build-Author", submitOpts.author)
	setIfNotEmpty(req.Header, "X-Commit-Message", strings.ReplaceAll(submitOpts.message, "\n", " "))
	setIfNotEmpty(req.Header, "X-Commit-Sha", submitOpts.sha)

	client := &http.Client{Timeout: submitOpts.timeout}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to submit report: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusCreated, http.StatusOK:
		fmt.Fprintln(cmd.OutOrStdout(), strings.TrimSpace(string(respBody)))
		return nil
	default:
		return fmt.Errorf("server rejected report: %s: %s", resp.Status, strings.TrimSpace(string(respBody)))
	}
}

func setIfNotEmpty(h http.Header, key, value string) {
	if value != "" {
		h.Set(key, value)
	}
}

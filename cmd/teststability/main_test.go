package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"teststability/internal/history"
	"teststability/internal/recorder"
	"teststability/internal/security"
	"teststability/internal/stability"
)

const sampleReport = `<?xml version="1.0" encoding="UTF-8"?>
<testsuite name="api" tests="2" failures="1">
  <testcase classname="Users" name="TestCreate"/>
  <testcase classname="Users" name="TestDelete">
    <failure message="expected 204">users_test.go:42</failure>
  </testcase>
</testsuite>`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func TestLoadReports_MergesFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "api.xml", sampleReport)
	writeFile(t, dir, "web.xml", strings.ReplaceAll(sampleReport, `name="api"`, `name="web"`))

	suites, err := loadReports([]string{filepath.Join(dir, "*.xml")})
	if err != nil {
		t.Fatalf("loadReports() error = %v", err)
	}
	if len(suites.Suites) != 2 {
		t.Fatalf("expected 2 suites, got %d", len(suites.Suites))
	}
	if suites.Tests != 4 || suites.Failures != 2 {
		t.Errorf("expected totals 4 tests / 2 failures, got %d / %d", suites.Tests, suites.Failures)
	}
}

func TestLoadReports_Errors(t *testing.T) {
	dir := t.TempDir()
	bad := writeFile(t, dir, "bad.xml", "<html></html>")

	if _, err := loadReports([]string{filepath.Join(dir, "missing-*.xml")}); err == nil {
		t.Error("expected error when no file matches")
	}
	if _, err := loadReports([]string{bad}); err == nil || !strings.Contains(err.Error(), "bad.xml") {
		t.Errorf("expected error naming bad.xml, got %v", err)
	}
}

func TestRecordJob_FlagsOverrideConfig(t *testing.T) {
	dir := t.TempDir()
	config := writeFile(t, dir, "jobs.yaml", `
jobs:
  backend:
    secret: "k9Xq2LmV7pR4tW8zB3nF6hJ1sD5gA0cE-uY_iO2wQ7eT4rZx"
    history_length: 10
    filters: ["slow"]
`)

	t.Cleanup(func() {
		recordOpts.job = ""
		recordOpts.config = ""
		recordOpts.historyLength = 0
		recordOpts.strict = false
	})

	cmd := recordCmd
	if err := cmd.Flags().Set("history-length", "7"); err != nil {
		t.Fatal(err)
	}
	if err := cmd.Flags().Set("strict", "true"); err != nil {
		t.Fatal(err)
	}
	recordOpts.job = "backend"
	recordOpts.config = config

	job, err := recordJob(cmd)
	if err != nil {
		t.Fatalf("recordJob() error = %v", err)
	}
	if job.HistoryLength != 7 {
		t.Errorf("expected history length 7, got %d", job.HistoryLength)
	}
	if job.Reconcile != stability.ReconcileStrict {
		t.Errorf("expected strict reconcile, got %v", job.Reconcile)
	}
	if len(job.Filters) != 1 || job.Filters[0] != "slow" {
		t.Errorf("expected filters from config, got %v", job.Filters)
	}

	recordOpts.job = "frontend"
	if _, err := recordJob(cmd); err == nil {
		t.Error("expected error for job missing from config")
	}
}

func TestSecretCommand(t *testing.T) {
	var out bytes.Buffer
	secretCmd.SetOut(&out)
	t.Cleanup(func() { secretCmd.SetOut(nil) })

	if err := secretCmd.RunE(secretCmd, nil); err != nil {
		t.Fatalf("secret error = %v", err)
	}
	secret := strings.TrimSpace(out.String())
	if err := security.ValidateSecret(secret); err != nil {
		t.Errorf("generated secret fails validation: %v", err)
	}
}

func TestCheckCommand(t *testing.T) {
	dir := t.TempDir()
	config := writeFile(t, dir, "jobs.yaml", `
jobs:
  backend:
    secret: "k9Xq2LmV7pR4tW8zB3nF6hJ1sD5gA0cE-uY_iO2wQ7eT4rZx"
    repository: acme/backend
`)

	var out bytes.Buffer
	checkCmd.SetOut(&out)
	t.Cleanup(func() { checkCmd.SetOut(nil) })

	if err := runCheck(checkCmd, []string{config}); err != nil {
		t.Fatalf("check error = %v", err)
	}
	got := out.String()
	if !strings.Contains(got, "1 job(s)") || !strings.Contains(got, "repository acme/backend") {
		t.Errorf("unexpected check output:\n%s", got)
	}
	if strings.Contains(got, "Warning") {
		t.Errorf("0600 config should not warn:\n%s", got)
	}
}

func TestForgetCommand(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")
	store, err := history.NewStore(dbPath)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	suites, err := recorder.ParseJUnit(strings.NewReader(sampleReport))
	if err != nil {
		t.Fatal(err)
	}
	rec := recorder.New(recorder.Options{HistoryLength: 5}, nil)
	for _, number := range []int{1, 2} {
		build := recorder.Build{Job: "backend", Number: number}
		if _, err := store.Ingest(context.Background(), rec, build, suites); err != nil {
			t.Fatalf("Ingest(%d) error = %v", number, err)
		}
	}
	store.Close()

	forgetDB = dbPath
	var out bytes.Buffer
	forgetCmd.SetOut(&out)
	forgetCmd.SetContext(context.Background())
	t.Cleanup(func() { forgetCmd.SetOut(nil) })

	if err := runForget(forgetCmd, []string{"backend", "2"}); err != nil {
		t.Fatalf("forget error = %v", err)
	}
	if !strings.Contains(out.String(), "Removed build 2 of backend") {
		t.Errorf("unexpected output %q", out.String())
	}
	if err := runForget(forgetCmd, []string{"backend", "2"}); err == nil {
		t.Error("expected error forgetting a build twice")
	}
	if err := runForget(forgetCmd, []string{"backend", "two"}); err == nil {
		t.Error("expected error for a non-numeric build")
	}

	store, err = history.NewStore(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	latest, err := store.LatestBuild(context.Background(), "backend")
	if err != nil {
		t.Fatal(err)
	}
	if latest == nil || latest.BuildNumber != 1 {
		t.Errorf("expected build 1 to be latest after forgetting 2, got %+v", latest)
	}
}

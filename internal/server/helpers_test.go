package server

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"

	"teststability/internal/history"
	"teststability/internal/project"
	"teststability/internal/scm"
)

const passingReport = `<testsuites>
  <testsuite name="api">
    <testcase name="TestCreate" classname="Users"></testcase>
    <testcase name="TestDelete" classname="Users"></testcase>
  </testsuite>
</testsuites>`

const failingReport = `<testsuites>
  <testsuite name="api">
    <testcase name="TestCreate" classname="Users"></testcase>
    <testcase name="TestDelete" classname="Users"><failure message="expected 204">users_test.go:42</failure></testcase>
  </testsuite>
</testsuites>`

// fakeCommits is a CommitLookup backed by a map of sha to commit.
type fakeCommits struct {
	commits map[string]*scm.Commit
	calls   int
}

func (f *fakeCommits) LookupCommit(ctx context.Context, repository, sha string) (*scm.Commit, error) {
	f.calls++
	if c, ok := f.commits[sha]; ok {
		return c, nil
	}
	return nil, scm.ErrCommitNotFound
}

func setupTestServer(t *testing.T) (*Server, *project.Job) {
	t.Helper()

	store, err := history.NewStore(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	job := &project.Job{
		Name:          "backend",
		Secret:        testSecret,
		HistoryLength: 5,
		IgnoreKeyword: "[skip stability]",
		IgnoreAuthor:  "release-bot",
		Repository:    "acme/backend",
	}
	registry := project.NewRegistry(map[string]*project.Job{"backend": job})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	commits := &fakeCommits{commits: map[string]*scm.Commit{
		"abc1234": {SHA: "abc1234", Author: "release-bot", Message: "Release 1.2.0"},
		"def5678": {SHA: "def5678", Author: "alice", Message: "Fix [skip stability]"},
	}}

	return NewServer(registry, store, commits, logger, true), job
}

// reportRequest builds a signed submission of body for build number.
func reportRequest(job *project.Job, number int, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/in/"+job.Name, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/xml")
	req.Header.Set("X-Hub-Signature-256", Sign([]byte(body), job.Secret))
	req.Header.Set("X-Build-Number", strconv.Itoa(number))
	return req
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	return rr
}

func postReport(t *testing.T, s *Server, job *project.Job, number int, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := reportRequest(job, number, body)
	req.Header.Set("X-Build-Author", "alice")
	rr := serve(s, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected build %d to be recorded, got %d: %s", number, rr.Code, rr.Body.String())
	}
	return rr
}

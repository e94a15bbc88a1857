package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"sort"
	"strconv"
	"time"

	"teststability/internal/history"
	"teststability/internal/project"
	"teststability/internal/recorder"
	"teststability/internal/report"
	"teststability/internal/security"
	"teststability/internal/stability"

	"github.com/go-chi/chi/v5"
)

const (
	MaxPayloadBytes    = recorder.MaxReportBytes
	RecentBuildsLimit  = 10 // Number of recent builds to return in status endpoint
	maxBuildsLimit     = 100
	signatureHeader    = "X-Hub-Signature-256"
	buildNumberHeader  = "X-Build-Number"
	authorHeader       = "X-Build-Author"
	messageHeader      = "X-Commit-Message"
	commitSHAHeader    = "X-Commit-Sha"
	contentTypeXML     = "application/xml"
	contentTypeTextXML = "text/xml"
)

// HandleIngest records one build of a job from the JUnit XML request body.
func (s *Server) HandleIngest(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	job, ok := s.lookupJob(w, r)
	if !ok {
		s.Metrics.IngestFailures.WithLabelValues(reasonBadRequest).Inc()
		return
	}

	// ContentLength can be -1 if not set; the body is limited below as well
	if r.ContentLength > MaxPayloadBytes {
		s.Metrics.IngestFailures.WithLabelValues(reasonBadRequest).Inc()
		s.respondError(w, http.StatusRequestEntityTooLarge, "Payload too large")
		return
	}

	if !isXMLContentType(r.Header.Get("Content-Type")) {
		s.Metrics.IngestFailures.WithLabelValues(reasonBadRequest).Inc()
		s.respondError(w, http.StatusUnsupportedMediaType, "Invalid content type")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, MaxPayloadBytes+1))
	if err != nil {
		s.Logger.Error("Failed to read request body", "error", err, "job", job.Name)
		s.respondError(w, http.StatusInternalServerError, "Failed to read payload")
		return
	}
	if len(body) > MaxPayloadBytes {
		s.Metrics.IngestFailures.WithLabelValues(reasonBadRequest).Inc()
		s.respondError(w, http.StatusRequestEntityTooLarge, "Payload too large")
		return
	}

	if !VerifySignature(body, r.Header.Get(signatureHeader), job.Secret) {
		s.Metrics.IngestFailures.WithLabelValues(reasonUnauthorized).Inc()
		s.Logger.Warn("Rejected report with invalid signature", "job", job.Name, "ip", r.RemoteAddr)
		s.respondError(w, http.StatusForbidden, "Invalid signature")
		return
	}

	build, err := s.buildFromHeaders(r, job)
	if err != nil {
		s.Metrics.IngestFailures.WithLabelValues(reasonBadRequest).Inc()
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if ignore, reason := job.ShouldIgnore(build.Author, build.CommitMessage); ignore {
		s.Metrics.BuildsSkipped.WithLabelValues(job.Name).Inc()
		s.Logger.Info("Build skipped", "job", job.Name, "build", build.Number, "reason", reason)
		s.respondJSON(w, http.StatusOK, map[string]interface{}{
			"message": "Build skipped",
			"reason":  reason,
			"job":     job.Name,
			"build":   build.Number,
		})
		return
	}

	suites, err := recorder.ParseJUnit(bytes.NewReader(body))
	if err != nil {
		s.Metrics.IngestFailures.WithLabelValues(reasonBadReport).Inc()
		s.Logger.Warn("Invalid JUnit report", "job", job.Name, "build", build.Number, "error", err)
		s.respondError(w, http.StatusBadRequest, fmt.Sprintf("Invalid JUnit report: %v", err))
		return
	}

	if !s.LockManager.TryLock(job.Name) {
		s.Metrics.IngestFailures.WithLabelValues(reasonBusy).Inc()
		s.Logger.Warn("Build of job already being recorded, rejecting", "job", job.Name, "build", build.Number)
		s.respondError(w, http.StatusTooManyRequests, "Another build of this job is being recorded")
		return
	}
	defer s.LockManager.Unlock(job.Name)

	rec := recorder.New(job.RecorderOptions(), s.Logger)
	result, err := s.Store.Ingest(r.Context(), rec, build, suites)
	if err != nil {
		s.Metrics.IngestFailures.WithLabelValues(reasonStorage).Inc()
		s.Logger.Error("Failed to record build", "job", job.Name, "build", build.Number, "error", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to record build")
		return
	}

	for _, skipped := range result.Skipped {
		s.Logger.Warn("Discarded undecodable history record", "job", job.Name,
			"test", skipped.TestID, "stored_build", skipped.BuildNumber, "error", skipped.Err)
	}
	s.Metrics.DecodeErrors.WithLabelValues(job.Name).Add(float64(len(result.Skipped)))

	data := result.Data
	regressions := report.FromBuildData(data)

	s.Metrics.BuildsRecorded.WithLabelValues(job.Name).Inc()
	s.Metrics.Regressions.WithLabelValues(job.Name).Add(float64(regressions.Count()))
	s.Metrics.NodesPerBuild.Observe(float64(len(data.Histories)))
	s.Metrics.IngestDuration.Observe(time.Since(start).Seconds())

	if !regressions.Empty() {
		if notice, err := regressions.Notice(); err == nil {
			s.Logger.Warn(notice, "job", job.Name, "build", build.Number, "regressions", regressions.Count())
		} else {
			s.Logger.Error("Failed to render regression notice", "job", job.Name, "error", err)
		}
	}

	s.respondJSON(w, http.StatusCreated, map[string]interface{}{
		"message":         "Build recorded",
		"job":             job.Name,
		"build":           build.Number,
		"ingest_id":       data.Build.IngestID,
		"reconciled":      data.Reconciled,
		"skipped_records": len(result.Skipped),
		"summary":         report.Summarize(data.Root).WithHidden(data.Hidden),
		"regressions":     regressions,
	})
}

// buildFromHeaders reads the build number and commit metadata from the
// request, filling in missing author and message from the job's repository.
func (s *Server) buildFromHeaders(r *http.Request, job *project.Job) (recorder.Build, error) {
	number, err := parseBuildNumber(r.Header.Get(buildNumberHeader))
	if err != nil {
		return recorder.Build{}, fmt.Errorf("invalid %s header: %v", buildNumberHeader, err)
	}

	build := recorder.Build{
		Job:           job.Name,
		Number:        number,
		Author:        security.CleanHeaderValue(r.Header.Get(authorHeader)),
		CommitMessage: security.CleanHeaderValue(r.Header.Get(messageHeader)),
	}

	sha := r.Header.Get(commitSHAHeader)
	if sha == "" {
		return build, nil
	}
	if err := security.ValidateCommitSHA(sha); err != nil {
		return recorder.Build{}, fmt.Errorf("invalid %s header: %v", commitSHAHeader, err)
	}

	if job.Repository == "" || s.Commits == nil || (build.Author != "" && build.CommitMessage != "") {
		return build, nil
	}

	commit, err := s.Commits.LookupCommit(r.Context(), job.Repository, sha)
	if err != nil {
		// The build is still recorded; only the ignore rules lose their input.
		s.Metrics.IngestFailures.WithLabelValues(reasonLookup).Inc()
		s.Logger.Warn("Commit lookup failed", "job", job.Name, "repository", job.Repository, "sha", sha, "error", err)
		return build, nil
	}
	if build.Author == "" {
		build.Author = security.CleanHeaderValue(commit.Author)
	}
	if build.CommitMessage == "" {
		build.CommitMessage = security.CleanHeaderValue(commit.Message)
	}
	return build, nil
}

// HandleHealth handles health check requests
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	latest, err := s.Store.LatestBuilds(r.Context())
	if err != nil {
		s.Logger.Error("Health check failed", "error", err)
		s.respondError(w, http.StatusServiceUnavailable, "History database unavailable")
		return
	}

	builds := make(map[string]int, len(latest))
	for job, rec := range latest {
		builds[job] = rec.BuildNumber
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":        "ok",
		"jobs":          s.Registry.List(),
		"job_count":     s.Registry.Count(),
		"latest_builds": builds,
	})
}

// HandleStatus returns the latest build of a job with its root summary and
// regressions, and the job's recent builds.
func (s *Server) HandleStatus(w http.ResponseWriter, r *http.Request) {
	job, ok := s.lookupJob(w, r)
	if !ok {
		return
	}

	limit := RecentBuildsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxBuildsLimit {
			s.respondError(w, http.StatusBadRequest, fmt.Sprintf("limit must be between 1 and %d", maxBuildsLimit))
			return
		}
		limit = n
	}

	status, err := s.Store.JobStatus(r.Context(), job.Name, limit)
	if err != nil {
		s.Logger.Error("Failed to get job status", "error", err, "job", job.Name)
		s.respondError(w, http.StatusInternalServerError, "Failed to fetch job status")
		return
	}

	response := map[string]interface{}{
		"job":           job.Name,
		"latest_build":  status.LatestBuild,
		"recent_builds": status.RecentBuilds,
	}

	if latest := status.LatestBuild; latest != nil {
		tree, ok := s.loadTree(w, r, job.Name, latest.BuildNumber)
		if !ok {
			return
		}
		response["summary"] = rootSummary(tree, latest)
		response["regressions"] = report.FromTree(job.Name, latest.BuildNumber, latest.Author, tree.Order, tree.Nodes)
	}

	s.respondJSON(w, http.StatusOK, response)
}

// HandleRegressions returns the regression report of a job's latest build,
// or of the build given by the "build" query parameter. With format=text
// the rendered report is returned as plain text.
func (s *Server) HandleRegressions(w http.ResponseWriter, r *http.Request) {
	job, ok := s.lookupJob(w, r)
	if !ok {
		return
	}

	build, ok := s.findBuild(w, r, job.Name, r.URL.Query().Get("build"))
	if !ok {
		return
	}

	tree, ok := s.loadTree(w, r, job.Name, build.BuildNumber)
	if !ok {
		return
	}
	regressions := report.FromTree(job.Name, build.BuildNumber, build.Author, tree.Order, tree.Nodes)

	if r.URL.Query().Get("format") == "text" {
		text, err := regressions.Text()
		if err != nil {
			s.Logger.Error("Failed to render regression report", "error", err, "job", job.Name)
			s.respondError(w, http.StatusInternalServerError, "Failed to render report")
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, text)
		return
	}

	s.respondJSON(w, http.StatusOK, regressions)
}

// HandleBuild returns one build with its root summary and hidden tests.
func (s *Server) HandleBuild(w http.ResponseWriter, r *http.Request) {
	job, ok := s.lookupJob(w, r)
	if !ok {
		return
	}

	build, ok := s.findBuild(w, r, job.Name, chi.URLParam(r, "number"))
	if !ok {
		return
	}

	tree, ok := s.loadTree(w, r, job.Name, build.BuildNumber)
	if !ok {
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"build":       build,
		"summary":     rootSummary(tree, build),
		"regressions": report.FromTree(job.Name, build.BuildNumber, build.Author, tree.Order, tree.Nodes),
	})
}

// HandleTest returns the summary and stored record of one test node. The
// node ID is the rest of the path, e.g. /tests/api/api.Users/TestCreate.
func (s *Server) HandleTest(w http.ResponseWriter, r *http.Request) {
	job, ok := s.lookupJob(w, r)
	if !ok {
		return
	}

	testID := chi.URLParam(r, "*")
	if err := security.ValidateTestID(testID); err != nil {
		s.respondError(w, http.StatusBadRequest, fmt.Sprintf("Invalid test id: %v", err))
		return
	}

	build, ok := s.findBuild(w, r, job.Name, chi.URLParam(r, "number"))
	if !ok {
		return
	}

	tree, ok := s.loadTree(w, r, job.Name, build.BuildNumber)
	if !ok {
		return
	}

	node, exists := tree.Nodes[testID]
	if !exists {
		s.respondError(w, http.StatusNotFound, "Unknown test")
		return
	}

	summary := report.Summarize(node)
	if testID == "" {
		summary = rootSummary(tree, build)
	}

	children := []string{}
	for id, rec := range tree.Records {
		if rec.ParentID == testID && id != testID {
			children = append(children, id)
		}
	}
	sort.Strings(children)

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"job":      job.Name,
		"build":    build.BuildNumber,
		"test_id":  testID,
		"summary":  summary,
		"record":   tree.Records[testID],
		"children": children,
	})
}

// lookupJob validates the {job} path parameter and resolves it.
func (s *Server) lookupJob(w http.ResponseWriter, r *http.Request) (*project.Job, bool) {
	name := chi.URLParam(r, "job")

	if err := security.ValidateJobName(name); err != nil {
		s.Logger.Warn("Invalid job name in request", "job", name, "error", err)
		s.respondError(w, http.StatusBadRequest, fmt.Sprintf("Invalid job name: %v", err))
		return nil, false
	}

	job, err := s.Registry.Get(name)
	if err != nil {
		s.respondError(w, http.StatusNotFound, "Unknown job")
		return nil, false
	}
	return job, true
}

// findBuild resolves a build number, or the latest build when raw is empty.
func (s *Server) findBuild(w http.ResponseWriter, r *http.Request, job, raw string) (*history.BuildRecord, bool) {
	var (
		build *history.BuildRecord
		err   error
	)
	if raw == "" {
		build, err = s.Store.LatestBuild(r.Context(), job)
	} else {
		number, perr := parseBuildNumber(raw)
		if perr != nil {
			s.respondError(w, http.StatusBadRequest, fmt.Sprintf("Invalid build number: %v", perr))
			return nil, false
		}
		build, err = s.Store.GetBuild(r.Context(), job, number)
	}

	if err != nil {
		s.Logger.Error("Failed to get build", "error", err, "job", job)
		s.respondError(w, http.StatusInternalServerError, "Failed to fetch build")
		return nil, false
	}
	if build == nil {
		s.respondError(w, http.StatusNotFound, "Unknown build")
		return nil, false
	}
	return build, true
}

func (s *Server) loadTree(w http.ResponseWriter, r *http.Request, job string, number int) (*history.Tree, bool) {
	tree, err := s.Store.LoadTree(r.Context(), job, number)
	if err != nil {
		var decodeErr *stability.DecodeError
		if errors.As(err, &decodeErr) {
			s.Metrics.DecodeErrors.WithLabelValues(job).Inc()
		}
		s.Logger.Error("Failed to load build records", "error", err, "job", job, "build", number)
		s.respondError(w, http.StatusInternalServerError, "Failed to load build records")
		return nil, false
	}
	if tree == nil {
		s.respondError(w, http.StatusNotFound, "Build has no records")
		return nil, false
	}
	return tree, true
}

func rootSummary(tree *history.Tree, build *history.BuildRecord) report.Summary {
	return report.Summarize(tree.Root).WithHidden(stability.NewHiddenTests(build.HiddenTests...))
}

func parseBuildNumber(raw string) (int, error) {
	if raw == "" {
		return 0, fmt.Errorf("missing")
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%q is not a positive integer", raw)
	}
	return n, nil
}

func isXMLContentType(value string) bool {
	mediaType, _, err := mime.ParseMediaType(value)
	if err != nil {
		return false
	}
	return mediaType == contentTypeXML || mediaType == contentTypeTextXML
}

// respondJSON sends a JSON response
func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.Logger.Error("Failed to encode JSON response", "error", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, statusCode int, message string) {
	s.respondJSON(w, statusCode, map[string]string{"error": message})
}

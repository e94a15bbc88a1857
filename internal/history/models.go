package history

import (
	"time"

	"teststability/internal/recorder"
	"teststability/internal/stability"
)

// BuildRecord is one recorded build of a job.
type BuildRecord struct {
	ID            int64     `json:"id"`
	Job           string    `json:"job"`
	BuildNumber   int       `json:"build_number"`
	IngestID      string    `json:"ingest_id"`
	Author        string    `json:"author,omitempty"`
	CommitMessage string    `json:"commit_message,omitempty"`
	HiddenTests   []string  `json:"hidden_tests"`
	RecordedAt    time.Time `json:"recorded_at"`

	// Tests is only populated when saving.
	Tests []TestRecord `json:"-"`
}

// TestRecord is the persisted history of one test node for one build.
type TestRecord struct {
	TestID     string `json:"test_id"`
	ParentID   string `json:"parent_id,omitempty"` // empty for the root and for suites
	Name       string `json:"name"`
	Publish    bool   `json:"publish"`
	StackTrace string `json:"stack_trace,omitempty"`

	stability.Record
}

// IsRoot reports whether the record belongs to the node above all suites.
func (r *TestRecord) IsRoot() bool {
	return r.TestID == ""
}

// JobStatus is the latest build of a job and its recent builds.
type JobStatus struct {
	Job          string        `json:"job"`
	LatestBuild  *BuildRecord  `json:"latest_build,omitempty"`
	RecentBuilds []BuildRecord `json:"recent_builds"`
}

// NewBuildRecord converts a recorded build into its persisted form. Test
// records are listed parents first so a tree can be rebuilt in one pass.
func NewBuildRecord(data *recorder.BuildData) *BuildRecord {
	rec := &BuildRecord{
		Job:           data.Build.Job,
		BuildNumber:   data.Build.Number,
		IngestID:      data.Build.IngestID,
		Author:        data.Build.Author,
		CommitMessage: data.Build.CommitMessage,
		HiddenTests:   data.Hidden.Names(),
		Tests:         make([]TestRecord, 0, len(data.Order)),
	}
	if rec.HiddenTests == nil {
		rec.HiddenTests = []string{}
	}

	for _, id := range data.Order {
		h := data.Histories[id]
		rec.Tests = append(rec.Tests, TestRecord{
			TestID:     id,
			ParentID:   data.ParentIDs[id],
			Name:       h.Name(),
			Publish:    h.ShouldPublish(),
			StackTrace: h.StackTrace(),
			Record:     stability.Encode(h),
		})
	}

	return rec
}

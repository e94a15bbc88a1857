package report

import (
	"strconv"

	"teststability/internal/recorder"
	"teststability/internal/stability"
	"teststability/pkg/templates"
)

// RegressedTest is one test case that passed in the previous build and
// failed in this one.
type RegressedTest struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Failures   int    `json:"failures"`
	Runs       int    `json:"runs"`
	Flakiness  int    `json:"flakiness"`
	Stability  int    `json:"stability"`
	StackTrace string `json:"stack_trace,omitempty"`
}

// RegressionReport collects the regressions of one build. It is rendered,
// never sent.
type RegressionReport struct {
	Job         string          `json:"job"`
	BuildNumber int             `json:"build_number"`
	Author      string          `json:"author"`
	Tests       []RegressedTest `json:"tests"`
}

// FromBuildData reports the regressions found while recording a build.
func FromBuildData(data *recorder.BuildData) *RegressionReport {
	r := newReport(data.Build.Job, data.Build.Number, data.Build.Author)
	for _, id := range data.Regressions {
		r.add(id, data.Histories[id])
	}
	return r
}

// FromTree finds the regressions of build number among stored nodes, in
// the given tree order. Only publish-eligible nodes whose latest result
// belongs to the build count.
func FromTree(job string, number int, author string, order []string, nodes map[string]*stability.History) *RegressionReport {
	r := newReport(job, number, author)
	for _, id := range order {
		h, ok := nodes[id]
		if !ok {
			continue
		}
		latest, ok := h.Latest()
		if !ok || latest.BuildNumber != number {
			continue
		}
		if h.ShouldPublish() && h.IsMostRecentRegressed() {
			r.add(id, h)
		}
	}
	return r
}

func newReport(job string, number int, author string) *RegressionReport {
	return &RegressionReport{
		Job:         job,
		BuildNumber: number,
		Author:      author,
		Tests:       []RegressedTest{},
	}
}

func (r *RegressionReport) add(id string, h *stability.History) {
	r.Tests = append(r.Tests, RegressedTest{
		ID:         id,
		Name:       h.Name(),
		Failures:   h.Failures(),
		Runs:       h.Size(),
		Flakiness:  h.Flakiness(),
		Stability:  h.Stability(),
		StackTrace: h.StackTrace(),
	})
}

// Count returns the number of regressed tests.
func (r *RegressionReport) Count() int {
	return len(r.Tests)
}

// Empty reports whether the build had no regressions.
func (r *RegressionReport) Empty() bool {
	return len(r.Tests) == 0
}

// Text renders the full report: a header line with the count and author,
// then one line per regressed test.
func (r *RegressionReport) Text() (string, error) {
	return templates.RenderWithGoTemplate(templates.RegressionReport, r)
}

// Notice renders the one-line form of the report.
func (r *RegressionReport) Notice() (string, error) {
	return templates.Render(templates.RegressionNotice, templates.TemplateData{
		"COUNT":  strconv.Itoa(r.Count()),
		"BUILD":  strconv.Itoa(r.BuildNumber),
		"JOB":    r.Job,
		"AUTHOR": r.Author,
	})
}

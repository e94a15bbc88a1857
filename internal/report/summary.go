package report

import (
	"fmt"

	"teststability/internal/stability"
)

// Status is the display state of one build in a timeline.
type Status string

const (
	StatusPass       Status = "Pass"
	StatusFail       Status = "Fail"
	StatusRegression Status = "Regression" // passed before, failed now
	StatusFixed      Status = "Fixed"      // failed before, passed now
)

const (
	noFlakyTests    = "No flaky tests"
	noUnstableTests = "No unstable tests"
)

// Point is one build in a timeline.
type Point struct {
	BuildNumber int    `json:"build_number"`
	Status      Status `json:"status"`
}

// Summary is the view of one history node shown to users.
type Summary struct {
	Name        string `json:"name"`
	Total       int    `json:"total"`
	Failed      int    `json:"failed"`
	Stability   int    `json:"stability"`
	Flakiness   int    `json:"flakiness"`
	Health      int    `json:"health"`
	Description string `json:"description"`

	FlakiestChild             string `json:"flakiest_child"`
	FlakiestChildFlakiness    int    `json:"flakiest_child_flakiness"`
	LeastStableChild          string `json:"least_stable_child"`
	LeastStableChildStability int    `json:"least_stable_child_stability"`

	StackTrace  string  `json:"stack_trace,omitempty"`
	HiddenTests string  `json:"hidden_tests,omitempty"`
	Timeline    []Point `json:"timeline"`
}

// Summarize computes the summary of h. A nil history summarizes as a test
// with no known failures.
func Summarize(h *stability.History) Summary {
	s := Summary{
		Stability:                 100,
		FlakiestChild:             noFlakyTests,
		FlakiestChildFlakiness:    -1,
		LeastStableChild:          noUnstableTests,
		LeastStableChildStability: -1,
		Timeline:                  []Point{},
	}

	if h != nil {
		results := h.Results()
		s.Name = h.Name()
		s.Total = len(results)
		s.Failed = h.Failures()
		s.Stability = h.Stability()
		s.Flakiness = h.Flakiness()
		s.StackTrace = h.StackTrace()
		s.Timeline = Timeline(results)

		if c := h.FlakiestChild(); c != nil {
			s.FlakiestChild = c.Name()
			s.FlakiestChildFlakiness = c.Flakiness()
		}
		if c := h.LeastStableChild(); c != nil {
			s.LeastStableChild = c.Name()
			s.LeastStableChildStability = c.Stability()
		}
	}

	s.Health = 100 - s.Flakiness
	s.Description = describe(s)
	return s
}

// WithHidden returns s annotated with the tests hidden from its build.
func (s Summary) WithHidden(hidden *stability.HiddenTests) Summary {
	if hidden.Len() > 0 {
		s.HiddenTests = hidden.String()
	}
	return s
}

func describe(s Summary) string {
	if s.Stability == 100 {
		return "No known failures. Flakiness 0%, Stability 100%"
	}
	return fmt.Sprintf("Failed %d times in the last %d runs. Flakiness: %d%%, Stability: %d%%",
		s.Failed, s.Total, s.Flakiness, s.Stability)
}

// Timeline labels each result relative to the one before it.
func Timeline(results []stability.Result) []Point {
	points := make([]Point, 0, len(results))
	for i, r := range results {
		status := StatusFail
		if r.Passed {
			status = StatusPass
		}
		if i > 0 {
			prev := results[i-1]
			switch {
			case prev.Passed && !r.Passed:
				status = StatusRegression
			case !prev.Passed && r.Passed:
				status = StatusFixed
			}
		}
		points = append(points, Point{BuildNumber: r.BuildNumber, Status: status})
	}
	return points
}

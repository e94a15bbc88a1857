package stability

import "weak"

// History is a fixed-capacity circular history of results for one test node.
//
// The zero value is an empty history with capacity 0. A History is not safe
// for concurrent use; callers serialize access per build.
type History struct {
	data []*Result
	head int // index of the oldest live entry
	tail int // index where the next entry is written
	size int // number of live entries

	name       string
	stackTrace string
	publish    bool

	children []*History
	childSet map[*History]struct{}
	parent   weak.Pointer[History]
}

// New creates an empty history holding at most capacity results.
// A negative capacity is treated as 0.
func New(capacity int) *History {
	if capacity < 0 {
		capacity = 0
	}
	return &History{
		data: make([]*Result, capacity),
	}
}

// Add appends r, evicting the oldest result when the history is full.
// Adding to a history with capacity 0 is a no-op.
func (h *History) Add(r Result) {
	n := len(h.data)
	if n == 0 {
		return
	}

	v := r
	h.data[h.tail%n] = &v
	h.tail = (h.tail + 1) % n

	if h.size >= n {
		h.head = (h.head + 1) % n
	} else {
		h.size++
	}
}

// AddResult appends a result built from buildNumber and passed.
func (h *History) AddResult(buildNumber int, passed bool) {
	h.Add(Result{BuildNumber: buildNumber, Passed: passed})
}

// AddAll appends results in order.
func (h *History) AddAll(results []Result) {
	for _, r := range results {
		h.Add(r)
	}
}

// Results returns the live entries, oldest first. The returned slice is a
// copy and may be modified by the caller.
func (h *History) Results() []Result {
	n := len(h.data)
	if n == 0 || h.size == 0 {
		return []Result{}
	}

	out := make([]Result, 0, h.size)
	for i := 0; i < h.size; i++ {
		if r := h.data[(h.head+i)%n]; r != nil {
			out = append(out, *r)
		}
	}
	return out
}

// Latest returns the most recent result.
func (h *History) Latest() (Result, bool) {
	results := h.Results()
	if len(results) == 0 {
		return Result{}, false
	}
	return results[len(results)-1], true
}

// Size returns the number of live entries.
func (h *History) Size() int {
	return h.size
}

// Capacity returns the maximum number of results the history retains.
func (h *History) Capacity() int {
	return len(h.data)
}

// IsEmpty reports whether the history can never hold a result.
func (h *History) IsEmpty() bool {
	return len(h.data) == 0
}

// Failures counts the failed results currently retained.
func (h *History) Failures() int {
	return countFailures(h.Results())
}

// Stability returns the percentage of retained results that passed.
// An empty history is 100% stable.
func (h *History) Stability() int {
	results := h.Results()
	if len(results) == 0 {
		return 100
	}

	failed := countFailures(results)
	return 100 * (len(results) - failed) / len(results)
}

// StatusChanges counts adjacent result pairs whose status differs.
func (h *History) StatusChanges() int {
	return countStatusChanges(h.Results())
}

// Flakiness returns the percentage of adjacent result pairs whose status
// differs. Histories with fewer than two results have 0% flakiness.
func (h *History) Flakiness() int {
	results := h.Results()
	if len(results) < 2 {
		return 0
	}

	return 100 * countStatusChanges(results) / (len(results) - 1)
}

// IsMostRecentRegressed reports whether the previous result passed and the
// latest one failed.
func (h *History) IsMostRecentRegressed() bool {
	results := h.Results()
	if len(results) < 2 {
		return false
	}
	prev, last := results[len(results)-2], results[len(results)-1]
	return prev.Passed && !last.Passed
}

// IsAllPassed reports whether every retained result passed. It is true for
// an empty history.
func (h *History) IsAllPassed() bool {
	for _, r := range h.Results() {
		if !r.Passed {
			return false
		}
	}
	return true
}

// Name returns the display name of the test node.
func (h *History) Name() string {
	return h.name
}

// SetName sets the display name of the test node.
func (h *History) SetName(name string) {
	h.name = name
}

// StackTrace returns the last recorded failure trace.
func (h *History) StackTrace() string {
	return h.stackTrace
}

// SetStackTrace records the failure trace associated with this history.
func (h *History) SetStackTrace(trace string) {
	h.stackTrace = trace
}

// ShouldPublish reports whether this node is a test case eligible for
// regression reporting. Suite and class nodes are not.
func (h *History) ShouldPublish() bool {
	return h.publish
}

// SetShouldPublish marks the node as eligible for regression reporting.
func (h *History) SetShouldPublish(publish bool) {
	h.publish = publish
}

// latestIndex returns the physical index of the most recent slot.
func (h *History) latestIndex() int {
	n := len(h.data)
	return ((h.tail-1)%n + n) % n
}

func countFailures(results []Result) int {
	failed := 0
	for _, r := range results {
		if !r.Passed {
			failed++
		}
	}
	return failed
}

func countStatusChanges(results []Result) int {
	changes := 0
	for i := 1; i < len(results); i++ {
		if results[i].Passed != results[i-1].Passed {
			changes++
		}
	}
	return changes
}

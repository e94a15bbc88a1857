package stability

import "fmt"

// Result is the outcome of one build for one test node.
type Result struct {
	BuildNumber int
	Passed      bool
}

// Status returns "passed" or "failed".
func (r Result) Status() string {
	if r.Passed {
		return "passed"
	}
	return "failed"
}

func (r Result) String() string {
	return fmt.Sprintf("#%d %s", r.BuildNumber, r.Status())
}

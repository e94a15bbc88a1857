package recorder

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"teststability/internal/stability"

	"github.com/google/uuid"
	"github.com/jstemmer/go-junit-report/v2/junit"
)

const (
	// DefaultHistoryLength is the number of builds retained per test node.
	DefaultHistoryLength = 30

	// RootName is the display name of the node above all suites.
	RootName = "(root)"

	// defaultSuiteName is used for testsuites that carry no name. An empty
	// name would give the suite the root's ID.
	defaultSuiteName = "(unnamed)"

	// defaultClassName is used for test cases that carry no classname.
	defaultClassName = "(default)"
)

// Options configures how a build is turned into histories.
type Options struct {
	HistoryLength int
	Filters       []string
	Mode          stability.ReconcileMode
}

// Build identifies the build being recorded.
type Build struct {
	Job           string
	Number        int
	Author        string
	CommitMessage string
	IngestID      string
}

// PreviousRecords maps a node ID to the history stored with the previous
// build of the same job.
type PreviousRecords map[string]*stability.History

// BuildData is the tree of histories produced for one build.
type BuildData struct {
	Build      Build
	Root       *stability.History
	Histories  map[string]*stability.History
	ParentIDs  map[string]string
	Order      []string // node IDs, parents before children
	Hidden     *stability.HiddenTests
	Reconciled bool

	// Regressions lists the IDs of test cases that passed in the previous
	// build and failed in this one, in tree order.
	Regressions []string
}

// Recorder builds per-node histories for a build.
type Recorder struct {
	opts   Options
	logger *slog.Logger
}

// New creates a recorder. A zero HistoryLength uses DefaultHistoryLength.
func New(opts Options, logger *slog.Logger) *Recorder {
	if opts.HistoryLength <= 0 {
		opts.HistoryLength = DefaultHistoryLength
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{opts: opts, logger: logger}
}

// Record assembles the history tree for build from the parsed report.
// Each node is seeded from prev, children are built before their parent
// links them, and finally the root is reconciled against the tests hidden
// by the configured filters.
func (r *Recorder) Record(ctx context.Context, build Build, suites *junit.Testsuites, prev PreviousRecords) (*BuildData, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("recording cancelled before start: %w", err)
	}
	if suites == nil {
		return nil, fmt.Errorf("no test report for build %d", build.Number)
	}
	if build.IngestID == "" {
		build.IngestID = uuid.NewString()
	}

	data := &BuildData{
		Build:     build,
		Histories: make(map[string]*stability.History),
		ParentIDs: make(map[string]string),
		Hidden:    stability.NewHiddenTests(),
	}

	tree := buildTree(suites)
	data.Root = r.buildHistory(tree, "", build, prev, data)
	data.Reconciled = data.Root.ReconcileFilteredChildrenMode(data.Hidden, r.opts.Mode)

	for _, id := range data.Order {
		h := data.Histories[id]
		latest, ok := h.Latest()
		if !ok || latest.BuildNumber != build.Number {
			continue
		}
		if h.ShouldPublish() && h.IsMostRecentRegressed() {
			data.Regressions = append(data.Regressions, id)
		}
	}

	r.logger.Info("build recorded",
		"job", build.Job,
		"build", build.Number,
		"ingest_id", build.IngestID,
		"nodes", len(data.Histories),
		"hidden", data.Hidden.Len(),
		"reconciled", data.Reconciled,
		"regressions", len(data.Regressions))

	return data, nil
}

// buildHistory creates the history for n and, recursively, its children.
func (r *Recorder) buildHistory(n *node, parentID string, build Build, prev PreviousRecords, data *BuildData) *stability.History {
	h := r.seed(n.id, prev)
	data.Histories[n.id] = h
	data.Order = append(data.Order, n.id)
	if n.id != "" {
		data.ParentIDs[n.id] = parentID
	}

	// A node where every test was skipped keeps its history unchanged.
	if n.ran {
		h.AddResult(build.Number, !n.failed)
	}

	for _, child := range n.children {
		if r.isFiltered(child.name) {
			data.Hidden.Add(child.name)
			r.logger.Debug("test hidden by filter", "job", build.Job, "test", child.id)
			continue
		}
		h.AddChild(r.buildHistory(child, n.id, build, prev, data))
	}

	h.SetName(n.name)
	if n.kind == caseNode {
		h.SetShouldPublish(true)
		if n.failed {
			h.SetStackTrace(n.trace)
		}
	}

	return h
}

// seed returns a new history holding the previous build's most recent
// results, leaving room for the current one.
func (r *Recorder) seed(id string, prev PreviousRecords) *stability.History {
	h := stability.New(r.opts.HistoryLength)

	previous, ok := prev[id]
	if !ok || previous == nil {
		return h
	}

	results := previous.Results()
	if keep := r.opts.HistoryLength - 1; len(results) > keep {
		results = results[len(results)-keep:]
	}
	h.AddAll(results)
	h.SetStackTrace(previous.StackTrace())

	return h
}

func (r *Recorder) isFiltered(name string) bool {
	for _, f := range r.opts.Filters {
		if f != "" && f == name {
			return true
		}
	}
	return false
}

type nodeKind int

const (
	rootNode nodeKind = iota
	suiteNode
	classNode
	caseNode
)

// node is one level of the suite hierarchy with its aggregated outcome.
type node struct {
	id       string
	name     string
	kind     nodeKind
	ran      bool
	failed   bool
	trace    string
	children []*node
	index    map[string]*node
}

func (n *node) child(id, name string, kind nodeKind) *node {
	if n.index == nil {
		n.index = make(map[string]*node)
	}
	if c, ok := n.index[id]; ok {
		return c
	}
	c := &node{id: id, name: name, kind: kind}
	n.index[id] = c
	n.children = append(n.children, c)
	return c
}

// buildTree converts the JUnit report into root -> suite -> class -> case.
func buildTree(suites *junit.Testsuites) *node {
	root := &node{name: RootName, kind: rootNode}

	for _, suite := range suites.Suites {
		suiteName := suite.Name
		if suiteName == "" {
			suiteName = defaultSuiteName
		}
		s := root.child(NodeID(suiteName), suiteName, suiteNode)

		for _, tc := range suite.Testcases {
			className := tc.Classname
			if className == "" {
				className = defaultClassName
			}
			c := s.child(NodeID(suiteName, className), className, classNode)
			leaf := c.child(NodeID(suiteName, className, tc.Name), tc.Name, caseNode)

			if tc.Skipped != nil {
				continue
			}
			leaf.ran = true
			if failure := caseFailure(tc); failure != nil {
				leaf.failed = true
				leaf.trace = failureTrace(failure)
			}
		}
	}

	aggregate(root)
	return root
}

// aggregate propagates outcomes from cases up to their containers.
func aggregate(n *node) {
	if n.kind == caseNode {
		return
	}
	for _, c := range n.children {
		aggregate(c)
		n.ran = n.ran || c.ran
		n.failed = n.failed || c.failed
	}
}

func caseFailure(tc junit.Testcase) *junit.Result {
	if tc.Failure != nil {
		return tc.Failure
	}
	return tc.Error
}

func failureTrace(r *junit.Result) string {
	data := strings.TrimSpace(r.Data)
	switch {
	case data == "":
		return r.Message
	case r.Message == "" || strings.Contains(data, r.Message):
		return data
	default:
		return r.Message + "\n" + data
	}
}

// NodeID joins hierarchy names into the ID used to match a node across
// builds. The root's ID is empty.
func NodeID(parts ...string) string {
	return strings.Join(parts, "/")
}

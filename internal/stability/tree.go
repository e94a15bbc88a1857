package stability

import (
	"fmt"
	"strings"
	"weak"
)

// ReconcileMode selects how ReconcileFilteredChildrenMode decides that a
// parent's latest failure came only from filtered children.
type ReconcileMode int

const (
	// ReconcileLegacy marks the latest result as passed whenever the node has
	// children, without looking at the children's outcomes. Records written
	// by earlier builds were produced with this rule.
	ReconcileLegacy ReconcileMode = iota

	// ReconcileStrict marks the latest result as passed only when every child
	// that is not hidden passed in its latest result.
	ReconcileStrict
)

func (m ReconcileMode) String() string {
	switch m {
	case ReconcileLegacy:
		return "legacy"
	case ReconcileStrict:
		return "strict"
	default:
		return fmt.Sprintf("ReconcileMode(%d)", int(m))
	}
}

// ParseReconcileMode parses "legacy" or "strict". An empty string is legacy.
func ParseReconcileMode(s string) (ReconcileMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "legacy":
		return ReconcileLegacy, nil
	case "strict":
		return ReconcileStrict, nil
	default:
		return ReconcileLegacy, fmt.Errorf("unknown reconcile mode %q (expected legacy or strict)", s)
	}
}

// HiddenTests is the set of test names filtered out of one build. It keeps
// insertion order so it renders the same way every time.
type HiddenTests struct {
	names []string
	index map[string]struct{}
}

// NewHiddenTests returns a set containing names.
func NewHiddenTests(names ...string) *HiddenTests {
	ht := &HiddenTests{}
	for _, name := range names {
		ht.Add(name)
	}
	return ht
}

// Add inserts name if it is not already present.
func (ht *HiddenTests) Add(name string) {
	if ht.index == nil {
		ht.index = make(map[string]struct{})
	}
	if _, ok := ht.index[name]; ok {
		return
	}
	ht.index[name] = struct{}{}
	ht.names = append(ht.names, name)
}

// Contains reports whether name is hidden. A nil set contains nothing.
func (ht *HiddenTests) Contains(name string) bool {
	if ht == nil {
		return false
	}
	_, ok := ht.index[name]
	return ok
}

// Names returns the hidden names in insertion order.
func (ht *HiddenTests) Names() []string {
	if ht == nil {
		return nil
	}
	out := make([]string, len(ht.names))
	copy(out, ht.names)
	return out
}

// Len returns the number of hidden names.
func (ht *HiddenTests) Len() int {
	if ht == nil {
		return 0
	}
	return len(ht.names)
}

// String renders the set as "[a, b]".
func (ht *HiddenTests) String() string {
	if ht == nil {
		return "[]"
	}
	return "[" + strings.Join(ht.names, ", ") + "]"
}

// AddChild links child under h. Adding the same child twice is a no-op.
// The child only keeps a weak reference to h.
func (h *History) AddChild(child *History) {
	if h.childSet == nil {
		h.childSet = make(map[*History]struct{})
	}
	if _, ok := h.childSet[child]; ok {
		return
	}
	h.childSet[child] = struct{}{}
	h.children = append(h.children, child)
	child.parent = weak.Make(h)
}

// Children returns the direct children in the order they were added.
func (h *History) Children() []*History {
	out := make([]*History, len(h.children))
	copy(out, h.children)
	return out
}

// Parent returns the node this history was added to, or nil.
func (h *History) Parent() *History {
	return h.parent.Value()
}

// Root follows parent links to the top of the tree.
func (h *History) Root() *History {
	node := h
	for {
		p := node.Parent()
		if p == nil {
			return node
		}
		node = p
	}
}

// ReconcileFilteredChildren applies the legacy reconcile rule to h: when h
// has children, its latest result is rewritten as passed. It reports whether
// the latest slot was rewritten.
//
// It must run once per build, on the root, after the whole tree for the
// build has been assembled. Only h itself is modified.
func (h *History) ReconcileFilteredChildren(hidden *HiddenTests) bool {
	return h.ReconcileFilteredChildrenMode(hidden, ReconcileLegacy)
}

// ReconcileFilteredChildrenMode is ReconcileFilteredChildren with an explicit
// rule. In strict mode children named in hidden are ignored and the latest
// result becomes passed only if every remaining child passed.
func (h *History) ReconcileFilteredChildrenMode(hidden *HiddenTests, mode ReconcileMode) bool {
	if len(h.children) == 0 || len(h.data) == 0 {
		return false
	}

	idx := h.latestIndex()
	latest := h.data[idx]
	if latest == nil {
		return false
	}

	if mode == ReconcileStrict {
		for _, child := range h.children {
			if hidden.Contains(child.name) {
				continue
			}
			r, ok := child.Latest()
			if ok && !r.Passed {
				return false
			}
		}
	}

	h.data[idx] = &Result{BuildNumber: latest.BuildNumber, Passed: true}
	return true
}

// FlakiestChild returns the direct child with the highest flakiness, or nil
// when h has no children. On ties the earliest added child wins.
func (h *History) FlakiestChild() *History {
	var flakiest *History
	best := 0
	for _, child := range h.children {
		f := child.Flakiness()
		if flakiest == nil || f > best {
			flakiest, best = child, f
		}
	}
	return flakiest
}

// LeastStableChild returns the direct child with the lowest stability, or
// nil when h has no children. On ties the earliest added child wins.
func (h *History) LeastStableChild() *History {
	var least *History
	worst := 0
	for _, child := range h.children {
		s := child.Stability()
		if least == nil || s < worst {
			least, worst = child, s
		}
	}
	return least
}

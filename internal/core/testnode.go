package core

import "fmt"

// NodeKind distinguishes the two TestNode variants.
type NodeKind string

const (
	NodeNamespace NodeKind = "namespace"
	NodeTest      NodeKind = "test"
)

// Valid reports whether k is a known kind.
func (k NodeKind) Valid() bool {
	switch k {
	case NodeNamespace, NodeTest:
		return true
	}
	return false
}

// TestStatus is the outcome of a test. The empty status means the test was
// discovered but not run.
type TestStatus string

const (
	StatusUnknown TestStatus = ""
	StatusPassed  TestStatus = "passed"
	StatusFailed  TestStatus = "failed"
	StatusSkipped TestStatus = "skipped"
	StatusErrored TestStatus = "errored"
)

// Valid reports whether s is a known status.
func (s TestStatus) Valid() bool {
	switch s {
	case StatusUnknown, StatusPassed, StatusFailed, StatusSkipped, StatusErrored:
		return true
	}
	return false
}

// Position is a zero-based line/character pair.
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

// Range is a half-open span in a file.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// TestNode is a node of a normalized adapter result tree.
// A namespace groups children; a test is always a leaf.
type TestNode struct {
	Kind     NodeKind    `json:"kind"`
	ID       string      `json:"id,omitempty"`
	Name     string      `json:"name"`
	Path     string      `json:"path,omitempty"`
	Range    *Range      `json:"range,omitempty"`
	Children []*TestNode `json:"children,omitempty"`
	Status   TestStatus  `json:"status,omitempty"`
	Message  string      `json:"message,omitempty"`
	Detail   string      `json:"detail,omitempty"`
}

// TestID returns the identifier passed back to run-tests.
func (n *TestNode) TestID() string {
	if n.ID != "" {
		return n.ID
	}
	return n.Name
}

// IsTest reports whether the node is a test leaf.
func (n *TestNode) IsTest() bool {
	return n.Kind == NodeTest
}

// Walk visits n and its descendants depth first. The parent chain is
// passed to fn, outermost first. Returning false skips the children.
func (n *TestNode) Walk(fn func(node *TestNode, parents []*TestNode) bool) {
	n.walk(nil, fn)
}

func (n *TestNode) walk(parents []*TestNode, fn func(*TestNode, []*TestNode) bool) {
	if n == nil {
		return
	}
	if !fn(n, parents) {
		return
	}
	next := append(parents[:len(parents):len(parents)], n)
	for _, child := range n.Children {
		child.walk(next, fn)
	}
}

// Tests returns the test leaves in document order.
func (n *TestNode) Tests() []*TestNode {
	var out []*TestNode
	n.Walk(func(node *TestNode, _ []*TestNode) bool {
		if node.IsTest() {
			out = append(out, node)
		}
		return true
	})
	return out
}

// Validate checks the structural invariants of the tree.
func (n *TestNode) Validate() error {
	var err error
	n.Walk(func(node *TestNode, _ []*TestNode) bool {
		if err != nil {
			return false
		}
		switch {
		case !node.Kind.Valid():
			err = fmt.Errorf("node %q: unknown kind %q", node.Name, node.Kind)
		case node.Name == "":
			err = fmt.Errorf("node of kind %s has no name", node.Kind)
		case !node.Status.Valid():
			err = fmt.Errorf("node %q: unknown status %q", node.Name, node.Status)
		case node.IsTest() && len(node.Children) > 0:
			err = fmt.Errorf("test %q has children", node.Name)
		case node.Kind == NodeNamespace && node.Status != StatusUnknown:
			err = fmt.Errorf("namespace %q carries a status", node.Name)
		}
		for _, child := range node.Children {
			if err == nil && child == nil {
				err = fmt.Errorf("namespace %q has a null child", node.Name)
			}
		}
		return err == nil
	})
	return err
}

// InheritPaths fills empty child paths from the nearest ancestor.
func (n *TestNode) InheritPaths() {
	n.Walk(func(node *TestNode, parents []*TestNode) bool {
		if node.Path == "" && len(parents) > 0 {
			node.Path = parents[len(parents)-1].Path
		}
		return true
	})
}

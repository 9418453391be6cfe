package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTree() *TestNode {
	return &TestNode{
		Kind: NodeNamespace,
		Name: "lib",
		Path: "/w/src/lib.rs",
		Range: &Range{
			Start: Position{Line: 0},
			End:   Position{Line: 50, Character: 1},
		},
		Children: []*TestNode{
			{
				Kind:    NodeTest,
				ID:      "tests::adds",
				Name:    "adds",
				Status:  StatusFailed,
				Message: "assertion failed: left == right",
				Range: &Range{
					Start: Position{Line: 42, Character: 4},
					End:   Position{Line: 42, Character: 40},
				},
			},
			{
				Kind: NodeNamespace,
				Name: "nested",
				Children: []*TestNode{
					{Kind: NodeTest, Name: "ok", Status: StatusPassed},
					{Kind: NodeTest, Name: "broken", Status: StatusErrored, Detail: "stack"},
				},
			},
		},
	}
}

func TestTestNode_TestsInDocumentOrder(t *testing.T) {
	tests := sampleTree().Tests()
	require.Len(t, tests, 3)
	assert.Equal(t, "tests::adds", tests[0].TestID())
	assert.Equal(t, "ok", tests[1].TestID())
	assert.Equal(t, "broken", tests[2].TestID())
}

func TestTestNode_WalkParents(t *testing.T) {
	var depth []int
	sampleTree().Walk(func(_ *TestNode, parents []*TestNode) bool {
		depth = append(depth, len(parents))
		return true
	})
	assert.Equal(t, []int{0, 1, 1, 2, 2}, depth)
}

func TestTestNode_WalkSkipsChildren(t *testing.T) {
	count := 0
	sampleTree().Walk(func(node *TestNode, _ []*TestNode) bool {
		count++
		return node.Name != "nested"
	})
	assert.Equal(t, 3, count)
}

func TestTestNode_Validate(t *testing.T) {
	require.NoError(t, sampleTree().Validate())

	tests := []struct {
		name string
		node *TestNode
	}{
		{"unknown kind", &TestNode{Kind: "suite", Name: "x"}},
		{"missing name", &TestNode{Kind: NodeTest}},
		{"unknown status", &TestNode{Kind: NodeTest, Name: "x", Status: "flaky"}},
		{"test with children", &TestNode{Kind: NodeTest, Name: "x", Children: []*TestNode{{Kind: NodeTest, Name: "y"}}}},
		{"namespace with status", &TestNode{Kind: NodeNamespace, Name: "x", Status: StatusPassed}},
		{"null child", &TestNode{Kind: NodeNamespace, Name: "x", Children: []*TestNode{nil}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.node.Validate())
		})
	}
}

func TestTestNode_InheritPaths(t *testing.T) {
	root := sampleTree()
	root.Children[1].Children[0].Path = "/w/src/other.rs"
	root.InheritPaths()

	assert.Equal(t, "/w/src/lib.rs", root.Children[0].Path)
	assert.Equal(t, "/w/src/lib.rs", root.Children[1].Path)
	assert.Equal(t, "/w/src/other.rs", root.Children[1].Children[0].Path)
	assert.Equal(t, "/w/src/lib.rs", root.Children[1].Children[1].Path)
}

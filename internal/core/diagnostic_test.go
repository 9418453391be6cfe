package core

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiagnosticsFromTree(t *testing.T) {
	root := sampleTree()
	root.InheritPaths()

	diags := DiagnosticsFromTree("cargo", root)
	require.Len(t, diags, 2)

	first := diags[0]
	assert.Equal(t, "/w/src/lib.rs", first.Path)
	assert.Equal(t, SeverityError, first.Severity)
	assert.Equal(t, "assertion failed: left == right", first.Message)
	assert.Equal(t, "cargo", first.Source)
	assert.Equal(t, "tests::adds", first.Code)
	assert.Equal(t, 42, first.Range.Start.Line)
	assert.Equal(t, 4, first.Range.Start.Character)

	second := diags[1]
	assert.Equal(t, "errored: test failed: broken\n\nstack", second.Message)
	// No range on the test or its namespace: nearest ranged ancestor wins.
	assert.Equal(t, 0, second.Range.Start.Line)
	assert.Equal(t, 50, second.Range.End.Line)
}

func TestDiagnosticsFromTree_NoFailures(t *testing.T) {
	root := &TestNode{Kind: NodeNamespace, Name: "ns", Children: []*TestNode{
		{Kind: NodeTest, Name: "a", Status: StatusPassed},
		{Kind: NodeTest, Name: "b", Status: StatusSkipped},
		{Kind: NodeTest, Name: "c"},
	}}
	assert.Empty(t, DiagnosticsFromTree("x", root))
	assert.Nil(t, DiagnosticsFromTree("x", nil))
}

func TestDiagnosticsFromTree_Deterministic(t *testing.T) {
	a := DiagnosticsFromTree("cargo", sampleTree())
	b := DiagnosticsFromTree("cargo", sampleTree())
	assert.Equal(t, a, b)
}

func TestDiagnosticsFromTree_RangeWithoutAncestor(t *testing.T) {
	root := &TestNode{Kind: NodeTest, Name: "solo", Path: "/w/a.ts", Status: StatusFailed}
	diags := DiagnosticsFromTree("vitest", root)
	require.Len(t, diags, 1)
	assert.Equal(t, Range{}, diags[0].Range)
	assert.Equal(t, "test failed: solo", diags[0].Message)
}

func TestDiagnostic_MarshalJSON(t *testing.T) {
	data, err := json.Marshal(Diagnostic{Path: "/w/a.go", Severity: SeverityWarning, Message: "m", Source: "go"})
	require.NoError(t, err)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, float64(2), out["severity"])
	assert.Equal(t, "/w/a.go", out["path"])
	assert.NotContains(t, out, "code")
}

func TestParseSeverity(t *testing.T) {
	assert.Equal(t, SeverityError, ParseSeverity("error"))
	assert.Equal(t, SeverityWarning, ParseSeverity("warn"))
	assert.Equal(t, SeverityInformation, ParseSeverity("info"))
	assert.Equal(t, "warning", SeverityWarning.String())
}

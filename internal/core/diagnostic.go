package core

import (
	"encoding/json"
	"fmt"
)

// Severity of a diagnostic. Values match the LSP DiagnosticSeverity codes.
type Severity int

const (
	SeverityError       Severity = 1
	SeverityWarning     Severity = 2
	SeverityInformation Severity = 3
)

func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	case SeverityInformation:
		return "information"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// ParseSeverity converts a textual severity. Unknown input maps to
// information.
func ParseSeverity(s string) Severity {
	switch s {
	case "error":
		return SeverityError
	case "warning", "warn":
		return SeverityWarning
	default:
		return SeverityInformation
	}
}

// Diagnostic is an editor-facing annotation derived from a failed test.
type Diagnostic struct {
	Path     string   `json:"-"`
	Range    Range    `json:"range"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	Source   string   `json:"source"`
	Code     string   `json:"code,omitempty"`
}

// MarshalJSON keeps the path out of the LSP payload but includes it when a
// diagnostic is rendered outside of a publishDiagnostics envelope.
func (d Diagnostic) MarshalJSON() ([]byte, error) {
	type alias Diagnostic
	return json.Marshal(struct {
		alias
		Path string `json:"path,omitempty"`
	}{alias(d), d.Path})
}

// DiagnosticsFromTree derives diagnostics from every failed or errored test
// in root. The output order follows document order of the tree.
func DiagnosticsFromTree(adapter string, root *TestNode) []Diagnostic {
	if root == nil {
		return nil
	}
	var out []Diagnostic
	root.Walk(func(node *TestNode, parents []*TestNode) bool {
		if !node.IsTest() {
			return true
		}
		if node.Status != StatusFailed && node.Status != StatusErrored {
			return true
		}
		out = append(out, Diagnostic{
			Path:     node.Path,
			Range:    rangeFor(node, parents),
			Severity: SeverityError,
			Message:  diagnosticMessage(node),
			Source:   adapter,
			Code:     node.TestID(),
		})
		return true
	})
	return out
}

func rangeFor(node *TestNode, parents []*TestNode) Range {
	if node.Range != nil {
		return *node.Range
	}
	for i := len(parents) - 1; i >= 0; i-- {
		if parents[i].Range != nil && parents[i].Path == node.Path {
			return *parents[i].Range
		}
	}
	return Range{}
}

func diagnosticMessage(node *TestNode) string {
	msg := node.Message
	if msg == "" {
		msg = "test failed: " + node.Name
	}
	if node.Status == StatusErrored {
		msg = "errored: " + msg
	}
	if node.Detail != "" {
		msg += "\n\n" + node.Detail
	}
	return msg
}

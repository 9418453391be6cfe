package core

import "context"

// Publisher receives the merged diagnostics of a file every time they
// change. An empty slice clears the file. Implementations must be safe for
// concurrent use across files; calls for the same file are serialized.
type Publisher interface {
	PublishDiagnostics(file string, diags []Diagnostic)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(file string, diags []Diagnostic)

// PublishDiagnostics implements Publisher.
func (f PublisherFunc) PublishDiagnostics(file string, diags []Diagnostic) {
	f(file, diags)
}

// AdapterMessage is a free-form notice an adapter attached to its payload.
type AdapterMessage struct {
	Severity Severity
	Message  string
}

// Result is a decoded adapter response.
type Result struct {
	Root     *TestNode
	Messages []AdapterMessage
}

// TestRunner is the adapter-facing port used by the dispatcher.
type TestRunner interface {
	// Discover lists the tests of paths without running them.
	Discover(ctx context.Context, def AdapterDefinition, paths []string) (*Result, error)
	// Run executes testIDs found in paths and returns the results.
	Run(ctx context.Context, def AdapterDefinition, paths, testIDs []string) (*Result, error)
}

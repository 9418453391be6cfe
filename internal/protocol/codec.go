// Package protocol implements the adapter command line contract and the
// JSON payload adapters print on stdout.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/hugo-lorenzo-mato/assert-lsp/internal/core"
)

// SupportedVersion is the newest payload version this codec understands.
// Payloads without a version are treated as version 1.
const SupportedVersion = 1

// Flag names of the adapter command line.
const (
	FlagFilePaths = "--file-paths"
	FlagTestIDs   = "--test-ids"
	ArgSeparator  = "--"
)

// EncodeArgs builds the argument vector for an adapter invocation.
// testIDs are ignored for discover.
func EncodeArgs(kind core.CommandKind, paths, testIDs, extra []string) []string {
	args := make([]string, 0, 3+len(paths)+len(testIDs)+len(extra))
	args = append(args, string(kind), FlagFilePaths)
	args = append(args, paths...)
	if kind == core.CommandRun {
		args = append(args, FlagTestIDs)
		args = append(args, testIDs...)
	}
	if len(extra) > 0 {
		args = append(args, ArgSeparator)
		args = append(args, extra...)
	}
	return args
}

// ParseArgs is the inverse of EncodeArgs. It is used by test adapters and
// by the discover command's dry-run output.
func ParseArgs(args []string) (kind core.CommandKind, paths, testIDs, extra []string, err error) {
	if len(args) == 0 {
		return "", nil, nil, nil, fmt.Errorf("missing command")
	}
	kind = core.CommandKind(args[0])
	if kind != core.CommandDiscover && kind != core.CommandRun {
		return "", nil, nil, nil, fmt.Errorf("unknown command %q", args[0])
	}
	var target *[]string
	for i := 1; i < len(args); i++ {
		switch args[i] {
		case FlagFilePaths:
			target = &paths
		case FlagTestIDs:
			target = &testIDs
		case ArgSeparator:
			extra = append([]string{}, args[i+1:]...)
			return kind, paths, testIDs, extra, nil
		default:
			if target == nil {
				return "", nil, nil, nil, fmt.Errorf("unexpected argument %q", args[i])
			}
			*target = append(*target, args[i])
		}
	}
	return kind, paths, testIDs, extra, nil
}

type wireMessage struct {
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

type envelope struct {
	ProtocolVersion *int          `json:"protocol_version"`
	Messages        []wireMessage `json:"messages"`
}

// Decode parses adapter stdout into a validated test tree.
func Decode(raw []byte) (*core.TestNode, error) {
	res, err := DecodeResult(raw)
	if err != nil {
		return nil, err
	}
	return res.Root, nil
}

// DecodeResult parses adapter stdout into a validated test tree plus the
// messages the adapter attached to it.
func DecodeResult(raw []byte) (*core.Result, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, core.ErrEmptyOutput()
	}

	var env envelope
	if err := decodeSingle(trimmed, &env); err != nil {
		return nil, core.ErrMalformedPayload(err.Error(), raw).WithCause(err)
	}
	if env.ProtocolVersion != nil && *env.ProtocolVersion > SupportedVersion {
		return nil, core.ErrUnsupportedVersion(*env.ProtocolVersion, SupportedVersion)
	}

	var root core.TestNode
	if err := decodeSingle(trimmed, &root); err != nil {
		return nil, core.ErrMalformedPayload(err.Error(), raw).WithCause(err)
	}
	if err := root.Validate(); err != nil {
		return nil, core.ErrMalformedPayload(err.Error(), raw).WithCause(err)
	}
	root.InheritPaths()

	res := &core.Result{Root: &root}
	for _, m := range env.Messages {
		if m.Message == "" {
			continue
		}
		res.Messages = append(res.Messages, core.AdapterMessage{
			Severity: core.ParseSeverity(m.Severity),
			Message:  m.Message,
		})
	}
	return res, nil
}

// Encode renders a tree in wire form. Adapters written in Go and the test
// suites use it; the server itself only decodes.
func Encode(root *core.TestNode, messages ...core.AdapterMessage) ([]byte, error) {
	type wire struct {
		ProtocolVersion int `json:"protocol_version"`
		*core.TestNode
		Messages []wireMessage `json:"messages,omitempty"`
	}
	out := wire{ProtocolVersion: SupportedVersion, TestNode: root}
	for _, m := range messages {
		out.Messages = append(out.Messages, wireMessage{Severity: m.Severity.String(), Message: m.Message})
	}
	return json.Marshal(out)
}

// decodeSingle decodes exactly one JSON value from data.
func decodeSingle(data []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return fmt.Errorf("trailing data after JSON document")
	}
	return nil
}

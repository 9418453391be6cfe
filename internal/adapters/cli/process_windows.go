//go:build windows

package cli

import (
	"errors"
	"os"
	"os/exec"
)

// configureProcAttr is a no-op on Windows (Setpgid not supported).
func configureProcAttr(_ *exec.Cmd) {}

// signalGroup falls back to Process.Kill(); Windows has no SIGTERM.
// Descendants are handled by the caller through the process table.
func signalGroup(p *os.Process, _ bool) error {
	if p == nil {
		return nil
	}
	if err := p.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

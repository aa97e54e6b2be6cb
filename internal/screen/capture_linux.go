//go:build linux

package screen

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
)

type linuxBackend struct{}

func (linuxBackend) captureTo(ctx context.Context, path string) error {
	// Try gnome-screenshot first, fall back to scrot
	var cmd *exec.Cmd
	if _, err := exec.LookPath("gnome-screenshot"); err == nil {
		cmd = exec.CommandContext(ctx, "gnome-screenshot", "-f", path)
	} else if _, err := exec.LookPath("scrot"); err == nil {
		cmd = exec.CommandContext(ctx, "scrot", "-o", path)
	} else {
		return errors.New("no screenshot tool found (install gnome-screenshot or scrot)")
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w: %s", cmd.Path, err, stderr.String())
	}
	return nil
}

// New creates a platform-specific screen capturer
func New() *Capturer {
	return newCapturer(linuxBackend{})
}

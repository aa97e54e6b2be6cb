//go:build windows

package screen

import (
	"context"
	"errors"
)

type windowsBackend struct{}

// TODO: capture through GDI BitBlt once a Windows runner is available to test it.
func (windowsBackend) captureTo(context.Context, string) error {
	return errors.New("windows screen capture is not supported")
}

// New creates a platform-specific screen capturer
func New() *Capturer {
	return newCapturer(windowsBackend{})
}

// Package screen captures the local desktop with the platform's screenshot
// tool, for checks against native desktop windows.
package screen

import (
	"context"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"os"
	"path/filepath"

	apperrors "github.com/GriffinCanCode/pagestitch/internal/errors"
	"github.com/GriffinCanCode/pagestitch/internal/trace"
)

// backend writes one screenshot of the main display to path.
type backend interface {
	captureTo(ctx context.Context, path string) error
}

// Capturer grabs the main display. It implements raster.ImageProvider.
type Capturer struct {
	backend
	tempDir string
}

func newCapturer(b backend) *Capturer {
	tmpDir, err := os.MkdirTemp("", "pagestitch-screen-*")
	if err != nil {
		slog.Error("failed to create temp dir", "error", err)
		tmpDir = os.TempDir()
	}
	return &Capturer{backend: b, tempDir: tmpDir}
}

// Image captures and decodes the main display.
func (c *Capturer) Image(ctx context.Context) (image.Image, error) {
	path := filepath.Join(c.tempDir, "screenshot.png")
	defer os.Remove(path)

	if err := c.captureTo(ctx, path); err != nil {
		if ctx.Err() != nil {
			return nil, apperrors.Wrap(ctx.Err(), apperrors.Cancelled, "screen capture")
		}
		return nil, apperrors.Wrap(err, apperrors.DriverOperation, "screen capture")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.DriverOperation, "read screenshot")
	}
	defer f.Close()
	img, format, err := image.Decode(f)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.DriverOperation, "decode screenshot")
	}
	trace.Logger(ctx).Debug("captured screen", "format", format, "size", img.Bounds().Size())
	return img, nil
}

// Close removes the temp directory.
func (c *Capturer) Close() {
	if c.tempDir != "" && c.tempDir != os.TempDir() {
		os.RemoveAll(c.tempDir)
	}
}

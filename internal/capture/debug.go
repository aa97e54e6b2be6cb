package capture

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/GriffinCanCode/pagestitch/internal/geometry"
	"github.com/GriffinCanCode/pagestitch/internal/trace"
)

// DebugSaver writes intermediate captures as PNG files. A nil saver does nothing.
type DebugSaver struct {
	dir    string
	prefix string
	seq    atomic.Int64
}

// NewDebugSaver returns a saver writing into dir, or nil when dir is empty.
func NewDebugSaver(dir string) *DebugSaver {
	if dir == "" {
		return nil
	}
	return &DebugSaver{dir: dir, prefix: time.Now().Format("20060102-150405")}
}

// Save writes img under a name ending in suffix. Failures are logged, never returned.
func (d *DebugSaver) Save(ctx context.Context, img image.Image, suffix string) {
	if d == nil || img == nil {
		return
	}
	name := fmt.Sprintf("%s_%03d_%s.png", d.prefix, d.seq.Add(1), suffix)
	if err := d.write(filepath.Join(d.dir, name), img); err != nil {
		trace.Logger(ctx).Warn("failed to save debug screenshot", "file", name, "error", err)
	}
}

// SavePart writes a tile named after the region it represents.
func (d *DebugSaver) SavePart(ctx context.Context, img image.Image, loc geometry.Location, size geometry.Size, name string) {
	d.Save(ctx, img, partName(name, loc, size))
}

func partName(name string, loc geometry.Location, size geometry.Size) string {
	return fmt.Sprintf("part-%s-%s_%s", name, loc.ForFilename(), size)
}

func (d *DebugSaver) write(path string, img image.Image) error {
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Package compare matches captures against baselines kept on local disk.
package compare

import (
	"context"
	"errors"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"

	apperrors "github.com/GriffinCanCode/pagestitch/internal/errors"
)

// Store persists one baseline image per key.
type Store interface {
	// Load returns a BaselineMissing error when no baseline exists for key.
	Load(ctx context.Context, key string) (image.Image, error)
	Save(ctx context.Context, key string, img image.Image) error
}

// DirStore keeps baselines as PNG files in a directory.
type DirStore struct {
	dir string
	mu  sync.Mutex
}

// NewDirStore returns a store rooted at dir. The directory is created lazily.
func NewDirStore(dir string) *DirStore {
	return &DirStore{dir: dir}
}

// Path returns the file a key is stored in.
func (s *DirStore) Path(key string) string {
	return filepath.Join(s.dir, fileKey(key)+".png")
}

func (s *DirStore) Load(_ context.Context, key string) (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.Path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, apperrors.New(apperrors.BaselineMissing, "no baseline").WithMetadata("key", key)
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.Internal, "open baseline")
	}
	defer f.Close()

	img, err := png.Decode(f)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.Internal, "decode baseline").WithMetadata("key", key)
	}
	return img, nil
}

// Save writes through a temporary file so readers never see a partial PNG.
func (s *DirStore) Save(_ context.Context, key string, img image.Image) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return apperrors.Wrap(err, apperrors.Internal, "create baseline dir")
	}
	tmp, err := os.CreateTemp(s.dir, ".baseline-*")
	if err != nil {
		return apperrors.Wrap(err, apperrors.Internal, "create baseline")
	}
	defer os.Remove(tmp.Name())

	if err := png.Encode(tmp, img); err != nil {
		tmp.Close()
		return apperrors.Wrap(err, apperrors.Internal, "encode baseline")
	}
	if err := tmp.Close(); err != nil {
		return apperrors.Wrap(err, apperrors.Internal, "write baseline")
	}
	if err := os.Rename(tmp.Name(), s.Path(key)); err != nil {
		return apperrors.Wrap(err, apperrors.Internal, "store baseline")
	}
	return nil
}

// fileKey maps an arbitrary tag to a safe file name.
func fileKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return "default"
	}
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, key)
	if safe = strings.TrimLeft(safe, "."); safe == "" {
		return "default"
	}
	return safe
}

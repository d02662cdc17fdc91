package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrNoFrame means the source has nothing to offer this tick. The continuous
// loop treats it like any other per-tick failure and moves on.
var ErrNoFrame = errors.New("capture: no frame available")

// DeviceError wraps capture device acquisition failures. The scheduler stays
// idle until the user retries Start.
type DeviceError struct {
	Err error
}

func (e *DeviceError) Error() string { return "capture device: " + e.Err.Error() }
func (e *DeviceError) Unwrap() error { return e.Err }

// FrameSource produces raw frame bytes from an acquired device.
type FrameSource interface {
	Frame(ctx context.Context) ([]byte, error)
	Close() error
}

// Device is the external capture capability. Acquire may fail (camera busy,
// permission denied); releasing happens through the returned source.
type Device interface {
	Acquire(ctx context.Context) (FrameSource, error)
}

// DirDevice is a filesystem-backed device: images dropped into a directory
// act as camera frames. Useful for the CLI and for driving the scheduler
// without hardware.
type DirDevice struct {
	Dir string
}

func (d *DirDevice) Acquire(ctx context.Context) (FrameSource, error) {
	info, err := os.Stat(d.Dir)
	if err != nil {
		return nil, &DeviceError{Err: err}
	}
	if !info.IsDir() {
		return nil, &DeviceError{Err: fmt.Errorf("%s is not a directory", d.Dir)}
	}
	return &dirSource{dir: d.Dir, seen: make(map[string]struct{})}, nil
}

type dirSource struct {
	dir  string
	seen map[string]struct{}
}

// Frame returns the oldest image file not yet served. ErrNoFrame when the
// directory has nothing new.
func (s *dirSource) Frame(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("capture: read frame dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		switch strings.ToLower(filepath.Ext(name)) {
		case ".jpg", ".jpeg", ".png":
		default:
			continue
		}
		if _, ok := s.seen[name]; ok {
			continue
		}
		names = append(names, name)
	}
	if len(names) == 0 {
		return nil, ErrNoFrame
	}
	sort.Strings(names)

	name := names[0]
	s.seen[name] = struct{}{}
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		return nil, fmt.Errorf("capture: read frame %s: %w", name, err)
	}
	return data, nil
}

func (s *dirSource) Close() error { return nil }

// Package timeline holds a trajectory as one pose per frame, loaded lazily
// from a Loader on first use.
package timeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

var (
	// ErrFrameRange is returned for frames outside the timeline.
	ErrFrameRange = errors.New("timeline: frame out of range")
	// ErrNotLoaded is returned when frames are read before the timeline is loaded.
	ErrNotLoaded = errors.New("timeline: not loaded")
	// ErrShort is returned when a loader yields fewer frames than the timeline size.
	ErrShort = errors.New("timeline: not enough frames")
)

// Loader produces the initial frames of a timeline.
type Loader interface {
	Load(ctx context.Context) ([][]float64, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context) ([][]float64, error)

// Load calls f.
func (f LoaderFunc) Load(ctx context.Context) ([][]float64, error) { return f(ctx) }

// Timeline is a fixed-size sequence of poses of width dof.
//
// Writers are expected to be serialized by the caller; the internal lock
// only makes CopyFrame and Snapshot safe to call while a writer is active.
type Timeline struct {
	size   int
	dof    int
	loader Loader
	logger *slog.Logger

	mu     sync.RWMutex
	frames [][]float64
	loaded bool
	dirty  map[int]struct{}
}

// New creates an unloaded timeline of size frames, each dof wide.
func New(size, dof int, loader Loader, logger *slog.Logger) *Timeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Timeline{
		size:   size,
		dof:    dof,
		loader: loader,
		logger: logger,
		dirty:  make(map[int]struct{}),
	}
}

// EnsureLoaded loads the frames on first call. Later calls return nil
// without touching the loader.
func (t *Timeline) EnsureLoaded(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.loaded {
		return nil
	}

	raw, err := t.loader.Load(ctx)
	if err != nil {
		return fmt.Errorf("timeline: load: %w", err)
	}
	if len(raw) < t.size {
		return fmt.Errorf("%w: have %d, need %d", ErrShort, len(raw), t.size)
	}
	if len(raw) > t.size {
		t.logger.Warn("timeline: dropping extra frames",
			slog.Int("have", len(raw)),
			slog.Int("size", t.size))
	}

	frames := make([][]float64, t.size)
	for i := range frames {
		if len(raw[i]) != t.dof {
			return fmt.Errorf("timeline: frame %d has %d values, want %d", i, len(raw[i]), t.dof)
		}
		frames[i] = append([]float64(nil), raw[i]...)
	}

	t.frames = frames
	t.loaded = true
	clear(t.dirty)
	t.logger.Info("timeline: loaded", slog.Int("frames", t.size), slog.Int("dof", t.dof))
	return nil
}

// Loaded reports whether the frames are in memory.
func (t *Timeline) Loaded() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.loaded
}

// Len returns the number of frames.
func (t *Timeline) Len() int { return t.size }

// Frame returns the stored pose of frame i without copying.
func (t *Timeline) Frame(i int) ([]float64, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if err := t.check(i); err != nil {
		return nil, err
	}
	return t.frames[i], nil
}

// CopyFrame returns a copy of frame i.
func (t *Timeline) CopyFrame(i int) ([]float64, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if err := t.check(i); err != nil {
		return nil, err
	}
	return append([]float64(nil), t.frames[i]...), nil
}

// SetFrame overwrites frame i with qpos and marks it dirty.
func (t *Timeline) SetFrame(i int, qpos []float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.check(i); err != nil {
		return err
	}
	if len(qpos) != t.dof {
		return fmt.Errorf("timeline: set frame %d: got %d values, want %d", i, len(qpos), t.dof)
	}
	copy(t.frames[i], qpos)
	t.dirty[i] = struct{}{}
	return nil
}

func (t *Timeline) check(i int) error {
	if !t.loaded {
		return ErrNotLoaded
	}
	if i < 0 || i >= t.size {
		return fmt.Errorf("%w: %d", ErrFrameRange, i)
	}
	return nil
}

// TakeDirty returns copies of the frames written since the last call, keyed
// by frame, and clears the dirty set.
func (t *Timeline) TakeDirty() map[int][]float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[int][]float64, len(t.dirty))
	for i := range t.dirty {
		out[i] = append([]float64(nil), t.frames[i]...)
	}
	clear(t.dirty)
	return out
}

// DirtyFrames lists the frames written since the last TakeDirty.
func (t *Timeline) DirtyFrames() []int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]int, 0, len(t.dirty))
	for i := range t.dirty {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

// Snapshot returns a deep copy of all frames, or nil when not loaded.
func (t *Timeline) Snapshot() [][]float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.loaded {
		return nil
	}
	out := make([][]float64, len(t.frames))
	for i, f := range t.frames {
		out[i] = append([]float64(nil), f...)
	}
	return out
}

// Reset drops the frames so the next EnsureLoaded reloads them.
func (t *Timeline) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.frames = nil
	t.loaded = false
	clear(t.dirty)
}

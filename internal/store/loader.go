package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/starford/waypoint/internal/checksum"
	"github.com/starford/waypoint/internal/trajfile"
)

// ErrNoSource is returned when neither the store nor an input file can
// provide frames.
var ErrNoSource = errors.New("store: no stored frames and no input file")

// Loader produces the initial timeline. Stored frames win as long as the
// input file is unchanged since it last seeded the store; otherwise the
// input file is read and replaces the stored frames.
type Loader struct {
	DB     *DB
	Path   string
	DoF    int
	Logger *slog.Logger
}

// Load implements timeline.Loader.
func (l *Loader) Load(ctx context.Context) ([][]float64, error) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}

	stored, err := l.DB.LoadFrames(ctx)
	if err != nil {
		return nil, err
	}

	if l.Path == "" {
		if len(stored) == 0 {
			return nil, ErrNoSource
		}
		return stored, nil
	}

	sum, err := checksum.File(l.Path)
	if err != nil {
		if len(stored) > 0 {
			logger.Warn("store: input unreadable, using stored frames",
				slog.String("path", l.Path), slog.String("error", err.Error()))
			return stored, nil
		}
		return nil, fmt.Errorf("store: %w", err)
	}

	recorded, err := l.DB.SourceChecksum(ctx)
	if err != nil {
		return nil, err
	}
	if len(stored) > 0 && recorded == sum {
		logger.Debug("store: loaded stored frames", slog.Int("frames", len(stored)))
		return stored, nil
	}

	frames, fileSum, err := trajfile.Read(l.Path, l.DoF)
	if err != nil {
		return nil, err
	}
	if err := l.DB.ReplaceFrames(ctx, frames, fileSum); err != nil {
		return nil, err
	}
	logger.Info("store: seeded from input",
		slog.String("path", l.Path), slog.Int("frames", len(frames)))
	return frames, nil
}

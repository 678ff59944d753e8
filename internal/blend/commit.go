package blend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gonum.org/v1/gonum/spatial/r3"
)

// ErrInterrupted is returned when a commit stops before its window is done.
// Frames solved so far stay committed.
var ErrInterrupted = errors.New("blend: commit interrupted")

// Progress is a cosmetic estimate of how far a commit has got.
type Progress struct {
	Percent             float64       `json:"percent"`
	Offset              int           `json:"offset"`
	Iterations          int           `json:"iterations"`
	FramesSolved        int           `json:"frames_solved"`
	Elapsed             time.Duration `json:"elapsed"`
	SolverItersPerFrame float64       `json:"solver_iters_per_frame"`
}

// ProgressFunc receives progress reports. It must not touch the state or
// timeline being committed.
type ProgressFunc func(Progress)

// CommitResult summarizes a commit.
type CommitResult struct {
	Body             Ref
	Node             Ref
	Root             int
	Transform        r3.Vec
	FramesSolved     int
	FramesSkipped    int
	SolverIterations int
	Unconverged      int
	// LastOffset is the last window offset whose pair was fully solved.
	LastOffset int
	Partial    bool
	Elapsed    time.Duration
}

// CommitDrag makes a drag of node permanent. The root frame is solved first,
// then the window grows one frame at a time on both sides (root+1, root-1,
// root+2, root-2, ...), every solve aiming body at its original position
// plus the kernel-weighted displacement. Solved poses are written back to
// tl and the nodes are re-derived from the new timeline. A frame is solved
// at most once per commit; later offsets that wrap onto it count as skipped.
//
// ctx is checked between frames. When it is done the commit stops, the
// frames already written stay, nodes are still re-derived and the returned
// result has Partial set alongside an error wrapping ErrInterrupted.
func (e *Engine) CommitDrag(ctx context.Context, st *State, tl Timeline, body, node Ref, progress ProgressFunc) (CommitResult, error) {
	res := CommitResult{Body: body, Node: node}
	if err := checkBody(body); err != nil {
		return res, err
	}
	if err := tl.EnsureLoaded(ctx); err != nil {
		return res, fmt.Errorf("blend: load timeline: %w", err)
	}

	start := e.clock.Now()
	t, root, err := e.transformation(st, tl, body, node)
	if err != nil {
		return res, err
	}
	res.Root = root
	res.Transform = t

	c := &commit{e: e, st: st, tl: tl, body: body, t: t, root: root, res: &res, solved: make(map[int]bool)}

	if err := c.solve(ctx, 0); err != nil {
		return e.finish(ctx, c, start, err)
	}

	reported := 0
	for off := 1; off < e.iterations; off++ {
		if err := c.solve(ctx, off); err != nil {
			return e.finish(ctx, c, start, err)
		}
		if err := c.solve(ctx, -off); err != nil {
			return e.finish(ctx, c, start, err)
		}
		res.LastOffset = off

		pct := progressPercent(off, e.iterations, e.kernel.Width)
		if bucket := int(pct / e.progressStep); bucket > reported {
			reported = bucket
			p := Progress{
				Percent:             pct,
				Offset:              off,
				Iterations:          e.iterations,
				FramesSolved:        res.FramesSolved,
				Elapsed:             e.clock.Now().Sub(start),
				SolverItersPerFrame: c.itersPerFrame(),
			}
			e.logger.Info("solving IK",
				slog.Float64("percent", p.Percent),
				slog.Float64("elapsed_s", p.Elapsed.Seconds()),
				slog.Float64("solver_iters_per_frame", p.SolverItersPerFrame))
			if progress != nil {
				progress(p)
			}
		}
	}

	return e.finish(ctx, c, start, nil)
}

// finish re-derives the nodes and closes out the result, whether the
// window completed or not.
func (e *Engine) finish(ctx context.Context, c *commit, start time.Time, cause error) (CommitResult, error) {
	res := c.res
	if cause != nil {
		res.Partial = true
	}

	// Nodes follow whatever was committed, including a partial window.
	if err := e.InitializeNodes(context.WithoutCancel(ctx), c.st, c.tl, c.body); err != nil && cause == nil {
		cause = fmt.Errorf("blend: reinitialize nodes: %w", err)
	}

	res.Elapsed = e.clock.Now().Sub(start)
	commitDuration.Observe(res.Elapsed.Seconds())

	if cause != nil {
		commitsTotal.WithLabelValues("partial").Inc()
		e.logger.Warn("commit stopped",
			slog.String("node", c.res.Node.String()),
			slog.Int("frames", res.FramesSolved),
			slog.Int("last_offset", res.LastOffset),
			slog.String("error", cause.Error()))
		if errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded) {
			cause = fmt.Errorf("%w: %w", ErrInterrupted, cause)
		}
		return *res, cause
	}

	commitsTotal.WithLabelValues("complete").Inc()
	e.logger.Info("finished solving IK",
		slog.Int("frames", res.FramesSolved),
		slog.Float64("elapsed_s", res.Elapsed.Seconds()),
		slog.Int("unconverged", res.Unconverged))
	return *res, nil
}

type commit struct {
	e    *Engine
	st   *State
	tl   Timeline
	body Ref
	t    r3.Vec
	root int
	res  *CommitResult
	// solved marks frames already written by this commit.
	solved map[int]bool
}

func (c *commit) frame(offset int) (int, bool) {
	return c.e.windowFrame(c.root, offset, c.tl.Len())
}

// solve moves body toward its kernel-weighted target at offset and commits
// the solved pose.
func (c *commit) solve(ctx context.Context, offset int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	frame, ok := c.frame(offset)
	if !ok || c.solved[frame] {
		c.res.FramesSkipped++
		return nil
	}

	pos, err := c.e.bodyPosAt(c.st, c.tl, frame, c.body)
	if err != nil {
		return err
	}
	target := r3.Add(pos, r3.Scale(c.e.kernel.Weight(float64(offset)), c.t))

	if c.e.seed == SeedNeighbor && offset != 0 {
		prev := offset - 1
		if offset < 0 {
			prev = offset + 1
		}
		if pf, ok := c.frame(prev); ok {
			if err := c.e.loadFrame(c.st, c.tl, pf); err != nil {
				return err
			}
		}
	}

	sol, err := c.e.ik.Solve(ctx, c.st, target, c.body, offset, c.e.maxSolverIter)
	if err != nil {
		return fmt.Errorf("blend: solve frame %d: %w", frame, err)
	}
	solverCallsTotal.Inc()
	solverIterationsTotal.Add(float64(sol.Iterations))
	c.res.SolverIterations += sol.Iterations
	if !sol.Converged {
		c.res.Unconverged++
		c.e.logger.Debug("solver did not converge",
			slog.Int("frame", frame),
			slog.Int("offset", offset),
			slog.Float64("residual", sol.Residual))
	}

	if err := c.tl.SetFrame(frame, c.st.Qpos[:c.e.layout.RobotDoF]); err != nil {
		return err
	}
	c.solved[frame] = true
	c.res.FramesSolved++
	return nil
}

func (c *commit) itersPerFrame() float64 {
	if c.res.FramesSolved == 0 {
		return 0
	}
	return float64(c.res.SolverIterations) / float64(c.res.FramesSolved)
}

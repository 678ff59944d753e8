package blend

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gonum.org/v1/gonum/spatial/r3"
)

// Defaults for the commit window.
const (
	DefaultIterations          = 300
	DefaultMaxSolverIterations = 150000
	DefaultProgressStep        = 20.0
)

// State is the active pose: generalized positions and the world positions
// derived from them.
type State struct {
	Qpos []float64
	Xpos []float64
}

// NewState allocates a zeroed state sized for l.
func NewState(l Layout) *State {
	return &State{
		Qpos: make([]float64, l.QposLen()),
		Xpos: make([]float64, l.XposLen()),
	}
}

// Timeline stores one robot pose per frame and loads itself lazily.
type Timeline interface {
	// EnsureLoaded loads the timeline on first use; later calls are no-ops.
	EnsureLoaded(ctx context.Context) error
	Len() int
	// Frame returns the stored pose of frame i. Callers must not modify it.
	Frame(i int) ([]float64, error)
	// SetFrame copies qpos into frame i.
	SetFrame(i int, qpos []float64) error
}

// Kinematics recomputes world positions from generalized positions.
type Kinematics interface {
	Forward(st *State)
}

// Solution describes the outcome of one IK solve.
type Solution struct {
	Iterations int
	Residual   float64
	Converged  bool
}

// Solver moves the robot coordinates of st so that body approaches target.
// hint is the signed frame offset of the solve within the commit window.
type Solver interface {
	Solve(ctx context.Context, st *State, target r3.Vec, body Ref, hint int, maxIterations int) (Solution, error)
}

// Clock is the time source used for commit telemetry.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Boundary selects what happens to window frames outside the timeline.
type Boundary string

const (
	// BoundaryWrap wraps frames modulo the timeline length.
	BoundaryWrap Boundary = "wrap"
	// BoundarySkip leaves frames outside the timeline untouched.
	BoundarySkip Boundary = "skip"
)

// Seed selects the starting pose of each window solve.
type Seed string

const (
	// SeedFrame starts every solve from the frame's own stored pose.
	SeedFrame Seed = "frame"
	// SeedNeighbor starts every solve from the pose just committed on the
	// root side of the frame.
	SeedNeighbor Seed = "neighbor"
)

// Engine propagates node drags over a timeline.
type Engine struct {
	layout        Layout
	kernel        Kernel
	fk            Kinematics
	ik            Solver
	clock         Clock
	logger        *slog.Logger
	iterations    int
	maxSolverIter int
	progressStep  float64
	boundary      Boundary
	seed          Seed
}

// Option configures an Engine.
type Option func(*Engine)

// WithKernel sets the blend kernel.
func WithKernel(k Kernel) Option {
	return func(e *Engine) { e.kernel = k }
}

// WithIterations sets the commit window: offsets 1..n-1 are solved on both sides.
func WithIterations(n int) Option {
	return func(e *Engine) { e.iterations = n }
}

// WithMaxSolverIterations caps every individual solve.
func WithMaxSolverIterations(n int) Option {
	return func(e *Engine) { e.maxSolverIter = n }
}

// WithProgressStep sets the percentage granularity of progress reports.
func WithProgressStep(pct float64) Option {
	return func(e *Engine) { e.progressStep = pct }
}

// WithBoundary sets the handling of window frames outside the timeline.
func WithBoundary(b Boundary) Option {
	return func(e *Engine) { e.boundary = b }
}

// WithSeed sets how window solves are seeded.
func WithSeed(s Seed) Option {
	return func(e *Engine) { e.seed = s }
}

// WithClock sets the telemetry clock.
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithLogger sets the logger. A nil logger keeps the default.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine creates an engine for layout l driving the given kinematics and solver.
func NewEngine(l Layout, fk Kinematics, ik Solver, opts ...Option) (*Engine, error) {
	if err := l.Validate(); err != nil {
		return nil, fmt.Errorf("blend: invalid layout: %w", err)
	}
	if fk == nil || ik == nil {
		return nil, fmt.Errorf("blend: kinematics and solver are required")
	}
	e := &Engine{
		layout:        l,
		kernel:        DefaultKernel,
		fk:            fk,
		ik:            ik,
		clock:         systemClock{},
		logger:        slog.Default(),
		iterations:    DefaultIterations,
		maxSolverIter: DefaultMaxSolverIterations,
		progressStep:  DefaultProgressStep,
		boundary:      BoundaryWrap,
		seed:          SeedFrame,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.iterations < 1 {
		return nil, fmt.Errorf("blend: iterations must be positive, got %d", e.iterations)
	}
	if e.maxSolverIter < 1 {
		return nil, fmt.Errorf("blend: max solver iterations must be positive, got %d", e.maxSolverIter)
	}
	if e.progressStep <= 0 {
		e.progressStep = DefaultProgressStep
	}
	return e, nil
}

// Layout returns the engine's layout.
func (e *Engine) Layout() Layout { return e.layout }

// windowFrame resolves the window offset of a commit rooted at root to a
// frame of a timeline of n frames. ok is false when the frame falls outside
// the timeline under BoundarySkip.
func (e *Engine) windowFrame(root, offset, n int) (frame int, ok bool) {
	f := root + offset
	if f >= 0 && f < n {
		return f, true
	}
	if e.boundary == BoundarySkip || n == 0 {
		return 0, false
	}
	return ((f % n) + n) % n, true
}

// windowOffset is the signed offset at which a commit rooted at root first
// reaches frame. Under BoundaryWrap that is the shortest cyclic distance;
// a tie resolves to the positive side, which the commit solves first.
func (e *Engine) windowOffset(root, frame, n int) int {
	d := frame - root
	if e.boundary == BoundarySkip || n == 0 {
		return d
	}
	d = ((d % n) + n) % n
	if d > n/2 {
		d -= n
	}
	return d
}

// loadFrame copies the stored pose of frame into the robot part of st.
func (e *Engine) loadFrame(st *State, tl Timeline, frame int) error {
	q, err := tl.Frame(frame)
	if err != nil {
		return err
	}
	copy(st.Qpos[:e.layout.RobotDoF], q)
	return nil
}

// bodyPosAt applies frame to st, recomputes kinematics and reads the
// world position of body.
func (e *Engine) bodyPosAt(st *State, tl Timeline, frame int, body Ref) (r3.Vec, error) {
	if err := e.loadFrame(st, tl, frame); err != nil {
		return r3.Vec{}, err
	}
	e.fk.Forward(st)
	return e.layout.WorldPos(st.Xpos, body).Vec(), nil
}

// transformation is the displacement of node's held world position from
// where body was at the node's own frame.
func (e *Engine) transformation(st *State, tl Timeline, body, node Ref) (r3.Vec, int, error) {
	root, err := e.layout.FrameOf(node)
	if err != nil {
		return r3.Vec{}, 0, err
	}
	held := e.layout.WorldPos(st.Xpos, node).Vec()
	orig, err := e.bodyPosAt(st, tl, root, body)
	if err != nil {
		return r3.Vec{}, 0, err
	}
	return r3.Sub(held, orig), root, nil
}


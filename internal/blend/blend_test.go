package blend

import (
	"context"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/starford/waypoint/internal/timeline"
)

// testLayout is the four-node, 400-frame layout used across the package tests.
var testLayout = Layout{RobotDoF: 3, NonNodeCount: 1, NodeCount: 4, TimelineSize: 400}

// tracked is the body the point model exposes: its world position is qpos[0:3].
var tracked = Body(1)

// pointModel is a kinematics stub whose only robot body sits at qpos[0:3];
// node bodies sit at their slots.
type pointModel struct {
	layout Layout
}

func (m pointModel) Forward(st *State) {
	m.layout.WorldPos(st.Xpos, tracked).Set(r3.Vec{X: st.Qpos[0], Y: st.Qpos[1], Z: st.Qpos[2]})
	for i := 0; i < m.layout.NodeCount; i++ {
		slot, _ := m.layout.NodeSlot(st.Qpos, Node(i))
		m.layout.WorldPos(st.Xpos, Node(i)).Set(slot.Vec())
	}
}

type solveCall struct {
	hint   int
	target r3.Vec
	seed   []float64
}

// snapSolver places the tracked body exactly on target; its output depends
// only on target.
type snapSolver struct {
	calls     []solveCall
	converged bool
	onSolve   func(n int)
}

func (s *snapSolver) Solve(_ context.Context, st *State, target r3.Vec, _ Ref, hint, _ int) (Solution, error) {
	s.calls = append(s.calls, solveCall{hint: hint, target: target, seed: append([]float64(nil), st.Qpos[:3]...)})
	st.Qpos[0], st.Qpos[1], st.Qpos[2] = target.X, target.Y, target.Z
	if s.onSolve != nil {
		s.onSolve(len(s.calls))
	}
	return Solution{Iterations: 3, Converged: s.converged}, nil
}

// origin is the tracked body's position at frame f in the fixture trajectory.
func origin(f int) r3.Vec {
	return r3.Vec{X: 0.01 * float64(f), Y: math.Sin(float64(f) / 50), Z: 1}
}

func fixtureTimeline(l Layout) *timeline.Timeline {
	return timeline.New(l.TimelineSize, l.RobotDoF, timeline.LoaderFunc(func(context.Context) ([][]float64, error) {
		out := make([][]float64, l.TimelineSize)
		for f := range out {
			p := origin(f)
			out[f] = []float64{p.X, p.Y, p.Z}
		}
		return out, nil
	}), discardLogger())
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stepClock struct {
	now  time.Time
	step time.Duration
}

func (c *stepClock) Now() time.Time {
	c.now = c.now.Add(c.step)
	return c.now
}

func newTestEngine(t *testing.T, l Layout, solver Solver, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{
		WithLogger(discardLogger()),
		WithClock(&stepClock{now: time.Unix(0, 0), step: time.Millisecond}),
	}, opts...)
	e, err := NewEngine(l, pointModel{layout: l}, solver, opts...)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

// dragBy moves node i away from its initialized position by d.
func dragBy(t *testing.T, e *Engine, st *State, i int, d r3.Vec) {
	t.Helper()
	cur, err := e.NodePosition(st, Node(i))
	if err != nil {
		t.Fatalf("NodePosition: %v", err)
	}
	if err := e.MoveNode(st, Node(i), r3.Add(cur, d)); err != nil {
		t.Fatalf("MoveNode: %v", err)
	}
}

func nearVec(a, b r3.Vec, tol float64) bool {
	return r3.Norm(r3.Sub(a, b)) <= tol
}

func TestNewEngine_Validation(t *testing.T) {
	if _, err := NewEngine(Layout{}, pointModel{}, &snapSolver{}); err == nil {
		t.Error("empty layout should fail")
	}
	if _, err := NewEngine(testLayout, nil, &snapSolver{}); err == nil {
		t.Error("missing kinematics should fail")
	}
	if _, err := NewEngine(testLayout, pointModel{layout: testLayout}, &snapSolver{}, WithIterations(0)); err == nil {
		t.Error("zero iterations should fail")
	}
	bad := Layout{RobotDoF: 3, NodeCount: 10, TimelineSize: 5}
	if _, err := NewEngine(bad, pointModel{layout: bad}, &snapSolver{}); err == nil {
		t.Error("more nodes than frames should fail")
	}
}

func TestNewState_Sizes(t *testing.T) {
	st := NewState(testLayout)
	if len(st.Qpos) != testLayout.QposLen() || len(st.Xpos) != testLayout.XposLen() {
		t.Errorf("qpos %d xpos %d, want %d %d", len(st.Qpos), len(st.Xpos), testLayout.QposLen(), testLayout.XposLen())
	}
}

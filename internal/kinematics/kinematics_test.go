package kinematics

import (
	"context"
	"math"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/starford/waypoint/internal/blend"
)

var testLayout = blend.Layout{RobotDoF: 5, NonNodeCount: 1, NodeCount: 4, TimelineSize: 40}

func testChain(t *testing.T) *Chain {
	t.Helper()
	c, err := NewChain(testLayout, []Link{
		{Axis: r3.Vec{Y: 2}, Segment: r3.Vec{Z: -1}},
		{Axis: r3.Vec{Y: 1}, Segment: r3.Vec{Z: -1}},
	})
	if err != nil {
		t.Fatalf("NewChain: %v", err)
	}
	return c
}

func near(a, b r3.Vec, tol float64) bool {
	return r3.Norm(r3.Sub(a, b)) <= tol
}

func TestNewChain_Validation(t *testing.T) {
	links := []Link{{Axis: r3.Vec{Z: 1}, Segment: r3.Vec{X: 1}}}
	cases := []struct {
		name   string
		layout blend.Layout
		links  []Link
	}{
		{"no links", blend.Layout{RobotDoF: 3, NodeCount: 1, TimelineSize: 1}, nil},
		{"dof mismatch", blend.Layout{RobotDoF: 5, NodeCount: 1, TimelineSize: 1}, links},
		{"zero axis", blend.Layout{RobotDoF: 4, NodeCount: 1, TimelineSize: 1}, []Link{{Segment: r3.Vec{X: 1}}}},
		{"too many bodies", blend.Layout{RobotDoF: 3 + 26, NodeCount: 1, TimelineSize: 1}, make([]Link, 26)},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if _, err := NewChain(c.layout, c.links); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestForward_StraightChain(t *testing.T) {
	c := testChain(t)
	st := blend.NewState(testLayout)
	st.Qpos[0], st.Qpos[1], st.Qpos[2] = 1, 2, 3

	c.Forward(st)

	want := map[int]r3.Vec{
		WorldBody:   {},
		BaseBody:    {X: 1, Y: 2, Z: 3},
		LinkBody(0): {X: 1, Y: 2, Z: 2},
		LinkBody(1): {X: 1, Y: 2, Z: 1},
	}
	for id, w := range want {
		if got := testLayout.WorldPos(st.Xpos, blend.Body(id)).Vec(); !near(got, w, 1e-12) {
			t.Errorf("body %d = %v, want %v", id, got, w)
		}
	}
}

func TestForward_JointRotationAccumulates(t *testing.T) {
	c := testChain(t)
	st := blend.NewState(testLayout)
	st.Qpos[3] = math.Pi / 2

	c.Forward(st)

	// A quarter turn about +Y maps -Z onto -X for both segments.
	if got := testLayout.WorldPos(st.Xpos, blend.Body(LinkBody(0))).Vec(); !near(got, r3.Vec{X: -1}, 1e-12) {
		t.Errorf("link 0 end = %v, want (-1,0,0)", got)
	}
	if got := testLayout.WorldPos(st.Xpos, blend.Body(LinkBody(1))).Vec(); !near(got, r3.Vec{X: -2}, 1e-12) {
		t.Errorf("link 1 end = %v, want (-2,0,0)", got)
	}
}

func TestForward_NodesMirrorSlots(t *testing.T) {
	c := testChain(t)
	st := blend.NewState(testLayout)
	for i := 0; i < testLayout.NodeCount; i++ {
		slot, _ := testLayout.NodeSlot(st.Qpos, blend.Node(i))
		slot.Set(r3.Vec{X: float64(i), Y: -1, Z: 0.5})
	}

	c.Forward(st)

	for i := 0; i < testLayout.NodeCount; i++ {
		want := r3.Vec{X: float64(i), Y: -1, Z: 0.5}
		if got := testLayout.WorldPos(st.Xpos, blend.Node(i)).Vec(); got != want {
			t.Errorf("node %d world = %v, want %v", i, got, want)
		}
	}
}

func TestSolver_ConvergesToReachableTarget(t *testing.T) {
	c := testChain(t)
	s := NewSolver(c, 0, 0)
	st := blend.NewState(testLayout)
	nodeSlot, _ := testLayout.NodeSlot(st.Qpos, blend.Node(2))
	nodeSlot.Set(r3.Vec{X: 7, Y: 7, Z: 7})

	target := r3.Vec{X: 0.4, Y: -0.3, Z: -1.5}
	sol, err := s.Solve(context.Background(), st, target, blend.Body(LinkBody(1)), 0, 500)
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if !sol.Converged {
		t.Fatalf("solution did not converge: %+v", sol)
	}
	if sol.Residual > DefaultTolerance {
		t.Errorf("residual %v above tolerance", sol.Residual)
	}
	if got := testLayout.WorldPos(st.Xpos, blend.Body(LinkBody(1))).Vec(); !near(got, target, DefaultTolerance) {
		t.Errorf("end effector = %v, want %v", got, target)
	}
	if got := nodeSlot.Vec(); got != (r3.Vec{X: 7, Y: 7, Z: 7}) {
		t.Errorf("solver moved node slot to %v", got)
	}
}

func TestSolver_AlreadyAtTarget(t *testing.T) {
	c := testChain(t)
	s := NewSolver(c, 0, 0)
	st := blend.NewState(testLayout)

	sol, err := s.Solve(context.Background(), st, r3.Vec{Z: -1}, blend.Body(LinkBody(0)), 0, 10)
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if sol.Iterations != 0 || !sol.Converged {
		t.Errorf("solution = %+v, want converged in 0 iterations", sol)
	}
}

func TestSolver_RespectsIterationCap(t *testing.T) {
	c := testChain(t)
	s := NewSolver(c, 1e-12, 10)
	st := blend.NewState(testLayout)

	sol, err := s.Solve(context.Background(), st, r3.Vec{X: 50}, blend.Body(LinkBody(1)), 0, 3)
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if sol.Iterations != 3 {
		t.Errorf("iterations = %d, want 3", sol.Iterations)
	}
	if sol.Converged {
		t.Error("heavily damped solve should not converge in 3 steps")
	}
}

func TestSolver_RejectsUnknownBody(t *testing.T) {
	s := NewSolver(testChain(t), 0, 0)
	st := blend.NewState(testLayout)
	if _, err := s.Solve(context.Background(), st, r3.Vec{}, blend.Node(0), 0, 10); err == nil {
		t.Error("expected error for node target")
	}
	if _, err := s.Solve(context.Background(), st, r3.Vec{}, blend.Body(9), 0, 10); err == nil {
		t.Error("expected error for body outside the chain")
	}
}

func TestSolver_Cancelled(t *testing.T) {
	s := NewSolver(testChain(t), 0, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Solve(ctx, blend.NewState(testLayout), r3.Vec{X: 1}, blend.Body(BaseBody), 0, 10); err == nil {
		t.Error("expected context error")
	}
}

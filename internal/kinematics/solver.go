package kinematics

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/starford/waypoint/internal/blend"
)

// Solver defaults.
const (
	DefaultTolerance = 1e-4
	DefaultDamping   = 0.05
	jacobianStep     = 1e-6
)

var _ blend.Solver = (*Solver)(nil)

// Solver is a damped least-squares position solver for a Chain. It moves
// only the robot coordinates; free bodies and node slots are left alone.
type Solver struct {
	chain     *Chain
	tolerance float64
	damping   float64
}

// NewSolver creates a solver. Non-positive tolerance or damping select the
// defaults.
func NewSolver(chain *Chain, tolerance, damping float64) *Solver {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	if damping <= 0 {
		damping = DefaultDamping
	}
	return &Solver{chain: chain, tolerance: tolerance, damping: damping}
}

// Solve iterates dq = Jᵀ(JJᵀ + λ²I)⁻¹e until the body is within tolerance of
// target or maxIterations steps were taken. The hint is unused; every solve
// starts from the pose already in st.
func (s *Solver) Solve(ctx context.Context, st *blend.State, target r3.Vec, body blend.Ref, _ int, maxIterations int) (blend.Solution, error) {
	if body.IsNode() || body.ID() < 0 || body.ID() >= s.chain.Bodies() {
		return blend.Solution{}, fmt.Errorf("kinematics: %s is not a chain body", body)
	}
	l := s.chain.layout
	dof := l.RobotDoF
	q := st.Qpos

	pos := func() r3.Vec {
		s.chain.Forward(st)
		return l.WorldPos(st.Xpos, body).Vec()
	}

	jac := mat.NewDense(3, dof, nil)
	var a mat.Dense
	var y, dq mat.VecDense
	lambda2 := s.damping * s.damping

	for it := 0; it < maxIterations; it++ {
		if it%64 == 0 {
			if err := ctx.Err(); err != nil {
				return blend.Solution{Iterations: it}, err
			}
		}

		e := r3.Sub(target, pos())
		res := r3.Norm(e)
		if res <= s.tolerance {
			return blend.Solution{Iterations: it, Residual: res, Converged: true}, nil
		}

		for j := 0; j < dof; j++ {
			orig := q[j]
			q[j] = orig + jacobianStep
			hi := pos()
			q[j] = orig - jacobianStep
			lo := pos()
			q[j] = orig
			d := r3.Scale(1/(2*jacobianStep), r3.Sub(hi, lo))
			jac.Set(0, j, d.X)
			jac.Set(1, j, d.Y)
			jac.Set(2, j, d.Z)
		}

		a.Mul(jac, jac.T())
		for i := 0; i < 3; i++ {
			a.Set(i, i, a.At(i, i)+lambda2)
		}
		if err := y.SolveVec(&a, mat.NewVecDense(3, []float64{e.X, e.Y, e.Z})); err != nil {
			return blend.Solution{Iterations: it, Residual: res}, fmt.Errorf("kinematics: singular step: %w", err)
		}
		dq.MulVec(jac.T(), &y)
		for j := 0; j < dof; j++ {
			q[j] += dq.AtVec(j)
		}
	}

	res := r3.Norm(r3.Sub(target, pos()))
	return blend.Solution{Iterations: maxIterations, Residual: res, Converged: res <= s.tolerance}, nil
}

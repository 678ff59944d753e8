// Package kinematics provides a reference articulated model: a floating
// base followed by a serial chain of revolute joints, with forward
// kinematics and a damped least-squares IK solver.
package kinematics

import (
	"fmt"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/starford/waypoint/internal/blend"
)

// Body ids of the chain. Link k ends at body LinkBody(k).
const (
	WorldBody = 0
	BaseBody  = 1
)

// LinkBody returns the body id at the end of link k.
func LinkBody(k int) int { return k + 2 }

// Link is a revolute joint about Axis followed by a rigid Segment, both
// expressed in the parent frame at zero joint angle.
type Link struct {
	Axis    r3.Vec
	Segment r3.Vec
}

// Chain is the reference model. Its generalized coordinates are the base
// position (3) followed by one angle per link.
type Chain struct {
	layout blend.Layout
	links  []Link
}

// NewChain builds a chain for layout. The layout's RobotDoF must equal
// 3+len(links).
func NewChain(layout blend.Layout, links []Link) (*Chain, error) {
	if len(links) == 0 {
		return nil, fmt.Errorf("kinematics: chain needs at least one link")
	}
	if layout.RobotDoF != 3+len(links) {
		return nil, fmt.Errorf("kinematics: layout has %d robot coordinates, chain needs %d", layout.RobotDoF, 3+len(links))
	}
	if n := LinkBody(len(links) - 1); n >= blend.NodeIDOffset {
		return nil, fmt.Errorf("kinematics: %d bodies overlap the node id range", n+1)
	}
	norm := make([]Link, len(links))
	for i, l := range links {
		if r3.Norm(l.Axis) == 0 {
			return nil, fmt.Errorf("kinematics: link %d has a zero axis", i)
		}
		norm[i] = Link{Axis: r3.Unit(l.Axis), Segment: l.Segment}
	}
	return &Chain{layout: layout, links: norm}, nil
}

// Bodies returns the number of model bodies including the world.
func (c *Chain) Bodies() int { return len(c.links) + 2 }

// Forward recomputes the world positions of every body and node in st.
func (c *Chain) Forward(st *blend.State) {
	q := st.Qpos
	c.layout.WorldPos(st.Xpos, blend.Body(WorldBody)).Set(r3.Vec{})

	p := r3.Vec{X: q[0], Y: q[1], Z: q[2]}
	c.layout.WorldPos(st.Xpos, blend.Body(BaseBody)).Set(p)

	rot := r3.Rotation{Real: 1}
	for k, l := range c.links {
		rot = compose(rot, r3.NewRotation(q[3+k], l.Axis))
		p = r3.Add(p, rot.Rotate(l.Segment))
		c.layout.WorldPos(st.Xpos, blend.Body(LinkBody(k))).Set(p)
	}

	for i := 0; i < c.layout.NodeCount; i++ {
		slot, _ := c.layout.NodeSlot(q, blend.Node(i))
		c.layout.WorldPos(st.Xpos, blend.Node(i)).Set(slot.Vec())
	}
}

// compose returns the rotation applying r first, then parent.
func compose(parent, r r3.Rotation) r3.Rotation {
	return r3.Rotation(quat.Mul(quat.Number(parent), quat.Number(r)))
}

// Package blend implements node-driven editing of a dense pose trajectory:
// node addressing, the temporal blend kernel, the drag preview and the
// IK-refined commit.
package blend

import (
	"errors"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gonum.org/v1/gonum/spatial/r3"
)

// NodeIDOffset is the first raw id of the node range. Raw ids below it are
// ordinary bodies of the articulated model.
const NodeIDOffset = 27

var (
	// ErrNotNode is returned when a body reference is used where a node is required.
	ErrNotNode = errors.New("blend: reference is not a node")
	// ErrNodeRange is returned for node indices outside [0, NodeCount).
	ErrNodeRange = errors.New("blend: node index out of range")
)

// Kind tags a Ref as a body or a node.
type Kind uint8

const (
	KindBody Kind = iota
	KindNode
)

func (k Kind) String() string {
	if k == KindNode {
		return "node"
	}
	return "body"
}

// Ref addresses either a body of the articulated model or a handle node.
// Bodies and nodes share the world-position id space: body n has raw id n,
// node i has raw id NodeIDOffset+i.
type Ref struct {
	kind Kind
	n    int
}

// Body returns a reference to a model body.
func Body(id int) Ref { return Ref{kind: KindBody, n: id} }

// Node returns a reference to the node with the given index.
func Node(index int) Ref { return Ref{kind: KindNode, n: index} }

// FromID interprets a raw id from the shared id space. Ids at or above
// NodeIDOffset are nodes.
func FromID(raw int) Ref {
	if raw >= NodeIDOffset {
		return Node(raw - NodeIDOffset)
	}
	return Body(raw)
}

// IsNode reports whether r addresses a node.
func (r Ref) IsNode() bool { return r.kind == KindNode }

// ID returns the raw id of r in the shared world-position space.
func (r Ref) ID() int {
	if r.kind == KindNode {
		return r.n + NodeIDOffset
	}
	return r.n
}

// Index returns the node index of r. ok is false for bodies.
func (r Ref) Index() (index int, ok bool) {
	if r.kind != KindNode {
		return 0, false
	}
	return r.n, true
}

func (r Ref) String() string {
	return fmt.Sprintf("%s(%d)", r.kind, r.n)
}

// Layout describes how a trajectory and its nodes are laid out in memory.
//
// The generalized-position buffer is
//
//	[RobotDoF robot coordinates][3*NonNodeCount free bodies][3*NodeCount node slots]
//
// and timeline frames store only the leading RobotDoF coordinates.
type Layout struct {
	RobotDoF     int
	NonNodeCount int
	NodeCount    int
	TimelineSize int
}

// Validate validates the layout.
func (l *Layout) Validate() error {
	if err := validation.ValidateStruct(l,
		validation.Field(&l.RobotDoF, validation.Required, validation.Min(1)),
		validation.Field(&l.NonNodeCount, validation.Min(0)),
		validation.Field(&l.NodeCount, validation.Required, validation.Min(1)),
		validation.Field(&l.TimelineSize, validation.Required, validation.Min(1)),
	); err != nil {
		return err
	}
	if l.TimelineSize < l.NodeCount {
		return fmt.Errorf("blend: timeline size %d smaller than node count %d", l.TimelineSize, l.NodeCount)
	}
	return nil
}

// Stride is the number of frames between two consecutive nodes.
func (l Layout) Stride() int { return l.TimelineSize / l.NodeCount }

// QposLen is the length of the generalized-position buffer.
func (l Layout) QposLen() int { return l.RobotDoF + 3*l.NonNodeCount + 3*l.NodeCount }

// XposLen is the length of the world-position buffer.
func (l Layout) XposLen() int { return 3 * (NodeIDOffset + l.NodeCount) }

// FrameOfIndex maps node index i to its timeline frame.
func (l Layout) FrameOfIndex(i int) int { return l.Stride() * i }

// FrameOf maps a node reference to its timeline frame.
func (l Layout) FrameOf(r Ref) (int, error) {
	i, err := l.index(r)
	if err != nil {
		return 0, err
	}
	return l.FrameOfIndex(i), nil
}

func (l Layout) index(r Ref) (int, error) {
	i, ok := r.Index()
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNotNode, r)
	}
	if i < 0 || i >= l.NodeCount {
		return 0, fmt.Errorf("%w: %d", ErrNodeRange, i)
	}
	return i, nil
}

// NodeSlot returns the 3-component view of a node inside qpos. For anything
// that is not a valid node it returns a nil view, which reads as the zero
// vector and ignores writes, together with the reason.
func (l Layout) NodeSlot(qpos []float64, r Ref) (Vec3Ref, error) {
	i, err := l.index(r)
	if err != nil {
		return nil, err
	}
	off := l.RobotDoF + 3*l.NonNodeCount + 3*i
	return Vec3Ref(qpos[off : off+3 : off+3]), nil
}

// WorldPos returns the 3-component view of a body or node inside xpos.
// A ref with no place in xpos (a negative id, a node outside
// [0, NodeCount), a buffer too short) gets a nil view.
func (l Layout) WorldPos(xpos []float64, r Ref) Vec3Ref {
	if r.IsNode() {
		if _, err := l.index(r); err != nil {
			return nil
		}
	}
	off := 3 * r.ID()
	if off < 0 || off+3 > len(xpos) {
		return nil
	}
	return Vec3Ref(xpos[off : off+3 : off+3])
}

// Vec3Ref aliases three consecutive components of a larger buffer.
type Vec3Ref []float64

// Vec returns a copy of the referenced components. A nil view is the zero vector.
func (v Vec3Ref) Vec() r3.Vec {
	if len(v) < 3 {
		return r3.Vec{}
	}
	return r3.Vec{X: v[0], Y: v[1], Z: v[2]}
}

// Set overwrites the referenced components. Writes to a nil view are dropped.
func (v Vec3Ref) Set(p r3.Vec) {
	if len(v) < 3 {
		return
	}
	v[0], v[1], v[2] = p.X, p.Y, p.Z
}

package blend

import (
	"context"
	"errors"
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"
)

// ErrNotBody is returned when the tracked reference is not a model body.
var ErrNotBody = errors.New("blend: reference is not a model body")

func checkBody(body Ref) error {
	if body.IsNode() || body.ID() < 0 || body.ID() >= NodeIDOffset {
		return fmt.Errorf("%w: %s", ErrNotBody, body)
	}
	return nil
}

// InitializeNodes places every node at the world position body has at the
// node's frame. It loads the timeline if needed and leaves st with fresh
// kinematics. Running it twice without touching the timeline yields the
// same node slots.
func (e *Engine) InitializeNodes(ctx context.Context, st *State, tl Timeline, body Ref) error {
	if err := checkBody(body); err != nil {
		return err
	}
	if err := tl.EnsureLoaded(ctx); err != nil {
		return fmt.Errorf("blend: load timeline: %w", err)
	}
	for i := 0; i < e.layout.NodeCount; i++ {
		pos, err := e.bodyPosAt(st, tl, e.layout.FrameOfIndex(i), body)
		if err != nil {
			return err
		}
		slot, err := e.layout.NodeSlot(st.Qpos, Node(i))
		if err != nil {
			return err
		}
		slot.Set(pos)
	}
	e.fk.Forward(st)
	return nil
}

// PreviewDrag spreads the current displacement of node over the other nodes,
// weighted by the kernel at each node's frame distance. Only node slots in
// st change; the timeline is read but never written and no IK is solved.
func (e *Engine) PreviewDrag(ctx context.Context, st *State, tl Timeline, body, node Ref) error {
	if err := checkBody(body); err != nil {
		return err
	}
	if err := tl.EnsureLoaded(ctx); err != nil {
		return fmt.Errorf("blend: load timeline: %w", err)
	}
	t, root, err := e.transformation(st, tl, body, node)
	if err != nil {
		return err
	}
	dragged, _ := node.Index()

	for i := 0; i < e.layout.NodeCount; i++ {
		if i == dragged {
			continue
		}
		frame := e.layout.FrameOfIndex(i)
		w := e.kernel.Weight(float64(e.windowOffset(root, frame, tl.Len())))
		pos, err := e.bodyPosAt(st, tl, frame, body)
		if err != nil {
			return err
		}
		slot, err := e.layout.NodeSlot(st.Qpos, Node(i))
		if err != nil {
			return err
		}
		slot.Set(r3.Add(pos, r3.Scale(w, t)))
	}
	e.fk.Forward(st)
	previewsTotal.Inc()
	return nil
}

// MoveNode places node at pos and refreshes the kinematics of st. This is
// the drag itself; PreviewDrag then spreads it over the other nodes.
func (e *Engine) MoveNode(st *State, node Ref, pos r3.Vec) error {
	slot, err := e.layout.NodeSlot(st.Qpos, node)
	if err != nil {
		return err
	}
	slot.Set(pos)
	e.fk.Forward(st)
	return nil
}

// NodePosition returns the current position of node in st.
func (e *Engine) NodePosition(st *State, node Ref) (r3.Vec, error) {
	slot, err := e.layout.NodeSlot(st.Qpos, node)
	if err != nil {
		return r3.Vec{}, err
	}
	return slot.Vec(), nil
}

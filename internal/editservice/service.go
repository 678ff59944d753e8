// Package editservice runs one interactive editing session over a trajectory:
// it owns the active pose, serializes drags and commits, persists committed
// frames and publishes live updates.
package editservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/starford/waypoint/internal/apperr"
	"github.com/starford/waypoint/internal/blend"
	"github.com/starford/waypoint/internal/sse"
	"github.com/starford/waypoint/internal/store"
	"github.com/starford/waypoint/internal/timeline"
)

var _ blend.Timeline = (*timeline.Timeline)(nil)

// Publisher receives live events.
type Publisher interface {
	Publish(sse.Event)
}

// Vec is a JSON-friendly 3-vector.
type Vec struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func vecOf(v r3.Vec) Vec { return Vec{X: v.X, Y: v.Y, Z: v.Z} }

// R3 converts v to a gonum vector.
func (v Vec) R3() r3.Vec { return r3.Vec{X: v.X, Y: v.Y, Z: v.Z} }

// Node is the public view of one handle node.
type Node struct {
	Index    int `json:"index"`
	Frame    int `json:"frame"`
	Position Vec `json:"position"`
}

// Commit is the public view of a finished commit.
type Commit struct {
	ID               string    `json:"id"`
	Node             int       `json:"node"`
	Body             int       `json:"body"`
	RootFrame        int       `json:"root_frame"`
	Transform        Vec       `json:"transform"`
	Frames           int       `json:"frames"`
	Skipped          int       `json:"skipped"`
	SolverIterations int       `json:"solver_iterations"`
	Unconverged      int       `json:"unconverged"`
	Partial          bool      `json:"partial"`
	ElapsedMS        int64     `json:"elapsed_ms"`
	Error            string    `json:"error,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// ProgressEvent is the payload of commit.progress.
type ProgressEvent struct {
	ID   string `json:"id"`
	Node int    `json:"node"`
	blend.Progress
}

// Service coordinates the blend engine, the timeline and persistence.
type Service struct {
	engine *blend.Engine
	tl     *timeline.Timeline
	repo   store.Repository
	pub    Publisher
	body   blend.Ref
	logger *slog.Logger

	// mu serializes every change to st and is held for a commit's whole run.
	mu    sync.Mutex
	st    *blend.State
	ready bool

	viewMu sync.RWMutex
	nodes  []Node

	runMu     sync.Mutex
	runID     string
	runCancel context.CancelFunc

	ctx  context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup
}

// New creates an editing session that tracks body. pub may be nil.
func New(engine *blend.Engine, tl *timeline.Timeline, repo store.Repository, pub Publisher, body blend.Ref, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Service{
		engine: engine,
		tl:     tl,
		repo:   repo,
		pub:    pub,
		body:   body,
		logger: logger,
		st:     blend.NewState(engine.Layout()),
		ctx:    ctx,
		stop:   stop,
	}
}

// Init loads the timeline and places the nodes on the tracked body.
func (s *Service) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initLocked(ctx)
}

func (s *Service) initLocked(ctx context.Context) error {
	if err := s.engine.InitializeNodes(ctx, s.st, s.tl, s.body); err != nil {
		return fmt.Errorf("editservice: init: %w", err)
	}
	s.ready = true
	s.refreshNodes()
	return nil
}

func (s *Service) ensureReady(ctx context.Context) error {
	if s.ready {
		return nil
	}
	return s.initLocked(ctx)
}

// Nodes returns the current node positions. While a commit runs it returns
// the positions from before the commit.
func (s *Service) Nodes(ctx context.Context) ([]Node, error) {
	if nodes := s.nodesView(); nodes != nil {
		return nodes, nil
	}
	if !s.mu.TryLock() {
		return nil, apperr.ErrBusy
	}
	defer s.mu.Unlock()
	if err := s.ensureReady(ctx); err != nil {
		return nil, err
	}
	return s.nodesView(), nil
}

// Drag moves node index to pos and previews the effect on the other nodes.
// The timeline is not modified.
func (s *Service) Drag(ctx context.Context, index int, pos Vec) ([]Node, error) {
	node, err := s.node(index)
	if err != nil {
		return nil, err
	}
	if !s.mu.TryLock() {
		return nil, apperr.ErrBusy
	}
	defer s.mu.Unlock()
	if err := s.ensureReady(ctx); err != nil {
		return nil, err
	}

	if err := s.engine.MoveNode(s.st, node, pos.R3()); err != nil {
		return nil, mapErr(err)
	}
	if err := s.engine.PreviewDrag(ctx, s.st, s.tl, s.body, node); err != nil {
		return nil, mapErr(err)
	}
	s.refreshNodes()
	return s.nodesView(), nil
}

// Drop commits the current drag of node index and waits for it to finish.
// An interrupted commit returns its partial result along with the error.
func (s *Service) Drop(ctx context.Context, index int) (Commit, error) {
	node, err := s.node(index)
	if err != nil {
		return Commit{}, err
	}
	if !s.mu.TryLock() {
		return Commit{}, apperr.ErrBusy
	}
	defer s.mu.Unlock()
	if err := s.ensureReady(ctx); err != nil {
		return Commit{}, err
	}

	id := uuid.NewString()
	cctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.setRun(id, cancel)
	defer s.setRun("", nil)
	return s.commitLocked(cctx, id, node)
}

// StartDrop commits the current drag of node index in the background and
// returns the commit id at once. Progress and completion are published.
func (s *Service) StartDrop(ctx context.Context, index int) (string, error) {
	node, err := s.node(index)
	if err != nil {
		return "", err
	}
	if !s.mu.TryLock() {
		return "", apperr.ErrBusy
	}
	if err := s.ensureReady(ctx); err != nil {
		s.mu.Unlock()
		return "", err
	}

	id := uuid.NewString()
	cctx, cancel := context.WithCancel(s.ctx)
	s.setRun(id, cancel)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.setRun("", nil)
		defer s.mu.Unlock()
		defer cancel()
		if _, err := s.commitLocked(cctx, id, node); err != nil {
			s.logger.Warn("background commit failed",
				slog.String("id", id), slog.String("error", err.Error()))
		}
	}()
	return id, nil
}

// CancelCommit interrupts the running commit and returns its id. Frames it
// already solved stay committed.
func (s *Service) CancelCommit() (string, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.runCancel == nil {
		return "", fmt.Errorf("%w: no commit running", apperr.ErrNotFound)
	}
	s.runCancel()
	return s.runID, nil
}

// Running returns the id of the running commit, if any.
func (s *Service) Running() (string, bool) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.runID, s.runID != ""
}

func (s *Service) setRun(id string, cancel context.CancelFunc) {
	s.runMu.Lock()
	s.runID, s.runCancel = id, cancel
	s.runMu.Unlock()
}

func (s *Service) commitLocked(ctx context.Context, id string, node blend.Ref) (Commit, error) {
	index, _ := node.Index()
	s.publish(sse.TypeCommitStarted, map[string]any{"id": id, "node": index})

	res, err := s.engine.CommitDrag(ctx, s.st, s.tl, s.body, node, func(p blend.Progress) {
		s.publish(sse.TypeCommitProgress, ProgressEvent{ID: id, Node: index, Progress: p})
	})
	if err != nil && !res.Partial {
		return Commit{}, mapErr(err)
	}

	// Persist even when interrupted: solved frames are part of the timeline now.
	pctx := context.WithoutCancel(ctx)
	if perr := s.repo.SaveFrames(pctx, s.tl.TakeDirty()); perr != nil {
		s.logger.Error("persist committed frames", slog.String("id", id), slog.String("error", perr.Error()))
		if err == nil {
			err = perr
		}
	}

	row := store.CommitRow{
		ID:               id,
		Node:             index,
		Body:             res.Body.ID(),
		RootFrame:        res.Root,
		Transform:        [3]float64{res.Transform.X, res.Transform.Y, res.Transform.Z},
		Frames:           res.FramesSolved,
		Skipped:          res.FramesSkipped,
		SolverIterations: res.SolverIterations,
		Unconverged:      res.Unconverged,
		Partial:          res.Partial,
		Elapsed:          res.Elapsed,
		CreatedAt:        time.Now(),
	}
	if err != nil {
		row.Error = err.Error()
	}
	if rerr := s.repo.RecordCommit(pctx, row); rerr != nil {
		s.logger.Error("record commit", slog.String("id", id), slog.String("error", rerr.Error()))
	}

	s.refreshNodes()
	c := commitOf(row)
	s.publish(sse.TypeCommitDone, c)
	return c, err
}

// Frame returns a copy of the stored pose of frame i.
func (s *Service) Frame(ctx context.Context, i int) ([]float64, error) {
	if err := s.tl.EnsureLoaded(ctx); err != nil {
		return nil, err
	}
	q, err := s.tl.CopyFrame(i)
	if err != nil {
		return nil, mapErr(err)
	}
	return q, nil
}

// Commits returns up to limit recorded commits, newest first.
func (s *Service) Commits(ctx context.Context, limit int) ([]Commit, error) {
	rows, err := s.repo.ListCommits(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]Commit, len(rows))
	for i, r := range rows {
		out[i] = commitOf(r)
	}
	return out, nil
}

// Reload drops the in-memory timeline and loads it again, then re-derives
// the nodes. It waits for a running commit to finish.
func (s *Service) Reload(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tl.Reset()
	s.ready = false
	if err := s.initLocked(ctx); err != nil {
		return err
	}
	s.publish(sse.TypeTimelineReloaded, map[string]int{"frames": s.tl.Len()})
	return nil
}

// Ready reports whether the session can serve requests.
func (s *Service) Ready(_ context.Context) error {
	return s.repo.Ping()
}

// Close interrupts a background commit and waits for it to finish.
func (s *Service) Close() {
	s.stop()
	s.wg.Wait()
}

// Layout returns the trajectory layout of the session.
func (s *Service) Layout() blend.Layout { return s.engine.Layout() }

func (s *Service) node(index int) (blend.Ref, error) {
	node := blend.Node(index)
	if _, err := s.engine.Layout().FrameOf(node); err != nil {
		return node, mapErr(err)
	}
	return node, nil
}

// refreshNodes rebuilds the node view from st and announces it. Callers hold mu.
func (s *Service) refreshNodes() {
	l := s.engine.Layout()
	nodes := make([]Node, l.NodeCount)
	for i := range nodes {
		pos, _ := s.engine.NodePosition(s.st, blend.Node(i))
		nodes[i] = Node{Index: i, Frame: l.FrameOfIndex(i), Position: vecOf(pos)}
	}
	s.viewMu.Lock()
	s.nodes = nodes
	s.viewMu.Unlock()
	s.publish(sse.TypeNodesUpdated, nodes)
}

func (s *Service) nodesView() []Node {
	s.viewMu.RLock()
	defer s.viewMu.RUnlock()
	if s.nodes == nil {
		return nil
	}
	return append([]Node(nil), s.nodes...)
}

func (s *Service) publish(typ string, data any) {
	if s.pub == nil {
		return
	}
	s.pub.Publish(sse.Event{Type: typ, Data: data})
}

func commitOf(r store.CommitRow) Commit {
	return Commit{
		ID:               r.ID,
		Node:             r.Node,
		Body:             r.Body,
		RootFrame:        r.RootFrame,
		Transform:        Vec{X: r.Transform[0], Y: r.Transform[1], Z: r.Transform[2]},
		Frames:           r.Frames,
		Skipped:          r.Skipped,
		SolverIterations: r.SolverIterations,
		Unconverged:      r.Unconverged,
		Partial:          r.Partial,
		ElapsedMS:        r.Elapsed.Milliseconds(),
		Error:            r.Error,
		CreatedAt:        r.CreatedAt,
	}
}

func mapErr(err error) error {
	switch {
	case errors.Is(err, blend.ErrNodeRange), errors.Is(err, blend.ErrNotNode), errors.Is(err, blend.ErrNotBody):
		return fmt.Errorf("%w: %w", apperr.ErrInvalid, err)
	case errors.Is(err, timeline.ErrFrameRange):
		return fmt.Errorf("%w: %w", apperr.ErrNotFound, err)
	}
	return err
}

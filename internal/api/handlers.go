package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/starford/waypoint/internal/blend"
	"github.com/starford/waypoint/internal/editservice"
)

// Handler holds API route handlers.
type Handler struct {
	svc EditService
}

// NewHandler creates a new Handler.
func NewHandler(svc EditService) *Handler {
	return &Handler{svc: svc}
}

// intParam parses a numeric chi URL parameter.
func intParam(r *http.Request, name string) (int, bool) {
	v, err := strconv.Atoi(chi.URLParam(r, name))
	return v, err == nil
}

// ListNodes handles GET /api/nodes.
//
//	@Summary		List handle nodes and their current positions
//	@Tags			nodes
//	@Produce		json
//	@Success		200	{object}	NodesResponse
//	@Failure		409	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/nodes [get]
func (h *Handler) ListNodes(w http.ResponseWriter, r *http.Request) {
	nodes, err := h.svc.Nodes(r.Context())
	if err != nil {
		writeServiceError(w, "list nodes", err)
		return
	}
	writeJSON(w, http.StatusOK, NodesResponse{Nodes: nodes})
}

// DragNode handles PUT /api/nodes/{index}.
//
//	@Summary		Move a node and preview the effect on the other nodes
//	@Tags			nodes
//	@Accept			json
//	@Produce		json
//	@Param			index	path		int			true	"Node index"
//	@Param			body	body		DragRequest	true	"New node position"
//	@Success		200		{object}	NodesResponse
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/nodes/{index} [put]
func (h *Handler) DragNode(w http.ResponseWriter, r *http.Request) {
	index, ok := intParam(r, "index")
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("node index must be an integer"))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req DragRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.X == nil || req.Y == nil || req.Z == nil {
		writeJSON(w, http.StatusBadRequest, errorBody("x, y and z are required"))
		return
	}

	nodes, err := h.svc.Drag(r.Context(), index, editservice.Vec{X: *req.X, Y: *req.Y, Z: *req.Z})
	if err != nil {
		writeServiceError(w, "drag node", err)
		return
	}
	writeJSON(w, http.StatusOK, NodesResponse{Nodes: nodes})
}

// DropNode handles POST /api/nodes/{index}/drop.
//
//	@Summary		Commit the current drag of a node into the timeline
//	@Description	Runs in the background by default and answers 202 with the commit id;
//	@Description	progress arrives on the event stream. With wait=true the request blocks
//	@Description	until the commit finishes and returns its summary.
//	@Tags			nodes
//	@Produce		json
//	@Param			index	path		int		true	"Node index"
//	@Param			wait	query		bool	false	"Run synchronously"
//	@Success		200		{object}	Commit
//	@Success		202		{object}	CommitAccepted
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/nodes/{index}/drop [post]
func (h *Handler) DropNode(w http.ResponseWriter, r *http.Request) {
	index, ok := intParam(r, "index")
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("node index must be an integer"))
		return
	}

	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		c, err := h.svc.Drop(r.Context(), index)
		if err != nil && !errors.Is(err, blend.ErrInterrupted) {
			writeServiceError(w, "drop node", err)
			return
		}
		writeJSON(w, http.StatusOK, c)
		return
	}

	id, err := h.svc.StartDrop(r.Context(), index)
	if err != nil {
		writeServiceError(w, "drop node", err)
		return
	}
	writeJSON(w, http.StatusAccepted, CommitAccepted{ID: id, Status: "running"})
}

// GetFrame handles GET /api/frames/{frame}.
//
//	@Summary		Get the stored pose of one frame
//	@Tags			timeline
//	@Produce		json
//	@Param			frame	path		int	true	"Frame number"
//	@Success		200		{object}	FrameResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/frames/{frame} [get]
func (h *Handler) GetFrame(w http.ResponseWriter, r *http.Request) {
	frame, ok := intParam(r, "frame")
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("frame must be an integer"))
		return
	}
	q, err := h.svc.Frame(r.Context(), frame)
	if err != nil {
		writeServiceError(w, "get frame", err)
		return
	}
	writeJSON(w, http.StatusOK, FrameResponse{Frame: frame, Qpos: q})
}

// Reload handles POST /api/timeline/reload.
//
//	@Summary		Reload the timeline from its source and re-derive the nodes
//	@Tags			timeline
//	@Success		204	"Timeline reloaded"
//	@Security		BearerAuth
//	@Router			/timeline/reload [post]
func (h *Handler) Reload(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Reload(r.Context()); err != nil {
		writeServiceError(w, "reload timeline", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListCommits handles GET /api/commits.
//
//	@Summary		List recorded commits, newest first
//	@Tags			commits
//	@Produce		json
//	@Param			limit	query		int	false	"Max results"
//	@Success		200		{object}	CommitsResponse
//	@Security		BearerAuth
//	@Router			/commits [get]
func (h *Handler) ListCommits(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	commits, err := h.svc.Commits(r.Context(), limit)
	if err != nil {
		writeServiceError(w, "list commits", err)
		return
	}
	if commits == nil {
		commits = []Commit{}
	}
	writeJSON(w, http.StatusOK, CommitsResponse{Commits: commits})
}

// RunningCommit handles GET /api/commits/running.
//
//	@Summary		Show the running commit
//	@Tags			commits
//	@Produce		json
//	@Success		200	{object}	CommitAccepted
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/commits/running [get]
func (h *Handler) RunningCommit(w http.ResponseWriter, _ *http.Request) {
	id, ok := h.svc.Running()
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody("no commit running"))
		return
	}
	writeJSON(w, http.StatusOK, CommitAccepted{ID: id, Status: "running"})
}

// CancelCommit handles POST /api/commits/cancel.
//
//	@Summary		Interrupt the running commit
//	@Description	Frames already solved stay committed.
//	@Tags			commits
//	@Produce		json
//	@Success		200	{object}	CommitAccepted
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/commits/cancel [post]
func (h *Handler) CancelCommit(w http.ResponseWriter, r *http.Request) {
	id, err := h.svc.CancelCommit()
	if err != nil {
		writeServiceError(w, "cancel commit", err)
		return
	}
	writeJSON(w, http.StatusOK, CommitAccepted{ID: id, Status: "cancelling"})
}

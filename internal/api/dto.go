package api

import "github.com/starford/waypoint/internal/editservice"

// DragRequest is the request body for moving a node.
type DragRequest struct {
	X *float64 `json:"x" example:"0.25" validate:"required"`
	Y *float64 `json:"y" example:"-0.1" validate:"required"`
	Z *float64 `json:"z" example:"1.05" validate:"required"`
}

// Node is a handle node in API responses (aliased from the domain layer).
type Node = editservice.Node

// Commit is a commit summary in API responses (aliased from the domain layer).
type Commit = editservice.Commit

// NodesResponse wraps the node list.
type NodesResponse struct {
	Nodes []Node `json:"nodes" validate:"required"`
}

// CommitAccepted is returned when a commit starts in the background.
type CommitAccepted struct {
	ID     string `json:"id" example:"5f0c7a1e-3b7e-4c55-9a55-1f3e0e8b9c11" validate:"required"`
	Status string `json:"status" example:"running" validate:"required"`
}

// CommitsResponse wraps the commit history.
type CommitsResponse struct {
	Commits []Commit `json:"commits" validate:"required"`
}

// FrameResponse is one stored pose.
type FrameResponse struct {
	Frame int       `json:"frame" example:"120" validate:"required"`
	Qpos  []float64 `json:"qpos" validate:"required"`
}

package api

import (
	"context"

	"github.com/starford/waypoint/internal/editservice"
)

// EditService is the editing session the handlers drive.
type EditService interface {
	Nodes(ctx context.Context) ([]editservice.Node, error)
	Drag(ctx context.Context, index int, pos editservice.Vec) ([]editservice.Node, error)
	Drop(ctx context.Context, index int) (editservice.Commit, error)
	StartDrop(ctx context.Context, index int) (string, error)
	CancelCommit() (string, error)
	Running() (string, bool)
	Frame(ctx context.Context, i int) ([]float64, error)
	Commits(ctx context.Context, limit int) ([]editservice.Commit, error)
	Reload(ctx context.Context) error
}

// Verify *editservice.Service satisfies EditService at compile time.
var _ EditService = (*editservice.Service)(nil)

// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes the trajectory editor to LLMs via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/waypoint/internal/blend"
	"github.com/starford/waypoint/internal/editservice"
)

const guideURI = "waypoint://editing-guide"

// EditService is the subset of the edit service used by the tools.
type EditService interface {
	Nodes(ctx context.Context) ([]editservice.Node, error)
	Drag(ctx context.Context, index int, pos editservice.Vec) ([]editservice.Node, error)
	Drop(ctx context.Context, index int) (editservice.Commit, error)
	CancelCommit() (string, error)
	Frame(ctx context.Context, i int) ([]float64, error)
	Commits(ctx context.Context, limit int) ([]editservice.Commit, error)
	Reload(ctx context.Context) error
}

var _ EditService = (*editservice.Service)(nil)

// Source describes the trajectory input file that import_trajectory replaces.
type Source struct {
	Path   string
	Frames int
	DoF    int
}

// Server wraps the MCP server with the editing tools.
type Server struct {
	mcp *server.MCPServer
	svc EditService
	src Source
}

// New creates a new MCP server with all tools registered.
func New(svc EditService, src Source) *Server {
	s := &Server{svc: svc, src: src}

	s.mcp = server.NewMCPServer(
		"Waypoint",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_nodes",
		mcp.WithDescription("List the handle nodes with their frame and current position."),
	), s.listNodes)

	s.mcp.AddTool(mcp.NewTool("drag_node",
		mcp.WithDescription("Move a node to a new position and preview the effect on the "+
			"other nodes. Nothing is committed until drop_node is called."),
		mcp.WithNumber("index", mcp.Required(), mcp.Description("Node index")),
		mcp.WithNumber("x", mcp.Required(), mcp.Description("Target X")),
		mcp.WithNumber("y", mcp.Required(), mcp.Description("Target Y")),
		mcp.WithNumber("z", mcp.Required(), mcp.Description("Target Z")),
	), s.dragNode)

	s.mcp.AddTool(mcp.NewTool("drop_node",
		mcp.WithDescription("Commit the current drag of a node into the trajectory. "+
			"Blocks until every frame in the blend window is re-solved."),
		mcp.WithNumber("index", mcp.Required(), mcp.Description("Node index")),
	), s.dropNode)

	s.mcp.AddTool(mcp.NewTool("get_frame",
		mcp.WithDescription("Read the stored pose (qpos) of one frame."),
		mcp.WithNumber("frame", mcp.Required(), mcp.Description("Frame number")),
	), s.getFrame)

	s.mcp.AddTool(mcp.NewTool("list_commits",
		mcp.WithDescription("List recorded commits, newest first."),
		mcp.WithNumber("limit", mcp.Description("Max results (default 20)")),
	), s.listCommits)

	s.mcp.AddTool(mcp.NewTool("cancel_commit",
		mcp.WithDescription("Interrupt the running commit. Frames already solved stay committed."),
	), s.cancelCommit)

	s.mcp.AddTool(mcp.NewTool("import_trajectory",
		mcp.WithDescription("Replace the trajectory with a file fetched from an http(s) URL "+
			"or a base64 data URI, then reload the timeline. Read the editing guide for the formats."),
		mcp.WithString("url", mcp.Required(), mcp.Description("http(s) URL or data:...;base64, URI")),
		mcp.WithString("format", mcp.Description("text or yaml (detected when empty)")),
	), s.importTrajectory)

	s.mcp.AddTool(mcp.NewTool("get_editing_guide",
		mcp.WithDescription("Returns the editing workflow and the trajectory file formats."),
	), s.getEditingGuide)

	s.mcp.AddResource(
		mcp.NewResource(guideURI, "Editing Guide",
			mcp.WithResourceDescription("Node editing workflow and trajectory file formats."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readGuideResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) *mcp.CallToolResult {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultText(string(out))
}

func (s *Server) listNodes(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	nodes, err := s.svc.Nodes(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(nodes), nil
}

func (s *Server) dragNode(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	index, err := req.RequireInt("index")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var pos editservice.Vec
	for _, c := range []struct {
		name string
		dst  *float64
	}{{"x", &pos.X}, {"y", &pos.Y}, {"z", &pos.Z}} {
		if *c.dst, err = req.RequireFloat(c.name); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
	}

	nodes, err := s.svc.Drag(ctx, index, pos)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(nodes), nil
}

func (s *Server) dropNode(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	index, err := req.RequireInt("index")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	c, err := s.svc.Drop(ctx, index)
	if err != nil && !errors.Is(err, blend.ErrInterrupted) {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(c), nil
}

func (s *Server) getFrame(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	frame, err := req.RequireInt("frame")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	q, err := s.svc.Frame(ctx, frame)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{"frame": frame, "qpos": q}), nil
}

func (s *Server) listCommits(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	commits, err := s.svc.Commits(ctx, req.GetInt("limit", 20))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(commits) == 0 {
		return mcp.NewToolResultText("no commits recorded"), nil
	}
	return jsonResult(commits), nil
}

func (s *Server) cancelCommit(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := s.svc.CancelCommit()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("cancelling: %s", id)), nil
}

func (s *Server) getEditingGuide(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(EditingGuide), nil
}

func (s *Server) readGuideResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      guideURI,
			MIMEType: "text/markdown",
			Text:     EditingGuide,
		},
	}, nil
}

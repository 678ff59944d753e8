package mcpserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/waypoint/internal/apperr"
	"github.com/starford/waypoint/internal/editservice"
	"github.com/starford/waypoint/internal/trajfile"
)

type fakeService struct {
	nodes   []editservice.Node
	commits []editservice.Commit
	frames  [][]float64
	reloads int
	running string
}

func (f *fakeService) Nodes(context.Context) ([]editservice.Node, error) { return f.nodes, nil }

func (f *fakeService) Drag(_ context.Context, index int, pos editservice.Vec) ([]editservice.Node, error) {
	if index < 0 || index >= len(f.nodes) {
		return nil, fmt.Errorf("%w: node %d", apperr.ErrInvalid, index)
	}
	f.nodes[index].Position = pos
	return f.nodes, nil
}

func (f *fakeService) Drop(_ context.Context, index int) (editservice.Commit, error) {
	if index < 0 || index >= len(f.nodes) {
		return editservice.Commit{}, fmt.Errorf("%w: node %d", apperr.ErrInvalid, index)
	}
	c := editservice.Commit{ID: "c1", Node: index, RootFrame: f.nodes[index].Frame, Frames: 3}
	f.commits = append(f.commits, c)
	return c, nil
}

func (f *fakeService) CancelCommit() (string, error) {
	if f.running == "" {
		return "", fmt.Errorf("%w: no commit running", apperr.ErrNotFound)
	}
	return f.running, nil
}

func (f *fakeService) Frame(_ context.Context, i int) ([]float64, error) {
	if i < 0 || i >= len(f.frames) {
		return nil, fmt.Errorf("%w: frame %d", apperr.ErrNotFound, i)
	}
	return f.frames[i], nil
}

func (f *fakeService) Commits(_ context.Context, limit int) ([]editservice.Commit, error) {
	if limit > 0 && limit < len(f.commits) {
		return f.commits[:limit], nil
	}
	return f.commits, nil
}

func (f *fakeService) Reload(context.Context) error {
	f.reloads++
	return nil
}

func testServer(t *testing.T) (*Server, *fakeService, string) {
	t.Helper()
	svc := &fakeService{
		nodes: []editservice.Node{
			{Index: 0, Frame: 0},
			{Index: 1, Frame: 4, Position: editservice.Vec{Z: 1}},
		},
		frames: trajfile.Cyclic(8, 4),
	}
	path := filepath.Join(t.TempDir(), "traj.txt")
	return New(svc, Source{Path: path, Frames: 8, DoF: 4}), svc, path
}

func callTool(t *testing.T, srv *Server, name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	var result *mcp.CallToolResult
	var err error

	switch name {
	case "list_nodes":
		result, err = srv.listNodes(ctx, req)
	case "drag_node":
		result, err = srv.dragNode(ctx, req)
	case "drop_node":
		result, err = srv.dropNode(ctx, req)
	case "get_frame":
		result, err = srv.getFrame(ctx, req)
	case "list_commits":
		result, err = srv.listCommits(ctx, req)
	case "cancel_commit":
		result, err = srv.cancelCommit(ctx, req)
	case "import_trajectory":
		result, err = srv.importTrajectory(ctx, req)
	case "get_editing_guide":
		result, err = srv.getEditingGuide(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestDragAndDrop(t *testing.T) {
	srv, svc, _ := testServer(t)

	r := callTool(t, srv, "drag_node", map[string]interface{}{"index": 1, "x": 0.5, "y": 0, "z": 2})
	if r.IsError {
		t.Fatalf("drag failed: %s", resultText(r))
	}
	var nodes []editservice.Node
	if err := json.Unmarshal([]byte(resultText(r)), &nodes); err != nil {
		t.Fatal(err)
	}
	if nodes[1].Position != (editservice.Vec{X: 0.5, Z: 2}) {
		t.Errorf("node 1 = %+v", nodes[1])
	}

	r = callTool(t, srv, "drop_node", map[string]interface{}{"index": 1})
	if r.IsError {
		t.Fatalf("drop failed: %s", resultText(r))
	}
	var c editservice.Commit
	_ = json.Unmarshal([]byte(resultText(r)), &c)
	if c.RootFrame != 4 || len(svc.commits) != 1 {
		t.Errorf("commit = %+v", c)
	}

	r = callTool(t, srv, "list_commits", map[string]interface{}{})
	if !strings.Contains(resultText(r), `"root_frame": 4`) {
		t.Errorf("list_commits = %s", resultText(r))
	}
}

func TestDragNode_Errors(t *testing.T) {
	srv, _, _ := testServer(t)

	r := callTool(t, srv, "drag_node", map[string]interface{}{"index": 1, "x": 0.5, "y": 0})
	if !r.IsError {
		t.Error("expected error for missing z")
	}
	r = callTool(t, srv, "drag_node", map[string]interface{}{"index": 9, "x": 0, "y": 0, "z": 0})
	if !r.IsError || !strings.Contains(resultText(r), "invalid") {
		t.Errorf("out of range = %q", resultText(r))
	}
}

func TestGetFrame(t *testing.T) {
	srv, _, _ := testServer(t)
	r := callTool(t, srv, "get_frame", map[string]interface{}{"frame": 2})
	if r.IsError || !strings.Contains(resultText(r), `"frame": 2`) {
		t.Errorf("get_frame = %s", resultText(r))
	}
	r = callTool(t, srv, "get_frame", map[string]interface{}{"frame": 8})
	if !r.IsError {
		t.Error("expected error for missing frame")
	}
}

func TestListCommits_Empty(t *testing.T) {
	srv, _, _ := testServer(t)
	r := callTool(t, srv, "list_commits", map[string]interface{}{"limit": 5})
	if text := resultText(r); text != "no commits recorded" {
		t.Errorf("list_commits = %q", text)
	}
}

func TestCancelCommit_Idle(t *testing.T) {
	srv, _, _ := testServer(t)
	r := callTool(t, srv, "cancel_commit", map[string]interface{}{})
	if !r.IsError {
		t.Error("expected error when nothing runs")
	}
}

func TestImportTrajectory_DataURI(t *testing.T) {
	srv, svc, path := testServer(t)

	frames := trajfile.Cyclic(8, 4)
	var sb strings.Builder
	if err := trajfile.Write(&sb, trajfile.FormatYAML, frames); err != nil {
		t.Fatal(err)
	}
	uri := "data:application/yaml;base64," + base64.StdEncoding.EncodeToString([]byte(sb.String()))

	r := callTool(t, srv, "import_trajectory", map[string]interface{}{"url": uri})
	if r.IsError {
		t.Fatalf("import failed: %s", resultText(r))
	}
	if svc.reloads != 1 {
		t.Errorf("reloads = %d, want 1", svc.reloads)
	}

	got, _, err := trajfile.Read(path, 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 8 || got[3][0] != frames[3][0] {
		t.Errorf("written frames = %v", got)
	}
}

func TestImportTrajectory_Rejects(t *testing.T) {
	srv, svc, path := testServer(t)

	short := base64.StdEncoding.EncodeToString([]byte("0 0 1 0\n0 0 1 0\n"))
	cases := []struct {
		name string
		args map[string]interface{}
		want string
	}{
		{"wrong frame count", map[string]interface{}{"url": "data:text/plain;base64," + short}, "at least 8"},
		{"not base64", map[string]interface{}{"url": "data:text/plain,0 0 1 0"}, "base64"},
		{"bad format", map[string]interface{}{"url": "data:text/plain;base64," + short, "format": "csv"}, "unsupported format"},
		{"scheme", map[string]interface{}{"url": "ftp://example.com/t.txt"}, "unsupported scheme"},
		{"loopback", map[string]interface{}{"url": "http://127.0.0.1/t.txt"}, "loopback"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			r := callTool(t, srv, "import_trajectory", c.args)
			if !r.IsError || !strings.Contains(resultText(r), c.want) {
				t.Errorf("result = %q, want error containing %q", resultText(r), c.want)
			}
		})
	}
	if svc.reloads != 0 {
		t.Errorf("reloads = %d, want 0", svc.reloads)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("input file written on rejected import: %v", err)
	}
}

func TestPickFormat(t *testing.T) {
	cases := []struct {
		explicit, mime, url string
		want                trajfile.Format
	}{
		{"yaml", "text/plain", "https://h/t.txt", trajfile.FormatYAML},
		{"", "application/x-yaml", "https://h/t.txt", trajfile.FormatYAML},
		{"", "application/octet-stream", "https://h/t.yml", trajfile.FormatYAML},
		{"", "", "https://h/t.dat", trajfile.FormatText},
	}
	for _, c := range cases {
		got, err := pickFormat(c.explicit, c.mime, c.url)
		if err != nil || got != c.want {
			t.Errorf("pickFormat(%q, %q, %q) = %v, %v", c.explicit, c.mime, c.url, got, err)
		}
	}
}

func TestEditingGuide(t *testing.T) {
	srv, _, _ := testServer(t)
	r := callTool(t, srv, "get_editing_guide", map[string]interface{}{})
	if !strings.Contains(resultText(r), "drop_node") {
		t.Error("guide does not mention drop_node")
	}
}

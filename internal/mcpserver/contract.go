package mcpserver

// EditingGuide describes the node editing workflow and the trajectory file
// formats for LLM consumers driving the editor.
const EditingGuide = `# Waypoint Editing Guide

Waypoint edits a fixed-length robot trajectory by dragging handle nodes.

## Nodes

- The timeline is split into N equal segments. Node i sits on frame i*stride,
  where stride = frames / N.
- A node holds a 3D position. After a load or a commit each node sits on the
  tracked body's position at its frame.

## Workflow

1. Call ` + "`" + `list_nodes` + "`" + ` to see where every node is.
2. Call ` + "`" + `drag_node` + "`" + ` with a node index and a target position. This is a
   preview only: neighbouring nodes shift by a Gaussian falloff of the drag,
   the stored trajectory is untouched.
3. Call ` + "`" + `drop_node` + "`" + ` with the same index to commit. Every frame within the
   blend window is re-solved so the tracked body follows the dragged offset,
   weighted by distance from the node's frame.
4. Inspect results with ` + "`" + `get_frame` + "`" + ` and ` + "`" + `list_commits` + "`" + `.

Only one commit runs at a time. While it runs, drags and drops report busy.
` + "`" + `cancel_commit` + "`" + ` stops a commit started elsewhere; frames already solved stay.

## Trajectory files

` + "`" + `import_trajectory` + "`" + ` replaces the whole timeline. The frame count and the
width of every frame must match the configured model.

Text format: one frame per line, whitespace-separated numbers. Blank lines and
lines starting with # are ignored.

` + "```" + `text
# base x y z, then one angle per joint
0 0 1 0.10 -0.20
0 0.01 1 0.11 -0.19
` + "```" + `

YAML format:

` + "```" + `yaml
frames:
  - [0, 0, 1, 0.10, -0.20]
  - [0, 0.01, 1, 0.11, -0.19]
` + "```" + `
`

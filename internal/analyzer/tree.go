package analyzer

import (
	"sort"

	"vmprof-mcp/internal/vmprof"
)

// Node is one call path in the aggregated call tree. The root is synthetic and
// carries no frame.
type Node struct {
	Frame    vmprof.FrameID
	Count    int // samples whose stack passes through this path
	Self     int // samples whose stack ends at this path
	Children map[vmprof.FrameID]*Node
	Lines    map[int64]int // per-line hits of Frame, only with line profiling
}

func newNode(frame vmprof.FrameID) *Node {
	return &Node{Frame: frame, Children: make(map[vmprof.FrameID]*Node)}
}

// BuildTree inserts every sample stack into a fresh tree in a single pass.
// Failed samples are skipped.
func BuildTree(samples []vmprof.Sample) *Node {
	root := newNode(0)
	for i := range samples {
		s := &samples[i]
		if s.Failed() {
			continue
		}

		node := root
		node.Count++
		for depth, frame := range s.Stack {
			child, ok := node.Children[frame]
			if !ok {
				child = newNode(frame)
				node.Children[frame] = child
			}
			child.Count++
			if depth < len(s.Lines) {
				if child.Lines == nil {
					child.Lines = make(map[int64]int)
				}
				child.Lines[s.Lines[depth]]++
			}
			node = child
		}
		node.Self++
	}
	return root
}

// SortedChildren returns the children by descending count, ties by frame id.
func (n *Node) SortedChildren() []*Node {
	children := make([]*Node, 0, len(n.Children))
	for _, c := range n.Children {
		children = append(children, c)
	}
	sort.Slice(children, func(i, j int) bool {
		if children[i].Count != children[j].Count {
			return children[i].Count > children[j].Count
		}
		return children[i].Frame < children[j].Frame
	})
	return children
}

// Walk visits n and its descendants depth first in SortedChildren order. The
// root has depth 0. Returning false from fn skips the node's subtree.
func (n *Node) Walk(fn func(node *Node, depth int) bool) {
	n.walk(fn, 0)
}

func (n *Node) walk(fn func(*Node, int) bool, depth int) {
	if !fn(n, depth) {
		return
	}
	for _, c := range n.SortedChildren() {
		c.walk(fn, depth+1)
	}
}

// Find follows path from n and returns the node it reaches.
func (n *Node) Find(path ...vmprof.FrameID) (*Node, bool) {
	node := n
	for _, frame := range path {
		child, ok := node.Children[frame]
		if !ok {
			return nil, false
		}
		node = child
	}
	return node, true
}

// Depth returns the length of the longest path below n.
func (n *Node) Depth() int {
	depth := 0
	for _, c := range n.Children {
		if d := c.Depth() + 1; d > depth {
			depth = d
		}
	}
	return depth
}

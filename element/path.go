package element

import "strings"

// stripSliceNames removes ":slicename" suffixes from every segment of a
// dotted id, producing the corresponding path-shaped string.
func stripSliceNames(id string) string {
	segments := IDSegments(id)
	for i, seg := range segments {
		name, _ := SplitSegment(seg)
		segments[i] = name
	}
	return strings.Join(segments, ".")
}

// rewriteOne rewrites a single dotted string (id or path) whose prefix is
// oldPrefix to have prefix newPrefix. Segments after the prefix are left
// untouched. Strings that do not start with oldPrefix (as a whole segment
// or segment-prefix) are returned unchanged.
func rewriteOne(value, newPrefix, oldPrefix string) string {
	if value == oldPrefix {
		return newPrefix
	}
	if strings.HasPrefix(value, oldPrefix+".") {
		return newPrefix + value[len(oldPrefix):]
	}
	return value
}

// RewritePrefix produces a new element sequence with id/path prefixes
// retargeted from oldPrefix to newPrefix. ids keep slice names; paths are
// rewritten against the slice-name-stripped form of both prefixes.
func RewritePrefix(elements []Element, newPrefix, oldPrefix string) []Element {
	oldPathPrefix := stripSliceNames(oldPrefix)
	newPathPrefix := stripSliceNames(newPrefix)

	out := make([]Element, len(elements))
	for i, e := range elements {
		c := e.Clone()
		c.ID = rewriteOne(e.ID, newPrefix, oldPrefix)
		c.Path = rewriteOne(e.Path, newPathPrefix, oldPathPrefix)
		out[i] = c
	}
	return out
}

// RewriteNode applies RewritePrefix to every definition-bearing node in a
// tree, keeping id/path segments in lock-step, and returns a new tree.
// The container nodes (array/poly/resliced) carry no definition and are
// rewritten on their own ID/Path/IDSegments/PathSegments fields directly.
func RewriteNode(n *Node, newPrefix, oldPrefix string) *Node {
	if n == nil {
		return nil
	}
	oldPathPrefix := stripSliceNames(oldPrefix)
	newPathPrefix := stripSliceNames(newPrefix)

	var walk func(node *Node) *Node
	walk = func(node *Node) *Node {
		c := &Node{Kind: node.Kind, SliceName: node.SliceName}
		c.ID = rewriteOne(node.ID, newPrefix, oldPrefix)
		c.Path = rewriteOne(node.Path, newPathPrefix, oldPathPrefix)
		c.IDSegments = IDSegments(c.ID)
		c.PathSegments = PathSegments(c.Path)
		if node.Definition != nil {
			d := node.Definition.Clone()
			d.ID = c.ID
			d.Path = c.Path
			c.Definition = &d
		}
		for _, child := range node.Children {
			c.Children = append(c.Children, walk(child))
		}
		return c
	}
	return walk(n)
}

package element

import "errors"

// Errors returned by tree construction and flattening.
var (
	// ErrParentNotFound is returned by ToTree when an element's computed
	// parent id has not yet been materialised. Differentials are expected
	// to reference ids in breadth-first legal order; this error signals
	// malformed input, not an engine bug.
	ErrParentNotFound = errors.New("element: parent-not-found")

	// ErrMissingDefinition is returned by FromTree when a node whose kind
	// should emit a definition (element, slice, headslice) carries none.
	// This always indicates an engine bug, never malformed input.
	ErrMissingDefinition = errors.New("element: missing-definition")

	// ErrEmptyInput is returned by ToTree when given no elements.
	ErrEmptyInput = errors.New("element: empty input")
)

// Node is one node of the typed tree built from a flat element sequence.
// Container kinds (array, poly, resliced) never carry a Definition; their
// template lives on their first child, a headslice.
type Node struct {
	ID   string
	Path string

	IDSegments   []string
	PathSegments []string

	Kind Kind

	// Definition is present on element, slice, headslice nodes; absent on
	// array, poly, resliced containers.
	Definition *Element

	// SliceName mirrors Definition.SliceName for slice/resliced nodes.
	SliceName string

	Children []*Node
}

// HeadSlice returns the node's first child if this node is sliceable and
// has been expanded, or nil otherwise.
func (n *Node) HeadSlice() *Node {
	if n == nil || !IsSliceable(n.Kind) || len(n.Children) == 0 {
		return nil
	}
	return n.Children[0]
}

// FindChildBySuffix returns the direct child whose id ends with "."+name,
// or whose id equals name (root-level single-segment match), or nil.
func (n *Node) FindChildBySuffix(name string) *Node {
	if n == nil {
		return nil
	}
	for _, c := range n.Children {
		if c.ID == name || endsWithDotSegment(c.ID, name) {
			return c
		}
	}
	return nil
}

func endsWithDotSegment(id, name string) bool {
	if len(id) <= len(name) {
		return false
	}
	return id[len(id)-len(name):] == name && id[len(id)-len(name)-1] == '.'
}

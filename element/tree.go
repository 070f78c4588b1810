package element

// ToTree builds a typed tree from a flat, ordered element sequence. The
// first element becomes the root, with its kind forced to KindElement
// regardless of how Classify would have tagged it. Every later element's
// parent must already be present in the tree (ParentID's "id parent
// lookup" rule); ToTree returns ErrParentNotFound otherwise.
func ToTree(elements []Element) (*Node, error) {
	if len(elements) == 0 {
		return nil, ErrEmptyInput
	}

	rootElem := elements[0].Clone()
	root := &Node{
		ID:           rootElem.ID,
		Path:         rootElem.Path,
		IDSegments:   IDSegments(rootElem.ID),
		PathSegments: PathSegments(rootElem.Path),
		Kind:         KindElement,
		Definition:   &rootElem,
	}

	byID := map[string]*Node{root.ID: root}

	for _, e := range elements[1:] {
		node, err := buildNode(e)
		if err != nil {
			return nil, err
		}

		last := LastSegment(e.ID)
		_, slice := SplitSegment(last)

		parentID := ParentID(e.ID)
		parent, ok := byID[parentID]
		if !ok {
			return nil, ErrParentNotFound
		}

		if slice != "" {
			parent.Children = append(parent.Children, node)
		} else {
			attachTo := parent
			if IsSliceable(parent.Kind) {
				attachTo = parent.HeadSlice()
			}
			attachTo.Children = append(attachTo.Children, node)
		}

		byID[node.ID] = node
	}

	return root, nil
}

// buildNode allocates the node for a non-root element. Sliceable kinds
// (array, poly, resliced) get no Definition of their own; instead a
// synthetic headslice child carrying the element's definition is created
// immediately, satisfying the "sliceable node has a headslice first
// child" invariant as soon as the container is materialised.
func buildNode(e Element) (*Node, error) {
	kind := Classify(&e)
	ec := e.Clone()

	node := &Node{
		ID:           e.ID,
		Path:         e.Path,
		IDSegments:   IDSegments(e.ID),
		PathSegments: PathSegments(e.Path),
		Kind:         kind,
	}
	if kind == KindSlice || kind == KindResliced {
		node.SliceName = e.SliceName
	}

	if IsSliceable(kind) {
		head := &Node{
			ID:           node.ID,
			Path:         node.Path,
			IDSegments:   node.IDSegments,
			PathSegments: node.PathSegments,
			Kind:         KindHeadSlice,
			Definition:   &ec,
		}
		node.Children = []*Node{head}
	} else {
		node.Definition = &ec
	}

	return node, nil
}

// FromTree flattens a tree back into an ordered element sequence,
// emitting only element/slice/headslice definitions in pre-order.
func FromTree(root *Node) ([]Element, error) {
	if root == nil {
		return nil, nil
	}
	var out []Element
	if err := flattenInto(root, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func flattenInto(n *Node, out *[]Element) error {
	if EmitsElement(n.Kind) {
		if n.Definition == nil {
			return ErrMissingDefinition
		}
		*out = append(*out, n.Definition.Clone())
	}
	for _, c := range n.Children {
		if err := flattenInto(c, out); err != nil {
			return err
		}
	}
	return nil
}

// Package branch implements on-demand materialisation of the working
// tree: ExpandNode fetches and attaches a node's children from its type
// definition, EnsureChild guarantees one path segment exists (expanding,
// resolving a monopoly alias, or synthesising a slice as needed), and
// EnsureBranch walks an entire differential id left to right.
package branch

import (
	"context"
	"fmt"
	"strings"

	"github.com/gofhir/snapshotgen/element"
	"github.com/gofhir/snapshotgen/errs"
	"github.com/gofhir/snapshotgen/fetch"
	"github.com/gofhir/snapshotgen/logger"
	"github.com/gofhir/snapshotgen/merge"
	"github.com/gofhir/snapshotgen/monopoly"
)

// Canonical is the alias-map's value type: the canonical id/path a
// shortcut or non-sliceable-slice alias resolves to.
type Canonical struct {
	ID   string
	Path string
}

// AliasMap is scoped to a single diff application: an
// id-string to Canonical mapping, append-only during one application.
// Insertion order is retained alongside the map because diffapply's
// candidate-prefix rewrite must check candidates in the order they were
// installed ("the first to match wins").
type AliasMap struct {
	entries map[string]Canonical
	order   []string
}

// NewAliasMap constructs an empty AliasMap.
func NewAliasMap() AliasMap {
	return AliasMap{entries: make(map[string]Canonical)}
}

// Set records id -> canonical, appending id to the insertion order only
// the first time it is seen.
func (am *AliasMap) Set(id string, canonical Canonical) {
	if am.entries == nil {
		am.entries = make(map[string]Canonical)
	}
	if _, exists := am.entries[id]; !exists {
		am.order = append(am.order, id)
	}
	am.entries[id] = canonical
}

// Get returns the canonical entry for id, if any.
func (am AliasMap) Get(id string) (Canonical, bool) {
	c, ok := am.entries[id]
	return c, ok
}

// Candidates returns every installed alias key in insertion order.
func (am AliasMap) Candidates() []string {
	return am.order
}

// rewriteTransitive follows id through am until it reaches a fixed
// point, supporting the "rewrite canonical_parent through alias_map if
// present (transitive)" step of EnsureBranch.
func (am AliasMap) rewriteTransitive(id string) string {
	for {
		c, ok := am.entries[id]
		if !ok || c.ID == id {
			return id
		}
		id = c.ID
	}
}

// ExpandNode populates node's children from its type information. It
// refuses sliceable nodes (callers must pick a head-slice or a slice)
// and is a no-op if node already has children.
func ExpandNode(ctx context.Context, node *element.Node, f *fetch.Fetcher) error {
	if element.IsSliceable(node.Kind) {
		return fmt.Errorf("branch: cannot expand sliceable node %q directly", node.ID)
	}
	if len(node.Children) > 0 {
		return nil
	}
	if node.Definition == nil {
		return errs.New(errs.CannotExpand, node.ID, "", fmt.Errorf("node has no definition"))
	}

	def := node.Definition
	var (
		source []element.Element
		err    error
	)
	switch {
	case def.ContentReference != "":
		source, err = f.GetContentReference(ctx, def.ContentReference)
		if err == nil {
			def.ContentReference = ""
		}
	case len(def.Type) > 1:
		source, err = f.GetBaseType(ctx, "Element")
	case len(def.Type) == 1 && len(def.Type[0].Profile) > 0:
		source, err = f.GetByURL(ctx, def.Type[0].Profile[0])
	case len(def.Type) == 1:
		source, err = f.GetBaseType(ctx, def.Type[0].Code)
	default:
		return errs.New(errs.CannotExpand, node.ID, "", fmt.Errorf("no type and no contentReference"))
	}
	if err != nil {
		return err
	}
	if len(source) == 0 {
		return nil
	}

	rewritten := element.RewritePrefix(source, node.ID, source[0].ID)
	subtree, err := element.ToTree(rewritten)
	if err != nil {
		return err
	}
	node.Children = subtree.Children
	return nil
}

// FindNode searches the tree rooted at root for the node whose ID equals
// id, in pre-order, and returns the first match. A sliceable container
// and its head-slice share one id; the container, visited first, is the
// one returned.
func FindNode(root *element.Node, id string) *element.Node {
	if root == nil {
		return nil
	}
	if root.ID == id {
		return root
	}
	for _, c := range root.Children {
		if found := FindNode(c, id); found != nil {
			return found
		}
	}
	return nil
}

// EnsureChild guarantees that childSegment ("name" or "name:slice")
// exists under parentID within the tree rooted at root: it expands the
// parent if needed, resolves a monopoly shortcut, tolerates a slice name
// on a non-sliceable element as an alias, or synthesises a new slice.
func EnsureChild(ctx context.Context, root *element.Node, parentID, childSegment string, f *fetch.Fetcher, log logger.Interface, aliases *AliasMap) error {
	parentNode := FindNode(root, parentID)
	if parentNode == nil {
		return errs.New(errs.IllegalChild, parentID+"."+childSegment, "", fmt.Errorf("parent %q not found", parentID))
	}

	effectiveParent := parentNode
	if element.IsSliceable(parentNode.Kind) {
		effectiveParent = parentNode.HeadSlice()
	}

	if len(effectiveParent.Children) == 0 {
		if err := ExpandNode(ctx, effectiveParent, f); err != nil {
			return err
		}
	}

	name, slice := element.SplitSegment(childSegment)

	child := effectiveParent.FindChildBySuffix(name)
	if child == nil {
		shortcut, ok := monopoly.Resolve(effectiveParent, name)
		if !ok {
			return errs.New(errs.IllegalChild, parentID+"."+childSegment, "", fmt.Errorf("no child %q under %q", name, effectiveParent.ID))
		}

		polyNode := effectiveParent.FindChildBySuffix(shortcut.RewrittenSegment)
		aliases.Set(parentID+"."+name, Canonical{ID: polyNode.ID, Path: polyNode.Path})

		head := polyNode.HeadSlice()
		virtual := element.Element{ID: head.ID, Path: head.Path, Type: []element.TypeRef{{Code: shortcut.Type}}}
		merged, err := merge.Merge(*head.Definition, virtual)
		if err != nil {
			return err
		}
		*head.Definition = merged
		return nil
	}

	if slice == "" {
		return nil
	}

	if !element.IsSliceable(child.Kind) {
		log.Warn("non-sliceable element %q addressed with slice name %q; tolerating as alias", child.ID, slice)
		aliases.Set(child.ID+":"+slice, Canonical{ID: child.ID, Path: child.Path})
		return nil
	}

	for _, sub := range child.Children[1:] {
		if sub.SliceName == slice {
			return nil
		}
	}

	head := child.HeadSlice()
	if strings.HasSuffix(name, "[x]") && len(head.Definition.Type) == 1 {
		base := strings.TrimSuffix(name, "[x]")
		candidate := base + initCap(head.Definition.Type[0].Code)
		if strings.EqualFold(candidate, slice) {
			aliases.Set(child.ID+":"+slice, Canonical{ID: child.ID, Path: child.Path})
			return nil
		}
	}

	return synthesizeSlice(child, head, slice)
}

// synthesizeSlice clones the head-slice's flattened subtree, rewrites its
// ids/paths to carry ":slice", rebuilds it as a tree, turns its root into
// a slice, strips slicing/mustSupport, stamps sliceName, and appends it
// to child's children.
func synthesizeSlice(child, head *element.Node, slice string) error {
	headElements, err := element.FromTree(head)
	if err != nil {
		return err
	}

	newPrefix := child.ID + ":" + slice
	rewritten := element.RewritePrefix(headElements, newPrefix, child.ID)

	sliceRoot, err := element.ToTree(rewritten)
	if err != nil {
		return err
	}

	sliceRoot.Kind = element.KindSlice
	sliceRoot.SliceName = slice
	sliceRoot.Definition.Slicing = nil
	sliceRoot.Definition.MustSupport = false
	sliceRoot.Definition.SliceName = slice

	child.Children = append(child.Children, sliceRoot)
	return nil
}

func initCap(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// EnsureBranch walks targetID's segments left to right from root,
// calling EnsureChild for each, and rewriting the walking cursor through
// aliases before each descent (transitively) so earlier-installed
// aliases affect later segments within the same id.
func EnsureBranch(ctx context.Context, root *element.Node, targetID string, f *fetch.Fetcher, log logger.Interface, aliases *AliasMap) error {
	segments := element.IDSegments(targetID)
	if len(segments) == 0 {
		return nil
	}
	if root.ID != segments[0] {
		return errs.New(errs.RootMismatch, targetID, "", fmt.Errorf("root id %q", root.ID))
	}

	canonicalParent := segments[0]
	for _, seg := range segments[1:] {
		canonicalParent = aliases.rewriteTransitive(canonicalParent)
		if err := EnsureChild(ctx, root, canonicalParent, seg, f, log, aliases); err != nil {
			return err
		}
		canonicalParent = canonicalParent + "." + seg
	}
	return nil
}

// Package diffapply applies a differential onto a migrated base
// snapshot: strip the root's extensions, ensure every differential id's
// branch exists, rewrite the entry's id/path through the alias map
// accumulated so far, then merge it into its target.
package diffapply

import (
	"context"
	"strings"

	"github.com/gofhir/snapshotgen/branch"
	"github.com/gofhir/snapshotgen/element"
	"github.com/gofhir/snapshotgen/fetch"
	"github.com/gofhir/snapshotgen/logger"
	"github.com/gofhir/snapshotgen/merge"
)

// Apply merges differential onto base, returning the resulting element
// sequence. base and differential are never mutated.
//
// The tree is the single working representation: every merge writes its
// result back into the target node's definition, so branch
// materialisation triggered by a later entry always sees the merges
// applied so far. The flat output sequence is produced once, at the end.
func Apply(ctx context.Context, base []element.Element, differential []element.Element, f *fetch.Fetcher, log logger.Interface) ([]element.Element, error) {
	if len(base) == 0 {
		return nil, element.ErrEmptyInput
	}

	root, err := element.ToTree(base)
	if err != nil {
		return nil, err
	}
	root.Definition.Extension = nil

	aliases := branch.NewAliasMap()

	for _, d := range differential {
		if branch.FindNode(root, d.ID) == nil {
			if err := branch.EnsureBranch(ctx, root, d.ID, f, log, &aliases); err != nil {
				return nil, err
			}
		}

		entry := rewriteThroughAliases(d, aliases)

		target := branch.FindNode(root, entry.ID)
		if target == nil {
			return nil, element.ErrParentNotFound
		}
		if element.IsSliceable(target.Kind) {
			target = target.HeadSlice()
		}
		if target == nil || target.Definition == nil {
			return nil, element.ErrMissingDefinition
		}

		merged, err := merge.Merge(*target.Definition, entry)
		if err != nil {
			return nil, err
		}
		*target.Definition = merged
	}

	return element.FromTree(root)
}

// rewriteThroughAliases rewrites d's id and path independently against
// the alias map's candidates, in the order they were installed: the
// first candidate prefix to match wins. id is rewritten against
// candidate.ID/alias id, path is rewritten against candidate.Path/the
// path form of the alias key, since the map stores both forms.
func rewriteThroughAliases(d element.Element, aliases branch.AliasMap) element.Element {
	out := d.Clone()

	for _, key := range aliases.Candidates() {
		if out.ID == key || strings.HasPrefix(out.ID, key+".") {
			canonical, _ := aliases.Get(key)
			out.ID = canonical.ID + out.ID[len(key):]
			break
		}
	}

	for _, key := range aliases.Candidates() {
		keyPath := stripSliceNamesFromID(key)
		if out.Path == keyPath || strings.HasPrefix(out.Path, keyPath+".") {
			canonical, _ := aliases.Get(key)
			out.Path = canonical.Path + out.Path[len(keyPath):]
			break
		}
	}

	return out
}

func stripSliceNamesFromID(id string) string {
	segments := element.IDSegments(id)
	for i, seg := range segments {
		name, _ := element.SplitSegment(seg)
		segments[i] = name
	}
	return strings.Join(segments, ".")
}

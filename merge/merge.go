// Package merge implements the single-element differential merge rules
// of the snapshot generation engine: concatenation for constraint,
// ordered-set-union for condition/mapping, and overwrite for everything
// else, plus the sliceName post-condition fixup.
package merge

import (
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/exp/slices"

	"github.com/gofhir/snapshotgen/element"
)

// ErrIDMismatch is returned when the differential entry's id does not
// equal the base element's id. It always indicates an engine bug: the
// diff applier is responsible for ensuring ids line up before calling
// Merge.
var ErrIDMismatch = errors.New("merge: id-mismatch")

// Merge combines base and diff into the element the differential
// describes, per the per-key rules below. base and diff are never
// mutated; Merge returns a new value.
//
//   - constraint: concatenation (base ++ diff), preserving order.
//   - condition: ordered set union (base first, new diff entries
//     appended, duplicates removed).
//   - mapping: ordered set union with key-wise JSON-stable equality.
//   - id, path: retained from base.
//   - everything else: diff overwrites base when diff has a non-zero
//     value; an absent (zero-value) diff field leaves base untouched.
func Merge(base, diff element.Element) (element.Element, error) {
	if diff.ID != base.ID {
		return element.Element{}, fmt.Errorf("%w: base id %q, diff id %q", ErrIDMismatch, base.ID, diff.ID)
	}

	out := base.Clone()
	d := diff.Clone()

	// id, path: always retained from base. Nothing to do, out already
	// carries base's values and we never copy d.ID/d.Path over.

	if d.Min != nil {
		out.Min = d.Min
	}
	if d.Max != "" {
		out.Max = d.Max
	}
	if d.Type != nil {
		out.Type = d.Type
	}
	if d.Slicing != nil {
		out.Slicing = d.Slicing
	}
	if d.SliceName != "" {
		out.SliceName = d.SliceName
	}
	if d.Base != nil {
		out.Base = d.Base
	}
	if d.Binding != nil {
		out.Binding = d.Binding
	}
	if d.Definition != "" {
		out.Definition = d.Definition
	}
	if d.Comment != "" {
		out.Comment = d.Comment
	}
	if d.Requirements != "" {
		out.Requirements = d.Requirements
	}
	if d.MeaningWhenMissing != "" {
		out.MeaningWhenMissing = d.MeaningWhenMissing
	}
	if d.Extension != nil {
		out.Extension = d.Extension
	}
	if d.ContentReference != "" {
		out.ContentReference = d.ContentReference
	}
	if d.MustSupport {
		out.MustSupport = d.MustSupport
	}
	if d.FixedURI != "" {
		out.FixedURI = d.FixedURI
	}
	for k, v := range d.Extra {
		if out.Extra == nil {
			out.Extra = make(map[string]json.RawMessage, len(d.Extra))
		}
		out.Extra[k] = v
	}

	out.Constraint = append(append([]element.Constraint(nil), base.Constraint...), diff.Constraint...)
	out.Condition = unionConditions(base.Condition, diff.Condition)
	out.Mapping = unionMappings(base.Mapping, diff.Mapping)

	fixupSliceName(&out)

	return out, nil
}

// unionConditions returns base's entries followed by any of diff's
// entries not already present, in order, with duplicates removed.
func unionConditions(base, diff []string) []string {
	if len(diff) == 0 {
		return append([]string(nil), base...)
	}
	out := append([]string(nil), base...)
	for _, c := range diff {
		if !slices.Contains(out, c) {
			out = append(out, c)
		}
	}
	return out
}

// unionMappings returns base's mappings followed by diff's mappings that
// are not JSON-stably equal to an existing entry.
func unionMappings(base, diff []element.Mapping) []element.Mapping {
	if len(diff) == 0 {
		return append([]element.Mapping(nil), base...)
	}
	out := append([]element.Mapping(nil), base...)
	seen := make(map[string]struct{}, len(out))
	for _, m := range out {
		seen[mappingKey(m)] = struct{}{}
	}
	for _, m := range diff {
		key := mappingKey(m)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, m)
	}
	return out
}

// mappingKey produces a JSON-stable equality key for a mapping entry.
func mappingKey(m element.Mapping) string {
	b, err := json.Marshal(m)
	if err != nil {
		return fmt.Sprintf("%+v", m)
	}
	return string(b)
}

// fixupSliceName clears a stale sliceName left over from a monopoly
// shortcut merge: if the merged element's sliceName is not the suffix of
// its id after the last colon, it is a remnant and must be dropped.
func fixupSliceName(e *element.Element) {
	if e.SliceName == "" {
		return
	}
	idx := lastColon(e.ID)
	if idx < 0 {
		e.SliceName = ""
		return
	}
	if e.ID[idx+1:] != e.SliceName {
		e.SliceName = ""
	}
}

func lastColon(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == ':' {
			return i
		}
	}
	return -1
}

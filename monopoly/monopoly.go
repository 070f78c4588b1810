// Package monopoly resolves type-specific aliases of polymorphic
// elements (a "monopoly shortcut"): a differential may
// address Observation.value[x] as Observation.valueQuantity.
package monopoly

import (
	"strings"

	"github.com/gofhir/snapshotgen/element"
)

// Shortcut is the result of a successful alias resolution.
type Shortcut struct {
	// RewrittenSegment is the poly element's own id segment, e.g. "value[x]".
	RewrittenSegment string
	// Type is the type code the alias picked out, e.g. "Quantity".
	Type string
}

// Resolve scans parent's children for a poly node whose base name is a
// prefix of missing, then checks each type declared on that poly's
// head-slice for a candidate = base + InitCap(type.code) matching
// missing exactly. Returns ok=false if no child matches.
func Resolve(parent *element.Node, missing string) (*Shortcut, bool) {
	if parent == nil {
		return nil, false
	}

	for _, child := range parent.Children {
		base, isPoly := polyBase(child)
		if !isPoly || !strings.HasPrefix(missing, base) {
			continue
		}

		head := child.HeadSlice()
		if head == nil || head.Definition == nil {
			continue
		}

		for _, t := range head.Definition.Type {
			if base+initCap(t.Code) == missing {
				return &Shortcut{RewrittenSegment: base + "[x]", Type: t.Code}, true
			}
		}
	}

	return nil, false
}

func polyBase(n *element.Node) (string, bool) {
	if n.Kind != element.KindPoly {
		return "", false
	}
	last := element.LastSegment(n.ID)
	if !strings.HasSuffix(last, "[x]") {
		return "", false
	}
	return strings.TrimSuffix(last, "[x]"), true
}

func initCap(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

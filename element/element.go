// Package element defines the Element and Node types that the snapshot
// generation engine operates on, and the pure, non-suspending
// transformations between an ordered element sequence and a typed tree.
package element

import (
	"encoding/json"
	"strings"
)

// TypeRef is one entry of Element.Type.
type TypeRef struct {
	Code          string      `json:"code"`
	Profile       []string    `json:"profile,omitempty"`
	TargetProfile []string    `json:"targetProfile,omitempty"`
	Extension     []Extension `json:"extension,omitempty"`
}

// Extension is a generic FHIR extension entry. Its value[x] field (one
// of 45+ type-suffixed variants) and any nested structure live in Extra,
// captured verbatim by Extension's custom JSON methods (see json.go).
type Extension struct {
	URL   string                     `json:"url"`
	Extra map[string]json.RawMessage `json:"-"`
}

// Discriminator is one entry of Slicing.Discriminator.
type Discriminator struct {
	Type string `json:"type"`
	Path string `json:"path"`
}

// Slicing describes how a repeating element is partitioned into slices.
type Slicing struct {
	Discriminator []Discriminator `json:"discriminator,omitempty"`
	Description   string          `json:"description,omitempty"`
	Ordered       bool            `json:"ordered,omitempty"`
	Rules         string          `json:"rules"`
}

// Base records the structural base path/cardinality a differential
// element was declared against; used only by the classifier.
type Base struct {
	Path string `json:"path,omitempty"`
	Min  *int   `json:"min,omitempty"`
	Max  string `json:"max,omitempty"`
}

// Binding is a terminology binding.
type Binding struct {
	Strength    string `json:"strength,omitempty"`
	ValueSet    string `json:"valueSet,omitempty"`
	Description string `json:"description,omitempty"`
}

// Constraint is a FHIRPath invariant attached to an element.
type Constraint struct {
	Key        string `json:"key"`
	Severity   string `json:"severity,omitempty"`
	Human      string `json:"human,omitempty"`
	Expression string `json:"expression,omitempty"`
	XPath      string `json:"xpath,omitempty"`
	Source     string `json:"source,omitempty"`
}

// Mapping is a single cross-mapping entry.
type Mapping struct {
	Identity string `json:"identity"`
	Language string `json:"language,omitempty"`
	Map      string `json:"map,omitempty"`
	Comment  string `json:"comment,omitempty"`
}

// Element is the engine's in-memory representation of a single
// ElementDefinition. Fields the engine reasons about are typed; anything
// else that arrives over the wire is preserved opaquely in Extra so that
// a round trip through the engine never drops unrecognised keys (e.g.
// fixed[x]/pattern[x] polymorphic fields, vendor extensions on nested
// structures). Merge treats Extra keys as plain overwrite: the
// differential's value wins whenever both sides set the same key.
type Element struct {
	ID   string `json:"id"`
	Path string `json:"path"`

	Min *int   `json:"min,omitempty"`
	Max string `json:"max,omitempty"`

	Type []TypeRef `json:"type,omitempty"`

	Slicing   *Slicing `json:"slicing,omitempty"`
	SliceName string   `json:"sliceName,omitempty"`
	Base      *Base    `json:"base,omitempty"`

	Binding *Binding `json:"binding,omitempty"`

	Definition         string `json:"definition,omitempty"`
	Comment            string `json:"comment,omitempty"`
	Requirements       string `json:"requirements,omitempty"`
	MeaningWhenMissing string `json:"meaningWhenMissing,omitempty"`

	Extension        []Extension  `json:"extension,omitempty"`
	Constraint       []Constraint `json:"constraint,omitempty"`
	Mapping          []Mapping    `json:"mapping,omitempty"`
	Condition        []string     `json:"condition,omitempty"`
	ContentReference string       `json:"contentReference,omitempty"`
	MustSupport      bool         `json:"mustSupport,omitempty"`

	FixedURI string `json:"fixedUri,omitempty"`

	// Extra holds every JSON key not mapped above (fixed[x]/pattern[x]
	// variants, isModifier, isSummary, label, orderMeaning, representation,
	// …), keyed by raw JSON field name, so round-tripping never loses data.
	Extra map[string]json.RawMessage `json:"-"`
}

// Clone returns a deep-enough copy of e: slices and the Extra map are
// copied so that mutating the clone never touches the original. This is
// the primitive slice synthesis (branch.EnsureChild) and tree rebuilding
// rely on instead of sharing backing arrays across generations.
func (e Element) Clone() Element {
	c := e
	c.Type = cloneTypeRefs(e.Type)
	c.Extension = cloneExtensions(e.Extension)
	c.Constraint = append([]Constraint(nil), e.Constraint...)
	c.Mapping = append([]Mapping(nil), e.Mapping...)
	c.Condition = append([]string(nil), e.Condition...)
	if e.Slicing != nil {
		s := *e.Slicing
		s.Discriminator = append([]Discriminator(nil), e.Slicing.Discriminator...)
		c.Slicing = &s
	}
	if e.Base != nil {
		b := *e.Base
		c.Base = &b
	}
	if e.Binding != nil {
		b := *e.Binding
		c.Binding = &b
	}
	if e.Min != nil {
		m := *e.Min
		c.Min = &m
	}
	if e.Extra != nil {
		c.Extra = make(map[string]json.RawMessage, len(e.Extra))
		for k, v := range e.Extra {
			c.Extra[k] = v
		}
	}
	return c
}

func cloneTypeRefs(in []TypeRef) []TypeRef {
	if in == nil {
		return nil
	}
	out := make([]TypeRef, len(in))
	for i, t := range in {
		out[i] = t
		out[i].Profile = append([]string(nil), t.Profile...)
		out[i].TargetProfile = append([]string(nil), t.TargetProfile...)
	}
	return out
}

func cloneExtensions(in []Extension) []Extension {
	if in == nil {
		return nil
	}
	out := make([]Extension, len(in))
	for i, x := range in {
		out[i] = x
		if x.Extra != nil {
			out[i].Extra = make(map[string]json.RawMessage, len(x.Extra))
			for k, v := range x.Extra {
				out[i].Extra[k] = v
			}
		}
	}
	return out
}

// IDSegments splits id on '.', keeping slice-name suffixes on each segment.
func IDSegments(id string) []string {
	if id == "" {
		return nil
	}
	return strings.Split(id, ".")
}

// PathSegments splits path on '.'. path never carries slice names.
func PathSegments(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, ".")
}

// SplitSegment splits one id segment "name:slice" into its name and
// (possibly empty) slice name.
func SplitSegment(segment string) (name, slice string) {
	if idx := strings.IndexByte(segment, ':'); idx >= 0 {
		return segment[:idx], segment[idx+1:]
	}
	return segment, ""
}

// LastSegment returns the final '.'-delimited segment of id.
func LastSegment(id string) string {
	if idx := strings.LastIndexByte(id, '.'); idx >= 0 {
		return id[idx+1:]
	}
	return id
}

// ParentID computes the id of the structural parent of segment within id:
// if the last segment carries a ":slicename" suffix, the parent is the
// id with that suffix stripped (the head-slice/container); otherwise it
// is the ordinary dotted parent.
func ParentID(id string) string {
	last := LastSegment(id)
	name, slice := SplitSegment(last)
	if slice != "" {
		if idx := strings.LastIndexByte(id, '.'); idx >= 0 {
			return id[:idx+1] + name
		}
		return name
	}
	idx := strings.LastIndexByte(id, '.')
	if idx < 0 {
		return ""
	}
	return id[:idx]
}

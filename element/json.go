package element

import (
	"encoding/json"
	"strings"

	"github.com/buger/jsonparser"
)

// elementAlias mirrors Element's typed fields with ordinary json tags so
// encoding/json can marshal/unmarshal the known shape without recursing
// into Element's own custom methods.
type elementAlias struct {
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
}

// knownElementKeys lists every JSON key elementAlias already accounts
// for; anything else in a wire object is opaque and belongs in Extra.
var knownElementKeys = map[string]struct{}{
	"id": {}, "path": {}, "min": {}, "max": {}, "type": {},
	"slicing": {}, "sliceName": {}, "base": {}, "binding": {},
	"definition": {}, "comment": {}, "requirements": {}, "meaningWhenMissing": {},
	"extension": {}, "constraint": {}, "mapping": {}, "condition": {},
	"contentReference": {}, "mustSupport": {}, "fixedUri": {},
}

// UnmarshalJSON decodes the typed fields via elementAlias, then captures
// every remaining top-level key into Extra verbatim (as raw JSON), so a
// round trip through Element never drops an unrecognised field such as
// a fixed[x]/pattern[x] variant or a vendor-specific attribute.
func (e *Element) UnmarshalJSON(data []byte) error {
	var alias elementAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}

	extra, err := opaqueKeys(data, knownElementKeys)
	if err != nil {
		return err
	}

	*e = Element{
		ID:                 alias.ID,
		Path:               alias.Path,
		Min:                alias.Min,
		Max:                alias.Max,
		Type:               alias.Type,
		Slicing:            alias.Slicing,
		SliceName:          alias.SliceName,
		Base:               alias.Base,
		Binding:            alias.Binding,
		Definition:         alias.Definition,
		Comment:            alias.Comment,
		Requirements:       alias.Requirements,
		MeaningWhenMissing: alias.MeaningWhenMissing,
		Extension:          alias.Extension,
		Constraint:         alias.Constraint,
		Mapping:            alias.Mapping,
		Condition:          alias.Condition,
		ContentReference:   alias.ContentReference,
		MustSupport:        alias.MustSupport,
		FixedURI:           alias.FixedURI,
		Extra:              extra,
	}
	return nil
}

// MarshalJSON emits the typed fields via elementAlias and merges in
// every Extra key, so unrecognised fields captured on read are
// preserved on write.
func (e Element) MarshalJSON() ([]byte, error) {
	alias := elementAlias{
		ID: e.ID, Path: e.Path, Min: e.Min, Max: e.Max, Type: e.Type,
		Slicing: e.Slicing, SliceName: e.SliceName, Base: e.Base, Binding: e.Binding,
		Definition: e.Definition, Comment: e.Comment, Requirements: e.Requirements,
		MeaningWhenMissing: e.MeaningWhenMissing, Extension: e.Extension,
		Constraint: e.Constraint, Mapping: e.Mapping, Condition: e.Condition,
		ContentReference: e.ContentReference, MustSupport: e.MustSupport, FixedURI: e.FixedURI,
	}

	known, err := json.Marshal(alias)
	if err != nil {
		return nil, err
	}
	if len(e.Extra) == 0 {
		return known, nil
	}

	merged := make(map[string]json.RawMessage, len(e.Extra)+16)
	if err := json.Unmarshal(known, &merged); err != nil {
		return nil, err
	}
	for k, v := range e.Extra {
		merged[k] = v
	}
	return json.Marshal(merged)
}

// extensionAlias carries Extension's URL plus every other top-level key
// as raw JSON, since an extension's value key is itself a fixed[x]-style
// polymorphic name (valueString, valueCodeableConcept, ...).
type extensionAlias struct {
	URL string `json:"url"`
}

var knownExtensionKeys = map[string]struct{}{"url": {}}

// UnmarshalJSON decodes url plus captures every other key (the value[x]
// variant, nested extension arrays, etc.) into Extra verbatim.
func (x *Extension) UnmarshalJSON(data []byte) error {
	var alias extensionAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	extra, err := opaqueKeys(data, knownExtensionKeys)
	if err != nil {
		return err
	}

	x.URL = alias.URL
	x.Extra = extra
	return nil
}

// MarshalJSON emits url plus every Extra key.
func (x Extension) MarshalJSON() ([]byte, error) {
	merged := make(map[string]json.RawMessage, len(x.Extra)+1)
	for k, v := range x.Extra {
		merged[k] = v
	}
	urlJSON, err := json.Marshal(x.URL)
	if err != nil {
		return nil, err
	}
	merged["url"] = urlJSON
	return json.Marshal(merged)
}

// opaqueKeys collects data's top-level keys not present in known into a
// raw-message map, using jsonparser's single-pass key walk instead of a
// second full encoding/json decode of the whole object.
func opaqueKeys(data []byte, known map[string]struct{}) (map[string]json.RawMessage, error) {
	var extra map[string]json.RawMessage
	err := jsonparser.ObjectEach(data, func(key, value []byte, dataType jsonparser.ValueType, _ int) error {
		k := string(key)
		if _, ok := known[k]; ok {
			return nil
		}
		if extra == nil {
			extra = make(map[string]json.RawMessage)
		}
		extra[k] = rawValue(value, dataType)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return extra, nil
}

// rawValue restores the raw JSON encoding jsonparser trims from its
// callback values: strings lose their surrounding quotes and a null
// arrives as an empty Null-typed value. The bytes are copied because
// jsonparser's callback values alias the input buffer.
func rawValue(value []byte, dataType jsonparser.ValueType) json.RawMessage {
	switch dataType {
	case jsonparser.String:
		raw := make(json.RawMessage, 0, len(value)+2)
		raw = append(raw, '"')
		raw = append(raw, value...)
		return append(raw, '"')
	case jsonparser.Null:
		return json.RawMessage("null")
	default:
		return append(json.RawMessage(nil), value...)
	}
}

// FixedOrPatternKey scans e's opaque Extra fields for a fixed[x]/
// pattern[x] polymorphic key (fixedString, patternQuantity, ...).
func (e Element) FixedOrPatternKey() (key string, raw json.RawMessage, ok bool) {
	for k, v := range e.Extra {
		if strings.HasPrefix(k, "fixed") || strings.HasPrefix(k, "pattern") {
			return k, v, true
		}
	}
	return "", nil, false
}

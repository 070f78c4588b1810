package element

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Kind is the tag every tree node carries. Classification order is
// semantic, not syntactic; see Classify.
type Kind string

// Node/element kinds.
const (
	KindElement   Kind = "element"
	KindArray     Kind = "array"
	KindPoly      Kind = "poly"
	KindSlice     Kind = "slice"
	KindResliced  Kind = "resliced"
	KindHeadSlice Kind = "headslice"
)

// Classify maps a single element to its node kind. Order matters:
//  1. id ends with "[x]" => poly
//  2. sliceName present and slicing also present => resliced
//  3. sliceName present alone => slice
//  4. base.max is "*" or parses to a decimal > 1 => array
//  5. otherwise => element
func Classify(e *Element) Kind {
	if strings.HasSuffix(e.ID, "[x]") {
		return KindPoly
	}
	if e.SliceName != "" && e.Slicing != nil {
		return KindResliced
	}
	if e.SliceName != "" {
		return KindSlice
	}
	if isRepeating(e.Base) {
		return KindArray
	}
	return KindElement
}

func isRepeating(b *Base) bool {
	if b == nil || b.Max == "" {
		return false
	}
	if b.Max == "*" {
		return true
	}
	d, err := decimal.NewFromString(b.Max)
	if err != nil {
		return false
	}
	return d.GreaterThan(decimal.NewFromInt(1))
}

// IsSliceable reports whether kind is one of the sliceable container
// kinds that must carry a head-slice as their first child.
func IsSliceable(k Kind) bool {
	switch k {
	case KindArray, KindPoly, KindResliced:
		return true
	default:
		return false
	}
}

// EmitsElement reports whether a node of this kind contributes a
// definition to the flattened output.
func EmitsElement(k Kind) bool {
	switch k {
	case KindElement, KindSlice, KindHeadSlice:
		return true
	default:
		return false
	}
}

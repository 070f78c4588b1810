// Package migrate prepares a base snapshot for use as the parent of a
// derivation: it drops non-inheritable root extensions, rewrites
// relative markdown links, and stamps constraint sources.
package migrate

import (
	"regexp"
	"strings"

	"github.com/gofhir/snapshotgen/element"
)

// BaseNamespace is the canonical-URL namespace of the base type library
// whose relative markdown links get rewritten to absolute ones.
const BaseNamespace = "http://hl7.org/fhir"

// NonInheritableExtensions is the fixed block-list of extension URLs
// (relative to BaseNamespace) removed from element[0].extension when
// migrating a base snapshot into a derivation's parent.
var NonInheritableExtensions = []string{
	"structuredefinition-fmm",
	"structuredefinition-fmm-no-warnings",
	"structuredefinition-hierarchy",
	"structuredefinition-interface",
	"structuredefinition-normative-version",
	"structuredefinition-applicable-version",
	"structuredefinition-category",
	"structuredefinition-codegen-super",
	"structuredefinition-security-category",
	"structuredefinition-standards-status",
	"structuredefinition-summary",
	"structuredefinition-wg",
	"replaces",
	"resource-approvalDate",
	"resource-effectivePeriod",
	"resource-lastReviewDate",
}

var nonInheritableSet = buildNonInheritableSet()

func buildNonInheritableSet() map[string]struct{} {
	set := make(map[string]struct{}, len(NonInheritableExtensions))
	for _, suffix := range NonInheritableExtensions {
		set[BaseNamespace+"/StructureDefinition/"+suffix] = struct{}{}
	}
	return set
}

// markdownLinkPattern matches every "[text](target)" link; rewriteField
// then leaves alone the targets hasScheme reports (containing "://" or
// starting with "#" or "/").
var markdownLinkPattern = regexp.MustCompile(`\[([^\]]*)\]\(([^)\s]+)\)`)

// Migrate applies the element migrator to a base snapshot at the moment
// it is consumed as the parent of a derivation. elements is never
// mutated; Migrate returns a new slice.
func Migrate(elements []element.Element, sourceURL string) []element.Element {
	if len(elements) == 0 {
		return elements
	}

	out := make([]element.Element, len(elements))
	for i, e := range elements {
		out[i] = e.Clone()
	}

	filterRootExtensions(&out[0])

	rewriteRelativeLinks := strings.HasPrefix(sourceURL, BaseNamespace)
	for i := range out {
		if rewriteRelativeLinks {
			rewriteMarkdownLinks(&out[i])
		}
		stampConstraintSources(&out[i], sourceURL)
	}

	return out
}

func filterRootExtensions(root *element.Element) {
	if len(root.Extension) == 0 {
		return
	}
	kept := root.Extension[:0:0]
	for _, ext := range root.Extension {
		if _, drop := nonInheritableSet[ext.URL]; !drop {
			kept = append(kept, ext)
		}
	}
	if len(kept) == 0 {
		root.Extension = nil
	} else {
		root.Extension = kept
	}
}

func rewriteMarkdownLinks(e *element.Element) {
	e.Definition = rewriteField(e.Definition)
	e.Comment = rewriteField(e.Comment)
	e.Requirements = rewriteField(e.Requirements)
	e.MeaningWhenMissing = rewriteField(e.MeaningWhenMissing)
}

func rewriteField(markdown string) string {
	if markdown == "" {
		return markdown
	}
	return markdownLinkPattern.ReplaceAllStringFunc(markdown, func(match string) string {
		sub := markdownLinkPattern.FindStringSubmatch(match)
		text, target := sub[1], sub[2]
		if hasScheme(target) {
			return match
		}
		return "[" + text + "](" + BaseNamespace + "/" + target + ")"
	})
}

func hasScheme(target string) bool {
	return strings.Contains(target, "://") || strings.HasPrefix(target, "#") || strings.HasPrefix(target, "/")
}

func stampConstraintSources(e *element.Element, sourceURL string) {
	if len(e.Constraint) == 0 {
		return
	}
	for i := range e.Constraint {
		if e.Constraint[i].Source == "" {
			e.Constraint[i].Source = sourceURL
		}
	}
}

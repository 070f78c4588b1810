// Package loader defines the package explorer interface the snapshot
// generation engine consumes, and the package reference/version parsing
// shared by configuration and cache-path computation. The engine never
// implements package loading itself; see PackageLoader's doc comment.
package loader

import (
	"context"
	"fmt"
	"strings"

	"github.com/gofhir/snapshotgen/element"
)

// PackageRef identifies one package by id and version.
type PackageRef struct {
	ID      string
	Version string
}

// String renders the ref as "id@version", or just "id" if Version is empty.
func (r PackageRef) String() string {
	if r.Version == "" {
		return r.ID
	}
	return r.ID + "@" + r.Version
}

// ParsePackageRef parses the textual forms a context entry allows:
// "id#version", "id@version", or "id" (latest, Version left empty). The
// remaining form, an {id, version} pair, is already a PackageRef and
// needs no parsing.
func ParsePackageRef(s string) PackageRef {
	if idx := strings.IndexAny(s, "#@"); idx >= 0 {
		return PackageRef{ID: s[:idx], Version: s[idx+1:]}
	}
	return PackageRef{ID: s}
}

// Kind enumerates the lookup kinds resolve_meta/lookup_meta accept.
type Kind string

// Metadata kinds.
const (
	KindStructureDefinition Kind = "StructureDefinition"
)

// Derivation mirrors a StructureDefinition's derivation value.
type Derivation string

// Derivation values.
const (
	DerivationSpecialization Derivation = "specialization"
	DerivationConstraint     Derivation = "constraint"
)

// Metadata is the subset of a resource's metadata the engine needs:
// identity, derivation, and (for base types) its stored snapshot.
type Metadata struct {
	URL            string
	Name           string
	Type           string
	Kind           string
	Derivation     Derivation
	BaseDefinition string
	FHIRVersion    string
	Filename       string
	Package        PackageRef

	Differential []element.Element
	Snapshot     []element.Element
}

// MetaFilter selects a single metadata lookup by exactly one of ID, URL,
// or Name, optionally narrowed to PackageFilter.
type MetaFilter struct {
	ID            string
	URL           string
	Name          string
	Kind          Kind
	PackageFilter *PackageRef
}

// PackageManifest is the subset of a package's package.json the engine
// reads: its own identity and its declared compatibleVersions fallback.
type PackageManifest struct {
	Name               string
	Version            string
	Dependencies       map[string]string
	CompatibleVersions []string
	FHIRVersions       []string
}

// PackageLoader is the external package explorer collaborator: it
// supplies raw differentials, base snapshots, metadata listing, and
// cache-path discovery. The core never talks to the network or mutates
// package contents directly; callers inject a concrete implementation
// (in production, one that reads extracted FHIR packages from disk; in
// tests, loadertest.Loader).
type PackageLoader interface {
	// ResolveByFilename resolves a resource by its on-disk filename
	// within a specific package.
	ResolveByFilename(ctx context.Context, pkg PackageRef, filename string) (*Metadata, error)

	// ResolveMeta resolves metadata for a single {id|url|name} filter,
	// optionally narrowed to a package. Returns an error if zero or more
	// than one resource matches.
	ResolveMeta(ctx context.Context, filter MetaFilter) (*Metadata, error)

	// LookupMeta is the non-erroring counterpart of ResolveMeta: it
	// returns ok=false instead of an error when nothing matches.
	LookupMeta(ctx context.Context, filter MetaFilter) (*Metadata, bool, error)

	// ContextPackages returns every package currently loaded into the
	// engine's configured context, in load order.
	ContextPackages(ctx context.Context) ([]PackageRef, error)

	// DirectDependencies returns pkg's direct dependency package
	// references, as declared in its manifest.
	DirectDependencies(ctx context.Context, pkg PackageRef) ([]PackageRef, error)

	// PackageManifest returns pkg's parsed package.json.
	PackageManifest(ctx context.Context, pkg PackageRef) (*PackageManifest, error)

	// CachePath returns the root directory under which the loader's
	// packages (and therefore the snapshot cache, see snapcache) live.
	CachePath(ctx context.Context) (string, error)

	// Filenames lists every StructureDefinition filename stored under
	// pkg's package directory, used by snapcache's rebuild mode to
	// compute the expected post-rebuild file set.
	Filenames(ctx context.Context, pkg PackageRef) ([]string, error)
}

// ErrNotFound is wrapped by loader implementations when a filter matches
// nothing; callers use errors.Is against this sentinel.
var ErrNotFound = fmt.Errorf("loader: not found")

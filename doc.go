// Package snapshotgen generates FHIR StructureDefinition snapshots from
// their differentials.
//
// A conformant FHIR profile carries a differential (the elements it
// changes relative to its base) but tooling, validators, and renderers
// need the full snapshot: every element the base type defines, with the
// differential's constraints merged in. This package turns one into the
// other without going through a FHIR server.
//
// # Quick Start
//
//	import "github.com/gofhir/snapshotgen"
//
//	eng, err := snapshotgen.New(myLoader,
//	    snapshotgen.WithCachePath("/var/cache/fhir"),
//	    snapshotgen.WithFHIRVersion("R4"),
//	    snapshotgen.WithCacheMode(snapcache.ModeLazy),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	result, err := eng.GetSnapshot(ctx, "http://example.org/fhir/StructureDefinition/my-profile", nil)
//	if err != nil {
//	    var sgErr *snapshotgen.Error
//	    if errors.As(err, &sgErr) {
//	        fmt.Println(sgErr.Kind, sgErr.Identifier)
//	    }
//	}
//
// # Pipeline
//
// Generation walks a fixed pipeline for every profile:
//
//   - element: the flat, JSON-faithful ElementDefinition and its typed
//     tree view, classified into element/array/poly/slice/resliced/headslice
//     kinds.
//   - migrate: prepares a base snapshot for use as a derivation's parent
//     (root extension filter, markdown link rewrite, constraint sources).
//   - fetch: memoised resolution of base types, content references, and
//     profile URLs, scoped to one generation.
//   - monopoly: resolves polymorphic type-specific shortcuts
//     (valueQuantity) back onto their value[x] element.
//   - branch: on-demand materialisation of the working tree as the
//     differential's ids are walked.
//   - merge: FHIRPath-free element-level constraint merging.
//   - diffapply: drives branch+merge over an entire differential.
//   - baseversion: resolves which base FHIR release a profile's
//     snapshot should be expanded against.
//   - snapcache: the on-disk, cross-process, single-flighted snapshot
//     cache coordinator.
//
// Engine.GetSnapshot is the only entry point a caller needs; everything
// above is internal plumbing reachable from it.
//
// # Cache Modes
//
// snapcache.Mode governs whether, and when, generated snapshots are
// persisted to disk: lazy generates and caches on first request, ensure
// and rebuild precache every profile in the loader's context package set
// at construction time, and none never touches disk.
//
// # Errors
//
// Failures are returned as *Error, carrying a Kind from a closed set
// (ErrNotFound, ErrNoBaseDefinition, ErrCannotExpand, and so on) so
// callers can branch on failure mode with errors.Is/As instead of
// string matching.
package snapshotgen

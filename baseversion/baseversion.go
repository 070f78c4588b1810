// Package baseversion picks the base-library package (the core FHIR
// type library) a profile's types should be resolved against during
// generation, given the profile's own package.
//
// It is deliberately decoupled from the engine's FHIRVersion type (root
// package) to avoid an import cycle (the root package's orchestrator is
// this resolver's only caller): callers pass the default core package
// and a version-string-to-core-package table already resolved from
// their own FHIRVersion configuration.
package baseversion

import (
	"context"
	"fmt"
	"regexp"

	"golang.org/x/mod/semver"

	"github.com/gofhir/snapshotgen/loader"
)

// baseLibraryPattern matches a base-library package id: "<vendor>.
// <framework>.r<digits>.core", e.g. "hl7.fhir.r4.core". This engine only
// ever operates on the FHIR ecosystem, so the framework segment is
// fixed to "fhir".
var baseLibraryPattern = regexp.MustCompile(`^[a-z0-9]+\.fhir\.r\d+\.core$`)

// IsBaseLibrary reports whether pkg's id matches the base-library
// naming pattern.
func IsBaseLibrary(pkg loader.PackageRef) bool {
	return baseLibraryPattern.MatchString(pkg.ID)
}

// normalizeVersion applies the historical misnumbering rule: only
// hl7.fhir.r4.core@4.0.0 is rewritten to 4.0.1; every other package is
// returned unchanged.
func normalizeVersion(pkg loader.PackageRef) loader.PackageRef {
	if pkg.ID == "hl7.fhir.r4.core" && pkg.Version == "4.0.0" {
		pkg.Version = "4.0.1"
	}
	return pkg
}

// Resolve walks a five-step fallback:
//  1. the profile's own package, if it is itself a base library;
//  2. the profile's direct dependencies, filtered to base-library ids,
//     used only if exactly one remains;
//  3. the package manifest's compatibleVersions, translated through
//     versionMap;
//  4. defaultCore, the engine's configured default version's core
//     package;
//  5. (folded into step 2) more than one base-library candidate after
//     filtering direct dependencies also falls back to defaultCore, with
//     a warning logged by the caller.
//
// ambiguous is true only in the step-2-multiple-candidates case, so the
// caller can log a warning; Resolve itself does not
// depend on a logger.
func Resolve(ctx context.Context, profilePackage loader.PackageRef, pl loader.PackageLoader, versionMap map[string]loader.PackageRef, defaultCore loader.PackageRef) (pkg loader.PackageRef, ambiguous bool, err error) {
	if IsBaseLibrary(profilePackage) {
		return normalizeVersion(profilePackage), false, nil
	}

	deps, err := pl.DirectDependencies(ctx, profilePackage)
	if err != nil {
		return loader.PackageRef{}, false, fmt.Errorf("baseversion: direct dependencies of %s: %w", profilePackage, err)
	}

	byID := make(map[string]loader.PackageRef)
	for _, d := range deps {
		if !IsBaseLibrary(d) {
			continue
		}
		d = normalizeVersion(d)
		if existing, ok := byID[d.ID]; !ok || semverLess(existing.Version, d.Version) {
			byID[d.ID] = d
		}
	}
	switch len(byID) {
	case 1:
		for _, v := range byID {
			return v, false, nil
		}
	case 0:
		// fall through to manifest compatibleVersions
	default:
		return defaultCore, true, nil
	}

	manifest, err := pl.PackageManifest(ctx, profilePackage)
	if err == nil && manifest != nil {
		for _, v := range manifest.CompatibleVersions {
			if mapped, ok := versionMap[v]; ok {
				return mapped, false, nil
			}
		}
	}

	return defaultCore, false, nil
}

// semverLess reports whether a < b, treating both as semver versions
// (prepending the "v" golang.org/x/mod/semver requires). An unparseable
// version sorts before any parseable one, so a real version always
// wins over junk.
func semverLess(a, b string) bool {
	av, bv := toSemver(a), toSemver(b)
	if !semver.IsValid(av) {
		return semver.IsValid(bv)
	}
	if !semver.IsValid(bv) {
		return false
	}
	return semver.Compare(av, bv) < 0
}

func toSemver(v string) string {
	if v == "" {
		return ""
	}
	if v[0] != 'v' {
		return "v" + v
	}
	return v
}

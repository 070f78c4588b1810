// Package fetch implements the memoised definition fetcher: the single
// component the branch materialiser calls out to in order to resolve a
// child type, a content reference, or a profile URL into elements.
package fetch

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/gofhir/snapshotgen/element"
	"github.com/gofhir/snapshotgen/errs"
	"github.com/gofhir/snapshotgen/loader"
	"github.com/gofhir/snapshotgen/migrate"
)

// SnapshotFetchFunc resolves a canonical profile URL to its fully
// expanded elements, possibly by re-entering the orchestrator (which may
// itself trigger a nested generation). It is injected so that fetch does
// not depend on the orchestrator package, avoiding an import cycle.
type SnapshotFetchFunc func(ctx context.Context, url string) ([]element.Element, error)

// Fetcher resolves base types, content references, and profile URLs
// into elements, memoising each result for the lifetime of one
// generation. It is constructed fresh per generation, so its memo map
// is never shared across generations.
type Fetcher struct {
	sourcePackage loader.PackageRef
	corePackage   loader.PackageRef
	loader        loader.PackageLoader
	fetchSnapshot SnapshotFetchFunc

	mu   sync.Mutex
	memo map[string][]element.Element
}

// New constructs a Fetcher scoped to one generation.
func New(sourcePackage, corePackage loader.PackageRef, pl loader.PackageLoader, fetchSnapshot SnapshotFetchFunc) *Fetcher {
	return &Fetcher{
		sourcePackage: sourcePackage,
		corePackage:   corePackage,
		loader:        pl,
		fetchSnapshot: fetchSnapshot,
		memo:          make(map[string][]element.Element),
	}
}

func (f *Fetcher) cached(key string) ([]element.Element, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.memo[key]
	return v, ok
}

func (f *Fetcher) store(key string, v []element.Element) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.memo[key] = v
}

// GetBaseType resolves typeName in the core library package. "Element"
// and "Resource" accept any derivation; every other type must be
// derivation=specialization. The result is migrated before being cached.
func (f *Fetcher) GetBaseType(ctx context.Context, typeName string) ([]element.Element, error) {
	key := "type:" + typeName
	if v, ok := f.cached(key); ok {
		return v, nil
	}

	meta, err := f.loader.ResolveMeta(ctx, loader.MetaFilter{
		Name:          typeName,
		Kind:          loader.KindStructureDefinition,
		PackageFilter: &f.corePackage,
	})
	if err != nil {
		return nil, errs.New(errs.NotFound, typeName, f.corePackage.String(), err)
	}

	if typeName != "Element" && typeName != "Resource" && meta.Derivation != loader.DerivationSpecialization {
		return nil, errs.New(errs.UnsupportedDerivation, typeName, f.corePackage.String(), fmt.Errorf("derivation %q", meta.Derivation))
	}
	if len(meta.Snapshot) == 0 {
		return nil, errs.New(errs.NoSnapshot, typeName, f.corePackage.String(), nil)
	}

	migrated := migrate.Migrate(meta.Snapshot, meta.URL)
	f.store(key, migrated)
	return migrated, nil
}

// GetContentReference resolves a "#Eid" style content reference: it
// looks up the base type named by eid's first segment, then returns the
// sub-sequence whose id equals eid or starts with "eid.".
func (f *Fetcher) GetContentReference(ctx context.Context, ref string) ([]element.Element, error) {
	if !strings.HasPrefix(ref, "#") {
		return nil, fmt.Errorf("fetch: content reference %q does not start with '#'", ref)
	}
	eid := ref[1:]

	key := "#" + eid
	if v, ok := f.cached(key); ok {
		return v, nil
	}

	firstSegment := eid
	if idx := strings.IndexByte(eid, '.'); idx >= 0 {
		firstSegment = eid[:idx]
	}

	base, err := f.GetBaseType(ctx, firstSegment)
	if err != nil {
		return nil, err
	}

	var sub []element.Element
	for _, e := range base {
		if e.ID == eid || strings.HasPrefix(e.ID, eid+".") {
			sub = append(sub, e)
		}
	}

	f.store(key, sub)
	return sub, nil
}

// GetByURL resolves a canonical profile URL, preferring sourcePackage.
// specialization resources return their stored (migrated) snapshot;
// constraint resources are re-expanded via the injected snapshot
// fetcher (which re-enters the orchestrator) and then migrated; any
// other derivation is unsupported.
func (f *Fetcher) GetByURL(ctx context.Context, url string) ([]element.Element, error) {
	if v, ok := f.cached(url); ok {
		return v, nil
	}

	meta, err := f.loader.ResolveMeta(ctx, loader.MetaFilter{URL: url, PackageFilter: &f.sourcePackage})
	if err != nil {
		meta, err = f.loader.ResolveMeta(ctx, loader.MetaFilter{URL: url})
	}
	if err != nil {
		return nil, errs.New(errs.NotFound, url, f.sourcePackage.String(), err)
	}

	var result []element.Element
	switch meta.Derivation {
	case loader.DerivationSpecialization:
		if len(meta.Snapshot) == 0 {
			return nil, errs.New(errs.NoSnapshot, url, meta.Package.String(), nil)
		}
		result = migrate.Migrate(meta.Snapshot, meta.URL)
	case loader.DerivationConstraint:
		fetched, err := f.fetchSnapshot(ctx, url)
		if err != nil {
			return nil, err
		}
		result = migrate.Migrate(fetched, meta.URL)
	default:
		return nil, errs.New(errs.UnsupportedDerivation, url, meta.Package.String(), fmt.Errorf("derivation %q", meta.Derivation))
	}

	f.store(url, result)
	return result, nil
}

package snapshotgen

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gofhir/snapshotgen/baseversion"
	"github.com/gofhir/snapshotgen/diffapply"
	"github.com/gofhir/snapshotgen/element"
	"github.com/gofhir/snapshotgen/errs"
	"github.com/gofhir/snapshotgen/fetch"
	"github.com/gofhir/snapshotgen/loader"
	"github.com/gofhir/snapshotgen/migrate"
	"github.com/gofhir/snapshotgen/snapcache"
)

// EngineMajorMinor is the "major.minor" component of this module's
// version, used verbatim in the on-disk cache directory name
// ("C/P#V/.fsg.snapshots/vM.m.x/").
const EngineMajorMinor = "1.0"

// Result is a generated or stored snapshot together with the
// __core_package annotation every returned snapshot carries: the
// base-library package used for type resolution.
type Result struct {
	Elements    []element.Element
	CorePackage loader.PackageRef
}

// Engine answers GetSnapshot requests: resolve the
// identifier's metadata through the package loader, then dispatch on
// derivation: base types return their stored snapshot verbatim,
// profiles go through the cache-gated Generator.
type Engine struct {
	cfg        *Config
	loader     loader.PackageLoader
	cache      *snapcache.Coordinator
	versionMap map[string]loader.PackageRef
}

// New constructs an Engine backed by pl, applying opts over
// DefaultConfig. In ensure/rebuild cache mode, New also performs the
// create()-time pre-work before returning.
func New(pl loader.PackageLoader, opts ...Option) (*Engine, error) {
	cfg, err := resolveConfig(opts...)
	if err != nil {
		return nil, err
	}

	eng := &Engine{
		cfg:        cfg,
		loader:     pl,
		cache:      snapcache.New(cfg.CachePath, EngineMajorMinor, cfg.CacheMode, cfg.Logger),
		versionMap: buildVersionMap(),
	}
	if cfg.Metrics != nil {
		eng.cache.OnCoalesced(cfg.Metrics.RecordFlightCoalesced)
	}

	if cfg.CacheMode == snapcache.ModeEnsure || cfg.CacheMode == snapcache.ModeRebuild {
		if err := eng.cache.Precache(cfg.Ctx, pl, eng.generateFilename); err != nil {
			return nil, err
		}
	}

	return eng, nil
}

// buildVersionMap maps every canonical FHIR version string this engine
// accepts to its core package, for baseversion.Resolve's
// compatibleVersions translation.
func buildVersionMap() map[string]loader.PackageRef {
	m := make(map[string]loader.PackageRef, len(acceptedInputs))
	for input, v := range acceptedInputs {
		m[input] = CorePackage(v)
	}
	return m
}

// GetSnapshot resolves identifier (a canonical URL, id, or name,
// optionally narrowed by packageFilter) to its fully expanded snapshot.
func (e *Engine) GetSnapshot(ctx context.Context, identifier string, packageFilter *loader.PackageRef) (*Result, error) {
	corrID := uuid.NewString()

	if strings.HasPrefix(identifier, "#") {
		return e.getContentReferenceSnapshot(ctx, identifier, packageFilter, corrID)
	}

	meta, err := e.resolveIdentifier(ctx, identifier, packageFilter)
	if err != nil {
		return nil, prethrow(e.cfg.Logger, err)
	}

	switch meta.Derivation {
	case loader.DerivationConstraint:
		return e.getGeneratedSnapshot(ctx, meta, corrID)
	default:
		if len(meta.Snapshot) == 0 {
			return nil, prethrow(e.cfg.Logger, errs.New(errs.NoSnapshot, identifier, meta.Package.String(), nil))
		}
		core, _, err := e.resolveCorePackage(ctx, meta.Package)
		if err != nil {
			return nil, prethrow(e.cfg.Logger, err)
		}
		return &Result{Elements: meta.Snapshot, CorePackage: core}, nil
	}
}

// resolveIdentifier implements the identifier fan-out: a
// canonical URL (":" present) is tried first, otherwise id then name,
// accumulating every attempt's error before failing not-found.
func (e *Engine) resolveIdentifier(ctx context.Context, identifier string, packageFilter *loader.PackageRef) (*loader.Metadata, error) {
	var attempts []func() (*loader.Metadata, error)

	byURL := func() (*loader.Metadata, error) {
		return e.loader.ResolveMeta(ctx, loader.MetaFilter{URL: identifier, PackageFilter: packageFilter})
	}
	byID := func() (*loader.Metadata, error) {
		return e.loader.ResolveMeta(ctx, loader.MetaFilter{ID: identifier, PackageFilter: packageFilter})
	}
	byName := func() (*loader.Metadata, error) {
		return e.loader.ResolveMeta(ctx, loader.MetaFilter{Name: identifier, PackageFilter: packageFilter})
	}

	if strings.Contains(identifier, ":") {
		attempts = []func() (*loader.Metadata, error){byURL, byID, byName}
	} else {
		attempts = []func() (*loader.Metadata, error){byID, byName}
	}

	var errsAccum []error
	for _, attempt := range attempts {
		meta, err := attempt()
		if err == nil {
			return meta, nil
		}
		errsAccum = append(errsAccum, err)
	}

	for _, err := range errsAccum {
		e.cfg.Logger.Warn("%v", err)
	}
	return nil, errs.New(errs.NotFound, identifier, "", fmt.Errorf("%d resolution attempt(s) failed", len(errsAccum)))
}

// getContentReferenceSnapshot implements the historical "#..."
// identifier form: the sub-tree of the implicit base type named by the
// first id segment.
func (e *Engine) getContentReferenceSnapshot(ctx context.Context, identifier string, packageFilter *loader.PackageRef, corrID string) (*Result, error) {
	core := CorePackage(e.cfg.FHIRVersion)
	if packageFilter != nil {
		core = *packageFilter
	}

	f := fetch.New(core, core, e.loader, nil)
	els, err := f.GetContentReference(ctx, identifier)
	if err != nil {
		return nil, prethrow(e.cfg.Logger, fmt.Errorf("generation %s: %w", corrID, err))
	}
	return &Result{Elements: els, CorePackage: core}, nil
}

// resolveCorePackage wraps baseversion.Resolve with this engine's
// default-version fallback and versionMap, logging the ambiguity
// warning when that happens.
func (e *Engine) resolveCorePackage(ctx context.Context, pkg loader.PackageRef) (loader.PackageRef, bool, error) {
	defaultCore := CorePackage(e.cfg.DefaultFHIRVersion)
	core, ambiguous, err := baseversion.Resolve(ctx, pkg, e.loader, e.versionMap, defaultCore)
	if err != nil {
		return loader.PackageRef{}, false, err
	}
	if ambiguous {
		e.cfg.Logger.Warn("baseversion: multiple base-library candidates for %s, falling back to default %s", pkg, defaultCore)
	}
	return core, ambiguous, nil
}

// getGeneratedSnapshot implements the cache-gated Generator path:
// consult the snapshot cache, and on miss run the full
// differential-application pipeline, falling back to the profile's own
// stored snapshot (if any) on generation failure.
func (e *Engine) getGeneratedSnapshot(ctx context.Context, meta *loader.Metadata, corrID string) (*Result, error) {
	core, _, err := e.resolveCorePackage(ctx, meta.Package)
	if err != nil {
		return nil, prethrow(e.cfg.Logger, err)
	}

	ran := false
	started := time.Now()
	els, err := e.cache.GetSnapshot(ctx, meta.Package, meta.Filename, core, func(ctx context.Context) ([]element.Element, error) {
		ran = true
		return e.generate(ctx, meta, core, corrID)
	})

	if e.cfg.Metrics != nil {
		if ran {
			if e.cache.Mode() != snapcache.ModeNone {
				e.cfg.Metrics.RecordCacheMiss()
			}
			e.cfg.Metrics.RecordGeneration(meta.Package.String(), time.Since(started), err == nil)
		} else {
			e.cfg.Metrics.RecordCacheHit()
		}
	}

	if err != nil {
		if len(meta.Snapshot) > 0 {
			e.cfg.Logger.Warn("generation %s: %v; falling back to stored snapshot for %s", corrID, err, meta.URL)
			if e.cfg.Metrics != nil {
				e.cfg.Metrics.RecordFallback()
			}
			return &Result{Elements: meta.Snapshot, CorePackage: core}, nil
		}
		return nil, prethrow(e.cfg.Logger, err)
	}

	return &Result{Elements: els, CorePackage: core}, nil
}

// generate runs one profile's full differential-application pipeline:
// fetch the parent snapshot (recursively re-entering GetSnapshot, since
// the parent may itself be a profile), migrate it, and apply meta's
// differential atop it.
func (e *Engine) generate(ctx context.Context, meta *loader.Metadata, core loader.PackageRef, corrID string) ([]element.Element, error) {
	if meta.BaseDefinition == "" {
		return nil, errs.New(errs.NoBaseDefinition, meta.URL, meta.Package.String(), nil)
	}
	if len(meta.Differential) == 0 {
		return nil, errs.New(errs.NoDifferential, meta.URL, meta.Package.String(), nil)
	}

	parent, err := e.GetSnapshot(ctx, meta.BaseDefinition, nil)
	if err != nil {
		return nil, err
	}
	base := migrate.Migrate(parent.Elements, meta.BaseDefinition)

	fetchSnapshot := func(ctx context.Context, url string) ([]element.Element, error) {
		r, err := e.GetSnapshot(ctx, url, nil)
		if err != nil {
			return nil, err
		}
		return r.Elements, nil
	}
	f := fetch.New(meta.Package, core, e.loader, fetchSnapshot)

	return diffapply.Apply(ctx, base, meta.Differential, f, e.cfg.Logger)
}

// generateFilename is Precache's per-file callback: resolve pkg/filename
// to its metadata, then generate exactly as GetSnapshot's constraint
// path would. Base types (derivation != constraint) are skipped, so the
// snapshot cache subtree only ever holds profiles.
func (e *Engine) generateFilename(ctx context.Context, pkg loader.PackageRef, filename string) ([]element.Element, loader.PackageRef, error) {
	meta, err := e.loader.ResolveByFilename(ctx, pkg, filename)
	if err != nil {
		return nil, loader.PackageRef{}, err
	}
	if meta.Derivation != loader.DerivationConstraint {
		return nil, loader.PackageRef{}, snapcache.ErrSkip
	}
	core, _, err := e.resolveCorePackage(ctx, meta.Package)
	if err != nil {
		return nil, loader.PackageRef{}, err
	}
	els, err := e.generate(ctx, meta, core, uuid.NewString())
	return els, core, err
}

// Package loadertest provides an in-memory loader.PackageLoader for
// tests, standing in for the external package loader collaborator
// without ever touching the network or disk.
package loadertest

import (
	"context"
	"fmt"
	"sort"

	"github.com/gofhir/snapshotgen/loader"
)

// Loader is a hand-populated in-memory loader.PackageLoader.
type Loader struct {
	byFilename map[string]*loader.Metadata // "pkgID@pkgVersion/filename"
	byURL      map[string]*loader.Metadata
	byID       map[string]*loader.Metadata
	byName     map[string]*loader.Metadata
	context    []loader.PackageRef
	deps       map[string][]loader.PackageRef
	manifests  map[string]*loader.PackageManifest
	cachePath  string
}

// New constructs an empty Loader rooted at cachePath (the directory
// CachePath returns).
func New(cachePath string) *Loader {
	return &Loader{
		byFilename: make(map[string]*loader.Metadata),
		byURL:      make(map[string]*loader.Metadata),
		byID:       make(map[string]*loader.Metadata),
		byName:     make(map[string]*loader.Metadata),
		deps:       make(map[string][]loader.PackageRef),
		manifests:  make(map[string]*loader.PackageManifest),
		cachePath:  cachePath,
	}
}

func filenameKey(pkg loader.PackageRef, filename string) string {
	return pkg.String() + "/" + filename
}

// Add registers meta, indexing it by filename, URL, id (its resource id,
// taken from meta.Name if meta doesn't carry a separate id; FHIR
// StructureDefinition ids and names commonly coincide for profiles), and
// name. It also appends meta.Package to the context package list if not
// already present.
func (l *Loader) Add(meta loader.Metadata) *Loader {
	m := meta
	l.byFilename[filenameKey(m.Package, m.Filename)] = &m
	if m.URL != "" {
		l.byURL[m.URL] = &m
	}
	if m.Name != "" {
		l.byName[m.Name] = &m
		l.byID[m.Name] = &m
	}

	for _, p := range l.context {
		if p == m.Package {
			return l
		}
	}
	l.context = append(l.context, m.Package)
	return l
}

// SetDependencies registers pkg's direct dependencies.
func (l *Loader) SetDependencies(pkg loader.PackageRef, deps ...loader.PackageRef) *Loader {
	l.deps[pkg.String()] = deps
	return l
}

// SetManifest registers pkg's parsed manifest.
func (l *Loader) SetManifest(pkg loader.PackageRef, manifest loader.PackageManifest) *Loader {
	l.manifests[pkg.String()] = &manifest
	return l
}

func (l *Loader) ResolveByFilename(_ context.Context, pkg loader.PackageRef, filename string) (*loader.Metadata, error) {
	if m, ok := l.byFilename[filenameKey(pkg, filename)]; ok {
		return m, nil
	}
	return nil, fmt.Errorf("%w: %s/%s", loader.ErrNotFound, pkg, filename)
}

func (l *Loader) ResolveMeta(ctx context.Context, filter loader.MetaFilter) (*loader.Metadata, error) {
	m, ok, err := l.LookupMeta(ctx, filter)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %+v", loader.ErrNotFound, filter)
	}
	return m, nil
}

func (l *Loader) LookupMeta(_ context.Context, filter loader.MetaFilter) (*loader.Metadata, bool, error) {
	var m *loader.Metadata
	var ok bool
	switch {
	case filter.URL != "":
		m, ok = l.byURL[filter.URL]
	case filter.ID != "":
		m, ok = l.byID[filter.ID]
	case filter.Name != "":
		m, ok = l.byName[filter.Name]
	}
	if !ok {
		return nil, false, nil
	}
	if filter.PackageFilter != nil && m.Package != *filter.PackageFilter {
		return nil, false, nil
	}
	return m, true, nil
}

func (l *Loader) ContextPackages(context.Context) ([]loader.PackageRef, error) {
	return append([]loader.PackageRef(nil), l.context...), nil
}

func (l *Loader) DirectDependencies(_ context.Context, pkg loader.PackageRef) ([]loader.PackageRef, error) {
	return l.deps[pkg.String()], nil
}

func (l *Loader) PackageManifest(_ context.Context, pkg loader.PackageRef) (*loader.PackageManifest, error) {
	if m, ok := l.manifests[pkg.String()]; ok {
		return m, nil
	}
	return &loader.PackageManifest{Name: pkg.ID, Version: pkg.Version}, nil
}

func (l *Loader) CachePath(context.Context) (string, error) {
	return l.cachePath, nil
}

func (l *Loader) Filenames(_ context.Context, pkg loader.PackageRef) ([]string, error) {
	var out []string
	for _, m := range l.byFilename {
		if m.Package == pkg {
			out = append(out, m.Filename)
		}
	}
	sort.Strings(out)
	return out, nil
}

var _ loader.PackageLoader = (*Loader)(nil)

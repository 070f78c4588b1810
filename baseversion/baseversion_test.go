package baseversion

import (
	"context"
	"testing"

	"github.com/gofhir/snapshotgen/loader"
)

type stubLoader struct {
	deps     map[string][]loader.PackageRef
	manifest map[string]*loader.PackageManifest
}

func (s stubLoader) ResolveByFilename(context.Context, loader.PackageRef, string) (*loader.Metadata, error) {
	return nil, loader.ErrNotFound
}
func (s stubLoader) ResolveMeta(context.Context, loader.MetaFilter) (*loader.Metadata, error) {
	return nil, loader.ErrNotFound
}
func (s stubLoader) LookupMeta(context.Context, loader.MetaFilter) (*loader.Metadata, bool, error) {
	return nil, false, nil
}
func (s stubLoader) ContextPackages(context.Context) ([]loader.PackageRef, error) { return nil, nil }
func (s stubLoader) DirectDependencies(_ context.Context, pkg loader.PackageRef) ([]loader.PackageRef, error) {
	return s.deps[pkg.String()], nil
}
func (s stubLoader) PackageManifest(_ context.Context, pkg loader.PackageRef) (*loader.PackageManifest, error) {
	return s.manifest[pkg.String()], nil
}
func (s stubLoader) CachePath(context.Context) (string, error)                     { return "", nil }
func (s stubLoader) Filenames(context.Context, loader.PackageRef) ([]string, error) { return nil, nil }

var defaultCore = loader.PackageRef{ID: "hl7.fhir.r4.core", Version: "4.0.1"}

func TestResolveSelfIsBaseLibrary(t *testing.T) {
	self := loader.PackageRef{ID: "hl7.fhir.r4.core", Version: "4.0.1"}
	got, ambiguous, err := Resolve(context.Background(), self, stubLoader{}, nil, defaultCore)
	if err != nil || ambiguous {
		t.Fatalf("got %v, ambiguous=%v, err=%v", got, ambiguous, err)
	}
	if got != self {
		t.Fatalf("got %v, want %v", got, self)
	}
}

func TestResolveNormalizesHistoricalMisnumbering(t *testing.T) {
	self := loader.PackageRef{ID: "hl7.fhir.r4.core", Version: "4.0.0"}
	got, _, err := Resolve(context.Background(), self, stubLoader{}, nil, defaultCore)
	if err != nil {
		t.Fatal(err)
	}
	if got.Version != "4.0.1" {
		t.Fatalf("version = %s, want 4.0.1", got.Version)
	}
}

func TestResolveSingleDirectDependency(t *testing.T) {
	profile := loader.PackageRef{ID: "my.ig", Version: "1.0.0"}
	pl := stubLoader{deps: map[string][]loader.PackageRef{
		profile.String(): {{ID: "hl7.fhir.r4.core", Version: "4.0.1"}, {ID: "some.other.ig", Version: "2.0.0"}},
	}}
	got, ambiguous, err := Resolve(context.Background(), profile, pl, nil, defaultCore)
	if err != nil || ambiguous {
		t.Fatalf("got %v, ambiguous=%v, err=%v", got, ambiguous, err)
	}
	if got.ID != "hl7.fhir.r4.core" {
		t.Fatalf("got %v", got)
	}
}

func TestResolveMultipleBaseLibraryDepsFallsBackAndFlagsAmbiguous(t *testing.T) {
	profile := loader.PackageRef{ID: "my.ig", Version: "1.0.0"}
	pl := stubLoader{deps: map[string][]loader.PackageRef{
		profile.String(): {{ID: "hl7.fhir.r4.core", Version: "4.0.1"}, {ID: "hl7.fhir.r5.core", Version: "5.0.0"}},
	}}
	got, ambiguous, err := Resolve(context.Background(), profile, pl, nil, defaultCore)
	if err != nil {
		t.Fatal(err)
	}
	if !ambiguous {
		t.Fatal("want ambiguous=true")
	}
	if got != defaultCore {
		t.Fatalf("got %v, want defaultCore %v", got, defaultCore)
	}
}

func TestResolveSameBaseLibraryDifferentVersionsPicksHighest(t *testing.T) {
	profile := loader.PackageRef{ID: "my.ig", Version: "1.0.0"}
	pl := stubLoader{deps: map[string][]loader.PackageRef{
		profile.String(): {{ID: "hl7.fhir.r4.core", Version: "3.5.0"}, {ID: "hl7.fhir.r4.core", Version: "4.0.1"}},
	}}
	got, ambiguous, err := Resolve(context.Background(), profile, pl, nil, defaultCore)
	if err != nil || ambiguous {
		t.Fatalf("got %v, ambiguous=%v, err=%v", got, ambiguous, err)
	}
	if got.Version != "4.0.1" {
		t.Fatalf("got %v", got)
	}
}

func TestResolveFallsBackToCompatibleVersions(t *testing.T) {
	profile := loader.PackageRef{ID: "my.ig", Version: "1.0.0"}
	pl := stubLoader{
		manifest: map[string]*loader.PackageManifest{
			profile.String(): {CompatibleVersions: []string{"3.0.2", "4.0.1"}},
		},
	}
	versionMap := map[string]loader.PackageRef{
		"4.0.1": {ID: "hl7.fhir.r4.core", Version: "4.0.1"},
	}
	got, ambiguous, err := Resolve(context.Background(), profile, pl, versionMap, defaultCore)
	if err != nil || ambiguous {
		t.Fatalf("got %v, ambiguous=%v, err=%v", got, ambiguous, err)
	}
	if got.ID != "hl7.fhir.r4.core" {
		t.Fatalf("got %v", got)
	}
}

func TestResolveFallsBackToDefault(t *testing.T) {
	profile := loader.PackageRef{ID: "my.ig", Version: "1.0.0"}
	got, ambiguous, err := Resolve(context.Background(), profile, stubLoader{}, nil, defaultCore)
	if err != nil || ambiguous {
		t.Fatalf("got %v, ambiguous=%v, err=%v", got, ambiguous, err)
	}
	if got != defaultCore {
		t.Fatalf("got %v, want %v", got, defaultCore)
	}
}

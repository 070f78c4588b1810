package snapshotgen

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gofhir/snapshotgen/element"
	"github.com/gofhir/snapshotgen/loader"
	"github.com/gofhir/snapshotgen/loadertest"
	"github.com/gofhir/snapshotgen/snapcache"
)

var corePkg = loader.PackageRef{ID: "hl7.fhir.r4.core", Version: "4.0.1"}

func patientBaseType() loader.Metadata {
	return loader.Metadata{
		URL:        "http://hl7.org/fhir/StructureDefinition/Patient",
		Name:       "Patient",
		Type:       "Patient",
		Derivation: loader.DerivationSpecialization,
		FHIRVersion: "4.0.1",
		Filename:   "StructureDefinition-Patient.json",
		Package:    corePkg,
		Snapshot: []element.Element{
			{ID: "Patient", Path: "Patient"},
			{ID: "Patient.identifier", Path: "Patient.identifier", Base: &element.Base{Max: "*"}},
		},
	}
}

func extHearingLossProfile(pkg loader.PackageRef) loader.Metadata {
	return loader.Metadata{
		URL:            "http://example.org/fhir/StructureDefinition/ext-hearing-loss",
		Name:           "ext-hearing-loss",
		Type:           "Patient",
		Derivation:     loader.DerivationConstraint,
		BaseDefinition: "http://hl7.org/fhir/StructureDefinition/Patient",
		Filename:       "StructureDefinition-ext-hearing-loss.json",
		Package:        pkg,
		Differential: []element.Element{
			{ID: "Patient.identifier", Path: "Patient.identifier", MustSupport: true},
		},
	}
}

func newTestEngine(t *testing.T, mode snapcache.Mode) (*Engine, *loadertest.Loader, string) {
	t.Helper()
	dir := t.TempDir()
	pkg := loader.PackageRef{ID: "example.ig", Version: "1.0.0"}

	l := loadertest.New(dir)
	l.Add(patientBaseType())
	l.Add(extHearingLossProfile(pkg))
	l.SetDependencies(pkg, corePkg)

	eng, err := New(l, WithCachePath(dir), WithCacheMode(mode))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return eng, l, dir
}

func cachedFilePath(dir, pkgID, pkgVersion, filename string) string {
	return filepath.Join(dir, pkgID+"#"+pkgVersion, ".fsg.snapshots", "v"+EngineMajorMinor+".x", filename)
}

func TestLazyCacheWriteThenHit(t *testing.T) {
	eng, _, dir := newTestEngine(t, snapcache.ModeLazy)

	result, err := eng.GetSnapshot(context.Background(), "http://example.org/fhir/StructureDefinition/ext-hearing-loss", nil)
	if err != nil {
		t.Fatalf("GetSnapshot: %v", err)
	}

	var found bool
	for _, e := range result.Elements {
		if e.ID == "Patient.identifier" && e.MustSupport {
			found = true
		}
	}
	if !found {
		t.Fatal("expected Patient.identifier to be mustSupport in generated snapshot")
	}

	path := cachedFilePath(dir, "example.ig", "1.0.0", "StructureDefinition-ext-hearing-loss.json")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected cache file to exist: %v", err)
	}

	// Second call is served from the cache file written above and must
	// match the first result.
	second, err := eng.GetSnapshot(context.Background(), "http://example.org/fhir/StructureDefinition/ext-hearing-loss", nil)
	if err != nil {
		t.Fatalf("second GetSnapshot (should be cache hit): %v", err)
	}
	if len(second.Elements) != len(result.Elements) {
		t.Fatalf("cached result differs in length: %d vs %d", len(second.Elements), len(result.Elements))
	}
}

func TestCorruptCacheRecovery(t *testing.T) {
	eng, _, dir := newTestEngine(t, snapcache.ModeLazy)

	path := cachedFilePath(dir, "example.ig", "1.0.0", "StructureDefinition-ext-hearing-loss.json")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(`{"resourceType":"StructureDefinition"`), 0o644); err != nil {
		t.Fatal(err)
	}

	result, err := eng.GetSnapshot(context.Background(), "http://example.org/fhir/StructureDefinition/ext-hearing-loss", nil)
	if err != nil {
		t.Fatalf("GetSnapshot after corrupt cache: %v", err)
	}
	if len(result.Elements) == 0 {
		t.Fatal("expected a well-formed regenerated snapshot")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) == 0 || !json.Valid(data) {
		t.Fatal("expected the corrupt file to be rewritten with valid content")
	}
}

func TestNoneModeNeverWrites(t *testing.T) {
	eng, _, dir := newTestEngine(t, snapcache.ModeNone)

	path := cachedFilePath(dir, "example.ig", "1.0.0", "StructureDefinition-ext-hearing-loss.json")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	dummy := []byte(`{"resourceType":"dummy"}`)
	if err := os.WriteFile(path, dummy, 0o644); err != nil {
		t.Fatal(err)
	}

	result, err := eng.GetSnapshot(context.Background(), "http://example.org/fhir/StructureDefinition/ext-hearing-loss", nil)
	if err != nil {
		t.Fatalf("GetSnapshot: %v", err)
	}
	if len(result.Elements) == 0 {
		t.Fatal("expected a generated snapshot")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != string(dummy) {
		t.Fatal("none mode must leave the pre-existing file untouched")
	}
}

func TestGetSnapshotPolymorphicShortcut(t *testing.T) {
	dir := t.TempDir()
	pkg := loader.PackageRef{ID: "example.ig", Version: "1.0.0"}

	observation := loader.Metadata{
		URL:        "http://hl7.org/fhir/StructureDefinition/Observation",
		Name:       "Observation",
		Derivation: loader.DerivationSpecialization,
		Filename:   "StructureDefinition-Observation.json",
		Package:    corePkg,
		Snapshot: []element.Element{
			{ID: "Observation", Path: "Observation"},
			{ID: "Observation.value[x]", Path: "Observation.value[x]", Type: []element.TypeRef{
				{Code: "Quantity"}, {Code: "CodeableConcept"}, {Code: "string"},
			}},
		},
	}
	profile := loader.Metadata{
		URL:            "http://example.org/fhir/StructureDefinition/obs-quantity",
		Name:           "obs-quantity",
		Derivation:     loader.DerivationConstraint,
		BaseDefinition: "http://hl7.org/fhir/StructureDefinition/Observation",
		Filename:       "StructureDefinition-obs-quantity.json",
		Package:        pkg,
		Differential: []element.Element{
			{ID: "Observation.valueQuantity", Path: "Observation.valueQuantity", MustSupport: true},
		},
	}

	l := loadertest.New(dir)
	l.Add(observation)
	l.Add(profile)
	l.SetDependencies(pkg, corePkg)

	eng, err := New(l, WithCachePath(dir), WithCacheMode(snapcache.ModeNone))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	result, err := eng.GetSnapshot(context.Background(), profile.URL, nil)
	if err != nil {
		t.Fatalf("GetSnapshot: %v", err)
	}

	var poly *element.Element
	for i := range result.Elements {
		if result.Elements[i].ID == "Observation.value[x]" {
			poly = &result.Elements[i]
		}
		if result.Elements[i].ID == "Observation.valueQuantity" {
			t.Error("expected no literal Observation.valueQuantity element")
		}
	}
	if poly == nil {
		t.Fatal("expected Observation.value[x] in output")
	}
	if len(poly.Type) != 1 || poly.Type[0].Code != "Quantity" || !poly.MustSupport {
		t.Errorf("got %+v", poly)
	}
}

func TestGetSnapshotBaseTypeReturnsStoredSnapshotVerbatim(t *testing.T) {
	dir := t.TempDir()
	l := loadertest.New(dir)
	l.Add(patientBaseType())

	eng, err := New(l, WithCachePath(dir), WithCacheMode(snapcache.ModeNone))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	result, err := eng.GetSnapshot(context.Background(), "Patient", nil)
	if err != nil {
		t.Fatalf("GetSnapshot: %v", err)
	}
	if len(result.Elements) != 2 {
		t.Fatalf("got %d elements, want 2", len(result.Elements))
	}
	if result.CorePackage != corePkg {
		t.Fatalf("CorePackage = %v, want %v", result.CorePackage, corePkg)
	}
}

func TestGetSnapshotExpandsChildTypeOnDemand(t *testing.T) {
	dir := t.TempDir()
	pkg := loader.PackageRef{ID: "example.ig", Version: "1.0.0"}

	identifierType := loader.Metadata{
		URL:        "http://hl7.org/fhir/StructureDefinition/Identifier",
		Name:       "Identifier",
		Derivation: loader.DerivationSpecialization,
		Filename:   "StructureDefinition-Identifier.json",
		Package:    corePkg,
		Snapshot: []element.Element{
			{ID: "Identifier", Path: "Identifier"},
			{ID: "Identifier.system", Path: "Identifier.system", Base: &element.Base{Max: "1"}},
			{ID: "Identifier.value", Path: "Identifier.value", Base: &element.Base{Max: "1"}},
		},
	}
	patient := patientBaseType()
	patient.Snapshot[1].Type = []element.TypeRef{{Code: "Identifier"}}

	profile := loader.Metadata{
		URL:            "http://example.org/fhir/StructureDefinition/patient-mrn",
		Name:           "patient-mrn",
		Derivation:     loader.DerivationConstraint,
		BaseDefinition: "http://hl7.org/fhir/StructureDefinition/Patient",
		Filename:       "StructureDefinition-patient-mrn.json",
		Package:        pkg,
		Differential: []element.Element{
			{ID: "Patient.identifier.system", Path: "Patient.identifier.system", MustSupport: true},
		},
	}

	l := loadertest.New(dir)
	l.Add(identifierType)
	l.Add(patient)
	l.Add(profile)
	l.SetDependencies(pkg, corePkg)

	eng, err := New(l, WithCachePath(dir), WithCacheMode(snapcache.ModeNone))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	result, err := eng.GetSnapshot(context.Background(), profile.URL, nil)
	if err != nil {
		t.Fatalf("GetSnapshot: %v", err)
	}

	var found bool
	for _, e := range result.Elements {
		if e.ID == "Patient.identifier.system" {
			found = true
			if !e.MustSupport {
				t.Error("expected Patient.identifier.system merged with mustSupport true")
			}
		}
	}
	if !found {
		t.Fatal("expected Patient.identifier.system expanded from Identifier and present in output")
	}
}

func TestGetSnapshotNotFoundAccumulatesAttempts(t *testing.T) {
	dir := t.TempDir()
	l := loadertest.New(dir)
	eng, err := New(l, WithCachePath(dir))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = eng.GetSnapshot(context.Background(), "NoSuchThing", nil)
	if err == nil {
		t.Fatal("expected not-found error")
	}
	var sgErr *Error
	if !errors.As(err, &sgErr) || sgErr.Kind != ErrNotFound {
		t.Fatalf("got %v, want a not-found *Error", err)
	}
	if !strings.Contains(err.Error(), "2 resolution attempt(s) failed") {
		t.Errorf("expected both the id and the name attempt accounted for, got %v", err)
	}
}

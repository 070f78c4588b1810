package merge

import (
	"errors"
	"testing"

	"github.com/gofhir/snapshotgen/element"
)

func TestMergeIDMismatch(t *testing.T) {
	base := element.Element{ID: "Patient.name"}
	diff := element.Element{ID: "Patient.gender"}
	if _, err := Merge(base, diff); !errors.Is(err, ErrIDMismatch) {
		t.Fatalf("got %v, want ErrIDMismatch", err)
	}
}

func TestMergeIdempotenceModuloAccumulation(t *testing.T) {
	e := element.Element{
		ID:         "Patient.name",
		Path:       "Patient.name",
		Constraint: []element.Constraint{{Key: "ele-1"}},
		Condition:  []string{"c1"},
		Mapping:    []element.Mapping{{Identity: "rim", Map: "x"}},
	}

	out, err := Merge(e, e)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if len(out.Constraint) != 2*len(e.Constraint) {
		t.Errorf("constraint length = %d, want %d", len(out.Constraint), 2*len(e.Constraint))
	}
	if len(out.Condition) != len(e.Condition) {
		t.Errorf("condition should dedupe: got %d, want %d", len(out.Condition), len(e.Condition))
	}
	if len(out.Mapping) != len(e.Mapping) {
		t.Errorf("mapping should dedupe: got %d, want %d", len(out.Mapping), len(e.Mapping))
	}
	if out.ID != e.ID || out.Path != e.Path {
		t.Errorf("id/path changed: %s/%s", out.ID, out.Path)
	}
}

func TestMergeOverwriteLeavesUndefinedAlone(t *testing.T) {
	base := element.Element{ID: "a", Path: "a", Comment: "base comment", Max: "1"}
	diff := element.Element{ID: "a", Path: "a"}

	out, err := Merge(base, diff)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if out.Comment != "base comment" {
		t.Errorf("comment overwritten by empty diff: %q", out.Comment)
	}
	if out.Max != "1" {
		t.Errorf("max overwritten by empty diff: %q", out.Max)
	}
}

func TestMergeOverwriteAppliesWhenPresent(t *testing.T) {
	base := element.Element{ID: "a", Path: "a", Max: "1"}
	diff := element.Element{ID: "a", Path: "a", Max: "0"}

	out, err := Merge(base, diff)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if out.Max != "0" {
		t.Errorf("max = %q, want 0", out.Max)
	}
}

func TestMergeSliceNameFixup(t *testing.T) {
	base := element.Element{ID: "Observation.value[x]", Path: "Observation.value[x]"}
	diff := element.Element{ID: "Observation.value[x]", Path: "Observation.value[x]", SliceName: "valueQuantity", Type: []element.TypeRef{{Code: "Quantity"}}}

	out, err := Merge(base, diff)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if out.SliceName != "" {
		t.Errorf("sliceName = %q, want cleared (not a suffix of id after colon)", out.SliceName)
	}
}

func TestMergeSliceNameKeptWhenConsistent(t *testing.T) {
	base := element.Element{ID: "Patient.identifier:mrn", Path: "Patient.identifier", SliceName: "mrn"}
	diff := element.Element{ID: "Patient.identifier:mrn", Path: "Patient.identifier", SliceName: "mrn"}

	out, err := Merge(base, diff)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if out.SliceName != "mrn" {
		t.Errorf("sliceName = %q, want mrn", out.SliceName)
	}
}

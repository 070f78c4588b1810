package snapshotgen

import (
	"fmt"

	"github.com/gofhir/snapshotgen/loader"
)

// FHIRVersion is one of the engine's accepted canonical version forms.
type FHIRVersion string

// Supported FHIR versions.
const (
	STU3 FHIRVersion = "STU3"
	R4   FHIRVersion = "R4"
	R4B  FHIRVersion = "R4B"
	R5   FHIRVersion = "R5"
)

// String returns the version string.
func (v FHIRVersion) String() string {
	return string(v)
}

// IsValid returns true if this is a supported FHIR version.
func (v FHIRVersion) IsValid() bool {
	switch v {
	case STU3, R4, R4B, R5:
		return true
	default:
		return false
	}
}

// versionConfig holds version-specific configuration.
type versionConfig struct {
	// CorePackage is the canonical base-library package for type lookups.
	CorePackage loader.PackageRef

	// FHIRVersionString is the version string used in StructureDefinitions.
	FHIRVersionString string
}

// versionConfigs maps canonical FHIR versions to their configurations.
var versionConfigs = map[FHIRVersion]versionConfig{
	STU3: {
		CorePackage:       loader.PackageRef{ID: "hl7.fhir.r3.core", Version: "3.0.2"},
		FHIRVersionString: "3.0.2",
	},
	R4: {
		CorePackage:       loader.PackageRef{ID: "hl7.fhir.r4.core", Version: "4.0.1"},
		FHIRVersionString: "4.0.1",
	},
	R4B: {
		CorePackage:       loader.PackageRef{ID: "hl7.fhir.r4b.core", Version: "4.3.0"},
		FHIRVersionString: "4.3.0",
	},
	R5: {
		CorePackage:       loader.PackageRef{ID: "hl7.fhir.r5.core", Version: "5.0.0"},
		FHIRVersionString: "5.0.0",
	},
}

// acceptedInputs maps every textual form the engine accepts
// to its canonical FHIRVersion.
var acceptedInputs = map[string]FHIRVersion{
	"3.0.2": STU3, "3.0": STU3, "R3": STU3, "STU3": STU3,
	"4.0.1": R4, "4.0": R4, "R4": R4,
	"4.3.0": R4B, "4.3": R4B, "R4B": R4B,
	"5.0.0": R5, "5.0": R5, "R5": R5,
}

// ErrUnknownVersion is returned by ParseFHIRVersion for an input outside
// the accepted set; that is a fatal config error.
type ErrUnknownVersion struct {
	Input string
}

func (e *ErrUnknownVersion) Error() string {
	return fmt.Sprintf("snapshotgen: unknown FHIR version %q", e.Input)
}

// ParseFHIRVersion resolves any of the accepted textual forms to its
// canonical FHIRVersion.
func ParseFHIRVersion(input string) (FHIRVersion, error) {
	if v, ok := acceptedInputs[input]; ok {
		return v, nil
	}
	return "", &ErrUnknownVersion{Input: input}
}

// getVersionConfig returns the configuration for a FHIR version.
func getVersionConfig(v FHIRVersion) (versionConfig, bool) {
	cfg, ok := versionConfigs[v]
	return cfg, ok
}

// CorePackage returns the canonical base-library package for v, or the
// zero PackageRef if v is not one of the accepted versions.
func CorePackage(v FHIRVersion) loader.PackageRef {
	cfg, ok := getVersionConfig(v)
	if !ok {
		return loader.PackageRef{}
	}
	return cfg.CorePackage
}

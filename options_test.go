package snapshotgen

import (
	"context"
	"testing"

	"github.com/gofhir/snapshotgen/loader"
	"github.com/gofhir/snapshotgen/logger"
	"github.com/gofhir/snapshotgen/snapcache"
)

func TestDefaultConfig(t *testing.T) {
	c := DefaultConfig()

	if c.FHIRVersion != R4 {
		t.Errorf("FHIRVersion = %v; want R4", c.FHIRVersion)
	}
	if c.DefaultFHIRVersion != R4 {
		t.Errorf("DefaultFHIRVersion = %v; want R4", c.DefaultFHIRVersion)
	}
	if c.CacheMode != snapcache.ModeLazy {
		t.Errorf("CacheMode = %v; want lazy", c.CacheMode)
	}
	if c.Logger == nil {
		t.Error("Logger should default to a non-nil no-op")
	}
}

func TestResolveConfigRequiresCachePath(t *testing.T) {
	_, err := resolveConfig()
	if err == nil {
		t.Fatal("expected error for missing cachePath")
	}
}

func TestResolveConfigAppliesOptions(t *testing.T) {
	c, err := resolveConfig(
		WithCachePath("/tmp/cache"),
		WithFHIRVersion("4.3.0"),
		WithCacheMode(snapcache.ModeEnsure),
	)
	if err != nil {
		t.Fatalf("resolveConfig: %v", err)
	}
	if c.FHIRVersion != R4B {
		t.Errorf("FHIRVersion = %v; want R4B", c.FHIRVersion)
	}
	if c.DefaultFHIRVersion != R4B {
		t.Errorf("DefaultFHIRVersion = %v; want R4B (defaulted from FHIRVersion)", c.DefaultFHIRVersion)
	}
	if c.CacheMode != snapcache.ModeEnsure {
		t.Errorf("CacheMode = %v; want ensure", c.CacheMode)
	}
	if c.CachePath != "/tmp/cache" {
		t.Errorf("CachePath = %q", c.CachePath)
	}
}

func TestResolveConfigRejectsUnknownVersion(t *testing.T) {
	_, err := resolveConfig(WithCachePath("/tmp/cache"), WithFHIRVersion("R2"))
	if err == nil {
		t.Fatal("expected error for unknown fhirVersion")
	}
}

func TestWithDefaultFHIRVersionOverridesDerivedDefault(t *testing.T) {
	c, err := resolveConfig(
		WithCachePath("/tmp/cache"),
		WithFHIRVersion("4.0.1"),
		WithDefaultFHIRVersion(R5),
	)
	if err != nil {
		t.Fatalf("resolveConfig: %v", err)
	}
	if c.FHIRVersion != R4 {
		t.Errorf("FHIRVersion = %v; want R4", c.FHIRVersion)
	}
	if c.DefaultFHIRVersion != R5 {
		t.Errorf("DefaultFHIRVersion = %v; want R5 (explicit override kept)", c.DefaultFHIRVersion)
	}
}

func TestWithContextParsesAllAcceptedForms(t *testing.T) {
	c, err := resolveConfig(
		WithCachePath("/tmp/cache"),
		WithContext(
			"hl7.fhir.r4.core#4.0.1",
			"hl7.fhir.us.core@5.0.1",
			"hl7.fhir.r4.core",
			loader.PackageRef{ID: "explicit.pkg", Version: "1.0.0"},
		),
	)
	if err != nil {
		t.Fatalf("resolveConfig: %v", err)
	}
	if len(c.Context) != 4 {
		t.Fatalf("Context = %+v; want 4 entries", c.Context)
	}
	if c.Context[0] != (loader.PackageRef{ID: "hl7.fhir.r4.core", Version: "4.0.1"}) {
		t.Errorf("Context[0] = %+v", c.Context[0])
	}
	if c.Context[1] != (loader.PackageRef{ID: "hl7.fhir.us.core", Version: "5.0.1"}) {
		t.Errorf("Context[1] = %+v", c.Context[1])
	}
	if c.Context[2] != (loader.PackageRef{ID: "hl7.fhir.r4.core"}) {
		t.Errorf("Context[2] = %+v", c.Context[2])
	}
	if c.Context[3] != (loader.PackageRef{ID: "explicit.pkg", Version: "1.0.0"}) {
		t.Errorf("Context[3] = %+v", c.Context[3])
	}
}

func TestWithLoggerAndMetrics(t *testing.T) {
	log := logger.NewStringLogger("test")
	m := NewMetrics()

	c, err := resolveConfig(
		WithCachePath("/tmp/cache"),
		WithLogger(log),
		WithMetrics(m),
	)
	if err != nil {
		t.Fatalf("resolveConfig: %v", err)
	}
	if c.Logger != log {
		t.Error("expected configured logger retained")
	}
	if c.Metrics != m {
		t.Error("expected configured metrics retained")
	}
}

func TestWithCallerContext(t *testing.T) {
	type key string
	ctx := context.WithValue(context.Background(), key("k"), "v")

	c, err := resolveConfig(WithCachePath("/tmp/cache"), WithCallerContext(ctx))
	if err != nil {
		t.Fatalf("resolveConfig: %v", err)
	}
	if c.Ctx.Value(key("k")) != "v" {
		t.Error("expected caller context retained")
	}
}

package config

import "testing"

func TestNewAppliesSaneDefaults(t *testing.T) {
	c := New()
	if c.DefaultSpace != SpaceDefault {
		t.Fatalf("DefaultSpace = %v, want %v", c.DefaultSpace, SpaceDefault)
	}
	if c.SimplifyFixpointFactor != 20 {
		t.Fatalf("SimplifyFixpointFactor = %d, want 20", c.SimplifyFixpointFactor)
	}
	if c.Logger == nil {
		t.Fatalf("New() must install a non-nil default Logger")
	}
}

func TestOptionsOverrideDefaults(t *testing.T) {
	c := New(
		WithDefaultSpace(SpaceDevice),
		WithSimplifyFixpointFactor(5),
		WithBlockedReductionDefaults(8, 64),
		WithMinCoreVersion("v2.3.0"),
	)
	if c.DefaultSpace != SpaceDevice {
		t.Fatalf("DefaultSpace = %v, want %v", c.DefaultSpace, SpaceDevice)
	}
	if c.SimplifyFixpointFactor != 5 {
		t.Fatalf("SimplifyFixpointFactor = %d, want 5", c.SimplifyFixpointFactor)
	}
	if c.DefaultNumChunks != 8 || c.DefaultGroupSize != 64 {
		t.Fatalf("blocked-reduction defaults = (%d, %d), want (8, 64)", c.DefaultNumChunks, c.DefaultGroupSize)
	}
	if c.MinCoreVersion != "v2.3.0" {
		t.Fatalf("MinCoreVersion = %q, want v2.3.0", c.MinCoreVersion)
	}
}

func TestRuleEnabledGatesOnVersion(t *testing.T) {
	c := New(WithMinCoreVersion("v1.5.0"))
	if !c.RuleEnabled("") {
		t.Fatalf("a rule with no required version must always be enabled")
	}
	if !c.RuleEnabled("v1.5.0") {
		t.Fatalf("a rule requiring exactly the core's version must be enabled")
	}
	if !c.RuleEnabled("v1.0.0") {
		t.Fatalf("a rule requiring an older version must be enabled")
	}
	if c.RuleEnabled("v2.0.0") {
		t.Fatalf("a rule requiring a newer version than MinCoreVersion must be disabled")
	}
}

package capability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalogOperationsAreGloballyUnique(t *testing.T) {
	seen := make(map[string]BusinessModule)
	for _, cap := range All() {
		prev, dup := seen[cap.Canonical]
		require.False(t, dup, "operation %q declared in both %s and %s", cap.Canonical, prev, cap.Module)
		seen[cap.Canonical] = cap.Module
	}
}

func TestCatalogColumnsMatchDeclarationOrder(t *testing.T) {
	caps := All()
	cols := Columns()
	require.Equal(t, len(caps), len(cols))
	for i, cap := range caps {
		assert.Equal(t, cap.Column, cols[i])
	}
}

func TestLookupAcceptsAllNameForms(t *testing.T) {
	tests := []struct {
		name   string
		module BusinessModule
	}{
		{"view_vendors", ModuleVendor},
		{"vendor.view_vendors", ModuleVendor},
		{"ViewVendors", ModuleVendor},
		{"approve_rfp", ModuleRFP},
		{"rfp.approve_rfp", ModuleRFP},
		{"view_access_requests", ModuleSystem},
	}
	for _, tt := range tests {
		cap, ok := Lookup(tt.name)
		require.True(t, ok, "Lookup(%q)", tt.name)
		assert.Equal(t, tt.module, cap.Module)
	}
}

func TestLookupRejectsUnknownNames(t *testing.T) {
	for _, name := range []string{"", "fly_to_moon", "vendor.fly_to_moon", "rfp.view_vendors"} {
		_, ok := Lookup(name)
		assert.False(t, ok, "Lookup(%q) should not resolve", name)
	}
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "view_vendors", Normalize("ViewVendors"))
	assert.Equal(t, "view_vendors", Normalize("view_vendors"))
	assert.Equal(t, "vendor.view_vendors", Normalize("vendor.ViewVendors"))
	assert.Equal(t, "", Normalize("  "))
}

func TestByModuleCoversEveryDeclaredFlag(t *testing.T) {
	total := 0
	for _, module := range Modules() {
		caps := ByModule(module)
		require.NotEmpty(t, caps)
		for _, cap := range caps {
			assert.Equal(t, module, cap.Module)
		}
		total += len(caps)
	}
	assert.Equal(t, len(All()), total)
}

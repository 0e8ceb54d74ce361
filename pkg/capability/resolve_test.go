package capability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveExplicitNameWins(t *testing.T) {
	cap, err := Resolve("view_contracts", "/vendors/42", "vendor onboarding")
	require.NoError(t, err)
	assert.Equal(t, "view_contracts", cap.Canonical)
}

func TestResolveUnknownExplicitNameDeniesWithoutFallback(t *testing.T) {
	_, err := Resolve("fly_to_moon", "/vendors", "vendor")
	assert.ErrorIs(t, err, ErrCapabilityUnknown)
}

func TestResolveURLLongestPrefix(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"/vendors", "view_vendors"},
		{"/vendors/42", "view_vendors"},
		{"/vendors/42/contacts", "view_vendors"},
		{"/vendors/documents", "view_vendor_documents"},
		{"/vendors/documents/7", "view_vendor_documents"},
		{"/contracts/payments?page=2", "view_contract_payments"},
		{"/rfps/templates/", "manage_rfp_templates"},
		{"/access-requests", "view_access_requests"},
	}
	for _, tt := range tests {
		cap, ok := ResolveURL(tt.url)
		require.True(t, ok, "ResolveURL(%q)", tt.url)
		assert.Equal(t, tt.want, cap.Canonical, "ResolveURL(%q)", tt.url)
	}
}

func TestResolveURLUnknownPath(t *testing.T) {
	for _, url := range []string{"/unknown", "", "no-leading-slash", "/"} {
		_, ok := ResolveURL(url)
		assert.False(t, ok, "ResolveURL(%q)", url)
	}
}

func TestResolveFeatureKeywords(t *testing.T) {
	cap, ok := ResolveFeature("Vendor Onboarding Dashboard")
	require.True(t, ok)
	assert.Equal(t, "view_vendors", cap.Canonical)

	cap, ok = ResolveFeature("quarterly compliance review")
	require.True(t, ok)
	assert.Equal(t, "view_compliance", cap.Canonical)

	_, ok = ResolveFeature("time tracking")
	assert.False(t, ok)
}

func TestResolveNothingProvided(t *testing.T) {
	_, err := Resolve("", "", "")
	assert.ErrorIs(t, err, ErrCapabilityUnknown)
}

package rfp

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	db.SetMaxOpenConns(1)

	store := NewStore(db)
	require.NoError(t, store.EnsureTable(context.Background()))
	return store
}

func TestCreateAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	created := &RFP{
		TenantID:          "acme",
		Title:             "Data center refresh",
		Description:       "hardware refresh RFP",
		CreatedBy:         10,
		SelectedProposals: []string{"prop_1", "prop_2"},
	}
	require.NoError(t, store.Create(ctx, created))
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, StatusDraft, created.Status)

	got, err := store.Get(ctx, "acme", created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Data center refresh", got.Title)
	assert.Equal(t, []string{"prop_1", "prop_2"}, got.SelectedProposals)
}

func TestTenantScoping(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	r := &RFP{TenantID: "acme", Title: "t", CreatedBy: 1}
	require.NoError(t, store.Create(ctx, r))

	_, err := store.Get(ctx, "globex", r.ID)
	assert.ErrorIs(t, err, sql.ErrNoRows)

	// The documented read-only fallback sees it
	got, err := store.GetAnyTenant(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "acme", got.TenantID)
}

func TestBindWorkflow(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	r := &RFP{TenantID: "acme", Title: "t", CreatedBy: 1}
	require.NoError(t, store.Create(ctx, r))

	require.NoError(t, store.BindWorkflow(ctx, "acme", r.ID, "wf_123"))

	got, err := store.GetByWorkflow(ctx, "acme", "wf_123")
	require.NoError(t, err)
	assert.Equal(t, r.ID, got.ID)

	// Binding an unknown RFP surfaces as not found
	err = store.BindWorkflow(ctx, "acme", "rfp_missing", "wf_123")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestSetStatusSkipsNoOpWrites(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	r := &RFP{TenantID: "acme", Title: "t", CreatedBy: 1}
	require.NoError(t, store.Create(ctx, r))
	before := r.UpdatedAt

	// Writing the current status must not touch updated_at
	require.NoError(t, store.SetStatus(ctx, "acme", r.ID, StatusDraft, 0))
	got, err := store.Get(ctx, "acme", r.ID)
	require.NoError(t, err)
	assert.True(t, got.UpdatedAt.Equal(before))

	require.NoError(t, store.SetStatus(ctx, "acme", r.ID, StatusApproved, 20))
	got, err = store.Get(ctx, "acme", r.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, got.Status)
	assert.Equal(t, int64(20), got.ApprovedBy)
	assert.False(t, got.UpdatedAt.Before(before))
}

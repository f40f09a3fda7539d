package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prospectly/server/pkg/types"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(context.Background()))
	return db
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	assert.NoError(t, db.Migrate(context.Background()))
}

func TestDescriptorRoundTrip(t *testing.T) {
	db := newTestDB(t)
	store := NewDescriptorStore(db)
	ctx := context.Background()

	in := &types.ProviderDescriptor{
		ID:                  "Hunter",
		DisplayName:         "Hunter.io",
		Category:            types.CategoryEmailFinder,
		BaseURL:             "https://api.hunter.io/v2",
		RateLimitRPS:        15,
		BurstSize:           15,
		MaxConcurrent:       2,
		DailyQuota:          1000,
		SupportedOperations: []types.Operation{types.OpFindEmail},
	}
	require.NoError(t, store.Upsert(ctx, in))

	out, err := store.Descriptor(ctx, "HUNTER")
	require.NoError(t, err)
	assert.Equal(t, "hunter", out.ID)
	assert.Equal(t, 15.0, out.RateLimitRPS)
	assert.Equal(t, []types.Operation{types.OpFindEmail}, out.SupportedOperations)
	assert.False(t, out.CachePerTenant)
}

func TestDescriptorUpsertOverwrites(t *testing.T) {
	db := newTestDB(t)
	store := NewDescriptorStore(db)
	ctx := context.Background()

	d := &types.ProviderDescriptor{
		ID: "hunter", DisplayName: "Hunter", Category: types.CategoryEmailFinder,
		BaseURL: "https://api.hunter.io/v2", RateLimitRPS: 15,
		SupportedOperations: []types.Operation{types.OpFindEmail},
	}
	require.NoError(t, store.Upsert(ctx, d))

	d.RateLimitRPS = 5
	require.NoError(t, store.Upsert(ctx, d))

	out, err := store.Descriptor(ctx, "hunter")
	require.NoError(t, err)
	assert.Equal(t, 5.0, out.RateLimitRPS)

	all, err := store.Descriptors(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestDescriptorUnknown(t *testing.T) {
	store := NewDescriptorStore(newTestDB(t))
	_, err := store.Descriptor(context.Background(), "mystery")
	require.Error(t, err)
	assert.Equal(t, types.ErrNotFound, types.AsError(err).Code)
}

func TestSeedPopulatesCatalogOnce(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, Seed(ctx, db, nil))

	store := NewDescriptorStore(db)
	all, err := store.Descriptors(ctx)
	require.NoError(t, err)
	require.Len(t, all, 5)

	apollo, err := store.Descriptor(ctx, "apollo")
	require.NoError(t, err)
	assert.True(t, apollo.CachePerTenant)
	assert.True(t, apollo.Supports(types.OpSearchPeople))

	hunter, err := store.Descriptor(ctx, "hunter")
	require.NoError(t, err)
	assert.Equal(t, []types.Operation{types.OpFindEmail}, hunter.SupportedOperations)

	// Operators may tune rows; a second seed must not clobber them.
	hunter.RateLimitRPS = 1
	require.NoError(t, store.Upsert(ctx, hunter))
	require.NoError(t, Seed(ctx, db, nil))

	reloaded, err := store.Descriptor(ctx, "hunter")
	require.NoError(t, err)
	assert.Equal(t, 1.0, reloaded.RateLimitRPS)
}

func TestSeedWritesFeatures(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	require.NoError(t, Seed(ctx, db, nil))

	var count int
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM provider_features WHERE provider_id = 'apollo'`).Scan(&count))
	assert.Equal(t, 4, count)
}

package credentials

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prospectly/server/pkg/infrastructure/database"
	"github.com/prospectly/server/pkg/types"
)

func newTestStore(t *testing.T) (*Store, *database.DB) {
	t.Helper()
	db, err := database.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(context.Background()))

	store, err := NewStore(db.DB, testKey, nil)
	require.NoError(t, err)
	return store, db
}

func TestAddStartsInactive(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	cred, err := store.Add(ctx, "t1", "Hunter", "main", "sk-123")
	require.NoError(t, err)
	assert.Equal(t, "hunter", cred.ProviderID)
	assert.False(t, cred.IsActive)

	active, err := store.GetActive(ctx, "t1", "hunter")
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestActivateEnforcesSingleActive(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	first, err := store.Add(ctx, "t1", "hunter", "first", "sk-1")
	require.NoError(t, err)
	second, err := store.Add(ctx, "t1", "hunter", "second", "sk-2")
	require.NoError(t, err)

	require.NoError(t, store.Activate(ctx, "t1", "hunter", first.ID))
	require.NoError(t, store.Activate(ctx, "t1", "hunter", second.ID))

	list, err := store.List(ctx, "t1", "hunter")
	require.NoError(t, err)
	activeCount := 0
	for _, c := range list {
		if c.IsActive {
			activeCount++
			assert.Equal(t, second.ID, c.ID)
		}
	}
	assert.Equal(t, 1, activeCount)

	secret, err := store.ActiveSecret(ctx, "t1", "hunter")
	require.NoError(t, err)
	assert.Equal(t, "sk-2", secret)
}

func TestActivateUnknownCredential(t *testing.T) {
	store, _ := newTestStore(t)
	err := store.Activate(context.Background(), "t1", "hunter", "nope")
	require.Error(t, err)
	assert.Equal(t, types.ErrNotFound, types.AsError(err).Code)
}

func TestActiveSecretWithoutCredential(t *testing.T) {
	store, _ := newTestStore(t)
	_, err := store.ActiveSecret(context.Background(), "t1", "hunter")
	require.Error(t, err)
	assert.Equal(t, types.ErrAuth, types.AsError(err).Code)
}

func TestMutationsNotifyInvalidator(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	var calls []string
	store.SetInvalidator(func(tenantID, providerID string) {
		calls = append(calls, tenantID+"/"+providerID)
	})

	cred, err := store.Add(ctx, "t1", "hunter", "main", "sk-1")
	require.NoError(t, err)
	require.NoError(t, store.Activate(ctx, "t1", "hunter", cred.ID))
	label := "renamed"
	require.NoError(t, store.Update(ctx, "t1", cred.ID, &label, nil))
	require.NoError(t, store.Delete(ctx, "t1", cred.ID))

	assert.Len(t, calls, 4)
	for _, c := range calls {
		assert.Equal(t, "t1/hunter", c)
	}
}

func TestActiveSecretSelfHealsOnDecryptFailure(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()

	cred, err := store.Add(ctx, "t1", "hunter", "main", "sk-1")
	require.NoError(t, err)
	require.NoError(t, store.Activate(ctx, "t1", "hunter", cred.ID))

	// Corrupt the stored material, as if it was written under an old key.
	_, err = db.ExecContext(ctx,
		`UPDATE api_keys SET key_material = 'garbage' WHERE id = $1`, cred.ID)
	require.NoError(t, err)

	notified := 0
	store.SetInvalidator(func(string, string) { notified++ })

	_, err = store.ActiveSecret(ctx, "t1", "hunter")
	require.Error(t, err)
	assert.Equal(t, types.ErrAuth, types.AsError(err).Code)
	assert.Equal(t, 1, notified)

	// The offending row must be deactivated so the pair can recover.
	active, err := store.GetActive(ctx, "t1", "hunter")
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestCredentialsAreTenantScoped(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	cred, err := store.Add(ctx, "t1", "hunter", "main", "sk-1")
	require.NoError(t, err)

	err = store.Delete(ctx, "t2", cred.ID)
	require.Error(t, err)
	assert.Equal(t, types.ErrNotFound, types.AsError(err).Code)

	require.NoError(t, store.Activate(ctx, "t1", "hunter", cred.ID))
	_, err = store.ActiveSecret(ctx, "t2", "hunter")
	require.Error(t, err)
}

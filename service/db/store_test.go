package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string    { return &s }
func f64Ptr(f float64) *float64  { return &f }
func i32Ptr(i int32) *int32      { return &i }
func i64Ptr(i int64) *int64      { return &i }
func timePtr(t time.Time) *time.Time { return &t }

func TestActivityTypeMap(t *testing.T) {
	store := TestStore(t)
	TruncateAll(t, store)

	types, err := store.GetActivityTypeMap(context.Background())
	require.NoError(t, err)
	assert.Contains(t, types, "MINT")
	assert.Contains(t, types, "BURN")
	assert.Contains(t, types, "PURCHASE")
	assert.Contains(t, types, "NEW_LISTING")
}

func TestCheckpointLifecycle(t *testing.T) {
	store := TestStore(t)
	TruncateAll(t, store)
	ctx := context.Background()

	sig, err := store.HighestCommittedSignature(ctx)
	require.NoError(t, err)
	assert.Nil(t, sig, "fresh database should have no checkpoint")

	// Advancing with no signed activities is a no-op, not an error.
	require.NoError(t, store.AdvanceCheckpoint(ctx))
	sig, err = store.HighestCommittedSignature(ctx)
	require.NoError(t, err)
	assert.Nil(t, sig)

	types, err := store.GetActivityTypeMap(ctx)
	require.NoError(t, err)
	asset := mustUpsertAsset(t, store, "Mint1111111111111111111111111111111111111111")

	base := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	_, err = store.InsertActivityBatch(ctx, []InsertActivityParams{
		{ActivityTypeIdx: types["MINT"], AssetIdx: asset.AssetIdx, ActivityDate: base, Signature: strPtr("sigOld")},
		{ActivityTypeIdx: types["PURCHASE"], AssetIdx: asset.AssetIdx, Price: f64Ptr(5), ActivityDate: base.Add(time.Hour), Signature: strPtr("sigNew")},
	})
	require.NoError(t, err)

	require.NoError(t, store.AdvanceCheckpoint(ctx))
	sig, err = store.HighestCommittedSignature(ctx)
	require.NoError(t, err)
	require.NotNil(t, sig)
	assert.Equal(t, "sigNew", *sig, "checkpoint should track the newest signed activity")

	require.NoError(t, store.SetCheckpoint(ctx, "sigManual"))
	sig, err = store.HighestCommittedSignature(ctx)
	require.NoError(t, err)
	require.NotNil(t, sig)
	assert.Equal(t, "sigManual", *sig)
}

func TestInsertActivityBatch(t *testing.T) {
	store := TestStore(t)
	TruncateAll(t, store)
	ctx := context.Background()

	ids, err := store.InsertActivityBatch(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, ids)

	types, err := store.GetActivityTypeMap(ctx)
	require.NoError(t, err)
	asset := mustUpsertAsset(t, store, "Mint2222222222222222222222222222222222222222")

	base := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	ids, err = store.InsertActivityBatch(ctx, []InsertActivityParams{
		{ActivityTypeIdx: types["MINT"], AssetIdx: asset.AssetIdx, ActivityDate: base, Signature: strPtr("sigA"), ToAccount: strPtr("userA")},
		{ActivityTypeIdx: types["BURN"], AssetIdx: asset.AssetIdx, ActivityDate: base.Add(time.Minute), Signature: strPtr("sigB")},
	})
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.Less(t, ids[0], ids[1], "ids should come back in input order")

	// A duplicate signature fails the whole batch.
	_, err = store.InsertActivityBatch(ctx, []InsertActivityParams{
		{ActivityTypeIdx: types["MINT"], AssetIdx: asset.AssetIdx, ActivityDate: base.Add(2 * time.Minute), Signature: strPtr("sigC")},
		{ActivityTypeIdx: types["BURN"], AssetIdx: asset.AssetIdx, ActivityDate: base.Add(3 * time.Minute), Signature: strPtr("sigA")},
	})
	require.Error(t, err)

	records, err := store.ListActivities(ctx, 10, 0)
	require.NoError(t, err)
	assert.Len(t, records, 2, "failed batch should leave nothing behind")
}

func TestActivityExistsWithinThreshold(t *testing.T) {
	store := TestStore(t)
	TruncateAll(t, store)
	ctx := context.Background()

	types, err := store.GetActivityTypeMap(ctx)
	require.NoError(t, err)
	asset := mustUpsertAsset(t, store, "Mint3333333333333333333333333333333333333333")

	listed := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	_, err = store.InsertActivity(ctx, InsertActivityParams{
		ActivityTypeIdx: types["NEW_LISTING"],
		AssetIdx:        asset.AssetIdx,
		Price:           f64Ptr(120),
		ActivityDate:    listed,
	})
	require.NoError(t, err)

	threshold := 7230 * time.Second

	exists, err := store.ActivityExistsWithinThreshold(ctx, asset.AssetIdx, types["NEW_LISTING"], 120, listed.Add(30*time.Minute), threshold)
	require.NoError(t, err)
	assert.True(t, exists, "same listing observed at a slightly different time should match")

	exists, err = store.ActivityExistsWithinThreshold(ctx, asset.AssetIdx, types["NEW_LISTING"], 120, listed.Add(3*time.Hour), threshold)
	require.NoError(t, err)
	assert.False(t, exists)

	exists, err = store.ActivityExistsWithinThreshold(ctx, asset.AssetIdx, types["NEW_LISTING"], 99, listed, threshold)
	require.NoError(t, err)
	assert.False(t, exists, "different price is a different listing")

	exists, err = store.ActivityExists(ctx, asset.AssetIdx, types["NEW_LISTING"], 120, listed)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestUpsertAsset(t *testing.T) {
	store := TestStore(t)
	TruncateAll(t, store)
	ctx := context.Background()

	listed := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)
	params := UpsertAssetParams{
		AssetID:     "Mint4444444444444444444444444444444444444444",
		CatalogIdx:  i64Ptr(42),
		Name:        "Glenfarclas 25",
		Price:       f64Ptr(250),
		BottledYear: i32Ptr(1998),
		Age:         i32Ptr(25),
		IsListed:    true,
		ListedDate:  timePtr(listed),
	}

	asset, isNew, isUpdated, err := store.UpsertAsset(ctx, params)
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.True(t, isUpdated)
	assert.Equal(t, params.AssetID, asset.AssetID)
	assert.Equal(t, "Glenfarclas 25", asset.Name)

	// Re-upserting identical data changes nothing.
	same, isNew, isUpdated, err := store.UpsertAsset(ctx, params)
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.False(t, isUpdated)
	assert.Equal(t, asset.LastUpdated, same.LastUpdated)

	// A price change updates in place.
	params.Price = f64Ptr(275)
	changed, isNew, isUpdated, err := store.UpsertAsset(ctx, params)
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.True(t, isUpdated)
	assert.Equal(t, asset.AssetIdx, changed.AssetIdx)
	assert.Equal(t, 275.0, *changed.Price)
}

func TestGetAssetIdxFresh(t *testing.T) {
	store := TestStore(t)
	TruncateAll(t, store)
	ctx := context.Background()

	asset := mustUpsertAsset(t, store, "Mint5555555555555555555555555555555555555555")

	idx, err := store.GetAssetIdxFresh(ctx, asset.AssetID, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.NotNil(t, idx)
	assert.Equal(t, asset.AssetIdx, *idx)

	idx, err = store.GetAssetIdxFresh(ctx, asset.AssetID, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Nil(t, idx, "record older than the freshness floor should not resolve")

	idx, err = store.GetAssetIdxFresh(ctx, "MintUnknown111111111111111111111111111111111", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Nil(t, idx)
}

func mustUpsertAsset(t *testing.T, store *Store, assetID string) *Asset {
	t.Helper()
	asset, _, _, err := store.UpsertAsset(context.Background(), UpsertAssetParams{
		AssetID: assetID,
		Name:    "Test Bottle",
	})
	require.NoError(t, err)
	return asset
}

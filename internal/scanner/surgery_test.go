package scanner

import (
	"context"
	"testing"
	"time"

	"github.com/goodnatureofminers/forkscanner7000-backend/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// seedSurgeryChain stores O(98) <- P(99) <- A(100).
func seedSurgeryChain(t *testing.T, store *memStore) {
	t.Helper()
	ctx := context.Background()
	for _, b := range []model.Block{
		{Hash: hashO, Height: 98, ParentHash: "", FirstSeenBy: 1, Work: "62"},
		{Hash: hashP, Height: 99, ParentHash: hashO, FirstSeenBy: 1, Work: "63"},
		{Hash: hashA, Height: 100, ParentHash: hashP, FirstSeenBy: 1, Work: "64"},
	} {
		_, err := store.UpsertBlock(ctx, b)
		require.NoError(t, err)
	}
}

func surgeryReconciler(store *memStore) *Reconciler {
	return NewReconciler(store, newFakeFactory(), DefaultConfig(), zap.NewNop())
}

func TestMatchChildrenAdoptsDescendantTip(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	seedSurgeryChain(t, store)
	ctx := context.Background()

	// Node 2 sits on P, node 1 on A which descends from P.
	_, err := store.SetActiveTip(ctx, 1, hashA, 100, hashP)
	require.NoError(t, err)
	_, err = store.SetActiveTip(ctx, 2, hashP, 99, hashO)
	require.NoError(t, err)

	require.NoError(t, surgeryReconciler(store).RunSurgery(ctx))

	behind, err := store.ActiveTip(ctx, 2)
	require.NoError(t, err)
	require.NotNil(t, behind.ParentChaintip)

	ahead, err := store.ActiveTip(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, ahead.ID, *behind.ParentChaintip)
	assert.Nil(t, ahead.ParentChaintip)
}

func TestMatchChildrenSkipsTipInvalidatedByParentNode(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	seedSurgeryChain(t, store)
	ctx := context.Background()

	_, err := store.SetActiveTip(ctx, 1, hashA, 100, hashP)
	require.NoError(t, err)
	_, err = store.SetActiveTip(ctx, 2, hashP, 99, hashO)
	require.NoError(t, err)

	// Node 1 considers P invalid: it must not claim P's tip as a child.
	require.NoError(t, store.MarkBlockInvalid(ctx, hashP, 1, time.Now()))

	require.NoError(t, surgeryReconciler(store).RunSurgery(ctx))

	behind, err := store.ActiveTip(ctx, 2)
	require.NoError(t, err)
	assert.Nil(t, behind.ParentChaintip)
}

func TestCheckParentDropsClaimOverInvalidTip(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	seedSurgeryChain(t, store)
	ctx := context.Background()

	_, err := store.SetActiveTip(ctx, 1, hashA, 100, hashP)
	require.NoError(t, err)
	_, err = store.SetActiveTip(ctx, 2, hashP, 99, hashO)
	require.NoError(t, err)

	// Some node declared P an invalid tip; the parent claim through P is
	// withdrawn even though match_children just set it.
	require.NoError(t, store.InsertTip(ctx, 3, hashP, 99, model.TipInvalid, ""))

	reconciler := surgeryReconciler(store)
	tips, err := store.ListActiveTips(ctx)
	require.NoError(t, err)
	invalidTips, err := store.ListInvalidTipsAtLeast(ctx, 90)
	require.NoError(t, err)
	for _, tip := range tips {
		require.NoError(t, reconciler.matchChildren(ctx, tip, 90))
	}

	behind, err := store.ActiveTip(ctx, 2)
	require.NoError(t, err)
	require.NotNil(t, behind.ParentChaintip)

	require.NoError(t, reconciler.checkParent(ctx, *behind, 90, invalidTips))

	behind, err = store.ActiveTip(ctx, 2)
	require.NoError(t, err)
	assert.Nil(t, behind.ParentChaintip, "descent through a contested block is not claimed")
}

func TestMatchParentAdoptsAncestorTip(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	seedSurgeryChain(t, store)
	ctx := context.Background()

	// Only the lower tip is unparented; the higher tip already carries a
	// parent pointer so match_children leaves the pair alone and the lower
	// tip has to search upward itself.
	_, err := store.SetActiveTip(ctx, 2, hashP, 99, hashO)
	require.NoError(t, err)
	_, err = store.SetActiveTip(ctx, 1, hashA, 100, hashP)
	require.NoError(t, err)

	reconciler := surgeryReconciler(store)
	lower, err := store.ActiveTip(ctx, 2)
	require.NoError(t, err)
	require.NoError(t, reconciler.matchParent(ctx, *lower, 90))

	lower, err = store.ActiveTip(ctx, 2)
	require.NoError(t, err)
	require.NotNil(t, lower.ParentChaintip)

	upper, err := store.ActiveTip(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, upper.ID, *lower.ParentChaintip)
}

func TestActiveTipChangeResetsParentPointers(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	seedSurgeryChain(t, store)
	ctx := context.Background()

	_, err := store.SetActiveTip(ctx, 1, hashA, 100, hashP)
	require.NoError(t, err)
	_, err = store.SetActiveTip(ctx, 2, hashP, 99, hashO)
	require.NoError(t, err)
	require.NoError(t, surgeryReconciler(store).RunSurgery(ctx))

	behind, err := store.ActiveTip(ctx, 2)
	require.NoError(t, err)
	require.NotNil(t, behind.ParentChaintip)

	// Node 1 reorganises onto a sibling: everything pointing at its tip row
	// is reset along with the row itself.
	_, err = store.UpsertBlock(ctx, model.Block{
		Hash: hashB, Height: 100, ParentHash: hashP, FirstSeenBy: 1, Work: "64",
	})
	require.NoError(t, err)
	changed, err := store.SetActiveTip(ctx, 1, hashB, 100, hashP)
	require.NoError(t, err)
	require.True(t, changed)

	behind, err = store.ActiveTip(ctx, 2)
	require.NoError(t, err)
	assert.Nil(t, behind.ParentChaintip)
}

func TestGlobalActiveTipPrefersWorkThenHeight(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	seedSurgeryChain(t, store)
	ctx := context.Background()

	_, err := store.UpsertBlock(ctx, model.Block{
		Hash: hashB, Height: 100, ParentHash: hashP, FirstSeenBy: 2, Work: "65",
	})
	require.NoError(t, err)

	_, err = store.SetActiveTip(ctx, 1, hashA, 100, hashP)
	require.NoError(t, err)
	_, err = store.SetActiveTip(ctx, 2, hashB, 100, hashP)
	require.NoError(t, err)

	reconciler := surgeryReconciler(store)
	global, err := reconciler.GlobalActiveTip(ctx, nil)
	require.NoError(t, err)
	require.NotNil(t, global)
	assert.Equal(t, hashB, global.Block.Hash, "heavier work wins over first seen")

	// A lagging node's tip is not considered for the global view.
	require.NoError(t, store.OpenLag(ctx, 2, time.Now()))
	global, err = reconciler.GlobalActiveTip(ctx, nil)
	require.NoError(t, err)
	require.NotNil(t, global)
	assert.Equal(t, hashA, global.Block.Hash)
}

package bolt

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmynk/tabsplit/internal/models"
	"github.com/mmynk/tabsplit/internal/storage"
)

func tempBoltStore(t *testing.T) *BoltStore {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "test.bolt"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testBill() *models.Bill {
	return &models.Bill{
		Currency: "CHF",
		Items: []models.Item{
			{Name: "Rösti", Category: models.CategoryFood, Type: models.ItemTypeItem, UnitPrice: decimal.RequireFromString("18.90"), Quantity: 2},
			{Name: "Apfelschorle", Category: models.CategoryDrinks, Type: models.ItemTypeItem, UnitPrice: decimal.RequireFromString("5.50"), Quantity: 4},
		},
		Participants: []models.Participant{{Name: "Alice", IsPayer: true}, {Name: "Bob"}},
	}
}

// ---------------------------------------------------------------------------
// Bill tests
// ---------------------------------------------------------------------------

func TestBoltStore_CreateAndGetBill(t *testing.T) {
	store := tempBoltStore(t)
	ctx := context.Background()

	bill := testBill()
	bill.OrganizerKeyHash = "hash"
	require.NoError(t, store.CreateBill(ctx, bill))
	require.NotEmpty(t, bill.ID)

	got, err := store.GetBill(ctx, bill.ID)
	require.NoError(t, err)
	assert.Equal(t, "CHF", got.Currency)
	assert.Equal(t, "hash", got.OrganizerKeyHash)
	require.Len(t, got.Items, 2)
	assert.Equal(t, "Rösti", got.Items[0].Name)
	assert.True(t, got.Items[0].UnitPrice.Equal(decimal.RequireFromString("18.90")))
	assert.Equal(t, bill.ID, got.Items[1].BillID)
	require.Len(t, got.Participants, 2)
	assert.True(t, got.Participants[0].IsPayer)

	assert.Error(t, store.CreateBill(ctx, bill), "duplicate bill ID")
}

func TestBoltStore_NotFound(t *testing.T) {
	store := tempBoltStore(t)
	ctx := context.Background()

	_, err := store.GetBill(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = store.GetParticipant(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = store.GetItemState(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = store.FindClaim(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = store.GetBillSnapshot(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorIs(t, store.LockBill(ctx, "missing"), storage.ErrNotFound)
	assert.ErrorIs(t, store.AddParticipant(ctx, &models.Participant{BillID: "missing", Name: "Eve"}), storage.ErrNotFound)
}

func TestBoltStore_AddParticipantAndLock(t *testing.T) {
	store := tempBoltStore(t)
	ctx := context.Background()

	bill := testBill()
	require.NoError(t, store.CreateBill(ctx, bill))

	p := &models.Participant{BillID: bill.ID, Name: "Charlie"}
	require.NoError(t, store.AddParticipant(ctx, p))
	require.NotEmpty(t, p.ID)

	got, err := store.GetParticipant(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Charlie", got.Name)

	require.NoError(t, store.LockBill(ctx, bill.ID))
	require.NoError(t, store.LockBill(ctx, bill.ID))

	reloaded, err := store.GetBill(ctx, bill.ID)
	require.NoError(t, err)
	assert.True(t, reloaded.Locked)
	assert.Len(t, reloaded.Participants, 3)

	state, err := store.GetItemState(ctx, bill.Items[0].ID)
	require.NoError(t, err)
	assert.True(t, state.BillLocked)

	err = store.AddParticipant(ctx, &models.Participant{BillID: bill.ID, Name: "Late"})
	assert.ErrorIs(t, err, storage.ErrBillLocked)
	reloaded, err = store.GetBill(ctx, bill.ID)
	require.NoError(t, err)
	assert.Len(t, reloaded.Participants, 3)
}

// ---------------------------------------------------------------------------
// Item state tests
// ---------------------------------------------------------------------------

func TestBoltStore_UpdateItem(t *testing.T) {
	store := tempBoltStore(t)
	ctx := context.Background()

	bill := testBill()
	require.NoError(t, store.CreateBill(ctx, bill))
	itemID := bill.Items[1].ID

	claim := &models.Claim{ID: "c1", BillID: bill.ID, ItemID: itemID, ParticipantID: bill.Participants[0].ID, Quantity: 2}
	member := &models.SharedPoolMembership{ID: "m1", ItemID: itemID, ParticipantID: bill.Participants[1].ID}

	err := store.UpdateItem(ctx, itemID, func(state *models.ItemState) (*models.ItemChange, error) {
		assert.Equal(t, int64(0), state.Version)
		return &models.ItemChange{AddClaim: claim, AddMember: member, PoolReserved: 1}, nil
	})
	require.NoError(t, err)

	state, err := store.GetItemState(ctx, itemID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), state.Version)
	assert.Equal(t, 1, state.Item.PoolReserved)
	require.Len(t, state.Claims, 1)
	require.Len(t, state.Members, 1)

	found, err := store.FindClaim(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, itemID, found.ItemID)

	t.Run("nil change is not written", func(t *testing.T) {
		require.NoError(t, store.UpdateItem(ctx, itemID, func(*models.ItemState) (*models.ItemChange, error) {
			return nil, nil
		}))
		state, err := store.GetItemState(ctx, itemID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), state.Version)
	})

	t.Run("error rolls back", func(t *testing.T) {
		boom := errors.New("boom")
		err := store.UpdateItem(ctx, itemID, func(*models.ItemState) (*models.ItemChange, error) {
			return nil, boom
		})
		assert.ErrorIs(t, err, boom)
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		err := store.UpdateItem(cctx, itemID, func(*models.ItemState) (*models.ItemChange, error) {
			t.Error("fn must not run")
			return nil, nil
		})
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("removal drops the claim index", func(t *testing.T) {
		require.NoError(t, store.UpdateItem(ctx, itemID, func(*models.ItemState) (*models.ItemChange, error) {
			return &models.ItemChange{RemoveClaimID: "c1", RemoveMemberID: "m1"}, nil
		}))
		_, err := store.FindClaim(ctx, "c1")
		assert.ErrorIs(t, err, storage.ErrNotFound)

		state, err := store.GetItemState(ctx, itemID)
		require.NoError(t, err)
		assert.Empty(t, state.Claims)
		assert.Empty(t, state.Members)
		assert.Equal(t, 0, state.Item.PoolReserved)
	})
}

func TestBoltStore_Snapshot(t *testing.T) {
	store := tempBoltStore(t)
	ctx := context.Background()

	bill := testBill()
	require.NoError(t, store.CreateBill(ctx, bill))
	for i, item := range bill.Items {
		require.NoError(t, store.UpdateItem(ctx, item.ID, func(*models.ItemState) (*models.ItemChange, error) {
			return &models.ItemChange{AddClaim: &models.Claim{
				ID: item.ID + "-claim", BillID: bill.ID, ItemID: item.ID,
				ParticipantID: bill.Participants[i%2].ID, Quantity: 1,
			}}, nil
		}))
	}

	snap, err := store.GetBillSnapshot(ctx, bill.ID)
	require.NoError(t, err)
	assert.Equal(t, bill.ID, snap.Bill.ID)
	assert.Len(t, snap.Bill.Items, 2)
	assert.Len(t, snap.Claims, 2)
	assert.Empty(t, snap.Members)
}

func TestBoltStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.bolt")
	ctx := context.Background()

	store, err := Open(path)
	require.NoError(t, err)
	bill := testBill()
	require.NoError(t, store.CreateBill(ctx, bill))
	require.NoError(t, store.Close())

	store, err = Open(path)
	require.NoError(t, err)
	defer store.Close()

	got, err := store.GetBill(ctx, bill.ID)
	require.NoError(t, err)
	assert.Len(t, got.Items, 2)
}

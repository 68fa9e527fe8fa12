package allocation

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmynk/tabsplit/internal/models"
	"github.com/mmynk/tabsplit/internal/storage"
	"github.com/mmynk/tabsplit/internal/storage/bolt"
	"github.com/mmynk/tabsplit/internal/storage/sqlite"
)

// forEachStore runs fn against a fresh SQLite store and a fresh bbolt store.
func forEachStore(t *testing.T, fn func(t *testing.T, store storage.Store)) {
	t.Helper()

	t.Run("sqlite", func(t *testing.T) {
		store, err := sqlite.New(filepath.Join(t.TempDir(), "test.db"))
		require.NoError(t, err)
		t.Cleanup(func() { store.Close() })
		fn(t, store)
	})

	t.Run("bolt", func(t *testing.T) {
		store, err := bolt.Open(filepath.Join(t.TempDir(), "test.bolt"))
		require.NoError(t, err)
		t.Cleanup(func() { store.Close() })
		fn(t, store)
	})
}

type fixture struct {
	bill         *models.Bill
	burger       string // qty 2, price 5
	fries        string // qty 4, price 2
	alice        string
	bob          string
	charlie      string
	otherBill    string
	otherPerson  string
	otherBillDip string
}

func newFixture(t *testing.T, store storage.Store) *fixture {
	t.Helper()
	ctx := context.Background()

	bill := &models.Bill{
		Currency: "EUR",
		Items: []models.Item{
			{Name: "Burger", Category: models.CategoryFood, Type: models.ItemTypeItem, UnitPrice: decimal.NewFromInt(5), Quantity: 2, Confidence: 0.95},
			{Name: "Fries", Category: models.CategoryFood, Type: models.ItemTypeItem, UnitPrice: decimal.NewFromInt(2), Quantity: 4, Confidence: 0.95},
		},
		Participants: []models.Participant{
			{Name: "Alice", IsPayer: true},
			{Name: "Bob"},
			{Name: "Charlie"},
		},
	}
	require.NoError(t, store.CreateBill(ctx, bill))

	other := &models.Bill{
		Currency:     "EUR",
		Items:        []models.Item{{Name: "Dip", Category: models.CategoryFood, Type: models.ItemTypeItem, UnitPrice: decimal.NewFromInt(1), Quantity: 1}},
		Participants: []models.Participant{{Name: "Mallory"}},
	}
	require.NoError(t, store.CreateBill(ctx, other))

	return &fixture{
		bill:         bill,
		burger:       bill.Items[0].ID,
		fries:        bill.Items[1].ID,
		alice:        bill.Participants[0].ID,
		bob:          bill.Participants[1].ID,
		charlie:      bill.Participants[2].ID,
		otherBill:    other.ID,
		otherPerson:  other.Participants[0].ID,
		otherBillDip: other.Items[0].ID,
	}
}

func remaining(t *testing.T, e *Engine, f *fixture, itemID string) int {
	t.Helper()
	n, err := e.GetRemainingQuantity(context.Background(), f.bill.ID, itemID)
	require.NoError(t, err)
	return n
}

func TestClaimExclusive(t *testing.T) {
	forEachStore(t, func(t *testing.T, store storage.Store) {
		ctx := context.Background()
		f := newFixture(t, store)
		e := NewEngine(store)

		res, err := e.ClaimExclusive(ctx, ClaimRequest{BillID: f.bill.ID, ItemID: f.fries, ParticipantID: f.alice, Quantity: 3})
		require.NoError(t, err)
		assert.Equal(t, 1, res.Remaining)
		assert.Equal(t, 3, res.Claim.Quantity)
		assert.Equal(t, f.alice, res.Claim.ParticipantID)
		assert.NotEmpty(t, res.Claim.ID)

		_, err = e.ClaimExclusive(ctx, ClaimRequest{BillID: f.bill.ID, ItemID: f.fries, ParticipantID: f.bob, Quantity: 2})
		assert.ErrorIs(t, err, ErrInsufficientQuantity)

		res, err = e.ClaimExclusive(ctx, ClaimRequest{BillID: f.bill.ID, ItemID: f.fries, ParticipantID: f.alice, Quantity: 1})
		require.NoError(t, err)
		assert.Equal(t, 0, res.Remaining)
		assert.Equal(t, 0, remaining(t, e, f, f.fries))

		alloc, err := e.GetItemAllocation(ctx, f.bill.ID, f.fries)
		require.NoError(t, err)
		assert.Len(t, alloc.Claims, 2)
		assert.Equal(t, 4, alloc.ExclusiveClaimed)
	})
}

func TestClaimExclusive_Rejections(t *testing.T) {
	forEachStore(t, func(t *testing.T, store storage.Store) {
		ctx := context.Background()
		f := newFixture(t, store)
		e := NewEngine(store)

		tests := []struct {
			name    string
			req     ClaimRequest
			wantErr error
		}{
			{"zero quantity", ClaimRequest{BillID: f.bill.ID, ItemID: f.burger, ParticipantID: f.alice, Quantity: 0}, ErrInvalidArgument},
			{"negative quantity", ClaimRequest{BillID: f.bill.ID, ItemID: f.burger, ParticipantID: f.alice, Quantity: -1}, ErrInvalidArgument},
			{"missing item", ClaimRequest{BillID: f.bill.ID, ParticipantID: f.alice, Quantity: 1}, ErrInvalidArgument},
			{"unknown item", ClaimRequest{BillID: f.bill.ID, ItemID: "nope", ParticipantID: f.alice, Quantity: 1}, ErrNotFound},
			{"unknown participant", ClaimRequest{BillID: f.bill.ID, ItemID: f.burger, ParticipantID: "nope", Quantity: 1}, ErrNotFound},
			{"participant from another bill", ClaimRequest{BillID: f.bill.ID, ItemID: f.burger, ParticipantID: f.otherPerson, Quantity: 1}, ErrNotFound},
			{"item from another bill", ClaimRequest{BillID: f.bill.ID, ItemID: f.otherBillDip, ParticipantID: f.alice, Quantity: 1}, ErrNotFound},
			{"more than total", ClaimRequest{BillID: f.bill.ID, ItemID: f.burger, ParticipantID: f.alice, Quantity: 3}, ErrInsufficientQuantity},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := e.ClaimExclusive(ctx, tt.req)
				assert.ErrorIs(t, err, tt.wantErr)
			})
		}

		assert.Equal(t, 2, remaining(t, e, f, f.burger))
	})
}

func TestConcurrentClaims_NoLostUpdate(t *testing.T) {
	forEachStore(t, func(t *testing.T, store storage.Store) {
		ctx := context.Background()
		f := newFixture(t, store)

		// Two engines over one store stand in for two server processes:
		// only the store transaction orders their writes.
		engines := []*Engine{NewEngine(store, WithMaxRetries(50)), NewEngine(store, WithMaxRetries(50))}

		const n = 20
		var (
			wg           sync.WaitGroup
			successes    atomic.Int32
			insufficient atomic.Int32
			unexpected   = make(chan error, n)
		)
		participants := []string{f.alice, f.bob, f.charlie}
		for i := range n {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := engines[i%2].ClaimExclusive(ctx, ClaimRequest{
					BillID:        f.bill.ID,
					ItemID:        f.fries,
					ParticipantID: participants[i%3],
					Quantity:      1,
				})
				switch {
				case err == nil:
					successes.Add(1)
				case errors.Is(err, ErrInsufficientQuantity):
					insufficient.Add(1)
				default:
					unexpected <- err
				}
			}(i)
		}
		wg.Wait()
		close(unexpected)

		for err := range unexpected {
			t.Errorf("unexpected error: %v", err)
		}
		assert.EqualValues(t, 4, successes.Load())
		assert.EqualValues(t, n-4, insufficient.Load())
		assert.Equal(t, 0, remaining(t, engines[0], f, f.fries))
	})
}

func TestConcurrentClaims_LastUnit(t *testing.T) {
	forEachStore(t, func(t *testing.T, store storage.Store) {
		ctx := context.Background()
		f := newFixture(t, store)
		e := NewEngine(store)

		_, err := e.ClaimExclusive(ctx, ClaimRequest{BillID: f.bill.ID, ItemID: f.burger, ParticipantID: f.alice, Quantity: 1})
		require.NoError(t, err)

		errs := make([]error, 2)
		var wg sync.WaitGroup
		for i, p := range []string{f.bob, f.charlie} {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, errs[i] = e.ClaimExclusive(ctx, ClaimRequest{BillID: f.bill.ID, ItemID: f.burger, ParticipantID: p, Quantity: 1})
			}()
		}
		wg.Wait()

		ok := 0
		for _, err := range errs {
			if err == nil {
				ok++
				continue
			}
			assert.ErrorIs(t, err, ErrInsufficientQuantity)
		}
		assert.Equal(t, 1, ok)
	})
}

func TestSharedPool_ShareRecomputation(t *testing.T) {
	forEachStore(t, func(t *testing.T, store storage.Store) {
		ctx := context.Background()
		e := NewEngine(store)

		bill := &models.Bill{
			Currency: "EUR",
			Items: []models.Item{
				{Name: "Wine", Category: models.CategoryDrinks, Type: models.ItemTypeItem, UnitPrice: decimal.NewFromInt(10), Quantity: 3},
			},
			Participants: []models.Participant{{Name: "Alice"}, {Name: "Bob"}},
		}
		require.NoError(t, store.CreateBill(ctx, bill))
		wine := bill.Items[0].ID
		alice, bob := bill.Participants[0].ID, bill.Participants[1].ID

		share := func() decimal.Decimal {
			alloc, err := e.GetItemAllocation(ctx, bill.ID, wine)
			require.NoError(t, err)
			return alloc.PerMemberShare
		}

		pool, err := e.InitSharedPool(ctx, PoolInitRequest{BillID: bill.ID, ItemID: wine, ParticipantID: alice, PoolSize: 2})
		require.NoError(t, err)
		assert.Equal(t, 2, pool.PoolReserved)
		assert.Equal(t, []string{alice}, pool.Members)
		assert.True(t, share().Equal(decimal.NewFromInt(20)), "one member: %s", share())

		pool, err = e.JoinSharedPool(ctx, PoolMemberRequest{BillID: bill.ID, ItemID: wine, ParticipantID: bob})
		require.NoError(t, err)
		assert.Equal(t, 2, pool.MemberCount)
		assert.Equal(t, []string{alice, bob}, pool.Members)
		assert.True(t, share().Equal(decimal.NewFromInt(10)), "two members: %s", share())

		require.NoError(t, e.LeaveSharedPool(ctx, PoolMemberRequest{BillID: bill.ID, ItemID: wine, ParticipantID: alice}))
		assert.True(t, share().Equal(decimal.NewFromInt(20)), "after leave: %s", share())

		totals, err := e.GetParticipantTotals(ctx, bill.ID)
		require.NoError(t, err)
		assert.True(t, totals.Participants[0].SharedTotal.IsZero())
		assert.True(t, totals.Participants[1].SharedTotal.Equal(decimal.NewFromInt(20)))
	})
}

func TestSharedPool_ReleaseOnEmpty(t *testing.T) {
	forEachStore(t, func(t *testing.T, store storage.Store) {
		ctx := context.Background()
		f := newFixture(t, store)
		e := NewEngine(store)

		_, err := e.InitSharedPool(ctx, PoolInitRequest{BillID: f.bill.ID, ItemID: f.fries, ParticipantID: f.bob, PoolSize: 3})
		require.NoError(t, err)
		assert.Equal(t, 1, remaining(t, e, f, f.fries))

		_, err = e.ClaimExclusive(ctx, ClaimRequest{BillID: f.bill.ID, ItemID: f.fries, ParticipantID: f.alice, Quantity: 2})
		assert.ErrorIs(t, err, ErrInsufficientQuantity)

		require.NoError(t, e.LeaveSharedPool(ctx, PoolMemberRequest{BillID: f.bill.ID, ItemID: f.fries, ParticipantID: f.bob}))
		assert.Equal(t, 4, remaining(t, e, f, f.fries))

		res, err := e.ClaimExclusive(ctx, ClaimRequest{BillID: f.bill.ID, ItemID: f.fries, ParticipantID: f.alice, Quantity: 4})
		require.NoError(t, err)
		assert.Equal(t, 0, res.Remaining)

		// The released pool is gone: joining finds nothing, a new one may
		// not be created without units.
		_, err = e.JoinSharedPool(ctx, PoolMemberRequest{BillID: f.bill.ID, ItemID: f.fries, ParticipantID: f.charlie})
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = e.InitSharedPool(ctx, PoolInitRequest{BillID: f.bill.ID, ItemID: f.fries, ParticipantID: f.charlie, PoolSize: 1})
		assert.ErrorIs(t, err, ErrInsufficientQuantity)
	})
}

func TestSharedPool_IdempotentJoin(t *testing.T) {
	forEachStore(t, func(t *testing.T, store storage.Store) {
		ctx := context.Background()
		f := newFixture(t, store)
		e := NewEngine(store)

		_, err := e.InitSharedPool(ctx, PoolInitRequest{BillID: f.bill.ID, ItemID: f.fries, ParticipantID: f.alice, PoolSize: 2})
		require.NoError(t, err)

		first, err := e.JoinSharedPool(ctx, PoolMemberRequest{BillID: f.bill.ID, ItemID: f.fries, ParticipantID: f.bob})
		require.NoError(t, err)
		before, err := e.GetItemAllocation(ctx, f.bill.ID, f.fries)
		require.NoError(t, err)

		second, err := e.JoinSharedPool(ctx, PoolMemberRequest{BillID: f.bill.ID, ItemID: f.fries, ParticipantID: f.bob})
		require.NoError(t, err)
		after, err := e.GetItemAllocation(ctx, f.bill.ID, f.fries)
		require.NoError(t, err)

		assert.Equal(t, first.Members, second.Members)
		assert.Equal(t, 2, second.MemberCount)
		assert.Len(t, after.PoolMembers, 2)
		assert.True(t, before.PerMemberShare.Equal(after.PerMemberShare))

		// The initiator joining again is also a no-op.
		again, err := e.JoinSharedPool(ctx, PoolMemberRequest{BillID: f.bill.ID, ItemID: f.fries, ParticipantID: f.alice})
		require.NoError(t, err)
		assert.Equal(t, 2, again.MemberCount)
	})
}

func TestSharedPool_Rejections(t *testing.T) {
	forEachStore(t, func(t *testing.T, store storage.Store) {
		ctx := context.Background()
		f := newFixture(t, store)
		e := NewEngine(store)

		_, err := e.InitSharedPool(ctx, PoolInitRequest{BillID: f.bill.ID, ItemID: f.fries, ParticipantID: f.alice, PoolSize: 0})
		assert.ErrorIs(t, err, ErrInvalidArgument)

		_, err = e.InitSharedPool(ctx, PoolInitRequest{BillID: f.bill.ID, ItemID: f.fries, ParticipantID: f.alice, PoolSize: 5})
		assert.ErrorIs(t, err, ErrInsufficientQuantity)

		_, err = e.JoinSharedPool(ctx, PoolMemberRequest{BillID: f.bill.ID, ItemID: f.fries, ParticipantID: f.bob})
		assert.ErrorIs(t, err, ErrNotFound)

		err = e.LeaveSharedPool(ctx, PoolMemberRequest{BillID: f.bill.ID, ItemID: f.fries, ParticipantID: f.bob})
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = e.InitSharedPool(ctx, PoolInitRequest{BillID: f.bill.ID, ItemID: f.fries, ParticipantID: f.alice, PoolSize: 2})
		require.NoError(t, err)

		_, err = e.InitSharedPool(ctx, PoolInitRequest{BillID: f.bill.ID, ItemID: f.fries, ParticipantID: f.bob, PoolSize: 1})
		assert.ErrorIs(t, err, ErrPoolAlreadyExists)

		err = e.LeaveSharedPool(ctx, PoolMemberRequest{BillID: f.bill.ID, ItemID: f.fries, ParticipantID: f.bob})
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = e.JoinSharedPool(ctx, PoolMemberRequest{BillID: f.bill.ID, ItemID: f.fries, ParticipantID: f.otherPerson})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestClaimAndPoolOnSameItem(t *testing.T) {
	forEachStore(t, func(t *testing.T, store storage.Store) {
		ctx := context.Background()
		f := newFixture(t, store)
		e := NewEngine(store)

		_, err := e.ClaimExclusive(ctx, ClaimRequest{BillID: f.bill.ID, ItemID: f.fries, ParticipantID: f.alice, Quantity: 1})
		require.NoError(t, err)
		_, err = e.InitSharedPool(ctx, PoolInitRequest{BillID: f.bill.ID, ItemID: f.fries, ParticipantID: f.alice, PoolSize: 2})
		require.NoError(t, err)
		assert.Equal(t, 1, remaining(t, e, f, f.fries))

		totals, err := e.GetParticipantTotals(ctx, f.bill.ID)
		require.NoError(t, err)
		assert.True(t, totals.Participants[0].GrandTotal.Equal(decimal.NewFromInt(6)))
	})
}

func TestReleaseClaim(t *testing.T) {
	forEachStore(t, func(t *testing.T, store storage.Store) {
		ctx := context.Background()
		f := newFixture(t, store)
		e := NewEngine(store)

		res, err := e.ClaimExclusive(ctx, ClaimRequest{BillID: f.bill.ID, ItemID: f.fries, ParticipantID: f.alice, Quantity: 3})
		require.NoError(t, err)

		_, err = e.ReleaseClaim(ctx, ReleaseClaimRequest{BillID: f.bill.ID, ClaimID: res.Claim.ID, ParticipantID: f.bob})
		assert.ErrorIs(t, err, ErrNotFound, "claims belong to their owner")

		_, err = e.ReleaseClaim(ctx, ReleaseClaimRequest{BillID: f.otherBill, ClaimID: res.Claim.ID, ParticipantID: f.alice})
		assert.ErrorIs(t, err, ErrNotFound)

		left, err := e.ReleaseClaim(ctx, ReleaseClaimRequest{BillID: f.bill.ID, ClaimID: res.Claim.ID, ParticipantID: f.alice})
		require.NoError(t, err)
		assert.Equal(t, 4, left)
		assert.Equal(t, 4, remaining(t, e, f, f.fries))

		_, err = e.ReleaseClaim(ctx, ReleaseClaimRequest{BillID: f.bill.ID, ClaimID: res.Claim.ID, ParticipantID: f.alice})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestParticipantTotals_RoundTrip(t *testing.T) {
	forEachStore(t, func(t *testing.T, store storage.Store) {
		ctx := context.Background()
		f := newFixture(t, store)
		e := NewEngine(store)

		_, err := e.ClaimExclusive(ctx, ClaimRequest{BillID: f.bill.ID, ItemID: f.burger, ParticipantID: f.alice, Quantity: 2})
		require.NoError(t, err)
		_, err = e.InitSharedPool(ctx, PoolInitRequest{BillID: f.bill.ID, ItemID: f.fries, ParticipantID: f.bob, PoolSize: 2})
		require.NoError(t, err)
		_, err = e.JoinSharedPool(ctx, PoolMemberRequest{BillID: f.bill.ID, ItemID: f.fries, ParticipantID: f.charlie})
		require.NoError(t, err)

		totals, err := e.GetParticipantTotals(ctx, f.bill.ID)
		require.NoError(t, err)
		require.Len(t, totals.Participants, 3)

		want := map[string][3]int64{
			f.alice:   {10, 0, 10},
			f.bob:     {0, 2, 2},
			f.charlie: {0, 2, 2},
		}
		for _, p := range totals.Participants {
			w := want[p.ParticipantID]
			assert.True(t, p.ExclusiveTotal.Equal(decimal.NewFromInt(w[0])), "%s exclusive %s", p.ParticipantName, p.ExclusiveTotal)
			assert.True(t, p.SharedTotal.Equal(decimal.NewFromInt(w[1])), "%s shared %s", p.ParticipantName, p.SharedTotal)
			assert.True(t, p.GrandTotal.Equal(decimal.NewFromInt(w[2])), "%s grand %s", p.ParticipantName, p.GrandTotal)
		}
		assert.True(t, totals.TotalBill.Equal(decimal.NewFromInt(18)), "total bill %s", totals.TotalBill)

		_, err = e.GetParticipantTotals(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestLockedBill(t *testing.T) {
	forEachStore(t, func(t *testing.T, store storage.Store) {
		ctx := context.Background()
		f := newFixture(t, store)
		e := NewEngine(store)

		claim, err := e.ClaimExclusive(ctx, ClaimRequest{BillID: f.bill.ID, ItemID: f.burger, ParticipantID: f.alice, Quantity: 1})
		require.NoError(t, err)
		_, err = e.InitSharedPool(ctx, PoolInitRequest{BillID: f.bill.ID, ItemID: f.fries, ParticipantID: f.bob, PoolSize: 2})
		require.NoError(t, err)

		require.NoError(t, store.LockBill(ctx, f.bill.ID))

		before, err := store.GetBillSnapshot(ctx, f.bill.ID)
		require.NoError(t, err)

		_, err = e.ClaimExclusive(ctx, ClaimRequest{BillID: f.bill.ID, ItemID: f.burger, ParticipantID: f.alice, Quantity: 1})
		assert.ErrorIs(t, err, ErrBillLocked)
		_, err = e.InitSharedPool(ctx, PoolInitRequest{BillID: f.bill.ID, ItemID: f.burger, ParticipantID: f.alice, PoolSize: 1})
		assert.ErrorIs(t, err, ErrBillLocked)
		_, err = e.JoinSharedPool(ctx, PoolMemberRequest{BillID: f.bill.ID, ItemID: f.fries, ParticipantID: f.charlie})
		assert.ErrorIs(t, err, ErrBillLocked)
		err = e.LeaveSharedPool(ctx, PoolMemberRequest{BillID: f.bill.ID, ItemID: f.fries, ParticipantID: f.bob})
		assert.ErrorIs(t, err, ErrBillLocked)
		_, err = e.ReleaseClaim(ctx, ReleaseClaimRequest{BillID: f.bill.ID, ClaimID: claim.Claim.ID, ParticipantID: f.alice})
		assert.ErrorIs(t, err, ErrBillLocked)

		after, err := store.GetBillSnapshot(ctx, f.bill.ID)
		require.NoError(t, err)
		assert.Equal(t, before.Claims, after.Claims)
		assert.Equal(t, before.Members, after.Members)
		for i := range before.Bill.Items {
			assert.Equal(t, before.Bill.Items[i].PoolReserved, after.Bill.Items[i].PoolReserved)
		}
	})
}

func TestConcurrentJoinLeave_KeepsPoolConsistent(t *testing.T) {
	forEachStore(t, func(t *testing.T, store storage.Store) {
		ctx := context.Background()
		f := newFixture(t, store)
		e := NewEngine(store)

		_, err := e.InitSharedPool(ctx, PoolInitRequest{BillID: f.bill.ID, ItemID: f.fries, ParticipantID: f.alice, PoolSize: 2})
		require.NoError(t, err)

		var wg sync.WaitGroup
		for _, p := range []string{f.alice, f.bob, f.charlie} {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for range 10 {
					req := PoolMemberRequest{BillID: f.bill.ID, ItemID: f.fries, ParticipantID: p}
					_, _ = e.JoinSharedPool(ctx, req)
					_ = e.LeaveSharedPool(ctx, req)
				}
			}()
		}
		wg.Wait()

		state, err := store.GetItemState(ctx, f.fries)
		require.NoError(t, err)
		assert.NoError(t, checkConservation(state))
		if len(state.Members) == 0 {
			assert.Equal(t, 0, state.Item.PoolReserved)
			assert.Equal(t, 4, Remaining(state))
		} else {
			assert.Equal(t, 2, state.Item.PoolReserved)
		}
	})
}

func TestMutate_ContextCanceledWhileWaiting(t *testing.T) {
	forEachStore(t, func(t *testing.T, store storage.Store) {
		f := newFixture(t, store)
		e := NewEngine(store)

		unlock, err := e.locks.lock(context.Background(), f.burger)
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err = e.ClaimExclusive(ctx, ClaimRequest{BillID: f.bill.ID, ItemID: f.burger, ParticipantID: f.alice, Quantity: 1})
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		unlock()

		assert.Equal(t, 2, remaining(t, e, f, f.burger))
		assert.Equal(t, 0, e.locks.size())
	})
}

// conflictStore fails the first n UpdateItem calls with storage.ErrConflict.
type conflictStore struct {
	storage.Store
	failures atomic.Int32
	calls    atomic.Int32
}

func (s *conflictStore) UpdateItem(ctx context.Context, itemID string, fn storage.MutateFunc) error {
	s.calls.Add(1)
	if s.failures.Add(-1) >= 0 {
		return fmt.Errorf("%w: simulated", storage.ErrConflict)
	}
	return s.Store.UpdateItem(ctx, itemID, fn)
}

func TestMutate_RetriesConflicts(t *testing.T) {
	forEachStore(t, func(t *testing.T, store storage.Store) {
		ctx := context.Background()
		f := newFixture(t, store)

		t.Run("succeeds within budget", func(t *testing.T) {
			cs := &conflictStore{Store: store}
			cs.failures.Store(2)
			e := NewEngine(cs, WithMaxRetries(3), WithBackoff(time.Millisecond))

			res, err := e.ClaimExclusive(ctx, ClaimRequest{BillID: f.bill.ID, ItemID: f.burger, ParticipantID: f.alice, Quantity: 1})
			require.NoError(t, err)
			assert.Equal(t, 1, res.Remaining)
			assert.EqualValues(t, 3, cs.calls.Load())
		})

		t.Run("gives up after budget", func(t *testing.T) {
			cs := &conflictStore{Store: store}
			cs.failures.Store(100)
			e := NewEngine(cs, WithMaxRetries(2), WithBackoff(time.Millisecond))

			_, err := e.ClaimExclusive(ctx, ClaimRequest{BillID: f.bill.ID, ItemID: f.burger, ParticipantID: f.alice, Quantity: 1})
			assert.ErrorIs(t, err, ErrUnavailable)
			assert.EqualValues(t, 3, cs.calls.Load())
			assert.Equal(t, 1, remaining(t, NewEngine(store), f, f.burger))
		})
	})
}

func TestGetBillAllocation(t *testing.T) {
	forEachStore(t, func(t *testing.T, store storage.Store) {
		ctx := context.Background()
		f := newFixture(t, store)
		e := NewEngine(store)

		_, err := e.ClaimExclusive(ctx, ClaimRequest{BillID: f.bill.ID, ItemID: f.burger, ParticipantID: f.alice, Quantity: 1})
		require.NoError(t, err)
		_, err = e.InitSharedPool(ctx, PoolInitRequest{BillID: f.bill.ID, ItemID: f.fries, ParticipantID: f.bob, PoolSize: 2})
		require.NoError(t, err)
		_, err = e.JoinSharedPool(ctx, PoolMemberRequest{BillID: f.bill.ID, ItemID: f.fries, ParticipantID: f.charlie})
		require.NoError(t, err)

		alloc, err := e.GetBillAllocation(ctx, f.bill.ID)
		require.NoError(t, err)
		require.Len(t, alloc.Items, 2)

		burger, fries := alloc.Items[0], alloc.Items[1]
		assert.Equal(t, f.burger, burger.Item.ID)
		assert.Equal(t, 1, burger.Remaining)
		assert.Equal(t, 1, burger.ExclusiveClaimed)
		assert.Empty(t, burger.PoolMembers)

		assert.Equal(t, 2, fries.Remaining)
		assert.Equal(t, []string{f.bob, f.charlie}, fries.PoolMembers)
		assert.True(t, fries.PerMemberShare.Equal(decimal.NewFromInt(2)))

		// The other bill's allocations never leak in.
		other, err := e.GetBillAllocation(ctx, f.otherBill)
		require.NoError(t, err)
		require.Len(t, other.Items, 1)
		assert.Equal(t, 1, other.Items[0].Remaining)

		_, err = e.GetBillAllocation(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

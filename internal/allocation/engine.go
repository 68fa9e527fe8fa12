// Package allocation implements the quantity allocation engine: the ledger
// that computes remaining quantity and the arbiter that serializes every
// claim and shared pool change per item.
package allocation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/mmynk/tabsplit/internal/calculator"
	"github.com/mmynk/tabsplit/internal/metrics"
	"github.com/mmynk/tabsplit/internal/models"
	"github.com/mmynk/tabsplit/internal/storage"
)

// Operation names used in logs and metrics.
const (
	OpClaimExclusive  = "claim_exclusive"
	OpReleaseClaim    = "release_claim"
	OpInitSharedPool  = "init_shared_pool"
	OpJoinSharedPool  = "join_shared_pool"
	OpLeaveSharedPool = "leave_shared_pool"
)

const (
	DefaultMaxRetries = 5
	defaultBackoff    = 5 * time.Millisecond
)

// Engine arbitrates allocation requests against a Store.
//
// Mutations on one item run one at a time: an in-process lock per item
// orders requests handled by this process, and the store's UpdateItem
// transaction orders them against other processes. Store conflicts are
// retried up to MaxRetries times; business errors are never retried.
// Mutations on different items never wait for each other.
type Engine struct {
	store      storage.Store
	locks      *itemLocker
	metrics    *metrics.Recorder
	maxRetries int
	backoff    time.Duration
	now        func() time.Time
	newID      func() string
}

// Option configures an Engine.
type Option func(*Engine)

// WithMetrics reports operations to r.
func WithMetrics(r *metrics.Recorder) Option {
	return func(e *Engine) { e.metrics = r }
}

// WithMaxRetries bounds how often a store conflict is retried.
func WithMaxRetries(n int) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.maxRetries = n
		}
	}
}

// WithBackoff sets the base delay between conflict retries.
func WithBackoff(d time.Duration) Option {
	return func(e *Engine) { e.backoff = d }
}

// NewEngine creates an Engine over store. The store's lifetime is owned by
// the caller.
func NewEngine(store storage.Store, opts ...Option) *Engine {
	e := &Engine{
		store:      store,
		locks:      newItemLocker(),
		maxRetries: DefaultMaxRetries,
		backoff:    defaultBackoff,
		now:        time.Now,
		newID:      func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ClaimExclusive records an exclusive claim of req.Quantity units.
func (e *Engine) ClaimExclusive(ctx context.Context, req ClaimRequest) (*ClaimResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := e.checkParticipant(ctx, req.BillID, req.ParticipantID); err != nil {
		return nil, err
	}

	var result ClaimResult
	err := e.mutate(ctx, OpClaimExclusive, req.BillID, req.ItemID, func(state *models.ItemState) (*models.ItemChange, error) {
		remaining := Remaining(state)
		if req.Quantity > remaining {
			return nil, fmt.Errorf("%w: requested %d of item %s, %d remaining",
				ErrInsufficientQuantity, req.Quantity, req.ItemID, remaining)
		}

		claim := models.Claim{
			ID:            e.newID(),
			BillID:        req.BillID,
			ItemID:        req.ItemID,
			ParticipantID: req.ParticipantID,
			Quantity:      req.Quantity,
			CreatedAt:     e.now().Unix(),
		}
		result = ClaimResult{Claim: claim, Remaining: remaining - req.Quantity}
		return &models.ItemChange{AddClaim: &claim, PoolReserved: state.Item.PoolReserved}, nil
	})
	if err != nil {
		return nil, err
	}

	slog.Debug("Exclusive claim recorded",
		"item_id", req.ItemID,
		"participant_id", req.ParticipantID,
		"quantity", req.Quantity,
		"remaining", result.Remaining,
	)
	return &result, nil
}

// ReleaseClaim deletes one of the participant's own claims and returns the
// item's new remaining quantity.
func (e *Engine) ReleaseClaim(ctx context.Context, req ReleaseClaimRequest) (int, error) {
	if err := req.Validate(); err != nil {
		return 0, err
	}

	claim, err := e.store.FindClaim(ctx, req.ClaimID)
	if err != nil {
		return 0, classify(err)
	}
	if claim.BillID != req.BillID || claim.ParticipantID != req.ParticipantID {
		return 0, fmt.Errorf("%w: claim %s", ErrNotFound, req.ClaimID)
	}

	var remaining int
	err = e.mutate(ctx, OpReleaseClaim, req.BillID, claim.ItemID, func(state *models.ItemState) (*models.ItemChange, error) {
		current, ok := state.Claim(req.ClaimID)
		if !ok {
			return nil, fmt.Errorf("%w: claim %s", ErrNotFound, req.ClaimID)
		}
		remaining = Remaining(state) + current.Quantity
		return &models.ItemChange{RemoveClaimID: current.ID, PoolReserved: state.Item.PoolReserved}, nil
	})
	if err != nil {
		return 0, err
	}

	slog.Debug("Exclusive claim released",
		"claim_id", req.ClaimID,
		"item_id", claim.ItemID,
		"remaining", remaining,
	)
	return remaining, nil
}

// InitSharedPool reserves req.PoolSize units into a new shared pool with the
// requesting participant as its first member.
func (e *Engine) InitSharedPool(ctx context.Context, req PoolInitRequest) (*PoolResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := e.checkParticipant(ctx, req.BillID, req.ParticipantID); err != nil {
		return nil, err
	}

	var result PoolResult
	err := e.mutate(ctx, OpInitSharedPool, req.BillID, req.ItemID, func(state *models.ItemState) (*models.ItemChange, error) {
		if state.Item.HasPool() {
			return nil, fmt.Errorf("%w: item %s reserves %d units", ErrPoolAlreadyExists, req.ItemID, state.Item.PoolReserved)
		}
		remaining := Remaining(state)
		if req.PoolSize > remaining {
			return nil, fmt.Errorf("%w: pool of %d on item %s, %d remaining",
				ErrInsufficientQuantity, req.PoolSize, req.ItemID, remaining)
		}

		member := models.SharedPoolMembership{
			ID:            e.newID(),
			ItemID:        req.ItemID,
			ParticipantID: req.ParticipantID,
			JoinedAt:      e.now().UnixNano(),
		}
		result = PoolResult{
			PoolReserved:   req.PoolSize,
			Members:        []string{req.ParticipantID},
			MemberCount:    1,
			PerMemberShare: calculator.PoolShare(state.Item.UnitPrice, req.PoolSize, 1),
		}
		return &models.ItemChange{AddMember: &member, PoolReserved: req.PoolSize}, nil
	})
	if err != nil {
		return nil, err
	}

	slog.Debug("Shared pool created",
		"item_id", req.ItemID,
		"participant_id", req.ParticipantID,
		"pool_size", req.PoolSize,
	)
	return &result, nil
}

// JoinSharedPool adds the participant to the item's pool. Joining a pool the
// participant is already in changes nothing and succeeds.
func (e *Engine) JoinSharedPool(ctx context.Context, req PoolMemberRequest) (*PoolResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := e.checkParticipant(ctx, req.BillID, req.ParticipantID); err != nil {
		return nil, err
	}

	var result PoolResult
	err := e.mutate(ctx, OpJoinSharedPool, req.BillID, req.ItemID, func(state *models.ItemState) (*models.ItemChange, error) {
		if !state.Item.HasPool() {
			return nil, fmt.Errorf("%w: no shared pool on item %s", ErrNotFound, req.ItemID)
		}

		members := state.MemberIDs()
		poolResult := func() PoolResult {
			return PoolResult{
				PoolReserved:   state.Item.PoolReserved,
				Members:        members,
				MemberCount:    len(members),
				PerMemberShare: calculator.PoolShare(state.Item.UnitPrice, state.Item.PoolReserved, len(members)),
			}
		}
		if _, ok := state.Member(req.ParticipantID); ok {
			result = poolResult()
			return nil, nil
		}

		member := models.SharedPoolMembership{
			ID:            e.newID(),
			ItemID:        req.ItemID,
			ParticipantID: req.ParticipantID,
			JoinedAt:      e.now().UnixNano(),
		}
		members = append(members, req.ParticipantID)
		result = poolResult()
		return &models.ItemChange{AddMember: &member, PoolReserved: state.Item.PoolReserved}, nil
	})
	if err != nil {
		return nil, err
	}

	slog.Debug("Shared pool joined",
		"item_id", req.ItemID,
		"participant_id", req.ParticipantID,
		"member_count", result.MemberCount,
	)
	return &result, nil
}

// LeaveSharedPool removes the participant from the item's pool. When the last
// member leaves, the reservation is released and the units become claimable.
func (e *Engine) LeaveSharedPool(ctx context.Context, req PoolMemberRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}

	released := 0
	err := e.mutate(ctx, OpLeaveSharedPool, req.BillID, req.ItemID, func(state *models.ItemState) (*models.ItemChange, error) {
		member, ok := state.Member(req.ParticipantID)
		if !ok {
			return nil, fmt.Errorf("%w: participant %s is not in the pool on item %s",
				ErrNotFound, req.ParticipantID, req.ItemID)
		}

		reserved := state.Item.PoolReserved
		released = 0
		if len(state.Members) == 1 {
			released = reserved
			reserved = 0
		}
		return &models.ItemChange{RemoveMemberID: member.ID, PoolReserved: reserved}, nil
	})
	if err != nil {
		return err
	}

	slog.Debug("Shared pool left",
		"item_id", req.ItemID,
		"participant_id", req.ParticipantID,
		"released", released,
	)
	return nil
}

// GetRemainingQuantity returns the item's unclaimed, unpooled quantity.
func (e *Engine) GetRemainingQuantity(ctx context.Context, billID, itemID string) (int, error) {
	alloc, err := e.GetItemAllocation(ctx, billID, itemID)
	if err != nil {
		return 0, err
	}
	return alloc.Remaining, nil
}

// GetItemAllocation returns a consistent view of one item's allocation.
func (e *Engine) GetItemAllocation(ctx context.Context, billID, itemID string) (*ItemAllocation, error) {
	if err := requireIDs(billID, itemID); err != nil {
		return nil, err
	}
	state, err := e.store.GetItemState(ctx, itemID)
	if err != nil {
		return nil, classify(err)
	}
	if state.Item.BillID != billID {
		return nil, fmt.Errorf("%w: item %s", ErrNotFound, itemID)
	}
	return newItemAllocation(state), nil
}

// GetBillAllocation returns the bill with every item's allocation, read from
// one snapshot.
func (e *Engine) GetBillAllocation(ctx context.Context, billID string) (*BillAllocation, error) {
	if err := requireIDs(billID); err != nil {
		return nil, err
	}
	snap, err := e.store.GetBillSnapshot(ctx, billID)
	if err != nil {
		return nil, classify(err)
	}

	claims := make(map[string][]models.Claim)
	for _, c := range snap.Claims {
		claims[c.ItemID] = append(claims[c.ItemID], c)
	}
	members := make(map[string][]models.SharedPoolMembership)
	for _, m := range snap.Members {
		members[m.ItemID] = append(members[m.ItemID], m)
	}

	result := &BillAllocation{Bill: snap.Bill, Items: make([]ItemAllocation, 0, len(snap.Bill.Items))}
	for _, item := range snap.Bill.Items {
		state := &models.ItemState{
			Item:       item,
			BillLocked: snap.Bill.Locked,
			Claims:     claims[item.ID],
			Members:    members[item.ID],
		}
		result.Items = append(result.Items, *newItemAllocation(state))
	}
	return result, nil
}

func newItemAllocation(state *models.ItemState) *ItemAllocation {
	members := state.MemberIDs()
	return &ItemAllocation{
		Item:             state.Item,
		Remaining:        max(Remaining(state), 0),
		ExclusiveClaimed: ExclusiveClaimed(state),
		Claims:           state.Claims,
		PoolMembers:      members,
		PerMemberShare:   calculator.PoolShare(state.Item.UnitPrice, state.Item.PoolReserved, len(members)),
	}
}

// GetParticipantTotals computes every participant's totals from one
// snapshot of the bill. It takes no item locks.
func (e *Engine) GetParticipantTotals(ctx context.Context, billID string) (*calculator.BillTotals, error) {
	if err := requireIDs(billID); err != nil {
		return nil, err
	}
	snap, err := e.store.GetBillSnapshot(ctx, billID)
	if err != nil {
		return nil, classify(err)
	}
	totals, err := calculator.ComputeTotals(snap)
	if err != nil {
		return nil, fmt.Errorf("failed to compute totals: %w", err)
	}
	return totals, nil
}

// checkParticipant verifies the participant exists on billID. Participants
// are never deleted, so the check may run outside the item transaction.
func (e *Engine) checkParticipant(ctx context.Context, billID, participantID string) error {
	p, err := e.store.GetParticipant(ctx, participantID)
	if err != nil {
		return classify(err)
	}
	if p.BillID != billID {
		return fmt.Errorf("%w: participant %s", ErrNotFound, participantID)
	}
	return nil
}

// mutate runs fn against the item's state as one arbitrated operation.
// The item must belong to billID and the bill must be open. Every change fn
// returns is checked against the conservation invariant before it is
// written.
func (e *Engine) mutate(ctx context.Context, op, billID, itemID string, fn storage.MutateFunc) (err error) {
	start := e.now()
	defer func() {
		e.metrics.Observe(op, outcome(err), e.now().Sub(start))
	}()

	unlock, err := e.locks.lock(ctx, itemID)
	if err != nil {
		return err
	}
	defer unlock()

	guarded := func(state *models.ItemState) (*models.ItemChange, error) {
		if state.Item.BillID != billID {
			return nil, fmt.Errorf("%w: item %s", ErrNotFound, itemID)
		}
		if state.BillLocked {
			return nil, fmt.Errorf("%w: bill %s", ErrBillLocked, billID)
		}
		change, err := fn(state)
		if err != nil || change == nil {
			return change, err
		}
		if err := checkConservation(state.Apply(change)); err != nil {
			return nil, err
		}
		return change, nil
	}

	for attempt := 0; ; attempt++ {
		err = e.store.UpdateItem(ctx, itemID, guarded)
		if !errors.Is(err, storage.ErrConflict) {
			return classify(err)
		}
		if attempt >= e.maxRetries {
			return fmt.Errorf("%w: %s on item %s conflicted %d times: %v",
				ErrUnavailable, op, itemID, attempt+1, err)
		}

		e.metrics.Retry(op)
		slog.Warn("Allocation conflict, retrying",
			"operation", op,
			"item_id", itemID,
			"attempt", attempt+1,
			"error", err,
		)
		if err := e.sleep(ctx, attempt); err != nil {
			return err
		}
	}
}

// sleep waits a jittered, linearly growing delay.
func (e *Engine) sleep(ctx context.Context, attempt int) error {
	if e.backoff <= 0 {
		return ctx.Err()
	}
	d := e.backoff*time.Duration(attempt+1) + rand.N(e.backoff)
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// classify maps store errors onto the engine's taxonomy. Business errors and
// context errors pass through; any other store failure is transient.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrInsufficientQuantity),
		errors.Is(err, ErrPoolAlreadyExists),
		errors.Is(err, ErrBillLocked),
		errors.Is(err, ErrInvalidArgument),
		errors.Is(err, ErrUnavailable),
		errors.Is(err, ErrInconsistentState):
		return err
	case errors.Is(err, storage.ErrNotFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case errors.Is(err, ErrUnavailable):
		return metrics.OutcomeUnavailable
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrInsufficientQuantity),
		errors.Is(err, ErrPoolAlreadyExists),
		errors.Is(err, ErrBillLocked),
		errors.Is(err, ErrInvalidArgument):
		return metrics.OutcomeRejected
	default:
		return metrics.OutcomeError
	}
}

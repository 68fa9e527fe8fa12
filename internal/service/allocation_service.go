package service

import (
	"context"

	"connectrpc.com/connect"

	"github.com/mmynk/tabsplit/internal/allocation"
)

// AllocationService implements tabsplit.v1.AllocationService on top of the
// allocation engine. Every request is scoped to the share token's bill.
type AllocationService struct {
	engine *allocation.Engine
}

// NewAllocationService creates a new AllocationService.
func NewAllocationService(engine *allocation.Engine) *AllocationService {
	return &AllocationService{engine: engine}
}

// ClaimExclusive claims units of an item for one participant.
func (s *AllocationService) ClaimExclusive(ctx context.Context, req *connect.Request[ClaimExclusiveRequest]) (*connect.Response[ClaimExclusiveResponse], error) {
	billID, err := billIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	result, err := s.engine.ClaimExclusive(ctx, allocation.ClaimRequest{
		BillID:        billID,
		ItemID:        req.Msg.ItemID,
		ParticipantID: req.Msg.ParticipantID,
		Quantity:      req.Msg.Quantity,
	})
	if err != nil {
		return nil, toConnectError("ClaimExclusive", err)
	}

	return connect.NewResponse(&ClaimExclusiveResponse{
		Claim:             toClaimView(result.Claim),
		RemainingQuantity: result.Remaining,
	}), nil
}

// ReleaseClaim gives back one of the participant's claims.
func (s *AllocationService) ReleaseClaim(ctx context.Context, req *connect.Request[ReleaseClaimRequest]) (*connect.Response[ReleaseClaimResponse], error) {
	billID, err := billIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	remaining, err := s.engine.ReleaseClaim(ctx, allocation.ReleaseClaimRequest{
		BillID:        billID,
		ClaimID:       req.Msg.ClaimID,
		ParticipantID: req.Msg.ParticipantID,
	})
	if err != nil {
		return nil, toConnectError("ReleaseClaim", err)
	}
	return connect.NewResponse(&ReleaseClaimResponse{RemainingQuantity: remaining}), nil
}

// InitSharedPool creates a shared pool on an item.
func (s *AllocationService) InitSharedPool(ctx context.Context, req *connect.Request[InitSharedPoolRequest]) (*connect.Response[PoolResponse], error) {
	billID, err := billIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	result, err := s.engine.InitSharedPool(ctx, allocation.PoolInitRequest{
		BillID:        billID,
		ItemID:        req.Msg.ItemID,
		ParticipantID: req.Msg.ParticipantID,
		PoolSize:      req.Msg.PoolSize,
	})
	if err != nil {
		return nil, toConnectError("InitSharedPool", err)
	}
	return poolResponse(result), nil
}

// JoinSharedPool adds a participant to an item's pool.
func (s *AllocationService) JoinSharedPool(ctx context.Context, req *connect.Request[PoolMemberRequest]) (*connect.Response[PoolResponse], error) {
	billID, err := billIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	result, err := s.engine.JoinSharedPool(ctx, allocation.PoolMemberRequest{
		BillID:        billID,
		ItemID:        req.Msg.ItemID,
		ParticipantID: req.Msg.ParticipantID,
	})
	if err != nil {
		return nil, toConnectError("JoinSharedPool", err)
	}
	return poolResponse(result), nil
}

// LeaveSharedPool removes a participant from an item's pool.
func (s *AllocationService) LeaveSharedPool(ctx context.Context, req *connect.Request[PoolMemberRequest]) (*connect.Response[LeaveSharedPoolResponse], error) {
	billID, err := billIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	err = s.engine.LeaveSharedPool(ctx, allocation.PoolMemberRequest{
		BillID:        billID,
		ItemID:        req.Msg.ItemID,
		ParticipantID: req.Msg.ParticipantID,
	})
	if err != nil {
		return nil, toConnectError("LeaveSharedPool", err)
	}
	return connect.NewResponse(&LeaveSharedPoolResponse{}), nil
}

// GetRemainingQuantity returns an item's unallocated quantity.
func (s *AllocationService) GetRemainingQuantity(ctx context.Context, req *connect.Request[GetRemainingQuantityRequest]) (*connect.Response[GetRemainingQuantityResponse], error) {
	billID, err := billIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	remaining, err := s.engine.GetRemainingQuantity(ctx, billID, req.Msg.ItemID)
	if err != nil {
		return nil, toConnectError("GetRemainingQuantity", err)
	}
	return connect.NewResponse(&GetRemainingQuantityResponse{RemainingQuantity: remaining}), nil
}

// GetParticipantTotals returns what every participant owes.
func (s *AllocationService) GetParticipantTotals(ctx context.Context, req *connect.Request[GetParticipantTotalsRequest]) (*connect.Response[GetParticipantTotalsResponse], error) {
	billID, err := billIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	totals, err := s.engine.GetParticipantTotals(ctx, billID)
	if err != nil {
		return nil, toConnectError("GetParticipantTotals", err)
	}
	return connect.NewResponse(toTotalsResponse(totals)), nil
}

func poolResponse(result *allocation.PoolResult) *connect.Response[PoolResponse] {
	return connect.NewResponse(&PoolResponse{
		PoolReserved:   result.PoolReserved,
		Members:        result.Members,
		MemberCount:    result.MemberCount,
		PerMemberShare: result.PerMemberShare,
	})
}

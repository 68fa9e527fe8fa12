package service

import (
	"context"
	"net/http"

	"connectrpc.com/connect"
	"github.com/go-chi/chi/v5"

	"github.com/mmynk/tabsplit/internal/codec"
)

const (
	BillServiceName       = "tabsplit.v1.BillService"
	AllocationServiceName = "tabsplit.v1.AllocationService"
)

// Fully-qualified procedure names.
const (
	BillServiceCreateBillProcedure     = "/tabsplit.v1.BillService/CreateBill"
	BillServiceUploadReceiptProcedure  = "/tabsplit.v1.BillService/UploadReceipt"
	BillServiceGetBillProcedure        = "/tabsplit.v1.BillService/GetBill"
	BillServiceAddParticipantProcedure = "/tabsplit.v1.BillService/AddParticipant"
	BillServiceLockBillProcedure       = "/tabsplit.v1.BillService/LockBill"

	AllocationServiceClaimExclusiveProcedure       = "/tabsplit.v1.AllocationService/ClaimExclusive"
	AllocationServiceReleaseClaimProcedure         = "/tabsplit.v1.AllocationService/ReleaseClaim"
	AllocationServiceInitSharedPoolProcedure       = "/tabsplit.v1.AllocationService/InitSharedPool"
	AllocationServiceJoinSharedPoolProcedure       = "/tabsplit.v1.AllocationService/JoinSharedPool"
	AllocationServiceLeaveSharedPoolProcedure      = "/tabsplit.v1.AllocationService/LeaveSharedPool"
	AllocationServiceGetRemainingQuantityProcedure = "/tabsplit.v1.AllocationService/GetRemainingQuantity"
	AllocationServiceGetParticipantTotalsProcedure = "/tabsplit.v1.AllocationService/GetParticipantTotals"
)

// PublicProcedures can be called without a share token.
var PublicProcedures = []string{
	BillServiceCreateBillProcedure,
	BillServiceUploadReceiptProcedure,
}

// NewBillServiceHandler builds an HTTP handler from the service
// implementation. It returns the path on which to mount the handler and the
// handler itself.
func NewBillServiceHandler(svc *BillService, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{codec.Option()}, opts...)

	mux := http.NewServeMux()
	mux.Handle(BillServiceCreateBillProcedure, connect.NewUnaryHandler(BillServiceCreateBillProcedure, svc.CreateBill, opts...))
	mux.Handle(BillServiceUploadReceiptProcedure, connect.NewUnaryHandler(BillServiceUploadReceiptProcedure, svc.UploadReceipt, opts...))
	mux.Handle(BillServiceGetBillProcedure, connect.NewUnaryHandler(BillServiceGetBillProcedure, svc.GetBill, opts...))
	mux.Handle(BillServiceAddParticipantProcedure, connect.NewUnaryHandler(BillServiceAddParticipantProcedure, svc.AddParticipant, opts...))
	mux.Handle(BillServiceLockBillProcedure, connect.NewUnaryHandler(BillServiceLockBillProcedure, svc.LockBill, opts...))
	return "/" + BillServiceName + "/", mux
}

// NewAllocationServiceHandler builds an HTTP handler from the service
// implementation. It returns the path on which to mount the handler and the
// handler itself.
func NewAllocationServiceHandler(svc *AllocationService, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{codec.Option()}, opts...)

	mux := http.NewServeMux()
	mux.Handle(AllocationServiceClaimExclusiveProcedure, connect.NewUnaryHandler(AllocationServiceClaimExclusiveProcedure, svc.ClaimExclusive, opts...))
	mux.Handle(AllocationServiceReleaseClaimProcedure, connect.NewUnaryHandler(AllocationServiceReleaseClaimProcedure, svc.ReleaseClaim, opts...))
	mux.Handle(AllocationServiceInitSharedPoolProcedure, connect.NewUnaryHandler(AllocationServiceInitSharedPoolProcedure, svc.InitSharedPool, opts...))
	mux.Handle(AllocationServiceJoinSharedPoolProcedure, connect.NewUnaryHandler(AllocationServiceJoinSharedPoolProcedure, svc.JoinSharedPool, opts...))
	mux.Handle(AllocationServiceLeaveSharedPoolProcedure, connect.NewUnaryHandler(AllocationServiceLeaveSharedPoolProcedure, svc.LeaveSharedPool, opts...))
	mux.Handle(AllocationServiceGetRemainingQuantityProcedure, connect.NewUnaryHandler(AllocationServiceGetRemainingQuantityProcedure, svc.GetRemainingQuantity, opts...))
	mux.Handle(AllocationServiceGetParticipantTotalsProcedure, connect.NewUnaryHandler(AllocationServiceGetParticipantTotalsProcedure, svc.GetParticipantTotals, opts...))
	return "/" + AllocationServiceName + "/", mux
}

// Mount registers both services on r.
func Mount(r chi.Router, bills *BillService, allocations *AllocationService, opts ...connect.HandlerOption) {
	billPath, billHandler := NewBillServiceHandler(bills, opts...)
	r.Handle(billPath+"*", billHandler)

	allocPath, allocHandler := NewAllocationServiceHandler(allocations, opts...)
	r.Handle(allocPath+"*", allocHandler)
}

// BillServiceClient is a client for tabsplit.v1.BillService.
type BillServiceClient struct {
	createBill     *connect.Client[CreateBillRequest, CreateBillResponse]
	uploadReceipt  *connect.Client[UploadReceiptRequest, CreateBillResponse]
	getBill        *connect.Client[GetBillRequest, GetBillResponse]
	addParticipant *connect.Client[AddParticipantRequest, AddParticipantResponse]
	lockBill       *connect.Client[LockBillRequest, LockBillResponse]
}

// NewBillServiceClient constructs a client for tabsplit.v1.BillService.
// baseURL is the server's URL without the service path.
func NewBillServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *BillServiceClient {
	opts = append([]connect.ClientOption{codec.Option()}, opts...)
	return &BillServiceClient{
		createBill:     connect.NewClient[CreateBillRequest, CreateBillResponse](httpClient, baseURL+BillServiceCreateBillProcedure, opts...),
		uploadReceipt:  connect.NewClient[UploadReceiptRequest, CreateBillResponse](httpClient, baseURL+BillServiceUploadReceiptProcedure, opts...),
		getBill:        connect.NewClient[GetBillRequest, GetBillResponse](httpClient, baseURL+BillServiceGetBillProcedure, opts...),
		addParticipant: connect.NewClient[AddParticipantRequest, AddParticipantResponse](httpClient, baseURL+BillServiceAddParticipantProcedure, opts...),
		lockBill:       connect.NewClient[LockBillRequest, LockBillResponse](httpClient, baseURL+BillServiceLockBillProcedure, opts...),
	}
}

func (c *BillServiceClient) CreateBill(ctx context.Context, req *connect.Request[CreateBillRequest]) (*connect.Response[CreateBillResponse], error) {
	return c.createBill.CallUnary(ctx, req)
}

func (c *BillServiceClient) UploadReceipt(ctx context.Context, req *connect.Request[UploadReceiptRequest]) (*connect.Response[CreateBillResponse], error) {
	return c.uploadReceipt.CallUnary(ctx, req)
}

func (c *BillServiceClient) GetBill(ctx context.Context, req *connect.Request[GetBillRequest]) (*connect.Response[GetBillResponse], error) {
	return c.getBill.CallUnary(ctx, req)
}

func (c *BillServiceClient) AddParticipant(ctx context.Context, req *connect.Request[AddParticipantRequest]) (*connect.Response[AddParticipantResponse], error) {
	return c.addParticipant.CallUnary(ctx, req)
}

func (c *BillServiceClient) LockBill(ctx context.Context, req *connect.Request[LockBillRequest]) (*connect.Response[LockBillResponse], error) {
	return c.lockBill.CallUnary(ctx, req)
}

// AllocationServiceClient is a client for tabsplit.v1.AllocationService.
type AllocationServiceClient struct {
	claimExclusive       *connect.Client[ClaimExclusiveRequest, ClaimExclusiveResponse]
	releaseClaim         *connect.Client[ReleaseClaimRequest, ReleaseClaimResponse]
	initSharedPool       *connect.Client[InitSharedPoolRequest, PoolResponse]
	joinSharedPool       *connect.Client[PoolMemberRequest, PoolResponse]
	leaveSharedPool      *connect.Client[PoolMemberRequest, LeaveSharedPoolResponse]
	getRemainingQuantity *connect.Client[GetRemainingQuantityRequest, GetRemainingQuantityResponse]
	getParticipantTotals *connect.Client[GetParticipantTotalsRequest, GetParticipantTotalsResponse]
}

// NewAllocationServiceClient constructs a client for
// tabsplit.v1.AllocationService.
func NewAllocationServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *AllocationServiceClient {
	opts = append([]connect.ClientOption{codec.Option()}, opts...)
	return &AllocationServiceClient{
		claimExclusive:       connect.NewClient[ClaimExclusiveRequest, ClaimExclusiveResponse](httpClient, baseURL+AllocationServiceClaimExclusiveProcedure, opts...),
		releaseClaim:         connect.NewClient[ReleaseClaimRequest, ReleaseClaimResponse](httpClient, baseURL+AllocationServiceReleaseClaimProcedure, opts...),
		initSharedPool:       connect.NewClient[InitSharedPoolRequest, PoolResponse](httpClient, baseURL+AllocationServiceInitSharedPoolProcedure, opts...),
		joinSharedPool:       connect.NewClient[PoolMemberRequest, PoolResponse](httpClient, baseURL+AllocationServiceJoinSharedPoolProcedure, opts...),
		leaveSharedPool:      connect.NewClient[PoolMemberRequest, LeaveSharedPoolResponse](httpClient, baseURL+AllocationServiceLeaveSharedPoolProcedure, opts...),
		getRemainingQuantity: connect.NewClient[GetRemainingQuantityRequest, GetRemainingQuantityResponse](httpClient, baseURL+AllocationServiceGetRemainingQuantityProcedure, opts...),
		getParticipantTotals: connect.NewClient[GetParticipantTotalsRequest, GetParticipantTotalsResponse](httpClient, baseURL+AllocationServiceGetParticipantTotalsProcedure, opts...),
	}
}

func (c *AllocationServiceClient) ClaimExclusive(ctx context.Context, req *connect.Request[ClaimExclusiveRequest]) (*connect.Response[ClaimExclusiveResponse], error) {
	return c.claimExclusive.CallUnary(ctx, req)
}

func (c *AllocationServiceClient) ReleaseClaim(ctx context.Context, req *connect.Request[ReleaseClaimRequest]) (*connect.Response[ReleaseClaimResponse], error) {
	return c.releaseClaim.CallUnary(ctx, req)
}

func (c *AllocationServiceClient) InitSharedPool(ctx context.Context, req *connect.Request[InitSharedPoolRequest]) (*connect.Response[PoolResponse], error) {
	return c.initSharedPool.CallUnary(ctx, req)
}

func (c *AllocationServiceClient) JoinSharedPool(ctx context.Context, req *connect.Request[PoolMemberRequest]) (*connect.Response[PoolResponse], error) {
	return c.joinSharedPool.CallUnary(ctx, req)
}

func (c *AllocationServiceClient) LeaveSharedPool(ctx context.Context, req *connect.Request[PoolMemberRequest]) (*connect.Response[LeaveSharedPoolResponse], error) {
	return c.leaveSharedPool.CallUnary(ctx, req)
}

func (c *AllocationServiceClient) GetRemainingQuantity(ctx context.Context, req *connect.Request[GetRemainingQuantityRequest]) (*connect.Response[GetRemainingQuantityResponse], error) {
	return c.getRemainingQuantity.CallUnary(ctx, req)
}

func (c *AllocationServiceClient) GetParticipantTotals(ctx context.Context, req *connect.Request[GetParticipantTotalsRequest]) (*connect.Response[GetParticipantTotalsResponse], error) {
	return c.getParticipantTotals.CallUnary(ctx, req)
}

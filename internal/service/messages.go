package service

import (
	"github.com/shopspring/decimal"

	"github.com/mmynk/tabsplit/internal/allocation"
	"github.com/mmynk/tabsplit/internal/calculator"
	"github.com/mmynk/tabsplit/internal/ingest"
	"github.com/mmynk/tabsplit/internal/models"
)

// Request and response messages for the tabsplit.v1 services. Money is
// encoded as decimal strings.

type ParticipantInput struct {
	Name    string `json:"name"`
	IsPayer bool   `json:"is_payer,omitempty"`
}

type CreateBillRequest struct {
	Currency     string             `json:"currency"`
	Items        []ingest.Candidate `json:"items"`
	Participants []ParticipantInput `json:"participants,omitempty"`
}

// CreateBillResponse is returned by CreateBill and UploadReceipt. The
// organizer key is only ever returned here.
type CreateBillResponse struct {
	BillID       string   `json:"bill_id"`
	ShareToken   string   `json:"share_token"`
	OrganizerKey string   `json:"organizer_key"`
	Bill         BillView `json:"bill"`
}

type UploadReceiptRequest struct {
	Image        []byte             `json:"image"` // base64 in JSON
	MimeType     string             `json:"mime_type"`
	Participants []ParticipantInput `json:"participants,omitempty"`
}

type GetBillRequest struct{}

type GetBillResponse struct {
	Bill BillView `json:"bill"`
}

type AddParticipantRequest struct {
	Name    string `json:"name"`
	IsPayer bool   `json:"is_payer,omitempty"`
}

type AddParticipantResponse struct {
	Participant ParticipantView `json:"participant"`
}

type LockBillRequest struct {
	OrganizerKey string `json:"organizer_key"`
}

type LockBillResponse struct {
	Locked bool `json:"locked"`
}

type ClaimExclusiveRequest struct {
	ItemID        string `json:"item_id"`
	ParticipantID string `json:"participant_id"`
	Quantity      int    `json:"quantity"`
}

func (r *ClaimExclusiveRequest) GetParticipantID() string { return r.ParticipantID }

type ClaimExclusiveResponse struct {
	Claim             ClaimView `json:"claim"`
	RemainingQuantity int       `json:"remaining_quantity"`
}

type ReleaseClaimRequest struct {
	ClaimID       string `json:"claim_id"`
	ParticipantID string `json:"participant_id"`
}

func (r *ReleaseClaimRequest) GetParticipantID() string { return r.ParticipantID }

type ReleaseClaimResponse struct {
	RemainingQuantity int `json:"remaining_quantity"`
}

type InitSharedPoolRequest struct {
	ItemID        string `json:"item_id"`
	ParticipantID string `json:"participant_id"`
	PoolSize      int    `json:"pool_size"`
}

func (r *InitSharedPoolRequest) GetParticipantID() string { return r.ParticipantID }

type PoolMemberRequest struct {
	ItemID        string `json:"item_id"`
	ParticipantID string `json:"participant_id"`
}

func (r *PoolMemberRequest) GetParticipantID() string { return r.ParticipantID }

// PoolResponse answers InitSharedPool and JoinSharedPool.
type PoolResponse struct {
	PoolReserved   int             `json:"pool_reserved"`
	Members        []string        `json:"members"`
	MemberCount    int             `json:"member_count"`
	PerMemberShare decimal.Decimal `json:"per_member_share"`
}

type LeaveSharedPoolResponse struct{}

type GetRemainingQuantityRequest struct {
	ItemID string `json:"item_id"`
}

type GetRemainingQuantityResponse struct {
	RemainingQuantity int `json:"remaining_quantity"`
}

type GetParticipantTotalsRequest struct{}

type GetParticipantTotalsResponse struct {
	BillID           string                 `json:"bill_id"`
	Currency         string                 `json:"currency"`
	Participants     []ParticipantTotalView `json:"participants"`
	TotalBill        decimal.Decimal        `json:"total_bill"`
	AllocatedTotal   decimal.Decimal        `json:"allocated_total"`
	UnallocatedTotal decimal.Decimal        `json:"unallocated_total"`
	Transfers        []TransferView         `json:"transfers,omitempty"`
}

// Views

type BillView struct {
	ID           string            `json:"id"`
	Currency     string            `json:"currency"`
	Locked       bool              `json:"locked"`
	CreatedAt    int64             `json:"created_at"`
	Items        []ItemView        `json:"items"`
	Participants []ParticipantView `json:"participants"`
}

type ItemView struct {
	ID                string          `json:"id"`
	Name              string          `json:"name"`
	Category          string          `json:"category"`
	Type              string          `json:"type"`
	UnitPrice         decimal.Decimal `json:"unit_price"`
	Quantity          int             `json:"quantity"`
	RemainingQuantity int             `json:"remaining_quantity"`
	PoolReserved      int             `json:"pool_reserved"`
	PoolMembers       []string        `json:"pool_members"`
	PerMemberShare    decimal.Decimal `json:"per_member_share"`
	Claims            []ClaimView     `json:"claims"`
	Confidence        float64         `json:"confidence"`
	Notes             string          `json:"notes,omitempty"`
}

type ParticipantView struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	IsPayer   bool   `json:"is_payer"`
	CreatedAt int64  `json:"created_at"`
}

type ClaimView struct {
	ID            string `json:"id"`
	ItemID        string `json:"item_id"`
	ParticipantID string `json:"participant_id"`
	Quantity      int    `json:"quantity"`
	CreatedAt     int64  `json:"created_at"`
}

type ParticipantTotalView struct {
	ParticipantID   string          `json:"participant_id"`
	ParticipantName string          `json:"participant_name"`
	IsPayer         bool            `json:"is_payer"`
	ExclusiveTotal  decimal.Decimal `json:"exclusive_total"`
	SharedTotal     decimal.Decimal `json:"shared_total"`
	GrandTotal      decimal.Decimal `json:"grand_total"`
}

type TransferView struct {
	From   string          `json:"from"`
	To     string          `json:"to"`
	Amount decimal.Decimal `json:"amount"`
}

func toBillView(alloc *allocation.BillAllocation) BillView {
	view := BillView{
		ID:           alloc.Bill.ID,
		Currency:     alloc.Bill.Currency,
		Locked:       alloc.Bill.Locked,
		CreatedAt:    alloc.Bill.CreatedAt,
		Items:        make([]ItemView, 0, len(alloc.Items)),
		Participants: make([]ParticipantView, 0, len(alloc.Bill.Participants)),
	}
	for _, item := range alloc.Items {
		view.Items = append(view.Items, toItemView(item))
	}
	for _, p := range alloc.Bill.Participants {
		view.Participants = append(view.Participants, toParticipantView(p))
	}
	return view
}

func toItemView(a allocation.ItemAllocation) ItemView {
	claims := make([]ClaimView, 0, len(a.Claims))
	for _, c := range a.Claims {
		claims = append(claims, toClaimView(c))
	}
	members := a.PoolMembers
	if members == nil {
		members = []string{}
	}
	return ItemView{
		ID:                a.Item.ID,
		Name:              a.Item.Name,
		Category:          string(a.Item.Category),
		Type:              string(a.Item.Type),
		UnitPrice:         a.Item.UnitPrice,
		Quantity:          a.Item.Quantity,
		RemainingQuantity: a.Remaining,
		PoolReserved:      a.Item.PoolReserved,
		PoolMembers:       members,
		PerMemberShare:    a.PerMemberShare,
		Claims:            claims,
		Confidence:        a.Item.Confidence,
		Notes:             a.Item.Notes,
	}
}

func toParticipantView(p models.Participant) ParticipantView {
	return ParticipantView{ID: p.ID, Name: p.Name, IsPayer: p.IsPayer, CreatedAt: p.CreatedAt}
}

func toClaimView(c models.Claim) ClaimView {
	return ClaimView{
		ID:            c.ID,
		ItemID:        c.ItemID,
		ParticipantID: c.ParticipantID,
		Quantity:      c.Quantity,
		CreatedAt:     c.CreatedAt,
	}
}

func toTotalsResponse(totals *calculator.BillTotals) *GetParticipantTotalsResponse {
	resp := &GetParticipantTotalsResponse{
		BillID:           totals.BillID,
		Currency:         totals.Currency,
		Participants:     make([]ParticipantTotalView, 0, len(totals.Participants)),
		TotalBill:        totals.TotalBill,
		AllocatedTotal:   totals.AllocatedTotal,
		UnallocatedTotal: totals.UnallocatedTotal,
	}
	for _, p := range totals.Participants {
		resp.Participants = append(resp.Participants, ParticipantTotalView{
			ParticipantID:   p.ParticipantID,
			ParticipantName: p.ParticipantName,
			IsPayer:         p.IsPayer,
			ExclusiveTotal:  p.ExclusiveTotal,
			SharedTotal:     p.SharedTotal,
			GrandTotal:      p.GrandTotal,
		})
	}
	for _, tr := range calculator.SettleUp(totals) {
		resp.Transfers = append(resp.Transfers, TransferView{From: tr.From, To: tr.To, Amount: tr.Amount})
	}
	return resp
}

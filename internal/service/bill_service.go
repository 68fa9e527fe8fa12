package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"connectrpc.com/connect"

	"github.com/mmynk/tabsplit/internal/allocation"
	"github.com/mmynk/tabsplit/internal/auth"
	"github.com/mmynk/tabsplit/internal/ingest"
	"github.com/mmynk/tabsplit/internal/middleware"
	"github.com/mmynk/tabsplit/internal/models"
	"github.com/mmynk/tabsplit/internal/storage"
)

// maxNameLength bounds participant display names.
const maxNameLength = 64

// BillService implements tabsplit.v1.BillService.
type BillService struct {
	store     storage.Store
	engine    *allocation.Engine
	tokens    *auth.ShareTokenManager
	extractor ingest.Extractor
}

// NewBillService creates a BillService. extractor may be nil, in which case
// UploadReceipt is unimplemented.
func NewBillService(store storage.Store, engine *allocation.Engine, tokens *auth.ShareTokenManager, extractor ingest.Extractor) *BillService {
	return &BillService{
		store:     store,
		engine:    engine,
		tokens:    tokens,
		extractor: extractor,
	}
}

// CreateBill creates a bill from manually entered items.
func (s *BillService) CreateBill(ctx context.Context, req *connect.Request[CreateBillRequest]) (*connect.Response[CreateBillResponse], error) {
	receipt := &ingest.Receipt{Currency: req.Msg.Currency, Items: req.Msg.Items}
	resp, err := s.createBill(ctx, receipt, req.Msg.Participants)
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(resp), nil
}

// UploadReceipt runs the extractor once on the image and creates a bill from
// the validated lines.
func (s *BillService) UploadReceipt(ctx context.Context, req *connect.Request[UploadReceiptRequest]) (*connect.Response[CreateBillResponse], error) {
	if s.extractor == nil {
		return nil, connect.NewError(connect.CodeUnimplemented, errors.New("receipt extraction is not configured"))
	}
	if len(req.Msg.Image) == 0 {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("image is required"))
	}

	slog.Info("Extracting receipt", "mime_type", req.Msg.MimeType, "bytes", len(req.Msg.Image))
	receipt, err := s.extractor.Extract(ctx, req.Msg.Image, req.Msg.MimeType)
	if err != nil {
		if errors.Is(err, ingest.ErrEmptyReceipt) || errors.Is(err, ingest.ErrInvalidCandidate) {
			return nil, toConnectError("UploadReceipt", err)
		}
		slog.Error("Receipt extraction failed", "error", err)
		return nil, connect.NewError(connect.CodeUnavailable, fmt.Errorf("receipt extraction failed: %w", err))
	}

	resp, err := s.createBill(ctx, receipt, req.Msg.Participants)
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(resp), nil
}

func (s *BillService) createBill(ctx context.Context, receipt *ingest.Receipt, participants []ParticipantInput) (*CreateBillResponse, error) {
	currency, err := normalizeCurrency(receipt.Currency)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	items, err := receipt.ToItems()
	if err != nil {
		return nil, toConnectError("CreateBill", err)
	}

	bill := &models.Bill{Currency: currency, Items: items}
	for _, p := range participants {
		name, err := normalizeName(p.Name)
		if err != nil {
			return nil, connect.NewError(connect.CodeInvalidArgument, err)
		}
		bill.Participants = append(bill.Participants, models.Participant{Name: name, IsPayer: p.IsPayer})
	}

	organizerKey, hash, err := auth.NewOrganizerKey()
	if err != nil {
		return nil, toConnectError("CreateBill", err)
	}
	bill.OrganizerKeyHash = hash

	if err := s.store.CreateBill(ctx, bill); err != nil {
		return nil, toConnectError("CreateBill", err)
	}

	token, err := s.tokens.Generate(bill.ID)
	if err != nil {
		return nil, toConnectError("CreateBill", err)
	}

	alloc, err := s.engine.GetBillAllocation(ctx, bill.ID)
	if err != nil {
		return nil, toConnectError("CreateBill", err)
	}

	slog.Info("Bill created",
		"bill_id", bill.ID,
		"currency", bill.Currency,
		"items", len(bill.Items),
		"participants", len(bill.Participants),
	)
	return &CreateBillResponse{
		BillID:       bill.ID,
		ShareToken:   token,
		OrganizerKey: organizerKey,
		Bill:         toBillView(alloc),
	}, nil
}

// GetBill returns the share token's bill with per-item allocation.
func (s *BillService) GetBill(ctx context.Context, req *connect.Request[GetBillRequest]) (*connect.Response[GetBillResponse], error) {
	billID, err := billIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	alloc, err := s.engine.GetBillAllocation(ctx, billID)
	if err != nil {
		return nil, toConnectError("GetBill", err)
	}
	return connect.NewResponse(&GetBillResponse{Bill: toBillView(alloc)}), nil
}

// AddParticipant joins a new participant to the bill.
func (s *BillService) AddParticipant(ctx context.Context, req *connect.Request[AddParticipantRequest]) (*connect.Response[AddParticipantResponse], error) {
	billID, err := billIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	name, err := normalizeName(req.Msg.Name)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}

	p := &models.Participant{BillID: billID, Name: name, IsPayer: req.Msg.IsPayer}
	if err := s.store.AddParticipant(ctx, p); err != nil {
		return nil, toConnectError("AddParticipant", err)
	}

	slog.Info("Participant added", "bill_id", billID, "participant_id", p.ID)
	return connect.NewResponse(&AddParticipantResponse{Participant: toParticipantView(*p)}), nil
}

// LockBill finalizes the bill. Only the organizer key may lock; locking twice
// succeeds.
func (s *BillService) LockBill(ctx context.Context, req *connect.Request[LockBillRequest]) (*connect.Response[LockBillResponse], error) {
	billID, err := billIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	bill, err := s.store.GetBill(ctx, billID)
	if err != nil {
		return nil, toConnectError("LockBill", err)
	}
	if err := auth.VerifyOrganizerKey(bill.OrganizerKeyHash, req.Msg.OrganizerKey); err != nil {
		return nil, toConnectError("LockBill", err)
	}

	if err := s.store.LockBill(ctx, billID); err != nil {
		return nil, toConnectError("LockBill", err)
	}

	slog.Info("Bill locked", "bill_id", billID)
	return connect.NewResponse(&LockBillResponse{Locked: true}), nil
}

// billIDFromContext returns the bill scoped by the share token.
func billIDFromContext(ctx context.Context) (string, error) {
	billID := middleware.GetBillID(ctx)
	if billID == "" {
		return "", connect.NewError(connect.CodeUnauthenticated, auth.ErrMissingToken)
	}
	return billID, nil
}

func normalizeCurrency(s string) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(s))
	if len(code) != 3 {
		return "", fmt.Errorf("currency must be a 3-letter ISO 4217 code, got %q", s)
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return "", fmt.Errorf("currency must be a 3-letter ISO 4217 code, got %q", s)
		}
	}
	return code, nil
}

func normalizeName(s string) (string, error) {
	name := strings.TrimSpace(s)
	if name == "" {
		return "", errors.New("participant name is required")
	}
	if len([]rune(name)) > maxNameLength {
		return "", fmt.Errorf("participant name exceeds %d characters", maxNameLength)
	}
	return name, nil
}

package service

import (
	"context"
	"errors"
	"log/slog"

	"connectrpc.com/connect"

	"github.com/mmynk/tabsplit/internal/allocation"
	"github.com/mmynk/tabsplit/internal/auth"
	"github.com/mmynk/tabsplit/internal/ingest"
	"github.com/mmynk/tabsplit/internal/storage"
)

// toConnectError maps domain errors onto Connect codes. Unexpected errors are
// logged and returned as CodeInternal.
func toConnectError(op string, err error) error {
	var connectErr *connect.Error
	if errors.As(err, &connectErr) {
		return err
	}

	code := connect.CodeInternal
	switch {
	case errors.Is(err, allocation.ErrNotFound), errors.Is(err, storage.ErrNotFound):
		code = connect.CodeNotFound
	case errors.Is(err, allocation.ErrInsufficientQuantity), errors.Is(err, allocation.ErrBillLocked),
		errors.Is(err, storage.ErrBillLocked):
		code = connect.CodeFailedPrecondition
	case errors.Is(err, allocation.ErrPoolAlreadyExists):
		code = connect.CodeAlreadyExists
	case errors.Is(err, allocation.ErrInvalidArgument),
		errors.Is(err, ingest.ErrInvalidCandidate),
		errors.Is(err, ingest.ErrEmptyReceipt):
		code = connect.CodeInvalidArgument
	case errors.Is(err, allocation.ErrUnavailable):
		code = connect.CodeUnavailable
	case errors.Is(err, auth.ErrInvalidOrganizerKey):
		code = connect.CodePermissionDenied
	case errors.Is(err, context.Canceled):
		code = connect.CodeCanceled
	case errors.Is(err, context.DeadlineExceeded):
		code = connect.CodeDeadlineExceeded
	}

	if code == connect.CodeInternal {
		slog.Error(op+" failed", "error", err)
	}
	return connect.NewError(code, err)
}

package middleware

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"connectrpc.com/connect"
)

// participantScoped is implemented by request messages issued on behalf of a
// participant.
type participantScoped interface {
	GetParticipantID() string
}

// LoggingInterceptor returns a Connect interceptor that logs every RPC call.
// It logs the procedure name, bill and participant IDs, duration, and any
// error codes/messages. Install it after RequireShareToken so the bill ID is
// known.
func LoggingInterceptor() connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			start := time.Now()
			procedure := req.Spec().Procedure
			billID := GetBillID(ctx) // empty for public procedures
			participantID := ""
			if p, ok := req.Any().(participantScoped); ok {
				participantID = p.GetParticipantID()
			}

			resp, err := next(ctx, req)

			duration := time.Since(start).Milliseconds()
			if err != nil {
				var connectErr *connect.Error
				if errors.As(err, &connectErr) && connectErr.Code() != connect.CodeInternal {
					slog.Warn("RPC error",
						"procedure", procedure,
						"code", connectErr.Code(),
						"error", connectErr.Message(),
						"bill_id", billID,
						"participant_id", participantID,
						"duration_ms", duration,
					)
				} else {
					slog.Error("RPC error",
						"procedure", procedure,
						"error", err,
						"bill_id", billID,
						"participant_id", participantID,
						"duration_ms", duration,
					)
				}
			} else {
				slog.Info("RPC ok",
					"procedure", procedure,
					"bill_id", billID,
					"participant_id", participantID,
					"duration_ms", duration,
				)
			}

			return resp, err
		}
	}
}

package httptransport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"vaultline/internal/messaging"
	onboarding "vaultline/internal/onboarding/service"
	dErrors "vaultline/pkg/domain-errors"
	"vaultline/pkg/platform/httputil"
	"vaultline/pkg/requestcontext"
)

// Onboarding handles one inbound message end to end, reply included.
type Onboarding interface {
	HandleInbound(ctx context.Context, msg messaging.InboundMessage) (*onboarding.Result, error)
}

type InboundHandler struct {
	onboarding Onboarding
	logger     *slog.Logger
}

func NewInboundHandler(svc Onboarding, logger *slog.Logger) *InboundHandler {
	return &InboundHandler{onboarding: svc, logger: logger}
}

type inboundRequest struct {
	Address   string    `json:"address"`
	Body      string    `json:"body"`
	MessageID string    `json:"message_id"`
	Timestamp time.Time `json:"timestamp"`
	Channel   string    `json:"channel"`
}

type inboundResponse struct {
	Reply       string `json:"reply"`
	Stage       string `json:"stage"`
	RateLimited bool   `json:"rate_limited,omitempty"`
}

const maxInboundBytes = 64 << 10

// handleInbound accepts one channel event. Non-2xx responses make the channel
// redeliver, which redelivery dedup on message_id makes safe.
func (h *InboundHandler) handleInbound(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	var req inboundRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxInboundBytes))
	if err := dec.Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "invalid inbound message",
			"request_id", requestID,
			"error", err.Error(),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	if req.Address == "" || req.MessageID == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "address and message_id are required"))
		return
	}

	channel := req.Channel
	if channel == "" {
		channel = "sms"
	}
	result, err := h.onboarding.HandleInbound(ctx, messaging.InboundMessage{
		Address:   req.Address,
		Body:      req.Body,
		MessageID: req.MessageID,
		Channel:   channel,
		Timestamp: req.Timestamp,
	})
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeInvalidInput) {
			httputil.WriteError(w, err)
			return
		}
		h.logger.ErrorContext(ctx, "inbound message failed",
			"request_id", requestID,
			"message_id", req.MessageID,
			"error", err.Error(),
		)
		if dErrors.HasCode(err, dErrors.CodeConflict) {
			httputil.WriteJSON(w, http.StatusServiceUnavailable, httputil.ErrorResponse{Error: string(dErrors.CodeConflict)})
			return
		}
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "message processing failed"))
		return
	}

	httputil.WriteJSON(w, http.StatusOK, inboundResponse{
		Reply:       result.Reply,
		Stage:       string(result.Stage),
		RateLimited: result.RateLimited,
	})
}

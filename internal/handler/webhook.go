package handler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/josh-kwaku/territory-billing/internal/domain"
	"github.com/josh-kwaku/territory-billing/internal/logging"
)

const (
	signatureHeader = "X-Webhook-Signature"
	maxWebhookBody  = 1 << 20
)

type gatewayEventRepository interface {
	Create(ctx context.Context, event *domain.GatewayEvent) error
}

// WebhookHandler accepts gateway callbacks and stores them untouched.
// Signature verification and decoding belong to the gateway adapter and
// happen when the event processor picks the row up.
type WebhookHandler struct {
	events   gatewayEventRepository
	gateways map[string]struct{}
	now      func() time.Time
}

func NewWebhookHandler(events gatewayEventRepository, gatewayNames []string) *WebhookHandler {
	known := make(map[string]struct{}, len(gatewayNames))
	for _, n := range gatewayNames {
		known[n] = struct{}{}
	}
	return &WebhookHandler{events: events, gateways: known, now: time.Now}
}

func (h *WebhookHandler) ReceiveGatewayWebhook(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["gateway"]
	log := logging.FromContext(r.Context()).With("gateway", name)

	if _, ok := h.gateways[name]; !ok {
		log.Warn("webhook for unknown gateway")
		RespondAppError(w, ErrUnknownGateway, nil)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		log.Error("failed to read webhook body", "error", err)
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}
	if len(body) == 0 {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	sig := r.Header.Get(signatureHeader)
	if sig == "" {
		log.Warn("webhook without signature rejected")
		RespondAppError(w, ErrMissingSignature, nil)
		return
	}

	sum := sha256.Sum256(body)
	event := &domain.GatewayEvent{
		ID:          uuid.New(),
		Gateway:     name,
		PayloadHash: hex.EncodeToString(sum[:]),
		Signature:   sig,
		Payload:     body,
		Status:      domain.GatewayEventStatusPending,
		CreatedAt:   h.now().UTC(),
	}

	if err := h.events.Create(r.Context(), event); err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			log.Info("duplicate webhook received", "payload_hash", event.PayloadHash)
			RespondSuccess(w, http.StatusOK, map[string]string{"status": "already_received"})
			return
		}
		log.Error("failed to store gateway event", "error", err)
		RespondAppError(w, ErrInternalError, nil)
		return
	}

	log.Info("gateway event stored",
		"gateway_event_id", event.ID,
		"payload_hash", event.PayloadHash,
	)

	RespondSuccess(w, http.StatusAccepted, map[string]string{"status": "received"})
}

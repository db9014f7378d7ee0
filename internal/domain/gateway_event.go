package domain

import (
	"time"

	"github.com/google/uuid"
)

type GatewayEventStatus string

const (
	GatewayEventStatusPending    GatewayEventStatus = "pending"
	GatewayEventStatusDispatched GatewayEventStatus = "dispatched"
	GatewayEventStatusFailed     GatewayEventStatus = "failed"
)

// GatewayEvent is a raw inbound webhook, stored before it is processed so
// delivery to the ledger survives restarts. PayloadHash deduplicates
// redeliveries of the same body.
type GatewayEvent struct {
	ID          uuid.UUID
	Gateway     string
	PayloadHash string
	Signature   string
	Payload     []byte
	Status      GatewayEventStatus
	Attempts    int
	LastAttempt *time.Time
	LastError   *string
	CreatedAt   time.Time
}

package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"splitledger/internal/core"
)

// EventType names what happened to a ledger entity.
type EventType string

const (
	EventChargeCreated    EventType = "charge.created"
	EventChargeUpdated    EventType = "charge.updated"
	EventChargeDeleted    EventType = "charge.deleted"
	EventRepaymentCreated EventType = "repayment.created"
	EventMemberJoined     EventType = "member.joined"
)

// LedgerEvent is published after every committed ledger mutation. It carries
// identifiers only; consumers re-read the entity from the database.
type LedgerEvent struct {
	EventID     string       `json:"event_id"`
	Type        EventType    `json:"type"`
	GroupID     core.GroupID `json:"group_id"`
	EntityID    int64        `json:"entity_id"`
	ActorID     core.UserID  `json:"actor_id"`
	AmountCents int64        `json:"amount_cents,omitempty"`
	Currency    string       `json:"currency,omitempty"`
	Version     int64        `json:"version,omitempty"`
	Timestamp   time.Time    `json:"timestamp"`
}

func NewLedgerEvent(typ EventType, groupID core.GroupID, entityID int64, actor core.UserID) *LedgerEvent {
	return &LedgerEvent{
		EventID:   uuid.NewString(),
		Type:      typ,
		GroupID:   groupID,
		EntityID:  entityID,
		ActorID:   actor,
		Timestamp: time.Now().UTC(),
	}
}

// WithAmount attaches the money involved in the event.
func (e *LedgerEvent) WithAmount(m core.Money) *LedgerEvent {
	e.AmountCents = m.Cents
	e.Currency = string(m.Currency)
	return e
}

func (e *LedgerEvent) WithVersion(v int64) *LedgerEvent {
	e.Version = v
	return e
}

func (e *LedgerEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

func LedgerEventFromJSON(data []byte) (*LedgerEvent, error) {
	var e LedgerEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	if e.Type == "" || e.GroupID == 0 {
		return nil, fmt.Errorf("incomplete ledger event %q", e.EventID)
	}
	return &e, nil
}

// Package worker consumes ledger events: it keeps the activity feed and
// pushes changed charges and balance snapshots to the export target.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"splitledger/internal/amqp"
	"splitledger/internal/core"
	"splitledger/internal/log"
	"splitledger/internal/services"
)

type ActivityStore interface {
	RecordActivity(ctx context.Context, ev core.ActivityEvent) (core.ActivityEvent, error)
}

// Consumer delivers events to a handler until ctx is cancelled.
type Consumer interface {
	Consume(ctx context.Context, handler amqp.Handler) error
}

var activityTypes = map[amqp.EventType]core.ActivityType{
	amqp.EventChargeCreated:    core.ActivityChargeCreated,
	amqp.EventChargeUpdated:    core.ActivityChargeUpdated,
	amqp.EventChargeDeleted:    core.ActivityChargeDeleted,
	amqp.EventRepaymentCreated: core.ActivityRepaymentCreated,
	amqp.EventMemberJoined:     core.ActivityMemberJoined,
}

type ExportWorker struct {
	activity  ActivityStore
	processor *services.ExportProcessor // nil when export is disabled
	logger    *log.Logger
}

func NewExportWorker(activity ActivityStore, processor *services.ExportProcessor, logger *log.Logger) *ExportWorker {
	return &ExportWorker{
		activity:  activity,
		processor: processor,
		logger:    logger.WithComponent(log.ComponentWorker),
	}
}

type activityPayload struct {
	EventID     string `json:"event_id"`
	EntityID    int64  `json:"entity_id"`
	AmountCents int64  `json:"amount_cents,omitempty"`
	Currency    string `json:"currency,omitempty"`
	Version     int64  `json:"version,omitempty"`
}

// HandleEvent records the event in the group's activity feed and exports
// whatever it changed. Only a failure to record activity is returned, so
// the message is requeued; export failures stay pending for the poller.
func (w *ExportWorker) HandleEvent(ctx context.Context, ev *amqp.LedgerEvent) error {
	typ, ok := activityTypes[ev.Type]
	if !ok {
		w.logger.WarnContext(ctx, "Ignoring unknown event type", log.FieldEventType, ev.Type, log.FieldEventID, ev.EventID)
		return nil
	}

	logger := w.logger.With(
		log.FieldEventID, ev.EventID,
		log.FieldEventType, ev.Type,
		log.FieldGroupID, int64(ev.GroupID))
	logger.InfoContext(ctx, "Processing ledger event")

	payload, err := json.Marshal(activityPayload{
		EventID:     ev.EventID,
		EntityID:    ev.EntityID,
		AmountCents: ev.AmountCents,
		Currency:    ev.Currency,
		Version:     ev.Version,
	})
	if err != nil {
		return fmt.Errorf("encode activity payload: %w", err)
	}
	createdAt := ev.Timestamp
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	if _, err := w.activity.RecordActivity(ctx, core.ActivityEvent{
		GroupID:   ev.GroupID,
		UserID:    ev.ActorID,
		Type:      typ,
		Payload:   string(payload),
		CreatedAt: createdAt,
	}); err != nil {
		return fmt.Errorf("record activity: %w", err)
	}

	if w.processor == nil {
		return nil
	}

	switch ev.Type {
	case amqp.EventChargeCreated, amqp.EventChargeUpdated, amqp.EventChargeDeleted:
		if err := w.processor.ExportCharge(ctx, core.ChargeID(ev.EntityID)); err != nil {
			logger.WarnContext(ctx, "Charge export failed, leaving it to the poller", log.FieldError, err)
			return nil
		}
		w.exportBalances(ctx, logger, ev.GroupID)
	case amqp.EventRepaymentCreated:
		w.exportBalances(ctx, logger, ev.GroupID)
	}
	return nil
}

func (w *ExportWorker) exportBalances(ctx context.Context, logger *log.Logger, groupID core.GroupID) {
	if err := w.processor.ExportGroupBalances(ctx, groupID); err != nil {
		logger.WarnContext(ctx, "Balance snapshot export failed", log.FieldError, err)
	}
}

// Run consumes events and, when export is enabled, polls for pending
// charges until ctx is cancelled. A nil consumer means poll only.
func (w *ExportWorker) Run(ctx context.Context, consumer Consumer) error {
	if w.processor != nil {
		if err := w.processor.Start(ctx); err != nil {
			return fmt.Errorf("start export processor: %w", err)
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := w.processor.Stop(stopCtx); err != nil {
				w.logger.Warn("Export processor did not stop cleanly", log.FieldError, err)
			}
		}()
	}

	if consumer == nil {
		<-ctx.Done()
		return nil
	}

	err := consumer.Consume(ctx, w.HandleEvent)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

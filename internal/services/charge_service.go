package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"splitledger/internal/amqp"
	"splitledger/internal/core"
	"splitledger/internal/log"
	"splitledger/internal/split"
	"splitledger/internal/storage"
)

var ErrNotMember = errors.New("user is not a member of the group")

// ChargeStore is the persistence the charge service needs.
type ChargeStore interface {
	IsMember(ctx context.Context, groupID core.GroupID, userID core.UserID) (bool, error)
	CurrencyPrecision(ctx context.Context, cur core.Currency) (int32, error)
	CreateCharge(ctx context.Context, c core.Charge) (core.Charge, error)
	GetCharge(ctx context.Context, id core.ChargeID) (core.Charge, error)
	ReplaceSplits(ctx context.Context, c core.Charge) (core.Charge, error)
	SoftDeleteCharge(ctx context.Context, id core.ChargeID) error
	CreateRepayment(ctx context.Context, r core.Repayment) (core.Repayment, error)
}

// EventPublisher delivers ledger events after a mutation has committed.
type EventPublisher interface {
	Publish(ctx context.Context, ev *amqp.LedgerEvent) error
}

// Invalidator drops derived data for a group.
type Invalidator interface {
	Invalidate(groupID core.GroupID)
}

// NewCharge is the input for creating or editing a charge.
type NewCharge struct {
	GroupID     core.GroupID
	ActorID     core.UserID
	PayerID     core.UserID
	Amount      core.Money
	Description string
	Notes       string
	OccurredAt  time.Time
	Items       []core.Item
	Policy      split.Policy
}

type NewRepayment struct {
	GroupID core.GroupID
	ActorID core.UserID
	FromID  core.UserID
	ToID    core.UserID
	Amount  core.Money
	Notes   string
}

// ChargeService orchestrates charge and repayment writes: membership
// checks, split allocation, persistence, cache invalidation and events.
type ChargeService struct {
	store     ChargeStore
	publisher EventPublisher
	cache     Invalidator
	logger    *log.Logger
}

func NewChargeService(store ChargeStore, publisher EventPublisher, cache Invalidator, logger *log.Logger) *ChargeService {
	return &ChargeService{
		store:     store,
		publisher: publisher,
		cache:     cache,
		logger:    logger.WithComponent(log.ComponentCharge),
	}
}

func (s *ChargeService) CreateCharge(ctx context.Context, in NewCharge) (core.Charge, error) {
	c, err := s.prepare(ctx, in)
	if err != nil {
		return core.Charge{}, err
	}
	c.CreatedBy = in.ActorID

	saved, err := s.store.CreateCharge(ctx, c)
	if err != nil {
		return core.Charge{}, fmt.Errorf("save charge: %w", err)
	}

	s.afterWrite(ctx, saved.GroupID, amqp.NewLedgerEvent(amqp.EventChargeCreated, saved.GroupID, int64(saved.ID), in.ActorID).
		WithAmount(saved.Amount).WithVersion(saved.Version))

	s.logger.InfoContext(ctx, "Charge created", log.NewFields().WithCharge(saved).WithUser(in.ActorID).ToSlice()...)
	return saved, nil
}

// UpdateCharge recomputes every split from the new input. The new split set
// replaces the old one atomically in storage.
func (s *ChargeService) UpdateCharge(ctx context.Context, id core.ChargeID, in NewCharge) (core.Charge, error) {
	existing, err := s.store.GetCharge(ctx, id)
	if err != nil {
		return core.Charge{}, fmt.Errorf("load charge: %w", err)
	}
	if !existing.Active() {
		return core.Charge{}, fmt.Errorf("charge %d: %w", id, storage.ErrNotFound)
	}

	in.GroupID = existing.GroupID
	c, err := s.prepare(ctx, in)
	if err != nil {
		return core.Charge{}, err
	}
	c.ID = existing.ID
	c.CreatedBy = existing.CreatedBy
	if c.OccurredAt.IsZero() {
		c.OccurredAt = existing.OccurredAt
	}

	saved, err := s.store.ReplaceSplits(ctx, c)
	if err != nil {
		return core.Charge{}, fmt.Errorf("replace splits: %w", err)
	}

	s.afterWrite(ctx, saved.GroupID, amqp.NewLedgerEvent(amqp.EventChargeUpdated, saved.GroupID, int64(saved.ID), in.ActorID).
		WithAmount(saved.Amount).WithVersion(saved.Version))

	s.logger.InfoContext(ctx, "Charge updated", log.NewFields().WithCharge(saved).WithUser(in.ActorID).ToSlice()...)
	return saved, nil
}

func (s *ChargeService) DeleteCharge(ctx context.Context, id core.ChargeID, actor core.UserID) error {
	existing, err := s.store.GetCharge(ctx, id)
	if err != nil {
		return fmt.Errorf("load charge: %w", err)
	}
	if err := s.requireMember(ctx, existing.GroupID, actor); err != nil {
		return err
	}
	if err := s.store.SoftDeleteCharge(ctx, id); err != nil {
		return fmt.Errorf("delete charge: %w", err)
	}

	s.afterWrite(ctx, existing.GroupID, amqp.NewLedgerEvent(amqp.EventChargeDeleted, existing.GroupID, int64(id), actor).
		WithAmount(existing.Amount).WithVersion(existing.Version+1))

	s.logger.InfoContext(ctx, "Charge deleted", log.NewFields().WithCharge(existing).WithUser(actor).ToSlice()...)
	return nil
}

func (s *ChargeService) RecordRepayment(ctx context.Context, in NewRepayment) (core.Repayment, error) {
	r := core.Repayment{
		GroupID:   in.GroupID,
		FromID:    in.FromID,
		ToID:      in.ToID,
		CreatedBy: in.ActorID,
		Amount:    in.Amount,
		Notes:     in.Notes,
	}
	if err := r.Validate(); err != nil {
		return core.Repayment{}, err
	}
	if err := s.checkCurrency(ctx, r.Amount.Currency); err != nil {
		return core.Repayment{}, err
	}
	for _, u := range []core.UserID{in.ActorID, in.FromID, in.ToID} {
		if err := s.requireMember(ctx, in.GroupID, u); err != nil {
			return core.Repayment{}, err
		}
	}

	saved, err := s.store.CreateRepayment(ctx, r)
	if err != nil {
		return core.Repayment{}, fmt.Errorf("save repayment: %w", err)
	}

	s.afterWrite(ctx, saved.GroupID, amqp.NewLedgerEvent(amqp.EventRepaymentCreated, saved.GroupID, int64(saved.ID), in.ActorID).
		WithAmount(saved.Amount))

	s.logger.InfoContext(ctx, "Repayment recorded", log.NewFields().WithRepayment(saved).WithUser(in.ActorID).ToSlice()...)
	return saved, nil
}

// prepare validates the input and allocates splits. Nothing is written.
func (s *ChargeService) prepare(ctx context.Context, in NewCharge) (core.Charge, error) {
	c := core.Charge{
		GroupID:     in.GroupID,
		PayerID:     in.PayerID,
		Amount:      in.Amount,
		Description: in.Description,
		Notes:       in.Notes,
		OccurredAt:  in.OccurredAt,
		Items:       in.Items,
	}
	if err := c.Validate(); err != nil {
		return core.Charge{}, err
	}
	if in.Policy == nil {
		return core.Charge{}, fmt.Errorf("missing split policy: %w", split.ErrInvalidInput)
	}
	if err := s.checkCurrency(ctx, c.Amount.Currency); err != nil {
		return core.Charge{}, err
	}

	users := append([]core.UserID{in.ActorID, in.PayerID}, in.Policy.Participants()...)
	if err := s.requireMembers(ctx, in.GroupID, users); err != nil {
		return core.Charge{}, err
	}

	var (
		recs []core.SplitRecord
		err  error
	)
	if len(c.Items) > 0 {
		recs, err = split.AllocateItems(c.Items, in.Policy)
	} else {
		recs, err = split.Allocate(c.Amount.Cents, in.Policy)
	}
	if err != nil {
		return core.Charge{}, fmt.Errorf("allocate splits: %w", err)
	}
	c.Splits = recs
	return c, nil
}

func (s *ChargeService) checkCurrency(ctx context.Context, cur core.Currency) error {
	if _, err := s.store.CurrencyPrecision(ctx, cur); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%s: %w", cur, core.ErrInvalidCurrency)
		}
		return fmt.Errorf("look up currency: %w", err)
	}
	return nil
}

func (s *ChargeService) requireMembers(ctx context.Context, groupID core.GroupID, users []core.UserID) error {
	seen := make(map[core.UserID]bool, len(users))
	for _, u := range users {
		if seen[u] {
			continue
		}
		seen[u] = true
		if err := s.requireMember(ctx, groupID, u); err != nil {
			return err
		}
	}
	return nil
}

func (s *ChargeService) requireMember(ctx context.Context, groupID core.GroupID, userID core.UserID) error {
	ok, err := s.store.IsMember(ctx, groupID, userID)
	if err != nil {
		return fmt.Errorf("check membership: %w", err)
	}
	if !ok {
		return fmt.Errorf("user %d, group %d: %w", userID, groupID, ErrNotMember)
	}
	return nil
}

// afterWrite runs once the mutation is durable. Event delivery failures are
// logged and swallowed; the pending-export poller catches up.
func (s *ChargeService) afterWrite(ctx context.Context, groupID core.GroupID, ev *amqp.LedgerEvent) {
	if s.cache != nil {
		s.cache.Invalidate(groupID)
	}
	publish(ctx, s.publisher, s.logger, ev)
}

func publish(ctx context.Context, p EventPublisher, logger *log.Logger, ev *amqp.LedgerEvent) {
	if p == nil {
		logger.DebugContext(ctx, "No event publisher configured, skipping", log.FieldEventType, ev.Type)
		return
	}
	if err := p.Publish(ctx, ev); err != nil {
		logger.WarnContext(ctx, "Failed to publish ledger event",
			log.FieldEventType, ev.Type,
			log.FieldEventID, ev.EventID,
			log.FieldGroupID, int64(ev.GroupID),
			log.FieldError, err)
	}
}

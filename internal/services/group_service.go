package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"splitledger/internal/amqp"
	"splitledger/internal/core"
	"splitledger/internal/log"
	"splitledger/internal/storage"
)

var ErrInvalidUser = errors.New("invalid user")

type GroupStore interface {
	IsMember(ctx context.Context, groupID core.GroupID, userID core.UserID) (bool, error)
	CurrencyPrecision(ctx context.Context, cur core.Currency) (int32, error)
	CreateUser(ctx context.Context, u core.User) (core.User, error)
	GetUser(ctx context.Context, id core.UserID) (core.User, error)
	CreateGroup(ctx context.Context, g core.Group) (core.Group, error)
	AddMember(ctx context.Context, groupID core.GroupID, userID core.UserID) error
	ListMembers(ctx context.Context, groupID core.GroupID) ([]core.UserID, error)
}

// GroupService manages users, groups and membership.
type GroupService struct {
	store     GroupStore
	publisher EventPublisher
	logger    *log.Logger
}

func NewGroupService(store GroupStore, publisher EventPublisher, logger *log.Logger) *GroupService {
	return &GroupService{store: store, publisher: publisher, logger: logger.WithComponent(log.ComponentApp)}
}

func (s *GroupService) CreateUser(ctx context.Context, email, name string, cur core.Currency) (core.User, error) {
	email = strings.TrimSpace(email)
	name = strings.TrimSpace(name)
	if _, err := mail.ParseAddress(email); err != nil {
		return core.User{}, fmt.Errorf("email %q: %w", email, ErrInvalidUser)
	}
	if name == "" {
		return core.User{}, fmt.Errorf("empty name: %w", ErrInvalidUser)
	}
	cur, err := s.currencyOrDefault(ctx, cur)
	if err != nil {
		return core.User{}, err
	}

	u, err := s.store.CreateUser(ctx, core.User{Email: email, Name: name, DefaultCurrency: cur})
	if err != nil {
		return core.User{}, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

// CreateGroup creates a group owned by the acting user.
func (s *GroupService) CreateGroup(ctx context.Context, actor core.UserID, name string, cur core.Currency) (core.Group, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return core.Group{}, fmt.Errorf("group name: %w", core.ErrEmptyDescription)
	}
	if _, err := s.store.GetUser(ctx, actor); err != nil {
		return core.Group{}, fmt.Errorf("acting user: %w", err)
	}
	cur, err := s.currencyOrDefault(ctx, cur)
	if err != nil {
		return core.Group{}, err
	}

	g, err := s.store.CreateGroup(ctx, core.Group{Name: name, CreatedBy: actor, DefaultCurrency: cur})
	if err != nil {
		return core.Group{}, fmt.Errorf("create group: %w", err)
	}

	s.logger.InfoContext(ctx, "Group created", log.NewFields().WithGroup(g.ID).WithUser(actor).ToSlice()...)
	return g, nil
}

// AddMember lets an existing member bring another user into the group.
func (s *GroupService) AddMember(ctx context.Context, groupID core.GroupID, actor, userID core.UserID) error {
	ok, err := s.store.IsMember(ctx, groupID, actor)
	if err != nil {
		return fmt.Errorf("check membership: %w", err)
	}
	if !ok {
		return fmt.Errorf("user %d, group %d: %w", actor, groupID, ErrNotMember)
	}
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		return fmt.Errorf("new member: %w", err)
	}
	if err := s.store.AddMember(ctx, groupID, userID); err != nil {
		return err
	}

	publish(ctx, s.publisher, s.logger, amqp.NewLedgerEvent(amqp.EventMemberJoined, groupID, int64(userID), actor))
	return nil
}

func (s *GroupService) Members(ctx context.Context, groupID core.GroupID, actor core.UserID) ([]core.UserID, error) {
	ok, err := s.store.IsMember(ctx, groupID, actor)
	if err != nil {
		return nil, fmt.Errorf("check membership: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("user %d, group %d: %w", actor, groupID, ErrNotMember)
	}
	return s.store.ListMembers(ctx, groupID)
}

func (s *GroupService) currencyOrDefault(ctx context.Context, cur core.Currency) (core.Currency, error) {
	if cur == "" {
		return "USD", nil
	}
	if err := cur.Validate(); err != nil {
		return "", err
	}
	if _, err := s.store.CurrencyPrecision(ctx, cur); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", fmt.Errorf("%s: %w", cur, core.ErrInvalidCurrency)
		}
		return "", err
	}
	return cur, nil
}

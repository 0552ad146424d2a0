package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	PolicyEqual   SplitPolicy = "equal"
	PolicyUnequal SplitPolicy = "unequal"
	PolicyShares  SplitPolicy = "shares"
	PolicyPercent SplitPolicy = "percent"
)

const (
	ActivityChargeCreated    ActivityType = "charge_created"
	ActivityChargeUpdated    ActivityType = "charge_updated"
	ActivityChargeDeleted    ActivityType = "charge_deleted"
	ActivityRepaymentCreated ActivityType = "repayment_created"
	ActivityMemberJoined     ActivityType = "member_joined"
)

type (
	UserID      int64
	GroupID     int64
	ChargeID    int64
	RepaymentID int64

	// Currency is an ISO 4217 code, e.g. "EUR".
	Currency string

	SplitPolicy  string
	ActivityType string

	Money struct {
		Cents    int64
		Currency Currency
	}

	// SplitRecord is what one participant owes for a charge, or for one of
	// its items when ItemNo is non-zero.
	SplitRecord struct {
		UserID     UserID
		ItemNo     int
		Cents      int64
		Policy     SplitPolicy
		AuditValue string // share count or percent, kept for display
	}

	// Item is a line of an itemized charge. No is 1-based and unique
	// within the owning charge.
	Item struct {
		No          int
		Description string
		Cents       int64
	}

	Charge struct {
		ID          ChargeID
		GroupID     GroupID
		PayerID     UserID
		CreatedBy   UserID
		Amount      Money
		Description string
		Notes       string
		Items       []Item
		Splits      []SplitRecord
		Version     int64
		OccurredAt  time.Time
		CreatedAt   time.Time
		DeletedAt   time.Time // zero unless soft-deleted
	}

	Repayment struct {
		ID        RepaymentID
		GroupID   GroupID
		FromID    UserID
		ToID      UserID
		CreatedBy UserID
		Amount    Money
		Notes     string
		CreatedAt time.Time
	}

	User struct {
		ID              UserID
		Email           string
		Name            string
		DefaultCurrency Currency
		CreatedAt       time.Time
	}

	Group struct {
		ID              GroupID
		Name            string
		CreatedBy       UserID
		DefaultCurrency Currency
		CreatedAt       time.Time
	}

	ActivityEvent struct {
		ID        int64
		GroupID   GroupID
		UserID    UserID
		Type      ActivityType
		Payload   string // JSON
		CreatedAt time.Time
	}
)

var (
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInvalidCurrency   = errors.New("invalid currency code")
	ErrEmptyDescription  = errors.New("empty description")
	ErrMissingPayer      = errors.New("missing payer")
	ErrItemsMismatch     = errors.New("items total does not match charge amount")
	ErrSelfRepayment     = errors.New("cannot settle with yourself")
	ErrUnknownPolicy     = errors.New("unknown split policy")
	ErrDescriptionLength = errors.New("description too long (max 500 characters)")
)

// Active reports whether the charge takes part in balance computation.
func (c Charge) Active() bool {
	return c.DeletedAt.IsZero()
}

func (p SplitPolicy) Validate() error {
	switch p {
	case PolicyEqual, PolicyUnequal, PolicyShares, PolicyPercent:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownPolicy, string(p))
	}
}

func (c Currency) Validate() error {
	if len(c) != 3 {
		return ErrInvalidCurrency
	}
	for _, r := range c {
		if r < 'A' || r > 'Z' {
			return ErrInvalidCurrency
		}
	}
	return nil
}

// NormalizeCurrency upper-cases and trims a user supplied code.
func NormalizeCurrency(s string) Currency {
	return Currency(strings.ToUpper(strings.TrimSpace(s)))
}

func (m Money) Validate() error {
	if m.Cents <= 0 {
		return ErrInvalidAmount
	}
	return m.Currency.Validate()
}

func (c Charge) Validate() error {
	if c.PayerID == 0 {
		return ErrMissingPayer
	}
	if err := c.Amount.Validate(); err != nil {
		return err
	}
	if len(strings.TrimSpace(c.Description)) == 0 {
		return ErrEmptyDescription
	}
	if len(c.Description) > 500 {
		return ErrDescriptionLength
	}
	if len(c.Items) > 0 {
		for _, it := range c.Items {
			if it.Cents <= 0 {
				return fmt.Errorf("item %d: %w", it.No, ErrInvalidAmount)
			}
			if len(strings.TrimSpace(it.Description)) == 0 {
				return fmt.Errorf("item %d: %w", it.No, ErrEmptyDescription)
			}
		}
		var total int64
		for _, it := range c.Items {
			if it.Cents > c.Amount.Cents-total {
				return fmt.Errorf("%w: items exceed charge %d", ErrItemsMismatch, c.Amount.Cents)
			}
			total += it.Cents
		}
		if total != c.Amount.Cents {
			return fmt.Errorf("%w: items %d, charge %d", ErrItemsMismatch, total, c.Amount.Cents)
		}
	}
	return nil
}

func (r Repayment) Validate() error {
	if r.FromID == 0 || r.ToID == 0 {
		return errors.New("repayment requires both users")
	}
	if r.FromID == r.ToID {
		return ErrSelfRepayment
	}
	return r.Amount.Validate()
}

package split

import (
	"fmt"

	"splitledger/internal/core"
)

// Policy is a split policy together with the data it needs. The concrete
// types are Equal, Unequal, Shares and Percent; no other implementation
// is possible outside this package.
type Policy interface {
	Kind() core.SplitPolicy
	// Participants lists the users named by the policy in list order.
	Participants() []core.UserID
	allocate(total int64) ([]core.SplitRecord, error)
}

type (
	Equal struct {
		Users []core.UserID
	}

	Unequal struct {
		Splits []Exact
	}

	Shares struct {
		Shares []Share
	}

	Percent struct {
		Percents []Portion
	}
)

// NewEqual builds an equal-split policy.
func NewEqual(participants ...core.UserID) Equal {
	return Equal{Users: participants}
}

func (Equal) Kind() core.SplitPolicy   { return core.PolicyEqual }
func (Unequal) Kind() core.SplitPolicy { return core.PolicyUnequal }
func (Shares) Kind() core.SplitPolicy  { return core.PolicyShares }
func (Percent) Kind() core.SplitPolicy { return core.PolicyPercent }

func (p Equal) Participants() []core.UserID {
	return append([]core.UserID(nil), p.Users...)
}

func (p Unequal) Participants() []core.UserID {
	out := make([]core.UserID, len(p.Splits))
	for i, s := range p.Splits {
		out[i] = s.UserID
	}
	return out
}

func (p Shares) Participants() []core.UserID {
	out := make([]core.UserID, len(p.Shares))
	for i, s := range p.Shares {
		out[i] = s.UserID
	}
	return out
}

func (p Percent) Participants() []core.UserID {
	out := make([]core.UserID, len(p.Percents))
	for i, s := range p.Percents {
		out[i] = s.UserID
	}
	return out
}

func (p Equal) allocate(total int64) ([]core.SplitRecord, error) {
	return AllocateEqual(total, p.Users)
}

func (p Unequal) allocate(total int64) ([]core.SplitRecord, error) {
	return AllocateUnequal(total, p.Splits)
}

func (p Shares) allocate(total int64) ([]core.SplitRecord, error) {
	return AllocateByShares(total, p.Shares)
}

func (p Percent) allocate(total int64) ([]core.SplitRecord, error) {
	return AllocateByPercent(total, p.Percents)
}

// Allocate splits a whole-charge amount under p.
func Allocate(total int64, p Policy) ([]core.SplitRecord, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: missing split policy", ErrInvalidInput)
	}
	return p.allocate(total)
}

// AllocateItems applies p to every item and concatenates the results in
// item order, tagging each record with its item number. Callers must have
// checked that item amounts add up to the charge total.
func AllocateItems(items []core.Item, p Policy) ([]core.SplitRecord, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: no items to split", ErrInvalidInput)
	}
	var out []core.SplitRecord
	for _, it := range items {
		recs, err := Allocate(it.Cents, p)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", it.No, err)
		}
		for i := range recs {
			recs[i].ItemNo = it.No
		}
		out = append(out, recs...)
	}
	return out, nil
}

// Sum returns the total of the records' amounts.
func Sum(records []core.SplitRecord) int64 {
	var total int64
	for _, r := range records {
		total += r.Cents
	}
	return total
}

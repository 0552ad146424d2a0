// Package split distributes a charge amount across participants.
//
// Every allocation returns records whose Cents sum exactly to the input
// total. Proportional policies (shares, percent) round each participant
// half-up in exact arithmetic and let the last participant in list
// order absorb whatever is left, so callers decide who takes the residual
// cent by ordering the list. Equal splits hand the remainder, one unit each,
// to the first participants in list order.
package split

import (
	"errors"
	"fmt"
	"math"
	"math/big"

	"github.com/shopspring/decimal"

	"splitledger/internal/core"
)

var (
	ErrInvalidInput      = errors.New("invalid split input")
	ErrAmountMismatch    = errors.New("split amounts do not match charge total")
	ErrPercentSumInvalid = errors.New("percentages must sum to 100")
)

var (
	hundred          = decimal.NewFromInt(100)
	percentTolerance = decimal.New(1, -2) // 0.01
	maxCents         = decimal.NewFromInt(math.MaxInt64)
)

// Exact is one participant's explicit amount for an unequal split.
type Exact struct {
	UserID core.UserID
	Cents  int64
}

// Share is one participant's weight for a shares split.
type Share struct {
	UserID core.UserID
	Count  int64
}

// Portion is one participant's percentage for a percent split.
type Portion struct {
	UserID  core.UserID
	Percent decimal.Decimal
}

// AllocateEqual divides total evenly. The first total%n participants in
// list order receive one extra unit.
func AllocateEqual(total int64, participants []core.UserID) ([]core.SplitRecord, error) {
	if len(participants) == 0 {
		return nil, fmt.Errorf("%w: at least one participant required", ErrInvalidInput)
	}
	if total < 0 {
		return nil, fmt.Errorf("%w: negative total %d", ErrInvalidInput, total)
	}

	n := int64(len(participants))
	base, remainder := total/n, total%n

	out := make([]core.SplitRecord, len(participants))
	for i, uid := range participants {
		cents := base
		if int64(i) < remainder {
			cents++
		}
		out[i] = core.SplitRecord{UserID: uid, Cents: cents, Policy: core.PolicyEqual}
	}
	return out, nil
}

// AllocateUnequal checks that the caller-provided amounts sum to total and
// returns them unchanged.
func AllocateUnequal(total int64, splits []Exact) ([]core.SplitRecord, error) {
	if len(splits) == 0 {
		return nil, fmt.Errorf("%w: at least one split required", ErrInvalidInput)
	}
	if total < 0 {
		return nil, fmt.Errorf("%w: negative total %d", ErrInvalidInput, total)
	}

	for _, s := range splits {
		if s.Cents < 0 {
			return nil, fmt.Errorf("%w: negative amount for user %d", ErrInvalidInput, s.UserID)
		}
	}

	var sum int64
	out := make([]core.SplitRecord, len(splits))
	for i, s := range splits {
		// Amounts are non-negative, so overshooting total is a mismatch and
		// sum never wraps.
		if s.Cents > total-sum {
			return nil, fmt.Errorf("%w: splits exceed charge %d", ErrAmountMismatch, total)
		}
		sum += s.Cents
		out[i] = core.SplitRecord{UserID: s.UserID, Cents: s.Cents, Policy: core.PolicyUnequal}
	}
	if sum != total {
		return nil, fmt.Errorf("%w: splits total %d, charge %d", ErrAmountMismatch, sum, total)
	}
	return out, nil
}

// AllocateByShares splits total proportionally to share counts.
func AllocateByShares(total int64, shares []Share) ([]core.SplitRecord, error) {
	if len(shares) == 0 {
		return nil, fmt.Errorf("%w: at least one share required", ErrInvalidInput)
	}
	if total < 0 {
		return nil, fmt.Errorf("%w: negative total %d", ErrInvalidInput, total)
	}

	var totalShares int64
	for _, s := range shares {
		if s.Count < 0 {
			return nil, fmt.Errorf("%w: negative share count for user %d", ErrInvalidInput, s.UserID)
		}
		if s.Count > math.MaxInt64-totalShares {
			return nil, fmt.Errorf("%w: share counts overflow", ErrInvalidInput)
		}
		totalShares += s.Count
	}
	if totalShares == 0 {
		return nil, fmt.Errorf("%w: total shares must be greater than 0", ErrInvalidInput)
	}

	amount, denom := big.NewInt(total), big.NewInt(totalShares)
	amounts, _ := allocateResidual(total, len(shares), func(i int) (int64, error) {
		return shareOf(amount, shares[i].Count, denom), nil
	})

	out := make([]core.SplitRecord, len(shares))
	for i, s := range shares {
		out[i] = core.SplitRecord{
			UserID:     s.UserID,
			Cents:      amounts[i],
			Policy:     core.PolicyShares,
			AuditValue: decimal.NewFromInt(s.Count).String(),
		}
	}
	return out, nil
}

// AllocateByPercent splits total by percentages that must add up to 100
// within 0.01 (inclusive).
func AllocateByPercent(total int64, percents []Portion) ([]core.SplitRecord, error) {
	if len(percents) == 0 {
		return nil, fmt.Errorf("%w: at least one percentage required", ErrInvalidInput)
	}
	if total < 0 {
		return nil, fmt.Errorf("%w: negative total %d", ErrInvalidInput, total)
	}

	sum := decimal.Zero
	weights := make([]decimal.Decimal, len(percents))
	for i, p := range percents {
		if p.Percent.IsNegative() {
			return nil, fmt.Errorf("%w: negative percentage for user %d", ErrInvalidInput, p.UserID)
		}
		sum = sum.Add(p.Percent)
		weights[i] = p.Percent
	}
	if sum.Sub(hundred).Abs().GreaterThan(percentTolerance) {
		return nil, fmt.Errorf("%w: got %s", ErrPercentSumInvalid, sum.String())
	}
	amount := decimal.NewFromInt(total)
	amounts, err := allocateResidual(total, len(percents), func(i int) (int64, error) {
		// Shift is exact, unlike Div, which truncates to DivisionPrecision.
		v := amount.Mul(weights[i]).Shift(-2).Round(0)
		if v.GreaterThan(maxCents) {
			return 0, fmt.Errorf("%w: percentage of %d overflows", ErrInvalidInput, total)
		}
		return v.IntPart(), nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]core.SplitRecord, len(percents))
	for i, p := range percents {
		out[i] = core.SplitRecord{
			UserID:     p.UserID,
			Cents:      amounts[i],
			Policy:     core.PolicyPercent,
			AuditValue: p.Percent.String() + "%",
		}
	}
	return out, nil
}

// allocateResidual fills every slot but the last with part(i) and gives the
// last slot total minus everything already allocated.
func allocateResidual(total int64, n int, part func(i int) (int64, error)) ([]int64, error) {
	out := make([]int64, n)
	var allocated int64
	for i := 0; i < n-1; i++ {
		cents, err := part(i)
		if err != nil {
			return nil, err
		}
		out[i] = cents
		allocated += cents
	}
	out[n-1] = total - allocated
	return out, nil
}

// shareOf returns amount*count/denom rounded half-up in integer arithmetic.
// count <= denom, so the result fits in int64.
func shareOf(amount *big.Int, count int64, denom *big.Int) int64 {
	q, r := new(big.Int).QuoRem(new(big.Int).Mul(amount, big.NewInt(count)), denom, new(big.Int))
	if r.Lsh(r, 1).Cmp(denom) >= 0 {
		q.Add(q, big.NewInt(1))
	}
	return q.Int64()
}

package split

import (
	"math"
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"splitledger/internal/core"
)

const (
	alice core.UserID = 1
	bob   core.UserID = 2
	carol core.UserID = 3
)

func amounts(recs []core.SplitRecord) []int64 {
	out := make([]int64, len(recs))
	for i, r := range recs {
		out[i] = r.Cents
	}
	return out
}

func pct(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestAllocateEqual(t *testing.T) {
	t.Run("remainder goes to first participants in list order", func(t *testing.T) {
		recs, err := AllocateEqual(100, []core.UserID{alice, bob, carol})
		require.NoError(t, err)
		assert.Equal(t, []int64{34, 33, 33}, amounts(recs))
		assert.Equal(t, alice, recs[0].UserID)
		for _, r := range recs {
			assert.Equal(t, core.PolicyEqual, r.Policy)
			assert.Empty(t, r.AuditValue)
		}
	})

	t.Run("order decides who absorbs the extra cent", func(t *testing.T) {
		recs, err := AllocateEqual(101, []core.UserID{carol, bob, alice})
		require.NoError(t, err)
		assert.Equal(t, []int64{34, 34, 33}, amounts(recs))
		assert.Equal(t, carol, recs[0].UserID)
	})

	t.Run("zero total", func(t *testing.T) {
		recs, err := AllocateEqual(0, []core.UserID{alice, bob})
		require.NoError(t, err)
		assert.Equal(t, []int64{0, 0}, amounts(recs))
	})

	t.Run("empty participants", func(t *testing.T) {
		_, err := AllocateEqual(100, nil)
		assert.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("negative total", func(t *testing.T) {
		_, err := AllocateEqual(-1, []core.UserID{alice})
		assert.ErrorIs(t, err, ErrInvalidInput)
	})
}

func TestAllocateEqualSumsExactly(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 2000; i++ {
		total := rng.Int63n(1_000_000)
		n := rng.Intn(12) + 1
		users := make([]core.UserID, n)
		for j := range users {
			users[j] = core.UserID(j + 1)
		}

		recs, err := AllocateEqual(total, users)
		require.NoError(t, err)
		require.Equal(t, total, Sum(recs), "total=%d n=%d", total, n)

		lo, hi := recs[0].Cents, recs[0].Cents
		for _, r := range recs {
			lo = min(lo, r.Cents)
			hi = max(hi, r.Cents)
		}
		require.LessOrEqual(t, hi-lo, int64(1), "total=%d n=%d", total, n)
	}
}

func TestAllocateUnequal(t *testing.T) {
	recs, err := AllocateUnequal(1000, []Exact{{alice, 700}, {bob, 300}})
	require.NoError(t, err)
	assert.Equal(t, []int64{700, 300}, amounts(recs))
	assert.Equal(t, core.PolicyUnequal, recs[0].Policy)

	_, err = AllocateUnequal(1000, []Exact{{alice, 700}, {bob, 299}})
	assert.ErrorIs(t, err, ErrAmountMismatch)

	_, err = AllocateUnequal(1000, []Exact{{alice, 1100}, {bob, -100}})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = AllocateUnequal(1000, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestAllocateByShares(t *testing.T) {
	t.Run("last absorbs remainder", func(t *testing.T) {
		recs, err := AllocateByShares(1000, []Share{{alice, 1}, {bob, 2}})
		require.NoError(t, err)
		assert.Equal(t, []int64{333, 667}, amounts(recs))
		assert.Equal(t, "1", recs[0].AuditValue)
		assert.Equal(t, "2", recs[1].AuditValue)
		assert.Equal(t, core.PolicyShares, recs[1].Policy)
	})

	t.Run("exact half rounds up", func(t *testing.T) {
		// 11 * 1/22 = 0.5 exactly
		recs, err := AllocateByShares(11, []Share{{alice, 1}, {bob, 21}})
		require.NoError(t, err)
		assert.Equal(t, []int64{1, 10}, amounts(recs))
	})

	t.Run("zero shares allowed for some participants", func(t *testing.T) {
		recs, err := AllocateByShares(500, []Share{{alice, 0}, {bob, 1}, {carol, 1}})
		require.NoError(t, err)
		assert.Equal(t, []int64{0, 250, 250}, amounts(recs))
	})

	t.Run("zero total shares", func(t *testing.T) {
		_, err := AllocateByShares(500, []Share{{alice, 0}, {bob, 0}})
		assert.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("negative share", func(t *testing.T) {
		_, err := AllocateByShares(500, []Share{{alice, -1}, {bob, 2}})
		assert.ErrorIs(t, err, ErrInvalidInput)
	})
}

func TestAllocateByPercent(t *testing.T) {
	t.Run("sums exactly regardless of rounding", func(t *testing.T) {
		recs, err := AllocateByPercent(999, []Portion{
			{alice, pct("33.3")},
			{bob, pct("33.3")},
			{carol, pct("33.4")},
		})
		require.NoError(t, err)
		assert.Equal(t, int64(999), Sum(recs))
		assert.Equal(t, []int64{333, 333, 333}, amounts(recs))
		assert.Equal(t, "33.3%", recs[0].AuditValue)
		assert.Equal(t, "33.4%", recs[2].AuditValue)
	})

	t.Run("exact decimal halves round up", func(t *testing.T) {
		// 0.3% of 500 is 1.5; binary floats would see 1.4999...
		recs, err := AllocateByPercent(500, []Portion{{alice, pct("0.3")}, {bob, pct("99.7")}})
		require.NoError(t, err)
		assert.Equal(t, []int64{2, 498}, amounts(recs))
	})

	t.Run("tolerance", func(t *testing.T) {
		_, err := AllocateByPercent(1000, []Portion{{alice, pct("50")}, {bob, pct("50.02")}})
		assert.ErrorIs(t, err, ErrPercentSumInvalid)

		_, err = AllocateByPercent(1000, []Portion{{alice, pct("50")}, {bob, pct("49.98")}})
		assert.ErrorIs(t, err, ErrPercentSumInvalid)

		recs, err := AllocateByPercent(1000, []Portion{{alice, pct("50")}, {bob, pct("50.005")}})
		require.NoError(t, err)
		assert.Equal(t, int64(1000), Sum(recs))

		recs, err = AllocateByPercent(1000, []Portion{{alice, pct("50")}, {bob, pct("50.01")}})
		require.NoError(t, err)
		assert.Equal(t, int64(1000), Sum(recs))
	})

	t.Run("last absorbs even a negative residual", func(t *testing.T) {
		recs, err := AllocateByPercent(1, []Portion{{alice, pct("50")}, {bob, pct("50")}, {carol, pct("0.01")}})
		require.NoError(t, err)
		assert.Equal(t, []int64{1, 1, -1}, amounts(recs))
		assert.Equal(t, int64(1), Sum(recs))
	})

	t.Run("negative percent", func(t *testing.T) {
		_, err := AllocateByPercent(100, []Portion{{alice, pct("-10")}, {bob, pct("110")}})
		assert.ErrorIs(t, err, ErrInvalidInput)
	})
}

func TestProportionalSumsExactly(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 1000; i++ {
		total := rng.Int63n(10_000_000)
		n := rng.Intn(8) + 1
		shares := make([]Share, n)
		for j := range shares {
			shares[j] = Share{UserID: core.UserID(j + 1), Count: rng.Int63n(10) + 1}
		}
		recs, err := AllocateByShares(total, shares)
		require.NoError(t, err)
		require.Equal(t, total, Sum(recs))
	}
}

func TestAllocateBoundaries(t *testing.T) {
	const half = math.MaxInt64 / 2

	tests := []struct {
		name    string
		run     func() ([]core.SplitRecord, error)
		want    []int64
		wantErr error
	}{
		{
			name: "unequal amounts that wrap int64 are a mismatch",
			run: func() ([]core.SplitRecord, error) {
				return AllocateUnequal(1, []Exact{{alice, math.MaxInt64}, {bob, math.MaxInt64}, {carol, 3}})
			},
			wantErr: ErrAmountMismatch,
		},
		{
			name: "unequal at the int64 limit",
			run: func() ([]core.SplitRecord, error) {
				return AllocateUnequal(math.MaxInt64, []Exact{{alice, math.MaxInt64 - 1}, {bob, 1}})
			},
			want: []int64{math.MaxInt64 - 1, 1},
		},
		{
			name: "share counts that overflow are rejected",
			run: func() ([]core.SplitRecord, error) {
				return AllocateByShares(100, []Share{{alice, math.MaxInt64}, {bob, 1}})
			},
			wantErr: ErrInvalidInput,
		},
		{
			name: "single huge share count",
			run: func() ([]core.SplitRecord, error) {
				return AllocateByShares(100, []Share{{alice, math.MaxInt64}, {bob, 0}})
			},
			want: []int64{100, 0},
		},
		{
			name: "share just below one half rounds down",
			run: func() ([]core.SplitRecord, error) {
				return AllocateByShares(1, []Share{{alice, half}, {bob, half + 1}})
			},
			want: []int64{0, 1},
		},
		{
			name: "shares of the largest total",
			run: func() ([]core.SplitRecord, error) {
				return AllocateByShares(math.MaxInt64, []Share{{alice, 1}, {bob, 1}})
			},
			want: []int64{half + 1, half},
		},
		{
			name: "percent just below one half rounds down",
			run: func() ([]core.SplitRecord, error) {
				return AllocateByPercent(100, []Portion{{alice, pct("0.49999999999999999999")}, {bob, pct("99.50000000000000000001")}})
			},
			want: []int64{0, 100},
		},
		{
			name: "percent exactly one half rounds up",
			run: func() ([]core.SplitRecord, error) {
				return AllocateByPercent(100, []Portion{{alice, pct("0.5")}, {bob, pct("99.5")}})
			},
			want: []int64{1, 99},
		},
		{
			name: "percent of the largest total",
			run: func() ([]core.SplitRecord, error) {
				return AllocateByPercent(math.MaxInt64, []Portion{{alice, pct("50")}, {bob, pct("50")}})
			},
			want: []int64{half + 1, half},
		},
		{
			name: "percent above 100 of the largest total overflows",
			run: func() ([]core.SplitRecord, error) {
				return AllocateByPercent(math.MaxInt64, []Portion{{alice, pct("100.01")}, {bob, pct("0")}})
			},
			wantErr: ErrInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recs, err := tt.run()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, recs)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, amounts(recs))
		})
	}
}

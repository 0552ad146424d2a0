package split

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"splitledger/internal/core"
)

func TestAllocateDispatch(t *testing.T) {
	cases := []struct {
		name   string
		policy Policy
		total  int64
		want   []int64
		kind   core.SplitPolicy
	}{
		{"equal", NewEqual(alice, bob, carol), 100, []int64{34, 33, 33}, core.PolicyEqual},
		{"unequal", Unequal{Splits: []Exact{{alice, 60}, {bob, 40}}}, 100, []int64{60, 40}, core.PolicyUnequal},
		{"shares", Shares{Shares: []Share{{alice, 1}, {bob, 2}}}, 1000, []int64{333, 667}, core.PolicyShares},
		{"percent", Percent{Percents: []Portion{{alice, pct("25")}, {bob, pct("75")}}}, 1000, []int64{250, 750}, core.PolicyPercent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			recs, err := Allocate(tc.total, tc.policy)
			require.NoError(t, err)
			assert.Equal(t, tc.want, amounts(recs))
			assert.Equal(t, tc.kind, tc.policy.Kind())
			for _, r := range recs {
				assert.Equal(t, tc.kind, r.Policy)
				assert.Zero(t, r.ItemNo)
			}
		})
	}
}

func TestAllocateNilPolicy(t *testing.T) {
	_, err := Allocate(100, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestParticipants(t *testing.T) {
	assert.Equal(t, []core.UserID{alice, bob}, NewEqual(alice, bob).Participants())
	assert.Equal(t, []core.UserID{bob, carol}, Shares{Shares: []Share{{bob, 1}, {carol, 1}}}.Participants())
	assert.Equal(t, []core.UserID{carol}, Unequal{Splits: []Exact{{carol, 1}}}.Participants())
	assert.Equal(t, []core.UserID{alice}, Percent{Percents: []Portion{{alice, pct("100")}}}.Participants())
}

func TestAllocateItems(t *testing.T) {
	items := []core.Item{
		{No: 1, Description: "pizza", Cents: 100},
		{No: 2, Description: "wine", Cents: 50},
	}

	recs, err := AllocateItems(items, NewEqual(alice, bob, carol))
	require.NoError(t, err)
	require.Len(t, recs, 6)
	assert.Equal(t, []int64{34, 33, 33, 17, 17, 16}, amounts(recs))
	for i, r := range recs {
		want := 1
		if i >= 3 {
			want = 2
		}
		assert.Equal(t, want, r.ItemNo)
	}
	assert.Equal(t, int64(150), Sum(recs))
}

func TestAllocateItemsFailsWhole(t *testing.T) {
	items := []core.Item{
		{No: 1, Description: "a", Cents: 100},
		{No: 2, Description: "b", Cents: 50},
	}
	// An unequal split is checked against each item, so the second one fails.
	recs, err := AllocateItems(items, Unequal{Splits: []Exact{{alice, 50}, {bob, 50}}})
	assert.ErrorIs(t, err, ErrAmountMismatch)
	assert.Nil(t, recs)

	_, err = AllocateItems(nil, NewEqual(alice))
	assert.ErrorIs(t, err, ErrInvalidInput)
}

package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"splitledger/internal/config"
	"splitledger/internal/core"
	"splitledger/internal/split"
)

func TestParsePolicy(t *testing.T) {
	t.Run("equal", func(t *testing.T) {
		p, err := parsePolicy("equal", []string{"1", "2", "3"}, 2)
		require.NoError(t, err)
		assert.Equal(t, split.NewEqual(1, 2, 3), p)
	})

	t.Run("shares", func(t *testing.T) {
		p, err := parsePolicy("Shares", []string{"1:2", "2:1"}, 2)
		require.NoError(t, err)
		recs, err := split.Allocate(1000, p)
		require.NoError(t, err)
		assert.Equal(t, int64(667), recs[0].Cents)
		assert.Equal(t, int64(333), recs[1].Cents)
	})

	t.Run("unequal uses precision", func(t *testing.T) {
		p, err := parsePolicy("unequal", []string{"1:600", "2:401"}, 0)
		require.NoError(t, err)
		assert.Equal(t, split.Unequal{Splits: []split.Exact{{UserID: 1, Cents: 600}, {UserID: 2, Cents: 401}}}, p)
	})

	t.Run("percent", func(t *testing.T) {
		p, err := parsePolicy("percent", []string{"1:33.33%", "2:66.67"}, 2)
		require.NoError(t, err)
		pct := p.(split.Percent)
		assert.Equal(t, "33.33", pct.Percents[0].Percent.String())
	})

	errCases := []struct {
		name  string
		kind  string
		parts []string
	}{
		{"unknown policy", "lottery", []string{"1"}},
		{"bad user", "equal", []string{"bob"}},
		{"missing value", "shares", []string{"1"}},
		{"bad share count", "shares", []string{"1:two"}},
		{"bad percent", "percent", []string{"1:-5"}},
	}
	for _, tc := range errCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := parsePolicy(tc.kind, tc.parts, 2)
			assert.Error(t, err)
		})
	}
}

func TestSplitCommand(t *testing.T) {
	cmd := newRootCmd(&config.Config{SQLiteDBPath: filepath.Join(t.TempDir(), "ctl.db")})
	cmd.SetArgs([]string{"split", "--amount", "10.00", "--policy", "percent", "--part", "1:50", "--part", "2:49"})
	err := cmd.Execute()
	assert.ErrorIs(t, err, split.ErrPercentSumInvalid)

	cmd = newRootCmd(&config.Config{SQLiteDBPath: filepath.Join(t.TempDir(), "ctl.db")})
	cmd.SetArgs([]string{"split", "--amount", "10.00", "--part", "1", "--part", "2", "--part", "3"})
	assert.NoError(t, cmd.Execute())
}

func TestMigrateAndBalancesCommands(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "ctl.db")

	cmd := newRootCmd(&config.Config{SQLiteDBPath: dbPath})
	cmd.SetArgs([]string{"migrate"})
	require.NoError(t, cmd.Execute())

	cmd = newRootCmd(&config.Config{SQLiteDBPath: dbPath})
	cmd.SetArgs([]string{"balances", "--group", "42"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "group 42")

	cmd = newRootCmd(&config.Config{SQLiteDBPath: dbPath})
	cmd.SetArgs([]string{"user-balances"})
	assert.EqualError(t, cmd.Execute(), "--user is required")
}

func TestSigned(t *testing.T) {
	assert.Equal(t, "+12.50", signed(1250, 2))
	assert.Equal(t, "-3", signed(-3, 0))
	assert.Equal(t, "0.00", signed(0, core.DefaultPrecision))
}

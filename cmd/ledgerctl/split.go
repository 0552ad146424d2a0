package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"splitledger/internal/core"
	"splitledger/internal/split"
)

type splitFlags struct {
	Amount    string
	Policy    string
	Parts     []string
	Precision int32
}

func newSplitCmd() *cobra.Command {
	flags := &splitFlags{}

	cmd := &cobra.Command{
		Use:   "split",
		Short: "Preview how an amount would be allocated",
		Long: `Preview how an amount would be allocated between participants.
Nothing is written. Each --part is "user" for equal splits, or
"user:value" where value is an amount (unequal), a share count (shares)
or a percentage (percent).`,
		Example: `  ledgerctl split --amount 10.00 --policy equal --part 1 --part 2 --part 3
  ledgerctl split --amount 10.00 --policy shares --part 1:2 --part 2:1
  ledgerctl split --amount 1001 --precision 0 --policy percent --part 1:50 --part 2:50`,
		RunE: func(cmd *cobra.Command, args []string) error {
			total, err := core.ParseAmount(flags.Amount, flags.Precision)
			if err != nil {
				return fmt.Errorf("amount %q: %w", flags.Amount, err)
			}
			policy, err := parsePolicy(flags.Policy, flags.Parts, flags.Precision)
			if err != nil {
				return err
			}
			records, err := split.Allocate(total, policy)
			if err != nil {
				return err
			}

			data := pterm.TableData{{"User", "Owes", "Basis"}}
			for _, r := range records {
				data = append(data, []string{core.FormatUserID(r.UserID), core.FormatCents(r.Cents, flags.Precision), r.AuditValue})
			}
			data = append(data, []string{"total", core.FormatCents(split.Sum(records), flags.Precision), string(policy.Kind())})
			return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
		},
	}

	cmd.Flags().StringVarP(&flags.Amount, "amount", "a", "", "Total to split, e.g. 10.00")
	cmd.Flags().StringVarP(&flags.Policy, "policy", "p", string(core.PolicyEqual), "equal, unequal, shares or percent")
	cmd.Flags().StringArrayVar(&flags.Parts, "part", nil, "Participant, as user or user:value (repeatable)")
	cmd.Flags().Int32Var(&flags.Precision, "precision", core.DefaultPrecision, "Minor-unit digits of the currency")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

// parsePolicy builds a split policy from --part values.
func parsePolicy(kind string, parts []string, precision int32) (split.Policy, error) {
	policy := core.SplitPolicy(strings.ToLower(strings.TrimSpace(kind)))
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("policy %q: %w", kind, err)
	}

	var (
		equal    []core.UserID
		exact    []split.Exact
		shares   []split.Share
		percents []split.Portion
	)
	for _, part := range parts {
		userPart, value, hasValue := strings.Cut(part, ":")
		id, err := strconv.ParseInt(strings.TrimSpace(userPart), 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("part %q: invalid user id", part)
		}
		user := core.UserID(id)
		if policy != core.PolicyEqual && !hasValue {
			return nil, fmt.Errorf("part %q: %s splits need user:value", part, policy)
		}

		switch policy {
		case core.PolicyEqual:
			equal = append(equal, user)
		case core.PolicyUnequal:
			cents, err := core.ParseAmount(value, precision)
			if err != nil {
				return nil, fmt.Errorf("part %q: %w", part, err)
			}
			exact = append(exact, split.Exact{UserID: user, Cents: cents})
		case core.PolicyShares:
			n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("part %q: %w", part, split.ErrInvalidInput)
			}
			shares = append(shares, split.Share{UserID: user, Count: n})
		case core.PolicyPercent:
			pct, err := core.ParsePercent(value)
			if err != nil {
				return nil, fmt.Errorf("part %q: %w", part, err)
			}
			percents = append(percents, split.Portion{UserID: user, Percent: pct})
		}
	}

	switch policy {
	case core.PolicyEqual:
		return split.NewEqual(equal...), nil
	case core.PolicyUnequal:
		return split.Unequal{Splits: exact}, nil
	case core.PolicyShares:
		return split.Shares{Shares: shares}, nil
	default:
		return split.Percent{Percents: percents}, nil
	}
}

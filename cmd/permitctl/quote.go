package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/spec-kit/permit-service/internal/domain"
	"github.com/spec-kit/permit-service/internal/fee"
)

func quoteCmd() *cobra.Command {
	var (
		permitType string
		duration   int
		policyFile string
		noFee      bool
	)
	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Compute the fee for a permit type and duration",
		RunE: func(cmd *cobra.Command, args []string) error {
			table := fee.DefaultTable()
			if policyFile != "" {
				loaded, err := fee.LoadTable(policyFile)
				if err != nil {
					return err
				}
				table = loaded
			}
			pt := domain.PermitType(strings.ToUpper(permitType))
			amount, err := fee.NewCalculator(table).ComputeFeeForCompany(pt, duration, noFee)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %d days: %s\n", pt, duration, amount.StringFixed(2))
			return nil
		},
	}

	cmd.Flags().StringVarP(&permitType, "type", "t", "", "permit type (TROS, TROW, STOS, STOW)")
	cmd.Flags().IntVarP(&duration, "duration", "d", 0, "duration in days")
	cmd.Flags().StringVar(&policyFile, "policy-file", "", "YAML fee policy override")
	cmd.Flags().BoolVar(&noFee, "no-fee", false, "quote for a no-fee company")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("duration")
	return cmd
}

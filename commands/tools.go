package commands

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/slashbinslashnoname/hire-checkout/card"
	"github.com/slashbinslashnoname/hire-checkout/db"
	"github.com/slashbinslashnoname/hire-checkout/fees"
	"github.com/slashbinslashnoname/hire-checkout/models"
)

func feesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fees [rate]",
		Short: "Print the fee breakdown for a proposed rate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rate, err := decimal.NewFromString(args[0])
			if err != nil || !rate.IsPositive() {
				return errors.Errorf("invalid rate %q", args[0])
			}
			b := fees.Calculate(rate)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Project cost:    %s\n", b.ProjectCost.StringFixed(2))
			fmt.Fprintf(out, "Platform fee:    %s\n", b.PlatformFee.StringFixed(2))
			fmt.Fprintf(out, "Processing fee:  %s\n", b.ProcessingFee.StringFixed(2))
			fmt.Fprintf(out, "Total:           %s (%d cents)\n", b.Total.StringFixed(2), b.TotalCents())
			return nil
		},
	}
}

func cardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "card [number]",
		Short: "Print the brand and display form of a card number",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			brand := card.Classify(args[0])

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Brand:    %s (%s)\n", brand.Label(), brand)
			fmt.Fprintf(out, "Display:  %s\n", card.Format(args[0]))
			fmt.Fprintf(out, "Method:   %s\n", brand.PaymentMethodID())
			return nil
		},
	}
}

func ledgerCmd(configPath *string) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "List funded checkouts that never got a contract",
		Long: `List checkout attempts whose escrow was funded but whose contract
creation failed. Each needs an operator to finish or refund it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			ledger, err := db.NewDatabase(cfg.DBPath)
			if err != nil {
				return err
			}
			defer ledger.Close()

			attempts, err := ledger.ListPartialFailures(limit)
			if err != nil {
				return err
			}
			if asJSON {
				if attempts == nil {
					attempts = []models.Attempt{}
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(attempts)
			}
			return printAttempts(cmd, attempts)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum attempts to list")
	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "output as JSON")
	return cmd
}

func printAttempts(cmd *cobra.Command, attempts []models.Attempt) error {
	out := cmd.OutOrStdout()
	if len(attempts) == 0 {
		fmt.Fprintln(out, "No partial failures.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tPROPOSAL\tJOB\tAMOUNT\tPAYMENT\tUPDATED\tERROR")
	for _, a := range attempts {
		fmt.Fprintf(w, "%s\t%d\t%d\t%s %s\t%s\t%s\t%s\n",
			a.IdempotencyKey, a.ProposalID, a.JobID,
			decimal.New(a.AmountCents, -2).StringFixed(2), a.Currency,
			a.EscrowPaymentID, a.UpdatedAt.Format("2006-01-02 15:04"), a.Error)
	}
	return w.Flush()
}

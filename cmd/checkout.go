package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/frahmantamala/fitcoach-payments/internal/clock"
	"github.com/frahmantamala/fitcoach-payments/internal/payment"
	"github.com/frahmantamala/fitcoach-payments/internal/poller"
	"github.com/frahmantamala/fitcoach-payments/pkg/logger"
)

var checkoutCmd = &cobra.Command{
	Use:   "checkout",
	Short: "Initiate a payment and wait for the result",
	Long:  `Call the payment API like the web checkout does: initiate an STK push, then poll status until it settles`,
	RunE:  runCheckout,
}

var (
	checkoutPhone       string
	checkoutAmount      int64
	checkoutReference   string
	checkoutDescription string
	checkoutStatusOnly  string
)

func runCheckout(cmd *cobra.Command, _ []string) error {
	config, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	lg := logger.LoggerWrapper()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := poller.NewAPIClient(config.Poller.ServerURL, 0)

	correlationID := checkoutStatusOnly
	if correlationID == "" {
		resp, err := client.Initiate(ctx, payment.InitiateRequest{
			MerchantReference: checkoutReference,
			Amount:            checkoutAmount,
			PayerIdentifier:   checkoutPhone,
			Description:       checkoutDescription,
		})
		if err != nil {
			return fmt.Errorf("initiate payment: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\n", resp.CustomerMessage)
		correlationID = resp.CorrelationID
	}

	p := poller.New(client, clock.Real(), poller.Config{
		Interval:    config.Poller.Interval,
		MaxAttempts: config.Poller.MaxAttempts,
	}, lg)

	view, err := p.PollUntilTerminal(ctx, correlationID)
	if err != nil {
		return fmt.Errorf("payment %s: %w", correlationID, err)
	}
	return printJSON(cmd, view)
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	checkoutCmd.Flags().StringVar(&checkoutPhone, "phone", "", "payer phone number (07XXXXXXXX or 2547XXXXXXXX)")
	checkoutCmd.Flags().Int64Var(&checkoutAmount, "amount", 0, "amount in whole shillings")
	checkoutCmd.Flags().StringVar(&checkoutReference, "reference", "", "merchant reference, at most 12 characters")
	checkoutCmd.Flags().StringVar(&checkoutDescription, "description", payment.DefaultDescription, "transaction description, at most 13 characters")
	checkoutCmd.Flags().StringVar(&checkoutStatusOnly, "correlation-id", "", "skip initiation and poll an existing payment")

	rootCmd.AddCommand(checkoutCmd)
}

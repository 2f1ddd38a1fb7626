package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/frahmantamala/fitcoach-payments/internal/core/events"
	"github.com/frahmantamala/fitcoach-payments/internal/observability/metrics"
	"github.com/frahmantamala/fitcoach-payments/internal/payment"
	"github.com/frahmantamala/fitcoach-payments/pkg/logger"
)

var eventCmd = &cobra.Command{
	Use:   "event",
	Short: "Event management commands",
	Long:  `Publish sample payment events through the audit and metrics handlers`,
}

var publishEventCmd = &cobra.Command{
	Use:   "publish [event-type]",
	Short: "Publish a sample payment event",
	Long:  `Publish a sample payment event (payment.initiated, payment.succeeded, payment.failed, ...) for debugging handlers`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return publishTestEvent(cmd, args[0])
	},
}

var (
	eventAmount    int64
	eventReference string
)

func sampleEvent(eventType string, now time.Time) (events.Event, error) {
	correlationID := "ws_CO_" + uuid.NewString()
	switch eventType {
	case events.EventTypePaymentInitiated:
		return events.NewPaymentInitiatedEvent(correlationID, uuid.NewString(), eventReference, eventAmount, now), nil
	case events.EventTypePaymentInitiationFailed:
		return events.NewPaymentInitiationFailedEvent(eventReference, "PROVIDER_UNREACHABLE", "sample failure", now), nil
	case events.EventTypePaymentSucceeded:
		return events.NewPaymentSucceededEvent(correlationID, eventReference, eventAmount, "SAMPLE0001", now), nil
	case events.EventTypePaymentFailed:
		return events.NewPaymentFailedEvent(correlationID, eventReference, 1032, "Request cancelled by user", now), nil
	case events.EventTypeSettlementMismatch:
		return events.NewSettlementMismatchEvent(correlationID, eventAmount, eventAmount-1, now), nil
	case events.EventTypeCallbackReplayed:
		return events.NewCallbackReplayedEvent(correlationID, string(payment.StateSucceeded), now), nil
	}
	return nil, fmt.Errorf("unknown event type %q", eventType)
}

func publishTestEvent(cmd *cobra.Command, eventType string) error {
	lg := logger.LoggerWrapper()

	eventBus := events.NewEventBus(lg)
	payment.NewEventHandler(lg).RegisterEventHandlers(eventBus)
	paymentMetrics := metrics.NewPaymentMetrics("cli")
	paymentMetrics.RegisterEventHandlers(eventBus)

	event, err := sampleEvent(eventType, time.Now().UTC())
	if err != nil {
		return err
	}

	lg.Info("publishing sample event", "event_type", eventType, "event_id", event.EventID())

	if err := eventBus.PublishSync(context.Background(), event); err != nil {
		return fmt.Errorf("publish %s: %w", eventType, err)
	}

	families, err := paymentMetrics.Registry().Gather()
	if err != nil {
		return err
	}
	for _, family := range families {
		if strings.HasPrefix(family.GetName(), "fitcoach_") {
			for _, m := range family.GetMetric() {
				if m.GetCounter().GetValue() > 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "%s %v\n", family.GetName(), m.GetCounter().GetValue())
				}
			}
		}
	}
	return nil
}

func init() {
	publishEventCmd.Flags().Int64Var(&eventAmount, "amount", 1000, "amount carried by the sample event")
	publishEventCmd.Flags().StringVar(&eventReference, "reference", "FC-SAMPLE", "merchant reference carried by the sample event")

	eventCmd.AddCommand(publishEventCmd)

	rootCmd.AddCommand(eventCmd)
}

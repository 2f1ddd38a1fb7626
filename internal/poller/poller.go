package poller

import (
	"context"
	stderrors "errors"
	"log/slog"
	"time"

	errors "github.com/frahmantamala/fitcoach-payments/internal"
	"github.com/frahmantamala/fitcoach-payments/internal/clock"
	"github.com/frahmantamala/fitcoach-payments/internal/payment"
)

const (
	DefaultInterval    = 3 * time.Second
	DefaultMaxAttempts = 20
)

// StatusQuerier reads a payment's current status.
type StatusQuerier interface {
	GetStatus(ctx context.Context, correlationID string) (*payment.View, error)
}

type Config struct {
	Interval    time.Duration
	MaxAttempts int
}

// Poller queries status until the payment is terminal or the attempt budget runs out.
type Poller struct {
	querier     StatusQuerier
	clock       clock.Clock
	interval    time.Duration
	maxAttempts int
	logger      *slog.Logger
}

func New(querier StatusQuerier, clk clock.Clock, cfg Config, logger *slog.Logger) *Poller {
	if clk == nil {
		clk = clock.Real()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		querier:     querier,
		clock:       clk,
		interval:    cfg.Interval,
		maxAttempts: cfg.MaxAttempts,
		logger:      logger,
	}
}

// PollUntilTerminal returns the first terminal view it sees. It makes at most MaxAttempts
// queries, sleeping Interval between them, and gives up with a Timeout error after
// Interval*MaxAttempts. A NotFound answer ends polling immediately.
func (p *Poller) PollUntilTerminal(ctx context.Context, correlationID string) (*payment.View, error) {
	deadline := p.interval * time.Duration(p.maxAttempts)
	pollCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	var lastErr error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		view, err := p.querier.GetStatus(pollCtx, correlationID)
		switch {
		case err == nil && view.IsTerminal():
			p.logger.Info("payment reached terminal state",
				"correlation_id", correlationID,
				"state", view.State,
				"attempt", attempt)
			return view, nil
		case err == nil:
			p.logger.Debug("payment still pending",
				"correlation_id", correlationID,
				"attempt", attempt)
		case stderrors.Is(err, errors.ErrNotFound):
			return nil, err
		default:
			lastErr = err
			p.logger.Warn("status query failed",
				"correlation_id", correlationID,
				"attempt", attempt,
				"error", err)
		}

		if attempt == p.maxAttempts {
			break
		}
		if err := p.clock.Sleep(pollCtx, p.interval); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			break
		}
	}

	p.logger.Warn("payment still processing after polling",
		"correlation_id", correlationID,
		"attempts", p.maxAttempts)

	timeout := errors.NewTimeoutError("Payment is still processing, check back later")
	if lastErr != nil {
		timeout = timeout.WithCause(lastErr)
	}
	return nil, timeout
}

package poller_test

import (
	"context"
	stderrors "errors"
	"io"
	"log/slog"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	errors "github.com/frahmantamala/fitcoach-payments/internal"
	"github.com/frahmantamala/fitcoach-payments/internal/clock"
	"github.com/frahmantamala/fitcoach-payments/internal/payment"
	"github.com/frahmantamala/fitcoach-payments/internal/poller"
)

// StubQuerier answers from a script; the last answer repeats once the script runs out.
type StubQuerier struct {
	mu      sync.Mutex
	answers []answer
	calls   int
}

type answer struct {
	state payment.State
	err   error
}

func (s *StubQuerier) GetStatus(ctx context.Context, correlationID string) (*payment.View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.answers[len(s.answers)-1]
	if s.calls < len(s.answers) {
		a = s.answers[s.calls]
	}
	s.calls++
	if a.err != nil {
		return nil, a.err
	}
	return &payment.View{CorrelationID: correlationID, State: a.state}, nil
}

func (s *StubQuerier) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

var _ = Describe("Poller", func() {
	var (
		clk     *clock.FakeClock
		querier *StubQuerier
		p       *poller.Poller
		logger  *slog.Logger
	)

	pending := answer{state: payment.StatePending}

	BeforeEach(func() {
		clk = clock.NewFakeClock(time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC))
		querier = &StubQuerier{}
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
		p = poller.New(querier, clk, poller.Config{}, logger)
	})

	It("should return as soon as the payment is terminal", func() {
		// Given
		querier.answers = []answer{pending, pending, {state: payment.StateSucceeded}}

		// When
		view, err := p.PollUntilTerminal(context.Background(), "ws_CO_1")

		// Then
		Expect(err).ToNot(HaveOccurred())
		Expect(view.State).To(Equal(payment.StateSucceeded))
		Expect(querier.Calls()).To(Equal(3))
		Expect(clk.Sleeps()).To(Equal([]time.Duration{3 * time.Second, 3 * time.Second}))
	})

	It("should return a failed payment as terminal", func() {
		querier.answers = []answer{{state: payment.StateFailed}}

		view, err := p.PollUntilTerminal(context.Background(), "ws_CO_1")

		Expect(err).ToNot(HaveOccurred())
		Expect(view.State).To(Equal(payment.StateFailed))
		Expect(clk.Sleeps()).To(BeEmpty())
	})

	It("should give up with a timeout after twenty attempts", func() {
		querier.answers = []answer{pending}

		view, err := p.PollUntilTerminal(context.Background(), "ws_CO_1")

		Expect(view).To(BeNil())
		Expect(stderrors.Is(err, errors.ErrTimeout)).To(BeTrue())
		Expect(querier.Calls()).To(Equal(20))
		Expect(clk.Sleeps()).To(HaveLen(19))
	})

	It("should honour a custom interval and attempt budget", func() {
		querier.answers = []answer{pending}
		p = poller.New(querier, clk, poller.Config{Interval: time.Second, MaxAttempts: 4}, logger)

		_, err := p.PollUntilTerminal(context.Background(), "ws_CO_1")

		Expect(stderrors.Is(err, errors.ErrTimeout)).To(BeTrue())
		Expect(querier.Calls()).To(Equal(4))
		Expect(clk.Sleeps()).To(Equal([]time.Duration{time.Second, time.Second, time.Second}))
	})

	It("should stop immediately when the payment does not exist", func() {
		querier.answers = []answer{{err: errors.ErrPaymentNotFound}}

		_, err := p.PollUntilTerminal(context.Background(), "ws_CO_1")

		Expect(stderrors.Is(err, errors.ErrNotFound)).To(BeTrue())
		Expect(querier.Calls()).To(Equal(1))
	})

	It("should keep polling through transient errors", func() {
		transient := stderrors.New("connection reset by peer")
		querier.answers = []answer{{err: transient}, pending, {state: payment.StateSucceeded}}

		view, err := p.PollUntilTerminal(context.Background(), "ws_CO_1")

		Expect(err).ToNot(HaveOccurred())
		Expect(view.State).To(Equal(payment.StateSucceeded))
	})

	It("should attach the last query error to the timeout", func() {
		transient := stderrors.New("connection reset by peer")
		querier.answers = []answer{{err: transient}}

		_, err := p.PollUntilTerminal(context.Background(), "ws_CO_1")

		Expect(stderrors.Is(err, errors.ErrTimeout)).To(BeTrue())
		Expect(stderrors.Is(err, transient)).To(BeTrue())
	})

	It("should return the caller's cancellation", func() {
		querier.answers = []answer{pending}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := p.PollUntilTerminal(ctx, "ws_CO_1")

		Expect(err).To(MatchError(context.Canceled))
		Expect(querier.Calls()).To(Equal(1))
	})
})

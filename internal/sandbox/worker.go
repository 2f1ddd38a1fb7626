package sandbox

import (
	"context"
	"log/slog"
	"sync"
)

// CallbackJob is one accepted STK push waiting for its simulated customer response.
type CallbackJob struct {
	MerchantRequestID string
	CheckoutRequestID string
	Amount            int64
	PhoneNumber       string
	CallbackURL       string
}

type Worker struct {
	ID         int
	WorkerPool chan chan CallbackJob
	JobChannel chan CallbackJob
	Logger     *slog.Logger
}

func NewWorker(id int, workerPool chan chan CallbackJob, logger *slog.Logger) *Worker {
	return &Worker{
		ID:         id,
		WorkerPool: workerPool,
		JobChannel: make(chan CallbackJob),
		Logger:     logger,
	}
}

func (w *Worker) Start(ctx context.Context, wg *sync.WaitGroup, processFunc func(CallbackJob)) {
	wg.Add(1)
	go func() {
		defer wg.Done()

		for {
			select {
			case w.WorkerPool <- w.JobChannel:
			case <-ctx.Done():
				w.Logger.Debug("sandbox worker shutting down", "worker_id", w.ID)
				return
			}

			select {
			case job := <-w.JobChannel:
				w.Logger.Debug("sandbox worker processing job", "worker_id", w.ID, "checkout_request_id", job.CheckoutRequestID)
				processFunc(job)
			case <-ctx.Done():
				w.Logger.Debug("sandbox worker shutting down", "worker_id", w.ID)
				return
			}
		}
	}()
}

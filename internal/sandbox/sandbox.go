package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi"
	"github.com/google/uuid"

	"github.com/frahmantamala/fitcoach-payments/internal/clock"
	daraja "github.com/frahmantamala/fitcoach-payments/internal/core/datamodel/mpesa"
	"github.com/frahmantamala/fitcoach-payments/internal/mpesa"
	"github.com/frahmantamala/fitcoach-payments/internal/payment"
)

const (
	ResultCodeCancelled = 1032
	ResultDescCancelled = "Request cancelled by user"
	ResultDescSuccess   = "The service request is processed successfully."

	tokenTTL = time.Hour
)

var ErrQueueFull = errors.New("sandbox callback queue full")

type Config struct {
	ConsumerKey       string
	ConsumerSecret    string
	BusinessShortCode string
	Passkey           string

	SuccessRate    float64
	MinDelay       time.Duration
	MaxDelay       time.Duration
	MaxWorkers     int
	JobQueueSize   int
	WorkerPoolSize int

	// Clock drives token expiry and callback timestamps; nil means wall time.
	Clock clock.Clock
}

// Server imitates the Daraja endpoints this service calls: it issues tokens, acknowledges
// STK pushes and later posts a success or cancellation callback from a worker pool.
type Server struct {
	cfg    Config
	logger *slog.Logger
	client *http.Client
	now    func() time.Time

	tokensMu sync.Mutex
	tokens   map[string]time.Time

	jobQueue   chan CallbackJob
	workerPool chan chan CallbackJob
	maxWorkers int
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	once       sync.Once
}

func NewServer(cfg Config, logger *slog.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	maxWorkers := cfg.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = 10
	}
	jobQueueSize := cfg.JobQueueSize
	if jobQueueSize <= 0 {
		jobQueueSize = 100
	}
	workerPoolSize := cfg.WorkerPoolSize
	if workerPoolSize <= 0 {
		workerPoolSize = maxWorkers
	}
	if cfg.MaxDelay < cfg.MinDelay {
		cfg.MaxDelay = cfg.MinDelay
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}

	s := &Server{
		cfg:        cfg,
		logger:     logger.With("component", "mpesa_sandbox"),
		client:     &http.Client{Timeout: 10 * time.Second},
		now:        clk.Now,
		tokens:     make(map[string]time.Time),
		jobQueue:   make(chan CallbackJob, jobQueueSize),
		workerPool: make(chan chan CallbackJob, workerPoolSize),
		maxWorkers: maxWorkers,
		ctx:        ctx,
		cancel:     cancel,
	}
	s.startWorkerPool()
	return s
}

func (s *Server) startWorkerPool() {
	s.once.Do(func() {
		for i := 0; i < s.maxWorkers; i++ {
			worker := NewWorker(i, s.workerPool, s.logger)
			worker.Start(s.ctx, &s.wg, s.processJob)
		}

		s.wg.Add(1)
		go s.dispatch()

		s.logger.Info("sandbox worker pool started",
			"max_workers", s.maxWorkers,
			"queue_size", cap(s.jobQueue))
	})
}

func (s *Server) dispatch() {
	defer s.wg.Done()

	for {
		select {
		case job := <-s.jobQueue:
			select {
			case jobChannel := <-s.workerPool:
				select {
				case jobChannel <- job:
				case <-s.ctx.Done():
					return
				}
			case <-s.ctx.Done():
				return
			}
		case <-s.ctx.Done():
			s.logger.Info("sandbox dispatcher shutting down")
			return
		}
	}
}

// Shutdown stops the workers; queued callbacks that have not started are dropped.
func (s *Server) Shutdown() {
	s.logger.Info("shutting down sandbox")
	s.cancel()
	s.wg.Wait()
	s.logger.Info("sandbox shutdown complete")
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/oauth/v1/generate", s.handleToken)
	r.Post("/mpesa/stkpush/v1/processrequest", s.handleSTKPush)
	return r
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	key, secret, ok := r.BasicAuth()
	if !ok || key != s.cfg.ConsumerKey || secret != s.cfg.ConsumerSecret {
		writeJSON(w, http.StatusBadRequest, daraja.ErrorResponse{
			RequestID:    uuid.NewString(),
			ErrorCode:    "400.008.01",
			ErrorMessage: "Invalid Authentication passed",
		})
		return
	}

	token := strings.ReplaceAll(uuid.NewString(), "-", "")
	s.tokensMu.Lock()
	now := s.now()
	s.pruneTokensLocked(now)
	s.tokens[token] = now.Add(tokenTTL)
	s.tokensMu.Unlock()

	writeJSON(w, http.StatusOK, daraja.TokenResponse{
		AccessToken: token,
		ExpiresIn:   fmt.Sprintf("%d", int(tokenTTL.Seconds())),
	})
}

func (s *Server) validToken(r *http.Request) bool {
	header := r.Header.Get("Authorization")
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found || token == "" {
		return false
	}
	s.tokensMu.Lock()
	defer s.tokensMu.Unlock()
	now := s.now()
	s.pruneTokensLocked(now)
	expiry, ok := s.tokens[token]
	return ok && now.Before(expiry)
}

// pruneTokensLocked drops expired tokens. Callers hold tokensMu.
func (s *Server) pruneTokensLocked(now time.Time) {
	for token, expiry := range s.tokens {
		if !now.Before(expiry) {
			delete(s.tokens, token)
		}
	}
}

// ActiveTokens reports how many issued tokens have not expired yet.
func (s *Server) ActiveTokens() int {
	s.tokensMu.Lock()
	defer s.tokensMu.Unlock()
	s.pruneTokensLocked(s.now())
	return len(s.tokens)
}

func (s *Server) handleSTKPush(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()

	if !s.validToken(r) {
		writeJSON(w, http.StatusUnauthorized, daraja.ErrorResponse{
			RequestID:    requestID,
			ErrorCode:    "404.001.03",
			ErrorMessage: "Invalid Access Token",
		})
		return
	}

	var req daraja.STKPushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, daraja.ErrorResponse{
			RequestID:    requestID,
			ErrorCode:    "400.002.02",
			ErrorMessage: "Bad Request - Invalid Body",
		})
		return
	}

	if msg := s.validatePush(&req); msg != "" {
		writeJSON(w, http.StatusBadRequest, daraja.ErrorResponse{
			RequestID:    requestID,
			ErrorCode:    "400.002.02",
			ErrorMessage: msg,
		})
		return
	}

	job := CallbackJob{
		MerchantRequestID: fmt.Sprintf("%d-%d-1", rand.IntN(90000)+10000, rand.IntN(9000000)+1000000),
		CheckoutRequestID: "ws_CO_" + s.now().Format("02012006150405") + strings.ToUpper(uuid.NewString()[:8]),
		Amount:            req.Amount,
		PhoneNumber:       req.PhoneNumber,
		CallbackURL:       req.CallBackURL,
	}

	if err := s.enqueue(job); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, daraja.ErrorResponse{
			RequestID:    requestID,
			ErrorCode:    "503.001.01",
			ErrorMessage: "Service is currently under maintenance. Please try again later",
		})
		return
	}

	writeJSON(w, http.StatusOK, daraja.STKPushResponse{
		MerchantRequestID:   job.MerchantRequestID,
		CheckoutRequestID:   job.CheckoutRequestID,
		ResponseCode:        daraja.ResponseCodeAccepted,
		ResponseDescription: "Success. Request accepted for processing",
		CustomerMessage:     "Success. Request accepted for processing",
	})
}

func (s *Server) validatePush(req *daraja.STKPushRequest) string {
	switch {
	case req.BusinessShortCode != s.cfg.BusinessShortCode:
		return "Invalid BusinessShortCode"
	case req.Password != mpesa.Password(req.BusinessShortCode, s.cfg.Passkey, req.Timestamp):
		return "Invalid Password"
	case req.Amount <= 0:
		return "Invalid Amount"
	case !payment.IsValidPhoneNumber(req.PhoneNumber) || payment.NormalizePhoneNumber(req.PhoneNumber) != req.PhoneNumber:
		return "Invalid PhoneNumber"
	case req.CallBackURL == "":
		return "Invalid CallBackURL"
	}
	return ""
}

func (s *Server) enqueue(job CallbackJob) error {
	select {
	case s.jobQueue <- job:
		s.logger.Info("sandbox STK push queued",
			"checkout_request_id", job.CheckoutRequestID,
			"queue_length", len(s.jobQueue))
		return nil
	default:
		s.logger.Warn("sandbox queue full, rejecting STK push",
			"checkout_request_id", job.CheckoutRequestID,
			"queue_capacity", cap(s.jobQueue))
		return ErrQueueFull
	}
}

func (s *Server) delay() time.Duration {
	spread := s.cfg.MaxDelay - s.cfg.MinDelay
	if spread <= 0 {
		return s.cfg.MinDelay
	}
	return s.cfg.MinDelay + time.Duration(rand.Int64N(int64(spread)))
}

func (s *Server) processJob(job CallbackJob) {
	select {
	case <-time.After(s.delay()):
	case <-s.ctx.Done():
		s.logger.Info("sandbox job cancelled", "checkout_request_id", job.CheckoutRequestID)
		return
	}

	envelope := s.buildCallback(job, rand.Float64() < s.cfg.SuccessRate)
	s.sendCallback(job, envelope)
}

func (s *Server) buildCallback(job CallbackJob, succeeded bool) daraja.CallbackEnvelope {
	stk := &daraja.STKCallback{
		MerchantRequestID: job.MerchantRequestID,
		CheckoutRequestID: job.CheckoutRequestID,
	}

	if !succeeded {
		code := ResultCodeCancelled
		stk.ResultCode = &code
		stk.ResultDesc = ResultDescCancelled
		return daraja.CallbackEnvelope{Body: daraja.CallbackBody{STKCallback: stk}}
	}

	code := payment.ResultCodeSuccess
	stk.ResultCode = &code
	stk.ResultDesc = ResultDescSuccess

	phone, _ := json.Number(job.PhoneNumber).Int64()
	stk.CallbackMetadata = &daraja.CallbackMetadata{
		Item: []daraja.MetadataItem{
			daraja.NewItem(daraja.ItemAmount, job.Amount),
			daraja.NewItem(daraja.ItemMpesaReceiptNumber, receiptNumber()),
			daraja.NewItem(daraja.ItemTransactionDate, json.Number(mpesa.Timestamp(s.now()))),
			daraja.NewItem(daraja.ItemPhoneNumber, phone),
		},
	}
	return daraja.CallbackEnvelope{Body: daraja.CallbackBody{STKCallback: stk}}
}

func receiptNumber() string {
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, 10)
	for i := range b {
		b[i] = alphabet[rand.IntN(len(alphabet))]
	}
	return string(b)
}

func (s *Server) sendCallback(job CallbackJob, envelope daraja.CallbackEnvelope) {
	payload, err := json.Marshal(envelope)
	if err != nil {
		s.logger.Error("sandbox failed to marshal callback", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, job.CallbackURL, bytes.NewReader(payload))
	if err != nil {
		s.logger.Error("sandbox failed to build callback request",
			"error", err,
			"checkout_request_id", job.CheckoutRequestID)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Error("sandbox callback delivery failed",
			"error", err,
			"checkout_request_id", job.CheckoutRequestID)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		s.logger.Info("sandbox callback delivered",
			"checkout_request_id", job.CheckoutRequestID,
			"result_code", *envelope.Body.STKCallback.ResultCode)
	} else {
		s.logger.Warn("sandbox callback not acknowledged",
			"checkout_request_id", job.CheckoutRequestID,
			"status_code", resp.StatusCode)
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/frahmantamala/fitcoach-payments/internal/sandbox"
	"github.com/frahmantamala/fitcoach-payments/pkg/logger"
)

var sandboxCmd = &cobra.Command{
	Use:   "sandbox",
	Short: "Run a local M-Pesa sandbox",
	Long:  `Serve the Daraja OAuth and STK push endpoints locally and post simulated callbacks`,
	Run: func(cmd *cobra.Command, args []string) {
		startSandbox()
	},
}

var (
	sandboxSuccessRate float64
	sandboxMaxWorkers  int
)

func startSandbox() {
	config, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	lg := logger.LoggerWrapper()

	sbCfg := config.Sandbox
	if sandboxSuccessRate >= 0 {
		sbCfg.SuccessRate = sandboxSuccessRate
	}
	if sandboxMaxWorkers > 0 {
		sbCfg.MaxWorkers = sandboxMaxWorkers
	}

	sb := sandbox.NewServer(sandbox.Config{
		ConsumerKey:       config.Mpesa.ConsumerKey,
		ConsumerSecret:    config.Mpesa.ConsumerSecret,
		BusinessShortCode: config.Mpesa.BusinessShortCode,
		Passkey:           config.Mpesa.Passkey,
		SuccessRate:       sbCfg.SuccessRate,
		MinDelay:          sbCfg.MinDelay,
		MaxDelay:          sbCfg.MaxDelay,
		MaxWorkers:        sbCfg.MaxWorkers,
		JobQueueSize:      sbCfg.JobQueueSize,
		WorkerPoolSize:    sbCfg.WorkerPoolSize,
	}, lg)

	addr := fmt.Sprintf(":%d", sbCfg.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           sb.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	lg.Info("M-Pesa sandbox listening",
		"address", addr,
		"success_rate", sbCfg.SuccessRate,
		"short_code", config.Mpesa.BusinessShortCode)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- server.ListenAndServe()
	}()

	select {
	case sig := <-sigChan:
		lg.Info("Received signal, shutting down sandbox...", "signal", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			lg.Error("Sandbox shutdown error", "error", err)
		}
	case err := <-serverErrChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Error("Sandbox failed to start", "error", err)
		}
	}

	sb.Shutdown()
}

func init() {
	sandboxCmd.Flags().Float64Var(&sandboxSuccessRate, "success-rate", -1, "probability a simulated payment succeeds (overrides config)")
	sandboxCmd.Flags().IntVar(&sandboxMaxWorkers, "workers", 0, "number of callback workers (overrides config)")

	rootCmd.AddCommand(sandboxCmd)
}

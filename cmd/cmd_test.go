package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/cobra"

	"github.com/frahmantamala/fitcoach-payments/internal"
	"github.com/frahmantamala/fitcoach-payments/internal/core/events"
	"github.com/frahmantamala/fitcoach-payments/internal/payment"
	"github.com/frahmantamala/fitcoach-payments/pkg/logger"
)

const testConfig = `
env: test
store:
  driver: memory
mpesa:
  base_url: http://localhost:4000/
  consumer_key: key
  consumer_secret: secret
  passkey: passkey
  callback_url: http://localhost:3000/payment/callback
poller:
  interval: 500ms
observability:
  logging:
    level: error
`

func writeConfig(body string) string {
	dir := GinkgoT().TempDir()
	Expect(os.WriteFile(filepath.Join(dir, "config.yml"), []byte(body), 0o600)).To(Succeed())
	return dir
}

var _ = Describe("loadConfig", func() {
	BeforeEach(func() {
		GinkgoT().Setenv("APP_ENV", "")
		GinkgoT().Setenv("DOCKER_ENV", "")
	})

	It("should read config.yml and fill in defaults", func() {
		cfg, err := loadConfig(writeConfig(testConfig))

		Expect(err).ToNot(HaveOccurred())
		Expect(cfg.Env).To(Equal("test"))
		Expect(cfg.Store.Driver).To(Equal(internal.StoreDriverMemory))
		Expect(cfg.Mpesa.BusinessShortCode).To(Equal("174379"))
		Expect(cfg.Mpesa.ResolveBaseURL()).To(Equal("http://localhost:4000"))
		Expect(cfg.Poller.Interval).To(Equal(500 * time.Millisecond))
		Expect(cfg.Poller.MaxAttempts).To(Equal(20))
		Expect(cfg.Server.Port).To(Equal(3000))
	})

	It("should let ENV_ variables override the file", func() {
		GinkgoT().Setenv("ENV_MPESA_PASSKEY", "from-env")

		cfg, err := loadConfig(writeConfig(testConfig))

		Expect(err).ToNot(HaveOccurred())
		Expect(cfg.Mpesa.Passkey).To(Equal("from-env"))
	})

	It("should reject missing Daraja credentials", func() {
		_, err := loadConfig(writeConfig("store:\n  driver: memory\n"))

		Expect(err).To(MatchError(ContainSubstring("consumer_key")))
	})

	It("should reject an unknown store driver", func() {
		_, err := loadConfig(writeConfig(strings.Replace(testConfig, "driver: memory", "driver: cassandra", 1)))

		Expect(err).To(MatchError(ContainSubstring(`unknown store driver "cassandra"`)))
	})

	It("should fail when there is no config file", func() {
		_, err := loadConfig(GinkgoT().TempDir())

		Expect(err).To(MatchError(ContainSubstring("error reading config")))
	})
})

var _ = Describe("migrationTarget", func() {
	It("should use pgx for postgres", func() {
		cfg := &internal.Config{
			Store:    internal.StoreConfig{Driver: internal.StoreDriverPostgres},
			Database: internal.DatabaseConfig{Source: "postgres://localhost/payments"},
		}

		driver, dsn, err := migrationTarget(cfg)

		Expect(err).ToNot(HaveOccurred())
		Expect(driver).To(Equal("pgx"))
		Expect(dsn).To(Equal("postgres://localhost/payments"))
	})

	It("should use sqlite3 for sqlite", func() {
		driver, dsn, err := migrationTarget(&internal.Config{
			Store: internal.StoreConfig{Driver: internal.StoreDriverSQLite, SQLitePath: "payments.db"},
		})

		Expect(err).ToNot(HaveOccurred())
		Expect(driver).To(Equal("sqlite3"))
		Expect(dsn).To(Equal("payments.db"))
	})

	It("should refuse stores without a SQL schema", func() {
		_, _, err := migrationTarget(&internal.Config{Store: internal.StoreConfig{Driver: internal.StoreDriverRedis}})

		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("openStore", func() {
	ctx := context.Background()

	It("should open a working sqlite store", func() {
		cfg := &internal.Config{Store: internal.StoreConfig{
			Driver:     internal.StoreDriverSQLite,
			SQLitePath: filepath.Join(GinkgoT().TempDir(), "payments.db"),
		}}

		store, closeStore, err := openStore(cfg, logger.LoggerWrapper())
		Expect(err).ToNot(HaveOccurred())
		DeferCleanup(closeStore)

		Expect(store.Create(ctx, payment.NewPendingRecord("ws_CO_1", "m-1", payment.PaymentRequest{
			MerchantReference: "FC-1",
			Amount:            10,
			PayerIdentifier:   "254712345678",
		}, time.Now()))).To(Succeed())
		Expect(store.Ping(ctx)).To(Succeed())
	})

	It("should open a redis store", func() {
		mr := miniredis.RunT(GinkgoT())
		cfg := &internal.Config{
			Store: internal.StoreConfig{Driver: internal.StoreDriverRedis},
			Redis: internal.RedisConfig{Addr: mr.Addr(), KeyPrefix: "test:"},
		}

		store, closeStore, err := openStore(cfg, logger.LoggerWrapper())
		Expect(err).ToNot(HaveOccurred())
		DeferCleanup(closeStore)

		Expect(store.Ping(ctx)).To(Succeed())
	})

	It("should report an unreachable redis", func() {
		mr := miniredis.RunT(GinkgoT())
		addr := mr.Addr()
		mr.Close()

		_, _, err := openStore(&internal.Config{
			Store: internal.StoreConfig{Driver: internal.StoreDriverRedis},
			Redis: internal.RedisConfig{Addr: addr},
		}, logger.LoggerWrapper())

		Expect(err).To(MatchError(ContainSubstring("failed to ping redis")))
	})
})

var _ = Describe("event publish", func() {
	It("should build a sample for every payment event type", func() {
		now := time.Now().UTC()
		for _, eventType := range []string{
			events.EventTypePaymentInitiated,
			events.EventTypePaymentInitiationFailed,
			events.EventTypePaymentSucceeded,
			events.EventTypePaymentFailed,
			events.EventTypeSettlementMismatch,
			events.EventTypeCallbackReplayed,
		} {
			event, err := sampleEvent(eventType, now)
			Expect(err).ToNot(HaveOccurred())
			Expect(event.EventType()).To(Equal(eventType))
		}

		_, err := sampleEvent("payment.refunded", now)
		Expect(err).To(MatchError(ContainSubstring("unknown event type")))
	})

	It("should print the counters the event moved", func() {
		var out bytes.Buffer
		c := &cobra.Command{}
		c.SetOut(&out)

		Expect(publishTestEvent(c, events.EventTypePaymentFailed)).To(Succeed())

		Expect(out.String()).To(ContainSubstring("fitcoach_payment_resolutions_total 1"))
	})
})

var _ = Describe("checkout", func() {
	BeforeEach(func() {
		GinkgoT().Setenv("APP_ENV", "")
		GinkgoT().Setenv("DOCKER_ENV", "")
	})

	It("should poll an existing payment until it settles and print the view", func() {
		// Given an API that reports PENDING once and then SUCCEEDED
		var calls atomic.Int32
		router := chi.NewRouter()
		router.Get("/payment/status/{correlationId}", func(w http.ResponseWriter, r *http.Request) {
			n := calls.Add(1)
			view := payment.View{
				CorrelationID:     chi.URLParam(r, "correlationId"),
				State:             payment.StatePending,
				Amount:            1500,
				MerchantReference: "FC-CHECKOUT",
			}
			if n > 1 {
				view.State = payment.StateSucceeded
				view.ProviderReceiptID = "QKA1B2C3D4"
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(view)
		})
		server := httptest.NewServer(router)
		DeferCleanup(server.Close)

		body := strings.Replace(testConfig, "  interval: 500ms", "  interval: 10ms\n  server_url: "+server.URL, 1)
		previous := configPath
		configPath = writeConfig(body)
		DeferCleanup(func() { configPath = previous })

		checkoutStatusOnly = "ws_CO_CHECKOUT"
		DeferCleanup(func() { checkoutStatusOnly = "" })

		var out bytes.Buffer
		c := &cobra.Command{}
		c.SetOut(&out)
		c.SetContext(context.Background())

		// When the checkout command runs
		err := runCheckout(c, nil)

		// Then it prints the settled view
		Expect(err).ToNot(HaveOccurred())
		Expect(calls.Load()).To(Equal(int32(2)))

		var view payment.View
		Expect(json.Unmarshal(out.Bytes(), &view)).To(Succeed())
		Expect(view.CorrelationID).To(Equal("ws_CO_CHECKOUT"))
		Expect(view.State).To(Equal(payment.StateSucceeded))
		Expect(view.ProviderReceiptID).To(Equal("QKA1B2C3D4"))
	})

	It("should be registered on the root command", func() {
		found, _, err := rootCmd.Find([]string{"checkout"})

		Expect(err).ToNot(HaveOccurred())
		Expect(found).To(BeIdenticalTo(checkoutCmd))
	})
})

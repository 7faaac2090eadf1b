// Command confirm waits for a checkout to land, the way the billing return
// page does, by polling a running server's confirmation endpoint.
//
// Usage:
//
//	go run ./cmd/confirm -store abc-123 -plan pro -token tok_...
//	go run ./cmd/confirm -store signup_abc-123 -plan pro -token tok_...
//	go run ./cmd/confirm -order TS-1001
//
// Exit status: 0 confirmed, 3 timed out, 1 on usage or cancellation.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/tuckshop-za/tuckshop/internal/confirm"
	"github.com/tuckshop-za/tuckshop/internal/logging"
	"github.com/tuckshop-za/tuckshop/internal/payment"
	"github.com/tuckshop-za/tuckshop/internal/tenant"
)

const exitTimedOut = 3

func main() {
	_ = godotenv.Load()

	var (
		baseURL  = flag.String("base", envOr("PUBLIC_BASE_URL", "http://localhost:8080"), "server base URL")
		storeID  = flag.String("store", "", "store id (signup_ prefix for new-store checkouts)")
		plan     = flag.String("plan", "", "plan the checkout was for")
		token    = flag.String("token", "", "checkout idempotency token from the callback URL")
		order    = flag.String("order", "", "storefront order number")
		interval = flag.Duration("interval", confirm.DefaultInterval, "delay between probes")
		attempts = flag.Int("attempts", 0, "maximum probes (defaults per flow)")
		logLevel = flag.String("log-level", "warn", "log level")
	)
	flag.Parse()

	logger := logging.New(*logLevel, "text")

	var (
		probe       *confirm.HTTPProbe
		flow        string
		maxAttempts int
	)
	switch {
	case *order != "" && *storeID == "":
		probe = confirm.NewOrderHTTPProbe(*baseURL, *order)
		flow, maxAttempts = "order", confirm.OrderMaxAttempts
	case *storeID != "" && *order == "":
		p := tenant.Plan(strings.ToLower(*plan))
		if !tenant.PaidPlan(p) {
			fmt.Fprintln(os.Stderr, "confirm: -plan must be a paid plan")
			os.Exit(1)
		}
		probe = confirm.NewStoreHTTPProbe(*baseURL, confirm.StoreQuery{StoreID: *storeID, Plan: p, Token: *token})
		flow, maxAttempts = "plan", confirm.PlanMaxAttempts
		if payment.TenantID(*storeID) != *storeID {
			flow, maxAttempts = "signup", confirm.SignupMaxAttempts
		}
	default:
		fmt.Fprintln(os.Stderr, "confirm: exactly one of -store or -order is required")
		flag.Usage()
		os.Exit(1)
	}
	if *attempts > 0 {
		maxAttempts = *attempts
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("polling", "url", probe.URL(), "flow", flow, "attempts", maxAttempts, "interval", interval.String())
	started := time.Now()

	res := confirm.Poller{
		Interval:    *interval,
		MaxAttempts: maxAttempts,
		Flow:        flow,
		Logger:      logger,
	}.Run(ctx, probe)

	out, _ := json.MarshalIndent(struct {
		confirm.Result
		ElapsedMS int64 `json:"elapsedMs"`
	}{res, time.Since(started).Milliseconds()}, "", "  ")
	fmt.Println(string(out))

	switch res.Outcome {
	case confirm.Confirmed:
		return
	case confirm.TimedOut:
		os.Exit(exitTimedOut)
	default:
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// loadgen publishes synthetic push events against a running syncd so the
// reconciliation path can be exercised without a real backend. Every
// published item goes through the pending-then-settled lifecycle; a
// configurable share settles as failed.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
)

const (
	topicTransactionCreated = "transaction.created"
	topicTransactionStatus  = "transaction.status"
	topicStakeUpdated       = "stake.updated"
	topicRewardsEarned      = "rewards.earned"
	topicAdminStats         = "admin.stats"
)

type config struct {
	URL           string
	Rate          float64
	Duration      time.Duration
	SettleDelay   time.Duration
	FailRatio     float64
	AdminInterval time.Duration
	Seed          int64
}

// fragment mirrors the wire shape syncd consumes
type fragment struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Lifecycle string    `json:"lifecycle"`
	Domain    string    `json:"domain"`
	Amount    string    `json:"amount"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	SourceRef string    `json:"source_ref,omitempty"`
	FailReason string   `json:"fail_reason,omitempty"`
}

type adminStats struct {
	Domain     string `json:"domain"`
	TotalCount int    `json:"total_count"`
	PendingSum string `json:"pending_sum"`
}

var kinds = []struct {
	kind   string
	domain string
	topic  string
}{
	{"transfer", "transactions", topicTransactionCreated},
	{"stake", "staking", topicStakeUpdated},
	{"unstake", "staking", topicStakeUpdated},
	{"claim", "staking", topicRewardsEarned},
}

func main() {
	cfg := parseFlags()

	conn, err := nats.Connect(cfg.URL, nats.Name("ledgersync-loadgen"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect %s: %v\n", cfg.URL, err)
		os.Exit(1)
	}
	defer conn.Drain() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	published := run(ctx, conn, cfg)
	fmt.Printf("published %d events in up to %s at %.1f items/s\n", published, cfg.Duration, cfg.Rate)
}

func parseFlags() config {
	var cfg config
	flag.StringVar(&cfg.URL, "url", nats.DefaultURL, "push channel URL")
	flag.Float64Var(&cfg.Rate, "rate", 10, "new items per second")
	flag.DurationVar(&cfg.Duration, "duration", 30*time.Second, "how long to publish")
	flag.DurationVar(&cfg.SettleDelay, "settle-delay", 2*time.Second, "delay between pending and settled")
	flag.Float64Var(&cfg.FailRatio, "fail-ratio", 0.1, "share of items that settle as failed")
	flag.DurationVar(&cfg.AdminInterval, "admin-interval", 5*time.Second, "cadence of admin stats snapshots")
	flag.Int64Var(&cfg.Seed, "seed", time.Now().UnixNano(), "RNG seed, fix it for reproducible runs")
	flag.Parse()
	return cfg
}

// run drives the publish loop until the context expires and returns the
// number of events published, settlement events included
func run(ctx context.Context, conn *nats.Conn, cfg config) int {
	rng := rand.New(rand.NewSource(cfg.Seed)) //nolint:gosec // synthetic data only

	var wg sync.WaitGroup
	var mu sync.Mutex
	published := 0
	count := func(n int) {
		mu.Lock()
		published += n
		mu.Unlock()
	}

	itemTicker := time.NewTicker(time.Duration(float64(time.Second) / cfg.Rate))
	defer itemTicker.Stop()
	adminTicker := time.NewTicker(cfg.AdminInterval)
	defer adminTicker.Stop()

	totalCount := 0
	pendingSum := decimal.Zero

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return published

		case now := <-itemTicker.C:
			choice := kinds[rng.Intn(len(kinds))]
			amount := decimal.NewFromInt(int64(rng.Intn(10_000))).Div(decimal.NewFromInt(10))
			frag := fragment{
				ID:        "tx-" + ulid.Make().String(),
				Kind:      choice.kind,
				Lifecycle: "pending",
				Domain:    choice.domain,
				Amount:    amount.String(),
				CreatedAt: now.UTC(),
				UpdatedAt: now.UTC(),
				SourceRef: fmt.Sprintf("0x%016x", rng.Uint64()),
			}
			publish(conn, choice.topic, frag)
			count(1)

			totalCount++
			pendingSum = pendingSum.Add(amount)

			// Settle later so the pending window is observable.
			failed := rng.Float64() < cfg.FailRatio
			wg.Add(1)
			go func(frag fragment, failed bool) {
				defer wg.Done()
				select {
				case <-ctx.Done():
					return
				case settledAt := <-time.After(cfg.SettleDelay):
					frag.UpdatedAt = settledAt.UTC()
					if failed {
						frag.Lifecycle = "failed"
						frag.FailReason = "synthetic failure"
					} else {
						frag.Lifecycle = "confirmed"
					}
					publish(conn, topicTransactionStatus, frag)
					count(1)
				}
			}(frag, failed)

		case <-adminTicker.C:
			publish(conn, topicAdminStats, adminStats{
				Domain:     "admin",
				TotalCount: totalCount,
				PendingSum: pendingSum.String(),
			})
			count(1)
		}
	}
}

func publish(conn *nats.Conn, topic string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		fmt.Fprintf(os.Stderr, "marshal %s: %v\n", topic, err)
		return
	}
	if err := conn.Publish(topic, data); err != nil {
		fmt.Fprintf(os.Stderr, "publish %s: %v\n", topic, err)
	}
}

package pricefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"FundLedger/internal/observability"
)

// quote is one entry in the upstream feed's response.
type quote struct {
	Symbol    string `json:"symbol"`
	Price     string `json:"price"` // Decimal string
	Timestamp int64  `json:"timestamp"` // Epoch microseconds
}

// priceUpdateWire matches the PriceUpdate JSON the ingestion parser
// expects on fund.prices.<asset>.
type priceUpdateWire struct {
	UpdateID    string `json:"update_id"`
	Asset       string `json:"asset"`
	Price       string `json:"price"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

// Poller polls an HTTP price endpoint on a fixed cadence and publishes
// PriceUpdate events to NATS. It only forwards assets the fund tracks;
// malformed or non-positive quotes are dropped at this boundary and
// never reach the core. The HTTP timeout applies here only — nothing
// downstream of NATS waits on the feed.
type Poller struct {
	js       jetstream.JetStream
	client   *http.Client
	url      string
	interval time.Duration
	tracked  map[string]bool
	logger   zerolog.Logger

	// Per-asset publish counter. Price partitions tolerate gaps, so a
	// counter that resets on restart is fine; staleness is guarded by
	// the timestamp, not the sequence.
	sequences map[string]int64
}

func NewPoller(
	js jetstream.JetStream,
	url string,
	interval, timeout time.Duration,
	trackedAssets []string,
) *Poller {
	tracked := make(map[string]bool, len(trackedAssets))
	for _, asset := range trackedAssets {
		tracked[asset] = true
	}
	return &Poller{
		js:        js,
		client:    &http.Client{Timeout: timeout},
		url:       url,
		interval:  interval,
		tracked:   tracked,
		logger:    observability.NewLogger("pricefeed"),
		sequences: make(map[string]int64),
	}
}

// Run polls until the context is canceled.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info().
		Str("url", p.url).
		Dur("interval", p.interval).
		Msg("price poller starting")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.pollOnce(ctx); err != nil {
				p.logger.Warn().Err(err).Msg("poll failed")
			}
		}
	}
}

func (p *Poller) pollOnce(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch quotes: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("feed returned %d", resp.StatusCode)
	}

	var quotes []quote
	if err := json.NewDecoder(resp.Body).Decode(&quotes); err != nil {
		return fmt.Errorf("decode quotes: %w", err)
	}

	for _, q := range quotes {
		if !p.tracked[q.Symbol] {
			continue
		}
		if err := p.publish(ctx, q); err != nil {
			p.logger.Warn().Err(err).Str("asset", q.Symbol).Msg("quote dropped")
		}
	}

	return nil
}

func (p *Poller) publish(ctx context.Context, q quote) error {
	d, err := decimal.NewFromString(q.Price)
	if err != nil {
		return fmt.Errorf("invalid price %q: %w", q.Price, err)
	}
	if !d.IsPositive() {
		return fmt.Errorf("non-positive price %q", q.Price)
	}
	if q.Timestamp <= 0 {
		return fmt.Errorf("missing timestamp for %s", q.Symbol)
	}

	p.sequences[q.Symbol]++
	wire := priceUpdateWire{
		UpdateID:    uuid.NewString(),
		Asset:       q.Symbol,
		Price:       q.Price,
		Sequence:    p.sequences[q.Symbol],
		TimestampUs: q.Timestamp,
	}

	data, err := json.Marshal(wire)
	if err != nil {
		return err
	}

	subject := fmt.Sprintf("fund.prices.%s", q.Symbol)
	if _, err := p.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}

	return nil
}

package oracle

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrStaleUpdate rejects a price not newer than the last recorded one.
	ErrStaleUpdate = errors.New("price update is stale")
	// ErrInvalidPrice rejects a non-positive price or an untracked asset.
	ErrInvalidPrice = errors.New("invalid price update")
	// ErrNoPriceAvailable means no price has been recorded for the asset.
	ErrNoPriceAvailable = errors.New("no price available")
)

// AssetPrice is one accepted price observation.
// Price is quote-scaled; TimestampUs is the observation time in epoch
// microseconds and strictly increases per asset.
type AssetPrice struct {
	Asset       string
	Price       int64
	TimestampUs int64
}

// PriceView is a consistent copy of the latest prices, taken once per
// valuation so a single NAV computation never mixes update generations.
type PriceView map[string]AssetPrice

// PriceOracle tracks the latest accepted price per asset.
// It is owned by the single-threaded core; updates submitted while a
// valuation tick is in flight are parked and applied after the tick.
type PriceOracle struct {
	tracked  map[string]struct{}
	latest   map[string]AssetPrice
	deferred bool
	pending  []AssetPrice
}

func NewPriceOracle(trackedAssets []string) *PriceOracle {
	tracked := make(map[string]struct{}, len(trackedAssets))
	for _, a := range trackedAssets {
		tracked[a] = struct{}{}
	}
	return &PriceOracle{
		tracked: tracked,
		latest:  make(map[string]AssetPrice, len(trackedAssets)),
	}
}

// SubmitPrice validates and records a price observation. During a tick
// the observation is queued instead; the tick's valuation keeps using
// the view it snapshotted.
func (o *PriceOracle) SubmitPrice(asset string, price, timestampUs int64) error {
	if err := o.validate(asset, price, timestampUs); err != nil {
		return err
	}

	p := AssetPrice{Asset: asset, Price: price, TimestampUs: timestampUs}
	if o.deferred {
		o.pending = append(o.pending, p)
		return nil
	}

	o.latest[asset] = p
	return nil
}

func (o *PriceOracle) validate(asset string, price, timestampUs int64) error {
	if _, ok := o.tracked[asset]; !ok {
		return fmt.Errorf("%w: asset %s is not tracked", ErrInvalidPrice, asset)
	}
	if price <= 0 {
		return fmt.Errorf("%w: asset %s price %d", ErrInvalidPrice, asset, price)
	}
	if last, ok := o.latest[asset]; ok && timestampUs <= last.TimestampUs {
		return fmt.Errorf("%w: asset %s timestamp %d <= %d", ErrStaleUpdate, asset, timestampUs, last.TimestampUs)
	}
	return nil
}

// Latest returns the most recent accepted price for an asset.
func (o *PriceOracle) Latest(asset string) (AssetPrice, error) {
	p, ok := o.latest[asset]
	if !ok {
		return AssetPrice{}, fmt.Errorf("%w: asset %s", ErrNoPriceAvailable, asset)
	}
	return p, nil
}

// SnapshotView copies all latest prices for one valuation.
func (o *PriceOracle) SnapshotView() PriceView {
	view := make(PriceView, len(o.latest))
	for asset, p := range o.latest {
		view[asset] = p
	}
	return view
}

// BeginTick parks subsequent submissions until DrainPending.
func (o *PriceOracle) BeginTick() {
	o.deferred = true
}

// DrainPending applies parked submissions in arrival order and resumes
// direct application. Entries that became stale while parked (a newer
// parked update for the same asset) are dropped; the freshest wins.
// Returns the number of applied updates.
func (o *PriceOracle) DrainPending() int {
	o.deferred = false

	applied := 0
	for _, p := range o.pending {
		if last, ok := o.latest[p.Asset]; ok && p.TimestampUs <= last.TimestampUs {
			continue
		}
		o.latest[p.Asset] = p
		applied++
	}
	o.pending = o.pending[:0]
	return applied
}

// Snapshot returns all latest prices ordered by asset (for state
// hashing and warm restart).
func (o *PriceOracle) Snapshot() []AssetPrice {
	prices := make([]AssetPrice, 0, len(o.latest))
	for _, p := range o.latest {
		prices = append(prices, p)
	}
	sort.Slice(prices, func(i, j int) bool { return prices[i].Asset < prices[j].Asset })
	return prices
}

// Restore replaces the latest prices from a snapshot.
func (o *PriceOracle) Restore(prices []AssetPrice) {
	o.latest = make(map[string]AssetPrice, len(prices))
	for _, p := range prices {
		o.latest[p.Asset] = p
	}
	o.pending = nil
	o.deferred = false
}

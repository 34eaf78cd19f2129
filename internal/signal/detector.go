package signal

import (
	"context"
	"log"
	"sort"
	"sync"

	"golang.org/x/time/rate"

	"backtest-core/internal/market"
	"backtest-core/pkg/cache"
)

const (
	// RuleHeuristic tags signals produced by the local close-vs-close fallback.
	RuleHeuristic = "local_heuristic"

	heuristicConfidence = 0.5
	batchThreshold      = 3
)

// DetectorConfig tunes the two-tier detection pipeline.
type DetectorConfig struct {
	ThrottleEvery rate.Limit // remote calls per second; 0 means one per second
	Debug         bool
}

// Detector converts bar history into trend-change signals. Remote inference
// results and heuristic fallbacks land in one per-(contract,timeframe,bar)
// cache, so every signal is reported with a stable identity exactly once and
// re-queries are idempotent.
type Detector struct {
	mu      sync.Mutex
	cfg     DetectorConfig
	client  Inferencer
	cache   *cache.ShardedSignalCache[TrendSignal]
	limiter *rate.Limiter

	// Per (contract|timeframe) scope.
	watermarks map[string]int  // count of processed bars
	lastDir    map[string]Type // heuristic's last known direction

	remoteCalls    int
	heuristicFalls int
}

// DetectorStats reports how often the detector went remote vs degraded.
type DetectorStats struct {
	RemoteCalls        int `json:"remote_calls"`
	HeuristicFallbacks int `json:"heuristic_fallbacks"`
	CachedSlots        int `json:"cached_slots"`
}

// NewDetector creates a detector. client may be nil, in which case every
// lookup uses the local heuristic.
func NewDetector(client Inferencer, cfg DetectorConfig) *Detector {
	limit := cfg.ThrottleEvery
	if limit <= 0 {
		limit = 1 // one remote call per second
	}
	return &Detector{
		cfg:        cfg,
		client:     client,
		cache:      cache.NewShardedSignalCache[TrendSignal](),
		limiter:    rate.NewLimiter(limit, 1),
		watermarks: make(map[string]int),
		lastDir:    make(map[string]Type),
	}
}

// SignalsForRange returns every signal discovered for bars [0, uptoIndex],
// processing any bars not yet covered by the watermark. It never fails:
// remote transport problems degrade to the local heuristic.
func (d *Detector) SignalsForRange(ctx context.Context, bars []market.Bar, uptoIndex int, contractID, timeframe string) []TrendSignal {
	d.mu.Lock()
	defer d.mu.Unlock()

	if uptoIndex >= len(bars) {
		uptoIndex = len(bars) - 1
	}
	if uptoIndex < 0 {
		return nil
	}

	scope := contractID + "|" + timeframe
	wm := d.watermarks[scope]

	if wm <= uptoIndex {
		d.processRange(ctx, bars, wm, uptoIndex, contractID, timeframe, scope)
		d.watermarks[scope] = uptoIndex + 1
	}

	return d.collect(contractID, timeframe, uptoIndex)
}

// processRange fills cache slots for bars [from, to].
func (d *Detector) processRange(ctx context.Context, bars []market.Bar, from, to int, contractID, timeframe, scope string) {
	if to-from > batchThreshold {
		// Batch mode: one inference call covering the whole unprocessed range.
		d.detect(ctx, bars, from, to, contractID, timeframe, scope)
		return
	}

	// Single-bar mode: heuristic for any skipped bars, one call for the newest.
	for i := from; i < to; i++ {
		d.applyHeuristic(bars, i, contractID, timeframe, scope)
	}
	d.detect(ctx, bars, to, to, contractID, timeframe, scope)
}

// detect runs one remote call for [from, to], degrading to the heuristic on
// throttle or transport failure.
func (d *Detector) detect(ctx context.Context, bars []market.Bar, from, to int, contractID, timeframe, scope string) {
	if d.client == nil || !d.limiter.Allow() {
		d.heuristicRange(bars, from, to, contractID, timeframe, scope)
		return
	}

	req := InferenceRequest{
		ContractID:    contractID,
		Timeframe:     timeframe,
		BarIndexRange: [2]int{from, to},
		Debug:         d.cfg.Debug,
		Bars:          make([]InferenceBar, 0, to+1),
	}
	for i := 0; i <= to; i++ {
		req.Bars = append(req.Bars, InferenceBar{
			Index:     i,
			Timestamp: bars[i].Time.UnixMilli(),
			Open:      bars[i].Open,
			High:      bars[i].High,
			Low:       bars[i].Low,
			Close:     bars[i].Close,
			Volume:    bars[i].Volume,
		})
	}

	signals, err := d.client.Detect(ctx, req)
	if err != nil {
		log.Printf("signal: remote inference failed, degrading to heuristic: %v", err)
		d.heuristicRange(bars, from, to, contractID, timeframe, scope)
		return
	}
	d.remoteCalls++

	byBar := make(map[int][]TrendSignal)
	for _, s := range signals {
		if s.BarIndex < from || s.BarIndex > to {
			continue // already-cached bars never gain new entries
		}
		if s.Confidence < 0 || s.Confidence > 1 {
			log.Printf("signal: dropping %s at bar %d with out-of-range confidence %v", s.Type, s.BarIndex, s.Confidence)
			continue
		}
		byBar[s.BarIndex] = append(byBar[s.BarIndex], s)
	}
	for i := from; i <= to; i++ {
		d.cache.Put(cache.SlotKey(contractID, timeframe, i), dedupe(byBar[i]))
	}

	// Keep the heuristic's direction in sync with what the remote said, so a
	// later fallback does not re-report a direction already established.
	for i := from; i <= to; i++ {
		for _, s := range byBar[i] {
			d.lastDir[scope] = s.Type
		}
	}
}

func (d *Detector) heuristicRange(bars []market.Bar, from, to int, contractID, timeframe, scope string) {
	d.heuristicFalls++
	for i := from; i <= to; i++ {
		d.applyHeuristic(bars, i, contractID, timeframe, scope)
	}
}

// applyHeuristic compares the bar's close to the previous close and emits a
// signal only when direction flips versus the last known direction.
func (d *Detector) applyHeuristic(bars []market.Bar, i int, contractID, timeframe, scope string) {
	key := cache.SlotKey(contractID, timeframe, i)
	if i == 0 {
		d.cache.Put(key, nil)
		return
	}

	var dir Type
	switch {
	case bars[i].Close > bars[i-1].Close:
		dir = TypeUptrendStart
	case bars[i].Close < bars[i-1].Close:
		dir = TypeDowntrendStart
	default:
		d.cache.Put(key, nil)
		return
	}

	if dir == d.lastDir[scope] {
		d.cache.Put(key, nil)
		return
	}
	d.lastDir[scope] = dir
	d.cache.Put(key, []TrendSignal{{
		Type:       dir,
		BarIndex:   i,
		Price:      bars[i].Close,
		Confidence: heuristicConfidence,
		Rule:       RuleHeuristic,
	}})
}

// collect gathers cached signals for bars [0, uptoIndex] in bar order.
func (d *Detector) collect(contractID, timeframe string, uptoIndex int) []TrendSignal {
	var out []TrendSignal
	seen := make(map[string]bool)
	for i := 0; i <= uptoIndex; i++ {
		slot, ok := d.cache.Get(cache.SlotKey(contractID, timeframe, i))
		if !ok {
			continue
		}
		for _, s := range slot {
			if seen[s.Key()] {
				continue
			}
			seen[s.Key()] = true
			out = append(out, s)
		}
	}
	return out
}

func dedupe(sigs []TrendSignal) []TrendSignal {
	if len(sigs) < 2 {
		return sigs
	}
	seen := make(map[string]bool, len(sigs))
	out := sigs[:0]
	for _, s := range sigs {
		if seen[s.Key()] {
			continue
		}
		seen[s.Key()] = true
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// Stats returns remote/fallback counters for the health snapshot.
func (d *Detector) Stats() DetectorStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return DetectorStats{
		RemoteCalls:        d.remoteCalls,
		HeuristicFallbacks: d.heuristicFalls,
		CachedSlots:        d.cache.Len(),
	}
}

// ResetState clears the watermark, cache and heuristic direction. Required
// before reusing a detector for a new backtest run.
func (d *Detector) ResetState() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cache.Reset()
	d.watermarks = make(map[string]int)
	d.lastDir = make(map[string]Type)
	d.remoteCalls = 0
	d.heuristicFalls = 0
}

package market

import (
	"math/rand"
	"time"
)

// SyntheticConfig shapes a generated random-walk series. The seed makes the
// series reproducible run to run.
type SyntheticConfig struct {
	Count      int
	StartPrice float64
	Step       float64 // max absolute close-to-close move
	Start      time.Time
	Interval   time.Duration
	Seed       int64
}

// SyntheticSeries generates a deterministic random-walk bar series for local
// development and demos, when no real data file is at hand.
func SyntheticSeries(cfg SyntheticConfig) []Bar {
	if cfg.Count <= 0 {
		return nil
	}
	if cfg.StartPrice <= 0 {
		cfg.StartPrice = 100
	}
	if cfg.Step <= 0 {
		cfg.Step = cfg.StartPrice * 0.005
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.Start.IsZero() {
		cfg.Start = time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	bars := make([]Bar, 0, cfg.Count)
	prev := cfg.StartPrice
	for i := 0; i < cfg.Count; i++ {
		open := prev
		close := open + (rng.Float64()*2-1)*cfg.Step
		high := open
		if close > high {
			high = close
		}
		high += rng.Float64() * cfg.Step / 2
		low := open
		if close < low {
			low = close
		}
		low -= rng.Float64() * cfg.Step / 2

		bars = append(bars, Bar{
			Time:   cfg.Start.Add(time.Duration(i) * cfg.Interval),
			Open:   open,
			High:   high,
			Low:    low,
			Close:  close,
			Volume: 50 + rng.Float64()*100,
		})
		prev = close
	}
	return bars
}

package strategy

import (
	"time"

	"backtest-core/internal/book"
)

// kellyCap bounds the reported Kelly fraction to a quarter-Kelly.
const kellyCap = 0.25

// PerformanceMetrics is the post-backtest result aggregation, derived purely
// from the order book's closed-trade ledger.
type PerformanceMetrics struct {
	TotalTrades      int           `json:"total_trades"`
	WinningTrades    int           `json:"winning_trades"`
	LosingTrades     int           `json:"losing_trades"`
	TotalPnL         float64       `json:"total_pnl"`
	TotalCommission  float64       `json:"total_commission"`
	WinRate          float64       `json:"win_rate"`
	ProfitFactor     float64       `json:"profit_factor"`
	MaxDrawdown      float64       `json:"max_drawdown"`
	LargestWin       float64       `json:"largest_win"`
	LargestLoss      float64       `json:"largest_loss"`
	AvgTradeDuration time.Duration `json:"avg_trade_duration_ns"`
	MaxWinStreak     int           `json:"max_win_streak"`
	MaxLossStreak    int           `json:"max_loss_streak"`
	Expectancy       float64       `json:"expectancy"`
	KellyFraction    float64       `json:"kelly_fraction"`
}

// ComputeMetrics aggregates a slice of ledger entries. Trades are assumed to
// be in close order, as the book returns them.
func ComputeMetrics(trades []book.CompletedTrade) PerformanceMetrics {
	m := PerformanceMetrics{TotalTrades: len(trades)}
	if len(trades) == 0 {
		return m
	}

	var (
		grossWin, grossLoss   float64
		cumulative, peak      float64
		winStreak, lossStreak int
		totalDuration         time.Duration
	)

	for _, tr := range trades {
		pnl := tr.NetPnL
		m.TotalPnL += pnl
		m.TotalCommission += tr.Commission
		totalDuration += tr.ExitTime.Sub(tr.EntryTime)

		switch {
		case pnl > 0:
			m.WinningTrades++
			grossWin += pnl
			winStreak++
			lossStreak = 0
			if pnl > m.LargestWin {
				m.LargestWin = pnl
			}
		case pnl < 0:
			m.LosingTrades++
			grossLoss += -pnl
			lossStreak++
			winStreak = 0
			if pnl < m.LargestLoss {
				m.LargestLoss = pnl
			}
		default:
			// Break-even round trip: neither a win nor a loss, resets streaks.
			winStreak, lossStreak = 0, 0
		}
		if winStreak > m.MaxWinStreak {
			m.MaxWinStreak = winStreak
		}
		if lossStreak > m.MaxLossStreak {
			m.MaxLossStreak = lossStreak
		}

		// Max drawdown is peak-to-trough on the cumulative P&L curve.
		cumulative += pnl
		if cumulative > peak {
			peak = cumulative
		}
		if dd := peak - cumulative; dd > m.MaxDrawdown {
			m.MaxDrawdown = dd
		}
	}

	m.WinRate = float64(m.WinningTrades) / float64(m.TotalTrades)
	m.AvgTradeDuration = totalDuration / time.Duration(m.TotalTrades)

	// Profit factor stays zero until both a win and a loss exist, keeping the
	// value finite and serializable.
	if grossLoss > 0 {
		m.ProfitFactor = grossWin / grossLoss
	}

	var avgWin, avgLoss float64
	if m.WinningTrades > 0 {
		avgWin = grossWin / float64(m.WinningTrades)
	}
	if m.LosingTrades > 0 {
		avgLoss = grossLoss / float64(m.LosingTrades)
	}
	m.Expectancy = m.WinRate*avgWin - (1-m.WinRate)*avgLoss

	if avgLoss > 0 && avgWin > 0 {
		r := avgWin / avgLoss
		kelly := m.WinRate - (1-m.WinRate)/r
		if kelly < 0 {
			kelly = 0
		}
		if kelly > kellyCap {
			kelly = kellyCap
		}
		m.KellyFraction = kelly
	}

	return m
}

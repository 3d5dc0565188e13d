package ranker

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"scalpbot/internal/domain"
	"scalpbot/internal/ports"
)

// Config holds the eligibility filters and output size of the ranker.
// Percent-valued fields are in percent points.
type Config struct {
	TopN              int
	QuoteAsset        string // Only symbols quoted in this asset rank; empty disables the filter
	MinVolume24h      float64
	MaxSpreadPct      float64
	MinVolatilityPct  float64
	MinDailyChangePct float64
	MinPrice          float64
	ExcludedSymbols   []string
}

// Score weight caps. Volume and volatility saturate so a single runaway
// symbol cannot drown out the rest of the board.
const (
	volumeSaturation     = 1e9 // Quote volume at which the volume term maxes out
	volatilitySaturation = 5.0 // ATR% at which the volatility term maxes out
)

// Ranker filters the market-wide snapshot and produces the ordered top-N
// list that gates the rest of the pipeline. Rank is a pure function of its
// input: re-running it on an unchanged snapshot yields an identical list.
type Ranker struct {
	cfg      Config
	logger   ports.Logger
	excluded map[string]struct{}
}

// New creates a Ranker.
func New(cfg Config, logger ports.Logger) (*Ranker, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for ranker")
	}
	if cfg.TopN <= 0 {
		return nil, fmt.Errorf("topN must be positive")
	}
	if cfg.MaxSpreadPct <= 0 {
		return nil, fmt.Errorf("max spread must be positive")
	}
	excluded := make(map[string]struct{}, len(cfg.ExcludedSymbols))
	for _, s := range cfg.ExcludedSymbols {
		excluded[s] = struct{}{}
	}
	return &Ranker{cfg: cfg, logger: logger, excluded: excluded}, nil
}

// Rank filters the snapshot, scores the survivors and returns the ordered
// top-N list. The returned set fully replaces any previous ranking; callers
// diff old vs. new to detect admissions and removals.
func (r *Ranker) Rank(ctx context.Context, stats []domain.MarketStat) []domain.RankingEntry {
	eligible := make([]domain.RankingEntry, 0, len(stats))
	for _, st := range stats {
		if !r.passesFilters(st) {
			continue
		}
		eligible = append(eligible, domain.RankingEntry{
			Symbol:         st.Symbol,
			Score:          r.score(st),
			Volume24h:      st.Volume24h,
			SpreadPct:      st.SpreadPct,
			VolatilityPct:  st.VolatilityPct,
			DailyChangePct: st.DailyChangePct,
		})
	}

	// Score descending; ties broken by symbol ascending for determinism.
	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].Score != eligible[j].Score {
			return eligible[i].Score > eligible[j].Score
		}
		return eligible[i].Symbol < eligible[j].Symbol
	})

	if len(eligible) > r.cfg.TopN {
		eligible = eligible[:r.cfg.TopN]
	}

	r.logger.Debug(ctx, "Ranking computed", map[string]interface{}{
		"candidates": len(stats),
		"selected":   len(eligible),
	})
	return eligible
}

// passesFilters applies the eligibility thresholds.
func (r *Ranker) passesFilters(st domain.MarketStat) bool {
	if _, ok := r.excluded[st.Symbol]; ok {
		return false
	}
	if r.cfg.QuoteAsset != "" && !strings.HasSuffix(st.Symbol, r.cfg.QuoteAsset) {
		return false
	}
	if st.LastPrice < r.cfg.MinPrice {
		return false
	}
	if st.Volume24h < r.cfg.MinVolume24h {
		return false
	}
	if st.SpreadPct > r.cfg.MaxSpreadPct {
		return false
	}
	if st.VolatilityPct < r.cfg.MinVolatilityPct {
		return false
	}
	if abs(st.DailyChangePct) < r.cfg.MinDailyChangePct {
		return false
	}
	return true
}

// score combines volatility, volume and spread into a single eligibility
// score: higher volatility and volume raise it, wider spread lowers it.
func (r *Ranker) score(st domain.MarketStat) float64 {
	volatilityTerm := clamp(st.VolatilityPct / volatilitySaturation)
	volumeTerm := clamp(st.Volume24h / volumeSaturation)
	spreadPenalty := clamp(st.SpreadPct / r.cfg.MaxSpreadPct)

	return volatilityTerm*0.4 + volumeTerm*0.4 + (1-spreadPenalty)*0.2
}

func clamp(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < 0 {
		return 0
	}
	return v
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

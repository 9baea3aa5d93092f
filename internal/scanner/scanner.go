// Package scanner runs the periodic arbitrage loop: refresh the pair set via
// discovery, price every pair, then fan the results out to storage, cache,
// archive and notifications.
package scanner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/marketgate/internal/arbitrage"
	"github.com/alanyoungcy/marketgate/internal/domain"
	"github.com/alanyoungcy/marketgate/internal/notify"
)

// discoveryEvery controls how many scan ticks reuse the cached pair set
// before discovery runs again. Discovery is expensive (one Gamma lookup per
// event) while pricing is cheap.
const discoveryEvery = 10

// AlertChannel is the pub/sub channel profitable opportunities are
// announced on.
const AlertChannel = "marketgate:arb_detected"

// Discoverer refreshes the cross-venue pair set.
type Discoverer interface {
	DiscoverAll(ctx context.Context, leagues []string) ([]arbitrage.MarketPair, error)
}

// PairDetector prices a set of pairs.
type PairDetector interface {
	ScanPairs(ctx context.Context, pairs []arbitrage.MarketPair) []arbitrage.Opportunity
}

// StopChecker gates scanning on the emergency switch.
type StopChecker interface {
	CheckAndRaise() error
}

// OpportunitySink persists priced opportunities.
type OpportunitySink interface {
	SaveOpportunity(ctx context.Context, opp arbitrage.Opportunity) error
}

// ScanArchiver uploads a whole scan's results.
type ScanArchiver interface {
	ArchiveScan(ctx context.Context, scannedAt time.Time, opps []arbitrage.Opportunity) (string, error)
}

// EventNotifier delivers filtered operator notifications.
type EventNotifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Config holds scanner tuning.
type Config struct {
	Interval time.Duration
	Leagues  []string
}

// Scanner drives the discover/price/publish cycle. The store, bus, archiver
// and notifier are optional; a scanner with none of them still logs what it
// finds.
type Scanner struct {
	discovery Discoverer
	detector  PairDetector
	stop      StopChecker
	cfg       Config
	logger    *slog.Logger

	store    OpportunitySink
	bus      domain.SignalBus
	archiver ScanArchiver
	notifier EventNotifier

	pairs     []arbitrage.MarketPair
	scanCount int
}

// Option configures optional scanner collaborators.
type Option func(*Scanner)

// WithStore persists every priced opportunity.
func WithStore(store OpportunitySink) Option {
	return func(s *Scanner) { s.store = store }
}

// WithSignalBus publishes profitable opportunities on AlertChannel.
func WithSignalBus(bus domain.SignalBus) Option {
	return func(s *Scanner) { s.bus = bus }
}

// WithArchiver uploads each non-empty scan as JSONL.
func WithArchiver(archiver ScanArchiver) Option {
	return func(s *Scanner) { s.archiver = archiver }
}

// WithNotifier sends operator notifications for profitable opportunities.
func WithNotifier(notifier EventNotifier) Option {
	return func(s *Scanner) { s.notifier = notifier }
}

// New creates a scanner.
func New(discovery Discoverer, detector PairDetector, stop StopChecker, cfg Config, logger *slog.Logger, opts ...Option) *Scanner {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	s := &Scanner{
		discovery: discovery,
		detector:  detector,
		stop:      stop,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "scanner")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run scans on a ticker until ctx is cancelled. The first scan runs
// immediately.
func (s *Scanner) Run(ctx context.Context) error {
	s.logger.Info("scanner starting",
		slog.Duration("interval", s.cfg.Interval),
		slog.Any("leagues", s.cfg.Leagues))

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.scanOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scanner stopped")
			return ctx.Err()
		case <-ticker.C:
			s.scanOnce(ctx)
		}
	}
}

// ScanOnce runs a single cycle on demand and returns its results.
func (s *Scanner) ScanOnce(ctx context.Context) ([]arbitrage.Opportunity, error) {
	if err := s.stop.CheckAndRaise(); err != nil {
		return nil, err
	}
	return s.scan(ctx), nil
}

func (s *Scanner) scanOnce(ctx context.Context) {
	if err := s.stop.CheckAndRaise(); err != nil {
		s.logger.Warn("scan skipped", slog.String("reason", err.Error()))
		return
	}
	s.scan(ctx)
}

func (s *Scanner) scan(ctx context.Context) []arbitrage.Opportunity {
	start := time.Now()

	if s.scanCount%discoveryEvery == 0 || len(s.pairs) == 0 {
		pairs, err := s.discovery.DiscoverAll(ctx, s.cfg.Leagues)
		if err != nil {
			s.logger.Error("discovery failed", slog.Any("error", err))
		} else {
			s.pairs = pairs
			s.logger.Info("pair set refreshed", slog.Int("pairs", len(pairs)))
		}
	}
	s.scanCount++

	if len(s.pairs) == 0 {
		return nil
	}

	opps := s.detector.ScanPairs(ctx, s.pairs)
	profitable := 0
	for i := range opps {
		if opps[i].IsProfitable() {
			profitable++
		}
	}
	s.logger.Info("scan complete",
		slog.Int("pairs", len(s.pairs)),
		slog.Int("priced", len(opps)),
		slog.Int("profitable", profitable),
		slog.Duration("elapsed", time.Since(start)))

	s.publish(ctx, start, opps)
	return opps
}

// publish fans results out to the optional sinks. Every sink is best
// effort; failures are logged and never interrupt the scan loop.
func (s *Scanner) publish(ctx context.Context, scannedAt time.Time, opps []arbitrage.Opportunity) {
	if len(opps) == 0 {
		return
	}

	if s.store != nil {
		for _, opp := range opps {
			if err := s.store.SaveOpportunity(ctx, opp); err != nil {
				s.logger.Error("failed to persist opportunity",
					slog.String("pair_id", opp.PairID), slog.Any("error", err))
			}
		}
	}

	if s.archiver != nil {
		if _, err := s.archiver.ArchiveScan(ctx, scannedAt, opps); err != nil {
			s.logger.Error("failed to archive scan", slog.Any("error", err))
		}
	}

	for _, opp := range opps {
		if !opp.IsProfitable() {
			continue
		}
		s.announce(ctx, opp)
	}
}

func (s *Scanner) announce(ctx context.Context, opp arbitrage.Opportunity) {
	s.logger.Info("profitable opportunity",
		slog.String("pair_id", opp.PairID),
		slog.String("strategy", opp.BestStrategy()),
		slog.Float64("profit", opp.MaxProfit()))

	if s.bus != nil {
		payload, err := json.Marshal(opp)
		if err == nil {
			if err := s.bus.Publish(ctx, AlertChannel, payload); err != nil {
				s.logger.Error("failed to publish opportunity", slog.Any("error", err))
			}
		}
	}

	if s.notifier != nil {
		title, message := notify.FormatOpportunity(opp)
		if err := s.notifier.Notify(ctx, notify.EventArbDetected, title, message); err != nil {
			s.logger.Error("failed to notify opportunity", slog.Any("error", err))
		}
	}
}

// Pairs returns the current cached pair set, for status reporting.
func (s *Scanner) Pairs() []arbitrage.MarketPair {
	return append([]arbitrage.MarketPair(nil), s.pairs...)
}

// String describes the scanner configuration.
func (s *Scanner) String() string {
	return fmt.Sprintf("scanner(interval=%s leagues=%v)", s.cfg.Interval, s.cfg.Leagues)
}

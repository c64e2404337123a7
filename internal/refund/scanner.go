package refund

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/voltmarket/voltmarket/internal/metrics"
)

// Scanner drives the automatic refund scan on a cron schedule. A scan also
// runs once at startup so a restarted service does not wait a full period
// before catching up.
type Scanner struct {
	engine   *Engine
	schedule string
	logger   *slog.Logger
	cron     *cron.Cron
}

// NewScanner creates a scanner. The schedule uses cron syntax and accepts
// descriptors like "@hourly".
func NewScanner(engine *Engine, schedule string, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{engine: engine, schedule: schedule, logger: logger}
}

// Start begins the scheduled scans. It returns an error if the schedule
// expression does not parse.
func (s *Scanner) Start() error {
	s.cron = cron.New()
	if _, err := s.cron.AddFunc(s.schedule, func() { s.run(context.Background()) }); err != nil {
		return fmt.Errorf("refund scanner schedule %q: %w", s.schedule, err)
	}
	s.cron.Start()
	go s.run(context.Background())
	return nil
}

// Stop halts the schedule and waits for a running scan to finish.
func (s *Scanner) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// TriggerNow runs one scan immediately, outside the schedule.
func (s *Scanner) TriggerNow(ctx context.Context) (int, error) {
	return s.engine.ScanOnce(ctx)
}

func (s *Scanner) run(ctx context.Context) {
	start := time.Now()
	created, err := s.engine.ScanOnce(ctx)
	metrics.RefundScanDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		s.logger.Error("refund scan failed", "error", err)
		return
	}
	if created > 0 {
		s.logger.Info("refund scan complete", "refunds_created", created, "took", time.Since(start))
	}
}

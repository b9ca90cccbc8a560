package jobs

import (
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/guildgate/guildgate/internal/store"
)

// Scheduler manages background jobs
type Scheduler struct {
	cron   *cron.Cron
	store  *store.Store
	logger *zap.Logger
}

// NewScheduler creates a new job scheduler
func NewScheduler(st *store.Store, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		cron:   cron.New(),
		store:  st,
		logger: logger,
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	// Log a store summary every hour at minute 5
	s.cron.AddFunc("5 * * * *", s.logSummary)

	s.cron.Start()
	s.logger.Info("job scheduler started")

	// Report once at startup
	s.logSummary()
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	s.cron.Stop()
	s.logger.Info("job scheduler stopped")
}

func (s *Scheduler) logSummary() {
	s.logger.Info("store summary",
		zap.Int("tokens", s.store.Tokens.Len()),
		zap.Int("pending_verifications", s.store.Pending.Len()),
		zap.Int("total_redirects", s.store.TotalRedirects()),
		zap.Int("unique_redirected", s.store.Redirects.Len()))
}

package mailsync

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Run syncs once at startup when onStartup is set, then every interval until
// ctx is done. A zero interval disables periodic syncs; Run then only waits
// for ctx. Sync errors are logged, never returned.
func (s *Service) Run(ctx context.Context, interval time.Duration, onStartup bool) error {
	if onStartup {
		s.syncAndLog(ctx)
	}

	if interval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.syncAndLog(ctx)
		}
	}
}

func (s *Service) syncAndLog(ctx context.Context) {
	summary, err := s.SyncAll(ctx)
	if err != nil {
		s.logger.Error("error in scheduled sync", zap.String("run_id", summary.RunID), zap.Error(err))
	}
}

// Shutdown waits for running syncs to complete, up to timeout. Returns true
// if shutdown completed gracefully, false if the timeout was reached.
func (s *Service) Shutdown(timeout time.Duration) bool {
	s.logger.Info("shutting down sync service", zap.Duration("timeout", timeout))

	done := make(chan struct{})
	go func() {
		s.processingWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("all syncs completed")
		return true
	case <-time.After(timeout):
		s.logger.Warn("shutdown timeout reached, a sync may still be in progress")
		return false
	}
}

package backup

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Scheduler drives Manager.Create from a 5-field cron expression.
type Scheduler struct {
	cron *cron.Cron
	log  zerolog.Logger
}

// NewScheduler registers the backup job. An empty expression disables
// scheduled backups without disabling the manual endpoints.
func NewScheduler(m *Manager, expr string, log zerolog.Logger) (*Scheduler, error) {
	s := &Scheduler{
		cron: cron.New(),
		log:  log.With().Str("component", "backup-scheduler").Logger(),
	}
	if expr == "" {
		return s, nil
	}
	_, err := s.cron.AddFunc(expr, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		if _, err := m.Create(ctx); err != nil {
			s.log.Error().Err(err).Msg("scheduled backup failed")
		}
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Scheduler) Start() { s.cron.Start() }

// Stop waits for a running job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

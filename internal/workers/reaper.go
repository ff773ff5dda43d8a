package workers

import (
	"context"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/voicebook/go-booking-backend/internal/services"
)

// Reaper deletes completed and dead-letter ledger rows past the retention
// window on a cron schedule.
type Reaper struct {
	Ledger *services.DeliveryService
	Spec   string
	Log    zerolog.Logger

	cron *cron.Cron
}

func NewReaper(ledger *services.DeliveryService, spec string, logger zerolog.Logger) *Reaper {
	return &Reaper{Ledger: ledger, Spec: spec, Log: logger}
}

// Start schedules the reap job. The cron expression is validated at config
// load, so a parse failure here is a programming error.
func (r *Reaper) Start(ctx context.Context) error {
	r.cron = cron.New()
	_, err := r.cron.AddFunc(r.Spec, func() {
		n, err := r.Ledger.Reap(ctx)
		if err != nil {
			r.Log.Error().Err(err).Msg("ledger reap")
			return
		}
		if n > 0 {
			r.Log.Info().Int64("deleted", n).Msg("ledger reap")
		}
	})
	if err != nil {
		return err
	}
	r.cron.Start()
	return nil
}

// Stop halts the schedule and waits for a running job to finish.
func (r *Reaper) Stop() {
	if r.cron != nil {
		<-r.cron.Stop().Done()
	}
}

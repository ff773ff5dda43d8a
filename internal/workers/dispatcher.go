// Package workers runs the background loops behind the delivery ledger:
// the dispatcher that re-drives due rows and the cron reaper that enforces
// retention.
package workers

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/voicebook/go-booking-backend/internal/config"
	"github.com/voicebook/go-booking-backend/internal/outbound"
	"github.com/voicebook/go-booking-backend/internal/services"
)

// Dispatcher sweeps the ledger for due pending and rescheduled rows and
// hands each claimed row to the orchestrator. Claims are optimistic status
// flips, so running more than one dispatcher is safe; a row is only ever
// held by one of them.
type Dispatcher struct {
	Ledger       *services.DeliveryService
	Orchestrator *outbound.Orchestrator
	Cfg          config.LedgerConfig
	Log          zerolog.Logger

	wg sync.WaitGroup
}

func NewDispatcher(ledger *services.DeliveryService, orch *outbound.Orchestrator, cfg config.LedgerConfig, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{Ledger: ledger, Orchestrator: orch, Cfg: cfg, Log: logger}
}

// Start launches the sweep loop. It stops when ctx is cancelled; Wait
// blocks until in-flight deliveries finish.
func (d *Dispatcher) Start(ctx context.Context) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ticker := time.NewTicker(d.Cfg.DispatchInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				d.sweep(ctx)
			}
		}
	}()
}

// Wait blocks until the loop has exited.
func (d *Dispatcher) Wait() { d.wg.Wait() }

func (d *Dispatcher) sweep(ctx context.Context) {
	rows, err := d.Ledger.ClaimDue(ctx, d.Cfg.DispatchBatch)
	if err != nil {
		d.Log.Error().Err(err).Msg("claim due deliveries")
		return
	}
	if len(rows) == 0 {
		return
	}
	d.Log.Debug().Int("claimed", len(rows)).Msg("dispatch sweep")

	lctx := d.Log.WithContext(ctx)
	for i := range rows {
		rec := rows[i]
		res, err := d.Orchestrator.Redeliver(lctx, &rec)
		if err != nil {
			d.Log.Error().Err(err).Str("delivery_id", rec.ID).Msg("redeliver")
			continue
		}
		if res.Degraded {
			d.Log.Warn().
				Str("delivery_id", rec.ID).
				Str("event_type", rec.EventType).
				Str("failure", res.Failure).
				Msg("redelivery degraded")
		}
	}
}

package production

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Watcher periodically reports production orders stuck in progress. It only
// logs; it never touches stock or the ledger.
type Watcher struct {
	svc        *Service
	staleAfter time.Duration
	interval   time.Duration
	log        zerolog.Logger
}

func NewWatcher(svc *Service, staleAfter, interval time.Duration, log zerolog.Logger) *Watcher {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Watcher{svc: svc, staleAfter: staleAfter, interval: interval, log: log.With().Str("component", "production-watcher").Logger()}
}

// Check runs one scan and returns the number of stale orders found.
func (w *Watcher) Check(ctx context.Context) (int, error) {
	orders, err := w.svc.Stale(ctx, w.staleAfter)
	if err != nil {
		w.log.Error().Err(err).Msg("stale scan failed")
		return 0, err
	}
	now := w.svc.now()
	for _, o := range orders {
		ev := w.log.Warn().Str("number", o.Number).Uint("order_id", o.ID)
		if o.StartedAt != nil {
			ev = ev.Dur("running_for", now.Sub(*o.StartedAt))
		}
		ev.Msg("production order stale")
	}
	return len(orders), nil
}

// Run scans once immediately and then on every tick until ctx is done.
func (w *Watcher) Run(ctx context.Context) {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	w.Check(ctx) //nolint:errcheck
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			w.Check(ctx) //nolint:errcheck
		}
	}
}

package ingest

import (
	"context"
	"log"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/lox/fairweather/internal/models"
)

// Warmer keeps the record cache populated for a fixed set of locations so
// the first analysis there does not wait on NASA POWER.
type Warmer struct {
	loader    *Loader
	locations []models.Location
	years     int
	interval  time.Duration
	retention time.Duration
	clock     clockwork.Clock
}

func NewWarmer(loader *Loader, locations []models.Location, years int, clock clockwork.Clock) *Warmer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Warmer{
		loader:    loader,
		locations: locations,
		years:     years,
		interval:  24 * time.Hour,
		retention: 90 * 24 * time.Hour,
		clock:     clock,
	}
}

// SetInterval changes how often the cache is refreshed.
func (w *Warmer) SetInterval(d time.Duration) {
	w.interval = d
}

// SetRetention sets how long archived provider responses are kept. Zero
// disables pruning.
func (w *Warmer) SetRetention(d time.Duration) {
	w.retention = d
}

func (w *Warmer) Run(ctx context.Context) {
	w.WarmAll(ctx)
	w.Prune()

	ticker := w.clock.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("warmer: shutting down")
			return
		case <-ticker.Chan():
			w.WarmAll(ctx)
			w.Prune()
		}
	}
}

// WarmAll loads the baseline window for every location and air quality,
// returning how many locations succeeded and failed.
func (w *Warmer) WarmAll(ctx context.Context) (ok, failed int) {
	start, end := BaselineWindow(w.clock.Now(), w.years)
	for _, loc := range w.locations {
		if ctx.Err() != nil {
			break
		}
		records, err := w.loader.Records(ctx, loc, start, end)
		if err != nil {
			log.Printf("warmer: %s: %v", loc.Name, err)
			failed++
			continue
		}
		w.loader.AirQuality(ctx, loc)
		log.Printf("warmer: %s has %d records", loc.Name, len(records))
		ok++
	}
	return ok, failed
}

// Prune drops archived payloads older than the retention window and returns
// how many were removed.
func (w *Warmer) Prune() int64 {
	if w.retention <= 0 || w.loader.store == nil {
		return 0
	}
	n, err := w.loader.store.PruneRawPayloads(w.clock.Now().Add(-w.retention))
	if err != nil {
		log.Printf("warmer: prune raw payloads: %v", err)
		return 0
	}
	if n > 0 {
		log.Printf("warmer: pruned %d raw payloads", n)
	}
	return n
}

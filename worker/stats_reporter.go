package worker

import (
	"context"
	"log"
	"time"

	"github.com/sgarate/canvaslive/service"
)

// StatsReporter periodically logs process-wide room and participant counts.
// Rooms are never reaped and tokens never expire, so these numbers are the
// main signal for memory growth on a long-lived process.
type StatsReporter struct {
	svc                *service.Service
	tickerMilliseconds int
}

func NewStatsReporter(svc *service.Service, tickerMilliseconds int) *StatsReporter {
	return &StatsReporter{
		svc:                svc,
		tickerMilliseconds: tickerMilliseconds,
	}
}

func (r *StatsReporter) Run(shutdownCtx context.Context) {
	ticker := time.NewTicker(time.Duration(r.tickerMilliseconds) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rooms, participants := r.svc.Stats()
			log.Printf("Collab stats: rooms=%d participants=%d", rooms, participants)

		case <-shutdownCtx.Done():
			return
		}
	}
}

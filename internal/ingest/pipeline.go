// Package ingest runs on the participant's device: it samples local
// telemetry and pushes it through a TelemetryWriter. The HTTP server never
// imports it; clients embed it next to a view.Projection.
package ingest

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"backend-caravan/internal/member"
	"backend-caravan/internal/shared/geo"
)

const (
	DefaultInterval         = 5 * time.Second
	DefaultMinDisplacementM = 5.0

	// sampling runs faster than the write interval so the displacement
	// trigger can fire between interval boundaries
	ticksPerInterval = 5
)

type Sample struct {
	Lat          float64
	Lng          float64
	Heading      float64
	Speed        float64
	BatteryLevel int
	IsCharging   bool
}

// TelemetrySource reads the device's current position and battery state.
type TelemetrySource interface {
	Sample(ctx context.Context) (Sample, error)
}

// TelemetryWriter persists a participant's own telemetry fields.
// *member.Service satisfies this.
type TelemetryWriter interface {
	UpdateTelemetry(ctx context.Context, sessionID, userID string, t member.TelemetryUpdate) (member.Participant, error)
}

// OfflineMarker runs the graceful presence stop when the pipeline winds
// down normally. *presence.Service satisfies this.
type OfflineMarker interface {
	MarkOffline(ctx context.Context, sessionID, userID string) error
}

type Config struct {
	SessionID        string
	UserID           string
	Source           TelemetrySource
	Writer           TelemetryWriter
	Presence         OfflineMarker // optional
	Removed          <-chan bool   // optional, from a SelfRemovalWatcher
	Interval         time.Duration
	MinDisplacementM float64
}

// Pipeline samples device telemetry while a session is active and writes it
// into the caller's own participant record at a bounded rate. It stops from
// any of three triggers (explicit Stop, detected removal, context cancel)
// and all of them converge on the same terminal state.
type Pipeline struct {
	cfg Config

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}

	removed atomic.Bool
	writes  atomic.Int64
}

func New(cfg Config) *Pipeline {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.MinDisplacementM <= 0 {
		cfg.MinDisplacementM = DefaultMinDisplacementM
	}
	return &Pipeline{
		cfg:    cfg,
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start launches the sampling loop. Call once.
func (p *Pipeline) Start(ctx context.Context) {
	go p.run(ctx)
}

// Stop is idempotent; any number of callers converge on one shutdown.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
}

// Done closes after the loop has fully wound down.
func (p *Pipeline) Done() <-chan struct{} {
	return p.done
}

// Writes reports how many telemetry writes succeeded.
func (p *Pipeline) Writes() int64 {
	return p.writes.Load()
}

func (p *Pipeline) run(ctx context.Context) {
	defer close(p.done)

	tick := p.cfg.Interval / ticksPerInterval
	if tick <= 0 {
		tick = p.cfg.Interval
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	var lastWritten Sample
	var hasWritten bool
	var lastWriteAt time.Time

	for {
		select {
		case <-ctx.Done():
			p.finish(false)
			return
		case <-p.stopCh:
			p.finish(false)
			return
		case removed, ok := <-p.cfg.Removed:
			if !ok {
				p.cfg.Removed = nil
				continue
			}
			if removed {
				// the row is already gone server-side; writing Offline
				// into it would be pointless
				p.removed.Store(true)
				p.Stop()
				p.finish(true)
				return
			}
		case now := <-ticker.C:
			sample, err := p.cfg.Source.Sample(ctx)
			if err != nil {
				log.Printf("telemetry sample failed: %v", err)
				continue
			}

			due := !hasWritten || now.Sub(lastWriteAt) >= p.cfg.Interval
			moved := hasWritten && geo.DisplacementM(lastWritten.Lat, lastWritten.Lng, sample.Lat, sample.Lng) >= p.cfg.MinDisplacementM
			if !due && !moved {
				continue
			}

			// fire-and-forget: the next sample supersedes a failed write
			_, err = p.cfg.Writer.UpdateTelemetry(ctx, p.cfg.SessionID, p.cfg.UserID, member.TelemetryUpdate{
				Lat:          sample.Lat,
				Lng:          sample.Lng,
				Heading:      sample.Heading,
				Speed:        sample.Speed,
				BatteryLevel: sample.BatteryLevel,
				IsCharging:   sample.IsCharging,
			})
			if err != nil {
				log.Printf("telemetry write failed: %v", err)
				continue
			}
			p.writes.Add(1)
			lastWritten = sample
			hasWritten = true
			lastWriteAt = now
		}
	}
}

// finish performs the graceful presence stop unless the participant was
// already removed server-side.
func (p *Pipeline) finish(removed bool) {
	if removed || p.removed.Load() || p.cfg.Presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.cfg.Presence.MarkOffline(ctx, p.cfg.SessionID, p.cfg.UserID); err != nil {
		log.Printf("graceful offline write failed: %v", err)
	}
}

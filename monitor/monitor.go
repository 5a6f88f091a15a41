// Package monitor owns sweep timing: the fixed-time or interval
// schedule, the out-of-band refresh trigger, and the fan-out across
// configured sites.
package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jhendriks/go-price-tracker/config"
	"github.com/jhendriks/go-price-tracker/models"
	"github.com/jhendriks/go-price-tracker/scraper"
)

// Checker produces a reading for one configured site.
type Checker interface {
	Check(ctx context.Context, site config.Site) models.Reading
}

// Publisher consumes the readings of a completed sweep.
type Publisher interface {
	PublishReadings(readings []models.Reading)
}

// Notifier receives sweep outcomes for external notification.
type Notifier interface {
	SweepCompleted(result models.SweepResult)
}

// Monitor drives sweeps. All sweep execution happens on the Run
// goroutine, so at most one sweep is in flight at any time; refresh
// requests arriving mid-sweep coalesce into exactly one trailing sweep.
type Monitor struct {
	cfg      *config.Config
	checker  Checker
	pub      Publisher
	notifier Notifier
	metrics  *scraper.Metrics
	log      *slog.Logger

	refresh chan struct{}
}

// New builds a monitor. notifier and metrics may be nil. The publisher
// is attached separately so the refresh trigger can be handed to the
// transport before the connection exists.
func New(cfg *config.Config, checker Checker, notifier Notifier, metrics *scraper.Metrics) *Monitor {
	return &Monitor{
		cfg:      cfg,
		checker:  checker,
		notifier: notifier,
		metrics:  metrics,
		log:      slog.With(slog.String("component", "monitor")),
		refresh:  make(chan struct{}, 1),
	}
}

// AttachPublisher sets the sweep output. Must be called before Run or
// Sweep.
func (m *Monitor) AttachPublisher(pub Publisher) {
	m.pub = pub
}

// RequestRefresh asks for an out-of-schedule sweep. Safe to call from
// any goroutine and never blocks; requests arriving while a refresh is
// already pending are dropped rather than queued. A request arriving
// before Run starts is held and served by the first loop iteration.
func (m *Monitor) RequestRefresh() {
	select {
	case m.refresh <- struct{}{}:
	default:
	}
}

// Run executes the schedule until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	schedule := m.cfg.Schedule()
	if schedule.Mode == config.ScheduleFixed {
		m.runFixed(ctx, schedule)
		return
	}
	m.runInterval(ctx, schedule)
}

// runFixed sleeps until the next occurrence of the configured local
// time. A start after today's run time waits for tomorrow; there is no
// catch-up sweep.
func (m *Monitor) runFixed(ctx context.Context, schedule config.Schedule) {
	for {
		target := nextRun(time.Now(), schedule.Hour, schedule.Minute)
		m.log.Info("scheduled execution calculated",
			slog.Time("next_run", target),
		)
		timer := time.NewTimer(time.Until(target))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-m.refresh:
			timer.Stop()
			m.Sweep(ctx, "refresh")
		case <-timer.C:
			m.Sweep(ctx, "scheduled")
		}
	}
}

// runInterval sweeps immediately, then re-arms the timer after every
// sweep so the interval is measured from completion and sweeps never
// stack up.
func (m *Monitor) runInterval(ctx context.Context, schedule config.Schedule) {
	m.Sweep(ctx, "startup")
	for {
		timer := time.NewTimer(schedule.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-m.refresh:
			timer.Stop()
			m.Sweep(ctx, "refresh")
		case <-timer.C:
			m.Sweep(ctx, "interval")
		}
	}
}

// Sweep fetches every configured site concurrently and hands the joined
// readings to the publisher. Site pipelines share no mutable state; a
// failing site only affects its own slot.
func (m *Monitor) Sweep(ctx context.Context, trigger string) models.SweepResult {
	result := models.SweepResult{
		Trigger:   trigger,
		StartTime: time.Now(),
	}

	if len(m.cfg.Sites) == 0 {
		m.log.Warn("no sites configured, skipping sweep")
		result.EndTime = time.Now()
		return result
	}

	m.metrics.IncSweep(trigger)
	m.log.Info("starting sweep",
		slog.String("trigger", trigger),
		slog.Int("site_count", len(m.cfg.Sites)),
	)

	readings := make([]models.Reading, len(m.cfg.Sites))
	var wg sync.WaitGroup
	for i, site := range m.cfg.Sites {
		wg.Add(1)
		go func(i int, site config.Site) {
			defer wg.Done()
			readings[i] = m.checker.Check(ctx, site)
		}(i, site)
	}
	wg.Wait()

	result.Readings = readings
	result.EndTime = time.Now()

	m.pub.PublishReadings(readings)
	if m.notifier != nil {
		m.notifier.SweepCompleted(result)
	}

	m.log.Info("sweep completed",
		slog.String("trigger", trigger),
		slog.Duration("duration", result.EndTime.Sub(result.StartTime)),
		slog.Int("failures", len(result.Failures())),
	)
	return result
}

// nextRun returns the next occurrence of hour:minute after now, today if
// still ahead, otherwise tomorrow.
func nextRun(now time.Time, hour, minute int) time.Time {
	target := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !target.After(now) {
		target = target.AddDate(0, 0, 1)
	}
	return target
}

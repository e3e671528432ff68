// Package recap runs the minute-grained housekeeping loop: converging the
// camera fleet, materializing daily rollups, pruning expired evidence and
// firing the weekly and monthly recap mails.
package recap

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/technosupport/ppe-sentinel/internal/data"
)

const (
	// cleanupBatch bounds one retention pass so a backlog cannot hold a
	// connection for minutes.
	cleanupBatch = 500

	jobTimeout = 5 * time.Minute
)

type RollupStore interface {
	MaterializeDailyRollup(ctx context.Context, day time.Time) error
	ListOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]data.ViolationEvent, error)
	DeleteByID(ctx context.Context, id int64) error
}

// EvidenceStore deletes stored evidence objects by their public URL.
type EvidenceStore interface {
	DeleteByURL(ctx context.Context, imageURL string) error
}

type RecapSender interface {
	SendRecap(ctx context.Context, start, end time.Time, templateKey, reportType string,
		userIDs, cctvIDs []int64) (int, error)
}

type FleetRefresher interface {
	RefreshState(ctx context.Context)
}

// Refresher is anything with a cache worth re-reading periodically.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Config carries the timing knobs. RecapHour/RecapMinute position the weekly
// and monthly sends inside their day.
type Config struct {
	Location      *time.Location
	RetentionDays int
	RecapHour     int
	RecapMinute   int
}

func (c Config) withDefaults() Config {
	if c.Location == nil {
		c.Location = time.Local
	}
	if c.RetentionDays <= 0 {
		c.RetentionDays = 32
	}
	if c.RecapHour == 0 && c.RecapMinute == 0 {
		c.RecapHour, c.RecapMinute = 7, 30
	}
	return c
}

// Scheduler ticks once a minute and dispatches whatever that minute owns.
// Recap sends run on their own goroutine with an in-flight guard so a slow
// SMTP relay cannot stall fleet convergence.
type Scheduler struct {
	cfg        Config
	violations RollupStore
	evidence   EvidenceStore
	sender     RecapSender
	fleet      FleetRefresher
	refreshers []Refresher

	recapBusy atomic.Bool
	quit      chan struct{}
	wg        sync.WaitGroup
}

func NewScheduler(cfg Config, violations RollupStore, evidence EvidenceStore,
	sender RecapSender, fleet FleetRefresher, refreshers ...Refresher) *Scheduler {

	return &Scheduler{
		cfg:        cfg.withDefaults(),
		violations: violations,
		evidence:   evidence,
		sender:     sender,
		fleet:      fleet,
		refreshers: refreshers,
		quit:       make(chan struct{}),
	}
}

func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.run()
	log.Println("[Recap] scheduler started")
}

func (s *Scheduler) Stop() {
	close(s.quit)
	s.wg.Wait()
	log.Println("[Recap] scheduler stopped")
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	// First sweep immediately so cameras come up without waiting a minute.
	s.refreshFleet()

	for {
		select {
		case <-s.quit:
			return
		case now := <-ticker.C:
			s.tick(now)
		}
	}
}

// tick dispatches one minute. All times are evaluated in the schedule
// timezone so "07:30 Monday" means the plant's Monday, not the host's.
func (s *Scheduler) tick(now time.Time) {
	local := now.In(s.cfg.Location)

	s.refreshFleet()

	if local.Minute() == 0 {
		s.materializeRollup(local)
	}
	if local.Hour() == 0 && local.Minute() == 5 {
		s.cleanupExpired(local)
	}
	if local.Minute()%10 == 0 {
		s.refreshCaches()
	}

	if local.Hour() == s.cfg.RecapHour && local.Minute() == s.cfg.RecapMinute {
		switch {
		case local.Day() == 1:
			s.dispatchRecap(monthlyWindow(local))
		case local.Weekday() == time.Monday:
			s.dispatchRecap(weeklyWindow(local))
		}
	}
}

func (s *Scheduler) refreshFleet() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	s.fleet.RefreshState(ctx)
}

func (s *Scheduler) refreshCaches() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	for _, r := range s.refreshers {
		if err := r.Refresh(ctx); err != nil {
			log.Printf("[Recap] cache refresh failed: %v", err)
		}
	}
}

func (s *Scheduler) materializeRollup(local time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.cfg.Location)
	if err := s.violations.MaterializeDailyRollup(ctx, day); err != nil {
		log.Printf("[Recap] rollup materialization failed: %v", err)
	}
}

// cleanupExpired deletes events past retention. The storage object goes
// first, best-effort: a missing object must not strand the row, and an
// orphaned object is collected on the next pass by URL.
func (s *Scheduler) cleanupExpired(local time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	cutoff := local.AddDate(0, 0, -s.cfg.RetentionDays)
	deleted := 0
	for {
		events, err := s.violations.ListOlderThan(ctx, cutoff, cleanupBatch)
		if err != nil {
			log.Printf("[Recap] retention query failed: %v", err)
			return
		}
		if len(events) == 0 {
			break
		}
		for _, ev := range events {
			if ev.Image != "" {
				if err := s.evidence.DeleteByURL(ctx, ev.Image); err != nil {
					log.Printf("[Recap] evidence delete for event %d failed: %v", ev.ID, err)
				}
			}
			if err := s.violations.DeleteByID(ctx, ev.ID); err != nil {
				log.Printf("[Recap] row delete for event %d failed: %v", ev.ID, err)
				continue
			}
			deleted++
		}
		if len(events) < cleanupBatch {
			break
		}
	}
	if deleted > 0 {
		log.Printf("[Recap] retention removed %d events older than %s", deleted, cutoff.Format("2006-01-02"))
	}
}

type recapWindow struct {
	start, end  time.Time
	templateKey string
	reportType  string
}

// weeklyWindow covers the previous Monday through Sunday, [start, end).
func weeklyWindow(local time.Time) recapWindow {
	end := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, local.Location())
	return recapWindow{
		start:       end.AddDate(0, 0, -7),
		end:         end,
		templateKey: "weekly_recap",
		reportType:  "Weekly",
	}
}

// monthlyWindow covers the previous calendar month, [start, end).
func monthlyWindow(local time.Time) recapWindow {
	end := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, local.Location())
	return recapWindow{
		start:       end.AddDate(0, -1, 0),
		end:         end,
		templateKey: "monthly_recap",
		reportType:  "Monthly",
	}
}

func (s *Scheduler) dispatchRecap(w recapWindow) {
	if !s.recapBusy.CompareAndSwap(false, true) {
		log.Printf("[Recap] %s recap skipped, previous send still running", w.reportType)
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.recapBusy.Store(false)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()

		sent, err := s.sender.SendRecap(ctx, w.start, w.end, w.templateKey, w.reportType, nil, nil)
		if err != nil {
			log.Printf("[Recap] %s recap failed: %v", w.reportType, err)
			return
		}
		log.Printf("[Recap] %s recap sent to %d recipients", w.reportType, sent)
	}()
}

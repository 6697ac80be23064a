// Package scheduler triggers a full or incremental sync on a time-of-day /
// day-of-week cadence, the Go counterpart of scheduler_service.py's
// SchedulerService. Where the source reached for APScheduler's CronTrigger,
// this rewrite uses robfig/cron/v3 — at most one cron entry is ever
// registered; updating the schedule removes the old entry before adding the
// replacement, so there is never more than one job armed at a time.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/robfig/cron/v3"

	"github.com/ledgersync/replicator/internal/syncerr"
	syncpkg "github.com/ledgersync/replicator/pkg/sync"
)

const component = "scheduler"

// Trigger is invoked when the schedule fires or RunNow is called. It is
// satisfied by a QueueTrigger wrapping a *queue.Queue, or by anything else
// that can turn a sync.Kind into a completed run.
type Trigger interface {
	Run(ctx context.Context, kind syncpkg.Kind) error
}

// Config is the schedule a caller wants enforced, mirroring the source's
// schedule_config dict.
type Config struct {
	Enabled    bool
	Kind       syncpkg.Kind
	TimeOfDay  string   // "HH:MM", 24-hour, local time.
	DaysOfWeek []string // lowercase three-letter names: "mon".."sun".
}

var dayAbbrev = map[string]struct{}{
	"sun": {}, "mon": {}, "tue": {}, "wed": {}, "thu": {}, "fri": {}, "sat": {},
}

func (c Config) validate() error {
	if c.Kind != syncpkg.KindFull && c.Kind != syncpkg.KindIncremental {
		return syncerr.New(syncerr.KindConfig, component, "unknown sync kind %q", c.Kind)
	}
	var hour, minute int
	if _, err := fmt.Sscanf(c.TimeOfDay, "%d:%d", &hour, &minute); err != nil {
		return syncerr.New(syncerr.KindConfig, component, "time_of_day %q must be HH:MM", c.TimeOfDay)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return syncerr.New(syncerr.KindConfig, component, "time_of_day %q out of range", c.TimeOfDay)
	}
	if len(c.DaysOfWeek) == 0 {
		return syncerr.New(syncerr.KindConfig, component, "days_of_week must not be empty")
	}
	for _, d := range c.DaysOfWeek {
		if _, ok := dayAbbrev[strings.ToLower(d)]; !ok {
			return syncerr.New(syncerr.KindConfig, component, "unknown day %q", d)
		}
	}
	return nil
}

func (c Config) spec() string {
	var hour, minute int
	_, _ = fmt.Sscanf(c.TimeOfDay, "%d:%d", &hour, &minute)
	days := make([]string, len(c.DaysOfWeek))
	for i, d := range c.DaysOfWeek {
		days[i] = strings.ToLower(d)
	}
	return fmt.Sprintf("%d %d * * %s", minute, hour, strings.Join(days, ","))
}

// Status reports the active configuration and its next scheduled run.
type Status struct {
	Config  Config
	Armed   bool
	NextRun time.Time
}

// Scheduler owns a single robfig/cron instance holding at most one entry.
type Scheduler struct {
	trigger Trigger
	log     logr.Logger

	cron    *cron.Cron
	mu      sync.Mutex
	cfg     Config
	entryID cron.EntryID
	armed   bool
}

// New returns a Scheduler that calls trigger.Run when its schedule fires.
func New(trigger Trigger, log logr.Logger) *Scheduler {
	return &Scheduler{
		trigger: trigger,
		log:     log.WithName(component),
		cron:    cron.New(),
	}
}

// Start launches the underlying cron goroutine. Call once.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the cron goroutine, waiting for any in-flight job. The
// returned context is done once that wait completes.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// Update replaces the active schedule. Passing cfg.Enabled=false disarms the
// scheduler without forgetting the rest of the configuration.
func (s *Scheduler) Update(cfg Config) error {
	if cfg.Enabled {
		if err := cfg.validate(); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.armed {
		s.cron.Remove(s.entryID)
		s.armed = false
	}
	s.cfg = cfg

	if !cfg.Enabled {
		s.log.Info("schedule disabled")
		return nil
	}

	id, err := s.cron.AddFunc(cfg.spec(), func() { s.fire(cfg.Kind) })
	if err != nil {
		return syncerr.Wrap(syncerr.KindConfig, component, err, "register schedule %q", cfg.spec())
	}
	s.entryID = id
	s.armed = true
	s.log.Info("schedule armed", "spec", cfg.spec(), "kind", cfg.Kind)
	return nil
}

func (s *Scheduler) fire(kind syncpkg.Kind) {
	s.log.Info("scheduled sync firing", "kind", kind)
	if err := s.trigger.Run(context.Background(), kind); err != nil {
		s.log.Error(err, "scheduled sync failed", "kind", kind)
	}
}

// RunNow triggers an out-of-band run using the active configuration's kind,
// independent of the schedule's next fire time.
func (s *Scheduler) RunNow(ctx context.Context) error {
	s.mu.Lock()
	kind := s.cfg.Kind
	if kind == "" {
		kind = syncpkg.KindIncremental
	}
	s.mu.Unlock()
	return s.trigger.Run(ctx, kind)
}

// CurrentStatus reports the active config and, when armed, the next run.
func (s *Scheduler) CurrentStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{Config: s.cfg, Armed: s.armed}
	if s.armed {
		for _, e := range s.cron.Entries() {
			if e.ID == s.entryID {
				st.NextRun = e.Next
				break
			}
		}
	}
	return st
}

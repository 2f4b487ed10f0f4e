package core

// scheduler.go triggers periodic full reloads on a cron schedule.
//
// Each tick calls StartRun. A tick that finds a run already active is
// skipped and logged; the next tick tries again. The scheduler stops when
// the context passed to StartScheduler is cancelled.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// TriggerSchedule marks runs started by the scheduler.
const TriggerSchedule = "schedule"

type schedule struct {
	cron  *cron.Cron
	entry cron.EntryID
	spec  string
}

// StartScheduler starts loading with opts on every tick of spec, a standard
// five-field cron expression or a descriptor such as "@daily".
func (s *Service) StartScheduler(ctx context.Context, spec string, opts LoadOptions) error {
	s.schedMu.Lock()
	defer s.schedMu.Unlock()
	if s.sched != nil {
		return errors.New("scheduler already started")
	}

	opts.Trigger = TriggerSchedule
	c := cron.New()
	id, err := c.AddFunc(spec, func() {
		runID, err := s.StartRun(ctx, opts)
		if errors.Is(err, ErrRunInProgress) {
			slog.Warn("scheduled load skipped, a run is already active")
			return
		}
		if err != nil {
			slog.Error("scheduled load failed to start", "error", err)
			return
		}
		slog.Info("scheduled load started", "run_id", runID)
	})
	if err != nil {
		return fmt.Errorf("parse schedule %q: %w", spec, err)
	}

	s.sched = &schedule{cron: c, entry: id, spec: spec}
	c.Start()
	slog.Info("load scheduler started", "schedule", spec, "next", c.Entry(id).Next)

	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
		slog.Info("load scheduler stopped")
	}()
	return nil
}

// ScheduleStatus describes the configured schedule.
type ScheduleStatus struct {
	Enabled bool      `json:"enabled"`
	Spec    string    `json:"spec,omitempty"`
	Next    time.Time `json:"next,omitzero"`
	Prev    time.Time `json:"prev,omitzero"`
}

// Schedule reports the scheduler state.
func (s *Service) Schedule() ScheduleStatus {
	s.schedMu.Lock()
	defer s.schedMu.Unlock()
	if s.sched == nil {
		return ScheduleStatus{}
	}
	e := s.sched.cron.Entry(s.sched.entry)
	return ScheduleStatus{Enabled: true, Spec: s.sched.spec, Next: e.Next, Prev: e.Prev}
}

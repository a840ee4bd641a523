// Package scheduler runs the engine's periodic ticks on robfig/cron.
//
// Every job is wrapped with Recover and SkipIfStillRunning: a slow sender
// tick never overlaps itself, and a panic is logged instead of killing the
// process.
package scheduler

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	logx "outreach/pkg/logx"
)

// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

type Job func(ctx context.Context)

type def struct {
	name    string
	spec    ParsedSpec
	timeout time.Duration
	job     Job
	entryID cron.EntryID
	spread  time.Duration
	runs    atomic.Uint64
}

// EntryInfo describes one registered schedule.
type EntryInfo struct {
	Name   string        `json:"name"`
	Spec   string        `json:"spec"`
	Spread time.Duration `json:"spread,omitempty"`
	Next   time.Time     `json:"next,omitzero"`
	Prev   time.Time     `json:"prev,omitzero"`
	Runs   uint64        `json:"runs"`
}

type Service struct {
	mu   sync.Mutex
	log  logx.Logger
	loc  *time.Location
	c    *cron.Cron
	ctx  context.Context
	defs map[string]*def
}

func New(loc *time.Location, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if loc == nil {
		loc = time.Local
	}
	return &Service{log: log.With(logx.String("comp", "scheduler")), loc: loc, defs: map[string]*def{}}
}

// Set registers job under name, replacing a previous schedule with the same
// name. Setting the same schedule again keeps the running entry and only
// swaps the job and timeout, so a hot reload does not reset the cadence.
func (s *Service) Set(name, schedule string, timeout time.Duration, job Job) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("name required")
	}
	if job == nil {
		return errors.New("job required")
	}
	ps, err := ParseSchedule(schedule)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.defs[name]; ok {
		if d.spec == ps {
			d.job, d.timeout = job, timeout
			return nil
		}
		s.removeLocked(name)
	}
	d := &def{name: name, spec: ps, timeout: timeout, job: job}
	s.defs[name] = d
	if s.c != nil {
		s.addLocked(d)
	}
	s.log.Debug("schedule set", logx.String("name", name), logx.String("spec", ps.String()), logx.Duration("timeout", timeout))
	return nil
}

// Remove unschedules name and reports whether it existed.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(name)
}

func (s *Service) removeLocked(name string) bool {
	d, ok := s.defs[name]
	if !ok {
		return false
	}
	if s.c != nil && d.entryID != 0 {
		s.c.Remove(d.entryID)
	}
	delete(s.defs, name)
	return true
}

func (s *Service) addLocked(d *def) {
	cl := cronLogger{log: s.log}
	job := cron.NewChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)).Then(cron.FuncJob(func() {
		s.run(d)
	}))
	if d.spec.Kind == SpecInterval {
		sched, spread := intervalWithSpread(d.spec.Every, time.Now().In(s.loc))
		d.spread = spread
		d.entryID = s.c.Schedule(sched, job)
		return
	}
	sched, err := cronParser.Parse(d.spec.Cron)
	if err != nil {
		// ParseSchedule already validated it.
		s.log.Error("schedule register failed", logx.String("name", d.name), logx.Err(err))
		return
	}
	d.entryID = s.c.Schedule(sched, job)
}

func (s *Service) run(d *def) {
	s.mu.Lock()
	base := s.ctx
	job, timeout := d.job, d.timeout
	s.mu.Unlock()
	if base == nil || base.Err() != nil {
		return
	}
	ctx := base
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(base, timeout)
		defer cancel()
	}
	d.runs.Add(1)
	start := time.Now()
	job(ctx)
	if took := time.Since(start); timeout > 0 && took > timeout {
		s.log.Warn("tick overran its timeout", logx.String("name", d.name), logx.Duration("took", took), logx.Duration("timeout", timeout))
	}
}

// Start begins triggering. Jobs get a context derived from ctx.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.ctx = ctx
	s.c = cron.New(cron.WithParser(cronParser), cron.WithLocation(s.loc), cron.WithLogger(cronLogger{log: s.log}))
	for _, d := range s.defs {
		s.addLocked(d)
	}
	s.c.Start()
	s.log.Info("service started", logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.defs)))
}

// Stop stops triggering and waits for running jobs until ctx is done.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	c := s.c
	s.c = nil
	for _, d := range s.defs {
		d.entryID = 0
	}
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		s.log.Warn("stop timed out with ticks still running")
	}
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}

// Snapshot lists the schedules with their next and previous run times.
func (s *Service) Snapshot() []EntryInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]EntryInfo, 0, len(s.defs))
	for _, d := range s.defs {
		info := EntryInfo{Name: d.name, Spec: d.spec.String(), Spread: d.spread, Runs: d.runs.Load()}
		if s.c != nil && d.entryID != 0 {
			e := s.c.Entry(d.entryID)
			info.Next, info.Prev = e.Next, e.Prev
		}
		out = append(out, info)
	}
	slices.SortFunc(out, func(a, b EntryInfo) int { return cmp.Compare(a.Name, b.Name) })
	return out
}

// ABOUTME: Scheduled usage reports: daily at 00:01, weekly on Mondays, monthly on the 1st
// ABOUTME: Pulls live stats from the panel, diffs against stored snapshots, notifies the admin

package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"vpnbot/internal/store"
	"vpnbot/internal/xui"
)

// Notifier delivers report messages. Satisfied by the bot.
type Notifier interface {
	NotifyHTML(chatID int64, text string) error
}

// Panel is the slice of the 3x-ui client the scheduler needs
type Panel interface {
	Inbounds(ctx context.Context) ([]*xui.Inbound, error)
}

// Store is the slice of the persistence layer the scheduler needs
type Store interface {
	GetSetting(ctx context.Context, key string) (string, bool, error)
	PutSetting(ctx context.Context, key, value string) error
	SaveTrafficDay(ctx context.Context, day *store.TrafficDay) error
	PeriodStats(ctx context.Context, startDate, endDate string) ([]*store.PeriodStat, error)
	SaveSnapshot(ctx context.Context, snap *store.Snapshot) error
	GetSnapshot(ctx context.Context, email, date string) (*store.Snapshot, error)
	ListSnapshots(ctx context.Context, email string, maxDays int) ([]*store.Snapshot, error)
}

// Config holds scheduler parameters
type Config struct {
	AdminChatID int64
	ChunkSize   int
	Location    *time.Location // defaults to time.Local
}

// Scheduler runs the report jobs on their daily boundary
type Scheduler struct {
	store    Store
	panel    Panel
	notifier Notifier
	cfg      Config
	logger   *slog.Logger
}

// historyWindow bounds how far back inactivity streaks look
const historyWindow = 30

// lastRunKey marks the last date a report ran, so a restart right after
// midnight does not send it twice
const lastRunKey = "report.last_run"

// New creates a report scheduler. It does not start until Run is called.
func New(cfg Config, st Store, panel Panel, notifier Notifier) *Scheduler {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Scheduler{
		store:    st,
		panel:    panel,
		notifier: notifier,
		cfg:      cfg,
		logger:   slog.Default().With("component", "report"),
	}
}

// Run blocks until the context is canceled, firing the report jobs at
// 00:01 local time each day.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("report scheduler started")
	for {
		now := time.Now().In(s.cfg.Location)
		next := nextRunTime(now)

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("report scheduler stopped")
			return
		case fired := <-timer.C:
			if err := s.RunOnce(ctx, fired.In(s.cfg.Location)); err != nil {
				s.logger.Error("report run failed", "error", err)
			}
		}
	}
}

// nextRunTime returns the next 00:01 boundary after now
func nextRunTime(now time.Time) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), 0, 1, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// RunOnce executes the jobs due at the given instant: the daily report
// always, the weekly on Mondays, the monthly on the 1st. After
// reporting it records today's snapshots and traffic rows.
func (s *Scheduler) RunOnce(ctx context.Context, now time.Time) error {
	today := now.Format("2006-01-02")

	lastRun, ok, err := s.store.GetSetting(ctx, lastRunKey)
	if err != nil {
		return err
	}
	if ok && lastRun == today {
		s.logger.Info("report already sent today", "date", today)
		return nil
	}

	stats, err := s.collectStats(ctx)
	if err != nil {
		return fmt.Errorf("collecting panel stats: %w", err)
	}

	yesterday := now.AddDate(0, 0, -1).Format("2006-01-02")

	prev := make(map[string]*store.Snapshot, len(stats))
	history := make(map[string][]*store.Snapshot, len(stats))
	for _, stat := range stats {
		snap, err := s.store.GetSnapshot(ctx, stat.Email, yesterday)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if snap != nil {
			prev[stat.Email] = snap
		}
		snaps, err := s.store.ListSnapshots(ctx, stat.Email, historyWindow)
		if err != nil {
			return err
		}
		history[stat.Email] = snaps
	}

	rows := BuildRows(stats, prev, history)
	s.deliver(RenderDaily(today, rows, s.cfg.ChunkSize))

	if now.Weekday() == time.Monday {
		start := now.AddDate(0, 0, -7).Format("2006-01-02")
		weekly, err := s.store.PeriodStats(ctx, start, yesterday)
		if err != nil {
			return err
		}
		s.deliver(RenderPeriod("Weekly report — "+start+" to "+yesterday, weekly, s.cfg.ChunkSize))
	}

	if now.Day() == 1 {
		start := now.AddDate(0, 0, -30).Format("2006-01-02")
		monthly, err := s.store.PeriodStats(ctx, start, yesterday)
		if err != nil {
			return err
		}
		s.deliver(RenderPeriod("Monthly report — "+start+" to "+yesterday, monthly, s.cfg.ChunkSize))
	}

	if err := s.backfill(ctx, stats, prev, today); err != nil {
		return err
	}
	return s.store.PutSetting(ctx, lastRunKey, today)
}

// collectStats flattens client traffic rows across all inbounds,
// deduplicated by email
func (s *Scheduler) collectStats(ctx context.Context) ([]*xui.ClientStat, error) {
	inbounds, err := s.panel.Inbounds(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var stats []*xui.ClientStat
	for _, inbound := range inbounds {
		for i := range inbound.ClientStats {
			stat := &inbound.ClientStats[i]
			if stat.Email == "" || seen[stat.Email] {
				continue
			}
			seen[stat.Email] = true
			stats = append(stats, stat)
		}
	}
	return stats, nil
}

// backfill records today's counters so tomorrow's report has a baseline
func (s *Scheduler) backfill(ctx context.Context, stats []*xui.ClientStat, prev map[string]*store.Snapshot, today string) error {
	for _, stat := range stats {
		if err := s.store.SaveSnapshot(ctx, &store.Snapshot{
			Email:   stat.Email,
			Up:      stat.Up,
			Down:    stat.Down,
			AllTime: stat.AllTime(),
			Date:    today,
		}); err != nil {
			return err
		}

		day := &store.TrafficDay{Email: stat.Email, Date: today}
		if p, ok := prev[stat.Email]; ok {
			day.Up = clampDelta(stat.Up, p.Up)
			day.Down = clampDelta(stat.Down, p.Down)
		}
		if err := s.store.SaveTrafficDay(ctx, day); err != nil {
			return err
		}
	}
	return nil
}

// clampDelta handles panel counter resets, where current drops below
// the previous snapshot
func clampDelta(current, previous int64) int64 {
	if current < previous {
		return current
	}
	return current - previous
}

// deliver sends the chunked report messages to the admin chat
func (s *Scheduler) deliver(messages []string) {
	for _, msg := range messages {
		if err := s.notifier.NotifyHTML(s.cfg.AdminChatID, msg); err != nil {
			s.logger.Error("delivering report failed", "error", err)
		}
	}
}

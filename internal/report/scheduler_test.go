package report

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vpnbot/internal/store"
	"vpnbot/internal/xui"
)

// fakeNotifier records delivered report messages
type fakeNotifier struct {
	messages []string
}

func (f *fakeNotifier) NotifyHTML(chatID int64, text string) error {
	f.messages = append(f.messages, text)
	return nil
}

// fakePanel serves a fixed inbound list
type fakePanel struct {
	inbounds []*xui.Inbound
	err      error
}

func (f *fakePanel) Inbounds(ctx context.Context) ([]*xui.Inbound, error) {
	return f.inbounds, f.err
}

func setupScheduler(t *testing.T, panel *fakePanel) (*Scheduler, *store.SQLiteStore, *fakeNotifier) {
	t.Helper()

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	notifier := &fakeNotifier{}
	s := New(Config{AdminChatID: 999, ChunkSize: 30, Location: time.UTC}, st, panel, notifier)
	return s, st, notifier
}

func TestNextRunTime(t *testing.T) {
	loc := time.UTC

	// Before 00:01: today
	now := time.Date(2026, 8, 24, 0, 0, 30, 0, loc)
	assert.Equal(t, time.Date(2026, 8, 24, 0, 1, 0, 0, loc), nextRunTime(now))

	// After 00:01: tomorrow
	now = time.Date(2026, 8, 24, 12, 0, 0, 0, loc)
	assert.Equal(t, time.Date(2026, 8, 25, 0, 1, 0, 0, loc), nextRunTime(now))

	// Exactly on the boundary: tomorrow
	now = time.Date(2026, 8, 24, 0, 1, 0, 0, loc)
	assert.Equal(t, time.Date(2026, 8, 25, 0, 1, 0, 0, loc), nextRunTime(now))
}

func TestConsecutiveInactive(t *testing.T) {
	snaps := []*store.Snapshot{ // newest first
		{AllTime: 500, Date: "2026-08-23"},
		{AllTime: 500, Date: "2026-08-22"},
		{AllTime: 500, Date: "2026-08-21"},
		{AllTime: 300, Date: "2026-08-20"},
	}
	assert.Equal(t, 2, ConsecutiveInactive(snaps))

	assert.Equal(t, 0, ConsecutiveInactive(nil))
	assert.Equal(t, 0, ConsecutiveInactive([]*store.Snapshot{{AllTime: 1}}))

	active := []*store.Snapshot{{AllTime: 600}, {AllTime: 500}}
	assert.Equal(t, 0, ConsecutiveInactive(active))
}

func TestBuildRows(t *testing.T) {
	stats := []*xui.ClientStat{
		{Email: "alice", Up: 100, Down: 400}, // 500, was 300 → +200
		{Email: "bob", Up: 50, Down: 50},     // 100, was 100 → idle
		{Email: "carol", Up: 10, Down: 10},   // 20, no snapshot → new
	}
	prev := map[string]*store.Snapshot{
		"alice": {AllTime: 300},
		"bob":   {AllTime: 100},
	}
	history := map[string][]*store.Snapshot{
		"bob": {{AllTime: 100}, {AllTime: 100}, {AllTime: 80}},
	}

	rows := BuildRows(stats, prev, history)
	require.Len(t, rows, 3)

	// Sorted by delta descending, ties broken by total
	assert.Equal(t, "alice", rows[0].Email)
	assert.Equal(t, int64(200), rows[0].Delta)

	assert.Equal(t, "bob", rows[1].Email)
	assert.Equal(t, int64(0), rows[1].Delta)
	assert.Equal(t, 2, rows[1].InactiveDays, "today plus one unchanged transition")

	assert.Equal(t, "carol", rows[2].Email, "new client sorts last on total")
}

func TestBuildRows_CounterReset(t *testing.T) {
	stats := []*xui.ClientStat{{Email: "alice", Up: 10, Down: 20}}
	prev := map[string]*store.Snapshot{"alice": {AllTime: 9000}}

	rows := BuildRows(stats, prev, nil)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(30), rows[0].Delta, "reset counters fall back to the new total")
}

func TestRenderDaily_Chunking(t *testing.T) {
	rows := make([]Row, 5)
	for i := range rows {
		rows[i] = Row{Email: "client", AllTime: int64(i + 1), Delta: int64(i + 1)}
	}

	messages := RenderDaily("2026-08-24", rows, 2)
	require.Len(t, messages, 3)
	assert.Contains(t, messages[0], "Daily report — 2026-08-24")
	assert.Contains(t, messages[0], "<pre>")
	assert.Contains(t, messages[1], "cont. 2")
}

func TestRenderDaily_Empty(t *testing.T) {
	messages := RenderDaily("2026-08-24", nil, 30)
	require.Len(t, messages, 1)
	assert.Contains(t, messages[0], "No clients")
}

func TestRunOnce_DailyOnly(t *testing.T) {
	panel := &fakePanel{inbounds: []*xui.Inbound{{
		ID: 1,
		ClientStats: []xui.ClientStat{
			{Email: "alice", Up: 100, Down: 400},
		},
	}}}
	s, st, notifier := setupScheduler(t, panel)
	ctx := context.Background()

	// A Tuesday that is not the 1st: only the daily report fires
	now := time.Date(2026, 8, 25, 0, 1, 0, 0, time.UTC)
	require.NoError(t, s.RunOnce(ctx, now))

	require.Len(t, notifier.messages, 1)
	assert.Contains(t, notifier.messages[0], "Daily report")
	assert.Contains(t, notifier.messages[0], "alice")

	// Snapshot backfilled for tomorrow's baseline
	snap, err := st.GetSnapshot(ctx, "alice", "2026-08-25")
	require.NoError(t, err)
	assert.Equal(t, int64(500), snap.AllTime)
}

func TestRunOnce_DeltaAgainstYesterday(t *testing.T) {
	panel := &fakePanel{inbounds: []*xui.Inbound{{
		ID:          1,
		ClientStats: []xui.ClientStat{{Email: "alice", Up: 150, Down: 450}},
	}}}
	s, st, notifier := setupScheduler(t, panel)
	ctx := context.Background()

	require.NoError(t, st.SaveSnapshot(ctx, &store.Snapshot{
		Email: "alice", Up: 100, Down: 400, AllTime: 500, Date: "2026-08-24",
	}))

	now := time.Date(2026, 8, 25, 0, 1, 0, 0, time.UTC)
	require.NoError(t, s.RunOnce(ctx, now))

	require.Len(t, notifier.messages, 1)
	assert.Contains(t, notifier.messages[0], "+100 B")

	// Traffic day carries the per-direction deltas
	stats, err := st.PeriodStats(ctx, "2026-08-25", "2026-08-25")
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, int64(100), stats[0].PeriodTraffic)
}

func TestRunOnce_WeeklyOnMonday(t *testing.T) {
	panel := &fakePanel{inbounds: []*xui.Inbound{{ID: 1}}}
	s, st, notifier := setupScheduler(t, panel)
	ctx := context.Background()

	require.NoError(t, st.SaveTrafficDay(ctx, &store.TrafficDay{
		Email: "alice", Up: 10, Down: 20, Date: "2026-08-20",
	}))

	// 2026-08-24 is a Monday
	now := time.Date(2026, 8, 24, 0, 1, 0, 0, time.UTC)
	require.NoError(t, s.RunOnce(ctx, now))

	require.Len(t, notifier.messages, 2)
	assert.Contains(t, notifier.messages[1], "Weekly report")
	assert.Contains(t, notifier.messages[1], "alice")
}

func TestRunOnce_MonthlyOnFirst(t *testing.T) {
	panel := &fakePanel{inbounds: []*xui.Inbound{{ID: 1}}}
	s, st, notifier := setupScheduler(t, panel)
	ctx := context.Background()

	require.NoError(t, st.SaveTrafficDay(ctx, &store.TrafficDay{
		Email: "bob", Up: 5, Down: 5, Date: "2026-08-20",
	}))

	// 2026-09-01 is a Tuesday, so daily + monthly only
	now := time.Date(2026, 9, 1, 0, 1, 0, 0, time.UTC)
	require.NoError(t, s.RunOnce(ctx, now))

	require.Len(t, notifier.messages, 2)
	assert.Contains(t, notifier.messages[1], "Monthly report")
	assert.Contains(t, notifier.messages[1], "bob")
}

func TestRunOnce_SkipsDuplicateDay(t *testing.T) {
	panel := &fakePanel{inbounds: []*xui.Inbound{{
		ID:          1,
		ClientStats: []xui.ClientStat{{Email: "alice", Up: 1, Down: 1}},
	}}}
	s, _, notifier := setupScheduler(t, panel)
	ctx := context.Background()

	now := time.Date(2026, 8, 25, 0, 1, 0, 0, time.UTC)
	require.NoError(t, s.RunOnce(ctx, now))
	require.Len(t, notifier.messages, 1)

	// A restart on the same day must not resend
	require.NoError(t, s.RunOnce(ctx, now))
	assert.Len(t, notifier.messages, 1)
}

func TestRunOnce_PanelDown(t *testing.T) {
	panel := &fakePanel{err: assert.AnError}
	s, _, notifier := setupScheduler(t, panel)

	err := s.RunOnce(context.Background(), time.Now())
	assert.Error(t, err)
	assert.Empty(t, notifier.messages)
}

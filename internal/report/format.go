// ABOUTME: Pure report math and rendering: deltas, inactivity streaks, tables
// ABOUTME: Separated from the scheduler so the numbers are unit-testable

package report

import (
	"fmt"
	"sort"
	"strings"

	"vpnbot/internal/store"
	"vpnbot/internal/xui"
)

// Row is one client's line in the daily report
type Row struct {
	Email        string
	AllTime      int64
	Delta        int64 // traffic since the previous snapshot
	InactiveDays int   // consecutive days with no counter movement
}

// BuildRows computes daily report rows from live panel stats and stored
// snapshots. prev holds yesterday's snapshot per email; history holds
// recent snapshots newest first.
func BuildRows(stats []*xui.ClientStat, prev map[string]*store.Snapshot, history map[string][]*store.Snapshot) []Row {
	rows := make([]Row, 0, len(stats))
	for _, stat := range stats {
		row := Row{
			Email:   stat.Email,
			AllTime: stat.AllTime(),
		}
		if p, ok := prev[stat.Email]; ok {
			row.Delta = stat.AllTime() - p.AllTime
			// Panel counters reset when an inbound is recreated
			if row.Delta < 0 {
				row.Delta = stat.AllTime()
			}
		}
		if row.Delta == 0 {
			row.InactiveDays = 1 + ConsecutiveInactive(history[stat.Email])
		}
		rows = append(rows, row)
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Delta != rows[j].Delta {
			return rows[i].Delta > rows[j].Delta
		}
		return rows[i].AllTime > rows[j].AllTime
	})
	return rows
}

// ConsecutiveInactive counts how many of the most recent snapshot-to-
// snapshot transitions moved no traffic. Snapshots are newest first.
func ConsecutiveInactive(snaps []*store.Snapshot) int {
	count := 0
	for i := 0; i+1 < len(snaps); i++ {
		if snaps[i].AllTime != snaps[i+1].AllTime {
			break
		}
		count++
	}
	return count
}

// RenderDaily renders the daily report as chunked <pre> tables
func RenderDaily(date string, rows []Row, chunkSize int) []string {
	if len(rows) == 0 {
		return []string{fmt.Sprintf("📊 <b>Daily report — %s</b>\n\nNo clients on the panel.", date)}
	}

	header := fmt.Sprintf("📊 <b>Daily report — %s</b>", date)
	lines := make([]string, 0, len(rows))
	for _, row := range rows {
		activity := "+" + xui.FormatBytes(row.Delta)
		if row.Delta == 0 {
			activity = fmt.Sprintf("idle %dd", row.InactiveDays)
		}
		lines = append(lines, fmt.Sprintf("%-20s %10s %10s",
			truncate(row.Email, 20), xui.FormatBytes(row.AllTime), activity))
	}
	return chunk(header, "client               total        today", lines, chunkSize)
}

// RenderPeriod renders weekly/monthly aggregates as chunked <pre> tables
func RenderPeriod(title string, stats []*store.PeriodStat, chunkSize int) []string {
	if len(stats) == 0 {
		return []string{fmt.Sprintf("📊 <b>%s</b>\n\nNo traffic recorded.", title)}
	}

	header := fmt.Sprintf("📊 <b>%s</b>", title)
	lines := make([]string, 0, len(stats))
	for _, st := range stats {
		lines = append(lines, fmt.Sprintf("%-20s %10s %6dd",
			truncate(st.Email, 20), xui.FormatBytes(st.PeriodTraffic), st.ActiveDays))
	}
	return chunk(header, "client               traffic    active", lines, chunkSize)
}

// chunk splits table lines into messages of at most chunkSize rows,
// each wrapped in <pre> with the column header repeated
func chunk(title, columns string, lines []string, chunkSize int) []string {
	if chunkSize <= 0 {
		chunkSize = len(lines)
	}

	var messages []string
	for start := 0; start < len(lines); start += chunkSize {
		end := min(start+chunkSize, len(lines))

		var sb strings.Builder
		if start == 0 {
			sb.WriteString(title)
		} else {
			sb.WriteString(title + fmt.Sprintf(" (cont. %d)", start/chunkSize+1))
		}
		sb.WriteString("\n<pre>")
		sb.WriteString(columns + "\n")
		sb.WriteString(strings.Join(lines[start:end], "\n"))
		sb.WriteString("</pre>")
		messages = append(messages, sb.String())
	}
	return messages
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

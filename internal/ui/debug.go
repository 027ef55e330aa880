package ui

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/abelbrown/waitwiki/internal/otel"
)

// debugPanelChrome is the number of terminal lines consumed by DebugPanel's
// border (top + bottom = 2) and vertical padding (top + bottom = 2).
// Must be updated if DebugPanel style changes.
const debugPanelChrome = 4

// debugOverlay renders the debug panel showing engine counters and recent
// events. Pure function with no side effects. Returns "" if ring is nil.
func debugOverlay(ring *otel.RingBuffer, width, height int) string {
	if ring == nil {
		return ""
	}

	sum := ring.Summary()
	recent := ring.Last(20)

	var lines []string
	lines = append(lines, DebugHeaderStyle.Render("Engine Stats"))
	lines = append(lines, fmt.Sprintf("  Fetches:    %d complete, %d fallback, %d errors",
		sum.FetchOK, sum.FetchFallback, sum.FetchFailed))
	lines = append(lines, fmt.Sprintf("  Cards:      %d shown, %d rejected, %d empty",
		sum.CardsShown, sum.CardsRejected, sum.CardsEmpty))
	if top := topCategories(sum.ShownBy, 3); top != "" {
		lines = append(lines, "  Shown:      "+top)
	}
	lines = append(lines, fmt.Sprintf("  Refills:    %d preload, %d batch, %d periodic, %d sources down",
		sum.Preloads, sum.Batches, sum.PeriodicRuns, sum.Failures))
	lines = append(lines, fmt.Sprintf("  Filter:     %d relaxed%s", sum.Relaxed(), stageBreakdown(sum.RelaxedBy)))
	lines = append(lines, fmt.Sprintf("  Store:      %d persisted, %d errors",
		sum.Persisted, sum.StoreErrors))
	lines = append(lines, fmt.Sprintf("  Buffer:     %d / %d events", ring.Len(), ring.Cap()))
	lines = append(lines, "")

	lines = append(lines, DebugHeaderStyle.Render("Recent Events"))
	for _, e := range recent {
		line := fmt.Sprintf("  %6s  %-22s", formatAge(time.Since(e.Time)), string(e.Kind))
		if e.Category != "" {
			line += "  " + e.Category
		}
		if e.Msg != "" {
			line += "  " + truncateRunes(e.Msg, 40)
		}
		if e.Err != "" {
			line += "  ERR:" + truncateRunes(e.Err, 30)
		}
		lines = append(lines, line)
	}

	// Subtract the chrome added by DebugPanel border/padding.
	maxHeight := max(height-debugPanelChrome, 1)
	if len(lines) > maxHeight {
		lines = lines[:maxHeight]
	}

	panelWidth := max(min(76, width-4), 20)
	return DebugPanel.Width(panelWidth).Render(strings.Join(lines, "\n"))
}

// topCategories lists the n most-shown categories as "quotes 4, advice 2".
func topCategories(counts map[string]int, n int) string {
	cats := make([]string, 0, len(counts))
	for c := range counts {
		cats = append(cats, c)
	}
	sort.Slice(cats, func(i, j int) bool {
		if counts[cats[i]] != counts[cats[j]] {
			return counts[cats[i]] > counts[cats[j]]
		}
		return cats[i] < cats[j]
	})
	if len(cats) > n {
		cats = cats[:n]
	}
	parts := make([]string, len(cats))
	for i, c := range cats {
		parts[i] = fmt.Sprintf("%s %d", c, counts[c])
	}
	return strings.Join(parts, ", ")
}

// stageBreakdown renders relaxations per guard stage as " (reset 2, short-queue 1)".
func stageBreakdown(by map[string]int) string {
	if len(by) == 0 {
		return ""
	}
	return " (" + topCategories(by, len(by)) + ")"
}

// formatAge formats a duration as a compact human string.
// Handles negative durations from clock skew by clamping to "0ms".
func formatAge(d time.Duration) string {
	if d < 0 {
		return "0ms"
	}
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	default:
		return fmt.Sprintf("%.0fm", d.Minutes())
	}
}

// truncateRunes shortens s to n runes, marking the cut with an ellipsis.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	if n <= 1 {
		return "…"
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}

// debugStatusBar renders the status bar for the debug overlay.
func debugStatusBar(width int) string {
	keys := StatusBarKey.Render("d") + StatusBarText.Render(":close")
	return StatusBar.Width(width).Render("  [DEBUG]  " + keys)
}

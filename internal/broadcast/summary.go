package broadcast

import (
	"fmt"
	"sort"
	"strings"
)

// maxErrorLines bounds the detailed error section of an admin summary
// so a broadcast to hundreds of subscribers cannot produce an oversized
// message.
const maxErrorLines = 10

// Summary aggregates per-subscriber results of one broadcast.
type Summary struct {
	SignalID string
	Total    int
	ByStatus map[TradeStatus]int
	Results  []Result

	errorLines []string
	truncated  int
}

// NewSummary creates an empty summary for a signal.
func NewSummary(signalID string) *Summary {
	return &Summary{
		SignalID: signalID,
		ByStatus: make(map[TradeStatus]int),
	}
}

// Add tallies one result.
func (s *Summary) Add(r Result) {
	s.Total++
	s.ByStatus[r.Status]++
	s.Results = append(s.Results, r)

	if r.Succeeded() || r.Status == StatusSkipped {
		return
	}
	if len(s.errorLines) < maxErrorLines {
		name := r.Username
		if name == "" {
			name = fmt.Sprintf("id:%d", r.TelegramID)
		}
		s.errorLines = append(s.errorLines, fmt.Sprintf("%s: %s (%s)", name, r.Status, r.Message))
	} else {
		s.truncated++
	}
}

// Successes returns the number of placed or adjusted orders.
func (s *Summary) Successes() int {
	return s.ByStatus[StatusSuccess] + s.ByStatus[StatusSuccessReduced]
}

// Counts renders a compact one-line tally for logs.
func (s *Summary) Counts() string {
	if s.Total == 0 {
		return "no subscribers"
	}
	keys := make([]string, 0, len(s.ByStatus))
	for k := range s.ByStatus {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, s.ByStatus[TradeStatus(k)]))
	}
	return strings.Join(parts, " ")
}

// Format renders the bounded admin notification.
func (s *Summary) Format() string {
	var b strings.Builder
	b.WriteString("📡 Broadcast Complete\n")
	fmt.Fprintf(&b, "🆔 %s\n\n", s.SignalID)
	fmt.Fprintf(&b, "✅ Success: %d\n", s.Successes())
	if n := s.ByStatus[StatusInsufficientBalance]; n > 0 {
		fmt.Fprintf(&b, "💰 Insufficient balance: %d\n", n)
	}
	if n := s.ByStatus[StatusMinOrderNotMet]; n > 0 {
		fmt.Fprintf(&b, "📉 Below minimum order: %d\n", n)
	}
	if n := s.ByStatus[StatusPositionExists]; n > 0 {
		fmt.Fprintf(&b, "📌 Position already open: %d\n", n)
	}
	if n := s.ByStatus[StatusInvalidKey]; n > 0 {
		fmt.Fprintf(&b, "🔑 Invalid credentials: %d\n", n)
	}
	if n := s.ByStatus[StatusSymbolNotFound]; n > 0 {
		fmt.Fprintf(&b, "❓ Symbol not found: %d\n", n)
	}
	if n := s.ByStatus[StatusAPIError]; n > 0 {
		fmt.Fprintf(&b, "❌ Failed: %d\n", n)
	}
	if n := s.ByStatus[StatusSkipped]; n > 0 {
		fmt.Fprintf(&b, "⏭ Skipped: %d\n", n)
	}
	fmt.Fprintf(&b, "\nTotal: %d subscribers", s.Total)

	if len(s.errorLines) > 0 {
		b.WriteString("\n\nErrors:\n")
		b.WriteString(strings.Join(s.errorLines, "\n"))
		if s.truncated > 0 {
			fmt.Fprintf(&b, "\n... and %d more", s.truncated)
		}
	}
	return b.String()
}

package health

import (
	"fmt"
	"time"

	"github.com/rotaguard/rotaguard/analyzer/internal/config"
	"github.com/rotaguard/rotaguard/pkg/types"
)

// epoch anchors fixed-length blocks when the policy names no anchor.
var epoch = time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)

// BlockCalendar decides which days start a rotation block.
type BlockCalendar struct {
	daysOfMonth map[int]bool
	length      int
	anchor      time.Time
}

// NewBlockCalendar builds a calendar from policy. A positive LengthDays
// takes precedence over DaysOfMonth.
func NewBlockCalendar(cfg config.BlockConfig) (BlockCalendar, error) {
	if cfg.LengthDays > 0 {
		anchor, err := cfg.AnchorTime()
		if err != nil {
			return BlockCalendar{}, err
		}
		if anchor.IsZero() {
			anchor = epoch
		}
		return BlockCalendar{length: cfg.LengthDays, anchor: anchor}, nil
	}
	if len(cfg.DaysOfMonth) == 0 {
		return BlockCalendar{}, fmt.Errorf("block calendar: no boundaries configured")
	}
	days := make(map[int]bool, len(cfg.DaysOfMonth))
	for _, d := range cfg.DaysOfMonth {
		days[d] = true
	}
	return BlockCalendar{daysOfMonth: days}, nil
}

// IsBoundary reports whether t falls on a day that starts a block.
func (b BlockCalendar) IsBoundary(t time.Time) bool {
	if b.length > 0 {
		return daysBetween(b.anchor, t)%b.length == 0
	}
	return b.daysOfMonth[t.Day()]
}

// Blocks returns how many blocks w touches: one plus every boundary strictly
// after its first day. An empty window touches none.
func (b BlockCalendar) Blocks(w types.Window) int {
	days := w.Days()
	if days == 0 {
		return 0
	}
	n := 1
	for d := 1; d < days; d++ {
		if b.IsBoundary(w.Start.Add(time.Duration(d) * types.Day)) {
			n++
		}
	}
	return n
}

// daysBetween counts whole calendar days from a to b (negative when b < a).
func daysBetween(a, b time.Time) int {
	da := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	db := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da) / types.Day)
}

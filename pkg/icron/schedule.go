package icron

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// parser accepts standard five-field expressions and descriptors such as
// "@daily" or "@every 6h", the same syntax cron.New() schedules.
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// DefaultLookback bounds the search for the previous firing.
const DefaultLookback = 366 * 24 * time.Hour

// Schedule is a parsed cron expression. It implements cron.Schedule so it
// can be handed to (*cron.Cron).Schedule directly.
type Schedule struct {
	expr  string
	inner cron.Schedule
}

type TriggerInfo struct {
	Next       time.Time
	Last       time.Time
	Expression string

	TimeSinceLast time.Duration
	TimeUntilNext time.Duration
}

// Parse validates a cron expression.
func Parse(expr string) (*Schedule, error) {
	inner, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return &Schedule{expr: expr, inner: inner}, nil
}

func (s *Schedule) String() string { return s.expr }

// Next returns the first firing strictly after t.
func (s *Schedule) Next(t time.Time) time.Time {
	return s.inner.Next(t)
}

// Prev returns the latest firing at or before t, or the zero time when
// there is none within lookback.
func (s *Schedule) Prev(t time.Time, lookback time.Duration) time.Time {
	// widen the window until a firing lands inside it, then walk forward
	for step := time.Minute; step <= 2*lookback; step *= 2 {
		fire := s.inner.Next(t.Add(-step))
		if fire.IsZero() || fire.After(t) {
			continue
		}
		for {
			following := s.inner.Next(fire)
			if following.IsZero() || following.After(t) {
				break
			}
			fire = following
		}
		if t.Sub(fire) > lookback {
			return time.Time{}
		}
		return fire
	}
	return time.Time{}
}

// Describe reports the firings around now.
func (s *Schedule) Describe(now time.Time) TriggerInfo {
	info := TriggerInfo{
		Expression: s.expr,
		Next:       s.Next(now),
		Last:       s.Prev(now, DefaultLookback),
	}
	if !info.Last.IsZero() {
		info.TimeSinceLast = now.Sub(info.Last)
	}
	info.TimeUntilNext = info.Next.Sub(now)
	return info
}

// GetTriggerInfo parses cronExpr and describes it relative to refTime.
func GetTriggerInfo(cronExpr string, refTime time.Time) (*TriggerInfo, error) {
	s, err := Parse(cronExpr)
	if err != nil {
		return nil, err
	}
	info := s.Describe(refTime)
	return &info, nil
}

package trigger

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser accepts exactly the six-field form
// "second minute hour day month day_of_week" with day_of_week 0=Sunday.
// Five-field classic expressions and @descriptors are rejected.
var cronParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// starBit mirrors the marker robfig/cron sets on a field bitmask when the
// field was `*`, which switches day-of-month/day-of-week matching from
// union to intersection.
const starBit = 1 << 63

func parseCron(expr string) (*cron.SpecSchedule, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parsing cron expression: %w", err)
	}
	spec, ok := sched.(*cron.SpecSchedule)
	if !ok {
		return nil, fmt.Errorf("unsupported cron form %q", expr)
	}
	return spec, nil
}

// cronTrigger evaluates a parsed six-field expression in its declared
// zone. Candidate fire times are stepped as wall-clock tuples (computed on
// the gapless UTC calendar) and only then pinned to the zone, which gives
// the required daylight-saving behavior: a wall time repeated by a
// fall-back transition fires once, and a wall time erased by a
// spring-forward gap fires at the first instant after the transition.
type cronTrigger struct {
	spec *cron.SpecSchedule
	loc  *time.Location
}

func (c *cronTrigger) Next(now time.Time) (time.Time, bool) {
	local := now.In(c.loc)
	virtual := time.Date(local.Year(), local.Month(), local.Day(),
		local.Hour(), local.Minute(), local.Second(), 0, time.UTC)
	virtual = virtual.Add(time.Second)
	yearLimit := virtual.Year() + 5

	for {
		wall, ok := c.nextWall(virtual, yearLimit)
		if !ok {
			return time.Time{}, false
		}
		at := materialize(wall, c.loc)
		if at.After(now) {
			return at, true
		}
		// The candidate pinned to an instant at or before now: its wall
		// clock already passed once (fall-back repeat) or sat inside an
		// elapsed gap. Keep scanning; never fire it again.
		virtual = wall.Add(time.Second)
	}
}

// nextWall returns the first wall-clock tuple at or after t that matches
// every field of the expression, or false once the scan passes yearLimit.
// The walk mirrors robfig/cron's field-by-field advance, but runs on the
// UTC calendar so stepping is pure arithmetic on wall tuples.
func (c *cronTrigger) nextWall(t time.Time, yearLimit int) (time.Time, bool) {
	s := c.spec
	added := false

WRAP:
	if t.Year() > yearLimit {
		return time.Time{}, false
	}

	for 1<<uint(t.Month())&s.Month == 0 {
		if !added {
			added = true
			t = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
		}
		t = t.AddDate(0, 1, 0)
		if t.Month() == time.January {
			goto WRAP
		}
	}

	for !dayMatches(s, t) {
		if !added {
			added = true
			t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		}
		t = t.AddDate(0, 0, 1)
		if t.Day() == 1 {
			goto WRAP
		}
	}

	for 1<<uint(t.Hour())&s.Hour == 0 {
		if !added {
			added = true
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, time.UTC)
		}
		t = t.Add(time.Hour)
		if t.Hour() == 0 {
			goto WRAP
		}
	}

	for 1<<uint(t.Minute())&s.Minute == 0 {
		if !added {
			added = true
			t = t.Truncate(time.Minute)
		}
		t = t.Add(time.Minute)
		if t.Minute() == 0 {
			goto WRAP
		}
	}

	for 1<<uint(t.Second())&s.Second == 0 {
		if !added {
			added = true
			t = t.Truncate(time.Second)
		}
		t = t.Add(time.Second)
		if t.Second() == 0 {
			goto WRAP
		}
	}

	return t, true
}

// dayMatches matches the day fields: intersection when either carries a
// `*`, union when both are restricted (classic cron).
func dayMatches(s *cron.SpecSchedule, t time.Time) bool {
	domMatch := 1<<uint(t.Day())&s.Dom > 0
	dowMatch := 1<<uint(t.Weekday())&s.Dow > 0
	if s.Dom&starBit > 0 || s.Dow&starBit > 0 {
		return domMatch && dowMatch
	}
	return domMatch || dowMatch
}

// materialize pins a wall-clock tuple to an instant in loc. A tuple erased
// by a spring-forward gap maps to the first instant after the transition;
// a tuple repeated by a fall-back pins to exactly one occurrence (whichever
// Go's zone resolution picks), so it can never fire twice.
func materialize(wall time.Time, loc *time.Location) time.Time {
	at := time.Date(wall.Year(), wall.Month(), wall.Day(),
		wall.Hour(), wall.Minute(), wall.Second(), 0, loc)
	if sameWall(at, wall) {
		return at
	}
	return postGapInstant(at)
}

func sameWall(a, b time.Time) bool {
	return a.Second() == b.Second() && a.Minute() == b.Minute() && a.Hour() == b.Hour() &&
		a.Day() == b.Day() && a.Month() == b.Month() && a.Year() == b.Year()
}

// postGapInstant finds the first second after the zone transition nearest
// approx. time.Date may have normalized the erased wall time to either
// side of the gap, so the boundary is located by binary search across a
// window wide enough to contain the transition from both directions.
func postGapInstant(approx time.Time) time.Time {
	loc := approx.Location()
	lo := approx.Add(-27 * time.Hour)
	hi := approx.Add(27 * time.Hour)
	_, preOff := lo.Zone()
	_, postOff := hi.Zone()
	if preOff == postOff {
		return approx
	}

	loSec, hiSec := lo.Unix(), hi.Unix()
	for hiSec-loSec > 1 {
		mid := (loSec + hiSec) / 2
		if _, off := time.Unix(mid, 0).In(loc).Zone(); off == postOff {
			hiSec = mid
		} else {
			loSec = mid
		}
	}
	return time.Unix(hiSec, 0).In(loc)
}

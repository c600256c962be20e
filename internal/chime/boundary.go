package chime

import (
	"time"

	"github.com/robfig/cron/v3"
)

// topOfHour fires at minute 0, second 0 of every hour. cron evaluates it in
// the location of the time passed to Next.
var topOfHour = mustParse("0 * * * *")

func mustParse(spec string) cron.Schedule {
	s, err := cron.ParseStandard(spec)
	if err != nil {
		panic(err)
	}
	return s
}

// NextBoundary returns the first top of the hour strictly after now, in now's
// location. When now is exactly on a boundary the result is one hour later.
func NextBoundary(now time.Time) time.Time {
	return topOfHour.Next(now)
}

// UntilNextBoundary is NextBoundary(now) - now; always in (0, 1h].
func UntilNextBoundary(now time.Time) time.Duration {
	return NextBoundary(now).Sub(now)
}

// Clock is the time source of the Registry.
type Clock interface {
	Now() time.Time
	NewTimer(d time.Duration) Timer
}

type Timer interface {
	C() <-chan time.Time
	Stop() bool
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) NewTimer(d time.Duration) Timer { return systemTimer{time.NewTimer(d)} }

type systemTimer struct{ t *time.Timer }

func (t systemTimer) C() <-chan time.Time { return t.t.C }
func (t systemTimer) Stop() bool          { return t.t.Stop() }
